package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"rillcast/internal/core/domain"
	"rillcast/internal/core/services"
	"rillcast/pkg/logger"

	"github.com/spf13/cobra"
)

var devicesJSON bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		zapLogger := logger.New(cfg.Logging.Level, "console")
		defer zapLogger.Sync()
		log := zapLogger.Sugar()

		platform, err := newPlatform(cfg, log)
		if err != nil {
			return err
		}
		catalog := services.NewDeviceCatalog(platform, log.Named("catalog"))

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		list, err := catalog.Refresh(ctx)
		if err != nil {
			return err
		}

		if devicesJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		}
		printDevices(list)
		return nil
	},
}

func init() {
	devicesCmd.Flags().BoolVar(&devicesJSON, "json", false, "print the device list as JSON")
}

func printDevices(list domain.DeviceList) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tID\tLABEL")
	for _, bucket := range [][]domain.Device{list.VideoInputs, list.AudioInputs, list.AudioOutputs} {
		for _, d := range bucket {
			fmt.Fprintf(w, "%s\t%s\t%s\n", d.Kind, d.ID, d.Label)
		}
	}
	w.Flush()
}
