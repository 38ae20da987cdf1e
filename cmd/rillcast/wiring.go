package main

import (
	"fmt"
	"os"

	"rillcast/internal/core/domain"
	"rillcast/internal/core/ports"
	"rillcast/internal/core/services"
	"rillcast/internal/infrastructure/media/ffmpeg"
	"rillcast/internal/infrastructure/media/synthetic"
	"rillcast/pkg/config"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var defaultConfigPaths = []string{
	"configs/config.yaml",
	"/etc/rillcast/config.yaml",
	"config.yaml",
}

// loadConfig reads --config when given, otherwise the first default path that
// exists. With no file at all the defaults plus environment apply.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.Load(cfgFile)
	}
	for _, path := range defaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return config.Load(path)
		}
	}
	return config.Load("")
}

func newPlatform(cfg *config.Config, log *zap.SugaredLogger) (ports.Platform, error) {
	switch cfg.Capture.Platform {
	case "ffmpeg":
		return ffmpeg.New(ffmpeg.Options{
			FFmpegPath: cfg.Capture.FFmpegPath,
			SysfsRoot:  cfg.Capture.SysfsRoot,
			ProcfsRoot: cfg.Capture.ProcfsRoot,
			DevRoot:    cfg.Capture.DevRoot,
		}, log.Named("ffmpeg")), nil
	case "synthetic":
		return synthetic.New(synthetic.Options{}), nil
	default:
		return nil, fmt.Errorf("unknown capture platform %q", cfg.Capture.Platform)
	}
}

type pipeline struct {
	catalog *services.DeviceCatalog
	capture *services.CaptureSession
	encoder *services.ChunkEncoder
}

func newPipeline(cfg *config.Config, platform ports.Platform, clock clockwork.Clock, log *zap.SugaredLogger) *pipeline {
	formats := make([]domain.ContainerFormat, 0, len(cfg.Encoder.Formats))
	for _, f := range cfg.Encoder.Formats {
		formats = append(formats, domain.ContainerFormat(f))
	}

	return &pipeline{
		catalog: services.NewDeviceCatalog(platform, log.Named("catalog")),
		capture: services.NewCaptureSession(platform, services.CaptureConfig{
			Width:  cfg.Capture.Width,
			Height: cfg.Capture.Height,
		}, log.Named("capture")),
		encoder: services.NewChunkEncoder(platform, services.EncoderConfig{
			Formats:            formats,
			Cadence:            cfg.Encoder.Timeslice,
			VideoBitsPerSecond: cfg.Encoder.VideoBitsPerSecond,
			Width:              cfg.Capture.Width,
			Height:             cfg.Capture.Height,
			FrameRate:          cfg.Capture.FrameRate,
		}, clock, log.Named("encoder")),
	}
}
