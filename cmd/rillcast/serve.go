package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rillcast/internal/core/services"
	httphandlers "rillcast/internal/handlers/http"
	"rillcast/internal/infrastructure/middleware"
	"rillcast/internal/infrastructure/monitoring"
	"rillcast/internal/infrastructure/relay"
	"rillcast/internal/infrastructure/status"
	"rillcast/pkg/config"
	"rillcast/pkg/logger"
	"rillcast/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const maxResidentMemory = 1 << 30

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control API and the streaming pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return runServe(cfg)
	},
}

func runServe(cfg *config.Config) error {
	startTime := time.Now()

	if err := cfg.ValidateRelay(); err != nil {
		return err
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	platform, err := newPlatform(cfg, log)
	if err != nil {
		return err
	}
	p := newPipeline(cfg, platform, clockwork.NewRealClock(), log)

	endpoint, err := relay.BuildEndpoint(cfg.Relay.WebSocketURL, cfg.Relay.IngestURL, cfg.Relay.StreamKey)
	if err != nil {
		return err
	}
	dialer := relay.NewDialer(relay.Config{
		HandshakeTimeout: cfg.Relay.HandshakeTimeout,
		WriteTimeout:     cfg.Relay.WriteTimeout,
		PingInterval:     cfg.Relay.PingInterval,
		StreamKey:        cfg.Relay.StreamKey,
	}, log.Named("relay"))

	controller := services.NewStreamController(p.catalog, p.capture, p.encoder, dialer, clockwork.NewRealClock(),
		services.ControllerConfig{Endpoint: endpoint, WarmUp: cfg.Relay.WarmUp},
		log.Named("controller"),
	)

	statusFactory := status.NewFactory(cfg, log.Named("status"))
	for _, sink := range statusFactory.Sinks() {
		controller.AddStatusSink(sink)
	}

	if cfg.Monitoring.PrometheusEnabled {
		controller.SetMetricsRecorder(monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthChecker := monitoring.NewHealthChecker(log.Named("health"))
	if cfg.Capture.Platform == "ffmpeg" {
		healthChecker.AddFFmpegCheck(cfg.Capture.FFmpegPath, time.Minute, 2*time.Second)
	}
	if statusFactory.UsesRedis() {
		healthChecker.AddDependencyCheck("redis", statusFactory, 30*time.Second, 2*time.Second)
	}
	healthChecker.AddMemoryCheck(maxResidentMemory, 30*time.Second, 2*time.Second)
	healthChecker.StartBackgroundChecks(ctx)

	// Initialize binds the default devices; failures are kept in the status.
	go func() {
		if err := controller.Initialize(ctx); err != nil {
			log.Warnw("initial capture failed", "error", err)
		}
	}()

	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	controlHandler := httphandlers.NewControlHandler(controller, statusFactory.Hub(), authService,
		httphandlers.HandlerConfig{
			PlaybackURL:  cfg.Relay.PlaybackURL,
			AuthEnabled:  cfg.Auth.Enabled,
			WriteTimeout: cfg.Relay.WriteTimeout,
		},
		log.Named("http"),
	)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.RequestLogger(logger.NewContextLogger(zapLogger)))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	router.Use(middleware.ErrorHandlerMiddleware(log))

	controlHandler.SetupRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
			"state":     controller.State().String(),
			"checks":    healthChecker.Latest().Checks,
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		checkCtx, checkCancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer checkCancel()

		health := healthChecker.CheckAll(checkCtx)
		code := http.StatusOK
		if health.Status != monitoring.StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, health)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting rillcast control API",
			"address", cfg.Server.Address,
			"platform", cfg.Capture.Platform,
			"relay", relay.Redact(endpoint, cfg.Relay.StreamKey),
			"redis", statusFactory.UsesRedis(),
			"auth", cfg.Auth.Enabled,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case runErr = <-serverErr:
		log.Errorw("server failed", "error", runErr)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}

	cancel()
	if err := controller.Shutdown(shutdownCtx); err != nil {
		log.Warnw("controller shutdown incomplete", "error", err)
	}
	if err := statusFactory.Close(shutdownCtx); err != nil {
		log.Errorw("error closing status sinks", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("error flushing traces", "error", err)
	}

	log.Info("rillcast stopped")
	return runErr
}
