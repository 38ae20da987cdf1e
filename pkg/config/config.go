package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Relay struct {
		WebSocketURL     string        `yaml:"websocket_url"`
		IngestURL        string        `yaml:"ingest_url"`
		StreamKey        string        `yaml:"stream_key"`
		PlaybackURL      string        `yaml:"playback_url"`
		WarmUp           time.Duration `yaml:"warm_up"`
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		PingInterval     time.Duration `yaml:"ping_interval"`
	} `yaml:"relay"`

	Encoder struct {
		Timeslice          time.Duration `yaml:"timeslice"`
		Formats            []string      `yaml:"formats"`
		VideoBitsPerSecond int           `yaml:"video_bits_per_second"`
	} `yaml:"encoder"`

	Capture struct {
		Platform   string `yaml:"platform"` // ffmpeg | synthetic
		FFmpegPath string `yaml:"ffmpeg_path"`
		Width      int    `yaml:"width"`
		Height     int    `yaml:"height"`
		FrameRate  int    `yaml:"frame_rate"`
		SysfsRoot  string `yaml:"sysfs_root"`
		ProcfsRoot string `yaml:"procfs_root"`
		DevRoot    string `yaml:"dev_root"`
	} `yaml:"capture"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`

	Auth struct {
		Enabled   bool          `yaml:"enabled"`
		JWTSecret string        `yaml:"jwt_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`
	} `yaml:"rate_limiting"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

var knownFormats = map[string]bool{
	"video/webm": true,
	"video/mp4":  true,
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Relay
	if c.Relay.WarmUp < 0 {
		return fmt.Errorf("relay.warm_up must be >= 0")
	}
	if c.Relay.HandshakeTimeout <= 0 {
		return fmt.Errorf("relay.handshake_timeout must be > 0")
	}
	if c.Relay.WriteTimeout <= 0 {
		return fmt.Errorf("relay.write_timeout must be > 0")
	}
	if c.Relay.PingInterval < 0 {
		return fmt.Errorf("relay.ping_interval must be >= 0")
	}

	// Encoder
	if c.Encoder.Timeslice <= 0 {
		return fmt.Errorf("encoder.timeslice must be > 0")
	}
	if len(c.Encoder.Formats) == 0 {
		return fmt.Errorf("encoder.formats must not be empty")
	}
	for _, f := range c.Encoder.Formats {
		if !knownFormats[f] {
			return fmt.Errorf("encoder.formats: unknown container format %q", f)
		}
	}
	if c.Encoder.VideoBitsPerSecond <= 0 {
		return fmt.Errorf("encoder.video_bits_per_second must be > 0")
	}

	// Capture
	switch c.Capture.Platform {
	case "ffmpeg", "synthetic":
	default:
		return fmt.Errorf("capture.platform must be ffmpeg or synthetic, got %q", c.Capture.Platform)
	}
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return fmt.Errorf("capture.width and capture.height must be > 0")
	}
	if c.Capture.FrameRate <= 0 {
		return fmt.Errorf("capture.frame_rate must be > 0")
	}
	if c.Capture.Platform == "ffmpeg" && c.Capture.FFmpegPath == "" {
		return fmt.Errorf("capture.ffmpeg_path must not be empty when capture.platform=ffmpeg")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.Channel == "" {
			return fmt.Errorf("redis.channel must not be empty when redis.enabled=true")
		}
	}

	// Auth
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret must not be empty when auth.enabled=true")
		}
		if c.Auth.TokenTTL <= 0 {
			return fmt.Errorf("auth.token_ttl must be > 0 when auth.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	return nil
}

// ValidateRelay checks the fields needed to open a stream. They are not part of
// Validate because the devices and token commands run without a relay.
func (c *Config) ValidateRelay() error {
	if c.Relay.WebSocketURL == "" {
		return fmt.Errorf("relay.websocket_url must not be empty")
	}
	if c.Relay.IngestURL == "" {
		return fmt.Errorf("relay.ingest_url must not be empty")
	}
	if c.Relay.StreamKey == "" {
		return fmt.Errorf("relay.stream_key must not be empty")
	}
	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Relay.WarmUp = 15 * time.Second
	cfg.Relay.HandshakeTimeout = 10 * time.Second
	cfg.Relay.WriteTimeout = 10 * time.Second
	cfg.Relay.PingInterval = 0

	cfg.Encoder.Timeslice = time.Second
	cfg.Encoder.Formats = []string{"video/webm", "video/mp4"}
	cfg.Encoder.VideoBitsPerSecond = 3000000

	cfg.Capture.Platform = "ffmpeg"
	cfg.Capture.FFmpegPath = "ffmpeg"
	cfg.Capture.Width = 1280
	cfg.Capture.Height = 720
	cfg.Capture.FrameRate = 30
	cfg.Capture.SysfsRoot = "/sys"
	cfg.Capture.ProcfsRoot = "/proc"
	cfg.Capture.DevRoot = "/dev"

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.Channel = "rillcast:status"

	cfg.Auth.Enabled = false
	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.TokenTTL = 12 * time.Hour

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 20
	cfg.RateLimiting.HTTP.Burst = 40
	cfg.RateLimiting.HTTP.MaxConcurrent = 0

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "rillcast"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RILLCAST_WEBSOCKET_URL"); v != "" {
		c.Relay.WebSocketURL = v
	}
	if v := os.Getenv("RILLCAST_RTMP_URL"); v != "" {
		c.Relay.IngestURL = v
	}
	if v := os.Getenv("RILLCAST_STREAM_KEY"); v != "" {
		c.Relay.StreamKey = v
	}
	if v := os.Getenv("RILLCAST_PLAY_URL"); v != "" {
		c.Relay.PlaybackURL = v
	}
	if addr := os.Getenv("RILLCAST_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("RILLCAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("RILLCAST_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
}
