package status

import (
	"context"
	"fmt"
	"time"

	"rillcast/internal/core/ports"
	"rillcast/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Factory builds the status sinks. Redis is used when enabled and reachable;
// otherwise only the in-process hub is wired.
type Factory struct {
	hub         *Hub
	redisClient *redis.Client
	publisher   *RedisPublisher
	logger      *zap.SugaredLogger
}

func NewFactory(cfg *config.Config, logger *zap.SugaredLogger) *Factory {
	f := &Factory{hub: NewHub(), logger: logger}

	if cfg.Redis.Enabled {
		client, err := newRedisClient(cfg, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, status stays in memory", "error", err)
		} else {
			f.redisClient = client
			f.publisher = NewRedisPublisher(client, cfg.Redis.Channel, logger)
			logger.Infow("publishing status to Redis", "channel", cfg.Redis.Channel)
		}
	}
	if f.publisher == nil {
		logger.Info("status fan-out in memory only")
	}
	return f
}

func newRedisClient(cfg *config.Config, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: 1,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infow("connected to Redis",
		"address", cfg.Redis.Address,
		"db", cfg.Redis.DB,
		"pool_size", cfg.Redis.PoolSize,
	)
	return client, nil
}

func (f *Factory) Hub() *Hub {
	return f.hub
}

// Sinks returns every sink the controller should notify.
func (f *Factory) Sinks() []ports.StatusSink {
	sinks := []ports.StatusSink{f.hub}
	if f.publisher != nil {
		sinks = append(sinks, f.publisher)
	}
	return sinks
}

func (f *Factory) UsesRedis() bool {
	return f.publisher != nil
}

// HealthCheck pings Redis when it is in use.
func (f *Factory) HealthCheck(ctx context.Context) error {
	if f.redisClient == nil {
		return nil
	}
	return f.redisClient.Ping(ctx).Err()
}

func (f *Factory) Close(ctx context.Context) error {
	if f.publisher != nil {
		if err := f.publisher.Close(ctx); err != nil {
			f.logger.Warnw("status publisher did not drain", "error", err)
		}
	}
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}
