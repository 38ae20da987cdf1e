package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"rillcast/internal/core/domain"
	"rillcast/pkg/circuitbreaker"
	"rillcast/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisClient is the subset of redis.Cmdable the publisher uses.
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisPublisher mirrors snapshots to a Redis channel and keeps the latest one
// under "<channel>:latest". Publishing happens on a worker goroutine; when the
// queue is full new snapshots are dropped and counted. While Redis keeps
// failing the breaker is open and snapshots are skipped without a round trip.
type RedisPublisher struct {
	client  redisClient
	channel string
	retry   retry.Config
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger

	queue   chan domain.StatusSnapshot
	done    chan struct{}
	dropped atomic.Int64
	skipped atomic.Int64
	closeMu sync.RWMutex
	closed  bool
}

func NewRedisPublisher(client redisClient, channel string, logger *zap.SugaredLogger) *RedisPublisher {
	p := &RedisPublisher{
		client:  client,
		channel: channel,
		retry:   retry.DefaultConfig(),
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig(), nil),
		logger:  logger,
		queue:   make(chan domain.StatusSnapshot, 64),
		done:    make(chan struct{}),
	}
	p.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("status publisher breaker changed", "channel", channel, "from", from, "to", to)
	})
	go p.run()
	return p
}

func (p *RedisPublisher) OnStatus(snapshot domain.StatusSnapshot) {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- snapshot:
	default:
		p.dropped.Add(1)
	}
}

// Dropped returns how many snapshots were discarded on a full queue.
func (p *RedisPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Skipped returns how many snapshots were not sent because the breaker was open.
func (p *RedisPublisher) Skipped() int64 {
	return p.skipped.Load()
}

func (p *RedisPublisher) run() {
	defer close(p.done)
	for snapshot := range p.queue {
		err := p.breaker.Execute(func() error { return p.publish(snapshot) })
		if errors.Is(err, circuitbreaker.ErrOpen) {
			p.skipped.Add(1)
			continue
		}
		if err != nil {
			p.logger.Warnw("status publish failed", "channel", p.channel, "state", snapshot.State, "error", err)
		}
	}
}

func (p *RedisPublisher) publish(snapshot domain.StatusSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return retry.Do(ctx, p.retry, func(ctx context.Context) error {
		if err := p.client.Set(ctx, p.channel+":latest", payload, 0).Err(); err != nil {
			return err
		}
		return p.client.Publish(ctx, p.channel, payload).Err()
	})
}

// Close drains the queue and stops the worker.
func (p *RedisPublisher) Close(ctx context.Context) error {
	p.closeMu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.closeMu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
