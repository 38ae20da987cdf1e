package monitoring

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc returns nil when the dependency is usable.
type CheckFunc func(ctx context.Context) error

// Pinger is anything that can report dependency health, such as the status
// factory's Redis connection.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// CheckResult is the outcome of the latest run of one check.
type CheckResult struct {
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type registeredCheck struct {
	name     string
	fn       CheckFunc
	interval time.Duration
	timeout  time.Duration
}

// HealthChecker runs the readiness checks of the capture pipeline: the
// ffmpeg binary, the status backend and the process memory. It keeps the
// latest result of every check and logs when a check changes state.
type HealthChecker struct {
	clock  clockwork.Clock
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	checks  []registeredCheck
	results map[string]CheckResult
}

func NewHealthChecker(logger *zap.SugaredLogger) *HealthChecker {
	return &HealthChecker{
		clock:   clockwork.NewRealClock(),
		logger:  logger,
		results: make(map[string]CheckResult),
	}
}

// AddCheck registers fn. An interval of zero means the check only runs from
// CheckAll.
func (h *HealthChecker) AddCheck(name string, fn CheckFunc, interval, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, registeredCheck{name: name, fn: fn, interval: interval, timeout: timeout})
}

// AddFFmpegCheck fails while the ffmpeg binary cannot be resolved; without it
// no recorder can start.
func (h *HealthChecker) AddFFmpegCheck(path string, interval, timeout time.Duration) {
	h.AddCheck("ffmpeg", func(ctx context.Context) error {
		if _, err := exec.LookPath(path); err != nil {
			return fmt.Errorf("ffmpeg not found: %w", err)
		}
		return nil
	}, interval, timeout)
}

func (h *HealthChecker) AddDependencyCheck(name string, dep Pinger, interval, timeout time.Duration) {
	h.AddCheck(name, dep.HealthCheck, interval, timeout)
}

// AddMemoryCheck fails when the resident set of this process exceeds maxRSS
// bytes. Recorder output buffers grow there if the relay stops draining.
func (h *HealthChecker) AddMemoryCheck(maxRSS uint64, interval, timeout time.Duration) {
	h.AddCheck("memory", func(ctx context.Context) error {
		proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
		if err != nil {
			return err
		}
		info, err := proc.MemoryInfoWithContext(ctx)
		if err != nil {
			return err
		}
		if info.RSS > maxRSS {
			return fmt.Errorf("rss %d bytes exceeds %d", info.RSS, maxRSS)
		}
		return nil
	}, interval, timeout)
}

// CheckAll runs every check now and returns the combined result.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]registeredCheck(nil), h.checks...)
	h.mu.RUnlock()

	for _, c := range checks {
		h.run(ctx, c)
	}
	return h.Latest()
}

// Latest returns the stored results without running any check.
func (h *HealthChecker) Latest() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: h.clock.Now(),
		Checks:    make(map[string]CheckResult, len(h.results)),
	}
	for name, r := range h.results {
		status.Checks[name] = r
		if r.Status != StatusHealthy {
			status.Status = StatusUnhealthy
		}
	}
	return status
}

func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == StatusHealthy
}

// StartBackgroundChecks runs every check with an interval until ctx is done.
func (h *HealthChecker) StartBackgroundChecks(ctx context.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.checks {
		if c.interval <= 0 {
			continue
		}
		go h.loop(ctx, c)
	}
}

func (h *HealthChecker) loop(ctx context.Context, c registeredCheck) {
	ticker := h.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			h.run(ctx, c)
		}
	}
}

func (h *HealthChecker) run(ctx context.Context, c registeredCheck) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	err := c.fn(ctx)

	result := CheckResult{Status: StatusHealthy, CheckedAt: h.clock.Now()}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	}

	h.mu.Lock()
	prev, seen := h.results[c.name]
	h.results[c.name] = result
	h.mu.Unlock()

	switch {
	case err != nil && (!seen || prev.Status == StatusHealthy):
		h.logger.Warnw("health check failing", "check", c.name, "error", err)
	case err == nil && seen && prev.Status != StatusHealthy:
		h.logger.Infow("health check recovered", "check", c.name)
	}
}
