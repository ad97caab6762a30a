package idle

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tired-proxy/internal/metrics"
)

// Defaults used when WatchdogConfig fields are zero.
const (
	DefaultInterval = time.Second
	DefaultTimeout  = 900 * time.Second
)

// WatchdogConfig controls how often the watchdog polls and how much
// inactivity it tolerates.
type WatchdogConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Watchdog polls a Clock and calls its terminate effect once the idle time
// exceeds the configured timeout. After that it stays in the terminating
// state for good.
type Watchdog struct {
	clock     *Clock
	interval  time.Duration
	timeout   time.Duration
	terminate func()
	logger    *slog.Logger
	metrics   *metrics.Metrics

	terminating atomic.Bool
	once        sync.Once
}

// NewWatchdog creates a Watchdog. The metrics parameter is optional; pass nil
// to skip recording the idle gauge.
func NewWatchdog(clock *Clock, cfg WatchdogConfig, terminate func(), logger *slog.Logger, m *metrics.Metrics) *Watchdog {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Watchdog{
		clock:     clock,
		interval:  cfg.Interval,
		timeout:   cfg.Timeout,
		terminate: terminate,
		logger:    logger.With("component", "idle_watchdog"),
		metrics:   m,
	}
}

// Run checks the clock on every tick until ctx is done or the watchdog
// terminates.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.Check() {
				return
			}
		}
	}
}

// Check compares the idle time against the timeout and terminates when it is
// exceeded. It reports whether the watchdog is terminating. Checks only read
// the clock; a tick is not activity.
func (w *Watchdog) Check() bool {
	if w.terminating.Load() {
		return true
	}

	idle := w.clock.Elapsed()
	if w.metrics != nil {
		w.metrics.IdleSeconds.Set(idle.Seconds())
	}
	if idle <= w.timeout {
		return false
	}

	w.once.Do(func() {
		w.terminating.Store(true)
		w.logger.Info("idle timeout reached, shutting down",
			"idle", idle.Round(time.Millisecond).String(),
			"timeout", w.timeout.String(),
		)
		w.terminate()
	})
	return true
}

// Terminating reports whether the idle timeout has fired.
func (w *Watchdog) Terminating() bool {
	return w.terminating.Load()
}

// Timeout returns the configured idle timeout.
func (w *Watchdog) Timeout() time.Duration {
	return w.timeout
}

// Remaining returns how long until the idle timeout fires if no request
// arrives in the meantime.
func (w *Watchdog) Remaining() time.Duration {
	r := w.timeout - w.clock.Elapsed()
	if r < 0 {
		return 0
	}
	return r
}
