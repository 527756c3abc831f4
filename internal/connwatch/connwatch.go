// Package connwatch probes the backends a review depends on (the LLM
// provider and file storage) and reports whether each is reachable.
//
// A [Watcher] probes one backend in two phases:
//  1. Startup: exponential backoff (2s, 4s, 8s, ... capped at 60s)
//  2. Background: periodic polling with state-transition events
//
// Transitions are logged and published on the event bus, and the
// [Manager] snapshot backs the /health endpoint.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rajeevc5260/Code-Review-Helper/internal/events"
)

// ProbeFunc checks whether a backend is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// BackoffConfig controls startup retries and background polling.
type BackoffConfig struct {
	InitialDelay time.Duration // first retry delay (default 2s)
	MaxDelay     time.Duration // ceiling for backoff growth (default 60s)
	Multiplier   float64       // delay growth per retry (default 2.0)
	MaxRetries   int           // startup attempts (default 10)
	PollInterval time.Duration // background check interval (default 60s)
	ProbeTimeout time.Duration // bound on one probe (default 10s)
}

// DefaultBackoffConfig returns 2s, 4s, 8s, 16s, 32s, 60s (capped) with
// 10 startup retries and 60-second background polling.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   10,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

// withDefaults replaces zero fields with their defaults.
func (c BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = d.Multiplier
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	return c
}

// WatcherConfig configures a single backend watcher.
type WatcherConfig struct {
	// Name identifies the backend in logs, events and /health ("llm", "storage").
	Name    string
	Probe   ProbeFunc
	Backoff BackoffConfig
}

// ServiceStatus is the reachability of one backend.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher monitors one backend.
type Watcher struct {
	cfg    WatcherConfig
	bus    *events.Bus
	logger *slog.Logger
	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// IsReady reports whether the backend answered its last probe.
func (w *Watcher) IsReady() bool {
	return w.ready.Load()
}

// Status returns the current reachability.
func (w *Watcher) Status() ServiceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := ServiceStatus{
		Name:      w.cfg.Name,
		Ready:     w.ready.Load(),
		LastCheck: w.lastCheck,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	cfg := w.cfg.Backoff

	delay := cfg.InitialDelay
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		err := w.probe(ctx)
		if err == nil {
			w.markReady(attempt)
			break
		}
		if attempt == cfg.MaxRetries {
			w.logger.Warn("backend unreachable at startup, polling in background",
				"service", w.cfg.Name,
				"attempts", attempt,
				"error", err,
			)
			break
		}
		w.logger.Debug("startup probe failed, retrying",
			"service", w.cfg.Name,
			"attempt", attempt,
			"next_delay", delay,
			"error", err,
		)
		if !sleepCtx(ctx, delay) {
			return
		}
		delay = min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxDelay)
	}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.probe(ctx)
			switch wasReady := w.ready.Load(); {
			case wasReady && err != nil:
				w.markDown(err)
			case !wasReady && err == nil:
				w.markReady(0)
			case !wasReady:
				w.logger.Debug("backend still unreachable", "service", w.cfg.Name, "error", err)
			}
		}
	}
}

func (w *Watcher) markReady(attempts int) {
	w.ready.Store(true)
	w.logger.Info("backend reachable", "service", w.cfg.Name, "attempts", attempts)
	w.bus.Emit(events.SourceHealth, events.KindServiceReady, map[string]any{
		"service":  w.cfg.Name,
		"attempts": attempts,
	})
}

func (w *Watcher) markDown(err error) {
	w.ready.Store(false)
	w.logger.Warn("backend became unreachable", "service", w.cfg.Name, "error", err)
	w.bus.Emit(events.SourceHealth, events.KindServiceDown, map[string]any{
		"service": w.cfg.Name,
		"error":   err.Error(),
	})
}

// probe runs the ProbeFunc under the probe timeout and records the
// outcome.
func (w *Watcher) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.cfg.Backoff.ProbeTimeout)
	defer cancel()
	err := w.cfg.Probe(probeCtx)

	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()
	return err
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Manager coordinates the watchers of all backends.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	bus      *events.Bus
	logger   *slog.Logger
}

// NewManager creates a manager publishing transitions on bus, which
// may be nil.
func NewManager(bus *events.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		watchers: make(map[string]*Watcher),
		bus:      bus,
		logger:   logger.With("component", "connwatch"),
	}
}

// Watch starts a watcher that runs until ctx is cancelled or Stop is
// called. An empty Name or nil Probe is a programming error and panics.
func (m *Manager) Watch(ctx context.Context, cfg WatcherConfig) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: WatcherConfig.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: WatcherConfig.Probe must not be nil")
	}
	cfg.Backoff = cfg.Backoff.withDefaults()

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		cfg:    cfg,
		bus:    m.bus,
		logger: m.logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run(watchCtx)

	m.mu.Lock()
	m.watchers[cfg.Name] = w
	m.mu.Unlock()
	return w
}

// Status returns the reachability of every watched backend.
func (m *Manager) Status() map[string]ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]ServiceStatus, len(m.watchers))
	for name, w := range m.watchers {
		status[name] = w.Status()
	}
	return status
}

// Stop shuts down all watchers and waits for their goroutines to exit.
func (m *Manager) Stop() {
	m.mu.RLock()
	watchers := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.RUnlock()

	for _, w := range watchers {
		w.Stop()
	}
}
