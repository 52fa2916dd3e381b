// Package monitor polls the relay's health on an interval and caches the
// last probe, so the API can answer health queries without a fresh round
// trip on every request.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Probe checks the relay once. Healthy is meaningful only when err is nil.
type Probe func(ctx context.Context) (healthy bool, err error)

type Status struct {
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checkedAt"`
	Error     string    `json:"error,omitempty"`
}

type Monitor struct {
	interval time.Duration
	probe    Probe

	running atomic.Bool
	last    atomic.Pointer[Status]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(interval time.Duration, probe Probe) (*Monitor, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if probe == nil {
		return nil, errors.New("probe must not be nil")
	}
	return &Monitor{
		interval: interval,
		probe:    probe,
		done:     make(chan struct{}),
	}, nil
}

// Start launches the poll loop with an immediate first probe. Returns false
// when already running.
func (m *Monitor) Start() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running.Store(true)

	go func() {
		defer close(m.done)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		slog.Info("relay monitor started", "interval", m.interval.String())

		m.safeProbe(ctx)

		for {
			select {
			case <-ctx.Done():
				slog.Info("relay monitor stopping")
				return
			case <-ticker.C:
				m.safeProbe(ctx)
			}
		}
	}()

	return true
}

// Stop halts the poll loop. Returns false when not running.
func (m *Monitor) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running.Load() {
		return false
	}

	m.cancel()
	<-m.done
	m.running.Store(false)

	slog.Info("relay monitor stopped")
	return true
}

func (m *Monitor) IsRunning() bool {
	return m.running.Load()
}

// LastProbe returns the most recent probe result, or ok=false when no probe
// has completed yet.
func (m *Monitor) LastProbe() (Status, bool) {
	s := m.last.Load()
	if s == nil {
		return Status{}, false
	}
	return *s, true
}

func (m *Monitor) safeProbe(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("relay probe panic recovered", "panic", r)
		}
	}()

	s := Status{CheckedAt: time.Now().UTC()}

	healthy, err := m.probe(ctx)
	if err != nil {
		s.Error = err.Error()
		slog.Warn("relay probe failed", "err", err)
	} else {
		s.Healthy = healthy
		if !healthy {
			slog.Warn("relay reported not ready")
		}
	}

	m.last.Store(&s)
}
