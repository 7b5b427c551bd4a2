package ledger

import (
	"context"
	"fmt"
	"time"
)

// Pinger is the health probe the connectivity monitor uses; the
// production implementation is *backend.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MonitorConfig holds configuration for the connectivity monitor.
type MonitorConfig struct {
	// Pinger probes the backend.
	Pinger Pinger

	// Interval between probes (default: 30s).
	Interval time.Duration

	// ProbeTimeout bounds a single probe (default: 5s).
	ProbeTimeout time.Duration

	// OnTransition is called on every online/offline flip, and once
	// with the initial probe result.
	OnTransition func(online bool)

	// LogFn is an optional callback for log messages.
	LogFn func(level, msg string)
}

// Monitor probes the backend on an interval and reports connectivity
// transitions. The ledger client's SetOnline is the usual target of
// OnTransition; a restored connection triggers the queue drain there.
type Monitor struct {
	pinger       Pinger
	interval     time.Duration
	probeTimeout time.Duration
	onTransition func(online bool)
	logFn        func(level, msg string)
}

// NewMonitor creates a connectivity monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	return &Monitor{
		pinger:       cfg.Pinger,
		interval:     cfg.Interval,
		probeTimeout: cfg.ProbeTimeout,
		onTransition: cfg.OnTransition,
		logFn:        cfg.LogFn,
	}
}

func (m *Monitor) log(level, format string, args ...any) {
	if m.logFn != nil {
		m.logFn(level, fmt.Sprintf(format, args...))
	}
}

// Start probes immediately, then on every tick, until ctx is
// cancelled. Blocks.
func (m *Monitor) Start(ctx context.Context) error {
	online := m.probe(ctx)
	if m.onTransition != nil {
		m.onTransition(online)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := m.probe(ctx)
			if now != online {
				if now {
					m.log("info", "backend reachable again")
				} else {
					m.log("warning", "backend unreachable, entering offline mode")
				}
				online = now
				if m.onTransition != nil {
					m.onTransition(online)
				}
			}
		}
	}
}

func (m *Monitor) probe(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()
	return m.pinger.Ping(pctx) == nil
}
