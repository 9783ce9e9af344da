package locate

import (
	"context"
	"log/slog"
	"time"
)

// Monitor periodically expires PENDING locate requests older than the
// engine's timeout. Runs as one goroutine under the application's errgroup.
type Monitor struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger
}

// NewMonitor creates a Monitor. Interval defaults to 10 seconds.
func NewMonitor(engine *Engine, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		engine:   engine,
		interval: interval,
		logger:   logger.With(slog.String("component", "locate_monitor")),
	}
}

// Run scans until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("locate monitor started", slog.Duration("interval", m.interval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("locate monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := m.engine.ExpirePending(ctx); err != nil {
				m.logger.Error("expiry scan failed", slog.String("error", err.Error()))
			}
		}
	}
}
