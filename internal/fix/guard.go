package fix

import (
	"log/slog"
	"sync"
	"time"
)

// InitiatorControl is the subset of *quickfix.Initiator the guard drives.
type InitiatorControl interface {
	Start() error
	Stop()
}

// TradingWindow describes the daily window during which the order-entry
// initiator may be connected.
type TradingWindow struct {
	Open     time.Duration // offset from midnight, e.g. 9h30m
	Close    time.Duration
	Location *time.Location
}

// NextOpen returns the next window open at or after now.
func (w TradingWindow) NextOpen(now time.Time) time.Time {
	local := now.In(w.Location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, w.Location)
	open := midnight.Add(w.Open)
	if !open.After(local) {
		open = open.Add(24 * time.Hour)
	}
	return open
}

// SessionGuard mediates between the session callbacks and the initiator
// lifecycle so neither holds a reference to the other. When the order-entry
// peer rejects the logon with a "not trade day" logout, the guard stops the
// initiator and schedules a restart at the next trading window. This is
// normal lifecycle, not an error condition.
type SessionGuard struct {
	window TradingWindow
	logger *slog.Logger
	clock  func() time.Time

	mu       sync.Mutex
	ctl      InitiatorControl
	paused   bool
	resumeAt time.Time
	timer    *time.Timer
}

// NewSessionGuard creates a guard for the given trading window.
func NewSessionGuard(window TradingWindow, logger *slog.Logger) *SessionGuard {
	return &SessionGuard{
		window: window,
		logger: logger.With(slog.String("component", "session_guard")),
		clock:  time.Now,
	}
}

// Bind attaches the initiator once it has been constructed.
func (g *SessionGuard) Bind(ctl InitiatorControl) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ctl = ctl
}

// Paused reports whether the initiator is currently held off.
func (g *SessionGuard) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// ResumeAt returns the scheduled resume time, zero when not paused.
func (g *SessionGuard) ResumeAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resumeAt
}

// PauseUntilNextWindow stops the initiator and schedules a restart at the
// next window open. Calling it while already paused only logs.
func (g *SessionGuard) PauseUntilNextWindow(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	resume := g.window.NextOpen(now)

	if g.paused {
		g.logger.Info("already paused",
			slog.String("reason", reason),
			slog.Time("resume_at", g.resumeAt),
		)
		return
	}
	g.paused = true
	g.resumeAt = resume

	g.logger.Info("pausing order-entry session",
		slog.String("reason", reason),
		slog.Time("resume_at", resume),
	)

	if g.ctl != nil {
		g.ctl.Stop()
	}
	g.timer = time.AfterFunc(resume.Sub(now), g.resume)
}

func (g *SessionGuard) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	g.resumeAt = time.Time{}
	g.logger.Info("resuming order-entry session")
	if g.ctl != nil {
		if err := g.ctl.Start(); err != nil {
			g.logger.Error("initiator restart failed", slog.String("error", err.Error()))
		}
	}
}

// Close cancels any pending resume timer.
func (g *SessionGuard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}
