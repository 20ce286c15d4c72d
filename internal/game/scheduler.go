package game

import (
	"context"
	"log/slog"
	"time"
)

// DefaultTurnTick is how often overdue turns are looked for.
const DefaultTurnTick = time.Second

// TurnScheduler passes overdue turns to the opponent.
type TurnScheduler struct {
	reg      *Registry
	interval time.Duration
	logger   *slog.Logger
}

// NewTurnScheduler creates a scheduler over reg.
func NewTurnScheduler(reg *Registry, interval time.Duration, logger *slog.Logger) *TurnScheduler {
	if interval <= 0 {
		interval = DefaultTurnTick
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnScheduler{
		reg:      reg,
		interval: interval,
		logger:   logger.With("component", "turn_scheduler"),
	}
}

// Run ticks until ctx is cancelled. It blocks; start it in a goroutine.
func (s *TurnScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("turn scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("turn scheduler stopped")
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick expires every overdue turn once and returns how many flipped.
func (s *TurnScheduler) Tick() int {
	now := s.reg.now()
	flipped := 0
	for _, room := range s.reg.list() {
		if room.expireTurn(now) {
			flipped++
		}
	}
	if flipped > 0 {
		s.logger.Debug("turns expired", "count", flipped)
	}
	return flipped
}
