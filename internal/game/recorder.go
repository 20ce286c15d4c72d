package game

import (
	"context"
	"errors"
	"time"
)

// MatchRecord is the durable summary of one finished game.
type MatchRecord struct {
	RoomCode  string       `json:"roomCode"`
	Players   [2]Identity  `json:"players"`
	WinnerID  *int64       `json:"winnerId"`
	StartedAt time.Time    `json:"startedAt"`
	EndedAt   time.Time    `json:"endedAt"`
	DiceRolls []DiceRoll   `json:"diceRolls"`
	Guesses   []GuessEvent `json:"guesses"`
}

// MatchRecorder stores finished games. Failures are logged by the caller and
// never change the outcome of a game.
type MatchRecorder interface {
	RecordMatch(ctx context.Context, rec MatchRecord) error
}

// MultiRecorder writes to every recorder and joins their errors.
type MultiRecorder []MatchRecorder

// RecordMatch implements MatchRecorder.
func (m MultiRecorder) RecordMatch(ctx context.Context, rec MatchRecord) error {
	var errs []error
	for _, r := range m {
		if err := r.RecordMatch(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
