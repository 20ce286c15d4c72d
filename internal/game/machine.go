package game

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

// ValidDigits reports whether d is exactly four integers in [0,9].
func ValidDigits(d []int) bool {
	if len(d) != 4 {
		return false
	}
	for _, v := range d {
		if v < 0 || v > 9 {
			return false
		}
	}
	return true
}

// CountExact returns how many positions of guess equal secret.
func CountExact(guess, secret []int) int {
	correct := 0
	for i := range min(len(guess), len(secret)) {
		if guess[i] == secret[i] {
			correct++
		}
	}
	return correct
}

func validSeat(idx int) bool {
	return idx == 0 || idx == 1
}

func formatDigits(d []int) string {
	var b strings.Builder
	for _, v := range d {
		b.WriteString(strconv.Itoa(v))
	}
	return b.String()
}

// Play applies a player action for conn. The seat is resolved from the
// connection under the room lock, so a connection that lost its seat to a
// newer one cannot act on it anymore.
func (r *Room) Play(conn Conn, msg ClientMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomNotFound
	}
	idx := r.seatOfConnLocked(conn)
	if idx == noPlayer {
		if r.watchingLocked(conn) {
			return ErrSpectatorForbidden
		}
		return ErrNotInRoom
	}

	switch m := msg.(type) {
	case SetSecretRequest:
		return r.setSecretLocked(idx, m.Digits)
	case RollDiceRequest:
		return r.rollDiceLocked(idx)
	case GuessRequest:
		return r.guessLocked(idx, m.Digits)
	case ResetRequest:
		return r.resetLocked()
	default:
		return ErrUnknownMessage
	}
}

// SetSecret locks the secret for a seat. A locked secret only changes
// through Reset.
func (r *Room) SetSecret(playerIndex int, digits []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setSecretLocked(playerIndex, digits)
}

func (r *Room) setSecretLocked(playerIndex int, digits []int) error {
	if !validSeat(playerIndex) {
		return ErrSpectatorForbidden
	}
	if !ValidDigits(digits) {
		return ErrInvalidInput
	}
	if r.closed {
		return ErrRoomNotFound
	}
	if r.secrets[playerIndex] != nil {
		return ErrAlreadyLocked
	}
	r.secrets[playerIndex] = slices.Clone(digits)
	r.broadcastStateLocked()
	r.logLocked("Player %d locked a secret.", playerIndex+1)
	return nil
}

// RollDice draws the turn-order die for a seat. A tie clears both dice;
// otherwise the higher roll takes the first turn.
func (r *Room) RollDice(playerIndex int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rollDiceLocked(playerIndex)
}

func (r *Room) rollDiceLocked(playerIndex int) error {
	if !validSeat(playerIndex) {
		return ErrSpectatorForbidden
	}

	switch {
	case r.closed:
		return ErrRoomNotFound
	case r.winner != noPlayer:
		return ErrGameFinished
	case r.players[0] == nil || r.players[1] == nil:
		return ErrOpponentMissing
	case r.secrets[0] == nil || r.secrets[1] == nil:
		return ErrSecretsNotReady
	case r.dice[playerIndex] != 0:
		return ErrAlreadyRolled
	}

	now := r.reg.now()
	r.dice[playerIndex] = r.reg.rollDie()
	r.logLocked("Player %d rolled %d.", playerIndex+1, r.dice[playerIndex])
	r.broadcastStateLocked()

	if r.dice[0] == 0 || r.dice[1] == 0 {
		return nil
	}
	r.diceHistory = append(r.diceHistory, DiceRoll{P1: r.dice[0], P2: r.dice[1], At: now})

	if r.dice[0] == r.dice[1] {
		r.logLocked("Both players rolled %d, roll again.", r.dice[0])
		r.dice = [2]int{}
		r.broadcastStateLocked()
		return nil
	}

	first := 1
	if r.dice[0] > r.dice[1] {
		first = 0
	}
	r.currentTurn = first
	r.turnDeadline = now.Add(r.reg.turnDuration)
	r.started = true
	r.startedAt = now
	r.logLocked("Player %d goes first.", first+1)
	r.broadcastStateLocked()
	return nil
}

// Guess scores digits against the opponent's secret. Four exact matches end
// the game; anything else passes the turn.
func (r *Room) Guess(playerIndex int, digits []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.guessLocked(playerIndex, digits)
}

func (r *Room) guessLocked(playerIndex int, digits []int) error {
	if !validSeat(playerIndex) {
		return ErrSpectatorForbidden
	}
	if !ValidDigits(digits) {
		return ErrInvalidInput
	}

	switch {
	case r.closed:
		return ErrRoomNotFound
	case !r.started || r.winner != noPlayer:
		return ErrNotStarted
	case r.currentTurn != playerIndex:
		return ErrNotYourTurn
	}
	opponent := 1 - playerIndex
	secret := r.secrets[opponent]
	if secret == nil {
		return ErrOpponentNotReady
	}

	now := r.reg.now()
	guess := slices.Clone(digits)
	correct := CountExact(guess, secret)
	r.lastResult = &GuessResult{By: playerIndex, Guess: guess, Correct: correct}
	r.history = append(r.history, GuessEvent{By: playerIndex, Guess: guess, Correct: correct, At: now})

	if correct == len(secret) {
		r.winner = playerIndex
		r.currentTurn = noPlayer
		r.turnDeadline = time.Time{}
	} else {
		r.currentTurn = opponent
		r.turnDeadline = now.Add(r.reg.turnDuration)
	}

	r.broadcastStateLocked()
	r.logLocked("Player %d guessed %s, %d in the right place.", playerIndex+1, formatDigits(guess), correct)
	if r.winner != noPlayer {
		r.logLocked("Player %d wins.", playerIndex+1)
		r.reg.persist(r.matchRecordLocked(now))
	}
	return nil
}

// Reset returns the room to its pre-game state. Seats and spectators stay.
func (r *Room) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resetLocked()
}

func (r *Room) resetLocked() error {
	if r.closed {
		return ErrRoomNotFound
	}
	r.secrets = [2][]int{}
	r.dice = [2]int{}
	r.currentTurn = noPlayer
	r.turnDeadline = time.Time{}
	r.winner = noPlayer
	r.started = false
	r.startedAt = time.Time{}
	r.history = nil
	r.diceHistory = nil
	r.lastResult = nil

	r.broadcastStateLocked()
	r.logLocked("The game was reset.")
	return nil
}

// expireTurn passes an overdue turn to the other player. The deadline moves
// forward under the same lock, so repeated calls with a stale now are no-ops.
func (r *Room) expireTurn(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || !r.started || r.winner != noPlayer || r.currentTurn == noPlayer {
		return false
	}
	if r.turnDeadline.IsZero() || now.Before(r.turnDeadline) {
		return false
	}

	previous := r.currentTurn
	next := 1 - previous
	r.currentTurn = next
	r.turnDeadline = now.Add(r.reg.turnDuration)
	r.logLocked("Player %d ran out of time, Player %d's turn.", previous+1, next+1)
	r.broadcastStateLocked()
	return true
}

func (r *Room) matchRecordLocked(endedAt time.Time) MatchRecord {
	rec := MatchRecord{
		RoomCode:  r.code,
		StartedAt: r.startedAt,
		EndedAt:   endedAt,
		DiceRolls: slices.Clone(r.diceHistory),
		Guesses:   slices.Clone(r.history),
	}
	for i, slot := range r.players {
		if slot != nil {
			rec.Players[i] = slot.Identity
		}
	}
	if r.winner != noPlayer && r.players[r.winner] != nil {
		winnerID := r.players[r.winner].Identity.ID
		rec.WinnerID = &winnerID
	}
	return rec
}
