package game

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Identity is an authenticated user as handed over by the identity provider.
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
}

// DisplayName prefers the nickname.
func (id Identity) DisplayName() string {
	if id.Nickname != "" {
		return id.Nickname
	}
	return id.Username
}

// Role is how a connection is attached to a room.
type Role string

const (
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

// Status is derived from room state and never stored.
type Status string

const (
	StatusWaiting       Status = "waiting"
	StatusSettingSecret Status = "setting_secret"
	StatusReadyToRoll   Status = "ready_to_roll"
	StatusInProgress    Status = "in_progress"
	StatusFinished      Status = "finished"
)

// Conn is a live transport connection as seen by a room. Send and Close
// must not block.
type Conn interface {
	ID() string
	Send(Message)
	Close(reason string)
}

// PlayerSlot is a claimed seat. A nil connection means the owner is offline
// but keeps the seat.
type PlayerSlot struct {
	Identity Identity
	conn     Conn
}

// SpectatorSlot is an observer attached to a room.
type SpectatorSlot struct {
	Identity Identity
	conn     Conn
}

// GuessEvent is one entry of the guess history.
type GuessEvent struct {
	By      int       `json:"by"`
	Guess   []int     `json:"guess"`
	Correct int       `json:"correct"`
	At      time.Time `json:"at"`
}

// GuessResult is the most recent guess without its timestamp.
type GuessResult struct {
	By      int   `json:"by"`
	Guess   []int `json:"guess"`
	Correct int   `json:"correct"`
}

// DiceRoll is a completed pair of turn-order rolls, ties included.
type DiceRoll struct {
	P1 int       `json:"p1"`
	P2 int       `json:"p2"`
	At time.Time `json:"at"`
}

// PlayerView is the public part of a seat.
type PlayerView struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Nickname  string `json:"nickname"`
	Connected bool   `json:"connected"`
}

// RoomState is the snapshot pushed to clients after every mutation.
type RoomState struct {
	Code            string         `json:"code"`
	PlayersCount    int            `json:"playersCount"`
	SecretsSet      [2]bool        `json:"secretsSet"`
	CurrentTurn     *int           `json:"currentTurn"`
	Winner          *int           `json:"winner"`
	LastResult      *GuessResult   `json:"lastResult"`
	Dice            [2]*int        `json:"dice"`
	Status          Status         `json:"status"`
	SpectatorsCount int            `json:"spectatorsCount"`
	History         []GuessEvent   `json:"history"`
	TurnDeadline    *int64         `json:"turnDeadline"`
	Players         [2]*PlayerView `json:"players"`
}

// RoomSummary is the lobby/admin listing entry.
type RoomSummary struct {
	Code            string `json:"code"`
	PlayersCount    int    `json:"playersCount"`
	SpectatorsCount int    `json:"spectatorsCount"`
	Status          Status `json:"status"`
}

// JoinResult tells a connection which role it got.
type JoinResult struct {
	Role        Role
	PlayerIndex int
}

// Index returns the seat index, or nil for spectators.
func (j JoinResult) Index() *int {
	if j.Role != RolePlayer {
		return nil
	}
	idx := j.PlayerIndex
	return &idx
}

// HistoryWindow is how many guesses a state snapshot carries.
const HistoryWindow = 12

const noPlayer = -1

// Room owns all state of one game. Every method takes mu; helpers suffixed
// Locked expect the caller to hold it.
type Room struct {
	mu     sync.Mutex
	reg    *Registry
	code   string
	logger *slog.Logger

	players    [2]*PlayerSlot
	spectators map[int64]*SpectatorSlot

	secrets      [2][]int
	dice         [2]int
	currentTurn  int
	turnDeadline time.Time
	winner       int
	started      bool
	startedAt    time.Time
	history      []GuessEvent
	diceHistory  []DiceRoll
	lastResult   *GuessResult

	cleanupTimer Timer
	cleanupGen   uint64
	closed       bool
}

func newRoom(reg *Registry, code string) *Room {
	return &Room{
		reg:         reg,
		code:        code,
		logger:      reg.logger.With("room", code),
		spectators:  make(map[int64]*SpectatorSlot),
		currentTurn: noPlayer,
		winner:      noPlayer,
	}
}

// Code returns the room code.
func (r *Room) Code() string {
	return r.code
}

// Snapshot returns the current state as clients see it.
func (r *Room) Snapshot() RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked()
}

// Summary returns the listing entry for this room.
func (r *Room) Summary() RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RoomSummary{
		Code:            r.code,
		PlayersCount:    r.playersCountLocked(),
		SpectatorsCount: len(r.spectators),
		Status:          r.statusLocked(),
	}
}

// DeriveStatus computes a room status. The first matching rule wins.
func DeriveStatus(playersCount int, secretsSet [2]bool, started bool, finished bool) Status {
	switch {
	case finished:
		return StatusFinished
	case playersCount < 2:
		return StatusWaiting
	case !secretsSet[0] || !secretsSet[1]:
		return StatusSettingSecret
	case !started:
		return StatusReadyToRoll
	default:
		return StatusInProgress
	}
}

func (r *Room) statusLocked() Status {
	return DeriveStatus(r.playersCountLocked(), r.secretsSetLocked(), r.started, r.winner != noPlayer)
}

func (r *Room) playersCountLocked() int {
	n := 0
	for _, slot := range r.players {
		if slot != nil {
			n++
		}
	}
	return n
}

func (r *Room) secretsSetLocked() [2]bool {
	return [2]bool{r.secrets[0] != nil, r.secrets[1] != nil}
}

func (r *Room) hasLivePlayerLocked() bool {
	for _, slot := range r.players {
		if slot != nil && slot.conn != nil {
			return true
		}
	}
	return false
}

func (r *Room) stateLocked() RoomState {
	state := RoomState{
		Code:            r.code,
		PlayersCount:    r.playersCountLocked(),
		SecretsSet:      r.secretsSetLocked(),
		Status:          r.statusLocked(),
		SpectatorsCount: len(r.spectators),
	}
	if r.currentTurn != noPlayer {
		turn := r.currentTurn
		state.CurrentTurn = &turn
	}
	if r.winner != noPlayer {
		winner := r.winner
		state.Winner = &winner
	}
	if r.lastResult != nil {
		last := *r.lastResult
		state.LastResult = &last
	}
	for i, v := range r.dice {
		if v != 0 {
			die := v
			state.Dice[i] = &die
		}
	}
	if !r.turnDeadline.IsZero() {
		deadline := r.turnDeadline.UnixMilli()
		state.TurnDeadline = &deadline
	}

	from := max(len(r.history)-HistoryWindow, 0)
	state.History = append([]GuessEvent{}, r.history[from:]...)

	for i, slot := range r.players {
		if slot == nil {
			continue
		}
		state.Players[i] = &PlayerView{
			ID:        slot.Identity.ID,
			Username:  slot.Identity.Username,
			Nickname:  slot.Identity.DisplayName(),
			Connected: slot.conn != nil,
		}
	}
	return state
}

// broadcastLocked fans a message out to every attached connection.
func (r *Room) broadcastLocked(m Message) {
	for _, slot := range r.players {
		if slot != nil && slot.conn != nil {
			slot.conn.Send(m)
		}
	}
	for _, watcher := range r.spectators {
		if watcher.conn != nil {
			watcher.conn.Send(m)
		}
	}
}

func (r *Room) broadcastStateLocked() {
	r.broadcastLocked(StateUpdate{State: r.stateLocked()})
}

func (r *Room) logLocked(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.broadcastLocked(LogEvent{Message: msg, At: r.reg.now().UnixMilli()})
	r.logger.Debug("room event", "message", msg)
}

func (r *Room) seatOfLocked(userID int64) int {
	for i, slot := range r.players {
		if slot != nil && slot.Identity.ID == userID {
			return i
		}
	}
	return noPlayer
}

func (r *Room) seatOfConnLocked(conn Conn) int {
	for i, slot := range r.players {
		if slot != nil && slot.conn != nil && slot.conn == conn {
			return i
		}
	}
	return noPlayer
}

func (r *Room) watchingLocked(conn Conn) bool {
	for _, watcher := range r.spectators {
		if watcher.conn != nil && watcher.conn == conn {
			return true
		}
	}
	return false
}

func (r *Room) freeSeatLocked() int {
	for i, slot := range r.players {
		if slot == nil {
			return i
		}
	}
	return noPlayer
}

// join attaches conn as a returning player, a spectator, or a new player,
// in that order of preference.
func (r *Room) join(id Identity, conn Conn, wantsSpectator bool) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return JoinResult{}, ErrRoomNotFound
	}
	if idx := r.seatOfLocked(id.ID); idx != noPlayer {
		return r.attachPlayerLocked(idx, id, conn), nil
	}
	if wantsSpectator {
		return r.attachSpectatorLocked(id, conn), nil
	}
	idx := r.freeSeatLocked()
	if idx == noPlayer {
		return JoinResult{}, ErrRoomFull
	}
	return r.attachPlayerLocked(idx, id, conn), nil
}

func (r *Room) attachPlayerLocked(idx int, id Identity, conn Conn) JoinResult {
	slot := r.players[idx]
	reconnect := slot != nil && slot.conn == nil
	if slot == nil {
		slot = &PlayerSlot{Identity: id}
		r.players[idx] = slot
	}
	if slot.conn != nil && slot.conn != conn {
		slot.conn.Close("signed in from another connection")
	}
	slot.conn = conn
	if watcher, ok := r.spectators[id.ID]; ok {
		// A seat replaces the spectator entry of the same identity.
		delete(r.spectators, id.ID)
		if watcher.conn != nil && watcher.conn != conn {
			watcher.conn.Close("signed in from another connection")
		}
	}
	r.cancelCleanupLocked()

	res := JoinResult{Role: RolePlayer, PlayerIndex: idx}
	conn.Send(Joined{Code: r.code, PlayerIndex: res.Index(), Role: RolePlayer})
	if reconnect {
		r.logLocked("Player %d reconnected.", idx+1)
	} else {
		r.logLocked("Player %d joined the room.", idx+1)
	}
	r.broadcastStateLocked()
	return res
}

func (r *Room) attachSpectatorLocked(id Identity, conn Conn) JoinResult {
	watcher, ok := r.spectators[id.ID]
	if ok {
		if watcher.conn != nil && watcher.conn != conn {
			watcher.conn.Close("signed in from another connection")
		}
		watcher.conn = conn
	} else {
		watcher = &SpectatorSlot{Identity: id, conn: conn}
		r.spectators[id.ID] = watcher
	}

	conn.Send(Joined{Code: r.code, PlayerIndex: nil, Role: RoleSpectator})
	r.logLocked("Spectator %s entered the room.", id.DisplayName())
	r.broadcastStateLocked()
	return JoinResult{Role: RoleSpectator, PlayerIndex: noPlayer}
}

// detach drops conn from whichever slot holds it. A replaced connection is
// ignored.
func (r *Room) detach(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	for i, slot := range r.players {
		if slot == nil || slot.conn != conn {
			continue
		}
		slot.conn = nil
		r.logLocked("Player %d went offline, waiting to reconnect.", i+1)
		r.broadcastStateLocked()
		if !r.hasLivePlayerLocked() {
			r.scheduleCleanupLocked()
		}
		return
	}
	for key, watcher := range r.spectators {
		if watcher.conn == conn {
			delete(r.spectators, key)
			r.broadcastStateLocked()
			return
		}
	}
}

// shutdownLocked disconnects everyone and marks the room dead.
func (r *Room) shutdownLocked(reason string) {
	r.closed = true
	r.cancelCleanupLocked()
	for _, watcher := range r.spectators {
		if watcher.conn != nil {
			watcher.conn.Close(reason)
		}
	}
	r.spectators = make(map[int64]*SpectatorSlot)
	for _, slot := range r.players {
		if slot != nil && slot.conn != nil {
			slot.conn.Close(reason)
			slot.conn = nil
		}
	}
}

// scheduleCleanupLocked arms the idle-room deletion timer. The generation
// captured here must still match when the timer fires.
func (r *Room) scheduleCleanupLocked() {
	r.cancelCleanupLocked()
	gen := r.cleanupGen
	r.cleanupTimer = r.reg.afterFunc(r.reg.cleanupDelay, func() {
		r.reg.expire(r, gen)
	})
	r.logger.Info("room cleanup scheduled", "delay", r.reg.cleanupDelay)
}

func (r *Room) cancelCleanupLocked() {
	r.cleanupGen++
	if r.cleanupTimer != nil {
		r.cleanupTimer.Stop()
		r.cleanupTimer = nil
	}
}
