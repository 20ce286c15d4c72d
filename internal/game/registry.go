package game

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	DefaultTurnDuration   = 60 * time.Second
	DefaultCleanupDelay   = 30 * time.Minute
	DefaultPersistTimeout = 5 * time.Second
)

// Timer is the cancellation handle of a scheduled callback.
type Timer interface {
	Stop() bool
}

// Options configures a Registry. Zero values get defaults.
type Options struct {
	TurnDuration   time.Duration
	CleanupDelay   time.Duration
	PersistTimeout time.Duration
	Recorder       MatchRecorder
	Logger         *slog.Logger

	// Hooks for deterministic tests.
	Now       func() time.Time
	RollDie   func() int
	AfterFunc func(d time.Duration, f func()) Timer
	Codes     *CodeGenerator
}

// Registry is the process-wide table of live rooms.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	codes          *CodeGenerator
	turnDuration   time.Duration
	cleanupDelay   time.Duration
	persistTimeout time.Duration
	recorder       MatchRecorder
	logger         *slog.Logger
	now            func() time.Time
	rollDie        func() int
	afterFunc      func(d time.Duration, f func()) Timer

	pending sync.WaitGroup
}

// NewRegistry builds an empty registry.
func NewRegistry(opts Options) *Registry {
	reg := &Registry{
		rooms:          make(map[string]*Room),
		codes:          opts.Codes,
		turnDuration:   opts.TurnDuration,
		cleanupDelay:   opts.CleanupDelay,
		persistTimeout: opts.PersistTimeout,
		recorder:       opts.Recorder,
		logger:         opts.Logger,
		now:            opts.Now,
		rollDie:        opts.RollDie,
		afterFunc:      opts.AfterFunc,
	}
	if reg.codes == nil {
		reg.codes = NewCodeGenerator()
	}
	if reg.turnDuration <= 0 {
		reg.turnDuration = DefaultTurnDuration
	}
	if reg.cleanupDelay <= 0 {
		reg.cleanupDelay = DefaultCleanupDelay
	}
	if reg.persistTimeout <= 0 {
		reg.persistTimeout = DefaultPersistTimeout
	}
	if reg.logger == nil {
		reg.logger = slog.Default()
	}
	reg.logger = reg.logger.With("component", "registry")
	if reg.now == nil {
		reg.now = time.Now
	}
	if reg.rollDie == nil {
		reg.rollDie = func() int { return rand.IntN(6) + 1 }
	}
	if reg.afterFunc == nil {
		reg.afterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	return reg
}

// Create opens a room with the owner in seat 0.
func (reg *Registry) Create(owner Identity, conn Conn) (*Room, error) {
	reg.mu.Lock()
	code, err := reg.allocateCodeLocked()
	if err != nil {
		reg.mu.Unlock()
		reg.logger.Error("allocate room code", "error", err, "rooms", len(reg.rooms))
		return nil, err
	}
	room := newRoom(reg, code)
	// Nobody can reach the room before it is published, so taking its lock
	// here cannot invert the registry->room order.
	room.mu.Lock()
	reg.rooms[code] = room
	reg.mu.Unlock()
	defer room.mu.Unlock()

	room.players[0] = &PlayerSlot{Identity: owner, conn: conn}
	room.cancelCleanupLocked()
	idx := 0
	conn.Send(Joined{Code: code, PlayerIndex: &idx, Role: RolePlayer})
	conn.Send(StateUpdate{State: room.stateLocked()})
	room.logLocked("Player 1 created the room.")

	reg.logger.Info("room created", "room", code, "owner", owner.ID)
	return room, nil
}

func (reg *Registry) allocateCodeLocked() (string, error) {
	if len(reg.rooms) >= CodeSpace {
		return "", ErrCodeSpaceExhausted
	}
	for {
		code := reg.codes.Next()
		if _, taken := reg.rooms[code]; !taken {
			return code, nil
		}
	}
}

// Join attaches a connection to an existing room. See Room.join for the seat
// rules.
func (reg *Registry) Join(code string, id Identity, conn Conn, wantsSpectator bool) (*Room, JoinResult, error) {
	room, ok := reg.Lookup(code)
	if !ok {
		return nil, JoinResult{}, ErrRoomNotFound
	}
	res, err := room.join(id, conn, wantsSpectator)
	if err != nil {
		return nil, JoinResult{}, err
	}
	reg.logger.Info("room joined", "room", room.code, "user", id.ID, "role", res.Role, "playerIndex", res.PlayerIndex)
	return room, res, nil
}

// Lookup finds a live room by code, case-insensitively.
func (reg *Registry) Lookup(code string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[strings.ToUpper(strings.TrimSpace(code))]
	return room, ok
}

// Len returns the number of live rooms.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// Summaries lists every live room ordered by code.
func (reg *Registry) Summaries() []RoomSummary {
	rooms := reg.list()
	out := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, room.Summary())
	}
	slices.SortFunc(out, func(a, b RoomSummary) int { return strings.Compare(a.Code, b.Code) })
	return out
}

// ForceClose disconnects everyone in a room and removes it at once.
func (reg *Registry) ForceClose(code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	reg.mu.Lock()
	room, ok := reg.rooms[code]
	if ok {
		delete(reg.rooms, code)
	}
	reg.mu.Unlock()
	if !ok {
		return ErrRoomNotFound
	}

	room.mu.Lock()
	room.shutdownLocked("room closed by administrator")
	room.mu.Unlock()

	reg.logger.Info("room force closed", "room", code)
	return nil
}

// Shutdown closes every room and waits for in-flight match writes until ctx
// is done.
func (reg *Registry) Shutdown(ctx context.Context) error {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	reg.rooms = make(map[string]*Room)
	reg.mu.Unlock()

	for _, room := range rooms {
		room.mu.Lock()
		room.shutdownLocked("server shutting down")
		room.mu.Unlock()
	}
	return reg.Wait(ctx)
}

// Wait blocks until pending match writes finish or ctx is done.
func (reg *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		reg.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (reg *Registry) list() []*Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// expire runs when a cleanup timer fires. A reconnect bumps the generation,
// which turns a timer that already started firing into a no-op.
func (reg *Registry) expire(room *Room, gen uint64) {
	room.mu.Lock()
	if room.closed || gen != room.cleanupGen || room.hasLivePlayerLocked() {
		room.mu.Unlock()
		return
	}
	room.shutdownLocked("room closed after inactivity")
	room.mu.Unlock()

	reg.mu.Lock()
	if reg.rooms[room.code] == room {
		delete(reg.rooms, room.code)
	}
	reg.mu.Unlock()

	reg.logger.Info("idle room removed", "room", room.code)
}

// persist hands a finished match to the recorder without blocking the room.
func (reg *Registry) persist(rec MatchRecord) {
	if reg.recorder == nil {
		return
	}
	reg.pending.Add(1)
	go func() {
		defer reg.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), reg.persistTimeout)
		defer cancel()
		if err := reg.recorder.RecordMatch(ctx, rec); err != nil {
			reg.logger.Error("record match", "room", rec.RoomCode, "error", err)
			return
		}
		reg.logger.Info("match recorded", "room", rec.RoomCode)
	}()
}
