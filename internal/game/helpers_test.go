package game

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	msgs   []Message
	closed bool
	reason string
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
}

func (c *fakeConn) Close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.reason = reason
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.msgs...)
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = nil
}

func (c *fakeConn) lastState(t *testing.T) RoomState {
	t.Helper()
	msgs := c.messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if st, ok := msgs[i].(StateUpdate); ok {
			return st.State
		}
	}
	t.Fatalf("no state message on %s", c.id)
	return RoomState{}
}

func (c *fakeConn) errorTexts() []string {
	var out []string
	for _, m := range c.messages() {
		if e, ok := m.(ErrorEvent); ok {
			out = append(out, e.Message)
		}
	}
	return out
}

func (c *fakeConn) logTexts() []string {
	var out []string
	for _, m := range c.messages() {
		if l, ok := m.(LogEvent); ok {
			out = append(out, l.Message)
		}
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (f *fakeTimers) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{delay: d, fn: fn}
	f.timers = append(f.timers, t)
	return t
}

func (f *fakeTimers) all() []*fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeTimer(nil), f.timers...)
}

func (f *fakeTimers) active() []*fakeTimer {
	var out []*fakeTimer
	for _, t := range f.all() {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

// scriptedDice returns the given rolls in order.
type scriptedDice struct {
	mu    sync.Mutex
	rolls []int
}

func (d *scriptedDice) push(rolls ...int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rolls = append(d.rolls, rolls...)
}

func (d *scriptedDice) Roll() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.rolls) == 0 {
		panic("scriptedDice: no rolls left")
	}
	v := d.rolls[0]
	d.rolls = d.rolls[1:]
	return v
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []MatchRecord
	err     error
}

func (m *memoryRecorder) RecordMatch(_ context.Context, rec MatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryRecorder) all() []MatchRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MatchRecord(nil), m.records...)
}

type harness struct {
	reg    *Registry
	clock  *fakeClock
	timers *fakeTimers
	dice   *scriptedDice
	rec    *memoryRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:  newFakeClock(),
		timers: &fakeTimers{},
		dice:   &scriptedDice{},
		rec:    &memoryRecorder{},
	}
	h.reg = NewRegistry(Options{
		Recorder:  h.rec,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       h.clock.Now,
		RollDie:   h.dice.Roll,
		AfterFunc: h.timers.AfterFunc,
	})
	return h
}

func alice() Identity { return Identity{ID: 1, Username: "alice", Nickname: "Alice"} }
func bob() Identity   { return Identity{ID: 2, Username: "bob"} }
func carol() Identity { return Identity{ID: 3, Username: "carol"} }

// seatTwo creates a room owned by alice and seats bob.
func (h *harness) seatTwo(t *testing.T) (*Room, *fakeConn, *fakeConn) {
	t.Helper()
	a := newFakeConn("a")
	b := newFakeConn("b")
	room, err := h.reg.Create(alice(), a)
	require.NoError(t, err)
	_, res, err := h.reg.Join(room.Code(), bob(), b, false)
	require.NoError(t, err)
	require.Equal(t, 1, res.PlayerIndex)
	return room, a, b
}

// startGame seats two players, locks secrets 1234/5678 and rolls p0, p1.
func (h *harness) startGame(t *testing.T, p0, p1 int) (*Room, *fakeConn, *fakeConn) {
	t.Helper()
	room, a, b := h.seatTwo(t)
	require.NoError(t, room.SetSecret(0, []int{1, 2, 3, 4}))
	require.NoError(t, room.SetSecret(1, []int{5, 6, 7, 8}))
	h.dice.push(p0, p1)
	require.NoError(t, room.RollDice(0))
	require.NoError(t, room.RollDice(1))
	return room, a, b
}

func (h *harness) waitRecords(t *testing.T) []MatchRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.reg.Wait(ctx))
	return h.rec.all()
}

var errStorageDown = errors.New("storage down")
