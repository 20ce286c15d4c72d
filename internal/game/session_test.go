package game

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(h *harness, id Identity, connID string) (*Session, *fakeConn) {
	conn := newFakeConn(connID)
	return NewSession(h.reg, id, conn, nil), conn
}

func frame(format string, args ...any) []byte {
	return []byte(fmt.Sprintf(format, args...))
}

func TestSessionFirstMalformedFrameIsFatal(t *testing.T) {
	h := newHarness(t)
	s, conn := newTestSession(h, alice(), "a")

	err := s.HandleFrame([]byte("not json"))
	require.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, []string{ErrProtocol.Error()}, conn.errorTexts())
}

func TestSessionLaterMalformedFrameIsRejected(t *testing.T) {
	h := newHarness(t)
	s, conn := newTestSession(h, alice(), "a")

	require.NoError(t, s.HandleFrame(frame(`{"type":"create"}`)))
	require.NoError(t, s.HandleFrame([]byte("{oops")))
	assert.Equal(t, []string{ErrProtocol.Error()}, conn.errorTexts())
}

func TestSessionUnknownFirstFrameIsNotFatal(t *testing.T) {
	h := newHarness(t)
	s, conn := newTestSession(h, alice(), "a")

	require.NoError(t, s.HandleFrame(frame(`{"type":"dance"}`)))
	assert.Equal(t, []string{ErrUnknownMessage.Error()}, conn.errorTexts())
}

func TestSessionRequiresRoom(t *testing.T) {
	h := newHarness(t)
	s, conn := newTestSession(h, alice(), "a")

	for _, raw := range []string{
		`{"type":"set_secret","digits":[1,2,3,4]}`,
		`{"type":"roll_dice"}`,
		`{"type":"guess","digits":[1,2,3,4]}`,
		`{"type":"reset"}`,
	} {
		require.NoError(t, s.HandleFrame([]byte(raw)))
	}
	errs := conn.errorTexts()
	require.Len(t, errs, 4)
	for _, e := range errs {
		assert.Equal(t, ErrNotInRoom.Error(), e)
	}
}

func TestSessionPlaysGame(t *testing.T) {
	h := newHarness(t)
	sa, ca := newTestSession(h, alice(), "a")
	sb, cb := newTestSession(h, bob(), "b")

	require.NoError(t, sa.HandleFrame(frame(`{"type":"create"}`)))
	code := sa.Room().Code()
	assert.Equal(t, RolePlayer, sa.Role())
	assert.Equal(t, 0, sa.PlayerIndex())

	require.NoError(t, sb.HandleFrame(frame(`{"type":"join","code":"%s"}`, code)))
	assert.Equal(t, 1, sb.PlayerIndex())

	require.NoError(t, sa.HandleFrame(frame(`{"type":"set_secret","digits":[1,2,3,4]}`)))
	require.NoError(t, sb.HandleFrame(frame(`{"type":"set_secret","digits":["5","6","7","8"]}`)))
	h.dice.push(5, 3)
	require.NoError(t, sa.HandleFrame(frame(`{"type":"roll_dice"}`)))
	require.NoError(t, sb.HandleFrame(frame(`{"type":"roll_dice"}`)))

	require.NoError(t, sb.HandleFrame(frame(`{"type":"guess","digits":[1,2,3,4]}`)))
	assert.Equal(t, []string{ErrNotYourTurn.Error()}, cb.errorTexts())

	require.NoError(t, sa.HandleFrame(frame(`{"type":"guess","digits":[5,6,7,8]}`)))
	st := ca.lastState(t)
	assert.Equal(t, StatusFinished, st.Status)
	assert.Empty(t, ca.errorTexts())
	require.Len(t, h.waitRecords(t), 1)

	require.NoError(t, sb.HandleFrame(frame(`{"type":"reset"}`)))
	assert.Equal(t, StatusSettingSecret, cb.lastState(t).Status)
}

func TestSessionSpectatorCannotPlay(t *testing.T) {
	h := newHarness(t)
	room, a, _ := h.seatTwo(t)
	s, conn := newTestSession(h, carol(), "c")

	require.NoError(t, s.HandleFrame(frame(`{"type":"join","code":"%s"}`, room.Code())))
	assert.Equal(t, []string{ErrRoomFull.Error()}, conn.errorTexts())
	assert.Nil(t, s.Room())

	require.NoError(t, s.HandleFrame(frame(`{"type":"join","code":"%s","spectator":true}`, room.Code())))
	assert.Equal(t, RoleSpectator, s.Role())
	assert.Equal(t, -1, s.PlayerIndex())

	conn.reset()
	a.reset()
	for _, raw := range []string{
		`{"type":"set_secret","digits":[1,2,3,4]}`,
		`{"type":"roll_dice"}`,
		`{"type":"guess","digits":[1,2,3,4]}`,
		`{"type":"reset"}`,
	} {
		require.NoError(t, s.HandleFrame([]byte(raw)))
	}
	errs := conn.errorTexts()
	require.Len(t, errs, 4)
	for _, e := range errs {
		assert.Equal(t, ErrSpectatorForbidden.Error(), e)
	}
	assert.Empty(t, a.messages(), "rejected requests do not broadcast")
}

func TestSessionAlreadyInRoom(t *testing.T) {
	h := newHarness(t)
	s, conn := newTestSession(h, alice(), "a")

	require.NoError(t, s.HandleFrame(frame(`{"type":"create"}`)))
	require.NoError(t, s.HandleFrame(frame(`{"type":"create"}`)))
	require.NoError(t, s.HandleFrame(frame(`{"type":"join","code":"ABCD"}`)))
	assert.Equal(t, []string{ErrAlreadyInRoom.Error(), ErrAlreadyInRoom.Error()}, conn.errorTexts())
	assert.Equal(t, 1, h.reg.Len())
}

func TestSessionJoinErrors(t *testing.T) {
	h := newHarness(t)
	s, conn := newTestSession(h, alice(), "a")

	require.NoError(t, s.HandleFrame(frame(`{"type":"join"}`)))
	require.NoError(t, s.HandleFrame(frame(`{"type":"join","code":"ZZZZ"}`)))
	assert.Equal(t, []string{ErrProtocol.Error(), ErrRoomNotFound.Error()}, conn.errorTexts())
}

func TestSessionCloseDetaches(t *testing.T) {
	h := newHarness(t)
	sa, ca := newTestSession(h, alice(), "a")
	sb, cb := newTestSession(h, bob(), "b")
	require.NoError(t, sa.HandleFrame(frame(`{"type":"create"}`)))
	require.NoError(t, sb.HandleFrame(frame(`{"type":"join","code":"%s"}`, sa.Room().Code())))
	room := sa.Room()

	sb.Close()
	sb.Close()
	assert.Nil(t, sb.Room())
	st := ca.lastState(t)
	assert.False(t, st.Players[1].Connected)

	sa.Close()
	assert.Len(t, h.timers.active(), 1)
	assert.False(t, room.Snapshot().Players[0].Connected)
	assert.False(t, cb.isClosed(), "a detach is not a close")
}

func TestClientError(t *testing.T) {
	assert.Equal(t, "not your turn", ClientError(fmt.Errorf("guess: %w", ErrNotYourTurn)))
	assert.Equal(t, "internal error", ClientError(fmt.Errorf("boom")))
	assert.Equal(t, "internal error", ClientError(ErrCodeSpaceExhausted))
}

func TestSupersededSessionCannotPlay(t *testing.T) {
	h := newHarness(t)
	old, oldConn := newTestSession(h, alice(), "a1")
	sb, _ := newTestSession(h, bob(), "b")

	require.NoError(t, old.HandleFrame(frame(`{"type":"create"}`)))
	code := old.Room().Code()
	require.NoError(t, sb.HandleFrame(frame(`{"type":"join","code":"%s"}`, code)))

	fresh, freshConn := newTestSession(h, alice(), "a2")
	require.NoError(t, fresh.HandleFrame(frame(`{"type":"join","code":"%s"}`, code)))
	require.True(t, oldConn.isClosed())
	oldConn.reset()

	// Frames still buffered on the replaced socket must not touch the seat.
	for _, raw := range []string{
		`{"type":"set_secret","digits":[1,2,3,4]}`,
		`{"type":"roll_dice"}`,
		`{"type":"guess","digits":[1,2,3,4]}`,
		`{"type":"reset"}`,
	} {
		require.NoError(t, old.HandleFrame([]byte(raw)))
	}
	errs := oldConn.errorTexts()
	require.Len(t, errs, 4)
	for _, e := range errs {
		assert.Equal(t, ErrNotInRoom.Error(), e)
	}
	room := fresh.Room()
	assert.Equal(t, [2]bool{false, false}, room.Snapshot().SecretsSet)

	require.NoError(t, fresh.HandleFrame(frame(`{"type":"set_secret","digits":[1,2,3,4]}`)))
	assert.Empty(t, freshConn.errorTexts())
	assert.Equal(t, [2]bool{true, false}, room.Snapshot().SecretsSet)
}
