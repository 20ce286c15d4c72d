package game

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClientMessage(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want ClientMessage
	}{
		{"create", `{"type":"create"}`, CreateRequest{}},
		{"join normalises code", `{"type":"join","code":" abcd "}`, JoinRequest{Code: "ABCD"}},
		{"join as spectator", `{"type":"join","code":"ABCD","spectator":true}`, JoinRequest{Code: "ABCD", Spectator: true}},
		{"spectator truthy string", `{"type":"join","code":"ABCD","spectator":"yes"}`, JoinRequest{Code: "ABCD", Spectator: true}},
		{"spectator zero", `{"type":"join","code":"ABCD","spectator":0}`, JoinRequest{Code: "ABCD"}},
		{"join without code", `{"type":"join"}`, JoinRequest{}},
		{"secret numbers", `{"type":"set_secret","digits":[1,2,3,4]}`, SetSecretRequest{Digits: []int{1, 2, 3, 4}}},
		{"secret numeric strings", `{"type":"set_secret","digits":["1","2","3","4"]}`, SetSecretRequest{Digits: []int{1, 2, 3, 4}}},
		{"guess with junk item", `{"type":"guess","digits":[1,"x",3.5,null]}`, GuessRequest{Digits: []int{1, -1, -1, -1}}},
		{"guess digits not an array", `{"type":"guess","digits":"1234"}`, GuessRequest{}},
		{"roll", `{"type":"roll_dice"}`, RollDiceRequest{}},
		{"reset", `{"type":"reset"}`, ResetRequest{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeClientMessage([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeClientMessageErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `hello`, ErrProtocol},
		{"array", `[1,2]`, ErrProtocol},
		{"truncated", `{"type":`, ErrProtocol},
		{"unknown type", `{"type":"shout"}`, ErrUnknownMessage},
		{"missing type", `{}`, ErrUnknownMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeClientMessage([]byte(tt.raw))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestInvalidDigitsAreRejectedByRoom(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"guess","digits":[1,2,"three",4]}`))
	require.NoError(t, err)
	assert.False(t, ValidDigits(msg.(GuessRequest).Digits))
}

func TestEncodeMessage(t *testing.T) {
	idx := 1
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"joined player", Joined{Code: "ABCD", PlayerIndex: &idx, Role: RolePlayer},
			`{"type":"joined","code":"ABCD","playerIndex":1,"role":"player"}`},
		{"joined spectator", Joined{Code: "ABCD", Role: RoleSpectator},
			`{"type":"joined","code":"ABCD","playerIndex":null,"role":"spectator"}`},
		{"log", LogEvent{Message: "Player 1 rolled 4.", At: 1700000000000},
			`{"type":"log","message":"Player 1 rolled 4.","at":1700000000000}`},
		{"error", ErrorEvent{Message: "not your turn"},
			`{"type":"error","message":"not your turn"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeMessage(tt.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestEncodeStateShape(t *testing.T) {
	h := newHarness(t)
	room, _, _ := h.startGame(t, 5, 3)

	raw, err := EncodeMessage(StateUpdate{State: room.Snapshot()})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "state", decoded["type"])
	state, ok := decoded["state"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{
		"code", "playersCount", "secretsSet", "currentTurn", "winner", "lastResult",
		"dice", "status", "spectatorsCount", "history", "turnDeadline", "players",
	} {
		assert.Contains(t, state, key)
	}
	assert.Equal(t, "in_progress", state["status"])
	assert.Nil(t, state["winner"])
	assert.Equal(t, []any{}, state["history"])
	assert.NotContains(t, string(raw), "1234", "secrets never leave the room")
}
