package game

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Client message types.
const (
	TypeCreate    = "create"
	TypeJoin      = "join"
	TypeSetSecret = "set_secret"
	TypeRollDice  = "roll_dice"
	TypeGuess     = "guess"
	TypeReset     = "reset"
)

// Server message types.
const (
	TypeJoined = "joined"
	TypeState  = "state"
	TypeLog    = "log"
	TypeError  = "error"
)

// ClientMessage is one of CreateRequest, JoinRequest, SetSecretRequest,
// RollDiceRequest, GuessRequest or ResetRequest.
type ClientMessage interface {
	clientMessage()
}

type CreateRequest struct{}

type JoinRequest struct {
	Code      string
	Spectator bool
}

type SetSecretRequest struct {
	Digits []int
}

type RollDiceRequest struct{}

type GuessRequest struct {
	Digits []int
}

type ResetRequest struct{}

func (CreateRequest) clientMessage()    {}
func (JoinRequest) clientMessage()      {}
func (SetSecretRequest) clientMessage() {}
func (RollDiceRequest) clientMessage()  {}
func (GuessRequest) clientMessage()     {}
func (ResetRequest) clientMessage()     {}

type clientEnvelope struct {
	Type      string          `json:"type"`
	Code      any             `json:"code"`
	Spectator any             `json:"spectator"`
	Digits    json.RawMessage `json:"digits"`
}

// DecodeClientMessage parses one inbound frame. A body that is not a JSON
// object wraps ErrProtocol; an unrecognised type returns ErrUnknownMessage.
func DecodeClientMessage(raw []byte) (ClientMessage, error) {
	if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		return nil, fmt.Errorf("%w: expected an object", ErrProtocol)
	}
	var env clientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	switch env.Type {
	case TypeCreate:
		return CreateRequest{}, nil
	case TypeJoin:
		return JoinRequest{Code: normalizeCode(env.Code), Spectator: truthy(env.Spectator)}, nil
	case TypeSetSecret:
		return SetSecretRequest{Digits: parseDigits(env.Digits)}, nil
	case TypeRollDice:
		return RollDiceRequest{}, nil
	case TypeGuess:
		return GuessRequest{Digits: parseDigits(env.Digits)}, nil
	case TypeReset:
		return ResetRequest{}, nil
	default:
		return nil, ErrUnknownMessage
	}
}

func normalizeCode(v any) string {
	switch c := v.(type) {
	case string:
		return strings.ToUpper(strings.TrimSpace(c))
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	default:
		return ""
	}
}

func truthy(v any) bool {
	switch s := v.(type) {
	case bool:
		return s
	case string:
		return s != ""
	case float64:
		return s != 0
	default:
		return false
	}
}

// parseDigits accepts an array of numbers or numeric strings. Items that are
// neither become -1 so that validation rejects them; a non-array yields nil.
func parseDigits(field json.RawMessage) []int {
	var raw []json.RawMessage
	if err := json.Unmarshal(field, &raw); err != nil || raw == nil {
		return nil
	}
	digits := make([]int, len(raw))
	for i, item := range raw {
		digits[i] = -1
		if bytes.Equal(bytes.TrimSpace(item), []byte("null")) {
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			if n == math.Trunc(n) {
				digits[i] = int(n)
			}
			continue
		}
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
				digits[i] = v
			}
		}
	}
	return digits
}

// Message is one of Joined, StateUpdate, LogEvent or ErrorEvent.
type Message interface {
	messageType() string
}

type Joined struct {
	Code        string `json:"code"`
	PlayerIndex *int   `json:"playerIndex"`
	Role        Role   `json:"role"`
}

type StateUpdate struct {
	State RoomState `json:"state"`
}

type LogEvent struct {
	Message string `json:"message"`
	At      int64  `json:"at"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

func (Joined) messageType() string      { return TypeJoined }
func (StateUpdate) messageType() string { return TypeState }
func (LogEvent) messageType() string    { return TypeLog }
func (ErrorEvent) messageType() string  { return TypeError }

// EncodeMessage renders a server message with its "type" tag.
func EncodeMessage(m Message) ([]byte, error) {
	switch msg := m.(type) {
	case Joined:
		return json.Marshal(struct {
			Type string `json:"type"`
			Joined
		}{TypeJoined, msg})
	case StateUpdate:
		return json.Marshal(struct {
			Type string `json:"type"`
			StateUpdate
		}{TypeState, msg})
	case LogEvent:
		return json.Marshal(struct {
			Type string `json:"type"`
			LogEvent
		}{TypeLog, msg})
	case ErrorEvent:
		return json.Marshal(struct {
			Type string `json:"type"`
			ErrorEvent
		}{TypeError, msg})
	default:
		return nil, fmt.Errorf("encode message: unsupported %T", m)
	}
}
