package game

import "errors"

// Errors reported back to a connection as an "error" message. The error text
// is what the client sees.
var (
	ErrAuthentication     = errors.New("authentication required")
	ErrProtocol           = errors.New("malformed message")
	ErrUnknownMessage     = errors.New("unknown action")
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomFull           = errors.New("room is full, join as a spectator")
	ErrAlreadyInRoom      = errors.New("already in a room")
	ErrNotInRoom          = errors.New("join a room first")
	ErrSpectatorForbidden = errors.New("spectators cannot play")
	ErrInvalidInput       = errors.New("digits must be exactly 4 numbers from 0 to 9")
	ErrAlreadyLocked      = errors.New("secret is already locked")
	ErrAlreadyRolled      = errors.New("you already rolled")
	ErrGameFinished       = errors.New("game is finished")
	ErrNotStarted         = errors.New("game has not started")
	ErrNotYourTurn        = errors.New("not your turn")
	ErrOpponentMissing    = errors.New("waiting for an opponent")
	ErrSecretsNotReady    = errors.New("both players must lock a secret first")
	ErrOpponentNotReady   = errors.New("opponent is not ready")
	ErrInternal           = errors.New("internal error")

	// ErrCodeSpaceExhausted means every room code is in use.
	ErrCodeSpaceExhausted = errors.New("room code space exhausted")
)
