package game

import (
	"errors"
	"fmt"
	"log/slog"
)

// Session binds one connection to an identity and at most one room. It is
// driven by a single reader goroutine and is not safe for concurrent use.
type Session struct {
	reg      *Registry
	identity Identity
	conn     Conn
	logger   *slog.Logger

	room        *Room
	role        Role
	playerIndex int
	frames      int
}

// NewSession creates a session for an authenticated connection.
func NewSession(reg *Registry, identity Identity, conn Conn, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		reg:         reg,
		identity:    identity,
		conn:        conn,
		logger:      logger.With("conn", conn.ID(), "user", identity.ID),
		playerIndex: noPlayer,
	}
}

// Room returns the joined room, if any.
func (s *Session) Room() *Room { return s.room }

// Role returns the role in the joined room.
func (s *Session) Role() Role { return s.role }

// PlayerIndex returns the seat index, or -1 when not seated.
func (s *Session) PlayerIndex() int { return s.playerIndex }

// HandleFrame decodes and dispatches one inbound frame. Rejections are sent
// to the connection as error messages. A non-nil return means the
// connection must be closed.
func (s *Session) HandleFrame(raw []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("panic while handling message", "panic", p)
			err = fmt.Errorf("%w: %v", ErrInternal, p)
		}
	}()

	first := s.frames == 0
	s.frames++

	msg, err := DecodeClientMessage(raw)
	if err != nil {
		s.reject(err)
		if first && errors.Is(err, ErrProtocol) {
			return err
		}
		return nil
	}
	if err := s.Handle(msg); err != nil {
		s.reject(err)
	}
	return nil
}

// Handle dispatches a decoded message.
func (s *Session) Handle(msg ClientMessage) error {
	switch m := msg.(type) {
	case CreateRequest:
		return s.create()
	case JoinRequest:
		return s.join(m)
	}

	if s.room == nil {
		return ErrNotInRoom
	}
	if s.role != RolePlayer {
		return ErrSpectatorForbidden
	}

	return s.room.Play(s.conn, msg)
}

func (s *Session) create() error {
	if s.room != nil {
		return ErrAlreadyInRoom
	}
	room, err := s.reg.Create(s.identity, s.conn)
	if err != nil {
		return err
	}
	s.room = room
	s.role = RolePlayer
	s.playerIndex = 0
	return nil
}

func (s *Session) join(m JoinRequest) error {
	if s.room != nil {
		return ErrAlreadyInRoom
	}
	if m.Code == "" {
		return fmt.Errorf("%w: missing room code", ErrProtocol)
	}
	room, res, err := s.reg.Join(m.Code, s.identity, s.conn, m.Spectator)
	if err != nil {
		return err
	}
	s.room = room
	s.role = res.Role
	s.playerIndex = res.PlayerIndex
	return nil
}

// Close detaches the connection from its room. Safe to call more than once.
func (s *Session) Close() {
	if s.room == nil {
		return
	}
	s.room.detach(s.conn)
	s.room = nil
	s.role = ""
	s.playerIndex = noPlayer
}

func (s *Session) reject(err error) {
	s.logger.Debug("request rejected", "error", err)
	s.conn.Send(ErrorEvent{Message: ClientError(err)})
}

var clientErrors = []error{
	ErrAuthentication,
	ErrProtocol,
	ErrUnknownMessage,
	ErrRoomNotFound,
	ErrRoomFull,
	ErrAlreadyInRoom,
	ErrNotInRoom,
	ErrSpectatorForbidden,
	ErrInvalidInput,
	ErrAlreadyLocked,
	ErrAlreadyRolled,
	ErrGameFinished,
	ErrNotStarted,
	ErrNotYourTurn,
	ErrOpponentMissing,
	ErrSecretsNotReady,
	ErrOpponentNotReady,
}

// ClientError maps err to the text sent to clients. Wrapped details stay on
// the server.
func ClientError(err error) string {
	for _, known := range clientErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return ErrInternal.Error()
}
