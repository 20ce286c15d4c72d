package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"numbergame/internal/game"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4 << 10
	sendBuffer     = 64
)

var errRateLimited = errors.New("too many messages, slow down")

// wsConn adapts a websocket to game.Conn. Outbound frames go through a
// buffered queue drained by writePump, so Send never blocks a room.
type wsConn struct {
	id      string
	socket  *websocket.Conn
	logger  *slog.Logger
	limiter *rate.Limiter

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	reason    string
	abrupt    bool
}

func newWSConn(socket *websocket.Conn, limiter *rate.Limiter, logger *slog.Logger) *wsConn {
	id := uuid.NewString()
	return &wsConn{
		id:      id,
		socket:  socket,
		logger:  logger.With("conn", id),
		limiter: limiter,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send queues m. A peer that cannot keep up is disconnected.
func (c *wsConn) Send(m game.Message) {
	payload, err := game.EncodeMessage(m)
	if err != nil {
		c.logger.Error("encode message", "error", err)
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- payload:
	default:
		c.logger.Warn("send buffer full, closing")
		c.Close("send buffer full")
	}
}

// Close sends a close frame after the queued messages and hangs up.
func (c *wsConn) Close(reason string) {
	c.shutdown(reason, false)
}

// Terminate hangs up without a close handshake.
func (c *wsConn) Terminate() {
	c.shutdown("", true)
	_ = c.socket.Close()
}

// Ping sends a heartbeat ping. Safe to call from any goroutine.
func (c *wsConn) Ping() error {
	return c.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *wsConn) shutdown(reason string, abrupt bool) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.abrupt = abrupt
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *wsConn) writePump() {
	defer c.socket.Close()
	for {
		select {
		case payload := <-c.send:
			if err := c.write(payload); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.shutdown("", true)
				return
			}
		case <-c.done:
			c.mu.Lock()
			reason, abrupt := c.reason, c.abrupt
			c.mu.Unlock()
			if abrupt {
				return
			}
			c.flush()
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.socket.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
			return
		}
	}
}

// flush writes whatever is still queued, so an error sent right before a
// close reaches the peer.
func (c *wsConn) flush() {
	for {
		select {
		case payload := <-c.send:
			if err := c.write(payload); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) write(payload []byte) error {
	_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
	return c.socket.WriteMessage(websocket.TextMessage, payload)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	identity, err := s.auth.Authenticate(r)
	if err != nil {
		s.logger.Info("websocket refused", "remote", r.RemoteAddr, "error", err)
		writeError(w, http.StatusUnauthorized, game.ErrAuthentication.Error())
		return
	}

	socket, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	limiter := rate.NewLimiter(rate.Limit(s.cfg.MessageRate), s.cfg.MessageBurst)
	conn := newWSConn(socket, limiter, s.logger)
	go conn.writePump()
	s.serveConn(conn, identity)
}

// serveConn is the read pump. It owns the session and returns once the
// socket is gone.
func (s *Server) serveConn(c *wsConn, identity game.Identity) {
	session := game.NewSession(s.registry, identity, c, s.logger)
	s.monitor.Track(c)
	c.logger.Info("websocket connected", "user", identity.ID)

	defer func() {
		s.monitor.Untrack(c.ID())
		session.Close()
		c.Close("")
		c.logger.Info("websocket disconnected", "user", identity.ID)
	}()

	c.socket.SetReadLimit(maxMessageSize)
	c.socket.SetPongHandler(func(string) error {
		s.monitor.Seen(c.ID())
		return nil
	})

	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read", "error", err)
			}
			return
		}
		s.monitor.Seen(c.ID())

		if !c.limiter.Allow() {
			c.Send(game.ErrorEvent{Message: errRateLimited.Error()})
			continue
		}
		if err := session.HandleFrame(data); err != nil {
			c.logger.Info("closing connection", "error", err)
			c.Close(game.ClientError(err))
			return
		}
	}
}
