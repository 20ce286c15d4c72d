package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"numbergame/internal/game"
)

// Publisher is the part of *nats.Conn the match publisher needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher announces finished matches on a subject. It is an
// additional MatchRecorder next to the sqlite store.
type NATSPublisher struct {
	pub     Publisher
	subject string
}

// NewNATSPublisher wraps an open connection.
func NewNATSPublisher(pub Publisher, subject string) *NATSPublisher {
	return &NATSPublisher{pub: pub, subject: subject}
}

// RecordMatch implements game.MatchRecorder.
func (p *NATSPublisher) RecordMatch(ctx context.Context, rec game.MatchRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode match: %w", err)
	}
	if err := p.pub.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish match %s: %w", rec.RoomCode, err)
	}
	return nil
}

// DialNATS connects with reconnect handling that logs through logger.
func DialNATS(url string, logger *slog.Logger) (*nats.Conn, error) {
	logger = logger.With("component", "nats")
	opts := []nats.Option{
		nats.Name("numbergame"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("disconnected from nats", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to nats", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("nats connection closed")
		}),
		nats.Timeout(10 * time.Second),
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}
