package server

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultHeartbeatInterval = 45 * time.Second
	DefaultHeartbeatMisses   = 3
)

// Pinger is a connection the monitor can ping and, when silent for too long,
// terminate.
type Pinger interface {
	ID() string
	Ping() error
	Terminate()
}

type liveness struct {
	conn   Pinger
	alive  bool
	misses int
}

// ConnectivityMonitor pings every tracked connection on a fixed interval and
// terminates those that stop answering.
type ConnectivityMonitor struct {
	mu        sync.Mutex
	conns     map[string]*liveness
	interval  time.Duration
	maxMisses int
	logger    *slog.Logger
}

// NewConnectivityMonitor creates a monitor. Zero values get defaults.
func NewConnectivityMonitor(interval time.Duration, maxMisses int, logger *slog.Logger) *ConnectivityMonitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if maxMisses < 1 {
		maxMisses = DefaultHeartbeatMisses
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectivityMonitor{
		conns:     make(map[string]*liveness),
		interval:  interval,
		maxMisses: maxMisses,
		logger:    logger.With("component", "connectivity_monitor"),
	}
}

// Start ticks until ctx is cancelled. It blocks; start it in a goroutine.
func (m *ConnectivityMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("connectivity monitor started", "interval", m.interval, "maxMisses", m.maxMisses)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("connectivity monitor stopped")
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Track starts watching p. New connections count as alive.
func (m *ConnectivityMonitor) Track(p Pinger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[p.ID()] = &liveness{conn: p, alive: true}
}

// Untrack stops watching the connection with id.
func (m *ConnectivityMonitor) Untrack(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, id)
}

// Seen records a pong or any inbound message from id.
func (m *ConnectivityMonitor) Seen(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.conns[id]; ok {
		l.alive = true
		l.misses = 0
	}
}

// Len returns the number of tracked connections.
func (m *ConnectivityMonitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Sweep runs one heartbeat round and returns how many connections were
// terminated. A connection that has not answered the last ping is not pinged
// again until it is seen.
func (m *ConnectivityMonitor) Sweep() int {
	var ping, dead []Pinger

	m.mu.Lock()
	for id, l := range m.conns {
		if l.alive {
			l.alive = false
			ping = append(ping, l.conn)
			continue
		}
		l.misses++
		if l.misses >= m.maxMisses {
			delete(m.conns, id)
			dead = append(dead, l.conn)
		}
	}
	m.mu.Unlock()

	for _, p := range dead {
		m.logger.Info("terminating unresponsive connection", "conn", p.ID())
		p.Terminate()
	}
	for _, p := range ping {
		if err := p.Ping(); err != nil {
			m.logger.Debug("ping failed", "conn", p.ID(), "error", err)
		}
	}
	return len(dead)
}
