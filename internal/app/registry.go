package app

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/deskrelay/internal/core"
	"github.com/dkeye/deskrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrUnknownConn = errors.New("unknown connection")

type connEntry struct {
	Conn        core.SignalConnection
	Client      string
	ConnectedAt time.Time
	Cancel      context.CancelFunc
}

// ConnInfo describes one live connection.
type ConnInfo struct {
	ConnID      domain.ConnID `json:"conn_id"`
	Client      string        `json:"client,omitempty"`
	ConnectedAt time.Time     `json:"connected_at"`
}

// Registry tracks live transport connections and implements core.Transport.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*connEntry
}

var _ core.Transport = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.ConnID]*connEntry),
	}
}

func (r *Registry) Bind(id domain.ConnID, client string, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &connEntry{
		Conn:        conn,
		Client:      client,
		ConnectedAt: time.Now(),
		Cancel:      cancel,
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("client", client).Msg("bound connection")
}

func (r *Registry) Unbind(id domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("unbind connection")
}

func (r *Registry) Get(id domain.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.Conn, true
	}
	return nil, false
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Connections lists live connections, oldest first.
func (r *Registry) Connections() []ConnInfo {
	r.mu.RLock()
	out := make([]ConnInfo, 0, len(r.conns))
	for id, e := range r.conns {
		out = append(out, ConnInfo{ConnID: id, Client: e.Client, ConnectedAt: e.ConnectedAt})
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b ConnInfo) int {
		if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ConnID, b.ConnID)
	})
	return out
}

// Send hands msg to the connection's queue. It never blocks.
func (r *Registry) Send(to domain.ConnID, msg core.Message) error {
	conn, ok := r.Get(to)
	if !ok {
		return ErrUnknownConn
	}
	return conn.Deliver(msg)
}

func (r *Registry) Kick(id domain.ConnID) {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	e.Conn.Close()
	log.Warn().Str("module", "app.registry").Str("conn", string(id)).Msg("kicked connection")
}
