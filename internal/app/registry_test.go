package app

import (
	"sync"
	"testing"
	"time"

	"github.com/dkeye/deskrelay/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConn struct {
	mu     sync.Mutex
	got    []core.Message
	closed bool
	err    error
}

func (s *stubConn) Deliver(msg core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, msg)
	return nil
}

func (s *stubConn) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func TestRegistrySend(t *testing.T) {
	r := NewRegistry()
	conn := &stubConn{}
	r.Bind("c1", "client", conn, nil)
	assert.Equal(t, 1, r.Count())

	require.NoError(t, r.Send("c1", core.Message{Type: core.EventPong}))
	assert.Equal(t, []core.Message{{Type: core.EventPong}}, conn.got)

	assert.ErrorIs(t, r.Send("c2", core.Message{Type: core.EventPong}), ErrUnknownConn)

	conn.err = core.ErrBackpressure
	assert.ErrorIs(t, r.Send("c1", core.Message{Type: core.EventPong}), core.ErrBackpressure)

	r.Unbind("c1")
	assert.Equal(t, 0, r.Count())
	_, ok := r.Get("c1")
	assert.False(t, ok)
}

func TestRegistryKick(t *testing.T) {
	r := NewRegistry()
	conn := &stubConn{}
	canceled := false
	r.Bind("c1", "", conn, func() { canceled = true })

	r.Kick("c1")
	assert.True(t, canceled)
	assert.True(t, conn.closed)

	// Unknown ids are ignored.
	r.Kick("missing")
}

func TestRegistryConnections(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.Connections())

	before := time.Now()
	r.Bind("c1", "token-a", &stubConn{}, nil)
	r.Bind("c2", "", &stubConn{}, nil)

	conns := r.Connections()
	require.Len(t, conns, 2)
	byID := map[string]ConnInfo{}
	for _, c := range conns {
		byID[string(c.ConnID)] = c
		assert.False(t, c.ConnectedAt.Before(before))
	}
	assert.Equal(t, "token-a", byID["c1"].Client)
	assert.Empty(t, byID["c2"].Client)
	assert.False(t, conns[1].ConnectedAt.Before(conns[0].ConnectedAt))

	r.Unbind("c1")
	conns = r.Connections()
	require.Len(t, conns, 1)
	assert.Equal(t, "c2", string(conns[0].ConnID))
}
