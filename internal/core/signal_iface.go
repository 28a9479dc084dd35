package core

import (
	"errors"

	"github.com/dkeye/deskrelay/internal/domain"
)

// Frame is an opaque payload relayed between the members of a session.
type Frame []byte

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// SignalConnection abstracts one transport endpoint.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// Deliver queues msg without blocking. A full queue yields ErrBackpressure.
	Deliver(msg Message) error
	Close()
}

// Transport addresses live connections by id.
// The broker calls it with its lock held: Send must not block and neither
// method may call back into the broker.
type Transport interface {
	Send(to domain.ConnID, msg Message) error
	// Kick forcibly closes a connection; its disconnect runs the usual cleanup.
	Kick(conn domain.ConnID)
}
