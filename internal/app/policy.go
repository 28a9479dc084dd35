package app

import (
	"fmt"

	"github.com/dkeye/deskrelay/internal/core"
	"github.com/dkeye/deskrelay/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens when a connection's send queue is full.
type Policy interface {
	OnBackPressure(to domain.ConnID, msg core.Message) BackpressureAction
}

// DropPolicy discards whatever did not fit. Relayed streams are best-effort.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(domain.ConnID, core.Message) BackpressureAction {
	return DropFrame
}

// KickPolicy disconnects members that cannot keep up with relayed payloads.
// Control replies that do not fit are dropped.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(_ domain.ConnID, msg core.Message) BackpressureAction {
	if msg.IsForward() {
		return KickMember
	}
	return DropFrame
}

func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "drop":
		return DropPolicy{}, nil
	case "kick":
		return KickPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown backpressure policy %q", name)
	}
}
