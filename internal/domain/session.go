// Package domain contains entities without logic, just meta-data
package domain

import (
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const MaxSessionIDLen = 128

var ErrSessionIDTooLong = errors.New("session id too long")

type (
	SessionID string
	// ConnID identifies one live transport connection. Meaningless after disconnect.
	ConnID string
)

// Session pairs at most one host and one viewer.
// An empty ConnID means the slot is vacant.
type Session struct {
	ID        SessionID
	Host      ConnID
	Viewer    ConnID
	CreatedAt time.Time
	// Seq orders sessions by creation; viewer discovery scans oldest first.
	Seq uint64
}

func (s *Session) HasHost() bool   { return s.Host != "" }
func (s *Session) HasViewer() bool { return s.Viewer != "" }

// Available reports whether a viewer may attach.
func (s *Session) Available() bool { return s.HasHost() && !s.HasViewer() }

func (s *Session) Info() SessionInfo {
	return SessionInfo{SessionID: s.ID, HasHost: s.HasHost(), HasViewer: s.HasViewer()}
}

// SessionInfo is a read-only view for listings.
type SessionInfo struct {
	SessionID SessionID `json:"session_id"`
	HasHost   bool      `json:"has_host"`
	HasViewer bool      `json:"has_viewer"`
}

// NewSessionID returns a random 128-bit identifier rendered as 32 hex chars.
func NewSessionID() SessionID {
	u := uuid.New()
	return SessionID(hex.EncodeToString(u[:]))
}

// ParseSessionID normalizes a caller supplied id. Empty input yields an empty id.
func ParseSessionID(raw string) (SessionID, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) > MaxSessionIDLen {
		return "", ErrSessionIDTooLong
	}
	return SessionID(raw), nil
}
