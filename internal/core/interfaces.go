package core

import "github.com/dkeye/deskrelay/internal/domain"

// Event names an application-level message.
type Event string

const (
	EventRegisterHost   Event = "register_host"
	EventRegisterViewer Event = "register_viewer"
	EventScreenFrame    Event = "screen_frame"
	EventControlEvent   Event = "control_event"
	EventGetSessions    Event = "get_sessions"
	EventPing           Event = "ping"

	EventHostRegistered     Event = "host_registered"
	EventViewerRegistered   Event = "viewer_registered"
	EventViewerConnected    Event = "viewer_connected"
	EventHostDisconnected   Event = "host_disconnected"
	EventViewerDisconnected Event = "viewer_disconnected"
	EventSessionsList       Event = "sessions_list"
	EventError              Event = "error"
	EventPong               Event = "pong"
)

// Message is one outbound message addressed to a single connection.
// Fields beyond Type are set only for the events that carry them.
type Message struct {
	Type      Event
	SessionID domain.SessionID
	Text      string
	Sessions  []domain.SessionInfo
	Data      Frame
}

// IsForward reports whether the message relays a peer payload.
func (m Message) IsForward() bool {
	return m.Type == EventScreenFrame || m.Type == EventControlEvent
}

func ErrorMessage(text string) Message {
	return Message{Type: EventError, Text: text}
}
