package signal

import (
	"bytes"
	"encoding/json"

	"github.com/dkeye/deskrelay/internal/core"
	"github.com/dkeye/deskrelay/internal/domain"
)

// envelope is every inbound message. Data stays raw; the relay never looks inside.
type envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Type      core.Event       `json:"type"`
	SessionID domain.SessionID `json:"session_id,omitempty"`
	Message   string           `json:"message,omitempty"`
}

type sessionsList struct {
	Type     core.Event           `json:"type"`
	Sessions []domain.SessionInfo `json:"sessions"`
}

var dataKey = []byte(`,"data":`)

// encodeMessage renders msg for the wire. A relayed payload is appended as-is
// after the header fields, never re-encoded.
func encodeMessage(msg core.Message) ([]byte, error) {
	var v any = outbound{Type: msg.Type, SessionID: msg.SessionID, Message: msg.Text}
	if msg.Type == core.EventSessionsList {
		sessions := msg.Sessions
		if sessions == nil {
			sessions = []domain.SessionInfo{}
		}
		v = sessionsList{Type: msg.Type, Sessions: sessions}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	head := bytes.TrimRight(buf.Bytes(), "\n")
	if len(msg.Data) == 0 {
		return head, nil
	}

	out := make([]byte, 0, len(head)+len(dataKey)+len(msg.Data))
	out = append(out, head[:len(head)-1]...)
	out = append(out, dataKey...)
	out = append(out, msg.Data...)
	return append(out, '}'), nil
}
