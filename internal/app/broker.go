package app

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/deskrelay/internal/core"
	"github.com/dkeye/deskrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	msgHostRegistered   = "Host registered successfully"
	msgViewerRegistered = "Viewer connected successfully"
	msgNoHosts          = "No available hosts to connect to"
	msgTakenOver        = "session taken over by another host"
)

// Stats is a point-in-time count of broker state.
type Stats struct {
	Sessions int `json:"active_sessions"`
	Hosts    int `json:"hosts"`
	Viewers  int `json:"viewers"`
}

type delivery struct {
	to  domain.ConnID
	msg core.Message
}

// outbox collects the messages of one operation in the order its state
// changes happened.
type outbox []delivery

func (o *outbox) add(to domain.ConnID, msg core.Message) {
	*o = append(*o, delivery{to: to, msg: msg})
}

// Broker pairs hosts with viewers and relays payloads between them.
//
// sessions, hostOf and viewerOf are guarded by mu and always agree:
// hostOf[c] == s.ID iff sessions[s.ID].Host == c, and likewise for viewers.
// A connection holds at most one role.
//
// Messages are handed to the transport while mu is held, so each peer sees
// notifications in the order the state changed. Transport.Send must not block
// and the transport must never call back into the Broker.
type Broker struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]*domain.Session
	hostOf   map[domain.ConnID]domain.SessionID
	viewerOf map[domain.ConnID]domain.SessionID
	seq      uint64

	transport core.Transport
	policy    Policy
	metrics   *Metrics
	now       func() time.Time
	newID     func() domain.SessionID
}

// Option is used to change broker settings.
type Option func(b *Broker) error

func WithPolicy(p Policy) Option {
	return func(b *Broker) error {
		if p == nil {
			return errors.New("policy cannot be nil")
		}
		b.policy = p
		return nil
	}
}

func WithMetrics(m *Metrics) Option {
	return func(b *Broker) error {
		b.metrics = m
		return nil
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Broker) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		b.now = now
		return nil
	}
}

// WithSessionIDGenerator replaces the generator used when a host registers
// without a session id.
func WithSessionIDGenerator(gen func() domain.SessionID) Option {
	return func(b *Broker) error {
		if gen == nil {
			return errors.New("session id generator cannot be nil")
		}
		b.newID = gen
		return nil
	}
}

func NewBroker(transport core.Transport, options ...Option) (*Broker, error) {
	if transport == nil {
		return nil, errors.New("transport cannot be nil")
	}
	b := &Broker{
		sessions:  make(map[domain.SessionID]*domain.Session),
		hostOf:    make(map[domain.ConnID]domain.SessionID),
		viewerOf:  make(map[domain.ConnID]domain.SessionID),
		transport: transport,
		policy:    DropPolicy{},
		now:       time.Now,
		newID:     domain.NewSessionID,
	}
	for _, option := range options {
		if err := option(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Broker) OnConnect(conn domain.ConnID) {
	b.metrics.ConnectionEvent("connect")
	log.Info().Str("module", "app.broker").Str("conn", string(conn)).Msg("client connected")
}

// OnDisconnect releases whatever role conn held. Unknown connections are a no-op.
func (b *Broker) OnDisconnect(conn domain.ConnID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out outbox
	b.releaseLocked(conn, &out)
	b.commitLocked(out)

	b.metrics.ConnectionEvent("disconnect")
	log.Info().Str("module", "app.broker").Str("conn", string(conn)).Msg("client disconnected")
}

// releaseLocked drops conn from both role indices. A departing host takes its
// session with it and orphans the viewer; a departing viewer frees the slot.
func (b *Broker) releaseLocked(conn domain.ConnID, out *outbox) {
	if sid, ok := b.hostOf[conn]; ok {
		delete(b.hostOf, conn)
		if s, ok := b.sessions[sid]; ok && s.Host == conn {
			if s.HasViewer() {
				out.add(s.Viewer, core.Message{Type: core.EventHostDisconnected})
				delete(b.viewerOf, s.Viewer)
			}
			delete(b.sessions, sid)
			log.Info().Str("module", "app.broker").Str("conn", string(conn)).Str("session_id", string(sid)).Msg("host left, session closed")
		}
	}
	if sid, ok := b.viewerOf[conn]; ok {
		delete(b.viewerOf, conn)
		if s, ok := b.sessions[sid]; ok && s.Viewer == conn {
			s.Viewer = ""
			if s.HasHost() {
				out.add(s.Host, core.Message{Type: core.EventViewerDisconnected})
			}
			log.Info().Str("module", "app.broker").Str("conn", string(conn)).Str("session_id", string(sid)).Msg("viewer left")
		}
	}
}

// RegisterHost binds conn as the host of requested, or of a freshly generated
// session when requested is empty. It always succeeds.
func (b *Broker) RegisterHost(conn domain.ConnID, requested domain.SessionID) domain.SessionID {
	sid := requested
	if sid == "" {
		sid = b.newID()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var out outbox
	if cur, ok := b.hostOf[conn]; !ok || cur != sid {
		b.releaseLocked(conn, &out)
	}

	s, ok := b.sessions[sid]
	if !ok {
		b.seq++
		s = &domain.Session{ID: sid, CreatedAt: b.now(), Seq: b.seq}
		b.sessions[sid] = s
	} else if s.HasHost() && s.Host != conn {
		stale := s.Host
		delete(b.hostOf, stale)
		out.add(stale, core.ErrorMessage(msgTakenOver))
		log.Warn().Str("module", "app.broker").Str("conn", string(conn)).Str("stale", string(stale)).Str("session_id", string(sid)).Msg("host reclaimed session")
	}
	s.Host = conn
	b.hostOf[conn] = sid

	out.add(conn, core.Message{Type: core.EventHostRegistered, SessionID: sid, Text: msgHostRegistered})
	if s.HasViewer() {
		out.add(conn, core.Message{Type: core.EventViewerConnected})
	}
	b.commitLocked(out)

	b.metrics.Registration("host", "ok")
	log.Info().Str("module", "app.broker").Str("conn", string(conn)).Str("session_id", string(sid)).Msg("host registered")
	return sid
}

// RegisterViewer attaches conn to requested when it is available, otherwise to
// the oldest session that has a host and no viewer. It reports false and
// leaves state untouched when nothing is available.
func (b *Broker) RegisterViewer(conn domain.ConnID, requested domain.SessionID) (domain.SessionID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out outbox
	if cur, ok := b.viewerOf[conn]; ok && (requested == "" || requested == cur) {
		// Already paired; acknowledge again without moving.
		out.add(conn, core.Message{Type: core.EventViewerRegistered, SessionID: cur, Text: msgViewerRegistered})
		b.commitLocked(out)
		return cur, true
	}

	s := b.pickLocked(conn, requested)
	if s == nil {
		out.add(conn, core.ErrorMessage(msgNoHosts))
		b.commitLocked(out)

		b.metrics.Registration("viewer", "unavailable")
		log.Info().Str("module", "app.broker").Str("conn", string(conn)).Str("requested", string(requested)).Msg("no available hosts")
		return "", false
	}

	b.releaseLocked(conn, &out)
	s.Viewer = conn
	b.viewerOf[conn] = s.ID

	out.add(conn, core.Message{Type: core.EventViewerRegistered, SessionID: s.ID, Text: msgViewerRegistered})
	if s.HasHost() {
		out.add(s.Host, core.Message{Type: core.EventViewerConnected})
	}
	b.commitLocked(out)

	b.metrics.Registration("viewer", "ok")
	log.Info().Str("module", "app.broker").Str("conn", string(conn)).Str("session_id", string(s.ID)).Msg("viewer registered")
	return s.ID, true
}

// pickLocked honors an explicit request when it is usable and falls back to
// scanning sessions in creation order. A host is never paired with itself.
func (b *Broker) pickLocked(conn domain.ConnID, requested domain.SessionID) *domain.Session {
	if requested != "" {
		if s, ok := b.sessions[requested]; ok && s.Available() && s.Host != conn {
			return s
		}
		log.Debug().Str("module", "app.broker").Str("conn", string(conn)).Str("requested", string(requested)).Msg("requested session unavailable, falling back")
	}
	var best *domain.Session
	for _, s := range b.sessions {
		if !s.Available() || s.Host == conn {
			continue
		}
		if best == nil || s.Seq < best.Seq {
			best = s
		}
	}
	return best
}

// ForwardFrame relays a screen frame from a host to its viewer.
// Frames from anything else, or with no viewer bound, are dropped.
func (b *Broker) ForwardFrame(conn domain.ConnID, payload core.Frame) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	var to domain.ConnID
	if sid, ok := b.hostOf[conn]; ok {
		if s, ok := b.sessions[sid]; ok {
			to = s.Viewer
		}
	}
	return b.relayLocked(conn, to, core.Message{Type: core.EventScreenFrame, Data: payload})
}

// ForwardControlEvent relays an input event from a viewer to its host.
func (b *Broker) ForwardControlEvent(conn domain.ConnID, payload core.Frame) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	var to domain.ConnID
	if sid, ok := b.viewerOf[conn]; ok {
		if s, ok := b.sessions[sid]; ok {
			to = s.Host
		}
	}
	return b.relayLocked(conn, to, core.Message{Type: core.EventControlEvent, Data: payload})
}

func (b *Broker) relayLocked(from, to domain.ConnID, msg core.Message) bool {
	kind := string(msg.Type)
	if to == "" {
		b.metrics.Dropped(kind, "no_peer")
		log.Debug().Str("module", "app.broker").Str("conn", string(from)).Str("kind", kind).Msg("no peer, dropped")
		return false
	}
	if !b.deliverLocked(to, msg) {
		return false
	}
	b.metrics.Forwarded(kind)
	return true
}

// ListSessions returns every live session in creation order.
func (b *Broker) ListSessions() []domain.SessionInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listLocked()
}

func (b *Broker) listLocked() []domain.SessionInfo {
	all := make([]*domain.Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		all = append(all, s)
	}
	slices.SortFunc(all, func(a, c *domain.Session) int {
		switch {
		case a.Seq < c.Seq:
			return -1
		case a.Seq > c.Seq:
			return 1
		}
		return 0
	})
	out := make([]domain.SessionInfo, 0, len(all))
	for _, s := range all {
		out = append(out, s.Info())
	}
	return out
}

// SendSessionList answers a get_sessions request on conn.
func (b *Broker) SendSessionList(conn domain.ConnID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliverLocked(conn, core.Message{Type: core.EventSessionsList, Sessions: b.listLocked()})
}

func (b *Broker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statsLocked()
}

func (b *Broker) statsLocked() Stats {
	return Stats{
		Sessions: len(b.sessions),
		Hosts:    len(b.hostOf),
		Viewers:  len(b.viewerOf),
	}
}

// commitLocked hands the operation's messages to the transport and publishes
// the resulting gauges before mu is released.
func (b *Broker) commitLocked(out outbox) {
	for _, d := range out {
		b.deliverLocked(d.to, d.msg)
	}
	b.metrics.ObserveStats(b.statsLocked())
}

func (b *Broker) deliverLocked(to domain.ConnID, msg core.Message) bool {
	err := b.transport.Send(to, msg)
	if err == nil {
		return true
	}
	kind := string(msg.Type)
	if !errors.Is(err, core.ErrBackpressure) {
		b.metrics.Dropped(kind, "closed")
		log.Debug().Err(err).Str("module", "app.broker").Str("conn", string(to)).Str("kind", kind).Msg("send failed")
		return false
	}
	b.metrics.Dropped(kind, "backpressure")
	switch b.policy.OnBackPressure(to, msg) {
	case KickMember:
		log.Warn().Str("module", "app.broker").Str("conn", string(to)).Str("kind", kind).Msg("slow consumer, kicking")
		b.transport.Kick(to)
	case DropFrame, NoAction:
	}
	return false
}
