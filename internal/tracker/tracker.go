// Package tracker aggregates callmonitor events into one authoritative
// "current call state" plus per-call attributes.
package tracker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fritzwatch/fritzwatch/internal/callmonitor"
)

// State is the aggregate call state exposed to consumers.
type State string

const (
	StateIdle    State = "idle"
	StateRinging State = "ringing"
	StateDialing State = "dialing"
	StateTalking State = "talking"
)

// Direction of a call from the gateway's point of view.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
	// DirectionUnknown marks sessions synthesized from an orphan CONNECT or
	// DISCONNECT, where the opening event was never seen.
	DirectionUnknown Direction = "unknown"
)

// Resolver resolves a phone number to a display name.
type Resolver interface {
	Resolve(number string) (string, bool)
}

// sessionState is the per-session lifecycle. Idle is not a session state:
// the absence of a session means idle.
type sessionState int

const (
	sessionRinging sessionState = iota
	sessionDialing
	sessionTalking
)

// session is the mutable aggregate for one active call id.
type session struct {
	id        int
	direction Direction
	state     sessionState

	from, to string
	with     string
	device   string

	fromName, toName, withName string

	initiated time.Time
	accepted  *time.Time
	raw       string
}

// CallAttributes describes one call (active or just closed) for display.
type CallAttributes struct {
	Type     string
	From     string
	To       string
	With     string
	Device   string
	FromName string
	ToName   string
	WithName string
	Duration int

	Initiated time.Time
	Accepted  *time.Time
	Closed    *time.Time

	// Raw is the last protocol line applied to the call.
	Raw string
}

// CompletedCall is handed to the completion callback when a session closes.
type CompletedCall struct {
	CallID    int
	Direction Direction
	From      string
	To        string
	FromName  string
	ToName    string
	Device    string
	Duration  int
	Initiated time.Time
	Accepted  *time.Time
	Closed    time.Time
}

// Snapshot is a consistent view of the tracker for consumers.
type Snapshot struct {
	State          State
	Connected      bool
	ActiveSessions int
	// Call carries the attributes of the session driving the aggregate
	// state or, when idle, of the last completed call (until superseded
	// or expired per the retention policy). Nil when there is nothing
	// to report.
	Call *CallAttributes
}

// Tracker consumes events (one at a time, in stream order) and derives the
// aggregate state. Reads take a consistent snapshot under the same lock the
// event path writes under.
type Tracker struct {
	resolver    Resolver
	logger      *slog.Logger
	retention   time.Duration // 0 keeps last-call attributes until superseded
	onCompleted func(CompletedCall)

	mu        sync.RWMutex
	sessions  map[int]*session
	last      *CallAttributes
	lastSetAt time.Time
	connected bool
}

// Option adjusts tracker behavior.
type Option func(*Tracker)

// WithRetention bounds how long a closed call's attributes linger once the
// aggregate has returned to idle. Zero keeps them until a new call starts.
func WithRetention(d time.Duration) Option {
	return func(t *Tracker) { t.retention = d }
}

// WithCompletedFunc registers a callback invoked (outside the tracker lock)
// for every session that closes.
func WithCompletedFunc(fn func(CompletedCall)) Option {
	return func(t *Tracker) { t.onCompleted = fn }
}

// New creates a tracker. resolver may be nil, in which case names stay
// unresolved — call tracking never depends on the phonebook.
func New(resolver Resolver, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		resolver: resolver,
		logger:   logger.With("subsystem", "tracker"),
		sessions: make(map[int]*session),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Apply processes one event. Events for the same call id must arrive in
// order (the stream guarantees this); events for different ids may
// interleave arbitrarily.
func (t *Tracker) Apply(ev callmonitor.Event) {
	var completed *CompletedCall

	t.mu.Lock()
	switch ev.Kind {
	case callmonitor.KindRing:
		t.startSession(ev, DirectionIncoming, sessionRinging)
	case callmonitor.KindCall:
		t.startSession(ev, DirectionOutgoing, sessionDialing)
	case callmonitor.KindConnect:
		t.connect(ev)
	case callmonitor.KindDisconnect:
		completed = t.disconnect(ev)
	}
	t.mu.Unlock()

	if completed != nil && t.onCompleted != nil {
		t.onCompleted(*completed)
	}
}

// startSession creates the session for a RING or CALL event. A lingering
// session under the same id is replaced; the id has been reused.
func (t *Tracker) startSession(ev callmonitor.Event, dir Direction, st sessionState) {
	if _, exists := t.sessions[ev.CallID]; exists {
		t.logger.Warn("replacing unfinished session", "call_id", ev.CallID)
	}

	s := &session{
		id:        ev.CallID,
		direction: dir,
		state:     st,
		from:      ev.Caller,
		to:        ev.Callee,
		device:    ev.Device,
		initiated: ev.Timestamp,
		raw:       ev.Raw,
	}
	if dir == DirectionIncoming {
		s.with = s.from
	} else {
		s.with = s.to
	}
	t.resolveNames(s)
	t.sessions[ev.CallID] = s
}

// connect marks a session as talking. A CONNECT without a prior session can
// happen after a reconnect gap; a minimal session is started defensively.
func (t *Tracker) connect(ev callmonitor.Event) {
	s, ok := t.sessions[ev.CallID]
	if !ok {
		t.logger.Warn("connect for unknown session", "call_id", ev.CallID)
		s = &session{id: ev.CallID, direction: DirectionUnknown, initiated: ev.Timestamp}
		t.sessions[ev.CallID] = s
	}

	s.state = sessionTalking
	ts := ev.Timestamp
	s.accepted = &ts
	if ev.Raw != "" {
		s.raw = ev.Raw
	}
	if ev.Peer != "" {
		s.with = ev.Peer
	}
	t.resolveNames(s)
}

// disconnect closes a session, retains its attributes as the last call and
// returns the completed record for the callback.
func (t *Tracker) disconnect(ev callmonitor.Event) *CompletedCall {
	s, ok := t.sessions[ev.CallID]
	if !ok {
		t.logger.Warn("disconnect for unknown session", "call_id", ev.CallID)
		s = &session{id: ev.CallID, direction: DirectionUnknown, initiated: ev.Timestamp}
	}
	delete(t.sessions, ev.CallID)

	if ev.Raw != "" {
		s.raw = ev.Raw
	}
	closed := ev.Timestamp
	attrs := s.attributes()
	attrs.Duration = ev.Duration
	attrs.Closed = &closed
	t.last = &attrs
	t.lastSetAt = time.Now()

	return &CompletedCall{
		CallID:    s.id,
		Direction: s.direction,
		From:      s.from,
		To:        s.to,
		FromName:  s.fromName,
		ToName:    s.toName,
		Device:    s.device,
		Duration:  ev.Duration,
		Initiated: s.initiated,
		Accepted:  s.accepted,
		Closed:    closed,
	}
}

// resolveNames asks the phonebook for all three name attributes. with_name
// is the remote party: the caller for incoming calls, the callee for
// outgoing ones.
func (t *Tracker) resolveNames(s *session) {
	if t.resolver == nil {
		return
	}
	if s.from != "" {
		if name, ok := t.resolver.Resolve(s.from); ok {
			s.fromName = name
		}
	}
	if s.to != "" {
		if name, ok := t.resolver.Resolve(s.to); ok {
			s.toName = name
		}
	}
	if s.with != "" {
		if name, ok := t.resolver.Resolve(s.with); ok {
			s.withName = name
		}
	}
}

func (s *session) attributes() CallAttributes {
	return CallAttributes{
		Type:      string(s.direction),
		From:      s.from,
		To:        s.to,
		With:      s.with,
		Device:    s.device,
		FromName:  s.fromName,
		ToName:    s.toName,
		WithName:  s.withName,
		Initiated: s.initiated,
		Accepted:  s.accepted,
		Raw:       s.raw,
	}
}

// SetConnected records stream availability. While disconnected the snapshot
// keeps its last state but is flagged unavailable.
func (t *Tracker) SetConnected(connected bool) {
	t.mu.Lock()
	t.connected = connected
	t.mu.Unlock()
}

// Connected reports stream availability.
func (t *Tracker) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// ActiveSessions returns the number of open call sessions.
func (t *Tracker) ActiveSessions() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Aggregate returns the current aggregate state: any ringing session wins,
// then dialing, then talking, otherwise idle.
func (t *Tracker) Aggregate() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, _ := t.aggregateLocked()
	return state
}

// aggregateLocked returns the aggregate state and the session driving it.
func (t *Tracker) aggregateLocked() (State, *session) {
	var ringing, dialing, talking *session
	for _, s := range t.sessions {
		switch s.state {
		case sessionRinging:
			ringing = newerSession(ringing, s)
		case sessionDialing:
			dialing = newerSession(dialing, s)
		case sessionTalking:
			talking = newerSession(talking, s)
		}
	}
	switch {
	case ringing != nil:
		return StateRinging, ringing
	case dialing != nil:
		return StateDialing, dialing
	case talking != nil:
		return StateTalking, talking
	default:
		return StateIdle, nil
	}
}

func newerSession(a, b *session) *session {
	if a == nil || b.initiated.After(a.initiated) {
		return b
	}
	return a
}

// Snapshot returns a consistent view of the aggregate state and the current
// call attributes.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state, current := t.aggregateLocked()
	snap := Snapshot{
		State:          state,
		Connected:      t.connected,
		ActiveSessions: len(t.sessions),
	}

	if current != nil {
		attrs := current.attributes()
		snap.Call = &attrs
		return snap
	}

	if t.last != nil {
		if t.retention == 0 || time.Since(t.lastSetAt) <= t.retention {
			attrs := *t.last
			snap.Call = &attrs
		}
	}
	return snap
}
