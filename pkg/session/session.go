// Package session implements per-client session state and the bounded
// admission table that tracks active sessions (spec §4.11, and the
// admission bound supplementing it per-process resource limits).
package session

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcpfed/gateway/pkg/authz"
	"github.com/mcpfed/gateway/pkg/protocol"
)

// Notification is one server-originated message queued for delivery to a
// client (elicitation, sampling, roots, progress; spec §4.11).
type Notification struct {
	Backend string
	Frame   *protocol.Frame
}

const notificationBufferSize = 64

// Session is one inbound connection's state: client info, negotiated
// protocol version, bound routing profile, tool-usage history, and a
// notification sink (spec §4.11).
type Session struct {
	ID                string
	ClientName         string
	ProtocolVersion    string
	Identity          authz.Identity
	Cert              *authz.CertIdentity
	RequireClientCert bool

	mu      sync.Mutex
	profile *authz.RoutingProfile
	usage   map[string]time.Time // global tool name -> last-used instant, for recency ranking

	notifications chan Notification
	closed        bool
}

// New constructs a Session bound to identity, negotiating protocolVersion
// from the client's preference.
func New(identity authz.Identity, clientName, clientPreferredVersion string) *Session {
	return &Session{
		ID:              "sess-" + uuid.NewString(),
		ClientName:      clientName,
		ProtocolVersion: protocol.NegotiateVersion(clientPreferredVersion),
		Identity:        identity,
		usage:           make(map[string]time.Time),
		notifications:   make(chan Notification, notificationBufferSize),
	}
}

// Profile returns the session's currently bound routing profile, or nil.
func (s *Session) Profile() *authz.RoutingProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// SetProfile binds or clears the session's routing profile (spec §4.9
// set_profile). A session binds exactly one profile at a time (spec §3).
func (s *Session) SetProfile(p *authz.RoutingProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = p
}

// RecordToolUse notes that globalName was just invoked, for recency-based
// search ranking (spec §4.9, §4.11).
func (s *Session) RecordToolUse(globalName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[globalName] = time.Now()
}

// recencyHalfLife controls how quickly the recency bonus decays: the bonus
// halves every minute, so a tool used just now scores 1, one used a minute
// ago 0.5, and one used an hour ago effectively 0.
const recencyHalfLife = time.Minute

// RecencyBonus returns a [0,1]-ish ranking boost for globalName based on how
// recently this session used it (spec §4.9 "per-session recency").
func (s *Session) RecencyBonus(globalName string) float64 {
	s.mu.Lock()
	last, ok := s.usage[globalName]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	elapsed := time.Since(last)
	if elapsed <= 0 {
		return 1
	}
	halvings := float64(elapsed) / float64(recencyHalfLife)
	return math.Exp2(-halvings)
}

// Notifications returns the channel server-originated notifications are
// published to for delivery over this session's transport (spec §4.11,
// §4.12 "notification multiplexer").
func (s *Session) Notifications() <-chan Notification {
	return s.notifications
}

// Publish enqueues a notification for this session, implementing the
// transport.NotificationSink interface expected by pkg/transport's HTTP/SSE
// backend. A full buffer drops the oldest notification rather than
// blocking the backend's read pump (spec §9 "slow clients cause
// backpressure ... rather than unbounded memory growth").
func (s *Session) Publish(backend string, frame *protocol.Frame) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	n := Notification{Backend: backend, Frame: frame}
	select {
	case s.notifications <- n:
	default:
		select {
		case <-s.notifications:
		default:
		}
		select {
		case s.notifications <- n:
		default:
		}
	}
}

// Close releases the session's resources (spec §4.11 "session end releases
// these resources").
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.notifications)
}

// Table is a bounded registry of active sessions, keyed by ID, so the
// gateway can enforce a maximum concurrent-session count and look a
// session up by ID for admin operations (e.g. a future per-session
// disconnect tool). Bounded admission supplements spec §4.11, which
// specifies per-session state but not a process-wide cap.
type Table struct {
	mu       sync.Mutex
	sessions map[string]*Session
	max      int
}

// ErrTableFull is returned by Admit when the table is at capacity.
type ErrTableFull struct{ Max int }

func (e ErrTableFull) Error() string {
	return "session table full"
}

// NewTable constructs a Table admitting at most max concurrent sessions.
// max <= 0 means unbounded.
func NewTable(max int) *Table {
	return &Table{sessions: make(map[string]*Session), max: max}
}

// Admit registers sess, returning ErrTableFull if the table is at capacity.
func (t *Table) Admit(sess *Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.max > 0 && len(t.sessions) >= t.max {
		return ErrTableFull{Max: t.max}
	}
	t.sessions[sess.ID] = sess
	return nil
}

// Remove unregisters and closes the session with the given ID, if present.
func (t *Table) Remove(id string) {
	t.mu.Lock()
	sess, ok := t.sessions[id]
	if ok {
		delete(t.sessions, id)
	}
	t.mu.Unlock()
	if ok {
		sess.Close()
	}
}

// Get looks up a session by ID.
func (t *Table) Get(id string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	return s, ok
}

// Len reports the current number of admitted sessions.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Broadcast publishes a notification to every currently admitted session
// whose identity matches filter (filter may be nil to mean "all").
func (t *Table) Broadcast(_ context.Context, backend string, frame *protocol.Frame, filter func(*Session) bool) {
	t.mu.Lock()
	targets := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		if filter == nil || filter(s) {
			targets = append(targets, s)
		}
	}
	t.mu.Unlock()
	for _, s := range targets {
		s.Publish(backend, frame)
	}
}
