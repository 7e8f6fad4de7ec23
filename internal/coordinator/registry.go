package coordinator

import (
	"sync"
	"time"

	"teleconsult/internal/calls"
	"teleconsult/internal/metrics"
)

// session is the ephemeral state of one call.
//
// Lock order: registry.mu, then session.mu, then session.connMu. The registry
// lock is released before any session lock is taken.
type session struct {
	callID    string
	rec       calls.Record // ids and rate snapshot; never mutated
	createdAt time.Time

	mu        sync.Mutex
	phase     Phase
	startedAt time.Time
	endedAt   time.Time
	source    Source
	outcome   Outcome
	done      chan struct{}

	connMu sync.RWMutex
	conns  map[calls.Role]Conn
}

func newSession(rec calls.Record, now time.Time) *session {
	return &session{
		callID:    rec.CallID,
		rec:       rec,
		createdAt: now,
		phase:     PhasePending,
		done:      make(chan struct{}),
		conns:     make(map[calls.Role]Conn, 2),
	}
}

// registeredAs reports whether conn is the current handle for role.
func (s *session) registeredAs(role calls.Role, conn Conn) bool {
	if conn == nil {
		return false
	}
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	cur := s.conns[role]
	return cur != nil && cur.ID() == conn.ID()
}

func (s *session) handles() []Conn {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return collectHandles(s.conns)
}

// detachLocked clears every handle. Caller holds s.mu.
func (s *session) detachLocked() []Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	out := collectHandles(s.conns)
	clear(s.conns)
	return out
}

func collectHandles(m map[calls.Role]Conn) []Conn {
	out := make([]Conn, 0, 2)
	for _, role := range []calls.Role{calls.RoleRequester, calls.RoleProvider} {
		if h := m[role]; h != nil {
			out = append(out, h)
		}
	}
	return out
}

func (s *session) finalOutcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// registry maps call ids to live sessions and connection ids to the calls
// they joined. It never performs I/O.
type registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
	bindings map[string]map[string]calls.Role // conn id -> call id -> role

	// ended remembers evicted calls briefly so a join racing the eviction
	// cannot resurrect a finished call, and Await keeps answering with the
	// outcome settle produced.
	ended map[string]tombstone
}

type tombstone struct {
	at      time.Time
	outcome Outcome
}

func newRegistry() *registry {
	return &registry{
		sessions: map[string]*session{},
		bindings: map[string]map[string]calls.Role{},
		ended:    map[string]tombstone{},
	}
}

func (r *registry) get(callID string) *session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[callID]
}

// getOrCreate returns the live session for rec, creating it if absent.
// ok is false when the call was recently evicted.
func (r *registry) getOrCreate(rec calls.Record, now time.Time) (s *session, created, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.sessions[rec.CallID]; s != nil {
		return s, false, true
	}
	if _, gone := r.ended[rec.CallID]; gone {
		return nil, false, false
	}
	s = newSession(rec, now)
	r.sessions[rec.CallID] = s
	metrics.RecordSessionCreated()
	return s, true, true
}

func (r *registry) bind(connID, callID string, role calls.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.bindings[connID]
	if m == nil {
		m = map[string]calls.Role{}
		r.bindings[connID] = m
	}
	m[callID] = role
}

func (r *registry) unbind(connID, callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unbindLocked(connID, callID)
}

func (r *registry) unbindLocked(connID, callID string) {
	m := r.bindings[connID]
	if m == nil {
		return
	}
	delete(m, callID)
	if len(m) == 0 {
		delete(r.bindings, connID)
	}
}

// bindingsOf copies the calls a connection is registered under.
func (r *registry) bindingsOf(connID string) map[string]calls.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]calls.Role, len(r.bindings[connID]))
	for callID, role := range r.bindings[connID] {
		out[callID] = role
	}
	return out
}

func (r *registry) dropConn(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bindings, connID)
}

// evict removes a terminated session and the bindings of its last handles,
// leaving a tombstone with its outcome.
func (r *registry) evict(s *session, handles []Conn, out Outcome, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.callID] != s {
		return
	}
	delete(r.sessions, s.callID)
	r.ended[s.callID] = tombstone{at: now, outcome: out}
	for _, h := range handles {
		r.unbindLocked(h.ID(), s.callID)
	}
	metrics.RecordSessionEvicted()
}

func (r *registry) pruneEnded(before time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.ended {
		if t.at.Before(before) {
			delete(r.ended, id)
		}
	}
}

// endedOutcome returns the outcome of a recently evicted call.
func (r *registry) endedOutcome(callID string) (Outcome, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.ended[callID]
	return t.outcome, ok
}

func (r *registry) snapshot() []*session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *registry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
