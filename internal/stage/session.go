package stage

import "sync"

// sessionState is the lifecycle a stage tracks per session id.
type sessionState int

const (
	sessionCreated sessionState = iota
	sessionReceiving
	sessionFlushing
	sessionDropped
)

// session holds all the per-session bookkeeping a stage needs: how many
// upstream EOFs have arrived, which (producer_id, message_id) pairs have
// already been applied, and the lifecycle state. Runtime ignores frames
// for a session in the Dropped state; once sessionTable.Drop has removed
// the entry, a later frame for the same id opens a fresh session.
type session struct {
	mu    sync.Mutex
	state sessionState

	eofCount int

	// dedup is only populated for stateful stages (reducer, sorter);
	// stateless stages leave trackDedup unset so this map stays nil and
	// Seen is always false.
	dedup map[dedupKey]struct{}
}

type dedupKey struct {
	ProducerID string
	MessageID  string
}

func newSession(trackDedup bool) *session {
	s := &session{state: sessionCreated}
	if trackDedup {
		s.dedup = make(map[dedupKey]struct{})
	}
	return s
}

// Seen reports whether (producerID, messageID) was already applied to this
// session, recording it as seen if not. Stateless sessions (dedup == nil)
// never report a duplicate: their output is deduplicated downstream at the
// next stateful stage instead.
func (s *session) Seen(producerID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedup == nil {
		return false
	}
	key := dedupKey{ProducerID: producerID, MessageID: messageID}
	if _, ok := s.dedup[key]; ok {
		return true
	}
	s.dedup[key] = struct{}{}
	return false
}

// IncrementEOF records one more upstream controller's EOF and reports
// whether the barrier has now closed (eofCount reached expected).
func (s *session) IncrementEOF(expected int) (closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eofCount++
	return s.eofCount >= expected
}

func (s *session) SetState(st sessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

func (s *session) State() sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// sessionTable is a stage's concurrency-safe registry of in-flight
// sessions, created lazily on first contact.
type sessionTable struct {
	mu         sync.Mutex
	sessions   map[string]*session
	trackDedup bool
}

func newSessionTable(trackDedup bool) *sessionTable {
	return &sessionTable{sessions: make(map[string]*session), trackDedup: trackDedup}
}

// Get returns the session for id, creating it in the Receiving state if
// this is the first contact.
func (t *sessionTable) Get(id string) *session {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		s = newSession(t.trackDedup)
		s.state = sessionReceiving
		t.sessions[id] = s
	}
	return s
}

// Drop removes a session's state once its close-down sequence completes.
func (t *sessionTable) Drop(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, id)
}
