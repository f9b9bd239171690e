package api

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/fabfab/visacoach/chat"
)

const (
	StatusNeedsClarification = "needs_clarification"
	StatusPending            = "pending"
	StatusDone               = "done"
	StatusFailed             = "failed"
)

var errSessionNotFound = errors.New("session not found")

// SessionSnapshot is a session as the API reports it.
type SessionSnapshot struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	chat.Session
	Error string `json:"error,omitempty"`
}

// sessionStore keeps sessions in memory for the life of the process.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*SessionSnapshot
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*SessionSnapshot)}
}

func (s *sessionStore) create(sess chat.Session, status string) SessionSnapshot {
	snap := &SessionSnapshot{ID: uuid.NewString(), Status: status, Session: sess}
	s.mu.Lock()
	s.sessions[snap.ID] = snap
	s.mu.Unlock()
	return *snap
}

func (s *sessionStore) get(id string) (SessionSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.sessions[id]
	if !ok {
		return SessionSnapshot{}, false
	}
	return *snap, true
}

// clarify records a clarification and moves the session to pending. Only a
// session waiting for clarification accepts one.
func (s *sessionStore) clarify(id, clarification string) (SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.sessions[id]
	if !ok {
		return SessionSnapshot{}, errSessionNotFound
	}
	if snap.Status != StatusNeedsClarification {
		return SessionSnapshot{}, fmt.Errorf("session %s is %s, not awaiting clarification", id, snap.Status)
	}
	snap.Clarification = clarification
	snap.Status = StatusPending
	return *snap, nil
}

func (s *sessionStore) complete(id string, sess chat.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.sessions[id]; ok {
		snap.Session = sess
		snap.Status = StatusDone
	}
}

func (s *sessionStore) fail(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.sessions[id]; ok {
		snap.Status = StatusFailed
		snap.Error = err.Error()
	}
}
