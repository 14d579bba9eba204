// Package inmem provides an in-memory implementation of session.Store.
//
// It is intended for tests and local development. Production deployments
// should use a durable implementation (for example features/session/mongo).
package inmem

import (
	"context"
	"errors"
	"sync"

	"goa.design/agentrun/runtime/agent/run"
	"goa.design/agentrun/runtime/agent/session"
)

type (
	// Store is an in-memory implementation of session.Store. It is safe for
	// concurrent use. Sessions are copied on read and write so callers never
	// share slice or map headers with the store; run records themselves are
	// shared by pointer, matching the ownership contract (the run loop owns
	// its record exclusively while the run is in flight).
	Store struct {
		mu       sync.RWMutex
		sessions map[string]*session.Session
	}
)

// New returns an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string]*session.Session)}
}

// ReadOrCreate implements session.Store.
func (s *Store) ReadOrCreate(_ context.Context, sessionID, userID string) (*session.Session, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[sessionID]; ok {
		return cloneSession(existing), nil
	}
	sess := session.New(sessionID, userID)
	s.sessions[sessionID] = cloneSession(sess)
	return sess, nil
}

// Upsert implements session.Store.
func (s *Store) Upsert(_ context.Context, sess *session.Session) error {
	if sess == nil {
		return errors.New("session is required")
	}
	if sess.ID == "" {
		return errors.New("session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

// GetRun implements session.Store.
func (s *Store) GetRun(_ context.Context, sessionID, runID string) (*run.Record, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	if runID == "" {
		return nil, errors.New("run id is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	r := sess.GetRun(runID)
	if r == nil {
		return nil, session.ErrRunNotFound
	}
	out := *r
	return &out, nil
}

// cloneSession copies the session with fresh slice and map headers.
func cloneSession(in *session.Session) *session.Session {
	out := *in
	if in.Runs != nil {
		out.Runs = make([]*run.Record, len(in.Runs))
		copy(out.Runs, in.Runs)
	}
	out.Data = cloneMap(in.Data)
	out.Metadata = cloneMap(in.Metadata)
	return &out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
