// Package inmem provides an in-memory fake of the Mongo session client for
// tests and local tooling that want the Mongo-backed store wiring without a
// running database.
package inmem

import (
	"context"
	"sort"
	"sync"

	"goa.design/agentrun/runtime/agent/run"
	"goa.design/agentrun/runtime/agent/session"
)

// Client implements the session Mongo client contract in memory.
type Client struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	runs     map[string]map[string]*run.Record
}

// New returns a Client with no stored sessions.
func New() *Client {
	return &Client{
		sessions: make(map[string]*session.Session),
		runs:     make(map[string]map[string]*run.Record),
	}
}

// Name implements health.Pinger.
func (c *Client) Name() string { return "session-inmem" }

// Ping implements health.Pinger. Always healthy.
func (c *Client) Ping(ctx context.Context) error { return nil }

// ReadOrCreateSession loads the session, creating an empty one when missing.
func (c *Client) ReadOrCreateSession(ctx context.Context, sessionID, userID string) (*session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[sessionID]
	if !ok {
		sess = session.New(sessionID, userID)
		c.sessions[sessionID] = sess
	}
	out := *sess
	out.Runs = c.listRunsLocked(sessionID)
	return &out, nil
}

// ReplaceSession stores the session document, runs excluded.
func (c *Client) ReplaceSession(ctx context.Context, sess *session.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := *sess
	stored.Runs = nil
	c.sessions[sess.ID] = &stored
	return nil
}

// UpsertRun stores the run record under its session.
func (c *Client) UpsertRun(ctx context.Context, rec *run.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	byRun, ok := c.runs[rec.SessionID]
	if !ok {
		byRun = make(map[string]*run.Record)
		c.runs[rec.SessionID] = byRun
	}
	stored := *rec
	byRun[rec.RunID] = &stored
	return nil
}

// LoadRun returns the stored run record.
func (c *Client) LoadRun(ctx context.Context, sessionID, runID string) (*run.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.sessions[sessionID]; !ok {
		return nil, session.ErrSessionNotFound
	}
	rec, ok := c.runs[sessionID][runID]
	if !ok {
		return nil, session.ErrRunNotFound
	}
	out := *rec
	return &out, nil
}

// ListRunsBySession returns the session's run records oldest first.
func (c *Client) ListRunsBySession(ctx context.Context, sessionID string) ([]*run.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listRunsLocked(sessionID), nil
}

// Reset clears all stored sessions and runs (useful in tests).
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = make(map[string]*session.Session)
	c.runs = make(map[string]map[string]*run.Record)
}

func (c *Client) listRunsLocked(sessionID string) []*run.Record {
	byRun := c.runs[sessionID]
	out := make([]*run.Record, 0, len(byRun))
	for _, rec := range byRun {
		copied := *rec
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RunID < out[j].RunID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
