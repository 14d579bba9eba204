// Package session defines the durable session container and its store
// contract.
//
// A Session is the first-class conversational container: it accumulates the
// run records produced for a given (session_id, user_id) pair, holds the
// shared session state tool handlers mutate, and carries the rolling summary.
// Runs always belong to a session; the session store is the single durable
// home of run records.
package session

import (
	"context"
	"errors"
	"time"

	"goa.design/agentrun/runtime/agent/model"
	"goa.design/agentrun/runtime/agent/run"
)

type (
	// Session captures the durable conversational state for a session id.
	Session struct {
		// ID is the durable identifier of the session, caller-provided.
		ID string `json:"session_id" bson:"session_id"`
		// UserID identifies the owning user. Optional.
		UserID string `json:"user_id,omitempty" bson:"user_id,omitempty"`
		// Type distinguishes the session container variant.
		Type Type `json:"session_type" bson:"session_type"`
		// Runs is the ordered sequence of run records, oldest first.
		Runs []*run.Record `json:"runs,omitempty" bson:"runs,omitempty"`
		// Data is the free-form session payload. Well-known keys are
		// DataKeyState (the mutable session state map) and DataKeyName (the
		// human-readable session name).
		Data map[string]any `json:"session_data,omitempty" bson:"session_data,omitempty"`
		// Summary is the rolling conversation summary, refreshed after runs
		// when summarization is enabled.
		Summary string `json:"summary,omitempty" bson:"summary,omitempty"`
		// Metadata stores caller-provided session metadata.
		Metadata map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
		// Metrics aggregates usage across all runs in the session.
		Metrics Metrics `json:"metrics" bson:"metrics"`
		// CreatedAt and UpdatedAt bound the session lifecycle.
		CreatedAt time.Time `json:"created_at" bson:"created_at"`
		UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
	}

	// Metrics aggregates token usage and run counts across the session.
	Metrics struct {
		// Usage is the total token usage across all runs.
		Usage model.TokenUsage `json:"usage" bson:"usage"`
		// RunCount counts the runs appended to the session.
		RunCount int `json:"run_count,omitempty" bson:"run_count,omitempty"`
		// TotalDuration sums the wall-clock duration of all runs.
		TotalDuration time.Duration `json:"total_duration,omitempty" bson:"total_duration,omitempty"`
	}

	// Type distinguishes the session container variant.
	Type string

	// Store persists sessions. Implementations must be durable: failures are
	// surfaced to callers so runs can fail fast when session state is
	// unavailable.
	Store interface {
		// ReadOrCreate loads the session with the given id, creating an empty
		// one bound to userID when it does not exist.
		ReadOrCreate(ctx context.Context, sessionID, userID string) (*Session, error)
		// Upsert writes the session back, replacing any stored version.
		Upsert(ctx context.Context, sess *Session) error
		// GetRun loads a single run record from the session. Returns
		// ErrRunNotFound when the session has no run with that id, or
		// ErrSessionNotFound when the session itself is missing. Used by
		// background-run polling.
		GetRun(ctx context.Context, sessionID, runID string) (*run.Record, error)
	}
)

// Session data keys with contract-level meaning.
const (
	// DataKeyState holds the mutable session state map shared with tools.
	DataKeyState = "session_state"
	// DataKeyName holds the human-readable session name.
	DataKeyName = "session_name"
)

const (
	// TypeAgent is a session owned by a single agent.
	TypeAgent Type = "agent"
	// TypeTeam is a session shared by a team of agents.
	TypeTeam Type = "team"
	// TypeWorkflow is a session owned by a workflow.
	TypeWorkflow Type = "workflow"
)

var (
	// ErrSessionNotFound indicates a session does not exist in the store.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRunNotFound indicates the session holds no run with the given id.
	ErrRunNotFound = errors.New("run not found")
)

// New constructs an empty agent session with creation timestamps set.
func New(sessionID, userID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        sessionID,
		UserID:    userID,
		Type:      TypeAgent,
		Data:      map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// UpsertRun replaces the run record with the same RunID or appends when no
// such record exists. Order of existing records is preserved.
func (s *Session) UpsertRun(r *run.Record) {
	for i, existing := range s.Runs {
		if existing != nil && existing.RunID == r.RunID {
			s.Runs[i] = r
			s.UpdatedAt = time.Now().UTC()
			return
		}
	}
	s.Runs = append(s.Runs, r)
	s.Metrics.RunCount++
	s.UpdatedAt = time.Now().UTC()
}

// GetRun returns the run record with the given id, or nil when absent.
func (s *Session) GetRun(runID string) *run.Record {
	for _, r := range s.Runs {
		if r != nil && r.RunID == runID {
			return r
		}
	}
	return nil
}

// State returns the session state map stored under DataKeyState, creating it
// when absent.
func (s *Session) State() map[string]any {
	if s.Data == nil {
		s.Data = map[string]any{}
	}
	if st, ok := s.Data[DataKeyState].(map[string]any); ok {
		return st
	}
	st := map[string]any{}
	s.Data[DataKeyState] = st
	return st
}

// SetState stores the session state map under DataKeyState.
func (s *Session) SetState(state map[string]any) {
	if s.Data == nil {
		s.Data = map[string]any{}
	}
	s.Data[DataKeyState] = state
}

// RecomputeMetrics rebuilds the session aggregate from the run records.
// Rebuilding rather than accumulating keeps each run's contribution counted
// exactly once when the same run is persisted repeatedly, as happens across
// the pause and resume legs of an approval round-trip.
func (s *Session) RecomputeMetrics() {
	var m Metrics
	for _, r := range s.Runs {
		if r == nil {
			continue
		}
		m.RunCount++
		m.Usage.Add(r.Metrics.Usage)
		m.TotalDuration += r.Metrics.Duration
	}
	s.Metrics = m
}
