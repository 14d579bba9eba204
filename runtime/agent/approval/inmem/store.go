// Package inmem provides an in-memory implementation of approval.Store for
// tests and local development.
package inmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"goa.design/agentrun/runtime/agent"
	"goa.design/agentrun/runtime/agent/approval"
	"goa.design/agentrun/runtime/agent/run"
)

type (
	// Store is an in-memory implementation of approval.Store. It is safe for
	// concurrent use and enforces the unique pending-per-run constraint.
	Store struct {
		mu      sync.RWMutex
		records map[string]*approval.Record
	}
)

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[string]*approval.Record)}
}

// CreateFromPause implements approval.Store.
func (s *Store) CreateFromPause(_ context.Context, rec *run.Record, agentID agent.Ident, agentName, userID string) (*approval.Record, error) {
	if rec == nil {
		return nil, errors.New("run record is required")
	}
	if rec.RunID == "" {
		return nil, errors.New("run id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if existing.RunID == rec.RunID && existing.Status == approval.StatusPending {
			return nil, approval.ErrPendingApprovalExists
		}
	}
	now := time.Now().UTC()
	out := &approval.Record{
		ApprovalID:   uuid.NewString(),
		RunID:        rec.RunID,
		SessionID:    rec.SessionID,
		AgentID:      agentID,
		AgentName:    agentName,
		UserID:       userID,
		Status:       approval.StatusPending,
		PauseType:    approval.PauseTypeToolConfirmation,
		ApprovalType: approval.ApprovalTypeHuman,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.records[out.ApprovalID] = out
	cp := *out
	return &cp, nil
}

// Get implements approval.Store.
func (s *Store) Get(_ context.Context, approvalID string) (*approval.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[approvalID]
	if !ok {
		return nil, approval.ErrApprovalNotFound
	}
	cp := *rec
	return &cp, nil
}

// GetPendingByRun implements approval.Store.
func (s *Store) GetPendingByRun(_ context.Context, runID string) (*approval.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.RunID == runID && rec.Status == approval.StatusPending {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, approval.ErrApprovalNotFound
}

// Resolve implements approval.Store.
func (s *Store) Resolve(_ context.Context, approvalID string, status approval.Status) (*approval.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[approvalID]
	if !ok {
		return nil, approval.ErrApprovalNotFound
	}
	if rec.Status != approval.StatusPending {
		return nil, approval.ErrApprovalResolved
	}
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	cp := *rec
	return &cp, nil
}
