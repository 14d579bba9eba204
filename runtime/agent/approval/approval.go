// Package approval defines the durable approval record that bridges a paused
// run across process boundaries.
//
// When a run pauses because a tool requires human confirmation, the runtime
// writes a pending approval record. The record is the sole durable bridge to
// resumption: an operator resolves it (approve or reject) and a continuation
// re-enters the run loop with the updated tool executions.
package approval

import (
	"context"
	"errors"
	"time"

	"goa.design/agentrun/runtime/agent"
	"goa.design/agentrun/runtime/agent/run"
)

type (
	// Status represents the lifecycle state of an approval record.
	Status string

	// Record is the durable approval record written when a run pauses.
	Record struct {
		// ApprovalID uniquely identifies the record.
		ApprovalID string `json:"approval_id" bson:"approval_id"`
		// RunID identifies the paused run. At most one pending record exists
		// per run id.
		RunID string `json:"run_id" bson:"run_id"`
		// SessionID identifies the session that owns the paused run.
		SessionID string `json:"session_id" bson:"session_id"`
		// AgentID and AgentName identify the agent whose run paused.
		AgentID   agent.Ident `json:"agent_id" bson:"agent_id"`
		AgentName string      `json:"agent_name,omitempty" bson:"agent_name,omitempty"`
		// UserID identifies the user awaiting the approval outcome.
		UserID string `json:"user_id,omitempty" bson:"user_id,omitempty"`
		// Status is the approval lifecycle state.
		Status Status `json:"status" bson:"status"`
		// PauseType classifies what paused the run. Currently always
		// PauseTypeToolConfirmation.
		PauseType string `json:"pause_type" bson:"pause_type"`
		// ApprovalType classifies the approval surface (for example "human").
		ApprovalType string `json:"approval_type" bson:"approval_type"`
		// CreatedAt and UpdatedAt bound the record lifecycle.
		CreatedAt time.Time `json:"created_at" bson:"created_at"`
		UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
	}

	// Store persists approval records. Implementations enforce the unique
	// pending-per-run constraint at the application layer.
	Store interface {
		// CreateFromPause writes a pending approval record for the paused
		// run. Returns ErrPendingApprovalExists when a pending record already
		// exists for the run id.
		CreateFromPause(ctx context.Context, rec *run.Record, agentID agent.Ident, agentName, userID string) (*Record, error)
		// Get loads an approval record by id. Returns ErrApprovalNotFound
		// when missing.
		Get(ctx context.Context, approvalID string) (*Record, error)
		// GetPendingByRun loads the pending approval record for the run.
		// Returns ErrApprovalNotFound when the run has no pending approval.
		GetPendingByRun(ctx context.Context, runID string) (*Record, error)
		// Resolve transitions the record out of pending. Returns
		// ErrApprovalNotFound when missing and ErrApprovalResolved when the
		// record is no longer pending.
		Resolve(ctx context.Context, approvalID string, status Status) (*Record, error)
	}
)

const (
	// StatusPending indicates the approval is awaiting a decision.
	StatusPending Status = "pending"
	// StatusApproved indicates the gated tool calls may execute.
	StatusApproved Status = "approved"
	// StatusRejected indicates the gated tool calls must not execute.
	StatusRejected Status = "rejected"
	// StatusExpired indicates the approval lapsed without a decision.
	StatusExpired Status = "expired"
)

// PauseTypeToolConfirmation marks records created because a tool requires
// human confirmation before execution.
const PauseTypeToolConfirmation = "tool_confirmation"

// ApprovalTypeHuman marks records awaiting a human decision.
const ApprovalTypeHuman = "human"

var (
	// ErrApprovalNotFound indicates no approval record matches the query.
	ErrApprovalNotFound = errors.New("approval not found")
	// ErrPendingApprovalExists indicates a pending record already exists for
	// the run.
	ErrPendingApprovalExists = errors.New("pending approval already exists for run")
	// ErrApprovalResolved indicates the record has already left pending.
	ErrApprovalResolved = errors.New("approval already resolved")
)
