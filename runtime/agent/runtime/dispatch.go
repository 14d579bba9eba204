package runtime

import (
	"context"
	"time"

	"github.com/google/uuid"

	"goa.design/agentrun/runtime/agent"
	"goa.design/agentrun/runtime/agent/approval"
	"goa.design/agentrun/runtime/agent/hooks"
	"goa.design/agentrun/runtime/agent/run"
	"goa.design/agentrun/runtime/agent/session"
	"goa.design/agentrun/runtime/agent/tools"
)

type (
	// RunRequest carries the inputs for a new run.
	RunRequest struct {
		// AgentID selects the registered agent. Required.
		AgentID agent.Ident
		// Message is the user text input. Ignored when Input is set.
		Message string
		// Input is the full user input with media and structured payloads.
		Input *run.Input
		// UserID, SessionID and RunID identify the run. Empty SessionID and
		// RunID are generated; empty UserID is allowed.
		UserID    string
		SessionID string
		RunID     string
		// SessionState seeds the run's session state on top of the state
		// loaded from the session.
		SessionState map[string]any
		// RunContext overlays a caller-provided context. Caller-provided
		// values win over generated ones.
		RunContext *run.Context
		// Dependencies, KnowledgeFilters, Metadata and OutputSchema populate
		// the run context.
		Dependencies     map[string]run.Dependency
		KnowledgeFilters map[string]any
		Metadata         map[string]any
		OutputSchema     map[string]any
		// Options is the highest-precedence option layer.
		Options *run.Options
		// Session supplies a pre-loaded session used on the first attempt,
		// skipping the session load phase.
		Session *session.Session
	}

	// ContinueRequest carries the inputs for resuming a paused run. One of
	// Record or RunID is required; with RunID, one of UpdatedTools or
	// Requirements is required.
	ContinueRequest struct {
		// AgentID selects the registered agent. Required.
		AgentID agent.Ident
		// Record is the full paused run record.
		Record *run.Record
		// RunID plus SessionID locate the paused run in the session store
		// when Record is not supplied.
		RunID     string
		SessionID string
		// UpdatedTools are the tool execution records to substitute into the
		// paused run, matched by tool call id.
		UpdatedTools []*tools.Execution
		// Requirements marks the paused run's requirements as satisfied or
		// not. An unsatisfied requirement keeps its tool call paused.
		Requirements []*run.Requirement
		// UserID scopes the continuation.
		UserID string
		// RunContext overlays a caller-provided context.
		RunContext *run.Context
		// Dependencies, KnowledgeFilters and Metadata populate the context.
		Dependencies     map[string]run.Dependency
		KnowledgeFilters map[string]any
		Metadata         map[string]any
		// Options is the highest-precedence option layer.
		Options *run.Options
	}

	// StreamHandle is the caller's view of a streaming run. Events delivers
	// lifecycle events in emission order; the channel closes when the run
	// terminates. Result blocks until termination and returns the final run
	// record.
	StreamHandle struct {
		events chan hooks.Event
		done   chan struct{}
		rec    *run.Record
		err    error
	}

	// RunOutputEvent is the last stream element when the resolved options set
	// YieldRunOutput. It carries the final run record so callers consuming
	// only the event channel never need Result.
	RunOutputEvent struct {
		// Record is the final run record with its terminal status set.
		Record *run.Record

		timestamp int64
	}
)

// NewRunOutputEvent wraps the final run record for stream delivery.
func NewRunOutputEvent(rec *run.Record) *RunOutputEvent {
	return &RunOutputEvent{Record: rec, timestamp: time.Now().UnixMilli()}
}

// Type returns hooks.RunOutput.
func (e *RunOutputEvent) Type() hooks.EventType { return hooks.RunOutput }

// RunID returns the run identifier.
func (e *RunOutputEvent) RunID() string { return e.Record.RunID }

// SessionID returns the session identifier.
func (e *RunOutputEvent) SessionID() string { return e.Record.SessionID }

// AgentID returns the agent identifier.
func (e *RunOutputEvent) AgentID() string { return string(e.Record.AgentID) }

// Timestamp returns the event creation time in Unix milliseconds.
func (e *RunOutputEvent) Timestamp() int64 { return e.timestamp }

// Events returns the lifecycle event channel. It is closed after the final
// lifecycle event (RunCompleted, RunPaused, RunCancelled or RunError).
func (h *StreamHandle) Events() <-chan hooks.Event { return h.events }

// Result blocks until the run terminates and returns the final run record.
// The error is non-nil only when the pipeline failed before producing a
// record; terminal run failures are reported through the record status and
// the RunError event.
func (h *StreamHandle) Result() (*run.Record, error) {
	<-h.done
	return h.rec, h.err
}

// Run executes a buffered run and returns the final run record. The record
// is always non-nil on a nil error, with a terminal status and non-empty
// content.
func (rt *Runtime) Run(ctx context.Context, req *RunRequest) (*run.Record, error) {
	ex, err := rt.prepareRun(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	return ex.executeBuffered(ctx)
}

// RunStream executes a streaming run. Lifecycle events are delivered through
// the returned handle in the documented order; the first event is RunStarted
// and the last lifecycle event is RunCompleted, RunPaused, RunCancelled or
// RunError.
func (rt *Runtime) RunStream(ctx context.Context, req *RunRequest) (*StreamHandle, error) {
	opts := &run.Options{Stream: run.Bool(true)}
	ex, err := rt.prepareRun(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	return ex.executeStreamed(ctx), nil
}

// ContinueRun resumes a paused run in buffered mode.
func (rt *Runtime) ContinueRun(ctx context.Context, req *ContinueRequest) (*run.Record, error) {
	ex, err := rt.prepareContinue(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	return ex.executeBuffered(ctx)
}

// ContinueRunStream resumes a paused run in streaming mode. The first
// lifecycle event is RunContinued instead of RunStarted.
func (rt *Runtime) ContinueRunStream(ctx context.Context, req *ContinueRequest) (*StreamHandle, error) {
	opts := &run.Options{Stream: run.Bool(true)}
	ex, err := rt.prepareContinue(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	return ex.executeStreamed(ctx), nil
}

// prepareRun validates the request and builds the execution state shared by
// all run variants. forced is an optional highest-precedence option layer
// injected by the dispatch entry point.
func (rt *Runtime) prepareRun(ctx context.Context, req *RunRequest, forced *run.Options) (*execution, error) {
	if req == nil {
		return nil, &InputValidationError{Field: "request", Reason: "request is required"}
	}
	a, err := rt.Agent(req.AgentID)
	if err != nil {
		return nil, &InputValidationError{Field: "agent_id", Reason: "agent not registered"}
	}
	input := req.Input
	if input == nil {
		input = &run.Input{Message: req.Message}
	}
	if input.Message == "" && input.Structured == nil && len(input.Media) == 0 {
		return nil, &InputValidationError{Field: "input", Reason: "input is required"}
	}

	settings := run.Resolve(forced, req.Options, a.DefaultOptions)

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	rc := run.NewContext(runID, sessionID, req.UserID)
	rc.Dependencies = req.Dependencies
	rc.KnowledgeFilters = req.KnowledgeFilters
	rc.Metadata = req.Metadata
	rc.OutputSchema = req.OutputSchema
	for k, v := range req.SessionState {
		rc.SessionState[k] = v
	}
	rc.Merge(req.RunContext)

	rec := run.New(runID, sessionID, a.ID, req.UserID, input)
	rec.ModelID = a.ModelID
	rec.ModelProvider = a.Provider

	return &execution{
		rt:       rt,
		agent:    a,
		settings: settings,
		rec:      rec,
		rc:       rc,
		session:  req.Session,
	}, nil
}

// prepareContinue validates the continuation request, loads the paused run
// and applies the updated tool executions.
func (rt *Runtime) prepareContinue(ctx context.Context, req *ContinueRequest, forced *run.Options) (*execution, error) {
	if req == nil {
		return nil, &InputValidationError{Field: "request", Reason: "request is required"}
	}
	a, err := rt.Agent(req.AgentID)
	if err != nil {
		return nil, &InputValidationError{Field: "agent_id", Reason: "agent not registered"}
	}
	rec := req.Record
	if rec == nil {
		if req.RunID == "" {
			return nil, &InputValidationError{Field: "run_id", Reason: "one of record or run id is required"}
		}
		if len(req.UpdatedTools) == 0 && len(req.Requirements) == 0 {
			return nil, &InputValidationError{Field: "updated_tools", Reason: "one of updated tools or requirements is required with run id"}
		}
		sessionID := req.SessionID
		if sessionID == "" {
			return nil, &InputValidationError{Field: "session_id", Reason: "session id is required with run id"}
		}
		rec, err = rt.sessions.GetRun(ctx, sessionID, req.RunID)
		if err != nil {
			return nil, err
		}
	}
	if rec.Status != run.StatusPaused {
		return nil, ErrRunNotPaused
	}

	if len(req.UpdatedTools) > 0 {
		if missing := rec.ApplyUpdatedTools(req.UpdatedTools); len(missing) > 0 {
			return nil, &InputValidationError{Field: "updated_tools", Reason: "unknown tool call ids: " + joinIDs(missing)}
		}
	}
	applyRequirements(rec, req.Requirements)
	rt.resolveApproval(ctx, rec)

	settings := run.Resolve(forced, req.Options, a.DefaultOptions)

	userID := req.UserID
	if userID == "" {
		userID = rec.UserID
	}
	rc := run.NewContext(rec.RunID, rec.SessionID, userID)
	rc.Dependencies = req.Dependencies
	rc.KnowledgeFilters = req.KnowledgeFilters
	rc.Metadata = req.Metadata
	for k, v := range rec.SessionState {
		rc.SessionState[k] = v
	}
	rc.Merge(req.RunContext)

	return &execution{
		rt:           rt,
		agent:        a,
		settings:     settings,
		rec:          rec,
		rc:           rc,
		continuation: true,
	}, nil
}

// resolveApproval transitions the run's pending approval record out of
// pending to match the continuation decision. A missing or already resolved
// record is not an error; the continuation proceeds on the run record alone.
func (rt *Runtime) resolveApproval(ctx context.Context, rec *run.Record) {
	ap, err := rt.approvals.GetPendingByRun(ctx, rec.RunID)
	if err != nil {
		return
	}
	status := approval.StatusRejected
	for _, e := range rec.Tools {
		if e != nil && e.RequiresConfirmation && !e.Paused {
			status = approval.StatusApproved
			break
		}
	}
	if _, err := rt.approvals.Resolve(ctx, ap.ApprovalID, status); err != nil {
		rt.logger.Warn(ctx, "approval resolution failed", "run_id", rec.RunID, "approval_id", ap.ApprovalID, "err", err.Error())
	}
}

// applyRequirements clears the paused flag on tool executions whose
// requirement is satisfied and records the requirement states on the run.
func applyRequirements(rec *run.Record, reqs []*run.Requirement) {
	if len(reqs) == 0 {
		return
	}
	byCall := make(map[string]*run.Requirement, len(reqs))
	for _, r := range reqs {
		if r != nil && r.ToolCallID != "" {
			byCall[r.ToolCallID] = r
		}
	}
	for _, e := range rec.Tools {
		if e == nil || !e.Paused {
			continue
		}
		if r, ok := byCall[e.ToolCallID]; ok && r.Satisfied {
			e.Paused = false
		}
	}
	rec.Requirements = reqs
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ", "
		}
		out += id
	}
	return out
}
