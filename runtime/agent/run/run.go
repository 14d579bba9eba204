// Package run defines the durable run record and the transient per-run state
// threaded through the orchestration pipeline.
//
// # Core Concepts
//
// RunID:
//   - Identifies a single execution of the agent pipeline
//   - Unique process-wide for the duration of the run
//   - Lifespan: from dispatch to terminal status (seconds to minutes)
//
// SessionID:
//   - Groups related runs into a conversation or interaction thread
//   - Used for history accumulation across multiple runs
//
// A session owns an ordered sequence of run records; UpsertRun on the session
// replaces the entry with the same RunID or appends. A paused run is resumed
// by a continuation that shares the RunID and re-enters the pipeline.
package run

import (
	"time"

	"goa.design/agentrun/runtime/agent"
	"goa.design/agentrun/runtime/agent/hooks"
	"goa.design/agentrun/runtime/agent/model"
	"goa.design/agentrun/runtime/agent/tools"
)

type (
	// Status represents the lifecycle state of a run.
	Status string

	// Record is the per-run aggregate persisted inside its parent session.
	// The run loop owns the record exclusively for the duration of the run.
	Record struct {
		// RunID uniquely identifies the run.
		RunID string `json:"run_id" bson:"run_id"`
		// SessionID associates the run with its session.
		SessionID string `json:"session_id" bson:"session_id"`
		// AgentID identifies which agent processed the run.
		AgentID agent.Ident `json:"agent_id" bson:"agent_id"`
		// UserID identifies the user on whose behalf the run executed.
		UserID string `json:"user_id,omitempty" bson:"user_id,omitempty"`
		// Status indicates the current lifecycle state.
		Status Status `json:"status" bson:"status"`
		// Input is the original user input with attached media references.
		Input *Input `json:"input,omitempty" bson:"input,omitempty"`
		// Content is the final primary output. Never empty once the run is
		// terminal: on cancellation or error it carries the reason or error
		// message when no partial content was produced.
		Content string `json:"content,omitempty" bson:"content,omitempty"`
		// ContentType describes Content: "text" or "json" for structured
		// output.
		ContentType string `json:"content_type,omitempty" bson:"content_type,omitempty"`
		// ModelID and ModelProvider record which model produced the content.
		ModelID       string `json:"model_id,omitempty" bson:"model_id,omitempty"`
		ModelProvider string `json:"model_provider,omitempty" bson:"model_provider,omitempty"`
		// Tools is the ordered sequence of tool executions, preserving the
		// order the model emitted the calls.
		Tools []*tools.Execution `json:"tools,omitempty" bson:"tools,omitempty"`
		// Requirements lists the outstanding requirements that gated a pause.
		// Empty unless the run paused.
		Requirements []*Requirement `json:"requirements,omitempty" bson:"requirements,omitempty"`
		// Messages is the full message sequence sent to and received from the
		// model.
		Messages []*model.Message `json:"messages,omitempty" bson:"messages,omitempty"`
		// Events is the ordered sequence of lifecycle events, captured only
		// when the run options enable event storage.
		Events []*hooks.Envelope `json:"events,omitempty" bson:"events,omitempty"`
		// References holds knowledge retrieval hits attached to the run.
		References []*Reference `json:"references,omitempty" bson:"references,omitempty"`
		// SessionState is the session state snapshot at completion.
		SessionState map[string]any `json:"session_state,omitempty" bson:"session_state,omitempty"`
		// Metadata stores caller- or hook-provided metadata.
		Metadata map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
		// Metrics aggregates timing and token usage for the run.
		Metrics Metrics `json:"metrics" bson:"metrics"`
		// CreatedAt and UpdatedAt bound the record lifecycle.
		CreatedAt time.Time `json:"created_at" bson:"created_at"`
		UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
	}

	// Input is the user input that triggered the run.
	Input struct {
		// Message is the primary text input. May be empty when the input is
		// purely structured or media.
		Message string `json:"message,omitempty" bson:"message,omitempty"`
		// Structured carries a structured input object when the caller
		// provided one instead of (or alongside) plain text.
		Structured map[string]any `json:"structured,omitempty" bson:"structured,omitempty"`
		// Media lists attached media references (audio, image, video, file).
		Media []*MediaRef `json:"media,omitempty" bson:"media,omitempty"`
	}

	// MediaRef points at an input attachment. Content is referenced, not
	// embedded, unless Data is set.
	MediaRef struct {
		// Kind is one of "audio", "image", "video" or "file".
		Kind string `json:"kind" bson:"kind"`
		// URL locates the media when it is stored externally.
		URL string `json:"url,omitempty" bson:"url,omitempty"`
		// Name is the original file name, if known.
		Name string `json:"name,omitempty" bson:"name,omitempty"`
		// MIMEType is the declared content type.
		MIMEType string `json:"mime_type,omitempty" bson:"mime_type,omitempty"`
		// Data embeds the raw bytes for small inline attachments. Scrubbed
		// before persistence unless media retention is enabled.
		Data []byte `json:"data,omitempty" bson:"data,omitempty"`
	}

	// Requirement describes a condition that must be satisfied before a
	// paused run may resume, typically a human approval of a tool call.
	Requirement struct {
		// ID identifies the requirement.
		ID string `json:"id" bson:"id"`
		// ToolCallID links the requirement to the tool execution that raised
		// it.
		ToolCallID string `json:"tool_call_id,omitempty" bson:"tool_call_id,omitempty"`
		// ToolName names the gated tool.
		ToolName tools.Ident `json:"tool_name,omitempty" bson:"tool_name,omitempty"`
		// Description explains what is being asked of the approver.
		Description string `json:"description,omitempty" bson:"description,omitempty"`
		// Satisfied reports whether the requirement has been met.
		Satisfied bool `json:"satisfied" bson:"satisfied"`
	}

	// Reference is a knowledge retrieval hit attached to the run.
	Reference struct {
		// Source identifies where the content came from.
		Source string `json:"source,omitempty" bson:"source,omitempty"`
		// Title is the human-readable document title.
		Title string `json:"title,omitempty" bson:"title,omitempty"`
		// Content is the retrieved excerpt.
		Content string `json:"content,omitempty" bson:"content,omitempty"`
		// Score is the retrieval relevance score.
		Score float64 `json:"score,omitempty" bson:"score,omitempty"`
		// Metadata carries retriever-specific fields.
		Metadata map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
	}

	// Metrics aggregates timing and token usage across every model
	// invocation in the run, including retries.
	Metrics struct {
		// StartedAt and CompletedAt bound the run wall-clock.
		StartedAt   time.Time `json:"started_at,omitzero" bson:"started_at,omitempty"`
		CompletedAt time.Time `json:"completed_at,omitzero" bson:"completed_at,omitempty"`
		// Duration accumulates the wall-clock time spent executing, summed
		// across the pause and resume legs of the run. Stored explicitly so
		// scrubbed records keep the measurement.
		Duration time.Duration `json:"duration,omitempty" bson:"duration,omitempty"`
		// Usage is the aggregate token usage.
		Usage model.TokenUsage `json:"usage" bson:"usage"`
		// ModelCalls counts model invocations, including retries and
		// secondary output/parser models.
		ModelCalls int `json:"model_calls,omitempty" bson:"model_calls,omitempty"`
		// Attempts counts pipeline attempts (1 + retries consumed).
		Attempts int `json:"attempts,omitempty" bson:"attempts,omitempty"`

		// legStart is the opening time of the current measurement leg.
		// Transient; a record reloaded from storage has no open leg.
		legStart time.Time
	}
)

const (
	// StatusPending indicates the run has been accepted but not started yet.
	// Only background-spawned runs are observable in this state.
	StatusPending Status = "pending"
	// StatusRunning indicates the run is actively executing.
	StatusRunning Status = "running"
	// StatusPaused indicates execution is suspended awaiting tool approval.
	StatusPaused Status = "paused"
	// StatusCompleted indicates the run finished successfully.
	StatusCompleted Status = "completed"
	// StatusCancelled indicates the run observed a cancellation request.
	StatusCancelled Status = "cancelled"
	// StatusError indicates the run failed permanently.
	StatusError Status = "error"
)

// Terminal reports whether the status is a terminal state. Paused counts as
// terminal within a single run; a continuation starts a new pipeline pass.
func (s Status) Terminal() bool {
	switch s {
	case StatusPaused, StatusCompleted, StatusCancelled, StatusError:
		return true
	}
	return false
}

// New constructs a run record in the pending state with creation timestamps
// set.
func New(runID, sessionID string, agentID agent.Ident, userID string, input *Input) *Record {
	now := time.Now().UTC()
	return &Record{
		RunID:     runID,
		SessionID: sessionID,
		AgentID:   agentID,
		UserID:    userID,
		Status:    StatusPending,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetStatus transitions the run to the given status and bumps UpdatedAt.
func (r *Record) SetStatus(s Status) {
	r.Status = s
	r.UpdatedAt = time.Now().UTC()
}

// Paused reports whether any tool execution is awaiting approval.
func (r *Record) Paused() bool {
	for _, e := range r.Tools {
		if e != nil && e.Paused {
			return true
		}
	}
	return false
}

// PausedExecutions returns the tool executions awaiting approval, in emission
// order.
func (r *Record) PausedExecutions() []*tools.Execution {
	var paused []*tools.Execution
	for _, e := range r.Tools {
		if e != nil && e.Paused {
			paused = append(paused, e)
		}
	}
	return paused
}

// EnsureContent sets Content to fallback when no content was produced.
// Terminal runs never carry empty content.
func (r *Record) EnsureContent(fallback string) {
	if r.Content == "" {
		r.Content = fallback
	}
}

// ApplyUpdatedTools substitutes updated tool execution records into the run,
// matching by tool call id. The original ordering is preserved. A record
// whose id matches nothing in the run is reported as missing.
func (r *Record) ApplyUpdatedTools(updated []*tools.Execution) (missing []string) {
	byID := make(map[string]int, len(r.Tools))
	for i, e := range r.Tools {
		if e != nil {
			byID[e.ToolCallID] = i
		}
	}
	for _, u := range updated {
		if u == nil {
			continue
		}
		i, ok := byID[u.ToolCallID]
		if !ok {
			missing = append(missing, u.ToolCallID)
			continue
		}
		r.Tools[i] = u
	}
	return missing
}

// AppendEvent records a lifecycle event on the run. Used by the event
// pipeline when event storage is enabled.
func (r *Record) AppendEvent(env *hooks.Envelope) {
	r.Events = append(r.Events, env)
}

// StartTimer opens a measurement leg. The first call marks the beginning of
// the run wall-clock; a later call re-opens the timer on a resumed run
// without disturbing the original start.
func (m *Metrics) StartTimer() {
	now := time.Now().UTC()
	if m.StartedAt.IsZero() {
		m.StartedAt = now
	}
	if m.legStart.IsZero() {
		m.legStart = now
	}
	m.CompletedAt = time.Time{}
}

// StopTimer closes the current measurement leg, folding its elapsed time
// into the duration. A call with no open leg changes nothing, so repeated
// stops are harmless.
func (m *Metrics) StopTimer() {
	if m.legStart.IsZero() {
		return
	}
	m.CompletedAt = time.Now().UTC()
	m.Duration += m.CompletedAt.Sub(m.legStart)
	m.legStart = time.Time{}
}

// AddUsage accumulates token usage from one model invocation.
func (m *Metrics) AddUsage(u model.TokenUsage) {
	m.Usage.Add(u)
	m.ModelCalls++
}
