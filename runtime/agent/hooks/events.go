// Package hooks implements fan-out hooks for run observability and streaming.
//
// The runtime publishes lifecycle events (run start/completion, streamed
// content, pauses, cancellations, session summaries) through a Bus. This
// decouples event producers (the run loop) from consumers (stream sinks,
// persistence, telemetry).
package hooks

import (
	"time"

	"goa.design/agentrun/runtime/agent"
	"goa.design/agentrun/runtime/agent/memory"
	"goa.design/agentrun/runtime/agent/model"
	"goa.design/agentrun/runtime/agent/tools"
)

// EventType enumerates the well-known run lifecycle events broadcast on the
// hook bus. Each type corresponds to a specific phase of the run loop.
type EventType string

const (
	// RunStarted fires when a run begins execution, after the run record is
	// initialized and the run is registered for cancellation.
	RunStarted EventType = "run_started"

	// IntermediateRunContent fires for intermediate content produced before
	// the final response: tool progress notes and partial reasoning. Emitted
	// only on streamed runs and never persisted on the run record.
	IntermediateRunContent EventType = "intermediate_run_content"

	// RunContent fires for each chunk of the final response content. On
	// streamed runs chunks arrive incrementally; on buffered runs a single
	// event carries the whole content.
	RunContent EventType = "run_content"

	// RunContentCompleted fires once the final response content is fully
	// assembled, before cleanup and persistence.
	RunContentCompleted EventType = "run_content_completed"

	// RunPaused fires when the model requested tools that require human
	// confirmation and the run suspended awaiting approval.
	RunPaused EventType = "run_paused"

	// RunContinued fires when a paused run resumes after its approval record
	// is resolved.
	RunContinued EventType = "run_continued"

	// RunCancelled fires when the run observes its cancellation flag and
	// terminates cooperatively.
	RunCancelled EventType = "run_cancelled"

	// RunError fires when the run terminates with an error after any
	// configured retries are exhausted.
	RunError EventType = "run_error"

	// SessionSummaryStarted fires when session summary generation begins.
	SessionSummaryStarted EventType = "session_summary_started"

	// SessionSummaryCompleted fires when the session summary is ready. The
	// payload carries the summary content.
	SessionSummaryCompleted EventType = "session_summary_completed"

	// RunCompleted fires after the run reaches a terminal state and cleanup
	// has run, whatever the outcome.
	RunCompleted EventType = "run_completed"

	// MemoryCompleted fires when the background enrichment tasks for the run
	// have been joined, successfully or not.
	MemoryCompleted EventType = "memory_completed"

	// RunOutput carries the final run record as the last stream element when
	// the run options request it. The event is delivered to the streaming
	// caller only; it is never persisted or forwarded to sinks since the
	// record already holds everything the event would.
	RunOutput EventType = "run_output"
)

type (
	// Event is the interface all hook events implement. The runtime publishes
	// events through the Bus; subscribers receive them via HandleEvent and
	// use type switches to access event-specific fields:
	//
	//	func (s *MySubscriber) HandleEvent(ctx context.Context, evt Event) error {
	//	    switch e := evt.(type) {
	//	    case *RunContentEvent:
	//	        fmt.Print(e.Content)
	//	    case *RunPausedEvent:
	//	        log.Printf("awaiting approval for %d tools", len(e.Executions))
	//	    }
	//	    return nil
	//	}
	Event interface {
		// Type returns the event type constant (e.g., RunStarted). Subscribers
		// use this to filter or route events without type assertions.
		Type() EventType
		// RunID returns the identifier of the run that produced this event.
		// All events within a single run execution share the same run ID.
		RunID() string
		// SessionID returns the logical session identifier associated with
		// the run, providing a stable join key across processes.
		SessionID() string
		// AgentID returns the agent identifier that produced this event.
		AgentID() string
		// Timestamp returns the Unix timestamp in milliseconds when the event
		// was created, not when it was delivered.
		Timestamp() int64
	}

	// baseEvent carries the fields shared by every event.
	baseEvent struct {
		runID     string
		agentID   agent.Ident
		sessionID string
		timestamp int64
	}

	// RunStartedEvent fires when a run begins execution.
	RunStartedEvent struct {
		baseEvent
		// UserID identifies the user on whose behalf the run executes.
		UserID string
		// Message is the user input that triggered the run. Empty for runs
		// continued from a pause.
		Message string
	}

	// IntermediateRunContentEvent carries intermediate output produced before
	// the final response, such as tool progress or partial reasoning.
	IntermediateRunContentEvent struct {
		baseEvent
		// Content is the intermediate text chunk.
		Content string
		// Source labels where the content came from (e.g., "reasoning",
		// "tool:search_kb"). Empty when unattributed.
		Source string
	}

	// RunContentEvent carries a chunk of the final response content. Streamed
	// runs emit many; buffered runs emit one with the full content.
	RunContentEvent struct {
		baseEvent
		// Content is the response text chunk.
		Content string
		// ContentType describes the payload: "text" or "json" for structured
		// output.
		ContentType string
	}

	// RunContentCompletedEvent signals that the final response content is
	// fully assembled.
	RunContentCompletedEvent struct {
		baseEvent
	}

	// RunPausedEvent fires when the run suspends awaiting approval of one or
	// more tool calls.
	RunPausedEvent struct {
		baseEvent
		// ApprovalID identifies the durable approval record created for this
		// pause.
		ApprovalID string
		// Executions lists the tool calls awaiting confirmation, in the order
		// the model requested them.
		Executions []*tools.Execution
	}

	// RunContinuedEvent fires when a paused run resumes.
	RunContinuedEvent struct {
		baseEvent
		// ApprovedTools names the tools whose execution was approved.
		ApprovedTools []tools.Ident
		// DeclinedTools names the tools whose execution was declined.
		DeclinedTools []tools.Ident
	}

	// RunCancelledEvent fires when a run terminates because its cancellation
	// flag was observed.
	RunCancelledEvent struct {
		baseEvent
		// Reason is the caller-provided cancellation reason, if any.
		Reason string
		// PartialContent is whatever final response content had accumulated
		// before the cancellation was observed.
		PartialContent string
	}

	// RunErrorEvent fires when a run terminates with an error.
	RunErrorEvent struct {
		baseEvent
		// Error is the terminal error. Nil when the event was decoded from a
		// serialized form; Message is always populated.
		Error error `json:"-"`
		// Message is the user-safe error text.
		Message string
		// Attempts reports how many attempts were made, including retries.
		Attempts int
	}

	// SessionSummaryStartedEvent fires when summary generation begins.
	SessionSummaryStartedEvent struct {
		baseEvent
	}

	// SessionSummaryCompletedEvent fires when the session summary is ready.
	SessionSummaryCompletedEvent struct {
		baseEvent
		// Summary is the generated session summary text.
		Summary string
	}

	// RunCompletedEvent fires after a run reaches a terminal state and
	// cleanup has run.
	RunCompletedEvent struct {
		baseEvent
		// Status is the terminal run status: "completed", "cancelled",
		// "error" or "paused".
		Status string
		// Content is the final response content. Empty for paused and failed
		// runs.
		Content string
		// Usage aggregates token usage across every model invocation in the
		// run, including retries.
		Usage model.TokenUsage
		// Duration is the wall-clock run duration.
		Duration time.Duration
	}

	// MemoryCompletedEvent fires when the run's background enrichment tasks
	// have been joined.
	MemoryCompletedEvent struct {
		baseEvent
		// Completed counts the tasks that finished successfully.
		Completed int
		// Failed counts the tasks that errored or were cancelled. Failures
		// never affect the run outcome.
		Failed int
		// Memories lists the user memories produced by the memory task, if
		// any.
		Memories []*memory.Item
	}
)

// newBaseEvent constructs a baseEvent with the current timestamp.
func newBaseEvent(runID string, agentID agent.Ident, sessionID string) baseEvent {
	return baseEvent{
		runID:     runID,
		agentID:   agentID,
		sessionID: sessionID,
		timestamp: time.Now().UnixMilli(),
	}
}

// RunID returns the run identifier.
func (e baseEvent) RunID() string { return e.runID }

// SessionID returns the logical session identifier associated with the run.
func (e baseEvent) SessionID() string { return e.sessionID }

// AgentID returns the agent identifier.
func (e baseEvent) AgentID() string { return string(e.agentID) }

// Timestamp returns the Unix timestamp in milliseconds when the event occurred.
func (e baseEvent) Timestamp() int64 { return e.timestamp }

// NewRunStartedEvent constructs a RunStartedEvent with the current timestamp.
func NewRunStartedEvent(runID string, agentID agent.Ident, sessionID, userID, message string) *RunStartedEvent {
	return &RunStartedEvent{
		baseEvent: newBaseEvent(runID, agentID, sessionID),
		UserID:    userID,
		Message:   message,
	}
}

// NewIntermediateRunContentEvent constructs an IntermediateRunContentEvent.
func NewIntermediateRunContentEvent(runID string, agentID agent.Ident, sessionID, content, source string) *IntermediateRunContentEvent {
	return &IntermediateRunContentEvent{
		baseEvent: newBaseEvent(runID, agentID, sessionID),
		Content:   content,
		Source:    source,
	}
}

// NewRunContentEvent constructs a RunContentEvent.
func NewRunContentEvent(runID string, agentID agent.Ident, sessionID, content, contentType string) *RunContentEvent {
	return &RunContentEvent{
		baseEvent:   newBaseEvent(runID, agentID, sessionID),
		Content:     content,
		ContentType: contentType,
	}
}

// NewRunContentCompletedEvent constructs a RunContentCompletedEvent.
func NewRunContentCompletedEvent(runID string, agentID agent.Ident, sessionID string) *RunContentCompletedEvent {
	return &RunContentCompletedEvent{baseEvent: newBaseEvent(runID, agentID, sessionID)}
}

// NewRunPausedEvent constructs a RunPausedEvent.
func NewRunPausedEvent(runID string, agentID agent.Ident, sessionID, approvalID string, execs []*tools.Execution) *RunPausedEvent {
	return &RunPausedEvent{
		baseEvent:  newBaseEvent(runID, agentID, sessionID),
		ApprovalID: approvalID,
		Executions: execs,
	}
}

// NewRunContinuedEvent constructs a RunContinuedEvent.
func NewRunContinuedEvent(runID string, agentID agent.Ident, sessionID string, approved, declined []tools.Ident) *RunContinuedEvent {
	return &RunContinuedEvent{
		baseEvent:     newBaseEvent(runID, agentID, sessionID),
		ApprovedTools: approved,
		DeclinedTools: declined,
	}
}

// NewRunCancelledEvent constructs a RunCancelledEvent.
func NewRunCancelledEvent(runID string, agentID agent.Ident, sessionID, reason, partial string) *RunCancelledEvent {
	return &RunCancelledEvent{
		baseEvent:      newBaseEvent(runID, agentID, sessionID),
		Reason:         reason,
		PartialContent: partial,
	}
}

// NewRunErrorEvent constructs a RunErrorEvent. The message defaults to the
// error text when empty.
func NewRunErrorEvent(runID string, agentID agent.Ident, sessionID string, err error, message string, attempts int) *RunErrorEvent {
	if message == "" && err != nil {
		message = err.Error()
	}
	return &RunErrorEvent{
		baseEvent: newBaseEvent(runID, agentID, sessionID),
		Error:     err,
		Message:   message,
		Attempts:  attempts,
	}
}

// NewSessionSummaryStartedEvent constructs a SessionSummaryStartedEvent.
func NewSessionSummaryStartedEvent(runID string, agentID agent.Ident, sessionID string) *SessionSummaryStartedEvent {
	return &SessionSummaryStartedEvent{baseEvent: newBaseEvent(runID, agentID, sessionID)}
}

// NewSessionSummaryCompletedEvent constructs a SessionSummaryCompletedEvent.
func NewSessionSummaryCompletedEvent(runID string, agentID agent.Ident, sessionID, summary string) *SessionSummaryCompletedEvent {
	return &SessionSummaryCompletedEvent{
		baseEvent: newBaseEvent(runID, agentID, sessionID),
		Summary:   summary,
	}
}

// NewRunCompletedEvent constructs a RunCompletedEvent.
func NewRunCompletedEvent(runID string, agentID agent.Ident, sessionID, status, content string, usage model.TokenUsage, duration time.Duration) *RunCompletedEvent {
	return &RunCompletedEvent{
		baseEvent: newBaseEvent(runID, agentID, sessionID),
		Status:    status,
		Content:   content,
		Usage:     usage,
		Duration:  duration,
	}
}

// NewMemoryCompletedEvent constructs a MemoryCompletedEvent.
func NewMemoryCompletedEvent(runID string, agentID agent.Ident, sessionID string, completed, failed int, memories []*memory.Item) *MemoryCompletedEvent {
	return &MemoryCompletedEvent{
		baseEvent: newBaseEvent(runID, agentID, sessionID),
		Completed: completed,
		Failed:    failed,
		Memories:  memories,
	}
}

// Type method implementations

func (e *RunStartedEvent) Type() EventType              { return RunStarted }
func (e *IntermediateRunContentEvent) Type() EventType  { return IntermediateRunContent }
func (e *RunContentEvent) Type() EventType              { return RunContent }
func (e *RunContentCompletedEvent) Type() EventType     { return RunContentCompleted }
func (e *RunPausedEvent) Type() EventType               { return RunPaused }
func (e *RunContinuedEvent) Type() EventType            { return RunContinued }
func (e *RunCancelledEvent) Type() EventType            { return RunCancelled }
func (e *RunErrorEvent) Type() EventType                { return RunError }
func (e *SessionSummaryStartedEvent) Type() EventType   { return SessionSummaryStarted }
func (e *SessionSummaryCompletedEvent) Type() EventType { return SessionSummaryCompleted }
func (e *RunCompletedEvent) Type() EventType            { return RunCompleted }
func (e *MemoryCompletedEvent) Type() EventType         { return MemoryCompleted }
