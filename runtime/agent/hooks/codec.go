package hooks

import (
	"encoding/json"
	"fmt"
	"time"

	"goa.design/agentrun/runtime/agent"
	"goa.design/agentrun/runtime/agent/model"
	"goa.design/agentrun/runtime/agent/tools"
)

type (
	// Envelope is the serialized form of an Event, suitable for persistence
	// on the run record and for transport over stream sinks. Payload contains
	// the event-specific fields encoded as JSON.
	Envelope struct {
		// Type identifies the event variant (for example, RunContent).
		Type EventType `json:"type" bson:"type"`
		// RunID identifies the run that owns this event.
		RunID string `json:"run_id" bson:"run_id"`
		// AgentID identifies the agent that produced this event.
		AgentID agent.Ident `json:"agent_id" bson:"agent_id"`
		// SessionID identifies the logical session that owns this event.
		SessionID string `json:"session_id" bson:"session_id"`
		// Timestamp is the event creation time in Unix milliseconds.
		Timestamp int64 `json:"timestamp" bson:"timestamp"`
		// Payload holds event-specific fields encoded as JSON.
		Payload json.RawMessage `json:"payload,omitempty" bson:"payload,omitempty"`
	}

	// runErrorPayload serializes RunErrorEvent. The error value collapses to
	// its message since errors cannot be serialized directly.
	runErrorPayload struct {
		Message  string `json:"message"`
		Attempts int    `json:"attempts"`
	}

	runCompletedPayload struct {
		Status   string           `json:"status"`
		Content  string           `json:"content,omitempty"`
		Usage    model.TokenUsage `json:"usage"`
		Duration time.Duration    `json:"duration"`
	}
)

// Encode converts the event into a transportable envelope.
func Encode(evt Event) (*Envelope, error) {
	var payload json.RawMessage
	switch e := evt.(type) {
	case *RunErrorEvent:
		p := runErrorPayload{Message: e.Message, Attempts: e.Attempts}
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal run error payload: %w", err)
		}
		payload = b
	default:
		b, err := json.Marshal(evt)
		if err != nil {
			return nil, fmt.Errorf("marshal event payload %q: %w", evt.Type(), err)
		}
		payload = b
	}
	return &Envelope{
		Type:      evt.Type(),
		RunID:     evt.RunID(),
		AgentID:   agent.Ident(evt.AgentID()),
		SessionID: evt.SessionID(),
		Timestamp: evt.Timestamp(),
		Payload:   payload,
	}, nil
}

// Decode reconstructs an Event from its envelope. The decoded event preserves
// the original timestamp.
func Decode(env *Envelope) (Event, error) {
	base := baseEvent{
		runID:     env.RunID,
		agentID:   env.AgentID,
		sessionID: env.SessionID,
		timestamp: env.Timestamp,
	}
	switch env.Type {
	case RunStarted:
		var p RunStartedEvent
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return &RunStartedEvent{baseEvent: base, UserID: p.UserID, Message: p.Message}, nil

	case IntermediateRunContent:
		var p IntermediateRunContentEvent
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return &IntermediateRunContentEvent{baseEvent: base, Content: p.Content, Source: p.Source}, nil

	case RunContent:
		var p RunContentEvent
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return &RunContentEvent{baseEvent: base, Content: p.Content, ContentType: p.ContentType}, nil

	case RunContentCompleted:
		return &RunContentCompletedEvent{baseEvent: base}, nil

	case RunPaused:
		var p struct {
			ApprovalID string             `json:"ApprovalID"`
			Executions []*tools.Execution `json:"Executions"`
		}
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return &RunPausedEvent{baseEvent: base, ApprovalID: p.ApprovalID, Executions: p.Executions}, nil

	case RunContinued:
		var p RunContinuedEvent
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return &RunContinuedEvent{baseEvent: base, ApprovedTools: p.ApprovedTools, DeclinedTools: p.DeclinedTools}, nil

	case RunCancelled:
		var p RunCancelledEvent
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return &RunCancelledEvent{baseEvent: base, Reason: p.Reason, PartialContent: p.PartialContent}, nil

	case RunError:
		var p runErrorPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return &RunErrorEvent{baseEvent: base, Message: p.Message, Attempts: p.Attempts}, nil

	case SessionSummaryStarted:
		return &SessionSummaryStartedEvent{baseEvent: base}, nil

	case SessionSummaryCompleted:
		var p SessionSummaryCompletedEvent
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return &SessionSummaryCompletedEvent{baseEvent: base, Summary: p.Summary}, nil

	case RunCompleted:
		var p runCompletedPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return &RunCompletedEvent{baseEvent: base, Status: p.Status, Content: p.Content, Usage: p.Usage, Duration: p.Duration}, nil

	case MemoryCompleted:
		var p MemoryCompletedEvent
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return &MemoryCompletedEvent{baseEvent: base, Completed: p.Completed, Failed: p.Failed, Memories: p.Memories}, nil
	}
	return nil, fmt.Errorf("unknown event type %q", env.Type)
}

func decodePayload(env *Envelope, dst any) error {
	if len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return nil
}
