// Package tools defines the tool contract exposed to the model and the
// execution records the run loop persists. Tools are plain Go functions with
// a JSON schema; toolkits group related tools. The run loop selects the tool
// set per run, the model requests calls, and executions are recorded on the
// run in the order the model emitted them.
package tools

import (
	"context"
	"encoding/json"
	"time"
)

type (
	// Ident is the strong type for tool names.
	Ident string

	// Tool describes a single callable tool.
	Tool struct {
		// Name is the identifier presented to the model.
		Name Ident

		// Description documents the tool for prompting purposes.
		Description string

		// InputSchema is the JSON Schema object describing the tool's input.
		InputSchema map[string]any

		// Handler executes the tool. It receives the decoded call and returns
		// the result serialized for the model. A nil Handler marks an
		// external tool whose results are provided out-of-band.
		Handler Handler

		// RequiresConfirmation marks tools that must not execute without an
		// explicit human approval. Calls to such tools pause the run.
		RequiresConfirmation bool

		// Available optionally gates the tool per run. When non-nil and it
		// returns false the tool is not exposed to the model for that run.
		Available func(sessionState map[string]any) bool
	}

	// Toolkit groups tools under a name so agents can be configured with
	// coarse-grained capabilities.
	Toolkit struct {
		// Name identifies the toolkit.
		Name string
		// Tools enumerates the member tools.
		Tools []*Tool
	}

	// Handler is the execution function for a tool. The call carries the raw
	// JSON arguments and the mutable session state shared with the run.
	Handler func(ctx context.Context, call *Call) (*Result, error)

	// Call is the input to a tool handler.
	Call struct {
		// ID is the model-assigned tool call identifier.
		ID string
		// Name is the tool being invoked.
		Name Ident
		// Arguments carries the JSON arguments requested by the model.
		Arguments json.RawMessage
		// SessionState is the run's mutable session state. Handlers may read
		// and write it; changes persist with the session.
		SessionState map[string]any
	}

	// Result is the output of a tool handler.
	Result struct {
		// Content is the serialized result fed back to the model.
		Content string
		// Metadata carries optional structured data recorded on the
		// execution but not sent to the model.
		Metadata map[string]any
	}

	// Execution is the durable record of a single tool call within a run.
	// Executions preserve the order the model emitted the calls.
	Execution struct {
		// ToolCallID is the model-assigned call identifier.
		ToolCallID string `json:"tool_call_id"`
		// ToolName is the tool that was (or is to be) invoked.
		ToolName Ident `json:"tool_name"`
		// Arguments is the canonical JSON argument payload.
		Arguments json.RawMessage `json:"arguments,omitempty"`
		// Result is the serialized tool output. Empty while the call is
		// pending approval.
		Result string `json:"result,omitempty"`
		// Error records a failed execution. Empty on success.
		Error string `json:"error,omitempty"`
		// RequiresConfirmation mirrors the tool's confirmation requirement at
		// call time.
		RequiresConfirmation bool `json:"requires_confirmation,omitempty"`
		// Paused reports that the call is awaiting human approval. A run with
		// any paused execution has status "paused".
		Paused bool `json:"is_paused,omitempty"`
		// StartedAt and CompletedAt bound the execution when it ran in-process.
		StartedAt   time.Time `json:"started_at,omitzero"`
		CompletedAt time.Time `json:"completed_at,omitzero"`
		// Metadata carries handler-provided structured data.
		Metadata map[string]any `json:"metadata,omitempty"`
	}
)

// Schema returns the tool input schema, substituting an empty object schema
// when none was declared. Model clients require a schema for every tool.
func (t *Tool) Schema() map[string]any {
	if t.InputSchema != nil {
		return t.InputSchema
	}
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// Lookup returns the tool with the given name, searching all toolkits in
// order. Returns nil when no tool matches.
func Lookup(kits []*Toolkit, name Ident) *Tool {
	for _, kit := range kits {
		if kit == nil {
			continue
		}
		for _, t := range kit.Tools {
			if t != nil && t.Name == name {
				return t
			}
		}
	}
	return nil
}
