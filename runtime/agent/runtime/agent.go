package runtime

import (
	"context"

	"goa.design/agentrun/runtime/agent"
	"goa.design/agentrun/runtime/agent/hooks"
	"goa.design/agentrun/runtime/agent/memory"
	"goa.design/agentrun/runtime/agent/model"
	"goa.design/agentrun/runtime/agent/run"
	"goa.design/agentrun/runtime/agent/tools"
)

type (
	// Agent bundles everything the runtime needs to execute runs for one
	// agent: the model client, tool surface, hooks, enrichment extractors,
	// and default run options. Agents are registered once and shared by all
	// runs; the struct is read-only after registration.
	Agent struct {
		// ID is the unique agent identifier (e.g., "support.triage").
		ID agent.Ident
		// Name is the human-readable agent name, used in artifact file
		// names and approval records.
		Name string
		// Description documents the agent.
		Description string

		// Model is the primary model client. Required.
		Model model.Client
		// ModelID and Provider identify the model for the run record.
		ModelID  string
		Provider string
		// SystemPrompt is the base system message. The message builder
		// appends dependency and session-state blocks to it per the resolved
		// options.
		SystemPrompt string
		// Temperature and MaxTokens are forwarded to every model request.
		Temperature float32
		MaxTokens   int
		// ToolChoice and ToolCallLimit constrain model tool use.
		ToolChoice    string
		ToolCallLimit int

		// OutputModel optionally re-invokes a secondary model to produce a
		// structured variant of the primary response. When set, primary
		// content events are downgraded to intermediate content on streams.
		OutputModel *SecondaryModel
		// ParserModel optionally parses free-form content into the declared
		// output schema.
		ParserModel *SecondaryModel

		// Toolkits enumerate the tools exposed to the model.
		Toolkits []*tools.Toolkit

		// Retriever optionally supplies knowledge references for the run.
		Retriever Retriever

		// PreHooks run before the model call. They may mutate the run input
		// and emit events; an InputValidationError terminates the run.
		PreHooks []Hook
		// PostHooks run after response assembly. They may inspect and amend
		// the output; an OutputValidationError terminates the run.
		PostHooks []Hook
		// Reasoning optionally runs between RunStarted and the model call,
		// emitting intermediate content events.
		Reasoning Hook

		// Extractors configures the background enrichment tasks, keyed by
		// item kind. Nil entries and a nil map disable extraction.
		Extractors map[memory.Kind]memory.Extractor

		// SummarizeSessions enables session summary generation after each
		// completed run.
		SummarizeSessions bool

		// DefaultOptions is the lowest-precedence option layer.
		DefaultOptions *run.Options
	}

	// SecondaryModel configures an auxiliary model invocation.
	SecondaryModel struct {
		// Client is the model client. Falls back to the agent's primary
		// client when nil.
		Client model.Client
		// ModelID identifies the model.
		ModelID string
		// ResponseFormat names the structured output mode requested from the
		// provider.
		ResponseFormat string
	}

	// Retriever supplies knowledge references for a run.
	Retriever interface {
		// Retrieve returns references relevant to the query, scoped by the
		// run's knowledge filters.
		Retrieve(ctx context.Context, query string, filters map[string]any) ([]*run.Reference, error)
	}

	// Hook is a pre- or post-hook invoked around the model call. Hooks
	// receive the mutable run state and an emitter for lifecycle events.
	Hook func(ctx context.Context, hc *HookContext) error

	// HookContext is the state passed to hooks and reasoning.
	HookContext struct {
		// Agent is the registered agent definition. Read-only.
		Agent *Agent
		// Record is the run record. Pre-hooks may mutate Input; post-hooks
		// may amend Content and Metadata.
		Record *run.Record
		// RunContext is the transient per-run state.
		RunContext *run.Context
		// Emit forwards an event through the run's event pipeline.
		Emit func(evt hooks.Event) error
	}
)

// validate checks the registration is usable.
func (a *Agent) validate() error {
	if a == nil {
		return &InputValidationError{Field: "agent", Reason: "agent is required"}
	}
	if a.ID == "" {
		return &InputValidationError{Field: "agent.id", Reason: "agent id is required"}
	}
	if a.Model == nil {
		return &InputValidationError{Field: "agent.model", Reason: "model client is required"}
	}
	return nil
}

// toolset returns the tools available for this run, honoring per-tool
// availability gates, in a form the model backend can consume.
func (a *Agent) toolset(sessionState map[string]any) (avail []*tools.Tool, defs []*model.ToolDefinition) {
	for _, kit := range a.Toolkits {
		if kit == nil {
			continue
		}
		for _, t := range kit.Tools {
			if t == nil {
				continue
			}
			if t.Available != nil && !t.Available(sessionState) {
				continue
			}
			avail = append(avail, t)
			defs = append(defs, &model.ToolDefinition{
				Name:        string(t.Name),
				Description: t.Description,
				InputSchema: t.Schema(),
			})
		}
	}
	return avail, defs
}
