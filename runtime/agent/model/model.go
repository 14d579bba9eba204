// Package model provides interfaces for LLM clients used by the run loop.
// It defines a provider-agnostic abstraction over chat completion APIs
// (OpenAI, Anthropic, etc.) so the orchestrator can invoke models without
// coupling to specific SDKs. Implementations translate these normalized types
// into provider-specific formats.
package model

import (
	"context"
	"encoding/json"
	"errors"
)

type (
	// Client defines the contract the run loop uses to invoke LLM calls.
	// Implementations wrap provider SDKs and translate Request/Response to
	// provider-specific formats. Clients should be thread-safe and reusable
	// across runs.
	Client interface {
		// Complete sends a chat completion request to the model provider and
		// returns the generated response. Returns an error if the model is
		// unavailable, quota is exceeded, or the request is malformed.
		Complete(ctx context.Context, req Request) (Response, error)

		// Stream sends a chat completion request and returns a Streamer that
		// yields incremental chunks (text, tool calls, usage deltas). The
		// returned Streamer must be closed by callers. Providers that do not
		// support streaming return ErrStreamingUnsupported.
		Stream(ctx context.Context, req Request) (Streamer, error)
	}

	// Streamer delivers incremental model output. Successive calls to Recv
	// return Chunk values until io.EOF. Implementations must be safe to call
	// from a single goroutine and release underlying resources on Close.
	Streamer interface {
		// Recv returns the next chunk from the stream.
		Recv() (Chunk, error)
		// Close closes the stream.
		Close() error
	}

	// Request captures the normalized parameters for a model invocation.
	Request struct {
		// Model identifies the target model using the provider-specific
		// identifier (e.g., "gpt-4o", "claude-sonnet-4-5").
		Model string

		// Messages is the ordered chat history provided to the model,
		// including system prompts, user inputs, and prior assistant
		// responses.
		Messages []*Message

		// Tools describes the tool schemas exposed to the model for function
		// calling. Empty if the model should not invoke tools.
		Tools []*ToolDefinition

		// ToolChoice optionally constrains which tool the model may call.
		// Empty means provider default (auto).
		ToolChoice string

		// ToolCallLimit caps the number of tool calls the model may request in
		// a single response. Zero means no cap.
		ToolCallLimit int

		// ResponseFormat optionally names a structured output mode understood
		// by the provider (e.g., "json_object"). Empty means free-form text.
		ResponseFormat string

		// Temperature controls sampling temperature. Zero means greedy
		// decoding.
		Temperature float32

		// MaxTokens caps the number of completion tokens. Zero uses the
		// provider default.
		MaxTokens int
	}

	// Response wraps the generated content and any tool call requests from
	// the model provider.
	Response struct {
		// Content contains the assistant messages returned by the model.
		// Empty if the model only requested tool calls.
		Content []Message

		// ToolCalls lists tool invocations requested by the model, in the
		// order the model emitted them. Empty if the model produced a final
		// text response.
		ToolCalls []ToolCall

		// Structured contains provider-parsed structured output when the
		// request declared a response format. Nil otherwise.
		Structured json.RawMessage

		// Usage reports token usage when available.
		Usage TokenUsage

		// StopReason explains why the model stopped generating. Values are
		// provider-specific and may be empty.
		StopReason string
	}

	// Message mirrors an LLM chat message with role and content.
	Message struct {
		// Role indicates the message role: "user", "assistant", "system", or
		// "tool" for tool results.
		Role string

		// Content is the message text. May be empty when the message is a
		// tool call request or a tool result with no text.
		Content string

		// ToolCallID correlates a "tool" role message with the tool call that
		// produced it. Empty for other roles.
		ToolCallID string

		// Meta carries provider-specific metadata such as message ids. The
		// run loop preserves it but never interprets it.
		Meta map[string]any
	}

	// ToolDefinition describes a tool schema passed to model providers for
	// function calling.
	ToolDefinition struct {
		// Name is the identifier presented to the model.
		Name string
		// Description documents the tool for prompting purposes.
		Description string
		// InputSchema is the JSON Schema object describing the tool's input
		// parameters.
		InputSchema map[string]any
	}

	// ToolCall captures a tool invocation requested by the model provider.
	ToolCall struct {
		// ID is the provider-assigned tool call identifier. Results are
		// correlated back to the call through this id.
		ID string
		// Name identifies which tool should be invoked.
		Name string
		// Arguments carries the JSON arguments requested by the model.
		Arguments json.RawMessage
	}

	// Chunk represents a streaming event emitted by the model. The Type value
	// indicates which payload fields are populated.
	Chunk struct {
		// Type is the chunk kind. One of ChunkTypeText, ChunkTypeToolCall,
		// ChunkTypeUsage or ChunkTypeStop.
		Type string
		// Text contains the incremental assistant text when Type == "text".
		Text string
		// ToolCall carries the requested tool invocation when Type == "tool_call".
		ToolCall *ToolCall
		// UsageDelta reports incremental token usage when Type == "usage".
		UsageDelta *TokenUsage
		// StopReason explains termination when Type == "stop".
		StopReason string
	}

	// TokenUsage records prompt/completion token counts when provided by the
	// model provider. All fields are zero if the provider does not report
	// usage.
	TokenUsage struct {
		// InputTokens counts tokens consumed by the prompt and history.
		InputTokens int
		// OutputTokens counts tokens produced by the model.
		OutputTokens int
		// TotalTokens reports the aggregate tokens consumed.
		TotalTokens int
	}
)

// Conversation roles used across providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Chunk type constants are the well-known streaming event kinds produced by
// model providers. These values populate Chunk.Type.
const (
	ChunkTypeText     = "text"
	ChunkTypeToolCall = "tool_call"
	ChunkTypeUsage    = "usage"
	ChunkTypeStop     = "stop"
)

// Add accumulates the counts from other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// ErrStreamingUnsupported indicates the model provider does not implement
// streaming for the requested model/parameters.
var ErrStreamingUnsupported = errors.New("model: streaming not supported")

// ErrRateLimited indicates the provider rejected the request due to rate
// limiting. Provider adapters wrap their 429-style failures with this
// sentinel so middleware can react to capacity signals.
var ErrRateLimited = errors.New("model: rate limited")
