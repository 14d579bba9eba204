package hooks

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/agentrun/runtime/agent/memory"
	"goa.design/agentrun/runtime/agent/model"
	"goa.design/agentrun/runtime/agent/tools"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	events := []Event{
		NewRunStartedEvent("r1", "a1", "s1", "u1", "hello"),
		NewIntermediateRunContentEvent("r1", "a1", "s1", "thinking", "reasoning"),
		NewRunContentEvent("r1", "a1", "s1", "partial", "text"),
		NewRunContentCompletedEvent("r1", "a1", "s1"),
		NewRunPausedEvent("r1", "a1", "s1", "appr-1", []*tools.Execution{
			{ToolCallID: "tc-1", ToolName: "clock.set_alarm", Paused: true, RequiresConfirmation: true},
		}),
		NewRunContinuedEvent("r1", "a1", "s1", []tools.Ident{"clock.set_alarm"}, []tools.Ident{"clock.now"}),
		NewRunCancelledEvent("r1", "a1", "s1", "user asked", "partial text"),
		NewRunErrorEvent("r1", "a1", "s1", errors.New("boom"), "", 3),
		NewSessionSummaryStartedEvent("r1", "a1", "s1"),
		NewSessionSummaryCompletedEvent("r1", "a1", "s1", "summary text"),
		NewRunCompletedEvent("r1", "a1", "s1", "completed", "done",
			model.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, 2*time.Second),
		NewMemoryCompletedEvent("r1", "a1", "s1", 2, 1, []*memory.Item{{Content: "likes Go"}}),
	}

	for _, evt := range events {
		t.Run(string(evt.Type()), func(t *testing.T) {
			env, err := Encode(evt)
			require.NoError(t, err)
			require.Equal(t, evt.Type(), env.Type)
			require.Equal(t, "r1", env.RunID)
			require.Equal(t, "s1", env.SessionID)

			decoded, err := Decode(env)
			require.NoError(t, err)
			require.Equal(t, evt.Type(), decoded.Type())
			require.Equal(t, evt.RunID(), decoded.RunID())
			require.Equal(t, evt.AgentID(), decoded.AgentID())
			require.Equal(t, evt.SessionID(), decoded.SessionID())
			require.Equal(t, evt.Timestamp(), decoded.Timestamp())
		})
	}
}

func TestDecodePreservesContentFields(t *testing.T) {
	env, err := Encode(NewRunContentEvent("r1", "a1", "s1", "chunk", "json"))
	require.NoError(t, err)

	decoded, err := Decode(env)
	require.NoError(t, err)
	evt, ok := decoded.(*RunContentEvent)
	require.True(t, ok)
	require.Equal(t, "chunk", evt.Content)
	require.Equal(t, "json", evt.ContentType)
}

func TestDecodePreservesPausedExecutions(t *testing.T) {
	execs := []*tools.Execution{
		{ToolCallID: "tc-1", ToolName: "clock.set_alarm", Paused: true},
		{ToolCallID: "tc-2", ToolName: "clock.now"},
	}
	env, err := Encode(NewRunPausedEvent("r1", "a1", "s1", "appr-1", execs))
	require.NoError(t, err)

	decoded, err := Decode(env)
	require.NoError(t, err)
	evt := decoded.(*RunPausedEvent)
	require.Equal(t, "appr-1", evt.ApprovalID)
	require.Len(t, evt.Executions, 2)
	require.Equal(t, "tc-1", evt.Executions[0].ToolCallID)
	require.True(t, evt.Executions[0].Paused)
}

func TestRunErrorEventCollapsesToMessage(t *testing.T) {
	env, err := Encode(NewRunErrorEvent("r1", "a1", "s1", errors.New("model exploded"), "", 2))
	require.NoError(t, err)

	decoded, err := Decode(env)
	require.NoError(t, err)
	evt := decoded.(*RunErrorEvent)
	require.Nil(t, evt.Error)
	require.Equal(t, "model exploded", evt.Message)
	require.Equal(t, 2, evt.Attempts)
}

func TestDecodeRunCompletedUsageAndDuration(t *testing.T) {
	usage := model.TokenUsage{InputTokens: 100, OutputTokens: 40, TotalTokens: 140}
	env, err := Encode(NewRunCompletedEvent("r1", "a1", "s1", "completed", "final", usage, 1500*time.Millisecond))
	require.NoError(t, err)

	decoded, err := Decode(env)
	require.NoError(t, err)
	evt := decoded.(*RunCompletedEvent)
	require.Equal(t, "completed", evt.Status)
	require.Equal(t, "final", evt.Content)
	require.Equal(t, usage, evt.Usage)
	require.Equal(t, 1500*time.Millisecond, evt.Duration)
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode(&Envelope{Type: "run_exploded", RunID: "r1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown event type")
}
