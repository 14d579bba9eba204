package run

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/agentrun/runtime/agent/model"
	"goa.design/agentrun/runtime/agent/tools"
)

func TestNewRecordPending(t *testing.T) {
	rec := New("run-1", "sess-1", "agent.chat", "user-1", &Input{Message: "hi"})

	require.Equal(t, StatusPending, rec.Status)
	require.Equal(t, "run-1", rec.RunID)
	require.Equal(t, "sess-1", rec.SessionID)
	require.False(t, rec.CreatedAt.IsZero())
	require.Equal(t, rec.CreatedAt, rec.UpdatedAt)
}

func TestStatusTerminal(t *testing.T) {
	require.True(t, StatusPaused.Terminal())
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusCancelled.Terminal())
	require.True(t, StatusError.Terminal())
	require.False(t, StatusPending.Terminal())
	require.False(t, StatusRunning.Terminal())
}

func TestSetStatusBumpsUpdatedAt(t *testing.T) {
	rec := New("run-1", "sess-1", "agent.chat", "", nil)
	before := rec.UpdatedAt
	time.Sleep(time.Millisecond)

	rec.SetStatus(StatusRunning)
	require.Equal(t, StatusRunning, rec.Status)
	require.True(t, rec.UpdatedAt.After(before))
}

func TestPausedExecutions(t *testing.T) {
	rec := New("run-1", "sess-1", "agent.chat", "", nil)
	require.False(t, rec.Paused())
	require.Empty(t, rec.PausedExecutions())

	rec.Tools = []*tools.Execution{
		{ToolCallID: "tc-1", ToolName: "clock.now", Result: "12:00"},
		{ToolCallID: "tc-2", ToolName: "clock.set_alarm", Paused: true},
		{ToolCallID: "tc-3", ToolName: "clock.set_alarm", Paused: true},
	}

	require.True(t, rec.Paused())
	paused := rec.PausedExecutions()
	require.Len(t, paused, 2)
	require.Equal(t, "tc-2", paused[0].ToolCallID)
	require.Equal(t, "tc-3", paused[1].ToolCallID)
}

func TestEnsureContent(t *testing.T) {
	rec := New("run-1", "sess-1", "agent.chat", "", nil)
	rec.EnsureContent("fallback")
	require.Equal(t, "fallback", rec.Content)

	rec.Content = "real"
	rec.EnsureContent("fallback")
	require.Equal(t, "real", rec.Content)
}

func TestApplyUpdatedTools(t *testing.T) {
	rec := New("run-1", "sess-1", "agent.chat", "", nil)
	rec.Tools = []*tools.Execution{
		{ToolCallID: "tc-1", ToolName: "a", Paused: true},
		{ToolCallID: "tc-2", ToolName: "b", Paused: true},
	}

	missing := rec.ApplyUpdatedTools([]*tools.Execution{
		{ToolCallID: "tc-2", ToolName: "b", Result: "ok"},
		{ToolCallID: "tc-9", ToolName: "z"},
	})

	require.Equal(t, []string{"tc-9"}, missing)
	// Ordering preserved, matching entry replaced.
	require.Equal(t, "tc-1", rec.Tools[0].ToolCallID)
	require.True(t, rec.Tools[0].Paused)
	require.Equal(t, "ok", rec.Tools[1].Result)
	require.False(t, rec.Tools[1].Paused)
}

func TestMetricsTimerIdempotent(t *testing.T) {
	var m Metrics
	m.StartTimer()
	started := m.StartedAt
	m.StartTimer()
	require.Equal(t, started, m.StartedAt)

	m.StopTimer()
	completed := m.CompletedAt
	duration := m.Duration
	time.Sleep(time.Millisecond)
	m.StopTimer()
	require.Equal(t, completed, m.CompletedAt)
	require.Equal(t, duration, m.Duration)
}

func TestMetricsAddUsage(t *testing.T) {
	var m Metrics
	m.AddUsage(model.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15})
	m.AddUsage(model.TokenUsage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3})

	require.Equal(t, 11, m.Usage.InputTokens)
	require.Equal(t, 7, m.Usage.OutputTokens)
	require.Equal(t, 18, m.Usage.TotalTokens)
	require.Equal(t, 2, m.ModelCalls)
}

func TestMetricsTimerResumesAcrossLegs(t *testing.T) {
	var m Metrics
	m.StartTimer()
	time.Sleep(time.Millisecond)
	m.StopTimer()
	started := m.StartedAt
	firstLeg := m.Duration
	require.False(t, m.CompletedAt.IsZero())
	require.Positive(t, firstLeg)

	// Re-opening the timer keeps the original start and accumulates the new
	// leg instead of freezing the duration at the first stop.
	m.StartTimer()
	require.Equal(t, started, m.StartedAt)
	require.True(t, m.CompletedAt.IsZero())
	time.Sleep(time.Millisecond)
	m.StopTimer()
	require.Greater(t, m.Duration, firstLeg)
	require.False(t, m.CompletedAt.IsZero())
}
