package runtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/agentrun/runtime/agent/approval"
	"goa.design/agentrun/runtime/agent/hooks"
	"goa.design/agentrun/runtime/agent/model"
	"goa.design/agentrun/runtime/agent/run"
	"goa.design/agentrun/runtime/agent/tools"
)

// pauseRun drives a run into the paused state via the confirmation-gated tool.
func pauseRun(t *testing.T, rt *Runtime, sessionID string) *run.Record {
	t.Helper()
	rec, err := rt.Run(context.Background(), &RunRequest{
		AgentID:   "test.agent",
		Message:   "use the gated tool",
		SessionID: sessionID,
	})
	require.NoError(t, err)
	require.Equal(t, run.StatusPaused, rec.Status)
	return rec
}

func gatedThenFinal() *scriptedModel {
	return &scriptedModel{turns: []scriptTurn{
		{calls: []model.ToolCall{{ID: "tc-1", Name: "echo.gated", Arguments: json.RawMessage(`{"at":"07:00"}`)}}},
		{text: "all done"},
	}}
}

func TestRunPausesOnGatedTool(t *testing.T) {
	rt := newTestRuntime(t, gatedThenFinal(), Options{})
	rec := pauseRun(t, rt, "sess-pause")

	paused := rec.PausedExecutions()
	require.Len(t, paused, 1)
	require.Equal(t, "tc-1", paused[0].ToolCallID)
	require.True(t, paused[0].RequiresConfirmation)
	require.Empty(t, paused[0].Result, "gated tool must not execute before approval")

	require.Len(t, rec.Requirements, 1)
	require.Equal(t, "tc-1", rec.Requirements[0].ToolCallID)

	// A durable approval record backs the pause.
	ap, err := rt.Approvals().GetPendingByRun(context.Background(), rec.RunID)
	require.NoError(t, err)
	require.Equal(t, approval.StatusPending, ap.Status)
	require.Equal(t, rec.SessionID, ap.SessionID)

	// The paused record is persisted for later continuation.
	stored, err := rt.Sessions().GetRun(context.Background(), "sess-pause", rec.RunID)
	require.NoError(t, err)
	require.Equal(t, run.StatusPaused, stored.Status)
}

func TestContinueRunApproved(t *testing.T) {
	rt := newTestRuntime(t, gatedThenFinal(), Options{})
	rec := pauseRun(t, rt, "sess-pause")

	var updated []*tools.Execution
	for _, exec := range rec.PausedExecutions() {
		cp := *exec
		cp.Paused = false
		updated = append(updated, &cp)
	}

	resumed, err := rt.ContinueRun(context.Background(), &ContinueRequest{
		AgentID:      "test.agent",
		Record:       rec,
		UpdatedTools: updated,
	})
	require.NoError(t, err)
	require.Equal(t, run.StatusCompleted, resumed.Status)
	require.Equal(t, "all done", resumed.Content)
	require.Equal(t, `gated:{"at":"07:00"}`, resumed.Tools[0].Result)

	// The continuation resolved the approval record.
	_, err = rt.Approvals().GetPendingByRun(context.Background(), rec.RunID)
	require.ErrorIs(t, err, approval.ErrApprovalNotFound)
}

func TestContinueRunByRunIDWithRequirements(t *testing.T) {
	rt := newTestRuntime(t, gatedThenFinal(), Options{})
	rec := pauseRun(t, rt, "sess-req")

	resumed, err := rt.ContinueRun(context.Background(), &ContinueRequest{
		AgentID:   "test.agent",
		RunID:     rec.RunID,
		SessionID: "sess-req",
		Requirements: []*run.Requirement{
			{ID: "req-tc-1", ToolCallID: "tc-1", Satisfied: true},
		},
	})
	require.NoError(t, err)
	require.Equal(t, run.StatusCompleted, resumed.Status)
	require.Equal(t, "all done", resumed.Content)
}

func TestContinueRunUnsatisfiedRequirementStaysPaused(t *testing.T) {
	rt := newTestRuntime(t, gatedThenFinal(), Options{})
	rec := pauseRun(t, rt, "sess-declined")

	resumed, err := rt.ContinueRun(context.Background(), &ContinueRequest{
		AgentID:   "test.agent",
		RunID:     rec.RunID,
		SessionID: "sess-declined",
		Requirements: []*run.Requirement{
			{ID: "req-tc-1", ToolCallID: "tc-1", Satisfied: false},
		},
	})
	require.NoError(t, err)
	require.Equal(t, run.StatusPaused, resumed.Status)
	require.Empty(t, resumed.Tools[0].Result)
}

func TestContinueRunSyntheticResultSkipsHandler(t *testing.T) {
	m := gatedThenFinal()
	rt := newTestRuntime(t, m, Options{})
	rec := pauseRun(t, rt, "sess-synth")

	exec := *rec.PausedExecutions()[0]
	exec.Paused = false
	exec.Result = "caller supplied"

	resumed, err := rt.ContinueRun(context.Background(), &ContinueRequest{
		AgentID:      "test.agent",
		Record:       rec,
		UpdatedTools: []*tools.Execution{&exec},
	})
	require.NoError(t, err)
	require.Equal(t, run.StatusCompleted, resumed.Status)
	require.Equal(t, "caller supplied", resumed.Tools[0].Result)

	// The model saw the synthetic result, not a handler-produced one.
	reqs := m.recorded()
	last := reqs[len(reqs)-1].Messages
	require.Equal(t, model.RoleTool, last[len(last)-1].Role)
	require.Equal(t, "caller supplied", last[len(last)-1].Content)
}

func TestContinueRunStreamEmitsRunContinued(t *testing.T) {
	rt := newTestRuntime(t, gatedThenFinal(), Options{})
	rec := pauseRun(t, rt, "sess-stream")

	var updated []*tools.Execution
	for _, exec := range rec.PausedExecutions() {
		cp := *exec
		cp.Paused = false
		updated = append(updated, &cp)
	}

	h, err := rt.ContinueRunStream(context.Background(), &ContinueRequest{
		AgentID:      "test.agent",
		Record:       rec,
		UpdatedTools: updated,
	})
	require.NoError(t, err)
	events := collectEvents(t, h)

	require.NotEmpty(t, events)
	first, ok := events[0].(*hooks.RunContinuedEvent)
	require.True(t, ok, "first event must be the continuation")
	require.Equal(t, []tools.Ident{"echo.gated"}, first.ApprovedTools)
	require.Equal(t, hooks.RunCompleted, events[len(events)-1].Type())

	resumed, err := h.Result()
	require.NoError(t, err)
	require.Equal(t, run.StatusCompleted, resumed.Status)
}

func TestContinueRunValidation(t *testing.T) {
	rt := newTestRuntime(t, gatedThenFinal(), Options{})
	ctx := context.Background()
	var verr *InputValidationError

	_, err := rt.ContinueRun(ctx, nil)
	require.ErrorAs(t, err, &verr)

	_, err = rt.ContinueRun(ctx, &ContinueRequest{AgentID: "test.agent"})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "run_id", verr.Field)

	_, err = rt.ContinueRun(ctx, &ContinueRequest{AgentID: "test.agent", RunID: "r1"})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "updated_tools", verr.Field)

	completed := run.New("r1", "s1", "test.agent", "", &run.Input{Message: "hi"})
	completed.SetStatus(run.StatusCompleted)
	_, err = rt.ContinueRun(ctx, &ContinueRequest{AgentID: "test.agent", Record: completed})
	require.ErrorIs(t, err, ErrRunNotPaused)
}

func TestContinueRunUnknownToolCallID(t *testing.T) {
	rt := newTestRuntime(t, gatedThenFinal(), Options{})
	rec := pauseRun(t, rt, "sess-unknown")

	var verr *InputValidationError
	_, err := rt.ContinueRun(context.Background(), &ContinueRequest{
		AgentID:      "test.agent",
		Record:       rec,
		UpdatedTools: []*tools.Execution{{ToolCallID: "tc-9", ToolName: "echo.gated"}},
	})
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Reason, "tc-9")
}

func TestContinueRunTranscriptPairsGatedToolResult(t *testing.T) {
	m := gatedThenFinal()
	rt := newTestRuntime(t, m, Options{})
	rec := pauseRun(t, rt, "sess-transcript")

	var updated []*tools.Execution
	for _, exec := range rec.PausedExecutions() {
		cp := *exec
		cp.Paused = false
		updated = append(updated, &cp)
	}
	resumed, err := rt.ContinueRun(context.Background(), &ContinueRequest{
		AgentID:      "test.agent",
		Record:       rec,
		UpdatedTools: updated,
	})
	require.NoError(t, err)
	require.Equal(t, run.StatusCompleted, resumed.Status)

	// The resumed request replays the pause-leg assistant tool-call message
	// directly before the tool result it produced, keeping the transcript
	// acceptable to provider adapters across the approval round-trip.
	reqs := m.recorded()
	require.Len(t, reqs, 2)
	msgs := reqs[1].Messages
	ti := -1
	for i, msg := range msgs {
		if msg.Role == model.RoleTool && msg.ToolCallID == "tc-1" {
			ti = i
		}
	}
	require.Greater(t, ti, 0, "tool result message missing from resumed request")
	asst := msgs[ti-1]
	require.Equal(t, model.RoleAssistant, asst.Role)
	calls, ok := asst.Meta["tool_calls"].([]model.ToolCall)
	require.True(t, ok, "assistant message missing tool_calls meta")
	require.Len(t, calls, 1)
	require.Equal(t, "tc-1", calls[0].ID)
}

func TestContinueRunSessionMetricsCountedOnce(t *testing.T) {
	rt := newTestRuntime(t, gatedThenFinal(), Options{})
	rec := pauseRun(t, rt, "sess-metrics")
	require.Equal(t, 15, rec.Metrics.Usage.TotalTokens)
	pausedDuration := rec.Metrics.Duration

	var updated []*tools.Execution
	for _, exec := range rec.PausedExecutions() {
		cp := *exec
		cp.Paused = false
		updated = append(updated, &cp)
	}
	resumed, err := rt.ContinueRun(context.Background(), &ContinueRequest{
		AgentID:      "test.agent",
		Record:       rec,
		UpdatedTools: updated,
	})
	require.NoError(t, err)
	require.Equal(t, run.StatusCompleted, resumed.Status)
	require.Equal(t, 30, resumed.Metrics.Usage.TotalTokens)
	// The resume leg re-opens the run timer instead of freezing the
	// duration at the pause.
	require.Greater(t, resumed.Metrics.Duration, pausedDuration)

	// Both legs persisted the run, yet the session aggregate counts the run
	// exactly once.
	sess, err := rt.Sessions().ReadOrCreate(context.Background(), "sess-metrics", "")
	require.NoError(t, err)
	require.Equal(t, 1, sess.Metrics.RunCount)
	require.Equal(t, 30, sess.Metrics.Usage.TotalTokens)
	require.Equal(t, resumed.Metrics.Duration, sess.Metrics.TotalDuration)
}
