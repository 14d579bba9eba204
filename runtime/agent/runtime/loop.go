package runtime

import (
	"context"
	"errors"
	"strings"
	"time"

	"goa.design/agentrun/runtime/agent/cancel"
	"goa.design/agentrun/runtime/agent/hooks"
	"goa.design/agentrun/runtime/agent/memory"
	"goa.design/agentrun/runtime/agent/model"
	"goa.design/agentrun/runtime/agent/run"
	"goa.design/agentrun/runtime/agent/session"
	"goa.design/agentrun/runtime/agent/stream"
	"goa.design/agentrun/runtime/agent/telemetry"
	"goa.design/agentrun/runtime/agent/tools"
)

// execution is the state of one run through the phase pipeline. A single
// execution serves exactly one dispatch (run or continuation) and is driven
// by one goroutine; only the background task set runs concurrently with it.
type execution struct {
	rt           *Runtime
	agent        *Agent
	settings     *run.Settings
	rec          *run.Record
	rc           *run.Context
	session      *session.Session
	continuation bool

	pipeline *stream.Pipeline
	tasks    *memory.TaskSet

	availTools []*tools.Tool
	toolDefs   []*model.ToolDefinition

	// streamedContent accumulates content chunks already delivered to the
	// caller so cancellation preserves partial output.
	streamedContent strings.Builder
}

// executeBuffered drives the pipeline to a terminal state and returns the
// final record. Terminal failures are folded into the record status; the
// error return is reserved for pipeline-level faults.
func (ex *execution) executeBuffered(ctx context.Context) (*run.Record, error) {
	return ex.execute(ctx, nil)
}

// executeStreamed drives the pipeline on a fresh goroutine, delivering
// events through the returned handle.
func (ex *execution) executeStreamed(ctx context.Context) *StreamHandle {
	h := &StreamHandle{
		events: make(chan hooks.Event, 16),
		done:   make(chan struct{}),
	}
	go func() {
		rec, err := ex.execute(ctx, h.events)
		close(h.events)
		h.rec, h.err = rec, err
		close(h.done)
	}()
	return h
}

// execute wraps the phase pipeline with the retry policy and the terminal
// handlers. It owns the cancellation registry entry for the run.
func (ex *execution) execute(ctx context.Context, out chan<- hooks.Event) (*run.Record, error) {
	var opts []stream.Option
	if out != nil {
		opts = append(opts, stream.WithChannel(out))
	}
	if ex.rt.sink != nil && out != nil {
		opts = append(opts, stream.WithSink(ex.rt.sink))
	}
	ex.pipeline = stream.NewPipeline(ex.rec, ex.settings, opts...)

	ex.rt.registry.Register(ex.rec.RunID)
	defer func() {
		if ex.tasks != nil {
			ex.tasks.CancelAndReap()
		}
		ex.rt.registry.Cleanup(ex.rec.RunID)
	}()

	ex.rt.metrics.IncCounter(telemetry.MetricRunsStarted, 1, "agent", string(ex.agent.ID))
	ex.rec.Metrics.StartTimer()
	ex.rec.SetStatus(run.StatusRunning)
	if ex.settings.DebugMode {
		ex.rt.logger.Debug(ctx, "run pipeline starting",
			"run_id", ex.rec.RunID, "agent", string(ex.agent.ID),
			"streaming", ex.streaming(), "continuation", ex.continuation,
			"retries", ex.settings.Retries)
	}

	for attempt := 0; ; attempt++ {
		ex.rec.Metrics.Attempts = attempt + 1
		err := ex.attempt(ctx, attempt)
		if err == nil {
			return ex.rec, nil
		}

		if ex.tasks != nil {
			ex.tasks.CancelAndReap()
			ex.tasks = nil
		}

		var cerr *cancel.CancelledError
		if errors.As(err, &cerr) {
			ex.terminalCancelled(ctx, cerr.Reason)
			return ex.rec, nil
		}
		if ctx.Err() != nil {
			ex.terminalCancelled(ctx, contentCancelledByUser)
			return ex.rec, nil
		}
		if !retryable(err) || attempt >= ex.settings.Retries {
			ex.terminalError(ctx, err, attempt+1)
			return ex.rec, nil
		}

		ex.rt.logger.Warn(ctx, "run attempt failed, retrying",
			"run_id", ex.rec.RunID, "attempt", attempt, "err", err.Error())
		select {
		case <-time.After(ex.settings.AttemptDelay(attempt)):
		case <-ctx.Done():
			ex.terminalCancelled(ctx, contentCancelledByUser)
			return ex.rec, nil
		}
	}
}

// attempt runs the phase pipeline once. A nil return means the run reached a
// handled terminal state (completed or paused). Cancellation surfaces as a
// *cancel.CancelledError; validation failures and transient errors surface
// as-is for the retry wrapper to classify.
func (ex *execution) attempt(ctx context.Context, attempt int) error {
	// Phase 1: session load. The pre-loaded session short-circuits only the
	// first attempt.
	if ex.session == nil || attempt > 0 {
		sess, err := ex.rt.sessions.ReadOrCreate(ctx, ex.rec.SessionID, ex.rc.UserID)
		if err != nil {
			return err
		}
		ex.session = sess
	}

	// Phase 2: session state. Session-stored values fill in under
	// caller-seeded keys.
	for k, v := range ex.session.State() {
		if _, ok := ex.rc.SessionState[k]; !ok {
			ex.rc.SessionState[k] = v
		}
	}

	if !ex.continuation {
		// Phase 3: dependency resolution. Failures are logged and skipped.
		ex.rc.ResolveDependencies(ctx, func(name string, err error) {
			ex.rt.logger.Warn(ctx, "dependency resolution failed", "run_id", ex.rec.RunID, "dependency", name, "err", err.Error())
		})

		// Phase 4: pre-hooks. They may mutate the run input; an
		// InputValidationError is terminal.
		for _, h := range ex.agent.PreHooks {
			if err := h(ctx, ex.hookContext(ctx)); err != nil {
				return err
			}
		}
	}

	// Phase 5: tool selection.
	ex.availTools, ex.toolDefs = ex.agent.toolset(ex.rc.SessionState)

	// Phase 6: message build. An empty sequence is an error in the log only;
	// the model may still reject the request.
	if !ex.continuation {
		msgs, err := ex.buildMessages(ctx)
		if err != nil {
			return err
		}
		ex.rec.Messages = msgs
		if len(msgs) == 0 {
			ex.rt.logger.Error(ctx, "message sequence empty after build", "run_id", ex.rec.RunID)
		}
	}

	// Phase 7: launch background tasks. Earlier exits never start them.
	ex.launchTasks(ctx)

	// Phase 8: initial lifecycle event.
	if ex.streaming() {
		var evt hooks.Event
		if ex.continuation {
			evt = hooks.NewRunContinuedEvent(ex.rec.RunID, ex.agent.ID, ex.rec.SessionID, ex.approvedTools(), ex.declinedTools())
		} else {
			msg := ""
			if ex.rec.Input != nil {
				msg = ex.rec.Input.Message
			}
			evt = hooks.NewRunStartedEvent(ex.rec.RunID, ex.agent.ID, ex.rec.SessionID, ex.rec.UserID, msg)
		}
		if err := ex.emit(ctx, evt); err != nil {
			return err
		}
	}

	// Phase 9: reasoning.
	if ex.agent.Reasoning != nil {
		if err := ex.agent.Reasoning(ctx, ex.hookContext(ctx)); err != nil {
			return err
		}
	}

	// Phase 10: suspension point.
	if err := ex.raiseIfCancelled(ctx); err != nil {
		return err
	}

	// Phase 11: model interaction (tool loop included).
	if err := ex.modelInteraction(ctx); err != nil {
		return err
	}

	// Phase 12: suspension point.
	if err := ex.raiseIfCancelled(ctx); err != nil {
		return err
	}

	// Phase 13: response assembly (output model, parser model, references).
	if err := ex.assemble(ctx); err != nil {
		return err
	}

	// Phase 14: pause check.
	if ex.rec.Paused() {
		return ex.pause(ctx)
	}

	if ex.streaming() {
		if err := ex.emit(ctx, hooks.NewRunContentCompletedEvent(ex.rec.RunID, ex.agent.ID, ex.rec.SessionID)); err != nil {
			return err
		}
	}

	// Phase 17: post-hooks. An OutputValidationError is terminal.
	for _, h := range ex.agent.PostHooks {
		if err := h(ctx, ex.hookContext(ctx)); err != nil {
			return err
		}
	}

	// Phase 18: suspension point.
	if err := ex.raiseIfCancelled(ctx); err != nil {
		return err
	}

	// Phase 19: join background tasks.
	if err := ex.joinTasks(ctx); err != nil {
		return err
	}

	// Phase 20: session summary. The run is upserted first so the
	// summarizer sees it; summary failures are swallowed.
	ex.summarize(ctx)

	// Phase 21: finalize.
	ex.rec.SessionState = ex.rc.SessionState
	ex.rec.EnsureContent(contentNoResponse)
	ex.rec.SetStatus(run.StatusCompleted)

	// Phase 22: cleanup and store.
	ex.cleanupStore(ctx)

	// Phase 23: terminal event and telemetry.
	if ex.streaming() {
		if err := ex.emit(ctx, hooks.NewRunCompletedEvent(
			ex.rec.RunID, ex.agent.ID, ex.rec.SessionID,
			string(ex.rec.Status), ex.rec.Content, ex.rec.Metrics.Usage, ex.rec.Metrics.Duration,
		)); err != nil {
			return err
		}
		if err := ex.yieldRunOutput(ctx); err != nil {
			return err
		}
	}
	ex.recordTerminalMetrics()
	return nil
}

// yieldRunOutput delivers the final run record on the stream when the
// resolved options request it. Always the last stream element.
func (ex *execution) yieldRunOutput(ctx context.Context) error {
	if !ex.settings.YieldRunOutput {
		return nil
	}
	return ex.emit(ctx, NewRunOutputEvent(ex.rec))
}

// pause suspends the run: background tasks are joined so enrichment is
// visible on resume, the paused record is persisted, and the durable
// approval record is written last. The session write preceding the approval
// write leaves a failure window where a paused run has no approval; the
// failure is logged so operators can compensate.
func (ex *execution) pause(ctx context.Context) error {
	if err := ex.joinTasks(ctx); err != nil {
		return err
	}
	ex.rec.Requirements = pauseRequirements(ex.rec)
	ex.rec.SessionState = ex.rc.SessionState
	ex.rec.SetStatus(run.StatusPaused)

	ex.cleanupStore(ctx)

	rec, err := ex.rt.approvals.CreateFromPause(ctx, ex.rec, ex.agent.ID, ex.agent.Name, ex.rec.UserID)
	if err != nil {
		ex.rt.logger.Error(ctx, "approval record creation failed after pause persisted",
			"run_id", ex.rec.RunID, "err", err.Error())
	}
	if ex.streaming() {
		approvalID := ""
		if rec != nil {
			approvalID = rec.ApprovalID
		}
		if err := ex.emit(ctx, hooks.NewRunPausedEvent(ex.rec.RunID, ex.agent.ID, ex.rec.SessionID, approvalID, ex.rec.PausedExecutions())); err != nil {
			return err
		}
		if err := ex.yieldRunOutput(ctx); err != nil {
			return err
		}
	}
	ex.recordTerminalMetrics()
	return nil
}

// terminalCancelled finalizes a cancelled run, preserving partial streamed
// content when any was produced.
func (ex *execution) terminalCancelled(ctx context.Context, reason string) {
	ex.rec.SetStatus(run.StatusCancelled)
	if partial := ex.streamedContent.String(); partial != "" {
		ex.rec.Content = partial
	}
	ex.rec.EnsureContent(reason)
	ex.rec.SessionState = ex.rc.SessionState
	ex.cleanupStore(ctx)
	if ex.streaming() {
		evt := hooks.NewRunCancelledEvent(ex.rec.RunID, ex.agent.ID, ex.rec.SessionID, reason, ex.streamedContent.String())
		if err := ex.emit(ctx, evt); err != nil {
			ex.rt.logger.Warn(ctx, "cancel event emission failed", "run_id", ex.rec.RunID, "err", err.Error())
		}
	}
	ex.recordTerminalMetrics()
}

// terminalError finalizes a failed run after retries are exhausted or a
// validation error occurred.
func (ex *execution) terminalError(ctx context.Context, err error, attempts int) {
	ex.rt.logger.Error(ctx, "run failed", "run_id", ex.rec.RunID, "attempts", attempts, "err", err.Error())
	ex.rec.SetStatus(run.StatusError)
	ex.rec.EnsureContent(err.Error())
	ex.rec.SessionState = ex.rc.SessionState
	ex.cleanupStore(ctx)
	if ex.streaming() {
		evt := hooks.NewRunErrorEvent(ex.rec.RunID, ex.agent.ID, ex.rec.SessionID, err, "", attempts)
		if eerr := ex.emit(ctx, evt); eerr != nil {
			ex.rt.logger.Warn(ctx, "error event emission failed", "run_id", ex.rec.RunID, "err", eerr.Error())
		}
	}
	ex.recordTerminalMetrics()
}

// launchTasks starts the background enrichment tasks configured on the
// agent. The tasks receive the built message sequence by shared reference.
func (ex *execution) launchTasks(ctx context.Context) {
	if len(ex.agent.Extractors) == 0 {
		return
	}
	ex.tasks = memory.NewTaskSet(ex.rt.memories, ex.rt.logger, ex.rt.metrics)
	ex.tasks.Launch(ctx, &memory.Input{
		RunID:     ex.rec.RunID,
		SessionID: ex.rec.SessionID,
		UserID:    ex.rec.UserID,
		Messages:  ex.rec.Messages,
	}, ex.agent.Extractors)
}

// joinTasks waits for all background tasks and surfaces their completion on
// the stream, including the freshly-produced user memories.
func (ex *execution) joinTasks(ctx context.Context) error {
	if ex.tasks == nil {
		return nil
	}
	results := ex.tasks.Join()
	ex.tasks = nil
	if !ex.streaming() {
		return nil
	}
	completed, failed := 0, 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		} else {
			completed++
		}
	}
	if completed == 0 && failed == 0 {
		return nil
	}
	evt := hooks.NewMemoryCompletedEvent(ex.rec.RunID, ex.agent.ID, ex.rec.SessionID, completed, failed, memory.UserMemories(results))
	return ex.emit(ctx, evt)
}

// summarize refreshes the session summary when enabled. Failures are logged
// and swallowed; the run still completes.
func (ex *execution) summarize(ctx context.Context) {
	if !ex.agent.SummarizeSessions || ex.session == nil {
		return
	}
	ex.session.UpsertRun(ex.rec)
	if ex.streaming() {
		if err := ex.emit(ctx, hooks.NewSessionSummaryStartedEvent(ex.rec.RunID, ex.agent.ID, ex.rec.SessionID)); err != nil {
			ex.rt.logger.Warn(ctx, "summary event emission failed", "run_id", ex.rec.RunID, "err", err.Error())
			return
		}
	}
	summary, err := ex.generateSummary(ctx)
	if err != nil {
		ex.rt.logger.Warn(ctx, "session summary failed", "run_id", ex.rec.RunID, "err", err.Error())
		return
	}
	ex.session.Summary = summary
	if ex.streaming() {
		if err := ex.emit(ctx, hooks.NewSessionSummaryCompletedEvent(ex.rec.RunID, ex.agent.ID, ex.rec.SessionID, summary)); err != nil {
			ex.rt.logger.Warn(ctx, "summary event emission failed", "run_id", ex.rec.RunID, "err", err.Error())
		}
	}
}

func (ex *execution) hookContext(ctx context.Context) *HookContext {
	return &HookContext{
		Agent:      ex.agent,
		Record:     ex.rec,
		RunContext: ex.rc,
		Emit: func(evt hooks.Event) error {
			if !ex.streaming() {
				return nil
			}
			return ex.emit(ctx, evt)
		},
	}
}

// emit forwards the event through the run's pipeline and publishes it on the
// runtime bus for external subscribers. Bus failures are logged, not fatal.
func (ex *execution) emit(ctx context.Context, evt hooks.Event) error {
	if err := ex.pipeline.Emit(ctx, evt); err != nil {
		return err
	}
	if err := ex.rt.bus.Publish(ctx, evt); err != nil {
		ex.rt.logger.Warn(ctx, "bus publish failed", "run_id", ex.rec.RunID, "event", string(evt.Type()), "err", err.Error())
	}
	return nil
}

func (ex *execution) streaming() bool {
	return ex.pipeline.Streaming()
}

// raiseIfCancelled observes both the registry flag and the caller's context.
func (ex *execution) raiseIfCancelled(ctx context.Context) error {
	if err := ex.rt.registry.RaiseIfCancelled(ex.rec.RunID); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return &cancel.CancelledError{RunID: ex.rec.RunID, Reason: contentCancelledByUser}
	}
	return nil
}

func (ex *execution) recordTerminalMetrics() {
	m := ex.rt.metrics
	m.IncCounter(telemetry.MetricRunsCompleted, 1, "agent", string(ex.agent.ID), "status", string(ex.rec.Status))
	m.RecordTimer(telemetry.MetricRunDuration, ex.rec.Metrics.Duration, "agent", string(ex.agent.ID))
	if u := ex.rec.Metrics.Usage; u.TotalTokens > 0 {
		m.IncCounter(telemetry.MetricModelTokens, float64(u.InputTokens), "agent", string(ex.agent.ID), "direction", "input")
		m.IncCounter(telemetry.MetricModelTokens, float64(u.OutputTokens), "agent", string(ex.agent.ID), "direction", "output")
	}
}

// approvedTools lists tools whose paused executions were cleared by the
// continuation request.
func (ex *execution) approvedTools() []tools.Ident {
	var out []tools.Ident
	for _, e := range ex.rec.Tools {
		if e != nil && e.RequiresConfirmation && !e.Paused && e.Result == "" && e.Error == "" {
			out = append(out, e.ToolName)
		}
	}
	return out
}

// declinedTools lists tools still paused after the continuation request.
func (ex *execution) declinedTools() []tools.Ident {
	var out []tools.Ident
	for _, e := range ex.rec.Tools {
		if e != nil && e.Paused {
			out = append(out, e.ToolName)
		}
	}
	return out
}

// pauseRequirements derives requirement entries for the paused executions.
func pauseRequirements(rec *run.Record) []*run.Requirement {
	var reqs []*run.Requirement
	for _, e := range rec.PausedExecutions() {
		reqs = append(reqs, &run.Requirement{
			ID:          "req-" + e.ToolCallID,
			ToolCallID:  e.ToolCallID,
			ToolName:    e.ToolName,
			Description: "tool " + string(e.ToolName) + " requires confirmation",
		})
	}
	return reqs
}
