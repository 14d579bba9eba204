package runtime

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"goa.design/agentrun/runtime/agent/hooks"
	"goa.design/agentrun/runtime/agent/model"
	"goa.design/agentrun/runtime/agent/tools"
)

// defaultToolRounds bounds the model/tool loop when the agent declares no
// explicit tool call limit.
const defaultToolRounds = 10

// modelInteraction drives the model/tool loop: invoke the model, execute the
// requested tool calls in emission order, feed results back, and repeat
// until the model produces a final response, a tool pauses the run, or the
// round limit is reached. Cancellation is checked between every streamed
// event and every round.
func (ex *execution) modelInteraction(ctx context.Context) error {
	if ex.continuation {
		if err := ex.executeApproved(ctx); err != nil {
			return err
		}
		// Declined tools keep the run paused; the pause check handles it.
		if ex.rec.Paused() {
			return nil
		}
	}

	rounds := ex.agent.ToolCallLimit
	if rounds <= 0 {
		rounds = defaultToolRounds
	}
	for round := 0; round < rounds; round++ {
		resp, content, err := ex.invokeModel(ctx)
		if err != nil {
			return err
		}
		ex.rec.Metrics.AddUsage(resp.Usage)

		// A tool-call-only response still needs its assistant message: the
		// provider adapters rebuild the tool-use blocks from the message
		// meta, and a tool result without its originating call is rejected.
		if content != "" || len(resp.ToolCalls) > 0 {
			meta := map[string]any(nil)
			if len(resp.ToolCalls) > 0 {
				meta = map[string]any{"tool_calls": resp.ToolCalls}
			}
			ex.rec.Messages = append(ex.rec.Messages, &model.Message{
				Role:    model.RoleAssistant,
				Content: content,
				Meta:    meta,
			})
		}

		if len(resp.ToolCalls) == 0 {
			if resp.Structured != nil {
				ex.rec.Content = string(resp.Structured)
				ex.rec.ContentType = "json"
			} else {
				ex.rec.Content = content
				ex.rec.ContentType = "text"
			}
			return nil
		}

		paused, err := ex.executeToolCalls(ctx, resp.ToolCalls)
		if err != nil {
			return err
		}
		if paused {
			return nil
		}
		if err := ex.raiseIfCancelled(ctx); err != nil {
			return err
		}
	}
	ex.rt.logger.Warn(ctx, "tool round limit reached", "run_id", ex.rec.RunID)
	return nil
}

// invokeModel performs one model invocation, streaming when the run is
// streamed and the provider supports it. Returns the normalized response and
// the collapsed assistant text.
func (ex *execution) invokeModel(ctx context.Context) (model.Response, string, error) {
	req := model.Request{
		Model:         ex.agent.ModelID,
		Messages:      ex.rec.Messages,
		Tools:         ex.toolDefs,
		ToolChoice:    ex.agent.ToolChoice,
		ToolCallLimit: ex.agent.ToolCallLimit,
		Temperature:   ex.agent.Temperature,
		MaxTokens:     ex.agent.MaxTokens,
	}
	if ex.rc.OutputSchema != nil && ex.agent.ParserModel == nil {
		req.ResponseFormat = "json_object"
	}

	if ex.streaming() {
		st, err := ex.agent.Model.Stream(ctx, req)
		if err == nil {
			return ex.consumeStream(ctx, st)
		}
		if !errors.Is(err, model.ErrStreamingUnsupported) {
			return model.Response{}, "", err
		}
		// Fall through to the buffered call; content is delivered as a
		// single chunk.
	}

	resp, err := ex.agent.Model.Complete(ctx, req)
	if err != nil {
		return model.Response{}, "", err
	}
	content := collapseContent(resp.Content)
	if ex.streaming() && content != "" {
		if err := ex.emitContent(ctx, content); err != nil {
			return model.Response{}, "", err
		}
	}
	return resp, content, nil
}

// consumeStream drains the model event stream, forwarding content chunks
// through the event pipeline and checking cancellation between every event.
func (ex *execution) consumeStream(ctx context.Context, st model.Streamer) (model.Response, string, error) {
	defer st.Close()

	var (
		resp    model.Response
		content strings.Builder
	)
	for {
		chunk, err := st.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return model.Response{}, "", err
		}
		if cerr := ex.raiseIfCancelled(ctx); cerr != nil {
			return model.Response{}, "", cerr
		}
		switch chunk.Type {
		case model.ChunkTypeText:
			content.WriteString(chunk.Text)
			if err := ex.emitContent(ctx, chunk.Text); err != nil {
				return model.Response{}, "", err
			}
		case model.ChunkTypeToolCall:
			if chunk.ToolCall != nil {
				resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
			}
		case model.ChunkTypeUsage:
			if chunk.UsageDelta != nil {
				resp.Usage.Add(*chunk.UsageDelta)
			}
		case model.ChunkTypeStop:
			resp.StopReason = chunk.StopReason
		}
	}
	text := content.String()
	if text != "" {
		resp.Content = []model.Message{{Role: model.RoleAssistant, Content: text}}
	}
	return resp, text, nil
}

// emitContent delivers one content chunk. When an output model is configured
// the primary model's content is downgraded to intermediate content; the
// output model's content takes its place during assembly.
func (ex *execution) emitContent(ctx context.Context, text string) error {
	if ex.agent.OutputModel != nil {
		return ex.emit(ctx, hooks.NewIntermediateRunContentEvent(ex.rec.RunID, ex.agent.ID, ex.rec.SessionID, text, "model"))
	}
	ex.streamedContent.WriteString(text)
	return ex.emit(ctx, hooks.NewRunContentEvent(ex.rec.RunID, ex.agent.ID, ex.rec.SessionID, text, "text"))
}

// executeToolCalls runs the requested tool calls in the order the model
// emitted them. Calls to confirmation-gated tools are recorded as paused and
// not executed. Handler failures are recorded on the execution and fed back
// to the model; they never fail the run.
func (ex *execution) executeToolCalls(ctx context.Context, calls []model.ToolCall) (paused bool, err error) {
	for _, call := range calls {
		exec := &tools.Execution{
			ToolCallID: call.ID,
			ToolName:   tools.Ident(call.Name),
			Arguments:  call.Arguments,
		}
		ex.rec.Tools = append(ex.rec.Tools, exec)

		t := ex.lookupTool(exec.ToolName)
		switch {
		case t == nil:
			exec.Error = "unknown tool"
			ex.appendToolMessage(call.ID, "error: unknown tool "+call.Name)

		case t.RequiresConfirmation:
			exec.RequiresConfirmation = true
			exec.Paused = true
			paused = true

		case t.Handler == nil:
			exec.Error = "tool has no handler"
			ex.appendToolMessage(call.ID, "error: tool "+call.Name+" has no handler")

		default:
			ex.runToolHandler(ctx, t, call, exec)
		}

		if ex.streaming() && !exec.Paused {
			note := "tool " + call.Name + " completed"
			if exec.Error != "" {
				note = "tool " + call.Name + " failed: " + exec.Error
			}
			evt := hooks.NewIntermediateRunContentEvent(ex.rec.RunID, ex.agent.ID, ex.rec.SessionID, note, "tool:"+call.Name)
			if err := ex.emit(ctx, evt); err != nil {
				return false, err
			}
		}
	}
	return paused, nil
}

// runToolHandler invokes the handler and records the outcome on the
// execution.
func (ex *execution) runToolHandler(ctx context.Context, t *tools.Tool, call model.ToolCall, exec *tools.Execution) {
	exec.StartedAt = time.Now().UTC()
	res, err := t.Handler(ctx, &tools.Call{
		ID:           call.ID,
		Name:         t.Name,
		Arguments:    call.Arguments,
		SessionState: ex.rc.SessionState,
	})
	exec.CompletedAt = time.Now().UTC()
	if err != nil {
		exec.Error = err.Error()
		ex.appendToolMessage(call.ID, "error: "+err.Error())
		ex.rt.logger.Warn(ctx, "tool execution failed", "run_id", ex.rec.RunID, "tool", string(t.Name), "err", err.Error())
		return
	}
	if res != nil {
		exec.Result = res.Content
		exec.Metadata = res.Metadata
	}
	ex.appendToolMessage(call.ID, exec.Result)
}

// executeApproved runs the continuation's approved tool calls that have no
// result yet, so the subsequent model round sees their output. Executions
// resolved with a caller-supplied synthetic result are left untouched.
func (ex *execution) executeApproved(ctx context.Context) error {
	for _, exec := range ex.rec.Tools {
		if exec == nil || exec.Paused || !exec.RequiresConfirmation {
			continue
		}
		if exec.Result != "" || exec.Error != "" {
			if !ex.toolMessageExists(exec.ToolCallID) {
				ex.appendToolMessage(exec.ToolCallID, exec.Result)
			}
			continue
		}
		t := ex.lookupTool(exec.ToolName)
		if t == nil || t.Handler == nil {
			exec.Error = "tool has no handler"
			ex.appendToolMessage(exec.ToolCallID, "error: tool "+string(exec.ToolName)+" has no handler")
			continue
		}
		call := model.ToolCall{ID: exec.ToolCallID, Name: string(exec.ToolName), Arguments: exec.Arguments}
		ex.runToolHandler(ctx, t, call, exec)
		if err := ex.raiseIfCancelled(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (ex *execution) lookupTool(name tools.Ident) *tools.Tool {
	for _, t := range ex.availTools {
		if t.Name == name {
			return t
		}
	}
	return nil
}

func (ex *execution) appendToolMessage(callID, content string) {
	ex.rec.Messages = append(ex.rec.Messages, &model.Message{
		Role:       model.RoleTool,
		Content:    content,
		ToolCallID: callID,
	})
}

func (ex *execution) toolMessageExists(callID string) bool {
	for _, m := range ex.rec.Messages {
		if m != nil && m.Role == model.RoleTool && m.ToolCallID == callID {
			return true
		}
	}
	return false
}

// collapseContent joins the assistant messages of a buffered response.
func collapseContent(msgs []model.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Role == model.RoleAssistant || m.Role == "" {
			b.WriteString(m.Content)
		}
	}
	return b.String()
}
