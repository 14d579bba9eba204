package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"goa.design/agentrun/runtime/agent/model"
	"goa.design/agentrun/runtime/agent/run"
)

// buildMessages assembles the ordered message sequence for the model:
// system prompt (with dependency and session-state blocks per the resolved
// options), knowledge references, prior session history in chronological
// order, and finally the current user input with media annotations.
func (ex *execution) buildMessages(ctx context.Context) ([]*model.Message, error) {
	var msgs []*model.Message

	if sys := ex.systemMessage(ctx); sys != nil {
		msgs = append(msgs, sys)
	}

	if ex.settings.AddHistoryToContext {
		msgs = append(msgs, ex.historyMessages()...)
	}

	msgs = append(msgs, ex.inputMessages()...)
	return msgs, nil
}

// systemMessage renders the system prompt. Returns nil when there is
// nothing to say.
func (ex *execution) systemMessage(ctx context.Context) *model.Message {
	var b strings.Builder
	if ex.agent.SystemPrompt != "" {
		b.WriteString(ex.agent.SystemPrompt)
	}

	if ex.settings.AddDependenciesToContext {
		if vals := ex.rc.DependencyValues(); len(vals) > 0 {
			b.WriteString("\n\n<context>\n")
			writeSortedJSON(&b, vals)
			b.WriteString("</context>")
		}
	}

	if ex.settings.AddSessionStateToContext && len(ex.rc.SessionState) > 0 {
		b.WriteString("\n\n<session_state>\n")
		writeSortedJSON(&b, ex.rc.SessionState)
		b.WriteString("</session_state>")
	}

	if refs := ex.retrieveReferences(ctx); len(refs) > 0 {
		ex.rec.References = refs
		b.WriteString("\n\n<references>\n")
		for _, ref := range refs {
			fmt.Fprintf(&b, "- %s: %s\n", ref.Title, ref.Content)
		}
		b.WriteString("</references>")
	}

	if b.Len() == 0 {
		return nil
	}
	return &model.Message{Role: model.RoleSystem, Content: b.String()}
}

// historyMessages reconstructs the conversation from the session's prior
// runs, oldest first, capped by the resolved history window.
func (ex *execution) historyMessages() []*model.Message {
	if ex.session == nil {
		// No session loaded means no history is available; the run proceeds
		// with the flag set.
		ex.rt.logger.Warn(context.Background(), "history requested but no session available", "run_id", ex.rec.RunID)
		return nil
	}
	runs := ex.session.Runs
	if n := ex.settings.HistoryRuns; n > 0 && len(runs) > n {
		runs = runs[len(runs)-n:]
	}
	var msgs []*model.Message
	for _, prior := range runs {
		if prior == nil || prior.RunID == ex.rec.RunID {
			continue
		}
		if prior.Input != nil && prior.Input.Message != "" {
			msgs = append(msgs, &model.Message{Role: model.RoleUser, Content: prior.Input.Message})
		}
		if prior.Content != "" {
			msgs = append(msgs, &model.Message{Role: model.RoleAssistant, Content: prior.Content})
		}
	}
	return msgs
}

// inputMessages converts the run input into user messages. Media references
// are surfaced through message metadata; providers that support native media
// payloads translate them in their client adapters.
func (ex *execution) inputMessages() []*model.Message {
	in := ex.rec.Input
	if in == nil {
		return nil
	}
	var msgs []*model.Message
	if in.Message != "" || len(in.Media) > 0 {
		msg := &model.Message{Role: model.RoleUser, Content: in.Message}
		if len(in.Media) > 0 {
			msg.Meta = map[string]any{"media": in.Media}
		}
		msgs = append(msgs, msg)
	}
	if in.Structured != nil {
		b, err := json.Marshal(in.Structured)
		if err == nil {
			msgs = append(msgs, &model.Message{Role: model.RoleUser, Content: string(b)})
		}
	}
	return msgs
}

// retrieveReferences queries the agent's retriever, scoped by the run's
// knowledge filters. Retrieval failures are logged and skipped.
func (ex *execution) retrieveReferences(ctx context.Context) []*run.Reference {
	if ex.agent.Retriever == nil || ex.rec.Input == nil || ex.rec.Input.Message == "" {
		return nil
	}
	refs, err := ex.agent.Retriever.Retrieve(ctx, ex.rec.Input.Message, ex.rc.KnowledgeFilters)
	if err != nil {
		ex.rt.logger.Warn(ctx, "knowledge retrieval failed", "run_id", ex.rec.RunID, "err", err.Error())
		return nil
	}
	return refs
}

// writeSortedJSON renders the map as compact JSON. Marshal failures write
// nothing; the block header remains as a hint that data was present.
func writeSortedJSON(b *strings.Builder, m map[string]any) {
	enc, err := json.Marshal(m)
	if err != nil {
		return
	}
	b.Write(enc)
	b.WriteString("\n")
}
