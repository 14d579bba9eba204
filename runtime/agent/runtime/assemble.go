package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/agentrun/runtime/agent/hooks"
	"goa.design/agentrun/runtime/agent/model"
)

// sessionSummaryPrompt instructs the summarizer model.
const sessionSummaryPrompt = "Summarize the following conversation in a few sentences. " +
	"Capture the user's goals, decisions made and any open follow-ups. " +
	"Respond with the summary only."

// assemble finalizes the response: the output model rewrites the primary
// model's content when configured, the parser model extracts structured
// output, and the declared output schema is enforced. Paused runs skip
// assembly; their final response is produced on continuation.
func (ex *execution) assemble(ctx context.Context) error {
	if ex.rec.Paused() {
		return nil
	}

	if ex.agent.OutputModel != nil {
		if err := ex.applyOutputModel(ctx); err != nil {
			return err
		}
	}

	if ex.rc.OutputSchema != nil {
		if ex.agent.ParserModel != nil && ex.rec.ContentType != "json" {
			if err := ex.applyParserModel(ctx); err != nil {
				return err
			}
		}
		if err := ex.validateStructured(); err != nil {
			return err
		}
	}

	if ex.rec.ContentType == "" {
		ex.rec.ContentType = "text"
	}
	return nil
}

// applyOutputModel re-invokes the configured output model over the full
// message sequence to produce the response delivered to the caller. The
// primary model's content was already downgraded to intermediate events, so
// the rewritten content is streamed here as run content.
func (ex *execution) applyOutputModel(ctx context.Context) error {
	om := ex.agent.OutputModel
	msgs := append([]*model.Message(nil), ex.rec.Messages...)
	msgs = append(msgs, &model.Message{
		Role:    model.RoleUser,
		Content: "Rewrite the assistant's response above as the final answer for the user.",
	})
	resp, err := ex.secondaryClient(om).Complete(ctx, model.Request{
		Model:          om.ModelID,
		Messages:       msgs,
		ResponseFormat: om.ResponseFormat,
	})
	if err != nil {
		return fmt.Errorf("output model: %w", err)
	}
	ex.rec.Metrics.AddUsage(resp.Usage)

	if resp.Structured != nil {
		ex.rec.Content = string(resp.Structured)
		ex.rec.ContentType = "json"
	} else {
		ex.rec.Content = collapseContent(resp.Content)
		ex.rec.ContentType = "text"
	}

	if ex.streaming() && ex.rec.Content != "" {
		ex.streamedContent.WriteString(ex.rec.Content)
		evt := hooks.NewRunContentEvent(ex.rec.RunID, ex.agent.ID, ex.rec.SessionID, ex.rec.Content, ex.rec.ContentType)
		if err := ex.emit(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// applyParserModel extracts structured output from the textual response
// using the configured parser model and the run's output schema.
func (ex *execution) applyParserModel(ctx context.Context) error {
	pm := ex.agent.ParserModel
	schema, err := json.Marshal(ex.rc.OutputSchema)
	if err != nil {
		return fmt.Errorf("marshal output schema: %w", err)
	}
	format := pm.ResponseFormat
	if format == "" {
		format = "json_object"
	}
	resp, err := ex.secondaryClient(pm).Complete(ctx, model.Request{
		Model: pm.ModelID,
		Messages: []*model.Message{
			{Role: model.RoleSystem, Content: "Extract the data described by this JSON Schema from the user's text. Respond with JSON only.\n\n" + string(schema)},
			{Role: model.RoleUser, Content: ex.rec.Content},
		},
		ResponseFormat: format,
	})
	if err != nil {
		return fmt.Errorf("parser model: %w", err)
	}
	ex.rec.Metrics.AddUsage(resp.Usage)

	content := ""
	if resp.Structured != nil {
		content = string(resp.Structured)
	} else {
		content = strings.TrimSpace(collapseContent(resp.Content))
	}
	if content == "" {
		return &OutputValidationError{Reason: "parser model returned no structured output"}
	}
	ex.rec.Content = content
	ex.rec.ContentType = "json"
	return nil
}

// secondaryClient returns the secondary model's client, falling back to the
// agent's primary client when none is configured.
func (ex *execution) secondaryClient(sm *SecondaryModel) model.Client {
	if sm.Client != nil {
		return sm.Client
	}
	return ex.agent.Model
}

// validateStructured enforces the run's output schema on the final content.
func (ex *execution) validateStructured() error {
	var instance any
	if err := json.Unmarshal([]byte(ex.rec.Content), &instance); err != nil {
		return &OutputValidationError{Reason: "output is not valid JSON: " + err.Error()}
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("output.json", ex.rc.OutputSchema); err != nil {
		return &OutputValidationError{Reason: "invalid output schema: " + err.Error()}
	}
	schema, err := c.Compile("output.json")
	if err != nil {
		return &OutputValidationError{Reason: "invalid output schema: " + err.Error()}
	}
	if err := schema.Validate(instance); err != nil {
		return &OutputValidationError{
			Reason:     "output does not satisfy schema",
			Violations: schemaViolations(err),
		}
	}
	return nil
}

// schemaViolations flattens a validation error into leaf messages.
func schemaViolations(err error) []string {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, e.Error())
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return out
}

// generateSummary produces a session summary with the agent's primary model
// over the session's recent exchanges.
func (ex *execution) generateSummary(ctx context.Context) (string, error) {
	var b strings.Builder
	if ex.session.Summary != "" {
		b.WriteString("Previous summary: ")
		b.WriteString(ex.session.Summary)
		b.WriteString("\n\n")
	}
	for _, prior := range ex.session.Runs {
		if prior == nil {
			continue
		}
		if prior.Input != nil && prior.Input.Message != "" {
			b.WriteString("User: ")
			b.WriteString(prior.Input.Message)
			b.WriteString("\n")
		}
		if prior.Content != "" {
			b.WriteString("Assistant: ")
			b.WriteString(prior.Content)
			b.WriteString("\n")
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("nothing to summarize")
	}
	resp, err := ex.agent.Model.Complete(ctx, model.Request{
		Model: ex.agent.ModelID,
		Messages: []*model.Message{
			{Role: model.RoleSystem, Content: sessionSummaryPrompt},
			{Role: model.RoleUser, Content: b.String()},
		},
	})
	if err != nil {
		return "", err
	}
	ex.rec.Metrics.AddUsage(resp.Usage)
	summary := strings.TrimSpace(collapseContent(resp.Content))
	if summary == "" {
		return "", fmt.Errorf("summarizer returned no content")
	}
	return summary, nil
}
