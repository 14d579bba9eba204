package runtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/agentrun/runtime/agent/hooks"
	"goa.design/agentrun/runtime/agent/run"
)

func TestOutputModelRewritesContent(t *testing.T) {
	primary := &scriptedModel{turns: []scriptTurn{{text: "rough draft"}}}
	secondary := &scriptedModel{turns: []scriptTurn{{text: "polished answer"}}}
	rt := New(Options{})
	require.NoError(t, rt.RegisterAgent(&Agent{
		ID:          "polished.agent",
		Model:       primary,
		OutputModel: &SecondaryModel{Client: secondary, ModelID: "secondary-1"},
	}))

	rec, err := rt.Run(context.Background(), &RunRequest{AgentID: "polished.agent", Message: "hi"})
	require.NoError(t, err)
	require.Equal(t, run.StatusCompleted, rec.Status)
	require.Equal(t, "polished answer", rec.Content)
	require.Equal(t, 2, rec.Metrics.ModelCalls)

	// The rewrite prompt sees the primary exchange.
	reqs := secondary.recorded()
	require.Len(t, reqs, 1)
	require.Equal(t, "secondary-1", reqs[0].Model)
}

func TestOutputModelDowngradesPrimaryContentOnStream(t *testing.T) {
	primary := &scriptedModel{turns: []scriptTurn{{text: "internal reasoning"}}}
	secondary := &scriptedModel{turns: []scriptTurn{{text: "final answer"}}}
	rt := New(Options{})
	require.NoError(t, rt.RegisterAgent(&Agent{
		ID:          "polished.agent",
		Model:       primary,
		OutputModel: &SecondaryModel{Client: secondary},
	}))

	h, err := rt.RunStream(context.Background(), &RunRequest{AgentID: "polished.agent", Message: "hi"})
	require.NoError(t, err)

	var runContent, intermediate string
	for evt := range h.Events() {
		switch e := evt.(type) {
		case *hooks.RunContentEvent:
			runContent += e.Content
		case *hooks.IntermediateRunContentEvent:
			intermediate += e.Content
		}
	}
	rec, err := h.Result()
	require.NoError(t, err)

	require.Equal(t, "final answer", runContent)
	require.Equal(t, "internal reasoning", intermediate)
	require.Equal(t, "final answer", rec.Content)
}

func TestParserModelExtractsStructuredOutput(t *testing.T) {
	primary := &scriptedModel{turns: []scriptTurn{{text: "The total is forty-two."}}}
	parser := &scriptedModel{turns: []scriptTurn{{structured: json.RawMessage(`{"total":42}`)}}}
	rt := New(Options{})
	require.NoError(t, rt.RegisterAgent(&Agent{
		ID:          "parsing.agent",
		Model:       primary,
		ParserModel: &SecondaryModel{Client: parser, ModelID: "parser-1"},
	}))

	rec, err := rt.Run(context.Background(), &RunRequest{
		AgentID: "parsing.agent",
		Message: "total?",
		OutputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"total": map[string]any{"type": "integer"}},
			"required":   []any{"total"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, run.StatusCompleted, rec.Status)
	require.Equal(t, `{"total":42}`, rec.Content)
	require.Equal(t, "json", rec.ContentType)

	// With a parser model the primary request stays free-form.
	require.Empty(t, primary.recorded()[0].ResponseFormat)
	// The parser request carries the schema and the primary content.
	preq := parser.recorded()[0]
	require.Equal(t, "json_object", preq.ResponseFormat)
	require.Contains(t, preq.Messages[0].Content, `"total"`)
	require.Equal(t, "The total is forty-two.", preq.Messages[1].Content)
}

func TestParserModelEmptyOutputIsValidationError(t *testing.T) {
	primary := &scriptedModel{turns: []scriptTurn{{text: "no numbers here"}}}
	parser := &scriptedModel{turns: []scriptTurn{{text: ""}}}
	rt := New(Options{})
	require.NoError(t, rt.RegisterAgent(&Agent{
		ID:          "parsing.agent",
		Model:       primary,
		ParserModel: &SecondaryModel{Client: parser},
	}))

	rec, err := rt.Run(context.Background(), &RunRequest{
		AgentID:      "parsing.agent",
		Message:      "total?",
		OutputSchema: map[string]any{"type": "object"},
		Options:      &run.Options{Retries: run.Int(2)},
	})
	require.NoError(t, err)
	require.Equal(t, run.StatusError, rec.Status)
	require.Equal(t, 1, rec.Metrics.Attempts)
	require.Contains(t, rec.Content, "invalid output")
}

func TestStructuredOutputInvalidJSONRejected(t *testing.T) {
	m := &scriptedModel{turns: []scriptTurn{{text: "not json at all"}}}
	rt := newTestRuntime(t, m, Options{})

	rec, err := rt.Run(context.Background(), &RunRequest{
		AgentID:      "test.agent",
		Message:      "hi",
		OutputSchema: map[string]any{"type": "object"},
	})
	require.NoError(t, err)
	require.Equal(t, run.StatusError, rec.Status)
	require.Contains(t, rec.Content, "invalid output")
}
