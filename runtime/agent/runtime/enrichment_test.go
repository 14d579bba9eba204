package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/agentrun/runtime/agent/hooks"
	"goa.design/agentrun/runtime/agent/memory"
	memoryinmem "goa.design/agentrun/runtime/agent/memory/inmem"
	"goa.design/agentrun/runtime/agent/model"
	"goa.design/agentrun/runtime/agent/tools"
)

type staticExtractor struct {
	items []*memory.Item
	err   error
}

func (e *staticExtractor) Extract(_ context.Context, in *memory.Input) ([]*memory.Item, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([]*memory.Item, len(e.items))
	for i, it := range e.items {
		cp := *it
		cp.RunID = in.RunID
		cp.UserID = in.UserID
		out[i] = &cp
	}
	return out, nil
}

func TestRunPersistsExtractedMemories(t *testing.T) {
	m := &scriptedModel{turns: []scriptTurn{{text: "done"}}}
	store := memoryinmem.New()
	rt := New(Options{MemoryStore: store})
	require.NoError(t, rt.RegisterAgent(&Agent{
		ID:    "remembering.agent",
		Model: m,
		Extractors: map[memory.Kind]memory.Extractor{
			memory.KindUserMemory: &staticExtractor{items: []*memory.Item{
				{Kind: memory.KindUserMemory, Content: "prefers concise answers"},
			}},
		},
	}))

	_, err := rt.Run(context.Background(), &RunRequest{
		AgentID: "remembering.agent",
		Message: "keep it short",
		UserID:  "user-1",
	})
	require.NoError(t, err)

	items, err := store.List(context.Background(), memory.KindUserMemory, "user-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "prefers concise answers", items[0].Content)
}

func TestRunStreamEmitsMemoryCompleted(t *testing.T) {
	m := &scriptedModel{turns: []scriptTurn{{text: "done"}}}
	rt := New(Options{MemoryStore: memoryinmem.New()})
	require.NoError(t, rt.RegisterAgent(&Agent{
		ID:    "remembering.agent",
		Model: m,
		Extractors: map[memory.Kind]memory.Extractor{
			memory.KindUserMemory: &staticExtractor{items: []*memory.Item{
				{Kind: memory.KindUserMemory, Content: "likes streaming"},
			}},
			memory.KindLearning: &staticExtractor{err: errors.New("extractor broke")},
		},
	}))

	h, err := rt.RunStream(context.Background(), &RunRequest{
		AgentID: "remembering.agent",
		Message: "hi",
		UserID:  "user-1",
	})
	require.NoError(t, err)

	var memEvt *hooks.MemoryCompletedEvent
	for evt := range h.Events() {
		if e, ok := evt.(*hooks.MemoryCompletedEvent); ok {
			memEvt = e
		}
	}
	_, err = h.Result()
	require.NoError(t, err)

	require.NotNil(t, memEvt)
	require.Equal(t, 1, memEvt.Completed)
	require.Equal(t, 1, memEvt.Failed)
	require.Len(t, memEvt.Memories, 1)
	require.Equal(t, "likes streaming", memEvt.Memories[0].Content)
}

func TestExtractionFailureDoesNotFailRun(t *testing.T) {
	m := &scriptedModel{turns: []scriptTurn{{text: "fine"}}}
	rt := New(Options{MemoryStore: memoryinmem.New()})
	require.NoError(t, rt.RegisterAgent(&Agent{
		ID:    "remembering.agent",
		Model: m,
		Extractors: map[memory.Kind]memory.Extractor{
			memory.KindUserMemory: &staticExtractor{err: errors.New("extractor broke")},
		},
	}))

	rec, err := rt.Run(context.Background(), &RunRequest{AgentID: "remembering.agent", Message: "hi"})
	require.NoError(t, err)
	require.Equal(t, "fine", rec.Content)
}

func TestSessionSummaryGenerated(t *testing.T) {
	// The second turn answers the summarizer invocation.
	m := &scriptedModel{turns: []scriptTurn{{text: "the answer"}, {text: "User asked a question and got the answer."}}}
	rt := New(Options{})
	require.NoError(t, rt.RegisterAgent(&Agent{
		ID:                "summarizing.agent",
		Model:             m,
		SummarizeSessions: true,
	}))

	_, err := rt.Run(context.Background(), &RunRequest{
		AgentID:   "summarizing.agent",
		Message:   "a question",
		SessionID: "sess-sum",
	})
	require.NoError(t, err)

	sess, err := rt.Sessions().ReadOrCreate(context.Background(), "sess-sum", "")
	require.NoError(t, err)
	require.Equal(t, "User asked a question and got the answer.", sess.Summary)

	// The summarizer saw the completed exchange.
	reqs := m.recorded()
	require.Len(t, reqs, 2)
	require.Contains(t, reqs[1].Messages[1].Content, "User: a question")
}

func TestSessionSummaryFailureSwallowed(t *testing.T) {
	m := &scriptedModel{turns: []scriptTurn{{text: "the answer"}, {err: errors.New("summarizer down")}}}
	rt := New(Options{})
	require.NoError(t, rt.RegisterAgent(&Agent{
		ID:                "summarizing.agent",
		Model:             m,
		SummarizeSessions: true,
	}))

	rec, err := rt.Run(context.Background(), &RunRequest{
		AgentID:   "summarizing.agent",
		Message:   "a question",
		SessionID: "sess-sum-fail",
	})
	require.NoError(t, err)
	require.Equal(t, "the answer", rec.Content)
}

func TestToolsReadSessionState(t *testing.T) {
	m := &scriptedModel{turns: []scriptTurn{
		{calls: []model.ToolCall{{ID: "tc-1", Name: "state.read", Arguments: []byte(`{}`)}}},
		{text: "done"},
	}}
	rt := New(Options{})
	require.NoError(t, rt.RegisterAgent(&Agent{
		ID:    "stateful.agent",
		Model: m,
		Toolkits: []*tools.Toolkit{{
			Name: "state",
			Tools: []*tools.Tool{{
				Name:        "state.read",
				Description: "Reads a session state key.",
				InputSchema: map[string]any{"type": "object"},
				Handler: func(_ context.Context, call *tools.Call) (*tools.Result, error) {
					v, _ := call.SessionState["tier"].(string)
					return &tools.Result{Content: "tier=" + v}, nil
				},
			}},
		}},
	}))

	rec, err := rt.Run(context.Background(), &RunRequest{
		AgentID:      "stateful.agent",
		Message:      "check my tier",
		SessionState: map[string]any{"tier": "gold"},
	})
	require.NoError(t, err)
	require.Equal(t, "tier=gold", rec.Tools[0].Result)
}

func TestToolAvailabilityGate(t *testing.T) {
	m := &scriptedModel{turns: []scriptTurn{{text: "ok"}}}
	rt := New(Options{})
	require.NoError(t, rt.RegisterAgent(&Agent{
		ID:    "gated.agent",
		Model: m,
		Toolkits: []*tools.Toolkit{{
			Name: "admin",
			Tools: []*tools.Tool{{
				Name:        "admin.reset",
				Description: "Admin only.",
				InputSchema: map[string]any{"type": "object"},
				Available: func(state map[string]any) bool {
					return state["role"] == "admin"
				},
				Handler: func(context.Context, *tools.Call) (*tools.Result, error) {
					return &tools.Result{Content: "reset"}, nil
				},
			}},
		}},
	}))

	_, err := rt.Run(context.Background(), &RunRequest{AgentID: "gated.agent", Message: "hi"})
	require.NoError(t, err)
	require.Empty(t, firstRequest(t, m).Tools, "unavailable tools must not be advertised")

	m2 := &scriptedModel{turns: []scriptTurn{{text: "ok"}}}
	require.NoError(t, rt.RegisterAgent(&Agent{
		ID:    "gated.agent",
		Model: m2,
		Toolkits: []*tools.Toolkit{{
			Name: "admin",
			Tools: []*tools.Tool{{
				Name:        "admin.reset",
				Description: "Admin only.",
				InputSchema: map[string]any{"type": "object"},
				Available: func(state map[string]any) bool {
					return state["role"] == "admin"
				},
				Handler: func(context.Context, *tools.Call) (*tools.Result, error) {
					return &tools.Result{Content: "reset"}, nil
				},
			}},
		}},
	}))
	_, err = rt.Run(context.Background(), &RunRequest{
		AgentID:      "gated.agent",
		Message:      "hi",
		SessionState: map[string]any{"role": "admin"},
	})
	require.NoError(t, err)
	defs := firstRequest(t, m2).Tools
	require.Len(t, defs, 1)
	require.Equal(t, "admin.reset", defs[0].Name)
}
