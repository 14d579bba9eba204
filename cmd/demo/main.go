// Command demo wires the runtime end to end against a scripted in-process
// model client. It runs the same agent three ways: buffered, streaming, and
// paused on a confirmation-gated tool that is then approved.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"goa.design/clue/log"
	"gopkg.in/yaml.v3"

	"goa.design/agentrun/runtime/agent"
	"goa.design/agentrun/runtime/agent/hooks"
	"goa.design/agentrun/runtime/agent/model"
	"goa.design/agentrun/runtime/agent/runtime"
	"goa.design/agentrun/runtime/agent/telemetry"
	"goa.design/agentrun/runtime/agent/tools"
)

// Config holds the demo settings, loadable from a YAML file via -config.
type Config struct {
	AgentID      string `yaml:"agent_id"`
	AgentName    string `yaml:"agent_name"`
	ModelID      string `yaml:"model_id"`
	SystemPrompt string `yaml:"system_prompt"`
	SessionID    string `yaml:"session_id"`
	UserID       string `yaml:"user_id"`
	Message      string `yaml:"message"`
}

func defaultConfig() Config {
	return Config{
		AgentID:      "demo.assistant",
		AgentName:    "Demo Assistant",
		ModelID:      "scripted-1",
		SystemPrompt: "You are a terse assistant.",
		SessionID:    "demo-session",
		UserID:       "demo-user",
		Message:      "What time is it?",
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// scriptTurn is one scripted model response: either a tool call or final text.
type scriptTurn struct {
	text     string
	toolCall *model.ToolCall
}

// scriptedModel replays a fixed sequence of responses so the demo exercises
// the full run loop without a provider dependency.
type scriptedModel struct {
	mu    sync.Mutex
	turns []scriptTurn
}

func (m *scriptedModel) next() scriptTurn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.turns) == 0 {
		return scriptTurn{text: "(script exhausted)"}
	}
	t := m.turns[0]
	m.turns = m.turns[1:]
	return t
}

func (m *scriptedModel) Complete(_ context.Context, _ model.Request) (model.Response, error) {
	t := m.next()
	resp := model.Response{
		Usage:      model.TokenUsage{InputTokens: 20, OutputTokens: 10, TotalTokens: 30},
		StopReason: "end_turn",
	}
	if t.toolCall != nil {
		resp.ToolCalls = []model.ToolCall{*t.toolCall}
		resp.StopReason = "tool_use"
		return resp, nil
	}
	resp.Content = []model.Message{{Role: model.RoleAssistant, Content: t.text}}
	return resp, nil
}

func (m *scriptedModel) Stream(_ context.Context, _ model.Request) (model.Streamer, error) {
	t := m.next()
	if t.toolCall != nil {
		return &scriptStreamer{chunks: []model.Chunk{
			{Type: model.ChunkTypeToolCall, ToolCall: t.toolCall},
			{Type: model.ChunkTypeStop, StopReason: "tool_use"},
		}}, nil
	}
	words := strings.Fields(t.text)
	chunks := make([]model.Chunk, 0, len(words)+2)
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		chunks = append(chunks, model.Chunk{Type: model.ChunkTypeText, Text: w})
	}
	chunks = append(chunks,
		model.Chunk{Type: model.ChunkTypeUsage, UsageDelta: &model.TokenUsage{InputTokens: 20, OutputTokens: 10, TotalTokens: 30}},
		model.Chunk{Type: model.ChunkTypeStop, StopReason: "end_turn"},
	)
	return &scriptStreamer{chunks: chunks}, nil
}

type scriptStreamer struct {
	chunks []model.Chunk
	i      int
}

func (s *scriptStreamer) Recv() (model.Chunk, error) {
	if s.i >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func (s *scriptStreamer) Close() error { return nil }

func buildToolkit() *tools.Toolkit {
	return &tools.Toolkit{
		Name: "clock",
		Tools: []*tools.Tool{
			{
				Name:        "clock.now",
				Description: "Returns the current wall-clock time.",
				InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
				Handler: func(_ context.Context, _ *tools.Call) (*tools.Result, error) {
					return &tools.Result{Content: time.Now().Format(time.RFC3339)}, nil
				},
			},
			{
				Name:                 "clock.set_alarm",
				Description:          "Schedules an alarm. Requires human approval.",
				InputSchema:          map[string]any{"type": "object", "properties": map[string]any{"at": map[string]any{"type": "string"}}},
				RequiresConfirmation: true,
				Handler: func(_ context.Context, call *tools.Call) (*tools.Result, error) {
					return &tools.Result{Content: "alarm scheduled: " + string(call.Arguments)}, nil
				},
			},
		},
	}
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx := log.Context(context.Background(), log.WithFormat(log.FormatTerminal))

	script := &scriptedModel{turns: []scriptTurn{
		// Buffered run: tool call then final answer.
		{toolCall: &model.ToolCall{ID: "tc-1", Name: "clock.now", Arguments: json.RawMessage(`{}`)}},
		{text: "It is time to write more Go."},
		// Streaming run: direct answer.
		{text: "Streaming answers arrive one word at a time."},
		// Paused run: gated tool call, then final answer after approval.
		{toolCall: &model.ToolCall{ID: "tc-2", Name: "clock.set_alarm", Arguments: json.RawMessage(`{"at":"07:00"}`)}},
		{text: "Alarm set for seven."},
	}}

	rt := runtime.New(runtime.Options{
		Logger: telemetry.NewClueLogger(),
	})
	if err := rt.RegisterAgent(&runtime.Agent{
		ID:           agent.Ident(cfg.AgentID),
		Name:         cfg.AgentName,
		Model:        script,
		ModelID:      cfg.ModelID,
		Provider:     "scripted",
		SystemPrompt: cfg.SystemPrompt,
		Toolkits:     []*tools.Toolkit{buildToolkit()},
	}); err != nil {
		log.Fatal(ctx, err)
	}

	// 1) Buffered run: the record comes back complete with tool executions.
	rec, err := rt.Run(ctx, &runtime.RunRequest{
		AgentID:   agent.Ident(cfg.AgentID),
		Message:   cfg.Message,
		SessionID: cfg.SessionID,
		UserID:    cfg.UserID,
	})
	if err != nil {
		log.Fatal(ctx, err)
	}
	fmt.Println("== buffered ==")
	fmt.Println("status: ", rec.Status)
	fmt.Println("content:", rec.Content)
	for _, exec := range rec.Tools {
		fmt.Printf("tool %s -> %s\n", exec.ToolName, exec.Result)
	}

	// 2) Streaming run: events arrive incrementally.
	handle, err := rt.RunStream(ctx, &runtime.RunRequest{
		AgentID:   agent.Ident(cfg.AgentID),
		Message:   "Tell me about streaming.",
		SessionID: cfg.SessionID,
		UserID:    cfg.UserID,
	})
	if err != nil {
		log.Fatal(ctx, err)
	}
	fmt.Println("== streaming ==")
	for evt := range handle.Events() {
		switch e := evt.(type) {
		case *hooks.RunContentEvent:
			fmt.Print(e.Content)
		case *hooks.RunCompletedEvent:
			fmt.Printf("\n[%s after %s]\n", e.Status, e.Duration)
		}
	}
	if _, err := handle.Result(); err != nil {
		log.Fatal(ctx, err)
	}

	// 3) Pause and approve: the gated tool suspends the run until the caller
	// substitutes approved executions.
	paused, err := rt.Run(ctx, &runtime.RunRequest{
		AgentID:   agent.Ident(cfg.AgentID),
		Message:   "Wake me at seven.",
		SessionID: cfg.SessionID,
		UserID:    cfg.UserID,
	})
	if err != nil {
		log.Fatal(ctx, err)
	}
	fmt.Println("== paused ==")
	fmt.Println("status:", paused.Status)

	var updated []*tools.Execution
	for _, exec := range paused.PausedExecutions() {
		approved := *exec
		approved.Paused = false
		updated = append(updated, &approved)
	}
	resumed, err := rt.ContinueRun(ctx, &runtime.ContinueRequest{
		AgentID:      agent.Ident(cfg.AgentID),
		Record:       paused,
		UpdatedTools: updated,
		UserID:       cfg.UserID,
	})
	if err != nil {
		log.Fatal(ctx, err)
	}
	fmt.Println("== resumed ==")
	fmt.Println("status: ", resumed.Status)
	fmt.Println("content:", resumed.Content)

	rt.Wait()
}
