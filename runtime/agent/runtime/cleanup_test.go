package runtime

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/agentrun/runtime/agent/model"
	"goa.design/agentrun/runtime/agent/run"
)

func TestScrubStoreToolMessages(t *testing.T) {
	m := &scriptedModel{turns: []scriptTurn{
		{calls: []model.ToolCall{{ID: "tc-1", Name: "echo.say", Arguments: json.RawMessage(`{}`)}}},
		{text: "done"},
	}}
	rt := newTestRuntime(t, m, Options{})

	rec, err := rt.Run(context.Background(), &RunRequest{
		AgentID: "test.agent",
		Message: "go",
		Options: &run.Options{StoreToolMessages: run.Bool(false)},
	})
	require.NoError(t, err)
	require.Equal(t, run.StatusCompleted, rec.Status)
	require.Empty(t, rec.Tools[0].Result)
	for _, msg := range rec.Messages {
		require.NotEqual(t, model.RoleTool, msg.Role)
	}
}

func TestScrubStoreHistoryMessages(t *testing.T) {
	m := &scriptedModel{turns: []scriptTurn{{text: "done"}}}
	rt := newTestRuntime(t, m, Options{})

	rec, err := rt.Run(context.Background(), &RunRequest{
		AgentID: "test.agent",
		Message: "go",
		Options: &run.Options{StoreHistoryMessages: run.Bool(false)},
	})
	require.NoError(t, err)
	require.Nil(t, rec.Messages)
}

func TestScrubStoreMedia(t *testing.T) {
	m := &scriptedModel{turns: []scriptTurn{{text: "done"}}}
	rt := newTestRuntime(t, m, Options{})

	rec, err := rt.Run(context.Background(), &RunRequest{
		AgentID: "test.agent",
		Input: &run.Input{
			Message: "look at this",
			Media:   []*run.MediaRef{{Kind: "image", Name: "pic.png", Data: []byte{1, 2, 3}}},
		},
		Options: &run.Options{StoreMedia: run.Bool(false)},
	})
	require.NoError(t, err)
	require.Nil(t, rec.Input.Media[0].Data)
	require.Equal(t, "pic.png", rec.Input.Media[0].Name)
}

func TestWriteArtifact(t *testing.T) {
	dir := t.TempDir()
	m := &scriptedModel{turns: []scriptTurn{{text: "artifact content"}}}
	rt := newTestRuntime(t, m, Options{})

	_, err := rt.Run(context.Background(), &RunRequest{
		AgentID:   "test.agent",
		Message:   "go",
		SessionID: "sess-1",
		Options: &run.Options{
			SaveResponseTo: run.String(filepath.Join(dir, "{name}-{session_id}.txt")),
		},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "Test Agent-sess-1.txt"))
	require.NoError(t, err)
	require.Equal(t, "artifact content", string(data))
}

func TestWriteArtifactIndentsJSON(t *testing.T) {
	dir := t.TempDir()
	m := &scriptedModel{turns: []scriptTurn{{structured: json.RawMessage(`{"a":1}`)}}}
	rt := newTestRuntime(t, m, Options{})

	_, err := rt.Run(context.Background(), &RunRequest{
		AgentID:      "test.agent",
		Message:      "go",
		OutputSchema: map[string]any{"type": "object"},
		Options: &run.Options{
			SaveResponseTo: run.String(filepath.Join(dir, "out.json")),
		},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "out.json"))
	require.NoError(t, err)
	require.Contains(t, string(data), "\n  \"a\": 1")
}

func TestSanitizePathValue(t *testing.T) {
	require.Equal(t, "_etc_passwd", sanitizePathValue("/etc/passwd"))
	require.Equal(t, "___secret", sanitizePathValue("../secret"))
	require.Equal(t, "a_b", sanitizePathValue(`a\b`))
	require.Equal(t, "plain", sanitizePathValue("plain"))
}

func TestSessionAccumulatesRunMetrics(t *testing.T) {
	m := &scriptedModel{turns: []scriptTurn{{text: "one"}, {text: "two"}}}
	rt := newTestRuntime(t, m, Options{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := rt.Run(ctx, &RunRequest{AgentID: "test.agent", Message: "hi", SessionID: "sess-m"})
		require.NoError(t, err)
	}

	sess, err := rt.Sessions().ReadOrCreate(ctx, "sess-m", "")
	require.NoError(t, err)
	require.Equal(t, 2, sess.Metrics.RunCount)
	require.Equal(t, 30, sess.Metrics.Usage.TotalTokens)
}
