package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/agentrun/runtime/agent/run"
	"goa.design/agentrun/runtime/agent/session"
)

func TestReadOrCreateIsIdempotent(t *testing.T) {
	client := New()
	ctx := context.Background()
	sess, err := client.ReadOrCreateSession(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	require.Equal(t, "user-1", sess.UserID)

	again, err := client.ReadOrCreateSession(ctx, "sess-1", "user-2")
	require.NoError(t, err)
	require.Equal(t, "user-1", again.UserID)
}

func TestUpsertLoadRunDefensiveCopy(t *testing.T) {
	client := New()
	ctx := context.Background()
	_, err := client.ReadOrCreateSession(ctx, "sess-1", "")
	require.NoError(t, err)

	rec := run.New("run-1", "sess-1", "agent.chat", "", &run.Input{Message: "hi"})
	require.NoError(t, client.UpsertRun(ctx, rec))

	loaded, err := client.LoadRun(ctx, "sess-1", "run-1")
	require.NoError(t, err)
	loaded.Content = "mutated"
	reread, err := client.LoadRun(ctx, "sess-1", "run-1")
	require.NoError(t, err)
	require.Empty(t, reread.Content, "expected defensive copy")
}

func TestListRunsOrderedByCreation(t *testing.T) {
	client := New()
	ctx := context.Background()
	base := time.Now().UTC()

	newer := run.New("run-2", "sess-1", "agent.chat", "", &run.Input{Message: "b"})
	newer.CreatedAt = base.Add(time.Minute)
	older := run.New("run-1", "sess-1", "agent.chat", "", &run.Input{Message: "a"})
	older.CreatedAt = base
	require.NoError(t, client.UpsertRun(ctx, newer))
	require.NoError(t, client.UpsertRun(ctx, older))

	runs, err := client.ListRunsBySession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-1", runs[0].RunID)
	require.Equal(t, "run-2", runs[1].RunID)
}

func TestLoadRunMissing(t *testing.T) {
	client := New()
	ctx := context.Background()
	_, err := client.LoadRun(ctx, "sess-1", "run-1")
	require.ErrorIs(t, err, session.ErrSessionNotFound)

	_, err = client.ReadOrCreateSession(ctx, "sess-1", "")
	require.NoError(t, err)
	_, err = client.LoadRun(ctx, "sess-1", "run-1")
	require.ErrorIs(t, err, session.ErrRunNotFound)
}

func TestReset(t *testing.T) {
	client := New()
	ctx := context.Background()
	_, err := client.ReadOrCreateSession(ctx, "sess-1", "")
	require.NoError(t, err)
	client.Reset()
	_, err = client.LoadRun(ctx, "sess-1", "run-1")
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}
