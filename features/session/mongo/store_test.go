package mongo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/agentrun/features/session/mongo/clients/mongo/inmem"
	"goa.design/agentrun/runtime/agent/run"
	"goa.design/agentrun/runtime/agent/session"
)

func TestNewStoreRequiresClient(t *testing.T) {
	_, err := NewStore(nil)
	require.EqualError(t, err, "client is required")
}

func TestReadOrCreateRoundTrip(t *testing.T) {
	store := mustNewTestStore(t)
	ctx := context.Background()

	sess, err := store.ReadOrCreate(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	require.Equal(t, "sess-1", sess.ID)
	require.Equal(t, "user-1", sess.UserID)
	require.Empty(t, sess.Runs)

	again, err := store.ReadOrCreate(ctx, "sess-1", "user-2")
	require.NoError(t, err)
	require.Equal(t, "user-1", again.UserID, "existing session must not be modified")
}

func TestUpsertPersistsRuns(t *testing.T) {
	store := mustNewTestStore(t)
	ctx := context.Background()

	sess, err := store.ReadOrCreate(ctx, "sess-1", "user-1")
	require.NoError(t, err)

	rec := run.New("run-1", "sess-1", "agent.chat", "user-1", &run.Input{Message: "hi"})
	rec.SetStatus(run.StatusCompleted)
	rec.Content = "hello"
	sess.UpsertRun(rec)
	sess.Summary = "greeting exchange"
	require.NoError(t, store.Upsert(ctx, sess))

	loaded, err := store.ReadOrCreate(ctx, "sess-1", "")
	require.NoError(t, err)
	require.Equal(t, "greeting exchange", loaded.Summary)
	require.Len(t, loaded.Runs, 1)
	require.Equal(t, "hello", loaded.Runs[0].Content)
}

func TestGetRunForPolling(t *testing.T) {
	store := mustNewTestStore(t)
	ctx := context.Background()

	sess, err := store.ReadOrCreate(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	rec := run.New("run-1", "sess-1", "agent.chat", "user-1", &run.Input{Message: "hi"})
	sess.UpsertRun(rec)
	require.NoError(t, store.Upsert(ctx, sess))

	stored, err := store.GetRun(ctx, "sess-1", "run-1")
	require.NoError(t, err)
	require.Equal(t, run.StatusPending, stored.Status)

	_, err = store.GetRun(ctx, "sess-1", "missing")
	require.ErrorIs(t, err, session.ErrRunNotFound)
}

func TestUpsertRequiresSession(t *testing.T) {
	store := mustNewTestStore(t)
	require.EqualError(t, store.Upsert(context.Background(), nil), "session is required")
}

func mustNewTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(inmem.New())
	require.NoError(t, err)
	return store
}
