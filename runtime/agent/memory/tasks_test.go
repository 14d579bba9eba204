package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type extractorFunc func(ctx context.Context, in *Input) ([]*Item, error)

func (fn extractorFunc) Extract(ctx context.Context, in *Input) ([]*Item, error) {
	return fn(ctx, in)
}

type recordingStore struct {
	added []*Item
}

func (s *recordingStore) Add(_ context.Context, items ...*Item) error {
	s.added = append(s.added, items...)
	return nil
}

func (s *recordingStore) List(context.Context, Kind, string) ([]*Item, error) {
	return nil, nil
}

func TestJoinCollectsAllResults(t *testing.T) {
	store := &recordingStore{}
	ts := NewTaskSet(store, nil, nil)

	ts.Launch(context.Background(), &Input{RunID: "r1"}, map[Kind]Extractor{
		KindUserMemory: extractorFunc(func(context.Context, *Input) ([]*Item, error) {
			return []*Item{{Kind: KindUserMemory, Content: "likes Go"}}, nil
		}),
		KindLearning: extractorFunc(func(context.Context, *Input) ([]*Item, error) {
			return nil, errors.New("extraction failed")
		}),
	})

	results := ts.Join()
	require.Len(t, results, 2)

	var completed, failed int
	for _, res := range results {
		if res.Err != nil {
			failed++
		} else {
			completed++
		}
	}
	require.Equal(t, 1, completed)
	require.Equal(t, 1, failed)
	require.Len(t, store.added, 1)
	require.Equal(t, "likes Go", store.added[0].Content)
}

func TestJoinSkipsNilExtractors(t *testing.T) {
	ts := NewTaskSet(nil, nil, nil)
	ts.Launch(context.Background(), &Input{}, map[Kind]Extractor{
		KindUserMemory: nil,
	})
	require.Empty(t, ts.Join())
}

func TestCancelAndReapStopsRunningTasks(t *testing.T) {
	ts := NewTaskSet(nil, nil, nil)
	started := make(chan struct{})
	observed := make(chan error, 1)

	ts.Launch(context.Background(), &Input{}, map[Kind]Extractor{
		KindCulturalKnowledge: extractorFunc(func(ctx context.Context, _ *Input) ([]*Item, error) {
			close(started)
			<-ctx.Done()
			observed <- ctx.Err()
			return nil, ctx.Err()
		}),
	})

	<-started
	ts.CancelAndReap()

	select {
	case err := <-observed:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("task did not observe cancellation")
	}
}

func TestUserMemoriesFiltersByKindAndError(t *testing.T) {
	results := []*TaskResult{
		{Kind: KindUserMemory, Items: []*Item{{Content: "a"}, {Content: "b"}}},
		{Kind: KindLearning, Items: []*Item{{Content: "c"}}},
		{Kind: KindUserMemory, Err: errors.New("boom"), Items: []*Item{{Content: "d"}}},
	}

	items := UserMemories(results)
	require.Len(t, items, 2)
	require.Equal(t, "a", items[0].Content)
	require.Equal(t, "b", items[1].Content)
}
