package pulse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/agentrun/runtime/agent/hooks"
)

func TestRuntimeStreamsRequiresClient(t *testing.T) {
	_, err := NewRuntimeStreams(RuntimeStreamsOptions{})
	require.EqualError(t, err, "pulse client is required")
}

func TestRuntimeStreamsSinkPublishes(t *testing.T) {
	str := newFakeStream()
	cli := &fakeClient{streams: map[string]*fakeStream{"run/run-1": str}}

	rs, err := NewRuntimeStreams(RuntimeStreamsOptions{Client: cli})
	require.NoError(t, err)

	evt := hooks.NewRunStartedEvent("run-1", "agent.chat", "sess-1", "user-1", "hi")
	require.NoError(t, rs.Sink().Send(context.Background(), evt))
	require.Len(t, str.added, 1)
	require.Equal(t, string(hooks.RunStarted), str.added[0].event)
}

func TestRuntimeStreamsSubscriberReusesClient(t *testing.T) {
	cli := &fakeClient{}
	rs, err := NewRuntimeStreams(RuntimeStreamsOptions{Client: cli})
	require.NoError(t, err)

	sub, err := rs.NewSubscriber(SubscriberOptions{SinkName: "fanout"})
	require.NoError(t, err)
	require.NotNil(t, sub)

	_, _, cancel, err := sub.Subscribe(context.Background(), "run/run-1")
	require.NoError(t, err)
	cancel()
	require.Contains(t, cli.streams, "run/run-1")
}

func TestRuntimeStreamsClose(t *testing.T) {
	cli := &fakeClient{}
	rs, err := NewRuntimeStreams(RuntimeStreamsOptions{Client: cli})
	require.NoError(t, err)
	require.NoError(t, rs.Close(context.Background()))
	require.True(t, cli.closed)
}
