package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "goa.design/agentrun/features/stream/pulse/clients/pulse"
	"goa.design/agentrun/runtime/agent/hooks"
)

func TestSendPublishesEnvelope(t *testing.T) {
	str := newFakeStream()
	cli := &fakeClient{streams: map[string]*fakeStream{"run/run-123": str}}

	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)

	evt := hooks.NewRunContentEvent("run-123", "agent.chat", "sess-1", "hello", "text")
	require.NoError(t, sink.Send(context.Background(), evt))

	require.Len(t, str.added, 1)
	require.Equal(t, string(hooks.RunContent), str.added[0].event)

	var env hooks.Envelope
	require.NoError(t, json.Unmarshal(str.added[0].payload, &env))
	require.Equal(t, hooks.RunContent, env.Type)
	require.Equal(t, "run-123", env.RunID)
	require.Equal(t, "sess-1", env.SessionID)

	decoded, err := hooks.Decode(&env)
	require.NoError(t, err)
	content, ok := decoded.(*hooks.RunContentEvent)
	require.True(t, ok)
	require.Equal(t, "hello", content.Content)
}

func TestCustomStreamID(t *testing.T) {
	str := newFakeStream()
	cli := &fakeClient{streams: map[string]*fakeStream{"custom/run-1": str}}

	sink, err := NewSink(Options{
		Client: cli,
		StreamID: func(e hooks.Event) (string, error) {
			return "custom/" + e.RunID(), nil
		},
	})
	require.NoError(t, err)
	evt := hooks.NewRunStartedEvent("run-1", "agent.chat", "sess-1", "user-1", "hi")
	require.NoError(t, sink.Send(context.Background(), evt))
	require.Len(t, str.added, 1)
}

func TestSendRequiresRunID(t *testing.T) {
	sink, err := NewSink(Options{Client: &fakeClient{}})
	require.NoError(t, err)
	evt := hooks.NewRunStartedEvent("", "agent.chat", "sess-1", "", "hi")
	err = sink.Send(context.Background(), evt)
	require.EqualError(t, err, "stream event missing run id")
}

func TestStreamCreationError(t *testing.T) {
	cli := &fakeClient{streamErr: errors.New("boom")}
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	evt := hooks.NewRunStartedEvent("run-1", "agent.chat", "sess-1", "", "hi")
	require.EqualError(t, sink.Send(context.Background(), evt), "boom")
}

func TestAddError(t *testing.T) {
	str := newFakeStream()
	str.addErr = errors.New("add-failed")
	cli := &fakeClient{streams: map[string]*fakeStream{"run/run-1": str}}
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	evt := hooks.NewRunStartedEvent("run-1", "agent.chat", "sess-1", "", "hi")
	require.EqualError(t, sink.Send(context.Background(), evt), "add-failed")
}

func TestCloseDelegates(t *testing.T) {
	cli := &fakeClient{}
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))
	require.True(t, cli.closed)
}

func TestNewSinkRequiresClient(t *testing.T) {
	_, err := NewSink(Options{})
	require.EqualError(t, err, "pulse client is required")
}

type addedEntry struct {
	event   string
	payload []byte
}

type fakeStream struct {
	added   []addedEntry
	addErr  error
	sink    *fakeSink
	sinkErr error
}

func newFakeStream() *fakeStream {
	return &fakeStream{sink: newFakeSink()}
}

func (s *fakeStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if s.addErr != nil {
		return "", s.addErr
	}
	s.added = append(s.added, addedEntry{event: event, payload: payload})
	return "1-0", nil
}

func (s *fakeStream) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (clientspulse.Sink, error) {
	if s.sinkErr != nil {
		return nil, s.sinkErr
	}
	s.sink.name = name
	return s.sink, nil
}

func (s *fakeStream) Destroy(ctx context.Context) error { return nil }

type fakeSink struct {
	name   string
	events chan *streaming.Event
	acked  []string
	closed bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{events: make(chan *streaming.Event, 8)}
}

func (s *fakeSink) Subscribe() <-chan *streaming.Event { return s.events }

func (s *fakeSink) Ack(ctx context.Context, evt *streaming.Event) error {
	s.acked = append(s.acked, evt.ID)
	return nil
}

func (s *fakeSink) Close(ctx context.Context) { s.closed = true }

type fakeClient struct {
	streams   map[string]*fakeStream
	streamErr error
	closed    bool
}

func (c *fakeClient) Stream(name string, opts ...streamopts.Stream) (clientspulse.Stream, error) {
	if c.streamErr != nil {
		return nil, c.streamErr
	}
	str, ok := c.streams[name]
	if !ok {
		str = newFakeStream()
		if c.streams == nil {
			c.streams = make(map[string]*fakeStream)
		}
		c.streams[name] = str
	}
	return str, nil
}

func (c *fakeClient) Close(ctx context.Context) error {
	c.closed = true
	return nil
}
