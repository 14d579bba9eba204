package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"goa.design/agentrun/runtime/agent/model"
)

// testDecoder feeds a fixed sequence of events to the ssestream.Stream.
type testDecoder struct {
	events []ssestream.Event
	i      int
	err    error
}

func (d *testDecoder) Event() ssestream.Event { return d.events[d.i-1] }

func (d *testDecoder) Next() bool {
	if d.err != nil {
		return false
	}
	if d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}

func (d *testDecoder) Close() error { return nil }
func (d *testDecoder) Err() error   { return d.err }

func TestStreamer_TextAndToolCall(t *testing.T) {
	events := []ssestream.Event{
		rawEvent(t, "content_block_delta", `{
  "type": "content_block_delta",
  "index": 0,
  "delta": { "type": "text_delta", "text": "hello" }
}`),
		rawEvent(t, "content_block_start", `{
  "type": "content_block_start",
  "index": 1,
  "content_block": { "type": "tool_use", "id": "t1", "name": "search_web" }
}`),
		rawEvent(t, "content_block_delta", `{
  "type": "content_block_delta",
  "index": 1,
  "delta": { "type": "input_json_delta", "partial_json": "{\"x\":1}" }
}`),
		rawEvent(t, "content_block_stop", `{
  "type": "content_block_stop",
  "index": 1
}`),
		rawEvent(t, "message_stop", `{
  "type": "message_stop"
}`),
	}

	dec := &testDecoder{events: events}
	stream := ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil)
	nameMap := map[string]string{"search_web": "search.web"}

	s := newStreamer(context.Background(), stream, nameMap)
	defer func() {
		_ = s.Close()
	}()

	var chunks []model.Chunk
	for {
		ch, err := s.Recv()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("unexpected context error: %v", err)
			}
			break
		}
		chunks = append(chunks, ch)
	}

	if len(chunks) == 0 {
		t.Fatalf("expected chunks, got none")
	}

	var sawText, sawTool, sawStop bool
	for _, ch := range chunks {
		switch ch.Type {
		case model.ChunkTypeText:
			sawText = true
			if ch.Text != "hello" {
				t.Fatalf("unexpected text %q", ch.Text)
			}
		case model.ChunkTypeToolCall:
			sawTool = true
			if ch.ToolCall == nil {
				t.Fatalf("tool chunk missing ToolCall")
			}
			if ch.ToolCall.Name != "search.web" {
				t.Fatalf("unexpected tool name %q", ch.ToolCall.Name)
			}
			if string(ch.ToolCall.Arguments) != `{"x":1}` {
				t.Fatalf("unexpected arguments %s", string(ch.ToolCall.Arguments))
			}
		case model.ChunkTypeStop:
			sawStop = true
		}
	}
	if !sawText {
		t.Fatalf("expected text chunk")
	}
	if !sawTool {
		t.Fatalf("expected tool_call chunk")
	}
	if !sawStop {
		t.Fatalf("expected stop chunk")
	}
}

func TestStreamer_UsageAndStopReason(t *testing.T) {
	events := []ssestream.Event{
		rawEvent(t, "message_delta", `{
  "type": "message_delta",
  "delta": { "stop_reason": "end_turn" },
  "usage": { "input_tokens": 7, "output_tokens": 3 }
}`),
		rawEvent(t, "message_stop", `{
  "type": "message_stop"
}`),
	}

	dec := &testDecoder{events: events}
	stream := ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil)

	s := newStreamer(context.Background(), stream, nil)
	defer func() {
		_ = s.Close()
	}()

	var usage *model.TokenUsage
	var stopReason string
	for {
		ch, err := s.Recv()
		if err != nil {
			break
		}
		switch ch.Type {
		case model.ChunkTypeUsage:
			usage = ch.UsageDelta
		case model.ChunkTypeStop:
			stopReason = ch.StopReason
		}
	}
	if usage == nil {
		t.Fatalf("expected usage chunk")
	}
	if usage.InputTokens != 7 || usage.OutputTokens != 3 || usage.TotalTokens != 10 {
		t.Fatalf("unexpected usage: %+v", usage)
	}
	if stopReason != "end_turn" {
		t.Fatalf("unexpected stop reason %q", stopReason)
	}
}

func rawEvent(t *testing.T, typ, payload string) ssestream.Event {
	t.Helper()
	var ev sdk.MessageStreamEventUnion
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		t.Fatalf("unmarshal %s event: %v", typ, err)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal %s event: %v", typ, err)
	}
	return ssestream.Event{Type: typ, Data: data}
}
