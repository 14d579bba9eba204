// Package stream implements the event pipeline that delivers run lifecycle
// events to callers and transports.
//
// The pipeline is intentionally side-effect-minimal relative to the run
// record: for each emitted event it consults the configured skip-set,
// optionally appends the event to the record's event sequence, yields the
// event to the streaming caller, and forwards it to an optional Sink
// (SSE, WebSocket, Pulse). It never mutates the record's tools, content or
// messages.
package stream

import (
	"context"
	"fmt"

	"goa.design/agentrun/runtime/agent/hooks"
	"goa.design/agentrun/runtime/agent/run"
)

type (
	// Sink delivers streaming events to clients over a transport. Transports
	// and tests implement Sink; the pipeline forwards every non-skipped event
	// by invoking Send.
	Sink interface {
		// Send publishes an event to the sink's underlying transport. The
		// implementation marshals the event into its wire format and handles
		// transport-specific delivery semantics. Send must be safe to call
		// concurrently.
		Send(ctx context.Context, event hooks.Event) error

		// Close releases resources owned by the sink. Idempotent. The context
		// bounds graceful shutdown; implementations should flush pending
		// events or abort when it expires.
		Close(ctx context.Context) error
	}

	// Pipeline applies the per-run event policy: skip-set filtering, optional
	// persistence on the run record, delivery to the streaming caller, and
	// optional sink forwarding. A pipeline serves exactly one run and is not
	// safe for concurrent Emit calls; the run loop emits sequentially.
	Pipeline struct {
		record   *run.Record
		settings *run.Settings
		out      chan<- hooks.Event
		sink     Sink
	}

	// Option configures a Pipeline.
	Option func(*Pipeline)
)

// WithChannel directs emitted events to the given channel, enabling streaming
// delivery. Without a channel the pipeline only persists and forwards.
func WithChannel(out chan<- hooks.Event) Option {
	return func(p *Pipeline) { p.out = out }
}

// WithSink forwards every emitted event to the sink after caller delivery.
func WithSink(sink Sink) Option {
	return func(p *Pipeline) { p.sink = sink }
}

// NewPipeline constructs the event pipeline for one run. The record receives
// persisted events when the resolved settings enable event storage.
func NewPipeline(record *run.Record, settings *run.Settings, opts ...Option) *Pipeline {
	p := &Pipeline{record: record, settings: settings}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit processes one lifecycle event. Skipped events are dropped silently.
// Delivery order is: persist, caller channel, sink. A sink failure is
// returned so the run loop can surface streaming failures immediately;
// channel delivery respects context cancellation.
func (p *Pipeline) Emit(ctx context.Context, evt hooks.Event) error {
	if p.settings.SkipEvents[evt.Type()] {
		return nil
	}
	if evt.Type() == hooks.RunOutput {
		return p.deliver(ctx, evt)
	}
	if p.settings.StoreEvents {
		env, err := hooks.Encode(evt)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		p.record.AppendEvent(env)
	}
	if err := p.deliver(ctx, evt); err != nil {
		return err
	}
	if p.sink != nil {
		if err := p.sink.Send(ctx, evt); err != nil {
			return fmt.Errorf("sink send: %w", err)
		}
	}
	return nil
}

// deliver yields the event to the caller channel, respecting cancellation.
func (p *Pipeline) deliver(ctx context.Context, evt hooks.Event) error {
	if p.out == nil {
		return nil
	}
	select {
	case p.out <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Streaming reports whether the pipeline delivers events to a caller channel.
func (p *Pipeline) Streaming() bool { return p.out != nil }

// HandleEvent implements hooks.Subscriber so a pipeline can be registered
// directly on a hook bus.
func (p *Pipeline) HandleEvent(ctx context.Context, evt hooks.Event) error {
	return p.Emit(ctx, evt)
}
