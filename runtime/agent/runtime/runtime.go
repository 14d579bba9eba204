// Package runtime implements the run orchestrator: the execution core that
// drives a single interaction between a user and a model-backed agent from
// input to final output. It coordinates session loading, dependency
// resolution, pre/post hooks, tool-augmented model invocation, background
// enrichment tasks, pause/resume for human-in-the-loop tool approvals,
// cooperative cancellation, retries, streaming, and durable persistence of
// the run record.
//
// Lifecycle:
//  1. Construct with New()
//  2. Register agents with RegisterAgent
//  3. Dispatch runs via Run, RunStream, ContinueRun, ContinueRunStream or
//     StartBackgroundRun
//
// The Runtime is thread-safe; many independent runs may be in flight
// concurrently. A single run is single-threaded along its phase pipeline
// with up to three background enrichment workers executing in parallel.
package runtime

import (
	"sync"

	"goa.design/agentrun/runtime/agent"
	"goa.design/agentrun/runtime/agent/approval"
	approvalinmem "goa.design/agentrun/runtime/agent/approval/inmem"
	"goa.design/agentrun/runtime/agent/cancel"
	"goa.design/agentrun/runtime/agent/hooks"
	"goa.design/agentrun/runtime/agent/memory"
	"goa.design/agentrun/runtime/agent/session"
	sessioninmem "goa.design/agentrun/runtime/agent/session/inmem"
	"goa.design/agentrun/runtime/agent/stream"
	"goa.design/agentrun/runtime/agent/telemetry"
)

type (
	// Runtime orchestrates agent runs. It serves as the registry for agents
	// and owns the shared collaborators: session store, approval store,
	// memory store, cancellation registry, event bus and stream sink. All
	// public methods are safe for concurrent use.
	Runtime struct {
		sessions  session.Store
		approvals approval.Store
		memories  memory.Store
		registry  *cancel.Registry
		bus       hooks.Bus
		sink      stream.Sink

		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer

		// durableSessions is false when the session store was defaulted to
		// the in-memory implementation. Background runs require an
		// explicitly configured store so callers can poll it.
		durableSessions bool

		mu     sync.RWMutex
		agents map[agent.Ident]*Agent

		// background retains strong references to detached background run
		// goroutines so they are joinable at shutdown.
		background sync.WaitGroup
		bgMu       sync.Mutex
		bgRuns     map[string]struct{}
	}

	// Options configures the Runtime. All fields are optional: noop
	// implementations substitute for nil Logger, Metrics and Tracer, and
	// in-memory stores substitute for nil SessionStore and ApprovalStore.
	Options struct {
		// SessionStore persists sessions and their run records.
		SessionStore session.Store
		// ApprovalStore persists pause approval records.
		ApprovalStore approval.Store
		// MemoryStore persists background-extracted items.
		MemoryStore memory.Store
		// Registry is the cancellation registry. Defaults to cancel.Default.
		Registry *cancel.Registry
		// Bus receives every non-skipped lifecycle event for external
		// subscribers. Defaults to a fresh in-memory bus.
		Bus hooks.Bus
		// Stream forwards events to a transport sink (SSE, Pulse). Optional.
		Stream stream.Sink
		// Logger emits structured logs (usually backed by Clue).
		Logger telemetry.Logger
		// Metrics records counters and histograms for runtime operations.
		Metrics telemetry.Metrics
		// Tracer emits spans for run phases.
		Tracer telemetry.Tracer
	}
)

// New constructs a Runtime with the given options.
func New(opts Options) *Runtime {
	rt := &Runtime{
		sessions:        opts.SessionStore,
		approvals:       opts.ApprovalStore,
		memories:        opts.MemoryStore,
		registry:        opts.Registry,
		bus:             opts.Bus,
		sink:            opts.Stream,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		tracer:          opts.Tracer,
		durableSessions: opts.SessionStore != nil,
		agents:          make(map[agent.Ident]*Agent),
		bgRuns:          make(map[string]struct{}),
	}
	if rt.sessions == nil {
		rt.sessions = sessioninmem.New()
	}
	if rt.approvals == nil {
		rt.approvals = approvalinmem.New()
	}
	if rt.registry == nil {
		rt.registry = cancel.Default
	}
	if rt.bus == nil {
		rt.bus = hooks.NewBus()
	}
	if rt.logger == nil {
		rt.logger = telemetry.NewNoopLogger()
	}
	if rt.metrics == nil {
		rt.metrics = telemetry.NewNoopMetrics()
	}
	if rt.tracer == nil {
		rt.tracer = telemetry.NewNoopTracer()
	}
	return rt
}

// RegisterAgent makes an agent available for dispatch. Registering the same
// id twice replaces the previous definition.
func (rt *Runtime) RegisterAgent(a *Agent) error {
	if err := a.validate(); err != nil {
		return err
	}
	rt.mu.Lock()
	rt.agents[a.ID] = a
	rt.mu.Unlock()
	return nil
}

// Agent returns the registered agent definition, or ErrAgentNotRegistered.
func (rt *Runtime) Agent(id agent.Ident) (*Agent, error) {
	rt.mu.RLock()
	a, ok := rt.agents[id]
	rt.mu.RUnlock()
	if !ok {
		return nil, ErrAgentNotRegistered
	}
	return a, nil
}

// CancelRun flags the run for cooperative cancellation and reports whether a
// run with that id is in flight. The run transitions to cancelled at its
// next suspension point; calling CancelRun twice is equivalent to calling it
// once.
func (rt *Runtime) CancelRun(runID, reason string) bool {
	return rt.registry.Cancel(runID, reason)
}

// Bus returns the runtime event bus for external subscribers.
func (rt *Runtime) Bus() hooks.Bus { return rt.bus }

// Sessions returns the session store, for pollers of background runs.
func (rt *Runtime) Sessions() session.Store { return rt.sessions }

// Approvals returns the approval store.
func (rt *Runtime) Approvals() approval.Store { return rt.approvals }

// Wait blocks until all background-spawned runs have finished. Intended for
// graceful shutdown and tests.
func (rt *Runtime) Wait() { rt.background.Wait() }
