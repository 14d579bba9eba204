// Package cancel implements the process-wide run cancellation registry.
//
// Cancellation is cooperative: callers register a run before doing any
// cancellable work, external actors flag the run via Cancel, and the run loop
// observes the flag by calling RaiseIfCancelled at every suspension point.
// The registry never interrupts a run preemptively.
package cancel

import (
	"fmt"
	"sync"
)

type (
	// Registry tracks in-flight runs and their cancellation flags. The zero
	// value is not usable; construct with NewRegistry. All methods are safe
	// for concurrent use.
	Registry struct {
		mu   sync.Mutex
		runs map[string]*entry
	}

	entry struct {
		cancelled bool
		reason    string
	}

	// CancelledError is returned by RaiseIfCancelled when the run has been
	// flagged. It carries the caller-provided reason, if any.
	CancelledError struct {
		RunID  string
		Reason string
	}
)

// Error implements the error interface.
func (e *CancelledError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("run %s cancelled: %s", e.RunID, e.Reason)
	}
	return fmt.Sprintf("run %s cancelled", e.RunID)
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*entry)}
}

// Register adds the run to the registry. It must be called before any work
// that could be cancelled. Registering an already-registered run resets its
// cancellation flag.
func (r *Registry) Register(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[runID] = &entry{}
}

// Cancel flags the run for cancellation and reports whether a run with that
// id was registered. Calling Cancel twice is equivalent to calling it once;
// cancelling after Cleanup is a no-op.
func (r *Registry) Cancel(runID string, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runs[runID]
	if !ok {
		return false
	}
	if !e.cancelled {
		e.cancelled = true
		e.reason = reason
	}
	return true
}

// RaiseIfCancelled returns a *CancelledError when the run has been flagged,
// nil otherwise. A Cancel issued before a given RaiseIfCancelled call is
// always observed by that call.
func (r *Registry) RaiseIfCancelled(runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runs[runID]
	if !ok || !e.cancelled {
		return nil
	}
	return &CancelledError{RunID: runID, Reason: e.reason}
}

// Cleanup removes the run from the registry. It must be called in the
// terminal cleanup of every run variant. Cleanup of an unknown run is a
// no-op.
func (r *Registry) Cleanup(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
}

// Default is the process-wide registry used by the runtime when none is
// supplied explicitly.
var Default = NewRegistry()
