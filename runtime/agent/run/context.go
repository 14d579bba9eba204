package run

import (
	"context"
	"fmt"
)

type (
	// Context carries per-run transient state threaded through the pipeline.
	// The dispatcher creates it, hooks and tools mutate it, and cleanup
	// serializes the relevant parts into the final run record.
	Context struct {
		// RunID, SessionID and UserID form the run-scoped identity triple.
		RunID     string
		SessionID string
		UserID    string

		// SessionState is the mutable key-value state shared between the
		// session, the run and tool handlers. Initialized from the session at
		// the start of the run and written back at cleanup.
		SessionState map[string]any

		// Dependencies maps names to values injected into the model context.
		// Provider entries are resolved before hooks run; a provider that
		// fails keeps its unresolved entry.
		Dependencies map[string]Dependency

		// KnowledgeFilters scope knowledge retrieval for this run.
		KnowledgeFilters map[string]any

		// Metadata carries caller-provided metadata merged into the run
		// record at cleanup.
		Metadata map[string]any

		// OutputSchema, when set, declares the JSON Schema the final content
		// must satisfy. Enables the parser model path.
		OutputSchema map[string]any
	}

	// Dependency is a tagged value: either a literal or a provider invoked
	// during dependency resolution. Exactly one of Value and Provide should
	// be set; Provide wins when both are.
	Dependency struct {
		// Value is a literal dependency value.
		Value any
		// Provide computes the value at resolution time. The run context is
		// passed so providers can read session state and identity.
		Provide func(ctx context.Context, rc *Context) (any, error)
	}
)

// NewContext constructs a run context for the given identity triple with
// empty mutable state.
func NewContext(runID, sessionID, userID string) *Context {
	return &Context{
		RunID:        runID,
		SessionID:    sessionID,
		UserID:       userID,
		SessionState: make(map[string]any),
	}
}

// Merge overlays the other context onto rc, preserving values already set on
// rc. Maps are merged key-wise with rc's entries winning on conflict.
func (rc *Context) Merge(other *Context) {
	if other == nil {
		return
	}
	if rc.UserID == "" {
		rc.UserID = other.UserID
	}
	rc.SessionState = mergeMaps(rc.SessionState, other.SessionState)
	rc.KnowledgeFilters = mergeMaps(rc.KnowledgeFilters, other.KnowledgeFilters)
	rc.Metadata = mergeMaps(rc.Metadata, other.Metadata)
	if rc.OutputSchema == nil {
		rc.OutputSchema = other.OutputSchema
	}
	if rc.Dependencies == nil && other.Dependencies != nil {
		rc.Dependencies = make(map[string]Dependency, len(other.Dependencies))
	}
	for k, v := range other.Dependencies {
		if _, ok := rc.Dependencies[k]; !ok {
			rc.Dependencies[k] = v
		}
	}
}

// ResolveDependencies invokes every provider entry and replaces it with the
// returned value. Provider failures leave the entry untouched and are
// reported through onErr; the run proceeds regardless.
func (rc *Context) ResolveDependencies(ctx context.Context, onErr func(name string, err error)) {
	for name, dep := range rc.Dependencies {
		if dep.Provide == nil {
			continue
		}
		v, err := dep.Provide(ctx, rc)
		if err != nil {
			if onErr != nil {
				onErr(name, fmt.Errorf("resolve dependency %q: %w", name, err))
			}
			continue
		}
		rc.Dependencies[name] = Dependency{Value: v}
	}
}

// DependencyValues returns the resolved dependency values by name. Unresolved
// provider entries are omitted.
func (rc *Context) DependencyValues() map[string]any {
	if len(rc.Dependencies) == 0 {
		return nil
	}
	vals := make(map[string]any, len(rc.Dependencies))
	for name, dep := range rc.Dependencies {
		if dep.Provide == nil {
			vals[name] = dep.Value
		}
	}
	return vals
}

func mergeMaps(dst, src map[string]any) map[string]any {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if _, ok := dst[k]; !ok {
			dst[k] = v
		}
	}
	return dst
}
