package runtime

import (
	"context"

	"goa.design/agentrun/runtime/agent/run"
)

// StartBackgroundRun spawns a detached run and returns its pending record
// immediately. The caller polls the session store (Sessions().GetRun) for
// progress; the record transitions pending to running to a terminal status.
// Background runs require a durable session store and are always buffered.
func (rt *Runtime) StartBackgroundRun(ctx context.Context, req *RunRequest) (*run.Record, error) {
	if !rt.durableSessions {
		return nil, &InputValidationError{Field: "session_store", Reason: "background runs require a configured session store"}
	}
	if req != nil && req.Options != nil && req.Options.Stream != nil && *req.Options.Stream {
		return nil, &InputValidationError{Field: "options.stream", Reason: "background runs cannot stream"}
	}

	forced := &run.Options{Stream: run.Bool(false)}
	ex, err := rt.prepareRun(ctx, req, forced)
	if err != nil {
		return nil, err
	}

	// Persist the pending record before detaching so pollers observe the run
	// from the moment this call returns.
	sess, err := rt.sessions.ReadOrCreate(ctx, ex.rec.SessionID, ex.rec.UserID)
	if err != nil {
		return nil, err
	}
	sess.UpsertRun(ex.rec)
	if err := rt.sessions.Upsert(ctx, sess); err != nil {
		return nil, err
	}
	ex.session = sess

	pending := *ex.rec

	rt.bgMu.Lock()
	rt.bgRuns[ex.rec.RunID] = struct{}{}
	rt.bgMu.Unlock()
	rt.background.Add(1)

	// The detached run outlives the caller's request context but still
	// carries its values for logging and tracing.
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			rt.bgMu.Lock()
			delete(rt.bgRuns, ex.rec.RunID)
			rt.bgMu.Unlock()
			rt.background.Done()
		}()
		if _, err := ex.executeBuffered(bgCtx); err != nil {
			rt.logger.Error(bgCtx, "background run failed", "run_id", ex.rec.RunID, "err", err.Error())
		}
	}()

	return &pending, nil
}

// BackgroundRuns returns the ids of the background runs currently in flight.
func (rt *Runtime) BackgroundRuns() []string {
	rt.bgMu.Lock()
	defer rt.bgMu.Unlock()
	ids := make([]string, 0, len(rt.bgRuns))
	for id := range rt.bgRuns {
		ids = append(ids, id)
	}
	return ids
}
