package run

import (
	"time"

	"goa.design/agentrun/runtime/agent/hooks"
)

type (
	// Options is one layer of run configuration. Every field is tri-state:
	// nil means "unset, defer to the next layer". Layers are resolved with
	// the precedence: explicit caller argument, inherited run context, agent
	// default.
	Options struct {
		// Stream requests incremental event delivery instead of a single
		// buffered record.
		Stream *bool
		// StreamEvents requests that non-content lifecycle events also be
		// delivered on the stream.
		StreamEvents *bool
		// YieldRunOutput requests the final run record as the last element of
		// the stream.
		YieldRunOutput *bool

		// AddHistoryToContext includes prior session runs in the model input.
		AddHistoryToContext *bool
		// HistoryRuns caps how many prior runs are included. Zero means all.
		HistoryRuns *int
		// AddDependenciesToContext includes resolved dependencies in the
		// model input.
		AddDependenciesToContext *bool
		// AddSessionStateToContext materializes session state as a
		// system-visible block in the model input.
		AddSessionStateToContext *bool

		// StoreEvents appends emitted lifecycle events to the run record.
		StoreEvents *bool
		// SkipEvents lists event types dropped silently by the event
		// pipeline. A non-nil slice overrides lower layers entirely.
		SkipEvents []hooks.EventType

		// StoreMedia retains inline media bytes on the persisted record.
		StoreMedia *bool
		// StoreToolMessages retains tool-result message bodies on the
		// persisted record.
		StoreToolMessages *bool
		// StoreHistoryMessages retains the full model message sequence on the
		// persisted record.
		StoreHistoryMessages *bool

		// Retries is the number of additional attempts after a transient
		// failure.
		Retries *int
		// RetryDelay is the base delay between attempts.
		RetryDelay *time.Duration
		// ExponentialBackoff scales the delay by 2^attempt when set.
		ExponentialBackoff *bool

		// SaveResponseTo, when non-empty, is a file path template the final
		// content is written to. Supports {name}, {session_id}, {user_id},
		// {message} and {run_id} substitutions.
		SaveResponseTo *string

		// DebugMode enables verbose pipeline logging.
		DebugMode *bool
	}

	// Settings is the fully resolved, immutable run configuration.
	Settings struct {
		Stream         bool
		StreamEvents   bool
		YieldRunOutput bool

		AddHistoryToContext      bool
		HistoryRuns              int
		AddDependenciesToContext bool
		AddSessionStateToContext bool

		StoreEvents bool
		SkipEvents  map[hooks.EventType]bool

		StoreMedia           bool
		StoreToolMessages    bool
		StoreHistoryMessages bool

		Retries            int
		RetryDelay         time.Duration
		ExponentialBackoff bool

		SaveResponseTo string

		DebugMode bool
	}
)

// Resolve merges option layers into a settings value. Layers are ordered by
// decreasing precedence; nil layers are skipped. Fields left unset by every
// layer take the documented defaults.
func Resolve(layers ...*Options) *Settings {
	s := &Settings{
		RetryDelay:           time.Second,
		StoreMedia:           true,
		StoreToolMessages:    true,
		StoreHistoryMessages: true,
	}
	set := func(dst *bool, src *bool, done *bool) {
		if !*done && src != nil {
			*dst = *src
			*done = true
		}
	}
	var (
		stream, streamEvents, yieldOut            bool
		addHist, histRuns, addDeps, addState      bool
		storeEvents, skip                         bool
		storeMedia, storeTool, storeHist          bool
		retries, retryDelay, backoff, saveTo, dbg bool
	)
	for _, l := range layers {
		if l == nil {
			continue
		}
		set(&s.Stream, l.Stream, &stream)
		set(&s.StreamEvents, l.StreamEvents, &streamEvents)
		set(&s.YieldRunOutput, l.YieldRunOutput, &yieldOut)
		set(&s.AddHistoryToContext, l.AddHistoryToContext, &addHist)
		if !histRuns && l.HistoryRuns != nil {
			s.HistoryRuns = *l.HistoryRuns
			histRuns = true
		}
		set(&s.AddDependenciesToContext, l.AddDependenciesToContext, &addDeps)
		set(&s.AddSessionStateToContext, l.AddSessionStateToContext, &addState)
		set(&s.StoreEvents, l.StoreEvents, &storeEvents)
		if !skip && l.SkipEvents != nil {
			s.SkipEvents = make(map[hooks.EventType]bool, len(l.SkipEvents))
			for _, t := range l.SkipEvents {
				s.SkipEvents[t] = true
			}
			skip = true
		}
		set(&s.StoreMedia, l.StoreMedia, &storeMedia)
		set(&s.StoreToolMessages, l.StoreToolMessages, &storeTool)
		set(&s.StoreHistoryMessages, l.StoreHistoryMessages, &storeHist)
		if !retries && l.Retries != nil {
			s.Retries = *l.Retries
			retries = true
		}
		if !retryDelay && l.RetryDelay != nil {
			s.RetryDelay = *l.RetryDelay
			retryDelay = true
		}
		set(&s.ExponentialBackoff, l.ExponentialBackoff, &backoff)
		if !saveTo && l.SaveResponseTo != nil {
			s.SaveResponseTo = *l.SaveResponseTo
			saveTo = true
		}
		set(&s.DebugMode, l.DebugMode, &dbg)
	}
	return s
}

// AttemptDelay computes the sleep before re-entering the pipeline after the
// given zero-based attempt. Exponential backoff doubles per attempt; flat
// backoff returns the base delay unchanged.
func (s *Settings) AttemptDelay(attempt int) time.Duration {
	if !s.ExponentialBackoff {
		return s.RetryDelay
	}
	return s.RetryDelay * (1 << attempt)
}

// Bool returns a pointer to b, for building option layers.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to i, for building option layers.
func Int(i int) *int { return &i }

// Duration returns a pointer to d, for building option layers.
func Duration(d time.Duration) *time.Duration { return &d }

// String returns a pointer to v, for building option layers.
func String(v string) *string { return &v }
