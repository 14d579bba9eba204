package memory

import (
	"context"
	"sync"

	"goa.design/agentrun/runtime/agent/telemetry"
)

type (
	// TaskSet runs the per-run background enrichment tasks: user memory,
	// cultural knowledge, and learning extraction. Each task is optional.
	// Tasks receive the built message sequence by reference and must not
	// mutate it.
	//
	// Lifecycle: Launch starts the configured tasks, Join waits for all of
	// them, CancelAndReap cancels whatever is still running and returns
	// without blocking. Exactly one of Join or CancelAndReap concludes the
	// set; both are idempotent with respect to task state.
	TaskSet struct {
		store   Store
		logger  telemetry.Logger
		metrics telemetry.Metrics

		cancel context.CancelFunc
		wg     sync.WaitGroup

		mu      sync.Mutex
		results []*TaskResult
	}

	// TaskResult is the outcome of one enrichment task.
	TaskResult struct {
		// Kind identifies which extractor produced the result.
		Kind Kind
		// Items holds the extracted items on success.
		Items []*Item
		// Err records the failure, already logged and swallowed. A cancelled
		// task carries the context error.
		Err error
	}
)

// NewTaskSet constructs an empty task set. A nil logger or metrics recorder
// defaults to the no-op implementation.
func NewTaskSet(store Store, logger telemetry.Logger, metrics telemetry.Metrics) *TaskSet {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &TaskSet{store: store, logger: logger, metrics: metrics}
}

// Launch starts one goroutine per non-nil extractor. The tasks derive their
// context from ctx; CancelAndReap cancels it. Launch must be called at most
// once.
func (ts *TaskSet) Launch(ctx context.Context, in *Input, extractors map[Kind]Extractor) {
	ctx, ts.cancel = context.WithCancel(ctx)
	for kind, ex := range extractors {
		if ex == nil {
			continue
		}
		ts.wg.Add(1)
		go ts.run(ctx, kind, ex, in)
	}
}

func (ts *TaskSet) run(ctx context.Context, kind Kind, ex Extractor, in *Input) {
	defer ts.wg.Done()
	items, err := ex.Extract(ctx, in)
	if err == nil && ts.store != nil && len(items) > 0 {
		err = ts.store.Add(ctx, items...)
	}
	if err != nil {
		ts.logger.Warn(ctx, "background extraction failed", "kind", string(kind), "run_id", in.RunID, "err", err.Error())
		ts.metrics.IncCounter(telemetry.MetricBackgroundTaskFailures, 1, "kind", string(kind))
	}
	ts.mu.Lock()
	ts.results = append(ts.results, &TaskResult{Kind: kind, Items: items, Err: err})
	ts.mu.Unlock()
}

// Join blocks until every launched task has finished and returns the results
// in completion order. Task failures are already swallowed; Join never
// returns an error.
func (ts *TaskSet) Join() []*TaskResult {
	ts.wg.Wait()
	if ts.cancel != nil {
		ts.cancel()
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.results
}

// CancelAndReap cancels any still-running task and returns the results
// collected so far without waiting. Used on cancellation and error exits
// where enrichment completion must not delay the terminal path.
func (ts *TaskSet) CancelAndReap() []*TaskResult {
	if ts.cancel != nil {
		ts.cancel()
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]*TaskResult, len(ts.results))
	copy(out, ts.results)
	return out
}

// UserMemories extracts the user memory items from the results, preserving
// order. Used to surface freshly-produced memories on the stream.
func UserMemories(results []*TaskResult) []*Item {
	var items []*Item
	for _, res := range results {
		if res.Kind == KindUserMemory && res.Err == nil {
			items = append(items, res.Items...)
		}
	}
	return items
}
