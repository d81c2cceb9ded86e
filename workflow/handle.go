package workflow

import (
	"context"
	"time"

	"github.com/goliatone/go-reverify/core"
)

// Handle addresses one run for awaiting.
type Handle struct {
	engine  *Engine
	RunID   string
	Level   core.RunLevel
	Created bool
}

// Result blocks until the run finishes, its deadline passes, or ctx is done.
// A run past its deadline is marked timed_out here, which wins over any later
// completion by the executing worker.
func (h *Handle) Result(ctx context.Context) (core.AggregateResult, error) {
	if h == nil || h.engine == nil {
		return core.AggregateResult{}, core.ErrRunNotFound
	}
	e := h.engine
	for {
		wake, unsubscribe := e.waiters.subscribe(h.RunID)
		record, err := e.store.Get(ctx, h.RunID)
		if err != nil {
			unsubscribe()
			return core.AggregateResult{}, err
		}
		if record.Status.Terminal() {
			unsubscribe()
			return settled(record)
		}
		now := e.now()
		if record.Expired(now) {
			unsubscribe()
			e.finish(ctx, record, core.RunStatusTimedOut, record.Result, core.ErrRunTimedOut)
			continue
		}

		wait := e.pollInterval
		if record.Deadline != nil {
			if untilDeadline := record.Deadline.Sub(now); untilDeadline < wait {
				wait = untilDeadline
			}
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			unsubscribe()
			return core.AggregateResult{}, ctx.Err()
		case <-wake:
		case <-timer.C:
		}
		timer.Stop()
		unsubscribe()
	}
}

// Record returns the current stored state of the run.
func (h *Handle) Record(ctx context.Context) (core.RunRecord, error) {
	if h == nil || h.engine == nil {
		return core.RunRecord{}, core.ErrRunNotFound
	}
	return h.engine.store.Get(ctx, h.RunID)
}

func settled(record core.RunRecord) (core.AggregateResult, error) {
	if record.Status == core.RunStatusSucceeded {
		return record.Result, nil
	}
	return record.Result, runFailure(record)
}
