package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-reverify/core"
)

// Execution is what a handler sees of its run: input, checkpoint, children,
// timers and a run-scoped logger.
type Execution struct {
	engine *Engine

	mu     sync.Mutex
	record core.RunRecord
}

func (x *Execution) Run() core.RunRecord {
	x.mu.Lock()
	defer x.mu.Unlock()
	record := x.record
	record.Input = core.CloneMetadata(x.record.Input)
	record.Checkpoint = core.CloneMetadata(x.record.Checkpoint)
	return record
}

func (x *Execution) RunID() string {
	return x.Run().ID
}

func (x *Execution) Tier() core.Tier {
	return x.Run().Tier
}

func (x *Execution) Input() map[string]any {
	return x.Run().Input
}

// DecodeInput decodes the run input into target through JSON, so it behaves
// the same whether the record came from memory or from SQL.
func (x *Execution) DecodeInput(target any) error {
	return decodeValue(x.Input(), target)
}

// LoadCheckpoint decodes a checkpoint entry into target and reports whether
// the entry existed.
func (x *Execution) LoadCheckpoint(key string, target any) (bool, error) {
	checkpoint := x.Run().Checkpoint
	value, ok := checkpoint[strings.TrimSpace(key)]
	if !ok {
		return false, nil
	}
	if err := decodeValue(value, target); err != nil {
		return false, fmt.Errorf("workflow: checkpoint %q: %w", key, err)
	}
	return true, nil
}

// SaveCheckpoint merges values into the run checkpoint and persists it.
func (x *Execution) SaveCheckpoint(ctx context.Context, values map[string]any) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	record := x.record
	record.Checkpoint = core.CloneMetadata(x.record.Checkpoint)
	for key, value := range values {
		record.Checkpoint[key] = value
	}
	record.UpdatedAt = x.engine.now()
	stored, err := x.engine.store.Update(ctx, record)
	if err != nil {
		return err
	}
	x.record = stored
	return nil
}

// StartChild starts a run whose parent is this run. The child inherits the
// tier unless the request sets one.
func (x *Execution) StartChild(ctx context.Context, req StartRequest) (*Handle, error) {
	parent := x.Run()
	req.ParentID = parent.ID
	if req.Tier == "" {
		req.Tier = parent.Tier
	}
	return x.engine.Start(ctx, req)
}

// Now reads the engine clock.
func (x *Execution) Now() time.Time {
	return x.engine.now()
}

// Sleep waits for delay, cut short by ctx or by the run deadline measured
// on the engine clock. Running into the deadline returns
// context.DeadlineExceeded.
func (x *Execution) Sleep(ctx context.Context, delay time.Duration) error {
	deadline := x.Run().Deadline
	if deadline == nil {
		return core.WaitWithContext(ctx, delay)
	}
	remaining := deadline.Sub(x.Now())
	if remaining <= 0 {
		return context.DeadlineExceeded
	}
	if delay < remaining {
		return core.WaitWithContext(ctx, delay)
	}
	if err := core.WaitWithContext(ctx, remaining); err != nil {
		return err
	}
	return context.DeadlineExceeded
}

// Fields returns the log fields every message about this run carries.
func (x *Execution) Fields() map[string]any {
	return runFields(x.Run())
}

func (x *Execution) Observer() core.Observer {
	return x.engine.observer
}

func (x *Execution) RetryPolicy() core.RetryPolicy {
	return x.engine.retry
}

// Call runs an activity with the engine's retry policy. Retries are logged
// with the run's fields. A panicking activity returns a non-retryable error
// instead of unwinding the caller's goroutine.
func Call[T any](ctx context.Context, x *Execution, activity string, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	policy := x.RetryPolicy()
	fields := x.Fields()
	fields["activity"] = activity
	previous := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		x.Observer().Warn(ctx, "workflow activity retry", mergeFields(fields, map[string]any{
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
			"error":    err.Error(),
		}))
		if previous != nil {
			previous(attempt, delay, err)
		}
	}
	return core.Retry(ctx, policy, func(ctx context.Context, attempt int) (value T, err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				err = panicError{scope: "activity " + activity, value: recovered}
			}
		}()
		return fn(ctx, attempt)
	})
}

func decodeValue(value any, target any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
