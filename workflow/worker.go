package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-reverify/core"
)

// Process executes the run a delivery points at and settles the delivery.
// Infrastructure failures are nacked for redelivery with backoff.
func (e *Engine) Process(ctx context.Context, delivery core.JobDelivery) error {
	if e == nil {
		return fmt.Errorf("workflow: engine is nil")
	}
	if delivery == nil {
		return fmt.Errorf("workflow: delivery is nil")
	}
	msg := delivery.Message()
	runID := messageRunID(msg)
	if runID == "" {
		if err := delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: ErrMissingRunID.Error()}); err != nil {
			return err
		}
		return ErrMissingRunID
	}

	event := core.JobWorkerEvent{Message: msg, Attempt: 1, StartedAt: time.Now()}
	e.hookStart(ctx, event)

	err := e.Execute(ctx, runID)
	event.Duration = time.Since(event.StartedAt)
	if err == nil {
		e.hookSuccess(ctx, event)
		return delivery.Ack(ctx)
	}

	event.Err = err
	if errors.Is(err, core.ErrRunNotFound) {
		e.hookFailure(ctx, event)
		if nackErr := delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: err.Error()}); nackErr != nil {
			return nackErr
		}
		return err
	}

	event.Delay = e.retryBackoff().NextDelay(1)
	e.hookRetry(ctx, event)
	nackCtx := context.WithoutCancel(ctx)
	if nackErr := delivery.Nack(nackCtx, core.JobNackOptions{
		Delay:   event.Delay,
		Requeue: true,
		Reason:  err.Error(),
	}); nackErr != nil {
		return nackErr
	}
	return err
}

// Work consumes deliveries until ctx is done. Each delivery runs on its own
// goroutine; the configured concurrency only sets how many loops dequeue.
func (e *Engine) Work(ctx context.Context, dequeuer core.JobDequeuer) error {
	if e == nil {
		return fmt.Errorf("workflow: engine is nil")
	}
	if dequeuer == nil {
		return fmt.Errorf("workflow: dequeuer is required")
	}
	var inflight sync.WaitGroup
	var loops sync.WaitGroup
	for i := 0; i < e.concurrency; i++ {
		loops.Add(1)
		go func() {
			defer loops.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				delivery, err := dequeuer.Dequeue(ctx)
				if err != nil || delivery == nil {
					if ctx.Err() != nil {
						return
					}
					if waitErr := core.WaitWithContext(ctx, e.pollInterval); waitErr != nil {
						return
					}
					continue
				}
				inflight.Add(1)
				go func(delivery core.JobDelivery) {
					defer inflight.Done()
					if err := e.Process(ctx, delivery); err != nil && ctx.Err() == nil {
						e.observer.Warn(ctx, "workflow delivery failed", map[string]any{
							"run_id": messageRunID(delivery.Message()),
							"error":  err.Error(),
						})
					}
				}(delivery)
			}
		}()
	}
	loops.Wait()
	inflight.Wait()
	return ctx.Err()
}

func (e *Engine) retryBackoff() core.BackoffScheduler {
	if e.retry.Backoff != nil {
		return e.retry.Backoff
	}
	return core.ExponentialBackoff{}
}

func (e *Engine) hookStart(ctx context.Context, event core.JobWorkerEvent) {
	if e.hook != nil {
		e.hook.OnStart(ctx, event)
	}
}

func (e *Engine) hookSuccess(ctx context.Context, event core.JobWorkerEvent) {
	if e.hook != nil {
		e.hook.OnSuccess(ctx, event)
	}
}

func (e *Engine) hookFailure(ctx context.Context, event core.JobWorkerEvent) {
	if e.hook != nil {
		e.hook.OnFailure(ctx, event)
	}
}

func (e *Engine) hookRetry(ctx context.Context, event core.JobWorkerEvent) {
	if e.hook != nil {
		e.hook.OnRetry(ctx, event)
	}
}

func messageRunID(msg *core.JobExecutionMessage) string {
	if msg == nil {
		return ""
	}
	if raw, ok := msg.Parameters[ParamRunID]; ok {
		if value, ok := raw.(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return strings.TrimSpace(msg.IdempotencyKey)
}
