package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-reverify/core"
)

const (
	// ParamRunID is the only parameter a dispatched message carries.
	ParamRunID = "run_id"

	defaultPollInterval = 250 * time.Millisecond
	defaultConcurrency  = 4
)

// Handler executes one run. The returned aggregate is stored on the run
// record even when err is non-nil.
type Handler func(ctx context.Context, exec *Execution) (core.AggregateResult, error)

type Engine struct {
	store        core.RunStore
	enqueuer     core.JobEnqueuer
	hook         core.JobWorkerHook
	observer     core.Observer
	retry        core.RetryPolicy
	now          func() time.Time
	pollInterval time.Duration
	concurrency  int

	mu       sync.RWMutex
	handlers map[string]Handler

	activeMu sync.Mutex
	active   map[string]struct{}

	waiters *notifier
	inline  sync.WaitGroup
}

type Option func(*Engine)

// WithEnqueuer switches dispatch from in-process goroutines to a job queue.
func WithEnqueuer(enqueuer core.JobEnqueuer) Option {
	return func(e *Engine) {
		e.enqueuer = enqueuer
	}
}

func WithWorkerHook(hook core.JobWorkerHook) Option {
	return func(e *Engine) {
		e.hook = hook
	}
}

func WithLogger(logger core.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.observer.Logger = logger
		}
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(e *Engine) {
		if recorder != nil {
			e.observer.Metrics = recorder
		}
	}
}

func WithRetryPolicy(policy core.RetryPolicy) Option {
	return func(e *Engine) {
		e.retry = policy
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(e *Engine) {
		if interval > 0 {
			e.pollInterval = interval
		}
	}
}

// WithConcurrency sets the number of dequeue loops used by Work. Deliveries
// are processed on their own goroutine so parents waiting on children never
// starve the pool.
func WithConcurrency(concurrency int) Option {
	return func(e *Engine) {
		if concurrency > 0 {
			e.concurrency = concurrency
		}
	}
}

func NewEngine(store core.RunStore, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("workflow: run store is required")
	}
	engine := &Engine{
		store:        store,
		observer:     core.NewObserver(glog.Nop(), core.NopMetricsRecorder{}),
		retry:        core.DefaultRetryPolicy(),
		now:          func() time.Time { return time.Now().UTC() },
		pollInterval: defaultPollInterval,
		concurrency:  defaultConcurrency,
		handlers:     map[string]Handler{},
		active:       map[string]struct{}{},
		waiters:      newNotifier(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(engine)
		}
	}
	return engine, nil
}

func (e *Engine) Register(jobID string, handler Handler) error {
	if e == nil {
		return fmt.Errorf("workflow: engine is nil")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("workflow: job id is required")
	}
	if handler == nil {
		return fmt.Errorf("workflow: handler is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.handlers[jobID]; exists {
		return fmt.Errorf("workflow: handler already registered: %s", jobID)
	}
	e.handlers[jobID] = handler
	return nil
}

func (e *Engine) Store() core.RunStore {
	if e == nil {
		return nil
	}
	return e.store
}

type StartRequest struct {
	RunID    string
	ParentID string
	Level    core.RunLevel
	JobID    string
	Tier     core.Tier
	Input    map[string]any
	// Timeout bounds the run's wall clock from creation. Zero means no deadline.
	Timeout time.Duration
}

// Start creates and dispatches a run. When a run with the same id already
// exists it is returned as is, finished or not, so restarts and repeated
// triggers reattach rather than duplicate.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*Handle, error) {
	if e == nil || e.store == nil {
		return nil, fmt.Errorf("workflow: engine is not configured")
	}
	req.RunID = strings.TrimSpace(req.RunID)
	req.JobID = strings.TrimSpace(req.JobID)
	if req.RunID == "" {
		return nil, fmt.Errorf("workflow: run id is required")
	}
	if _, ok := e.handler(req.JobID); !ok {
		return nil, fmt.Errorf("%w: %q", ErrHandlerNotRegistered, req.JobID)
	}

	existing, err := e.store.Get(ctx, req.RunID)
	if err == nil {
		return &Handle{engine: e, RunID: existing.ID, Level: existing.Level}, nil
	}
	if !errors.Is(err, core.ErrRunNotFound) {
		return nil, err
	}

	now := e.now()
	record := core.RunRecord{
		ID:         req.RunID,
		ParentID:   strings.TrimSpace(req.ParentID),
		Level:      req.Level,
		JobID:      req.JobID,
		Tier:       req.Tier,
		Status:     core.RunStatusQueued,
		Input:      core.CloneMetadata(req.Input),
		Checkpoint: map[string]any{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if req.Timeout > 0 {
		deadline := now.Add(req.Timeout)
		record.Deadline = &deadline
	}
	created, err := e.store.Create(ctx, record)
	if err != nil {
		// another worker may have created the same deterministic id first
		if existing, getErr := e.store.Get(ctx, req.RunID); getErr == nil {
			return &Handle{engine: e, RunID: existing.ID, Level: existing.Level}, nil
		}
		return nil, err
	}
	if err := e.dispatch(ctx, created); err != nil {
		return nil, err
	}
	return &Handle{engine: e, RunID: created.ID, Level: created.Level, Created: true}, nil
}

// Attach returns a handle for an existing run.
func (e *Engine) Attach(ctx context.Context, runID string) (*Handle, error) {
	if e == nil || e.store == nil {
		return nil, fmt.Errorf("workflow: engine is not configured")
	}
	record, err := e.store.Get(ctx, strings.TrimSpace(runID))
	if err != nil {
		return nil, err
	}
	return &Handle{engine: e, RunID: record.ID, Level: record.Level}, nil
}

// Resume dispatches every run that is not finished, typically right after a
// process restart. Finished children are never executed again; their parents
// pick up the stored results.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	if e == nil || e.store == nil {
		return 0, fmt.Errorf("workflow: engine is not configured")
	}
	records, err := e.store.List(ctx, core.RunFilter{
		Statuses: []core.RunStatus{core.RunStatusQueued, core.RunStatusRunning},
	})
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, record := range records {
		if err := e.dispatch(ctx, record); err != nil {
			return resumed, err
		}
		resumed++
	}
	e.observer.Info(ctx, "workflow runs resumed", map[string]any{"count": resumed})
	return resumed, nil
}

// Wait blocks until every run dispatched in-process has returned.
func (e *Engine) Wait() {
	if e == nil {
		return
	}
	e.inline.Wait()
}

func (e *Engine) dispatch(ctx context.Context, record core.RunRecord) error {
	if e.enqueuer != nil {
		return e.enqueuer.Enqueue(ctx, &core.JobExecutionMessage{
			JobID:          record.JobID,
			Parameters:     map[string]any{ParamRunID: record.ID},
			IdempotencyKey: record.ID,
		})
	}
	runCtx := context.WithoutCancel(ctx)
	e.inline.Add(1)
	go func() {
		defer e.inline.Done()
		if err := e.Execute(runCtx, record.ID); err != nil {
			e.observer.Error(runCtx, "workflow inline run failed to execute", map[string]any{
				"run_id": record.ID,
				"error":  err.Error(),
			})
		}
	}()
	return nil
}

func (e *Engine) handler(jobID string) (Handler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	handler, ok := e.handlers[strings.TrimSpace(jobID)]
	return handler, ok
}

func (e *Engine) acquire(runID string) bool {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	if _, busy := e.active[runID]; busy {
		return false
	}
	e.active[runID] = struct{}{}
	return true
}

func (e *Engine) release(runID string) {
	e.activeMu.Lock()
	delete(e.active, runID)
	e.activeMu.Unlock()
}

// Execute runs the handler for runID unless the run is finished or already
// executing in this process. It returns an error only for infrastructure
// problems; handler failures are recorded on the run.
func (e *Engine) Execute(ctx context.Context, runID string) error {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return ErrMissingRunID
	}
	if !e.acquire(runID) {
		return nil
	}
	defer e.release(runID)

	record, err := e.store.Get(ctx, runID)
	if err != nil {
		return err
	}
	if record.Status.Terminal() {
		e.waiters.notify(runID)
		return nil
	}
	fields := runFields(record)
	now := e.now()
	if record.Expired(now) {
		e.finish(ctx, record, core.RunStatusTimedOut, record.Result, core.ErrRunTimedOut)
		return nil
	}
	handler, ok := e.handler(record.JobID)
	if !ok {
		e.finish(ctx, record, core.RunStatusFailed, record.Result, fmt.Errorf("%w: %q", ErrHandlerNotRegistered, record.JobID))
		return nil
	}

	if err := record.TransitionTo(core.RunStatusRunning, now); err != nil {
		return err
	}
	record.Attempts++
	record, err = e.store.Update(ctx, record)
	if err != nil {
		return err
	}
	if record.Status.Terminal() {
		e.waiters.notify(runID)
		return nil
	}
	e.observer.Debug(ctx, "workflow run started", fields)

	runCtx := ctx
	cancel := func() {}
	if record.Deadline != nil {
		runCtx, cancel = context.WithDeadline(ctx, *record.Deadline)
	}
	startedAt := time.Now()
	exec := &Execution{engine: e, record: record}
	result, runErr := invoke(runCtx, handler, exec)
	cancel()

	if runErr != nil && ctx.Err() != nil {
		// the worker is shutting down; leave the run for Resume
		return ctx.Err()
	}

	status := core.RunStatusSucceeded
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.DeadlineExceeded) || exec.Run().Expired(e.now()):
		status = core.RunStatusTimedOut
	default:
		status = core.RunStatusFailed
	}
	e.finish(ctx, exec.Run(), status, result, runErr)
	e.observer.Observe(ctx, startedAt, string(record.Level)+"_run", runErr, fields)
	return nil
}

func (e *Engine) finish(
	ctx context.Context,
	record core.RunRecord,
	status core.RunStatus,
	result core.AggregateResult,
	cause error,
) {
	now := e.now()
	record.Result = result
	if cause != nil {
		record.Error = cause.Error()
	} else {
		record.Error = ""
	}
	if err := record.TransitionTo(status, now); err != nil {
		record.Status = status
		finishedAt := now
		record.FinishedAt = &finishedAt
		record.UpdatedAt = now
	}
	stored, won, err := e.store.Finish(ctx, record)
	if err != nil {
		e.observer.Error(ctx, "workflow run could not be finished", mergeFields(runFields(record), map[string]any{
			"error": err.Error(),
		}))
	} else if !won {
		e.observer.Debug(ctx, "workflow run was already finished", mergeFields(runFields(record), map[string]any{
			"stored_status": stored.Status,
		}))
	}
	e.waiters.notify(record.ID)
}

func invoke(ctx context.Context, handler Handler, exec *Execution) (result core.AggregateResult, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = panicError{value: recovered}
		}
	}()
	return handler(ctx, exec)
}

func runFields(record core.RunRecord) map[string]any {
	fields := map[string]any{
		"run_id": record.ID,
		"level":  record.Level,
		"job_id": record.JobID,
	}
	if record.Tier != "" {
		fields["tier"] = record.Tier
	}
	if record.ParentID != "" {
		fields["parent_id"] = record.ParentID
	}
	return fields
}

func mergeFields(left map[string]any, right map[string]any) map[string]any {
	merged := make(map[string]any, len(left)+len(right))
	for key, value := range left {
		merged[key] = value
	}
	for key, value := range right {
		merged[key] = value
	}
	return merged
}
