package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-reverify/core"
)

const (
	testParentJob = "test.parent"
	testChildJob  = "test.child"
)

func newTestEngine(t *testing.T, store core.RunStore, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{
		WithPollInterval(5 * time.Millisecond),
		WithRetryPolicy(core.RetryPolicy{
			MaxAttempts: 3,
			Backoff:     core.ExponentialBackoff{Initial: time.Millisecond, Max: 2 * time.Millisecond},
		}),
	}, opts...)
	engine, err := NewEngine(store, opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func awaitResult(t *testing.T, handle *Handle) (core.AggregateResult, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return handle.Result(ctx)
}

func TestEngineParentAggregatesChildren(t *testing.T) {
	engine := newTestEngine(t, NewMemoryRunStore())
	if err := engine.Register(testChildJob, func(_ context.Context, exec *Execution) (core.AggregateResult, error) {
		var input struct {
			Value int `json:"value"`
		}
		if err := exec.DecodeInput(&input); err != nil {
			return core.AggregateResult{}, err
		}
		return core.AggregateResult{SuccessCount: input.Value}, nil
	}); err != nil {
		t.Fatalf("register child: %v", err)
	}
	if err := engine.Register(testParentJob, func(ctx context.Context, exec *Execution) (core.AggregateResult, error) {
		handles := make([]*Handle, 0, 3)
		for i := 1; i <= 3; i++ {
			handle, err := exec.StartChild(ctx, StartRequest{
				RunID: fmt.Sprintf("%s/child-%d", exec.RunID(), i),
				Level: core.RunLevelSite,
				JobID: testChildJob,
				Input: map[string]any{"value": i},
			})
			if err != nil {
				return core.AggregateResult{}, err
			}
			handles = append(handles, handle)
		}
		total := core.AggregateResult{}
		for _, handle := range handles {
			result, err := handle.Result(ctx)
			if err != nil {
				return total, err
			}
			total = total.Add(result)
		}
		return total, nil
	}); err != nil {
		t.Fatalf("register parent: %v", err)
	}

	handle, err := engine.Start(context.Background(), StartRequest{
		RunID: "parent-1",
		Level: core.RunLevelPage,
		JobID: testParentJob,
		Tier:  core.TierPlus,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !handle.Created {
		t.Fatalf("expected a new run")
	}
	result, err := awaitResult(t, handle)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if result.SuccessCount != 6 {
		t.Fatalf("expected 6, got %+v", result)
	}

	child, err := engine.Store().Get(context.Background(), "parent-1/child-2")
	if err != nil {
		t.Fatalf("get child: %v", err)
	}
	if child.ParentID != "parent-1" || child.Tier != core.TierPlus {
		t.Fatalf("expected child to inherit parent and tier, got %+v", child)
	}
	if child.Status != core.RunStatusSucceeded || child.Attempts != 1 {
		t.Fatalf("unexpected child state %+v", child)
	}
	engine.Wait()
}

func TestEngineChildDeadlineTimesOut(t *testing.T) {
	engine := newTestEngine(t, NewMemoryRunStore())
	release := make(chan struct{})
	defer close(release)
	if err := engine.Register(testChildJob, func(ctx context.Context, _ *Execution) (core.AggregateResult, error) {
		select {
		case <-release:
			return core.AggregateResult{SuccessCount: 1}, nil
		case <-time.After(time.Second):
			return core.AggregateResult{SuccessCount: 1}, nil
		}
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	handle, err := engine.Start(context.Background(), StartRequest{
		RunID:   "slow-child",
		Level:   core.RunLevelSite,
		JobID:   testChildJob,
		Timeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err = awaitResult(t, handle)
	var failed *RunFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected run failed error, got %v", err)
	}
	if failed.Status != core.RunStatusTimedOut || !errors.Is(err, core.ErrRunTimedOut) {
		t.Fatalf("expected timed out run, got %+v", failed)
	}

	// the late completion must not overwrite the timeout
	time.Sleep(50 * time.Millisecond)
	record, err := handle.Record(context.Background())
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if record.Status != core.RunStatusTimedOut {
		t.Fatalf("expected timed_out to stick, got %s", record.Status)
	}
}

func TestEngineStartReattachesToExistingRun(t *testing.T) {
	engine := newTestEngine(t, NewMemoryRunStore())
	var calls atomic.Int32
	if err := engine.Register(testChildJob, func(context.Context, *Execution) (core.AggregateResult, error) {
		calls.Add(1)
		return core.AggregateResult{SuccessCount: 1}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	req := StartRequest{RunID: "same-id", Level: core.RunLevelSite, JobID: testChildJob}
	first, err := engine.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := awaitResult(t, first); err != nil {
		t.Fatalf("first result: %v", err)
	}
	second, err := engine.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if second.Created {
		t.Fatalf("expected second start to reattach")
	}
	result, err := awaitResult(t, second)
	if err != nil || result.SuccessCount != 1 {
		t.Fatalf("expected stored result, got %+v, %v", result, err)
	}
	engine.Wait()
	if calls.Load() != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls.Load())
	}
}

func TestEngineResumeSkipsFinishedChildren(t *testing.T) {
	store := NewMemoryRunStore()
	ctx := context.Background()
	now := time.Now().UTC()

	// state left behind by a crashed process: parent running, one child done,
	// one child never executed
	mustCreate(t, store, core.RunRecord{ID: "tier-x", Level: core.RunLevelTier, JobID: testParentJob, Status: core.RunStatusRunning, Attempts: 1, CreatedAt: now})
	mustCreate(t, store, core.RunRecord{ID: "tier-x/child-1", ParentID: "tier-x", Level: core.RunLevelPage, JobID: testChildJob, Status: core.RunStatusSucceeded, Result: core.AggregateResult{SuccessCount: 5}, CreatedAt: now})
	mustCreate(t, store, core.RunRecord{ID: "tier-x/child-2", ParentID: "tier-x", Level: core.RunLevelPage, JobID: testChildJob, Status: core.RunStatusQueued, CreatedAt: now})

	engine := newTestEngine(t, store)
	var childCalls sync.Map
	if err := engine.Register(testChildJob, func(_ context.Context, exec *Execution) (core.AggregateResult, error) {
		childCalls.Store(exec.RunID(), true)
		return core.AggregateResult{SuccessCount: 2}, nil
	}); err != nil {
		t.Fatalf("register child: %v", err)
	}
	if err := engine.Register(testParentJob, func(ctx context.Context, exec *Execution) (core.AggregateResult, error) {
		total := core.AggregateResult{}
		for i := 1; i <= 2; i++ {
			handle, err := exec.StartChild(ctx, StartRequest{
				RunID: fmt.Sprintf("%s/child-%d", exec.RunID(), i),
				Level: core.RunLevelPage,
				JobID: testChildJob,
			})
			if err != nil {
				return total, err
			}
			result, err := handle.Result(ctx)
			if err != nil {
				return total, err
			}
			total = total.Add(result)
		}
		return total, nil
	}); err != nil {
		t.Fatalf("register parent: %v", err)
	}

	resumed, err := engine.Resume(ctx)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed != 2 {
		t.Fatalf("expected 2 resumed runs, got %d", resumed)
	}
	handle, err := engine.Attach(ctx, "tier-x")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	result, err := awaitResult(t, handle)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if result.SuccessCount != 7 {
		t.Fatalf("expected 5 from the stored child and 2 from the resumed one, got %+v", result)
	}
	engine.Wait()
	if _, ran := childCalls.Load("tier-x/child-1"); ran {
		t.Fatalf("finished child must not run again")
	}
	if _, ran := childCalls.Load("tier-x/child-2"); !ran {
		t.Fatalf("unfinished child must run")
	}
	parent, _ := store.Get(ctx, "tier-x")
	if parent.Attempts != 2 {
		t.Fatalf("expected parent attempt count 2, got %d", parent.Attempts)
	}
}

func TestEngineRecordsFailureWithPartialResult(t *testing.T) {
	engine := newTestEngine(t, NewMemoryRunStore())
	if err := engine.Register(testParentJob, func(context.Context, *Execution) (core.AggregateResult, error) {
		return core.AggregateResult{SuccessCount: 4}, errors.New("page crashed")
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	handle, err := engine.Start(context.Background(), StartRequest{RunID: "failing", Level: core.RunLevelTier, JobID: testParentJob})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	result, err := awaitResult(t, handle)
	var failed *RunFailedError
	if !errors.As(err, &failed) || !errors.Is(err, core.ErrRunFailed) {
		t.Fatalf("expected failed run, got %v", err)
	}
	if result.SuccessCount != 4 || failed.Result.SuccessCount != 4 {
		t.Fatalf("expected partial result to be kept, got %+v", result)
	}
	if failed.Reason != "page crashed" {
		t.Fatalf("unexpected reason %q", failed.Reason)
	}
}

func TestEngineRecoversHandlerPanic(t *testing.T) {
	engine := newTestEngine(t, NewMemoryRunStore())
	if err := engine.Register(testChildJob, func(context.Context, *Execution) (core.AggregateResult, error) {
		panic("nil map")
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	handle, err := engine.Start(context.Background(), StartRequest{RunID: "panics", Level: core.RunLevelSite, JobID: testChildJob})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := awaitResult(t, handle); !errors.Is(err, core.ErrRunFailed) {
		t.Fatalf("expected failed run, got %v", err)
	}
}

func TestEngineStartRequiresRegisteredHandler(t *testing.T) {
	engine := newTestEngine(t, NewMemoryRunStore())
	_, err := engine.Start(context.Background(), StartRequest{RunID: "x", JobID: "unknown"})
	if !errors.Is(err, ErrHandlerNotRegistered) {
		t.Fatalf("expected handler not registered, got %v", err)
	}
}

func TestExecutionCheckpointRoundTrip(t *testing.T) {
	engine := newTestEngine(t, NewMemoryRunStore())
	type page struct {
		Index   int      `json:"index"`
		SiteIDs []string `json:"site_ids"`
	}
	loaded := make(chan []page, 1)
	if err := engine.Register(testParentJob, func(ctx context.Context, exec *Execution) (core.AggregateResult, error) {
		if err := exec.SaveCheckpoint(ctx, map[string]any{"pages": []page{{Index: 0, SiteIDs: []string{"a", "b"}}}}); err != nil {
			return core.AggregateResult{}, err
		}
		var pages []page
		found, err := exec.LoadCheckpoint("pages", &pages)
		if err != nil || !found {
			return core.AggregateResult{}, fmt.Errorf("load checkpoint: found=%v err=%v", found, err)
		}
		loaded <- pages
		return core.AggregateResult{}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	handle, err := engine.Start(context.Background(), StartRequest{RunID: "checkpointed", Level: core.RunLevelTier, JobID: testParentJob})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := awaitResult(t, handle); err != nil {
		t.Fatalf("result: %v", err)
	}
	pages := <-loaded
	if len(pages) != 1 || len(pages[0].SiteIDs) != 2 {
		t.Fatalf("unexpected checkpoint pages %+v", pages)
	}
	record, _ := handle.Record(context.Background())
	if _, ok := record.Checkpoint["pages"]; !ok {
		t.Fatalf("expected checkpoint to be persisted")
	}
}

func TestCallRetriesActivity(t *testing.T) {
	engine := newTestEngine(t, NewMemoryRunStore())
	exec := &Execution{engine: engine, record: core.RunRecord{ID: "site-1", Level: core.RunLevelSite}}
	attempts := 0
	value, err := Call(context.Background(), exec, "verify", func(context.Context, int) (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("dns timeout")
		}
		return "verified", nil
	})
	if err != nil || value != "verified" {
		t.Fatalf("expected verified, got %q, %v", value, err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func mustCreate(t *testing.T, store core.RunStore, record core.RunRecord) {
	t.Helper()
	if record.Checkpoint == nil {
		record.Checkpoint = map[string]any{}
	}
	if _, err := store.Create(context.Background(), record); err != nil {
		t.Fatalf("create %s: %v", record.ID, err)
	}
}
