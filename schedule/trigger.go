package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-reverify/core"
	"github.com/goliatone/go-reverify/orchestrator"
	"github.com/goliatone/go-reverify/workflow"
	"github.com/robfig/cron/v3"
)

type TierRunStarter interface {
	StartTierRun(ctx context.Context, req orchestrator.TierRunRequest) (*workflow.Handle, error)
}

// Trigger starts one tier run per cadence tick of every table entry.
type Trigger struct {
	table    Table
	starter  TierRunStarter
	runs     core.RunStore
	overlap  core.OverlapPolicy
	observer core.Observer
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[core.Tier]cron.EntryID
}

type Option func(*Trigger)

// WithOverlapPolicy needs a run store when the policy is skip.
func WithOverlapPolicy(policy core.OverlapPolicy, runs core.RunStore) Option {
	return func(t *Trigger) {
		t.overlap = policy
		t.runs = runs
	}
}

func WithLogger(logger core.Logger) Option {
	return func(t *Trigger) {
		if logger != nil {
			t.observer.Logger = logger
		}
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(t *Trigger) {
		if recorder != nil {
			t.observer.Metrics = recorder
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Trigger) {
		if now != nil {
			t.now = now
		}
	}
}

func NewTrigger(table Table, starter TierRunStarter, opts ...Option) (*Trigger, error) {
	if starter == nil {
		return nil, fmt.Errorf("schedule: tier run starter is required")
	}
	trigger := &Trigger{
		table:    table,
		starter:  starter,
		overlap:  core.OverlapAllow,
		observer: core.NewObserver(glog.Nop(), core.NopMetricsRecorder{}),
		now:      func() time.Time { return time.Now().UTC() },
		entries:  map[core.Tier]cron.EntryID{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(trigger)
		}
	}
	if trigger.overlap == core.OverlapSkip && trigger.runs == nil {
		return nil, fmt.Errorf("schedule: overlap policy skip requires a run store")
	}
	return trigger, nil
}

func (t *Trigger) Table() Table {
	return t.table
}

// Start registers every entry with a UTC cron scheduler. Ticks use ctx for
// the runs they start.
func (t *Trigger) Start(ctx context.Context) error {
	if t == nil {
		return fmt.Errorf("schedule: trigger is nil")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cron != nil {
		return fmt.Errorf("schedule: trigger already started")
	}
	scheduler := cron.New(cron.WithLocation(time.UTC))
	for _, entry := range t.table.Entries() {
		tier := entry.Tier
		var id cron.EntryID
		id, err := scheduler.AddFunc(entry.Cadence, func() {
			tick := activationTick(scheduler.Entry(id), t.now())
			if _, err := t.Fire(ctx, tier, tick); err != nil {
				t.observer.Error(ctx, "scheduled tier run not started", map[string]any{
					"tier":  tier,
					"error": err.Error(),
				})
			}
		})
		if err != nil {
			return fmt.Errorf("schedule: register tier %s: %w", tier, err)
		}
		t.entries[tier] = id
	}
	scheduler.Start()
	t.cron = scheduler
	t.observer.Info(ctx, "tier trigger started", map[string]any{"entries": len(t.entries)})
	return nil
}

// Stop halts the scheduler; the returned context is done once running tick
// callbacks have returned.
func (t *Trigger) Stop() context.Context {
	if t == nil {
		return context.Background()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	done := t.cron.Stop()
	t.cron = nil
	t.entries = map[core.Tier]cron.EntryID{}
	return done
}

// Scheduled lists the cron entries currently registered, by tier.
func (t *Trigger) Scheduled() map[core.Tier]time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := map[core.Tier]time.Time{}
	if t.cron == nil {
		return out
	}
	for tier, id := range t.entries {
		out[tier] = t.cron.Entry(id).Next
	}
	return out
}

// activationTick is the time cron planned the entry to run, which every
// trigger instance agrees on, falling back to now when cron has none.
func activationTick(entry cron.Entry, fallback time.Time) time.Time {
	if entry.Prev.IsZero() {
		return fallback
	}
	return entry.Prev.UTC()
}

// Fire starts the tier run for one scheduled tick.
func (t *Trigger) Fire(ctx context.Context, tier core.Tier, tick time.Time) (*workflow.Handle, error) {
	return t.start(ctx, tier, orchestrator.TierRunID(tier, orchestrator.SourceSchedule, tick.Truncate(time.Second)), orchestrator.SourceSchedule)
}

// TriggerNow starts a manual tier run. An empty key uses the current second,
// so repeated manual triggers do not collide with each other or with ticks.
func (t *Trigger) TriggerNow(ctx context.Context, tier core.Tier, key string) (*workflow.Handle, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return t.start(ctx, tier, orchestrator.TierRunID(tier, orchestrator.SourceManual, t.now().Truncate(time.Second)), orchestrator.SourceManual)
	}
	return t.start(ctx, tier, orchestrator.TierRunIDWithKey(tier, orchestrator.SourceManual, key), orchestrator.SourceManual)
}

func (t *Trigger) start(ctx context.Context, tier core.Tier, runID string, source string) (*workflow.Handle, error) {
	if t == nil {
		return nil, fmt.Errorf("schedule: trigger is nil")
	}
	if err := tier.Validate(); err != nil {
		return nil, err
	}
	entry, ok := t.table.Lookup(tier)
	if !ok {
		return nil, fmt.Errorf("schedule: no schedule for tier %s", tier)
	}
	fields := map[string]any{"tier": tier, "run_id": runID, "source": source}

	if t.overlap == core.OverlapSkip {
		active, err := t.runs.List(ctx, core.RunFilter{
			Level:    core.RunLevelTier,
			Tier:     tier,
			Statuses: []core.RunStatus{core.RunStatusQueued, core.RunStatusRunning},
			Limit:    1,
		})
		if err != nil {
			return nil, err
		}
		if len(active) > 0 && active[0].ID != runID {
			fields["active_run_id"] = active[0].ID
			t.observer.Info(ctx, "tier run skipped, previous run still active", fields)
			t.observer.Count(ctx, "tier_trigger.skipped", 1, map[string]string{"tier": string(tier)})
			return nil, fmt.Errorf("%w: %s", core.ErrTierRunAlreadyActive, active[0].ID)
		}
	}

	startedAt := time.Now()
	handle, err := t.starter.StartTierRun(ctx, orchestrator.TierRunRequest{
		RunID:              runID,
		Tier:               tier,
		PageSize:           entry.PageSize,
		TotalWindowSeconds: entry.TotalWindowSeconds,
		Source:             source,
	})
	t.observer.Observe(ctx, startedAt, "tier_trigger", err, fields)
	return handle, err
}
