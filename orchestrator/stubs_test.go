package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-reverify/core"
	"github.com/goliatone/go-reverify/workflow"
)

type pagedDirectory struct {
	mu      sync.Mutex
	sizes   []int
	offsets []int
	err     error
}

func (d *pagedDirectory) ListSiteIDs(_ context.Context, _ core.Tier, limit int, offset int) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offsets = append(d.offsets, offset)
	if d.err != nil {
		return nil, d.err
	}
	call := len(d.offsets) - 1
	if call >= len(d.sizes) {
		return nil, nil
	}
	size := d.sizes[call]
	if size > limit {
		size = limit
	}
	ids := make([]string, 0, size)
	for i := 0; i < size; i++ {
		ids = append(ids, fmt.Sprintf("site-%d", offset+i))
	}
	return ids, nil
}

func (d *pagedDirectory) calls() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.offsets...)
}

type staticSites struct {
	ids []string
}

func (d staticSites) ListSiteIDs(_ context.Context, _ core.Tier, limit int, offset int) ([]string, error) {
	if offset >= len(d.ids) {
		return nil, nil
	}
	end := offset + limit
	if end > len(d.ids) {
		end = len(d.ids)
	}
	return append([]string(nil), d.ids[offset:end]...), nil
}

type linkDirectory struct {
	links map[string]map[core.IdentityKind][]core.IdentityLink
	// block makes lookups for a site wait until the run context is done
	block map[string]bool
	fail  map[string]error
}

func (d linkDirectory) GetIdentityLinks(ctx context.Context, siteID string) (map[core.IdentityKind][]core.IdentityLink, error) {
	if d.block[siteID] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := d.fail[siteID]; err != nil {
		return nil, err
	}
	return d.links[siteID], nil
}

// scriptedVerifier answers by identity id: "ok" succeeds, "no" is a
// deterministic failure, "err" always errors.
type scriptedVerifier struct {
	kind    core.IdentityKind
	answers map[string]string
	calls   atomic.Int32
}

func (v *scriptedVerifier) Kind() core.IdentityKind { return v.kind }

func (v *scriptedVerifier) Verify(_ context.Context, link core.IdentityLink) (core.VerificationOutcome, error) {
	v.calls.Add(1)
	switch v.answers[link.IdentityID] {
	case "ok":
		return core.VerificationOutcome{IdentityID: link.IdentityID, Success: true}, nil
	case "no":
		return core.VerificationOutcome{IdentityID: link.IdentityID, Success: false, Reason: "proof missing"}, nil
	default:
		return core.VerificationOutcome{}, errors.New("provider unavailable")
	}
}

func links(kind core.IdentityKind, siteID string, ids ...string) []core.IdentityLink {
	out := make([]core.IdentityLink, 0, len(ids))
	for _, id := range ids {
		out = append(out, core.IdentityLink{Kind: kind, IdentityID: id, SiteID: siteID})
	}
	return out
}

type fixture struct {
	engine *workflow.Engine
	orch   *Orchestrator
	store  *workflow.MemoryRunStore
}

func newFixture(t *testing.T, cfg Config, register bool) fixture {
	t.Helper()
	store := workflow.NewMemoryRunStore()
	engine, err := workflow.NewEngine(store,
		workflow.WithPollInterval(5*time.Millisecond),
		workflow.WithRetryPolicy(core.RetryPolicy{
			MaxAttempts: 3,
			Backoff:     core.ExponentialBackoff{Initial: time.Millisecond, Max: 2 * time.Millisecond},
		}),
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if cfg.Verifiers == nil {
		cfg.Verifiers, _ = core.NewVerifierRegistry()
	}
	orch, err := New(engine, cfg)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	if register {
		if err := orch.Register(); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return fixture{engine: engine, orch: orch, store: store}
}

func (f fixture) runTier(t *testing.T, runID string, tier core.Tier, window int64, pageSize int) (core.AggregateResult, error) {
	t.Helper()
	handle, err := f.orch.StartTierRun(context.Background(), TierRunRequest{
		RunID:              runID,
		Tier:               tier,
		TotalWindowSeconds: window,
		PageSize:           pageSize,
		Source:             SourceManual,
	})
	if err != nil {
		t.Fatalf("start tier run: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := handle.Result(ctx)
	f.engine.Wait()
	return result, err
}

func (f fixture) runPage(t *testing.T, runID string, siteIDs ...string) (core.AggregateResult, error) {
	t.Helper()
	handle, err := f.engine.Start(context.Background(), workflow.StartRequest{
		RunID: runID,
		Level: core.RunLevelPage,
		JobID: JobPageRun,
		Tier:  core.TierPlus,
		Input: map[string]any{"tier": "plus", "page_index": 0, "site_ids": siteIDs},
	})
	if err != nil {
		t.Fatalf("start page run: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := handle.Result(ctx)
	f.engine.Wait()
	return result, err
}

func (f fixture) runSite(t *testing.T, runID string, siteID string) (core.AggregateResult, error) {
	t.Helper()
	handle, err := f.engine.Start(context.Background(), workflow.StartRequest{
		RunID:   runID,
		Level:   core.RunLevelSite,
		JobID:   JobSiteRun,
		Tier:    core.TierPlus,
		Input:   map[string]any{"tier": "plus", "site_id": siteID},
		Timeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("start site run: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := handle.Result(ctx)
	f.engine.Wait()
	return result, err
}

// panickingVerifier writes into a nil map, the way a broken provider parser
// would.
type panickingVerifier struct {
	kind  core.IdentityKind
	calls atomic.Int32
}

func (v *panickingVerifier) Kind() core.IdentityKind { return v.kind }

func (v *panickingVerifier) Verify(_ context.Context, link core.IdentityLink) (core.VerificationOutcome, error) {
	v.calls.Add(1)
	var parsed map[string]string
	parsed[link.IdentityID] = "rel-me"
	return core.VerificationOutcome{IdentityID: link.IdentityID, Success: true}, nil
}
