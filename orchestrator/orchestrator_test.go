package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/goliatone/go-reverify/core"
	"github.com/goliatone/go-reverify/workflow"
)

func TestPaginateStopsOnFirstEmptyPage(t *testing.T) {
	directory := &pagedDirectory{sizes: []int{100, 100, 37}}
	pages, err := Paginate(context.Background(), directory, core.TierPlus, 100)
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	if got, want := directory.calls(), []int{0, 100, 200, 237}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected offsets %v, got %v", want, got)
	}
	if len(pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(pages))
	}
	if TotalSites(pages) != 237 {
		t.Fatalf("expected 237 sites, got %d", TotalSites(pages))
	}
	if pages[2].Offset != 200 || pages[2].Index != 2 || len(pages[2].SiteIDs) != 37 {
		t.Fatalf("unexpected last page %+v", pages[2])
	}
}

func TestPaginatePropagatesDirectoryErrors(t *testing.T) {
	directory := &pagedDirectory{err: errors.New("db down")}
	if _, err := Paginate(context.Background(), directory, core.TierPlus, 100); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := Paginate(context.Background(), directory, core.TierPlus, 0); err == nil {
		t.Fatalf("expected page size error")
	}
}

func TestTierRunWithoutSitesIsNoop(t *testing.T) {
	f := newFixture(t, Config{Sites: staticSites{}, Identities: linkDirectory{}}, true)
	result, err := f.runTier(t, "tier:plus:manual:empty", core.TierPlus, 864000, 100)
	if err != nil {
		t.Fatalf("tier run: %v", err)
	}
	if !result.IsZero() {
		t.Fatalf("expected zero aggregate, got %+v", result)
	}
	pages, err := f.store.List(context.Background(), core.RunFilter{Level: core.RunLevelPage})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pages) != 0 {
		t.Fatalf("expected no page runs, got %d", len(pages))
	}
}

func TestPageRunIsolatesSiteFailures(t *testing.T) {
	verifier := &scriptedVerifier{kind: core.IdentityKindWebDomain, answers: map[string]string{
		"s1-a": "ok", "s1-b": "ok", "s3-a": "ok", "s3-b": "ok", "s2-a": "ok", "s2-b": "ok",
	}}
	registry, _ := core.NewVerifierRegistry(verifier)
	directory := linkDirectory{
		links: map[string]map[core.IdentityKind][]core.IdentityLink{
			"s1": {core.IdentityKindWebDomain: links(core.IdentityKindWebDomain, "s1", "s1-a", "s1-b")},
			"s2": {core.IdentityKindWebDomain: links(core.IdentityKindWebDomain, "s2", "s2-a", "s2-b")},
			"s3": {core.IdentityKindWebDomain: links(core.IdentityKindWebDomain, "s3", "s3-a", "s3-b")},
		},
		block: map[string]bool{"s2": true},
	}
	f := newFixture(t, Config{
		Sites:       staticSites{},
		Identities:  directory,
		Verifiers:   registry,
		SiteTimeout: 30 * time.Millisecond,
	}, true)

	result, err := f.runPage(t, "page-isolation", "s1", "s2", "s3")
	if err != nil {
		t.Fatalf("page run: %v", err)
	}
	want := core.AggregateResult{SuccessCount: 2, FailureCount: 1, SuccessfulIdentityCount: 4, FailedIdentityCount: 0}
	if result != want {
		t.Fatalf("expected %+v, got %+v", want, result)
	}
	site, err := f.store.Get(context.Background(), SiteRunID("page-isolation", "s2"))
	if err != nil {
		t.Fatalf("get site run: %v", err)
	}
	if site.Status != core.RunStatusTimedOut {
		t.Fatalf("expected timed out site run, got %s", site.Status)
	}
}

func TestPageRunCountsCrashedSiteAsFailure(t *testing.T) {
	verifier := &scriptedVerifier{kind: core.IdentityKindFediverse, answers: map[string]string{"a": "ok", "b": "no"}}
	registry, _ := core.NewVerifierRegistry(verifier)
	directory := linkDirectory{
		links: map[string]map[core.IdentityKind][]core.IdentityLink{
			"s1": {core.IdentityKindFediverse: links(core.IdentityKindFediverse, "s1", "a", "b")},
		},
		fail: map[string]error{"s2": errors.New("directory unavailable")},
	}
	f := newFixture(t, Config{Sites: staticSites{}, Identities: directory, Verifiers: registry}, true)

	result, err := f.runPage(t, "page-crash", "s1", "s2")
	if err != nil {
		t.Fatalf("page run: %v", err)
	}
	want := core.AggregateResult{SuccessCount: 1, FailureCount: 1, SuccessfulIdentityCount: 1, FailedIdentityCount: 1}
	if result != want {
		t.Fatalf("expected %+v, got %+v", want, result)
	}
	if result.SuccessCount+result.FailureCount != 2 {
		t.Fatalf("every site must resolve to exactly one verdict")
	}
}

func TestPageRunWithoutSites(t *testing.T) {
	f := newFixture(t, Config{Sites: staticSites{}, Identities: linkDirectory{}}, true)
	result, err := f.runPage(t, "page-empty")
	if err != nil || !result.IsZero() {
		t.Fatalf("expected zero aggregate, got %+v, %v", result, err)
	}
	sites, _ := f.store.List(context.Background(), core.RunFilter{Level: core.RunLevelSite})
	if len(sites) != 0 {
		t.Fatalf("expected no site runs, got %d", len(sites))
	}
}

func TestSiteRunSkipsErroredVerifications(t *testing.T) {
	verifier := &scriptedVerifier{kind: core.IdentityKindDecentralizedID, answers: map[string]string{"A": "ok", "B": "err", "C": "ok"}}
	registry, _ := core.NewVerifierRegistry(verifier)
	directory := linkDirectory{links: map[string]map[core.IdentityKind][]core.IdentityLink{
		"site": {core.IdentityKindDecentralizedID: links(core.IdentityKindDecentralizedID, "site", "A", "B", "C")},
	}}
	f := newFixture(t, Config{Sites: staticSites{}, Identities: directory, Verifiers: registry}, true)

	result, err := f.runSite(t, "site-soft-skip", "site")
	if err != nil {
		t.Fatalf("site run: %v", err)
	}
	want := core.AggregateResult{SuccessCount: 2, FailureCount: 0}
	if result != want {
		t.Fatalf("expected %+v, got %+v", want, result)
	}
	// A and C once each, B three times before giving up
	if got := verifier.calls.Load(); got != 5 {
		t.Fatalf("expected 5 verifier calls, got %d", got)
	}
}

func TestPageRunSurvivesPanickingVerifier(t *testing.T) {
	domain := &scriptedVerifier{kind: core.IdentityKindWebDomain, answers: map[string]string{"s1-a": "ok", "s2-a": "ok"}}
	fediverse := &panickingVerifier{kind: core.IdentityKindFediverse}
	registry, _ := core.NewVerifierRegistry(domain, fediverse)
	directory := linkDirectory{links: map[string]map[core.IdentityKind][]core.IdentityLink{
		"s1": {core.IdentityKindWebDomain: links(core.IdentityKindWebDomain, "s1", "s1-a")},
		"s2": {
			core.IdentityKindFediverse: links(core.IdentityKindFediverse, "s2", "s2-fedi"),
			core.IdentityKindWebDomain: links(core.IdentityKindWebDomain, "s2", "s2-a"),
		},
	}}
	f := newFixture(t, Config{Sites: staticSites{}, Identities: directory, Verifiers: registry}, true)

	result, err := f.runPage(t, "page-panic", "s1", "s2")
	if err != nil {
		t.Fatalf("page run: %v", err)
	}
	want := core.AggregateResult{SuccessCount: 2, FailureCount: 0, SuccessfulIdentityCount: 2, FailedIdentityCount: 0}
	if result != want {
		t.Fatalf("expected %+v, got %+v", want, result)
	}
	if got := fediverse.calls.Load(); got != 1 {
		t.Fatalf("a panicking verifier must not be retried, got %d calls", got)
	}
	site, err := f.store.Get(context.Background(), SiteRunID("page-panic", "s2"))
	if err != nil {
		t.Fatalf("get site run: %v", err)
	}
	if site.Status != core.RunStatusSucceeded {
		t.Fatalf("expected succeeded site run, got %s", site.Status)
	}
}

func TestSiteRunCountsDeterministicFailures(t *testing.T) {
	social := &scriptedVerifier{kind: core.IdentityKindSocialOAuth2, answers: map[string]string{"A": "ok"}}
	domain := &scriptedVerifier{kind: core.IdentityKindWebDomain, answers: map[string]string{"B": "no"}}
	registry, _ := core.NewVerifierRegistry(social, domain)
	directory := linkDirectory{links: map[string]map[core.IdentityKind][]core.IdentityLink{
		"site": {
			core.IdentityKindSocialOAuth2: links(core.IdentityKindSocialOAuth2, "site", "A"),
			core.IdentityKindWebDomain:    links(core.IdentityKindWebDomain, "site", "B"),
		},
	}}
	f := newFixture(t, Config{Sites: staticSites{}, Identities: directory, Verifiers: registry}, true)

	result, err := f.runSite(t, "site-deterministic", "site")
	if err != nil {
		t.Fatalf("site run: %v", err)
	}
	if result != (core.AggregateResult{SuccessCount: 1, FailureCount: 1}) {
		t.Fatalf("expected one success and one failure, got %+v", result)
	}
	if domain.calls.Load() != 1 {
		t.Fatalf("deterministic failures must not be retried, got %d calls", domain.calls.Load())
	}
}

func TestSiteRunWithoutLinksSucceeds(t *testing.T) {
	f := newFixture(t, Config{Sites: staticSites{}, Identities: linkDirectory{}}, true)
	result, err := f.runSite(t, "site-empty", "lonely")
	if err != nil || !result.IsZero() {
		t.Fatalf("expected zero result without error, got %+v, %v", result, err)
	}
}

func TestSiteRunSkipsUnregisteredKinds(t *testing.T) {
	domain := &scriptedVerifier{kind: core.IdentityKindWebDomain, answers: map[string]string{"B": "ok"}}
	registry, _ := core.NewVerifierRegistry(domain)
	directory := linkDirectory{links: map[string]map[core.IdentityKind][]core.IdentityLink{
		"site": {
			core.IdentityKindFediverse: links(core.IdentityKindFediverse, "site", "A"),
			core.IdentityKindWebDomain: links(core.IdentityKindWebDomain, "site", "B"),
		},
	}}
	f := newFixture(t, Config{Sites: staticSites{}, Identities: directory, Verifiers: registry}, true)
	result, err := f.runSite(t, "site-unregistered", "site")
	if err != nil {
		t.Fatalf("site run: %v", err)
	}
	if result != (core.AggregateResult{SuccessCount: 1}) {
		t.Fatalf("expected only the registered kind to count, got %+v", result)
	}
}

func TestTierRunDoesNotIsolatePageFailures(t *testing.T) {
	verifier := &scriptedVerifier{kind: core.IdentityKindWebDomain, answers: map[string]string{}}
	registry, _ := core.NewVerifierRegistry(verifier)
	f := newFixture(t, Config{
		Sites:      staticSites{ids: []string{"a", "b", "c", "d"}},
		Identities: linkDirectory{},
		Verifiers:  registry,
	}, false)
	if err := f.engine.Register(JobTierRun, f.orch.TierRun); err != nil {
		t.Fatalf("register tier: %v", err)
	}
	if err := f.engine.Register(JobSiteRun, f.orch.SiteRun); err != nil {
		t.Fatalf("register site: %v", err)
	}
	if err := f.engine.Register(JobPageRun, func(ctx context.Context, exec *workflow.Execution) (core.AggregateResult, error) {
		var input pageRunInput
		if err := exec.DecodeInput(&input); err != nil {
			return core.AggregateResult{}, err
		}
		if input.PageIndex == 1 {
			return core.AggregateResult{}, errors.New("page worker crashed")
		}
		return f.orch.PageRun(ctx, exec)
	}); err != nil {
		t.Fatalf("register page: %v", err)
	}

	result, err := f.runTier(t, "tier:plus:manual:crash", core.TierPlus, 864000, 2)
	if err == nil {
		t.Fatalf("expected the tier run to fail, got %+v", result)
	}
	var failed *workflow.RunFailedError
	if !errors.As(err, &failed) || failed.Level != core.RunLevelTier {
		t.Fatalf("expected a failed tier run, got %v", err)
	}
	// page 0 resolved before the failing page, so its counts are kept
	if result.SuccessCount != 2 || result.FailureCount != 0 {
		t.Fatalf("expected partial counts from page 0, got %+v", result)
	}
	record, _ := f.store.Get(context.Background(), "tier:plus:manual:crash")
	if record.Status != core.RunStatusFailed {
		t.Fatalf("expected failed tier record, got %s", record.Status)
	}
}

func TestPerSiteInterval(t *testing.T) {
	if got := PerSiteInterval(864000, 4); got != 216000 {
		t.Fatalf("expected 216000, got %v", got)
	}
	if got := PerSiteInterval(864000, 0); got != 0 {
		t.Fatalf("expected 0 for no sites, got %v", got)
	}
	if got := PerSiteInterval(10, 3); math.Abs(got-10.0/3.0) > 1e-9 {
		t.Fatalf("expected fractional interval, got %v", got)
	}
}

func TestTierRunRecordsIntervalIndependentOfPaging(t *testing.T) {
	for _, pageSize := range []int{1, 3, 100} {
		t.Run(fmt.Sprintf("page_size_%d", pageSize), func(t *testing.T) {
			f := newFixture(t, Config{
				Sites:      staticSites{ids: []string{"a", "b", "c", "d"}},
				Identities: linkDirectory{},
			}, true)
			runID := fmt.Sprintf("tier:plus:manual:interval-%d", pageSize)
			result, err := f.runTier(t, runID, core.TierPlus, 864000, pageSize)
			if err != nil {
				t.Fatalf("tier run: %v", err)
			}
			if result.SuccessCount != 4 {
				t.Fatalf("expected 4 successful sites, got %+v", result)
			}
			record, err := f.store.Get(context.Background(), runID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got := record.Checkpoint[checkpointPerSiteInterval]; got != float64(216000) {
				t.Fatalf("expected interval 216000, got %v", got)
			}
			if got := record.Checkpoint[checkpointTotalSites]; got != 4 {
				t.Fatalf("expected 4 total sites, got %v", got)
			}
		})
	}
}

func TestTierRunAggregatesAcrossPages(t *testing.T) {
	verifier := &scriptedVerifier{kind: core.IdentityKindWebDomain, answers: map[string]string{
		"a1": "ok", "b1": "no", "c1": "ok", "c2": "err",
	}}
	registry, _ := core.NewVerifierRegistry(verifier)
	directory := linkDirectory{links: map[string]map[core.IdentityKind][]core.IdentityLink{
		"a": {core.IdentityKindWebDomain: links(core.IdentityKindWebDomain, "a", "a1")},
		"b": {core.IdentityKindWebDomain: links(core.IdentityKindWebDomain, "b", "b1")},
		"c": {core.IdentityKindWebDomain: links(core.IdentityKindWebDomain, "c", "c1", "c2")},
	}}
	f := newFixture(t, Config{
		Sites:      staticSites{ids: []string{"a", "b", "c"}},
		Identities: directory,
		Verifiers:  registry,
	}, true)
	result, err := f.runTier(t, "tier:standard:manual:sum", core.TierStandard, 1728000, 2)
	if err != nil {
		t.Fatalf("tier run: %v", err)
	}
	want := core.AggregateResult{SuccessCount: 3, FailureCount: 0, SuccessfulIdentityCount: 2, FailedIdentityCount: 1}
	if result != want {
		t.Fatalf("expected %+v, got %+v", want, result)
	}
	pages, _ := f.store.List(context.Background(), core.RunFilter{Level: core.RunLevelPage, ParentID: "tier:standard:manual:sum"})
	if len(pages) != 2 {
		t.Fatalf("expected 2 page runs, got %d", len(pages))
	}
}

func TestTierRunResumesFromCheckpointedPages(t *testing.T) {
	f := newFixture(t, Config{
		// the directory changed since the crash; checkpointed pages win
		Sites:      staticSites{ids: []string{"x", "y", "z"}},
		Identities: linkDirectory{},
	}, true)
	ctx := context.Background()
	runID := "tier:plus:cron:20260301T120000Z"
	if _, err := f.store.Create(ctx, core.RunRecord{
		ID:     runID,
		Level:  core.RunLevelTier,
		JobID:  JobTierRun,
		Tier:   core.TierPlus,
		Status: core.RunStatusRunning,
		Input:  map[string]any{"tier": "plus", "page_size": 100, "total_window_seconds": 864000},
		Checkpoint: map[string]any{
			checkpointPages: []core.Page{{Index: 0, SiteIDs: []string{"a", "b"}}},
		},
	}); err != nil {
		t.Fatalf("seed tier run: %v", err)
	}
	if _, err := f.store.Create(ctx, core.RunRecord{
		ID:       PageRunID(runID, 0),
		ParentID: runID,
		Level:    core.RunLevelPage,
		JobID:    JobPageRun,
		Status:   core.RunStatusSucceeded,
		Result:   core.AggregateResult{SuccessCount: 2, SuccessfulIdentityCount: 7},
	}); err != nil {
		t.Fatalf("seed page run: %v", err)
	}

	if _, err := f.engine.Resume(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}
	handle, err := f.engine.Attach(ctx, runID)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	result, err := handle.Result(waitCtx)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if result != (core.AggregateResult{SuccessCount: 2, SuccessfulIdentityCount: 7}) {
		t.Fatalf("expected the stored page result, got %+v", result)
	}
	f.engine.Wait()
	sites, _ := f.store.List(ctx, core.RunFilter{Level: core.RunLevelSite})
	if len(sites) != 0 {
		t.Fatalf("finished page must not start site runs again, got %d", len(sites))
	}
}

func TestRunIDs(t *testing.T) {
	tick := time.Date(2026, 3, 1, 12, 30, 15, 0, time.FixedZone("CET", 3600))
	id := TierRunID(core.TierProfessional, SourceSchedule, tick)
	if id != "tier:professional:cron:20260301T113015Z" {
		t.Fatalf("unexpected tier run id %q", id)
	}
	if TierRunID(core.TierProfessional, SourceManual, tick) == id {
		t.Fatalf("manual and scheduled runs must not collide")
	}
	page := PageRunID(id, 3)
	if page != id+"/page-0003" {
		t.Fatalf("unexpected page run id %q", page)
	}
	if SiteRunID(page, " s-42 ") != page+"/site-s-42" {
		t.Fatalf("unexpected site run id %q", SiteRunID(page, " s-42 "))
	}
}

func TestFlattenLinksOrdersByKind(t *testing.T) {
	flattened := FlattenLinks(map[core.IdentityKind][]core.IdentityLink{
		core.IdentityKindWebDomain:    {{IdentityID: "w1"}},
		core.IdentityKindSocialOAuth2: {{IdentityID: "s1"}, {IdentityID: "s2"}},
		core.IdentityKindFediverse:    {{IdentityID: "f1"}},
	})
	got := []string{}
	for _, link := range flattened {
		got = append(got, link.IdentityID)
	}
	if want := []string{"s1", "s2", "f1", "w1"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if flattened[0].Kind != core.IdentityKindSocialOAuth2 {
		t.Fatalf("expected missing kind to be filled from the group")
	}
}
