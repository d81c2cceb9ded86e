package orchestrator

import (
	"context"
	"fmt"

	"github.com/goliatone/go-reverify/core"
	"github.com/goliatone/go-reverify/workflow"
)

const (
	checkpointPages           = "pages"
	checkpointTotalSites      = "total_sites"
	checkpointPerSiteInterval = "per_site_interval_seconds"
)

// TierRun pages the tier's sites, records the spreading interval and fans
// out one page run per page. Page runs all start before any is awaited.
func (o *Orchestrator) TierRun(ctx context.Context, exec *workflow.Execution) (core.AggregateResult, error) {
	var input tierRunInput
	if err := exec.DecodeInput(&input); err != nil {
		return core.AggregateResult{}, fmt.Errorf("orchestrator: decode tier run input: %w", err)
	}
	if err := input.Tier.Validate(); err != nil {
		return core.AggregateResult{}, err
	}
	if input.PageSize <= 0 {
		input.PageSize = o.pageSize
	}
	observer := exec.Observer()
	fields := exec.Fields()

	var pages []core.Page
	found, err := exec.LoadCheckpoint(checkpointPages, &pages)
	if err != nil {
		return core.AggregateResult{}, err
	}
	if !found {
		pages, err = Paginate(ctx, o.sites, input.Tier, input.PageSize)
		if err != nil {
			return core.AggregateResult{}, err
		}
		totalSites := TotalSites(pages)
		interval := PerSiteInterval(input.TotalWindowSeconds, totalSites)
		if err := exec.SaveCheckpoint(ctx, map[string]any{
			checkpointPages:           pages,
			checkpointTotalSites:      totalSites,
			checkpointPerSiteInterval: interval,
		}); err != nil {
			return core.AggregateResult{}, err
		}
	}

	totalSites := TotalSites(pages)
	if totalSites == 0 {
		observer.Info(ctx, "tier run found no sites", fields)
		return core.AggregateResult{}, nil
	}
	fields["page_count"] = len(pages)
	fields["total_sites"] = totalSites
	fields["per_site_interval_seconds"] = PerSiteInterval(input.TotalWindowSeconds, totalSites)
	observer.Info(ctx, "tier run fanning out", fields)

	handles := make([]*workflow.Handle, 0, len(pages))
	for _, page := range pages {
		handle, err := exec.StartChild(ctx, workflow.StartRequest{
			RunID: PageRunID(exec.RunID(), page.Index),
			Level: core.RunLevelPage,
			JobID: JobPageRun,
			Input: map[string]any{
				"tier":       string(input.Tier),
				"page_index": page.Index,
				"site_ids":   page.SiteIDs,
			},
		})
		if err != nil {
			return core.AggregateResult{}, fmt.Errorf("orchestrator: start page %d: %w", page.Index, err)
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
}
