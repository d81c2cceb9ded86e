package orchestrator

import (
	"context"
	"fmt"

	"github.com/goliatone/go-reverify/core"
	"github.com/goliatone/go-reverify/workflow"
)

// PageRun starts one site run per site id, each with its own deadline, and
// counts every site as exactly one success or one failure.
func (o *Orchestrator) PageRun(ctx context.Context, exec *workflow.Execution) (core.AggregateResult, error) {
	var input pageRunInput
	if err := exec.DecodeInput(&input); err != nil {
		return core.AggregateResult{}, fmt.Errorf("orchestrator: decode page run input: %w", err)
	}
	if len(input.SiteIDs) == 0 {
		return core.AggregateResult{}, nil
	}
	observer := exec.Observer()

	type launched struct {
		siteID string
		handle *workflow.Handle
		err    error
	}
	children := make([]launched, 0, len(input.SiteIDs))
	for _, siteID := range input.SiteIDs {
		handle, err := exec.StartChild(ctx, workflow.StartRequest{
			RunID:   SiteRunID(exec.RunID(), siteID),
			Level:   core.RunLevelSite,
			JobID:   JobSiteRun,
			Input:   map[string]any{"tier": string(input.Tier), "site_id": siteID},
			Timeout: o.siteTimeout,
		})
		children = append(children, launched{siteID: siteID, handle: handle, err: err})
	}

	result := core.AggregateResult{}
	for _, child := range children {
		err := child.err
		var site core.AggregateResult
		if err == nil {
			site, err = child.handle.Result(ctx)
		}
		if err != nil {
			if ctx.Err() != nil {
				// the page itself was interrupted; do not record a verdict
				return result, ctx.Err()
			}
			result.FailureCount++
			fields := exec.Fields()
			fields["site_id"] = child.siteID
			fields["error"] = err.Error()
			observer.Warn(ctx, "site run failed", fields)
			continue
		}
		result.SuccessCount++
		result.SuccessfulIdentityCount += site.SuccessCount
		result.FailedIdentityCount += site.FailureCount
	}
	return result, nil
}
