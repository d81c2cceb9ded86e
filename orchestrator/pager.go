package orchestrator

import (
	"context"
	"fmt"

	"github.com/goliatone/go-reverify/core"
)

// Paginate walks the directory with a fixed limit, advancing the offset by
// the number of ids each call returned, and stops at the first empty page.
// Sites that move tiers mid-walk may be seen zero or one times.
func Paginate(ctx context.Context, directory core.SiteDirectory, tier core.Tier, limit int) ([]core.Page, error) {
	if directory == nil {
		return nil, core.ErrSiteDirectoryNotConfigured
	}
	if limit <= 0 {
		return nil, fmt.Errorf("orchestrator: page size must be positive, got %d", limit)
	}
	pages := []core.Page{}
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return pages, err
		}
		ids, err := directory.ListSiteIDs(ctx, tier, limit, offset)
		if err != nil {
			return pages, fmt.Errorf("orchestrator: list sites for %s at offset %d: %w", tier, offset, err)
		}
		if len(ids) == 0 {
			return pages, nil
		}
		pages = append(pages, core.Page{
			Index:   len(pages),
			Offset:  offset,
			SiteIDs: append([]string(nil), ids...),
		})
		offset += len(ids)
	}
}

func TotalSites(pages []core.Page) int {
	total := 0
	for _, page := range pages {
		total += len(page.SiteIDs)
	}
	return total
}

// PerSiteInterval is the nominal spacing, in seconds, between two site checks
// if the window were spread evenly. It is recorded, not applied as a delay.
func PerSiteInterval(totalWindowSeconds int64, totalSites int) float64 {
	if totalSites <= 0 {
		return 0
	}
	return float64(totalWindowSeconds) / float64(totalSites)
}
