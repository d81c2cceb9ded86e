package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-reverify/core"
)

const (
	JobTierRun = "reverify.tier_run"
	JobPageRun = "reverify.page_run"
	JobSiteRun = "reverify.site_run"

	SourceSchedule = "cron"
	SourceManual   = "manual"

	tickLayout = "20060102T150405Z"
)

// TierRunID addresses one tick of one tier. Distinct sources never collide,
// and the same scheduled tick always maps to the same id.
func TierRunID(tier core.Tier, source string, tick time.Time) string {
	return TierRunIDWithKey(tier, source, tick.UTC().Format(tickLayout))
}

func TierRunIDWithKey(tier core.Tier, source string, key string) string {
	source = strings.TrimSpace(strings.ToLower(source))
	if source == "" {
		source = SourceManual
	}
	return fmt.Sprintf("tier:%s:%s:%s", tier, source, strings.TrimSpace(key))
}

func PageRunID(tierRunID string, index int) string {
	return fmt.Sprintf("%s/page-%04d", tierRunID, index)
}

func SiteRunID(pageRunID string, siteID string) string {
	return fmt.Sprintf("%s/site-%s", pageRunID, strings.TrimSpace(siteID))
}
