package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-reverify/core"
	"github.com/robfig/cron/v3"
)

// Entry is the static schedule of one tier. Cadence and window are set
// independently; a new run may start while the previous one is still
// spreading its window.
type Entry struct {
	Tier               core.Tier
	Cadence            string
	TotalWindowSeconds int64
	PageSize           int

	schedule cron.Schedule
}

func (e Entry) TotalWindow() time.Duration {
	return time.Duration(e.TotalWindowSeconds) * time.Second
}

// Next returns the first fire time strictly after now.
func (e Entry) Next(now time.Time) time.Time {
	if e.schedule == nil {
		parsed, err := cron.ParseStandard(e.Cadence)
		if err != nil {
			return time.Time{}
		}
		return parsed.Next(now.UTC())
	}
	return e.schedule.Next(now.UTC())
}

type Table struct {
	entries []Entry
}

func NewTable(entries ...Entry) (Table, error) {
	seen := map[core.Tier]bool{}
	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if err := entry.Tier.Validate(); err != nil {
			return Table{}, err
		}
		if seen[entry.Tier] {
			return Table{}, fmt.Errorf("schedule: duplicate entry for tier %s", entry.Tier)
		}
		seen[entry.Tier] = true
		entry.Cadence = strings.TrimSpace(entry.Cadence)
		parsed, err := cron.ParseStandard(entry.Cadence)
		if err != nil {
			return Table{}, fmt.Errorf("schedule: invalid cadence %q for tier %s: %w", entry.Cadence, entry.Tier, err)
		}
		if entry.TotalWindowSeconds <= 0 {
			return Table{}, fmt.Errorf("schedule: total window for tier %s must be positive", entry.Tier)
		}
		if entry.PageSize < 0 {
			return Table{}, fmt.Errorf("schedule: page size for tier %s must not be negative", entry.Tier)
		}
		entry.schedule = parsed
		out = append(out, entry)
	}
	return Table{entries: out}, nil
}

// TableFromConfig builds the table in tier order. Tiers without their own
// page size use the global one.
func TableFromConfig(cfg core.Config) (Table, error) {
	entries := make([]Entry, 0, len(core.KnownTiers()))
	for _, tier := range core.KnownTiers() {
		tierCfg, _ := cfg.Schedules.ForTier(tier)
		pageSize := tierCfg.PageSize
		if pageSize == 0 {
			pageSize = cfg.PageSize
		}
		entries = append(entries, Entry{
			Tier:               tier,
			Cadence:            tierCfg.Cadence,
			TotalWindowSeconds: tierCfg.TotalWindowSeconds,
			PageSize:           pageSize,
		})
	}
	return NewTable(entries...)
}

func DefaultTable() Table {
	table, err := TableFromConfig(core.DefaultConfig())
	if err != nil {
		panic(err)
	}
	return table
}

func (t Table) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}

func (t Table) Lookup(tier core.Tier) (Entry, bool) {
	for _, entry := range t.entries {
		if entry.Tier == tier {
			return entry, true
		}
	}
	return Entry{}, false
}

type NextFire struct {
	Tier               core.Tier `json:"tier"`
	Cadence            string    `json:"cadence"`
	TotalWindowSeconds int64     `json:"total_window_seconds"`
	PageSize           int       `json:"page_size"`
	Next               time.Time `json:"next"`
}

func (t Table) NextFireTimes(now time.Time) []NextFire {
	out := make([]NextFire, 0, len(t.entries))
	for _, entry := range t.entries {
		out = append(out, NextFire{
			Tier:               entry.Tier,
			Cadence:            entry.Cadence,
			TotalWindowSeconds: entry.TotalWindowSeconds,
			PageSize:           entry.PageSize,
			Next:               entry.Next(now),
		})
	}
	return out
}
