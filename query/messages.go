package query

import (
	"strings"

	"github.com/goliatone/go-reverify/core"
)

const (
	TypeListSchedules = "reverify.query.schedules.list"
	TypeGetRun        = "reverify.query.run.get"
	TypeListRuns      = "reverify.query.runs.list"

	maxListRunsLimit = 500
)

type ListSchedulesMessage struct{}

func (ListSchedulesMessage) Type() string { return TypeListSchedules }

func (ListSchedulesMessage) Validate() error { return nil }

type GetRunMessage struct {
	RunID string
}

func (GetRunMessage) Type() string { return TypeGetRun }

func (m GetRunMessage) Validate() error {
	if strings.TrimSpace(m.RunID) == "" {
		return queryValidationError("run_id", "run id is required")
	}
	return nil
}

type ListRunsMessage struct {
	Filter core.RunFilter
}

func (ListRunsMessage) Type() string { return TypeListRuns }

func (m ListRunsMessage) Validate() error {
	if m.Filter.Tier != "" {
		if err := m.Filter.Tier.Validate(); err != nil {
			return queryWrapValidation(err, "tier")
		}
	}
	if m.Filter.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	if m.Filter.Limit > maxListRunsLimit {
		return queryValidationError("limit", "limit must be <= 500")
	}
	return nil
}
