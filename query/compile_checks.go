package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-reverify/core"
	"github.com/goliatone/go-reverify/schedule"
)

var (
	_ gocmd.Querier[ListSchedulesMessage, []schedule.NextFire] = (*ListSchedulesQuery)(nil)
	_ gocmd.Querier[GetRunMessage, core.RunRecord]             = (*GetRunQuery)(nil)
	_ gocmd.Querier[ListRunsMessage, []core.RunRecord]         = (*ListRunsQuery)(nil)
)
