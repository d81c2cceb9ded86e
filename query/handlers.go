package query

import (
	"context"

	"github.com/goliatone/go-reverify/core"
	"github.com/goliatone/go-reverify/schedule"
)

type ScheduleReader interface {
	ListSchedules(ctx context.Context) ([]schedule.NextFire, error)
}

type RunReader interface {
	GetRun(ctx context.Context, runID string) (core.RunRecord, error)
	ListRuns(ctx context.Context, filter core.RunFilter) ([]core.RunRecord, error)
}

type ListSchedulesQuery struct {
	reader ScheduleReader
}

func NewListSchedulesQuery(reader ScheduleReader) *ListSchedulesQuery {
	return &ListSchedulesQuery{reader: reader}
}

func (q *ListSchedulesQuery) Query(ctx context.Context, _ ListSchedulesMessage) ([]schedule.NextFire, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: schedule reader is required")
	}
	return q.reader.ListSchedules(ctx)
}

type GetRunQuery struct {
	reader RunReader
}

func NewGetRunQuery(reader RunReader) *GetRunQuery {
	return &GetRunQuery{reader: reader}
}

func (q *GetRunQuery) Query(ctx context.Context, msg GetRunMessage) (core.RunRecord, error) {
	if q == nil || q.reader == nil {
		return core.RunRecord{}, queryDependencyError("query: run reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.RunRecord{}, err
	}
	return q.reader.GetRun(ctx, msg.RunID)
}

type ListRunsQuery struct {
	reader RunReader
}

func NewListRunsQuery(reader RunReader) *ListRunsQuery {
	return &ListRunsQuery{reader: reader}
}

func (q *ListRunsQuery) Query(ctx context.Context, msg ListRunsMessage) ([]core.RunRecord, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: run reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.ListRuns(ctx, msg.Filter)
}
