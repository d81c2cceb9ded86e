package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-reverify/core"
	"github.com/uptrace/bun"
)

// RunStore persists workflow runs. Terminal runs are never rewritten: Update
// and Finish guard on the stored status inside the UPDATE statement.
type RunStore struct {
	db   *bun.DB
	repo repository.Repository[*runRecord]
}

func NewRunStore(db *bun.DB) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo, err := newRepository(db, runHandlers(), "run")
	if err != nil {
		return nil, err
	}
	return &RunStore{db: db, repo: repo}, nil
}

func (s *RunStore) Create(ctx context.Context, run core.RunRecord) (core.RunRecord, error) {
	if s == nil || s.db == nil {
		return core.RunRecord{}, fmt.Errorf("sqlstore: run store is not configured")
	}
	run.ID = strings.TrimSpace(run.ID)
	if run.ID == "" {
		return core.RunRecord{}, fmt.Errorf("sqlstore: run id is required")
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = run.CreatedAt
	}
	record := newRunRecord(run)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.RunRecord{}, fmt.Errorf("sqlstore: create run %q: %w", run.ID, err)
	}
	return record.toDomain(), nil
}

func (s *RunStore) Get(ctx context.Context, id string) (core.RunRecord, error) {
	if s == nil || s.db == nil {
		return core.RunRecord{}, fmt.Errorf("sqlstore: run store is not configured")
	}
	record, err := s.find(ctx, s.db, strings.TrimSpace(id))
	if err != nil {
		return core.RunRecord{}, err
	}
	return record.toDomain(), nil
}

func (s *RunStore) Update(ctx context.Context, run core.RunRecord) (core.RunRecord, error) {
	stored, _, err := s.write(ctx, run)
	return stored, err
}

func (s *RunStore) Finish(ctx context.Context, run core.RunRecord) (core.RunRecord, bool, error) {
	if !run.Status.Terminal() {
		return core.RunRecord{}, false, fmt.Errorf("sqlstore: finish requires a terminal status, got %q", run.Status)
	}
	return s.write(ctx, run)
}

// write updates the run unless it already reached a terminal status, in
// which case the stored record is returned and the write reports false.
func (s *RunStore) write(ctx context.Context, run core.RunRecord) (core.RunRecord, bool, error) {
	if s == nil || s.db == nil {
		return core.RunRecord{}, false, fmt.Errorf("sqlstore: run store is not configured")
	}
	run.ID = strings.TrimSpace(run.ID)
	if run.ID == "" {
		return core.RunRecord{}, false, fmt.Errorf("sqlstore: run id is required")
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = time.Now().UTC()
	}
	record := newRunRecord(run)

	var (
		stored core.RunRecord
		won    bool
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model(record).
			ExcludeColumn("id", "created_at").
			Where("id = ?", record.ID).
			Where("status NOT IN (?)", bun.In(terminalStatuses())).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		current, err := s.find(ctx, tx, record.ID)
		if err != nil {
			return err
		}
		stored = current.toDomain()
		won = affected > 0
		return nil
	})
	if err != nil {
		return core.RunRecord{}, false, err
	}
	return stored, won, nil
}

func (s *RunStore) List(ctx context.Context, filter core.RunFilter) ([]core.RunRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: run store is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at ASC"),
		repository.OrderBy("id ASC"),
	}
	if filter.Level != "" {
		selectors = append(selectors, repository.SelectBy("level", "=", string(filter.Level)))
	}
	if filter.Tier != "" {
		selectors = append(selectors, repository.SelectBy("tier", "=", string(filter.Tier)))
	}
	if parentID := strings.TrimSpace(filter.ParentID); parentID != "" {
		selectors = append(selectors, repository.SelectBy("parent_id", "=", parentID))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.status IN (?)", bun.In(statuses))
		}))
	}
	if filter.Limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(filter.Limit, 0))
	}

	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.RunRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *RunStore) find(ctx context.Context, db bun.IDB, id string) (*runRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("sqlstore: run id is required")
	}
	record := &runRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
		}
		return nil, err
	}
	return record, nil
}

func terminalStatuses() []string {
	return []string{
		string(core.RunStatusSucceeded),
		string(core.RunStatusFailed),
		string(core.RunStatusTimedOut),
	}
}

func newRunRecord(run core.RunRecord) *runRecord {
	return &runRecord{
		ID:         run.ID,
		ParentID:   strings.TrimSpace(run.ParentID),
		Level:      string(run.Level),
		JobID:      strings.TrimSpace(run.JobID),
		Tier:       string(run.Tier),
		Status:     string(run.Status),
		Input:      copyAnyMap(run.Input),
		Checkpoint: copyAnyMap(run.Checkpoint),
		Result:     run.Result.Map(),
		Error:      run.Error,
		Attempts:   run.Attempts,
		Deadline:   utcPointer(run.Deadline),
		StartedAt:  utcPointer(run.StartedAt),
		FinishedAt: utcPointer(run.FinishedAt),
		CreatedAt:  run.CreatedAt.UTC(),
		UpdatedAt:  run.UpdatedAt.UTC(),
	}
}

func (r *runRecord) toDomain() core.RunRecord {
	if r == nil {
		return core.RunRecord{}
	}
	return core.RunRecord{
		ID:         r.ID,
		ParentID:   r.ParentID,
		Level:      core.RunLevel(r.Level),
		JobID:      r.JobID,
		Tier:       core.Tier(r.Tier),
		Status:     core.RunStatus(r.Status),
		Input:      copyAnyMap(r.Input),
		Checkpoint: copyAnyMap(r.Checkpoint),
		Result:     aggregateFromMap(r.Result),
		Error:      r.Error,
		Attempts:   r.Attempts,
		Deadline:   utcPointer(r.Deadline),
		StartedAt:  utcPointer(r.StartedAt),
		FinishedAt: utcPointer(r.FinishedAt),
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

func aggregateFromMap(values map[string]any) core.AggregateResult {
	return core.AggregateResult{
		SuccessCount:            readInt(values["success_count"]),
		FailureCount:            readInt(values["failure_count"]),
		SuccessfulIdentityCount: readInt(values["successful_identity_count"]),
		FailedIdentityCount:     readInt(values["failed_identity_count"]),
	}
}

func utcPointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
