package workflow

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-reverify/core"
)

// MemoryRunStore keeps run records in process. It survives nothing, but it
// gives tests and single-process setups the same semantics as the SQL store.
type MemoryRunStore struct {
	mu      sync.RWMutex
	records map[string]core.RunRecord
}

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{records: map[string]core.RunRecord{}}
}

func (s *MemoryRunStore) Create(_ context.Context, record core.RunRecord) (core.RunRecord, error) {
	if s == nil {
		return core.RunRecord{}, fmt.Errorf("workflow: run store is nil")
	}
	record.ID = strings.TrimSpace(record.ID)
	if record.ID == "" {
		return core.RunRecord{}, fmt.Errorf("workflow: run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; exists {
		return core.RunRecord{}, fmt.Errorf("workflow: run already exists: %s", record.ID)
	}
	s.records[record.ID] = cloneRecord(record)
	return cloneRecord(record), nil
}

func (s *MemoryRunStore) Get(_ context.Context, id string) (core.RunRecord, error) {
	if s == nil {
		return core.RunRecord{}, fmt.Errorf("workflow: run store is nil")
	}
	id = strings.TrimSpace(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return core.RunRecord{}, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	return cloneRecord(record), nil
}

func (s *MemoryRunStore) Update(_ context.Context, record core.RunRecord) (core.RunRecord, error) {
	if s == nil {
		return core.RunRecord{}, fmt.Errorf("workflow: run store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[record.ID]
	if !ok {
		return core.RunRecord{}, fmt.Errorf("%w: %s", core.ErrRunNotFound, record.ID)
	}
	if current.Status.Terminal() {
		return cloneRecord(current), nil
	}
	s.records[record.ID] = cloneRecord(record)
	return cloneRecord(record), nil
}

func (s *MemoryRunStore) Finish(_ context.Context, record core.RunRecord) (core.RunRecord, bool, error) {
	if s == nil {
		return core.RunRecord{}, false, fmt.Errorf("workflow: run store is nil")
	}
	if !record.Status.Terminal() {
		return core.RunRecord{}, false, fmt.Errorf("workflow: finish requires a terminal status, got %q", record.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[record.ID]
	if !ok {
		return core.RunRecord{}, false, fmt.Errorf("%w: %s", core.ErrRunNotFound, record.ID)
	}
	if current.Status.Terminal() {
		return cloneRecord(current), false, nil
	}
	s.records[record.ID] = cloneRecord(record)
	return cloneRecord(record), true, nil
}

func (s *MemoryRunStore) List(_ context.Context, filter core.RunFilter) ([]core.RunRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("workflow: run store is nil")
	}
	s.mu.RLock()
	out := make([]core.RunRecord, 0, len(s.records))
	for _, record := range s.records {
		if matchesFilter(record, filter) {
			out = append(out, cloneRecord(record))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matchesFilter(record core.RunRecord, filter core.RunFilter) bool {
	if filter.Level != "" && record.Level != filter.Level {
		return false
	}
	if filter.Tier != "" && record.Tier != filter.Tier {
		return false
	}
	if parent := strings.TrimSpace(filter.ParentID); parent != "" && record.ParentID != parent {
		return false
	}
	if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, record.Status) {
		return false
	}
	return true
}

func cloneRecord(record core.RunRecord) core.RunRecord {
	cloned := record
	cloned.Input = core.CloneMetadata(record.Input)
	cloned.Checkpoint = core.CloneMetadata(record.Checkpoint)
	if record.Deadline != nil {
		value := *record.Deadline
		cloned.Deadline = &value
	}
	if record.StartedAt != nil {
		value := *record.StartedAt
		cloned.StartedAt = &value
	}
	if record.FinishedAt != nil {
		value := *record.FinishedAt
		cloned.FinishedAt = &value
	}
	return cloned
}

var _ core.RunStore = (*MemoryRunStore)(nil)
