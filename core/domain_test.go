package core

import (
	"errors"
	"testing"
	"time"
)

func TestParseTier(t *testing.T) {
	tier, err := ParseTier("  Professional ")
	if err != nil {
		t.Fatalf("parse tier: %v", err)
	}
	if tier != TierProfessional {
		t.Fatalf("expected professional, got %q", tier)
	}
	if _, err := ParseTier("gold"); !errors.Is(err, ErrInvalidTier) {
		t.Fatalf("expected invalid tier error, got %v", err)
	}
}

func TestParseIdentityKind(t *testing.T) {
	for _, kind := range KnownIdentityKinds() {
		parsed, err := ParseIdentityKind(string(kind))
		if err != nil {
			t.Fatalf("parse %q: %v", kind, err)
		}
		if parsed != kind {
			t.Fatalf("expected %q, got %q", kind, parsed)
		}
	}
	if _, err := ParseIdentityKind("email"); !errors.Is(err, ErrInvalidIdentityKind) {
		t.Fatalf("expected invalid identity kind error, got %v", err)
	}
}

func TestAggregateResultAdd(t *testing.T) {
	total := AggregateResult{}.
		Add(AggregateResult{SuccessCount: 1, SuccessfulIdentityCount: 2}).
		Add(AggregateResult{FailureCount: 1, FailedIdentityCount: 3}).
		Add(AggregateResult{SuccessCount: 2, SuccessfulIdentityCount: 1, FailedIdentityCount: 1})

	want := AggregateResult{
		SuccessCount:            3,
		FailureCount:            1,
		SuccessfulIdentityCount: 3,
		FailedIdentityCount:     4,
	}
	if total != want {
		t.Fatalf("expected %+v, got %+v", want, total)
	}
	if total.IsZero() {
		t.Fatalf("expected non-zero aggregate")
	}
	if !(AggregateResult{}).IsZero() {
		t.Fatalf("expected zero aggregate")
	}
}

func TestRunRecordTransitions(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := RunRecord{ID: "tier:plus:manual:1", Status: RunStatusQueued}

	if err := record.TransitionTo(RunStatusRunning, now); err != nil {
		t.Fatalf("queued -> running: %v", err)
	}
	if record.StartedAt == nil || !record.StartedAt.Equal(now) {
		t.Fatalf("expected started_at to be set")
	}
	if err := record.TransitionTo(RunStatusSucceeded, now.Add(time.Minute)); err != nil {
		t.Fatalf("running -> succeeded: %v", err)
	}
	if record.FinishedAt == nil {
		t.Fatalf("expected finished_at to be set")
	}
	if !record.Status.Terminal() {
		t.Fatalf("expected terminal status")
	}
	if err := record.TransitionTo(RunStatusRunning, now); !errors.Is(err, ErrInvalidRunStatusTransition) {
		t.Fatalf("expected invalid transition error, got %v", err)
	}
}

func TestRunRecordExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deadline := now.Add(10 * time.Minute)
	record := RunRecord{Deadline: &deadline}
	if record.Expired(now) {
		t.Fatalf("expected run to be within deadline")
	}
	if !record.Expired(deadline) {
		t.Fatalf("expected run to be expired at its deadline")
	}
	if (RunRecord{}).Expired(now) {
		t.Fatalf("expected run without deadline to never expire")
	}
}
