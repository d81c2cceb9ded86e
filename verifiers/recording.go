package verifiers

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-reverify/core"
)

// Recording persists every outcome returned by the wrapped verifier. Errors
// from the verifier are passed through unrecorded; a failed write is returned
// so the retry loop runs the verification again.
type Recording struct {
	next     core.Verifier
	recorder core.OutcomeRecorder
	now      func() time.Time
}

type RecordingOption func(*Recording)

func WithRecordingClock(now func() time.Time) RecordingOption {
	return func(r *Recording) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRecording(next core.Verifier, recorder core.OutcomeRecorder, opts ...RecordingOption) *Recording {
	r := &Recording{
		next:     next,
		recorder: recorder,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Recording) Kind() core.IdentityKind {
	if r == nil || r.next == nil {
		return ""
	}
	return r.next.Kind()
}

func (r *Recording) Verify(ctx context.Context, link core.IdentityLink) (core.VerificationOutcome, error) {
	if r == nil || r.next == nil {
		return core.VerificationOutcome{}, core.ErrVerifierNotFound
	}
	outcome, err := r.next.Verify(ctx, link)
	if err != nil {
		return outcome, err
	}
	if outcome.IdentityID == "" {
		outcome.IdentityID = link.IdentityID
	}
	if r.recorder == nil {
		return outcome, nil
	}
	if err := r.recorder.RecordOutcome(ctx, link, outcome, r.now().UTC()); err != nil {
		return core.VerificationOutcome{}, fmt.Errorf("verifiers: record outcome for identity %q: %w", link.IdentityID, err)
	}
	return outcome, nil
}

var _ core.Verifier = (*Recording)(nil)
