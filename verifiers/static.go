package verifiers

import (
	"context"
	"strings"
	"sync"

	"github.com/goliatone/go-reverify/core"
)

// Static answers from a fixed table keyed by identity id. Ids that are not in
// the table use Default.
type Static struct {
	kind    core.IdentityKind
	mu      sync.RWMutex
	results map[string]bool
	Default bool
}

func NewStatic(kind core.IdentityKind, results map[string]bool) *Static {
	table := make(map[string]bool, len(results))
	for id, ok := range results {
		table[strings.TrimSpace(id)] = ok
	}
	return &Static{kind: kind, results: table}
}

func (s *Static) Kind() core.IdentityKind {
	if s == nil {
		return ""
	}
	return s.kind
}

func (s *Static) Set(identityID string, success bool) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.results == nil {
		s.results = map[string]bool{}
	}
	s.results[strings.TrimSpace(identityID)] = success
}

func (s *Static) Verify(ctx context.Context, link core.IdentityLink) (core.VerificationOutcome, error) {
	if err := ctx.Err(); err != nil {
		return core.VerificationOutcome{}, err
	}
	id := strings.TrimSpace(link.IdentityID)
	s.mu.RLock()
	success, ok := s.results[id]
	s.mu.RUnlock()
	if !ok {
		success = s.Default
	}
	outcome := core.VerificationOutcome{IdentityID: id, Success: success}
	if !success {
		outcome.Reason = "static: marked unverified"
	}
	return outcome, nil
}

// Func adapts a plain function into a verifier.
type Func struct {
	kind core.IdentityKind
	fn   func(ctx context.Context, link core.IdentityLink) (core.VerificationOutcome, error)
}

func NewFunc(kind core.IdentityKind, fn func(ctx context.Context, link core.IdentityLink) (core.VerificationOutcome, error)) *Func {
	return &Func{kind: kind, fn: fn}
}

func (f *Func) Kind() core.IdentityKind {
	if f == nil {
		return ""
	}
	return f.kind
}

func (f *Func) Verify(ctx context.Context, link core.IdentityLink) (core.VerificationOutcome, error) {
	if f == nil || f.fn == nil {
		return core.VerificationOutcome{}, core.ErrVerifierNotFound
	}
	outcome, err := f.fn(ctx, link)
	if err != nil {
		return core.VerificationOutcome{}, err
	}
	if outcome.IdentityID == "" {
		outcome.IdentityID = strings.TrimSpace(link.IdentityID)
	}
	return outcome, nil
}

var (
	_ core.Verifier = (*Static)(nil)
	_ core.Verifier = (*Func)(nil)
)
