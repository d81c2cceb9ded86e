package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-reverify/core"
	"github.com/goliatone/go-reverify/transport"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// State is what the policy remembers about one verification bucket, that is
// one identity kind talking to one remote host.
type State struct {
	Key            core.RateLimitKey
	Limit          int
	Remaining      int
	ResetAt        *time.Time
	RetryAfter     *time.Duration
	ThrottledUntil *time.Time
	LastStatus     int
	Attempts       int
	UpdatedAt      time.Time
	Metadata       map[string]any
}

type StateStore interface {
	Get(ctx context.Context, key core.RateLimitKey) (State, error)
	Upsert(ctx context.Context, state State) error
}

// ThrottledError is returned by BeforeCall while a host is cooling down.
// It stays retryable so the surrounding retry loop backs off and tries again.
type ThrottledError struct {
	Kind       core.IdentityKind
	Host       string
	RetryAfter time.Duration
}

func throttled(key core.RateLimitKey, delay time.Duration) ThrottledError {
	return ThrottledError{Kind: core.IdentityKind(key.ProviderID), Host: key.ScopeID, RetryAfter: delay}
}

func (e ThrottledError) Error() string {
	host := strings.TrimSpace(e.Host)
	if host == "" {
		host = "unknown host"
	}
	return fmt.Sprintf("ratelimit: %s verifications against %s throttled for %s", e.Kind, host, e.RetryAfter)
}

func (ThrottledError) Retryable() bool { return true }

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"identity_kind": string(e.Kind),
		"host":          strings.TrimSpace(e.Host),
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ErrorRateLimited).
		WithMetadata(metadata)
}

// AdaptivePolicy throttles verification traffic per remote host. Every
// verifier response updates the host's bucket from its X-RateLimit-* and
// Retry-After headers; a 429, or an exhausted quota, closes the bucket until
// the advertised time or, without a hint, for an exponentially growing
// backoff. Other hosts are unaffected, so one slow instance does not hold
// back the rest of a tier run.
type AdaptivePolicy struct {
	Store            StateStore
	Now              func() time.Time
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	DefaultRetryHint time.Duration
}

func NewAdaptivePolicy(store StateStore) *AdaptivePolicy {
	return &AdaptivePolicy{
		Store:            store,
		Now:              func() time.Time { return time.Now().UTC() },
		InitialBackoff:   time.Second,
		MaxBackoff:       time.Minute,
		DefaultRetryHint: 5 * time.Second,
	}
}

func (p *AdaptivePolicy) BeforeCall(ctx context.Context, key core.RateLimitKey) error {
	if p == nil || p.Store == nil {
		return nil
	}
	state, err := p.Store.Get(ctx, normalizeKey(key))
	if errors.Is(err, ErrStateNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	now := p.now()
	if until := state.ThrottledUntil; until != nil && now.Before(*until) {
		return throttled(state.Key, until.Sub(now))
	}
	if state.Remaining == 0 && state.ResetAt != nil && now.Before(*state.ResetAt) {
		return throttled(state.Key, state.ResetAt.Sub(now))
	}
	return nil
}

func (p *AdaptivePolicy) AfterCall(ctx context.Context, key core.RateLimitKey, res core.ProviderResponseMeta) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = normalizeKey(key)
	now := p.now()
	state, err := p.Store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrStateNotFound):
		state = State{Key: key}
	case err != nil:
		return err
	}

	state.LastStatus = res.StatusCode
	state.UpdatedAt = now
	state.Metadata = cloneMap(state.Metadata)
	for k, v := range res.Metadata {
		state.Metadata[k] = v
	}

	quota := readQuota(res.Headers)
	if quota.limit != nil {
		state.Limit = *quota.limit
	}
	if quota.remaining != nil {
		state.Remaining = *quota.remaining
	}
	if quota.resetAt != nil {
		state.ResetAt = quota.resetAt
	}
	retryAfter, hinted := retryHint(res, now)
	state.RetryAfter = nil
	if hinted {
		state.RetryAfter = &retryAfter
	}

	if !closesBucket(res.StatusCode, state.Remaining, quota.present() || hinted) {
		state.Attempts = 0
		state.ThrottledUntil = nil
		return p.Store.Upsert(ctx, state)
	}

	state.Attempts++
	delay := retryAfter
	if !hinted {
		delay = p.nextBackoff(state.Attempts)
	}
	until := now.Add(delay)
	state.ThrottledUntil = &until
	return p.Store.Upsert(ctx, state)
}

func (p *AdaptivePolicy) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// nextBackoff doubles from InitialBackoff per consecutive throttled
// response, capped at MaxBackoff.
func (p *AdaptivePolicy) nextBackoff(attempt int) time.Duration {
	initial := p.InitialBackoff
	if initial <= 0 {
		initial = p.DefaultRetryHint
	}
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.MaxBackoff
	if maximum <= 0 {
		maximum = time.Minute
	}
	delay := initial
	for i := 1; i < attempt && delay < maximum; i++ {
		delay *= 2
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

// quota is the X-RateLimit-* header set of one response. Nil fields were not
// sent.
type quota struct {
	limit     *int
	remaining *int
	resetAt   *time.Time
}

func (q quota) present() bool {
	return q.limit != nil || q.remaining != nil || q.resetAt != nil
}

func readQuota(headers map[string]string) quota {
	var out quota
	if value, ok := headerInt(headers, "X-RateLimit-Limit"); ok {
		out.limit = &value
	}
	if value, ok := headerInt(headers, "X-RateLimit-Remaining"); ok {
		out.remaining = &value
	}
	if value, ok := headerInt(headers, "X-RateLimit-Reset"); ok && value > 0 {
		resetAt := time.Unix(int64(value), 0).UTC()
		out.resetAt = &resetAt
	}
	return out
}

// retryHint prefers the delay carried by a rate-limit error over the
// Retry-After header. Zero delays are ignored.
func retryHint(res core.ProviderResponseMeta, now time.Time) (time.Duration, bool) {
	if res.RetryAfter != nil && *res.RetryAfter > 0 {
		return *res.RetryAfter, true
	}
	delay, ok := transport.RetryAfter(res.Headers, now)
	if !ok || delay <= 0 {
		return 0, false
	}
	return delay, true
}

// closesBucket reports whether a response should stop further calls: any
// 429, or a non-5xx response that spent the last unit of an advertised quota.
func closesBucket(status int, remaining int, advertised bool) bool {
	switch {
	case status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return false
	default:
		return advertised && remaining == 0
	}
}

func headerInt(headers map[string]string, name string) (int, bool) {
	for key, value := range headers {
		if !strings.EqualFold(strings.TrimSpace(key), name) {
			continue
		}
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

func normalizeKey(key core.RateLimitKey) core.RateLimitKey {
	return core.RateLimitKey{
		ProviderID: strings.TrimSpace(strings.ToLower(key.ProviderID)),
		ScopeType:  strings.TrimSpace(strings.ToLower(key.ScopeType)),
		ScopeID:    strings.TrimSpace(key.ScopeID),
		BucketKey:  strings.TrimSpace(strings.ToLower(key.BucketKey)),
	}
}

func cloneMap(input map[string]any) map[string]any {
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}

var _ core.RateLimitPolicy = (*AdaptivePolicy)(nil)
