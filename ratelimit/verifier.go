package ratelimit

import (
	"context"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-reverify/core"
)

const (
	ScopeHost    = "host"
	BucketVerify = "verify"
)

type KeyFunc func(link core.IdentityLink) core.RateLimitKey

// Verifier throttles calls to the wrapped verifier per identity kind and
// remote host. Outcomes and rate-limit errors feed the policy so later calls
// against the same host back off.
type Verifier struct {
	next   core.Verifier
	policy core.RateLimitPolicy
	key    KeyFunc
}

func NewVerifier(next core.Verifier, policy core.RateLimitPolicy, key KeyFunc) *Verifier {
	if key == nil {
		key = HostKey
	}
	return &Verifier{next: next, policy: policy, key: key}
}

func (v *Verifier) Kind() core.IdentityKind {
	if v == nil || v.next == nil {
		return ""
	}
	return v.next.Kind()
}

func (v *Verifier) Verify(ctx context.Context, link core.IdentityLink) (core.VerificationOutcome, error) {
	if v == nil || v.next == nil {
		return core.VerificationOutcome{}, core.ErrVerifierNotFound
	}
	if v.policy == nil {
		return v.next.Verify(ctx, link)
	}
	key := v.key(link)
	if err := v.policy.BeforeCall(ctx, key); err != nil {
		return core.VerificationOutcome{}, err
	}

	outcome, verifyErr := v.next.Verify(ctx, link)
	if err := v.policy.AfterCall(ctx, key, responseMeta(outcome, verifyErr)); err != nil {
		if verifyErr != nil {
			return outcome, verifyErr
		}
		return outcome, err
	}
	return outcome, verifyErr
}

func responseMeta(outcome core.VerificationOutcome, err error) core.ProviderResponseMeta {
	meta := core.ProviderResponseMeta{
		StatusCode: outcome.StatusCode,
		Headers:    map[string]string{},
	}
	if headers, ok := outcome.Metadata["headers"].(map[string]string); ok {
		for key, value := range headers {
			meta.Headers[key] = value
		}
	}
	if err == nil {
		return meta
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		if rich.Category == goerrors.CategoryRateLimit {
			meta.StatusCode = 429
		} else if rich.Code > 0 {
			meta.StatusCode = rich.Code
		}
		if ms, ok := rich.Metadata["retry_after_ms"].(int64); ok && ms > 0 {
			delay := time.Duration(ms) * time.Millisecond
			meta.RetryAfter = &delay
		}
	}
	var throttled ThrottledError
	if goerrors.As(err, &throttled) {
		meta.StatusCode = 429
		if throttled.RetryAfter > 0 {
			delay := throttled.RetryAfter
			meta.RetryAfter = &delay
		}
	}
	return meta
}

// HostKey buckets calls by identity kind and the remote host named by the
// link handle.
func HostKey(link core.IdentityLink) core.RateLimitKey {
	return core.RateLimitKey{
		ProviderID: string(link.Kind),
		ScopeType:  ScopeHost,
		ScopeID:    LinkHost(link),
		BucketKey:  BucketVerify,
	}
}

// LinkHost extracts the remote host from a link: an explicit "host" metadata
// value, a URL, a did:web identifier, an acct handle, or a bare domain.
func LinkHost(link core.IdentityLink) string {
	if host, ok := link.Metadata["host"].(string); ok && strings.TrimSpace(host) != "" {
		return strings.ToLower(strings.TrimSpace(host))
	}
	handle := strings.TrimSpace(link.Handle)
	switch {
	case handle == "":
		return ""
	case strings.Contains(handle, "://"):
		parsed, err := url.Parse(handle)
		if err != nil {
			return ""
		}
		return strings.ToLower(parsed.Hostname())
	case strings.HasPrefix(strings.ToLower(handle), "did:web:"):
		rest := handle[len("did:web:"):]
		host, _, _ := strings.Cut(rest, ":")
		host, _ = url.PathUnescape(host)
		return strings.ToLower(host)
	case strings.Contains(handle, "@"):
		handle = strings.TrimPrefix(handle, "acct:")
		return strings.ToLower(handle[strings.LastIndex(handle, "@")+1:])
	default:
		return strings.ToLower(handle)
	}
}

var _ core.Verifier = (*Verifier)(nil)
