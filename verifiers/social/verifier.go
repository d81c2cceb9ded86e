// Package social re-verifies OAuth2 social identities by resolving the live
// provider profile behind the stored credential.
package social

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-reverify/core"
	"github.com/goliatone/go-reverify/identity"
)

// TokenSource supplies the credential stored for a social identity link.
type TokenSource interface {
	Token(ctx context.Context, link core.IdentityLink) (identity.Credential, error)
}

type TokenSourceFunc func(ctx context.Context, link core.IdentityLink) (identity.Credential, error)

func (f TokenSourceFunc) Token(ctx context.Context, link core.IdentityLink) (identity.Credential, error) {
	return f(ctx, link)
}

// MetadataTokenSource reads access_token and id_token from link metadata.
type MetadataTokenSource struct{}

func (MetadataTokenSource) Token(_ context.Context, link core.IdentityLink) (identity.Credential, error) {
	accessToken, _ := link.Metadata["access_token"].(string)
	cred := identity.Credential{AccessToken: strings.TrimSpace(accessToken), Metadata: map[string]any{}}
	for _, key := range []string{"id_token", "userinfo_endpoint"} {
		if value, ok := link.Metadata[key].(string); ok && strings.TrimSpace(value) != "" {
			cred.Metadata[key] = strings.TrimSpace(value)
		}
	}
	return cred, nil
}

type Verifier struct {
	resolver identity.ProfileResolver
	tokens   TokenSource
}

func New(resolver identity.ProfileResolver, tokens TokenSource) *Verifier {
	if resolver == nil {
		resolver = identity.DefaultResolver()
	}
	if tokens == nil {
		tokens = MetadataTokenSource{}
	}
	return &Verifier{resolver: resolver, tokens: tokens}
}

func (*Verifier) Kind() core.IdentityKind {
	return core.IdentityKindSocialOAuth2
}

// Verify reads the provider from metadata["provider"] and compares the
// resolved profile with the link handle. Revoked credentials and missing
// profiles are failures; transport problems are returned as errors.
func (v *Verifier) Verify(ctx context.Context, link core.IdentityLink) (core.VerificationOutcome, error) {
	outcome := core.VerificationOutcome{IdentityID: link.IdentityID, Metadata: map[string]any{}}
	provider, _ := link.Metadata["provider"].(string)
	provider = strings.ToLower(strings.TrimSpace(provider))
	account := strings.TrimSpace(link.Handle)
	if provider == "" || account == "" {
		outcome.Reason = "social: provider and account handle are required"
		return outcome, nil
	}
	outcome.Metadata["provider"] = provider

	cred, err := v.tokens.Token(ctx, link)
	if err != nil {
		return core.VerificationOutcome{}, fmt.Errorf("social: load credential for identity %q: %w", link.IdentityID, err)
	}

	profile, err := v.resolver.Resolve(ctx, provider, cred)
	if err != nil {
		if reason, definite := definiteFailure(err); definite {
			outcome.Reason = reason
			outcome.StatusCode = statusCode(err)
			return outcome, nil
		}
		return core.VerificationOutcome{}, err
	}
	outcome.Metadata["external_id"] = profile.ExternalAccountID()
	if profile.Matches(account) {
		outcome.Success = true
		return outcome, nil
	}
	outcome.Reason = "social: profile does not match linked account"
	return outcome, nil
}

func definiteFailure(err error) (string, bool) {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		switch rich.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz:
			return "social: credential rejected by provider", true
		case goerrors.CategoryNotFound:
			return "social: profile not found", true
		case goerrors.CategoryRateLimit, goerrors.CategoryExternal:
			return "", false
		}
	}
	if errors.Is(err, identity.ErrProfileNotFound) {
		return "social: profile not found", true
	}
	return "", false
}

func statusCode(err error) int {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.Code
	}
	return 0
}

var _ core.Verifier = (*Verifier)(nil)
