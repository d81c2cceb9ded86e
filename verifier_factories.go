package reverify

import (
	"github.com/goliatone/go-reverify/core"
	"github.com/goliatone/go-reverify/identity"
	"github.com/goliatone/go-reverify/transport"
	"github.com/goliatone/go-reverify/verifiers/did"
	"github.com/goliatone/go-reverify/verifiers/fediverse"
	"github.com/goliatone/go-reverify/verifiers/social"
	"github.com/goliatone/go-reverify/verifiers/webdomain"
)

func WebDomainVerifier(cfg webdomain.Config) core.Verifier {
	return webdomain.New(cfg)
}

func FediverseVerifier(cfg fediverse.Config) core.Verifier {
	return fediverse.New(cfg)
}

func DecentralizedIDVerifier(cfg did.Config) core.Verifier {
	return did.New(cfg)
}

func SocialVerifier(resolver identity.ProfileResolver, tokens social.TokenSource) core.Verifier {
	return social.New(resolver, tokens)
}

// DefaultVerifiers returns one verifier per identity kind sharing adapter. A
// nil adapter uses the REST transport.
func DefaultVerifiers(adapter core.TransportAdapter) []core.Verifier {
	if adapter == nil {
		adapter = transport.NewRESTAdapter(nil)
	}
	return []core.Verifier{
		SocialVerifier(identity.NewResolver(identity.Config{Transport: adapter}), nil),
		FediverseVerifier(fediverse.Config{Transport: adapter}),
		DecentralizedIDVerifier(did.Config{Transport: adapter}),
		WebDomainVerifier(webdomain.Config{Transport: adapter}),
	}
}
