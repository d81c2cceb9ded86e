package reverify

import (
	"context"
	"testing"

	"github.com/goliatone/go-reverify/core"
	"github.com/goliatone/go-reverify/transport"
)

type recordingTransport struct {
	requests []core.TransportRequest
}

func (*recordingTransport) Kind() string { return "recording" }

func (t *recordingTransport) Do(_ context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	t.requests = append(t.requests, req)
	return core.TransportResponse{StatusCode: 404}, nil
}

func TestDefaultVerifiers_CoverEveryKindOnce(t *testing.T) {
	registry, err := core.NewVerifierRegistry(DefaultVerifiers(nil)...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	for _, kind := range core.KnownIdentityKinds() {
		if _, ok := registry.Get(kind); !ok {
			t.Fatalf("expected default verifier for %s", kind)
		}
	}
}

func TestDefaultVerifiers_ShareTransport(t *testing.T) {
	adapter := &recordingTransport{}
	var fediverse core.Verifier
	for _, verifier := range DefaultVerifiers(adapter) {
		if verifier.Kind() == core.IdentityKindFediverse {
			fediverse = verifier
		}
	}
	if fediverse == nil {
		t.Fatalf("expected fediverse verifier")
	}
	_, _ = fediverse.Verify(context.Background(), core.IdentityLink{
		Kind:       core.IdentityKindFediverse,
		IdentityID: "fedi-1",
		SiteID:     "site-1",
		Handle:     "@alice@social.example",
		Metadata:   map[string]any{"site_url": "https://site.example"},
	})
	if len(adapter.requests) == 0 {
		t.Fatalf("expected the fediverse verifier to call the shared transport")
	}
}

func TestNewService_BuildsVerifierTransportFromRegistry(t *testing.T) {
	adapter := &recordingTransport{}
	registry := transport.NewRegistry()
	var built map[string]any
	if err := registry.RegisterFactory("recording", func(config map[string]any) (core.TransportAdapter, error) {
		built = config
		return adapter, nil
	}); err != nil {
		t.Fatalf("register factory: %v", err)
	}
	_, err := NewService(DefaultConfig(),
		WithSiteDirectory(memorySites{}),
		WithIdentityDirectory(memoryLinks{}),
		WithTransportRegistry(registry, "recording", map[string]any{"timeout_ms": 500}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if built["timeout_ms"] != 500 {
		t.Fatalf("expected factory config passed through, got %#v", built)
	}

	if _, err := NewService(DefaultConfig(),
		WithSiteDirectory(memorySites{}),
		WithIdentityDirectory(memoryLinks{}),
		WithTransportRegistry(registry, "grpc", nil),
	); err == nil {
		t.Fatalf("expected unknown transport kind error")
	}
}
