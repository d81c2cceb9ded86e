package did

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goliatone/go-reverify/core"
	"github.com/goliatone/go-reverify/transport"
)

func TestDocumentURL(t *testing.T) {
	cases := map[string]string{
		"did:web:example.com":                 "https://example.com/.well-known/did.json",
		"did:web:Example.com:users:alice":     "https://example.com/users/alice/did.json",
		"did:web:localhost%3A8443":            "https://localhost:8443/.well-known/did.json",
		"did:web:example.com:u:alice%20smith": "https://example.com/u/alice%20smith/did.json",
	}
	for id, want := range cases {
		got, err := DocumentURL(id, "")
		if err != nil {
			t.Fatalf("document url for %q: %v", id, err)
		}
		if got != want {
			t.Fatalf("document url for %q: expected %q, got %q", id, want, got)
		}
	}
	for _, id := range []string{"did:key:z6Mk", "did:web:", "did:web:example.com::x"} {
		if _, err := DocumentURL(id, ""); err == nil {
			t.Fatalf("expected error for %q", id)
		}
	}
}

func TestVerifier_MatchesAlsoKnownAsAndService(t *testing.T) {
	var docID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/did.json":
			_, _ = w.Write([]byte(`{"id":"` + docID + `","alsoKnownAs":["https://site.example/"]}`))
		case "/users/bob/did.json":
			_, _ = w.Write([]byte(`{"id":"` + docID + `:users:bob","service":[{"id":"#site","type":"LinkedDomains","serviceEndpoint":{"origins":"https://other.example"}},{"id":"#home","type":"LinkedDomains","serviceEndpoint":["https://site.example"]}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()
	docID = "did:web:" + strings.ReplaceAll(strings.TrimPrefix(server.URL, "http://"), ":", "%3A")

	verifier := New(Config{Transport: transport.NewRESTAdapter(server.Client()), Scheme: "http"})
	for _, id := range []string{docID, docID + ":users:bob"} {
		outcome, err := verifier.Verify(context.Background(), core.IdentityLink{
			IdentityID: "did_1",
			Handle:     id,
			Metadata:   map[string]any{"site_url": "https://site.example"},
		})
		if err != nil {
			t.Fatalf("verify %q: %v", id, err)
		}
		if !outcome.Success {
			t.Fatalf("verify %q: expected success, got %+v", id, outcome)
		}
	}

	outcome, err := verifier.Verify(context.Background(), core.IdentityLink{
		IdentityID: "did_2",
		Handle:     docID + ":users:carol",
		Metadata:   map[string]any{"site_url": "https://site.example"},
	})
	if err != nil {
		t.Fatalf("verify missing document: %v", err)
	}
	if outcome.Success || outcome.StatusCode != http.StatusNotFound {
		t.Fatalf("expected not found failure, got %+v", outcome)
	}
}

func TestVerifier_IDMismatchFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"did:web:attacker.example","alsoKnownAs":["https://site.example"]}`))
	}))
	defer server.Close()

	verifier := New(Config{Transport: transport.NewRESTAdapter(server.Client()), Scheme: "http"})
	outcome, err := verifier.Verify(context.Background(), core.IdentityLink{
		Handle:   "did:web:" + strings.ReplaceAll(strings.TrimPrefix(server.URL, "http://"), ":", "%3A"),
		Metadata: map[string]any{"site_url": "https://site.example"},
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if outcome.Success || outcome.Reason != "did: document id mismatch" {
		t.Fatalf("expected id mismatch failure, got %+v", outcome)
	}
}
