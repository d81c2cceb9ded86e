// Package did verifies decentralized identifiers of the did:web method.
package did

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-reverify/core"
	"github.com/goliatone/go-reverify/transport"
)

const (
	MethodWeb = "did:web:"

	defaultTimeout   = 10 * time.Second
	maxDocumentBytes = 256 << 10
)

type Config struct {
	Transport core.TransportAdapter
	Scheme    string
	Timeout   time.Duration
}

type Verifier struct {
	transport core.TransportAdapter
	scheme    string
	timeout   time.Duration
}

func New(cfg Config) *Verifier {
	v := &Verifier{
		transport: cfg.Transport,
		scheme:    strings.TrimSpace(cfg.Scheme),
		timeout:   cfg.Timeout,
	}
	if v.transport == nil {
		v.transport = transport.NewRESTAdapter(nil)
	}
	if v.scheme == "" {
		v.scheme = "https"
	}
	if v.timeout <= 0 {
		v.timeout = defaultTimeout
	}
	return v
}

func (*Verifier) Kind() core.IdentityKind {
	return core.IdentityKindDecentralizedID
}

// Document is the subset of a DID document the verifier reads.
type Document struct {
	ID          string    `json:"id"`
	AlsoKnownAs []string  `json:"alsoKnownAs"`
	Service     []Service `json:"service"`
}

type Service struct {
	ID              string          `json:"id"`
	Type            json.RawMessage `json:"type"`
	ServiceEndpoint json.RawMessage `json:"serviceEndpoint"`
}

// Endpoints flattens serviceEndpoint, which may be a string, a list of
// strings or a map of strings.
func (s Service) Endpoints() []string {
	var single string
	if err := json.Unmarshal(s.ServiceEndpoint, &single); err == nil {
		return []string{single}
	}
	var list []string
	if err := json.Unmarshal(s.ServiceEndpoint, &list); err == nil {
		return list
	}
	var keyed map[string]string
	if err := json.Unmarshal(s.ServiceEndpoint, &keyed); err == nil {
		values := make([]string, 0, len(keyed))
		for _, value := range keyed {
			values = append(values, value)
		}
		return values
	}
	return nil
}

// Verify resolves the DID held in the link handle and succeeds when the
// document lists metadata["site_url"] in alsoKnownAs or as a service
// endpoint.
func (v *Verifier) Verify(ctx context.Context, link core.IdentityLink) (core.VerificationOutcome, error) {
	outcome := core.VerificationOutcome{IdentityID: link.IdentityID, Metadata: map[string]any{}}
	siteURL, _ := link.Metadata["site_url"].(string)
	siteURL = normalizeURL(siteURL)
	id := strings.TrimSpace(link.Handle)

	documentURL, err := DocumentURL(id, v.scheme)
	if err != nil || siteURL == "" {
		outcome.Reason = "did: a did:web identifier and site url are required"
		return outcome, nil
	}
	outcome.Metadata["document_url"] = documentURL

	res, err := v.transport.Do(ctx, core.TransportRequest{
		Method:               http.MethodGet,
		URL:                  documentURL,
		Headers:              map[string]string{"Accept": "application/did+json, application/json"},
		Timeout:              v.timeout,
		MaxResponseBodyBytes: maxDocumentBytes,
	})
	if err != nil {
		return core.VerificationOutcome{}, err
	}
	outcome.StatusCode = res.StatusCode
	if res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone {
		outcome.Reason = "did: document not found"
		return outcome, nil
	}
	if err := transport.StatusError(res, documentURL); err != nil {
		return core.VerificationOutcome{}, err
	}

	var doc Document
	if err := json.Unmarshal(res.Body, &doc); err != nil {
		outcome.Reason = "did: malformed document"
		return outcome, nil
	}
	if !strings.EqualFold(strings.TrimSpace(doc.ID), id) {
		outcome.Reason = "did: document id mismatch"
		return outcome, nil
	}
	if doc.References(siteURL) {
		outcome.Success = true
		return outcome, nil
	}
	outcome.Reason = "did: site not referenced"
	return outcome, nil
}

func (d Document) References(siteURL string) bool {
	target := normalizeURL(siteURL)
	if target == "" {
		return false
	}
	for _, aka := range d.AlsoKnownAs {
		if normalizeURL(aka) == target {
			return true
		}
	}
	for _, service := range d.Service {
		for _, endpoint := range service.Endpoints() {
			if normalizeURL(endpoint) == target {
				return true
			}
		}
	}
	return false
}

// DocumentURL maps a did:web identifier to the URL of its document:
// did:web:example.com resolves to /.well-known/did.json and colon separated
// path segments resolve to <path>/did.json.
func DocumentURL(id string, scheme string) (string, error) {
	id = strings.TrimSpace(id)
	if !strings.HasPrefix(strings.ToLower(id), MethodWeb) {
		return "", fmt.Errorf("did: unsupported method in %q", id)
	}
	segments := strings.Split(id[len(MethodWeb):], ":")
	host, err := url.PathUnescape(segments[0])
	if err != nil || strings.TrimSpace(host) == "" {
		return "", fmt.Errorf("did: invalid host in %q", id)
	}
	if strings.TrimSpace(scheme) == "" {
		scheme = "https"
	}
	if len(segments) == 1 {
		return scheme + "://" + strings.ToLower(host) + "/.well-known/did.json", nil
	}
	path := make([]string, 0, len(segments)-1)
	for _, segment := range segments[1:] {
		if segment == "" {
			return "", fmt.Errorf("did: empty path segment in %q", id)
		}
		unescaped, err := url.PathUnescape(segment)
		if err != nil {
			return "", fmt.Errorf("did: invalid path segment in %q", id)
		}
		path = append(path, url.PathEscape(unescaped))
	}
	return scheme + "://" + strings.ToLower(host) + "/" + strings.Join(path, "/") + "/did.json", nil
}

func normalizeURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return ""
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host) + strings.TrimSuffix(parsed.EscapedPath(), "/")
}

var _ core.Verifier = (*Verifier)(nil)
