// Package webdomain verifies ownership of a web domain through a DNS TXT
// record, falling back to a well-known file served over HTTPS.
package webdomain

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-reverify/core"
	"github.com/goliatone/go-reverify/transport"
)

const (
	DefaultRecordPrefix  = "_reverify"
	DefaultWellKnownPath = "/.well-known/reverify.txt"
	TokenPrefix          = "reverify="

	defaultTimeout = 10 * time.Second
)

// TXTResolver is satisfied by *net.Resolver.
type TXTResolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

type Config struct {
	Resolver      TXTResolver
	Transport     core.TransportAdapter
	RecordPrefix  string
	WellKnownPath string
	Scheme        string
	Timeout       time.Duration
}

type Verifier struct {
	resolver      TXTResolver
	transport     core.TransportAdapter
	recordPrefix  string
	wellKnownPath string
	scheme        string
	timeout       time.Duration
}

func New(cfg Config) *Verifier {
	v := &Verifier{
		resolver:      cfg.Resolver,
		transport:     cfg.Transport,
		recordPrefix:  strings.Trim(strings.TrimSpace(cfg.RecordPrefix), "."),
		wellKnownPath: strings.TrimSpace(cfg.WellKnownPath),
		scheme:        strings.TrimSpace(cfg.Scheme),
		timeout:       cfg.Timeout,
	}
	if v.resolver == nil {
		v.resolver = net.DefaultResolver
	}
	if v.transport == nil {
		v.transport = transport.NewRESTAdapter(nil)
	}
	if v.recordPrefix == "" {
		v.recordPrefix = DefaultRecordPrefix
	}
	if v.wellKnownPath == "" {
		v.wellKnownPath = DefaultWellKnownPath
	}
	if !strings.HasPrefix(v.wellKnownPath, "/") {
		v.wellKnownPath = "/" + v.wellKnownPath
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
	return core.IdentityKindWebDomain
}

// Verify expects the domain in the link handle and the challenge token in
// metadata["token"].
func (v *Verifier) Verify(ctx context.Context, link core.IdentityLink) (core.VerificationOutcome, error) {
	outcome := core.VerificationOutcome{IdentityID: link.IdentityID, Metadata: map[string]any{}}
	domain := normalizeDomain(link.Handle)
	token, _ := link.Metadata["token"].(string)
	token = strings.TrimSpace(token)
	if domain == "" || token == "" {
		outcome.Reason = "webdomain: domain and token are required"
		return outcome, nil
	}
	outcome.Metadata["domain"] = domain

	dnsMatched, dnsErr := v.checkDNS(ctx, domain, token)
	if dnsMatched {
		outcome.Success = true
		outcome.Metadata["method"] = "dns"
		return outcome, nil
	}

	fileMatched, status, fileErr := v.checkWellKnown(ctx, domain, token)
	outcome.StatusCode = status
	if fileMatched {
		outcome.Success = true
		outcome.Metadata["method"] = "well_known"
		return outcome, nil
	}
	if fileErr != nil {
		if dnsErr != nil {
			return core.VerificationOutcome{}, errors.Join(dnsErr, fileErr)
		}
		return core.VerificationOutcome{}, fileErr
	}
	if dnsErr != nil {
		return core.VerificationOutcome{}, dnsErr
	}
	outcome.Reason = "webdomain: token not found"
	return outcome, nil
}

func (v *Verifier) checkDNS(ctx context.Context, domain string, token string) (bool, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	records, err := v.resolver.LookupTXT(lookupCtx, v.recordPrefix+"."+domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return false, nil
		}
		return false, fmt.Errorf("webdomain: lookup txt for %q: %w", domain, err)
	}
	for _, record := range records {
		if matchesToken(record, token) {
			return true, nil
		}
	}
	return false, nil
}

// checkWellKnown treats 404 and 410 as a definite miss. Other non-2xx codes
// are returned as errors so the call is retried.
func (v *Verifier) checkWellKnown(ctx context.Context, domain string, token string) (bool, int, error) {
	target := v.scheme + "://" + domain + v.wellKnownPath
	res, err := v.transport.Do(ctx, core.TransportRequest{
		Method:               http.MethodGet,
		URL:                  target,
		Headers:              map[string]string{"Accept": "text/plain"},
		Timeout:              v.timeout,
		MaxResponseBodyBytes: 64 << 10,
	})
	if err != nil {
		return false, 0, err
	}
	if res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone {
		return false, res.StatusCode, nil
	}
	if err := transport.StatusError(res, target); err != nil {
		return false, res.StatusCode, err
	}
	scanner := bufio.NewScanner(bytes.NewReader(res.Body))
	for scanner.Scan() {
		if matchesToken(scanner.Text(), token) {
			return true, res.StatusCode, nil
		}
	}
	return false, res.StatusCode, nil
}

func matchesToken(value string, token string) bool {
	value = strings.Trim(strings.TrimSpace(value), `"`)
	if value == "" {
		return false
	}
	value = strings.TrimPrefix(value, TokenPrefix)
	return value == token
}

func normalizeDomain(handle string) string {
	domain := strings.ToLower(strings.TrimSpace(handle))
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	if idx := strings.Index(domain, "/"); idx >= 0 {
		domain = domain[:idx]
	}
	return strings.TrimSuffix(domain, ".")
}

var _ core.Verifier = (*Verifier)(nil)
