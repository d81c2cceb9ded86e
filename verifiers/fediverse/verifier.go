// Package fediverse verifies fediverse accounts by resolving the account
// profile page through WebFinger and looking for a rel="me" link back to the
// site.
package fediverse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-reverify/core"
	"github.com/goliatone/go-reverify/transport"
	"golang.org/x/net/html"
)

const (
	RelProfilePage = "http://webfinger.net/rel/profile-page"
	RelSelf        = "self"

	defaultTimeout  = 10 * time.Second
	maxProfileBytes = 1 << 20 // 1 MiB
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
	return core.IdentityKindFediverse
}

// Verify reads the account from the link handle (acct form or profile URL)
// and the expected back-link from metadata["site_url"].
func (v *Verifier) Verify(ctx context.Context, link core.IdentityLink) (core.VerificationOutcome, error) {
	outcome := core.VerificationOutcome{IdentityID: link.IdentityID, Metadata: map[string]any{}}
	siteURL, _ := link.Metadata["site_url"].(string)
	siteURL = normalizeURL(siteURL)
	if siteURL == "" {
		outcome.Reason = "fediverse: site url is required"
		return outcome, nil
	}

	profileURL, status, err := v.profileURL(ctx, link)
	if err != nil {
		return core.VerificationOutcome{}, err
	}
	if profileURL == "" {
		outcome.StatusCode = status
		outcome.Reason = "fediverse: account not found"
		return outcome, nil
	}
	outcome.Metadata["profile_url"] = profileURL

	res, err := v.get(ctx, profileURL, "text/html")
	if err != nil {
		return core.VerificationOutcome{}, err
	}
	outcome.StatusCode = res.StatusCode
	if missing(res.StatusCode) {
		outcome.Reason = "fediverse: profile not found"
		return outcome, nil
	}
	if err := transport.StatusError(res, profileURL); err != nil {
		return core.VerificationOutcome{}, err
	}

	for _, href := range RelMeLinks(res.Body) {
		if normalizeURL(resolveRef(profileURL, href)) == siteURL {
			outcome.Success = true
			return outcome, nil
		}
	}
	outcome.Reason = "fediverse: no rel=me link to site"
	return outcome, nil
}

func (v *Verifier) profileURL(ctx context.Context, link core.IdentityLink) (string, int, error) {
	if explicit, ok := link.Metadata["profile_url"].(string); ok && strings.TrimSpace(explicit) != "" {
		return strings.TrimSpace(explicit), 0, nil
	}
	handle := strings.TrimSpace(link.Handle)
	if strings.Contains(handle, "://") {
		return handle, 0, nil
	}
	user, host, ok := splitAccount(handle)
	if !ok {
		return "", 0, nil
	}

	endpoint := v.scheme + "://" + host + "/.well-known/webfinger?resource=" + url.QueryEscape("acct:"+user+"@"+host)
	res, err := v.get(ctx, endpoint, "application/jrd+json")
	if err != nil {
		return "", 0, err
	}
	if missing(res.StatusCode) {
		return "", res.StatusCode, nil
	}
	if err := transport.StatusError(res, endpoint); err != nil {
		return "", res.StatusCode, err
	}

	var doc webfingerDocument
	if err := json.Unmarshal(res.Body, &doc); err != nil {
		return "", res.StatusCode, fmt.Errorf("fediverse: decode webfinger response for %q: %w", handle, err)
	}
	return doc.profilePage(), res.StatusCode, nil
}

func (v *Verifier) get(ctx context.Context, target string, accept string) (core.TransportResponse, error) {
	return v.transport.Do(ctx, core.TransportRequest{
		Method:               http.MethodGet,
		URL:                  target,
		Headers:              map[string]string{"Accept": accept},
		Timeout:              v.timeout,
		MaxResponseBodyBytes: maxProfileBytes,
	})
}

type webfingerDocument struct {
	Subject string          `json:"subject"`
	Links   []webfingerLink `json:"links"`
}

type webfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type"`
	Href string `json:"href"`
}

func (d webfingerDocument) profilePage() string {
	fallback := ""
	for _, l := range d.Links {
		href := strings.TrimSpace(l.Href)
		if href == "" {
			continue
		}
		switch {
		case l.Rel == RelProfilePage:
			return href
		case l.Rel == RelSelf && fallback == "" && !strings.Contains(l.Type, "json"):
			fallback = href
		}
	}
	return fallback
}

// RelMeLinks returns the href of every <a> and <link> element whose rel
// attribute contains "me".
func RelMeLinks(body []byte) []string {
	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	links := []string{}
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return links
		case html.StartTagToken, html.SelfClosingTagToken:
			token := tokenizer.Token()
			if token.Data != "a" && token.Data != "link" {
				continue
			}
			var rel, href string
			for _, attr := range token.Attr {
				switch strings.ToLower(attr.Key) {
				case "rel":
					rel = attr.Val
				case "href":
					href = attr.Val
				}
			}
			if href != "" && hasRelMe(rel) {
				links = append(links, strings.TrimSpace(href))
			}
		}
	}
}

func hasRelMe(rel string) bool {
	for _, value := range strings.Fields(strings.ToLower(rel)) {
		if value == "me" {
			return true
		}
	}
	return false
}

func splitAccount(handle string) (string, string, bool) {
	handle = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(handle), "acct:"), "@")
	user, host, ok := strings.Cut(handle, "@")
	user = strings.TrimSpace(user)
	host = strings.ToLower(strings.TrimSpace(host))
	if !ok || user == "" || host == "" {
		return "", "", false
	}
	return user, host, true
}

func resolveRef(base string, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

func normalizeURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return ""
	}
	path := strings.TrimSuffix(parsed.EscapedPath(), "/")
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host) + path
}

func missing(status int) bool {
	return status == http.StatusNotFound || status == http.StatusGone
}

var _ core.Verifier = (*Verifier)(nil)
