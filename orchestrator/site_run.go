package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/goliatone/go-reverify/core"
	"github.com/goliatone/go-reverify/workflow"
)

type verification struct {
	outcome core.VerificationOutcome
	err     error
}

// SiteRun verifies every identity link of one site. All verifications start
// together and are resolved in dispatch order. A verification that still
// errors after retries is skipped; only returned outcomes are counted.
func (o *Orchestrator) SiteRun(ctx context.Context, exec *workflow.Execution) (core.AggregateResult, error) {
	var input siteRunInput
	if err := exec.DecodeInput(&input); err != nil {
		return core.AggregateResult{}, fmt.Errorf("orchestrator: decode site run input: %w", err)
	}
	input.SiteID = strings.TrimSpace(input.SiteID)
	if input.SiteID == "" {
		return core.AggregateResult{}, fmt.Errorf("orchestrator: site id is required")
	}

	grouped, err := o.identities.GetIdentityLinks(ctx, input.SiteID)
	if err != nil {
		return core.AggregateResult{}, fmt.Errorf("orchestrator: load identity links for site %q: %w", input.SiteID, err)
	}
	links := FlattenLinks(grouped)
	for i := range links {
		if links[i].SiteID == "" {
			links[i].SiteID = input.SiteID
		}
	}

	tasks := make([]chan verification, len(links))
	for i, link := range links {
		tasks[i] = make(chan verification, 1)
		go func(link core.IdentityLink, done chan<- verification) {
			var resolved verification
			defer func() {
				if recovered := recover(); recovered != nil {
					resolved = verification{err: fmt.Errorf("orchestrator: verify %q panicked: %v", link.IdentityID, recovered)}
				}
				done <- resolved
			}()
			resolved.outcome, resolved.err = o.verify(ctx, exec, link)
		}(link, tasks[i])
	}

	observer := exec.Observer()
	result := core.AggregateResult{}
	for i, task := range tasks {
		resolved := <-task
		link := links[i]
		if resolved.err != nil {
			fields := exec.Fields()
			fields["site_id"] = input.SiteID
			fields["identity_id"] = link.IdentityID
			fields["identity_kind"] = link.Kind
			fields["error"] = resolved.err.Error()
			observer.Warn(ctx, "identity verification skipped", fields)
			continue
		}
		if resolved.outcome.Success {
			result.SuccessCount++
		} else {
			result.FailureCount++
		}
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (o *Orchestrator) verify(ctx context.Context, exec *workflow.Execution, link core.IdentityLink) (core.VerificationOutcome, error) {
	verifier, err := o.verifiers.Resolve(link.Kind)
	if err != nil {
		return core.VerificationOutcome{}, err
	}
	outcome, err := workflow.Call(ctx, exec, "verify."+string(link.Kind), func(ctx context.Context, _ int) (core.VerificationOutcome, error) {
		return verifier.Verify(ctx, link)
	})
	if err != nil {
		return core.VerificationOutcome{}, err
	}
	if outcome.IdentityID == "" {
		outcome.IdentityID = link.IdentityID
	}
	return outcome, nil
}

// FlattenLinks orders links by kind (known kinds first, in dispatch order),
// keeping the directory's order within a kind.
func FlattenLinks(grouped map[core.IdentityKind][]core.IdentityLink) []core.IdentityLink {
	kinds := make([]core.IdentityKind, 0, len(grouped))
	seen := map[core.IdentityKind]bool{}
	for _, kind := range core.KnownIdentityKinds() {
		if _, ok := grouped[kind]; ok {
			kinds = append(kinds, kind)
			seen[kind] = true
		}
	}
	extra := make([]core.IdentityKind, 0)
	for kind := range grouped {
		if !seen[kind] {
			extra = append(extra, kind)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	kinds = append(kinds, extra...)

	links := []core.IdentityLink{}
	for _, kind := range kinds {
		for _, link := range grouped[kind] {
			if link.Kind == "" {
				link.Kind = kind
			}
			links = append(links, link)
		}
	}
	return links
}
