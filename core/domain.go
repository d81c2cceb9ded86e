package core

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	ErrInvalidTier                 = errors.New("core: invalid tier")
	ErrInvalidIdentityKind         = errors.New("core: invalid identity kind")
	ErrInvalidRunStatusTransition  = errors.New("core: invalid run status transition")
	ErrRunNotFound                 = errors.New("core: run not found")
	ErrVerifierNotFound            = errors.New("core: verifier not found")
	ErrRunTimedOut                 = errors.New("core: run timed out")
	ErrRunFailed                   = errors.New("core: run failed")
	ErrTierRunAlreadyActive        = errors.New("core: tier run already active")
	ErrSiteDirectoryNotConfigured  = errors.New("core: site directory is not configured")
	ErrIdentityDirectoryNotDefined = errors.New("core: identity directory is not configured")
)

type Tier string

const (
	TierStandard     Tier = "standard"
	TierPlus         Tier = "plus"
	TierProfessional Tier = "professional"
)

// KnownTiers returns the tiers in cadence order, most frequent last.
func KnownTiers() []Tier {
	return []Tier{TierStandard, TierPlus, TierProfessional}
}

func ParseTier(value string) (Tier, error) {
	tier := Tier(strings.TrimSpace(strings.ToLower(value)))
	if err := tier.Validate(); err != nil {
		return "", err
	}
	return tier, nil
}

func (t Tier) Validate() error {
	if !slices.Contains(KnownTiers(), t) {
		return fmt.Errorf("%w: %q", ErrInvalidTier, string(t))
	}
	return nil
}

func (t Tier) String() string {
	return string(t)
}

type IdentityKind string

const (
	IdentityKindSocialOAuth2    IdentityKind = "social-oauth2"
	IdentityKindFediverse       IdentityKind = "fediverse"
	IdentityKindDecentralizedID IdentityKind = "decentralized-id"
	IdentityKindWebDomain       IdentityKind = "web-domain"
)

// KnownIdentityKinds is also the order in which a site's links are dispatched.
func KnownIdentityKinds() []IdentityKind {
	return []IdentityKind{
		IdentityKindSocialOAuth2,
		IdentityKindFediverse,
		IdentityKindDecentralizedID,
		IdentityKindWebDomain,
	}
}

func ParseIdentityKind(value string) (IdentityKind, error) {
	kind := IdentityKind(strings.TrimSpace(strings.ToLower(value)))
	if err := kind.Validate(); err != nil {
		return "", err
	}
	return kind, nil
}

func (k IdentityKind) Validate() error {
	if !slices.Contains(KnownIdentityKinds(), k) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentityKind, string(k))
	}
	return nil
}

// IdentityLink is a claim that a site is bound to an external account or domain.
// Handle carries what the verifier checks (domain, acct, did, subject).
type IdentityLink struct {
	Kind       IdentityKind
	IdentityID string
	SiteID     string
	Handle     string
	Metadata   map[string]any
}

type VerificationOutcome struct {
	IdentityID string
	Success    bool
	Reason     string
	StatusCode int
	Metadata   map[string]any
}

type Page struct {
	Index   int
	Offset  int
	SiteIDs []string
}

// AggregateResult is reduced at every run level. At site granularity
// SuccessCount and FailureCount count identity links and the identity fields
// stay zero; at page and tier granularity SuccessCount and FailureCount count
// sites.
type AggregateResult struct {
	SuccessCount            int `json:"success_count"`
	FailureCount            int `json:"failure_count"`
	SuccessfulIdentityCount int `json:"successful_identity_count"`
	FailedIdentityCount     int `json:"failed_identity_count"`
}

func (r AggregateResult) Add(other AggregateResult) AggregateResult {
	return AggregateResult{
		SuccessCount:            r.SuccessCount + other.SuccessCount,
		FailureCount:            r.FailureCount + other.FailureCount,
		SuccessfulIdentityCount: r.SuccessfulIdentityCount + other.SuccessfulIdentityCount,
		FailedIdentityCount:     r.FailedIdentityCount + other.FailedIdentityCount,
	}
}

func (r AggregateResult) IsZero() bool {
	return r == AggregateResult{}
}

func (r AggregateResult) Map() map[string]any {
	return map[string]any{
		"success_count":             r.SuccessCount,
		"failure_count":             r.FailureCount,
		"successful_identity_count": r.SuccessfulIdentityCount,
		"failed_identity_count":     r.FailedIdentityCount,
	}
}

type RunLevel string

const (
	RunLevelTier RunLevel = "tier"
	RunLevelPage RunLevel = "page"
	RunLevelSite RunLevel = "site"
)

type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusTimedOut  RunStatus = "timed_out"
)

func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusTimedOut:
		return true
	default:
		return false
	}
}

// RunRecord is one node of the Tier Run -> Page Run -> Site Run job tree.
type RunRecord struct {
	ID         string
	ParentID   string
	Level      RunLevel
	JobID      string
	Tier       Tier
	Status     RunStatus
	Input      map[string]any
	Checkpoint map[string]any
	Result     AggregateResult
	Error      string
	Attempts   int
	Deadline   *time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r *RunRecord) TransitionTo(status RunStatus, now time.Time) error {
	if r == nil {
		return nil
	}
	if r.Status == status {
		r.UpdatedAt = now
		return nil
	}
	if !runTransitionAllowed(r.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidRunStatusTransition, r.Status, status)
	}
	r.Status = status
	r.UpdatedAt = now
	switch {
	case status == RunStatusRunning && r.StartedAt == nil:
		startedAt := now
		r.StartedAt = &startedAt
	case status.Terminal():
		finishedAt := now
		r.FinishedAt = &finishedAt
	}
	return nil
}

// Expired reports whether the run carries a deadline that has passed.
func (r RunRecord) Expired(now time.Time) bool {
	return r.Deadline != nil && !now.Before(*r.Deadline)
}

func runTransitionAllowed(current, next RunStatus) bool {
	allowed := map[RunStatus][]RunStatus{
		"":               {RunStatusQueued, RunStatusRunning},
		RunStatusQueued:  {RunStatusRunning, RunStatusFailed, RunStatusTimedOut},
		RunStatusRunning: {RunStatusQueued, RunStatusSucceeded, RunStatusFailed, RunStatusTimedOut},
	}
	return slices.Contains(allowed[current], next)
}

type RunFilter struct {
	Level    RunLevel
	Tier     Tier
	ParentID string
	Statuses []RunStatus
	Limit    int
}

// TriggerTierRunRequest asks for an out-of-schedule tier run. Key makes the
// run id idempotent; an empty key uses the current second.
type TriggerTierRunRequest struct {
	Tier Tier
	Key  string
}

type TierRunStarted struct {
	RunID   string
	Tier    Tier
	Created bool
}
