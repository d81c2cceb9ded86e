package sqlstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-reverify/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SiteDirectory pages active sites of a tier ordered by id, so consecutive
// offsets stay stable while no sites are added or removed.
type SiteDirectory struct {
	db   *bun.DB
	repo repository.Repository[*siteRecord]
}

func NewSiteDirectory(db *bun.DB) (*SiteDirectory, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo, err := newRepository(db, siteHandlers(), "site")
	if err != nil {
		return nil, err
	}
	return &SiteDirectory{db: db, repo: repo}, nil
}

func (d *SiteDirectory) ListSiteIDs(ctx context.Context, tier core.Tier, limit int, offset int) ([]string, error) {
	if d == nil || d.repo == nil {
		return nil, fmt.Errorf("sqlstore: site directory is not configured")
	}
	if err := tier.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("sqlstore: site page limit must be positive")
	}
	if offset < 0 {
		offset = 0
	}
	records, _, err := d.repo.List(ctx,
		repository.SelectBy("tier", "=", string(tier)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.deleted_at IS NULL")
		}),
		repository.OrderBy("id ASC"),
		repository.SelectPaginate(limit, offset),
	)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ID)
	}
	return ids, nil
}

type Site struct {
	ID   string
	Tier core.Tier
	URL  string
}

// UpsertSite registers a site or moves it to another tier.
func (d *SiteDirectory) UpsertSite(ctx context.Context, site Site) error {
	if d == nil || d.db == nil {
		return fmt.Errorf("sqlstore: site directory is not configured")
	}
	site.ID = strings.TrimSpace(site.ID)
	if site.ID == "" {
		return fmt.Errorf("sqlstore: site id is required")
	}
	if err := site.Tier.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	record := &siteRecord{
		ID:        site.ID,
		Tier:      string(site.Tier),
		URL:       strings.TrimSpace(site.URL),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := d.db.NewInsert().
		Model(record).
		On("CONFLICT (id) DO UPDATE").
		Set("tier = EXCLUDED.tier").
		Set("url = EXCLUDED.url").
		Set("updated_at = EXCLUDED.updated_at").
		Set("deleted_at = NULL").
		Exec(ctx)
	return err
}

// IdentityDirectory serves identity links and doubles as the outcome
// recorder: every outcome is appended to the ledger and folded into the
// link's last-check columns.
type IdentityDirectory struct {
	db       *bun.DB
	links    repository.Repository[*identityLinkRecord]
	outcomes repository.Repository[*verificationOutcomeRecord]
}

func NewIdentityDirectory(db *bun.DB) (*IdentityDirectory, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	links, err := newRepository(db, identityLinkHandlers(), "identity link")
	if err != nil {
		return nil, err
	}
	outcomes, err := newRepository(db, verificationOutcomeHandlers(), "verification outcome")
	if err != nil {
		return nil, err
	}
	return &IdentityDirectory{db: db, links: links, outcomes: outcomes}, nil
}

func (d *IdentityDirectory) GetIdentityLinks(ctx context.Context, siteID string) (map[core.IdentityKind][]core.IdentityLink, error) {
	if d == nil || d.links == nil {
		return nil, fmt.Errorf("sqlstore: identity directory is not configured")
	}
	siteID = strings.TrimSpace(siteID)
	if siteID == "" {
		return nil, fmt.Errorf("sqlstore: site id is required")
	}
	records, _, err := d.links.List(ctx,
		repository.SelectBy("site_id", "=", siteID),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.deleted_at IS NULL")
		}),
		repository.OrderBy("kind ASC"),
		repository.OrderBy("id ASC"),
	)
	if err != nil {
		return nil, err
	}
	grouped := map[core.IdentityKind][]core.IdentityLink{}
	for _, record := range records {
		link := record.toDomain()
		grouped[link.Kind] = append(grouped[link.Kind], link)
	}
	return grouped, nil
}

// SaveLink creates or replaces an identity link.
func (d *IdentityDirectory) SaveLink(ctx context.Context, link core.IdentityLink) error {
	if d == nil || d.db == nil {
		return fmt.Errorf("sqlstore: identity directory is not configured")
	}
	link.IdentityID = strings.TrimSpace(link.IdentityID)
	link.SiteID = strings.TrimSpace(link.SiteID)
	if link.IdentityID == "" || link.SiteID == "" {
		return fmt.Errorf("sqlstore: identity id and site id are required")
	}
	if err := link.Kind.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	record := &identityLinkRecord{
		ID:        link.IdentityID,
		SiteID:    link.SiteID,
		Kind:      string(link.Kind),
		Handle:    strings.TrimSpace(link.Handle),
		Metadata:  copyAnyMap(link.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := d.db.NewInsert().
		Model(record).
		On("CONFLICT (id) DO UPDATE").
		Set("site_id = EXCLUDED.site_id").
		Set("kind = EXCLUDED.kind").
		Set("handle = EXCLUDED.handle").
		Set("metadata = EXCLUDED.metadata").
		Set("updated_at = EXCLUDED.updated_at").
		Set("deleted_at = NULL").
		Exec(ctx)
	return err
}

func (d *IdentityDirectory) RecordOutcome(ctx context.Context, link core.IdentityLink, outcome core.VerificationOutcome, checkedAt time.Time) error {
	if d == nil || d.db == nil {
		return fmt.Errorf("sqlstore: identity directory is not configured")
	}
	identityID := strings.TrimSpace(outcome.IdentityID)
	if identityID == "" {
		identityID = strings.TrimSpace(link.IdentityID)
	}
	if identityID == "" {
		return fmt.Errorf("sqlstore: identity id is required")
	}
	if checkedAt.IsZero() {
		checkedAt = time.Now().UTC()
	}
	checkedAt = checkedAt.UTC()

	entry := &verificationOutcomeRecord{
		ID:         uuid.NewString(),
		IdentityID: identityID,
		SiteID:     strings.TrimSpace(link.SiteID),
		Kind:       string(link.Kind),
		Success:    outcome.Success,
		Reason:     strings.TrimSpace(outcome.Reason),
		StatusCode: outcome.StatusCode,
		Metadata:   copyAnyMap(outcome.Metadata),
		CheckedAt:  checkedAt,
		CreatedAt:  checkedAt,
	}
	success := outcome.Success

	return d.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(entry).Exec(ctx); err != nil {
			return err
		}
		update := tx.NewUpdate().
			Model((*identityLinkRecord)(nil)).
			Set("last_checked_at = ?", checkedAt).
			Set("last_success = ?", success).
			Set("last_reason = ?", entry.Reason).
			Set("updated_at = ?", checkedAt).
			Where("id = ?", identityID)
		if success {
			update = update.Set("consecutive_failures = 0")
		} else {
			update = update.Set("consecutive_failures = consecutive_failures + 1")
		}
		_, err := update.Exec(ctx)
		return err
	})
}

// LinkStatus is the folded result of past verifications for one link.
type LinkStatus struct {
	Link                core.IdentityLink
	LastCheckedAt       *time.Time
	LastSuccess         *bool
	LastReason          string
	ConsecutiveFailures int
}

func (d *IdentityDirectory) LinkStatus(ctx context.Context, identityID string) (LinkStatus, error) {
	if d == nil || d.links == nil {
		return LinkStatus{}, fmt.Errorf("sqlstore: identity directory is not configured")
	}
	record, err := d.links.GetByID(ctx, strings.TrimSpace(identityID))
	if err != nil {
		return LinkStatus{}, err
	}
	status := LinkStatus{
		Link:                record.toDomain(),
		LastCheckedAt:       utcPointer(record.LastCheckedAt),
		LastReason:          record.LastReason,
		ConsecutiveFailures: record.ConsecutiveFailures,
	}
	if record.LastSuccess != nil {
		value := *record.LastSuccess
		status.LastSuccess = &value
	}
	return status, nil
}

// Outcomes lists the ledger entries of one identity, newest first.
func (d *IdentityDirectory) Outcomes(ctx context.Context, identityID string, limit int) ([]core.VerificationOutcome, error) {
	if d == nil || d.outcomes == nil {
		return nil, fmt.Errorf("sqlstore: identity directory is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.SelectBy("identity_id", "=", strings.TrimSpace(identityID)),
		repository.OrderBy("checked_at DESC"),
	}
	if limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(limit, 0))
	}
	records, _, err := d.outcomes.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.VerificationOutcome, 0, len(records))
	for _, record := range records {
		out = append(out, core.VerificationOutcome{
			IdentityID: record.IdentityID,
			Success:    record.Success,
			Reason:     record.Reason,
			StatusCode: record.StatusCode,
			Metadata:   copyAnyMap(record.Metadata),
		})
	}
	return out, nil
}

func (r *identityLinkRecord) toDomain() core.IdentityLink {
	if r == nil {
		return core.IdentityLink{}
	}
	return core.IdentityLink{
		Kind:       core.IdentityKind(r.Kind),
		IdentityID: r.ID,
		SiteID:     r.SiteID,
		Handle:     r.Handle,
		Metadata:   copyAnyMap(r.Metadata),
	}
}

func readInt(value any) int {
	switch typed := value.(type) {
	case int:
		return typed
	case int64:
		return int(typed)
	case float64:
		return int(typed)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(typed))
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
