package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type runRecord struct {
	bun.BaseModel `bun:"table:reverify_runs,alias:rr"`

	ID         string         `bun:"id,pk"`
	ParentID   string         `bun:"parent_id,notnull"`
	Level      string         `bun:"level,notnull"`
	JobID      string         `bun:"job_id,notnull"`
	Tier       string         `bun:"tier,notnull"`
	Status     string         `bun:"status,notnull"`
	Input      map[string]any `bun:"input,type:jsonb,notnull"`
	Checkpoint map[string]any `bun:"checkpoint,type:jsonb,notnull"`
	Result     map[string]any `bun:"result,type:jsonb,notnull"`
	Error      string         `bun:"error,notnull"`
	Attempts   int            `bun:"attempts,notnull"`
	Deadline   *time.Time     `bun:"deadline,nullzero"`
	StartedAt  *time.Time     `bun:"started_at,nullzero"`
	FinishedAt *time.Time     `bun:"finished_at,nullzero"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type siteRecord struct {
	bun.BaseModel `bun:"table:reverify_sites,alias:rs"`

	ID        string     `bun:"id,pk"`
	Tier      string     `bun:"tier,notnull"`
	URL       string     `bun:"url,notnull"`
	CreatedAt time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt *time.Time `bun:"deleted_at,soft_delete"`
}

type identityLinkRecord struct {
	bun.BaseModel `bun:"table:reverify_identity_links,alias:ril"`

	ID                  string         `bun:"id,pk"`
	SiteID              string         `bun:"site_id,notnull"`
	Kind                string         `bun:"kind,notnull"`
	Handle              string         `bun:"handle,notnull"`
	Metadata            map[string]any `bun:"metadata,type:jsonb,notnull"`
	LastCheckedAt       *time.Time     `bun:"last_checked_at,nullzero"`
	LastSuccess         *bool          `bun:"last_success"`
	LastReason          string         `bun:"last_reason,notnull"`
	ConsecutiveFailures int            `bun:"consecutive_failures,notnull"`
	CreatedAt           time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt           time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt           *time.Time     `bun:"deleted_at,soft_delete"`
}

type verificationOutcomeRecord struct {
	bun.BaseModel `bun:"table:reverify_verification_outcomes,alias:rvo"`

	ID         string         `bun:"id,pk"`
	IdentityID string         `bun:"identity_id,notnull"`
	SiteID     string         `bun:"site_id,notnull"`
	Kind       string         `bun:"kind,notnull"`
	Success    bool           `bun:"success,notnull"`
	Reason     string         `bun:"reason,notnull"`
	StatusCode int            `bun:"status_code,notnull"`
	Metadata   map[string]any `bun:"metadata,type:jsonb,notnull"`
	CheckedAt  time.Time      `bun:"checked_at,notnull"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:reverify_rate_limit_state,alias:rls"`

	ID         string         `bun:"id,pk"`
	ProviderID string         `bun:"provider_id,notnull"`
	ScopeType  string         `bun:"scope_type,notnull"`
	ScopeID    string         `bun:"scope_id,notnull"`
	BucketKey  string         `bun:"bucket_key,notnull"`
	Limit      int            `bun:"limit_value,notnull"`
	Remaining  int            `bun:"remaining,notnull"`
	ResetAt    *time.Time     `bun:"reset_at,nullzero"`
	RetryAfter *int           `bun:"retry_after_seconds"`
	Metadata   map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
