package core

import (
	"context"
	"time"

	"github.com/goliatone/go-logger/glog"
)

// SiteDirectory pages site ids of a tier. Successive calls with increasing
// offsets must be safe; no snapshot isolation is assumed.
type SiteDirectory interface {
	ListSiteIDs(ctx context.Context, tier Tier, limit int, offset int) ([]string, error)
}

type IdentityDirectory interface {
	GetIdentityLinks(ctx context.Context, siteID string) (map[IdentityKind][]IdentityLink, error)
}

// Verifier checks one identity link against its external source of truth.
// A returned outcome with Success=false is a deterministic result; a returned
// error is treated as transient and may be retried.
type Verifier interface {
	Kind() IdentityKind
	Verify(ctx context.Context, link IdentityLink) (VerificationOutcome, error)
}

type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, link IdentityLink, outcome VerificationOutcome, checkedAt time.Time) error
}

type RunStore interface {
	Create(ctx context.Context, record RunRecord) (RunRecord, error)
	Get(ctx context.Context, id string) (RunRecord, error)
	// Update never rewrites a finished run; it returns the stored record
	// untouched instead.
	Update(ctx context.Context, record RunRecord) (RunRecord, error)
	// Finish writes a terminal status only when the stored run is not terminal
	// yet. It reports whether the write won.
	Finish(ctx context.Context, record RunRecord) (RunRecord, bool, error)
	List(ctx context.Context, filter RunFilter) ([]RunRecord, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type TransportRequest struct {
	Method      string
	URL         string
	Headers     map[string]string
	Query       map[string]string
	Body        []byte
	Metadata    map[string]any
	Timeout     time.Duration
	Idempotency string

	MaxResponseBodyBytes int64
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

type RateLimitKey struct {
	ProviderID string
	ScopeType  string
	ScopeID    string
	BucketKey  string
}

type ProviderResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
	Metadata   map[string]any
}

type RateLimitPolicy interface {
	BeforeCall(ctx context.Context, key RateLimitKey) error
	AfterCall(ctx context.Context, key RateLimitKey, res ProviderResponseMeta) error
}

type CommandDispatcher interface {
	Dispatch(ctx context.Context, msg any) error
}
