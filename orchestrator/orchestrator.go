package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-reverify/core"
	"github.com/goliatone/go-reverify/workflow"
)

const (
	defaultPageSize    = 100
	defaultSiteTimeout = 10 * time.Minute
)

type Config struct {
	Sites       core.SiteDirectory
	Identities  core.IdentityDirectory
	Verifiers   *core.VerifierRegistry
	PageSize    int
	SiteTimeout time.Duration
}

type Orchestrator struct {
	engine      *workflow.Engine
	sites       core.SiteDirectory
	identities  core.IdentityDirectory
	verifiers   *core.VerifierRegistry
	pageSize    int
	siteTimeout time.Duration
}

func New(engine *workflow.Engine, cfg Config) (*Orchestrator, error) {
	if engine == nil {
		return nil, fmt.Errorf("orchestrator: workflow engine is required")
	}
	if cfg.Sites == nil {
		return nil, core.ErrSiteDirectoryNotConfigured
	}
	if cfg.Identities == nil {
		return nil, core.ErrIdentityDirectoryNotDefined
	}
	if cfg.Verifiers == nil {
		return nil, fmt.Errorf("orchestrator: verifier registry is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.SiteTimeout <= 0 {
		cfg.SiteTimeout = defaultSiteTimeout
	}
	return &Orchestrator{
		engine:      engine,
		sites:       cfg.Sites,
		identities:  cfg.Identities,
		verifiers:   cfg.Verifiers,
		pageSize:    cfg.PageSize,
		siteTimeout: cfg.SiteTimeout,
	}, nil
}

// Register binds the tier, page and site handlers to the engine.
func (o *Orchestrator) Register() error {
	if o == nil || o.engine == nil {
		return fmt.Errorf("orchestrator: not configured")
	}
	handlers := []struct {
		jobID   string
		handler workflow.Handler
	}{
		{JobTierRun, o.TierRun},
		{JobPageRun, o.PageRun},
		{JobSiteRun, o.SiteRun},
	}
	for _, entry := range handlers {
		if err := o.engine.Register(entry.jobID, entry.handler); err != nil {
			return err
		}
	}
	return nil
}

type TierRunRequest struct {
	RunID              string
	Tier               core.Tier
	PageSize           int
	TotalWindowSeconds int64
	Source             string
}

type tierRunInput struct {
	Tier               core.Tier `json:"tier"`
	PageSize           int       `json:"page_size"`
	TotalWindowSeconds int64     `json:"total_window_seconds"`
	Source             string    `json:"source,omitempty"`
}

type pageRunInput struct {
	Tier      core.Tier `json:"tier"`
	PageIndex int       `json:"page_index"`
	SiteIDs   []string  `json:"site_ids"`
}

type siteRunInput struct {
	Tier   core.Tier `json:"tier"`
	SiteID string    `json:"site_id"`
}

// StartTierRun creates the tier run, or reattaches when the id already exists.
func (o *Orchestrator) StartTierRun(ctx context.Context, req TierRunRequest) (*workflow.Handle, error) {
	if o == nil || o.engine == nil {
		return nil, fmt.Errorf("orchestrator: not configured")
	}
	if err := req.Tier.Validate(); err != nil {
		return nil, err
	}
	req.RunID = strings.TrimSpace(req.RunID)
	if req.RunID == "" {
		return nil, fmt.Errorf("orchestrator: tier run id is required")
	}
	if req.TotalWindowSeconds <= 0 {
		return nil, fmt.Errorf("orchestrator: total window seconds must be positive")
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = o.pageSize
	}
	return o.engine.Start(ctx, workflow.StartRequest{
		RunID: req.RunID,
		Level: core.RunLevelTier,
		JobID: JobTierRun,
		Tier:  req.Tier,
		Input: map[string]any{
			"tier":                 string(req.Tier),
			"page_size":            pageSize,
			"total_window_seconds": req.TotalWindowSeconds,
			"source":               strings.TrimSpace(req.Source),
		},
	})
}
