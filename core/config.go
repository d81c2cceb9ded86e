package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type OverlapPolicy string

const (
	// OverlapAllow starts a new tier run on every tick, even when an earlier
	// run of the same tier is still spreading.
	OverlapAllow OverlapPolicy = "allow"
	OverlapSkip  OverlapPolicy = "skip"
)

type TierScheduleConfig struct {
	Cadence            string `koanf:"cadence" mapstructure:"cadence"`
	TotalWindowSeconds int64  `koanf:"total_window_seconds" mapstructure:"total_window_seconds"`
	PageSize           int    `koanf:"page_size" mapstructure:"page_size"`
}

type SchedulesConfig struct {
	Standard     TierScheduleConfig `koanf:"standard" mapstructure:"standard"`
	Plus         TierScheduleConfig `koanf:"plus" mapstructure:"plus"`
	Professional TierScheduleConfig `koanf:"professional" mapstructure:"professional"`
}

func (c SchedulesConfig) ForTier(tier Tier) (TierScheduleConfig, bool) {
	switch tier {
	case TierStandard:
		return c.Standard, true
	case TierPlus:
		return c.Plus, true
	case TierProfessional:
		return c.Professional, true
	default:
		return TierScheduleConfig{}, false
	}
}

type RetryConfig struct {
	MaxAttempts      int `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int `koanf:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int `koanf:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

func (c RetryConfig) Policy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: c.MaxAttempts,
		Backoff: ExponentialBackoff{
			Initial: time.Duration(c.InitialBackoffMS) * time.Millisecond,
			Max:     time.Duration(c.MaxBackoffMS) * time.Millisecond,
		},
	}
}

type WorkerConfig struct {
	Concurrency    int `koanf:"concurrency" mapstructure:"concurrency"`
	PollIntervalMS int `koanf:"poll_interval_ms" mapstructure:"poll_interval_ms"`
}

type Config struct {
	ServiceName        string          `koanf:"service_name" mapstructure:"service_name"`
	PageSize           int             `koanf:"page_size" mapstructure:"page_size"`
	SiteTimeoutSeconds int             `koanf:"site_timeout_seconds" mapstructure:"site_timeout_seconds"`
	OverlapPolicy      OverlapPolicy   `koanf:"overlap_policy" mapstructure:"overlap_policy"`
	Retry              RetryConfig     `koanf:"retry" mapstructure:"retry"`
	Worker             WorkerConfig    `koanf:"worker" mapstructure:"worker"`
	Schedules          SchedulesConfig `koanf:"schedules" mapstructure:"schedules"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:        "reverify",
		PageSize:           100,
		SiteTimeoutSeconds: 600,
		OverlapPolicy:      OverlapAllow,
		Retry: RetryConfig{
			MaxAttempts:      3,
			InitialBackoffMS: 500,
			MaxBackoffMS:     10_000,
		},
		Worker: WorkerConfig{
			Concurrency:    8,
			PollIntervalMS: 250,
		},
		Schedules: SchedulesConfig{
			Standard:     TierScheduleConfig{Cadence: "@every 36h", TotalWindowSeconds: 1_728_000},
			Plus:         TierScheduleConfig{Cadence: "@every 12h", TotalWindowSeconds: 864_000},
			Professional: TierScheduleConfig{Cadence: "@every 4h", TotalWindowSeconds: 320_000},
		},
	}
}

func (c Config) SiteTimeout() time.Duration {
	return time.Duration(c.SiteTimeoutSeconds) * time.Second
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Worker.PollIntervalMS) * time.Millisecond
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("core: page_size must be positive")
	}
	if c.SiteTimeoutSeconds <= 0 {
		return fmt.Errorf("core: site_timeout_seconds must be positive")
	}
	switch c.OverlapPolicy {
	case OverlapAllow, OverlapSkip:
	default:
		return fmt.Errorf("core: unsupported overlap_policy %q", c.OverlapPolicy)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("core: retry.max_attempts must be positive")
	}
	if c.Retry.InitialBackoffMS < 0 || c.Retry.MaxBackoffMS < 0 {
		return fmt.Errorf("core: retry backoff must not be negative")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("core: worker.concurrency must be positive")
	}
	for _, tier := range KnownTiers() {
		schedule, _ := c.Schedules.ForTier(tier)
		if strings.TrimSpace(schedule.Cadence) == "" {
			return fmt.Errorf("core: schedules.%s.cadence is required", tier)
		}
		if _, err := cron.ParseStandard(schedule.Cadence); err != nil {
			return fmt.Errorf("core: schedules.%s.cadence is invalid: %w", tier, err)
		}
		if schedule.TotalWindowSeconds <= 0 {
			return fmt.Errorf("core: schedules.%s.total_window_seconds must be positive", tier)
		}
		if schedule.PageSize < 0 {
			return fmt.Errorf("core: schedules.%s.page_size must not be negative", tier)
		}
	}
	return nil
}
