package core

import (
	"context"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.PageSize != 100 {
		t.Fatalf("expected page size 100, got %d", cfg.PageSize)
	}
	if cfg.SiteTimeout().Minutes() != 10 {
		t.Fatalf("expected 10m site timeout, got %s", cfg.SiteTimeout())
	}
	plus, ok := cfg.Schedules.ForTier(TierPlus)
	if !ok || plus.TotalWindowSeconds != 864000 || plus.Cadence != "@every 12h" {
		t.Fatalf("unexpected plus schedule: %+v", plus)
	}
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"service_name":   func(c *Config) { c.ServiceName = " " },
		"page_size":      func(c *Config) { c.PageSize = 0 },
		"site_timeout":   func(c *Config) { c.SiteTimeoutSeconds = 0 },
		"overlap_policy": func(c *Config) { c.OverlapPolicy = "queue" },
		"max_attempts":   func(c *Config) { c.Retry.MaxAttempts = 0 },
		"cadence":        func(c *Config) { c.Schedules.Plus.Cadence = "every so often" },
		"window":         func(c *Config) { c.Schedules.Standard.TotalWindowSeconds = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestCfgxConfigProviderLoadsRawValues(t *testing.T) {
	provider := NewCfgxConfigProvider(StaticRawConfigLoader{Values: map[string]any{
		"service_name": "reverify-test",
		"page_size":    25,
	}})
	cfg, err := provider.Load(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServiceName != "reverify-test" {
		t.Fatalf("expected loaded service name, got %q", cfg.ServiceName)
	}
	if cfg.PageSize != 25 {
		t.Fatalf("expected loaded page size, got %d", cfg.PageSize)
	}
	if cfg.SiteTimeoutSeconds != 600 {
		t.Fatalf("expected default site timeout to survive, got %d", cfg.SiteTimeoutSeconds)
	}
}

func TestGoOptionsResolverRuntimeWins(t *testing.T) {
	defaults := DefaultConfig()
	loaded := Config{ServiceName: "from-config", PageSize: 50}
	runtime := Config{PageSize: 10, OverlapPolicy: OverlapSkip}

	resolved, err := GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ServiceName != "from-config" {
		t.Fatalf("expected config layer service name, got %q", resolved.ServiceName)
	}
	if resolved.PageSize != 10 {
		t.Fatalf("expected runtime page size, got %d", resolved.PageSize)
	}
	if resolved.OverlapPolicy != OverlapSkip {
		t.Fatalf("expected runtime overlap policy, got %q", resolved.OverlapPolicy)
	}
	if resolved.Schedules.Professional.Cadence != "@every 4h" {
		t.Fatalf("expected default professional cadence, got %q", resolved.Schedules.Professional.Cadence)
	}
}

func TestGoOptionsResolverValidates(t *testing.T) {
	_, err := GoOptionsResolver{}.Resolve(DefaultConfig(), Config{}, Config{OverlapPolicy: "sometimes"})
	if err == nil || !strings.Contains(err.Error(), "overlap_policy") {
		t.Fatalf("expected overlap policy validation error, got %v", err)
	}
}
