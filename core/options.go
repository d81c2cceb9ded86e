package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// StaticRawConfigLoader serves a fixed map, typically decoded from a config
// file by the host application.
type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	return copyAnyMap(l.Values), nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver layers defaults, loaded config and runtime overrides, in
// that order of precedence.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString := func(target map[string]any, key string, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			target[key] = value
		}
	}
	setInt := func(target map[string]any, key string, value int64) {
		if includeZero || value != 0 {
			target[key] = value
		}
	}
	setNested := func(key string, nested map[string]any) {
		if len(nested) > 0 {
			layer[key] = nested
		}
	}

	setString(layer, "service_name", cfg.ServiceName)
	setInt(layer, "page_size", int64(cfg.PageSize))
	setInt(layer, "site_timeout_seconds", int64(cfg.SiteTimeoutSeconds))
	setString(layer, "overlap_policy", string(cfg.OverlapPolicy))

	retry := map[string]any{}
	setInt(retry, "max_attempts", int64(cfg.Retry.MaxAttempts))
	setInt(retry, "initial_backoff_ms", int64(cfg.Retry.InitialBackoffMS))
	setInt(retry, "max_backoff_ms", int64(cfg.Retry.MaxBackoffMS))
	setNested("retry", retry)

	worker := map[string]any{}
	setInt(worker, "concurrency", int64(cfg.Worker.Concurrency))
	setInt(worker, "poll_interval_ms", int64(cfg.Worker.PollIntervalMS))
	setNested("worker", worker)

	schedules := map[string]any{}
	for _, tier := range KnownTiers() {
		tierCfg, _ := cfg.Schedules.ForTier(tier)
		entry := map[string]any{}
		setString(entry, "cadence", tierCfg.Cadence)
		setInt(entry, "total_window_seconds", tierCfg.TotalWindowSeconds)
		setInt(entry, "page_size", int64(tierCfg.PageSize))
		if len(entry) > 0 {
			schedules[string(tier)] = entry
		}
	}
	setNested("schedules", schedules)
	return layer
}

func copyAnyMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}

// CloneMetadata returns a shallow copy that is never nil.
func CloneMetadata(input map[string]any) map[string]any {
	return copyAnyMap(input)
}
