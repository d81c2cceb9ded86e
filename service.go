package reverify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-reverify/adapters/gologger"
	"github.com/goliatone/go-reverify/core"
	"github.com/goliatone/go-reverify/orchestrator"
	"github.com/goliatone/go-reverify/ratelimit"
	"github.com/goliatone/go-reverify/schedule"
	sqlstore "github.com/goliatone/go-reverify/store/sql"
	"github.com/goliatone/go-reverify/transport"
	"github.com/goliatone/go-reverify/verifiers"
	"github.com/goliatone/go-reverify/workflow"
)

// Service wires the workflow engine, the tier orchestrator and the cron
// trigger over the configured stores and verifiers.
type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorMapper       ErrorMapper
	observer          core.Observer
	persistenceClient any
	repositoryFactory *sqlstore.RepositoryFactory
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	runStore          core.RunStore
	siteDirectory     core.SiteDirectory
	identityDirectory core.IdentityDirectory
	outcomeRecorder   core.OutcomeRecorder
	verifiers         *core.VerifierRegistry
	rateLimitPolicy   core.RateLimitPolicy
	extensionHooks    *ExtensionHooks
	enqueuer          core.JobEnqueuer
	dequeuer          core.JobDequeuer
	engine            *workflow.Engine
	orchestrator      *orchestrator.Orchestrator
	table             schedule.Table
	trigger           *schedule.Trigger
	now               func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorMapper       ErrorMapper
	PersistenceClient any
	RepositoryFactory *sqlstore.RepositoryFactory
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	RunStore          core.RunStore
	SiteDirectory     core.SiteDirectory
	IdentityDirectory core.IdentityDirectory
	OutcomeRecorder   core.OutcomeRecorder
	Verifiers         *core.VerifierRegistry
	RateLimitPolicy   core.RateLimitPolicy
	Engine            *workflow.Engine
	Orchestrator      *orchestrator.Orchestrator
	Trigger           *schedule.Trigger
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve(gologger.DefaultLoggerName, builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger(gologger.DefaultLoggerName); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = core.NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = core.MapError
	}
	if builder.configProvider == nil {
		builder.configProvider = core.NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = core.GoOptionsResolver{}
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}

	defaults := core.DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.repositoryFactory == nil && builder.persistenceClient != nil {
		factory, buildErr := sqlstore.NewRepositoryFactory().BuildStores(builder.persistenceClient)
		if buildErr != nil {
			return nil, mapBuildError(builder.errorMapper, buildErr)
		}
		builder.repositoryFactory = factory
	}
	if factory := builder.repositoryFactory; factory != nil {
		if _, buildErr := factory.BuildStores(builder.persistenceClient); buildErr != nil {
			return nil, mapBuildError(builder.errorMapper, buildErr)
		}
		if builder.runStore == nil {
			builder.runStore = factory.RunStore()
		}
		if builder.siteDirectory == nil {
			builder.siteDirectory = factory.SiteDirectory()
		}
		if builder.identityDirectory == nil {
			builder.identityDirectory = factory.IdentityDirectory()
		}
		if builder.outcomeRecorder == nil {
			builder.outcomeRecorder = factory.IdentityDirectory()
		}
		if builder.rateLimitPolicy == nil {
			stateStore, cacheErr := factory.CachedRateLimitStateStore(builder.cacheService)
			if cacheErr != nil {
				return nil, mapBuildError(builder.errorMapper, cacheErr)
			}
			builder.rateLimitPolicy = ratelimit.NewAdaptivePolicy(stateStore)
		}
	}
	if builder.runStore == nil {
		builder.runStore = workflow.NewMemoryRunStore()
	}
	if builder.outcomeRecorder == nil {
		if recorder, ok := builder.identityDirectory.(core.OutcomeRecorder); ok {
			builder.outcomeRecorder = recorder
		}
	}
	if builder.rateLimitPolicy == nil {
		builder.rateLimitPolicy = ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore())
	}

	if builder.transport == nil && len(builder.verifiers) == 0 {
		adapter, transportErr := resolveTransport(builder)
		if transportErr != nil {
			return nil, mapBuildError(builder.errorMapper, transportErr)
		}
		builder.transport = adapter
	}

	registry, err := buildVerifierRegistry(builder)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	engineOpts := []workflow.Option{
		workflow.WithMetricsRecorder(builder.metricsRecorder),
		workflow.WithRetryPolicy(finalConfig.Retry.Policy()),
		workflow.WithPollInterval(finalConfig.PollInterval()),
		workflow.WithConcurrency(finalConfig.Worker.Concurrency),
		workflow.WithClock(builder.now),
	}
	engineOpts = append(engineOpts, gologger.EngineOptions(gologger.DefaultLoggerName, provider, logger)...)
	if builder.enqueuer != nil {
		engineOpts = append(engineOpts, workflow.WithEnqueuer(builder.enqueuer))
	}
	if builder.workerHook != nil {
		engineOpts = append(engineOpts, workflow.WithWorkerHook(builder.workerHook))
	}
	engine, err := workflow.NewEngine(builder.runStore, engineOpts...)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	orch, err := orchestrator.New(engine, orchestrator.Config{
		Sites:       builder.siteDirectory,
		Identities:  builder.identityDirectory,
		Verifiers:   registry,
		PageSize:    finalConfig.PageSize,
		SiteTimeout: finalConfig.SiteTimeout(),
	})
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	if err := orch.Register(); err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	table, err := schedule.TableFromConfig(finalConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	trigger, err := schedule.NewTrigger(table, orch,
		schedule.WithOverlapPolicy(finalConfig.OverlapPolicy, builder.runStore),
		schedule.WithLogger(logger),
		schedule.WithMetricsRecorder(builder.metricsRecorder),
		schedule.WithClock(builder.now),
	)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorMapper:       builder.errorMapper,
		observer:          core.NewObserver(logger, builder.metricsRecorder),
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		runStore:          builder.runStore,
		siteDirectory:     builder.siteDirectory,
		identityDirectory: builder.identityDirectory,
		outcomeRecorder:   builder.outcomeRecorder,
		verifiers:         registry,
		rateLimitPolicy:   builder.rateLimitPolicy,
		extensionHooks:    builder.extensionHooks,
		enqueuer:          builder.enqueuer,
		dequeuer:          builder.dequeuer,
		engine:            engine,
		orchestrator:      orch,
		table:             table,
		trigger:           trigger,
		now:               builder.now,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

// buildVerifierRegistry wraps every verifier in the rate limiter and, when a
// recorder is configured, in the outcome recorder.
func buildVerifierRegistry(builder serviceBuilder) (*core.VerifierRegistry, error) {
	base := builder.verifiers
	if len(base) == 0 {
		covered := builder.extensionHooks.VerifierKinds()
		for _, verifier := range DefaultVerifiers(builder.transport) {
			if !covered[verifier.Kind()] {
				base = append(base, verifier)
			}
		}
	}
	raw, err := core.NewVerifierRegistry(base...)
	if err != nil {
		return nil, err
	}
	if err := builder.extensionHooks.ApplyVerifierPacks(raw); err != nil {
		return nil, err
	}

	wrapped, err := core.NewVerifierRegistry()
	if err != nil {
		return nil, err
	}
	for _, kind := range raw.Kinds() {
		verifier, _ := raw.Get(kind)
		var next core.Verifier = ratelimit.NewVerifier(verifier, builder.rateLimitPolicy, ratelimit.HostKey)
		if builder.outcomeRecorder != nil {
			next = verifiers.NewRecording(next, builder.outcomeRecorder, verifiers.WithRecordingClock(builder.now))
		}
		if err := wrapped.Register(next); err != nil {
			return nil, err
		}
	}
	return wrapped, nil
}

func resolveTransport(builder serviceBuilder) (core.TransportAdapter, error) {
	registry := builder.transportRegistry
	if registry == nil {
		registry = transport.NewDefaultRegistry()
	}
	if strings.TrimSpace(builder.transportKind) == "" {
		return registry.Resolve("")
	}
	return registry.Build(builder.transportKind, builder.transportConfig)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorMapper:       s.errorMapper,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		RunStore:          s.runStore,
		SiteDirectory:     s.siteDirectory,
		IdentityDirectory: s.identityDirectory,
		OutcomeRecorder:   s.outcomeRecorder,
		Verifiers:         s.verifiers,
		RateLimitPolicy:   s.rateLimitPolicy,
		Engine:            s.engine,
		Orchestrator:      s.orchestrator,
		Trigger:           s.trigger,
	}
}

// Start resumes unfinished runs, starts the queue workers when a dequeuer is
// configured and registers the tier cadences.
func (s *Service) Start(ctx context.Context) (err error) {
	if s == nil {
		return fmt.Errorf("reverify: service is nil")
	}
	startedAt := time.Now()
	fields := map[string]any{"service": s.config.ServiceName}
	defer func() {
		s.observer.Observe(ctx, startedAt, "service_start", err, fields)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	if s.dequeuer != nil {
		go func() {
			defer close(done)
			if workErr := s.engine.Work(workerCtx, s.dequeuer); workErr != nil && !errors.Is(workErr, context.Canceled) {
				s.observer.Error(workerCtx, "workflow worker stopped", map[string]any{"error": workErr.Error()})
			}
		}()
	} else {
		close(done)
	}

	resumed, err := s.engine.Resume(workerCtx)
	if err != nil {
		cancel()
		<-done
		err = s.mapError(err)
		return err
	}
	fields["resumed_runs"] = resumed

	if err = s.trigger.Start(workerCtx); err != nil {
		cancel()
		<-done
		err = s.mapError(err)
		return err
	}

	s.running = true
	s.cancel = cancel
	s.done = done
	return nil
}

// Stop halts the cron trigger and the queue workers. Runs in flight stay
// non-terminal in the run store and are picked up by the next Start.
func (s *Service) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	stopped := s.trigger.Stop()
	cancel()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *Service) TriggerTierRun(ctx context.Context, req core.TriggerTierRunRequest) (started core.TierRunStarted, err error) {
	startedAt := time.Now()
	fields := map[string]any{"tier": req.Tier, "key": req.Key}
	defer func() {
		s.observer.Observe(ctx, startedAt, "trigger_tier_run", err, fields)
	}()

	if err = req.Tier.Validate(); err != nil {
		err = s.mapError(err)
		return core.TierRunStarted{}, err
	}
	handle, err := s.trigger.TriggerNow(ctx, req.Tier, req.Key)
	if err != nil {
		err = s.mapError(err)
		return core.TierRunStarted{}, err
	}
	fields["run_id"] = handle.RunID
	return core.TierRunStarted{RunID: handle.RunID, Tier: req.Tier, Created: handle.Created}, nil
}

// ResumeRuns redispatches every non-terminal run, expiring those past their
// deadline.
func (s *Service) ResumeRuns(ctx context.Context) (int, error) {
	count, err := s.engine.Resume(ctx)
	if err != nil {
		return 0, s.mapError(err)
	}
	return count, nil
}

func (s *Service) ListSchedules(context.Context) ([]schedule.NextFire, error) {
	return s.table.NextFireTimes(s.now()), nil
}

func (s *Service) GetRun(ctx context.Context, runID string) (core.RunRecord, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return core.RunRecord{}, s.mapError(fmt.Errorf("%w: empty run id", core.ErrRunNotFound))
	}
	record, err := s.runStore.Get(ctx, runID)
	if err != nil {
		return core.RunRecord{}, s.mapError(err)
	}
	return record, nil
}

func (s *Service) ListRuns(ctx context.Context, filter core.RunFilter) ([]core.RunRecord, error) {
	records, err := s.runStore.List(ctx, filter)
	if err != nil {
		return nil, s.mapError(err)
	}
	return records, nil
}

// AwaitRun blocks until the run settles and returns its aggregate.
func (s *Service) AwaitRun(ctx context.Context, runID string) (core.AggregateResult, error) {
	handle, err := s.engine.Attach(ctx, strings.TrimSpace(runID))
	if err != nil {
		return core.AggregateResult{}, s.mapError(err)
	}
	result, err := handle.Result(ctx)
	if err != nil {
		return result, s.mapError(err)
	}
	return result, nil
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
