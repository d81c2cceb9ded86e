package reverify

import (
	"time"

	"github.com/goliatone/go-job/queue"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-reverify/adapters/gojob"
	"github.com/goliatone/go-reverify/core"
	sqlstore "github.com/goliatone/go-reverify/store/sql"
	"github.com/goliatone/go-reverify/transport"
)

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory *sqlstore.RepositoryFactory
	cacheService      repositorycache.CacheService
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	runStore          core.RunStore
	siteDirectory     core.SiteDirectory
	identityDirectory core.IdentityDirectory
	outcomeRecorder   core.OutcomeRecorder
	verifiers         []core.Verifier
	transport         core.TransportAdapter
	transportRegistry *transport.Registry
	transportKind     string
	transportConfig   map[string]any
	rateLimitPolicy   core.RateLimitPolicy
	extensionHooks    *ExtensionHooks
	enqueuer          core.JobEnqueuer
	dequeuer          core.JobDequeuer
	workerHook        core.JobWorkerHook
	now               func() time.Time
}

type Option func(*serviceBuilder)

func defaultServiceBuilder(cfg Config) serviceBuilder {
	return serviceBuilder{runtimeConfig: cfg}
}

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

// WithPersistenceClient takes a *bun.DB or a go-persistence-bun client. The
// SQL stores are built from it unless explicit stores are given.
func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory *sqlstore.RepositoryFactory) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

// WithRateLimitCache sets the cache service in front of the SQL rate-limit
// state store.
func WithRateLimitCache(service repositorycache.CacheService) Option {
	return func(b *serviceBuilder) {
		b.cacheService = service
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithRunStore(store core.RunStore) Option {
	return func(b *serviceBuilder) {
		b.runStore = store
	}
}

func WithSiteDirectory(directory core.SiteDirectory) Option {
	return func(b *serviceBuilder) {
		b.siteDirectory = directory
	}
}

func WithIdentityDirectory(directory core.IdentityDirectory) Option {
	return func(b *serviceBuilder) {
		b.identityDirectory = directory
	}
}

func WithOutcomeRecorder(recorder core.OutcomeRecorder) Option {
	return func(b *serviceBuilder) {
		b.outcomeRecorder = recorder
	}
}

// WithVerifiers replaces the built-in verifier set. Later verifiers of the
// same kind are rejected by the registry.
func WithVerifiers(verifiers ...core.Verifier) Option {
	return func(b *serviceBuilder) {
		b.verifiers = append(b.verifiers, verifiers...)
	}
}

// WithTransport sets the HTTP transport used by the built-in verifiers.
func WithTransport(adapter core.TransportAdapter) Option {
	return func(b *serviceBuilder) {
		b.transport = adapter
	}
}

// WithTransportRegistry resolves the built-in verifier transport by kind,
// building it from a registered factory with config when needed. An empty
// kind resolves the REST adapter.
func WithTransportRegistry(registry *transport.Registry, kind string, config map[string]any) Option {
	return func(b *serviceBuilder) {
		b.transportRegistry = registry
		b.transportKind = kind
		b.transportConfig = config
	}
}

func WithRateLimitPolicy(policy core.RateLimitPolicy) Option {
	return func(b *serviceBuilder) {
		b.rateLimitPolicy = policy
	}
}

func WithExtensionHooks(hooks *ExtensionHooks) Option {
	return func(b *serviceBuilder) {
		b.extensionHooks = hooks
	}
}

// WithJobQueue dispatches runs through a go-job queue. Start consumes the
// dequeuer; a nil dequeuer leaves consumption to another process.
func WithJobQueue(enqueuer queue.Enqueuer, dequeuer queue.Dequeuer, policy gojob.RetryPolicy) Option {
	return func(b *serviceBuilder) {
		if enqueuer != nil {
			b.enqueuer = gojob.NewEnqueuerAdapter(enqueuer)
		}
		if dequeuer != nil {
			b.dequeuer = gojob.NewDequeuerAdapter(dequeuer, policy)
		}
	}
}

func WithEnqueuer(enqueuer core.JobEnqueuer) Option {
	return func(b *serviceBuilder) {
		b.enqueuer = enqueuer
	}
}

func WithDequeuer(dequeuer core.JobDequeuer) Option {
	return func(b *serviceBuilder) {
		b.dequeuer = dequeuer
	}
}

func WithWorkerHook(hook core.JobWorkerHook) Option {
	return func(b *serviceBuilder) {
		b.workerHook = hook
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}
