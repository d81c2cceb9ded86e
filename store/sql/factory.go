package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-reverify/ratelimit"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db *bun.DB

	runStore            *RunStore
	siteDirectory       *SiteDirectory
	identityDirectory   *IdentityDirectory
	rateLimitStateStore *RateLimitStateStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores accepts a *bun.DB or anything exposing DB() *bun.DB, such as a
// go-persistence-bun client.
func (f *RepositoryFactory) BuildStores(persistenceClient any) (*RepositoryFactory, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.runStore != nil && f.identityDirectory != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) RunStore() *RunStore {
	if f == nil {
		return nil
	}
	return f.runStore
}

func (f *RepositoryFactory) SiteDirectory() *SiteDirectory {
	if f == nil {
		return nil
	}
	return f.siteDirectory
}

func (f *RepositoryFactory) IdentityDirectory() *IdentityDirectory {
	if f == nil {
		return nil
	}
	return f.identityDirectory
}

func (f *RepositoryFactory) RateLimitStateStore() *RateLimitStateStore {
	if f == nil {
		return nil
	}
	return f.rateLimitStateStore
}

// CachedRateLimitStateStore wraps the SQL rate-limit state store with a
// read-through cache. A nil cache service falls back to the default cache
// configuration.
func (f *RepositoryFactory) CachedRateLimitStateStore(cacheService repositorycache.CacheService) (ratelimit.StateStore, error) {
	if f == nil || f.rateLimitStateStore == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is not built")
	}
	if cacheService == nil {
		service, err := repositorycache.NewCacheService(repositorycache.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("sqlstore: new rate-limit cache service: %w", err)
		}
		cacheService = service
	}
	return NewCachedRateLimitStateStore(f.rateLimitStateStore, cacheService)
}

func (f *RepositoryFactory) initStores() error {
	runStore, err := NewRunStore(f.db)
	if err != nil {
		return err
	}
	siteDirectory, err := NewSiteDirectory(f.db)
	if err != nil {
		return err
	}
	identityDirectory, err := NewIdentityDirectory(f.db)
	if err != nil {
		return err
	}
	rateLimitStateStore, err := NewRateLimitStateStore(f.db)
	if err != nil {
		return err
	}
	f.runStore = runStore
	f.siteDirectory = siteDirectory
	f.identityDirectory = identityDirectory
	f.rateLimitStateStore = rateLimitStateStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
