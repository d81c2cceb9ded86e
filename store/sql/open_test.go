package sqlstore_test

import (
	"context"
	"fmt"
	"io/fs"
	"testing"
	"time"

	"github.com/goliatone/go-reverify/core"
	reverifymigrations "github.com/goliatone/go-reverify/migrations"
	sqlstore "github.com/goliatone/go-reverify/store/sql"
)

func TestOpen_SQLiteClientMigratesAndBuildsStores(t *testing.T) {
	ctx := context.Background()
	cfg := sqlstore.PersistenceConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:reverify-open-%d?mode=memory&cache=shared&_foreign_keys=on", time.Now().UnixNano()),
	}
	if cfg.GetDriver() != sqlstore.DriverSQLite || cfg.Dialect() != reverifymigrations.DialectSQLite {
		t.Fatalf("expected sqlite driver and dialect, got %q %q", cfg.GetDriver(), cfg.Dialect())
	}
	client, err := sqlstore.Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = client.Close() }()

	if _, err := reverifymigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect == cfg.Dialect() {
			client.RegisterSQLMigrations(fsys)
		}
		return nil
	}); err != nil {
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if _, err := factory.RunStore().Create(ctx, core.RunRecord{
		ID:     "tier:plus:manual:open",
		Level:  core.RunLevelTier,
		JobID:  "reverify.tier_run",
		Tier:   core.TierPlus,
		Status: core.RunStatusQueued,
	}); err != nil {
		t.Fatalf("create run: %v", err)
	}
}

func TestOpen_RejectsUnsupportedDriverAndEmptyDSN(t *testing.T) {
	if _, err := sqlstore.Open(sqlstore.PersistenceConfig{Driver: "mysql", DSN: "x"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
	if _, err := sqlstore.Open(sqlstore.PersistenceConfig{Driver: "postgres"}); err == nil {
		t.Fatalf("expected dsn required error")
	}
}

func TestPersistenceConfig_PostgresDefaults(t *testing.T) {
	cfg := sqlstore.PersistenceConfig{Driver: "postgresql", DSN: "postgres://localhost/reverify?sslmode=disable"}
	if cfg.GetDriver() != sqlstore.DriverPostgres {
		t.Fatalf("expected postgres driver, got %q", cfg.GetDriver())
	}
	if cfg.Dialect() != reverifymigrations.DialectPostgres {
		t.Fatalf("expected postgres dialect, got %q", cfg.Dialect())
	}
	if cfg.GetPingTimeout() <= 0 || cfg.GetOtelIdentifier() == "" {
		t.Fatalf("expected defaults for ping timeout and otel identifier")
	}
}
