package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/tern/v2/migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	// migrationLockID is the advisory lock serializing migrations across replicas.
	migrationLockID             = 0x766f746573 // "votes"
	migrationLockReleaseTimeout = 5 * time.Second
	versionTable                = "public.schema_version"
)

// ErrSchemaBehind reports a database whose schema predates the running binary.
var ErrSchemaBehind = errors.New("database schema is behind")

// TargetVersion is the schema version the embedded migrations produce.
func TargetVersion() int32 {
	names, _ := fs.Glob(migrationFiles, "migrations/*.sql")
	return int32(len(names))
}

// SchemaVersion reads the applied migration version.
func SchemaVersion(ctx context.Context, pool *pgxpool.Pool) (int32, error) {
	var version int32
	if err := pool.QueryRow(ctx, "SELECT version FROM "+versionTable).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// CheckSchema fails with ErrSchemaBehind until every embedded migration is applied.
func CheckSchema(ctx context.Context, pool *pgxpool.Pool) error {
	version, err := SchemaVersion(ctx, pool)
	if err != nil {
		return err
	}
	if target := TargetVersion(); version < target {
		return fmt.Errorf("%w: at %d, want %d", ErrSchemaBehind, version, target)
	}
	return nil
}

// RunMigrations brings the schema up to date while holding an advisory lock,
// so concurrently starting instances do not race each other.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection for migration: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), migrationLockReleaseTimeout)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			slog.Error("failed to release migration lock", "error", err)
		}
	}()

	return migrateConn(ctx, conn.Conn())
}

func migrateConn(ctx context.Context, conn *pgx.Conn) error {
	migrationFS, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	migrator, err := migrate.NewMigrator(ctx, conn, versionTable)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := migrator.LoadMigrations(migrationFS); err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	if current, err := migrator.GetCurrentVersion(ctx); err == nil {
		slog.Info("store: current schema version", "version", current, "target", len(migrator.Migrations))
	}

	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return nil
}
