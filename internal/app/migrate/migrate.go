package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/splax/deploywatch/db"
)

// Runner wraps database migration capabilities.
type Runner struct {
	pool   *pgxpool.Pool
	dsn    string
	source string
	fsys   fs.FS
	log    *slog.Logger
}

// New returns a migration runner backed by goose. Migrations are read from
// migrationsDir when it exists and from the bundled copy otherwise.
func New(pool *pgxpool.Pool, dsn, migrationsDir string, log *slog.Logger) (Runner, error) {
	if pool == nil {
		return Runner{}, errors.New("nil pool provided")
	}
	if dsn == "" {
		return Runner{}, errors.New("empty database dsn")
	}
	if log == nil {
		log = slog.Default()
	}
	fsys, source := resolveSource(migrationsDir)
	return Runner{pool: pool, dsn: dsn, source: source, fsys: fsys, log: log.With("component", "migrate")}, nil
}

func resolveSource(dir string) (fs.FS, string) {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return os.DirFS(dir), dir
		}
	}
	return db.Migrations(), "embedded"
}

// Source names where migrations are loaded from.
func (r Runner) Source() string {
	return r.source
}

// Ensure applies pending migrations.
func (r Runner) Ensure(ctx context.Context) error {
	return r.withProvider(func(p *goose.Provider) error {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		r.log.Info("applying migrations", "source", r.source)
		results, err := p.Up(runCtx)
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		for _, res := range results {
			r.log.Info("migration applied", "version", res.Source.Version, "path", res.Source.Path, "duration", res.Duration)
		}
		r.log.Info("migrations applied", "count", len(results))
		return nil
	})
}

// Status reports applied and pending migrations.
func (r Runner) Status(ctx context.Context) error {
	return r.withProvider(func(p *goose.Provider) error {
		statuses, err := p.Status(ctx)
		if err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		for _, st := range statuses {
			attrs := []any{"version", st.Source.Version, "path", st.Source.Path, "state", st.State}
			if !st.AppliedAt.IsZero() {
				attrs = append(attrs, "applied_at", st.AppliedAt)
			}
			r.log.Info("migration status", attrs...)
		}
		return nil
	})
}

// Down rolls back migrations either to the previous version or a specific target version.
func (r Runner) Down(ctx context.Context, targetVersion int64) error {
	return r.withProvider(func(p *goose.Provider) error {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		if targetVersion > 0 {
			r.log.Info("rolling back migrations", "target", targetVersion)
			if _, err := p.DownTo(runCtx, targetVersion); err != nil {
				return fmt.Errorf("rollback to version %d: %w", targetVersion, err)
			}
		} else {
			r.log.Info("rolling back latest migration")
			if _, err := p.Down(runCtx); err != nil {
				return fmt.Errorf("rollback latest migration: %w", err)
			}
		}

		r.log.Info("rollback complete")
		return nil
	})
}

// Ping ensures the database connection is alive.
func (r Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases underlying connections.
func (r Runner) Close() {
	r.pool.Close()
}

func (r Runner) withProvider(fn func(*goose.Provider) error) error {
	conn, err := sql.Open("pgx", r.dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	defer conn.Close()

	if err := conn.Ping(); err != nil {
		return fmt.Errorf("ping sql connection: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, conn, r.fsys)
	if err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}
	return fn(provider)
}
