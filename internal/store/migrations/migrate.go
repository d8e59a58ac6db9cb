// Package migrations wires golang-migrate execution for stresslab's persistence layer.
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// migrations loader
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	dbmigrations "github.com/poolforge/stresslab/db/migrations"
	"github.com/poolforge/stresslab/internal/observability"
)

var errNotDirectory = errors.New("migrations path must be a directory")

// Apply runs the migrations against the Postgres instance reachable via dsn.
// When migrationsDir is empty the SQL bundled into the binary is used;
// otherwise the directory is read from disk.
func Apply(ctx context.Context, dsn, migrationsDir string) error {
	return withInstance(ctx, dsn, migrationsDir, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				observability.Log().Info("database migrations up-to-date")
				return nil
			}
			return fmt.Errorf("apply migrations: %w", err)
		}
		observability.Log().Info("database migrations applied")
		return nil
	})
}

// Rollback reverts the given number of migration steps.
func Rollback(ctx context.Context, dsn, migrationsDir string, steps int) error {
	if steps <= 0 {
		return errors.New("rollback steps must be >0")
	}
	return withInstance(ctx, dsn, migrationsDir, func(m *migrate.Migrate) error {
		if err := m.Steps(-steps); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				observability.Log().Info("no migrations to roll back")
				return nil
			}
			return fmt.Errorf("roll back migrations: %w", err)
		}
		observability.Log().Info("database migrations rolled back", observability.F("steps", steps))
		return nil
	})
}

func withInstance(ctx context.Context, dsn, migrationsDir string, fn func(*migrate.Migrate) error) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migrations connection: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			observability.Log().Warn("database migrations close", observability.F("error", cerr.Error()))
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping migrations database: %w", err)
	}

	var driverConfig pgxv5.Config
	driver, err := pgxv5.WithInstance(db, &driverConfig)
	if err != nil {
		return fmt.Errorf("initialise pgx v5 driver: %w", err)
	}

	m, err := newInstance(migrationsDir, driver)
	if err != nil {
		return err
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil {
			observability.Log().Warn("database migrations source close", observability.F("error", sourceErr.Error()))
		}
		if dbErr != nil {
			observability.Log().Warn("database migrations db close", observability.F("error", dbErr.Error()))
		}
	}()

	return fn(m)
}

func newInstance(migrationsDir string, driver database.Driver) (*migrate.Migrate, error) {
	if strings.TrimSpace(migrationsDir) == "" {
		source, err := iofs.New(dbmigrations.Files, ".")
		if err != nil {
			return nil, fmt.Errorf("open embedded migrations: %w", err)
		}
		m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
		if err != nil {
			return nil, fmt.Errorf("initialise migrate instance: %w", err)
		}
		return m, nil
	}

	resolved, err := resolveDir(migrationsDir)
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithDatabaseInstance(fileURL(resolved), "pgx5", driver)
	if err != nil {
		return nil, fmt.Errorf("initialise migrate instance: %w", err)
	}
	return m, nil
}

func resolveDir(dir string) (string, error) {
	clean := strings.TrimSpace(dir)

	abs, err := filepath.Abs(clean)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("migrations directory: %w", err)
		}
		return "", fmt.Errorf("stat migrations directory: %w", err)
	}

	if !info.IsDir() {
		return "", fmt.Errorf("migrations directory: %w", errNotDirectory)
	}

	return abs, nil
}

func fileURL(path string) string {
	slashed := filepath.ToSlash(path)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	u := new(url.URL)
	u.Scheme = "file"
	u.Path = slashed
	return u.String()
}
