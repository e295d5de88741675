// Package migrations applies forward-only schema migrations (spec §3, §4.1)
// via golang-migrate, embedding one ordered SQL file set per dialect.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed postgres/*.sql
var postgresFS embed.FS

//go:embed sqlite/*.sql
var sqliteFS embed.FS

// Apply runs every pending migration for dialect ("postgres" or "sqlite")
// against db, in ascending version order. It is forward-only: no down
// migrations are shipped, mirroring the spec's "forward-only" requirement.
func Apply(db *sql.DB, dialect string) error {
	var (
		dbDriver database.Driver
		srcFS    fs.FS
		subdir   string
		err      error
	)

	switch dialect {
	case "postgres":
		dbDriver, err = postgres.WithInstance(db, &postgres.Config{})
		srcFS, subdir = postgresFS, "postgres"
	case "sqlite", "sqlite3":
		dbDriver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
		srcFS, subdir = sqliteFS, "sqlite"
	default:
		return fmt.Errorf("migrations: unknown dialect %q", dialect)
	}
	if err != nil {
		return fmt.Errorf("migrations: database driver: %w", err)
	}

	sub, err := fs.Sub(srcFS, subdir)
	if err != nil {
		return fmt.Errorf("migrations: embed subtree: %w", err)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("migrations: source driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dialect, dbDriver)
	if err != nil {
		return fmt.Errorf("migrations: init: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: apply: %w", err)
	}
	return nil
}

// Version reports the currently applied version, or 0 if no migration has
// ever run (spec P5: "SCHEMA_VERSION == max(applied_versions) at startup").
func Version(db *sql.DB, dialect string) (int, error) {
	var dbDriver database.Driver
	var err error
	switch dialect {
	case "postgres":
		dbDriver, err = postgres.WithInstance(db, &postgres.Config{})
	case "sqlite", "sqlite3":
		dbDriver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	default:
		return 0, fmt.Errorf("migrations: unknown dialect %q", dialect)
	}
	if err != nil {
		return 0, err
	}

	var subdir string
	var srcFS fs.FS
	if dialect == "postgres" {
		srcFS, subdir = postgresFS, "postgres"
	} else {
		srcFS, subdir = sqliteFS, "sqlite"
	}
	sub, err := fs.Sub(srcFS, subdir)
	if err != nil {
		return 0, err
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return 0, err
	}
	m, err := migrate.NewWithInstance("iofs", src, dialect, dbDriver)
	if err != nil {
		return 0, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if dirty {
		return int(v), fmt.Errorf("migrations: schema is dirty at version %d", v)
	}
	return int(v), nil
}
