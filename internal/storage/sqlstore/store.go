// Package sqlstore implements storage.Store against sqlx, sharing almost
// all SQL text between the embedded file driver (mattn/go-sqlite3) and the
// server driver (lib/pq) via sqlx.DB.Rebind for placeholder translation
// (spec §4.1's two-driver requirement).
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kitt-bench/controller/internal/storage"
	"github.com/kitt-bench/controller/internal/storage/migrations"
)

// Store is the sqlx-backed implementation shared by both dialects.
type Store struct {
	db      *sqlx.DB
	dialect string // "sqlite" | "postgres"

	// writeMu serialises all writes on the file driver (spec §5: "a
	// process-wide write lock serialises all writes to the file-driver
	// database"). It is allocated for both dialects but never locked for
	// postgres.
	writeMu *sync.Mutex
}

var _ storage.Store = (*Store)(nil)

// NewSQLite opens (and optionally migrates) the embedded file database at
// path, used as given; the <home>/kitt.db default is applied earlier by
// config.Config.DSNOrDefault.
func NewSQLite(path string, migrateOnStart bool) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, storage.Wrap("NewSQLite", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers
	if err := db.Ping(); err != nil {
		return nil, storage.Wrap("NewSQLite", err)
	}
	if migrateOnStart {
		if err := migrations.Apply(db.DB, "sqlite"); err != nil {
			return nil, storage.Wrap("NewSQLite", err)
		}
	}
	return &Store{db: db, dialect: "sqlite", writeMu: &sync.Mutex{}}, nil
}

// NewPostgres opens (and optionally migrates) the server database at dsn.
func NewPostgres(dsn string, maxOpen, maxIdle int, migrateOnStart bool) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, storage.Wrap("NewPostgres", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if err := db.Ping(); err != nil {
		return nil, storage.Wrap("NewPostgres", err)
	}
	if migrateOnStart {
		if err := migrations.Apply(db.DB, "postgres"); err != nil {
			return nil, storage.Wrap("NewPostgres", err)
		}
	}
	return &Store{db: db, dialect: "postgres", writeMu: &sync.Mutex{}}, nil
}

// lockWrite acquires the process-wide write lock on the file driver; on
// postgres it takes no lock and returns a no-op unlock (concurrency there is
// left to the server's MVCC).
func (s *Store) lockWrite() func() {
	if s.dialect != "sqlite" {
		return func() {}
	}
	s.writeMu.Lock()
	return s.writeMu.Unlock
}

func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}

// sqlxQueryer is satisfied by both *sqlx.DB and *sqlx.Tx, letting read
// helpers run inside or outside a transaction without duplicating code.
type sqlxQueryer interface {
	QueryRowx(query string, args ...any) *sqlx.Row
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
}

func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	v, err := migrations.Version(s.db.DB, s.dialect)
	if err != nil {
		return 0, storage.Wrap("SchemaVersion", err)
	}
	return v, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// boolParam converts a Go bool into the dialect's native boolean
// representation: real bool for postgres, 0/1 int for sqlite (spec §4.1
// type-mapping table).
func (s *Store) boolParam(b bool) any {
	if s.dialect == "postgres" {
		return b
	}
	if b {
		return 1
	}
	return 0
}

func scanBool(raw any) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case int:
		return v != 0
	default:
		return false
	}
}

// nullString converts an empty Go string to SQL NULL, otherwise passes it
// through; used for optional foreign-key-like columns (campaign_id, etc).
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
