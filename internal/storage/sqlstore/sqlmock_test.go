package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/kitt-bench/controller/internal/storage"
)

// newMockStore wires go-sqlmock behind a *Store so driver-error paths that
// are hard to reproduce against a real server (connection drop mid-query,
// a broken migrations table) can be asserted deterministically, without
// spinning up postgres.
func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := &Store{db: sqlx.NewDb(db, "postgres"), dialect: "postgres", writeMu: &sync.Mutex{}}
	return s, mock
}

func TestListAgentsWrapsDriverError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM agents ORDER BY name").
		WillReturnError(errors.New("connection reset by peer"))

	_, err := s.ListAgents(context.Background())
	if err == nil {
		t.Fatal("expected an error from a broken connection")
	}
	var se *storage.Error
	if !errors.As(err, &se) {
		t.Fatalf("expected a *storage.Error, got %T: %v", err, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestGetAgentWrapsNotFoundAsStorageError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM agents WHERE id").
		WithArgs("missing-agent").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetAgent(context.Background(), "missing-agent")
	if err == nil {
		t.Fatal("expected an error")
	}
	var se *storage.Error
	if !errors.As(err, &se) {
		t.Fatalf("expected a *storage.Error, got %T: %v", err, err)
	}
}
