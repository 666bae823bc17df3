package users

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

func newMockManager(t *testing.T) (*SQLManager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLManager(sqlx.NewDb(db, "postgres")), mock
}

func TestSQLManagerGetUser(t *testing.T) {
	m, mock := newMockManager(t)
	ts := time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(selectUsers + " WHERE id=$1")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(sqlColumns).
			AddRow(42, "alice", "hash", "alice@example.com", "Alice", nil, nil, ts, ts))

	u, err := m.GetUser(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.ID != 42 || u.Username != "alice" || u.FirstName != "Alice" || u.LastName != "" || u.PasswordHash != "hash" {
		t.Fatalf("unexpected user %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSQLManagerGetUserNotFound(t *testing.T) {
	m, mock := newMockManager(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectUsers + " WHERE id=$1")).
		WithArgs(int64(999)).
		WillReturnError(sql.ErrNoRows)

	if _, err := m.GetUser(context.Background(), 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLManagerGetUserFailure(t *testing.T) {
	m, mock := newMockManager(t)
	boom := errors.New("connection refused")

	mock.ExpectQuery(regexp.QuoteMeta(selectUsers + " WHERE id=$1")).
		WithArgs(int64(1)).
		WillReturnError(boom)

	_, err := m.GetUser(context.Background(), 1)
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected lookup failure, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped driver error, got %v", err)
	}
}

func TestSQLManagerGetUsers(t *testing.T) {
	m, mock := newMockManager(t)
	ts := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(selectUsers+" ORDER BY id LIMIT $1 OFFSET $2")).
		WithArgs(10, 0).
		WillReturnRows(sqlmock.NewRows(sqlColumns).
			AddRow(1, "alice", "h1", "a@example.com", nil, nil, nil, ts, ts).
			AddRow(2, "bob", "h2", "b@example.com", "Bob", "Builder", "bob.png", ts, ts))

	list, err := m.GetUsers(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("GetUsers: %v", err)
	}
	if len(list) != 2 || list[0].Username != "alice" || list[1].Avatar != "bob.png" {
		t.Fatalf("unexpected users %+v", list)
	}
}
