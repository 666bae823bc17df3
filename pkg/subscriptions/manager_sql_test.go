package subscriptions

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
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

func TestSQLManagerCreate(t *testing.T) {
	m, mock := newMockManager(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		"INSERT INTO user_subscription (follower_id, followed_id) VALUES ($1, $2) RETURNING id")).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(17))

	s := &Subscription{FollowerID: 1, FollowedID: 2}
	if err := m.Create(context.Background(), s); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.ID != 17 {
		t.Fatalf("expected id 17, got %d", s.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSQLManagerExists(t *testing.T) {
	m, mock := newMockManager(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT EXISTS (SELECT 1 FROM user_subscription WHERE follower_id=$1 AND followed_id=$2)")).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := m.Exists(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Fatalf("expected subscription to exist")
	}
}

func TestSQLManagerDelete(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "removed", affected: 1, want: true},
		{name: "missing", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, mock := newMockManager(t)
			mock.ExpectExec(regexp.QuoteMeta(
				"DELETE FROM user_subscription WHERE follower_id=$1 AND followed_id=$2")).
				WithArgs(int64(1), int64(2)).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			deleted, err := m.Delete(context.Background(), 1, 2)
			if err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if deleted != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, deleted)
			}
		})
	}
}

func TestSQLManagerListIDs(t *testing.T) {
	m, mock := newMockManager(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT followed_id FROM user_subscription WHERE follower_id=$1 ORDER BY id")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"followed_id"}).AddRow(3).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT follower_id FROM user_subscription WHERE followed_id=$1 ORDER BY id")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"follower_id"}))

	followed, err := m.FollowedIDs(context.Background(), 1)
	if err != nil {
		t.Fatalf("FollowedIDs: %v", err)
	}
	if len(followed) != 2 || followed[0] != 3 || followed[1] != 2 {
		t.Fatalf("unexpected ids %v", followed)
	}

	followers, err := m.FollowerIDs(context.Background(), 1)
	if err != nil {
		t.Fatalf("FollowerIDs: %v", err)
	}
	if len(followers) != 0 {
		t.Fatalf("expected no followers, got %v", followers)
	}
}
