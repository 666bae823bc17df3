package subscriptions

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

func NewSQLManager(db *sqlx.DB) *SQLManager {
	return &SQLManager{
		DB: db,
	}
}

type SQLManager struct {
	DB *sqlx.DB
}

type sqlData struct {
	ID         int64 `db:"id"`
	FollowerID int64 `db:"follower_id"`
	FollowedID int64 `db:"followed_id"`
}

func (m *SQLManager) Create(ctx context.Context, s *Subscription) error {
	data := sqlData{FollowerID: s.FollowerID, FollowedID: s.FollowedID}

	rows, err := m.DB.NamedQueryContext(ctx,
		"INSERT INTO user_subscription (follower_id, followed_id) VALUES (:follower_id, :followed_id) RETURNING id",
		data)
	if err != nil {
		return errors.Wrap(err, "failed to create subscription")
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return errors.Wrap(err, "failed to create subscription")
		}
		return errors.New("failed to create subscription: no id returned")
	}
	if err := rows.Scan(&s.ID); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func (m *SQLManager) Exists(ctx context.Context, followerID, followedID int64) (bool, error) {
	var exists bool
	if err := m.DB.GetContext(ctx, &exists, m.DB.Rebind(
		"SELECT EXISTS (SELECT 1 FROM user_subscription WHERE follower_id=? AND followed_id=?)"),
		followerID, followedID); err != nil {
		return false, errors.Wrap(err, "failed to look up subscription")
	}
	return exists, nil
}

func (m *SQLManager) Delete(ctx context.Context, followerID, followedID int64) (bool, error) {
	res, err := m.DB.ExecContext(ctx, m.DB.Rebind(
		"DELETE FROM user_subscription WHERE follower_id=? AND followed_id=?"),
		followerID, followedID)
	if err != nil {
		return false, errors.Wrap(err, "failed to delete subscription")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.WithStack(err)
	}
	return n > 0, nil
}

func (m *SQLManager) FollowedIDs(ctx context.Context, followerID int64) ([]int64, error) {
	ids := make([]int64, 0)
	if err := m.DB.SelectContext(ctx, &ids, m.DB.Rebind(
		"SELECT followed_id FROM user_subscription WHERE follower_id=? ORDER BY id"), followerID); err != nil {
		return nil, errors.Wrap(err, "failed to list followed users")
	}
	return ids, nil
}

func (m *SQLManager) FollowerIDs(ctx context.Context, followedID int64) ([]int64, error) {
	ids := make([]int64, 0)
	if err := m.DB.SelectContext(ctx, &ids, m.DB.Rebind(
		"SELECT follower_id FROM user_subscription WHERE followed_id=? ORDER BY id"), followedID); err != nil {
		return nil, errors.Wrap(err, "failed to list followers")
	}
	return ids, nil
}
