package subscriptions

import (
	"context"

	"github.com/pkg/errors"
)

// Subscription records that FollowerID follows FollowedID.
type Subscription struct {
	ID         int64 `json:"id"`
	FollowerID int64 `json:"followerId"`
	FollowedID int64 `json:"followedId"`
}

var (
	ErrSelfSubscription = errors.New("you can't subscribe to yourself")
	ErrAlreadyExists    = errors.New("subscription already exists")
	ErrNotFound         = errors.New("subscription not found")
)

type Manager interface {
	Create(ctx context.Context, s *Subscription) error
	Exists(ctx context.Context, followerID, followedID int64) (bool, error)
	// Delete reports whether a subscription was removed.
	Delete(ctx context.Context, followerID, followedID int64) (bool, error)
	FollowedIDs(ctx context.Context, followerID int64) ([]int64, error)
	FollowerIDs(ctx context.Context, followedID int64) ([]int64, error)
}
