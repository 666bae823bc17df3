package users

import (
	"context"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by a Manager when no user has the requested id.
// Any other error means the lookup itself failed.
var ErrNotFound = errors.New("users: user not found")

type Manager interface {
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUsers(ctx context.Context, limit, offset int) ([]User, error)
}
