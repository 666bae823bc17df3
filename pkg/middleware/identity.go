package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ory/herodot"
	"github.com/pkg/errors"
)

// Headers set by the API gateway after it authenticated the request.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserName = "X-User-Name"
)

// ErrUnauthenticated is written when a request carries no usable identity.
var ErrUnauthenticated = errors.New("missing or invalid user identity")

// Identity is the authenticated caller of a request.
type Identity struct {
	ID       int64
	Username string
}

type identityKey struct{}

// UserFromContext returns the identity stored by IdentityHandler.
func UserFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// WithUser returns a copy of ctx carrying id.
func WithUser(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityHandler reads the gateway identity headers into the request
// context. Requests without a numeric user id are answered with 401.
func IdentityHandler(hw herodot.Writer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.ParseInt(r.Header.Get(HeaderUserID), 10, 64)
			if err != nil || id <= 0 {
				hw.WriteErrorCode(w, r, http.StatusUnauthorized, ErrUnauthenticated)
				return
			}

			ctx := WithUser(r.Context(), Identity{ID: id, Username: r.Header.Get(HeaderUserName)})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
