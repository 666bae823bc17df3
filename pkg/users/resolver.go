package users

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nsyszr/foodblog/pkg/rpc"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultResolveTimeout     = 5 * time.Second
	DefaultResolveConcurrency = 16
)

// Resolver turns user ids into replies. It is what the CRUD handlers of
// other services depend on.
type Resolver interface {
	ResolveUser(ctx context.Context, id int64) (Reply, error)
	ResolveUsers(ctx context.Context, ids []int64) []Reply
}

// Invoker places a call and returns the reply body. *rpc.Caller is one.
type Invoker interface {
	Invoke(ctx context.Context, env rpc.Envelope, timeout time.Duration) ([]byte, error)
}

// RPCResolver resolves users through getUser calls.
type RPCResolver struct {
	invoker     Invoker
	timeout     time.Duration
	concurrency int
}

type ResolverOption func(*RPCResolver)

// WithResolveTimeout sets the per call timeout.
func WithResolveTimeout(d time.Duration) ResolverOption {
	return func(r *RPCResolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithResolveConcurrency bounds the calls ResolveUsers keeps in flight.
func WithResolveConcurrency(n int) ResolverOption {
	return func(r *RPCResolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func NewResolver(invoker Invoker, opts ...ResolverOption) *RPCResolver {
	r := &RPCResolver{
		invoker:     invoker,
		timeout:     DefaultResolveTimeout,
		concurrency: DefaultResolveConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveUser returns the profile of id, or the Unknown sentinel when no
// such user exists. Errors are protocol failures such as rpc.ErrTimeout.
func (r *RPCResolver) ResolveUser(ctx context.Context, id int64) (Reply, error) {
	body, err := r.invoker.Invoke(ctx, NewGetUser(id), r.timeout)
	if err != nil {
		return Reply{}, err
	}

	var reply Reply
	if err := json.Unmarshal(body, &reply); err != nil {
		return Reply{}, errors.Wrapf(err, "failed to decode reply for user %d", id)
	}
	return reply, nil
}

// ResolveUsers resolves all ids concurrently and returns the replies in
// input order. Ids whose call failed are left out.
func (r *RPCResolver) ResolveUsers(ctx context.Context, ids []int64) []Reply {
	replies := make([]*Reply, len(ids))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			reply, err := r.ResolveUser(ctx, id)
			if err != nil {
				log.WithFields(log.Fields{"userId": id}).
					Warn("Leaving out user that failed to resolve: ", err)
				return nil
			}
			replies[i] = &reply
			return nil
		})
	}
	_ = g.Wait()

	res := make([]Reply, 0, len(ids))
	for _, reply := range replies {
		if reply != nil {
			res = append(res, *reply)
		}
	}
	return res
}
