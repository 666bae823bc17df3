package users

import (
	"context"

	"github.com/nsyszr/foodblog/pkg/rpc"
	"github.com/nsyszr/foodblog/pkg/util/typeconv"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// KindGetUser resolves a user id to its public profile.
const KindGetUser = "getUser"

// NewGetUser returns the call envelope for id.
func NewGetUser(id int64) rpc.Envelope {
	return rpc.NewEnvelope(KindGetUser, id)
}

// Register installs the getUser handler on r. A missing user is answered
// with the Unknown sentinel; a failing lookup is returned as an error so
// the call is redelivered. An id that is not an integer cannot name a user
// and gets the sentinel too, with the id echoed back as it was sent.
func Register(r *rpc.Responder, m Manager) {
	r.Handle(KindGetUser, getUserHandler(m))
}

// invalidIDReply is the sentinel for an id that is not an integer.
type invalidIDReply struct {
	ID   interface{} `json:"id,omitempty"`
	Name string      `json:"name"`
}

func getUserHandler(m Manager) rpc.HandlerFunc {
	return func(ctx context.Context, call rpc.Call) (interface{}, error) {
		id, err := typeconv.AnyToInt64(call.Envelope().ID)
		if err != nil {
			log.WithFields(log.Fields{"id": call.Envelope().ID}).
				Debug("Answering getUser with unknown for invalid id")
			return invalidIDReply{ID: call.Envelope().ID, Name: UnknownName}, nil
		}

		u, err := m.GetUser(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return UnknownReply(id), nil
		}
		if err != nil {
			return nil, err
		}

		return ProfileReply(Sanitize(u)), nil
	}
}
