package subscriptions

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/nsyszr/foodblog/pkg/messaging"
	"github.com/nsyszr/foodblog/pkg/middleware"
	"github.com/nsyszr/foodblog/pkg/rpc"
	"github.com/nsyszr/foodblog/pkg/users"
	"github.com/nsyszr/foodblog/pkg/util/typeconv"
	"github.com/ory/herodot"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	SubscriptionsHandlerPath = "/us"
)

var (
	errFollowedIDRequired = errors.New("followedId is required")
	errUserNotFound       = errors.New("user not found")
)

type Handler struct {
	Manager  Manager
	Resolver users.Resolver
	W        herodot.Writer
}

func NewHandler(manager Manager, resolver users.Resolver, w herodot.Writer) *Handler {
	return &Handler{
		Manager:  manager,
		Resolver: resolver,
		W:        w,
	}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	withIdentity := middleware.IdentityHandler(h.W)

	// Both /us and /us/ are in use by clients.
	for _, p := range []string{SubscriptionsHandlerPath, SubscriptionsHandlerPath + "/"} {
		r.Handle(p, withIdentity(http.HandlerFunc(h.Create))).Methods("POST")
		r.Handle(p, withIdentity(http.HandlerFunc(h.Delete))).Methods("DELETE")
	}
	r.Handle(SubscriptionsHandlerPath+"/following", withIdentity(http.HandlerFunc(h.Following))).Methods("GET")
	r.Handle(SubscriptionsHandlerPath+"/followers", withIdentity(http.HandlerFunc(h.Followers))).Methods("GET")
}

type subscriptionRequest struct {
	FollowedID interface{} `json:"followedId"`
}

// followedID reads the followedId field of the body. Numbers and numeric
// strings are accepted; zero counts as missing.
func followedID(body io.Reader) (int64, error) {
	var req subscriptionRequest
	dec := json.NewDecoder(body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil && err != io.EOF {
		return 0, errors.Wrap(errFollowedIDRequired, err.Error())
	}

	id, err := typeconv.AnyToInt64(req.FollowedID)
	if err != nil || id == 0 {
		return 0, errFollowedIDRequired
	}
	return id, nil
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	me, _ := middleware.UserFromContext(r.Context())

	followed, err := followedID(r.Body)
	if err != nil {
		h.W.WriteErrorCode(w, r, http.StatusBadRequest, err)
		return
	}
	if followed == me.ID {
		h.W.WriteErrorCode(w, r, http.StatusBadRequest, ErrSelfSubscription)
		return
	}

	exists, err := h.Manager.Exists(r.Context(), me.ID, followed)
	if err != nil {
		h.W.WriteError(w, r, err)
		return
	}
	if exists {
		h.W.WriteErrorCode(w, r, http.StatusBadRequest, ErrAlreadyExists)
		return
	}

	reply, err := h.Resolver.ResolveUser(r.Context(), followed)
	if err != nil {
		h.writeResolveError(w, r, err)
		return
	}
	if reply.IsUnknown() {
		h.W.WriteErrorCode(w, r, http.StatusNotFound, errUserNotFound)
		return
	}

	s := &Subscription{FollowerID: me.ID, FollowedID: followed}
	if err := h.Manager.Create(r.Context(), s); err != nil {
		h.W.WriteError(w, r, err)
		return
	}

	log.WithFields(log.Fields{"followerId": s.FollowerID, "followedId": s.FollowedID}).
		Info("Subscription created")
	h.W.WriteCode(w, r, http.StatusCreated, s)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	me, _ := middleware.UserFromContext(r.Context())

	followed, err := followedID(r.Body)
	if err != nil {
		h.W.WriteErrorCode(w, r, http.StatusBadRequest, err)
		return
	}

	deleted, err := h.Manager.Delete(r.Context(), me.ID, followed)
	if err != nil {
		h.W.WriteError(w, r, err)
		return
	}
	if !deleted {
		h.W.WriteErrorCode(w, r, http.StatusNotFound, ErrNotFound)
		return
	}

	h.W.Write(w, r, map[string]bool{"deleted": true})
}

func (h *Handler) Following(w http.ResponseWriter, r *http.Request) {
	me, _ := middleware.UserFromContext(r.Context())

	ids, err := h.Manager.FollowedIDs(r.Context(), me.ID)
	if err != nil {
		h.W.WriteError(w, r, err)
		return
	}

	h.W.Write(w, r, h.Resolver.ResolveUsers(r.Context(), ids))
}

func (h *Handler) Followers(w http.ResponseWriter, r *http.Request) {
	me, _ := middleware.UserFromContext(r.Context())

	ids, err := h.Manager.FollowerIDs(r.Context(), me.ID)
	if err != nil {
		h.W.WriteError(w, r, err)
		return
	}

	h.W.Write(w, r, h.Resolver.ResolveUsers(r.Context(), ids))
}

// writeResolveError answers 503 when the auth service could not be reached
// in time.
func (h *Handler) writeResolveError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, rpc.ErrTimeout) ||
		errors.Is(err, messaging.ErrTransportLost) ||
		errors.Is(err, messaging.ErrNotConnected) {
		h.W.WriteErrorCode(w, r, http.StatusServiceUnavailable, err)
		return
	}
	h.W.WriteError(w, r, err)
}
