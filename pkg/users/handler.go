package users

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/ory/herodot"
	"github.com/pkg/errors"
)

const (
	UsersHandlerPath = "/users"

	defaultLimit = 100
	maxLimit     = 500
)

type Handler struct {
	Manager Manager
	W       herodot.Writer
}

func NewHandler(manager Manager, w herodot.Writer) *Handler {
	return &Handler{
		Manager: manager,
		W:       w,
	}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc(UsersHandlerPath, h.List).Methods("GET", "OPTIONS")
	r.HandleFunc(UsersHandlerPath+"/{id}", h.Get).Methods("GET", "OPTIONS")
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	users, err := h.Manager.GetUsers(r.Context(), limit, offset)
	if err != nil {
		h.W.WriteError(w, r, err)
		return
	}

	res := make([]Profile, len(users))
	for i := range users {
		res[i] = Sanitize(&users[i])
	}

	h.W.Write(w, r, res)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.W.WriteErrorCode(w, r, http.StatusBadRequest, errors.New("user id must be an integer"))
		return
	}

	u, err := h.Manager.GetUser(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		h.W.WriteErrorCode(w, r, http.StatusNotFound, err)
		return
	}
	if err != nil {
		h.W.WriteError(w, r, err)
		return
	}

	h.W.Write(w, r, Sanitize(u))
}

func pagination(r *http.Request) (limit, offset int) {
	limit, offset = defaultLimit, 0
	q := r.URL.Query()

	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
