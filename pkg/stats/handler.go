package stats

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/ory/herodot"
)

const (
	StatsHandlerPath = "/stats/rpc"
)

type Handler struct {
	Collector *Collector
	W         herodot.Writer
}

func NewHandler(collector *Collector, w herodot.Writer) *Handler {
	return &Handler{
		Collector: collector,
		W:         w,
	}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc(StatsHandlerPath+"/{kind}", h.Get).Methods("GET", "OPTIONS")
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]
	counts, err := h.Collector.Snapshot(kind)
	if err != nil {
		h.W.WriteError(w, r, err)
		return
	}

	h.W.Write(w, r, map[string]interface{}{
		"kind":     kind,
		"outcomes": counts,
	})
}
