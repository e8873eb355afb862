package httpapi

import (
	"context"
	"net/http"
	"strconv"
)

type TicksHandler struct {
	Store  Store
	Ticker Ticker
}

func (h TicksHandler) Last(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Store.LastTick(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, rep)
}

func (h TicksHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	reps, err := h.Store.ListTicks(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, reps)
}

// Run executes a tick now. The tick outlives a dropped client connection.
func (h TicksHandler) Run(w http.ResponseWriter, r *http.Request) {
	if h.Ticker == nil {
		WriteError(w, r, http.StatusServiceUnavailable, "no_runner", "campaign runner is not configured")
		return
	}
	rep, err := h.Ticker.RunTick(context.WithoutCancel(r.Context()))
	if err != nil {
		if rep.ID == "" {
			writeDomainError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusInternalServerError, rep)
		return
	}
	WriteJSON(w, http.StatusOK, rep)
}
