package httpapi

import (
	"net/http"
)

type HealthHandler struct {
	Store Store
}

func (h HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			WriteError(w, r, http.StatusServiceUnavailable, "db_unavailable", err.Error())
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}
