package httpapi

import (
	"net/http"
	"strconv"

	"prospect-engine/internal/export"
)

type CandidatesHandler struct {
	Store Store
}

// Qualified lists candidates whose current score passed quorum, best
// first. ?format=csv switches the body to CSV.
func (h CandidatesHandler) Qualified(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 500
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			WriteError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	format := q.Get("format")
	if format != "" && format != "json" && format != "csv" {
		WriteError(w, r, http.StatusBadRequest, "invalid_format", "format must be json or csv")
		return
	}

	qs, err := h.Store.ListQualified(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="qualified.csv"`)
		_ = export.WriteCSV(w, qs)
		return
	}
	WriteJSON(w, http.StatusOK, export.Rows(qs))
}
