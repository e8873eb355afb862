package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"prospect-engine/internal/domain"
)

type SequencesHandler struct {
	Store     Store
	Sequences Sequences
}

type engagementReq struct {
	SequenceID string    `json:"sequence_id"`
	Step       *int      `json:"step,omitempty"`
	Status     string    `json:"status"`
	At         time.Time `json:"at,omitempty"`
}

type sequenceView struct {
	Sequence domain.Sequence        `json:"sequence"`
	Events   []domain.OutreachEvent `json:"events"`
}

// Engagement records a delivery, open or reply reported by a channel
// provider. Omitting step attributes it to the last sent step.
func (h SequencesHandler) Engagement(w http.ResponseWriter, r *http.Request) {
	var req engagementReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if strings.TrimSpace(req.SequenceID) == "" {
		WriteError(w, r, http.StatusBadRequest, "invalid_request", "sequence_id is required")
		return
	}
	status := domain.EventStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	switch status {
	case domain.EventDelivered, domain.EventOpened, domain.EventReplied:
	default:
		WriteError(w, r, http.StatusBadRequest, "invalid_status", "status must be DELIVERED, OPENED or REPLIED")
		return
	}
	step := -1
	if req.Step != nil {
		if *req.Step < 0 {
			WriteError(w, r, http.StatusBadRequest, "invalid_step", "step must be >= 0")
			return
		}
		step = *req.Step
	}

	seq, err := h.Sequences.RecordEngagement(r.Context(), req.SequenceID, step, status, req.At)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, seq)
}

func (h SequencesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	seq, err := h.Store.GetSequence(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	evs, err := h.Store.SequenceEvents(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if evs == nil {
		evs = []domain.OutreachEvent{}
	}
	WriteJSON(w, http.StatusOK, sequenceView{Sequence: seq, Events: evs})
}

func (h SequencesHandler) Pause(w http.ResponseWriter, r *http.Request) {
	seq, err := h.Sequences.Pause(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, seq)
}

func (h SequencesHandler) Resume(w http.ResponseWriter, r *http.Request) {
	seq, err := h.Sequences.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, seq)
}
