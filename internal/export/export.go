// Package export renders the qualified-candidate list for downstream tools.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"prospect-engine/internal/domain"
)

// Row is one exported candidate.
type Row struct {
	CandidateID string      `json:"candidate_id"`
	Name        string      `json:"name"`
	Domain      string      `json:"domain"`
	Industry    string      `json:"industry,omitempty"`
	Tier        domain.Tier `json:"tier"`
	Total       float64     `json:"total_score"`
	GatesPassed int         `json:"gates_passed"`
	TotalGates  int         `json:"total_gates"`
	Opportunity float64     `json:"opportunity_estimate"`
	ContactName string      `json:"contact_name,omitempty"`
	Email       string      `json:"email,omitempty"`
	ComputedAt  time.Time   `json:"computed_at"`
}

var header = []string{
	"candidate_id", "name", "domain", "industry", "tier", "total_score",
	"gates_passed", "total_gates", "opportunity_estimate", "contact_name", "email", "computed_at",
}

func Rows(qs []domain.QualifiedCandidate) []Row {
	out := make([]Row, 0, len(qs))
	for _, q := range qs {
		out = append(out, Row{
			CandidateID: q.Candidate.ID,
			Name:        q.Candidate.Name,
			Domain:      q.Candidate.Domain,
			Industry:    q.Candidate.Industry,
			Tier:        q.Score.Tier,
			Total:       q.Score.Total,
			GatesPassed: q.Score.GatesPassed,
			TotalGates:  q.Score.TotalGates,
			Opportunity: q.Score.Opportunity,
			ContactName: q.Candidate.Contact.Name,
			Email:       q.Candidate.Contact.Email,
			ComputedAt:  q.Score.ComputedAt,
		})
	}
	return out
}

func WriteJSON(w io.Writer, qs []domain.QualifiedCandidate) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Rows(qs))
}

func WriteCSV(w io.Writer, qs []domain.QualifiedCandidate) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range Rows(qs) {
		rec := []string{
			r.CandidateID, r.Name, r.Domain, r.Industry, string(r.Tier),
			strconv.FormatFloat(r.Total, 'f', 2, 64),
			strconv.Itoa(r.GatesPassed), strconv.Itoa(r.TotalGates),
			strconv.FormatFloat(r.Opportunity, 'f', 2, 64),
			r.ContactName, r.Email, r.ComputedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Write renders qs in format ("json" or "csv").
func Write(w io.Writer, format string, qs []domain.QualifiedCandidate) error {
	switch format {
	case "", "json":
		return WriteJSON(w, qs)
	case "csv":
		return WriteCSV(w, qs)
	}
	return fmt.Errorf("unknown export format %q", format)
}
