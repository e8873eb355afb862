package domain

import "time"

const (
	GateActivity      = "activity"
	GateDeficiency    = "deficiency"
	GateMaturity      = "maturity"
	GateResolvability = "resolvability"
)

// GateResult is one gate's verdict for one evaluation run. Results are
// append-only: a new run writes a new set.
type GateResult struct {
	RunID       string    `json:"run_id"`
	CandidateID string    `json:"candidate_id"`
	Gate        string    `json:"gate"`
	Passed      bool      `json:"passed"`
	Score       float64   `json:"score"`  // 0..10
	Metric      float64   `json:"metric"` // raw measure compared with Threshold
	Threshold   float64   `json:"threshold"`
	Evidence    []string  `json:"evidence,omitempty"`
	Findings    []string  `json:"findings,omitempty"`
	Error       string    `json:"error,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

type Tier string

const (
	TierRejected Tier = "REJECTED"
	TierB        Tier = "B"
	TierA        Tier = "A"
	TierS        Tier = "S"
)

func (t Tier) Valid() bool {
	switch t {
	case TierRejected, TierB, TierA, TierS:
		return true
	}
	return false
}

// QualificationScore is the aggregated outcome of a run. The newest score
// for a candidate is current; older ones are kept as superseded.
type QualificationScore struct {
	CandidateID string    `json:"candidate_id"`
	RunID       string    `json:"run_id"`
	Total       float64   `json:"total_score"`
	Tier        Tier      `json:"tier"`
	Opportunity float64   `json:"opportunity_estimate"`
	GatesPassed int       `json:"gates_passed"`
	TotalGates  int       `json:"total_gates"`
	QuorumMet   bool      `json:"quorum_met"`
	ComputedAt  time.Time `json:"computed_at"`
}

// QualifiedCandidate is one row of the qualified-candidate export.
type QualifiedCandidate struct {
	Candidate Candidate
	Score     QualificationScore
}
