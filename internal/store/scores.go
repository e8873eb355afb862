package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"prospect-engine/internal/domain"
)

// AppendGateResults writes one run's gate results. Earlier runs are left
// untouched.
func (d *DB) AppendGateResults(ctx context.Context, results []domain.GateResult) error {
	return d.inTx(ctx, func(tx *sql.Tx) error { return appendGateResults(ctx, tx, results) })
}

// UpsertScore makes s the candidate's current score and supersedes the
// previous one.
func (d *DB) UpsertScore(ctx context.Context, s domain.QualificationScore) error {
	return d.inTx(ctx, func(tx *sql.Tx) error { return upsertScore(ctx, tx, s) })
}

// SaveQualification records a run's gate results and its score atomically.
func (d *DB) SaveQualification(ctx context.Context, results []domain.GateResult, s domain.QualificationScore) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		if err := appendGateResults(ctx, tx, results); err != nil {
			return err
		}
		return upsertScore(ctx, tx, s)
	})
}

func appendGateResults(ctx context.Context, tx *sql.Tx, results []domain.GateResult) error {
	for _, r := range results {
		if r.RunID == "" || r.CandidateID == "" || r.Gate == "" {
			return errors.New("append gate result: run, candidate and gate are required")
		}
		evidence, _ := json.Marshal(nonNil(r.Evidence))
		findings, _ := json.Marshal(nonNil(r.Findings))
		_, err := tx.ExecContext(ctx, `
INSERT INTO gate_results(run_id, candidate_id, gate, passed, score, metric, threshold, evidence, findings, error, evaluated_at)
VALUES(?,?,?,?,?,?,?,?,?,?,?);`,
			r.RunID, r.CandidateID, r.Gate, boolInt(r.Passed), r.Score, r.Metric, r.Threshold,
			string(evidence), string(findings), r.Error, toMillis(r.EvaluatedAt))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("append gate result %s/%s: %w", r.RunID, r.Gate, domain.ErrConflict)
			}
			return fmt.Errorf("append gate result: %w", err)
		}
	}
	return nil
}

func upsertScore(ctx context.Context, tx *sql.Tx, s domain.QualificationScore) error {
	if s.RunID == "" || s.CandidateID == "" {
		return errors.New("upsert score: run and candidate are required")
	}
	if !s.Tier.Valid() {
		return fmt.Errorf("upsert score: invalid tier %q", s.Tier)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE scores SET superseded_at = ? WHERE candidate_id = ? AND superseded_at = 0;`,
		toMillis(s.ComputedAt), s.CandidateID); err != nil {
		return fmt.Errorf("supersede score: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
INSERT INTO scores(run_id, candidate_id, total, tier, opportunity, gates_passed, total_gates, quorum_met, computed_at)
VALUES(?,?,?,?,?,?,?,?,?);`,
		s.RunID, s.CandidateID, s.Total, string(s.Tier), s.Opportunity,
		s.GatesPassed, s.TotalGates, boolInt(s.QuorumMet), toMillis(s.ComputedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("upsert score %s: %w", s.RunID, domain.ErrConflict)
		}
		return fmt.Errorf("upsert score: %w", err)
	}
	return nil
}

const scoreCols = `s.run_id, s.candidate_id, s.total, s.tier, s.opportunity, s.gates_passed, s.total_gates, s.quorum_met, s.computed_at`

func (d *DB) CurrentScore(ctx context.Context, candidateID string) (domain.QualificationScore, error) {
	row := d.Pool.QueryRowContext(ctx,
		`SELECT `+scoreCols+` FROM scores s WHERE s.candidate_id = ? AND s.superseded_at = 0;`, candidateID)
	s, err := scanScore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.QualificationScore{}, fmt.Errorf("score for %s: %w", candidateID, domain.ErrNotFound)
	}
	return s, err
}

// ScoreHistory returns every score for a candidate, newest first.
func (d *DB) ScoreHistory(ctx context.Context, candidateID string) ([]domain.QualificationScore, error) {
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT `+scoreCols+` FROM scores s WHERE s.candidate_id = ? ORDER BY s.computed_at DESC, s.rowid DESC;`, candidateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.QualificationScore
	for rows.Next() {
		s, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (d *DB) GateResults(ctx context.Context, runID string) ([]domain.GateResult, error) {
	rows, err := d.Pool.QueryContext(ctx, `
SELECT run_id, candidate_id, gate, passed, score, metric, threshold, evidence, findings, error, evaluated_at
FROM gate_results WHERE run_id = ? ORDER BY id;`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.GateResult
	for rows.Next() {
		var (
			r                  domain.GateResult
			passed             int
			evidence, findings string
			at                 int64
		)
		if err := rows.Scan(&r.RunID, &r.CandidateID, &r.Gate, &passed, &r.Score, &r.Metric, &r.Threshold,
			&evidence, &findings, &r.Error, &at); err != nil {
			return nil, err
		}
		r.Passed = passed != 0
		_ = json.Unmarshal([]byte(evidence), &r.Evidence)
		_ = json.Unmarshal([]byte(findings), &r.Findings)
		if len(r.Evidence) == 0 {
			r.Evidence = nil
		}
		if len(r.Findings) == 0 {
			r.Findings = nil
		}
		r.EvaluatedAt = fromMillis(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListQualified returns candidates whose current score is not REJECTED,
// best first.
func (d *DB) ListQualified(ctx context.Context, limit int) ([]domain.QualifiedCandidate, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := d.Pool.QueryContext(ctx, `
SELECT `+candidateCols+`, `+scoreCols+`
FROM candidates c
JOIN scores s ON s.candidate_id = c.id AND s.superseded_at = 0
WHERE s.tier != 'REJECTED'
ORDER BY s.total DESC, c.id
LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectQualified(rows)
}

func scanScore(row rowScanner) (domain.QualificationScore, error) {
	var (
		s        domain.QualificationScore
		tier     string
		quorum   int
		computed int64
	)
	if err := row.Scan(&s.RunID, &s.CandidateID, &s.Total, &tier, &s.Opportunity,
		&s.GatesPassed, &s.TotalGates, &quorum, &computed); err != nil {
		return domain.QualificationScore{}, err
	}
	s.Tier = domain.Tier(tier)
	s.QuorumMet = quorum != 0
	s.ComputedAt = fromMillis(computed)
	return s, nil
}

// scanQualified reads a candidateCols+scoreCols row.
func scanQualified(row rowScanner) (domain.QualifiedCandidate, error) {
	var (
		q                domain.QualifiedCandidate
		ads, online      int
		contact          string
		created, updated int64
		tier             string
		quorum           int
		computed         int64
	)
	c := &q.Candidate
	s := &q.Score
	if err := row.Scan(&c.ID, &c.Name, &c.Domain, &c.Industry, &c.Employees, &ads, &online, &contact, &created, &updated,
		&s.RunID, &s.CandidateID, &s.Total, &tier, &s.Opportunity, &s.GatesPassed, &s.TotalGates, &quorum, &computed); err != nil {
		return domain.QualifiedCandidate{}, err
	}
	c.AdsActive = ads != 0
	c.SiteOnline = online != 0
	_ = json.Unmarshal([]byte(contact), &c.Contact)
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	s.Tier = domain.Tier(tier)
	s.QuorumMet = quorum != 0
	s.ComputedAt = fromMillis(computed)
	return q, nil
}

func collectQualified(rows *sql.Rows) ([]domain.QualifiedCandidate, error) {
	var out []domain.QualifiedCandidate
	for rows.Next() {
		q, err := scanQualified(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
