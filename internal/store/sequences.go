package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"prospect-engine/internal/domain"
)

const sequenceCols = `q.id, q.candidate_id, q.funnel, q.current_step, q.status, q.started_at, q.last_step_sent_at, q.next_due_at, q.end_reason, q.version, q.updated_at`

// CreateSequence inserts seq. It fails with ErrConflict when the candidate
// already has a live sequence in the same funnel; the unique index makes
// the check and the insert one atomic step.
func (d *DB) CreateSequence(ctx context.Context, seq domain.Sequence) (domain.Sequence, error) {
	if seq.CandidateID == "" || seq.Funnel == "" {
		return domain.Sequence{}, errors.New("create sequence: candidate and funnel are required")
	}
	if seq.StartedAt.IsZero() {
		return domain.Sequence{}, errors.New("create sequence: started_at is required")
	}
	if seq.ID == "" {
		seq.ID = uuid.NewString()
	}
	if seq.Status == "" {
		seq.Status = domain.SequenceActive
	}
	seq.Version = 1
	if seq.UpdatedAt.IsZero() {
		seq.UpdatedAt = seq.StartedAt
	}

	_, err := d.Pool.ExecContext(ctx, `
INSERT INTO sequences(id, candidate_id, funnel, current_step, status, started_at, last_step_sent_at, next_due_at, end_reason, version, updated_at)
VALUES(?,?,?,?,?,?,?,?,?,?,?);`,
		seq.ID, seq.CandidateID, seq.Funnel, seq.CurrentStep, string(seq.Status),
		toMillis(seq.StartedAt), toMillis(seq.LastStepSentAt), toMillis(seq.NextDueAt), seq.EndReason, seq.Version, toMillis(seq.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Sequence{}, fmt.Errorf("create sequence %s/%s: %w", seq.CandidateID, seq.Funnel, domain.ErrConflict)
		}
		return domain.Sequence{}, fmt.Errorf("create sequence: %w", err)
	}
	return seq, nil
}

func (d *DB) GetSequence(ctx context.Context, id string) (domain.Sequence, error) {
	row := d.Pool.QueryRowContext(ctx, `SELECT `+sequenceCols+` FROM sequences q WHERE q.id = ?;`, id)
	seq, err := scanSequence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Sequence{}, fmt.Errorf("sequence %s: %w", id, domain.ErrNotFound)
	}
	return seq, err
}

// UpdateSequence writes seq if the stored row still has seq.Version and is
// not terminal. The returned sequence carries the new version. A lost race
// or a terminal row yields ErrStale.
func (d *DB) UpdateSequence(ctx context.Context, seq domain.Sequence) (domain.Sequence, error) {
	res, err := d.Pool.ExecContext(ctx, `
UPDATE sequences SET
  current_step = ?, status = ?, last_step_sent_at = ?, next_due_at = ?, end_reason = ?,
  version = version + 1, updated_at = ?
WHERE id = ? AND version = ? AND status NOT IN ('REPLIED', 'FAILED', 'COMPLETED');`,
		seq.CurrentStep, string(seq.Status), toMillis(seq.LastStepSentAt), toMillis(seq.NextDueAt), seq.EndReason,
		toMillis(seq.UpdatedAt), seq.ID, seq.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Sequence{}, fmt.Errorf("update sequence %s: %w", seq.ID, domain.ErrConflict)
		}
		return domain.Sequence{}, fmt.Errorf("update sequence: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Sequence{}, err
	}
	if n == 0 {
		if _, err := d.GetSequence(ctx, seq.ID); err != nil {
			return domain.Sequence{}, err
		}
		return domain.Sequence{}, fmt.Errorf("update sequence %s at version %d: %w", seq.ID, seq.Version, domain.ErrStale)
	}
	seq.Version++
	return seq, nil
}

// DueSequences returns up to limit ACTIVE sequences whose next action is
// due at now, longest overdue first. Sequences still waiting for their
// next step never take a slot.
func (d *DB) DueSequences(ctx context.Context, now time.Time, limit int) ([]domain.Sequence, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := d.Pool.QueryContext(ctx, `
SELECT `+sequenceCols+` FROM sequences q
WHERE q.status = 'ACTIVE' AND q.next_due_at <= ?
ORDER BY q.next_due_at, q.started_at, q.id
LIMIT ?;`, toMillis(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSequences(rows)
}

// CountWaitingSequences counts ACTIVE sequences whose next step is not
// yet due at now.
func (d *DB) CountWaitingSequences(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := d.Pool.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sequences WHERE status = 'ACTIVE' AND next_due_at > ?;`, toMillis(now)).Scan(&n)
	return n, err
}

// ActiveSequencesByDomain returns the ACTIVE sequences of candidates on
// the given registrable domain.
func (d *DB) ActiveSequencesByDomain(ctx context.Context, host string) ([]domain.Sequence, error) {
	rows, err := d.Pool.QueryContext(ctx, `
SELECT `+sequenceCols+` FROM sequences q
JOIN candidates c ON c.id = q.candidate_id
WHERE q.status = 'ACTIVE' AND c.domain = ?
ORDER BY q.started_at, q.id;`, strings.ToLower(strings.TrimSpace(host)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSequences(rows)
}

func (d *DB) ListSequences(ctx context.Context, status domain.SequenceStatus, limit int) ([]domain.Sequence, error) {
	if limit <= 0 {
		limit = 500
	}
	q := `SELECT ` + sequenceCols + ` FROM sequences q`
	args := []any{}
	if status != "" {
		q += ` WHERE q.status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY q.started_at DESC, q.id LIMIT ?;`
	args = append(args, limit)

	rows, err := d.Pool.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSequences(rows)
}

// EnrollableCandidates returns candidates whose current, quorum-backed
// score has one of tiers and who may start a sequence in funnel.
//
// Any earlier sequence in the funnel blocks enrollment, except one that
// ended COMPLETED or FAILED without an OPENED or REPLIED event and after
// which the candidate dropped out of tiers and crossed back in. A replied
// candidate is never enrolled in the same funnel again.
func (d *DB) EnrollableCandidates(ctx context.Context, funnel string, tiers []domain.Tier, limit int) ([]domain.QualifiedCandidate, error) {
	if limit <= 0 || len(tiers) == 0 {
		return nil, nil
	}
	marks := make([]string, len(tiers))
	tierArgs := make([]any, len(tiers))
	for i, t := range tiers {
		marks[i] = "?"
		tierArgs[i] = string(t)
	}
	in := strings.Join(marks, ",")
	args := append([]any{}, tierArgs...)
	args = append(args, funnel)
	args = append(args, tierArgs...)
	args = append(args, limit)

	rows, err := d.Pool.QueryContext(ctx, `
SELECT `+candidateCols+`, `+scoreCols+`
FROM candidates c
JOIN scores s ON s.candidate_id = c.id AND s.superseded_at = 0
WHERE s.quorum_met = 1 AND s.tier IN (`+in+`)
  AND NOT EXISTS (
    SELECT 1 FROM sequences q
    WHERE q.candidate_id = c.id AND q.funnel = ?
      AND NOT (
        q.status IN ('COMPLETED', 'FAILED')
        AND NOT EXISTS (
          SELECT 1 FROM outreach_events e
          WHERE e.sequence_id = q.id AND e.status IN ('OPENED', 'REPLIED')
        )
        AND EXISTS (
          SELECT 1 FROM scores p
          WHERE p.candidate_id = c.id
            AND p.computed_at >= q.updated_at AND p.computed_at <= s.computed_at
            AND (p.quorum_met = 0 OR p.tier NOT IN (`+in+`))
        )
      )
  )
ORDER BY s.total DESC, s.computed_at, c.id
LIMIT ?;`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectQualified(rows)
}

func scanSequence(row rowScanner) (domain.Sequence, error) {
	var (
		s                           domain.Sequence
		status                      string
		started, sent, due, updated int64
	)
	if err := row.Scan(&s.ID, &s.CandidateID, &s.Funnel, &s.CurrentStep, &status,
		&started, &sent, &due, &s.EndReason, &s.Version, &updated); err != nil {
		return domain.Sequence{}, err
	}
	s.Status = domain.SequenceStatus(status)
	s.StartedAt = fromMillis(started)
	s.LastStepSentAt = fromMillis(sent)
	s.NextDueAt = fromMillis(due)
	s.UpdatedAt = fromMillis(updated)
	return s, nil
}

func collectSequences(rows *sql.Rows) ([]domain.Sequence, error) {
	var out []domain.Sequence
	for rows.Next() {
		s, err := scanSequence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
