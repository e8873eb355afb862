package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"prospect-engine/internal/domain"
)

// SaveSnapshot appends one source's fetch outcome for a candidate.
func (d *DB) SaveSnapshot(ctx context.Context, snap domain.SourceSnapshot) error {
	if snap.CandidateID == "" || snap.Source == "" {
		return errors.New("save snapshot: candidate and source are required")
	}
	signals := snap.Signals
	if signals == nil {
		signals = domain.Signals{}
	}
	b, err := json.Marshal(signals)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	_, err = d.Pool.ExecContext(ctx, `
INSERT INTO source_snapshots(candidate_id, source, collected_at, ok, timed_out, error, signals)
VALUES(?,?,?,?,?,?,?);`,
		snap.CandidateID, snap.Source, toMillis(snap.CollectedAt),
		boolInt(snap.OK), boolInt(snap.TimedOut), snap.Error, string(b))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LatestSnapshots returns the newest successful snapshot per source.
func (d *DB) LatestSnapshots(ctx context.Context, candidateID string) ([]domain.SourceSnapshot, error) {
	rows, err := d.Pool.QueryContext(ctx, `
SELECT s.source, s.collected_at, s.signals
FROM source_snapshots s
WHERE s.candidate_id = ? AND s.ok = 1
  AND s.collected_at = (
    SELECT MAX(collected_at) FROM source_snapshots
    WHERE candidate_id = s.candidate_id AND source = s.source AND ok = 1
  )
ORDER BY s.source, s.id DESC;`, candidateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SourceSnapshot
	seen := map[string]bool{}
	for rows.Next() {
		var (
			snap      domain.SourceSnapshot
			collected int64
			signals   string
		)
		if err := rows.Scan(&snap.Source, &collected, &signals); err != nil {
			return nil, err
		}
		if seen[snap.Source] {
			continue
		}
		seen[snap.Source] = true
		snap.CandidateID = candidateID
		snap.CollectedAt = fromMillis(collected)
		snap.OK = true
		if err := json.Unmarshal([]byte(signals), &snap.Signals); err != nil {
			return nil, fmt.Errorf("snapshot %s/%s: %w", candidateID, snap.Source, err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
