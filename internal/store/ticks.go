package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"prospect-engine/internal/domain"
)

func (d *DB) RecordTick(ctx context.Context, r domain.TickReport) error {
	if r.ID == "" {
		return errors.New("record tick: id is required")
	}
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("record tick: %w", err)
	}
	_, err = d.Pool.ExecContext(ctx, `
INSERT INTO tick_runs(id, started_at, finished_at, report, error)
VALUES(?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  finished_at = excluded.finished_at,
  report = excluded.report,
  error = excluded.error;`,
		r.ID, toMillis(r.StartedAt), toMillis(r.FinishedAt), string(b), r.Error)
	if err != nil {
		return fmt.Errorf("record tick: %w", err)
	}
	return nil
}

func (d *DB) LastTick(ctx context.Context) (domain.TickReport, error) {
	ticks, err := d.ListTicks(ctx, 1)
	if err != nil {
		return domain.TickReport{}, err
	}
	if len(ticks) == 0 {
		return domain.TickReport{}, fmt.Errorf("last tick: %w", domain.ErrNotFound)
	}
	return ticks[0], nil
}

// ListTicks returns the most recent tick reports, newest first.
func (d *DB) ListTicks(ctx context.Context, limit int) ([]domain.TickReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT report FROM tick_runs ORDER BY started_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTicks(rows)
}

func collectTicks(rows *sql.Rows) ([]domain.TickReport, error) {
	var out []domain.TickReport
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var r domain.TickReport
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode tick report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
