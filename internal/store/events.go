package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"prospect-engine/internal/domain"
)

// AppendOutreachEvent records ev. A SENT event for a (sequence, step) that
// already has one is dropped and reported as not inserted.
func (d *DB) AppendOutreachEvent(ctx context.Context, ev domain.OutreachEvent) (bool, error) {
	if ev.SequenceID == "" {
		return false, errors.New("append outreach event: sequence is required")
	}
	if ev.Step < 0 {
		return false, errors.New("append outreach event: step must be >= 0")
	}
	switch ev.Status {
	case domain.EventSent, domain.EventDelivered, domain.EventOpened, domain.EventReplied, domain.EventFailed:
	default:
		return false, fmt.Errorf("append outreach event: invalid status %q", ev.Status)
	}
	if ev.At.IsZero() {
		return false, errors.New("append outreach event: at is required")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	res, err := d.Pool.ExecContext(ctx, `
INSERT INTO outreach_events(id, sequence_id, step, channel, status, at, receipt, error)
VALUES(?,?,?,?,?,?,?,?)
ON CONFLICT DO NOTHING;`,
		ev.ID, ev.SequenceID, ev.Step, ev.Channel, string(ev.Status), toMillis(ev.At), ev.Receipt, ev.Error)
	if err != nil {
		return false, fmt.Errorf("append outreach event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SequenceEvents returns a sequence's events in the order they happened.
func (d *DB) SequenceEvents(ctx context.Context, sequenceID string) ([]domain.OutreachEvent, error) {
	rows, err := d.Pool.QueryContext(ctx, `
SELECT id, sequence_id, step, channel, status, at, receipt, error
FROM outreach_events WHERE sequence_id = ?
ORDER BY at, rowid;`, sequenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OutreachEvent
	for rows.Next() {
		var (
			ev     domain.OutreachEvent
			status string
			at     int64
		)
		if err := rows.Scan(&ev.ID, &ev.SequenceID, &ev.Step, &ev.Channel, &status, &at, &ev.Receipt, &ev.Error); err != nil {
			return nil, err
		}
		ev.Status = domain.EventStatus(status)
		ev.At = fromMillis(at)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CountEvents counts events with the given status across all sequences.
func (d *DB) CountEvents(ctx context.Context, status domain.EventStatus) (int, error) {
	var n int
	err := d.Pool.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outreach_events WHERE status = ?;`, string(status)).Scan(&n)
	return n, err
}
