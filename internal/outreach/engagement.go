package outreach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"prospect-engine/internal/domain"
)

// RecordEngagement appends a DELIVERED, OPENED or REPLIED event for a step.
// A negative step means the most recently sent one. REPLIED ends a live
// sequence at once. Terminal sequences still get the audit event but are
// not changed.
func (s *Scheduler) RecordEngagement(ctx context.Context, sequenceID string, step int, status domain.EventStatus, at time.Time) (domain.Sequence, error) {
	switch status {
	case domain.EventDelivered, domain.EventOpened, domain.EventReplied:
	default:
		return domain.Sequence{}, fmt.Errorf("record engagement: status %q is not an engagement", status)
	}
	if at.IsZero() {
		at = s.now().UTC()
	}

	seq, err := s.store.GetSequence(ctx, sequenceID)
	if err != nil {
		return domain.Sequence{}, err
	}
	if step < 0 {
		step = seq.CurrentStep - 1
		if step < 0 {
			step = 0
		}
	}

	if _, err := s.store.AppendOutreachEvent(ctx, domain.OutreachEvent{
		SequenceID: seq.ID,
		Step:       step,
		Status:     status,
		At:         at,
	}); err != nil {
		return seq, fmt.Errorf("record engagement: %w", err)
	}
	s.log.Info("engagement recorded",
		zap.String("sequence", seq.ID),
		zap.Int("step", step),
		zap.String("status", string(status)))

	if status != domain.EventReplied {
		return seq, nil
	}

	// A concurrent advance may bump the version; reload and retry once.
	for attempt := 0; attempt < 2; attempt++ {
		if seq.Status.Terminal() {
			return seq, nil
		}
		res := Advance{Sequence: seq}
		res, err = s.finish(ctx, res, seq, domain.SequenceReplied, "reply received", OutcomeReplied)
		if err == nil {
			return res.Sequence, nil
		}
		if !errors.Is(err, domain.ErrStale) {
			return seq, err
		}
		if seq, err = s.store.GetSequence(ctx, sequenceID); err != nil {
			return seq, err
		}
	}
	return seq, fmt.Errorf("record engagement %s: %w", sequenceID, domain.ErrStale)
}

// Pause stops an ACTIVE sequence from advancing. The elapsed-time cap keeps
// running while paused.
func (s *Scheduler) Pause(ctx context.Context, sequenceID string) (domain.Sequence, error) {
	return s.setStatus(ctx, sequenceID, domain.SequenceActive, domain.SequencePaused)
}

func (s *Scheduler) Resume(ctx context.Context, sequenceID string) (domain.Sequence, error) {
	return s.setStatus(ctx, sequenceID, domain.SequencePaused, domain.SequenceActive)
}

func (s *Scheduler) setStatus(ctx context.Context, id string, from, to domain.SequenceStatus) (domain.Sequence, error) {
	seq, err := s.store.GetSequence(ctx, id)
	if err != nil {
		return domain.Sequence{}, err
	}
	if seq.Status != from {
		return seq, fmt.Errorf("sequence %s is %s, not %s: %w", id, seq.Status, from, domain.ErrConflict)
	}
	seq.Status = to
	seq.UpdatedAt = s.now().UTC()
	return s.save(ctx, seq)
}
