package outreach

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"prospect-engine/internal/config"
	"prospect-engine/internal/domain"
	"prospect-engine/internal/events"
)

type Store interface {
	GetCandidate(ctx context.Context, id string) (domain.Candidate, error)
	CreateSequence(ctx context.Context, seq domain.Sequence) (domain.Sequence, error)
	GetSequence(ctx context.Context, id string) (domain.Sequence, error)
	UpdateSequence(ctx context.Context, seq domain.Sequence) (domain.Sequence, error)
	AppendOutreachEvent(ctx context.Context, ev domain.OutreachEvent) (bool, error)
	SequenceEvents(ctx context.Context, sequenceID string) ([]domain.OutreachEvent, error)
}

type Options struct {
	SendTimeout time.Duration
	Events      events.Publisher
	Logger      *zap.Logger
	Now         func() time.Time
}

// Scheduler is the only writer of sequence state.
type Scheduler struct {
	funnels  map[string]config.Funnel
	channels map[string]Channel
	store    Store
	opts     Options
	log      *zap.Logger
	now      func() time.Time
}

func NewScheduler(funnels []config.Funnel, channels map[string]Channel, st Store, opts Options) *Scheduler {
	s := &Scheduler{
		funnels:  make(map[string]config.Funnel, len(funnels)),
		channels: channels,
		store:    st,
		opts:     opts,
		log:      opts.Logger,
		now:      opts.Now,
	}
	for _, f := range funnels {
		s.funnels[f.Name] = f
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Start opens a sequence for cand in funnel at step 0. A live sequence in
// the same funnel yields ErrConflict.
func (s *Scheduler) Start(ctx context.Context, cand domain.Candidate, funnel string) (domain.Sequence, error) {
	f, ok := s.funnels[funnel]
	if !ok {
		return domain.Sequence{}, fmt.Errorf("start sequence: unknown funnel %q", funnel)
	}
	now := s.now().UTC()
	seq := domain.Sequence{
		CandidateID: cand.ID,
		Funnel:      funnel,
		CurrentStep: 0,
		Status:      domain.SequenceActive,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	seq.NextDueAt = NextDue(f, seq)
	seq, err := s.store.CreateSequence(ctx, seq)
	if err != nil {
		return domain.Sequence{}, err
	}
	s.log.Info("sequence started",
		zap.String("sequence", seq.ID),
		zap.String("candidate", cand.ID),
		zap.String("funnel", funnel))
	events.Emit(s.opts.Events, events.TypeSequenceStarted, seq)
	return seq, nil
}

type Outcome int

const (
	OutcomeNoop Outcome = iota
	OutcomeWaiting
	OutcomeSent
	OutcomeCompleted
	OutcomeReplied
	OutcomeAbandoned
	OutcomeErrored
)

func (o Outcome) String() string {
	return [...]string{"noop", "waiting", "sent", "completed", "replied", "abandoned", "errored"}[o]
}

// Advance is what one Advance call did to a sequence.
type Advance struct {
	Sequence domain.Sequence
	Outcome  Outcome
	// Sent is set when a step was delivered during this call.
	Sent bool
	// Skipped counts engagement-gated steps passed over.
	Skipped int
	// Reconciled counts steps found already SENT and advanced without a send.
	Reconciled int
}

// Advance moves seq forward as far as its persisted state allows, sending
// at most one step. A failed send is recorded as a FAILED event and
// leaves the sequence on the same step for the next tick.
func (s *Scheduler) Advance(ctx context.Context, seq domain.Sequence) (Advance, error) {
	res := Advance{Sequence: seq}
	f, ok := s.funnels[seq.Funnel]
	if !ok {
		res.Outcome = OutcomeErrored
		return res, fmt.Errorf("sequence %s: unknown funnel %q", seq.ID, seq.Funnel)
	}

	evs, err := s.store.SequenceEvents(ctx, seq.ID)
	if err != nil {
		res.Outcome = OutcomeErrored
		return res, fmt.Errorf("load events for %s: %w", seq.ID, err)
	}

	sent := false
	for {
		now := s.now().UTC()
		act := NextAction(f, seq, evs, now)

		switch act.Kind {
		case ActionNone:
			if sent {
				res.Outcome = OutcomeSent
			}
			return res, nil

		case ActionReply:
			return s.finish(ctx, res, seq, domain.SequenceReplied, "reply received", OutcomeReplied)

		case ActionComplete:
			return s.finish(ctx, res, seq, domain.SequenceCompleted, "all steps done", OutcomeCompleted)

		case ActionAbandon:
			return s.finish(ctx, res, seq, domain.SequenceFailed, "max elapsed exceeded", OutcomeAbandoned)

		case ActionReconcile:
			seq.CurrentStep++
			seq.LastStepSentAt = act.SentAt
			seq.UpdatedAt = now
			if seq, err = s.save(ctx, seq); err != nil {
				res.Outcome = OutcomeErrored
				return res, err
			}
			res.Sequence = seq
			res.Reconciled++

		case ActionWait:
			res.Outcome = OutcomeWaiting
			if sent {
				res.Outcome = OutcomeSent
			}
			// Rows written before next_due_at existed carry a zero due time.
			if !seq.NextDueAt.Equal(NextDue(f, seq)) {
				seq.UpdatedAt = now
				if seq, err = s.save(ctx, seq); err != nil {
					res.Outcome = OutcomeErrored
					return res, err
				}
				res.Sequence = seq
			}
			return res, nil

		case ActionSkip:
			s.log.Info("step skipped without engagement",
				zap.String("sequence", seq.ID),
				zap.Int("step", act.Step),
				zap.String("channel", act.Spec.Channel))
			seq.CurrentStep++
			seq.UpdatedAt = now
			if seq, err = s.save(ctx, seq); err != nil {
				res.Outcome = OutcomeErrored
				return res, err
			}
			res.Sequence = seq
			res.Skipped++

		case ActionSend:
			if sent {
				res.Outcome = OutcomeSent
				return res, nil
			}
			ev, err := s.send(ctx, seq, act)
			if err != nil {
				res.Outcome = OutcomeErrored
				return res, err
			}
			evs = append(evs, ev)
			sent = true
			res.Sent = true
		}
	}
}

// send delivers one step and records the SENT event. The sequence row is
// advanced afterwards by the reconcile pass, so a crash in between resumes
// without re-sending.
func (s *Scheduler) send(ctx context.Context, seq domain.Sequence, act Action) (domain.OutreachEvent, error) {
	step := act.Spec
	// A delivery failure is a SendError only once its FAILED event is on
	// record. If that write fails too, the store error is returned alone
	// and the tick stops.
	fail := func(err error) (domain.OutreachEvent, error) {
		s.log.Warn("send failed",
			zap.String("sequence", seq.ID),
			zap.Int("step", act.Step),
			zap.String("channel", step.Channel),
			zap.Error(err))
		if _, aerr := s.store.AppendOutreachEvent(ctx, domain.OutreachEvent{
			SequenceID: seq.ID,
			Step:       act.Step,
			Channel:    step.Channel,
			Status:     domain.EventFailed,
			At:         s.now().UTC(),
			Error:      err.Error(),
		}); aerr != nil {
			return domain.OutreachEvent{}, fmt.Errorf("record failed send of step %d for %s (%v): %w", act.Step, seq.ID, err, aerr)
		}
		return domain.OutreachEvent{}, &domain.SendError{Channel: step.Channel, Step: act.Step, Err: err}
	}

	ch, ok := s.channels[step.Channel]
	if !ok {
		return fail(fmt.Errorf("no adapter for channel %q", step.Channel))
	}
	cand, err := s.store.GetCandidate(ctx, seq.CandidateID)
	if err != nil {
		return domain.OutreachEvent{}, fmt.Errorf("load candidate %s: %w", seq.CandidateID, err)
	}

	sctx := ctx
	if s.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, s.opts.SendTimeout)
		defer cancel()
	}
	to := Recipient{CandidateID: cand.ID, Company: cand.Name, Domain: cand.Domain, Contact: cand.Contact}
	receipt, err := ch.Send(sctx, to, step.Template, personalization(cand, seq, act.Step))
	if err != nil {
		return fail(err)
	}

	at := receipt.At
	if at.IsZero() {
		at = s.now().UTC()
	}
	ev := domain.OutreachEvent{
		SequenceID: seq.ID,
		Step:       act.Step,
		Channel:    step.Channel,
		Status:     domain.EventSent,
		At:         at,
		Receipt:    receipt.MessageID,
	}
	inserted, err := s.store.AppendOutreachEvent(ctx, ev)
	if err != nil {
		return domain.OutreachEvent{}, fmt.Errorf("record send of step %d for %s: %w", act.Step, seq.ID, err)
	}
	if !inserted {
		s.log.Warn("step already recorded as sent", zap.String("sequence", seq.ID), zap.Int("step", act.Step))
	}

	s.log.Info("step sent",
		zap.String("sequence", seq.ID),
		zap.Int("step", act.Step),
		zap.String("channel", step.Channel),
		zap.String("template", step.Template),
		zap.String("receipt", receipt.MessageID))
	events.Emit(s.opts.Events, events.TypeSequenceStepSent, ev)
	return ev, nil
}

func personalization(cand domain.Candidate, seq domain.Sequence, step int) map[string]string {
	return map[string]string{
		"company":      cand.Name,
		"domain":       cand.Domain,
		"industry":     cand.Industry,
		"contact_name": cand.Contact.Name,
		"funnel":       seq.Funnel,
		"step":         strconv.Itoa(step),
	}
}

func (s *Scheduler) save(ctx context.Context, seq domain.Sequence) (domain.Sequence, error) {
	if f, ok := s.funnels[seq.Funnel]; ok {
		seq.NextDueAt = NextDue(f, seq)
	}
	out, err := s.store.UpdateSequence(ctx, seq)
	if err != nil {
		return seq, fmt.Errorf("save sequence %s: %w", seq.ID, err)
	}
	return out, nil
}

func (s *Scheduler) finish(ctx context.Context, res Advance, seq domain.Sequence, status domain.SequenceStatus, reason string, o Outcome) (Advance, error) {
	seq.Status = status
	seq.EndReason = reason
	seq.UpdatedAt = s.now().UTC()
	seq, err := s.save(ctx, seq)
	if err != nil {
		res.Outcome = OutcomeErrored
		return res, err
	}
	res.Sequence = seq
	res.Outcome = o
	s.log.Info("sequence ended",
		zap.String("sequence", seq.ID),
		zap.String("status", string(status)),
		zap.String("reason", reason),
		zap.Int("step", seq.CurrentStep))
	events.Emit(s.opts.Events, events.TypeSequenceEnded, seq)
	return res, nil
}
