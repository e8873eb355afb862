package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"prospect-engine/internal/config"
	"prospect-engine/internal/domain"
	"prospect-engine/internal/events"
	"prospect-engine/internal/outreach"
	"prospect-engine/internal/qualify"
)

type Store interface {
	DueSequences(ctx context.Context, now time.Time, limit int) ([]domain.Sequence, error)
	CountWaitingSequences(ctx context.Context, now time.Time) (int, error)
	EnrollableCandidates(ctx context.Context, funnel string, tiers []domain.Tier, limit int) ([]domain.QualifiedCandidate, error)
	RecordTick(ctx context.Context, r domain.TickReport) error
}

type Qualifier interface {
	QualifyDue(ctx context.Context, limit int) (qualify.BatchResult, error)
}

type Sequencer interface {
	Start(ctx context.Context, cand domain.Candidate, funnel string) (domain.Sequence, error)
	Advance(ctx context.Context, seq domain.Sequence) (outreach.Advance, error)
}

// Locker is a cross-process tick lock.
type Locker interface {
	TryLock() error
	Unlock() error
}

type Options struct {
	// Qualifier, when set, refreshes due candidates before sequences move.
	Qualifier Qualifier
	Lock      Locker
	Events    events.Publisher
	Logger    *zap.Logger
	Now       func() time.Time
}

// Runner drives one campaign tick at a time.
type Runner struct {
	store   Store
	seq     Sequencer
	funnels []config.Funnel
	caps    config.CampaignConfig
	opts    Options
	log     *zap.Logger
	now     func() time.Time

	mu sync.Mutex
}

func NewRunner(st Store, seq Sequencer, funnels []config.Funnel, caps config.CampaignConfig, opts Options) *Runner {
	r := &Runner{store: st, seq: seq, funnels: funnels, caps: caps, opts: opts, log: opts.Logger, now: opts.Now}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// RunTick qualifies due candidates, advances live sequences and enrolls
// newly qualified candidates. A failed send is counted and retried next
// tick; a persistence failure or uniqueness conflict aborts the tick. The
// report is recorded either way.
func (r *Runner) RunTick(ctx context.Context) (domain.TickReport, error) {
	if !r.mu.TryLock() {
		return domain.TickReport{}, domain.ErrTickInProgress
	}
	defer r.mu.Unlock()

	if r.opts.Lock != nil {
		if err := r.opts.Lock.TryLock(); err != nil {
			return domain.TickReport{}, err
		}
		defer func() {
			if err := r.opts.Lock.Unlock(); err != nil {
				r.log.Warn("release tick lock", zap.Error(err))
			}
		}()
	}

	rep := domain.TickReport{ID: uuid.NewString(), StartedAt: r.now().UTC()}
	err := r.run(ctx, &rep)
	rep.FinishedAt = r.now().UTC()
	if err != nil {
		rep.Error = err.Error()
	}

	if rerr := r.store.RecordTick(context.WithoutCancel(ctx), rep); rerr != nil {
		r.log.Error("record tick", zap.String("tick", rep.ID), zap.Error(rerr))
		err = errors.Join(err, fmt.Errorf("record tick: %w", rerr))
	}

	fields := []zap.Field{
		zap.String("tick", rep.ID),
		zap.Int("qualified", rep.Qualified),
		zap.Int("advanced", rep.Advanced),
		zap.Int("skipped_due", rep.SkippedDue),
		zap.Int("errored", rep.Errored),
		zap.Int("started", rep.Started),
		zap.Int("completed", rep.Completed),
		zap.Duration("took", rep.FinishedAt.Sub(rep.StartedAt)),
	}
	if err != nil {
		r.log.Error("tick failed", append(fields, zap.Error(err))...)
		events.Emit(r.opts.Events, events.TypeTickFailed, rep)
		return rep, err
	}
	r.log.Info("tick completed", fields...)
	events.Emit(r.opts.Events, events.TypeTickCompleted, rep)
	return rep, nil
}

func (r *Runner) run(ctx context.Context, rep *domain.TickReport) error {
	if r.opts.Qualifier != nil && r.caps.QualifyPerTick > 0 {
		br, err := r.opts.Qualifier.QualifyDue(ctx, r.caps.QualifyPerTick)
		if err != nil {
			return err
		}
		rep.Enriched = br.Enriched
		rep.TimedOut = br.TimedOut
		rep.Qualified = br.Qualified
	}

	// The advance cap applies to due sequences only; waiting ones are
	// counted, not loaded.
	now := r.now().UTC()
	waiting, err := r.store.CountWaitingSequences(ctx, now)
	if err != nil {
		return fmt.Errorf("count waiting sequences: %w", err)
	}
	rep.SkippedDue += waiting
	due, err := r.store.DueSequences(ctx, now, r.caps.AdvancePerTick)
	if err != nil {
		return fmt.Errorf("list due sequences: %w", err)
	}
	for _, s := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.advance(ctx, s, rep); err != nil {
			return err
		}
	}

	return r.enroll(ctx, rep)
}

// advance moves one sequence and folds the outcome into rep. Only errors
// that should stop the tick are returned.
func (r *Runner) advance(ctx context.Context, s domain.Sequence, rep *domain.TickReport) error {
	res, err := r.seq.Advance(ctx, s)
	rep.Skipped += res.Skipped
	if res.Sent {
		rep.Advanced++
	}
	if err != nil {
		var serr *domain.SendError
		switch {
		case errors.As(err, &serr):
			rep.Errored++
			return nil
		case errors.Is(err, domain.ErrStale):
			// Another writer (an engagement webhook) moved the row first.
			r.log.Info("sequence changed during tick", zap.String("sequence", s.ID))
			return nil
		}
		return err
	}

	switch res.Outcome {
	case outreach.OutcomeWaiting:
		rep.SkippedDue++
	case outreach.OutcomeCompleted:
		rep.Completed++
	case outreach.OutcomeReplied:
		rep.Replied++
	case outreach.OutcomeAbandoned:
		rep.Abandoned++
	}
	return nil
}

func (r *Runner) enroll(ctx context.Context, rep *domain.TickReport) error {
	budget := r.caps.StartPerTick
	for _, f := range r.funnels {
		if budget <= 0 {
			return nil
		}
		cands, err := r.store.EnrollableCandidates(ctx, f.Name, f.Tiers, budget)
		if err != nil {
			return fmt.Errorf("list enrollable for %s: %w", f.Name, err)
		}
		for _, qc := range cands {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := r.seq.Start(ctx, qc.Candidate, f.Name)
			if err != nil {
				return err
			}
			rep.Started++
			budget--

			// Day-0 steps go out in the tick that opens the sequence.
			if err := r.advance(ctx, s, rep); err != nil {
				return err
			}
		}
	}
	return nil
}
