package qualify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"prospect-engine/internal/domain"
	"prospect-engine/internal/enrich"
	"prospect-engine/internal/events"
	"prospect-engine/internal/gate"
	"prospect-engine/internal/rank"
)

type Store interface {
	CandidatesDueForQualification(ctx context.Context, staleBefore time.Time, limit int) ([]domain.Candidate, error)
	SaveQualification(ctx context.Context, results []domain.GateResult, s domain.QualificationScore) error
	GetCompanyDomain(ctx context.Context, company string) (string, error)
	UpsertCompanyDomain(ctx context.Context, company, host string, now time.Time) error
	SetCandidateDomain(ctx context.Context, id, host string, now time.Time) error
}

type Resolver interface {
	Resolve(ctx context.Context, company string) (string, error)
}

type Collector interface {
	Collect(ctx context.Context, cand domain.Candidate) domain.EnrichmentBundle
}

type Options struct {
	TTL         time.Duration
	Concurrency int
	Resolver    Resolver
	Events      events.Publisher
	Logger      *zap.Logger
	Now         func() time.Time
}

// Pipeline runs collect, evaluate, aggregate and persist for a candidate.
// Gate evaluation always starts after collection has returned.
type Pipeline struct {
	collector Collector
	evaluator *gate.Evaluator
	agg       rank.Aggregator
	store     Store
	opts      Options
	log       *zap.Logger
	now       func() time.Time
}

func New(c Collector, ev *gate.Evaluator, agg rank.Aggregator, st Store, opts Options) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	p := &Pipeline{collector: c, evaluator: ev, agg: agg, store: st, opts: opts, log: opts.Logger, now: opts.Now}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

type Outcome struct {
	Candidate domain.Candidate
	Bundle    domain.EnrichmentBundle
	Results   []domain.GateResult
	Score     domain.QualificationScore
}

// Qualify scores one candidate and persists the run. Only a persistence
// failure is returned as an error.
func (p *Pipeline) Qualify(ctx context.Context, cand domain.Candidate) (Outcome, error) {
	now := p.now().UTC()
	runID := uuid.NewString()

	if cand.Domain == "" {
		cand.Domain = p.resolveDomain(ctx, cand, now)
	}

	bundle := domain.EnrichmentBundle{CandidateID: cand.ID, CollectedAt: now, Fields: domain.Signals{}}
	if cand.Domain != "" {
		bundle = p.collector.Collect(ctx, cand)
	}

	results := p.evaluator.Evaluate(ctx, cand, bundle)
	for i := range results {
		results[i].RunID = runID
		results[i].CandidateID = cand.ID
		results[i].EvaluatedAt = now
	}

	score := p.agg.Aggregate(results)
	score.CandidateID = cand.ID
	score.RunID = runID
	score.ComputedAt = now

	out := Outcome{Candidate: cand, Bundle: bundle, Results: results, Score: score}
	if err := p.store.SaveQualification(ctx, results, score); err != nil {
		return out, fmt.Errorf("qualify %s: %w", cand.ID, err)
	}

	p.log.Info("candidate qualified",
		zap.String("candidate", cand.ID),
		zap.String("domain", cand.Domain),
		zap.String("tier", string(score.Tier)),
		zap.Float64("total", score.Total),
		zap.Int("gates_passed", score.GatesPassed),
		zap.Bool("partial", bundle.Partial()))
	if score.Tier != domain.TierRejected {
		events.Emit(p.opts.Events, events.TypeCandidateQualified, score)
	}
	return out, nil
}

func (p *Pipeline) resolveDomain(ctx context.Context, cand domain.Candidate, now time.Time) string {
	if p.opts.Resolver == nil || cand.Name == "" {
		return ""
	}
	host, err := p.store.GetCompanyDomain(ctx, cand.Name)
	if err != nil {
		p.log.Warn("domain cache lookup failed", zap.String("company", cand.Name), zap.Error(err))
	}
	if host == "" {
		found, err := p.opts.Resolver.Resolve(ctx, cand.Name)
		if err != nil {
			p.log.Warn("domain resolution failed", zap.String("company", cand.Name), zap.Error(err))
			return ""
		}
		host = enrich.NormalizeDomain(found)
		if host == "" {
			return ""
		}
		if err := p.store.UpsertCompanyDomain(ctx, cand.Name, host, now); err != nil {
			p.log.Warn("domain cache write failed", zap.String("company", cand.Name), zap.Error(err))
		}
	}
	if err := p.store.SetCandidateDomain(ctx, cand.ID, host, now); err != nil && !errors.Is(err, domain.ErrNotFound) {
		p.log.Warn("set candidate domain failed", zap.String("candidate", cand.ID), zap.Error(err))
	}
	return host
}

// BatchResult counts what a batch of qualifications did.
type BatchResult struct {
	Enriched  int
	TimedOut  int
	Qualified int
	Errored   int
}

// QualifyDue qualifies up to limit candidates whose score is missing or
// older than the enrichment TTL. Failing to list candidates is returned;
// individual candidate failures are counted.
func (p *Pipeline) QualifyDue(ctx context.Context, limit int) (BatchResult, error) {
	staleBefore := p.now().Add(-p.opts.TTL)
	due, err := p.store.CandidatesDueForQualification(ctx, staleBefore, limit)
	if err != nil {
		return BatchResult{}, fmt.Errorf("list due candidates: %w", err)
	}
	return p.QualifyAll(ctx, due), nil
}

// QualifyAll qualifies cands with bounded concurrency.
func (p *Pipeline) QualifyAll(ctx context.Context, cands []domain.Candidate) BatchResult {
	var (
		mu  sync.Mutex
		res BatchResult
		g   errgroup.Group
	)
	g.SetLimit(p.opts.Concurrency)
	for _, c := range cands {
		c := c
		g.Go(func() error {
			out, err := p.Qualify(ctx, c)

			mu.Lock()
			defer mu.Unlock()
			if len(out.Bundle.Sources) > 0 {
				res.Enriched++
			}
			if out.Bundle.TimedOut() {
				res.TimedOut++
			}
			if err != nil {
				res.Errored++
				p.log.Error("qualification failed", zap.String("candidate", c.ID), zap.Error(err))
				return nil
			}
			if out.Score.Tier != domain.TierRejected {
				res.Qualified++
			}
			return nil
		})
	}
	_ = g.Wait()
	return res
}
