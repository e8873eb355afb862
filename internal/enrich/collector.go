package enrich

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"prospect-engine/internal/domain"
)

// SnapshotStore persists per-source snapshots so fresh ones can be reused
// until the TTL expires.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap domain.SourceSnapshot) error
	LatestSnapshots(ctx context.Context, candidateID string) ([]domain.SourceSnapshot, error)
}

type Options struct {
	TTL           time.Duration
	Budget        time.Duration
	SourceTimeout time.Duration
	MaxInFlight   int

	Store  SnapshotStore
	Logger *zap.Logger
	Now    func() time.Time
}

// Collector fans out to every source for a candidate. At most MaxInFlight
// fetches run at once across all Collect calls sharing the Collector.
type Collector struct {
	sources []Source
	sem     *semaphore.Weighted
	opts    Options
	log     *zap.Logger
	now     func() time.Time
}

func NewCollector(sources []Source, opts Options) *Collector {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 4
	}
	if opts.Budget <= 0 {
		opts.Budget = 30 * time.Second
	}
	if opts.SourceTimeout <= 0 || opts.SourceTimeout > opts.Budget {
		opts.SourceTimeout = opts.Budget
	}
	c := &Collector{
		sources: sources,
		sem:     semaphore.NewWeighted(int64(opts.MaxInFlight)),
		opts:    opts,
		log:     opts.Logger,
		now:     opts.Now,
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Collect never fails: a source that errors or times out leaves its fields
// UNKNOWN and is reported on the bundle. It returns within the configured
// budget even if a source ignores cancellation.
func (c *Collector) Collect(ctx context.Context, cand domain.Candidate) domain.EnrichmentBundle {
	now := c.now()
	snaps := make([]domain.SourceSnapshot, len(c.sources))
	fresh := c.reusable(ctx, cand.ID, now)

	bctx, cancel := context.WithTimeout(ctx, c.opts.Budget)
	defer cancel()

	var g errgroup.Group
	for i, src := range c.sources {
		if snap, ok := fresh[src.Name()]; ok {
			snap.Reused = true
			snaps[i] = snap
			continue
		}
		i, src := i, src
		g.Go(func() error {
			snaps[i] = c.fetch(bctx, src, cand, now)
			return nil
		})
	}
	_ = g.Wait()

	bundle := domain.EnrichmentBundle{
		CandidateID: cand.ID,
		CollectedAt: now,
		Sources:     snaps,
		Fields:      domain.Signals{},
	}
	for _, snap := range snaps {
		if !snap.Reused && c.opts.Store != nil {
			if err := c.opts.Store.SaveSnapshot(ctx, snap); err != nil {
				c.log.Warn("save snapshot failed",
					zap.String("candidate", cand.ID),
					zap.String("source", snap.Source),
					zap.Error(err))
			}
		}
		if !snap.OK {
			continue
		}
		for k, s := range snap.Signals {
			if !s.Known() {
				continue
			}
			if _, taken := bundle.Fields[k]; !taken {
				bundle.Fields[k] = s
			}
		}
	}
	return bundle
}

type fetchResult struct {
	signals domain.Signals
	err     error
}

func (c *Collector) fetch(ctx context.Context, src Source, cand domain.Candidate, now time.Time) domain.SourceSnapshot {
	snap := domain.SourceSnapshot{
		CandidateID: cand.ID,
		Source:      src.Name(),
		CollectedAt: now,
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return c.failed(snap, cand, &domain.SourceError{Source: src.Name(), Timeout: true, Err: err})
	}

	sctx, cancel := context.WithTimeout(ctx, c.opts.SourceTimeout)
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		defer c.sem.Release(1)
		signals, err := src.Fetch(sctx, cand.Domain)
		done <- fetchResult{signals: signals, err: err}
	}()

	var res fetchResult
	select {
	case res = <-done:
	case <-sctx.Done():
		res = fetchResult{err: sctx.Err()}
	}

	if res.err != nil {
		timeout := errors.Is(res.err, context.DeadlineExceeded)
		return c.failed(snap, cand, &domain.SourceError{Source: src.Name(), Timeout: timeout, Err: res.err})
	}

	snap.OK = true
	snap.Signals = domain.Signals{}
	for k, s := range res.signals {
		if s.Source == "" {
			s.Source = src.Name()
		}
		snap.Signals[k] = s
	}
	return snap
}

func (c *Collector) failed(snap domain.SourceSnapshot, cand domain.Candidate, err *domain.SourceError) domain.SourceSnapshot {
	snap.TimedOut = err.Timeout
	snap.Error = err.Error()
	c.log.Warn("enrichment source failed",
		zap.String("candidate", cand.ID),
		zap.String("domain", cand.Domain),
		zap.String("source", err.Source),
		zap.Bool("timeout", err.Timeout),
		zap.Error(err.Err))
	return snap
}

// reusable returns the last successful snapshot per source that is still
// inside the TTL.
func (c *Collector) reusable(ctx context.Context, candidateID string, now time.Time) map[string]domain.SourceSnapshot {
	out := map[string]domain.SourceSnapshot{}
	if c.opts.Store == nil || c.opts.TTL <= 0 || candidateID == "" {
		return out
	}
	snaps, err := c.opts.Store.LatestSnapshots(ctx, candidateID)
	if err != nil {
		c.log.Warn("load snapshots failed, refetching all sources",
			zap.String("candidate", candidateID), zap.Error(err))
		return out
	}
	for _, s := range snaps {
		if s.OK && now.Sub(s.CollectedAt) < c.opts.TTL {
			out[s.Source] = s
		}
	}
	return out
}

// Stale reports whether a bundle collected at t needs re-collection.
func (c *Collector) Stale(t time.Time) bool {
	return c.opts.TTL <= 0 || c.now().Sub(t) >= c.opts.TTL
}
