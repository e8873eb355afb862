package qualify

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prospect-engine/internal/config"
	"prospect-engine/internal/domain"
	"prospect-engine/internal/events"
	"prospect-engine/internal/gate"
	"prospect-engine/internal/rank"
	"prospect-engine/internal/store"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeCollector struct {
	fields   domain.Signals
	timedOut bool
	calls    atomic.Int32
}

func (f *fakeCollector) Collect(_ context.Context, cand domain.Candidate) domain.EnrichmentBundle {
	f.calls.Add(1)
	return domain.EnrichmentBundle{
		CandidateID: cand.ID,
		CollectedAt: now,
		Sources:     []domain.SourceSnapshot{{Source: "fake", OK: !f.timedOut, TimedOut: f.timedOut}},
		Fields:      f.fields,
	}
}

type fakeResolver struct {
	host  string
	err   error
	calls atomic.Int32
}

func (f *fakeResolver) Resolve(context.Context, string) (string, error) {
	f.calls.Add(1)
	return f.host, f.err
}

// strongSignals clears all four gates under the default configuration.
func strongSignals() domain.Signals {
	f := domain.Signals{}
	f.Count(domain.SignalAdCount, 8, "ads", "")
	f.Flag(domain.SignalNoHTTPS, true, "website", "")
	f.Flag(domain.SignalNoViewport, true, "website", "")
	f.Flag(domain.SignalNoAnalytics, true, "website", "")
	f.Count(domain.SignalAdPlatforms, 3, "ads", "")
	f.Count(domain.SignalAdCreatives, 10, "ads", "")
	f.Flag(domain.SignalCustomDomain, true, "website", "")
	f.Count(domain.SignalSocialProfiles, 4, "website", "")
	f.Flag(domain.SignalContactEmail, true, "website", "")
	f.Flag(domain.SignalContactLinkedIn, true, "website", "")
	f.Flag(domain.SignalContactPhone, true, "website", "")
	f.Flag(domain.SignalContactPage, true, "website", "")
	return f
}

func newPipeline(t *testing.T, c Collector, opts Options) (*Pipeline, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "q.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Default()
	opts.Now = func() time.Time { return now }
	if opts.TTL == 0 {
		opts.TTL = cfg.Enrichment.TTL
	}
	p := New(c, gate.NewEvaluator(gate.FromConfig(cfg.Gates), nil), rank.NewAggregator(cfg.Scoring, cfg.Quorum), db, opts)
	return p, db
}

func TestQualifyPersistsRun(t *testing.T) {
	ctx := context.Background()
	hub := events.NewHub()
	sub := hub.Subscribe()
	p, db := newPipeline(t, &fakeCollector{fields: strongSignals()}, Options{Events: hub})

	cand, _, err := db.UpsertCandidate(ctx, domain.Candidate{Name: "Acme", Domain: "acme.com"}, now)
	require.NoError(t, err)

	out, err := p.Qualify(ctx, cand)
	require.NoError(t, err)
	assert.Equal(t, domain.TierS, out.Score.Tier)
	assert.Equal(t, 4, out.Score.GatesPassed)

	cur, err := db.CurrentScore(ctx, cand.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Score, cur)

	results, err := db.GateResults(ctx, out.Score.RunID)
	require.NoError(t, err)
	assert.Len(t, results, 4)

	assert.Len(t, sub, 1)
}

func TestQualifyResolvesMissingDomain(t *testing.T) {
	ctx := context.Background()
	col := &fakeCollector{fields: strongSignals()}
	res := &fakeResolver{host: "https://www.acmedental.com/"}
	p, db := newPipeline(t, col, Options{Resolver: res})

	cand, _, err := db.UpsertCandidate(ctx, domain.Candidate{Name: "Acme Dental"}, now)
	require.NoError(t, err)

	out, err := p.Qualify(ctx, cand)
	require.NoError(t, err)
	assert.Equal(t, "acmedental.com", out.Candidate.Domain)
	assert.Equal(t, int32(1), col.calls.Load())

	stored, err := db.GetCandidate(ctx, cand.ID)
	require.NoError(t, err)
	assert.Equal(t, "acmedental.com", stored.Domain)

	cached, err := db.GetCompanyDomain(ctx, "acme dental")
	require.NoError(t, err)
	assert.Equal(t, "acmedental.com", cached)
}

func TestQualifyWithoutDomainSkipsCollection(t *testing.T) {
	ctx := context.Background()
	col := &fakeCollector{fields: strongSignals()}
	p, db := newPipeline(t, col, Options{Resolver: &fakeResolver{err: errors.New("search down")}})

	cand, _, err := db.UpsertCandidate(ctx, domain.Candidate{Name: "Ghost LLC"}, now)
	require.NoError(t, err)

	out, err := p.Qualify(ctx, cand)
	require.NoError(t, err)
	assert.Zero(t, col.calls.Load())
	assert.Equal(t, domain.TierRejected, out.Score.Tier)
	assert.Zero(t, out.Score.GatesPassed)
}

func TestQualifyDueCountsAndSkipsFresh(t *testing.T) {
	ctx := context.Background()
	col := &fakeCollector{fields: strongSignals(), timedOut: true}
	p, db := newPipeline(t, col, Options{})

	for _, host := range []string{"a.com", "b.com", "c.com"} {
		_, _, err := db.UpsertCandidate(ctx, domain.Candidate{Name: host, Domain: host}, now.Add(-time.Hour))
		require.NoError(t, err)
	}

	res, err := p.QualifyDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Enriched: 3, TimedOut: 3, Qualified: 3}, res)

	res, err = p.QualifyDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{}, res, "fresh scores are not recomputed")
}
