package campaign

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prospect-engine/internal/config"
	"prospect-engine/internal/domain"
	"prospect-engine/internal/outreach"
	"prospect-engine/internal/qualify"
	"prospect-engine/internal/store"
)

var t0 = time.Date(2026, 5, 4, 7, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// countingChannel accepts sends unless failing is set.
type countingChannel struct {
	id      string
	failing atomic.Bool
	sent    atomic.Int64
}

func (c *countingChannel) Name() string { return c.id }

func (c *countingChannel) Send(_ context.Context, _ outreach.Recipient, tmpl string, _ map[string]string) (domain.Receipt, error) {
	if c.failing.Load() {
		return domain.Receipt{}, errors.New("provider unavailable")
	}
	c.sent.Add(1)
	return domain.Receipt{Channel: c.id, MessageID: tmpl}, nil
}

type fixture struct {
	db     *store.DB
	clock  *clock
	email  *countingChannel
	sched  *outreach.Scheduler
	runner *Runner
}

func newFixture(t *testing.T, caps config.CampaignConfig, opts Options) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "prospect.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{db: db, clock: &clock{now: t0}, email: &countingChannel{id: "email"}}
	chans := map[string]outreach.Channel{"email": f.email}
	for _, id := range []string{"linkedin", "video", "whatsapp"} {
		chans[id] = &countingChannel{id: id}
	}
	funnels := config.Default().Funnels
	f.sched = outreach.NewScheduler(funnels, chans, db, outreach.Options{Now: f.clock.Now})
	opts.Now = f.clock.Now
	f.runner = NewRunner(db, f.sched, funnels, caps, opts)
	return f
}

func (f *fixture) qualified(t *testing.T, name string, tier domain.Tier) domain.Candidate {
	t.Helper()
	ctx := context.Background()
	c, _, err := f.db.UpsertCandidate(ctx, domain.Candidate{Name: name, Domain: name + ".com"}, t0.Add(-2*time.Hour))
	require.NoError(t, err)
	require.NoError(t, f.db.UpsertScore(ctx, domain.QualificationScore{
		CandidateID: c.ID, RunID: "run-" + name, Total: 70, Tier: tier,
		GatesPassed: 3, TotalGates: 4, QuorumMet: tier != domain.TierRejected,
		ComputedAt: t0.Add(-time.Hour),
	}))
	return c
}

// rescore records a fresh qualification for c at at.
func (f *fixture) rescore(t *testing.T, c domain.Candidate, tier domain.Tier, at time.Time) {
	t.Helper()
	require.NoError(t, f.db.UpsertScore(context.Background(), domain.QualificationScore{
		CandidateID: c.ID, RunID: "run-" + c.Name + "-" + at.Format(time.RFC3339), Total: 70, Tier: tier,
		GatesPassed: 3, TotalGates: 4, QuorumMet: tier != domain.TierRejected,
		ComputedAt: at,
	}))
}

func (f *fixture) tickAt(t *testing.T, at time.Time) domain.TickReport {
	t.Helper()
	f.clock.Set(at)
	rep, err := f.runner.RunTick(context.Background())
	require.NoError(t, err)
	return rep
}

func (f *fixture) sentEvents(t *testing.T) int {
	t.Helper()
	n, err := f.db.CountEvents(context.Background(), domain.EventSent)
	require.NoError(t, err)
	return n
}

func defaultCaps() config.CampaignConfig {
	return config.CampaignConfig{StartPerTick: 10, AdvancePerTick: 100}
}

func TestTickEnrollsAndSendsDayZero(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCaps(), Options{})
	f.qualified(t, "alpha", domain.TierA)
	f.qualified(t, "bravo", domain.TierB)
	f.qualified(t, "charlie", domain.TierRejected)

	rep, err := f.runner.RunTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Started)
	assert.Equal(t, 2, rep.Advanced)
	assert.Zero(t, rep.Errored)
	assert.Equal(t, 2, f.sentEvents(t))

	seqs, err := f.db.ListSequences(ctx, domain.SequenceActive, 10)
	require.NoError(t, err)
	require.Len(t, seqs, 2)
	funnels := map[string]bool{}
	for _, s := range seqs {
		funnels[s.Funnel] = true
		assert.Equal(t, 1, s.CurrentStep)
	}
	assert.Equal(t, map[string]bool{"premium": true, "standard": true}, funnels)

	last, err := f.db.LastTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, rep.ID, last.ID)
	assert.Equal(t, 2, last.Started)
}

func TestSecondTickAtSameTimeSendsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCaps(), Options{})
	f.qualified(t, "alpha", domain.TierA)
	f.qualified(t, "bravo", domain.TierB)

	_, err := f.runner.RunTick(ctx)
	require.NoError(t, err)
	before := f.sentEvents(t)

	rep, err := f.runner.RunTick(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Started)
	assert.Zero(t, rep.Advanced)
	assert.Equal(t, 2, rep.SkippedDue)
	assert.Equal(t, before, f.sentEvents(t))
}

func TestStartCapLimitsEnrollment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.CampaignConfig{StartPerTick: 1, AdvancePerTick: 100}, Options{})
	f.qualified(t, "alpha", domain.TierB)
	f.qualified(t, "bravo", domain.TierB)

	rep, err := f.runner.RunTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Started)

	rep, err = f.runner.RunTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Started)

	rep, err = f.runner.RunTick(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Started)
}

func TestFailedSendIsRetriedNextTick(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCaps(), Options{})
	f.qualified(t, "bravo", domain.TierB)
	f.email.failing.Store(true)

	rep, err := f.runner.RunTick(ctx)
	require.NoError(t, err, "send failures do not fail the tick")
	assert.Equal(t, 1, rep.Started)
	assert.Equal(t, 1, rep.Errored)
	assert.Zero(t, f.sentEvents(t))

	seqs, err := f.db.ListSequences(ctx, domain.SequenceActive, 10)
	require.NoError(t, err)
	require.Len(t, seqs, 1)
	assert.Equal(t, 0, seqs[0].CurrentStep)

	f.email.failing.Store(false)
	f.clock.Set(t0.Add(time.Hour))
	rep, err = f.runner.RunTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Advanced)
	assert.Zero(t, rep.Started)
	assert.Equal(t, int64(1), f.email.sent.Load())
}

func TestCompletedSequenceIsNotRestarted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCaps(), Options{})
	f.qualified(t, "bravo", domain.TierB)

	var rep domain.TickReport
	var err error
	for _, d := range []int{0, 3, 6, 9} {
		f.clock.Set(t0.Add(time.Duration(d) * day))
		rep, err = f.runner.RunTick(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, rep.Completed)
	assert.Equal(t, 1, rep.Skipped, "the gated close is skipped without engagement")
	assert.Zero(t, rep.Started)
	assert.Equal(t, 3, f.sentEvents(t))

	f.clock.Set(t0.Add(10 * day))
	rep, err = f.runner.RunTick(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Started)
}

func TestFinishedSequenceRestartsOnlyAfterTierCrossing(t *testing.T) {
	f := newFixture(t, defaultCaps(), Options{})
	bravo := f.qualified(t, "bravo", domain.TierB)
	for _, d := range []int{0, 3, 6, 9} {
		f.tickAt(t, t0.Add(time.Duration(d)*day))
	}
	sent := f.sentEvents(t)

	f.rescore(t, bravo, domain.TierB, t0.Add(10*day))
	rep := f.tickAt(t, t0.Add(10*day))
	assert.Zero(t, rep.Started, "same tier again is not a new qualification")

	f.rescore(t, bravo, domain.TierRejected, t0.Add(11*day))
	rep = f.tickAt(t, t0.Add(11*day))
	assert.Zero(t, rep.Started)
	assert.Equal(t, sent, f.sentEvents(t))

	f.rescore(t, bravo, domain.TierB, t0.Add(12*day))
	rep = f.tickAt(t, t0.Add(12*day))
	assert.Equal(t, 1, rep.Started)
	assert.Equal(t, sent+1, f.sentEvents(t))
}

func TestRepliedCandidateIsNeverReEnrolled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultCaps(), Options{})
	bravo := f.qualified(t, "bravo", domain.TierB)

	rep := f.tickAt(t, t0)
	require.Equal(t, 1, rep.Started)
	seqs, err := f.db.ListSequences(ctx, domain.SequenceActive, 10)
	require.NoError(t, err)
	require.Len(t, seqs, 1)

	f.clock.Set(t0.Add(day))
	replied, err := f.sched.RecordEngagement(ctx, seqs[0].ID, -1, domain.EventReplied, time.Time{})
	require.NoError(t, err)
	require.Equal(t, domain.SequenceReplied, replied.Status)
	sent := f.sentEvents(t)

	f.rescore(t, bravo, domain.TierB, t0.Add(2*day))
	rep = f.tickAt(t, t0.Add(2*day))
	assert.Zero(t, rep.Started)
	assert.Equal(t, sent, f.sentEvents(t))

	// Not even after dropping out and coming back.
	f.rescore(t, bravo, domain.TierRejected, t0.Add(3*day))
	f.tickAt(t, t0.Add(3*day))
	f.rescore(t, bravo, domain.TierB, t0.Add(4*day))
	rep = f.tickAt(t, t0.Add(4*day))
	assert.Zero(t, rep.Started)
	assert.Equal(t, sent, f.sentEvents(t))
	assert.Equal(t, int64(1), f.email.sent.Load())
}

func TestAdvanceCapSpentOnDueSequencesOnly(t *testing.T) {
	f := newFixture(t, config.CampaignConfig{StartPerTick: 10, AdvancePerTick: 2}, Options{})
	f.qualified(t, "alpha", domain.TierB)
	f.qualified(t, "bravo", domain.TierB)
	rep := f.tickAt(t, t0)
	require.Equal(t, 2, rep.Started)

	// Enrolled later, so it sorts last among live sequences.
	f.qualified(t, "charlie", domain.TierA)
	rep = f.tickAt(t, t0.Add(time.Hour))
	require.Equal(t, 1, rep.Started)
	sent := f.sentEvents(t)

	// Day 1 of premium is due; both standard sequences wait until day 3.
	rep = f.tickAt(t, t0.Add(2*day))
	assert.Equal(t, 1, rep.Advanced)
	assert.Equal(t, 2, rep.SkippedDue)
	assert.Zero(t, rep.Errored)
	assert.Equal(t, sent+1, f.sentEvents(t))
}

type blockingQualifier struct {
	entered chan struct{}
	release chan struct{}
}

func (q *blockingQualifier) QualifyDue(ctx context.Context, _ int) (qualify.BatchResult, error) {
	close(q.entered)
	<-q.release
	return qualify.BatchResult{Qualified: 2}, nil
}

func TestOnlyOneTickInFlight(t *testing.T) {
	ctx := context.Background()
	q := &blockingQualifier{entered: make(chan struct{}), release: make(chan struct{})}
	caps := defaultCaps()
	caps.QualifyPerTick = 5
	f := newFixture(t, caps, Options{Qualifier: q})

	done := make(chan domain.TickReport)
	go func() {
		rep, err := f.runner.RunTick(ctx)
		assert.NoError(t, err)
		done <- rep
	}()

	<-q.entered
	_, err := f.runner.RunTick(ctx)
	assert.ErrorIs(t, err, domain.ErrTickInProgress)

	close(q.release)
	rep := <-done
	assert.Equal(t, 2, rep.Qualified)
}

func TestFileLockHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "locks", "tick.lock")
	lock, err := NewFileLock(path)
	require.NoError(t, err)
	f := newFixture(t, defaultCaps(), Options{Lock: lock})

	other := flock.New(path)
	ok, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.runner.RunTick(ctx)
	assert.ErrorIs(t, err, domain.ErrTickInProgress)

	require.NoError(t, other.Unlock())
	_, err = f.runner.RunTick(ctx)
	assert.NoError(t, err)
}

type failingQualifier struct{}

func (failingQualifier) QualifyDue(context.Context, int) (qualify.BatchResult, error) {
	return qualify.BatchResult{}, errors.New("database is locked")
}

func TestFailedTickIsRecorded(t *testing.T) {
	ctx := context.Background()
	caps := defaultCaps()
	caps.QualifyPerTick = 5
	f := newFixture(t, caps, Options{Qualifier: failingQualifier{}})

	rep, err := f.runner.RunTick(ctx)
	require.Error(t, err)
	assert.Contains(t, rep.Error, "database is locked")

	last, err := f.db.LastTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, rep.ID, last.ID)
	assert.NotEmpty(t, last.Error)
}
