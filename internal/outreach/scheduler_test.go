package outreach

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prospect-engine/internal/config"
	"prospect-engine/internal/domain"
	"prospect-engine/internal/store"
)

var t0 = time.Date(2026, 4, 6, 8, 0, 0, 0, time.UTC)

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

type sentMsg struct {
	channel  string
	template string
	to       Recipient
	at       time.Time
}

// recorder is a channel that remembers every send and can be told to fail.
type recorder struct {
	id    string
	clock *clock
	fail  error

	mu   sync.Mutex
	sent []sentMsg
}

func (r *recorder) Name() string { return r.id }

func (r *recorder) Send(_ context.Context, to Recipient, templateKey string, _ map[string]string) (domain.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return domain.Receipt{}, r.fail
	}
	at := r.clock.Now()
	r.sent = append(r.sent, sentMsg{channel: r.id, template: templateKey, to: to, at: at})
	return domain.Receipt{Channel: r.id, MessageID: "m-" + templateKey, At: at}, nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type harness struct {
	db       *store.DB
	clock    *clock
	channels map[string]*recorder
	sched    *Scheduler
	cand     domain.Candidate
}

func newHarness(t *testing.T, funnels ...config.Funnel) *harness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "prospect.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	if len(funnels) == 0 {
		funnels = config.Default().Funnels
	}
	h := &harness{db: db, clock: &clock{now: t0}, channels: map[string]*recorder{}}
	chans := map[string]Channel{}
	for _, id := range []string{"email", "linkedin", "video", "whatsapp"} {
		r := &recorder{id: id, clock: h.clock}
		h.channels[id] = r
		chans[id] = r
	}
	h.sched = NewScheduler(funnels, chans, db, Options{Now: h.clock.Now, SendTimeout: time.Second})

	h.cand, _, err = db.UpsertCandidate(context.Background(), domain.Candidate{
		Name: "Acme Dental", Domain: "acme.com", Industry: "dental",
		Contact: domain.Contact{Name: "Dana", Email: "dana@acme.com"},
	}, t0)
	require.NoError(t, err)
	return h
}

func (h *harness) totalSent() int {
	n := 0
	for _, r := range h.channels {
		n += r.count()
	}
	return n
}

func (h *harness) advanceAt(t *testing.T, seq domain.Sequence, at time.Time) Advance {
	t.Helper()
	h.clock.Set(at)
	res, err := h.sched.Advance(context.Background(), seq)
	require.NoError(t, err)
	return res
}

func TestStandardFunnelSkipsGatedCloseWithoutEngagement(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	seq, err := h.sched.Start(ctx, h.cand, "standard")
	require.NoError(t, err)
	assert.Equal(t, 0, seq.CurrentStep)

	res := h.advanceAt(t, seq, t0)
	assert.Equal(t, OutcomeSent, res.Outcome)
	assert.True(t, res.Sent)
	assert.Equal(t, 1, res.Sequence.CurrentStep)
	assert.Equal(t, t0, res.Sequence.LastStepSentAt)

	// Nothing is due until day 3.
	res = h.advanceAt(t, res.Sequence, t0.Add(2*day))
	assert.Equal(t, OutcomeWaiting, res.Outcome)
	assert.Equal(t, 1, h.totalSent())

	res = h.advanceAt(t, res.Sequence, t0.Add(3*day))
	assert.Equal(t, OutcomeSent, res.Outcome)
	res = h.advanceAt(t, res.Sequence, t0.Add(6*day))
	assert.Equal(t, OutcomeSent, res.Outcome)
	assert.Equal(t, 3, res.Sequence.CurrentStep)

	res = h.advanceAt(t, res.Sequence, t0.Add(9*day))
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.False(t, res.Sent)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, domain.SequenceCompleted, res.Sequence.Status)

	// The gated close never went out.
	assert.Equal(t, 2, h.channels["email"].count())
	assert.Equal(t, 1, h.channels["linkedin"].count())

	stored, err := h.db.GetSequence(ctx, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SequenceCompleted, stored.Status)
	assert.Equal(t, 4, stored.CurrentStep)
}

func TestStepsNeverSentBeforeTheirDay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	f, _ := config.Default().Funnel("premium")

	seq, err := h.sched.Start(ctx, h.cand, "premium")
	require.NoError(t, err)
	_, err = h.sched.RecordEngagement(ctx, seq.ID, 0, domain.EventOpened, t0)
	require.NoError(t, err)

	// Tick every six hours for two weeks.
	cur := seq
	for at := t0; at.Before(t0.Add(14 * day)); at = at.Add(6 * time.Hour) {
		res := h.advanceAt(t, cur, at)
		cur = res.Sequence
		if cur.Status.Terminal() {
			break
		}
	}
	assert.Equal(t, domain.SequenceCompleted, cur.Status)

	evs, err := h.db.SequenceEvents(ctx, seq.ID)
	require.NoError(t, err)
	sent := 0
	for _, ev := range evs {
		if ev.Status != domain.EventSent {
			continue
		}
		sent++
		due := DueAt(f, seq.StartedAt, ev.Step)
		assert.False(t, ev.At.Before(due), "step %d sent at %s before %s", ev.Step, ev.At, due)
		assert.Equal(t, f.Steps[ev.Step].Channel, ev.Channel)
	}
	assert.Equal(t, len(f.Steps), sent, "the engagement unlocks the close")
	assert.Equal(t, 1, h.channels["whatsapp"].count())
}

func TestAtMostOneSendPerAdvance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	seq, err := h.sched.Start(ctx, h.cand, "standard")
	require.NoError(t, err)

	// Day 7 with nothing sent: steps 0..2 are all due, but only one goes out.
	res := h.advanceAt(t, seq, t0.Add(7*day))
	assert.Equal(t, OutcomeSent, res.Outcome)
	assert.Equal(t, 1, h.totalSent())
	assert.Equal(t, 1, res.Sequence.CurrentStep)

	res = h.advanceAt(t, res.Sequence, t0.Add(7*day))
	assert.Equal(t, 2, h.totalSent())
	assert.Equal(t, 2, res.Sequence.CurrentStep)
}

func TestReplyHaltsSequence(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	seq, err := h.sched.Start(ctx, h.cand, "standard")
	require.NoError(t, err)
	res := h.advanceAt(t, seq, t0)
	require.Equal(t, 1, res.Sequence.CurrentStep)

	h.clock.Set(t0.Add(day))
	got, err := h.sched.RecordEngagement(ctx, seq.ID, -1, domain.EventReplied, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, domain.SequenceReplied, got.Status)

	evs, err := h.db.SequenceEvents(ctx, seq.ID)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, 0, evs[1].Step, "negative step means the last sent one")
	assert.Equal(t, t0.Add(day), evs[1].At)

	// A stale copy of the row cannot move it any more.
	h.clock.Set(t0.Add(3 * day))
	_, err = h.sched.Advance(ctx, res.Sequence)
	assert.ErrorIs(t, err, domain.ErrStale)
	assert.Equal(t, 1, h.totalSent())

	fresh, err := h.db.GetSequence(ctx, seq.ID)
	require.NoError(t, err)
	res = h.advanceAt(t, fresh, t0.Add(3*day))
	assert.Equal(t, OutcomeNoop, res.Outcome)
	assert.Equal(t, 1, h.totalSent())

	// Late engagement is kept for audit but changes nothing.
	after, err := h.sched.RecordEngagement(ctx, seq.ID, 0, domain.EventOpened, t0.Add(4*day))
	require.NoError(t, err)
	assert.Equal(t, domain.SequenceReplied, after.Status)
	assert.Equal(t, fresh.Version, after.Version)
}

func TestReplyEventOnActiveRowEndsOnAdvance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	seq, err := h.sched.Start(ctx, h.cand, "standard")
	require.NoError(t, err)
	_, err = h.db.AppendOutreachEvent(ctx, domain.OutreachEvent{
		SequenceID: seq.ID, Step: 0, Status: domain.EventReplied, At: t0,
	})
	require.NoError(t, err)

	res := h.advanceAt(t, seq, t0)
	assert.Equal(t, OutcomeReplied, res.Outcome)
	assert.Equal(t, domain.SequenceReplied, res.Sequence.Status)
	assert.Zero(t, h.totalSent())
}

func TestFailedSendKeepsStepAndAbandonsAfterMaxElapsed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.channels["email"].fail = errors.New("relay down")

	seq, err := h.sched.Start(ctx, h.cand, "standard")
	require.NoError(t, err)

	h.clock.Set(t0)
	res, err := h.sched.Advance(ctx, seq)
	var serr *domain.SendError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "email", serr.Channel)
	assert.Equal(t, 0, serr.Step)
	assert.Equal(t, OutcomeErrored, res.Outcome)

	stored, err := h.db.GetSequence(ctx, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.CurrentStep)
	assert.Equal(t, domain.SequenceActive, stored.Status)
	assert.True(t, stored.LastStepSentAt.IsZero())

	evs, err := h.db.SequenceEvents(ctx, seq.ID)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventFailed, evs[0].Status)
	assert.Contains(t, evs[0].Error, "relay down")

	res = h.advanceAt(t, stored, t0.Add(22*day))
	assert.Equal(t, OutcomeAbandoned, res.Outcome)
	assert.Equal(t, domain.SequenceFailed, res.Sequence.Status)
	assert.Equal(t, "max elapsed exceeded", res.Sequence.EndReason)
}

func TestRecordedSendIsReconciledNotRepeated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	seq, err := h.sched.Start(ctx, h.cand, "standard")
	require.NoError(t, err)

	// The SENT event made it to disk but the sequence row did not.
	sentAt := t0.Add(time.Minute)
	ok, err := h.db.AppendOutreachEvent(ctx, domain.OutreachEvent{
		SequenceID: seq.ID, Step: 0, Channel: "email", Status: domain.EventSent, At: sentAt, Receipt: "m-1",
	})
	require.NoError(t, err)
	require.True(t, ok)

	res := h.advanceAt(t, seq, t0.Add(time.Hour))
	assert.Equal(t, OutcomeWaiting, res.Outcome)
	assert.Equal(t, 1, res.Reconciled)
	assert.False(t, res.Sent)
	assert.Equal(t, 1, res.Sequence.CurrentStep)
	assert.Equal(t, sentAt, res.Sequence.LastStepSentAt)
	assert.Zero(t, h.totalSent())

	n, err := h.db.CountEvents(ctx, domain.EventSent)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPauseAndResume(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	seq, err := h.sched.Start(ctx, h.cand, "standard")
	require.NoError(t, err)

	paused, err := h.sched.Pause(ctx, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SequencePaused, paused.Status)

	res := h.advanceAt(t, paused, t0)
	assert.Equal(t, OutcomeNoop, res.Outcome)
	assert.Zero(t, h.totalSent())

	_, err = h.sched.Pause(ctx, seq.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	// Paused still holds the funnel slot.
	_, err = h.sched.Start(ctx, h.cand, "standard")
	assert.ErrorIs(t, err, domain.ErrConflict)

	resumed, err := h.sched.Resume(ctx, seq.ID)
	require.NoError(t, err)
	res = h.advanceAt(t, resumed, t0)
	assert.Equal(t, OutcomeSent, res.Outcome)
}

func TestStartRejectsSecondLiveSequence(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.sched.Start(ctx, h.cand, "standard")
	require.NoError(t, err)
	_, err = h.sched.Start(ctx, h.cand, "standard")
	assert.ErrorIs(t, err, domain.ErrConflict)

	// A different funnel is a separate slot.
	_, err = h.sched.Start(ctx, h.cand, "premium")
	assert.NoError(t, err)

	_, err = h.sched.Start(ctx, h.cand, "nope")
	assert.Error(t, err)
}

func TestMissingChannelAdapterIsASendError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.Funnel{
		Name: "fax", Tiers: []domain.Tier{domain.TierB}, MaxElapsed: 10 * day,
		Steps: []config.Step{{Day: 0, Channel: "fax", Template: "fax_intro"}},
	})

	seq, err := h.sched.Start(ctx, h.cand, "fax")
	require.NoError(t, err)

	h.clock.Set(t0)
	_, err = h.sched.Advance(ctx, seq)
	var serr *domain.SendError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "fax", serr.Channel)

	n, err := h.db.CountEvents(ctx, domain.EventFailed)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecordEngagementRejectsNonEngagementStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	seq, err := h.sched.Start(ctx, h.cand, "standard")
	require.NoError(t, err)

	_, err = h.sched.RecordEngagement(ctx, seq.ID, 0, domain.EventSent, t0)
	assert.Error(t, err)
	_, err = h.sched.RecordEngagement(ctx, "missing", 0, domain.EventOpened, t0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// lossyEvents drops FAILED events on the floor with a write error.
type lossyEvents struct {
	*store.DB
}

func (l lossyEvents) AppendOutreachEvent(ctx context.Context, ev domain.OutreachEvent) (bool, error) {
	if ev.Status == domain.EventFailed {
		return false, errors.New("disk I/O error")
	}
	return l.DB.AppendOutreachEvent(ctx, ev)
}

func TestUnrecordedSendFailureIsNotASendError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.channels["email"].fail = errors.New("relay down")
	chans := map[string]Channel{}
	for id, r := range h.channels {
		chans[id] = r
	}
	sched := NewScheduler(config.Default().Funnels, chans, lossyEvents{h.db}, Options{Now: h.clock.Now})

	seq, err := sched.Start(ctx, h.cand, "standard")
	require.NoError(t, err)
	res, err := sched.Advance(ctx, seq)
	require.Error(t, err)
	assert.Equal(t, OutcomeErrored, res.Outcome)

	var serr *domain.SendError
	assert.False(t, errors.As(err, &serr), "a failure that left no audit row must stop the tick")
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.Contains(t, err.Error(), "relay down")

	n, err := h.db.CountEvents(ctx, domain.EventFailed)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNextDueAtIsPersisted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	seq, err := h.sched.Start(ctx, h.cand, "standard")
	require.NoError(t, err)
	assert.Equal(t, t0, seq.NextDueAt)

	res := h.advanceAt(t, seq, t0)
	stored, err := h.db.GetSequence(ctx, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(3*day), stored.NextDueAt)
	assert.Equal(t, stored.NextDueAt, res.Sequence.NextDueAt)

	// A row that lost its due time gets it back on the next waiting advance.
	stale := stored
	stale.NextDueAt = time.Time{}
	stale, err = h.db.UpdateSequence(ctx, stale)
	require.NoError(t, err)
	raw, err := h.db.GetSequence(ctx, seq.ID)
	require.NoError(t, err)
	require.True(t, raw.NextDueAt.IsZero())

	res = h.advanceAt(t, raw, t0.Add(day))
	assert.Equal(t, OutcomeWaiting, res.Outcome)
	healed, err := h.db.GetSequence(ctx, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(3*day), healed.NextDueAt)
	assert.Equal(t, stale.Version+1, healed.Version)
}
