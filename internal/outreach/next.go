package outreach

import (
	"time"

	"prospect-engine/internal/config"
	"prospect-engine/internal/domain"
)

const day = 24 * time.Hour

type ActionKind int

const (
	// ActionNone: the sequence is not ACTIVE.
	ActionNone ActionKind = iota
	ActionReply
	ActionComplete
	ActionAbandon
	// ActionReconcile: the current step already has a SENT event, so the
	// step is advanced without sending again.
	ActionReconcile
	ActionWait
	ActionSkip
	ActionSend
)

func (k ActionKind) String() string {
	switch k {
	case ActionNone:
		return "none"
	case ActionReply:
		return "reply"
	case ActionComplete:
		return "complete"
	case ActionAbandon:
		return "abandon"
	case ActionReconcile:
		return "reconcile"
	case ActionWait:
		return "wait"
	case ActionSkip:
		return "skip"
	case ActionSend:
		return "send"
	}
	return "unknown"
}

// Action is what the scheduler should do next for a sequence.
type Action struct {
	Kind  ActionKind
	Step  int
	Spec  config.Step
	DueAt time.Time
	// SentAt is the recorded send time for ActionReconcile.
	SentAt time.Time
}

// DueAt is when step i of f becomes sendable for a sequence started at
// started.
func DueAt(f config.Funnel, started time.Time, i int) time.Time {
	return started.Add(time.Duration(f.Steps[i].Day) * day)
}

// NextDue is when an ACTIVE seq next needs attention: its current step's
// due time, capped by the elapsed-time limit. A sequence past its last
// step is due at once.
func NextDue(f config.Funnel, seq domain.Sequence) time.Time {
	if seq.CurrentStep >= len(f.Steps) {
		return seq.StartedAt
	}
	due := DueAt(f, seq.StartedAt, seq.CurrentStep)
	if f.MaxElapsed > 0 {
		if limit := seq.StartedAt.Add(f.MaxElapsed); limit.Before(due) {
			due = limit
		}
	}
	return due
}

// NextAction derives the next action from persisted state alone, so a
// restart mid-batch resumes where it stopped.
func NextAction(f config.Funnel, seq domain.Sequence, evs []domain.OutreachEvent, now time.Time) Action {
	if seq.Status != domain.SequenceActive {
		return Action{Kind: ActionNone}
	}

	for _, ev := range evs {
		if ev.Status == domain.EventReplied {
			return Action{Kind: ActionReply, Step: ev.Step}
		}
	}

	i := seq.CurrentStep
	if i >= len(f.Steps) {
		return Action{Kind: ActionComplete, Step: i}
	}
	if f.MaxElapsed > 0 && now.Sub(seq.StartedAt) > f.MaxElapsed {
		return Action{Kind: ActionAbandon, Step: i}
	}

	for _, ev := range evs {
		if ev.Step == i && ev.Status == domain.EventSent {
			return Action{Kind: ActionReconcile, Step: i, Spec: f.Steps[i], SentAt: ev.At}
		}
	}

	act := Action{Step: i, Spec: f.Steps[i], DueAt: DueAt(f, seq.StartedAt, i)}
	switch {
	case now.Before(act.DueAt):
		act.Kind = ActionWait
	case act.Spec.RequiresEngagement && !engaged(evs, i):
		act.Kind = ActionSkip
	default:
		act.Kind = ActionSend
	}
	return act
}

// engaged reports an OPENED or REPLIED event on any step before i.
func engaged(evs []domain.OutreachEvent, i int) bool {
	for _, ev := range evs {
		if ev.Step < i && ev.Status.Engagement() {
			return true
		}
	}
	return false
}
