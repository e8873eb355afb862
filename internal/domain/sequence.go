package domain

import "time"

type SequenceStatus string

const (
	SequenceActive    SequenceStatus = "ACTIVE"
	SequencePaused    SequenceStatus = "PAUSED"
	SequenceReplied   SequenceStatus = "REPLIED"
	SequenceFailed    SequenceStatus = "FAILED"
	SequenceCompleted SequenceStatus = "COMPLETED"
)

// Terminal reports whether no further transition is allowed.
func (s SequenceStatus) Terminal() bool {
	switch s {
	case SequenceReplied, SequenceFailed, SequenceCompleted:
		return true
	}
	return false
}

// Sequence is one candidate's run through one funnel.
type Sequence struct {
	ID             string         `json:"id"`
	CandidateID    string         `json:"candidate_id"`
	Funnel         string         `json:"funnel"`
	CurrentStep    int            `json:"current_step"`
	Status         SequenceStatus `json:"status"`
	StartedAt      time.Time      `json:"started_at"`
	LastStepSentAt time.Time      `json:"last_step_sent_at"` // zero until the first send
	NextDueAt      time.Time      `json:"next_due_at"`
	EndReason      string         `json:"end_reason,omitempty"`
	Version        int64          `json:"version"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type EventStatus string

const (
	EventSent      EventStatus = "SENT"
	EventDelivered EventStatus = "DELIVERED"
	EventOpened    EventStatus = "OPENED"
	EventReplied   EventStatus = "REPLIED"
	EventFailed    EventStatus = "FAILED"
)

func (s EventStatus) Engagement() bool {
	return s == EventOpened || s == EventReplied
}

// OutreachEvent is an immutable record of one step attempt or engagement.
// (SequenceID, Step) is unique among SENT events.
type OutreachEvent struct {
	ID         string      `json:"id"`
	SequenceID string      `json:"sequence_id"`
	Step       int         `json:"step"`
	Channel    string      `json:"channel,omitempty"`
	Status     EventStatus `json:"status"`
	At         time.Time   `json:"at"`
	Receipt    string      `json:"receipt,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Receipt is what a channel adapter returns for an accepted send.
type Receipt struct {
	Channel   string
	MessageID string
	At        time.Time
}
