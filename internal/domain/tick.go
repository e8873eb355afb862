package domain

import "time"

// TickReport counts what one campaign tick did.
type TickReport struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Enriched  int `json:"enriched"`
	TimedOut  int `json:"timed_out"`
	Qualified int `json:"qualified"`

	Advanced   int `json:"advanced"`
	SkippedDue int `json:"skipped_due"`
	Skipped    int `json:"skipped_steps"`
	Errored    int `json:"errored"`
	Completed  int `json:"completed"`
	Replied    int `json:"replied"`
	Abandoned  int `json:"abandoned"`
	Started    int `json:"started"`

	Error string `json:"error,omitempty"`
}
