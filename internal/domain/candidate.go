package domain

import "time"

// Candidate is a prospective business being qualified. ID and Domain are
// fixed at ingestion; the classification and raw attributes are refreshed
// on re-ingestion.
type Candidate struct {
	ID       string
	Name     string
	Domain   string // registrable domain (eTLD+1), lowercase
	Industry string

	Employees  int
	AdsActive  bool
	SiteOnline bool

	Contact Contact

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contact is whatever the ingestion record knew about a decision-maker.
type Contact struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	LinkedIn string `json:"linkedin,omitempty"`
}

// CandidateRecord is one ingestion row before normalisation.
type CandidateRecord struct {
	Name       string  `json:"name"`
	Domain     string  `json:"domain"`
	Industry   string  `json:"industry"`
	Employees  int     `json:"employees"`
	AdsActive  bool    `json:"ads_active"`
	SiteOnline bool    `json:"site_online"`
	Contact    Contact `json:"contact"`
}
