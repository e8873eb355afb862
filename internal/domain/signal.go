package domain

import "time"

type Provenance string

const (
	Verified Provenance = "VERIFIED"
	Unknown  Provenance = "UNKNOWN"
)

// SignalKey names one field of the agreed signal schema.
type SignalKey string

const (
	SignalSiteReachable SignalKey = "site.reachable"

	SignalAdCount     SignalKey = "activity.ad_count"
	SignalAdPlatforms SignalKey = "activity.ad_platforms"
	SignalAdCreatives SignalKey = "activity.ad_creatives"

	SignalNoHTTPS           SignalKey = "deficiency.no_https"
	SignalNoViewport        SignalKey = "deficiency.no_mobile_viewport"
	SignalNoMetaDescription SignalKey = "deficiency.no_meta_description"
	SignalNoAnalytics       SignalKey = "deficiency.no_analytics"
	SignalSlowResponse      SignalKey = "deficiency.slow_response"

	SignalCustomDomain   SignalKey = "maturity.custom_domain"
	SignalSocialProfiles SignalKey = "maturity.social_profiles"

	SignalContactEmail    SignalKey = "contact.email"
	SignalContactPhone    SignalKey = "contact.phone"
	SignalContactLinkedIn SignalKey = "contact.linkedin"
	SignalContactPage     SignalKey = "contact.page"
)

// Signal is one observed value with its provenance. Booleans are carried as
// 0/1 so every gate can treat signals uniformly.
type Signal struct {
	Value      float64    `json:"value"`
	Provenance Provenance `json:"provenance"`
	Source     string     `json:"source,omitempty"`
	Evidence   string     `json:"evidence,omitempty"`
}

func (s Signal) Known() bool { return s.Provenance == Verified }

// Signals is the payload a single source returns.
type Signals map[SignalKey]Signal

// Flag records a boolean observation.
func (s Signals) Flag(key SignalKey, on bool, source, evidence string) {
	v := 0.0
	if on {
		v = 1
	}
	s[key] = Signal{Value: v, Provenance: Verified, Source: source, Evidence: evidence}
}

// Count records a numeric observation.
func (s Signals) Count(key SignalKey, n float64, source, evidence string) {
	s[key] = Signal{Value: n, Provenance: Verified, Source: source, Evidence: evidence}
}

// SourceSnapshot is the outcome of one source fetch for one candidate.
type SourceSnapshot struct {
	CandidateID string    `json:"candidate_id"`
	Source      string    `json:"source"`
	CollectedAt time.Time `json:"collected_at"`
	OK          bool      `json:"ok"`
	TimedOut    bool      `json:"timed_out"`
	Error       string    `json:"error,omitempty"`
	Reused      bool      `json:"reused,omitempty"`
	Signals     Signals   `json:"signals,omitempty"`
}

// EnrichmentBundle merges every source snapshot for a candidate. Fields no
// source verified are absent and read back as UNKNOWN.
type EnrichmentBundle struct {
	CandidateID string
	CollectedAt time.Time
	Sources     []SourceSnapshot
	Fields      Signals
}

// Get returns the signal for key, or an UNKNOWN signal when no source
// produced it.
func (b EnrichmentBundle) Get(key SignalKey) Signal {
	if s, ok := b.Fields[key]; ok {
		return s
	}
	return Signal{Provenance: Unknown}
}

// Partial reports whether any source failed or timed out.
func (b EnrichmentBundle) Partial() bool {
	for _, s := range b.Sources {
		if !s.OK {
			return true
		}
	}
	return false
}

// TimedOut reports whether any source hit its deadline.
func (b EnrichmentBundle) TimedOut() bool {
	for _, s := range b.Sources {
		if s.TimedOut {
			return true
		}
	}
	return false
}
