package gate

import (
	"fmt"
	"math"
	"strings"

	"prospect-engine/internal/config"
	"prospect-engine/internal/domain"
)

// Gate is a pure test of a candidate and its enrichment. Implementations
// must not touch shared state; the evaluator may run them concurrently.
type Gate interface {
	Name() string
	Evaluate(cand domain.Candidate, b domain.EnrichmentBundle) (domain.GateResult, error)
}

// FromConfig builds the four gates in their canonical order.
func FromConfig(cfg config.GatesConfig) []Gate {
	return []Gate{
		Activity{Cfg: cfg.Activity},
		Weighted{Gate: domain.GateDeficiency, Cfg: cfg.Deficiency, RecordFindings: true},
		Weighted{Gate: domain.GateMaturity, Cfg: cfg.Maturity},
		Weighted{Gate: domain.GateResolvability, Cfg: cfg.Resolvability, Fallback: contactFromRecord},
	}
}

// Activity counts recent qualifying events. UNKNOWN data fails the gate.
type Activity struct {
	Cfg config.ActivityGateConfig
}

func (Activity) Name() string { return domain.GateActivity }

func (g Activity) Evaluate(_ domain.Candidate, b domain.EnrichmentBundle) (domain.GateResult, error) {
	key := domain.SignalKey(g.Cfg.Signal)
	res := domain.GateResult{Gate: g.Name(), Threshold: g.Cfg.MinCount}
	if g.Cfg.Cap <= 0 {
		return res, fmt.Errorf("activity cap must be > 0")
	}

	s := b.Get(key)
	if !s.Known() {
		res.Evidence = []string{fmt.Sprintf("%s UNKNOWN", key)}
		return res, nil
	}

	res.Metric = s.Value
	res.Passed = s.Value >= g.Cfg.MinCount
	res.Score = round2(10 * math.Min(math.Max(s.Value, 0), g.Cfg.Cap) / g.Cfg.Cap)
	res.Evidence = []string{describe(key, s)}
	return res, nil
}

// Weighted sums weighted indicators. The metric is compared with the
// threshold; the score is the metric as a share of the maximum, on 0..10.
// Indicators without verified data add nothing, and a gate with no
// verified indicator at all fails.
type Weighted struct {
	Gate string
	Cfg  config.WeightedGateConfig

	// RecordFindings lists the indicators that fired in GateResult.Findings.
	RecordFindings bool
	// Fallback supplies an indicator from the candidate itself when no
	// source verified it.
	Fallback func(domain.Candidate, domain.SignalKey) (domain.Signal, bool)
}

func (g Weighted) Name() string { return g.Gate }

func (g Weighted) Evaluate(cand domain.Candidate, b domain.EnrichmentBundle) (domain.GateResult, error) {
	res := domain.GateResult{Gate: g.Gate, Threshold: g.Cfg.Threshold}

	var total, metric float64
	known := 0
	for _, ind := range g.Cfg.Indicators {
		if ind.Weight <= 0 {
			return res, fmt.Errorf("indicator %s: weight must be > 0", ind.Signal)
		}
		total += ind.Weight

		key := domain.SignalKey(ind.Signal)
		s := b.Get(key)
		if (!s.Known() || s.Value == 0) && g.Fallback != nil {
			if fb, ok := g.Fallback(cand, key); ok {
				s = fb
			}
		}
		if !s.Known() {
			res.Evidence = append(res.Evidence, fmt.Sprintf("%s UNKNOWN", key))
			continue
		}
		known++

		v := normalize(s.Value, ind.Cap)
		if v > 0 {
			metric += ind.Weight * v
			res.Evidence = append(res.Evidence, describe(key, s))
			if g.RecordFindings {
				res.Findings = append(res.Findings, ind.Signal)
			}
		}
	}
	if total == 0 {
		return res, fmt.Errorf("no indicators configured")
	}

	res.Metric = round2(metric)
	res.Score = round2(10 * metric / total)
	res.Passed = known > 0 && res.Metric >= g.Cfg.Threshold
	return res, nil
}

func normalize(v, limit float64) float64 {
	if limit > 0 {
		v = v / limit
	}
	return math.Min(math.Max(v, 0), 1)
}

// contactFromRecord treats contact details supplied at ingestion as
// verified reachability evidence.
func contactFromRecord(cand domain.Candidate, key domain.SignalKey) (domain.Signal, bool) {
	var v string
	switch key {
	case domain.SignalContactEmail:
		v = cand.Contact.Email
	case domain.SignalContactPhone:
		v = cand.Contact.Phone
	case domain.SignalContactLinkedIn:
		v = cand.Contact.LinkedIn
	default:
		return domain.Signal{}, false
	}
	if strings.TrimSpace(v) == "" {
		return domain.Signal{}, false
	}
	return domain.Signal{Value: 1, Provenance: domain.Verified, Source: "ingest", Evidence: v}, true
}

func describe(key domain.SignalKey, s domain.Signal) string {
	out := fmt.Sprintf("%s=%g", key, s.Value)
	if s.Source != "" {
		out += " (" + s.Source + ")"
	}
	if s.Evidence != "" {
		out += ": " + s.Evidence
	}
	return out
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
