package rank

import (
	"math"
	"sort"

	"prospect-engine/internal/config"
	"prospect-engine/internal/domain"
)

// Aggregator turns a run's gate results into a QualificationScore. It holds
// only configuration, so identical inputs always give identical output.
type Aggregator struct {
	weights     map[string]float64
	tiers       []config.TierBand
	quorum      int
	opportunity config.OpportunityConfig
}

func NewAggregator(scoring config.ScoringConfig, quorum int) Aggregator {
	weights := make(map[string]float64, len(scoring.Weights))
	for k, v := range scoring.Weights {
		weights[k] = v
	}
	tiers := append([]config.TierBand(nil), scoring.Tiers...)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].Min < tiers[j].Min })

	opp := scoring.Opportunity
	findings := make(map[string]float64, len(opp.Findings))
	for k, v := range opp.Findings {
		findings[k] = v
	}
	opp.Findings = findings

	return Aggregator{weights: weights, tiers: tiers, quorum: quorum, opportunity: opp}
}

// Aggregate fills the computed fields of a score. Identity and timestamps
// are left to the caller.
func (a Aggregator) Aggregate(results []domain.GateResult) domain.QualificationScore {
	var (
		total             float64
		passed            int
		findings          []string
		activityUnits     float64
		deficiencyPresent bool
	)
	for _, r := range results {
		total += a.weights[r.Gate] * clamp(r.Score, 0, 10) * 10
		if r.Passed {
			passed++
		}
		switch r.Gate {
		case domain.GateActivity:
			activityUnits = math.Max(r.Metric, 0)
		case domain.GateDeficiency:
			deficiencyPresent = true
			findings = r.Findings
		}
	}
	total = round(clamp(total, 0, 100), 2)

	score := domain.QualificationScore{
		Total:       total,
		GatesPassed: passed,
		TotalGates:  len(results),
		QuorumMet:   passed >= a.quorum,
	}
	score.Tier = domain.TierRejected
	if score.QuorumMet {
		score.Tier = a.TierFor(total)
	}
	if deficiencyPresent {
		score.Opportunity = a.Opportunity(findings, activityUnits)
	}
	return score
}

// TierFor maps a total to the highest band whose minimum it reaches.
// Below the first band is REJECTED.
func (a Aggregator) TierFor(total float64) domain.Tier {
	tier := domain.TierRejected
	for _, band := range a.tiers {
		if total >= band.Min {
			tier = band.Tier
		}
	}
	return tier
}

// Opportunity prices the deficiency findings and scales them by activity
// volume, with the multiplier capped.
func (a Aggregator) Opportunity(findings []string, activityUnits float64) float64 {
	base := 0.0
	seen := map[string]bool{}
	for _, f := range findings {
		if seen[f] {
			continue
		}
		seen[f] = true
		base += a.opportunity.Findings[f]
	}
	mult := 1 + activityUnits*a.opportunity.PerActivityUnit
	if a.opportunity.MaxMultiplier >= 1 {
		mult = math.Min(mult, a.opportunity.MaxMultiplier)
	}
	return round(base*mult, 2)
}

func clamp(v, lo, hi float64) float64 { return math.Min(math.Max(v, lo), hi) }

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
