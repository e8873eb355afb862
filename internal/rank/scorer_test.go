package rank

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"prospect-engine/internal/config"
	"prospect-engine/internal/domain"
)

func defaultAggregator() Aggregator {
	cfg := config.Default()
	return NewAggregator(cfg.Scoring, cfg.Quorum)
}

func exampleResults() []domain.GateResult {
	return []domain.GateResult{
		{Gate: domain.GateActivity, Passed: true, Score: 6, Metric: 6},
		{Gate: domain.GateDeficiency, Passed: true, Score: 8, Metric: 8, Findings: []string{
			string(domain.SignalNoHTTPS),
			string(domain.SignalNoViewport),
			string(domain.SignalNoMetaDescription),
			string(domain.SignalNoAnalytics),
		}},
		{Gate: domain.GateMaturity, Passed: false, Score: 2, Metric: 20},
		{Gate: domain.GateResolvability, Passed: true, Score: 9, Metric: 9},
	}
}

func TestAggregateExample(t *testing.T) {
	got := defaultAggregator().Aggregate(exampleResults())

	want := domain.QualificationScore{
		Total:       65.5,
		Tier:        domain.TierA,
		Opportunity: 4320,
		GatesPassed: 3,
		TotalGates:  4,
		QuorumMet:   true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Aggregate mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregateWithoutQuorumIsRejected(t *testing.T) {
	results := []domain.GateResult{
		{Gate: domain.GateActivity, Passed: true, Score: 10},
		{Gate: domain.GateDeficiency, Passed: true, Score: 10},
		{Gate: domain.GateMaturity, Passed: false, Score: 10},
		{Gate: domain.GateResolvability, Passed: false, Score: 10},
	}
	got := defaultAggregator().Aggregate(results)
	assert.Equal(t, 100.0, got.Total)
	assert.False(t, got.QuorumMet)
	assert.Equal(t, domain.TierRejected, got.Tier)
}

func TestAggregateIsPure(t *testing.T) {
	a := defaultAggregator()
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		results := []domain.GateResult{
			{Gate: domain.GateActivity, Passed: rng.Intn(2) == 0, Score: rng.Float64() * 10, Metric: float64(rng.Intn(50))},
			{Gate: domain.GateDeficiency, Passed: rng.Intn(2) == 0, Score: rng.Float64() * 10, Findings: []string{string(domain.SignalNoHTTPS)}},
			{Gate: domain.GateMaturity, Passed: rng.Intn(2) == 0, Score: rng.Float64() * 10},
			{Gate: domain.GateResolvability, Passed: rng.Intn(2) == 0, Score: rng.Float64() * 10},
		}
		first := a.Aggregate(results)
		second := a.Aggregate(results)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Fatalf("case %d not deterministic:\n%s", i, diff)
		}
	}
}

func TestTiersPartitionScoreRange(t *testing.T) {
	a := defaultAggregator()
	order := map[domain.Tier]int{domain.TierRejected: 0, domain.TierB: 1, domain.TierA: 2, domain.TierS: 3}

	prev := domain.TierRejected
	seen := map[domain.Tier]bool{}
	for i := 0; i <= 10000; i++ {
		total := float64(i) / 100
		tier := a.TierFor(total)
		if !tier.Valid() {
			t.Fatalf("total %.2f has no tier", total)
		}
		if order[tier] < order[prev] {
			t.Fatalf("total %.2f maps to %s below previous %s", total, tier, prev)
		}
		seen[tier] = true
		prev = tier
	}
	assert.Len(t, seen, 4)
	assert.Equal(t, domain.TierB, a.TierFor(50))
	assert.Equal(t, domain.TierRejected, a.TierFor(49.99))
	assert.Equal(t, domain.TierS, a.TierFor(100))
}

func TestOpportunityIsBounded(t *testing.T) {
	a := defaultAggregator()
	findings := []string{string(domain.SignalNoViewport), string(domain.SignalNoViewport)}

	assert.Equal(t, 1200.0, a.Opportunity(findings, 0))
	assert.Equal(t, 1800.0, a.Opportunity(findings, 5))
	assert.Equal(t, 3600.0, a.Opportunity(findings, 1e9), "multiplier capped at 3")
	assert.Zero(t, a.Opportunity(nil, 100))
}

func TestNewAggregatorCopiesConfig(t *testing.T) {
	cfg := config.Default()
	a := NewAggregator(cfg.Scoring, cfg.Quorum)
	before := a.Aggregate(exampleResults())

	cfg.Scoring.Weights[domain.GateActivity] = 1
	cfg.Scoring.Opportunity.Findings[string(domain.SignalNoHTTPS)] = 1e6

	assert.Equal(t, before, a.Aggregate(exampleResults()))
}
