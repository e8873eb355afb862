package config

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"prospect-engine/internal/domain"
)

type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v *Validation) addErr(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}
func (v *Validation) addWarn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}
func (v Validation) OK() bool { return len(v.Errors) == 0 }

func (v Validation) Error() string {
	return "config validation failed:\n- " + strings.Join(v.Errors, "\n- ")
}

var gateNames = []string{
	domain.GateActivity,
	domain.GateDeficiency,
	domain.GateMaturity,
	domain.GateResolvability,
}

// NormalizeAndValidate returns a normalized copy of cfg and the problems
// found in it.
func NormalizeAndValidate(cfg Config) (Config, Validation) {
	out := cfg
	var res Validation

	out.App.DataDir = strings.TrimSpace(out.App.DataDir)
	if out.App.DataDir == "" {
		out.App.DataDir = "."
	}
	if out.App.TickInterval <= 0 {
		res.addErr("app.tick_interval must be > 0")
	}

	validateEnrichment(out.Enrichment, &res)
	validateGates(out.Gates, &res)

	if out.Quorum < 1 || out.Quorum > len(gateNames) {
		res.addErr("quorum must be 1..%d", len(gateNames))
	} else if out.Quorum == 1 {
		res.addWarn("quorum is 1; a single strong gate will qualify a candidate")
	}

	validateScoring(out.Scoring, &res)

	out.Funnels = normalizeFunnels(out.Funnels)
	validateFunnels(out.Funnels, &res)

	if out.Campaign.StartPerTick <= 0 {
		res.addErr("campaign.start_per_tick must be > 0")
	}
	if out.Campaign.AdvancePerTick <= 0 {
		res.addErr("campaign.advance_per_tick must be > 0")
	}
	if out.Campaign.QualifyPerTick < 0 {
		res.addErr("campaign.qualify_per_tick must be >= 0")
	}

	if out.Channels.Timeout <= 0 {
		res.addErr("channels.timeout must be > 0")
	}
	if out.Channels.DryRun {
		res.addWarn("channels.dry_run is on; nothing will actually be sent")
	} else {
		for _, f := range out.Funnels {
			for _, s := range f.Steps {
				if _, ok := out.Channels.Webhooks[s.Channel]; !ok {
					res.addErr("funnel %q uses channel %q with no channels.webhooks entry", f.Name, s.Channel)
				}
			}
		}
	}
	for name, wh := range out.Channels.Webhooks {
		if strings.TrimSpace(wh.URL) == "" {
			res.addErr("channels.webhooks.%s.url is required", name)
		}
	}

	if out.Email.Enabled {
		if strings.TrimSpace(out.Email.IMAPAddr) == "" {
			res.addErr("email.imap_addr is required when email.enabled=true")
		}
		if strings.TrimSpace(out.Email.Username) == "" {
			res.addErr("email.username is required when email.enabled=true")
		}
		if strings.TrimSpace(out.Email.Mailbox) == "" {
			res.addErr("email.mailbox is required when email.enabled=true")
		}
		if out.Email.PollInterval <= 0 {
			res.addErr("email.poll_interval must be > 0")
		}
	}

	return out, res
}

func validateEnrichment(e EnrichmentConfig, res *Validation) {
	if e.TTL <= 0 {
		res.addErr("enrichment.ttl must be > 0")
	}
	if e.Budget <= 0 {
		res.addErr("enrichment.budget must be > 0")
	}
	if e.SourceTimeout <= 0 {
		res.addErr("enrichment.source_timeout must be > 0")
	} else if e.Budget > 0 && e.SourceTimeout > e.Budget {
		res.addWarn("enrichment.source_timeout (%s) exceeds enrichment.budget (%s); the budget wins", e.SourceTimeout, e.Budget)
	}
	if e.MaxInFlight <= 0 {
		res.addErr("enrichment.max_in_flight must be > 0")
	}
	if e.RatePerHost <= 0 {
		res.addErr("enrichment.rate_per_host must be > 0")
	}
	if e.Burst <= 0 {
		res.addErr("enrichment.burst must be > 0")
	}
	hosts := make([]string, 0, len(e.HostRates))
	for h := range e.HostRates {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	for _, h := range hosts {
		if strings.TrimSpace(h) == "" {
			res.addErr("enrichment.host_rates has an empty domain")
		} else if e.HostRates[h] <= 0 {
			res.addErr("enrichment.host_rates.%s must be > 0", h)
		}
	}
	if e.AdLibrary.Enabled && strings.TrimSpace(e.AdLibrary.Endpoint) == "" {
		res.addErr("enrichment.ad_library.endpoint is required when enabled")
	}
	if !e.Website.Enabled && !e.AdLibrary.Enabled {
		res.addWarn("no enrichment sources enabled; every gate will see UNKNOWN data")
	}
}

func validateGates(g GatesConfig, res *Validation) {
	if strings.TrimSpace(g.Activity.Signal) == "" {
		res.addErr("gates.activity.signal is required")
	}
	if g.Activity.MinCount < 0 {
		res.addErr("gates.activity.min_count must be >= 0")
	}
	if g.Activity.Cap <= 0 {
		res.addErr("gates.activity.cap must be > 0")
	}

	check := func(name string, w WeightedGateConfig) {
		if len(w.Indicators) == 0 {
			res.addErr("gates.%s.indicators must have at least 1 entry", name)
		}
		if w.Threshold < 0 {
			res.addErr("gates.%s.threshold must be >= 0", name)
		}
		total := 0.0
		for i, ind := range w.Indicators {
			if strings.TrimSpace(ind.Signal) == "" {
				res.addErr("gates.%s.indicators[%d].signal is required", name, i)
			}
			if ind.Weight <= 0 {
				res.addErr("gates.%s.indicators[%d].weight must be > 0", name, i)
			}
			if ind.Cap < 0 {
				res.addErr("gates.%s.indicators[%d].cap must be >= 0", name, i)
			}
			total += ind.Weight
		}
		if total > 0 && w.Threshold > total {
			res.addWarn("gates.%s.threshold (%.1f) exceeds the maximum reachable score (%.1f)", name, w.Threshold, total)
		}
	}
	check(domain.GateDeficiency, g.Deficiency)
	check(domain.GateMaturity, g.Maturity)
	check(domain.GateResolvability, g.Resolvability)
}

func validateScoring(s ScoringConfig, res *Validation) {
	sum := 0.0
	for _, name := range gateNames {
		w, ok := s.Weights[name]
		if !ok {
			res.addErr("scoring.weights.%s is required", name)
			continue
		}
		if w < 0 {
			res.addErr("scoring.weights.%s must be >= 0", name)
		}
		sum += w
	}
	for name := range s.Weights {
		if !isGateName(name) {
			res.addErr("scoring.weights.%s is not a known gate", name)
		}
	}
	if math.Abs(sum-1.0) > 1e-6 {
		res.addErr("scoring.weights must sum to 1.0 (got %.4f)", sum)
	}

	// Bands are lower bounds, strictly increasing B < A < S, so together with
	// REJECTED below the first band they partition [0,100].
	want := []domain.Tier{domain.TierB, domain.TierA, domain.TierS}
	if len(s.Tiers) != len(want) {
		res.addErr("scoring.tiers must define exactly %v", want)
	} else {
		prev := 0.0
		for i, band := range s.Tiers {
			if band.Tier != want[i] {
				res.addErr("scoring.tiers[%d].tier must be %s", i, want[i])
			}
			if band.Min <= prev || band.Min > 100 {
				res.addErr("scoring.tiers[%d].min must be in (%.1f, 100]", i, prev)
			}
			prev = band.Min
		}
	}

	if s.Opportunity.PerActivityUnit < 0 {
		res.addErr("scoring.opportunity.per_activity_unit must be >= 0")
	}
	if s.Opportunity.MaxMultiplier < 1 {
		res.addErr("scoring.opportunity.max_multiplier must be >= 1")
	}
	for k, v := range s.Opportunity.Findings {
		if v < 0 {
			res.addErr("scoring.opportunity.findings.%s must be >= 0", k)
		}
	}
}

func normalizeFunnels(in []Funnel) []Funnel {
	out := make([]Funnel, 0, len(in))
	for _, f := range in {
		f.Name = strings.ToLower(strings.TrimSpace(f.Name))
		steps := make([]Step, len(f.Steps))
		for i, s := range f.Steps {
			s.Channel = strings.ToLower(strings.TrimSpace(s.Channel))
			s.Template = strings.TrimSpace(s.Template)
			steps[i] = s
		}
		f.Steps = steps
		out = append(out, f)
	}
	return out
}

func validateFunnels(funnels []Funnel, res *Validation) {
	if len(funnels) == 0 {
		res.addErr("at least one funnel is required")
	}
	seen := map[string]bool{}
	tierOwner := map[domain.Tier]string{}
	for i, f := range funnels {
		if f.Name == "" {
			res.addErr("funnels[%d].name is required", i)
		} else if seen[f.Name] {
			res.addErr("funnels[%d].name %q is duplicated", i, f.Name)
		}
		seen[f.Name] = true

		if len(f.Tiers) == 0 {
			res.addErr("funnel %q must list at least one tier", f.Name)
		}
		for _, t := range f.Tiers {
			if !t.Valid() || t == domain.TierRejected {
				res.addErr("funnel %q: tier %q cannot enter a funnel", f.Name, t)
				continue
			}
			if owner, ok := tierOwner[t]; ok {
				res.addWarn("tier %s enters both %q and %q", t, owner, f.Name)
			}
			tierOwner[t] = f.Name
		}

		if len(f.Steps) == 0 {
			res.addErr("funnel %q must have at least 1 step", f.Name)
			continue
		}
		prev := 0
		for j, s := range f.Steps {
			if s.Day < prev {
				res.addErr("funnel %q step %d: day %d is before the previous step (%d)", f.Name, j, s.Day, prev)
			}
			prev = s.Day
			if s.Channel == "" {
				res.addErr("funnel %q step %d: channel is required", f.Name, j)
			}
			if s.Template == "" {
				res.addErr("funnel %q step %d: template is required", f.Name, j)
			}
		}
		if f.Steps[0].RequiresEngagement {
			res.addErr("funnel %q: the first step cannot require engagement", f.Name)
		}
		last := f.Steps[len(f.Steps)-1].Day
		if f.MaxElapsed <= dayDuration(last) {
			res.addErr("funnel %q: max_elapsed (%s) must be longer than the last step (day %d)", f.Name, f.MaxElapsed, last)
		}
	}
}

func isGateName(name string) bool {
	for _, g := range gateNames {
		if g == name {
			return true
		}
	}
	return false
}
