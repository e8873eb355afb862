package config

import (
	"time"

	"prospect-engine/internal/domain"
)

const day = 24 * time.Hour

func dayDuration(n int) time.Duration { return time.Duration(n) * day }

// Default returns the built-in configuration. The weights, thresholds and
// dollar values are starting points to be calibrated against outcomes.
func Default() Config {
	return Config{
		App: AppConfig{
			DataDir:      ".",
			HTTPAddr:     "127.0.0.1:38471",
			TickInterval: day,
		},
		Enrichment: EnrichmentConfig{
			TTL:           7 * day,
			Budget:        45 * time.Second,
			SourceTimeout: 20 * time.Second,
			MaxInFlight:   8,
			RatePerHost:   1.0,
			Burst:         2,
			UserAgent:     "ProspectEngine/1.0 (+local)",
			Website: WebsiteSourceConfig{
				Enabled:       true,
				SlowThreshold: 3 * time.Second,
			},
			AdLibrary: AdLibraryConfig{
				Window: 30 * day,
			},
			Resolver: ResolverConfig{
				Enabled:   true,
				SearchURL: "https://duckduckgo.com/html/",
			},
		},
		Gates: GatesConfig{
			Activity: ActivityGateConfig{
				Signal:   string(domain.SignalAdCount),
				MinCount: 1,
				Cap:      10,
			},
			Deficiency: WeightedGateConfig{
				Threshold: 3,
				Indicators: []Indicator{
					{Signal: string(domain.SignalNoHTTPS), Weight: 3},
					{Signal: string(domain.SignalNoViewport), Weight: 2},
					{Signal: string(domain.SignalNoMetaDescription), Weight: 1},
					{Signal: string(domain.SignalNoAnalytics), Weight: 2},
					{Signal: string(domain.SignalSlowResponse), Weight: 2},
				},
			},
			Maturity: WeightedGateConfig{
				Threshold: 30,
				Indicators: []Indicator{
					{Signal: string(domain.SignalAdPlatforms), Weight: 35, Cap: 3},
					{Signal: string(domain.SignalAdCreatives), Weight: 25, Cap: 10},
					{Signal: string(domain.SignalCustomDomain), Weight: 20, Cap: 1},
					{Signal: string(domain.SignalSocialProfiles), Weight: 20, Cap: 4},
				},
			},
			Resolvability: WeightedGateConfig{
				Threshold: 5,
				Indicators: []Indicator{
					{Signal: string(domain.SignalContactEmail), Weight: 4},
					{Signal: string(domain.SignalContactLinkedIn), Weight: 3},
					{Signal: string(domain.SignalContactPhone), Weight: 2},
					{Signal: string(domain.SignalContactPage), Weight: 1},
				},
			},
		},
		Quorum: 3,
		Scoring: ScoringConfig{
			Weights: map[string]float64{
				domain.GateActivity:      0.25,
				domain.GateDeficiency:    0.30,
				domain.GateMaturity:      0.20,
				domain.GateResolvability: 0.25,
			},
			Tiers: []TierBand{
				{Tier: domain.TierB, Min: 50},
				{Tier: domain.TierA, Min: 65},
				{Tier: domain.TierS, Min: 80},
			},
			Opportunity: OpportunityConfig{
				Findings: map[string]float64{
					string(domain.SignalNoHTTPS):           400,
					string(domain.SignalNoViewport):        1200,
					string(domain.SignalNoMetaDescription): 300,
					string(domain.SignalNoAnalytics):       800,
					string(domain.SignalSlowResponse):      900,
				},
				PerActivityUnit: 0.1,
				MaxMultiplier:   3,
			},
		},
		Funnels: []Funnel{
			{
				Name:       "premium",
				Tiers:      []domain.Tier{domain.TierS, domain.TierA},
				MaxElapsed: 21 * day,
				Steps: []Step{
					{Day: 0, Channel: "email", Template: "premium_intro"},
					{Day: 1, Channel: "linkedin", Template: "premium_connect"},
					{Day: 3, Channel: "email", Template: "premium_followup"},
					{Day: 6, Channel: "video", Template: "premium_audit_video"},
					{Day: 9, Channel: "whatsapp", Template: "premium_close", RequiresEngagement: true},
				},
			},
			{
				Name:       "standard",
				Tiers:      []domain.Tier{domain.TierB},
				MaxElapsed: 21 * day,
				Steps: []Step{
					{Day: 0, Channel: "email", Template: "standard_intro"},
					{Day: 3, Channel: "email", Template: "standard_followup"},
					{Day: 6, Channel: "linkedin", Template: "standard_connect"},
					{Day: 9, Channel: "email", Template: "standard_close", RequiresEngagement: true},
				},
			},
		},
		Campaign: CampaignConfig{
			StartPerTick:   25,
			AdvancePerTick: 200,
			QualifyPerTick: 50,
			LockFile:       "tick.lock",
		},
		Channels: ChannelsConfig{
			DryRun:   true,
			Timeout:  15 * time.Second,
			Webhooks: map[string]WebhookConfig{},
		},
		Email: EmailConfig{
			Mailbox:      "INBOX",
			PollInterval: 15 * time.Minute,
			MaxMessages:  50,
		},
	}
}
