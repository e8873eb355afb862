// engine/internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"prospect-engine/internal/domain"
)

type AppConfig struct {
	DataDir      string        `yaml:"data_dir" env:"PROSPECT_DATA_DIR"`
	HTTPAddr     string        `yaml:"http_addr" env:"PROSPECT_HTTP_ADDR"`
	TickInterval time.Duration `yaml:"tick_interval" env:"PROSPECT_TICK_INTERVAL"`
}

type WebsiteSourceConfig struct {
	Enabled       bool          `yaml:"enabled"`
	SlowThreshold time.Duration `yaml:"slow_threshold"`
}

type AdLibraryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Endpoint string        `yaml:"endpoint" env:"PROSPECT_ADLIBRARY_ENDPOINT"`
	Window   time.Duration `yaml:"window"`
}

type ResolverConfig struct {
	Enabled   bool   `yaml:"enabled"`
	SearchURL string `yaml:"search_url"`
}

type EnrichmentConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	Budget        time.Duration `yaml:"budget"`
	SourceTimeout time.Duration `yaml:"source_timeout"`
	MaxInFlight   int           `yaml:"max_in_flight"`
	RatePerHost   float64       `yaml:"rate_per_host"`
	Burst         int           `yaml:"burst"`
	// HostRates overrides RatePerHost for a domain, in requests per second.
	HostRates map[string]float64 `yaml:"host_rates,omitempty"`
	UserAgent     string        `yaml:"user_agent"`

	Website   WebsiteSourceConfig `yaml:"website"`
	AdLibrary AdLibraryConfig     `yaml:"ad_library"`
	Resolver  ResolverConfig      `yaml:"resolver"`
}

type ActivityGateConfig struct {
	Signal   string  `yaml:"signal"`
	MinCount float64 `yaml:"min_count"`
	Cap      float64 `yaml:"cap"`
}

// Indicator is one weighted input of a weighted gate. Cap, when set,
// normalises the raw value to [0,1] before weighting.
type Indicator struct {
	Signal string  `yaml:"signal"`
	Weight float64 `yaml:"weight"`
	Cap    float64 `yaml:"cap,omitempty"`
}

type WeightedGateConfig struct {
	Threshold  float64     `yaml:"threshold"`
	Indicators []Indicator `yaml:"indicators"`
}

type GatesConfig struct {
	Activity      ActivityGateConfig `yaml:"activity"`
	Deficiency    WeightedGateConfig `yaml:"deficiency"`
	Maturity      WeightedGateConfig `yaml:"maturity"`
	Resolvability WeightedGateConfig `yaml:"resolvability"`
}

type TierBand struct {
	Tier domain.Tier `yaml:"tier"`
	Min  float64     `yaml:"min"`
}

type OpportunityConfig struct {
	Findings        map[string]float64 `yaml:"findings"`
	PerActivityUnit float64            `yaml:"per_activity_unit"`
	MaxMultiplier   float64            `yaml:"max_multiplier"`
}

type ScoringConfig struct {
	Weights     map[string]float64 `yaml:"weights"`
	Tiers       []TierBand         `yaml:"tiers"`
	Opportunity OpportunityConfig  `yaml:"opportunity"`
}

type Step struct {
	Day                int    `yaml:"day"`
	Channel            string `yaml:"channel"`
	Template           string `yaml:"template"`
	RequiresEngagement bool   `yaml:"requires_engagement,omitempty"`
}

type Funnel struct {
	Name       string        `yaml:"name"`
	Tiers      []domain.Tier `yaml:"tiers"`
	MaxElapsed time.Duration `yaml:"max_elapsed"`
	Steps      []Step        `yaml:"steps"`
}

type CampaignConfig struct {
	StartPerTick   int    `yaml:"start_per_tick"`
	AdvancePerTick int    `yaml:"advance_per_tick"`
	QualifyPerTick int    `yaml:"qualify_per_tick"`
	LockFile       string `yaml:"lock_file"`
}

type WebhookConfig struct {
	URL            string `yaml:"url"`
	KeyringAccount string `yaml:"keyring_account,omitempty"`
}

type ChannelsConfig struct {
	DryRun   bool                     `yaml:"dry_run" env:"PROSPECT_DRY_RUN"`
	Timeout  time.Duration            `yaml:"timeout"`
	Webhooks map[string]WebhookConfig `yaml:"webhooks"`
}

type EmailConfig struct {
	Enabled        bool          `yaml:"enabled"`
	IMAPAddr       string        `yaml:"imap_addr"`
	Username       string        `yaml:"username" env:"PROSPECT_IMAP_USERNAME"`
	KeyringAccount string        `yaml:"keyring_account"`
	Mailbox        string        `yaml:"mailbox"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxMessages    int           `yaml:"max_messages"`
}

// Config is loaded once and passed by value into constructors; nothing
// mutates it after Load returns.
type Config struct {
	App        AppConfig        `yaml:"app"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Gates      GatesConfig      `yaml:"gates"`
	Quorum     int              `yaml:"quorum"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Funnels    []Funnel         `yaml:"funnels"`
	Campaign   CampaignConfig   `yaml:"campaign"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Email      EmailConfig      `yaml:"email"`
}

// Funnel returns the named funnel.
func (c Config) Funnel(name string) (Funnel, bool) {
	for _, f := range c.Funnels {
		if f.Name == name {
			return f, true
		}
	}
	return Funnel{}, false
}

// Load reads path over the defaults, applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	out, vr := NormalizeAndValidate(cfg)
	if !vr.OK() {
		return out, vr
	}
	return out, nil
}
