package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"prospect-engine/internal/campaign"
	"prospect-engine/internal/config"
	"prospect-engine/internal/emailpoll"
	"prospect-engine/internal/enrich"
	"prospect-engine/internal/events"
	"prospect-engine/internal/gate"
	"prospect-engine/internal/outreach"
	"prospect-engine/internal/qualify"
	"prospect-engine/internal/rank"
	"prospect-engine/internal/secrets"
	"prospect-engine/internal/store"
)

// app holds what every command opens: the loaded config, the database and
// the event hub the HTTP API streams from.
type app struct {
	cfg     config.Config
	cfgPath string
	db      *store.DB
	hub     *events.Hub
	log     *zap.Logger
}

func openApp() (*app, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}

	path := configPath
	if path == "" {
		p, err := config.EnsureUserConfig(dataDir)
		if err != nil {
			return nil, fmt.Errorf("config bootstrap failed: %w", err)
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	dbPath := filepath.Join(dataDir, "prospect.db")
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	logger.Debug("opened store", zap.String("db", dbPath), zap.String("config", path))

	return &app{cfg: cfg, cfgPath: path, db: db, hub: events.NewHub(), log: logger}, nil
}

func (a *app) Close() error { return a.db.Close() }

func (a *app) pipeline() *qualify.Pipeline {
	ec := a.cfg.Enrichment
	lim := enrich.NewHostLimiter(ec.RatePerHost, ec.Burst, ec.HostRates)
	client := &http.Client{Timeout: ec.SourceTimeout}

	var sources []enrich.Source
	if ec.Website.Enabled {
		sources = append(sources, enrich.NewWebsiteSource(client, lim, ec.UserAgent, ec.Website.SlowThreshold))
	}
	if ec.AdLibrary.Enabled && ec.AdLibrary.Endpoint != "" {
		sources = append(sources, &enrich.AdLibrarySource{
			Client:   client,
			Limiter:  lim,
			Endpoint: ec.AdLibrary.Endpoint,
			Window:   ec.AdLibrary.Window,
		})
	}

	col := enrich.NewCollector(sources, enrich.Options{
		TTL:           ec.TTL,
		Budget:        ec.Budget,
		SourceTimeout: ec.SourceTimeout,
		MaxInFlight:   ec.MaxInFlight,
		Store:         a.db,
		Logger:        a.log.Named("enrich"),
	})

	opts := qualify.Options{
		TTL:         ec.TTL,
		Concurrency: ec.MaxInFlight,
		Events:      a.hub,
		Logger:      a.log.Named("qualify"),
	}
	if ec.Resolver.Enabled {
		opts.Resolver = &enrich.Resolver{Client: client, Limiter: lim, SearchURL: ec.Resolver.SearchURL, UserAgent: ec.UserAgent}
	}

	ev := gate.NewEvaluator(gate.FromConfig(a.cfg.Gates), a.log.Named("gate"))
	agg := rank.NewAggregator(a.cfg.Scoring, a.cfg.Quorum)
	return qualify.New(col, ev, agg, a.db, opts)
}

// channels builds one adapter per channel the funnels use. Dry runs log
// instead of sending.
func (a *app) channels() (map[string]outreach.Channel, error) {
	out := make(map[string]outreach.Channel)
	client := &http.Client{Timeout: a.cfg.Channels.Timeout}
	for _, f := range a.cfg.Funnels {
		for _, st := range f.Steps {
			name := st.Channel
			if _, ok := out[name]; ok {
				continue
			}
			if a.cfg.Channels.DryRun {
				out[name] = outreach.LogChannel{ID: name, Log: a.log.Named("dry-run")}
				continue
			}
			wh, ok := a.cfg.Channels.Webhooks[name]
			if !ok || wh.URL == "" {
				return nil, fmt.Errorf("channel %q has no webhook url", name)
			}
			token, err := secrets.Get(secrets.WebhookKeyringAccount(name, wh))
			if err != nil && !errors.Is(err, secrets.ErrNotFound) {
				return nil, err
			}
			if token == "" {
				a.log.Warn("webhook has no token in keychain", zap.String("channel", name))
			}
			out[name] = &outreach.WebhookChannel{ID: name, URL: wh.URL, Token: token, Client: client}
		}
	}
	return out, nil
}

func (a *app) scheduler() (*outreach.Scheduler, error) {
	chans, err := a.channels()
	if err != nil {
		return nil, err
	}
	return outreach.NewScheduler(a.cfg.Funnels, chans, a.db, outreach.Options{
		SendTimeout: a.cfg.Channels.Timeout,
		Events:      a.hub,
		Logger:      a.log.Named("outreach"),
	}), nil
}

func (a *app) runner(seq campaign.Sequencer, qualifyDue bool) (*campaign.Runner, error) {
	lockPath := a.cfg.Campaign.LockFile
	if !filepath.IsAbs(lockPath) {
		lockPath = filepath.Join(dataDir, lockPath)
	}
	lock, err := campaign.NewFileLock(lockPath)
	if err != nil {
		return nil, err
	}
	opts := campaign.Options{
		Lock:   lock,
		Events: a.hub,
		Logger: a.log.Named("campaign"),
	}
	if qualifyDue {
		opts.Qualifier = a.pipeline()
	}
	return campaign.NewRunner(a.db, seq, a.cfg.Funnels, a.cfg.Campaign, opts), nil
}

func (a *app) replyWatcher(rec emailpoll.EngagementRecorder) *emailpoll.ReplyWatcher {
	ec := a.cfg.Email
	log := a.log.Named("imap")
	return &emailpoll.ReplyWatcher{
		Dial: func(ctx context.Context) (emailpoll.Mailbox, error) {
			password, err := secrets.Get(secrets.IMAPKeyringAccount(ec))
			if err != nil {
				return nil, err
			}
			mb, err := emailpoll.DialIMAP(ctx, ec.IMAPAddr, ec.Username, password, ec.Mailbox, log)
			if err != nil {
				return nil, err
			}
			return mb, nil
		},
		Sequences:   a.db,
		Engagement:  rec,
		MaxMessages: ec.MaxMessages,
		Logger:      log,
	}
}
