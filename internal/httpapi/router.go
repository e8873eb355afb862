package httpapi

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func NewRouter(d Deps) chi.Router {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(RequestID, Recover(d.Logger), AccessLog(d.Logger))

	r.Get("/health", HealthHandler{Store: d.Store}.Health)

	r.Get("/config", ConfigHandler{Cfg: d.Config, Path: d.ConfigPath}.Get)
	r.Get("/config/validate", ConfigHandler{Cfg: d.Config, Path: d.ConfigPath}.Validate)

	ch := CandidatesHandler{Store: d.Store}
	r.Get("/candidates/qualified", ch.Qualified)

	th := TicksHandler{Store: d.Store, Ticker: d.Ticker}
	r.Route("/ticks", func(r chi.Router) {
		r.Get("/", th.List)
		r.Post("/", th.Run)
		r.Get("/last", th.Last)
	})

	sh := SequencesHandler{Store: d.Store, Sequences: d.Sequences}
	r.Post("/engagement", sh.Engagement)
	r.Route("/sequences/{id}", func(r chi.Router) {
		r.Get("/", sh.Get)
		r.Post("/pause", sh.Pause)
		r.Post("/resume", sh.Resume)
	})

	sec := SecretsHandler{Cfg: d.Config}
	r.Post("/api/secrets/imap", sec.SetIMAPPassword)
	r.Post("/api/secrets/webhooks/{channel}", sec.SetWebhookToken)

	if d.Hub != nil {
		r.Get("/events", EventsHandler{Hub: d.Hub}.ServeSSE)
	}
	return r
}
