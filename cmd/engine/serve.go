package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"prospect-engine/internal/domain"
	"prospect-engine/internal/httpapi"
	"prospect-engine/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the periodic tick",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	seq, err := a.scheduler()
	if err != nil {
		return err
	}
	runner, err := a.runner(seq, true)
	if err != nil {
		return err
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Store:      a.db,
		Ticker:     runner,
		Sequences:  seq,
		Hub:        a.hub,
		Logger:     a.log.Named("http"),
		Config:     a.cfg,
		ConfigPath: a.cfgPath,
	})

	ln, err := net.Listen("tcp", a.cfg.App.HTTPAddr)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)

	// Request contexts derive from gctx so open SSE streams end on shutdown.
	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}
	a.log.Info("engine listening",
		zap.String("addr", "http://"+ln.Addr().String()),
		zap.Duration("tick_interval", a.cfg.App.TickInterval),
		zap.Bool("dry_run", a.cfg.Channels.DryRun))

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		scheduler.Every(gctx, a.log, a.cfg.App.TickInterval, "tick", func(ctx context.Context) error {
			_, err := runner.RunTick(ctx)
			if errors.Is(err, domain.ErrTickInProgress) {
				a.log.Info("tick skipped, another is running")
				return nil
			}
			return err
		})
		return nil
	})
	if a.cfg.Email.Enabled {
		w := a.replyWatcher(seq)
		g.Go(func() error {
			scheduler.Every(gctx, a.log, a.cfg.Email.PollInterval, "reply-poll", func(ctx context.Context) error {
				_, err := w.RunOnce(ctx)
				return err
			})
			return nil
		})
	}

	err = g.Wait()
	a.log.Info("engine stopped")
	return err
}
