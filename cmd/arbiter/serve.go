package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ssd-technologies/arbiter/internal/agent"
	"github.com/ssd-technologies/arbiter/internal/config"
	"github.com/ssd-technologies/arbiter/internal/escrow"
	"github.com/ssd-technologies/arbiter/internal/logger"
	"github.com/ssd-technologies/arbiter/internal/notify"
	"github.com/ssd-technologies/arbiter/internal/server"
	"github.com/ssd-technologies/arbiter/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.Log.Level, cfg.Log.Pretty); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.Component("main")

	db, err := storage.NewDB(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	authorities, err := cfg.Authorities()
	if err != nil {
		return err
	}
	engine := escrow.NewEngine(db, agent.Ed25519Verifier{}, logger.Component("engine"), authorities...)
	hub := notify.NewHub(logger.Logger)
	notifier := notify.New(db, cfg.Notifier.BatchSize, logger.Logger,
		notify.LogSink{Log: logger.Component("events")}, hub)

	srv := server.New(engine, db, hub, server.Options{
		AdminSecret: cfg.Server.AdminSecret,
		RateLimit:   cfg.Server.RateLimit.Requests,
		RateWindow:  cfg.Server.RateLimit.Window,
	}, logger.Logger)

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	srv.StartWorkers(ctx, notifier, cfg.Notifier.Interval)

	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Int("authorities", len(authorities)).Msg("arbiter listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	// Flush whatever committed while shutting down.
	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if n, err := notifier.Drain(flushCtx); err != nil {
		log.Warn().Err(err).Msg("final outbox drain")
	} else if n > 0 {
		log.Info().Int("events", n).Msg("final outbox drain")
	}
	return nil
}
