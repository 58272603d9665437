package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/adapters/docsync"
	router "github.com/dkeye/huddle/internal/adapters/http"
	"github.com/dkeye/huddle/internal/app/meetings"
	"github.com/dkeye/huddle/internal/app/sweeper"
	"github.com/dkeye/huddle/internal/auth"
	"github.com/dkeye/huddle/internal/config"
	"github.com/dkeye/huddle/internal/database"
	"github.com/dkeye/huddle/internal/docstore"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(lvl)
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	repo, err := database.NewDocumentRepository(db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare documents table")
	}
	store := docstore.NewMemory(docstore.WithPersister(repo))
	n, err := store.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load documents")
	}
	log.Info().Int("documents", n).Str("driver", cfg.Database.Driver).Msg("document store ready")

	mod, err := metrics.NewModule(metrics.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create metrics")
	}
	metrics.SetModule(mod)

	var sweep *sweeper.Sweeper
	if cfg.Sweeper.Schedule != "" {
		sweep = sweeper.New(store, sweeper.WithSchedule(cfg.Sweeper.Schedule))
		if err := sweep.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start sweeper")
		}
	}

	issuer, err := auth.NewIssuer(cfg.Secret, cfg.TokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create token issuer")
	}

	limiter := docsync.NewWriteLimiter(cfg.Sync.WriteLimit, cfg.Sync.WriteWindow, nil)
	syncCtl := docsync.NewSyncWSController(store, issuer, limiter, docsync.Options{
		SendBuffer: cfg.Sync.SendBuffer,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
	})

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Sync:     syncCtl,
		Issuer:   issuer,
		Meetings: meetings.New(store, domain.User{}),
		Metrics:  mod,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Huddle server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if sweep != nil {
		<-sweep.Stop().Done()
	}
	log.Info().Msg("Server exited gracefully")
}
