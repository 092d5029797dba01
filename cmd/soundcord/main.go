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
	"golang.org/x/oauth2"

	"github.com/soundcord/soundcord/internal/adapters/creds"
	"github.com/soundcord/soundcord/internal/adapters/source"
	"github.com/soundcord/soundcord/internal/adapters/voice"
	"github.com/soundcord/soundcord/internal/config"
	"github.com/soundcord/soundcord/internal/engine"
	"github.com/soundcord/soundcord/internal/stats"
	router "github.com/soundcord/soundcord/internal/transport/http"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		log.Error().Err(err).Str("dir", cfg.DataDir).Msg("failed to create data dir")
		return
	}

	store := creds.NewStore(cfg.DataDir, &oauth2.Config{
		ClientID:     cfg.Source.ClientID,
		ClientSecret: cfg.Source.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.Source.AuthURL,
			TokenURL: cfg.Source.TokenURL,
		},
	})
	go func() {
		if err := store.Watch(ctx); err != nil {
			log.Error().Err(err).Msg("credentials watch error")
		}
	}()

	reg := engine.NewRegistry(
		store,
		source.NewFactory(cfg.Source, cfg.Engine.FrameInterval),
		voice.NewFactory(cfg.Voice, cfg.Engine.FrameInterval),
		cfg.DeviceName,
		cfg.Engine,
	)
	cmdRouter := engine.NewRouter(reg)

	go stats.New(time.Minute, reg.Len).Run(ctx)

	r := router.SetupRouter(ctx, cfg, reg, cmdRouter)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Soundcord server started")
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
	reg.Shutdown()
	log.Info().Msg("Server exited gracefully")
}
