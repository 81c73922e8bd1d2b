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

	"github.com/dkeye/Perch/internal/adapters/auth"
	"github.com/dkeye/Perch/internal/adapters/directory"
	router "github.com/dkeye/Perch/internal/adapters/http"
	wssignal "github.com/dkeye/Perch/internal/adapters/signal"
	"github.com/dkeye/Perch/internal/app"
	"github.com/dkeye/Perch/internal/config"
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
	}

	// The in-memory directory stands in for the resource API; membership
	// changes invalidate the hub's cache through the OnChange hook.
	dir := directory.NewMemory()

	hub := app.NewHub(dir, app.Options{
		RingingTimeout: cfg.RingingTimeout,
		PresenceGrace:  cfg.PresenceGrace,
		KickAfterDrops: cfg.KickAfterDrops,
	})
	dir.OnChange = hub.Members.Invalidate

	validator := auth.NewJWTValidator(cfg.Secret)
	ctrl := wssignal.NewController(hub, validator, cfg)

	r := router.SetupRouter(ctx, cfg, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Perch hub started")
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
	log.Info().Msg("Server exited gracefully")
}
