// The gateway binary is the public edge: it terminates client traffic,
// rate-limits it, and proxies to the downstream services through per-service
// circuit breakers.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/socialhub/go-social-backend/internal/breaker"
	"github.com/socialhub/go-social-backend/internal/config"
	"github.com/socialhub/go-social-backend/internal/gateway"
	httpapi "github.com/socialhub/go-social-backend/internal/http"
	"github.com/socialhub/go-social-backend/internal/observability"
	"github.com/socialhub/go-social-backend/internal/sysutil"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() { _ = shutdownOTel(context.Background()) }()

	reg := breaker.NewRegistry(breaker.Options{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Window:           cfg.Breaker.Window,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		MinRequests:      cfg.Breaker.MinRequests,
	})

	gw, err := gateway.New(cfg, reg)
	if err != nil {
		log.Fatal().Err(err).Msg("gateway construction failed")
	}

	r := httpapi.New(cfg)
	gw.Register(r, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Ports.Gateway,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("port", cfg.Ports.Gateway).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("gateway server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
