// The posts binary serves post creation and listing. Creation sits behind
// the idempotency guard and publishes post.created events.
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

	"github.com/socialhub/go-social-backend/internal/bus"
	"github.com/socialhub/go-social-backend/internal/cache"
	"github.com/socialhub/go-social-backend/internal/config"
	httpapi "github.com/socialhub/go-social-backend/internal/http"
	"github.com/socialhub/go-social-backend/internal/http/handlers"
	"github.com/socialhub/go-social-backend/internal/observability"
	"github.com/socialhub/go-social-backend/internal/repo"
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

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	rdb, err := cache.Dial(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("redis url invalid")
	}
	store := cache.NewRedis(rdb, cfg.Redis.OpTimeout)

	conn := bus.New(bus.Options{
		URL:          cfg.AMQP.URL,
		ReconnectMin: cfg.AMQP.ReconnectMin,
		ReconnectMax: cfg.AMQP.ReconnectMax,
	})
	go conn.Run(ctx)

	h := handlers.New(db, conn, store, cfg.NotificationTTL, cfg.EntityCacheTTL)

	r := httpapi.New(cfg)
	httpapi.RegisterPostRoutes(r, h, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Ports.Posts,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("port", cfg.Ports.Posts).Msg("post service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("post service failed")
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
