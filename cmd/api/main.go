package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fivesteps.org/internal/auth"
	"fivesteps.org/internal/community"
	"fivesteps.org/internal/config"
	"fivesteps.org/internal/geo"
	"fivesteps.org/internal/httpapi"
	"fivesteps.org/internal/jobs"
	"fivesteps.org/internal/obs"
	"fivesteps.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		obs.Logger().Fatal().Err(err).Msg("load config")
	}

	obs.InitLogger(obs.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format})
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	store, err := pg.Open(cfg.Database.DSN, pg.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}

	tokens, err := auth.NewTokenIssuer(cfg.Auth.Secret, auth.WithTokenTTL(cfg.Auth.TokenTTL))
	if err != nil {
		log.Fatal().Err(err).Msg("token issuer")
	}

	proxies, err := cfg.HTTP.ProxyPrefixes()
	if err != nil {
		log.Fatal().Err(err).Msg("trusted proxies")
	}

	svc := community.NewService(store, community.WithGeocoder(geo.New(cfg.Geo.BaseURL, cfg.Geo.Timeout)))

	daily, err := jobs.NewScheduler(svc, jobs.DailySpec)
	if err != nil {
		log.Fatal().Err(err).Msg("schedule daily statistics")
	}
	// Today's rows may be missing after downtime across midnight.
	if err := daily.RunOnce(context.Background()); err != nil {
		log.Warn().Err(err).Msg("open today's statistics")
	}
	daily.Start()

	api := httpapi.New(svc, tokens,
		httpapi.WithVersion(version),
		httpapi.WithReadyProbe(httpapi.ReadyProbe{DB: store.DB()}),
		httpapi.WithFrontendOrigins(cfg.HTTP.FrontendOrigins...),
		httpapi.WithLoginRateLimit(cfg.Auth.LoginRatePerSec, cfg.Auth.LoginBurst),
		httpapi.WithTrustedProxies(proxies...),
	)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	log.Info().Str("version", version).Str("addr", srv.Addr).Msg("starting fivesteps-api")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	daily.Stop(ctx)
	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("close db")
	}
	log.Info().Msg("stopped")
}
