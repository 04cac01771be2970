package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/waa2l/queue2/internal/audio"
	"github.com/waa2l/queue2/internal/auth"
	"github.com/waa2l/queue2/internal/config"
	"github.com/waa2l/queue2/internal/httpapi"
	"github.com/waa2l/queue2/internal/logging"
	"github.com/waa2l/queue2/internal/queue"
	"github.com/waa2l/queue2/internal/realtime"
	"github.com/waa2l/queue2/internal/schedule"
	"github.com/waa2l/queue2/internal/store"
	"github.com/waa2l/queue2/internal/store/memory"
	"github.com/waa2l/queue2/internal/store/postgres"
	"github.com/waa2l/queue2/internal/supervisor"
	"github.com/waa2l/queue2/internal/telemetry"
)

func runServer(ctx context.Context, cfg *config.Config) error {
	shutdownTracing := telemetry.Setup(telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
	})
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logging.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	clock := schedule.RealClock{}
	hub := realtime.NewHub()
	guard := store.NewGuard(backend, store.GuardOptions{
		ConsecutiveFailures: uint32(cfg.BreakerFailures),
		OpenTimeout:         cfg.BreakerTimeout(),
		OnConnectivity:      hub.SetConnectivity,
	})

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.SessionTTL())
	if err != nil {
		return err
	}
	if cfg.AdminPasswordHash == "" {
		logging.Warn().Msg("ADMIN_PASSWORD_HASH is empty, admin login is disabled")
	}
	authenticator := auth.NewAuthenticator(guard, tokens, cfg.AdminPasswordHash)
	controller := queue.NewController(guard, guard, guard, queue.Options{
		CASRetries: cfg.QueueCASRetries,
		Clock:      clock,
	})

	catalog, err := audio.LoadCatalog(cfg.AudioDir)
	if err != nil {
		return fmt.Errorf("load audio catalog: %w", err)
	}

	live := realtime.NewHandler(guard, authenticator, hub, realtime.Options{
		Prefix:  "/realtime",
		Catalog: catalog,
		Clock:   clock,
	})
	api := httpapi.NewHandler(controller, authenticator, guard, guard, httpapi.Options{
		Catalog:  catalog,
		Realtime: live,
		RateLimit: httpapi.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		},
		Location: cfg.Location,
	})

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           otelhttp.NewHandler(api.Routes(), serviceName),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	dailyReset, err := schedule.NewDaily(clock, func(ctx context.Context) error {
		count, err := controller.ResetAll(ctx, auth.SystemSession("daily-reset"))
		if err != nil {
			return err
		}
		logging.Info().Int("clinics", count).Msg("daily reset complete")
		return nil
	}, schedule.DailyOptions{
		Hour:     cfg.ResetHour,
		Minute:   cfg.ResetMinute,
		Location: cfg.Location,
		Name:     "daily-reset",
	})
	if err != nil {
		return err
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddStoreService(supervisor.NewConnectivityMonitor(guard, clock, 5*time.Second))
	tree.AddRealtimeService(hub)
	tree.AddRealtimeService(dailyReset)
	tree.AddAPIService(supervisor.NewHTTPService(server, 10*time.Second))

	logging.Info().
		Str("addr", server.Addr).
		Str("backend", cfg.StoreBackend).
		Str("reset_at", fmt.Sprintf("%02d:%02d", cfg.ResetHour, cfg.ResetMinute)).
		Msg("clinic-queue starting")

	err = tree.Serve(ctx)
	if report, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(report) > 0 {
		logging.Warn().Int("services", len(report)).Msg("services did not stop in time")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("clinic-queue stopped")
	return nil
}

func openBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		if err := postgres.MigrateUp(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return postgres.NewStore(pool, postgres.Options{PollInterval: cfg.PollInterval()}), nil
	default:
		logging.Warn().Msg("using in-memory store, data is lost on restart")
		return memory.New(), nil
	}
}
