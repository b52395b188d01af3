// Package main is the entry point for the podcast-sync backbone server.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: load settings from environment variables and an
//     optional config file (Koanf v2, see internal/config).
//  2. Postgres: apply pending schema migrations, then connect the pgxpool.
//  3. Event store: wrap the pool in a circuit-breaker-guarded Postgres
//     event store (internal/eventstore).
//  4. Aggregate runtime: the per-user command-replay cache
//     (internal/aggregate).
//  5. Wake bus: the best-effort cross-projector wake signal
//     (internal/notify).
//  6. Dispatcher: the single command-execution entry point shared by the
//     HTTP and WebSocket collaborators (internal/dispatcher).
//  7. Rate limiter and auth verifier: play-ingress throttling and bearer
//     token verification (internal/ratelimit, internal/authctx).
//  8. Snapshot worker: periodic per-user compaction and popularity
//     recalculation, with its lease store (internal/snapshot).
//  9. Projection runners: one per read-model family, each independently
//     polling and checkpointing (internal/projection).
//  10. HTTP and WebSocket collaborators: thin command-ingress transports
//     (internal/httpapi, internal/wsapi).
//
// Every long-running component is added to a suture supervisor tree
// (internal/supervisor) so a crash in one is isolated and restarted
// without taking down the others.
//
// # Build Tags
//
// Optional build tags enable additional infrastructure:
//
//	go build -tags "nats" ./cmd/server  # real NATS wake bus instead of noop
//	go build -tags "wal" ./cmd/server   # BadgerDB-backed snapshot leases
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM: it stops
// accepting new connections, waits for in-flight work to finish, and
// closes the Postgres pool and the lease store.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/podcloud/balados-sync/internal/aggregate"
	"github.com/podcloud/balados-sync/internal/authctx"
	"github.com/podcloud/balados-sync/internal/config"
	"github.com/podcloud/balados-sync/internal/dispatcher"
	"github.com/podcloud/balados-sync/internal/eventstore"
	"github.com/podcloud/balados-sync/internal/httpapi"
	"github.com/podcloud/balados-sync/internal/logging"
	"github.com/podcloud/balados-sync/internal/notify"
	"github.com/podcloud/balados-sync/internal/projection"
	"github.com/podcloud/balados-sync/internal/ratelimit"
	"github.com/podcloud/balados-sync/internal/snapshot"
	"github.com/podcloud/balados-sync/internal/supervisor"
	"github.com/podcloud/balados-sync/internal/wsapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: cfg.Logging.Timestamp,
	})

	logging.Info().Msg("starting sync backbone")

	if err := runMigrations(cfg.Postgres.DSN); err != nil {
		logging.Fatal().Err(err).Msg("failed to apply migrations")
	}

	pool, err := newPool(cfg.Postgres)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	store := eventstore.NewPostgres(pool, eventstore.DefaultCircuitBreakerConfig("eventstore"))

	runtime := aggregate.NewRuntime(store, aggregate.RuntimeConfig{
		ShardCount:   cfg.Aggregate.ShardCount,
		IdleTTL:      cfg.Aggregate.IdleTTL,
		MaxRetries:   cfg.Aggregate.MaxRetries,
		ReadPageSize: cfg.Aggregate.ReadPageSize,
	})

	publisher, wakeFactory := newWakeBus(cfg.NATS)

	d := dispatcher.New(runtime, publisher, cfg.Dispatcher.Timeout)

	limiter := ratelimit.New(ratelimit.Config{
		Capacity:   cfg.RateLimit.Capacity,
		RefillRate: cfg.RateLimit.RefillRate,
	})

	verifier, err := authctx.NewVerifier(cfg.Auth.JWTSigningKey)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to construct auth verifier")
	}

	leases, err := snapshot.OpenLeaseStore(cfg.Snapshot.LeaseStorePath)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open snapshot lease store")
	}
	defer func() {
		if err := leases.Close(); err != nil {
			logging.Warn().Err(err).Msg("error closing snapshot lease store")
		}
	}()

	worker := snapshot.NewWorker(store, runtime, pool, leases, snapshot.Config{
		Interval:      cfg.Snapshot.Interval,
		CheckpointAge: cfg.Snapshot.CheckpointAge,
		LeaseDuration: cfg.Snapshot.LeaseDuration,
		BatchSize:     snapshot.DefaultBatchSize,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slogLogger := logging.NewSlogLogger()
	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create supervisor tree")
	}

	tree.AddDataService(&aggregate.EvictionLoop{Runtime: runtime, Interval: cfg.Aggregate.IdleTTL})
	tree.AddDataService(worker)

	for _, runner := range newProjectionRunners(pool, store, wakeFactory) {
		tree.AddMessagingService(runner)
	}

	httpHandler := httpapi.NewHandler(d, limiter)
	wsServer := wsapi.NewServer(d, verifier, httpapi.DecodeCommand, cfg.HTTP.CORSOrigins)
	httpRouter := httpapi.NewRouter(httpHandler, verifier, httpapi.Config{
		CORSOrigins:  cfg.HTTP.CORSOrigins,
		RateLimitRPS: cfg.HTTP.RateLimitRPS,
	}, wsServer)
	httpServer := &http.Server{
		Addr:         cfg.HTTP.ListenAddr,
		Handler:      httpRouter,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	tree.AddAPIService(supervisor.NewHTTPServerService("httpapi", httpServer, cfg.HTTP.ShutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("service failed to stop within timeout")
	}

	logging.Info().Msg("sync backbone stopped gracefully")
}

func runMigrations(dsn string) error {
	migrator, err := eventstore.NewMigrator(dsn)
	if err != nil {
		return fmt.Errorf("open migrator: %w", err)
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			logging.Warn().Err(err).Msg("error closing migrator")
		}
	}()
	return migrator.Up()
}

func newPool(cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return pool, nil
}

// newWakeBus constructs the Dispatcher-facing Publisher and a factory for
// per-projector Subscribers. With NATS disabled (the default), publisher
// is notify.Noop and every projector falls back to its own poll ticker
// (spec §4.4: correctness never depends on the wake bus).
func newWakeBus(cfg config.NATSConfig) (notify.Publisher, func(name string) notify.Subscriber) {
	if !cfg.Enabled {
		return notify.Noop(), func(string) notify.Subscriber { return nil }
	}

	natsCfg := notify.DefaultConfig(cfg.URL)
	publisher, err := notify.NewPublisher(natsCfg)
	if err != nil {
		logging.Warn().Err(err).Msg("failed to connect wake-bus publisher, falling back to noop")
		return notify.Noop(), func(string) notify.Subscriber { return nil }
	}

	return publisher, func(name string) notify.Subscriber {
		sub, err := notify.NewSubscriber(natsCfg)
		if err != nil {
			logging.Warn().Err(err).Str("projector", name).Msg("failed to subscribe to wake bus, polling only")
			return nil
		}
		return sub
	}
}

func newProjectionRunners(pool *pgxpool.Pool, store eventstore.Store, wakeFactory func(name string) notify.Subscriber) []*projection.Runner {
	projectors := []projection.Projector{
		projection.SubscriptionsProjector{},
		projection.PlayStatusesProjector{},
		projection.PlaylistsProjector{},
		projection.CollectionsProjector{},
		projection.PrivacyProjector{},
		projection.PopularityProjector{},
	}

	runners := make([]*projection.Runner, 0, len(projectors))
	for _, p := range projectors {
		runners = append(runners, projection.NewRunner(pool, store, p, wakeFactory(p.Name()), projection.DefaultRunnerConfig()))
	}
	return runners
}
