package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/whygraph/backend/internal/bootstrap"
	"github.com/OFFIS-RIT/whygraph/backend/internal/config"
	"github.com/OFFIS-RIT/whygraph/backend/internal/db"
	"github.com/OFFIS-RIT/whygraph/backend/internal/queue"
	"github.com/OFFIS-RIT/whygraph/backend/internal/server"
	mid "github.com/OFFIS-RIT/whygraph/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/whygraph/backend/internal/util"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/metrics"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/snapshot"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		// logger is not configured yet
		bootstrap.InitLogger(config.Config{Debug: true}, "whygraph")
		logger.Fatal("Invalid configuration", "err", err)
	}
	bootstrap.InitLogger(cfg, "whygraph")

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		if err := db.Migrate(cfg.MigrationsSource, cfg.DatabaseURL); err != nil {
			logger.Fatal("Failed to run migrations", "err", err)
		}
		pool, err = bootstrap.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Unable to connect to database", "err", err)
		}
		defer pool.Close()
	}

	aiClient, err := bootstrap.NewAIClient(cfg.AI)
	if err != nil {
		logger.Fatal("Could not create AI client", "err", err)
	}

	graph, err := bootstrap.NewGraphStore(cfg, pool, aiClient)
	if err != nil {
		logger.Fatal("Could not open graph store", "store", cfg.Store, "err", err)
	}

	artifacts, err := bootstrap.NewArtifactStore(ctx, cfg.Audit, pool)
	if err != nil {
		logger.Fatal("Could not open audit store", "backend", cfg.Audit.Backend, "err", err)
	}

	backend, err := bootstrap.NewCacheBackend(ctx, cfg.Cache)
	if err != nil {
		logger.Fatal("Could not open cache", "backend", cfg.Cache.Backend, "err", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	gw, err := bootstrap.NewGateway(ctx, cfg, graph, aiClient, artifacts, backend, m)
	if err != nil {
		logger.Fatal("Could not start gateway", "err", err)
	}
	defer gw.Pipeline.Drain()

	go gw.Tracker.Poll(ctx, graph, cfg.SnapshotPoll)

	if cfg.QueueEnabled {
		conn, err := queue.Init(cfg.Queue)
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", "err", err)
		}
		defer conn.Close()

		ch, err := conn.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()

		go func() {
			if err := queue.SubscribeTopic(ctx, ch, snapshot.RoutingKey, gw.Tracker.HandleMessage); err != nil {
				logger.Error("Snapshot subscriber stopped", "err", err)
			}
		}()
		logger.Info("Listening for snapshot announcements", "topic", snapshot.RoutingKey)

		if cfg.SnapshotAnnounce {
			pubCh, err := conn.Channel()
			if err != nil {
				logger.Fatal("Failed to open publish channel", "err", err)
			}
			defer pubCh.Close()

			announcer := snapshot.NewAnnouncer(graph, cfg.SnapshotPoll, func(ctx context.Context, body []byte) error {
				return queue.PublishTopic(ctx, pubCh, snapshot.RoutingKey, body)
			})
			go announceWhileLeader(ctx, leaselock.New(pool), announcer, cfg.SnapshotPoll)
		}
	}

	app := &mid.App{
		Pipeline:     gw.Pipeline,
		Artifacts:    gw.Artifacts,
		Metrics:      m,
		MasterAPIKey: cfg.Auth.MasterAPIKey,
	}
	if cfg.Auth.JWKSURL != "" {
		k, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.Auth.JWKSURL})
		if err != nil {
			logger.Fatal("Failed to create JWKS keyfunc", "url", cfg.Auth.JWKSURL, "err", err)
		}
		app.Key = k
	}
	if !app.AuthEnabled() {
		logger.Warn("Authentication is disabled")
	}

	if err := server.Run(ctx, server.New(app), cfg.Port); err != nil {
		logger.Fatal("Server stopped", "err", err)
	}
}

// announceWhileLeader runs the announcer on whichever replica holds the lease.
func announceWhileLeader(ctx context.Context, leases *leaselock.Client, announcer *snapshot.Announcer, poll time.Duration) {
	opts := leaselock.Options{
		TTL:          max(2*poll, 30*time.Second),
		Wait:         true,
		WaitInterval: poll,
		WaitJitter:   poll / 4,
		HolderPrefix: "gateway-",
	}
	for ctx.Err() == nil {
		err := leases.Hold(ctx, "snapshot-announcer", opts, func(ctx context.Context) error {
			logger.Info("Announcing snapshot changes for the cluster")
			return announcer.Run(ctx)
		})
		if err != nil && ctx.Err() == nil {
			logger.Warn("Snapshot announcer lost its lease", "err", err)
		}
	}
}
