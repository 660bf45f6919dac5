// Command snapshot announces the graph's current snapshot etag on RabbitMQ so
// running gateways can drop cached evidence without waiting for their poll.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/whygraph/backend/internal/bootstrap"
	"github.com/OFFIS-RIT/whygraph/backend/internal/config"
	"github.com/OFFIS-RIT/whygraph/backend/internal/queue"
	"github.com/OFFIS-RIT/whygraph/backend/internal/util"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/snapshot"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	util.LoadEnv()

	etag := flag.String("etag", "", "announce this etag instead of reading it from the graph store")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		bootstrap.InitLogger(config.Config{Debug: true}, "snapshot")
		logger.Fatal("Invalid configuration", "err", err)
	}
	bootstrap.InitLogger(cfg, "snapshot")

	var pool *pgxpool.Pool
	if *etag == "" && cfg.DatabaseURL != "" {
		pool, err = bootstrap.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Unable to connect to database", "err", err)
		}
		defer pool.Close()
	}

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

	publish := func(ctx context.Context, body []byte) error {
		return queue.PublishTopic(ctx, ch, snapshot.RoutingKey, body)
	}

	if *etag != "" {
		if err := snapshot.NewAnnouncer(nil, 0, publish).Publish(ctx, *etag); err != nil {
			logger.Fatal("Failed to announce snapshot", "err", err)
		}
		logger.Info("Announced snapshot", "snapshot_etag", *etag)
		return
	}

	graph, err := bootstrap.NewGraphStore(cfg, pool, nil)
	if err != nil {
		logger.Fatal("Could not open graph store", "store", cfg.Store, "err", err)
	}
	if _, err := snapshot.NewAnnouncer(graph, 0, publish).Check(ctx); err != nil {
		logger.Fatal("Failed to announce snapshot", "err", err)
	}
}
