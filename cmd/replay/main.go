// Command replay re-verifies the audit trail of one or more requests.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/whygraph/backend/internal/bootstrap"
	"github.com/OFFIS-RIT/whygraph/backend/internal/config"
	"github.com/OFFIS-RIT/whygraph/backend/internal/util"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/audit"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	util.LoadEnv()
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		bootstrap.InitLogger(config.Config{Debug: true}, "replay")
		logger.Fatal("Invalid configuration", "err", err)
	}
	bootstrap.InitLogger(cfg, "replay")

	if flag.NArg() == 0 {
		logger.Fatal("Usage: replay <request_id>...")
	}

	var pool *pgxpool.Pool
	if cfg.Audit.Backend == "postgres" {
		pool, err = bootstrap.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Unable to connect to database", "err", err)
		}
		defer pool.Close()
	}

	store, err := bootstrap.NewArtifactStore(ctx, cfg.Audit, pool)
	if err != nil {
		logger.Fatal("Could not open audit store", "backend", cfg.Audit.Backend, "err", err)
	}
	if store == nil {
		logger.Fatal("Audit store is disabled", "backend", cfg.Audit.Backend)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	failed := 0
	for _, requestID := range flag.Args() {
		report, err := audit.Verify(ctx, store, requestID)
		if err != nil {
			logger.Error("Replay failed", "request_id", requestID, "err", err)
			failed++
			continue
		}
		if err := enc.Encode(report); err != nil {
			logger.Error("Failed to write report", "request_id", requestID, "err", err)
		}
		if !report.OK() {
			logger.Warn("Replay mismatch", "request_id", requestID)
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}
