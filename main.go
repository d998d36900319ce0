package main

import (
	"context"
	"errors"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"helium-graph-etl/internal/arango"
	"helium-graph-etl/internal/config"
	"helium-graph-etl/internal/ingester"
	"helium-graph-etl/internal/source"
)

const (
	exitConfig     = 1
	exitConnection = 2
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Configuration error: %v", err)
		os.Exit(exitConfig)
	}

	// Append-only progress log; an empty ETL_LOG_FILE keeps stderr.
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Printf("Configuration error: cannot open log file %s: %v", cfg.LogFile, err)
			os.Exit(exitConfig)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	log.Println("Initializing helium-graph-etl...")
	log.Printf("Source: %s", redactURL(cfg.PostgresURL))
	log.Printf("Target: %s db=%s", cfg.ArangoURL, cfg.ArangoDatabase)
	log.Printf("Workers: %d, batch size: %d", cfg.Workers, cfg.ImportBatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sourceFactory := source.NewFactory(cfg.PostgresURL, time.Duration(cfg.QueryTimeoutSec)*time.Second)
	src, err := sourceFactory.Open(ctx)
	if err != nil {
		log.Printf("Failed to connect to source: %v", err)
		os.Exit(exitConnection)
	}
	defer src.Close()

	sinkFactory := arango.NewFactory(arango.Config{
		URL:           cfg.ArangoURL,
		Username:      cfg.ArangoUsername,
		Password:      cfg.ArangoPassword,
		Database:      cfg.ArangoDatabase,
		UpsertTimeout: time.Duration(cfg.UpsertTimeoutSec) * time.Second,
	})
	sink, err := sinkFactory.Open(ctx)
	if err != nil {
		log.Printf("Failed to connect to target: %v", err)
		os.Exit(exitConnection)
	}

	// Collections and the geo index must exist before anything is read or
	// written for analytics.
	if err := sink.EnsureCollections(ctx); err != nil {
		log.Printf("Failed to bootstrap target collections: %v", err)
		os.Exit(exitConnection)
	}

	pipeline := ingester.NewPipeline(sourceFactory, sinkFactory, cfg.ImportBatchSize, cfg.Workers)
	analytics := ingester.NewAnalytics(sinkFactory, cfg.MinCitySize, cfg.Workers)
	inventory := ingester.NewInventory(sourceFactory, sink, pipeline, analytics, cfg.ImportBatchSize, cfg.RecentWitnessDaysCutoff)

	controller := ingester.NewController(ingester.ControllerConfig{
		MinBlockDiffForUpdate: cfg.MinBlockDiffForUpdate,
		ChunkSize:             cfg.InitialSyncChunkSize,
		NumHistoricalBlocks:   cfg.NumHistoricalBlocks,
		UpdateInterval:        time.Duration(cfg.UpdateIntervalSec) * time.Second,
	}, src, inventory, pipeline)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() {
		done <- controller.Run(ctx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Controller stopped: %v", err)
			os.Exit(exitConnection)
		}
	case <-sigChan:
		log.Println("Shutting down...")
		cancel()
		// In-flight writes are safe to abandon; keys are idempotent.
		select {
		case <-done:
		case <-time.After(time.Duration(cfg.DrainTimeoutSec) * time.Second):
			log.Println("Drain timeout reached; abandoning in-flight workers")
		}
	}
}

func redactURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" {
		return "<unparseable url>"
	}
	if u.User != nil {
		user := u.User.Username()
		if user == "" {
			user = "user"
		}
		u.User = url.UserPassword(user, "****")
	}
	u.RawQuery = ""
	return u.String()
}
