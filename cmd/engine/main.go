package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"solana-candle-engine/internal/backfill"
	"solana-candle-engine/internal/classifier"
	"solana-candle-engine/internal/engine"
	"solana-candle-engine/internal/gateway"
	"solana-candle-engine/internal/live"
	"solana-candle-engine/internal/observability"
	"solana-candle-engine/internal/provider"
	"solana-candle-engine/internal/storage"
	chstore "solana-candle-engine/internal/storage/clickhouse"
	"solana-candle-engine/internal/storage/memory"
	"solana-candle-engine/internal/storage/migrations"
	pgstore "solana-candle-engine/internal/storage/postgres"
	"solana-candle-engine/internal/tradefeed"
)

func main() {
	// .env is optional; explicit env vars and flags win
	_ = godotenv.Load()

	providerURL := flag.String("provider-url", envOr("PROVIDER_URL", ""), "Market data REST API base URL")
	feedURL := flag.String("feed-url", envOr("FEED_URL", ""), "Trade push feed WebSocket URL")
	postgresDSN := flag.String("postgres-dsn", envOr("POSTGRES_DSN", ""), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", envOr("CLICKHOUSE_DSN", ""), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", envOr("USE_MEMORY", "") == "true", "Use in-memory storage instead of PostgreSQL and ClickHouse")
	cycleInterval := flag.Duration("cycle-interval", envDurationOr("CYCLE_INTERVAL", backfill.DefaultCycleInterval), "Backfill scheduling cycle interval")
	batchSize := flag.Int("batch-size", envIntOr("BATCH_SIZE", backfill.DefaultBatchSize), "Pairs fetched per scheduling cycle")
	workers := flag.Int("workers", envIntOr("WORKERS", backfill.DefaultWorkers), "Concurrent fetch workers")
	classifierInterval := flag.Duration("classifier-interval", envDurationOr("CLASSIFIER_INTERVAL", classifier.DefaultInterval), "Activity tier re-evaluation interval")
	metricsAddr := flag.String("metrics-addr", envOr("METRICS_ADDR", ":9090"), "Prometheus metrics HTTP address (empty to disable)")

	flag.Parse()

	logger := log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lshortfile)

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	err := run(ctx, logger, options{
		providerURL:        *providerURL,
		feedURL:            *feedURL,
		postgresDSN:        *postgresDSN,
		clickhouseDSN:      *clickhouseDSN,
		useMemory:          *useMemory,
		cycleInterval:      *cycleInterval,
		batchSize:          *batchSize,
		workers:            *workers,
		classifierInterval: *classifierInterval,
	})

	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Shutdown complete")
}

type options struct {
	providerURL        string
	feedURL            string
	postgresDSN        string
	clickhouseDSN      string
	useMemory          bool
	cycleInterval      time.Duration
	batchSize          int
	workers            int
	classifierInterval time.Duration
}

// run wires the engine together and blocks until the context is cancelled.
func run(ctx context.Context, logger *log.Logger, opts options) error {
	if opts.providerURL == "" {
		return fmt.Errorf("--provider-url is required")
	}
	if opts.feedURL == "" {
		return fmt.Errorf("--feed-url is required")
	}
	if !opts.useMemory && (opts.postgresDSN == "" || opts.clickhouseDSN == "") {
		return fmt.Errorf("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	// Stores; persistent-store failures here are fatal by design
	var candleStore storage.CandleStore = memory.NewCandleStore()
	var checkpointStore storage.CheckpointStore = memory.NewCheckpointStore()
	var poolStore storage.PoolStore = memory.NewPoolStore()

	if !opts.useMemory {
		pgPool, err := pgstore.NewPool(ctx, opts.postgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pgPool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pgPool); err != nil {
			return fmt.Errorf("postgres migrations: %w", err)
		}

		chConn, err := migrations.RunClickhouseMigrations(ctx, opts.clickhouseDSN)
		if err != nil {
			return fmt.Errorf("clickhouse migrations: %w", err)
		}
		defer chConn.Close()

		candleStore = chstore.NewCandleStore(chConn)
		checkpointStore = pgstore.NewCheckpointStore(pgPool)
		poolStore = pgstore.NewPoolStore(pgPool)
	}

	hub := gateway.NewHub(gateway.Options{Logger: logger})
	defer hub.Close()

	apiClient := provider.NewHTTPClient(opts.providerURL)

	feed, err := tradefeed.NewClient(ctx, opts.feedURL, nil)
	if err != nil {
		return fmt.Errorf("connect to trade feed: %w", err)
	}
	defer feed.Close()

	monitor := live.NewMonitor(poolStore, checkpointStore, candleStore, feed, live.Options{
		Publisher: hub,
		Logger:    logger,
	})

	fetcher := backfill.NewFetcher(candleStore, checkpointStore, poolStore, apiClient, backfill.FetcherOptions{
		Publisher: hub,
		Logger:    logger,
	})
	scheduler := backfill.NewScheduler(poolStore, checkpointStore, fetcher, backfill.SchedulerOptions{
		CycleInterval: opts.cycleInterval,
		BatchSize:     opts.batchSize,
		Workers:       opts.workers,
		Live:          monitor,
		Logger:        logger,
	})

	tiers := classifier.New(poolStore, apiClient, classifier.Options{
		Interval: opts.classifierInterval,
		Logger:   logger,
	})

	eng := engine.NewEngine(poolStore, checkpointStore, monitor, engine.Options{
		Publisher: hub,
		Logger:    logger,
	})
	if err := eng.Restore(ctx); err != nil {
		return fmt.Errorf("restore tracked assets: %w", err)
	}

	tiers.Start(ctx)
	scheduler.Start(ctx)
	monitor.Start(ctx)

	logger.Printf("Engine running: %d tracked assets", len(eng.ListActive()))

	<-ctx.Done()

	logger.Println("Stopping...")
	monitor.Stop()
	scheduler.Stop()
	tiers.Stop()

	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
