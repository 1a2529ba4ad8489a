// Command index-worker drains the SQS index-sync queue out of process. The
// API enqueues snapshots and returns; this binary owns the Postgres writes.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/engagelegal/intake-platform/cmd/mainconfig"
	appconfig "github.com/engagelegal/intake-platform/internal/config"
	"github.com/engagelegal/intake-platform/internal/index"
	"github.com/engagelegal/intake-platform/internal/observability/metrics"
	"github.com/engagelegal/intake-platform/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.IndexSyncQueueURL == "" {
		logger.Error("INDEX_SYNC_QUEUE_URL is required")
		os.Exit(1)
	}

	awsConfig, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	queue := index.NewSQSQueue(sqs.NewFromConfig(awsConfig), cfg.IndexSyncQueueURL)
	projector := index.NewProjector(queue, index.NewRowStore(db),
		metrics.NewProjectorMetrics(reg), logger, cfg.ProjectorWorkerCount)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	projector.Start(ctx)

	// Metrics-only listener; the worker serves no API traffic.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down index worker...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	projector.Stop()
	logger.Info("index worker stopped")
}
