// Command repair-lambda runs the scheduled index reconciliation pass. The
// queue between actors and the index is fire-and-forget, so a periodic sweep
// over every firm is what bounds how long a dropped sync can stay invisible.
package main

import (
	"context"
	"database/sql"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/engagelegal/intake-platform/cmd/mainconfig"
	appconfig "github.com/engagelegal/intake-platform/internal/config"
	"github.com/engagelegal/intake-platform/internal/firms"
	"github.com/engagelegal/intake-platform/internal/index"
	"github.com/engagelegal/intake-platform/internal/intake"
	"github.com/engagelegal/intake-platform/internal/observability/metrics"
	"github.com/engagelegal/intake-platform/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	awsCfg, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	dynamoClient := dynamodb.NewFromConfig(awsCfg)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}

	stateStore := intake.NewDynamoStateStore(dynamoClient, cfg.ConversationTable, logger)
	reconciler := index.NewReconciler(
		intake.NewSnapshotSource(stateStore),
		index.NewRowStore(db),
		metrics.NewProjectorMetrics(prometheus.NewRegistry()),
		logger,
		cfg.RepairStaleThreshold,
	)
	firmStore := firms.NewDynamoStore(dynamoClient, cfg.FirmRegistryTable)

	lambda.Start(func(ctx context.Context, _ events.CloudWatchEvent) error {
		recs, err := firmStore.ScanAll(ctx)
		if err != nil {
			logger.Error("firm scan failed", "error", err)
			return err
		}

		var repaired, failed int
		for _, rec := range recs {
			report, err := reconciler.RepairIndexInconsistencies(ctx, rec.FirmID)
			if err != nil {
				logger.Error("repair pass failed", "firmId", rec.FirmID, "error", err)
				failed++
				continue
			}
			repaired += report.Repaired
			if len(report.Findings) > 0 {
				logger.Info("repair pass found drift",
					"firmId", rec.FirmID,
					"checked", report.Checked,
					"findings", len(report.Findings),
					"repaired", report.Repaired,
					"failed", report.Failed,
				)
			}
		}
		logger.Info("repair sweep complete", "firms", len(recs), "repaired", repaired, "failedFirms", failed)
		return nil
	})
}
