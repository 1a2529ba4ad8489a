package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/engagelegal/intake-platform/cmd/mainconfig"
	"github.com/engagelegal/intake-platform/internal/adminsession"
	"github.com/engagelegal/intake-platform/internal/api/router"
	"github.com/engagelegal/intake-platform/internal/archive"
	"github.com/engagelegal/intake-platform/internal/compliance"
	appconfig "github.com/engagelegal/intake-platform/internal/config"
	"github.com/engagelegal/intake-platform/internal/firms"
	httpmiddleware "github.com/engagelegal/intake-platform/internal/http/middleware"
	"github.com/engagelegal/intake-platform/internal/index"
	"github.com/engagelegal/intake-platform/internal/intake"
	"github.com/engagelegal/intake-platform/internal/notify"
	"github.com/engagelegal/intake-platform/internal/observability/metrics"
	"github.com/engagelegal/intake-platform/internal/search"
	"github.com/engagelegal/intake-platform/internal/securekeys"
	"github.com/engagelegal/intake-platform/pkg/logging"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting intake-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	dynamoClient := dynamodb.NewFromConfig(awsCfg)

	// Postgres: row store and audit trail share one pool, analytics reads
	// use pgx directly.
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create pgx pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	intakeMetrics := metrics.NewIntakeMetrics(reg)
	projectorMetrics := metrics.NewProjectorMetrics(reg)

	auditSvc := compliance.NewAuditService(db)

	// Firm registry (singleton actor over DynamoDB)
	firmRegistry, err := firms.NewRegistry(ctx, firms.NewDynamoStore(dynamoClient, cfg.FirmRegistryTable), logger)
	if err != nil {
		logger.Error("failed to start firm registry", "error", err)
		os.Exit(1)
	}
	defer firmRegistry.Close()

	// Encryption keys for HIPAA firms: KMS in production, a local master key
	// for development.
	var keys securekeys.Provider
	switch {
	case cfg.KMSKeyAlias != "":
		keys = securekeys.NewKMSProvider(kms.NewFromConfig(awsCfg), cfg.KMSKeyAlias)
	case cfg.LocalEncryptionKey != "":
		keys, err = securekeys.NewLocalProvider(cfg.LocalEncryptionKey)
		if err != nil {
			logger.Error("invalid local encryption key", "error", err)
			os.Exit(1)
		}
	}

	var overlay intake.OverlayFactory
	if keys != nil {
		recorder := compliance.NewAsyncRecorder(auditSvc, logger)
		overlay = func(firmID string) intake.Overlay {
			return intake.NewHIPAAOverlay(firmID, keys, cfg.HIPAAIdleTimeout, recorder, logger)
		}
	} else {
		logger.Warn("no encryption key configured; HIPAA overlay disabled")
	}

	stateStore := intake.NewDynamoStateStore(dynamoClient, cfg.ConversationTable, logger)
	arena := intake.NewArena(stateStore, firmRegistry, overlay, logger)
	defer arena.Close()

	// Index projection pipeline
	rows := index.NewRowStore(db)
	var projector *index.Projector
	if cfg.UseMemoryQueue || cfg.IndexSyncQueueURL == "" {
		queue := index.NewMemoryQueue(cfg.ProjectorQueueDepth)
		projector = index.NewProjector(queue, rows, projectorMetrics, logger, cfg.ProjectorWorkerCount)
	} else {
		queue := index.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.IndexSyncQueueURL)
		projector = index.NewProjector(queue, rows, projectorMetrics, logger, cfg.ProjectorWorkerCount)
	}
	projector.Start(ctx)
	defer projector.Stop()

	reconciler := index.NewReconciler(intake.NewSnapshotSource(stateStore), rows, projectorMetrics, logger, cfg.RepairStaleThreshold)

	// Similarity search over Bedrock embeddings
	var searcher search.Searcher
	var indexer intake.Indexer
	if cfg.BedrockEmbeddingModelID != "" {
		embedder := search.NewBedrockEmbedder(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockEmbeddingModelID)
		searchIndex := search.NewIndex(embedder)
		searcher = searchIndex
		indexer = searchIndex
	}

	// Retention archive
	var archiver intake.Archiver
	if cfg.ArchiveBucket != "" {
		store := archive.NewStore(s3.NewFromConfig(awsCfg), cfg.ArchiveBucket, logger)
		archiver = archive.NewArchiver(store, firmRegistry, logger)
	}

	svc := intake.NewService(intake.ServiceConfig{
		Arena:      arena,
		Rows:       rows,
		Projector:  projector,
		Analytics:  index.NewAnalyticsRepository(pool),
		Reconciler: reconciler,
		Searcher:   searcher,
		Indexer:    indexer,
		Usage:      firmRegistry,
		Archiver:   archiver,
		Audit:      auditSvc,
		Metrics:    intakeMetrics,
		Logger:     logger,
	})

	// Welcome emails: SES primary, SendGrid fallback
	var primary, secondary notify.EmailSender
	if cfg.SESFromEmail != "" {
		if s := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); s != nil {
			primary = s
		}
	}
	if cfg.SendGridAPIKey != "" {
		if s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); s != nil {
			secondary = s
		}
	}
	var emailSender notify.EmailSender
	if primary != nil || secondary != nil {
		emailSender = notify.NewFailoverSender(primary, secondary, logger)
	}
	notifySvc := notify.NewService(emailSender, cfg.PublicBaseURL, logger)

	// Admin sessions in Redis
	redisOpts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	sessions := adminsession.NewManager(redis.NewClient(redisOpts), cfg.AdminSessionTTL, logger)
	defer sessions.Close()

	routerCfg := &router.Config{
		Logger:         logger,
		IntakeHandler:  intake.NewHandler(svc, cfg.PublicBaseURL, logger),
		FirmsHandler:   firms.NewHandler(firmRegistry, notifySvc, auditSvc, logger),
		SessionHandler: adminsession.NewHandler(sessions, logger),
		Bearer: httpmiddleware.BearerConfig{
			IssuerURL: cfg.AuthIssuer,
			Audience:  cfg.AuthAudience,
			FirmClaim: cfg.FirmIDClaim,
			RoleClaim: cfg.RoleClaim,
		},
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
