package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	// Postgres index / audit storage
	DatabaseURL string

	// Redis (admin sessions)
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// AWS clients (DynamoDB, SQS, S3, SES, KMS, Bedrock)
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Actor storage
	ConversationTable string
	FirmRegistryTable string

	// Index projection
	IndexSyncQueueURL    string
	UseMemoryQueue       bool
	ProjectorWorkerCount int
	ProjectorQueueDepth  int
	RepairStaleThreshold time.Duration

	// Compliance
	HIPAAIdleTimeout     time.Duration
	KMSKeyAlias          string
	LocalEncryptionKey   string
	ArchiveBucket        string
	DefaultRetentionDays int

	// Similarity search
	BedrockEmbeddingModelID string
	SearchScoreThreshold    float64

	// Auth
	AuthIssuer      string
	AuthAudience    string
	FirmIDClaim     string
	RoleClaim       string
	AdminJWTSecret  string
	AdminSessionTTL time.Duration

	// Notifications
	SESFromEmail      string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		ConversationTable: getEnv("CONVERSATION_TABLE", "intake_conversations"),
		FirmRegistryTable: getEnv("FIRM_REGISTRY_TABLE", "firm_registry"),

		IndexSyncQueueURL:    getEnv("INDEX_SYNC_QUEUE_URL", ""),
		UseMemoryQueue:       getEnvAsBool("USE_MEMORY_QUEUE", false),
		ProjectorWorkerCount: getEnvAsInt("PROJECTOR_WORKER_COUNT", 2),
		ProjectorQueueDepth:  getEnvAsInt("PROJECTOR_QUEUE_DEPTH", 256),
		RepairStaleThreshold: getEnvAsDuration("REPAIR_STALE_THRESHOLD", 30*time.Minute),

		HIPAAIdleTimeout:     getEnvAsDuration("HIPAA_IDLE_TIMEOUT", 15*time.Minute),
		KMSKeyAlias:          getEnv("KMS_KEY_ALIAS", ""),
		LocalEncryptionKey:   getEnv("LOCAL_ENCRYPTION_KEY", ""),
		ArchiveBucket:        getEnv("ARCHIVE_BUCKET", ""),
		DefaultRetentionDays: getEnvAsInt("DEFAULT_RETENTION_DAYS", 2555),

		BedrockEmbeddingModelID: getEnv("BEDROCK_EMBEDDING_MODEL_ID", ""),
		SearchScoreThreshold:    getEnvAsFloat("SEARCH_SCORE_THRESHOLD", 0.7),

		AuthIssuer:      getEnv("AUTH_ISSUER", ""),
		AuthAudience:    getEnv("AUTH_AUDIENCE", ""),
		FirmIDClaim:     getEnv("FIRM_ID_CLAIM", ""),
		RoleClaim:       getEnv("ROLE_CLAIM", ""),
		AdminJWTSecret:  getEnv("ADMIN_JWT_SECRET", ""),
		AdminSessionTTL: getEnvAsDuration("ADMIN_SESSION_TTL", 8*time.Hour),

		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Engage Legal Intake"),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
