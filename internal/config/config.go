// Package config centralizes environment-driven configuration, following
// the same getEnvWithDefault/getEnvInt shape used throughout this codebase.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	// Object storage (R2/S3-compatible, via aws-sdk-go-v2).
	R2Endpoint        = os.Getenv("R2_ENDPOINT")
	R2AccessKeyID     = os.Getenv("R2_ACCESS_KEY_ID")
	R2SecretAccessKey = os.Getenv("R2_SECRET_ACCESS_KEY")
	R2BucketName      = os.Getenv("R2_BUCKET_NAME")
	R2PublicURL       = os.Getenv("R2_PUBLIC_URL")
	R2Region          = getEnvWithDefault("R2_REGION", "auto")

	// Queue / state store.
	RedisURL = getEnvWithDefault("REDIS_URL", "redis://localhost:6379")

	// Relational store.
	DatabaseURL = os.Getenv("DATABASE_URL")

	// AI adapters.
	GeminiAPIKey     = os.Getenv("GEMINI_API_KEY")
	GeminiModel      = getEnvWithDefault("GEMINI_MODEL", "gemini-2.0-flash")
	OpenRouterAPIKey = os.Getenv("OPENROUTER_API_KEY")
	OpenRouterModel  = getEnvWithDefault("OPENROUTER_MODEL", "anthropic/claude-3.5-sonnet")

	// Ops.
	Port              = getEnvWithDefault("PORT", "8080")
	WorkerConcurrency = getEnvInt("WORKER_CONCURRENCY", 4)
	IdleTimeout       = getEnvDuration("IDLE_TIMEOUT", 10*time.Minute)
	TmpDir            = getEnvWithDefault("TMP_DIR", os.TempDir())
	AllowedOrigins    = getEnvList("ALLOWED_ORIGINS", []string{"*"})

	// Stage/sweep tuning, operator-overridable per spec §9's Open Questions.
	StageDeadline     = getEnvDuration("STAGE_DEADLINE", 30*time.Minute)
	SweepInterval     = getEnvDuration("SWEEP_INTERVAL", 15*time.Minute)
	SweepGrace        = getEnvDuration("SWEEP_GRACE", 2*time.Hour)
	StaleUploadMaxAge = getEnvDuration("STALE_UPLOAD_MAX_AGE", 24*time.Hour)
	MaxAttempts       = getEnvInt("MAX_ATTEMPTS", 3)

	// Hallucination-token filtering (supplements spec §4.5/§7).
	HallucinationTokens = getEnvList("HALLUCINATION_TOKENS", []string{
		"as an AI language model", "in this seminar", "thank you for attending today's webinar",
	})
	HallucinationTokensFile = os.Getenv("HALLUCINATION_TOKENS_FILE")
)

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
