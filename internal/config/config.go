package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv string
	Port   string

	PGURL string
	Redis string

	AsynqConcurrency int // worker concurrency (default 8)

	// Auth: JWKS URL for RS256 tokens, or shared HS256 secret as fallback.
	JWTSecret string
	JWKSURL   string

	// Fal-compatible mask-fill provider.
	FalAPIKey  string
	FalBaseURL string
	FalModel   string // fill-capable model path, e.g. fal-ai/flux-pro/v1/fill

	// xAI-compatible prompt-only provider.
	XAIAPIKey     string
	XAIBaseURL    string
	XAIImageModel string
	XAIVideoModel string

	// Async job polling for the prompt-only video path.
	PollInterval    time.Duration
	MaxPollAttempts int

	// S3/R2 compatible (Cloudflare R2, MinIO, AWS S3)
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3PublicURL string // e.g. https://media.listinglab.app for public read URLs

	// CORS: comma-separated origins. Empty = allow "*"
	CORSOrigins string
}

func Load() *Config {
	return &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		PGURL:            getEnv("DATABASE_URL", "postgres://localhost/listinglab?sslmode=disable"),
		Redis:            getEnv("REDIS_URL", "redis://localhost:6379"),
		AsynqConcurrency: getEnvInt("ASYNQ_CONCURRENCY", 8),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWKSURL:          strings.TrimSpace(getEnv("JWKS_URL", "")),
		FalAPIKey:        getEnv("FAL_API_KEY", ""),
		FalBaseURL:       strings.TrimSuffix(getEnv("FAL_BASE_URL", "https://fal.run"), "/"),
		FalModel:         getEnv("FAL_FILL_MODEL", "fal-ai/flux-pro/v1/fill"),
		XAIAPIKey:        getEnv("XAI_API_KEY", ""),
		XAIBaseURL:       strings.TrimSuffix(getEnv("XAI_BASE_URL", "https://api.x.ai/v1"), "/"),
		XAIImageModel:    getEnv("XAI_IMAGE_MODEL", "grok-2-image"),
		XAIVideoModel:    getEnv("XAI_VIDEO_MODEL", "grok-2-video"),
		PollInterval:     time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 5)) * time.Second,
		MaxPollAttempts:  getEnvInt("MAX_POLL_ATTEMPTS", 120),
		S3Endpoint:       s3Endpoint(),
		S3Region:         getEnv("S3_REGION", getEnv("CLOUDFLARE_R2_REGION", "auto")),
		S3Bucket:         getEnv("S3_BUCKET", getEnv("CLOUDFLARE_R2_BUCKET_NAME", "listinglab")),
		S3AccessKey:      getEnv("S3_ACCESS_KEY", getEnv("CLOUDFLARE_R2_ACCESS_KEY_ID", "")),
		S3SecretKey:      getEnv("S3_SECRET_KEY", getEnv("CLOUDFLARE_R2_SECRET_ACCESS_KEY", "")),
		S3UseSSL:         getEnvBool("S3_USE_SSL", true),
		S3PublicURL:      strings.TrimSuffix(getEnv("S3_PUBLIC_URL", getEnv("CLOUDFLARE_R2_PUBLIC_URL", "")), "/"),
		CORSOrigins:      strings.TrimSpace(getEnv("CORS_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000")),
	}
}

func getEnv(k, defaultV string) string {
	if v := os.Getenv(k); v != "" {
		return strings.TrimSpace(v)
	}
	return defaultV
}

// s3Endpoint returns S3_ENDPOINT or CLOUDFLARE_R2_ENDPOINT, with scheme stripped for AWS SDK.
func s3Endpoint() string {
	raw := getEnv("S3_ENDPOINT", getEnv("CLOUDFLARE_R2_ENDPOINT", ""))
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "https://")
	raw = strings.TrimPrefix(raw, "http://")
	return raw
}

func getEnvInt(k string, defaultV int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultV
}

func getEnvBool(k string, defaultV bool) bool {
	if v := os.Getenv(k); v != "" {
		return v == "1" || v == "true" || v == "yes"
	}
	return defaultV
}
