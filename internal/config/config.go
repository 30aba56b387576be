// Package config provides application configuration loaded from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Index backends.
const (
	IndexBackendMemory   = "memory"
	IndexBackendPgvector = "pgvector"
)

// Configuration errors.
var (
	ErrInvalidIndexBackend = errors.New("INDEX_BACKEND must be one of: memory, pgvector")
	ErrDatabaseURLRequired = errors.New("DATABASE_URL is required when INDEX_BACKEND=pgvector")
	ErrNonPositive         = errors.New("must be a positive number")
)

// Config holds all application configuration.
type Config struct {
	Port     string
	LogLevel string
	APIKey   string

	// Hub access. HubToken is empty when the token is read from Secret Manager (HubTokenSecret).
	HubToken          string
	HubTokenSecret    string
	HubEndpoint       string
	HubDatasetsServer string
	HubRateLimit      float64
	HubRetryMax       int
	HubPageSize       int

	DatasetName     string
	DatasetConfig   string
	DatasetSplit    string
	DatasetCacheDir string
	DatasetRefresh  bool

	IndexBackend string
	DatabaseURL  string

	CLIPInferenceURL   string
	EmbeddingModel     string
	EmbeddingCacheSize int

	ImageCacheSize int
	ImageCacheTTL  time.Duration

	MaxUploadBytes int64

	// OpenTelemetry. Empty disables the signal.
	OtelMetricsExporter string
	OtelTracesExporter  string
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value.
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}

	return value
}

// firstEnv returns the first non-empty value among keys.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}

	return ""
}

// defaultCacheDir returns <user cache dir>/historymemes, or a temp dir fallback.
func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}

	return filepath.Join(dir, "historymemes")
}

// Load reads configuration from environment variables and returns a Config struct.
// It automatically loads .env file if it exists.
// The hub token is not validated here: a missing token surfaces when the
// secrets source is asked for it at startup.
func Load() (*Config, error) {
	// Load .env file if it exists. Skip logging when absent (e.g. env from secrets/parameter store).
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		APIKey:   os.Getenv("API_KEY"),

		HubToken:          firstEnv("HUB_TOKEN", "HF_TOKEN", "TOKEN"),
		HubTokenSecret:    os.Getenv("HUB_TOKEN_SECRET"),
		HubEndpoint:       strings.TrimSuffix(getEnv("HUB_ENDPOINT", "https://huggingface.co"), "/"),
		HubDatasetsServer: strings.TrimSuffix(getEnv("HUB_DATASETS_SERVER", "https://datasets-server.huggingface.co"), "/"),
		HubRateLimit:      getEnvAsFloat("HUB_RATE_LIMIT", 5),
		HubRetryMax:       getEnvAsInt("HUB_RETRY_MAX", 3),
		HubPageSize:       getEnvAsInt("HUB_PAGE_SIZE", 100),

		DatasetName:     getEnv("DATASET_NAME", "rjadr/HistoryMemes"),
		DatasetConfig:   getEnv("DATASET_CONFIG", "default"),
		DatasetSplit:    getEnv("DATASET_SPLIT", "train"),
		DatasetCacheDir: getEnv("DATASET_CACHE_DIR", defaultCacheDir()),
		DatasetRefresh:  getEnvAsBool("DATASET_REFRESH", false),

		IndexBackend: strings.ToLower(getEnv("INDEX_BACKEND", IndexBackendMemory)),
		DatabaseURL:  os.Getenv("DATABASE_URL"),

		CLIPInferenceURL:   strings.TrimSuffix(getEnv("CLIP_INFERENCE_URL", "http://localhost:8081"), "/"),
		EmbeddingModel:     getEnv("EMBEDDING_MODEL", "clip"),
		EmbeddingCacheSize: getEnvAsInt("EMBEDDING_CACHE_SIZE", 1000),

		ImageCacheSize: getEnvAsInt("IMAGE_CACHE_SIZE", 512),
		ImageCacheTTL:  getEnvAsDuration("IMAGE_CACHE_TTL", 30*time.Minute),

		MaxUploadBytes: int64(getEnvAsInt("MAX_UPLOAD_BYTES", 10<<20)),

		OtelMetricsExporter: strings.ToLower(os.Getenv("OTEL_METRICS_EXPORTER")),
		OtelTracesExporter:  strings.ToLower(os.Getenv("OTEL_TRACES_EXPORTER")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.IndexBackend {
	case IndexBackendMemory:
	case IndexBackendPgvector:
		if c.DatabaseURL == "" {
			return ErrDatabaseURLRequired
		}
	default:
		return fmt.Errorf("%w (got %q)", ErrInvalidIndexBackend, c.IndexBackend)
	}

	positive := []struct {
		name  string
		value float64
	}{
		{"HUB_RATE_LIMIT", c.HubRateLimit},
		{"HUB_PAGE_SIZE", float64(c.HubPageSize)},
		{"EMBEDDING_CACHE_SIZE", float64(c.EmbeddingCacheSize)},
		{"IMAGE_CACHE_SIZE", float64(c.ImageCacheSize)},
		{"IMAGE_CACHE_TTL", c.ImageCacheTTL.Seconds()},
		{"MAX_UPLOAD_BYTES", float64(c.MaxUploadBytes)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s %w", p.name, ErrNonPositive)
		}
	}

	if c.HubRetryMax < 0 {
		return fmt.Errorf("HUB_RETRY_MAX %w", ErrNonPositive)
	}

	const maxPageSize = 100
	if c.HubPageSize > maxPageSize {
		c.HubPageSize = maxPageSize
	}

	return nil
}
