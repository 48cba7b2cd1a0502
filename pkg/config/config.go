package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds process configuration for the certkernel service and CLI.
type Config struct {
	PolicySource  string // file path or file://, s3://, gs:// URI
	ProfilePath   string // optional kernel profile YAML
	DatabaseURL   string // sqlite path or postgres:// DSN; empty disables receipts
	RedisAddr     string // empty selects the in-memory cache
	CacheSize     int
	OTLPEndpoint  string // empty disables telemetry export
	OTLPInsecure  bool
	S3Endpoint    string // MinIO / LocalStack override
	LogLevel      string
	ParallelCheck bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	cacheSize := 1024
	if v, err := strconv.Atoi(os.Getenv("CERTKERNEL_CACHE_SIZE")); err == nil && v > 0 {
		cacheSize = v
	}

	return &Config{
		PolicySource:  os.Getenv("CERTKERNEL_POLICY"),
		ProfilePath:   os.Getenv("CERTKERNEL_PROFILE"),
		DatabaseURL:   os.Getenv("CERTKERNEL_DB"),
		RedisAddr:     os.Getenv("CERTKERNEL_REDIS_ADDR"),
		CacheSize:     cacheSize,
		OTLPEndpoint:  os.Getenv("CERTKERNEL_OTLP_ENDPOINT"),
		OTLPInsecure:  os.Getenv("CERTKERNEL_OTLP_INSECURE") == "true",
		S3Endpoint:    os.Getenv("CERTKERNEL_S3_ENDPOINT"),
		LogLevel:      logLevel,
		ParallelCheck: os.Getenv("CERTKERNEL_PARALLEL_CHECKS") == "true",
	}
}

// SlogLevel maps LogLevel onto slog; unknown values mean INFO.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// UsesPostgres reports whether DatabaseURL names a PostgreSQL database.
func (c *Config) UsesPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}
