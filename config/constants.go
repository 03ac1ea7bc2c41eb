package config

import (
	"os"
	"strconv"
	"time"
)

// Service constants with env var override support.
var (
	HTTPAddr               = stringEnv("HTTP_ADDR", ":9300")
	HTTPReadHeaderTimeout  = durationEnv("HTTP_READ_HEADER_TIMEOUT", 5*time.Second)
	DBTimeout              = durationEnv("DB_TIMEOUT", 10*time.Second)
	BackendTimeout         = durationEnv("SEARCH_BACKEND_TIMEOUT", 15*time.Second)
	BackendBulkTimeout     = durationEnv("SEARCH_BACKEND_BULK_TIMEOUT", 5*time.Minute)
	ConnectRetryMaxElapsed = durationEnv("CONNECT_RETRY_MAX_ELAPSED", 2*time.Minute)
	ShutdownTimeout        = durationEnv("SHUTDOWN_TIMEOUT", 30*time.Second)
	ReindexLockTTL         = durationEnv("REINDEX_LOCK_TTL", 6*time.Hour)
	ReindexPageSize        = intEnv("REINDEX_PAGE_SIZE", 100)
	ServiceTokenTTL        = durationEnv("SERVICE_TOKEN_TTL", time.Hour)
)

func stringEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func intEnv(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func durationEnv(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
