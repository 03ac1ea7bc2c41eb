package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Search backends selectable with SEARCH_BACKEND.
const (
	BackendElasticsearch = "elasticsearch"
	BackendMeilisearch   = "meilisearch"
	BackendBleve         = "bleve"
)

type Config struct {
	Environment string
	Database    DatabaseConfig
	Redis       RedisConfig
	Search      SearchConfig
	Reindex     ReindexConfig
	RateLimit   RateLimitConfig
	Breaker     BreakerConfig
	HTTP        HTTPConfig
	Auth        AuthConfig
}

type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	Timeout  time.Duration
	SSL      SSLConfig
}

type RedisConfig struct {
	URL string
}

type SearchConfig struct {
	Backend string
	// Timeout bounds point reads and writes; BulkTimeout bounds bulk writes
	// and index administration.
	Timeout       time.Duration
	BulkTimeout   time.Duration
	Elasticsearch ElasticsearchConfig
	Meilisearch   MeilisearchConfig
}

type ElasticsearchConfig struct {
	Addresses []string
	Username  string
	Password  string
	APIKey    string
	// Refresh is passed to write requests; "wait_for" makes writes visible
	// before the call returns.
	Refresh string
}

type MeilisearchConfig struct {
	Host   string
	APIKey string
}

type ReindexConfig struct {
	LockTTL  time.Duration
	PageSize int
}

// RateLimitConfig holds per-minute job ceilings.
type RateLimitConfig struct {
	PerWorker int
	Aggregate int
}

type BreakerConfig struct {
	Threshold int
	Window    time.Duration
	Cooldown  time.Duration
}

type HTTPConfig struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

type AuthConfig struct {
	ServiceName   string
	ServiceSecret string
	TokenTTL      time.Duration
}

// IsProduction reports whether DEPLOYMENT_ENV names production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load reads the configuration from the environment. Every missing required
// variable is reported in one error.
func Load() (*Config, error) {
	env := &envReader{}

	dbConfig := DatabaseConfig{
		Host:     env.required("DB_HOST"),
		Port:     getEnvOrDefault("DB_PORT", "5432"),
		Name:     env.required("DB_NAME"),
		User:     env.required("SEARCH_SYNC_DB_USER"),
		Password: env.required("SEARCH_SYNC_DB_PASSWORD"),
		Timeout:  DBTimeout,
		SSL: SSLConfig{
			Mode:     getEnvOrDefault("DB_SSL_MODE", "prefer"),
			RootCert: getEnvOrDefault("DB_SSL_ROOT_CERT", ""),
			Cert:     getEnvOrDefault("DB_SSL_CERT", ""),
			Key:      getEnvOrDefault("DB_SSL_KEY", ""),
		},
	}

	search := SearchConfig{
		Backend:     strings.ToLower(getEnvOrDefault("SEARCH_BACKEND", BackendMeilisearch)),
		Timeout:     BackendTimeout,
		BulkTimeout: BackendBulkTimeout,
	}
	switch search.Backend {
	case BackendElasticsearch:
		search.Elasticsearch = ElasticsearchConfig{
			Addresses: splitList(env.required("ELASTICSEARCH_ADDRESSES")),
			Username:  getEnvOrDefault("ELASTICSEARCH_USERNAME", ""),
			Password:  getEnvOrDefault("ELASTICSEARCH_PASSWORD", ""),
			APIKey:    getEnvOrDefault("ELASTICSEARCH_API_KEY", ""),
			Refresh:   getEnvOrDefault("ELASTICSEARCH_REFRESH", ""),
		}
	case BackendMeilisearch:
		search.Meilisearch = MeilisearchConfig{
			Host:   env.required("MEILISEARCH_HOST"),
			APIKey: getEnvOrDefault("MEILISEARCH_API_KEY", ""),
		}
	case BackendBleve:
	default:
		env.fail(fmt.Errorf("unknown SEARCH_BACKEND %q", search.Backend))
	}

	environment := getEnvOrDefault("DEPLOYMENT_ENV", "development")
	rl := defaultRateLimits(environment)
	rl.PerWorker = env.int("RATE_LIMIT_PER_WORKER", rl.PerWorker)
	rl.Aggregate = env.int("RATE_LIMIT_AGGREGATE", rl.Aggregate)

	cfg := &Config{
		Environment: environment,
		Database:    dbConfig,
		Redis: RedisConfig{
			URL: getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		},
		Search: search,
		Reindex: ReindexConfig{
			LockTTL:  ReindexLockTTL,
			PageSize: ReindexPageSize,
		},
		RateLimit: rl,
		Breaker: BreakerConfig{
			Threshold: env.int("BREAKER_THRESHOLD", 10),
			Window:    env.duration("BREAKER_WINDOW", time.Minute),
			Cooldown:  env.duration("BREAKER_COOLDOWN", time.Minute),
		},
		HTTP: HTTPConfig{
			Addr:              HTTPAddr,
			ReadHeaderTimeout: HTTPReadHeaderTimeout,
			ShutdownTimeout:   ShutdownTimeout,
		},
		Auth: NewAuthConfigFromEnv(),
	}

	if err := env.err(); err != nil {
		return nil, err
	}

	if err := cfg.Database.ValidateSSLConfig(); err != nil {
		slog.Error("Invalid SSL configuration", "error", err)
		return nil, fmt.Errorf("SSL configuration error: %w", err)
	}
	if cfg.Reindex.PageSize <= 0 {
		return nil, fmt.Errorf("REINDEX_PAGE_SIZE must be positive, got %d", cfg.Reindex.PageSize)
	}

	slog.Info("Configuration loaded",
		"environment", cfg.Environment,
		"db_host", cfg.Database.Host,
		"db_sslmode", cfg.Database.SSL.Mode,
		"search_backend", cfg.Search.Backend,
		"rate_limit_per_worker", cfg.RateLimit.PerWorker,
		"rate_limit_aggregate", cfg.RateLimit.Aggregate,
	)

	return cfg, nil
}

// NewAuthConfigFromEnv reads the service token settings alone, for commands
// that need nothing else.
func NewAuthConfigFromEnv() AuthConfig {
	return AuthConfig{
		ServiceName:   getEnvOrDefault("SERVICE_NAME", "search-sync"),
		ServiceSecret: getEnvOrDefault("SERVICE_SECRET", ""),
		TokenTTL:      ServiceTokenTTL,
	}
}

func defaultRateLimits(environment string) RateLimitConfig {
	if environment == "production" {
		return RateLimitConfig{PerWorker: 600, Aggregate: 3000}
	}
	return RateLimitConfig{PerWorker: 120, Aggregate: 300}
}

// envReader collects errors while reading variables.
type envReader struct {
	errs []error
}

func (r *envReader) fail(err error) {
	r.errs = append(r.errs, err)
}

func (r *envReader) err() error {
	return errors.Join(r.errs...)
}

func (r *envReader) required(key string) string {
	value := getEnvOrDefault(key, "")
	if value == "" {
		r.fail(fmt.Errorf("required environment variable %s is not set", key))
	}
	return value
}

func (r *envReader) int(key string, def int) int {
	raw := getEnvOrDefault(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		r.fail(fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	raw := getEnvOrDefault(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		r.fail(fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvOrDefault reads key, preferring the file named by key_FILE.
func getEnvOrDefault(key, defaultValue string) string {
	if fileValue := os.Getenv(key + "_FILE"); fileValue != "" {
		content, err := os.ReadFile(fileValue)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}

	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
