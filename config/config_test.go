package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnvVars = []string{
	"DB_HOST", "DB_PORT", "DB_NAME", "SEARCH_SYNC_DB_USER", "SEARCH_SYNC_DB_PASSWORD",
	"SEARCH_SYNC_DB_PASSWORD_FILE", "DB_SSL_MODE", "DB_SSL_ROOT_CERT",
	"SEARCH_BACKEND", "MEILISEARCH_HOST", "MEILISEARCH_API_KEY",
	"ELASTICSEARCH_ADDRESSES", "ELASTICSEARCH_REFRESH",
	"DEPLOYMENT_ENV", "RATE_LIMIT_PER_WORKER", "RATE_LIMIT_AGGREGATE",
	"BREAKER_THRESHOLD", "BREAKER_WINDOW", "BREAKER_COOLDOWN", "REDIS_URL", "SERVICE_SECRET",
}

func setBaseEnv(t *testing.T, extra map[string]string) {
	t.Helper()
	for _, k := range configEnvVars {
		t.Setenv(k, "")
	}
	base := map[string]string{
		"DB_HOST":                 "localhost",
		"DB_NAME":                 "testdb",
		"SEARCH_SYNC_DB_USER":     "user",
		"SEARCH_SYNC_DB_PASSWORD": "pass",
		"MEILISEARCH_HOST":        "http://localhost:7700",
	}
	for k, v := range extra {
		base[k] = v
	}
	for k, v := range base {
		t.Setenv(k, v)
	}
}

func TestLoad(t *testing.T) {
	setBaseEnv(t, nil)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "5432", cfg.Database.Port)
	assert.Equal(t, 10*time.Second, cfg.Database.Timeout)
	assert.Equal(t, BackendMeilisearch, cfg.Search.Backend)
	assert.Equal(t, 15*time.Second, cfg.Search.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Search.BulkTimeout)
	assert.Equal(t, "http://localhost:7700", cfg.Search.Meilisearch.Host)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, ":9300", cfg.HTTP.Addr)
	assert.Equal(t, 6*time.Hour, cfg.Reindex.LockTTL)
	assert.Equal(t, 100, cfg.Reindex.PageSize)
	assert.Equal(t, BreakerConfig{Threshold: 10, Window: time.Minute, Cooldown: time.Minute}, cfg.Breaker)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_MissingRequiredVars(t *testing.T) {
	setBaseEnv(t, map[string]string{"DB_HOST": "", "SEARCH_SYNC_DB_USER": ""})

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "DB_HOST")
	assert.Contains(t, err.Error(), "SEARCH_SYNC_DB_USER")
}

func TestLoad_Backends(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		check   func(t *testing.T, cfg *Config)
		wantErr string
	}{
		{
			name: "elasticsearch",
			env: map[string]string{
				"SEARCH_BACKEND":          "Elasticsearch",
				"ELASTICSEARCH_ADDRESSES": "http://es-1:9200, http://es-2:9200,",
				"ELASTICSEARCH_REFRESH":   "wait_for",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, BackendElasticsearch, cfg.Search.Backend)
				assert.Equal(t, []string{"http://es-1:9200", "http://es-2:9200"}, cfg.Search.Elasticsearch.Addresses)
				assert.Equal(t, "wait_for", cfg.Search.Elasticsearch.Refresh)
			},
		},
		{
			name:    "elasticsearch without addresses",
			env:     map[string]string{"SEARCH_BACKEND": "elasticsearch"},
			wantErr: "ELASTICSEARCH_ADDRESSES",
		},
		{
			name: "bleve needs no backend settings",
			env:  map[string]string{"SEARCH_BACKEND": "bleve", "MEILISEARCH_HOST": ""},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, BackendBleve, cfg.Search.Backend)
			},
		},
		{
			name:    "unknown backend",
			env:     map[string]string{"SEARCH_BACKEND": "solr"},
			wantErr: "unknown SEARCH_BACKEND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t, tt.env)
			cfg, err := Load()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoad_RateLimits(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want RateLimitConfig
	}{
		{name: "development", env: nil, want: RateLimitConfig{PerWorker: 120, Aggregate: 300}},
		{name: "production", env: map[string]string{"DEPLOYMENT_ENV": "production"}, want: RateLimitConfig{PerWorker: 600, Aggregate: 3000}},
		{name: "override", env: map[string]string{"DEPLOYMENT_ENV": "production", "RATE_LIMIT_AGGREGATE": "5000"}, want: RateLimitConfig{PerWorker: 600, Aggregate: 5000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t, tt.env)
			cfg, err := Load()
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.RateLimit)
		})
	}
}

func TestLoad_InvalidNumbers(t *testing.T) {
	setBaseEnv(t, map[string]string{"BREAKER_THRESHOLD": "ten", "BREAKER_WINDOW": "soon"})

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BREAKER_THRESHOLD")
	assert.Contains(t, err.Error(), "BREAKER_WINDOW")
}

func TestLoad_SecretFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db_password")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))
	setBaseEnv(t, map[string]string{"SEARCH_SYNC_DB_PASSWORD": "", "SEARCH_SYNC_DB_PASSWORD_FILE": path})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Database.Password)
}

func TestLoad_InvalidSSL(t *testing.T) {
	setBaseEnv(t, map[string]string{"DB_SSL_MODE": "disable"})

	cfg, err := Load()
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "SSL disable mode is not allowed")
}
