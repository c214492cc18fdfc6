package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "botledger.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Minute, cfg.Server.MaxSkew.Duration)
	assert.Equal(t, 90*24*time.Hour, cfg.Archive.Retention())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
mode = "full"
log_level = "debug"

[server]
port = 9090
max_skew = "2m"

[storage]
backend = "postgres"

[postgres]
dsn = "postgres://ledger@db/ledger"

[locks]
backend = "redis"

[redis]
enabled = true

[s3]
enabled = true
bucket = "ledger-archive"

[archive]
interval = "6h"
`)
	t.Setenv("BOTLEDGER_SERVER_PORT", "7070")
	t.Setenv("BOTLEDGER_KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("BOTLEDGER_ARCHIVE_RETENTION_DAYS", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Server.MaxSkew.Duration)
	assert.Equal(t, 6*time.Hour, cfg.Archive.Interval.Duration)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 90, cfg.Archive.RetentionDays, "unparsable override is ignored")
	assert.Equal(t, "ledger.events", cfg.Kafka.Topic, "defaults survive a partial file")
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[server]
prot = 8080
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.prot")
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	t.Setenv("BOTLEDGER_MODE", "archive")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "archive", cfg.Mode)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	cfg.LogLevel = "loud"
	cfg.Locks.Backend = "redis"
	cfg.Kafka.Enabled = true
	cfg.Kafka.Topic = ""
	cfg.Notify.TelegramToken = "token"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"unknown log_level",
		"mode archive needs the postgres backend",
		"locks: backend redis requires redis.enabled",
		"kafka: topic must not be empty",
		"requires s3.enabled",
		"telegram_token and telegram_chat_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
	assert.NotContains(t, err.Error(), "server: port", "server checks are skipped in archive mode")
}

func TestValidate_Backends(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown storage", func(c *Config) { c.Storage.Backend = "sqlite" }, "storage: unknown backend"},
		{"unknown locks", func(c *Config) { c.Locks.Backend = "etcd" }, "locks: unknown backend"},
		{"postgres pool", func(c *Config) {
			c.Storage.Backend = "postgres"
			c.Postgres.PoolMinConns = 20
		}, "pool_min_conns must not exceed"},
		{"rate window", func(c *Config) { c.Server.RateWindow.Duration = 0 }, "rate_window must be > 0"},
		{"postgres ok", func(c *Config) { c.Storage.Backend = "postgres" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Server.APIKey = "key"
	cfg.Postgres.Password = "pw"
	cfg.S3.SecretKey = "s3"
	cfg.EVM.RPCURL = "https://rpc.example/v3/abc"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.EVM.RPCURL)
	assert.Empty(t, out.Notify.TelegramToken)
	assert.Equal(t, "key", cfg.Server.APIKey)

	out.Notify.Events[0] = "changed"
	assert.Equal(t, "system_paused", cfg.Notify.Events[0])
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "botledger.example.toml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, "redis", cfg.Locks.Backend)
	assert.Equal(t, 90*24*time.Hour, cfg.Archive.Retention())
}
