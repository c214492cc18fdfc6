package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BOTLEDGER_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BOTLEDGER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setInt(&cfg.Server.Port, "BOTLEDGER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BOTLEDGER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BOTLEDGER_SERVER_API_KEY")
	setDuration(&cfg.Server.MaxSkew, "BOTLEDGER_SERVER_MAX_SKEW")
	setInt(&cfg.Server.RateLimit, "BOTLEDGER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "BOTLEDGER_SERVER_RATE_WINDOW")

	// ── Storage ──
	setStr(&cfg.Storage.Backend, "BOTLEDGER_STORAGE_BACKEND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BOTLEDGER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "BOTLEDGER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BOTLEDGER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BOTLEDGER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BOTLEDGER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BOTLEDGER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BOTLEDGER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BOTLEDGER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BOTLEDGER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BOTLEDGER_POSTGRES_RUN_MIGRATIONS")

	// ── Locks ──
	setStr(&cfg.Locks.Backend, "BOTLEDGER_LOCKS_BACKEND")
	setDuration(&cfg.Locks.TTL, "BOTLEDGER_LOCKS_TTL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "BOTLEDGER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "BOTLEDGER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BOTLEDGER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BOTLEDGER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BOTLEDGER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BOTLEDGER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BOTLEDGER_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.StreamMaxLen, "BOTLEDGER_REDIS_STREAM_MAX_LEN")
	setStr(&cfg.Redis.KeyPrefix, "BOTLEDGER_REDIS_KEY_PREFIX")

	// ── Kafka ──
	setBool(&cfg.Kafka.Enabled, "BOTLEDGER_KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "BOTLEDGER_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "BOTLEDGER_KAFKA_TOPIC")
	setInt(&cfg.Kafka.MaxAttempts, "BOTLEDGER_KAFKA_MAX_ATTEMPTS")
	setDuration(&cfg.Kafka.WriteTimeout, "BOTLEDGER_KAFKA_WRITE_TIMEOUT")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "BOTLEDGER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "BOTLEDGER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BOTLEDGER_S3_REGION")
	setStr(&cfg.S3.Bucket, "BOTLEDGER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BOTLEDGER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BOTLEDGER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BOTLEDGER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BOTLEDGER_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setInt(&cfg.Archive.RetentionDays, "BOTLEDGER_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "BOTLEDGER_ARCHIVE_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BOTLEDGER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BOTLEDGER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BOTLEDGER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BOTLEDGER_NOTIFY_EVENTS")

	// ── EVM ──
	setStr(&cfg.EVM.RPCURL, "BOTLEDGER_EVM_RPC_URL")

	// ── Top-level ──
	setStr(&cfg.Mode, "BOTLEDGER_MODE")
	setStr(&cfg.LogLevel, "BOTLEDGER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
