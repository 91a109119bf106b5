package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FIREMARK_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FIREMARK_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FIREMARK_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FIREMARK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FIREMARK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FIREMARK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FIREMARK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FIREMARK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FIREMARK_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FIREMARK_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FIREMARK_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FIREMARK_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FIREMARK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FIREMARK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FIREMARK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FIREMARK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FIREMARK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FIREMARK_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FIREMARK_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FIREMARK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FIREMARK_S3_REGION")
	setStr(&cfg.S3.Bucket, "FIREMARK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FIREMARK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FIREMARK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FIREMARK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FIREMARK_S3_FORCE_PATH_STYLE")

	// ── Oracle ──
	setStringSlice(&cfg.Oracle.Operators, "FIREMARK_ORACLE_OPERATORS")
	setInt(&cfg.Oracle.Threshold, "FIREMARK_ORACLE_THRESHOLD")
	setStr(&cfg.Oracle.SignerKey, "FIREMARK_ORACLE_SIGNER_KEY")
	setStr(&cfg.Oracle.EncryptedKeyPath, "FIREMARK_ORACLE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Oracle.KeyPassword, "FIREMARK_ORACLE_KEY_PASSWORD")

	// ── Keeper ──
	setBool(&cfg.Keeper.Enabled, "FIREMARK_KEEPER_ENABLED")
	setDuration(&cfg.Keeper.Interval, "FIREMARK_KEEPER_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FIREMARK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FIREMARK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FIREMARK_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FIREMARK_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "FIREMARK_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "FIREMARK_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FIREMARK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FIREMARK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FIREMARK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FIREMARK_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FIREMARK_MODE")
	setStr(&cfg.LogLevel, "FIREMARK_LOG_LEVEL")
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
