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
// built-in defaults, applies SIGENGINE_* environment variable overrides, and
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

// applyEnvOverrides reads well-known SIGENGINE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.Symbol, "SIGENGINE_ENGINE_SYMBOL")
	setStringSlice(&cfg.Engine.SymbolAliases, "SIGENGINE_ENGINE_SYMBOL_ALIASES")
	setFloat64(&cfg.Engine.Leg1Volume, "SIGENGINE_ENGINE_LEG1_VOLUME")
	setFloat64(&cfg.Engine.Leg2Volume, "SIGENGINE_ENGINE_LEG2_VOLUME")
	setInt(&cfg.Engine.OrderTag, "SIGENGINE_ENGINE_ORDER_TAG")
	setDuration(&cfg.Engine.PollInterval, "SIGENGINE_ENGINE_POLL_INTERVAL")
	setFloat64(&cfg.Engine.EntryTolerance, "SIGENGINE_ENGINE_ENTRY_TOLERANCE")
	setFloat64(&cfg.Engine.MaxDailyLossPct, "SIGENGINE_ENGINE_MAX_DAILY_LOSS_PCT")
	setFloat64(&cfg.Engine.MaxSLDistance, "SIGENGINE_ENGINE_MAX_SL_DISTANCE")
	setStr(&cfg.Engine.SessionStart, "SIGENGINE_ENGINE_SESSION_START")
	setStr(&cfg.Engine.SessionUTCOffset, "SIGENGINE_ENGINE_SESSION_UTC_OFFSET")
	setBool(&cfg.Engine.IncludeManualTrades, "SIGENGINE_ENGINE_INCLUDE_MANUAL_TRADES")

	// ── Store ──
	setStr(&cfg.Store.Driver, "SIGENGINE_STORE_DRIVER")
	setStr(&cfg.Store.Path, "SIGENGINE_STORE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SIGENGINE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SIGENGINE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SIGENGINE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SIGENGINE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SIGENGINE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SIGENGINE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SIGENGINE_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "SIGENGINE_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "SIGENGINE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SIGENGINE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SIGENGINE_POSTGRES_RUN_MIGRATIONS")

	// ── Venue ──
	setStr(&cfg.Venue.Kind, "SIGENGINE_VENUE_KIND")
	setStr(&cfg.Venue.Endpoint, "SIGENGINE_VENUE_ENDPOINT")
	setDuration(&cfg.Venue.CallTimeout, "SIGENGINE_VENUE_CALL_TIMEOUT")
	setStr(&cfg.Venue.Token, "SIGENGINE_BRIDGE_TOKEN")
	setStr(&cfg.Venue.KeyfilePath, "SIGENGINE_VENUE_KEYFILE_PATH")
	setStr(&cfg.Venue.KeyPassword, "SIGENGINE_VENUE_KEY_PASSWORD")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SIGENGINE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SIGENGINE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SIGENGINE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SIGENGINE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SIGENGINE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SIGENGINE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SIGENGINE_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.KeyTTL, "SIGENGINE_REDIS_KEY_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SIGENGINE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SIGENGINE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SIGENGINE_S3_REGION")
	setStr(&cfg.S3.Bucket, "SIGENGINE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SIGENGINE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SIGENGINE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SIGENGINE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SIGENGINE_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SIGENGINE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SIGENGINE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SIGENGINE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SIGENGINE_NOTIFY_EVENTS")

	// ── Export ──
	setStr(&cfg.Export.From, "SIGENGINE_EXPORT_FROM")
	setStr(&cfg.Export.To, "SIGENGINE_EXPORT_TO")
	setStr(&cfg.Export.Output, "SIGENGINE_EXPORT_OUTPUT")
	setBool(&cfg.Export.Upload, "SIGENGINE_EXPORT_UPLOAD")

	// ── Inject ──
	setStr(&cfg.Inject.Symbol, "SIGENGINE_INJECT_SYMBOL")
	setStr(&cfg.Inject.Direction, "SIGENGINE_INJECT_DIRECTION")
	setFloat64(&cfg.Inject.EntryMin, "SIGENGINE_INJECT_ENTRY_MIN")
	setFloat64(&cfg.Inject.EntryMax, "SIGENGINE_INJECT_ENTRY_MAX")
	setFloat64(&cfg.Inject.StopLoss, "SIGENGINE_INJECT_STOP_LOSS")
	setFloat64(&cfg.Inject.TakeProfit1, "SIGENGINE_INJECT_TAKE_PROFIT_1")
	setFloat64(&cfg.Inject.TakeProfit2, "SIGENGINE_INJECT_TAKE_PROFIT_2")
	setFloat64(&cfg.Inject.TakeProfit3, "SIGENGINE_INJECT_TAKE_PROFIT_3")

	// ── Top-level ──
	setStr(&cfg.Mode, "SIGENGINE_MODE")
	setStr(&cfg.LogLevel, "SIGENGINE_LOG_LEVEL")
	setStr(&cfg.LogFormat, "SIGENGINE_LOG_FORMAT")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
