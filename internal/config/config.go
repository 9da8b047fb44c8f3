// Package config defines the top-level configuration for the signal
// execution engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SIGENGINE_* environment variables.
type Config struct {
	Engine    EngineConfig   `toml:"engine"`
	Store     StoreConfig    `toml:"store"`
	Postgres  PostgresConfig `toml:"postgres"`
	Venue     VenueConfig    `toml:"venue"`
	Redis     RedisConfig    `toml:"redis"`
	S3        S3Config       `toml:"s3"`
	Notify    NotifyConfig   `toml:"notify"`
	Export    ExportConfig   `toml:"export"`
	Inject    InjectConfig   `toml:"inject"`
	Mode      string         `toml:"mode"`
	LogLevel  string         `toml:"log_level"`
	LogFormat string         `toml:"log_format"`
}

// EngineConfig holds the trading parameters of the execution core.
type EngineConfig struct {
	Symbol        string   `toml:"symbol"`
	SymbolAliases []string `toml:"symbol_aliases"`
	Leg1Volume    float64  `toml:"leg1_volume"`
	Leg2Volume    float64  `toml:"leg2_volume"`
	// OrderTag is the integer "magic number" stamped on every order the
	// engine places, used to tell its positions from manual ones.
	OrderTag            int      `toml:"order_tag"`
	PollInterval        duration `toml:"poll_interval"`
	EntryTolerance      float64  `toml:"entry_tolerance"`
	MaxDailyLossPct     float64  `toml:"max_daily_loss_pct"`
	MaxSLDistance       float64  `toml:"max_sl_distance"`
	SessionStart        string   `toml:"session_start"`      // "HH:MM" local to the session offset
	SessionUTCOffset    string   `toml:"session_utc_offset"` // "+09:00"
	IncludeManualTrades bool     `toml:"include_manual_trades"`
}

// Whitelist returns the configured symbol plus its aliases, the set of
// stored symbol spellings the engine will pick up.
func (e EngineConfig) Whitelist() []string {
	out := make([]string, 0, 1+len(e.SymbolAliases))
	out = append(out, e.Symbol)
	out = append(out, e.SymbolAliases...)
	return out
}

// ResolveSymbol maps a stored symbol spelling to the configured
// instrument. The second return is false when the spelling is neither
// the instrument nor one of its aliases.
func (e EngineConfig) ResolveSymbol(symbol string) (string, bool) {
	if strings.EqualFold(symbol, e.Symbol) {
		return e.Symbol, true
	}
	for _, alias := range e.SymbolAliases {
		if strings.EqualFold(symbol, alias) {
			return e.Symbol, true
		}
	}
	return "", false
}

// StoreConfig selects the signal queue backend.
type StoreConfig struct {
	Driver string `toml:"driver"` // "sqlite" or "postgres"
	Path   string `toml:"path"`   // SQLite database file
}

// PostgresConfig holds PostgreSQL connection parameters, used when
// store.driver is "postgres".
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// VenueConfig selects and parameterizes the trading venue connection.
type VenueConfig struct {
	Kind        string   `toml:"kind"` // "bridge" or "paper"
	Endpoint    string   `toml:"endpoint"`
	CallTimeout duration `toml:"call_timeout"`
	Token       string   `toml:"token"`
	KeyfilePath string   `toml:"keyfile_path"`
	KeyPassword string   `toml:"key_password"`
}

// RedisConfig holds status-bus connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyTTL     duration `toml:"key_ttl"`
}

// S3Config holds S3-compatible object storage parameters for the
// outcome archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ExportConfig parameterizes the export mode.
type ExportConfig struct {
	From   string `toml:"from"`   // "YYYY-MM-DD" inclusive; empty = everything
	To     string `toml:"to"`     // "YYYY-MM-DD" inclusive whole day; empty = now
	Output string `toml:"output"` // CSV path, "-" for stdout
	Upload bool   `toml:"upload"` // also push the file to S3 when enabled
}

// InjectConfig describes the synthetic signal written by the inject
// mode. Symbol defaults to the engine instrument when empty.
type InjectConfig struct {
	Symbol      string  `toml:"symbol"`
	Direction   string  `toml:"direction"`
	EntryMin    float64 `toml:"entry_min"`
	EntryMax    float64 `toml:"entry_max"`
	StopLoss    float64 `toml:"stop_loss"`
	TakeProfit1 float64 `toml:"take_profit_1"`
	TakeProfit2 float64 `toml:"take_profit_2"`
	TakeProfit3 float64 `toml:"take_profit_3"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5s", "1m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5s" or "1m".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the reference deployment's
// values: XAUUSD signals from a shared SQLite file next to the trading
// terminal, paper venue until the bridge is configured.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			Symbol:              "XAUUSD",
			SymbolAliases:       []string{"GOLD"},
			Leg1Volume:          0.01,
			Leg2Volume:          0.01,
			OrderTag:            777001,
			PollInterval:        duration{1 * time.Second},
			EntryTolerance:      3.0,
			MaxDailyLossPct:     3.0,
			MaxSLDistance:       15.0,
			SessionStart:        "07:10",
			SessionUTCOffset:    "+09:00",
			IncludeManualTrades: false,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "telegram_signals.sqlite3",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Venue: VenueConfig{
			Kind:        "paper",
			Endpoint:    "ws://127.0.0.1:8765",
			CallTimeout: duration{5 * time.Second},
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
			KeyTTL:     duration{30 * time.Second},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "sigengine-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"engine_started", "engine_stopped", "trading_locked", "exec_failed"},
		},
		Export: ExportConfig{
			Output: "signals.csv",
		},
		Inject: InjectConfig{
			Direction: "BUY",
		},
		Mode:      "run",
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":     true,
	"export":  true,
	"inject":  true,
	"keyfile": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validLogFormats enumerates the accepted values for Config.LogFormat.
var validLogFormats = map[string]bool{
	"json": true,
	"text": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, export, inject, keyfile)", c.Mode))
	}

	// Log
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if !validLogFormats[strings.ToLower(c.LogFormat)] {
		errs = append(errs, fmt.Sprintf("unknown log_format %q (valid: json, text)", c.LogFormat))
	}

	// Engine
	if c.Engine.Symbol == "" {
		errs = append(errs, "engine: symbol must not be empty")
	}
	if c.Engine.Leg1Volume <= 0 {
		errs = append(errs, "engine: leg1_volume must be > 0")
	}
	if c.Engine.Leg2Volume <= 0 {
		errs = append(errs, "engine: leg2_volume must be > 0")
	}
	if c.Engine.OrderTag <= 0 {
		errs = append(errs, "engine: order_tag must be a positive magic number")
	}
	if c.Engine.PollInterval.Duration <= 0 {
		errs = append(errs, "engine: poll_interval must be > 0")
	}
	if c.Engine.EntryTolerance < 0 {
		errs = append(errs, "engine: entry_tolerance must be >= 0")
	}
	if c.Engine.MaxDailyLossPct <= 0 {
		errs = append(errs, "engine: max_daily_loss_pct must be > 0")
	}
	if c.Engine.MaxSLDistance <= 0 {
		errs = append(errs, "engine: max_sl_distance must be > 0")
	}
	if _, err := time.Parse("15:04", c.Engine.SessionStart); err != nil {
		errs = append(errs, fmt.Sprintf("engine: session_start must be \"HH:MM\", got %q", c.Engine.SessionStart))
	}
	if _, err := time.Parse("-07:00", c.Engine.SessionUTCOffset); err != nil {
		errs = append(errs, fmt.Sprintf("engine: session_utc_offset must be \"+HH:MM\" or \"-HH:MM\", got %q", c.Engine.SessionUTCOffset))
	}

	// Store
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, "store: path must not be empty for the sqlite driver")
		}
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: sqlite, postgres)", c.Store.Driver))
	}

	// Venue
	switch c.Venue.Kind {
	case "bridge":
		if c.Venue.Endpoint == "" {
			errs = append(errs, "venue: endpoint must not be empty for the bridge venue")
		}
		if c.Venue.CallTimeout.Duration <= 0 {
			errs = append(errs, "venue: call_timeout must be > 0")
		}
	case "paper":
	default:
		errs = append(errs, fmt.Sprintf("venue: unknown kind %q (valid: bridge, paper)", c.Venue.Kind))
	}
	if c.Venue.KeyfilePath != "" && c.Venue.KeyPassword == "" {
		errs = append(errs, "venue: key_password is required when keyfile_path is set")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Export rules only bind when the mode will use them.
	if strings.EqualFold(c.Mode, "export") {
		if c.Export.Output == "" {
			errs = append(errs, "export: output must not be empty")
		}
		if c.Export.From != "" {
			if _, err := time.Parse("2006-01-02", c.Export.From); err != nil {
				errs = append(errs, fmt.Sprintf("export: from must be \"YYYY-MM-DD\", got %q", c.Export.From))
			}
		}
		if c.Export.To != "" {
			if _, err := time.Parse("2006-01-02", c.Export.To); err != nil {
				errs = append(errs, fmt.Sprintf("export: to must be \"YYYY-MM-DD\", got %q", c.Export.To))
			}
		}
	}

	// Inject
	if strings.EqualFold(c.Mode, "inject") {
		if c.Inject.EntryMin <= 0 || c.Inject.EntryMax <= 0 {
			errs = append(errs, "inject: entry_min and entry_max must be > 0")
		}
		if c.Inject.StopLoss <= 0 {
			errs = append(errs, "inject: stop_loss must be > 0")
		}
		if c.Inject.TakeProfit1 <= 0 {
			errs = append(errs, "inject: take_profit_1 must be > 0")
		}
		switch strings.ToUpper(c.Inject.Direction) {
		case "BUY", "SELL", "LONG", "SHORT":
		default:
			errs = append(errs, fmt.Sprintf("inject: unknown direction %q", c.Inject.Direction))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
