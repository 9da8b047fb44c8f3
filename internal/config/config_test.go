package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Engine.Symbol != "XAUUSD" {
		t.Errorf("Engine.Symbol = %q, want %q", cfg.Engine.Symbol, "XAUUSD")
	}
	if len(cfg.Engine.SymbolAliases) != 1 || cfg.Engine.SymbolAliases[0] != "GOLD" {
		t.Errorf("Engine.SymbolAliases = %v, want [GOLD]", cfg.Engine.SymbolAliases)
	}
	if cfg.Engine.MaxSLDistance != 15.0 {
		t.Errorf("Engine.MaxSLDistance = %v, want 15.0", cfg.Engine.MaxSLDistance)
	}
	if cfg.Engine.PollInterval.Duration != time.Second {
		t.Errorf("Engine.PollInterval = %v, want 1s", cfg.Engine.PollInterval.Duration)
	}
	if cfg.Engine.SessionUTCOffset != "+09:00" {
		t.Errorf("Engine.SessionUTCOffset = %q, want %q", cfg.Engine.SessionUTCOffset, "+09:00")
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("Store.Driver = %q, want %q", cfg.Store.Driver, "sqlite")
	}
	if cfg.Store.Path != "telegram_signals.sqlite3" {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, "telegram_signals.sqlite3")
	}
	if cfg.Venue.Kind != "paper" {
		t.Errorf("Venue.Kind = %q, want %q", cfg.Venue.Kind, "paper")
	}
	if cfg.Mode != "run" {
		t.Errorf("Mode = %q, want %q", cfg.Mode, "run")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults() should validate cleanly, got: %v", err)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sigengine.toml")
	body := `
mode = "run"
log_level = "debug"

[engine]
symbol = "XAGUSD"
symbol_aliases = ["SILVER"]
leg1_volume = 0.10
poll_interval = "2s"
max_daily_loss_pct = 2.5

[store]
driver = "sqlite"
path = "/tmp/queue.sqlite3"

[venue]
kind = "bridge"
endpoint = "ws://10.0.0.5:8765"
call_timeout = "3s"
token = "secret-token"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Engine.Symbol != "XAGUSD" {
		t.Errorf("Engine.Symbol = %q, want %q", cfg.Engine.Symbol, "XAGUSD")
	}
	if cfg.Engine.Leg1Volume != 0.10 {
		t.Errorf("Engine.Leg1Volume = %v, want 0.10", cfg.Engine.Leg1Volume)
	}
	if cfg.Engine.PollInterval.Duration != 2*time.Second {
		t.Errorf("Engine.PollInterval = %v, want 2s", cfg.Engine.PollInterval.Duration)
	}
	if cfg.Engine.MaxDailyLossPct != 2.5 {
		t.Errorf("Engine.MaxDailyLossPct = %v, want 2.5", cfg.Engine.MaxDailyLossPct)
	}
	// Untouched fields keep their defaults.
	if cfg.Engine.MaxSLDistance != 15.0 {
		t.Errorf("Engine.MaxSLDistance = %v, want default 15.0", cfg.Engine.MaxSLDistance)
	}
	if cfg.Engine.Leg2Volume != 0.01 {
		t.Errorf("Engine.Leg2Volume = %v, want default 0.01", cfg.Engine.Leg2Volume)
	}
	if cfg.Venue.Kind != "bridge" {
		t.Errorf("Venue.Kind = %q, want %q", cfg.Venue.Kind, "bridge")
	}
	if cfg.Venue.CallTimeout.Duration != 3*time.Second {
		t.Errorf("Venue.CallTimeout = %v, want 3s", cfg.Venue.CallTimeout.Duration)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("merged config should validate cleanly, got: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sigengine.toml")
	if err := os.WriteFile(path, []byte("[engine]\nsymbol = \"XAUUSD\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SIGENGINE_ENGINE_MAX_DAILY_LOSS_PCT", "1.75")
	t.Setenv("SIGENGINE_ENGINE_SYMBOL_ALIASES", "GOLD, GOLDSPOT")
	t.Setenv("SIGENGINE_ENGINE_POLL_INTERVAL", "500ms")
	t.Setenv("SIGENGINE_BRIDGE_TOKEN", "from-env")
	t.Setenv("SIGENGINE_ENGINE_INCLUDE_MANUAL_TRADES", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Engine.MaxDailyLossPct != 1.75 {
		t.Errorf("Engine.MaxDailyLossPct = %v, want 1.75", cfg.Engine.MaxDailyLossPct)
	}
	want := []string{"GOLD", "GOLDSPOT"}
	if len(cfg.Engine.SymbolAliases) != len(want) {
		t.Fatalf("Engine.SymbolAliases = %v, want %v", cfg.Engine.SymbolAliases, want)
	}
	for i := range want {
		if cfg.Engine.SymbolAliases[i] != want[i] {
			t.Errorf("Engine.SymbolAliases[%d] = %q, want %q", i, cfg.Engine.SymbolAliases[i], want[i])
		}
	}
	if cfg.Engine.PollInterval.Duration != 500*time.Millisecond {
		t.Errorf("Engine.PollInterval = %v, want 500ms", cfg.Engine.PollInterval.Duration)
	}
	if cfg.Venue.Token != "from-env" {
		t.Errorf("Venue.Token = %q, want %q", cfg.Venue.Token, "from-env")
	}
	if !cfg.Engine.IncludeManualTrades {
		t.Error("Engine.IncludeManualTrades should be true after env override")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "dance"
	cfg.Engine.Leg1Volume = 0
	cfg.Engine.OrderTag = 0
	cfg.Engine.SessionStart = "25:99"
	cfg.Store.Driver = "oracle"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate should fail")
	}
	msg := err.Error()
	for _, frag := range []string{
		"unknown mode",
		"leg1_volume",
		"order_tag",
		"session_start",
		"unknown driver",
	} {
		if !strings.Contains(msg, frag) {
			t.Errorf("validation error should mention %q, got:\n%s", frag, msg)
		}
	}
}

func TestResolveSymbol(t *testing.T) {
	eng := EngineConfig{Symbol: "XAUUSD", SymbolAliases: []string{"GOLD"}}

	cases := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"XAUUSD", "XAUUSD", true},
		{"xauusd", "XAUUSD", true},
		{"GOLD", "XAUUSD", true},
		{"gold", "XAUUSD", true},
		{"EURUSD", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := eng.ResolveSymbol(tc.in)
		if ok != tc.wantOK || got != tc.want {
			t.Errorf("ResolveSymbol(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}

	wl := eng.Whitelist()
	if len(wl) != 2 || wl[0] != "XAUUSD" || wl[1] != "GOLD" {
		t.Errorf("Whitelist() = %v, want [XAUUSD GOLD]", wl)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pgpass"
	cfg.Venue.Token = "bridge-token"
	cfg.Redis.Password = "redispass"
	cfg.S3.SecretKey = "s3secret"
	cfg.Notify.TelegramToken = "tgtoken"

	red := RedactedConfig(&cfg)

	if red.Postgres.Password != "***" {
		t.Errorf("redacted Postgres.Password = %q, want ***", red.Postgres.Password)
	}
	if red.Venue.Token != "***" {
		t.Errorf("redacted Venue.Token = %q, want ***", red.Venue.Token)
	}
	if red.Redis.Password != "***" || red.S3.SecretKey != "***" || red.Notify.TelegramToken != "***" {
		t.Error("all secret fields should be redacted")
	}
	// Empty secrets stay empty rather than becoming "***".
	if red.S3.AccessKey != "" {
		t.Errorf("empty secret should stay empty, got %q", red.S3.AccessKey)
	}
	// The original is untouched.
	if cfg.Venue.Token != "bridge-token" {
		t.Errorf("original Venue.Token mutated to %q", cfg.Venue.Token)
	}
}
