package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func writeConfig(t *testing.T, home, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(home, ConfigFileName), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 8420 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 8420)
	}
	if cfg.API.RateLimit != 120 {
		t.Errorf("API.RateLimit = %d, want %d", cfg.API.RateLimit, 120)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Redis.Addr != "" {
		t.Error("Redis should be disabled by default")
	}
	if !cfg.Matcher.Enabled || !cfg.Upkeep.Enabled {
		t.Error("matcher and upkeep should be enabled by default")
	}
	if !cfg.Policy.GrantAmount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Policy.GrantAmount = %s, want 100", cfg.Policy.GrantAmount)
	}
	if len(cfg.Categories) != 5 {
		t.Errorf("len(Categories) = %d, want 5", len(cfg.Categories))
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	home := t.TempDir()
	cfg, err := LoadConfig(home)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Home != home {
		t.Errorf("Home = %q, want %q", cfg.Home, home)
	}
	if cfg.API.Port != 8420 {
		t.Errorf("API.Port = %d, want 8420", cfg.API.Port)
	}
	if got, want := cfg.DataDir(), filepath.Join(home, "data"); got != want {
		t.Errorf("DataDir() = %q, want %q", got, want)
	}
}

func TestLoadConfig_FileOverlaysDefaults(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, `
[api]
port = 9000

[policy]
grant_amount = "50"
match_threshold = 70

[[categories]]
id = "plumbing"
name = "Plumbing"
rate_per_hour = "12"
demand_multiplier = 1.0
standard_hours = 2.0
`)

	cfg, err := LoadConfig(home)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}
	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, unspecified keys should keep defaults", cfg.API.Host)
	}
	if !cfg.Policy.GrantAmount.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Policy.GrantAmount = %s, want 50", cfg.Policy.GrantAmount)
	}
	if cfg.Policy.MatchThreshold != 70 {
		t.Errorf("Policy.MatchThreshold = %d, want 70", cfg.Policy.MatchThreshold)
	}
	if cfg.Policy.GrantExpiryDays != 45 {
		t.Errorf("Policy.GrantExpiryDays = %d, unspecified keys should keep defaults", cfg.Policy.GrantExpiryDays)
	}
	if len(cfg.Categories) != 1 || cfg.Categories[0].ID != "plumbing" {
		t.Fatalf("Categories = %+v, want only plumbing", cfg.Categories)
	}
	if !cfg.Categories[0].RatePerHour.Equal(decimal.NewFromInt(12)) {
		t.Errorf("plumbing rate = %s, want 12", cfg.Categories[0].RatePerHour)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "[api]\nport = 9000\n")
	t.Setenv("CENTI_API_PORT", "9100")
	t.Setenv("CENTI_REDIS_ADDR", "localhost:6379")
	t.Setenv("CENTI_UPKEEP_INTERVAL", "15m")

	cfg, err := LoadConfig(home)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.Port != 9100 {
		t.Errorf("API.Port = %d, want 9100", cfg.API.Port)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if cfg.UpkeepInterval() != 15*time.Minute {
		t.Errorf("UpkeepInterval() = %v, want 15m", cfg.UpkeepInterval())
	}
}

func TestLoadConfig_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", "[api\nport = 1"},
		{"port", "[api]\nport = 70000"},
		{"duration", "[upkeep]\ninterval = \"soon\""},
		{"policy", "[policy]\ndaily_decay_rate = 2.0"},
		{"category", "[[categories]]\nid = \"x\"\nname = \"X\"\nrate_per_hour = \"0\"\nstandard_hours = 1.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := t.TempDir()
			writeConfig(t, home, tt.body)
			if _, err := LoadConfig(home); err == nil {
				t.Errorf("LoadConfig(%q) should fail", tt.body)
			}
		})
	}
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Home = t.TempDir()
	cfg.API.Port = 9300
	cfg.Policy.MaxBorrow = decimal.NewFromInt(750)

	if err := cfg.Save(); err != nil {
		t.Fatal(err)
	}
	got, err := LoadConfig(cfg.Home)
	if err != nil {
		t.Fatal(err)
	}
	if got.API.Port != 9300 {
		t.Errorf("API.Port = %d, want 9300", got.API.Port)
	}
	if !got.Policy.MaxBorrow.Equal(decimal.NewFromInt(750)) {
		t.Errorf("Policy.MaxBorrow = %s, want 750", got.Policy.MaxBorrow)
	}
	if len(got.Categories) != len(cfg.Categories) {
		t.Errorf("len(Categories) = %d, want %d", len(got.Categories), len(cfg.Categories))
	}
}

func TestConfig_Durations(t *testing.T) {
	tests := []struct {
		input string
		def   time.Duration
		want  time.Duration
	}{
		{"30s", time.Minute, 30 * time.Second},
		{"", time.Minute, time.Minute},
		{"0s", time.Hour, time.Hour},
		{"bogus", time.Hour, time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := mustDuration(tt.input, tt.def); got != tt.want {
				t.Errorf("mustDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestConfig_DataDir(t *testing.T) {
	cfg := Config{Home: "/srv/centi"}
	tests := []struct {
		dir  string
		want string
	}{
		{"data", filepath.Join("/srv/centi", "data")},
		{"/var/lib/centi", "/var/lib/centi"},
		{"", ""},
	}
	for _, tt := range tests {
		cfg.Storage.DataDir = tt.dir
		if got := cfg.DataDir(); got != tt.want {
			t.Errorf("DataDir(%q) = %q, want %q", tt.dir, got, tt.want)
		}
	}
}
