package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/centi-network/centi/internal/app/policy"
	"github.com/centi-network/centi/internal/domain"
	"github.com/centi-network/centi/internal/infra/catalog"
)

// EnvPrefix prefixes every environment override, e.g. CENTI_API_PORT.
const EnvPrefix = "CENTI"

// ConfigFileName is the name of the config file inside the home directory.
const ConfigFileName = "config.toml"

// Config is the daemon configuration: ~/.centi/config.toml, then .env, then
// CENTI_* environment variables, in increasing precedence.
type Config struct {
	Home    string        `toml:"-" ignored:"true"`
	API     APIConfig     `toml:"api"`
	Storage StorageConfig `toml:"storage"`
	Log     LogConfig     `toml:"log"`
	Redis   RedisConfig   `toml:"redis"`
	Matcher MatcherConfig `toml:"matcher"`
	Upkeep  UpkeepConfig  `toml:"upkeep"`

	// Seeds. Values stored by the admin API take precedence over both.
	Policy     policy.Policy            `toml:"policy" ignored:"true"`
	Categories []domain.ServiceCategory `toml:"categories" ignored:"true"`
}

type APIConfig struct {
	Host            string `toml:"host" split_words:"true"`
	Port            int    `toml:"port" split_words:"true"`
	RateLimit       int64  `toml:"rate_limit" split_words:"true"`
	RatePeriod      string `toml:"rate_period" split_words:"true"`
	ShutdownTimeout string `toml:"shutdown_timeout" split_words:"true"`
	TraceBuffer     int    `toml:"trace_buffer" split_words:"true"`
}

type StorageConfig struct {
	// DataDir holds centi.db. Relative paths resolve against the home
	// directory; empty means an in-memory database.
	DataDir string `toml:"data_dir" split_words:"true"`
}

type LogConfig struct {
	Level     string `toml:"level" split_words:"true"`
	Format    string `toml:"format" split_words:"true"`
	WarnStack bool   `toml:"warn_stack" split_words:"true"`
}

// RedisConfig enables the distributed tick and upkeep locks when Addr is set.
type RedisConfig struct {
	Addr     string `toml:"addr" split_words:"true"`
	Password string `toml:"password" split_words:"true"`
	DB       int    `toml:"db" split_words:"true"`
	LockTTL  string `toml:"lock_ttl" split_words:"true"`
}

type MatcherConfig struct {
	Enabled bool   `toml:"enabled" split_words:"true"`
	LockKey string `toml:"lock_key" split_words:"true"`
}

type UpkeepConfig struct {
	Enabled  bool   `toml:"enabled" split_words:"true"`
	Interval string `toml:"interval" split_words:"true"`
	LockKey  string `toml:"lock_key" split_words:"true"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		Home: DefaultHome(),
		API: APIConfig{
			Host:            "127.0.0.1",
			Port:            8420,
			RateLimit:       120,
			RatePeriod:      "1m",
			ShutdownTimeout: "10s",
			TraceBuffer:     1000,
		},
		Storage: StorageConfig{DataDir: "data"},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Redis: RedisConfig{LockTTL: "5m"},
		Matcher: MatcherConfig{
			Enabled: true,
			LockKey: "centi:lock:matcher",
		},
		Upkeep: UpkeepConfig{
			Enabled:  true,
			Interval: "1h",
			LockKey:  "centi:lock:upkeep",
		},
		Policy:     policy.Default(),
		Categories: catalog.DefaultCategories(),
	}
}

// DefaultHome returns ~/.centi, or .centi in the working directory when the
// user home cannot be resolved.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".centi"
	}
	return filepath.Join(home, ".centi")
}

// LoadConfig reads the config file from home (DefaultHome when empty) and
// applies environment overrides. A missing file is not an error.
func LoadConfig(home string) (Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if home == "" {
		home = os.Getenv(EnvPrefix + "_HOME")
	}
	if home != "" {
		cfg.Home = home
	}

	// [[categories]] replaces the seed list as a whole.
	seeds := cfg.Categories
	cfg.Categories = nil
	path := filepath.Join(cfg.Home, ConfigFileName)
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if !md.IsDefined("categories") {
		cfg.Categories = seeds
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if c.API.RateLimit < 0 {
		return fmt.Errorf("api.rate_limit must not be negative")
	}
	for name, v := range map[string]string{
		"api.rate_period":      c.API.RatePeriod,
		"api.shutdown_timeout": c.API.ShutdownTimeout,
		"redis.lock_ttl":       c.Redis.LockTTL,
		"upkeep.interval":      c.Upkeep.Interval,
	} {
		if _, err := parseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if _, err := catalog.NewRateTable(c.Categories); err != nil {
		return fmt.Errorf("categories: %w", err)
	}
	return nil
}

// Save writes c to the config file in its home directory.
func (c Config) Save() error {
	if err := os.MkdirAll(c.Home, 0o700); err != nil {
		return fmt.Errorf("create home: %w", err)
	}
	path := filepath.Join(c.Home, ConfigFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// Addr is the API listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// DataDir resolves the storage directory. Empty means in-memory.
func (c Config) DataDir() string {
	dir := strings.TrimSpace(c.Storage.DataDir)
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.Home, dir)
}

// RatePeriod is the API rate-limit window.
func (c Config) RatePeriod() time.Duration {
	return mustDuration(c.API.RatePeriod, time.Minute)
}

// ShutdownTimeout bounds the graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return mustDuration(c.API.ShutdownTimeout, 10*time.Second)
}

// LockTTL is how long a Redis run lock is held before it expires.
func (c Config) LockTTL() time.Duration {
	return mustDuration(c.Redis.LockTTL, 5*time.Minute)
}

// UpkeepInterval is the period between upkeep runs.
func (c Config) UpkeepInterval() time.Duration {
	return mustDuration(c.Upkeep.Interval, time.Hour)
}

func parseDuration(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", s)
	}
	return d, nil
}

// mustDuration returns the parsed duration, or def when s is empty or
// invalid. Validate has already rejected invalid values.
func mustDuration(s string, def time.Duration) time.Duration {
	d, err := parseDuration(s)
	if err != nil || d == 0 {
		return def
	}
	return d
}
