// Package config loads service configuration: built-in defaults, then an
// optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/atmx/cdp-risk/internal/scenario"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Config holds every tunable of the server and CLI.
type Config struct {
	Port string `yaml:"port"`

	// Position source. Fixtures are used unless UseFixtures is false and a
	// DatabaseURL is set.
	UseFixtures            bool   `yaml:"use_fixtures"`
	DatabaseURL            string `yaml:"database_url"`
	MaxTrovesPerCollateral int    `yaml:"max_troves_per_collateral"`

	// Market source.
	HyperliquidURL string        `yaml:"hyperliquid_url"`
	HyperliquidRPS float64       `yaml:"hyperliquid_rps"`
	RedisURL       string        `yaml:"redis_url"`
	RedisTTL       time.Duration `yaml:"redis_ttl"`

	// Analysis.
	Symbols        []string           `yaml:"symbols"`
	ShockLevels    []float64          `yaml:"shock_levels"`
	FocusShock     float64            `yaml:"focus_shock"`
	DepthOverrides map[string]float64 `yaml:"depth_overrides"`

	// Refresh loop.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	HistoryWindow   int           `yaml:"history_window"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:                   "8080",
		UseFixtures:            true,
		MaxTrovesPerCollateral: 100,
		HyperliquidURL:         "https://api.hyperliquid.xyz",
		HyperliquidRPS:         5,
		RedisTTL:               30 * time.Second,
		Symbols:                []string{"ETH", "HYPE"},
		ShockLevels:            append([]float64(nil), scenario.DefaultShocks...),
		FocusShock:             -0.20,
		RefreshInterval:        30 * time.Second,
		FetchTimeout:           10 * time.Second,
		HistoryWindow:          64,
	}
}

// Load builds a configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv loads a .env file when present, then calls Load with the
// CONFIG_PATH environment variable.
func LoadFromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Load(os.Getenv("CONFIG_PATH"))
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		c.Port = v
	}
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.DatabaseURL = v
	}
	if v, ok := lookup("REDIS_URL"); ok && v != "" {
		c.RedisURL = v
	}
	if v, ok := lookup("HYPERLIQUID_URL"); ok && v != "" {
		c.HyperliquidURL = v
	}
	if v, ok := lookup("USE_FIXTURES"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: USE_FIXTURES: %v", ErrInvalid, err)
		}
		c.UseFixtures = b
	}
	if v, ok := lookup("SYMBOLS"); ok && v != "" {
		c.Symbols = ParseSymbols(v)
	}
	if v, ok := lookup("SHOCKS"); ok && v != "" {
		shocks, err := ParseShocks(v)
		if err != nil {
			return fmt.Errorf("%w: SHOCKS: %v", ErrInvalid, err)
		}
		c.ShockLevels = shocks
	}
	if v, ok := lookup("FOCUS_SHOCK"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: FOCUS_SHOCK: %v", ErrInvalid, err)
		}
		c.FocusShock = f
	}
	if v, ok := lookup("REFRESH_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: REFRESH_INTERVAL: %v", ErrInvalid, err)
		}
		c.RefreshInterval = d
	}
	if v, ok := lookup("MAX_TROVES_PER_COLLATERAL"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: MAX_TROVES_PER_COLLATERAL: %v", ErrInvalid, err)
		}
		c.MaxTrovesPerCollateral = n
	}
	return nil
}

// Validate rejects configurations the service cannot run with. Any finite
// shock is accepted, including positive ones.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("%w: at least one symbol is required", ErrInvalid)
	}
	for _, s := range append([]float64{c.FocusShock}, c.ShockLevels...) {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return fmt.Errorf("%w: shock %v is not finite", ErrInvalid, s)
		}
	}
	for sym, d := range c.DepthOverrides {
		if d < 0 || math.IsNaN(d) {
			return fmt.Errorf("%w: depth override for %s must be non-negative", ErrInvalid, sym)
		}
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("%w: refresh_interval must be positive", ErrInvalid)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("%w: fetch_timeout must be positive", ErrInvalid)
	}
	if c.MaxTrovesPerCollateral < 0 {
		return fmt.Errorf("%w: max_troves_per_collateral must not be negative", ErrInvalid)
	}
	if c.HyperliquidRPS <= 0 {
		return fmt.Errorf("%w: hyperliquid_rps must be positive", ErrInvalid)
	}
	return nil
}

// ParseSymbols splits a comma-separated list, upper-casing and dropping blanks.
func ParseSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if sym := strings.ToUpper(strings.TrimSpace(part)); sym != "" {
			out = append(out, sym)
		}
	}
	return out
}

// ParseShocks parses a comma-separated list of fractional shocks such as
// "-0.05,-0.1,-0.2".
func ParseShocks(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid shock %q", part)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("shock %q is not finite", part)
		}
		out = append(out, f)
	}
	return out, nil
}
