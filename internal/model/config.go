package model

import (
	"runtime"
	"time"
)

// Verification and scoring defaults. Deviation tolerance and confidence
// penalties are separate knobs even where the numbers coincide.
const (
	DefaultTolerancePct = 5.0 // Max relative deviation (percent) still judged correct
	DefaultWeightFloor  = 0.5 // Confidence weight at and beyond the tolerance boundary

	DefaultUnresolvedPenalty  = 10 // Points per claim that could not be verified
	DefaultDiscrepancyPenalty = 20 // Points per claim outside tolerance
	DefaultNoSourcePenalty    = 5  // Points when the response cites no source
	DefaultStalePenalty       = 10 // Points when the data is older than StaleAfterDays
	DefaultStaleAfterDays     = 365
)

// Config holds all finverify settings
type Config struct {
	Store   StoreConfig         `yaml:"store" mapstructure:"store"`
	Catalog CatalogConfig       `yaml:"catalog" mapstructure:"catalog"`
	Aliases map[string][]string `yaml:"aliases" mapstructure:"aliases"` // Entity id -> names and tickers
	Verify  VerifyConfig        `yaml:"verify" mapstructure:"verify"`
	Score   ScoreConfig         `yaml:"score" mapstructure:"score"`
	Cache   CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Refresh RefreshConfig       `yaml:"refresh" mapstructure:"refresh"`
	Log     LogConfig           `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects the canonical store backend
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn" mapstructure:"dsn"`       // File path for sqlite, URL for postgres
}

// CatalogConfig points at an optional metric catalog override
type CatalogConfig struct {
	Path string `yaml:"path" mapstructure:"path"` // Empty uses the embedded catalog
}

// VerifyConfig tunes claim verification
type VerifyConfig struct {
	TolerancePct float64 `yaml:"tolerance_pct" mapstructure:"tolerance_pct"`
	WeightFloor  float64 `yaml:"weight_floor" mapstructure:"weight_floor"`
}

// ScoreConfig holds confidence penalties in percentage points
type ScoreConfig struct {
	UnresolvedPenalty  int `yaml:"unresolved_penalty" mapstructure:"unresolved_penalty"`
	DiscrepancyPenalty int `yaml:"discrepancy_penalty" mapstructure:"discrepancy_penalty"`
	NoSourcePenalty    int `yaml:"no_source_penalty" mapstructure:"no_source_penalty"`
	StalePenalty       int `yaml:"stale_penalty" mapstructure:"stale_penalty"`
	StaleAfterDays     int `yaml:"stale_after_days" mapstructure:"stale_after_days"`
}

// CacheConfig configures the snapshot lookup cache
type CacheConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	TTL             time.Duration `yaml:"ttl" mapstructure:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
}

// RefreshConfig configures metric derivation runs
type RefreshConfig struct {
	Workers     int           `yaml:"workers" mapstructure:"workers"`
	MinInterval time.Duration `yaml:"min_interval" mapstructure:"min_interval"` // Per-entity throttle for non-forced refreshes
}

// LogConfig configures slog output
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // text or json
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "finverify.db",
		},
		Aliases: map[string][]string{
			"AAPL":  {"Apple", "Apple Inc"},
			"MSFT":  {"Microsoft"},
			"GOOGL": {"Alphabet", "Google", "GOOG"},
			"AMZN":  {"Amazon"},
			"NVDA":  {"Nvidia"},
			"META":  {"Meta", "Meta Platforms", "Facebook"},
			"TSLA":  {"Tesla"},
		},
		Verify: VerifyConfig{
			TolerancePct: DefaultTolerancePct,
			WeightFloor:  DefaultWeightFloor,
		},
		Score: ScoreConfig{
			UnresolvedPenalty:  DefaultUnresolvedPenalty,
			DiscrepancyPenalty: DefaultDiscrepancyPenalty,
			NoSourcePenalty:    DefaultNoSourcePenalty,
			StalePenalty:       DefaultStalePenalty,
			StaleAfterDays:     DefaultStaleAfterDays,
		},
		Cache: CacheConfig{
			Enabled:         true,
			TTL:             5 * time.Minute,
			CleanupInterval: 10 * time.Minute,
		},
		Refresh: RefreshConfig{
			Workers: runtime.NumCPU(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
