// Package config loads the runtime execution config from YAML and
// converts it into the duration-bearing, validated structs each component
// consumes. Adapted from configs/config.go's LoadConfig/ToXConfig() split:
// a flat YAML-tagged struct loaded once at startup, then converted into
// per-component config types (here: planner.SizingConfig and
// safety.Config) so yaml ints/seconds never leak past this package as raw
// numbers. The drift monitor's config is not produced here.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kaelstrom/tradecore/internal/planner"
	"github.com/kaelstrom/tradecore/internal/safety"
)

// ExchangeYAMLData is one venue's enablement entry under `exchanges`.
type ExchangeYAMLData struct {
	Enabled    bool   `yaml:"enabled"`
	ExecuteOn  string `yaml:"execute_on"`
}

// Config is the entire config.json/config.yml structure from spec.md §6.
type Config struct {
	UpdateIntervalMs  int                          `yaml:"update_interval_ms"`
	TopSymbolsCount   int                          `yaml:"top_symbols_count"`
	MinConfidence     map[string]float64           `yaml:"min_confidence"`
	MinTradesIn100ms  int                          `yaml:"min_trades_in_100ms"`
	VolumeWindowMs    int                          `yaml:"volume_window_ms"`

	ExtremeVelocityThreshold   float64 `yaml:"extreme_velocity_threshold"`
	ModerateVelocityThreshold  float64 `yaml:"moderate_velocity_threshold"`
	AggressiveLimitMarkup      float64 `yaml:"aggressive_limit_markup"`

	MaxLeverage        float64 `yaml:"max_leverage"`
	MaxPositionSizePct float64 `yaml:"max_position_size_pct"`
	StopLossPct        float64 `yaml:"stop_loss_pct"`
	TargetPct          float64 `yaml:"target_pct"`
	RiskPct            float64 `yaml:"risk_pct"`

	DailyDrawdownPct  float64 `yaml:"daily_drawdown_pct"`
	WeeklyDrawdownPct float64 `yaml:"weekly_drawdown_pct"`
	CircuitNLoss      int     `yaml:"circuit_n_loss"`
	CircuitCooldownMs int     `yaml:"circuit_cooldown_ms"`

	Exchanges map[string]ExchangeYAMLData `yaml:"exchanges"`
}

// LoadConfig reads and parses path into a Config, then validates the
// invariants spec.md §6 names explicitly (range bounds, at-least-one-venue).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the bounds and invariants spec.md §6 lists for
// runtime-adjustable options; ApplyParamUpdate reuses this on every
// signed PARAM_UPDATE, not just at startup.
func (c *Config) Validate() error {
	if c.UpdateIntervalMs != 0 && (c.UpdateIntervalMs < 10_000 || c.UpdateIntervalMs > 300_000) {
		return fmt.Errorf("config: update_interval_ms %d out of range [10000,300000]", c.UpdateIntervalMs)
	}
	if c.TopSymbolsCount != 0 && (c.TopSymbolsCount < 1 || c.TopSymbolsCount > 50) {
		return fmt.Errorf("config: top_symbols_count %d out of range [1,50]", c.TopSymbolsCount)
	}
	if c.MinTradesIn100ms != 0 && (c.MinTradesIn100ms < 1 || c.MinTradesIn100ms > 1000) {
		return fmt.Errorf("config: min_trades_in_100ms %d out of range [1,1000]", c.MinTradesIn100ms)
	}
	if c.VolumeWindowMs != 0 && (c.VolumeWindowMs < 10 || c.VolumeWindowMs > 1000) {
		return fmt.Errorf("config: volume_window_ms %d out of range [10,1000]", c.VolumeWindowMs)
	}
	if c.MaxLeverage != 0 && (c.MaxLeverage < 1 || c.MaxLeverage > 100) {
		return fmt.Errorf("config: max_leverage %v out of range [1,100]", c.MaxLeverage)
	}
	if c.MaxPositionSizePct != 0 && (c.MaxPositionSizePct < 0.1 || c.MaxPositionSizePct > 1.0) {
		return fmt.Errorf("config: max_position_size_pct %v out of range [0.1,1.0]", c.MaxPositionSizePct)
	}
	for symbol, conf := range c.MinConfidence {
		if conf < 0 || conf > 100 {
			return fmt.Errorf("config: min_confidence[%s] %v out of range [0,100]", symbol, conf)
		}
	}

	enabled := 0
	for _, ex := range c.Exchanges {
		if ex.Enabled {
			enabled++
		}
	}
	if len(c.Exchanges) > 0 && enabled == 0 {
		return fmt.Errorf("config: at least one execution venue must be enabled")
	}
	return nil
}

// ToSizingConfig converts the flat YAML options into planner.SizingConfig.
func (c *Config) ToSizingConfig() planner.SizingConfig {
	sc := planner.DefaultSizingConfig()
	if c.RiskPct != 0 {
		sc.RiskPct = c.RiskPct
	}
	if c.MaxPositionSizePct != 0 {
		sc.MaxPositionPct = c.MaxPositionSizePct
	}
	if c.ExtremeVelocityThreshold != 0 {
		sc.Velocity.HighVelocity = c.ExtremeVelocityThreshold
	}
	if c.ModerateVelocityThreshold != 0 {
		sc.Velocity.MediumVelocity = c.ModerateVelocityThreshold
	}
	return sc
}

// ToSafetyConfig converts the flat YAML options into safety.Config.
func (c *Config) ToSafetyConfig() safety.Config {
	sf := safety.DefaultConfig()
	if c.DailyDrawdownPct != 0 {
		sf.DailyDrawdownPct = c.DailyDrawdownPct
	}
	if c.WeeklyDrawdownPct != 0 {
		sf.WeeklyDrawdownPct = c.WeeklyDrawdownPct
	}
	if c.CircuitNLoss != 0 {
		sf.NLoss = c.CircuitNLoss
	}
	if c.CircuitCooldownMs != 0 {
		sf.CooldownDuration = time.Duration(c.CircuitCooldownMs) * time.Millisecond
	}
	return sf
}

// EnabledVenues returns the venue names with enabled=true. The order of the
// names is not defined (it follows map iteration).
func (c *Config) EnabledVenues() []string {
	var venues []string
	for name, ex := range c.Exchanges {
		if ex.Enabled {
			venues = append(venues, name)
		}
	}
	return venues
}

// ApplyParamUpdate merges a signed PARAM_UPDATE's decoded fields onto the
// running Config in place, re-validating before committing so a bad
// PARAM_UPDATE never partially applies.
func (c *Config) ApplyParamUpdate(patch Config) error {
	merged := *c
	mergeNonZero(&merged, patch)
	if err := merged.Validate(); err != nil {
		return fmt.Errorf("config: param update rejected: %w", err)
	}
	*c = merged
	return nil
}

func mergeNonZero(dst *Config, patch Config) {
	if patch.UpdateIntervalMs != 0 {
		dst.UpdateIntervalMs = patch.UpdateIntervalMs
	}
	if patch.TopSymbolsCount != 0 {
		dst.TopSymbolsCount = patch.TopSymbolsCount
	}
	if patch.MinConfidence != nil {
		dst.MinConfidence = patch.MinConfidence
	}
	if patch.MinTradesIn100ms != 0 {
		dst.MinTradesIn100ms = patch.MinTradesIn100ms
	}
	if patch.VolumeWindowMs != 0 {
		dst.VolumeWindowMs = patch.VolumeWindowMs
	}
	if patch.ExtremeVelocityThreshold != 0 {
		dst.ExtremeVelocityThreshold = patch.ExtremeVelocityThreshold
	}
	if patch.ModerateVelocityThreshold != 0 {
		dst.ModerateVelocityThreshold = patch.ModerateVelocityThreshold
	}
	if patch.AggressiveLimitMarkup != 0 {
		dst.AggressiveLimitMarkup = patch.AggressiveLimitMarkup
	}
	if patch.MaxLeverage != 0 {
		dst.MaxLeverage = patch.MaxLeverage
	}
	if patch.MaxPositionSizePct != 0 {
		dst.MaxPositionSizePct = patch.MaxPositionSizePct
	}
	if patch.StopLossPct != 0 {
		dst.StopLossPct = patch.StopLossPct
	}
	if patch.TargetPct != 0 {
		dst.TargetPct = patch.TargetPct
	}
	if patch.RiskPct != 0 {
		dst.RiskPct = patch.RiskPct
	}
	if patch.DailyDrawdownPct != 0 {
		dst.DailyDrawdownPct = patch.DailyDrawdownPct
	}
	if patch.WeeklyDrawdownPct != 0 {
		dst.WeeklyDrawdownPct = patch.WeeklyDrawdownPct
	}
	if patch.CircuitNLoss != 0 {
		dst.CircuitNLoss = patch.CircuitNLoss
	}
	if patch.CircuitCooldownMs != 0 {
		dst.CircuitCooldownMs = patch.CircuitCooldownMs
	}
	if patch.Exchanges != nil {
		dst.Exchanges = patch.Exchanges
	}
}
