// Package config loads treasurer configuration from defaults, an optional
// config file, and TREASURER_-prefixed environment variables, in that
// priority order.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/aniemerg/yieldtoken/internal/oracle"
	"github.com/aniemerg/yieldtoken/internal/ratio"
	"github.com/aniemerg/yieldtoken/internal/risk"
)

// Config is the full treasurer configuration. Ratio and limit values are
// decimal strings so they survive the trip through files and environment
// variables without float rounding.
type Config struct {
	ListenAddr  string        `mapstructure:"listen_addr"`
	DatabaseURL string        `mapstructure:"database_url"`
	RedisURL    string        `mapstructure:"redis_url"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`

	CollateralRatio    string `mapstructure:"collateral_ratio"`
	MinCollateralRatio string `mapstructure:"min_collateral_ratio"`
	LiquidationPenalty string `mapstructure:"liquidation_penalty"`

	Oracle OracleConfig `mapstructure:"oracle"`
	Limits LimitsConfig `mapstructure:"limits"`
}

// OracleConfig selects the price source wired at startup. An empty Type
// leaves the oracle unset until the one-time API call configures it.
type OracleConfig struct {
	Type  string `mapstructure:"type"` // "", "fixed", or "feed"
	Price string `mapstructure:"price"`
	URL   string `mapstructure:"url"`
}

// LimitsConfig holds optional issuance caps. Zero means unlimited.
type LimitsConfig struct {
	MaxDebtPerRepo    string `mapstructure:"max_debt_per_repo"`
	MaxDebtPerAccount string `mapstructure:"max_debt_per_account"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("cache_ttl", 30*time.Second)

	// Original deployment constants: 1.5x to issue, 1.05x to stay safe,
	// 1.05x liquidator reward.
	v.SetDefault("collateral_ratio", "1.5")
	v.SetDefault("min_collateral_ratio", "1.05")
	v.SetDefault("liquidation_penalty", "1.05")

	v.SetDefault("oracle.type", "")
	v.SetDefault("oracle.price", "")
	v.SetDefault("oracle.url", "")

	v.SetDefault("limits.max_debt_per_repo", "0")
	v.SetDefault("limits.max_debt_per_account", "0")
}

// Load reads configuration in priority order: defaults, then the config
// file at path (if given), then TREASURER_ environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("TREASURER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Validate eagerly so a bad deployment fails at startup, not on the
	// first operation.
	if _, err := cfg.Params(); err != nil {
		return nil, err
	}
	if _, err := cfg.Limiter(); err != nil {
		return nil, err
	}
	if _, err := cfg.BuildOracle(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Params parses the configured collateralization parameters.
func (c *Config) Params() (ratio.Params, error) {
	cr, err := decimal.NewFromString(c.CollateralRatio)
	if err != nil {
		return ratio.Params{}, fmt.Errorf("collateral_ratio: %w", err)
	}
	mcr, err := decimal.NewFromString(c.MinCollateralRatio)
	if err != nil {
		return ratio.Params{}, fmt.Errorf("min_collateral_ratio: %w", err)
	}
	penalty, err := decimal.NewFromString(c.LiquidationPenalty)
	if err != nil {
		return ratio.Params{}, fmt.Errorf("liquidation_penalty: %w", err)
	}
	return ratio.NewParams(cr, mcr, penalty)
}

// Limiter builds the configured position limiter, or nil when both caps are
// zero.
func (c *Config) Limiter() (*risk.PositionLimiter, error) {
	perRepo, err := decimal.NewFromString(c.Limits.MaxDebtPerRepo)
	if err != nil {
		return nil, fmt.Errorf("limits.max_debt_per_repo: %w", err)
	}
	perAccount, err := decimal.NewFromString(c.Limits.MaxDebtPerAccount)
	if err != nil {
		return nil, fmt.Errorf("limits.max_debt_per_account: %w", err)
	}
	if perRepo.IsNegative() || perAccount.IsNegative() {
		return nil, fmt.Errorf("limits: caps must not be negative")
	}
	if perRepo.IsZero() && perAccount.IsZero() {
		return nil, nil
	}
	return risk.NewPositionLimiter(perRepo, perAccount), nil
}

// BuildOracle constructs the configured price source, or nil when the
// oracle is left to the one-time API call.
func (c *Config) BuildOracle() (oracle.Oracle, error) {
	switch c.Oracle.Type {
	case "":
		return nil, nil
	case "fixed":
		price, err := decimal.NewFromString(c.Oracle.Price)
		if err != nil {
			return nil, fmt.Errorf("oracle.price: %w", err)
		}
		fixed, err := oracle.NewFixed(price)
		if err != nil {
			return nil, err
		}
		return fixed, nil
	case "feed":
		if c.Oracle.URL == "" {
			return nil, fmt.Errorf("oracle.url is required for feed oracles")
		}
		return oracle.NewHTTPFeed(c.Oracle.URL), nil
	default:
		return nil, fmt.Errorf("oracle.type must be fixed or feed, got %q", c.Oracle.Type)
	}
}
