// Package config centralizes environment configuration for the service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/syakrisajalah/emasku/internal/metrics"
)

// Config is everything tunable from the environment.
type Config struct {
	Addr      string // listen address
	PGDSN     string // PostgreSQL repository; empty selects the fallback store
	StateFile string // local fallback blob; empty selects the in-memory store

	StartingCash decimal.Decimal // balance of a freshly created ledger

	FeeTierThreshold decimal.Decimal
	FeeFlat          decimal.Decimal
	FeeRate          decimal.Decimal

	RecommendationPct decimal.Decimal // signal threshold in percent

	RateBurst  int
	RatePerSec int

	DemoSeed bool // install the starter fixture in the in-memory store
}

// Load reads EMASKU_* environment variables, falling back to the defaults of
// the original application.
func Load() (Config, error) {
	cfg := Config{
		Addr:      envOr("EMASKU_ADDR", ":8080"),
		PGDSN:     os.Getenv("EMASKU_PG_DSN"),
		StateFile: os.Getenv("EMASKU_STATE_FILE"),
	}

	var err error
	if cfg.StartingCash, err = envDecimal("EMASKU_STARTING_CASH", "950000"); err != nil {
		return Config{}, err
	}
	if cfg.FeeTierThreshold, err = envDecimal("EMASKU_FEE_TIER_THRESHOLD", "1000000"); err != nil {
		return Config{}, err
	}
	if cfg.FeeFlat, err = envDecimal("EMASKU_FEE_FLAT", "5000"); err != nil {
		return Config{}, err
	}
	if cfg.FeeRate, err = envDecimal("EMASKU_FEE_RATE", "0.001"); err != nil {
		return Config{}, err
	}
	if cfg.RecommendationPct, err = envDecimal("EMASKU_RECOMMENDATION_PCT", "5"); err != nil {
		return Config{}, err
	}
	if cfg.RateBurst, err = envInt("EMASKU_RATE_BURST", 20); err != nil {
		return Config{}, err
	}
	if cfg.RatePerSec, err = envInt("EMASKU_RATE_PER_SEC", 10); err != nil {
		return Config{}, err
	}
	cfg.DemoSeed = envBool("EMASKU_DEMO_SEED")

	if cfg.StartingCash.IsNegative() {
		return Config{}, fmt.Errorf("EMASKU_STARTING_CASH must not be negative")
	}
	return cfg, nil
}

// FeeSchedule assembles the tiered fee configuration.
func (c Config) FeeSchedule() metrics.FeeSchedule {
	return metrics.FeeSchedule{
		Threshold: c.FeeTierThreshold,
		FlatFee:   c.FeeFlat,
		Rate:      c.FeeRate,
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envDecimal(key, def string) (decimal.Decimal, error) {
	raw := envOr(key, def)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q", key, raw)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, raw)
	}
	return v, nil
}

func envBool(key string) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes"
}
