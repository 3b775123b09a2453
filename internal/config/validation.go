package config

import (
	"fmt"
	"strings"
)

func validate(cfg *Config) error {
	seen := make(map[string]bool)
	for i := range cfg.Watchlist {
		entry := &cfg.Watchlist[i]
		if entry.Symbol == "" {
			return fmt.Errorf("watchlist[%d]: symbol is required", i)
		}
		if seen[entry.Symbol] {
			return fmt.Errorf("watchlist: duplicate symbol %s", entry.Symbol)
		}
		seen[entry.Symbol] = true
		if entry.MinIntervalSec < 0 {
			return fmt.Errorf("watchlist[%s]: min_interval_sec cannot be negative", entry.Symbol)
		}
		if entry.MinPriceChangePct < 0 {
			return fmt.Errorf("watchlist[%s]: min_price_change_pct cannot be negative", entry.Symbol)
		}
		if entry.SLPercentage != nil && (*entry.SLPercentage <= 0 || *entry.SLPercentage >= 100) {
			return fmt.Errorf("watchlist[%s]: sl_percentage must be in (0, 100)", entry.Symbol)
		}
		if entry.TPPercentage != nil && (*entry.TPPercentage <= 0 || *entry.TPPercentage >= 100) {
			return fmt.Errorf("watchlist[%s]: tp_percentage must be in (0, 100)", entry.Symbol)
		}
	}
	for _, lev := range cfg.Engine.LeverageLadder {
		if lev < 1 || lev > 125 {
			return fmt.Errorf("engine: leverage_ladder entry %d out of range", lev)
		}
	}
	if level := strings.ToLower(cfg.App.LogLevel); level != "debug" && level != "info" && level != "warn" && level != "error" {
		return fmt.Errorf("app: unknown log_level %q", cfg.App.LogLevel)
	}
	return nil
}
