package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"sentinel/internal/logger"
)

// ToggleChange records one enable/disable flag flip found by a reload diff.
// Side is "BUY"/"SELL" for the side-specific alert flags and empty for the
// symbol-wide ones; every change must trigger a throttle reset of that scope.
type ToggleChange struct {
	Symbol string
	Side   string
	Flag   string
}

// ChangeListener receives the new config and the toggle diff after a reload.
type ChangeListener func(cfg *Config, changes []ToggleChange)

// Registry holds the live configuration and reloads it when the file on disk
// changes.
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	current   *Config
	listeners []ChangeListener
}

// NewRegistry loads the initial config and starts watching the file.
func NewRegistry(path string) (*Registry, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	r := &Registry{path: path, current: cfg, v: viper.New()}
	r.v.SetConfigFile(path)
	r.v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("config reload failed (%s): %v", evt.Name, err)
		}
	})
	r.v.WatchConfig()
	return r, nil
}

// Current returns the live config snapshot.
func (r *Registry) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Subscribe registers a listener for reloads. Listeners run on the watcher
// goroutine; they must not block.
func (r *Registry) Subscribe(fn ChangeListener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// SetSymbolFlag flips one per-symbol toggle programmatically (HTTP surface)
// and fires the same listener path as a file reload.
func (r *Registry) SetSymbolFlag(symbol, flag string, value bool) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	r.mu.Lock()
	entry := r.current.FindSymbol(symbol)
	if entry == nil {
		r.mu.Unlock()
		return fmt.Errorf("config: symbol %s not in watchlist", symbol)
	}
	var change *ToggleChange
	switch flag {
	case "trade_enabled":
		if entry.TradeEnabled != value {
			entry.TradeEnabled = value
			change = &ToggleChange{Symbol: symbol, Flag: flag}
		}
	case "alert_enabled":
		if entry.AlertEnabled != value {
			entry.AlertEnabled = value
			change = &ToggleChange{Symbol: symbol, Flag: flag}
		}
	case "buy_alert_enabled":
		if entry.BuyAlertEnabled != value {
			entry.BuyAlertEnabled = value
			change = &ToggleChange{Symbol: symbol, Side: "BUY", Flag: flag}
		}
	case "sell_alert_enabled":
		if entry.SellAlertEnabled != value {
			entry.SellAlertEnabled = value
			change = &ToggleChange{Symbol: symbol, Side: "SELL", Flag: flag}
		}
	default:
		r.mu.Unlock()
		return fmt.Errorf("config: unknown flag %q", flag)
	}
	cfg := r.current
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.Unlock()

	if change != nil {
		notify(listeners, cfg, []ToggleChange{*change})
	}
	return nil
}

func (r *Registry) reload() error {
	next, err := Load(r.path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	prev := r.current
	r.current = next
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.Unlock()

	changes := DiffToggles(prev, next)
	logger.Infof("config reloaded: %d watchlist symbols, %d toggle changes", len(next.Watchlist), len(changes))
	notify(listeners, next, changes)
	return nil
}

func notify(listeners []ChangeListener, cfg *Config, changes []ToggleChange) {
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		fn(cfg, changes)
	}
}

// DiffToggles compares the enable/disable flags of two configs. A symbol
// appearing or disappearing counts as a flip of its symbol-wide scope.
func DiffToggles(prev, next *Config) []ToggleChange {
	var changes []ToggleChange
	if prev == nil || next == nil {
		return changes
	}
	prevBySymbol := make(map[string]*SymbolConfig, len(prev.Watchlist))
	for i := range prev.Watchlist {
		prevBySymbol[prev.Watchlist[i].Symbol] = &prev.Watchlist[i]
	}
	for i := range next.Watchlist {
		n := &next.Watchlist[i]
		p, ok := prevBySymbol[n.Symbol]
		if !ok {
			changes = append(changes, ToggleChange{Symbol: n.Symbol, Flag: "added"})
			continue
		}
		if p.TradeEnabled != n.TradeEnabled {
			changes = append(changes, ToggleChange{Symbol: n.Symbol, Flag: "trade_enabled"})
		}
		if p.AlertEnabled != n.AlertEnabled {
			changes = append(changes, ToggleChange{Symbol: n.Symbol, Flag: "alert_enabled"})
		}
		if p.BuyAlertEnabled != n.BuyAlertEnabled {
			changes = append(changes, ToggleChange{Symbol: n.Symbol, Side: "BUY", Flag: "buy_alert_enabled"})
		}
		if p.SellAlertEnabled != n.SellAlertEnabled {
			changes = append(changes, ToggleChange{Symbol: n.Symbol, Side: "SELL", Flag: "sell_alert_enabled"})
		}
		delete(prevBySymbol, n.Symbol)
	}
	for symbol := range prevBySymbol {
		changes = append(changes, ToggleChange{Symbol: symbol, Flag: "removed"})
	}
	return changes
}
