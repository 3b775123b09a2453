package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleYAML = `
app:
  log_level: debug
engine:
  poll_interval_sec: 45
  leverage_ladder: [5, 3, 1]
defaults:
  sl_percentage: 2.5
watchlist:
  - symbol: btcusdt
    trade_enabled: true
    alert_enabled: true
    buy_alert_enabled: true
    min_interval_sec: 60
    min_price_change_pct: 1.0
    sl_percentage: 1.5
  - symbol: ETHUSDT
    alert_enabled: true
    sell_alert_enabled: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaultsAndNormalizesSymbols(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 45, cfg.Engine.PollIntervalSec)
	assert.Equal(t, 10, cfg.Engine.FillPollAttempts)
	assert.Equal(t, []int{5, 3, 1}, cfg.Engine.LeverageLadder)

	require.Len(t, cfg.Watchlist, 2)
	assert.Equal(t, "BTCUSDT", cfg.Watchlist[0].Symbol)

	btc := cfg.FindSymbol("BTCUSDT")
	require.NotNil(t, btc)
	assert.Equal(t, 1.5, btc.EffectiveSL(cfg.Defaults), "user value wins over default")

	eth := cfg.FindSymbol("ETHUSDT")
	require.NotNil(t, eth)
	assert.Equal(t, 2.5, eth.EffectiveSL(cfg.Defaults), "default used when unset")
}

func TestLoadRejectsUnknownWatchlistField(t *testing.T) {
	_, err := Load(writeConfig(t, `
watchlist:
  - symbol: BTCUSDT
    trade_enable: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
}

func TestLoadRejectsDuplicateSymbol(t *testing.T) {
	_, err := Load(writeConfig(t, `
watchlist:
  - symbol: BTCUSDT
  - symbol: btcusdt
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

// The config endpoint renders the effective config back as YAML, so the
// marshalled keys must match the file format. Without explicit yaml tags the
// encoder would lowercase the Go field names instead.
func TestConfigMarshalsWithFileKeys(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	buf, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	out := string(buf)

	assert.Contains(t, out, "poll_interval_sec: 45")
	assert.Contains(t, out, "sl_percentage: 2.5")
	assert.Contains(t, out, "trade_enabled: true")
	assert.Contains(t, out, "min_price_change_pct: 1")
	assert.NotContains(t, out, "pollintervalsec")
	assert.NotContains(t, out, "tradeenabled")

	var back Config
	require.NoError(t, yaml.Unmarshal(buf, &back))
	assert.Equal(t, cfg.Engine.PollIntervalSec, back.Engine.PollIntervalSec)
	assert.Equal(t, cfg.Watchlist[0].Symbol, back.Watchlist[0].Symbol)
}

func TestDiffToggles(t *testing.T) {
	prev, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	next, err := Load(writeConfig(t, `
watchlist:
  - symbol: BTCUSDT
    trade_enabled: false
    alert_enabled: true
    buy_alert_enabled: false
    min_interval_sec: 60
    min_price_change_pct: 1.0
    sl_percentage: 1.5
  - symbol: SOLUSDT
`))
	require.NoError(t, err)

	changes := DiffToggles(prev, next)

	flags := make(map[string]ToggleChange)
	for _, ch := range changes {
		flags[ch.Symbol+":"+ch.Flag] = ch
	}
	assert.Contains(t, flags, "BTCUSDT:trade_enabled")
	assert.Contains(t, flags, "BTCUSDT:buy_alert_enabled")
	assert.Equal(t, "BUY", flags["BTCUSDT:buy_alert_enabled"].Side)
	assert.Contains(t, flags, "SOLUSDT:added")
	assert.Contains(t, flags, "ETHUSDT:removed")
	assert.NotContains(t, flags, "BTCUSDT:alert_enabled")
}
