package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads the YAML config at path, applies defaults and environment
// overrides for secrets, and validates the result.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}

	cfg.applyDefaults()
	applyEnvOverrides(&cfg)

	if err := validateWatchlistSchema(v.Get("watchlist")); err != nil {
		return nil, err
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides pulls secrets from the environment. Environment always
// wins over the file so credentials never need to live in YAML.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		cfg.Exchange.APISecret = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.DatabasePath == "" {
		c.App.DatabasePath = "data/sentinel.db"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":8632"
	}
	if c.Engine.PollIntervalSec <= 0 {
		c.Engine.PollIntervalSec = 30
	}
	if c.Engine.EvalConcurrency <= 0 {
		c.Engine.EvalConcurrency = 4
	}
	if c.Engine.MaxOpenOrdersPerSymbol <= 0 {
		c.Engine.MaxOpenOrdersPerSymbol = 3
	}
	if c.Engine.OrderCooldownSec <= 0 {
		c.Engine.OrderCooldownSec = 300
	}
	if c.Engine.PositionValueMultiple <= 0 {
		c.Engine.PositionValueMultiple = 3
	}
	if c.Engine.TradeNotionalUSD <= 0 {
		c.Engine.TradeNotionalUSD = 100
	}
	if c.Engine.Leverage <= 0 {
		c.Engine.Leverage = 5
	}
	if len(c.Engine.LeverageLadder) == 0 {
		c.Engine.LeverageLadder = []int{5, 3, 1}
	}
	if c.Engine.CandleInterval == "" {
		c.Engine.CandleInterval = "5m"
	}
	if c.Engine.CandleLimit <= 0 {
		c.Engine.CandleLimit = 200
	}
	if c.Engine.FillPollAttempts <= 0 {
		c.Engine.FillPollAttempts = 10
	}
	if c.Engine.FillPollIntervalSec <= 0 {
		c.Engine.FillPollIntervalSec = 2
	}
	if c.Engine.RetryMaxAttempts <= 0 {
		c.Engine.RetryMaxAttempts = 3
	}
	if c.Defaults.SLPercentage <= 0 {
		c.Defaults.SLPercentage = 2.0
	}
	if c.Defaults.TPPercentage <= 0 {
		c.Defaults.TPPercentage = 4.0
	}
	if c.Defaults.RSIPeriod <= 0 {
		c.Defaults.RSIPeriod = 14
	}
	if c.Defaults.RSIBuyBelow <= 0 {
		c.Defaults.RSIBuyBelow = 30
	}
	if c.Defaults.RSISellAbove <= 0 {
		c.Defaults.RSISellAbove = 70
	}
	if c.Defaults.MAPeriod <= 0 {
		c.Defaults.MAPeriod = 50
	}
	if c.Defaults.VolumeLookback <= 0 {
		c.Defaults.VolumeLookback = 20
	}
	if c.Defaults.VolumeSpikeRatio <= 0 {
		c.Defaults.VolumeSpikeRatio = 1.5
	}
	for i := range c.Watchlist {
		c.Watchlist[i].Symbol = strings.ToUpper(strings.TrimSpace(c.Watchlist[i].Symbol))
	}
}
