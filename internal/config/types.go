package config

import "time"

// Config is the full application configuration, loaded from YAML with
// environment overrides for secrets.
type Config struct {
	App       AppConfig        `mapstructure:"app" yaml:"app"`
	Exchange  ExchangeConfig   `mapstructure:"exchange" yaml:"exchange"`
	Telegram  TelegramConfig   `mapstructure:"telegram" yaml:"telegram"`
	Engine    EngineConfig     `mapstructure:"engine" yaml:"engine"`
	Defaults  StrategyDefaults `mapstructure:"defaults" yaml:"defaults"`
	Watchlist []SymbolConfig   `mapstructure:"watchlist" yaml:"watchlist"`
}

type AppConfig struct {
	LogLevel     string `mapstructure:"log_level" yaml:"log_level"`
	LogPath      string `mapstructure:"log_path" yaml:"log_path"`
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	HTTPAddr     string `mapstructure:"http_addr" yaml:"http_addr"`
}

type ExchangeConfig struct {
	APIKey         string `mapstructure:"api_key" yaml:"api_key"`
	APISecret      string `mapstructure:"api_secret" yaml:"api_secret"`
	RESTBaseURL    string `mapstructure:"rest_base_url" yaml:"rest_base_url"`
	HTTPTimeoutSec int    `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	Testnet        bool   `mapstructure:"testnet" yaml:"testnet"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token" yaml:"bot_token"`
	ChatID   string `mapstructure:"chat_id" yaml:"chat_id"`
}

// EngineConfig tunes the evaluation loop, guards and retry budgets.
type EngineConfig struct {
	PollIntervalSec        int     `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
	EvalConcurrency        int     `mapstructure:"eval_concurrency" yaml:"eval_concurrency"`
	MaxOpenOrdersPerSymbol int     `mapstructure:"max_open_orders_per_symbol" yaml:"max_open_orders_per_symbol"`
	OrderCooldownSec       int     `mapstructure:"order_cooldown_sec" yaml:"order_cooldown_sec"`
	PositionValueMultiple  float64 `mapstructure:"position_value_multiple" yaml:"position_value_multiple"`
	TradeNotionalUSD       float64 `mapstructure:"trade_notional_usd" yaml:"trade_notional_usd"`
	Leverage               int     `mapstructure:"leverage" yaml:"leverage"`
	LeverageLadder         []int   `mapstructure:"leverage_ladder" yaml:"leverage_ladder"`
	CandleInterval         string  `mapstructure:"candle_interval" yaml:"candle_interval"`
	CandleLimit            int     `mapstructure:"candle_limit" yaml:"candle_limit"`
	FillPollAttempts       int     `mapstructure:"fill_poll_attempts" yaml:"fill_poll_attempts"`
	FillPollIntervalSec    int     `mapstructure:"fill_poll_interval_sec" yaml:"fill_poll_interval_sec"`
	RetryMaxAttempts       int     `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
}

func (e EngineConfig) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalSec) * time.Second
}

func (e EngineConfig) OrderCooldown() time.Duration {
	return time.Duration(e.OrderCooldownSec) * time.Second
}

func (e EngineConfig) FillPollInterval() time.Duration {
	return time.Duration(e.FillPollIntervalSec) * time.Second
}

// StrategyDefaults supplies per-symbol values the user has not set. A user
// value, once set, always wins over these.
type StrategyDefaults struct {
	SLPercentage     float64 `mapstructure:"sl_percentage" yaml:"sl_percentage"`
	TPPercentage     float64 `mapstructure:"tp_percentage" yaml:"tp_percentage"`
	RSIPeriod        int     `mapstructure:"rsi_period" yaml:"rsi_period"`
	RSIBuyBelow      float64 `mapstructure:"rsi_buy_below" yaml:"rsi_buy_below"`
	RSISellAbove     float64 `mapstructure:"rsi_sell_above" yaml:"rsi_sell_above"`
	MAPeriod         int     `mapstructure:"ma_period" yaml:"ma_period"`
	VolumeLookback   int     `mapstructure:"volume_lookback" yaml:"volume_lookback"`
	VolumeSpikeRatio float64 `mapstructure:"volume_spike_ratio" yaml:"volume_spike_ratio"`
}

// SymbolConfig is one watchlist entry. SLPercentage/TPPercentage are pointers
// so "not set" is distinguishable from an explicit zero and strategy defaults
// never overwrite a user value.
type SymbolConfig struct {
	Symbol            string   `mapstructure:"symbol" yaml:"symbol"`
	TradeEnabled      bool     `mapstructure:"trade_enabled" yaml:"trade_enabled"`
	AlertEnabled      bool     `mapstructure:"alert_enabled" yaml:"alert_enabled"`
	BuyAlertEnabled   bool     `mapstructure:"buy_alert_enabled" yaml:"buy_alert_enabled"`
	SellAlertEnabled  bool     `mapstructure:"sell_alert_enabled" yaml:"sell_alert_enabled"`
	MinIntervalSec    int      `mapstructure:"min_interval_sec" yaml:"min_interval_sec"`
	MinPriceChangePct float64  `mapstructure:"min_price_change_pct" yaml:"min_price_change_pct"`
	SLPercentage      *float64 `mapstructure:"sl_percentage" yaml:"sl_percentage"`
	TPPercentage      *float64 `mapstructure:"tp_percentage" yaml:"tp_percentage"`
}

func (s SymbolConfig) MinInterval() time.Duration {
	return time.Duration(s.MinIntervalSec) * time.Second
}

// EffectiveSL resolves the stop-loss percentage, falling back to the strategy
// default only when the user has not set one.
func (s SymbolConfig) EffectiveSL(defaults StrategyDefaults) float64 {
	if s.SLPercentage != nil {
		return *s.SLPercentage
	}
	return defaults.SLPercentage
}

func (s SymbolConfig) EffectiveTP(defaults StrategyDefaults) float64 {
	if s.TPPercentage != nil {
		return *s.TPPercentage
	}
	return defaults.TPPercentage
}

// FindSymbol returns the watchlist entry for symbol, or nil.
func (c *Config) FindSymbol(symbol string) *SymbolConfig {
	for i := range c.Watchlist {
		if c.Watchlist[i].Symbol == symbol {
			return &c.Watchlist[i]
		}
	}
	return nil
}
