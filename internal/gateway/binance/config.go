package binance

import (
	"strings"
	"time"
)

// Config holds the connection settings for the futures REST API.
type Config struct {
	APIKey      string
	APISecret   string
	RESTBaseURL string
	HTTPTimeout time.Duration
	Testnet     bool
}

const (
	mainnetBaseURL = "https://fapi.binance.com"
	testnetBaseURL = "https://testnet.binancefuture.com"
)

func (c Config) withDefaults() Config {
	final := c
	if strings.TrimSpace(final.RESTBaseURL) == "" {
		if final.Testnet {
			final.RESTBaseURL = testnetBaseURL
		} else {
			final.RESTBaseURL = mainnetBaseURL
		}
	}
	if final.HTTPTimeout <= 0 {
		final.HTTPTimeout = 15 * time.Second
	}
	return final
}
