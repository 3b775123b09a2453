package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// watchlistSchema guards the shape of the watchlist section before it is
// decoded into structs, so a typo'd flag fails the load instead of silently
// defaulting to false.
const watchlistSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["symbol"],
		"properties": {
			"symbol": {"type": "string", "minLength": 1},
			"trade_enabled": {"type": "boolean"},
			"alert_enabled": {"type": "boolean"},
			"buy_alert_enabled": {"type": "boolean"},
			"sell_alert_enabled": {"type": "boolean"},
			"min_interval_sec": {"type": "integer", "minimum": 0},
			"min_price_change_pct": {"type": "number", "minimum": 0},
			"sl_percentage": {"type": "number"},
			"tp_percentage": {"type": "number"}
		},
		"additionalProperties": false
	}
}`

var compiledWatchlistSchema = mustCompileSchema(watchlistSchema)

func mustCompileSchema(raw string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("watchlist.json", strings.NewReader(raw)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("watchlist.json")
}

func validateWatchlistSchema(raw any) error {
	if raw == nil {
		return nil
	}
	// Round-trip through JSON to normalize viper's map types for the
	// validator.
	buf, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("watchlist: marshal for validation failed: %w", err)
	}
	var data any
	if err := json.Unmarshal(buf, &data); err != nil {
		return fmt.Errorf("watchlist: unmarshal for validation failed: %w", err)
	}
	if err := compiledWatchlistSchema.Validate(data); err != nil {
		return fmt.Errorf("watchlist schema validation failed: %w", err)
	}
	return nil
}
