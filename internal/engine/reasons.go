package engine

// Reason codes recorded on terminal intents. Guard reasons are business
// outcomes, not errors; the audit layer treats an empty reason on a terminal
// intent as a bug.
const (
	ReasonDuplicateSignal     = "DUPLICATE_SIGNAL"
	ReasonOrderCreationLock   = "ORDER_CREATION_LOCK"
	ReasonTradingDisabled     = "TRADING_DISABLED"
	ReasonMaxOpenOrders       = "MAX_OPEN_ORDERS"
	ReasonOrderCooldown       = "ORDER_COOLDOWN"
	ReasonIndicatorsMissing   = "INDICATORS_MISSING"
	ReasonPositionValueCap    = "POSITION_VALUE_CAP"
	ReasonInsufficientBalance = "INSUFFICIENT_BALANCE"
	ReasonOrderPlaced         = "ORDER_PLACED"
	ReasonExchangeRejected    = "EXCHANGE_REJECTED"
	ReasonRetryExhausted      = "RETRY_EXHAUSTED"
	ReasonQuantizeFailed      = "QUANTIZE_FAILED"
)
