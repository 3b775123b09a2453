package model

import (
	"gorm.io/datatypes"
)

// IntentStatus is the terminal disposition of one order attempt.
type IntentStatus int

const (
	IntentStatusPending     IntentStatus = 0
	IntentStatusOrderPlaced IntentStatus = 1
	IntentStatusOrderFailed IntentStatus = 2
	IntentStatusDedupSkip   IntentStatus = 3
	IntentStatusBlocked     IntentStatus = 4
)

func (s IntentStatus) Terminal() bool { return s != IntentStatusPending }

func (s IntentStatus) String() string {
	switch s {
	case IntentStatusPending:
		return "PENDING"
	case IntentStatusOrderPlaced:
		return "ORDER_PLACED"
	case IntentStatusOrderFailed:
		return "ORDER_FAILED"
	case IntentStatusDedupSkip:
		return "DEDUP_SKIPPED"
	case IntentStatusBlocked:
		return "BLOCKED"
	default:
		return "UNKNOWN"
	}
}

// Decision types. Every terminal intent must carry one; an empty value on a
// terminal row is an integrity violation the audit layer counts.
const (
	DecisionExecuted = "EXECUTED"
	DecisionSkipped  = "SKIPPED"
	DecisionFailed   = "FAILED"
)

// OrderIntentModel is the idempotency ledger: one row per signal attempt that
// passed the throttle gate, whatever its outcome.
type OrderIntentModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	SignalID      string         `gorm:"column:signal_id;index"`
	CorrelationID string         `gorm:"column:correlation_id;index"`
	Symbol        string         `gorm:"column:symbol;index"`
	Side          string         `gorm:"column:side"`
	StrategyKey   string         `gorm:"column:strategy_key"`
	DedupKey      string         `gorm:"column:dedup_key;uniqueIndex"`
	Status        IntentStatus   `gorm:"column:status"`
	DecisionType  string         `gorm:"column:decision_type"`
	ReasonCode    string         `gorm:"column:reason_code"`
	ReasonMessage string         `gorm:"column:reason_message"`
	Context       datatypes.JSON `gorm:"column:context;type:TEXT"`
	OrderID       string         `gorm:"column:order_id"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (OrderIntentModel) TableName() string { return "order_intents" }

// ThrottleStateModel is the durable per-(symbol, side, strategy) gate state.
// Prices are stored as decimal strings so the delta computation never goes
// through a float column.
type ThrottleStateModel struct {
	ID               int64  `gorm:"column:id;primaryKey"`
	Symbol           string `gorm:"column:symbol;uniqueIndex:idx_throttle_key,priority:1"`
	Side             string `gorm:"column:side;uniqueIndex:idx_throttle_key,priority:2"`
	StrategyKey      string `gorm:"column:strategy_key;uniqueIndex:idx_throttle_key,priority:3"`
	LastAllowedUnix  *int64 `gorm:"column:last_allowed_at"`
	LastAllowedPrice string `gorm:"column:last_allowed_price"`
	ForceNext        bool   `gorm:"column:force_next"`
	UpdatedAtUnix    int64  `gorm:"column:updated_at"`
}

func (ThrottleStateModel) TableName() string { return "throttle_states" }

// OrderModel mirrors one exchange-side order. Quantity and price are the
// exact decimal strings that crossed the exchange boundary.
type OrderModel struct {
	ID            int64  `gorm:"column:id;primaryKey"`
	OrderID       string `gorm:"column:order_id;uniqueIndex"`
	IntentID      int64  `gorm:"column:intent_id;index"`
	Symbol        string `gorm:"column:symbol;index"`
	Side          string `gorm:"column:side"`
	Type          string `gorm:"column:type"`
	Quantity      string `gorm:"column:quantity"`
	Price         string `gorm:"column:price"`
	Status        string `gorm:"column:status"`
	ParentOrderID string `gorm:"column:parent_order_id;index"`
	CreatedAtUnix int64  `gorm:"column:created_at"`
	UpdatedAtUnix int64  `gorm:"column:updated_at"`
}

func (OrderModel) TableName() string { return "orders" }

// Bracket outcomes.
const (
	BracketBothCreated      = "BOTH_CREATED"
	BracketRolledBack       = "ROLLED_BACK"
	BracketFailedNoRollback = "FAILED_NO_ROLLBACK"
)

// BracketAttemptModel records one SL+TP creation pass for a filled parent.
type BracketAttemptModel struct {
	ID            int64  `gorm:"column:id;primaryKey"`
	ParentOrderID string `gorm:"column:parent_order_id;uniqueIndex"`
	SLOrderID     string `gorm:"column:sl_order_id"`
	TPOrderID     string `gorm:"column:tp_order_id"`
	Outcome       string `gorm:"column:outcome"`
	FailureReason string `gorm:"column:failure_reason"`
	CreatedAtUnix int64  `gorm:"column:created_at"`
}

func (BracketAttemptModel) TableName() string { return "bracket_attempts" }

// Notification kinds, used by the audit joins.
const (
	NotificationKindSignal   = "signal"
	NotificationKindFailure  = "failure"
	NotificationKindBracket  = "bracket"
	NotificationKindOperator = "operator"
)

// NotificationModel persists every user-facing send so the audit layer can
// detect failures that never produced one.
type NotificationModel struct {
	ID            int64  `gorm:"column:id;primaryKey"`
	Kind          string `gorm:"column:kind;index"`
	Severity      string `gorm:"column:severity"`
	Symbol        string `gorm:"column:symbol"`
	Text          string `gorm:"column:text"`
	CorrelationID string `gorm:"column:correlation_id;index"`
	Delivered     bool   `gorm:"column:delivered"`
	CreatedAtUnix int64  `gorm:"column:created_at"`
}

func (NotificationModel) TableName() string { return "notifications" }
