package notifier

// Severity ranks a notification. Operator-level messages use a separate
// escalation path from normal trade notifications and must never be
// downgraded into one.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityOperator Severity = "operator"
)

// Notifier delivers one-way messages. Implementations must swallow their own
// transport failures: a lost notification is logged, never raised back into
// trading logic.
type Notifier interface {
	Send(severity Severity, symbol, text, correlationID string) error
}
