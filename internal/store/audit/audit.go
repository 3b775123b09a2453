// Package audit computes the operational health counts over the primary
// database. All three counts are zero in a healthy system; any non-zero value
// is an integrity violation, not a business outcome.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// failureNotifyWindow is how long after an ORDER_FAILED intent a failure
// notification must appear before the pair counts as a violation.
const failureNotifyWindow = 120 * time.Second

// Store reads the sqlite file the gorm store writes, over its own read-only
// connection.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Summary is the audit surface for one time window.
type Summary struct {
	From                      int64 `json:"from"`
	To                        int64 `json:"to"`
	MissingIntent             int64 `json:"missing_intent"`
	NullDecisions             int64 `json:"null_decisions"`
	FailedWithoutNotification int64 `json:"failed_without_notification"`
}

// Healthy reports whether every count is zero.
func (s Summary) Healthy() bool {
	return s.MissingIntent == 0 && s.NullDecisions == 0 && s.FailedWithoutNotification == 0
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audit: database path cannot be empty")
	}
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Window computes the three integrity counts for [from, to].
func (s *Store) Window(ctx context.Context, from, to time.Time) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := Summary{From: from.Unix(), To: to.Unix()}

	// Signal notifications whose correlation id never produced an intent.
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM notifications n
		WHERE n.kind = 'signal'
		  AND n.created_at BETWEEN ? AND ?
		  AND NOT EXISTS (
			SELECT 1 FROM order_intents i
			WHERE i.correlation_id = n.correlation_id
		  )`, summary.From, summary.To).Scan(&summary.MissingIntent)
	if err != nil {
		return summary, fmt.Errorf("audit: missing_intent query: %w", err)
	}

	// Terminal intents with empty decision fields. Status 0 is PENDING.
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM order_intents
		WHERE status != 0
		  AND created_at BETWEEN ? AND ?
		  AND (decision_type IS NULL OR decision_type = ''
		       OR reason_code IS NULL OR reason_code = '')`,
		summary.From, summary.To).Scan(&summary.NullDecisions)
	if err != nil {
		return summary, fmt.Errorf("audit: null_decisions query: %w", err)
	}

	// ORDER_FAILED intents (status 2) with no failure notification inside the
	// follow-up window.
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM order_intents i
		WHERE i.status = 2
		  AND i.created_at BETWEEN ? AND ?
		  AND NOT EXISTS (
			SELECT 1 FROM notifications n
			WHERE n.kind = 'failure'
			  AND n.correlation_id = i.correlation_id
			  AND n.created_at <= i.created_at + ?
		  )`, summary.From, summary.To, int64(failureNotifyWindow.Seconds())).
		Scan(&summary.FailedWithoutNotification)
	if err != nil {
		return summary, fmt.Errorf("audit: failed_without_notification query: %w", err)
	}

	return summary, nil
}
