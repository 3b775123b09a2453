package gormstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"sentinel/internal/store/model"
)

// ErrDuplicateIntent is returned when an intent with the same dedup key
// already exists. It is the race backstop behind the orchestrator's explicit
// dedup lookup.
var ErrDuplicateIntent = errors.New("store: duplicate dedup key")

// Store is the primary persistence layer: intents, orders, throttle state,
// brackets and notification records, all in one SQLite file.
type Store struct {
	db   *gorm.DB
	path string
}

// Open initializes the database, creating the file and schema as needed.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: database path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.OrderIntentModel{},
		&model.ThrottleStateModel{},
		&model.OrderModel{},
		&model.BracketAttemptModel{},
		&model.NotificationModel{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: keep the writer pool tiny, concurrent reads go through
	// the audit store's own connection.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Path returns the database file path (shared with the audit store).
func (s *Store) Path() string { return s.path }

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func nowUnix() int64 { return time.Now().Unix() }
