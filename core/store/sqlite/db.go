// Package sqlite is the reference page and link store backed by SQLite. It
// implements graph.Store and bulk loading of raw dumps.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	coreerrors "github.com/adalundhe/linkrel/core/errors"
)

//go:embed schema.sql
var schemaSQL string

// Registered database/sql driver names.
const (
	// DriverCGO is github.com/mattn/go-sqlite3.
	DriverCGO = "sqlite3"
	// DriverPure is modernc.org/sqlite, which needs no C toolchain.
	DriverPure = "sqlite"
)

// DBConfig configures the database connection pool.
//
// SQLite serializes writers, so MaxOpenConns mostly bounds concurrent
// readers. BusyTimeout is how long a connection waits on a locked database
// before the driver reports "database is locked".
type DBConfig struct {
	Path            string        `yaml:"path"`
	Driver          string        `yaml:"driver"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	BusyTimeout     time.Duration `yaml:"busy_timeout"`
}

// Connection pool configuration bounds.
const (
	MinOpenConns           = 1
	MaxOpenConnsLimit      = 200
	DefaultMaxOpenConns    = 16
	DefaultMaxIdleConns    = 8
	DefaultConnMaxLifetime = time.Hour
	DefaultConnMaxIdleTime = 30 * time.Minute
	DefaultBusyTimeout     = 5 * time.Second
)

// DefaultDBConfig returns a read-heavy configuration using the cgo driver.
func DefaultDBConfig(path string) DBConfig {
	return DBConfig{
		Path:            path,
		Driver:          DriverCGO,
		MaxOpenConns:    DefaultMaxOpenConns,
		MaxIdleConns:    DefaultMaxIdleConns,
		ConnMaxLifetime: DefaultConnMaxLifetime,
		ConnMaxIdleTime: DefaultConnMaxIdleTime,
		BusyTimeout:     DefaultBusyTimeout,
	}
}

// Validate checks the configuration values and returns an error if invalid.
func (c DBConfig) Validate() error {
	if c.Path == "" {
		return coreerrors.Configuration("sqlite: path is required", nil)
	}
	if c.Driver != DriverCGO && c.Driver != DriverPure {
		return coreerrors.Configuration(fmt.Sprintf("sqlite: unknown driver %q (want %q or %q)", c.Driver, DriverCGO, DriverPure), nil)
	}
	if c.MaxOpenConns < MinOpenConns || c.MaxOpenConns > MaxOpenConnsLimit {
		return coreerrors.Configuration(fmt.Sprintf("sqlite: MaxOpenConns must be between %d and %d, got %d",
			MinOpenConns, MaxOpenConnsLimit, c.MaxOpenConns), nil)
	}
	if c.MaxIdleConns < 0 || c.MaxIdleConns > c.MaxOpenConns {
		return coreerrors.Configuration(fmt.Sprintf("sqlite: MaxIdleConns (%d) must be between 0 and MaxOpenConns (%d)",
			c.MaxIdleConns, c.MaxOpenConns), nil)
	}
	return nil
}

func (c DBConfig) dsn() string {
	busy := c.BusyTimeout.Milliseconds()
	if c.Driver == DriverPure {
		return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(%d)", c.Path, busy)
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d", c.Path, busy)
}

// Store is safe for concurrent use.
type Store struct {
	db     *sql.DB
	path   string
	retry  *coreerrors.RetryExecutor
	logger *slog.Logger
	mu     sync.RWMutex
}

// Options carries the non-connection dependencies of a Store.
type Options struct {
	Retry  *coreerrors.RetryExecutor
	Logger *slog.Logger
}

// Open validates config, opens the database and applies the schema.
func Open(config DBConfig, opts Options) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(config.Driver, config.dsn())
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", config.Path, err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, coreerrors.NewErrorClassifier().Wrap("ping database at "+config.Path, err)
	}

	s := &Store{
		db:     db,
		path:   config.Path,
		retry:  opts.Retry,
		logger: opts.Logger,
	}
	if s.retry == nil {
		s.retry = coreerrors.NewRetryExecutor(coreerrors.DefaultRetryPolicy(), nil)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Debug("sqlite store opened",
		slog.String("path", config.Path),
		slog.String("driver", config.Driver))
	return s, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(schemaSQL); err != nil {
		return coreerrors.NewErrorClassifier().Wrap("apply schema to "+s.path, err)
	}
	return nil
}

// conn returns the open handle or an error when the store is closed.
func (s *Store) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, coreerrors.WrapWithTier(coreerrors.TierPermanent, "sqlite store", sql.ErrConnDone)
	}
	return s.db, nil
}

// read runs fn with retries on transient errors and classifies what is left.
func (s *Store) read(ctx context.Context, op string, fn func(db *sql.DB) error) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	err = s.retry.Execute(ctx, func() error { return fn(db) })
	if err == nil || coreerrors.IsNotFound(err) {
		return err
	}
	return s.retry.Classifier().Wrap(op, err)
}

// write is read for statements that modify rows.
func (s *Store) write(ctx context.Context, op string, fn func(db *sql.DB) error) error {
	return s.read(ctx, op, fn)
}

// Stats summarizes table sizes.
type Stats struct {
	Pages           int64 `json:"pages"`
	Articles        int64 `json:"articles"`
	Links           int64 `json:"links"`
	CategoryMembers int64 `json:"category_members"`
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := s.read(ctx, "collect store stats", func(db *sql.DB) error {
		counts := []struct {
			query string
			dest  *int64
		}{
			{"SELECT COUNT(*) FROM pages", &stats.Pages},
			{"SELECT COUNT(*) FROM pages WHERE ns = 0 AND redirect = 0 AND disambig = 0", &stats.Articles},
			{"SELECT COUNT(*) FROM links", &stats.Links},
			{"SELECT COUNT(*) FROM categories", &stats.CategoryMembers},
		}
		for _, c := range counts {
			if err := db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
