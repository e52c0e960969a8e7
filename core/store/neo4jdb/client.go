// Package neo4jdb is the reference page and link store backed by Neo4j.
//
// Pages are (:Page {lang, id, title, ns, redirect, disambig}) nodes, links
// are [:LINKS_TO] relationships and category membership is
// (member)-[:IN_CATEGORY]->(category). Every read runs in its own read
// transaction.
package neo4jdb

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	coreerrors "github.com/adalundhe/linkrel/core/errors"
)

// Config configures the driver.
type Config struct {
	URI            string        `yaml:"uri"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Database       string        `yaml:"database"`
	MaxPoolSize    int           `yaml:"max_pool_size"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

const (
	DefaultUsername       = "neo4j"
	DefaultMaxPoolSize    = 50
	DefaultConnectTimeout = 10 * time.Second
)

var schemes = []string{"neo4j", "neo4j+s", "neo4j+ssc", "bolt", "bolt+s", "bolt+ssc"}

// DefaultConfig returns a configuration for uri with the default pool.
func DefaultConfig(uri string) Config {
	return Config{
		URI:            uri,
		Username:       DefaultUsername,
		MaxPoolSize:    DefaultMaxPoolSize,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

// Validate checks the configuration values and returns an error if invalid.
func (c Config) Validate() error {
	if strings.TrimSpace(c.URI) == "" {
		return coreerrors.Configuration("neo4j: uri is required", nil)
	}
	u, err := url.Parse(c.URI)
	if err != nil {
		return coreerrors.Configuration("neo4j: invalid uri", err)
	}
	known := false
	for _, s := range schemes {
		if u.Scheme == s {
			known = true
			break
		}
	}
	if !known {
		return coreerrors.Configuration(fmt.Sprintf("neo4j: unsupported uri scheme %q", u.Scheme), nil)
	}
	if c.MaxPoolSize < 1 {
		return coreerrors.Configuration(fmt.Sprintf("neo4j: max_pool_size must be positive, got %d", c.MaxPoolSize), nil)
	}
	if c.ConnectTimeout <= 0 {
		return coreerrors.Configuration("neo4j: connect_timeout must be positive", nil)
	}
	return nil
}

// Options carries the non-connection dependencies of a Store.
type Options struct {
	Retry  *coreerrors.RetryExecutor
	Logger *slog.Logger
}

// Store implements graph.Store over a Neo4j database. It is safe for
// concurrent use.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	retry    *coreerrors.RetryExecutor
	logger   *slog.Logger
	mu       sync.RWMutex
}

// Open validates config, connects and verifies connectivity.
func Open(ctx context.Context, config Config, opts Options) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	username := config.Username
	if username == "" {
		username = DefaultUsername
	}

	auth := neo4j.BasicAuth(username, config.Password, "")
	driver, err := neo4j.NewDriverWithContext(config.URI, auth, func(cfg *neo4j.Config) {
		cfg.MaxConnectionPoolSize = config.MaxPoolSize
		cfg.SocketConnectTimeout = config.ConnectTimeout
	})
	if err != nil {
		return nil, coreerrors.Configuration("neo4j: init driver", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, coreerrors.WrapWithTier(coreerrors.TierExternalDegrading, "neo4j: verify connectivity", err)
	}

	s := NewStore(driver, config.Database, opts)
	s.logger.Debug("neo4j store opened",
		slog.String("uri", config.URI),
		slog.String("database", config.Database))
	return s, nil
}

// NewStore wraps an existing driver. The store takes ownership of it.
func NewStore(driver neo4j.DriverWithContext, database string, opts Options) *Store {
	s := &Store{
		driver:   driver,
		database: database,
		retry:    opts.Retry,
		logger:   opts.Logger,
	}
	if s.retry == nil {
		s.retry = coreerrors.NewRetryExecutor(coreerrors.DefaultRetryPolicy(), nil)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.driver == nil {
		return nil
	}
	err := s.driver.Close(context.Background())
	s.driver = nil
	return err
}

// EnsureSchema creates the page key constraint and the title index. Failures
// are logged and ignored, since restricted users may not manage schema.
func (s *Store) EnsureSchema(ctx context.Context) error {
	driver, err := s.conn()
	if err != nil {
		return err
	}
	session := driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	for _, stmt := range []string{
		`CREATE CONSTRAINT page_key IF NOT EXISTS FOR (p:Page) REQUIRE (p.lang, p.id) IS UNIQUE`,
		`CREATE INDEX page_title_idx IF NOT EXISTS FOR (p:Page) ON (p.lang, p.ns, p.title)`,
	} {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			s.logger.Warn("neo4j schema init failed (continuing)", slog.String("error", err.Error()))
			continue
		}
		_, _ = res.Consume(ctx)
	}
	return nil
}

func (s *Store) conn() (neo4j.DriverWithContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.driver == nil {
		return nil, coreerrors.WrapWithTier(coreerrors.TierPermanent, "neo4j store", fmt.Errorf("store is closed"))
	}
	return s.driver, nil
}

// read runs work in a read transaction with retries on transient errors.
func (s *Store) read(ctx context.Context, op string, work func(tx neo4j.ManagedTransaction) error) error {
	return s.execute(ctx, op, neo4j.AccessModeRead, work)
}

func (s *Store) write(ctx context.Context, op string, work func(tx neo4j.ManagedTransaction) error) error {
	return s.execute(ctx, op, neo4j.AccessModeWrite, work)
}

func (s *Store) execute(ctx context.Context, op string, mode neo4j.AccessMode, work func(tx neo4j.ManagedTransaction) error) error {
	driver, err := s.conn()
	if err != nil {
		return err
	}
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
	defer session.Close(ctx)

	txWork := func(tx neo4j.ManagedTransaction) (any, error) { return nil, work(tx) }
	err = s.retry.Execute(ctx, func() error {
		var err error
		if mode == neo4j.AccessModeRead {
			_, err = session.ExecuteRead(ctx, txWork)
		} else {
			_, err = session.ExecuteWrite(ctx, txWork)
		}
		return classify(err)
	})
	if err == nil || coreerrors.IsNotFound(err) || coreerrors.IsInvalidInput(err) {
		return err
	}
	return s.retry.Classifier().Wrap("neo4j: "+op, err)
}

// classify marks driver errors the driver itself considers retryable as
// transient so the retry executor picks them up.
func classify(err error) error {
	if err == nil || coreerrors.GetKind(err) != coreerrors.KindNone {
		return err
	}
	if neo4j.IsRetryable(err) {
		return coreerrors.WrapWithTier(coreerrors.TierTransient, "neo4j transaction", err)
	}
	return err
}
