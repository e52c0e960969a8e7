package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/adalundhe/linkrel/core/concept"
	"github.com/adalundhe/linkrel/core/config"
	"github.com/adalundhe/linkrel/core/engine"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
	"github.com/adalundhe/linkrel/core/graph"
	"github.com/adalundhe/linkrel/core/storage"
	"github.com/adalundhe/linkrel/core/store/dump"
	"github.com/adalundhe/linkrel/core/store/neo4jdb"
	"github.com/adalundhe/linkrel/core/store/sqlite"
)

// openStore opens the configured backend.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (graph.Store, error) {
	retry := coreerrors.NewRetryExecutor(cfg.Retry, nil)

	switch cfg.Store.Backend {
	case config.BackendNeo4j:
		s, err := neo4jdb.Open(ctx, cfg.Store.Neo4j, neo4jdb.Options{Retry: retry, Logger: logger})
		if err != nil {
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case config.BackendSQLite, "":
		if err := storage.EnsureParent(cfg.Store.SQLite.Path); err != nil {
			return nil, coreerrors.Configuration("create database directory", err)
		}
		s, err := sqlite.Open(cfg.Store.SQLite, sqlite.Options{Retry: retry, Logger: logger})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, coreerrors.Configuration(fmt.Sprintf("unknown store backend %q", cfg.Store.Backend), nil)
	}
}

// beginLoad starts a bulk load on backends that support one.
func beginLoad(ctx context.Context, store graph.Store, batchSize int) (dump.Loader, error) {
	switch s := store.(type) {
	case *sqlite.Store:
		return s.BeginLoad(ctx, batchSize)
	case *neo4jdb.Store:
		return s.BeginLoad(ctx, batchSize)
	default:
		return nil, coreerrors.Unsupported("store %T cannot bulk load", store)
	}
}

// engineOptions maps the configuration onto engine options.
func engineOptions(cfg *config.Config) engine.Options {
	opts := engine.Options{
		Languages:       cfg.ParsedLanguages(),
		Specs:           cfg.Metrics.Specs,
		DefaultMetric:   cfg.Metrics.Default,
		FilterCacheSize: cfg.Disambiguation.CacheSize,
		Workers:         cfg.Search.Workers,
		ResolveLimit:    cfg.Search.ResolveLimit,
		DefaultK:        cfg.Search.DefaultK,
		Preload:         cfg.Store.Preload,
		TitleIndexPath:  cfg.TitleIndexPath,
		TitleBatchSize:  cfg.Search.BatchSize,
	}
	if len(cfg.Disambiguation.Categories) > 0 {
		opts.Categories = make(map[concept.Language]string, len(cfg.Disambiguation.Categories))
		for _, lang := range opts.Languages {
			if category := cfg.DisambiguationCategory(lang); category != "" {
				opts.Categories[lang] = category
			}
		}
	}
	if cfg.Cache.Enabled {
		opts.Cache = &graph.CacheConfig{MaxCost: cfg.Cache.MaxCost, TTL: cfg.Cache.TTL}
	}
	return opts
}

// withEngine opens the store, builds an engine and runs fn. Both are closed
// when fn returns.
func withEngine(ctx context.Context, fn func(*engine.Engine) error) error {
	store, err := openStore(ctx, app.config, app.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := engineOptions(app.config)
	opts.Telemetry = app.telemetry
	opts.Logger = app.logger
	e, err := engine.New(ctx, store, opts)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(e)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
