package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/adalundhe/linkrel/core/concept"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
	"github.com/adalundhe/linkrel/core/sr"
	"github.com/adalundhe/linkrel/core/storage"
	"github.com/adalundhe/linkrel/core/store/neo4jdb"
	"github.com/adalundhe/linkrel/core/store/sqlite"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LINKREL_"

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendNeo4j  = "neo4j"
)

// Manager holds the active configuration. Get is lock-free; Load builds a
// new Config and swaps it in atomically.
type Manager struct {
	config       atomic.Pointer[Config]
	dirs         *storage.Dirs
	projectRoot  string
	explicitPath string
	watchers     []func(*Config)
	watcherMu    sync.RWMutex
}

type Config struct {
	Store          StoreConfig            `yaml:"store"`
	Languages      []string               `yaml:"languages" validate:"min=1,dive,required"`
	Metrics        MetricsConfig          `yaml:"metrics"`
	Disambiguation DisambiguationConfig   `yaml:"disambiguation"`
	Search         SearchConfig           `yaml:"search"`
	Cache          CacheConfig            `yaml:"cache"`
	Retry          coreerrors.RetryPolicy `yaml:"retry"`
	Logging        LoggingConfig          `yaml:"logging"`
}

type StoreConfig struct {
	Backend string          `yaml:"backend" validate:"oneof=sqlite neo4j"`
	SQLite  sqlite.DBConfig `yaml:"sqlite"`
	Neo4j   neo4jdb.Config  `yaml:"neo4j"`

	// Preload copies a language's whole link graph into memory when the
	// engine starts.
	Preload bool `yaml:"preload"`
}

type MetricsConfig struct {
	Default string    `yaml:"default" validate:"required"`
	Specs   []sr.Spec `yaml:"specs" validate:"min=1,dive"`
}

type DisambiguationConfig struct {
	// Categories overrides the disambiguation category title per language.
	Categories map[string]string `yaml:"categories"`
	CacheSize  int               `yaml:"cache_size" validate:"gte=1"`
}

type SearchConfig struct {
	// Workers bounds scan parallelism; 0 means one per CPU.
	Workers      int `yaml:"workers" validate:"gte=0"`
	ResolveLimit int `yaml:"resolve_limit" validate:"gte=1,lte=50"`
	DefaultK     int `yaml:"default_k" validate:"gte=1"`

	// TitleIndexDir holds one bleve index per language. Empty means the
	// user cache directory; InMemory skips persistence entirely.
	TitleIndexDir string `yaml:"title_index_dir"`
	InMemory      bool   `yaml:"in_memory"`
	BatchSize     int    `yaml:"batch_size" validate:"gte=1"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	MaxCost int64         `yaml:"max_cost" validate:"gte=0"`
	TTL     time.Duration `yaml:"ttl" validate:"gte=0"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

func NewManager(dirs *storage.Dirs) *Manager {
	m := &Manager{dirs: dirs, projectRoot: "."}
	cfg := DefaultConfig()
	m.resolvePaths(cfg)
	m.config.Store(cfg)
	return m
}

// SetProjectRoot changes where .linkrel/ is looked up. The default is the
// working directory.
func (m *Manager) SetProjectRoot(root string) {
	m.projectRoot = root
}

// SetConfigPath adds an explicit configuration file, applied after every
// discovered file. Unlike discovered files it must exist.
func (m *Manager) SetConfigPath(path string) {
	m.explicitPath = path
}

func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: BackendSQLite,
			SQLite:  sqlite.DefaultDBConfig(""),
			Neo4j:   neo4jdb.DefaultConfig("bolt://localhost:7687"),
		},
		Languages: []string{"en"},
		Metrics: MetricsConfig{
			Default: "ensemble",
			Specs: []sr.Spec{
				{Name: "synrank", Type: "synrank"},
				{Name: "milnewitten", Type: "milnewitten"},
				{
					Name: "ensemble",
					Type: "ensemble",
					Members: []sr.MemberSpec{
						{Name: "synrank", Weight: 1},
						{Name: "milnewitten", Weight: 1},
					},
				},
			},
		},
		Disambiguation: DisambiguationConfig{
			CacheSize: 16,
		},
		Search: SearchConfig{
			ResolveLimit: 3,
			DefaultK:     10,
			BatchSize:    1000,
		},
		Cache: CacheConfig{
			Enabled: true,
			MaxCost: 1e7,
			TTL:     30 * time.Minute,
		},
		Retry: coreerrors.DefaultRetryPolicy(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func (m *Manager) Get() *Config {
	return m.config.Load()
}

// Load layers defaults, the project file, the user file, the local file, the
// explicit file and the environment, validates the result and swaps it in.
// On error the active configuration is left unchanged.
func (m *Manager) Load() error {
	cfg := DefaultConfig()

	projectDirs := storage.ResolveProjectDirs(m.projectRoot)
	if err := loadYAMLFile(projectDirs.Config, cfg, false); err != nil {
		return fmt.Errorf("project config: %w", err)
	}
	if err := loadYAMLFile(m.dirs.ConfigDir("config.yaml"), cfg, false); err != nil {
		return fmt.Errorf("user config: %w", err)
	}
	if err := loadYAMLFile(filepath.Join(projectDirs.Local, "config.yaml"), cfg, false); err != nil {
		return fmt.Errorf("local config: %w", err)
	}
	if m.explicitPath != "" {
		if err := loadYAMLFile(m.explicitPath, cfg, true); err != nil {
			return fmt.Errorf("config %s: %w", m.explicitPath, err)
		}
	}

	if err := applyEnvironment(cfg); err != nil {
		return err
	}
	m.resolvePaths(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.config.Store(cfg)
	m.notifyWatchers(cfg)
	return nil
}

// Apply merges non-zero fields of overrides into a copy of the active
// configuration, validates it and swaps it in.
func (m *Manager) Apply(overrides *Config) error {
	next := m.Get().Clone()
	DeepMerge(next, overrides)
	if err := next.Validate(); err != nil {
		return err
	}
	m.config.Store(next)
	m.notifyWatchers(next)
	return nil
}

func loadYAMLFile(path string, cfg *Config, required bool) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !required {
		return nil
	}
	if err != nil {
		return coreerrors.Configuration("read "+path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return coreerrors.Configuration("parse "+path, err)
	}
	return nil
}

func (m *Manager) resolvePaths(cfg *Config) {
	if m.dirs == nil {
		return
	}
	if cfg.Store.SQLite.Path == "" {
		cfg.Store.SQLite.Path = m.dirs.DatabasePath()
	}
	if cfg.Search.TitleIndexDir == "" {
		cfg.Search.TitleIndexDir = m.dirs.CacheDir("titles")
	}
}

// TitleIndexPath returns where the title index for lang lives, or "" for an
// in-memory index.
func (c *Config) TitleIndexPath(lang concept.Language) string {
	if c.Search.InMemory || c.Search.TitleIndexDir == "" {
		return ""
	}
	return filepath.Join(c.Search.TitleIndexDir, string(lang)+".bleve")
}

// =============================================================================
// Environment
// =============================================================================

type envBinding struct {
	name  string
	apply func(cfg *Config, v string) error
}

var envBindings = []envBinding{
	{"STORE_BACKEND", func(c *Config, v string) error { c.Store.Backend = strings.ToLower(v); return nil }},
	{"STORE_PRELOAD", func(c *Config, v string) error { return parseBool(v, &c.Store.Preload) }},
	{"SQLITE_PATH", func(c *Config, v string) error { c.Store.SQLite.Path = v; return nil }},
	{"SQLITE_DRIVER", func(c *Config, v string) error { c.Store.SQLite.Driver = v; return nil }},
	{"NEO4J_URI", func(c *Config, v string) error { c.Store.Neo4j.URI = v; return nil }},
	{"NEO4J_USERNAME", func(c *Config, v string) error { c.Store.Neo4j.Username = v; return nil }},
	{"NEO4J_PASSWORD", func(c *Config, v string) error { c.Store.Neo4j.Password = v; return nil }},
	{"NEO4J_DATABASE", func(c *Config, v string) error { c.Store.Neo4j.Database = v; return nil }},
	{"LANGUAGES", func(c *Config, v string) error { c.Languages = splitList(v); return nil }},
	{"METRIC", func(c *Config, v string) error { c.Metrics.Default = v; return nil }},
	{"WORKERS", func(c *Config, v string) error { return parseInt(v, &c.Search.Workers) }},
	{"TITLE_INDEX_DIR", func(c *Config, v string) error { c.Search.TitleIndexDir = v; return nil }},
	{"CACHE_ENABLED", func(c *Config, v string) error { return parseBool(v, &c.Cache.Enabled) }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = strings.ToLower(v); return nil }},
	{"LOG_FORMAT", func(c *Config, v string) error { c.Logging.Format = strings.ToLower(v); return nil }},
}

func applyEnvironment(cfg *Config) error {
	for _, b := range envBindings {
		v, ok := os.LookupEnv(EnvPrefix + b.name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := b.apply(cfg, strings.TrimSpace(v)); err != nil {
			return coreerrors.Configuration(fmt.Sprintf("environment %s%s", EnvPrefix, b.name), err)
		}
	}
	return nil
}

func parseInt(s string, dst *int) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func parseBool(s string, dst *bool) error {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// =============================================================================
// Validation
// =============================================================================

var validate = validator.New()

// Validate checks field constraints and cross references between metric
// specs. Every failure is a configuration error.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return coreerrors.Configuration("validate config", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, e := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s: rule %q (value: %v)", e.Namespace(), e.Tag(), e.Value()))
		}
		return coreerrors.Configuration("invalid config: "+strings.Join(msgs, "; "), nil)
	}

	for _, l := range c.Languages {
		if _, err := concept.ParseLanguage(l); err != nil {
			return coreerrors.Configuration("invalid config: languages", err)
		}
	}
	for l := range c.Disambiguation.Categories {
		if _, err := concept.ParseLanguage(l); err != nil {
			return coreerrors.Configuration("invalid config: disambiguation.categories", err)
		}
	}

	names := make(map[string]bool, len(c.Metrics.Specs))
	for _, s := range c.Metrics.Specs {
		names[strings.ToLower(s.Name)] = true
	}
	if !names[strings.ToLower(c.Metrics.Default)] {
		return coreerrors.Configuration(fmt.Sprintf("invalid config: default metric %q is not configured", c.Metrics.Default), nil)
	}
	for _, s := range c.Metrics.Specs {
		for _, member := range s.Members {
			if !names[strings.ToLower(member.Name)] {
				return coreerrors.Configuration(
					fmt.Sprintf("invalid config: metric %q references unknown member %q", s.Name, member.Name), nil)
			}
		}
	}

	switch c.Store.Backend {
	case BackendSQLite:
		return c.Store.SQLite.Validate()
	case BackendNeo4j:
		return c.Store.Neo4j.Validate()
	}
	return nil
}

// DisambiguationCategory returns the configured category for lang, or ""
// for the default.
func (c *Config) DisambiguationCategory(lang concept.Language) string {
	return c.Disambiguation.Categories[string(lang)]
}

// ParsedLanguages returns the configured languages, normalized.
func (c *Config) ParsedLanguages() []concept.Language {
	out := make([]concept.Language, 0, len(c.Languages))
	for _, l := range c.Languages {
		if lang, err := concept.ParseLanguage(l); err == nil {
			out = append(out, lang)
		}
	}
	return out
}

// Clone returns a deep copy of the mutable collections in c.
func (c *Config) Clone() *Config {
	out := *c
	out.Languages = append([]string(nil), c.Languages...)
	out.Metrics.Specs = make([]sr.Spec, len(c.Metrics.Specs))
	for i, s := range c.Metrics.Specs {
		s.Members = append([]sr.MemberSpec(nil), s.Members...)
		if s.Params != nil {
			params := make(map[string]float64, len(s.Params))
			for k, v := range s.Params {
				params[k] = v
			}
			s.Params = params
		}
		out.Metrics.Specs[i] = s
	}
	if c.Disambiguation.Categories != nil {
		out.Disambiguation.Categories = make(map[string]string, len(c.Disambiguation.Categories))
		for k, v := range c.Disambiguation.Categories {
			out.Disambiguation.Categories[k] = v
		}
	}
	return &out
}

func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watcherMu.RLock()
	watchers := m.watchers
	m.watcherMu.RUnlock()

	for _, fn := range watchers {
		fn(cfg)
	}
}

func (m *Manager) Reload() error {
	return m.Load()
}
