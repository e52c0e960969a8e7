package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/adalundhe/linkrel/core/errors"
	"github.com/adalundhe/linkrel/core/sr"
	"github.com/adalundhe/linkrel/core/storage"
)

func testDirs(t *testing.T) *storage.Dirs {
	t.Helper()
	return &storage.Dirs{
		Config: t.TempDir(),
		Data:   t.TempDir(),
		Cache:  t.TempDir(),
		State:  t.TempDir(),
	}
}

func newTestManager(t *testing.T) (*Manager, *storage.Dirs, string) {
	t.Helper()
	dirs := testDirs(t)
	project := t.TempDir()
	m := NewManager(dirs)
	m.SetProjectRoot(project)
	return m, dirs, project
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "ensemble", cfg.Metrics.Default)
	assert.Equal(t, []string{"en"}, cfg.Languages)
	assert.Equal(t, 3, cfg.Search.ResolveLimit)
	require.Len(t, cfg.Metrics.Specs, 3)
	assert.Equal(t, []sr.MemberSpec{{Name: "synrank", Weight: 1}, {Name: "milnewitten", Weight: 1}},
		cfg.Metrics.Specs[2].Members)
}

func TestManagerGet(t *testing.T) {
	m, dirs, _ := newTestManager(t)

	cfg := m.Get()
	require.NotNil(t, cfg)
	assert.Equal(t, dirs.DatabasePath(), cfg.Store.SQLite.Path)
	assert.Equal(t, filepath.Join(dirs.Cache, "titles", "en.bleve"), cfg.TitleIndexPath("en"))
	require.NoError(t, cfg.Validate())
}

func TestManagerLoad_Layering(t *testing.T) {
	m, dirs, project := newTestManager(t)

	writeFile(t, filepath.Join(project, ".linkrel", "config.yaml"), `
languages: [en, de]
search:
  workers: 2
  resolve_limit: 5
`)
	writeFile(t, dirs.ConfigDir("config.yaml"), `
search:
  workers: 8
logging:
  level: debug
`)
	writeFile(t, filepath.Join(project, ".linkrel", "local", "config.yaml"), `
disambiguation:
  categories:
    de: "Kategorie:Begriffsklärung"
`)

	require.NoError(t, m.Load())
	cfg := m.Get()
	assert.Equal(t, []string{"en", "de"}, cfg.Languages)
	assert.Equal(t, 8, cfg.Search.Workers, "user file overrides project file")
	assert.Equal(t, 5, cfg.Search.ResolveLimit)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "Kategorie:Begriffsklärung", cfg.DisambiguationCategory("de"))
	assert.Empty(t, cfg.DisambiguationCategory("en"))
}

func TestManagerLoad_ExplicitFileAndEnvironment(t *testing.T) {
	m, _, project := newTestManager(t)

	explicit := filepath.Join(project, "custom.yaml")
	writeFile(t, explicit, `
store:
  backend: neo4j
  neo4j:
    uri: bolt://graph:7687
metrics:
  default: synrank
`)
	m.SetConfigPath(explicit)
	t.Setenv("LINKREL_LOG_FORMAT", "JSON")
	t.Setenv("LINKREL_LANGUAGES", "en, simple")
	t.Setenv("LINKREL_NEO4J_PASSWORD", "secret")

	require.NoError(t, m.Load())
	cfg := m.Get()
	assert.Equal(t, BackendNeo4j, cfg.Store.Backend)
	assert.Equal(t, "bolt://graph:7687", cfg.Store.Neo4j.URI)
	assert.Equal(t, "secret", cfg.Store.Neo4j.Password)
	assert.Equal(t, "synrank", cfg.Metrics.Default)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, []string{"en", "simple"}, cfg.Languages)
}

func TestManagerLoad_Errors(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		m, _, project := newTestManager(t)
		m.SetConfigPath(filepath.Join(project, "nope.yaml"))
		assert.True(t, coreerrors.IsConfiguration(m.Load()))
	})

	t.Run("bad environment value", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		t.Setenv("LINKREL_WORKERS", "many")
		assert.True(t, coreerrors.IsConfiguration(m.Load()))
	})

	t.Run("invalid file keeps previous config", func(t *testing.T) {
		m, dirs, _ := newTestManager(t)
		before := m.Get()
		writeFile(t, dirs.ConfigDir("config.yaml"), "logging:\n  level: loud\n")
		assert.True(t, coreerrors.IsConfiguration(m.Load()))
		assert.Same(t, before, m.Get())
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no languages", func(c *Config) { c.Languages = nil }},
		{"bad language", func(c *Config) { c.Languages = []string{"en1"} }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "postgres" }},
		{"unknown default metric", func(c *Config) { c.Metrics.Default = "cosine" }},
		{"unknown member", func(c *Config) {
			c.Metrics.Specs[2].Members = append(c.Metrics.Specs[2].Members, sr.MemberSpec{Name: "esa", Weight: 1})
		}},
		{"zero weight", func(c *Config) { c.Metrics.Specs[2].Members[0].Weight = 0 }},
		{"spec without type", func(c *Config) { c.Metrics.Specs[0].Type = "" }},
		{"resolve limit", func(c *Config) { c.Search.ResolveLimit = 0 }},
		{"sqlite without path", func(c *Config) { c.Store.SQLite.Path = "" }},
		{"neo4j without uri", func(c *Config) {
			c.Store.Backend = BackendNeo4j
			c.Store.Neo4j.URI = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Store.SQLite.Path = "/tmp/linkrel.db"
			tt.mutate(cfg)
			err := cfg.Validate()
			assert.True(t, coreerrors.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestManagerApplyAndOnChange(t *testing.T) {
	m, _, _ := newTestManager(t)

	var seen []*Config
	m.OnChange(func(c *Config) { seen = append(seen, c) })

	require.NoError(t, m.Apply(&Config{Logging: LoggingConfig{Level: "warn"}}))
	assert.Equal(t, "warn", m.Get().Logging.Level)
	require.Len(t, seen, 1)
	assert.Same(t, m.Get(), seen[0])

	err := m.Apply(&Config{Logging: LoggingConfig{Format: "xml"}})
	assert.True(t, coreerrors.IsConfiguration(err))
	assert.Equal(t, "text", m.Get().Logging.Format)
	assert.Len(t, seen, 1)
}

func TestConfig_CloneIsIndependent(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Metrics.Specs[2].Members[0].Weight = 5
	clone.Languages[0] = "de"

	assert.Equal(t, 1.0, cfg.Metrics.Specs[2].Members[0].Weight)
	assert.Equal(t, "en", cfg.Languages[0])
}

func TestConfig_TitleIndexPath(t *testing.T) {
	cfg := DefaultConfig()
	assert.Empty(t, cfg.TitleIndexPath("en"), "no directory resolved")

	cfg.Search.TitleIndexDir = "/idx"
	assert.Equal(t, filepath.Join("/idx", "de.bleve"), cfg.TitleIndexPath("de"))

	cfg.Search.InMemory = true
	assert.Empty(t, cfg.TitleIndexPath("de"))
}
