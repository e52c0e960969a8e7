package neo4jdb

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/linkrel/core/concept"
	"github.com/adalundhe/linkrel/core/disambig"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
	"github.com/adalundhe/linkrel/core/graph"
	"github.com/adalundhe/linkrel/core/store/dump"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"routing scheme", func(c *Config) { c.URI = "neo4j+s://db.example.com" }, false},
		{"missing uri", func(c *Config) { c.URI = " " }, true},
		{"http scheme", func(c *Config) { c.URI = "http://localhost:7474" }, true},
		{"empty pool", func(c *Config) { c.MaxPoolSize = 0 }, true},
		{"no timeout", func(c *Config) { c.ConnectTimeout = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig("bolt://localhost:7687")
			tt.mutate(&config)
			err := config.Validate()
			if tt.wantErr {
				assert.True(t, coreerrors.IsConfiguration(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPageFromRecord(t *testing.T) {
	rec := &neo4j.Record{
		Keys:   []string{"id", "title", "ns", "redirect", "disambig"},
		Values: []any{int64(14), "Disambiguation pages", int64(14), false, nil},
	}
	p, err := pageFromRecord(rec, "en")
	require.NoError(t, err)
	assert.Equal(t, concept.Page{
		Concept:   concept.New("en", 14),
		Title:     "Disambiguation pages",
		Namespace: concept.NamespaceCategory,
	}, p)

	bad := &neo4j.Record{Keys: []string{"id", "title", "ns"}, Values: []any{"14", "x", int64(0)}}
	_, err = pageFromRecord(bad, "en")
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))

	notFound := coreerrors.NotFound("page en:1")
	assert.Same(t, notFound, classify(notFound))

	transient := &neo4j.Neo4jError{Code: "Neo.TransientError.Transaction.DeadlockDetected", Msg: "deadlock"}
	assert.Equal(t, coreerrors.TierTransient, coreerrors.GetTier(classify(transient)))

	syntax := &neo4j.Neo4jError{Code: "Neo.ClientError.Statement.SyntaxError", Msg: "bad"}
	assert.Same(t, error(syntax), classify(syntax))
}

func TestLoader_Validation(t *testing.T) {
	l := &Loader{store: NewStore(nil, "", Options{Logger: quietLogger()}), batchSize: 100}
	ctx := context.Background()

	err := l.SavePage(ctx, concept.Page{Concept: concept.New("en", 1), Title: " _ "})
	assert.True(t, coreerrors.IsInvalidInput(err))
	err = l.SaveCategoryMember(ctx, concept.New("en", 14), concept.New("de", 1))
	assert.True(t, coreerrors.IsInvalidInput(err))

	require.NoError(t, l.SavePage(ctx, concept.Page{Concept: concept.New("en", 1), Title: "apple_pie"}))
	require.NoError(t, l.SaveLink(ctx, "en", 1, 2))
	assert.Equal(t, 2, l.pending())
	assert.Equal(t, "Apple pie", l.pages[0]["title"])

	require.NoError(t, l.Abort())
	assert.Zero(t, l.pending())
	assert.True(t, coreerrors.IsInvalidInput(l.SaveLink(ctx, "en", 1, 2)))
}

// =============================================================================
// Integration (requires LINKREL_NEO4J_URI)
// =============================================================================

const testLang = concept.Language("xlinkrel")

func openIntegrationStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("LINKREL_NEO4J_URI")
	if uri == "" {
		t.Skip("LINKREL_NEO4J_URI not set")
	}
	config := DefaultConfig(uri)
	if u := os.Getenv("LINKREL_NEO4J_USERNAME"); u != "" {
		config.Username = u
	}
	config.Password = os.Getenv("LINKREL_NEO4J_PASSWORD")
	config.ConnectTimeout = 5 * time.Second

	ctx := context.Background()
	s, err := Open(ctx, config, Options{Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, s.EnsureSchema(ctx))

	purge := func() {
		_ = s.write(ctx, "purge test pages", func(tx neo4j.ManagedTransaction) error {
			res, err := tx.Run(ctx, `MATCH (p:Page {lang: $lang}) DETACH DELETE p`,
				map[string]any{"lang": string(testLang)})
			if err != nil {
				return err
			}
			_, err = res.Consume(ctx)
			return err
		})
	}
	purge()
	t.Cleanup(func() {
		purge()
		_ = s.Close()
	})
	return s
}

func TestIntegration_LoadAndRead(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()

	l, err := s.BeginLoad(ctx, 4)
	require.NoError(t, err)
	rd := dump.NewReader(quietLogger())
	_, err = rd.ReadPages(ctx, strings.NewReader(strings.Join([]string{
		"xlinkrel\t1\tApple\tarticle\t0\t0",
		"xlinkrel\t2\tApple Inc.\tarticle\t0\t0",
		"xlinkrel\t3\tFruit\tarticle\t0\t0",
		"xlinkrel\t4\tApple (disambiguation)\tarticle\t0\t1",
		"xlinkrel\t100\tDisambiguation pages\tcategory\t0\t0",
	}, "\n")), l)
	require.NoError(t, err)
	_, err = rd.ReadLinks(ctx, strings.NewReader("xlinkrel\t3\t1\nxlinkrel\t2\t1\nxlinkrel\t4\t1\nxlinkrel\t1\t3\n"), l)
	require.NoError(t, err)
	_, err = rd.ReadCategories(ctx, strings.NewReader("xlinkrel\t100\t4\n"), l)
	require.NoError(t, err)
	_, err = l.EndLoad()
	require.NoError(t, err)

	n, err := s.CountArticles(ctx, testLang)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	in, err := s.LinksTo(ctx, concept.New(testLang, 1))
	require.NoError(t, err)
	assert.Equal(t, concept.NewIDSet(2, 3, 4), in)

	p, err := s.PageByTitle(ctx, testLang, concept.NamespaceArticle, "apple_inc.")
	require.NoError(t, err)
	assert.Equal(t, concept.New(testLang, 2), p.Concept)

	_, err = s.PageByID(ctx, testLang, 404)
	assert.True(t, coreerrors.IsNotFound(err))

	filter, err := disambig.Load(ctx, testLang, disambig.DefaultCategory, s)
	require.NoError(t, err)
	assert.True(t, filter.IsDisambiguation(concept.New(testLang, 4)))

	_, err = graph.New(s, s).Inbound(ctx, concept.New(testLang, 404))
	assert.True(t, coreerrors.IsNotFound(err))
}
