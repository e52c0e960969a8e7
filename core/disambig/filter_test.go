package disambig

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/linkrel/core/concept"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
)

type fakePages struct {
	categories map[string]concept.Page
	members    map[concept.Concept]concept.IDSet
	lookups    atomic.Int32
	delay      time.Duration
	membersErr error
}

func (f *fakePages) PageByTitle(_ context.Context, lang concept.Language, ns concept.Namespace, title string) (concept.Page, error) {
	f.lookups.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	p, ok := f.categories[string(lang)+"|"+title]
	if !ok || ns != concept.NamespaceCategory {
		return concept.Page{}, coreerrors.NotFound("page %s:%s", lang, title)
	}
	return p, nil
}

func (f *fakePages) CategoryMembers(_ context.Context, category concept.Concept) (concept.IDSet, error) {
	if f.membersErr != nil {
		return concept.IDSet{}, f.membersErr
	}
	return f.members[category], nil
}

func newFakePages() *fakePages {
	cat := concept.New("en", 900)
	return &fakePages{
		categories: map[string]concept.Page{
			"en|Disambiguation pages": {Concept: cat, Title: "Disambiguation pages", Namespace: concept.NamespaceCategory},
		},
		members: map[concept.Concept]concept.IDSet{cat: concept.NewIDSet(3, 5)},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoad(t *testing.T) {
	f, err := Load(context.Background(), "en", "", newFakePages())
	require.NoError(t, err)

	assert.Equal(t, 2, f.Len())
	assert.Equal(t, concept.Language("en"), f.Language())
	assert.Equal(t, DefaultCategory, f.Category())
	assert.True(t, f.IsDisambiguation(concept.New("en", 3)))
	assert.False(t, f.IsDisambiguation(concept.New("en", 4)))
	assert.False(t, f.IsDisambiguation(concept.New("de", 3)), "other languages never match")
}

func TestLoad_NormalizesTitle(t *testing.T) {
	f, err := Load(context.Background(), "en", "category:Disambiguation_pages", newFakePages())
	require.NoError(t, err)
	assert.Equal(t, 2, f.Len())
}

func TestCategoryTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", DefaultCategory},
		{DefaultCategory, DefaultCategory},
		{"Disambiguation_pages", DefaultCategory},
		{"CATEGORY: disambiguation pages", DefaultCategory},
		{"Homonymie", "Category:Homonymie"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CategoryTitle(tt.in), tt.in)
	}
}

func TestLoad_MissingCategoryIsConfigurationError(t *testing.T) {
	_, err := Load(context.Background(), "de", "", newFakePages())
	require.Error(t, err)
	assert.True(t, coreerrors.IsConfiguration(err))
	assert.True(t, coreerrors.IsNotFound(err), "underlying cause stays reachable")
}

func TestLoad_MemberFailureIsConfigurationError(t *testing.T) {
	pages := newFakePages()
	pages.membersErr = errors.New("no such table: category_members")

	_, err := Load(context.Background(), "en", "", pages)
	assert.True(t, coreerrors.IsConfiguration(err))
}

func TestNewFilter(t *testing.T) {
	f := NewFilter("simple", concept.NewIDSet(1))
	assert.True(t, f.IsDisambiguation(concept.New("simple", 1)))
	assert.Empty(t, f.Category())
}

func TestProvider_CachesPerLanguage(t *testing.T) {
	pages := newFakePages()
	p, err := NewProvider(pages, 0, quietLogger())
	require.NoError(t, err)
	ctx := context.Background()

	first, err := p.Filter(ctx, "en", "")
	require.NoError(t, err)
	second, err := p.Filter(ctx, "en", DefaultCategory)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), pages.lookups.Load())
	assert.Equal(t, 1, p.Len())
}

func TestProvider_CollapsesConcurrentLoads(t *testing.T) {
	pages := newFakePages()
	pages.delay = 20 * time.Millisecond
	p, err := NewProvider(pages, 4, quietLogger())
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*Filter, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := p.Filter(context.Background(), "en", "")
			assert.NoError(t, err)
			results[i] = f
		}(i)
	}
	wg.Wait()

	for _, f := range results {
		assert.Same(t, results[0], f)
	}
	assert.Equal(t, int32(1), pages.lookups.Load())
}

func TestProvider_DoesNotCacheFailures(t *testing.T) {
	pages := newFakePages()
	p, err := NewProvider(pages, 4, quietLogger())
	require.NoError(t, err)

	_, err = p.Filter(context.Background(), "de", "")
	assert.True(t, coreerrors.IsConfiguration(err))
	_, err = p.Filter(context.Background(), "de", "")
	assert.True(t, coreerrors.IsConfiguration(err))

	assert.Equal(t, int32(2), pages.lookups.Load())
	assert.Zero(t, p.Len())
}
