package disambig

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/adalundhe/linkrel/core/concept"
)

const defaultProviderSize = 64

// Provider builds filters once per (language, category) and shares them
// between metrics. Concurrent requests for the same key wait on a single
// load. Failed loads are not cached.
type Provider struct {
	pages  CategoryResolver
	cache  *lru.Cache[string, *Filter]
	group  singleflight.Group
	logger *slog.Logger
}

// NewProvider returns a provider holding at most size filters.
func NewProvider(pages CategoryResolver, size int, logger *slog.Logger) (*Provider, error) {
	if size <= 0 {
		size = defaultProviderSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, *Filter](size)
	if err != nil {
		return nil, err
	}
	return &Provider{pages: pages, cache: cache, logger: logger}, nil
}

// Filter returns the filter for lang and category, loading it on first use.
func (p *Provider) Filter(ctx context.Context, lang concept.Language, category string) (*Filter, error) {
	key := string(lang) + "|" + CategoryTitle(category)

	if f, ok := p.cache.Get(key); ok {
		return f, nil
	}

	v, err, shared := p.group.Do(key, func() (any, error) {
		if f, ok := p.cache.Get(key); ok {
			return f, nil
		}
		f, err := Load(ctx, lang, category, p.pages)
		if err != nil {
			return nil, err
		}
		p.cache.Add(key, f)
		p.logger.Info("identified disambiguation pages",
			slog.String("lang", string(lang)),
			slog.String("category", f.Category()),
			slog.Int("count", f.Len()))
		return f, nil
	})
	if err != nil {
		p.logger.Warn("disambiguation filter unavailable",
			slog.String("lang", string(lang)),
			slog.String("error", err.Error()))
		return nil, err
	}
	if shared {
		p.logger.Debug("disambiguation load shared", slog.String("key", key))
	}
	return v.(*Filter), nil
}

// Len returns the number of cached filters.
func (p *Provider) Len() int {
	return p.cache.Len()
}
