// Package dump reads tab-separated page, link and category dumps into a
// store loader.
//
// Lines starting with '#' are comments in every input.
//
//	pages:      lang  id  title  ns  redirect  disambig
//	links:      lang  src  dst
//	categories: lang  category_id  member_id
//
// ns is "article", "category" or the numeric namespace. redirect and
// disambig accept anything strconv.ParseBool does. Pages should be loaded
// before the links and categories that reference them.
package dump

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/adalundhe/linkrel/core/concept"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
)

// Sink receives parsed rows.
type Sink interface {
	SavePage(ctx context.Context, p concept.Page) error
	SaveLink(ctx context.Context, lang concept.Language, src, dst concept.LocalID) error
	SaveCategoryMember(ctx context.Context, category, member concept.Concept) error
}

// Loader is a Sink with a bulk-load lifecycle.
type Loader interface {
	Sink

	// EndLoad flushes buffered rows and reports what was written.
	EndLoad() (Stats, error)

	// Abort discards unflushed rows.
	Abort() error
}

// Stats counts rows.
type Stats struct {
	Pages           int `json:"pages"`
	Links           int `json:"links"`
	CategoryMembers int `json:"category_members"`
	Skipped         int `json:"skipped"`
}

// Add returns the field-wise sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Pages:           s.Pages + o.Pages,
		Links:           s.Links + o.Links,
		CategoryMembers: s.CategoryMembers + o.CategoryMembers,
		Skipped:         s.Skipped + o.Skipped,
	}
}

// Reader parses dumps. Malformed rows, and rows the sink rejects as invalid
// input, are skipped and logged; any other sink error aborts the read.
type Reader struct {
	logger *slog.Logger
}

func NewReader(logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{logger: logger}
}

// ReadPages feeds page rows from r to sink.
func (rd *Reader) ReadPages(ctx context.Context, r io.Reader, sink Sink) (Stats, error) {
	var stats Stats
	err := rd.read(ctx, r, 6, &stats, func(rec []string) error {
		c, err := parseConcept(rec[0], rec[1])
		if err != nil {
			return err
		}
		ns, err := ParseNamespace(rec[3])
		if err != nil {
			return err
		}
		redirect, err := parseFlag("redirect", rec[4])
		if err != nil {
			return err
		}
		disambig, err := parseFlag("disambig", rec[5])
		if err != nil {
			return err
		}
		if err := sink.SavePage(ctx, concept.Page{
			Concept:    c,
			Title:      rec[2],
			Namespace:  ns,
			IsRedirect: redirect,
			IsDisambig: disambig,
		}); err != nil {
			return err
		}
		stats.Pages++
		return nil
	})
	return stats, err
}

// ReadLinks feeds link rows from r to sink.
func (rd *Reader) ReadLinks(ctx context.Context, r io.Reader, sink Sink) (Stats, error) {
	var stats Stats
	err := rd.read(ctx, r, 3, &stats, func(rec []string) error {
		src, err := parseConcept(rec[0], rec[1])
		if err != nil {
			return err
		}
		dst, err := parseID(rec[2])
		if err != nil {
			return err
		}
		if err := sink.SaveLink(ctx, src.Lang, src.ID, dst); err != nil {
			return err
		}
		stats.Links++
		return nil
	})
	return stats, err
}

// ReadCategories feeds category membership rows from r to sink.
func (rd *Reader) ReadCategories(ctx context.Context, r io.Reader, sink Sink) (Stats, error) {
	var stats Stats
	err := rd.read(ctx, r, 3, &stats, func(rec []string) error {
		category, err := parseConcept(rec[0], rec[1])
		if err != nil {
			return err
		}
		member, err := parseID(rec[2])
		if err != nil {
			return err
		}
		if err := sink.SaveCategoryMember(ctx, category, category.WithID(member)); err != nil {
			return err
		}
		stats.CategoryMembers++
		return nil
	})
	return stats, err
}

// errMalformed marks row parse failures.
var errMalformed = errors.New("malformed row")

func (rd *Reader) read(ctx context.Context, r io.Reader, fields int, stats *Stats, fn func([]string) error) error {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.Comment = '#'
	reader.FieldsPerRecord = fields
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			rd.skip(stats, parseErr.StartLine, err)
			continue
		}
		if err != nil {
			return fmt.Errorf("read dump: %w", err)
		}

		if err := fn(rec); err != nil {
			if errors.Is(err, errMalformed) || coreerrors.IsInvalidInput(err) {
				line, _ := reader.FieldPos(0)
				rd.skip(stats, line, err)
				continue
			}
			return err
		}
	}
}

func (rd *Reader) skip(stats *Stats, line int, err error) {
	stats.Skipped++
	rd.logger.Warn("skipping row",
		slog.Int("line", line),
		slog.String("error", err.Error()))
}

func parseConcept(lang, id string) (concept.Concept, error) {
	code, err := concept.ParseLanguage(lang)
	if err != nil {
		return concept.Concept{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	n, err := parseID(id)
	if err != nil {
		return concept.Concept{}, err
	}
	return concept.New(code, n), nil
}

func parseID(s string) (concept.LocalID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: page id %q", errMalformed, s)
	}
	return concept.LocalID(n), nil
}

func parseFlag(name, s string) (bool, error) {
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, fmt.Errorf("%w: %s flag %q", errMalformed, name, s)
	}
	return v, nil
}

// ParseNamespace accepts a namespace name or its number.
func ParseNamespace(s string) (concept.Namespace, error) {
	s = strings.TrimSpace(s)
	if ns, ok := concept.ParseNamespace(s); ok {
		return ns, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || !concept.Namespace(n).IsValid() {
		return 0, fmt.Errorf("%w: unsupported namespace %q", errMalformed, s)
	}
	return concept.Namespace(n), nil
}
