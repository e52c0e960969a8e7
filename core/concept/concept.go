// Package concept defines the identity types shared by the relatedness engine:
// languages, concepts, pages and immutable id sets.
package concept

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// Language
// =============================================================================

// Language is a wiki language edition code such as "en" or "simple".
type Language string

// ParseLanguage normalizes and validates a language code.
func ParseLanguage(code string) (Language, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return "", fmt.Errorf("language code is required")
	}
	for _, r := range code {
		if (r < 'a' || r > 'z') && r != '-' && r != '_' {
			return "", fmt.Errorf("invalid language code: %q", code)
		}
	}
	return Language(code), nil
}

func (l Language) String() string {
	return string(l)
}

// =============================================================================
// Concept
// =============================================================================

// LocalID is a page id local to one language edition.
type LocalID int64

// Concept identifies a single article in a language edition. Concepts are
// comparable values and may be used as map keys.
type Concept struct {
	Lang Language `json:"lang"`
	ID   LocalID  `json:"id"`
}

// New returns the concept for id in lang.
func New(lang Language, id LocalID) Concept {
	return Concept{Lang: lang, ID: id}
}

// IsZero reports whether c is the zero concept.
func (c Concept) IsZero() bool {
	return c.Lang == "" && c.ID == 0
}

// WithID returns a concept in the same language with a different id.
func (c Concept) WithID(id LocalID) Concept {
	return Concept{Lang: c.Lang, ID: id}
}

func (c Concept) String() string {
	return string(c.Lang) + ":" + strconv.FormatInt(int64(c.ID), 10)
}

// ParseConcept parses the "lang:id" form produced by String.
func ParseConcept(s string) (Concept, error) {
	code, id, ok := strings.Cut(s, ":")
	if !ok {
		return Concept{}, fmt.Errorf("invalid concept %q: expected lang:id", s)
	}
	lang, err := ParseLanguage(code)
	if err != nil {
		return Concept{}, err
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return Concept{}, fmt.Errorf("invalid concept id in %q: %w", s, err)
	}
	return New(lang, LocalID(n)), nil
}

// =============================================================================
// Namespace
// =============================================================================

// Namespace is the page namespace of a concept.
type Namespace int

const (
	NamespaceArticle  Namespace = 0
	NamespaceCategory Namespace = 14
)

// ValidNamespaces returns all supported namespaces.
func ValidNamespaces() []Namespace {
	return []Namespace{
		NamespaceArticle,
		NamespaceCategory,
	}
}

// IsValid returns true if the namespace is a recognized value.
func (ns Namespace) IsValid() bool {
	for _, valid := range ValidNamespaces() {
		if ns == valid {
			return true
		}
	}
	return false
}

func (ns Namespace) String() string {
	switch ns {
	case NamespaceArticle:
		return "article"
	case NamespaceCategory:
		return "category"
	default:
		return fmt.Sprintf("namespace(%d)", int(ns))
	}
}

func ParseNamespace(value string) (Namespace, bool) {
	switch value {
	case "article":
		return NamespaceArticle, true
	case "category":
		return NamespaceCategory, true
	default:
		return Namespace(0), false
	}
}

func (ns Namespace) MarshalJSON() ([]byte, error) {
	return json.Marshal(ns.String())
}

func (ns *Namespace) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		if parsed, ok := ParseNamespace(asString); ok {
			*ns = parsed
			return nil
		}
		return fmt.Errorf("invalid namespace: %s", asString)
	}

	var asInt int
	if err := json.Unmarshal(data, &asInt); err == nil {
		*ns = Namespace(asInt)
		return nil
	}

	return fmt.Errorf("invalid namespace")
}

// =============================================================================
// Page
// =============================================================================

// Page is the resolved page record behind a concept, as returned by a page
// store.
type Page struct {
	Concept    Concept   `json:"concept"`
	Title      string    `json:"title"`
	Namespace  Namespace `json:"namespace"`
	IsRedirect bool      `json:"is_redirect"`
	IsDisambig bool      `json:"is_disambig"`
}

// IsArticle reports whether the page is an indexable article: in the article
// namespace and neither a redirect nor a disambiguation page.
func (p *Page) IsArticle() bool {
	return p.Namespace == NamespaceArticle && !p.IsRedirect && !p.IsDisambig
}

// NormalizeTitle canonicalizes a title for lookups: surrounding whitespace
// is trimmed, underscores become spaces and the first rune is upper-cased.
func NormalizeTitle(title string) string {
	title = strings.TrimSpace(strings.ReplaceAll(title, "_", " "))
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return ""
	}
	runes := []rune(title)
	runes[0] = []rune(strings.ToUpper(string(runes[0])))[0]
	return string(runes)
}
