package normalize

import (
	"strings"
	"unicode"

	"github.com/sells-group/listing-ingest/internal/model"
)

// propertyRules are checked in order; the first keyword hit decides. A
// title mentioning both "villa" and "arsa" is a villa.
var propertyRules = []struct {
	typ      model.PropertyType
	keywords []string
}{
	{model.PropertyVilla, []string{"villa"}},
	{model.PropertyLand, []string{"arsa", "tarla", "land", "plot"}},
	{model.PropertyHouse, []string{"mustakil", "house", "detached"}},
	{model.PropertySummerHouse, []string{"yazlik", "summer house"}},
}

// words folds s and rejoins its alphanumeric runs with single spaces, with a
// leading space so callers can test for word starts with " "+keyword.
func words(s string) string {
	fields := strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(fields, " ")
}

// phrases are the multi-word keywords. Their words are joined before
// single-word keywords are tested, so "summer house" is not a "house".
var phrases = func() []string {
	var out []string
	for _, rule := range propertyRules {
		for _, kw := range rule.keywords {
			if strings.Contains(kw, " ") {
				out = append(out, kw)
			}
		}
	}
	return out
}()

// ClassifyProperty maps a title to a property type. Keywords match at the
// start of a word, so Turkish suffixes ("Villası", "Arsalar") still count.
// Rules keep their priority; a phrase only hides its own words from the
// single-word keywords.
func ClassifyProperty(title string) model.PropertyType {
	text := words(title)
	joined := text
	for _, p := range phrases {
		joined = strings.ReplaceAll(joined, " "+p, " "+strings.ReplaceAll(p, " ", "_"))
	}

	for _, rule := range propertyRules {
		for _, kw := range rule.keywords {
			haystack := joined
			if strings.Contains(kw, " ") {
				haystack = text
			}
			if strings.Contains(haystack, " "+kw) {
				return rule.typ
			}
		}
	}
	return model.PropertyApartment
}

// Gazetteer matches titles against a fixed list of neighborhood names.
type Gazetteer struct {
	entries  []gazetteerEntry
	fallback string
}

type gazetteerEntry struct {
	match string // folded, space-joined
	tag   string
}

// NewGazetteer builds a gazetteer. Each name's tag is its slug.
func NewGazetteer(names []string, fallback string) *Gazetteer {
	g := &Gazetteer{fallback: fallback}
	for _, n := range names {
		w := strings.TrimSpace(words(n))
		if w == "" {
			continue
		}
		g.entries = append(g.entries, gazetteerEntry{match: w, tag: Slug(n, 0)})
	}
	return g
}

// Match returns the tag of the first name found in title, or the fallback.
func (g *Gazetteer) Match(title string) string {
	text := words(title)
	for _, e := range g.entries {
		if strings.Contains(text, e.match) {
			return e.tag
		}
	}
	return g.fallback
}
