package normalize

import (
	"strings"

	"github.com/google/uuid"
)

// DefaultMaxSlugLength applies when a caller passes a non-positive limit.
const DefaultMaxSlugLength = 80

// emptySlug stands in for titles with no usable characters.
const emptySlug = "listing"

// Slug derives a URL-safe slug from s: folded to lowercase ASCII, runs of
// anything other than [a-z0-9] collapsed to one hyphen, no hyphen at either
// end, at most max bytes.
func Slug(s string, max int) string {
	var b strings.Builder
	pending := false
	for _, r := range Fold(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('-')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	if b.Len() == 0 {
		return Truncate(emptySlug, max)
	}
	return Truncate(b.String(), max)
}

// Truncate shortens a slug to at most max bytes. It prefers to cut at a
// hyphen, as long as that keeps at least half of the limit; otherwise it
// cuts hard. The result never ends with a hyphen.
func Truncate(slug string, max int) string {
	if max <= 0 {
		max = DefaultMaxSlugLength
	}
	if len(slug) <= max {
		return strings.Trim(slug, "-")
	}

	cut := slug[:max]
	if slug[max] != '-' {
		if i := strings.LastIndexByte(cut, '-'); i >= max/2 {
			cut = cut[:i]
		}
	}

	out := strings.Trim(cut, "-")
	if out == "" {
		return emptySlug[:min(max, len(emptySlug))]
	}
	return out
}

// WithToken appends "-token" to slug, shortening slug so the result still
// fits in max bytes.
func WithToken(slug, token string, max int) string {
	if max <= 0 {
		max = DefaultMaxSlugLength
	}
	suffix := "-" + token
	room := max - len(suffix)
	if room <= 0 {
		return Truncate(token, max)
	}
	return Truncate(slug, room) + suffix
}

// Token returns a short uniqueness token for a listing. It is derived from
// the source URL, so retries of the same candidate produce the same slug.
func Token(sourceURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourceURL)).String()[:6]
}

// IsCanonical reports whether s is a slug Slug could have produced under the
// given limit.
func IsCanonical(s string, max int) bool {
	if max <= 0 {
		max = DefaultMaxSlugLength
	}
	if s == "" || len(s) > max || s[0] == '-' || s[len(s)-1] == '-' || strings.Contains(s, "--") {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-') {
			return false
		}
	}
	return true
}
