package audit

import (
	"strings"

	"github.com/sells-group/listing-ingest/internal/normalize"
)

// SlugAnomaly describes what is wrong with a stored slug, or returns "" when
// it is canonical.
func SlugAnomaly(slug string, max int) string {
	switch {
	case slug == "":
		return "empty"
	case len(slug) > max:
		return "too long"
	case strings.HasPrefix(slug, "-"):
		return "leading hyphen"
	case strings.HasSuffix(slug, "-"):
		return "trailing hyphen"
	case strings.Contains(slug, "--"):
		return "double hyphen"
	case !normalize.IsCanonical(slug, max):
		return "invalid characters"
	default:
		return ""
	}
}

// RepairSlug regenerates a slug from its own text.
func RepairSlug(slug string, max int) (string, bool) {
	if SlugAnomaly(slug, max) == "" {
		return "", false
	}
	return changed(slug, normalize.Slug(slug, max))
}
