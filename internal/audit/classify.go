package audit

import (
	"regexp"
	"strings"

	"github.com/sells-group/listing-ingest/internal/model"
)

var (
	// &lt;p&gt;, &lt;/div&gt;, &#60;br/&#62; and friends.
	escapedTagRe = regexp.MustCompile(`(?i)(?:&lt;|&#0*60;|&#x0*3c;)/?[a-z][a-z0-9-]*(?:\s[^&]*?)?/?(?:&gt;|&#0*62;|&#x0*3e;)`)
	rawTagRe     = regexp.MustCompile(`(?i)</?[a-z][a-z0-9-]*(?:\s[^<>]*)?/?>`)

	mdHeadingRe = regexp.MustCompile(`(?m)^ {0,3}#{1,6}[ \t]+\S`)
	mdListRe    = regexp.MustCompile(`(?m)^ {0,3}(?:[-*+]|\d{1,9}[.)])[ \t]+\S`)
	mdBoldRe    = regexp.MustCompile(`\*\*[^*\n]+\*\*|__[^_\n]+__`)
	mdLinkRe    = regexp.MustCompile(`\[[^\]\n]+\]\([^)\s]+\)`)
)

// Classify detects the markup dialect of a stored value. Every input maps to
// exactly one format; the checks run in a fixed order, so a value holding
// both escaped and raw tags counts as escaped.
func Classify(value string) model.ContentFormat {
	switch {
	case strings.TrimSpace(value) == "":
		return model.FormatEmpty
	case escapedTagRe.MatchString(value):
		return model.FormatHTMLEscaped
	case rawTagRe.MatchString(value):
		return model.FormatHTML
	case isMarkdown(value):
		return model.FormatMarkdown
	default:
		return model.FormatUnknown
	}
}

func isMarkdown(value string) bool {
	return mdHeadingRe.MatchString(value) ||
		mdListRe.MatchString(value) ||
		mdBoldRe.MatchString(value) ||
		mdLinkRe.MatchString(value)
}
