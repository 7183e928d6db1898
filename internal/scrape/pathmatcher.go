package scrape

import (
	"net/url"
	"path"
	"strings"
)

// PathMatcher decides which URL paths look like listing detail pages.
// A path qualifies when it contains one of the include markers and matches
// none of the exclude globs.
type PathMatcher struct {
	include []string
	exclude []string
}

// NewPathMatcher builds a matcher. Include markers are substrings
// ("/ilan/", "/property"); exclude patterns are globs ("/blog/*", "/*.pdf").
func NewPathMatcher(include, exclude []string) *PathMatcher {
	m := &PathMatcher{}
	for _, p := range include {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			m.include = append(m.include, p)
		}
	}
	for _, p := range exclude {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			m.exclude = append(m.exclude, p)
		}
	}
	return m
}

// Matches reports whether u's path is a listing path.
func (m *PathMatcher) Matches(u *url.URL) bool {
	p := strings.ToLower(u.EscapedPath())
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = strings.ToLower(unescaped)
	}

	included := false
	for _, marker := range m.include {
		if strings.Contains(p, marker) {
			included = true
			break
		}
	}
	if !included {
		return false
	}

	for _, pattern := range m.exclude {
		if matchSegmented(pattern, p) {
			return false
		}
	}
	return true
}

// matchSegmented is path.Match, plus "/dir/*" also matching deeper paths
// such as "/dir/a/b".
func matchSegmented(pattern, urlPath string) bool {
	if ok, _ := path.Match(pattern, urlPath); ok {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if urlPath == prefix || strings.HasPrefix(urlPath, prefix+"/") {
			return true
		}
	}
	return false
}
