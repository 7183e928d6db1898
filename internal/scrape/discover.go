package scrape

import (
	"bytes"
	"net/url"
	"sort"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// linkSelectors lists every attribute that can carry a navigable URL on an
// index page. Some themes put the detail link on a card's data attribute.
var linkSelectors = []struct {
	selector string
	attr     string
}{
	{"a[href]", "href"},
	{"area[href]", "href"},
	{"[data-href]", "data-href"},
	{"[data-url]", "data-url"},
}

// Discoverer finds listing detail links on an index page.
type Discoverer struct {
	matcher *PathMatcher
}

// NewDiscoverer creates a Discoverer that keeps links accepted by matcher.
func NewDiscoverer(matcher *PathMatcher) *Discoverer {
	return &Discoverer{matcher: matcher}
}

// Discover returns the absolute, fragment-free detail URLs found in body, in
// document order and without duplicates. It never fails; an unparsable
// document or index URL yields no links.
func (d *Discoverer) Discover(indexURL string, body []byte) []string {
	base, err := url.Parse(indexURL)
	if err != nil || base.Host == "" {
		zap.L().Warn("discover: invalid index url", zap.String("url", indexURL))
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		zap.L().Warn("discover: parse index document", zap.String("url", indexURL), zap.Error(err))
		return nil
	}

	// Selector groups are evaluated separately, so collect candidate nodes
	// with their position to keep document order across groups.
	type hit struct {
		order int
		href  string
	}
	position := make(map[*html.Node]int)
	i := 0
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		position[s.Get(0)] = i
		i++
	})

	var hits []hit
	for _, ls := range linkSelectors {
		doc.Find(ls.selector).Each(func(_ int, s *goquery.Selection) {
			if href, ok := s.Attr(ls.attr); ok {
				hits = append(hits, hit{order: position[s.Get(0)], href: href})
			}
		})
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].order < hits[b].order })

	seen := make(map[string]bool)
	var links []string
	for _, h := range hits {
		u, ok := resolve(base, h.href)
		if !ok || sameDocument(u, base) {
			continue
		}
		if !d.matcher.Matches(u) {
			continue
		}
		s := u.String()
		if seen[s] {
			continue
		}
		seen[s] = true
		links = append(links, s)
	}

	zap.L().Debug("discover: links found",
		zap.String("url", indexURL),
		zap.Int("candidates", len(hits)),
		zap.Int("links", len(links)),
	)
	return links
}
