package scrape

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// collapse trims s and folds every Unicode whitespace run (including NBSP
// and the typographic spaces) into a single space.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// nodeText returns the collapsed text of the first node in sel.
func nodeText(sel *goquery.Selection) string {
	return collapse(sel.First().Text())
}

// visibleText walks the document body and returns its text with a space
// between nodes, skipping script/style content. Output stops at limit bytes.
func visibleText(doc *goquery.Document, limit int) string {
	var b strings.Builder
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template", "head":
				return true
			}
		}
		if n.Type == html.TextNode {
			t := collapse(n.Data)
			if t != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(t)
				if b.Len() >= limit {
					return false
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}

	roots := doc.Find("body").Nodes
	if len(roots) == 0 {
		roots = doc.Nodes
	}
	for _, root := range roots {
		if !walk(root) {
			break
		}
	}

	out := b.String()
	if len(out) > limit {
		out = truncateUTF8(out, limit)
	}
	return out
}

// boundedText returns the collapsed text under n, the same string as
// collapse(selection.Text()), or ok=false as soon as it would exceed limit
// runes. Containers holding more text than that are abandoned after reading
// just past the limit, so scanning every element of a deeply nested page
// stays linear in the limit rather than in the document.
func boundedText(n *html.Node, limit int) (string, bool) {
	maxRaw := limit*utf8.UTFMax + 4096
	var (
		b       strings.Builder
		runes   int
		raw     int
		pending bool
	)
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.TextNode {
			raw += len(n.Data)
			if raw > maxRaw {
				return false
			}
			for _, r := range n.Data {
				if unicode.IsSpace(r) {
					pending = b.Len() > 0
					continue
				}
				if pending {
					b.WriteByte(' ')
					runes++
					pending = false
				}
				b.WriteRune(r)
				runes++
				if runes > limit {
					return false
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	if !walk(n) {
		return "", false
	}
	return b.String(), true
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !startsRune(s[n]) {
		n--
	}
	return s[:n]
}

func startsRune(b byte) bool {
	return b&0xC0 != 0x80
}

// resolve turns href into an absolute http(s) URL relative to base, with the
// fragment removed. ok is false for non-navigational or unparsable values.
func resolve(base *url.URL, href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil, false
	}
	lower := strings.ToLower(href)
	for _, scheme := range []string{"mailto:", "tel:", "javascript:", "data:", "whatsapp:"} {
		if strings.HasPrefix(lower, scheme) {
			return nil, false
		}
	}

	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u, true
}

// sameDocument compares two URLs ignoring a trailing slash and letter case
// in the host.
func sameDocument(a, b *url.URL) bool {
	return strings.EqualFold(a.Host, b.Host) &&
		a.Scheme == b.Scheme &&
		strings.TrimSuffix(a.Path, "/") == strings.TrimSuffix(b.Path, "/") &&
		a.RawQuery == b.RawQuery
}
