package audit

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/sells-group/listing-ingest/internal/model"
)

// maxUnescapeRounds bounds decoding of values escaped more than once
// ("&amp;lt;p&amp;gt;").
const maxUnescapeRounds = 4

var (
	unsafeElements = map[string]bool{
		"script": true, "style": true, "iframe": true, "object": true, "embed": true, "frame": true, "frameset": true,
	}
	voidElements = map[string]bool{
		"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true, "img": true,
		"input": true, "link": true, "meta": true, "param": true, "source": true, "track": true, "wbr": true,
	}
	urlAttributes = map[string]bool{"href": true, "src": true, "action": true, "formaction": true}

	markdown = goldmark.New()
)

// Propose returns the repaired form of value for its detected format, and
// whether a repair applies. Empty and unknown values are never repaired, and
// html is only touched when it is unbalanced or unsafe.
func Propose(value string, format model.ContentFormat) (string, bool) {
	switch format {
	case model.FormatHTMLEscaped:
		decoded := value
		for i := 0; i < maxUnescapeRounds; i++ {
			next := html.UnescapeString(decoded)
			if next == decoded {
				break
			}
			decoded = next
		}
		return changed(value, sanitize(decoded))
	case model.FormatHTML:
		if !needsSanitize(value) {
			return "", false
		}
		return changed(value, sanitize(value))
	case model.FormatMarkdown:
		var buf bytes.Buffer
		if err := markdown.Convert([]byte(value), &buf); err != nil {
			return "", false
		}
		return changed(value, strings.TrimSpace(buf.String()))
	default:
		return "", false
	}
}

func changed(old, repaired string) (string, bool) {
	if repaired == "" || repaired == old {
		return "", false
	}
	return repaired, true
}

// needsSanitize tokenizes value and reports unbalanced tags, unsafe
// elements, event-handler attributes and javascript: URLs.
func needsSanitize(value string) bool {
	z := html.NewTokenizer(strings.NewReader(value))
	var open []string
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF is the normal end; anything left open is unbalanced.
			return len(open) > 0
		case html.StartTagToken:
			tok := z.Token()
			if unsafeTag(tok) {
				return true
			}
			if !voidElements[tok.Data] {
				open = append(open, tok.Data)
			}
		case html.SelfClosingTagToken:
			if unsafeTag(z.Token()) {
				return true
			}
		case html.EndTagToken:
			tok := z.Token()
			if voidElements[tok.Data] {
				continue
			}
			if len(open) == 0 || open[len(open)-1] != tok.Data {
				return true
			}
			open = open[:len(open)-1]
		}
	}
}

func unsafeTag(tok html.Token) bool {
	if unsafeElements[tok.Data] {
		return true
	}
	for _, a := range tok.Attr {
		if unsafeAttr(a) {
			return true
		}
	}
	return false
}

func unsafeAttr(a html.Attribute) bool {
	key := strings.ToLower(a.Key)
	if strings.HasPrefix(key, "on") {
		return true
	}
	if urlAttributes[key] {
		v := strings.ToLower(strings.Join(strings.Fields(a.Val), ""))
		return strings.HasPrefix(v, "javascript:") || strings.HasPrefix(v, "vbscript:")
	}
	return false
}

// sanitize parses value as a body fragment, drops unsafe elements and
// attributes, and renders the result. The parser closes and nests tags, so
// the output is balanced.
func sanitize(value string) string {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(value), ctx)
	if err != nil {
		return ""
	}

	var buf bytes.Buffer
	for _, n := range nodes {
		if n.Type == html.ElementNode && unsafeElements[n.Data] {
			continue
		}
		clean(n)
		if err := html.Render(&buf, n); err != nil {
			return ""
		}
	}
	return strings.TrimSpace(buf.String())
}

func clean(n *html.Node) {
	if n.Type == html.ElementNode {
		attrs := n.Attr[:0]
		for _, a := range n.Attr {
			if !unsafeAttr(a) {
				attrs = append(attrs, a)
			}
		}
		n.Attr = attrs
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && unsafeElements[c.Data] {
			n.RemoveChild(c)
		} else {
			clean(c)
		}
		c = next
	}
}
