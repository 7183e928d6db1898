package normalize

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const ellipsis = "..."

// paragraphs splits extracted description text on blank lines.
func paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p = strings.Join(strings.Fields(p), " "); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LongDescription renders paragraphs as escaped <p> elements. The output is
// at most max bytes; a paragraph that does not fit is cut at a word boundary
// and nothing after it is kept.
func LongDescription(paras []string, max int) string {
	var b strings.Builder
	for _, p := range paras {
		block := "<p>" + html.EscapeString(p) + "</p>"
		if b.Len()+len(block) <= max {
			b.WriteString(block)
			continue
		}
		room := max - b.Len() - len("<p></p>")
		if cut := cutEscaped(p, room); cut != "" {
			b.WriteString("<p>" + html.EscapeString(cut) + "</p>")
		}
		break
	}
	return b.String()
}

// ShortDescription is the first paragraph, escaped and wrapped in <p>, cut to
// max runes of text at a word boundary with an ellipsis when shortened.
func ShortDescription(paras []string, max int) string {
	if len(paras) == 0 {
		return ""
	}
	p := paras[0]
	if utf8.RuneCountInString(p) > max {
		p = cutWords(p, max-len(ellipsis)) + ellipsis
	}
	return "<p>" + html.EscapeString(p) + "</p>"
}

// cutWords shortens s to at most n runes, dropping the last partial word.
func cutWords(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	cut := string(r[:n])
	// A cut right before a space keeps the whole last word.
	if r[n] != ' ' {
		if i := strings.LastIndexByte(cut, ' '); i > 0 {
			cut = cut[:i]
		}
	}
	return strings.TrimSpace(cut)
}

// cutEscaped returns the longest word-boundary prefix of s whose escaped
// form fits in room bytes.
func cutEscaped(s string, room int) string {
	if room <= 0 {
		return ""
	}
	fields := strings.Fields(s)
	size := 0
	var kept []string
	for _, f := range fields {
		add := len(html.EscapeString(f))
		if len(kept) > 0 {
			add++
		}
		if size+add > room {
			break
		}
		kept = append(kept, f)
		size += add
	}
	return strings.Join(kept, " ")
}
