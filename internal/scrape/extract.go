package scrape

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/sells-group/listing-ingest/internal/model"
)

var (
	// Currency markers. Letter codes must stand alone so "TLC" or "Europe"
	// do not count, but "2.750.000TL" does.
	currencyRe = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:TL|EUR|USD)(?:$|[^\p{L}])|₺|€|\$`)
	digitRe    = regexp.MustCompile(`\d`)

	roomsLabelFirst = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:oda\s+say[ıi]s[ıi]|oda|bedrooms?|rooms?)\s*[:\-]?\s*(\d{1,2}(?:\s*\+\s*\d{1,2})?)`)
	roomsValueFirst = regexp.MustCompile(`(?i)(\d{1,2}\s*\+\s*\d{1,2})\s*(?:oda|rooms?|bedrooms?)?`)

	sizeLabelFirst = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:br[üu]t|net|metrekare|alan|size|area)(?:\s*\(?\s*(?:m²|m2)\s*\)?)?\s*[:\-]?\s*(\d{1,6})`)
	sizeValueFirst = regexp.MustCompile(`(?i)(\d{1,6})\s*(?:m²|m2|metrekare|sqm)(?:$|[^\p{L}\d])`)
)

// featureSelector covers the block and inline elements that typically hold a
// single "label: value" pair on a detail page.
const featureSelector = "li, td, th, dd, dt, p, span, div, strong, b, label"

// featureNodeMaxChars skips container elements whose text is a whole section
// rather than one feature.
const featureNodeMaxChars = 200

// labeledValue finds a feature value by trying its patterns in order. Each
// pattern's first group is the value.
type labeledValue []*regexp.Regexp

// find returns the value and the full matched fragment.
func (l labeledValue) find(s string) (value, fragment string, ok bool) {
	for _, re := range l {
		if m := re.FindStringSubmatchIndex(s); m != nil {
			value = strings.ReplaceAll(s[m[2]:m[3]], " ", "")
			fragment = strings.TrimSpace(s[m[0]:m[1]])
			return value, fragment, true
		}
	}
	return "", "", false
}

var (
	roomsValue = labeledValue{roomsLabelFirst, roomsValueFirst}
	sizeValue  = labeledValue{sizeLabelFirst, sizeValueFirst}
)

// MatchRooms finds a room-count token such as "3+1" or "4" in s.
func MatchRooms(s string) (string, bool) {
	v, _, ok := roomsValue.find(s)
	return v, ok
}

// MatchSize finds a floor-area token (digits only) in s.
func MatchSize(s string) (string, bool) {
	v, _, ok := sizeValue.find(s)
	return v, ok
}

// ExtractOptions tunes the detail-page heuristics.
type ExtractOptions struct {
	PriceMaxChars       int
	MaxDescriptionChars int
	FullTextLimit       int      // bytes of visible text scanned by full-page fallbacks
	ImagePathMarkers    []string // an image path must contain one of these
	ImageExcludeMarkers []string // and none of these
}

// Extractor turns a detail document into a RawCandidate.
type Extractor struct {
	opts ExtractOptions
}

// NewExtractor creates an Extractor, filling zero options with defaults.
func NewExtractor(opts ExtractOptions) *Extractor {
	if opts.PriceMaxChars <= 0 {
		opts.PriceMaxChars = 64
	}
	if opts.MaxDescriptionChars <= 0 {
		opts.MaxDescriptionChars = 8000
	}
	if opts.FullTextLimit <= 0 {
		opts.FullTextLimit = 64 * 1024
	}
	opts.ImagePathMarkers = lowerAll(opts.ImagePathMarkers)
	opts.ImageExcludeMarkers = lowerAll(opts.ImageExcludeMarkers)
	return &Extractor{opts: opts}
}

// Extract parses body fetched from pageURL. It returns ok=false when the page
// has no usable title; that is a dropped page, not an error.
func (e *Extractor) Extract(pageURL string, body []byte) (*model.RawCandidate, bool) {
	log := zap.L().With(zap.String("url", pageURL))

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		log.Warn("extract: parse document", zap.Error(err))
		return nil, false
	}

	title, _, ok := FirstMatch(doc, e.titleStrategies()...)
	if !ok {
		log.Debug("extract: no title, dropping page")
		return nil, false
	}

	raw := &model.RawCandidate{
		SourceURL: pageURL,
		TitleText: title,
	}

	price, priceBy, _ := FirstMatch(doc, e.priceStrategies()...)
	raw.PriceText = price

	// The full-text fallbacks share one walk of the document.
	fullText := lazyText(doc, e.opts.FullTextLimit)

	rooms, roomsBy, ok := FirstMatch(doc, e.featureStrategies(roomsValue, fullText)...)
	if ok {
		raw.FeatureFragments = append(raw.FeatureFragments, rooms)
	}
	size, sizeBy, ok := FirstMatch(doc, e.featureStrategies(sizeValue, fullText)...)
	if ok {
		raw.FeatureFragments = append(raw.FeatureFragments, size)
	}

	if base, err := url.Parse(pageURL); err == nil {
		raw.ImageURLs = e.images(doc, base)
	}
	raw.DescriptionText = e.description(doc)

	log.Debug("extract: candidate",
		zap.String("title", title),
		zap.String("price_by", priceBy),
		zap.String("rooms_by", roomsBy),
		zap.String("size_by", sizeBy),
		zap.Int("images", len(raw.ImageURLs)),
	)
	return raw, true
}

func (e *Extractor) titleStrategies() []Strategy[string] {
	firstText := func(selector string) Strategy[string] {
		return Strategy[string]{
			Name: selector,
			Extract: func(doc *goquery.Document) (string, bool) {
				var out string
				doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
					out = collapse(s.Text())
					return out == ""
				})
				return out, out != ""
			},
		}
	}
	return []Strategy[string]{firstText("h1"), firstText("h2"), firstText("title")}
}

func (e *Extractor) priceStrategies() []Strategy[string] {
	return []Strategy[string]{
		{
			Name: "itemprop-price",
			Extract: func(doc *goquery.Document) (string, bool) {
				s := doc.Find(`[itemprop="price"]`).First()
				if s.Length() == 0 {
					return "", false
				}
				v, _ := s.Attr("content")
				if v = collapse(v); v == "" {
					v = nodeText(s)
				}
				return v, digitRe.MatchString(v)
			},
		},
		{
			Name: "shortest-currency-fragment",
			Extract: func(doc *goquery.Document) (string, bool) {
				best := ""
				bestLen := 0
				eachVisible(doc, "body *", func(s *goquery.Selection) {
					t, ok := boundedText(s.Get(0), e.opts.PriceMaxChars)
					if !ok || t == "" {
						return
					}
					n := utf8.RuneCountInString(t)
					if !digitRe.MatchString(t) || !currencyRe.MatchString(t) {
						return
					}
					if best == "" || n < bestLen {
						best, bestLen = t, n
					}
				})
				return best, best != ""
			},
		},
	}
}

// featureStrategies builds the two-stage lookup for one labeled feature:
// short element texts first, then the capped full-page text for markup that
// splits label and value across elements. The value returned is the matched
// fragment, which the normalizer re-reads with MatchRooms or MatchSize.
func (e *Extractor) featureStrategies(feature labeledValue, fullText func() string) []Strategy[string] {
	return []Strategy[string]{
		{
			Name: "feature-nodes",
			Extract: func(doc *goquery.Document) (string, bool) {
				var out string
				eachVisible(doc, featureSelector, func(s *goquery.Selection) {
					if out != "" {
						return
					}
					t, ok := boundedText(s.Get(0), featureNodeMaxChars)
					if !ok || t == "" {
						return
					}
					if _, fragment, ok := feature.find(t); ok {
						out = fragment
					}
				})
				return out, out != ""
			},
		},
		{
			Name: "full-text",
			Extract: func(_ *goquery.Document) (string, bool) {
				_, fragment, ok := feature.find(fullText())
				return fragment, ok
			},
		},
	}
}

func (e *Extractor) images(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]bool)
	var out []string
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range []string{"data-src", "data-lazy-src", "src"} {
			v, ok := s.Attr(attr)
			if !ok {
				continue
			}
			u, ok := resolve(base, v)
			if !ok || !e.wantImage(u) {
				continue
			}
			abs := u.String()
			if !seen[abs] {
				seen[abs] = true
				out = append(out, abs)
			}
			return
		}
	})
	return out
}

func (e *Extractor) wantImage(u *url.URL) bool {
	full := strings.ToLower(u.String())
	for _, m := range e.opts.ImageExcludeMarkers {
		if strings.Contains(full, m) {
			return false
		}
	}
	if len(e.opts.ImagePathMarkers) == 0 {
		return true
	}
	p := strings.ToLower(u.Path)
	for _, m := range e.opts.ImagePathMarkers {
		if strings.Contains(p, m) {
			return true
		}
	}
	return false
}

func (e *Extractor) description(doc *goquery.Document) string {
	var paras []string
	total := 0
	doc.Find("p").Not("header p, footer p, nav p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		t := collapse(s.Text())
		if t == "" {
			return true
		}
		n := utf8.RuneCountInString(t)
		if total+n > e.opts.MaxDescriptionChars {
			if remain := e.opts.MaxDescriptionChars - total; remain > 0 {
				paras = append(paras, string([]rune(t)[:remain]))
			}
			return false
		}
		paras = append(paras, t)
		total += n + 2
		return true
	})
	return strings.Join(paras, "\n\n")
}

// eachVisible calls fn for every element matching selector that is not inside
// script, style or noscript.
func eachVisible(doc *goquery.Document, selector string, fn func(*goquery.Selection)) {
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if s.Is("script, style, noscript, template") || s.Closest("script, style, noscript, template").Length() > 0 {
			return
		}
		fn(s)
	})
}

// lazyText computes the capped visible text of doc on first use.
func lazyText(doc *goquery.Document, limit int) func() string {
	var (
		done bool
		text string
	)
	return func() string {
		if !done {
			text, done = visibleText(doc, limit), true
		}
		return text
	}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
