package scrape

import (
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExtractor() *Extractor {
	return NewExtractor(ExtractOptions{
		PriceMaxChars:       64,
		MaxDescriptionChars: 500,
		FullTextLimit:       4096,
		ImagePathMarkers:    []string{"/uploads/"},
		ImageExcludeMarkers: []string{"logo", "icon"},
	})
}

const villaPage = `<html><head><title>Villa | Emlak</title>
<script>var price = "99 TL";</script></head>
<body>
<header><img src="/uploads/logo.png"><p>Ayvalık'ın emlak ofisi</p></header>
<h1>  Deniz Manzaralı
  Villa </h1>
<div class="box">
  <span class="label">Fiyat</span>
  <div class="price-box">Fiyat: <span class="price">2.750.000 TL</span></div>
</div>
<ul class="features">
  <li>Oda Sayısı: 3+1</li>
  <li>Brüt 180 m²</li>
</ul>
<div class="gallery">
  <img src="/uploads/villa-1.jpg">
  <img data-src="/uploads/villa-2.jpg" src="/assets/placeholder.gif">
  <img src="/uploads/villa-1.jpg">
  <img src="/uploads/icon-pool.svg">
  <img src="/static/map.png">
</div>
<p>Cunda'da denize sıfır villa.</p>
<p></p>
<p>Geniş bahçe ve havuz.</p>
<footer><p>Tüm hakları saklıdır</p></footer>
</body></html>`

func TestExtract_FullPage(t *testing.T) {
	raw, ok := newTestExtractor().Extract("https://emlak.example.com/ilan/1", []byte(villaPage))
	require.True(t, ok)

	assert.Equal(t, "https://emlak.example.com/ilan/1", raw.SourceURL)
	assert.Equal(t, "Deniz Manzaralı Villa", raw.TitleText)
	assert.Equal(t, "2.750.000 TL", raw.PriceText)
	assert.Equal(t, []string{"Oda Sayısı: 3+1", "Brüt 180"}, raw.FeatureFragments)
	assert.Equal(t, []string{
		"https://emlak.example.com/uploads/villa-1.jpg",
		"https://emlak.example.com/uploads/villa-2.jpg",
	}, raw.ImageURLs)
	assert.Equal(t, "Cunda'da denize sıfır villa.\n\nGeniş bahçe ve havuz.", raw.DescriptionText)
}

func TestExtract_NoTitleIsNoCandidate(t *testing.T) {
	_, ok := newTestExtractor().Extract("https://emlak.example.com/ilan/2", []byte(`<html><body><p>2.000.000 TL</p></body></html>`))
	assert.False(t, ok)
}

func TestExtract_TitleFallbacks(t *testing.T) {
	e := newTestExtractor()

	raw, ok := e.Extract("u", []byte(`<h1> </h1><h2>Cunda Taş Ev</h2>`))
	require.True(t, ok)
	assert.Equal(t, "Cunda Taş Ev", raw.TitleText)

	raw, ok = e.Extract("u", []byte(`<html><head><title>Sarımsaklı Daire</title></head><body></body></html>`))
	require.True(t, ok)
	assert.Equal(t, "Sarımsaklı Daire", raw.TitleText)
}

func TestExtract_UnicodeSpaceTitleFallsBack(t *testing.T) {
	raw, ok := newTestExtractor().Extract("u", []byte(`<h1>&#8195;&#8202;&nbsp;</h1><h2>Deniz&#8195;Manzaralı Villa</h2>`))
	require.True(t, ok)
	assert.Equal(t, "Deniz Manzaralı Villa", raw.TitleText)
}

func TestExtract_UnicodeSpaceOnlyPageIsDropped(t *testing.T) {
	_, ok := newTestExtractor().Extract("u", []byte(`<html><head><title>&#8195;</title></head><body><h1>&#12288;</h1></body></html>`))
	assert.False(t, ok)
}

func TestCollapse(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Deniz   villa ", "Deniz villa"},
		{"\u2003x\u00a0y\u3000", "x y"},
		{"\u2003\u2009\u200a", ""},
		{"a\n\tb", "a b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, collapse(tt.in), "collapse(%q)", tt.in)
	}
}

func TestBoundedText(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<div id="d"> Fiyat:<b>&nbsp;2.750.000</b>  <i>TL</i>&#8195;</div>`))
	require.NoError(t, err)
	sel := doc.Find("#d")

	got, ok := boundedText(sel.Get(0), 64)
	require.True(t, ok)
	assert.Equal(t, collapse(sel.Text()), got)
	assert.Equal(t, "Fiyat: 2.750.000 TL", got)

	_, ok = boundedText(sel.Get(0), 10)
	assert.False(t, ok)
}

func TestExtract_DeepNestingStaysBounded(t *testing.T) {
	const depth = 300
	filler := strings.Repeat("lorem ipsum ", 450)

	var b strings.Builder
	b.WriteString("<html><body><h1>Villa</h1>")
	for i := 0; i < depth; i++ {
		b.WriteString("<div>" + filler)
	}
	b.WriteString("<span>1.250.000 TL</span><li>Oda Sayısı: 4+1</li>")
	for i := 0; i < depth; i++ {
		b.WriteString("</div>")
	}
	b.WriteString("</body></html>")

	start := time.Now()
	raw, ok := newTestExtractor().Extract("u", []byte(b.String()))
	elapsed := time.Since(start)

	require.True(t, ok)
	assert.Equal(t, "1.250.000 TL", raw.PriceText)
	require.NotEmpty(t, raw.FeatureFragments)
	rooms, ok := MatchRooms(raw.FeatureFragments[0])
	require.True(t, ok)
	assert.Equal(t, "4+1", rooms)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestExtract_ItempropPriceWins(t *testing.T) {
	raw, ok := newTestExtractor().Extract("u", []byte(`<h1>Arsa</h1>
		<span>5 TL</span>
		<meta itemprop="price" content="1250000">`))
	require.True(t, ok)
	assert.Equal(t, "1250000", raw.PriceText)
}

func TestExtract_PriceRequiresDigitAndCurrency(t *testing.T) {
	raw, ok := newTestExtractor().Extract("u", []byte(`<h1>Daire</h1>
		<span>Fiyat sorunuz TL</span><span>2024</span>`))
	require.True(t, ok)
	assert.Empty(t, raw.PriceText)
}

func TestExtract_FeaturesSplitAcrossNodes(t *testing.T) {
	raw, ok := newTestExtractor().Extract("u", []byte(`<h1>Müstakil Ev</h1>
		<dl><dt>Oda Sayısı</dt><dd>4+1</dd><dt>Alan</dt><dd>220</dd></dl>`))
	require.True(t, ok)
	require.Len(t, raw.FeatureFragments, 2)

	rooms, ok := MatchRooms(raw.FeatureFragments[0])
	require.True(t, ok)
	assert.Equal(t, "4+1", rooms)
	size, ok := MatchSize(raw.FeatureFragments[1])
	require.True(t, ok)
	assert.Equal(t, "220", size)
}

func TestExtract_FullTextIsCapped(t *testing.T) {
	e := NewExtractor(ExtractOptions{FullTextLimit: 64})
	page := `<h1>Villa</h1><div>` + strings.Repeat("<span>lorem</span> ", 50) + `</div><dl><dt>Oda</dt><dd>5</dd></dl>`
	raw, ok := e.Extract("u", []byte(page))
	require.True(t, ok)
	assert.Empty(t, raw.FeatureFragments)
}

func TestMatchRooms(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Oda Sayısı: 3+1", "3+1", true},
		{"ODA SAYISI 2 + 1", "2+1", true},
		{"Rooms: 4", "4", true},
		{"3 bedrooms", "", false},
		{"3+1 daire", "3+1", true},
		{"Odalar geniş", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := MatchRooms(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestMatchSize(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Brüt 180 m²", "180", true},
		{"Net m2: 150", "150", true},
		{"Alan: 1200", "1200", true},
		{"Living area 95", "95", true},
		{"450 m² arsa", "450", true},
		{"Deniz manzarası", "", false},
	}
	for _, tt := range tests {
		got, ok := MatchSize(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFirstMatch(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<p>x</p>`))
	require.NoError(t, err)

	never := Strategy[int]{Name: "never", Extract: func(*goquery.Document) (int, bool) { return 0, false }}
	seven := Strategy[int]{Name: "seven", Extract: func(*goquery.Document) (int, bool) { return 7, true }}
	eight := Strategy[int]{Name: "eight", Extract: func(*goquery.Document) (int, bool) { return 8, true }}

	v, name, ok := FirstMatch(doc, never, seven, eight)
	assert.True(t, ok)
	assert.Equal(t, 7, v)
	assert.Equal(t, "seven", name)

	_, _, ok = FirstMatch(doc, never)
	assert.False(t, ok)
}

func TestVisibleText_SkipsScriptsAndCaps(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<body><script>alert(1)</script><style>p{}</style><p>Deniz</p><p>manzaralı   villa</p></body>`))
	require.NoError(t, err)

	assert.Equal(t, "Deniz manzaralı villa", visibleText(doc, 1000))
	assert.Equal(t, "Deniz manzaral", visibleText(doc, 15))
}
