// Package normalize turns raw extracted fields into canonical listing values.
// Every function here is pure and deterministic.
package normalize

import (
	"strings"

	"github.com/sells-group/listing-ingest/internal/model"
)

// Options holds the defaults and limits applied during normalization.
type Options struct {
	DefaultPrice           int64
	DefaultRooms           int
	DefaultSizeSqm         int
	DefaultNeighborhood    string
	Gazetteer              []string
	MaxSlugLength          int
	MaxDescriptionLength   int
	ShortDescriptionLength int
	MaxImages              int
}

// Normalizer converts RawCandidates into NormalizedListings.
type Normalizer struct {
	opts      Options
	gazetteer *Gazetteer
}

// New creates a Normalizer, filling zero options with defaults.
func New(opts Options) *Normalizer {
	if opts.DefaultPrice <= 0 {
		opts.DefaultPrice = 1000000
	}
	if opts.DefaultRooms <= 0 {
		opts.DefaultRooms = 2
	}
	if opts.DefaultSizeSqm <= 0 {
		opts.DefaultSizeSqm = 100
	}
	if opts.DefaultNeighborhood == "" {
		opts.DefaultNeighborhood = "center"
	}
	if opts.MaxSlugLength <= 0 {
		opts.MaxSlugLength = DefaultMaxSlugLength
	}
	if opts.MaxDescriptionLength <= 0 {
		opts.MaxDescriptionLength = 4000
	}
	if opts.ShortDescriptionLength <= 0 {
		opts.ShortDescriptionLength = 200
	}
	if opts.MaxImages <= 0 {
		opts.MaxImages = 20
	}
	return &Normalizer{
		opts:      opts,
		gazetteer: NewGazetteer(opts.Gazetteer, opts.DefaultNeighborhood),
	}
}

// MaxSlugLength is the slug limit this normalizer enforces.
func (n *Normalizer) MaxSlugLength() int {
	return n.opts.MaxSlugLength
}

// Normalize maps raw to its canonical form. The slug is the title slug
// without a uniqueness token; the reconciler adds one on collision.
func (n *Normalizer) Normalize(raw model.RawCandidate) model.NormalizedListing {
	title := strings.Join(strings.Fields(raw.TitleText), " ")

	paras := paragraphs(raw.DescriptionText)
	if len(paras) == 0 && title != "" {
		paras = []string{title}
	}

	images := raw.ImageURLs
	if len(images) > n.opts.MaxImages {
		images = images[:n.opts.MaxImages]
	}

	return model.NormalizedListing{
		Title:            title,
		Slug:             Slug(title, n.opts.MaxSlugLength),
		PropertyType:     ClassifyProperty(title),
		Neighborhood:     n.gazetteer.Match(title),
		PriceAmount:      ParsePrice(raw.PriceText, n.opts.DefaultPrice),
		SizeSqm:          ParseSize(raw.FeatureFragments, n.opts.DefaultSizeSqm),
		RoomCount:        ParseRooms(raw.FeatureFragments, n.opts.DefaultRooms),
		Images:           append([]string(nil), images...),
		DescriptionShort: ShortDescription(paras, n.opts.ShortDescriptionLength),
		DescriptionLong:  LongDescription(paras, n.opts.MaxDescriptionLength),
		SourceURL:        raw.SourceURL,
	}
}
