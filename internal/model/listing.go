package model

import "time"

// PropertyType is the canonical category of a listing.
type PropertyType string

const (
	PropertyApartment   PropertyType = "apartment"
	PropertyVilla       PropertyType = "villa"
	PropertyLand        PropertyType = "land"
	PropertyHouse       PropertyType = "house"
	PropertySummerHouse PropertyType = "summer-house"
)

// Valid reports whether p is one of the known property types.
func (p PropertyType) Valid() bool {
	switch p {
	case PropertyApartment, PropertyVilla, PropertyLand, PropertyHouse, PropertySummerHouse:
		return true
	default:
		return false
	}
}

// RawCandidate is the loosely-typed field set pulled from one detail page.
// It lives only for the duration of a run.
type RawCandidate struct {
	SourceURL        string   `json:"source_url"`
	TitleText        string   `json:"title_text"`
	PriceText        string   `json:"price_text,omitempty"`
	DescriptionText  string   `json:"description_text,omitempty"`
	FeatureFragments []string `json:"feature_fragments,omitempty"` // Ordered snippets carrying keyed values
	ImageURLs        []string `json:"image_urls,omitempty"`        // Absolute, first-seen order, no duplicates
}

// NormalizedListing is the canonical, persisted listing record.
type NormalizedListing struct {
	ID               int64        `json:"id,omitempty"`
	Title            string       `json:"title"`
	Slug             string       `json:"slug"`
	PropertyType     PropertyType `json:"property_type"`
	Neighborhood     string       `json:"neighborhood"`
	PriceAmount      int64        `json:"price_amount"`
	SizeSqm          int          `json:"size_sqm"`
	RoomCount        int          `json:"room_count"`
	Images           []string     `json:"images,omitempty"`
	DescriptionShort string       `json:"description_short"`
	DescriptionLong  string       `json:"description_long"`
	SourceURL        string       `json:"source_url"`
	CreatedAt        time.Time    `json:"created_at,omitempty"`
}

// ListingKey is the identifying subset of a stored listing used for
// duplicate detection.
type ListingKey struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Slug  string `json:"slug"`
}
