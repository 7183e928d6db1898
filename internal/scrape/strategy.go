package scrape

import "github.com/PuerkitoBio/goquery"

// Strategy is one named way of pulling a field out of a parsed page.
// Extract reports ok=false when the strategy found nothing usable.
type Strategy[T any] struct {
	Name    string
	Extract func(doc *goquery.Document) (T, bool)
}

// FirstMatch runs strategies in order and returns the first usable value
// along with the name of the strategy that produced it.
func FirstMatch[T any](doc *goquery.Document, strategies ...Strategy[T]) (T, string, bool) {
	for _, s := range strategies {
		if v, ok := s.Extract(doc); ok {
			return v, s.Name, true
		}
	}
	var zero T
	return zero, "", false
}
