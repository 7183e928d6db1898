package reconcile

import (
	"strings"

	"github.com/sells-group/listing-ingest/internal/model"
	"github.com/sells-group/listing-ingest/internal/normalize"
)

// KeySet is the set of titles and slugs already taken, seeded from the store
// and grown as the run inserts. It is owned by one goroutine.
type KeySet struct {
	titles map[string]struct{}
	slugs  map[string]struct{}
}

// NewKeySet seeds a KeySet from stored listing keys.
func NewKeySet(keys []model.ListingKey) *KeySet {
	k := &KeySet{
		titles: make(map[string]struct{}, len(keys)),
		slugs:  make(map[string]struct{}, len(keys)),
	}
	for _, key := range keys {
		k.Add(key.Title, key.Slug)
	}
	return k
}

// titleKey compares titles case- and accent-insensitively with whitespace
// collapsed, so "Deniz  Manzaralı Villa" and "deniz manzarali villa" collide.
func titleKey(title string) string {
	return normalize.Fold(strings.Join(strings.Fields(title), " "))
}

// HasTitle reports whether title is taken.
func (k *KeySet) HasTitle(title string) bool {
	_, ok := k.titles[titleKey(title)]
	return ok
}

// HasSlug reports whether slug is taken.
func (k *KeySet) HasSlug(slug string) bool {
	_, ok := k.slugs[slug]
	return ok
}

// Add marks a title and slug as taken. Empty values are ignored.
func (k *KeySet) Add(title, slug string) {
	if t := titleKey(title); t != "" {
		k.titles[t] = struct{}{}
	}
	if slug != "" {
		k.slugs[slug] = struct{}{}
	}
}

// Len returns the number of distinct titles.
func (k *KeySet) Len() int {
	return len(k.titles)
}
