package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/listing-ingest/internal/scrape"
)

// decimalFraction matches a trailing two-digit fraction such as the ",00" in
// "2.750.000,00 TL". Three digits after a separator are a thousands group.
// A single digit ("1.5 milyon") is not treated as a fraction; its
// separator is stripped like any other.
var decimalFraction = regexp.MustCompile(`[.,]\d{2}(\D*)$`)

// ParsePrice reads an integer amount out of free price text. Separators and
// currency markers are ignored. Zero, overflow and text without digits all
// yield def.
func ParsePrice(text string, def int64) int64 {
	text = decimalFraction.ReplaceAllString(strings.TrimSpace(text), "$1")

	var b strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	n, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// ParseRooms returns the room count from the first fragment carrying a room
// token. "3+1" counts the rooms before the plus.
func ParseRooms(fragments []string, def int) int {
	for _, f := range fragments {
		token, ok := scrape.MatchRooms(f)
		if !ok {
			continue
		}
		head, _, _ := strings.Cut(token, "+")
		if n, err := strconv.Atoi(head); err == nil {
			return n
		}
	}
	return def
}

// ParseSize returns the floor area in square meters from the first fragment
// carrying a size token.
func ParseSize(fragments []string, def int) int {
	for _, f := range fragments {
		token, ok := scrape.MatchSize(f)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(token); err == nil && n > 0 {
			return n
		}
	}
	return def
}
