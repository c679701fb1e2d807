// Package normalize canonicalizes numeric text fragments pulled out of
// listing markup: prices with currency symbols and thousands separators,
// bare integers, and bedroom tokens.
package normalize

import (
	"strconv"
	"strings"
)

// Int parses a loosely formatted integer fragment ("1,200", " 850 ").
// Decimals are truncated. Returns nil when the fragment is empty or
// unparseable.
func Int(s string) *int {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	s = strings.TrimPrefix(s, "$")
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	n := int(f)
	return &n
}

// Float parses a loosely formatted decimal fragment ("1.5", "2").
func Float(s string) *float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// PriceRange canonicalizes the two capture groups of the price pattern into
// an integer low/high pair. The high bound is nil for single prices. A pair
// where high < low is discarded entirely rather than partially guessed.
func PriceRange(low, high string) (*int, *int) {
	l := Int(low)
	if l == nil {
		return nil, nil
	}
	h := Int(high)
	if h == nil {
		return l, nil
	}
	if *h < *l {
		return nil, nil
	}
	return l, h
}

// Bedrooms converts a bedroom capture to an integer; "studio" counts as 0.
func Bedrooms(s string) *int {
	if strings.EqualFold(strings.TrimSpace(s), "studio") {
		n := 0
		return &n
	}
	return Int(s)
}
