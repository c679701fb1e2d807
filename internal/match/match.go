// Package match is the deterministic half of the hybrid extractor: fixed
// regex passes over listing markup. It never guesses; anything it cannot
// resolve is left nil for the semantic extractor to fill.
package match

import (
	"net/url"
	"strings"

	"rentwatch/internal/normalize"
	"rentwatch/internal/patterns"
)

// Link is an outbound page link as returned by the navigator.
type Link struct {
	Text string
	Href string
}

// ListingFields are the regex-resolvable listing attributes.
type ListingFields struct {
	Bedrooms  *int
	Bathrooms *float64
	Sqft      *int
}

// SnapshotFields are the regex-resolvable snapshot attributes.
type SnapshotFields struct {
	Availability *int
	PriceLow     *int
	PriceHigh    *int
}

// FloorplanLink returns the first outbound link whose href looks like a
// floor-plans path, resolved against baseURL. Empty string when none match.
func FloorplanLink(baseURL string, links []Link) string {
	base, baseErr := url.Parse(baseURL)
	for _, l := range links {
		if l.Href == "" || !patterns.FloorplanLink.MatchString(l.Href) {
			continue
		}
		if strings.HasPrefix(l.Href, "http") {
			return l.Href
		}
		if baseErr != nil {
			continue
		}
		ref, err := url.Parse(l.Href)
		if err != nil {
			continue
		}
		return base.ResolveReference(ref).String()
	}
	return ""
}

// cleanSpaces rewrites HTML non-breaking spaces as plain spaces so that \s in
// the pattern table matches them.
func cleanSpaces(text string) string {
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	return strings.ReplaceAll(text, "\u00a0", " ")
}

// Listing runs the ordered bedroom/bathroom/sqft passes over one listing
// snippet. The bathroom search starts just past the bedroom match so that a
// bathroom count is never read from an unrelated digit earlier in the
// snippet.
func Listing(text string) ListingFields {
	text = cleanSpaces(text)
	var f ListingFields

	bedsEnd := 0
	if m := patterns.Bedrooms1.FindStringSubmatchIndex(text); m != nil {
		f.Bedrooms = normalize.Bedrooms(text[m[2]:m[3]])
		bedsEnd = m[1]
	} else if m := patterns.Bedrooms2.FindStringSubmatchIndex(text); m != nil {
		f.Bedrooms = normalize.Bedrooms(text[m[2]:m[3]])
		bedsEnd = m[1]
	}

	rest := text[bedsEnd:]
	if m := patterns.Bathrooms1.FindStringSubmatch(rest); m != nil {
		f.Bathrooms = normalize.Float(m[1])
	} else if m := patterns.Bathrooms2.FindStringSubmatch(rest); m != nil {
		f.Bathrooms = normalize.Float(m[1])
	}

	if m := patterns.Sqft1.FindStringSubmatch(text); m != nil {
		f.Sqft = normalize.Int(m[1])
	} else if m := patterns.Sqft2.FindStringSubmatch(text); m != nil {
		f.Sqft = normalize.Int(m[1])
	}

	return f
}

// Snapshot runs the price and availability passes over one listing snippet.
func Snapshot(text string) SnapshotFields {
	text = cleanSpaces(text)
	var f SnapshotFields

	if m := patterns.Price.FindStringSubmatch(text); m != nil {
		f.PriceLow, f.PriceHigh = normalize.PriceRange(m[1], m[2])
	}
	if m := patterns.Availability.FindStringSubmatch(text); m != nil {
		f.Availability = normalize.Int(m[1])
	}

	return f
}
