package match

import "testing"

func TestFloorplanLink(t *testing.T) {
	links := []Link{
		{Text: "About", Href: "https://example.com/about"},
		{Text: "Floor Plans", Href: "/floorplans/"},
		{Text: "Contact", Href: "https://example.com/contact"},
	}

	got := FloorplanLink("https://example.com", links)
	if got != "https://example.com/floorplans/" {
		t.Fatalf("FloorplanLink = %q, want resolved floorplans link", got)
	}

	if got := FloorplanLink("https://example.com", links[:1]); got != "" {
		t.Fatalf("FloorplanLink with no match = %q, want empty", got)
	}

	// Absolute hrefs are returned untouched.
	abs := []Link{{Text: "Plans", Href: "https://other.com/floor-plans"}}
	if got := FloorplanLink("https://example.com", abs); got != "https://other.com/floor-plans" {
		t.Fatalf("FloorplanLink absolute = %q", got)
	}
}

func TestListing(t *testing.T) {
	f := Listing("Apex&nbsp;2 Beds 2 Baths 1,050 sq ft")
	if f.Bedrooms == nil || *f.Bedrooms != 2 {
		t.Fatalf("bedrooms = %v, want 2", f.Bedrooms)
	}
	if f.Bathrooms == nil || *f.Bathrooms != 2 {
		t.Fatalf("bathrooms = %v, want 2", f.Bathrooms)
	}
	if f.Sqft == nil || *f.Sqft != 1050 {
		t.Fatalf("sqft = %v, want 1050", f.Sqft)
	}
}

func TestListingStudio(t *testing.T) {
	f := Listing("Studio bed | 1 bath | 480 sqft")
	if f.Bedrooms == nil || *f.Bedrooms != 0 {
		t.Fatalf("bedrooms = %v, want 0 for studio", f.Bedrooms)
	}
	if f.Bathrooms == nil || *f.Bathrooms != 1 {
		t.Fatalf("bathrooms = %v, want 1", f.Bathrooms)
	}
}

func TestListingAltPhrasing(t *testing.T) {
	f := Listing("Beds: 3 Baths: 2")
	if f.Bedrooms == nil || *f.Bedrooms != 3 {
		t.Fatalf("bedrooms = %v, want 3", f.Bedrooms)
	}
	if f.Bathrooms == nil || *f.Bathrooms != 2 {
		t.Fatalf("bathrooms = %v, want 2", f.Bathrooms)
	}
}

func TestListingSqftLabeled(t *testing.T) {
	f := Listing("Size sq ft: 1,400")
	if f.Sqft == nil || *f.Sqft != 1400 {
		t.Fatalf("sqft = %v, want 1400", f.Sqft)
	}
}

// A digit appearing before the bedroom phrase must not be read as a bathroom
// count; the bathroom pass starts after the bedroom match.
func TestListingBathroomAfterBedroom(t *testing.T) {
	f := Listing("Unit 4 floor 2 Beds 1 Bath")
	if f.Bedrooms == nil || *f.Bedrooms != 2 {
		t.Fatalf("bedrooms = %v, want 2", f.Bedrooms)
	}
	if f.Bathrooms == nil || *f.Bathrooms != 1 {
		t.Fatalf("bathrooms = %v, want 1", f.Bathrooms)
	}
}

func TestListingPartial(t *testing.T) {
	f := Listing("2 Beds")
	if f.Bedrooms == nil || *f.Bedrooms != 2 {
		t.Fatalf("bedrooms = %v, want 2", f.Bedrooms)
	}
	if f.Bathrooms != nil || f.Sqft != nil {
		t.Fatalf("bathrooms/sqft should stay nil, got %v %v", f.Bathrooms, f.Sqft)
	}
}

func TestSnapshotPrices(t *testing.T) {
	cases := []struct {
		text     string
		low      int
		high     int
		hasHigh  bool
		noPrices bool
	}{
		{text: "$1,695to-$1,760", low: 1695, high: 1760, hasHigh: true},
		{text: "$2720 – $2720", low: 2720, high: 2720, hasHigh: true},
		{text: "$1,816 - $2,720", low: 1816, high: 2720, hasHigh: true},
		{text: "$1,950", low: 1950},
		{text: "$ 1,335", low: 1335},
		{text: "no price here", noPrices: true},
	}

	for _, c := range cases {
		f := Snapshot(c.text)
		if c.noPrices {
			if f.PriceLow != nil || f.PriceHigh != nil {
				t.Fatalf("Snapshot(%q) = (%v, %v), want no prices", c.text, f.PriceLow, f.PriceHigh)
			}
			continue
		}
		if f.PriceLow == nil || *f.PriceLow != c.low {
			t.Fatalf("Snapshot(%q) low = %v, want %d", c.text, f.PriceLow, c.low)
		}
		if c.hasHigh && (f.PriceHigh == nil || *f.PriceHigh != c.high) {
			t.Fatalf("Snapshot(%q) high = %v, want %d", c.text, f.PriceHigh, c.high)
		}
	}
}

func TestSnapshotAvailability(t *testing.T) {
	f := Snapshot("3 Available units starting at $900")
	if f.Availability == nil || *f.Availability != 3 {
		t.Fatalf("availability = %v, want 3", f.Availability)
	}
}
