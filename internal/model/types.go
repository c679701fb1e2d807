package model

import "encoding/json"

// Topology describes where a site's floor-plan listings live.
type Topology string

const (
	// TopologyListingsHere means the seeded page itself shows all listings.
	TopologyListingsHere Topology = "listings_here"
	// TopologySingleLink means one dedicated floor-plans page serves the site.
	TopologySingleLink Topology = "single_link"
	// TopologyMultiProperty means the site hosts several buildings, each with
	// its own floor-plans page.
	TopologyMultiProperty Topology = "multi_property"
	// TopologyUnknown means classification could not decide.
	TopologyUnknown Topology = "unknown"
)

// Site is a seeded real-estate website under observation.
type Site struct {
	ID                int64
	Name              string
	URL               string
	FloorplansURL     *string
	State             *string
	Address           *string
	Amenities         json.RawMessage
	Deals             json.RawMessage
	ContainerSelector *string
	ListingCount      *int
}

// Property is one building belonging to a multi-property site.
type Property struct {
	ID                int64
	SiteID            int64
	Title             string
	FloorplansURL     *string
	Address           *string
	Amenities         json.RawMessage
	ContainerSelector *string
	ListingCount      *int
}

// FloorplanTarget is one page to scrape during a run. It is derived from the
// sites and properties tables each run and never persisted on its own. The
// owner is the site when PropertyID is nil, otherwise the property.
type FloorplanTarget struct {
	SiteID     int64
	PropertyID *int64
	URL        string
}

// Scope identifies the owner of a selector, listing, or count: a site plus an
// optional property.
type Scope struct {
	SiteID     int64
	PropertyID *int64
}

// Scope returns the owner scope of the target.
func (t FloorplanTarget) Scope() Scope {
	return Scope{SiteID: t.SiteID, PropertyID: t.PropertyID}
}

// Listing is one floor-plan row, created once per (scope, listname) and never
// duplicated.
type Listing struct {
	ID         int64
	SiteID     int64
	PropertyID *int64
	Listname   string
	Bedrooms   *int
	Bathrooms  *float64
	Sqft       *int
	SharedRoom *bool
	Amenities  json.RawMessage
}

// ListingSnapshot is an append-only observation of a listing's price and
// availability. Listname is resolved to a listing id at insert time.
type ListingSnapshot struct {
	Listname     string
	Availability *int
	PriceLow     *int
	PriceHigh    *int
	PreDealPrice *int
	Deals        *string
}

// CandidateSelectorSet is a ranked sequence of 1-3 container selector
// proposals, best first.
type CandidateSelectorSet []string

// SiteClassification is the semantic extractor's verdict for an unvisited
// site, plus whatever page-level metadata it could read along the way.
type SiteClassification struct {
	Topology      Topology
	FloorplansURL string
	Properties    []PropertyLink
	State         string
	Address       string
	Amenities     string
	Deals         string
}

// PropertyLink is one building discovered during multi-property
// classification.
type PropertyLink struct {
	Title         string
	FloorplansURL string
	Address       string
	Amenities     string
}
