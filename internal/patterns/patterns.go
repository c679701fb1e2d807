// Package patterns holds the process-wide regex table and known-good
// container selector templates. Everything here is compiled once at init and
// must never be mutated at runtime; consumers receive it by reference.
package patterns

import "regexp"

var (
	// FloorplanLink matches link paths that look like a dedicated
	// floor-plans page ("/floorplans", "/floor-plan/", "/#floorplans").
	FloorplanLink = regexp.MustCompile(`/#?floor-?plans?/?`)

	// Bedrooms1 matches "2 beds", "1 bd", "Studio bed".
	Bedrooms1 = regexp.MustCompile(`(?i)(studio|[1-9])\s{1,3}(?:beds?|bd)`)
	// Bedrooms2 matches "beds: 2", "bd 1".
	Bedrooms2 = regexp.MustCompile(`(?i)(?:beds?:?|bd:?)\s{1,3}(studio|[1-9])`)

	// Bathrooms1 matches "2 baths", "1.5 ba"; the capture holds the integer
	// part only, matching the phrasing seen in the wild.
	Bathrooms1 = regexp.MustCompile(`(?i)([1-9])(?:\.[0-9]{1,2})?\s{1,3}(?:baths?|ba)`)
	// Bathrooms2 matches "baths: 2", "ba 1.5".
	Bathrooms2 = regexp.MustCompile(`(?i)(?:baths?:?|ba:?)\s{1,3}([1-9])(?:\.[0-9]{1,2})?`)

	// Sqft1 matches "850 sq ft", "1,200 sqft.".
	Sqft1 = regexp.MustCompile(`(?i)([\d,]+)\s{1,3}sq\.?\s*ft\.?\s*`)
	// Sqft2 matches "sq ft: 850".
	Sqft2 = regexp.MustCompile(`(?i)sq\.?\s*ft\.?\s*:?\s{1,3}([\d,]+)`)

	// Price matches a single dollar amount or a low-high range separated by a
	// dash, en-dash, or "to". Group 1 is the low bound, group 2 the optional
	// high bound.
	Price = regexp.MustCompile(`\$\s*([\d,]+(?:\.\d{2})?)\s*(?:[-–]|to\s*[-–]?)?\s*\$?\s*([\d,]+(?:\.\d{2})?)?`)

	// Availability matches "3 Available units".
	Availability = regexp.MustCompile(`(?i)(\d)\s*Available\s(?:units?)`)

	// UnitTypeTitle matches titles that name a floor-plan type rather than a
	// building ("2-Bedroom", "Studio br"). Used to prune false properties
	// during topology classification.
	UnitTypeTitle = regexp.MustCompile(`(?i)(\b|_)(\d+|studio)[\s\-]*(bed|br|bedroom|bdrm)`)
)

// CommonContainerSelectors are selector shapes that have isolated listing
// cards on real sites. They are passed to the semantic extractor as examples
// when proposing candidates; they are not tried blindly.
var CommonContainerSelectors = []string{
	"div.fp-card",
	"div.floorplan",
	"div.floor-plan",
	"div.floorplan-card",
	"div.plan-card",
	"div.unit-card",
	"div.apartment-card",
	"div.listing-card",
	"article.floorplan",
	"section.floorplan",
	"[id^='fp-']",
	"[id^='floorplan-']",
	"[id^='plan-']",
	"[id^='unit-']",
	"[id^='eg-post-']",
	"[id^='listing-']",
	"[data-floorplan]",
	"[data-unit-type]",
	"[data-plan]",
	".floorplans-container > div",
	".floor-plans-grid > div",
	".units-list > div",
	"[role='article']",
	"[itemtype*='Apartment']",
}

// ContainerTraits describe what a good container element wraps. They are
// included in selector-proposal prompts verbatim.
var ContainerTraits = []string{
	"Contains bedroom/bathroom count",
	"Contains square footage",
	"Contains price or price range",
	"Contains floor plan name/title",
	"Contains availability information",
	"Has consistent structure across multiple listings",
	"Wraps all related listing information together",
}
