// Package extract is the hybrid field extractor: ordered regex passes first,
// the semantic extractor only for the fields regex left unresolved, and a
// merge where the regex result always wins on conflict.
package extract

import (
	"context"
	"strings"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"

	"rentwatch/internal/llm"
	"rentwatch/internal/match"
	"rentwatch/internal/model"
	"rentwatch/internal/normalize"
	"rentwatch/internal/patterns"
)

// Field names as requested from the semantic extractor.
const (
	FieldListname     = "listname"
	FieldBedrooms     = "bedrooms"
	FieldBathrooms    = "bathrooms"
	FieldSqft         = "sqft"
	FieldSharedRoom   = "shared_room"
	FieldAvailability = "availability"
	FieldPrice        = "price"
	FieldPreDealPrice = "pre_deal_price"
	FieldDeals        = "deals"
)

// Extractor resolves listing and snapshot fields from one listing snippet.
type Extractor struct {
	llm  llm.Client
	conv *htmlmd.Converter
}

func New(client llm.Client) *Extractor {
	return &Extractor{
		llm:  client,
		conv: htmlmd.NewConverter("", true, nil),
	}
}

// promptText converts snippet HTML to markdown for the extractor prompt,
// falling back to the raw snippet when conversion fails.
func (e *Extractor) promptText(snippet string) string {
	md, err := e.conv.ConvertString(snippet)
	if err != nil || strings.TrimSpace(md) == "" {
		return snippet
	}
	return md
}

// Listing resolves the listing-level fields of one snippet. The second
// return is false when no usable natural key (listname) could be resolved;
// such snippets cannot become listing rows.
func (e *Extractor) Listing(ctx context.Context, snippet string) (model.Listing, bool) {
	deterministic := match.Listing(snippet)

	missing := []string{FieldListname, FieldSharedRoom}
	if deterministic.Bedrooms == nil {
		missing = append(missing, FieldBedrooms)
	}
	if deterministic.Bathrooms == nil {
		missing = append(missing, FieldBathrooms)
	}
	if deterministic.Sqft == nil {
		missing = append(missing, FieldSqft)
	}

	// Extractor failure is non-fatal: unresolved fields stay nil.
	semantic, err := e.llm.ExtractFields(ctx, e.promptText(snippet), missing)
	if err != nil {
		semantic = map[string]string{}
	}

	listing := model.Listing{
		Listname:  semantic[FieldListname],
		Bedrooms:  deterministic.Bedrooms,
		Bathrooms: deterministic.Bathrooms,
		Sqft:      deterministic.Sqft,
	}
	if listing.Bedrooms == nil {
		listing.Bedrooms = normalize.Bedrooms(semantic[FieldBedrooms])
	}
	if listing.Bathrooms == nil {
		listing.Bathrooms = normalize.Float(semantic[FieldBathrooms])
	}
	if listing.Sqft == nil {
		listing.Sqft = normalize.Int(semantic[FieldSqft])
	}
	if v, ok := semantic[FieldSharedRoom]; ok {
		shared := strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
		listing.SharedRoom = &shared
	}

	return listing, listing.Listname != ""
}

// Snapshot resolves the snapshot-level fields of one snippet. The second
// return is false when no listname could be resolved to attach the snapshot
// to.
func (e *Extractor) Snapshot(ctx context.Context, snippet string) (model.ListingSnapshot, bool) {
	deterministic := match.Snapshot(snippet)

	missing := []string{FieldListname, FieldPreDealPrice, FieldDeals}
	if deterministic.Availability == nil {
		missing = append(missing, FieldAvailability)
	}
	if deterministic.PriceLow == nil {
		missing = append(missing, FieldPrice)
	}

	semantic, err := e.llm.ExtractFields(ctx, e.promptText(snippet), missing)
	if err != nil {
		semantic = map[string]string{}
	}

	snap := model.ListingSnapshot{
		Listname:     semantic[FieldListname],
		Availability: deterministic.Availability,
		PriceLow:     deterministic.PriceLow,
		PriceHigh:    deterministic.PriceHigh,
	}
	if snap.Availability == nil {
		snap.Availability = normalize.Int(semantic[FieldAvailability])
	}
	if snap.PriceLow == nil {
		snap.PriceLow, snap.PriceHigh = parsePrice(semantic[FieldPrice])
	}
	snap.PreDealPrice = parseSingle(semantic[FieldPreDealPrice])
	if v := strings.TrimSpace(semantic[FieldDeals]); v != "" {
		snap.Deals = &v
	}

	return snap, snap.Listname != ""
}

// parsePrice canonicalizes an extractor-supplied price string, which may be
// a single value or a low-high range.
func parsePrice(s string) (*int, *int) {
	if s == "" {
		return nil, nil
	}
	if m := patterns.Price.FindStringSubmatch(s); m != nil {
		return normalize.PriceRange(m[1], m[2])
	}
	return normalize.Int(s), nil
}

func parseSingle(s string) *int {
	if s == "" {
		return nil
	}
	if m := patterns.Price.FindStringSubmatch(s); m != nil {
		return normalize.Int(m[1])
	}
	return normalize.Int(s)
}
