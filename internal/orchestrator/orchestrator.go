// Package orchestrator enumerates classification and scrape work, bounds
// browser concurrency with a counting gate, and isolates every task's
// failure from its siblings.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"rentwatch/internal/cache"
	"rentwatch/internal/llm"
	"rentwatch/internal/match"
	"rentwatch/internal/metrics"
	"rentwatch/internal/model"
	"rentwatch/internal/nav"
	"rentwatch/internal/patterns"
	"rentwatch/internal/robots"
	"rentwatch/internal/selector"
	"rentwatch/internal/store"
)

// Store is the persistence surface the orchestrator consumes.
type Store interface {
	GetAllSites(ctx context.Context) ([]model.Site, error)
	PreviouslyVisited(ctx context.Context, siteID int64) (bool, error)
	UpsertSite(ctx context.Context, siteID int64, upd store.SiteUpdate) error
	InsertProperties(ctx context.Context, siteID int64, props []model.PropertyLink) error
	GetFloorplanTargets(ctx context.Context) ([]model.FloorplanTarget, error)
	GetListingCount(ctx context.Context, scope model.Scope) (*int, error)
	SetListingCount(ctx context.Context, scope model.Scope, n int) error
	InsertListings(ctx context.Context, scope model.Scope, listings []model.Listing) (int, error)
	InsertSnapshots(ctx context.Context, scope model.Scope, snaps []model.ListingSnapshot) (int, error)
	StartRun(ctx context.Context) (uuid.UUID, error)
	FinishRun(ctx context.Context, id uuid.UUID, stats store.RunStats) error
}

// SelectorResolver resolves a container selector for a target against an
// open page.
type SelectorResolver interface {
	Resolve(ctx context.Context, target model.FloorplanTarget, page nav.Page) (string, error)
}

// FieldExtractor turns one listing snippet into listing and snapshot fields.
type FieldExtractor interface {
	Listing(ctx context.Context, snippet string) (model.Listing, bool)
	Snapshot(ctx context.Context, snippet string) (model.ListingSnapshot, bool)
}

// Options tune one Orchestrator.
type Options struct {
	// MaxSessions bounds simultaneously open browser sessions.
	MaxSessions int
	PageTimeout time.Duration
	// Interval re-runs the batch on a ticker; 0 runs once.
	Interval time.Duration
}

// Orchestrator drives one or more batch runs.
type Orchestrator struct {
	store    Store
	nav      nav.Navigator
	llm      llm.Client
	resolver SelectorResolver
	fields   FieldExtractor
	pages    *cache.PageText
	robots   *robots.Checker
	log      *slog.Logger
	opts     Options
}

func New(st Store, navigator nav.Navigator, client llm.Client, resolver SelectorResolver, fields FieldExtractor, pages *cache.PageText, rb *robots.Checker, log *slog.Logger, opts Options) *Orchestrator {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 5
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 20 * time.Second
	}
	return &Orchestrator{
		store:    st,
		nav:      navigator,
		llm:      client,
		resolver: resolver,
		fields:   fields,
		pages:    pages,
		robots:   rb,
		log:      log,
		opts:     opts,
	}
}

// Start runs one batch, then keeps re-running on the configured interval
// until the context is cancelled. With no interval it returns after the
// first batch.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.Run(ctx); err != nil {
		return err
	}
	if o.opts.Interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(o.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := o.Run(ctx); err != nil {
				o.log.Error("batch run failed", "error", err)
			}
		}
	}
}

// Run executes one full batch: classify unvisited sites, then scrape every
// floorplan target. Individual task failures are contained and logged; only
// work-list loading errors abort the batch.
func (o *Orchestrator) Run(ctx context.Context) error {
	runID, err := o.store.StartRun(ctx)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	var stats store.RunStats
	sem := make(chan struct{}, o.opts.MaxSessions)

	sites, err := o.store.GetAllSites(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, site := range sites {
		visited, err := o.store.PreviouslyVisited(ctx, site.ID)
		if err != nil {
			return err
		}
		if visited {
			continue
		}
		site := site
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if o.classifySite(ctx, site) {
				mu.Lock()
				stats.SitesClassified++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	targets, err := o.store.GetFloorplanTargets(ctx)
	if err != nil {
		return err
	}

	for _, target := range targets {
		target := target
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			listings, snapshots, err := o.scrapeTarget(ctx, target)
			mu.Lock()
			defer mu.Unlock()
			// Rows written before the failure still count.
			stats.ListingsInserted += listings
			stats.SnapshotsInserted += snapshots
			if err != nil {
				stats.TargetsFailed++
				return
			}
			stats.TargetsScraped++
		}()
	}
	wg.Wait()

	if err := o.store.FinishRun(ctx, runID, stats); err != nil {
		o.log.Warn("finish run record failed", "run", runID, "error", err)
	}
	o.log.Info("batch finished",
		"run", runID,
		"classified", stats.SitesClassified,
		"scraped", stats.TargetsScraped,
		"failed", stats.TargetsFailed,
		"listings", stats.ListingsInserted,
		"snapshots", stats.SnapshotsInserted)
	return nil
}

// classifySite decides where an unvisited site's listings live and persists
// the result. Returns false when classification produced nothing usable.
func (o *Orchestrator) classifySite(ctx context.Context, site model.Site) bool {
	o.log.Info("classifying site", "site", site.Name, "url", site.URL)

	page, err := o.nav.OpenPage(ctx, site.URL, o.opts.PageTimeout)
	metrics.RecordPageOpen(err == nil)
	if err != nil {
		o.failTarget("classification", site.URL, err)
		return false
	}
	defer page.Close()

	text, err := o.pageText(ctx, site.URL, page)
	if err != nil {
		o.failTarget("classification", site.URL, err)
		return false
	}
	links, err := page.OutboundLinks()
	if err != nil {
		o.failTarget("classification", site.URL, err)
		return false
	}

	regexLink := match.FloorplanLink(site.URL, links)

	cls, err := o.llm.ClassifySiteTopology(ctx, site.URL, text)
	metrics.RecordLLMCall("classify_topology", err == nil)
	if err != nil {
		if regexLink == "" {
			o.failTarget("classification", site.URL, err)
			return false
		}
		// The deterministic link alone is enough to proceed.
		o.log.Warn("topology classification failed, keeping regex link", "url", site.URL, "error", err)
		cls = model.SiteClassification{}
	}

	cls = Refine(cls, regexLink)
	if cls.Topology == model.TopologyUnknown {
		o.log.Warn("site topology unknown", "site", site.Name, "url", site.URL)
		return false
	}

	upd := store.SiteUpdate{
		State:     optional(cls.State),
		Address:   optional(cls.Address),
		Amenities: optional(cls.Amenities),
		Deals:     optional(cls.Deals),
	}
	if cls.Topology != model.TopologyMultiProperty {
		upd.FloorplansURL = optional(cls.FloorplansURL)
	}
	if err := o.store.UpsertSite(ctx, site.ID, upd); err != nil {
		o.failTarget("persistence", site.URL, err)
		return false
	}
	if cls.Topology == model.TopologyMultiProperty {
		if err := o.store.InsertProperties(ctx, site.ID, cls.Properties); err != nil {
			o.failTarget("persistence", site.URL, err)
			return false
		}
	}
	return true
}

// Refine applies the deterministic-over-semantic precedence and the
// unit-type pruning to a raw classification. The regex link, when present,
// always wins over the extractor's URL. Multi-property results keep only
// entries that name a building rather than a floor-plan type; with fewer
// than two genuine properties left, topology collapses to a single link.
func Refine(cls model.SiteClassification, regexLink string) model.SiteClassification {
	kept := cls.Properties[:0:0]
	for _, p := range cls.Properties {
		if patterns.UnitTypeTitle.MatchString(p.Title) {
			continue
		}
		kept = append(kept, p)
	}
	cls.Properties = kept

	if len(cls.Properties) < 2 {
		if cls.FloorplansURL == "" && len(cls.Properties) == 1 {
			cls.FloorplansURL = cls.Properties[0].FloorplansURL
		}
		cls.Properties = nil
	}

	if regexLink != "" && len(cls.Properties) == 0 {
		cls.FloorplansURL = regexLink
	}

	switch {
	case len(cls.Properties) > 0:
		cls.Topology = model.TopologyMultiProperty
		cls.FloorplansURL = ""
	case cls.FloorplansURL != "":
		if cls.Topology != model.TopologyListingsHere {
			cls.Topology = model.TopologySingleLink
		}
	default:
		cls.Topology = model.TopologyUnknown
	}
	return cls
}

// scrapeTarget runs the scrape flow for one floorplan target: resolve a
// selector, detect change, extract, persist. Returns inserted listing and
// snapshot counts.
func (o *Orchestrator) scrapeTarget(ctx context.Context, target model.FloorplanTarget) (int, int, error) {
	if o.robots != nil && !o.robots.Allowed(ctx, target.URL) {
		o.log.Info("target disallowed by robots.txt", "url", target.URL)
		return 0, 0, nil
	}

	page, err := o.nav.OpenPage(ctx, target.URL, o.opts.PageTimeout)
	metrics.RecordPageOpen(err == nil)
	if err != nil {
		cause := "navigation"
		if errors.Is(err, nav.ErrNavigationTimeout) {
			cause = "navigation_timeout"
		}
		o.failTarget(cause, target.URL, err)
		return 0, 0, err
	}
	defer page.Close()

	sel, err := o.resolver.Resolve(ctx, target, page)
	if err != nil {
		if errors.Is(err, selector.ErrNoSelector) {
			o.failTarget("selector", target.URL, err)
		} else {
			o.failTarget("persistence", target.URL, err)
		}
		return 0, 0, err
	}

	count, snippets, err := page.LocateAll(sel)
	if err != nil {
		o.failTarget("locate", target.URL, err)
		return 0, 0, err
	}
	if len(snippets) == 0 {
		o.log.Warn("no listing containers found", "url", target.URL, "selector", sel)
		return 0, 0, nil
	}

	scope := target.Scope()
	prev, err := o.store.GetListingCount(ctx, scope)
	if err != nil {
		o.failTarget("persistence", target.URL, err)
		return 0, 0, err
	}

	insertedListings := 0
	if prev == nil || *prev != count {
		listings := make([]model.Listing, 0, len(snippets))
		for _, snippet := range snippets {
			if l, ok := o.fields.Listing(ctx, snippet); ok {
				listings = append(listings, l)
			}
		}
		if len(listings) == 0 {
			o.log.Warn("extraction produced no listings", "url", target.URL)
		} else {
			insertedListings, err = o.store.InsertListings(ctx, scope, listings)
			if err != nil {
				o.failTarget("persistence", target.URL, err)
				return insertedListings, 0, err
			}
			if err := o.store.SetListingCount(ctx, scope, count); err != nil {
				o.failTarget("persistence", target.URL, err)
				return insertedListings, 0, err
			}
			o.log.Info("listings inserted", "url", target.URL, "count", insertedListings)
		}
	} else {
		metrics.RecordTargetSkipped()
		o.log.Debug("listing count unchanged, skipping inserts", "url", target.URL, "count", count)
	}

	// Prices and availability move without the card count changing, so a
	// snapshot is captured even when listing inserts were skipped.
	snaps := make([]model.ListingSnapshot, 0, len(snippets))
	for _, snippet := range snippets {
		if snap, ok := o.fields.Snapshot(ctx, snippet); ok {
			snaps = append(snaps, snap)
		}
	}
	insertedSnaps, err := o.store.InsertSnapshots(ctx, scope, snaps)
	if err != nil {
		o.failTarget("persistence", target.URL, err)
		return insertedListings, insertedSnaps, err
	}

	metrics.RecordInserts(insertedListings, insertedSnaps)
	return insertedListings, insertedSnaps, nil
}

// pageText returns cleaned page text, consulting the cache first.
func (o *Orchestrator) pageText(ctx context.Context, url string, page nav.Page) (string, error) {
	if text, ok := o.pages.Get(ctx, url); ok {
		return text, nil
	}
	text, err := page.VisibleText()
	if err != nil {
		return "", err
	}
	o.pages.Set(ctx, url, text)
	return text, nil
}

func (o *Orchestrator) failTarget(cause, url string, err error) {
	metrics.RecordTargetFailure(cause)
	o.log.Error("target failed", "cause", cause, "url", url, "error", err)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
