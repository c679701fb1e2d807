package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"rentwatch/internal/llm"
	"rentwatch/internal/match"
	"rentwatch/internal/metrics"
	"rentwatch/internal/model"
	"rentwatch/internal/nav"
	"rentwatch/internal/store"
)

type fakePage struct {
	text     string
	links    []match.Link
	count    int
	snippets []string
}

func (p *fakePage) VisibleText() (string, error)            { return p.text, nil }
func (p *fakePage) OutboundLinks() ([]match.Link, error)    { return p.links, nil }
func (p *fakePage) LocateAll(string) (int, []string, error) { return p.count, p.snippets, nil }
func (p *fakePage) WaitFor(string, time.Duration) error     { return nil }
func (p *fakePage) ElementIDs(int) ([]string, error)        { return nil, nil }
func (p *fakePage) Close() error                            { return nil }

type fakeNavigator struct {
	pages map[string]*fakePage
	fail  map[string]error
}

func (n *fakeNavigator) OpenPage(_ context.Context, url string, _ time.Duration) (nav.Page, error) {
	if err, ok := n.fail[url]; ok {
		return nil, err
	}
	p, ok := n.pages[url]
	if !ok {
		return nil, errors.New("no page for " + url)
	}
	return p, nil
}

type fakeLLM struct {
	cls    model.SiteClassification
	clsErr error
}

func (f *fakeLLM) ClassifySiteTopology(context.Context, string, string) (model.SiteClassification, error) {
	return f.cls, f.clsErr
}
func (f *fakeLLM) ProposeContainerSelectors(context.Context, string, string) (model.CandidateSelectorSet, error) {
	return nil, errors.New("not used")
}
func (f *fakeLLM) ExtractFields(context.Context, string, []string) (map[string]string, error) {
	return nil, errors.New("not used")
}

var _ llm.Client = (*fakeLLM)(nil)

type fakeResolver struct {
	selector string
	err      error
}

func (r *fakeResolver) Resolve(context.Context, model.FloorplanTarget, nav.Page) (string, error) {
	return r.selector, r.err
}

// fakeFields maps a snippet to a listing whose listname is the snippet
// itself, which keeps test assertions direct. Snippets prefixed "pricing-"
// act like cards that show prices but no resolvable plan name: the listing
// extraction fails while the snapshot still carries a listname.
type fakeFields struct{}

func (fakeFields) Listing(_ context.Context, snippet string) (model.Listing, bool) {
	if snippet == "" || strings.HasPrefix(snippet, "pricing-") {
		return model.Listing{}, false
	}
	return model.Listing{Listname: snippet}, true
}

func (fakeFields) Snapshot(_ context.Context, snippet string) (model.ListingSnapshot, bool) {
	if snippet == "" {
		return model.ListingSnapshot{}, false
	}
	return model.ListingSnapshot{Listname: snippet}, true
}

type fakeStore struct {
	sites   []model.Site
	visited map[int64]bool
	targets []model.FloorplanTarget
	counts  map[model.Scope]int

	upserted     map[int64]store.SiteUpdate
	properties   map[int64][]model.PropertyLink
	setCounts    map[model.Scope]int
	rows         map[string]bool
	listings     []model.Listing
	snapshots    []model.ListingSnapshot
	setCountErr  error
	finishedWith store.RunStats
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		visited:    map[int64]bool{},
		counts:     map[model.Scope]int{},
		upserted:   map[int64]store.SiteUpdate{},
		properties: map[int64][]model.PropertyLink{},
		setCounts:  map[model.Scope]int{},
		rows:       map[string]bool{},
	}
}

// rowKey mirrors the unique index on (site_id, COALESCE(property_id, 0),
// listname).
func rowKey(scope model.Scope, listname string) string {
	prop := int64(0)
	if scope.PropertyID != nil {
		prop = *scope.PropertyID
	}
	return fmt.Sprintf("%d/%d/%s", scope.SiteID, prop, listname)
}

// seedListing plants a listing row as if created by an earlier run.
func (s *fakeStore) seedListing(scope model.Scope, listname string) {
	s.rows[rowKey(scope, listname)] = true
}

func (s *fakeStore) GetAllSites(context.Context) ([]model.Site, error) { return s.sites, nil }
func (s *fakeStore) PreviouslyVisited(_ context.Context, id int64) (bool, error) {
	return s.visited[id], nil
}
func (s *fakeStore) UpsertSite(_ context.Context, id int64, upd store.SiteUpdate) error {
	s.upserted[id] = upd
	return nil
}
func (s *fakeStore) InsertProperties(_ context.Context, id int64, props []model.PropertyLink) error {
	s.properties[id] = props
	return nil
}
func (s *fakeStore) GetFloorplanTargets(context.Context) ([]model.FloorplanTarget, error) {
	return s.targets, nil
}
func (s *fakeStore) GetListingCount(_ context.Context, scope model.Scope) (*int, error) {
	if n, ok := s.counts[scope]; ok {
		return &n, nil
	}
	return nil, nil
}
func (s *fakeStore) SetListingCount(_ context.Context, scope model.Scope, n int) error {
	if s.setCountErr != nil {
		return s.setCountErr
	}
	s.setCounts[scope] = n
	return nil
}

// InsertListings honors the natural key: a (scope, listname) that already
// has a row is a no-op, exactly like the conflict-ignore insert.
func (s *fakeStore) InsertListings(_ context.Context, scope model.Scope, listings []model.Listing) (int, error) {
	inserted := 0
	for _, l := range listings {
		if l.Listname == "" {
			continue
		}
		k := rowKey(scope, l.Listname)
		if s.rows[k] {
			continue
		}
		s.rows[k] = true
		s.listings = append(s.listings, l)
		inserted++
	}
	return inserted, nil
}

// InsertSnapshots resolves each listname against existing listing rows and
// silently drops snapshots with no row to attach to.
func (s *fakeStore) InsertSnapshots(_ context.Context, scope model.Scope, snaps []model.ListingSnapshot) (int, error) {
	inserted := 0
	for _, snap := range snaps {
		if !s.rows[rowKey(scope, snap.Listname)] {
			continue
		}
		s.snapshots = append(s.snapshots, snap)
		inserted++
	}
	return inserted, nil
}
func (s *fakeStore) StartRun(context.Context) (uuid.UUID, error) { return uuid.New(), nil }
func (s *fakeStore) FinishRun(_ context.Context, _ uuid.UUID, stats store.RunStats) error {
	s.finishedWith = stats
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(st *fakeStore, navigator nav.Navigator, client llm.Client, resolver SelectorResolver) *Orchestrator {
	return New(st, navigator, client, resolver, fakeFields{}, nil, nil, testLogger(), Options{MaxSessions: 2})
}

func TestRunClassifiesUnvisitedSites(t *testing.T) {
	metrics.Reset()
	st := newFakeStore()
	st.sites = []model.Site{
		{ID: 1, Name: "maple", URL: "https://maple.test/"},
		{ID: 2, Name: "oak", URL: "https://oak.test/"},
	}
	st.visited[2] = true

	navigator := &fakeNavigator{pages: map[string]*fakePage{
		"https://maple.test/": {
			text:  "<body>welcome</body>",
			links: []match.Link{{Text: "Floor Plans", Href: "https://maple.test/floorplans"}},
		},
	}}
	client := &fakeLLM{cls: model.SiteClassification{State: "WA", Address: "12 Maple St"}}

	o := newTestOrchestrator(st, navigator, client, &fakeResolver{err: errors.New("no targets here")})
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	upd, ok := st.upserted[1]
	if !ok {
		t.Fatal("unvisited site was not persisted")
	}
	if upd.FloorplansURL == nil || *upd.FloorplansURL != "https://maple.test/floorplans" {
		t.Fatalf("floorplans url = %v, want regex link", upd.FloorplansURL)
	}
	if upd.State == nil || *upd.State != "WA" {
		t.Fatalf("state = %v, want WA", upd.State)
	}
	if _, ok := st.upserted[2]; ok {
		t.Fatal("previously visited site was reclassified")
	}
	if st.finishedWith.SitesClassified != 1 {
		t.Fatalf("classified = %d, want 1", st.finishedWith.SitesClassified)
	}
}

func TestRunRegexLinkBeatsExtractorURL(t *testing.T) {
	metrics.Reset()
	st := newFakeStore()
	st.sites = []model.Site{{ID: 1, Name: "maple", URL: "https://maple.test/"}}

	navigator := &fakeNavigator{pages: map[string]*fakePage{
		"https://maple.test/": {
			links: []match.Link{{Text: "floorplans", Href: "/floor-plans"}},
		},
	}}
	client := &fakeLLM{cls: model.SiteClassification{FloorplansURL: "https://maple.test/wrong"}}

	o := newTestOrchestrator(st, navigator, client, &fakeResolver{})
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	upd := st.upserted[1]
	if upd.FloorplansURL == nil || *upd.FloorplansURL != "https://maple.test/floor-plans" {
		t.Fatalf("floorplans url = %v, want resolved regex link", upd.FloorplansURL)
	}
}

func TestRunClassificationSurvivesExtractorFailure(t *testing.T) {
	metrics.Reset()
	st := newFakeStore()
	st.sites = []model.Site{{ID: 1, Name: "maple", URL: "https://maple.test/"}}

	navigator := &fakeNavigator{pages: map[string]*fakePage{
		"https://maple.test/": {
			links: []match.Link{{Text: "plans", Href: "https://maple.test/floorplan"}},
		},
	}}
	client := &fakeLLM{clsErr: errors.New("model unavailable")}

	o := newTestOrchestrator(st, navigator, client, &fakeResolver{})
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	upd, ok := st.upserted[1]
	if !ok {
		t.Fatal("site with a regex link should classify despite extractor failure")
	}
	if upd.FloorplansURL == nil || *upd.FloorplansURL != "https://maple.test/floorplan" {
		t.Fatalf("floorplans url = %v", upd.FloorplansURL)
	}
}

func TestRunInsertsListingsOnChangedCount(t *testing.T) {
	metrics.Reset()
	st := newFakeStore()
	st.targets = []model.FloorplanTarget{{SiteID: 1, URL: "https://maple.test/floorplans"}}
	prev := model.Scope{SiteID: 1}
	st.counts[prev] = 3

	navigator := &fakeNavigator{pages: map[string]*fakePage{
		"https://maple.test/floorplans": {
			count:    4,
			snippets: []string{"A1", "B2", "C3", "D4"},
		},
	}}

	o := newTestOrchestrator(st, navigator, &fakeLLM{}, &fakeResolver{selector: "div.card"})
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(st.listings) != 4 {
		t.Fatalf("listings inserted = %d, want 4", len(st.listings))
	}
	if got := st.setCounts[prev]; got != 4 {
		t.Fatalf("persisted count = %d, want 4", got)
	}
	if len(st.snapshots) != 4 {
		t.Fatalf("snapshots inserted = %d, want 4", len(st.snapshots))
	}
	if st.finishedWith.TargetsScraped != 1 {
		t.Fatalf("scraped = %d, want 1", st.finishedWith.TargetsScraped)
	}
}

func TestRunUnchangedCountStillSnapshots(t *testing.T) {
	metrics.Reset()
	st := newFakeStore()
	st.targets = []model.FloorplanTarget{{SiteID: 1, URL: "https://maple.test/floorplans"}}
	st.counts[model.Scope{SiteID: 1}] = 2
	st.seedListing(model.Scope{SiteID: 1}, "A1")
	st.seedListing(model.Scope{SiteID: 1}, "B2")

	navigator := &fakeNavigator{pages: map[string]*fakePage{
		"https://maple.test/floorplans": {
			count:    2,
			snippets: []string{"A1", "B2"},
		},
	}}

	o := newTestOrchestrator(st, navigator, &fakeLLM{}, &fakeResolver{selector: "div.card"})
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(st.listings) != 0 {
		t.Fatalf("listings inserted = %d, want 0 on unchanged count", len(st.listings))
	}
	if len(st.snapshots) != 2 {
		t.Fatalf("snapshots inserted = %d, want 2", len(st.snapshots))
	}
	if !strings.Contains(metrics.Render(), "rentwatch_targets_skipped_total 1") {
		t.Fatal("skip was not recorded")
	}
}

func TestRunZeroSnippetsSkipsTarget(t *testing.T) {
	metrics.Reset()
	st := newFakeStore()
	st.targets = []model.FloorplanTarget{{SiteID: 1, URL: "https://maple.test/floorplans"}}

	navigator := &fakeNavigator{pages: map[string]*fakePage{
		"https://maple.test/floorplans": {count: 0},
	}}

	o := newTestOrchestrator(st, navigator, &fakeLLM{}, &fakeResolver{selector: "div.card"})
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(st.listings) != 0 || len(st.snapshots) != 0 {
		t.Fatal("empty match list must persist nothing")
	}
}

func TestRunContainsTargetFailures(t *testing.T) {
	metrics.Reset()
	st := newFakeStore()
	st.targets = []model.FloorplanTarget{
		{SiteID: 1, URL: "https://down.test/floorplans"},
		{SiteID: 2, URL: "https://up.test/floorplans"},
	}

	navigator := &fakeNavigator{
		pages: map[string]*fakePage{
			"https://up.test/floorplans": {count: 1, snippets: []string{"A1"}},
		},
		fail: map[string]error{
			"https://down.test/floorplans": nav.ErrNavigationTimeout,
		},
	}

	o := newTestOrchestrator(st, navigator, &fakeLLM{}, &fakeResolver{selector: "div.card"})
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if st.finishedWith.TargetsFailed != 1 {
		t.Fatalf("failed = %d, want 1", st.finishedWith.TargetsFailed)
	}
	if st.finishedWith.TargetsScraped != 1 {
		t.Fatalf("scraped = %d, want 1", st.finishedWith.TargetsScraped)
	}
	if len(st.listings) != 1 {
		t.Fatalf("listings = %d, want the healthy target's row", len(st.listings))
	}
}

// A listname that already has a row must not gain a second one on a
// re-scrape, while its snapshot still resolves to the existing row.
func TestRunDuplicateListnameYieldsOneRow(t *testing.T) {
	metrics.Reset()
	st := newFakeStore()
	scope := model.Scope{SiteID: 1}
	st.targets = []model.FloorplanTarget{{SiteID: 1, URL: "https://maple.test/floorplans"}}
	st.counts[scope] = 1
	st.seedListing(scope, "A1")

	// One more card than last run, so the change detector re-extracts all
	// of them, including the already-known A1.
	navigator := &fakeNavigator{pages: map[string]*fakePage{
		"https://maple.test/floorplans": {
			count:    2,
			snippets: []string{"A1", "B2"},
		},
	}}

	o := newTestOrchestrator(st, navigator, &fakeLLM{}, &fakeResolver{selector: "div.card"})
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(st.listings) != 1 || st.listings[0].Listname != "B2" {
		t.Fatalf("created rows = %v, want only B2", st.listings)
	}
	if len(st.snapshots) != 2 {
		t.Fatalf("snapshots = %d, want both listnames resolved", len(st.snapshots))
	}
	if st.finishedWith.ListingsInserted != 1 {
		t.Fatalf("run record listings = %d, want 1", st.finishedWith.ListingsInserted)
	}
}

// A snapshot whose listname never produced a listing row is dropped, not
// inserted against a guessed row.
func TestRunSnapshotWithoutListingRowDropped(t *testing.T) {
	metrics.Reset()
	st := newFakeStore()
	st.targets = []model.FloorplanTarget{{SiteID: 1, URL: "https://maple.test/floorplans"}}

	navigator := &fakeNavigator{pages: map[string]*fakePage{
		"https://maple.test/floorplans": {
			count:    2,
			snippets: []string{"A1", "pricing-teaser"},
		},
	}}

	o := newTestOrchestrator(st, navigator, &fakeLLM{}, &fakeResolver{selector: "div.card"})
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(st.listings) != 1 || st.listings[0].Listname != "A1" {
		t.Fatalf("created rows = %v, want only A1", st.listings)
	}
	if len(st.snapshots) != 1 || st.snapshots[0].Listname != "A1" {
		t.Fatalf("snapshots = %v, want only A1's", st.snapshots)
	}
}

func TestRunKeepsPartialInsertsOnFailure(t *testing.T) {
	metrics.Reset()
	st := newFakeStore()
	st.targets = []model.FloorplanTarget{{SiteID: 1, URL: "https://maple.test/floorplans"}}
	st.setCountErr = errors.New("connection reset")

	navigator := &fakeNavigator{pages: map[string]*fakePage{
		"https://maple.test/floorplans": {
			count:    2,
			snippets: []string{"A1", "B2"},
		},
	}}

	o := newTestOrchestrator(st, navigator, &fakeLLM{}, &fakeResolver{selector: "div.card"})
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if st.finishedWith.TargetsFailed != 1 {
		t.Fatalf("failed = %d, want 1", st.finishedWith.TargetsFailed)
	}
	if st.finishedWith.ListingsInserted != 2 {
		t.Fatalf("run record listings = %d, want the rows written before the failure", st.finishedWith.ListingsInserted)
	}
}

func TestRefinePrunesUnitTypeProperties(t *testing.T) {
	cls := model.SiteClassification{
		Properties: []model.PropertyLink{
			{Title: "2 Bedroom Deluxe", FloorplansURL: "https://x.test/2bed"},
			{Title: "Studio Flat", FloorplansURL: "https://x.test/studio"},
			{Title: "The Birchwood", FloorplansURL: "https://x.test/birchwood"},
		},
	}
	got := Refine(cls, "")
	if got.Topology != model.TopologySingleLink {
		t.Fatalf("topology = %v, want collapse to single link", got.Topology)
	}
	if got.FloorplansURL != "https://x.test/birchwood" {
		t.Fatalf("floorplans url = %q", got.FloorplansURL)
	}
	if got.Properties != nil {
		t.Fatalf("properties = %v, want none", got.Properties)
	}
}

func TestRefineKeepsGenuineMultiProperty(t *testing.T) {
	cls := model.SiteClassification{
		FloorplansURL: "https://x.test/plans",
		Properties: []model.PropertyLink{
			{Title: "The Birchwood", FloorplansURL: "https://x.test/birchwood"},
			{Title: "Cedar Court", FloorplansURL: "https://x.test/cedar"},
		},
	}
	got := Refine(cls, "https://x.test/regex")
	if got.Topology != model.TopologyMultiProperty {
		t.Fatalf("topology = %v, want multi-property", got.Topology)
	}
	if got.FloorplansURL != "" {
		t.Fatalf("multi-property classification kept a site-level url %q", got.FloorplansURL)
	}
	if len(got.Properties) != 2 {
		t.Fatalf("properties = %d, want 2", len(got.Properties))
	}
}

func TestRefineUnknownWithoutAnySignal(t *testing.T) {
	got := Refine(model.SiteClassification{}, "")
	if got.Topology != model.TopologyUnknown {
		t.Fatalf("topology = %v, want unknown", got.Topology)
	}
}

func TestRefinePreservesListingsHere(t *testing.T) {
	cls := model.SiteClassification{
		Topology:      model.TopologyListingsHere,
		FloorplansURL: "https://x.test/",
	}
	got := Refine(cls, "")
	if got.Topology != model.TopologyListingsHere {
		t.Fatalf("topology = %v, want listings-here preserved", got.Topology)
	}
}
