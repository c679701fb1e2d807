// Package store wraps all database access behind focused operations on a
// shared pooled *sql.DB. Writes are single statements; there are no
// multi-step transactions, so a crash mid-target leaves recoverable partial
// state rather than corruption.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sqlc-dev/pqtype"

	"rentwatch/internal/model"
)

// Store provides persistence for sites, properties, listings, and snapshots.
type Store struct {
	DB *sql.DB
}

// New creates a Store over a shared *sql.DB with pooling.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// SiteUpdate carries the classification results applied to a site row. Nil
// fields leave the stored value untouched.
type SiteUpdate struct {
	FloorplansURL *string
	State         *string
	Address       *string
	Amenities     *string
	Deals         *string
}

// GetAllSites returns the full seeded roster.
func (s *Store) GetAllSites(ctx context.Context) ([]model.Site, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, name, url, floorplans_url, state, address, amenities, deals,
		       container_selector, listing_count
		FROM sites ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []model.Site
	for rows.Next() {
		var st model.Site
		var fpURL, state, address, selector sql.NullString
		var amenities, deals pqtype.NullRawMessage
		var count sql.NullInt32
		if err := rows.Scan(&st.ID, &st.Name, &st.URL, &fpURL, &state, &address,
			&amenities, &deals, &selector, &count); err != nil {
			return nil, err
		}
		st.FloorplansURL = strPtr(fpURL)
		st.State = strPtr(state)
		st.Address = strPtr(address)
		st.ContainerSelector = strPtr(selector)
		st.ListingCount = intPtr(count)
		if amenities.Valid {
			st.Amenities = amenities.RawMessage
		}
		if deals.Valid {
			st.Deals = deals.RawMessage
		}
		sites = append(sites, st)
	}
	return sites, rows.Err()
}

// PreviouslyVisited reports whether classification already ran for the site:
// a stored floorplans URL or at least one property row.
func (s *Store) PreviouslyVisited(ctx context.Context, siteID int64) (bool, error) {
	var visited bool
	err := s.DB.QueryRowContext(ctx, `
		SELECT (s.floorplans_url IS NOT NULL)
		       OR EXISTS (SELECT 1 FROM properties p WHERE p.site_id = s.id)
		FROM sites s WHERE s.id = $1`, siteID).Scan(&visited)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return visited, err
}

// UpsertSite applies classification results to a site row.
func (s *Store) UpsertSite(ctx context.Context, siteID int64, upd SiteUpdate) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE sites SET
			floorplans_url = COALESCE($2, floorplans_url),
			state          = COALESCE($3, state),
			address        = COALESCE($4, address),
			amenities      = COALESCE($5, amenities),
			deals          = COALESCE($6, deals),
			updated_at     = now()
		WHERE id = $1`,
		siteID,
		nullStr(upd.FloorplansURL),
		nullStr(upd.State),
		nullStr(upd.Address),
		nullJSONText(upd.Amenities),
		nullJSONText(upd.Deals))
	return err
}

// InsertProperties creates property rows for a multi-property site. Re-runs
// are no-ops thanks to the (site_id, title) unique constraint.
func (s *Store) InsertProperties(ctx context.Context, siteID int64, props []model.PropertyLink) error {
	for _, p := range props {
		_, err := s.DB.ExecContext(ctx, `
			INSERT INTO properties (site_id, title, floorplans_url, address, amenities)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (site_id, title) DO NOTHING`,
			siteID, p.Title, nullStrVal(p.FloorplansURL), nullStrVal(p.Address),
			nullJSONTextVal(p.Amenities))
		if err != nil {
			return err
		}
	}
	return nil
}

// GetFloorplanTargets derives the work list: one target per site with a
// direct floor-plans URL, plus one per property URL.
func (s *Store) GetFloorplanTargets(ctx context.Context) ([]model.FloorplanTarget, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT s.id, NULL::bigint, s.floorplans_url
		FROM sites s
		WHERE s.floorplans_url IS NOT NULL
		UNION ALL
		SELECT p.site_id, p.id, p.floorplans_url
		FROM properties p
		WHERE p.floorplans_url IS NOT NULL
		ORDER BY 1, 2`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []model.FloorplanTarget
	for rows.Next() {
		var t model.FloorplanTarget
		var propID sql.NullInt64
		if err := rows.Scan(&t.SiteID, &propID, &t.URL); err != nil {
			return nil, err
		}
		if propID.Valid {
			t.PropertyID = &propID.Int64
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// GetSelector returns the cached container selector for the owner scope, or
// nil when none is stored.
func (s *Store) GetSelector(ctx context.Context, scope model.Scope) (*string, error) {
	var sel sql.NullString
	var err error
	if scope.PropertyID != nil {
		err = s.DB.QueryRowContext(ctx,
			`SELECT container_selector FROM properties WHERE id = $1`,
			*scope.PropertyID).Scan(&sel)
	} else {
		err = s.DB.QueryRowContext(ctx,
			`SELECT container_selector FROM sites WHERE id = $1`,
			scope.SiteID).Scan(&sel)
	}
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return strPtr(sel), nil
}

// SaveSelector caches the resolved selector against the owner scope.
func (s *Store) SaveSelector(ctx context.Context, scope model.Scope, selector string) error {
	var err error
	if scope.PropertyID != nil {
		_, err = s.DB.ExecContext(ctx,
			`UPDATE properties SET container_selector = $2 WHERE id = $1`,
			*scope.PropertyID, selector)
	} else {
		_, err = s.DB.ExecContext(ctx,
			`UPDATE sites SET container_selector = $2, updated_at = now() WHERE id = $1`,
			scope.SiteID, selector)
	}
	return err
}

// GetListingCount returns the persisted selector cardinality for the owner
// scope, or nil when no scrape has succeeded yet.
func (s *Store) GetListingCount(ctx context.Context, scope model.Scope) (*int, error) {
	var count sql.NullInt32
	var err error
	if scope.PropertyID != nil {
		err = s.DB.QueryRowContext(ctx,
			`SELECT listing_count FROM properties WHERE id = $1`,
			*scope.PropertyID).Scan(&count)
	} else {
		err = s.DB.QueryRowContext(ctx,
			`SELECT listing_count FROM sites WHERE id = $1`,
			scope.SiteID).Scan(&count)
	}
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return intPtr(count), nil
}

// SetListingCount records the selector cardinality after a successful scrape.
func (s *Store) SetListingCount(ctx context.Context, scope model.Scope, n int) error {
	var err error
	if scope.PropertyID != nil {
		_, err = s.DB.ExecContext(ctx,
			`UPDATE properties SET listing_count = $2 WHERE id = $1`,
			*scope.PropertyID, n)
	} else {
		_, err = s.DB.ExecContext(ctx,
			`UPDATE sites SET listing_count = $2, updated_at = now() WHERE id = $1`,
			scope.SiteID, n)
	}
	return err
}

// InsertListings inserts listing rows under the owner scope. Duplicate
// (scope, listname) inserts are no-ops. Returns the number of rows actually
// created.
func (s *Store) InsertListings(ctx context.Context, scope model.Scope, listings []model.Listing) (int, error) {
	inserted := 0
	for _, l := range listings {
		if l.Listname == "" {
			continue
		}
		res, err := s.DB.ExecContext(ctx, `
			INSERT INTO listings (site_id, property_id, listname, bedrooms, bathrooms, sqft, shared_room, amenities)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (site_id, COALESCE(property_id, 0), listname) DO NOTHING`,
			scope.SiteID, nullInt64Ptr(scope.PropertyID), l.Listname,
			nullIntPtr(l.Bedrooms), nullFloatPtr(l.Bathrooms), nullIntPtr(l.Sqft),
			nullBoolPtr(l.SharedRoom), nullRaw(l.Amenities))
		if err != nil {
			return inserted, err
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	return inserted, nil
}

// InsertSnapshots appends snapshot rows, resolving each listname to its
// listing row within the owner scope. Snapshots whose listname is not yet
// known are dropped silently. Returns the number of rows created.
func (s *Store) InsertSnapshots(ctx context.Context, scope model.Scope, snaps []model.ListingSnapshot) (int, error) {
	inserted := 0
	for _, snap := range snaps {
		if snap.Listname == "" {
			continue
		}
		res, err := s.DB.ExecContext(ctx, `
			INSERT INTO listing_snapshots (listing_id, availability, price_low, price_high, pre_deal_price, deals)
			SELECT l.id, $4, $5, $6, $7, $8
			FROM listings l
			WHERE l.site_id = $1
			  AND l.property_id IS NOT DISTINCT FROM $2
			  AND l.listname = $3`,
			scope.SiteID, nullInt64Ptr(scope.PropertyID), snap.Listname,
			nullIntPtr(snap.Availability), nullIntPtr(snap.PriceLow),
			nullIntPtr(snap.PriceHigh), nullIntPtr(snap.PreDealPrice),
			nullStr(snap.Deals))
		if err != nil {
			return inserted, err
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	return inserted, nil
}

// ListingsForSite returns every listing under a site, property-owned rows
// included.
func (s *Store) ListingsForSite(ctx context.Context, siteID int64) ([]model.Listing, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, site_id, property_id, listname, bedrooms, bathrooms, sqft, shared_room, amenities
		FROM listings WHERE site_id = $1
		ORDER BY property_id NULLS FIRST, listname`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		var l model.Listing
		var propID sql.NullInt64
		var beds, sqft sql.NullInt32
		var baths sql.NullFloat64
		var shared sql.NullBool
		var amenities pqtype.NullRawMessage
		if err := rows.Scan(&l.ID, &l.SiteID, &propID, &l.Listname,
			&beds, &baths, &sqft, &shared, &amenities); err != nil {
			return nil, err
		}
		if propID.Valid {
			l.PropertyID = &propID.Int64
		}
		l.Bedrooms = intPtr(beds)
		l.Sqft = intPtr(sqft)
		if baths.Valid {
			v := baths.Float64
			l.Bathrooms = &v
		}
		if shared.Valid {
			v := shared.Bool
			l.SharedRoom = &v
		}
		if amenities.Valid {
			l.Amenities = amenities.RawMessage
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// RunRecord is one batch run row as read back for reporting.
type RunRecord struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt *time.Time
	Stats      RunStats
}

// RecentRuns returns the newest batch runs, most recent first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, started_at, finished_at, sites_classified, targets_scraped,
		       targets_failed, listings_inserted, snapshots_inserted
		FROM scrape_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.StartedAt, &finished, &r.Stats.SitesClassified,
			&r.Stats.TargetsScraped, &r.Stats.TargetsFailed,
			&r.Stats.ListingsInserted, &r.Stats.SnapshotsInserted); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// EnsureSite seeds one roster entry; existing URLs are left untouched.
func (s *Store) EnsureSite(ctx context.Context, name, url string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO sites (name, url) VALUES ($1, $2)
		ON CONFLICT (url) DO NOTHING`, name, url)
	return err
}

// RunStats summarizes one batch run.
type RunStats struct {
	SitesClassified   int
	TargetsScraped    int
	TargetsFailed     int
	ListingsInserted  int
	SnapshotsInserted int
}

// StartRun records the beginning of a batch and returns its id.
func (s *Store) StartRun(ctx context.Context) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO scrape_runs (id, started_at) VALUES ($1, $2)`,
		id, time.Now().UTC())
	return id, err
}

// FinishRun closes out a batch with its counters.
func (s *Store) FinishRun(ctx context.Context, id uuid.UUID, stats RunStats) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE scrape_runs SET
			finished_at        = $2,
			sites_classified   = $3,
			targets_scraped    = $4,
			targets_failed     = $5,
			listings_inserted  = $6,
			snapshots_inserted = $7
		WHERE id = $1`,
		id, time.Now().UTC(), stats.SitesClassified, stats.TargetsScraped,
		stats.TargetsFailed, stats.ListingsInserted, stats.SnapshotsInserted)
	return err
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func intPtr(v sql.NullInt32) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int32)
	return &n
}

func nullStr(v *string) sql.NullString {
	if v == nil || *v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullStrVal(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nullIntPtr(v *int) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*v), Valid: true}
}

func nullInt64Ptr(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullFloatPtr(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullBoolPtr(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

func nullRaw(v json.RawMessage) pqtype.NullRawMessage {
	if len(v) == 0 {
		return pqtype.NullRawMessage{}
	}
	return pqtype.NullRawMessage{RawMessage: v, Valid: true}
}

// nullJSONText stores free-form extractor text as a JSON string value so it
// fits the JSONB columns.
func nullJSONText(v *string) pqtype.NullRawMessage {
	if v == nil || *v == "" {
		return pqtype.NullRawMessage{}
	}
	buf, err := json.Marshal(*v)
	if err != nil {
		return pqtype.NullRawMessage{}
	}
	return pqtype.NullRawMessage{RawMessage: buf, Valid: true}
}

func nullJSONTextVal(v string) pqtype.NullRawMessage {
	if v == "" {
		return pqtype.NullRawMessage{}
	}
	return nullJSONText(&v)
}
