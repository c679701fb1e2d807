package http

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"rentwatch/internal/store"
)

type siteResponse struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	URL           string          `json:"url"`
	FloorplansURL *string         `json:"floorplans_url,omitempty"`
	State         *string         `json:"state,omitempty"`
	Address       *string         `json:"address,omitempty"`
	Amenities     json.RawMessage `json:"amenities,omitempty"`
	Deals         json.RawMessage `json:"deals,omitempty"`
	Selector      *string         `json:"container_selector,omitempty"`
	ListingCount  *int            `json:"listing_count,omitempty"`
}

type listingResponse struct {
	ID         int64           `json:"id"`
	PropertyID *int64          `json:"property_id,omitempty"`
	Listname   string          `json:"listname"`
	Bedrooms   *int            `json:"bedrooms,omitempty"`
	Bathrooms  *float64        `json:"bathrooms,omitempty"`
	Sqft       *int            `json:"sqft,omitempty"`
	SharedRoom *bool           `json:"shared_room,omitempty"`
	Amenities  json.RawMessage `json:"amenities,omitempty"`
}

type runResponse struct {
	ID                string     `json:"id"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	SitesClassified   int        `json:"sites_classified"`
	TargetsScraped    int        `json:"targets_scraped"`
	TargetsFailed     int        `json:"targets_failed"`
	ListingsInserted  int        `json:"listings_inserted"`
	SnapshotsInserted int        `json:"snapshots_inserted"`
}

func sitesHandler(st *store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sites, err := st.GetAllSites(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		out := make([]siteResponse, 0, len(sites))
		for _, s := range sites {
			out = append(out, siteResponse{
				ID:            s.ID,
				Name:          s.Name,
				URL:           s.URL,
				FloorplansURL: s.FloorplansURL,
				State:         s.State,
				Address:       s.Address,
				Amenities:     s.Amenities,
				Deals:         s.Deals,
				Selector:      s.ContainerSelector,
				ListingCount:  s.ListingCount,
			})
		}
		return c.JSON(fiber.Map{"sites": out})
	}
}

func siteListingsHandler(st *store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		siteID, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid site id")
		}
		listings, err := st.ListingsForSite(c.Context(), siteID)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		out := make([]listingResponse, 0, len(listings))
		for _, l := range listings {
			out = append(out, listingResponse{
				ID:         l.ID,
				PropertyID: l.PropertyID,
				Listname:   l.Listname,
				Bedrooms:   l.Bedrooms,
				Bathrooms:  l.Bathrooms,
				Sqft:       l.Sqft,
				SharedRoom: l.SharedRoom,
				Amenities:  l.Amenities,
			})
		}
		return c.JSON(fiber.Map{"site_id": siteID, "listings": out})
	}
}

func runsHandler(st *store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", 20)
		if limit < 1 || limit > 200 {
			limit = 20
		}
		runs, err := st.RecentRuns(c.Context(), limit)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		out := make([]runResponse, 0, len(runs))
		for _, r := range runs {
			out = append(out, runResponse{
				ID:                r.ID.String(),
				StartedAt:         r.StartedAt,
				FinishedAt:        r.FinishedAt,
				SitesClassified:   r.Stats.SitesClassified,
				TargetsScraped:    r.Stats.TargetsScraped,
				TargetsFailed:     r.Stats.TargetsFailed,
				ListingsInserted:  r.Stats.ListingsInserted,
				SnapshotsInserted: r.Stats.SnapshotsInserted,
			})
		}
		return c.JSON(fiber.Map{"runs": out})
	}
}
