// Package bootstrap seeds the site roster from configuration. Seeding is
// idempotent, so it runs unconditionally on every startup.
package bootstrap

import (
	"context"
	"log/slog"

	"rentwatch/internal/config"
	"rentwatch/internal/store"
)

// Seed inserts every configured site that is not already in the roster.
func Seed(ctx context.Context, st *store.Store, sites []config.SeedSite, log *slog.Logger) error {
	for _, site := range sites {
		if site.URL == "" {
			continue
		}
		name := site.Name
		if name == "" {
			name = site.URL
		}
		if err := st.EnsureSite(ctx, name, site.URL); err != nil {
			return err
		}
	}
	if len(sites) > 0 {
		log.Info("site roster seeded", "sites", len(sites))
	}
	return nil
}
