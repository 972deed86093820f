// Shared handler wiring.
//
// A single Handlers value carries the dependencies every endpoint needs: the
// database handle, the event bus publisher, the cache store, and retention
// settings. Each service process constructs one and registers only the routes
// it serves.
package handlers

import (
	"time"

	"gorm.io/gorm"

	"github.com/socialhub/go-social-backend/internal/bus"
	"github.com/socialhub/go-social-backend/internal/cache"
)

// Handlers bundles the dependencies shared by the HTTP endpoints.
type Handlers struct {
	DB    *gorm.DB
	Bus   bus.Publisher
	Cache cache.Store

	// NotificationRetention bounds how far back notification reads go.
	NotificationRetention time.Duration
	// EntityCacheTTL is the freshness window for cached read endpoints.
	EntityCacheTTL time.Duration
}

// New constructs a Handlers with the given dependencies.
func New(db *gorm.DB, pub bus.Publisher, store cache.Store, retention, entityTTL time.Duration) *Handlers {
	return &Handlers{
		DB:                    db,
		Bus:                   pub,
		Cache:                 store,
		NotificationRetention: retention,
		EntityCacheTTL:        entityTTL,
	}
}

// retentionCutoff returns the oldest creation time still visible to
// notification reads.
func (h *Handlers) retentionCutoff() time.Time {
	return time.Now().UTC().Add(-h.NotificationRetention)
}
