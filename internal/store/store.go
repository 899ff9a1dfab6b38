// Package store is the persistence boundary: natural-key upserts with
// returned identities, an append-only geospatial point cache queried by
// radius with read-time expiry filtering, and composite-key forecast
// entries. Uniqueness constraints here are the only concurrency guard the
// service relies on; upserts are last-write-wins.
package store

import (
	"context"

	"github.com/adventureadjacent/mapcase-weather/internal/models"
)

// NearestMatch is a point-cache lookup result.
type NearestMatch struct {
	GridCellID int64
	DistanceM  float64
}

// Store is implemented by the memory and Redis backends.
type Store interface {
	// UpsertGridCell inserts or updates a cell by its natural key
	// (GridID, GridX, GridY), overwriting every non-identity field, and
	// returns the cell's identity.
	UpsertGridCell(ctx context.Context, cell models.GridCell) (int64, error)

	// GridCell loads a cell by identity.
	GridCell(ctx context.Context, id int64) (models.GridCell, bool, error)

	// InsertPointEntry appends a point-cache entry. Entries are never
	// updated or deleted; expiry is applied when reading.
	InsertPointEntry(ctx context.Context, e models.PointCacheEntry) error

	// NearestPointEntry returns the closest unexpired entry within
	// radiusM of the query point, if any. Equal distances resolve in a
	// deterministic, implementation-defined order.
	NearestPointEntry(ctx context.Context, lat, lon, radiusM float64) (NearestMatch, bool, error)

	// UpsertStation inserts or updates a station by provider identifier
	// and returns its identity.
	UpsertStation(ctx context.Context, st models.Station) (int64, error)

	// UpsertStationLink links a station to a grid cell; priority is
	// overwritten on re-link.
	UpsertStationLink(ctx context.Context, link models.StationLink) error

	// StationLinks returns the links for a grid cell ordered by priority.
	StationLinks(ctx context.Context, gridCellID int64) ([]models.StationLink, error)

	// ForecastEntry loads the cached product state for (gridCellID, t).
	ForecastEntry(ctx context.Context, gridCellID int64, t models.ForecastType) (models.ForecastCacheEntry, bool, error)

	// UpsertForecastEntry replaces the single row for the entry's
	// (GridCellID, Type) key.
	UpsertForecastEntry(ctx context.Context, e models.ForecastCacheEntry) error
}
