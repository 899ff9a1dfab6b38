package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/adventureadjacent/mapcase-weather/internal/geo"
	"github.com/adventureadjacent/mapcase-weather/internal/httpcache"
	"github.com/adventureadjacent/mapcase-weather/internal/models"
	"github.com/adventureadjacent/mapcase-weather/internal/nws"
	"github.com/adventureadjacent/mapcase-weather/internal/observability"
	"github.com/adventureadjacent/mapcase-weather/internal/store"
)

// ResolutionError means the coordinate could not be mapped to a grid cell.
// It is the only failure in the pipeline that aborts a bundle.
type ResolutionError struct {
	Detail string
	Status int
}

func (e *ResolutionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("grid resolution failed (status %d): %s", e.Status, e.Detail)
	}
	return "grid resolution failed: " + e.Detail
}

// ResolverConfig holds the knobs for grid resolution.
type ResolverConfig struct {
	Bounds geo.Bounds
	// RadiusM is the point-cache search radius in meters.
	RadiusM float64
	// PointsTTL is the fallback lifetime for point-cache entries when the
	// upstream response carries no cache directives.
	PointsTTL time.Duration
	// Coalesce collapses concurrent upstream resolutions for the same
	// coordinate into one call.
	Coalesce        bool
	CoalesceTimeout time.Duration
}

// Resolver maps a coordinate to its NWS grid cell, consulting the
// geospatial point cache before calling the upstream /points resource.
type Resolver struct {
	store     store.Store
	client    nws.Client
	cfg       ResolverConfig
	clock     clockwork.Clock
	logger    *zap.Logger
	coalescer *resolutionCoalescer
}

// NewResolver creates a Resolver.
func NewResolver(st store.Store, client nws.Client, cfg ResolverConfig, logger *zap.Logger, clock clockwork.Clock) *Resolver {
	r := &Resolver{
		store:  st,
		client: client,
		cfg:    cfg,
		clock:  clock,
		logger: logger,
	}
	if cfg.Coalesce {
		timeout := cfg.CoalesceTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		r.coalescer = newResolutionCoalescer(timeout)
	}
	return r
}

// Resolve returns the grid cell for a coordinate. Validation failures are
// returned as geo sentinel errors; upstream failures as *ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, lat, lon float64, trace *Trace) (models.GridCell, error) {
	if err := geo.ValidateCoordinate(lat, lon); err != nil {
		return models.GridCell{}, err
	}
	if err := geo.ValidateInBounds(lat, lon, r.cfg.Bounds); err != nil {
		return models.GridCell{}, err
	}

	match, found, err := r.store.NearestPointEntry(ctx, lat, lon, r.cfg.RadiusM)
	if err != nil {
		return models.GridCell{}, fmt.Errorf("point cache lookup: %w", err)
	}
	if found {
		cell, ok, err := r.store.GridCell(ctx, match.GridCellID)
		if err != nil {
			return models.GridCell{}, fmt.Errorf("load grid cell %d: %w", match.GridCellID, err)
		}
		if ok {
			observability.PointCacheHitsTotal.Inc()
			trace.Addf("point cache HIT: grid cell %d within %.0fm", match.GridCellID, match.DistanceM)
			return cell, nil
		}
		// Cell row lost out from under its point entry; fall through and
		// re-resolve upstream.
		trace.Addf("point cache entry referenced missing grid cell %d; re-resolving", match.GridCellID)
	}

	observability.PointCacheMissesTotal.Inc()
	trace.Addf("point cache MISS: fetching /points/%.4f,%.4f", lat, lon)

	cell, err := r.resolveUpstream(ctx, lat, lon, trace)
	if err != nil {
		return models.GridCell{}, err
	}
	trace.Addf("resolved to grid %s %d,%d (cell %d)", cell.GridID, cell.GridX, cell.GridY, cell.ID)
	return cell, nil
}

func (r *Resolver) resolveUpstream(ctx context.Context, lat, lon float64, trace *Trace) (models.GridCell, error) {
	if r.coalescer == nil {
		return r.fetchAndPersist(ctx, lat, lon)
	}
	key := fmt.Sprintf("%.4f,%.4f", lat, lon)
	cell, coalesced, err := r.coalescer.GetOrDo(ctx, key, func() (models.GridCell, error) {
		return r.fetchAndPersist(ctx, lat, lon)
	})
	if coalesced {
		observability.ResolutionCoalescedTotal.Inc()
		trace.Addf("coalesced onto in-flight resolution for %s", key)
	}
	return cell, err
}

// fetchAndPersist calls /points, upserts the grid cell by its natural key,
// and records a point-cache entry mapping the query coordinate to it.
func (r *Resolver) fetchAndPersist(ctx context.Context, lat, lon float64) (models.GridCell, error) {
	res := r.client.Points(ctx, lat, lon)
	if !res.OK() {
		detail := res.Error
		if detail == "" {
			detail = fmt.Sprintf("unexpected status %d", res.StatusCode)
		}
		return models.GridCell{}, &ResolutionError{Detail: detail, Status: res.StatusCode}
	}

	props, ok := res.JSON["properties"].(map[string]interface{})
	if !ok {
		return models.GridCell{}, &ResolutionError{Detail: "points response missing properties", Status: res.StatusCode}
	}
	gridID, _ := props["gridId"].(string)
	gridX, okX := jsonInt(props["gridX"])
	gridY, okY := jsonInt(props["gridY"])
	if gridID == "" || !okX || !okY {
		return models.GridCell{}, &ResolutionError{Detail: "points response missing grid identity", Status: res.StatusCode}
	}

	now := r.clock.Now()
	cell := models.GridCell{
		GridID:            gridID,
		GridX:             gridX,
		GridY:             gridY,
		ForecastURL:       jsonString(props["forecast"]),
		ForecastHourlyURL: jsonString(props["forecastHourly"]),
		GridDataURL:       jsonString(props["forecastGridData"]),
		StationsURL:       jsonString(props["observationStations"]),
		TimeZone:          jsonString(props["timeZone"]),
		RadarStation:      jsonString(props["radarStation"]),
		Raw:               res.Raw,
		UpdatedAt:         now,
	}
	id, err := r.store.UpsertGridCell(ctx, cell)
	if err != nil {
		return models.GridCell{}, fmt.Errorf("persist grid cell %s: %w", cell.NaturalKey(), err)
	}
	cell.ID = id

	entry := models.PointCacheEntry{
		Lat:          lat,
		Lon:          lon,
		GridCellID:   id,
		DistanceM:    0,
		ETag:         res.ETag,
		LastModified: res.LastModified,
		FetchedAt:    now,
		ExpiresAt:    httpcache.ComputeExpiry(res.Header, r.cfg.PointsTTL, now),
	}
	if err := r.store.InsertPointEntry(ctx, entry); err != nil {
		// The cell itself is persisted and usable; losing the point entry
		// only costs a future cache hit.
		r.logger.Warn("failed to record point cache entry",
			zap.Float64("lat", lat), zap.Float64("lon", lon), zap.Error(err))
	}
	return cell, nil
}

func jsonString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func jsonInt(v interface{}) (int, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func jsonFloat(v interface{}) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}
