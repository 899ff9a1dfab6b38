package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/adventureadjacent/mapcase-weather/internal/cache"
	"github.com/adventureadjacent/mapcase-weather/internal/geo"
	"github.com/adventureadjacent/mapcase-weather/internal/models"
	"github.com/adventureadjacent/mapcase-weather/internal/nws"
	"github.com/adventureadjacent/mapcase-weather/internal/observability"
)

// BundleService orchestrates one coordinate query end to end: grid
// resolution, station refresh, and the three forecast products, assembled
// into a single bundle with a causal trace. Only grid resolution can fail a
// bundle; every later failure degrades into the trace or an in-band marker.
type BundleService struct {
	resolver  *Resolver
	stations  *StationDirectory
	products  *RevalidationCache
	client    nws.Client
	bundles   cache.Cache
	bundleTTL time.Duration
	logger    *zap.Logger
	clock     clockwork.Clock
}

// NewBundleService creates a BundleService. bundles may be nil to disable
// the assembled-bundle cache layer.
func NewBundleService(
	resolver *Resolver,
	stations *StationDirectory,
	products *RevalidationCache,
	client nws.Client,
	bundles cache.Cache,
	bundleTTL time.Duration,
	logger *zap.Logger,
	clock clockwork.Clock,
) *BundleService {
	return &BundleService{
		resolver:  resolver,
		stations:  stations,
		products:  products,
		client:    client,
		bundles:   bundles,
		bundleTTL: bundleTTL,
		logger:    logger,
		clock:     clock,
	}
}

// GetForecastBundle builds the forecast bundle for a coordinate.
// Validation failures surface as geo sentinel errors and resolution
// failures as *ResolutionError; everything else returns a bundle.
func (s *BundleService) GetForecastBundle(ctx context.Context, lat, lon float64) (models.ForecastBundle, error) {
	if err := geo.ValidateCoordinate(lat, lon); err != nil {
		observability.BundlesTotal.WithLabelValues("invalid").Inc()
		return models.ForecastBundle{}, err
	}
	if err := geo.ValidateInBounds(lat, lon, s.resolver.cfg.Bounds); err != nil {
		observability.BundlesTotal.WithLabelValues("out_of_bounds").Inc()
		return models.ForecastBundle{}, err
	}

	key := bundleKey(lat, lon)
	if s.bundles != nil {
		cached, hit, err := s.bundles.Get(ctx, key)
		if err != nil {
			observability.BundleCacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
			s.logger.Warn("bundle cache read failed", zap.String("key", key), zap.Error(err))
		} else if hit {
			observability.BundleCacheHitsTotal.Inc()
			observability.BundlesTotal.WithLabelValues("bundle_cache_hit").Inc()
			// The cached slice header aliases the stored backing array, so
			// appending in place would race with concurrent hits on the same
			// key. Rebuild the notes on a fresh array instead.
			notes := make([]string, 0, len(cached.Trace)+1)
			notes = append(notes, cached.Trace...)
			cached.Trace = append(notes, "served from bundle cache")
			return cached, nil
		}
	}

	trace := &Trace{}
	trace.Addf("query lat=%.4f lon=%.4f accepted", lat, lon)
	trace.Addf("coordinate within service area")

	cell, err := s.resolver.Resolve(ctx, lat, lon, trace)
	if err != nil {
		observability.BundlesTotal.WithLabelValues("resolution_failed").Inc()
		s.logger.Error("grid resolution failed",
			zap.Float64("lat", lat), zap.Float64("lon", lon), zap.Error(err))
		return models.ForecastBundle{}, err
	}

	bundle := models.ForecastBundle{
		OK:    true,
		Query: models.Query{Lat: lat, Lon: lon},
		GridCell: models.BundleGridCell{
			ID:       cell.ID,
			GridID:   cell.GridID,
			GridX:    cell.GridX,
			GridY:    cell.GridY,
			TimeZone: cell.TimeZone,
		},
		Data: make(map[models.ForecastType]json.RawMessage, len(models.ForecastTypes())),
	}

	bundle.StationsLinked = s.refreshStations(ctx, cell, trace)

	for _, t := range models.ForecastTypes() {
		url := cell.ProductURL(t)
		if url == "" {
			trace.Addf("%s: no product URL in grid metadata; slot omitted", t)
			continue
		}
		bundle.Data[t] = s.products.Product(ctx, cell.ID, t, url, trace)
	}

	trace.Addf("bundle assembled with %d product slots", len(bundle.Data))
	bundle.Trace = trace.Notes()
	observability.BundlesTotal.WithLabelValues("ok").Inc()

	if s.bundles != nil {
		if err := s.bundles.Set(ctx, key, bundle, s.bundleTTL); err != nil {
			observability.BundleCacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
			s.logger.Warn("bundle cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return bundle, nil
}

// refreshStations fetches the cell's station feed and links the results.
// A failed or skipped refresh keeps existing links in the store but reports
// zero: the count reflects this refresh, not prior state.
func (s *BundleService) refreshStations(ctx context.Context, cell models.GridCell, trace *Trace) int {
	if cell.StationsURL == "" {
		trace.Addf("stations: no feed URL in grid metadata; skipped")
		return 0
	}

	res := s.client.Fetch(ctx, cell.StationsURL, nws.Conditional{})
	if !res.OK() {
		detail := res.Error
		if detail == "" {
			detail = fmt.Sprintf("unexpected status %d", res.StatusCode)
		}
		trace.Addf("stations: feed fetch failed (%s); keeping existing links", detail)
		return 0
	}

	linked := s.stations.Refresh(ctx, cell.ID, res.JSON)
	trace.Addf("stations: linked %d from feed", linked)
	return linked
}

// bundleKey normalizes a coordinate into the bundle cache key. Four decimal
// places (~11m) keeps trivially-jittered clients on the same key.
func bundleKey(lat, lon float64) string {
	return fmt.Sprintf("%.4f,%.4f", lat, lon)
}

func categorizeCacheError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "backend"
	}
}
