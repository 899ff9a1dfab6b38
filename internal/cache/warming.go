package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adventureadjacent/mapcase-weather/internal/models"
	"github.com/adventureadjacent/mapcase-weather/internal/observability"
)

// BundleFetcher is implemented by the service layer to build a bundle for a
// coordinate. Used by CacheWarmer to avoid a circular dependency on the
// service package.
type BundleFetcher interface {
	GetForecastBundle(ctx context.Context, lat, lon float64) (models.ForecastBundle, error)
}

// Coordinate is a warming target.
type Coordinate struct {
	Lat float64
	Lon float64
}

// CacheWarmer prefetches bundles for a list of coordinates so the first
// real query over each grid cell is already warm.
type CacheWarmer struct {
	fetcher BundleFetcher
	logger  *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer that uses the given fetcher and logger.
func NewCacheWarmer(fetcher BundleFetcher, logger *zap.Logger) *CacheWarmer {
	return &CacheWarmer{fetcher: fetcher, logger: logger}
}

// Warm builds a bundle for each coordinate concurrently, populating the
// point, forecast, and bundle caches as a side effect. Returns an error if
// any coordinate failed (aggregated).
func (w *CacheWarmer) Warm(ctx context.Context, coords []Coordinate) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming caches", zap.Int("coordinates", len(coords)))
	}
	var wg sync.WaitGroup
	errCh := make(chan error, len(coords))
	for _, c := range coords {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.fetcher.GetForecastBundle(ctx, c.Lat, c.Lon)
			if err != nil {
				errCh <- fmt.Errorf("warm %.4f,%.4f: %w", c.Lat, c.Lon, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("cache warming complete", zap.Int("coordinates", len(coords)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	}
	if len(errs) > 0 {
		return fmt.Errorf("cache warming: %v", errs)
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval
// until ctx is done.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, coords []Coordinate, interval time.Duration) error {
	if err := w.Warm(ctx, coords); err != nil && w.logger != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, coords); err != nil && w.logger != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
