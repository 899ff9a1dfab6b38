package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/adventureadjacent/mapcase-weather/internal/httpcache"
	"github.com/adventureadjacent/mapcase-weather/internal/models"
	"github.com/adventureadjacent/mapcase-weather/internal/nws"
	"github.com/adventureadjacent/mapcase-weather/internal/observability"
	"github.com/adventureadjacent/mapcase-weather/internal/store"
)

// RevalidationCache serves forecast products from the per-cell cache,
// revalidating expired entries with conditional requests and falling back
// to stale payloads when the upstream fails.
type RevalidationCache struct {
	store  store.Store
	client nws.Client
	// defaultTTL applies when the upstream response carries no cache
	// directives.
	defaultTTL time.Duration
	clock      clockwork.Clock
	logger     *zap.Logger
}

// NewRevalidationCache creates a RevalidationCache.
func NewRevalidationCache(st store.Store, client nws.Client, defaultTTL time.Duration, logger *zap.Logger, clock clockwork.Clock) *RevalidationCache {
	return &RevalidationCache{
		store:      st,
		client:     client,
		defaultTTL: defaultTTL,
		clock:      clock,
		logger:     logger,
	}
}

// Product returns the payload for one forecast product, always producing a
// JSON value: the cached or freshly fetched payload, a stale payload when
// the upstream fails, or an in-band error marker when nothing is servable.
// Every decision is appended to trace.
func (c *RevalidationCache) Product(ctx context.Context, gridCellID int64, t models.ForecastType, url string, trace *Trace) json.RawMessage {
	label := string(t)

	cached, haveCached, err := c.store.ForecastEntry(ctx, gridCellID, t)
	if err != nil {
		c.logger.Error("forecast cache read failed",
			zap.Int64("gridCellId", gridCellID), zap.String("forecastType", label), zap.Error(err))
		trace.Addf("%s: cache read failed: %v", label, err)
		observability.ProductErrorsTotal.WithLabelValues(label).Inc()
		return models.ProductError{Error: fmt.Sprintf("cache read failed: %v", err)}.Marker()
	}

	now := c.clock.Now()
	if haveCached && cached.Fresh(now) && len(cached.Data) > 0 {
		observability.ForecastCacheHitsTotal.WithLabelValues(label).Inc()
		trace.Addf("%s: cache HIT (fresh until %s)", label, cached.ExpiresAt.UTC().Format(time.RFC3339))
		return cached.Data
	}

	cond := nws.Conditional{}
	if haveCached {
		cond.IfNoneMatch = cached.ETag
		if !cached.LastModified.IsZero() {
			cond.IfModifiedSince = httpcache.FormatHTTPDate(cached.LastModified)
		}
	}
	if haveCached && (cond.IfNoneMatch != "" || cond.IfModifiedSince != "") {
		trace.Addf("%s: expired; revalidating with stored validators", label)
	} else {
		trace.Addf("%s: no cached payload; fetching", label)
	}

	res := c.client.Fetch(ctx, url, cond)
	now = c.clock.Now()

	if res.StatusCode == http.StatusNotModified && haveCached && len(cached.Data) > 0 {
		entry := cached
		entry.URL = url
		entry.StatusCode = http.StatusNotModified
		entry.Error = ""
		if res.ETag != "" {
			entry.ETag = res.ETag
		}
		if !res.LastModified.IsZero() {
			entry.LastModified = res.LastModified
		}
		entry.FetchedAt = now
		entry.ExpiresAt = httpcache.ComputeExpiry(res.Header, c.defaultTTL, now)
		c.persist(ctx, entry, label)
		observability.ForecastRevalidatedTotal.WithLabelValues(label).Inc()
		trace.Addf("%s: 304 Not Modified; extended until %s", label, entry.ExpiresAt.UTC().Format(time.RFC3339))
		return cached.Data
	}

	if res.OK() {
		entry := models.ForecastCacheEntry{
			GridCellID:   gridCellID,
			Type:         t,
			URL:          url,
			Data:         res.Raw,
			StatusCode:   http.StatusOK,
			ETag:         res.ETag,
			LastModified: res.LastModified,
			FetchedAt:    now,
			ExpiresAt:    httpcache.ComputeExpiry(res.Header, c.defaultTTL, now),
		}
		c.persist(ctx, entry, label)
		observability.ForecastRefreshedTotal.WithLabelValues(label).Inc()
		trace.Addf("%s: fetched 200 (%d bytes, fresh until %s)", label, len(res.Raw), entry.ExpiresAt.UTC().Format(time.RFC3339))
		return res.Raw
	}

	// Failure. Record it, but keep the previous payload and validators so a
	// later attempt can still revalidate. Expiry is not extended: a failed
	// fetch is not a confirmation of freshness.
	detail := res.Error
	if detail == "" {
		detail = fmt.Sprintf("unexpected status %d", res.StatusCode)
	}
	entry := models.ForecastCacheEntry{
		GridCellID: gridCellID,
		Type:       t,
		URL:        url,
		StatusCode: res.StatusCode,
		Error:      detail,
		FetchedAt:  now,
	}
	if haveCached {
		entry.Data = cached.Data
		entry.ETag = cached.ETag
		entry.LastModified = cached.LastModified
		entry.ExpiresAt = cached.ExpiresAt
	}
	c.persist(ctx, entry, label)

	if haveCached && len(cached.Data) > 0 {
		observability.StaleServesTotal.WithLabelValues(label).Inc()
		trace.Addf("%s: fetch failed (%s); serving STALE payload from %s", label, detail, cached.FetchedAt.UTC().Format(time.RFC3339))
		return cached.Data
	}

	observability.ProductErrorsTotal.WithLabelValues(label).Inc()
	trace.Addf("%s: fetch failed (%s); no stale payload available", label, detail)
	if res.BodyPreview != "" {
		trace.Addf("%s: upstream body preview: %s", label, res.BodyPreview)
	}
	return models.ProductError{Error: detail, Status: res.StatusCode}.Marker()
}

func (c *RevalidationCache) persist(ctx context.Context, entry models.ForecastCacheEntry, label string) {
	if err := c.store.UpsertForecastEntry(ctx, entry); err != nil {
		c.logger.Error("forecast cache write failed",
			zap.Int64("gridCellId", entry.GridCellID), zap.String("forecastType", label), zap.Error(err))
	}
}
