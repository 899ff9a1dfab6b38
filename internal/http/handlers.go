package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/adventureadjacent/mapcase-weather/internal/geo"
	"github.com/adventureadjacent/mapcase-weather/internal/health"
	"github.com/adventureadjacent/mapcase-weather/internal/models"
	"github.com/adventureadjacent/mapcase-weather/internal/service"
)

// ForecastService is the slice of the service layer the handlers need.
type ForecastService interface {
	GetForecastBundle(ctx context.Context, lat, lon float64) (models.ForecastBundle, error)
}

// HealthConfig holds the thresholds and probes for the health handler.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int
	RateLimitBurst       int // 0 when rate limiter disabled
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	StartTime            time.Time
	// StorePing, when set, is called to check store reachability. Used when
	// the backend is Redis.
	StorePing func(ctx context.Context) error
	// CachePing, when set, is called to check bundle cache reachability.
	// Used when the backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	forecasts        ForecastService
	healthConfig     *HealthConfig
	logger           *zap.Logger
	shuttingDown     atomic.Bool
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(forecasts ForecastService, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	return &Handler{
		forecasts:    forecasts,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// SetShuttingDown flips the shutdown flag reported by the health handler.
func (h *Handler) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

// GetForecast handles GET /weather/forecast?lat=&lon=.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	lat, okLat := parseCoord(r.URL.Query().Get("lat"))
	lon, okLon := parseCoord(r.URL.Query().Get("lon"))
	if !okLat || !okLon {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATE", "lat and lon are required decimal degrees")
		return
	}

	bundle, err := h.forecasts.GetForecastBundle(r.Context(), lat, lon)
	if err != nil {
		var resErr *service.ResolutionError
		switch {
		case errors.Is(err, geo.ErrCoordinateInvalid):
			writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATE", "coordinate is not a valid lat/lon pair")
		case errors.Is(err, geo.ErrOutsideServiceArea):
			writeError(w, r, http.StatusBadRequest, "OUTSIDE_SERVICE_AREA", "coordinate is outside the service area")
		case errors.As(err, &resErr):
			health.Record(health.OutcomeError)
			writeError(w, r, http.StatusBadGateway, "GRID_RESOLUTION_FAILED", "unable to resolve coordinate to a forecast grid")
			if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
				logger.Debug("grid resolution error", zap.Error(err))
			}
		default:
			health.Record(health.OutcomeError)
			writeError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error")
			h.logger.Error("forecast bundle failed", zap.Error(err))
		}
		return
	}

	health.Record(health.OutcomeSuccess)
	writeJSON(w, http.StatusOK, bundle)
}

func parseCoord(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if h.healthConfig != nil && h.healthConfig.StorePing != nil {
		if h.healthConfig.StorePing(r.Context()) == nil {
			checks["store"] = "healthy"
		} else {
			checks["store"] = "unhealthy"
		}
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["bundleCache"] = "healthy"
		} else {
			checks["bundleCache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "mapcase-weather",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// computeHealthStatus evaluates health conditions in priority order:
// shutting-down > store unreachable > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if h.shuttingDown.Load() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if h.healthConfig.StorePing != nil && h.healthConfig.StorePing(ctx) != nil {
		return healthResult{"degraded", http.StatusServiceUnavailable, "store_unreachable"}
	}
	if h.healthConfig.OverloadWindow > 0 && h.healthConfig.RateLimitRPS > 0 {
		threshold := float64(h.healthConfig.RateLimitRPS) * h.healthConfig.OverloadWindow.Seconds() * float64(h.healthConfig.OverloadThresholdPct) / 100
		if float64(health.RequestCount(h.healthConfig.OverloadWindow)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errCount, total := health.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errCount) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code,
// message, and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}
