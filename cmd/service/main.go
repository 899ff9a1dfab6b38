package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/adventureadjacent/mapcase-weather/internal/cache"
	"github.com/adventureadjacent/mapcase-weather/internal/config"
	"github.com/adventureadjacent/mapcase-weather/internal/geo"
	httphandler "github.com/adventureadjacent/mapcase-weather/internal/http"
	"github.com/adventureadjacent/mapcase-weather/internal/nws"
	"github.com/adventureadjacent/mapcase-weather/internal/observability"
	"github.com/adventureadjacent/mapcase-weather/internal/service"
	"github.com/adventureadjacent/mapcase-weather/internal/store"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	clock := clockwork.NewRealClock()

	nwsClient := nws.NewHTTPClient(cfg.NWSBaseURL, cfg.NWSTimeout)
	if cfg.BreakerEnabled {
		nwsClient.EnableBreaker(nws.BreakerConfig{
			FailureThreshold: cfg.BreakerFailureThreshold,
			OpenTimeout:      cfg.BreakerOpenTimeout,
			OnStateChange: func(from, to gobreaker.State) {
				logger.Warn("upstream circuit state change",
					zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		logger.Info("upstream circuit breaker enabled",
			zap.Uint32("failure_threshold", cfg.BreakerFailureThreshold),
			zap.Duration("open_timeout", cfg.BreakerOpenTimeout))
	}

	var backing store.Store
	var redisStore *store.RedisStore
	switch cfg.StoreBackend {
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			DB:       cfg.RedisDB,
			Password: cfg.RedisPassword,
		})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		rs := store.NewRedisStore(rdb)
		if err := rs.Ping(pingCtx); err != nil {
			pingCancel()
			logger.Fatal("redis store", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		pingCancel()
		redisStore = rs
		backing = rs
		logger.Info("store backend: redis", zap.String("addr", cfg.RedisAddr), zap.Int("db", cfg.RedisDB))
	default:
		backing = store.NewMemoryStore()
		logger.Info("store backend: memory")
	}

	var bundleCache cache.Cache
	var memcacheCloser *cache.MemcachedCache
	if cfg.BundleCacheEnabled {
		switch cfg.BundleCacheBackend {
		case "memcached":
			mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
			if err != nil {
				logger.Fatal("memcached bundle cache", zap.Error(err))
			}
			memcacheCloser = mc
			bundleCache = mc
			logger.Info("bundle cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		default:
			bundleCache = cache.NewInMemoryCache()
			logger.Info("bundle cache backend: in_memory")
		}
	}

	bounds := geo.Bounds{
		MinLat: cfg.MinLat, MaxLat: cfg.MaxLat,
		MinLon: cfg.MinLon, MaxLon: cfg.MaxLon,
	}
	resolver := service.NewResolver(backing, nwsClient, service.ResolverConfig{
		Bounds:          bounds,
		RadiusM:         cfg.PointRadiusM,
		PointsTTL:       cfg.PointsTTL,
		Coalesce:        cfg.Coalesce,
		CoalesceTimeout: cfg.CoalesceTimeout,
	}, logger, clock)
	stations := service.NewStationDirectory(backing, logger)
	products := service.NewRevalidationCache(backing, nwsClient, cfg.ForecastTTL, logger, clock)
	bundles := service.NewBundleService(resolver, stations, products, nwsClient, bundleCache, cfg.BundleCacheTTL, logger, clock)

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		RateLimitBurst:       cfg.RateLimitBurst,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		StartTime:            time.Now(),
	}
	if redisStore != nil {
		healthConfig.StorePing = redisStore.Ping
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(bundles, healthConfig, logger)

	observability.RegisterRateLimitGauges(cfg.OverloadWindow)

	if cfg.WarmingEnabled && len(cfg.WarmingCoordinates) > 0 {
		coords := make([]cache.Coordinate, 0, len(cfg.WarmingCoordinates))
		for _, c := range cfg.WarmingCoordinates {
			coords = append(coords, cache.Coordinate{Lat: c.Lat, Lon: c.Lon})
		}
		warmer := cache.NewCacheWarmer(bundles, logger)
		warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := warmer.Warm(warmCtx, coords); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
		if cfg.WarmingInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(context.Background(), coords, cfg.WarmingInterval); err != nil && err != context.Canceled {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		}
	}

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	weatherRouter := router.PathPrefix("/weather").Subrouter()
	weatherRouter.Use(httphandler.RateLimitMiddleware(limiter))
	weatherRouter.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	weatherRouter.HandleFunc("/forecast", handler.GetForecast).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	handler.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
