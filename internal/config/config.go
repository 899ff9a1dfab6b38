package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Coordinate is a lat/lon pair used for cache warming targets.
type Coordinate struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	NWSBaseURL string
	NWSTimeout time.Duration

	RequestTimeout time.Duration

	// Service area rectangle in decimal degrees.
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64

	// Grid resolution.
	PointRadiusM    float64
	PointsTTL       time.Duration
	Coalesce        bool
	CoalesceTimeout time.Duration

	// Forecast product cache.
	ForecastTTL time.Duration

	// Persistence backend: "memory" or "redis".
	StoreBackend  string
	RedisAddr     string
	RedisDB       int
	RedisPassword string

	// Assembled-bundle cache layer.
	BundleCacheEnabled    bool
	BundleCacheBackend    string // "in_memory" or "memcached"
	BundleCacheTTL        time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	BreakerEnabled          bool
	BreakerFailureThreshold uint32
	BreakerOpenTimeout      time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	ShutdownTimeout time.Duration

	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int

	WarmingEnabled     bool
	WarmingInterval    time.Duration
	WarmingCoordinates []Coordinate
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	NWS struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"nws"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	ServiceArea struct {
		MinLat float64 `yaml:"min_lat"`
		MaxLat float64 `yaml:"max_lat"`
		MinLon float64 `yaml:"min_lon"`
		MaxLon float64 `yaml:"max_lon"`
	} `yaml:"service_area"`

	Resolution struct {
		RadiusMeters    float64 `yaml:"radius_meters"`
		PointsTTL       string  `yaml:"points_ttl"`
		Coalesce        *bool   `yaml:"coalesce"`
		CoalesceTimeout string  `yaml:"coalesce_timeout"`
	} `yaml:"resolution"`

	Forecast struct {
		TTL string `yaml:"ttl"`
	} `yaml:"forecast"`

	Store struct {
		Backend string `yaml:"backend"`
		Redis   struct {
			Addr     string `yaml:"addr"`
			DB       int    `yaml:"db"`
			Password string `yaml:"password"`
		} `yaml:"redis"`
	} `yaml:"store"`

	BundleCache struct {
		Enabled   *bool  `yaml:"enabled"`
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"bundle_cache"`

	Reliability struct {
		BreakerEnabled          *bool  `yaml:"breaker_enabled"`
		BreakerFailureThreshold uint32 `yaml:"breaker_failure_threshold"`
		BreakerOpenTimeout      string `yaml:"breaker_open_timeout"`
		RateLimitRPS            int    `yaml:"rate_limit_rps"`
		RateLimitBurst          int    `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`

	Warming struct {
		Enabled     *bool        `yaml:"enabled"`
		Interval    string       `yaml:"interval"`
		Coordinates []Coordinate `yaml:"coordinates"`
	} `yaml:"warming"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev), with a
// .env file and process env overriding backend selection and addresses.
// Call from project root.
func Load() (*Config, error) {
	// Missing .env is fine; env vars still apply.
	_ = godotenv.Load()

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.NWSBaseURL = strings.TrimSpace(os.Getenv("NWS_BASE_URL"))
	if cfg.NWSBaseURL == "" {
		cfg.NWSBaseURL = fc.NWS.BaseURL
	}
	cfg.NWSTimeout = parseDuration(fc.NWS.Timeout, 10*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 30*time.Second)

	cfg.MinLat = fc.ServiceArea.MinLat
	cfg.MaxLat = fc.ServiceArea.MaxLat
	cfg.MinLon = fc.ServiceArea.MinLon
	cfg.MaxLon = fc.ServiceArea.MaxLon
	if cfg.MinLat == 0 && cfg.MaxLat == 0 && cfg.MinLon == 0 && cfg.MaxLon == 0 {
		// Default operating area: Pennsylvania.
		cfg.MinLat, cfg.MaxLat = 39.7199, 42.5167
		cfg.MinLon, cfg.MaxLon = -80.5243, -74.707
	}

	cfg.PointRadiusM = fc.Resolution.RadiusMeters
	if cfg.PointRadiusM <= 0 {
		cfg.PointRadiusM = 2500
	}
	cfg.PointsTTL = parseDuration(fc.Resolution.PointsTTL, 24*time.Hour)
	cfg.Coalesce = true
	if fc.Resolution.Coalesce != nil {
		cfg.Coalesce = *fc.Resolution.Coalesce
	}
	cfg.CoalesceTimeout = parseDuration(fc.Resolution.CoalesceTimeout, 30*time.Second)

	cfg.ForecastTTL = parseDuration(fc.Forecast.TTL, 10*time.Minute)

	cfg.StoreBackend = strings.TrimSpace(strings.ToLower(os.Getenv("STORE_BACKEND")))
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = strings.TrimSpace(strings.ToLower(fc.Store.Backend))
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "memory"
	}
	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = strings.TrimSpace(fc.Store.Redis.Addr)
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	cfg.RedisDB = fc.Store.Redis.DB
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if cfg.RedisPassword == "" {
		cfg.RedisPassword = fc.Store.Redis.Password
	}

	cfg.BundleCacheEnabled = true
	if fc.BundleCache.Enabled != nil {
		cfg.BundleCacheEnabled = *fc.BundleCache.Enabled
	}
	cfg.BundleCacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("BUNDLE_CACHE_BACKEND")))
	if cfg.BundleCacheBackend == "" {
		cfg.BundleCacheBackend = strings.TrimSpace(strings.ToLower(fc.BundleCache.Backend))
	}
	if cfg.BundleCacheBackend == "" {
		cfg.BundleCacheBackend = "in_memory"
	}
	cfg.BundleCacheTTL = parseDuration(fc.BundleCache.TTL, time.Minute)
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.BundleCache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.BundleCache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.BundleCache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.BreakerEnabled = true
	if fc.Reliability.BreakerEnabled != nil {
		cfg.BreakerEnabled = *fc.Reliability.BreakerEnabled
	}
	cfg.BreakerFailureThreshold = fc.Reliability.BreakerFailureThreshold
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerOpenTimeout = parseDuration(fc.Reliability.BreakerOpenTimeout, 30*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}

	if fc.Warming.Enabled != nil {
		cfg.WarmingEnabled = *fc.Warming.Enabled
	}
	cfg.WarmingInterval = parseDuration(fc.Warming.Interval, 15*time.Minute)
	cfg.WarmingCoordinates = fc.Warming.Coordinates

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing
// fails or the result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	if cfg.MinLat >= cfg.MaxLat || cfg.MinLon >= cfg.MaxLon {
		return fmt.Errorf("service_area: min bounds must be below max bounds")
	}
	if cfg.RequestTimeout <= cfg.NWSTimeout {
		cfg.RequestTimeout = cfg.NWSTimeout + time.Second
	}
	switch cfg.StoreBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("store.backend must be memory or redis, got %q", cfg.StoreBackend)
	}
	switch cfg.BundleCacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("bundle_cache.backend must be in_memory or memcached, got %q", cfg.BundleCacheBackend)
	}
	if cfg.WarmingEnabled && len(cfg.WarmingCoordinates) == 0 {
		return fmt.Errorf("warming.enabled requires warming.coordinates")
	}
	return nil
}
