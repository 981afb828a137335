// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/api and cmd/farewatch.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Defaults — alerting policy
// --------------------------------------------------------------------------

const (
	// DefaultAlertThreshold is the absolute price drop (in route currency)
	// required before an observation alerts. Overridable per route on the
	// analytics record.
	DefaultAlertThreshold = 400.0

	// DefaultCooldown is the minimum interval during which a repeat
	// notification for an unchanged price is suppressed.
	DefaultCooldown = 12 * time.Hour
)

// --------------------------------------------------------------------------
// Watch routes — the itineraries the evaluation sweep covers
// --------------------------------------------------------------------------

// WatchRoute is one monitored itinerary from WATCH_ROUTES.
type WatchRoute struct {
	Origin      string
	Destination string
	FlightDate  time.Time
}

// --------------------------------------------------------------------------
// Config struct — populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Push delivery (ntfy)
	NtfyServer  string
	NtfyTopic   string
	PushTimeout time.Duration

	// Alerting
	AlertThreshold  float64
	AlertCooldown   time.Duration
	DefaultCurrency string

	// Evaluation sweep
	WatchRoutes     []WatchRoute
	SweepInterval   time.Duration
	CleanupInterval time.Duration
	AuditRetention  time.Duration

	// Cache
	CacheEnabled bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	dbURL := envOr("DATABASE_URL", envOr("FAREWATCH_DATABASE_URL", ""))
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL or FAREWATCH_DATABASE_URL must be set")
	}

	watch, err := parseWatchRoutes(os.Getenv("WATCH_ROUTES"))
	if err != nil {
		return nil, fmt.Errorf("parse WATCH_ROUTES: %w", err)
	}

	return &Config{
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		NtfyServer:  envOr("NTFY_SERVER", "https://ntfy.sh"),
		NtfyTopic:   envOr("NTFY_TOPIC", ""),
		PushTimeout: envDuration("PUSH_TIMEOUT", 10*time.Second),

		AlertThreshold:  envFloat("ALERT_THRESHOLD", DefaultAlertThreshold),
		AlertCooldown:   envDuration("ALERT_COOLDOWN", DefaultCooldown),
		DefaultCurrency: envOr("DEFAULT_CURRENCY", "MXN"),

		WatchRoutes:     watch,
		SweepInterval:   envDuration("SWEEP_INTERVAL", 1*time.Hour),
		CleanupInterval: envDuration("CLEANUP_INTERVAL", 6*time.Hour),
		AuditRetention:  envDuration("AUDIT_RETENTION", 90*24*time.Hour),

		CacheEnabled: envBool("CACHE_ENABLED", true),
	}, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// FallbackDate returns the most common flight date among the configured
// watch routes, or zero time if none are configured. Used when an evaluate
// run is requested without an explicit date.
func (c *Config) FallbackDate() time.Time {
	counts := make(map[time.Time]int)
	for _, w := range c.WatchRoutes {
		counts[w.FlightDate]++
	}
	var best time.Time
	bestN := 0
	for d, n := range counts {
		if n > bestN || (n == bestN && d.Before(best)) {
			best, bestN = d, n
		}
	}
	return best
}

// parseWatchRoutes parses "MEX-CUN@2026-12-01,GDL-TIJ@2026-11-15".
func parseWatchRoutes(raw string) ([]WatchRoute, error) {
	if raw == "" {
		return nil, nil
	}
	var routes []WatchRoute
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pair, dateStr, ok := strings.Cut(part, "@")
		if !ok {
			return nil, fmt.Errorf("entry %q: want ORIGIN-DEST@YYYY-MM-DD", part)
		}
		origin, dest, ok := strings.Cut(pair, "-")
		if !ok || origin == "" || dest == "" {
			return nil, fmt.Errorf("entry %q: want ORIGIN-DEST@YYYY-MM-DD", part)
		}
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", part, err)
		}
		routes = append(routes, WatchRoute{
			Origin:      strings.ToUpper(origin),
			Destination: strings.ToUpper(dest),
			FlightDate:  date,
		})
	}
	return routes, nil
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
