package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"FF_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"FF_DB_MAX_CONNS" default:"8"`

	RedisURL string `envconfig:"REDIS_URL" default:""`

	FeedBaseURL           string `envconfig:"FEED_BASE_URL" default:"https://backflipp.wishabi.com/flipp"`
	FeedRateLimit         int    `envconfig:"FEED_RATE_LIMIT" default:"2"`
	FeedLocale            string `envconfig:"FEED_LOCALE" default:"en-ca"`
	PlacesAPIKey          string `envconfig:"PLACES_API_KEY" default:""`
	PlacesBaseURL         string `envconfig:"PLACES_BASE_URL" default:"https://places.googleapis.com/v1"`
	PlacesRateLimit       int    `envconfig:"PLACES_RATE_LIMIT" default:"10"`
	SearchCacheTTLMinutes int    `envconfig:"SEARCH_CACHE_TTL_MINUTES" default:"15"`

	Timezone         string `envconfig:"SCHEDULER_TIMEZONE" default:"America/Toronto"`
	RefreshDay       string `envconfig:"FLYER_UPDATE_DAY" default:"THU"`
	RefreshHour      int    `envconfig:"FLYER_UPDATE_HOUR" default:"6"`
	CleanupHour      int    `envconfig:"CLEANUP_HOUR" default:"2"`
	StoreRefreshDay  string `envconfig:"STORE_REFRESH_DAY" default:"SUN"`
	StoreRefreshHour int    `envconfig:"STORE_REFRESH_HOUR" default:"3"`

	// Bcrypt hash guarding the mutating API endpoints. Empty disables them.
	AdminKeyHash string `envconfig:"ADMIN_KEY_HASH" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("FF_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("FF_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("FF_DB_MIN_CONNS (%d) cannot exceed FF_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if strings.TrimSpace(c.FeedBaseURL) == "" {
		return fmt.Errorf("FEED_BASE_URL is required")
	}
	if c.FeedRateLimit < 1 {
		return fmt.Errorf("FEED_RATE_LIMIT must be >= 1")
	}
	if c.RefreshHour < 0 || c.RefreshHour > 23 {
		return fmt.Errorf("FLYER_UPDATE_HOUR must be between 0 and 23")
	}
	if c.CleanupHour < 0 || c.CleanupHour > 23 {
		return fmt.Errorf("CLEANUP_HOUR must be between 0 and 23")
	}
	if c.StoreRefreshHour < 0 || c.StoreRefreshHour > 23 {
		return fmt.Errorf("STORE_REFRESH_HOUR must be between 0 and 23")
	}
	if !validWeekday(c.RefreshDay) {
		return fmt.Errorf("FLYER_UPDATE_DAY %q is not a weekday abbreviation", c.RefreshDay)
	}
	if !validWeekday(c.StoreRefreshDay) {
		return fmt.Errorf("STORE_REFRESH_DAY %q is not a weekday abbreviation", c.StoreRefreshDay)
	}
	return nil
}

func validWeekday(raw string) bool {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "MON", "TUE", "WED", "THU", "FRI", "SAT", "SUN":
		return true
	}
	return false
}
