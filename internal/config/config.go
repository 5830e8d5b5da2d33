package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	// Reference point and search radius.
	Postcode      string
	HomeLatitude  float64
	HomeLongitude float64
	MaxDistanceKm float64

	// Source API.
	APIBaseURL        string
	APITimeout        time.Duration
	FetchDays         int
	LocationCacheSize int

	// Refresh cycle.
	RefreshInterval time.Duration

	// Calendar sink and state persistence.
	CalendarPath string
	CalendarName string
	StatePath    string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment (and an optional .env file),
// applying defaults where unset and validating required settings.
func Load() (*Config, error) {
	// Best-effort: a missing .env file is the normal case in production.
	_ = godotenv.Load()

	cfg := &Config{
		Postcode:     os.Getenv("POSTCODE"),
		APIBaseURL:   envOrDefault("API_BASE_URL", "https://fireworks-tonight.au/api/v1/"),
		CalendarPath: envOrDefault("CALENDAR_PATH", "data/fireworks.ics"),
		CalendarName: envOrDefault("CALENDAR_NAME", "Fireworks"),
		StatePath:    envOrDefault("STATE_PATH", "data/calendar-state.json"),
		HTTPAddr:     envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:     envOrDefault("LOG_LEVEL", "info"),
		LogFormat:    envOrDefault("LOG_FORMAT", "json"),
	}

	var err error
	if cfg.HomeLatitude, err = requiredFloat("HOME_LATITUDE"); err != nil {
		return nil, err
	}
	if cfg.HomeLongitude, err = requiredFloat("HOME_LONGITUDE"); err != nil {
		return nil, err
	}
	if cfg.MaxDistanceKm, err = floatOrDefault("MAX_DISTANCE_KM", 10); err != nil {
		return nil, err
	}
	if cfg.FetchDays, err = intOrDefault("FETCH_DAYS", 7); err != nil {
		return nil, err
	}
	if cfg.LocationCacheSize, err = intOrDefault("LOCATION_CACHE_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.APITimeout, err = durationOrDefault("API_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RefreshInterval, err = durationOrDefault("REFRESH_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = durationOrDefault("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !validPostcode(c.Postcode) {
		return errors.New("POSTCODE must be a 4-digit Australian postcode")
	}
	if c.HomeLatitude < -90 || c.HomeLatitude > 90 {
		return fmt.Errorf("HOME_LATITUDE out of range: %g", c.HomeLatitude)
	}
	if c.HomeLongitude < -180 || c.HomeLongitude > 180 {
		return fmt.Errorf("HOME_LONGITUDE out of range: %g", c.HomeLongitude)
	}
	if c.FetchDays < 1 {
		return fmt.Errorf("FETCH_DAYS must be at least 1, got %d", c.FetchDays)
	}
	if c.LocationCacheSize < 1 {
		return fmt.Errorf("LOCATION_CACHE_SIZE must be positive, got %d", c.LocationCacheSize)
	}
	if c.APITimeout <= 0 {
		return errors.New("API_TIMEOUT must be positive")
	}
	if c.RefreshInterval < time.Minute {
		return fmt.Errorf("REFRESH_INTERVAL must be at least 1m, got %s", c.RefreshInterval)
	}
	if c.CalendarPath == "" {
		return errors.New("CALENDAR_PATH is required")
	}
	if c.StatePath == "" {
		return errors.New("STATE_PATH is required")
	}
	return nil
}

func validPostcode(s string) bool {
	if len(s) != 4 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func requiredFloat(key string) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func floatOrDefault(key string, fallback float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func intOrDefault(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func durationOrDefault(key string, fallback time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
