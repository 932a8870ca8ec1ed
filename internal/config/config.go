package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/saviobatista/adsb-area-recorder/internal/types"
)

// DefaultAPIBaseURL is the airplanes.live v2 REST root
const DefaultAPIBaseURL = "https://api.airplanes.live/v2"

// USCoverage is a set of overlapping circles covering the contiguous US and
// southern Canada
var USCoverage = []types.Circle{
	{Lat: 47, Lon: -121, RadiusNM: 250}, {Lat: 40, Lon: -120, RadiusNM: 250},
	{Lat: 34, Lon: -115.5, RadiusNM: 250}, {Lat: 45.7, Lon: -112.4, RadiusNM: 250},
	{Lat: 39.1, Lon: -110.2, RadiusNM: 250}, {Lat: 32.5, Lon: -106.4, RadiusNM: 250},
	{Lat: 38.7, Lon: -100, RadiusNM: 250}, {Lat: 31.57, Lon: -98.4, RadiusNM: 250},
	{Lat: 45, Lon: -103.3, RadiusNM: 250}, {Lat: 45.4, Lon: -94, RadiusNM: 250},
	{Lat: 38, Lon: -92.28, RadiusNM: 250}, {Lat: 31.8, Lon: -89.8, RadiusNM: 250},
	{Lat: 28.24, Lon: -81.8, RadiusNM: 250}, {Lat: 36.1, Lon: -82.22, RadiusNM: 250},
	{Lat: 42.8, Lon: -84.42, RadiusNM: 250}, {Lat: 41.3, Lon: -75, RadiusNM: 250},
	{Lat: 45.55, Lon: -68.42, RadiusNM: 173}, {Lat: 35.98, Lon: -76.1, RadiusNM: 112},
	{Lat: 37, Lon: -105.25, RadiusNM: 50}, {Lat: 30.5, Lon: -75.8, RadiusNM: 250},
	{Lat: 35.87, Lon: -87.58, RadiusNM: 30}, {Lat: 38.67, Lon: -86.8, RadiusNM: 30},
	{Lat: 42.08, Lon: -90.2, RadiusNM: 30}, {Lat: 40.8, Lon: -105.1, RadiusNM: 30},
	{Lat: 41.75, Lon: -114.82, RadiusNM: 30}, {Lat: 43.03, Lon: -127.62, RadiusNM: 175},
	{Lat: 33.75, Lon: -123.82, RadiusNM: 210}, {Lat: 24.8, Lon: -88.82, RadiusNM: 250},
	{Lat: 25.9, Lon: -96.1, RadiusNM: 250}, {Lat: 38, Lon: -128.4, RadiusNM: 200},
	{Lat: 26, Lon: -104.9, RadiusNM: 250}, {Lat: 28.1, Lon: -120.13, RadiusNM: 250},
	{Lat: 27, Lon: -114, RadiusNM: 250}, {Lat: 32.18, Lon: -84.68, RadiusNM: 40},
	{Lat: 51, Lon: -64, RadiusNM: 250}, {Lat: 47.8, Lon: -75.6, RadiusNM: 250},
	{Lat: 49.45, Lon: -86.1, RadiusNM: 250}, {Lat: 52.1, Lon: -98, RadiusNM: 250},
	{Lat: 52.1, Lon: -107, RadiusNM: 250}, {Lat: 53, Lon: -116.28, RadiusNM: 250},
	{Lat: 53.96, Lon: -125.75, RadiusNM: 250}, {Lat: 49, Lon: -131.32, RadiusNM: 250},
	{Lat: 44.23, Lon: -61.4, RadiusNM: 190},
}

// Config holds the application configuration
type Config struct {
	DBConnStr      string
	APIBaseURL     string
	Circles        []types.Circle
	PollInterval   time.Duration
	RateLimitPause time.Duration
	FetchTimeout   time.Duration
	FetchRetries   int
	AppendRetries  int
	StatsInterval  time.Duration
	NATSURL        string
	RedisAddr      string
	RedisPassword  string
	MetricsAddr    string
	H3Resolutions  []int
	OutputDir      string
	LogLevel       string
	LogFormat      string
}

// Load loads the configuration from environment variables and .env file
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	dbConnStr := os.Getenv("DB_CONN_STR")
	if dbConnStr == "" {
		return nil, fmt.Errorf("DB_CONN_STR environment variable is required")
	}

	cfg := &Config{
		DBConnStr:     dbConnStr,
		APIBaseURL:    getEnv("API_BASE_URL", DefaultAPIBaseURL),
		NATSURL:       os.Getenv("NATS_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		MetricsAddr:   os.Getenv("METRICS_ADDR"),
		OutputDir:     getEnv("OUTPUT_DIR", "."),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
	}

	var err error
	if cfg.Circles, err = parseCircles(os.Getenv("CIRCLES")); err != nil {
		return nil, fmt.Errorf("invalid CIRCLES: %w", err)
	}
	if cfg.PollInterval, err = getDuration("POLL_INTERVAL", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.RateLimitPause, err = getDuration("RATE_LIMIT_PAUSE", 550*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = getDuration("FETCH_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.StatsInterval, err = getDuration("STATS_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.FetchRetries, err = getInt("FETCH_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.AppendRetries, err = getInt("APPEND_RETRIES", 2); err != nil {
		return nil, err
	}
	if cfg.H3Resolutions, err = ParseResolutions(getEnv("H3_RESOLUTIONS", "4")); err != nil {
		return nil, fmt.Errorf("invalid H3_RESOLUTIONS: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getDuration accepts Go duration syntax or a bare number of seconds
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("%s must not be negative", key)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return n, nil
}

// parseCircles parses "lat,lon,radius;lat,lon,radius". Empty input selects
// USCoverage.
func parseCircles(raw string) ([]types.Circle, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		circles := make([]types.Circle, len(USCoverage))
		copy(circles, USCoverage)
		return circles, nil
	}

	var circles []types.Circle
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ",")
		if len(fields) != 3 {
			return nil, fmt.Errorf("circle %q: want lat,lon,radius", part)
		}
		var vals [3]float64
		for i, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, fmt.Errorf("circle %q: %w", part, err)
			}
			vals[i] = v
		}
		c := types.Circle{Lat: vals[0], Lon: vals[1], RadiusNM: vals[2]}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("circle %q: %w", part, err)
		}
		circles = append(circles, c)
	}
	if len(circles) == 0 {
		return nil, fmt.Errorf("no circles given")
	}
	return circles, nil
}

// ParseResolutions parses a comma separated list of H3 resolutions
func ParseResolutions(raw string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		res, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		if res < 0 || res > 15 {
			return nil, fmt.Errorf("resolution %d out of range 0-15", res)
		}
		out = append(out, res)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no resolutions given")
	}
	return out, nil
}
