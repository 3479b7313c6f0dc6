// Package config reads service configuration from the environment. Nothing
// outside this package touches os.Getenv.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	// ModelDir holds the ONNX model files and their JSON artifacts.
	ModelDir string

	// RemoteAPIURL is the base URL of the backend used as the disease
	// detection fallback (and for its health probe).
	RemoteAPIURL  string
	RemoteTimeout time.Duration

	// DataGovAPIKey authenticates mandi price lookups against data.gov.in.
	DataGovAPIKey string
	DataGovURL    string

	OpenMeteoURL string

	CachePath       string
	CacheMaxEntries int
	CacheTTL        time.Duration

	LogLevel string
}

// Load reads config from the environment, after loading an optional .env
// file. Errors from godotenv are ignored since the file may not exist.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:            envOr("PORT", "8080"),
		ModelDir:        envOr("MODEL_DIR", "models"),
		RemoteAPIURL:    envOr("REMOTE_API_URL", ""),
		RemoteTimeout:   envDurationOr("REMOTE_TIMEOUT", 30*time.Second),
		DataGovAPIKey:   envOr("API_GOV_KEY", ""),
		DataGovURL:      envOr("DATA_GOV_URL", "https://api.data.gov.in"),
		OpenMeteoURL:    envOr("OPEN_METEO_URL", "https://archive-api.open-meteo.com/v1/archive"),
		CachePath:       envOr("CACHE_PATH", "agrisense-cache.db"),
		CacheMaxEntries: envIntOr("CACHE_MAX_ENTRIES", 1000),
		CacheTTL:        envDurationOr("CACHE_TTL", 30*time.Minute),
		LogLevel:        envOr("LOG_LEVEL", "info"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
