package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type HTTPConfig struct {
	Addr string
}

type TMDBConfig struct {
	BaseURL    string
	APIKey     string
	RateLimit  int           // admitted requests per RatePeriod
	RatePeriod time.Duration // rolling window length
}

type AppConfig struct {
	ServiceName    string
	LogLevel       string
	HTTP           HTTPConfig
	TMDB           TMDBConfig
	NATSURL        string
	AdminJWTSecret string
	IMDbDataDir    string
}

func Load() (AppConfig, error) {
	cfg := AppConfig{
		ServiceName: strings.TrimSpace(os.Getenv("SERVICE_NAME")),
		LogLevel:    strings.TrimSpace(os.Getenv("LOG_LEVEL")),
		HTTP: HTTPConfig{
			Addr: strings.TrimSpace(os.Getenv("HTTP_ADDR")),
		},
		TMDB: TMDBConfig{
			BaseURL:    strings.TrimSpace(os.Getenv("TMDB_BASE_URL")),
			APIKey:     strings.TrimSpace(os.Getenv("TMDB_API_KEY")),
			RateLimit:  envInt("TMDB_RATE_LIMIT", 35),
			RatePeriod: envDuration("TMDB_RATE_PERIOD", 10*time.Second),
		},
		NATSURL:        strings.TrimSpace(os.Getenv("NATS_URL")),
		AdminJWTSecret: strings.TrimSpace(os.Getenv("ADMIN_JWT_SECRET")),
		IMDbDataDir:    strings.TrimSpace(os.Getenv("IMDB_DATA_DIR")),
	}
	if cfg.ServiceName == "" {
		return AppConfig{}, errors.New("SERVICE_NAME is required")
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.TMDB.BaseURL == "" {
		cfg.TMDB.BaseURL = "https://api.themoviedb.org/3"
	}
	if cfg.IMDbDataDir == "" {
		cfg.IMDbDataDir = "imdb_data"
	}
	return cfg, nil
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
