package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	DBMaxConns  int
	RedisURL    string

	OpenAIAPIKey    string
	OpenAIOrgID     string
	OpenAIProjectID string
	OpenAIBaseURL   string
	OpenAITimeout   time.Duration

	FrontendURL string
	JWTSecret   string
	GeoIPDBPath string

	ReconcileInterval time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. A .env file is read when present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "3000"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),
		RedisURL:    os.Getenv("REDIS_URL"),

		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIOrgID:     os.Getenv("OPENAI_ORG_ID"),
		OpenAIProjectID: os.Getenv("OPENAI_PROJECT_ID"),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAITimeout:   time.Second * time.Duration(getEnvInt("OPENAI_TIMEOUT_SECONDS", 30)),

		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3001"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		GeoIPDBPath: os.Getenv("GEOIP_DB_PATH"),

		ReconcileInterval: time.Second * time.Duration(getEnvInt("RECONCILE_INTERVAL_SECONDS", 30)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.ReconcileInterval < 10*time.Second {
		return nil, fmt.Errorf("RECONCILE_INTERVAL_SECONDS must be at least 10")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
