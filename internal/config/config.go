package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env             string
	HTTPPort        string
	BaseURL         string
	QRSecret        string
	AdminPassword   string
	SessionKey      string
	DataDir         string
	SlotTTL         time.Duration
	RateLimitPerMin int
	DedupByEmail    bool
}

// Load returns application config populated from environment variables with
// sensible defaults. A .env file in the working directory is honoured when
// present.
func Load() App {
	if err := godotenv.Load(); err == nil {
		log.Info(".env file loaded")
	}
	return App{
		Env:             getEnv("APP_ENV", "dev"),
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		BaseURL:         getEnv("BASE_URL", "http://localhost:8080"),
		QRSecret:        getEnv("QR_SECRET", "changeme"),
		AdminPassword:   getEnv("ADMIN_PASSWORD", "admin"),
		SessionKey:      getEnv("SESSION_KEY", "dev-session-secret-change"),
		DataDir:         getEnv("DATA_DIR", "data"),
		SlotTTL:         durationEnv("SLOT_TTL", 5*time.Minute),
		RateLimitPerMin: intEnv("RATE_LIMIT_PER_MIN", 120),
		DedupByEmail:    boolEnv("DEDUP_BY_EMAIL", true),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Warnf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if val == "1" || val == "true" || val == "TRUE" {
			return true
		}
		if val == "0" || val == "false" || val == "FALSE" {
			return false
		}
		log.Warnf("invalid bool for %s, using fallback %v", key, fallback)
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Warnf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}
