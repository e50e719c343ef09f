package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppName     string
	Env         string
	Host        string
	Port        int
	StoreDriver string // "postgres" or "sqlite"
	DatabaseURL string
	SQLitePath  string

	JWTSecret          string
	AccessTokenMinutes int
	BcryptCost         int

	RedisURL   string // optional; empty selects the in-memory profile cache
	PebblePath string // client-side cursor store location

	HeartbeatInterval time.Duration
	MissThreshold     int
	PageSize          int
	DedupWindowSize   int
	DedupWindowTTL    time.Duration
	ProfileCacheTTL   time.Duration

	CORSOrigins []string
	Debug       bool
}

func Load() (*Config, error) {
	dbHost := getEnv("POSTGRES_HOST", "localhost")
	dbPort := getEnv("POSTGRES_PORT", "5432")
	dbUser := getEnv("POSTGRES_USER", "postgres")
	dbPass := getEnv("POSTGRES_PASSWORD", "postgres")
	dbName := getEnv("POSTGRES_DB", "chatsync")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(dbUser, dbPass),
		Host:     fmt.Sprintf("%s:%s", dbHost, dbPort),
		Path:     dbName,
		RawQuery: "sslmode=disable",
	}
	dbURL := getEnv("DATABASE_URL", u.String())

	cfg := &Config{
		AppName:     getEnv("APP_NAME", "chatsync"),
		Env:         getEnv("APP_ENV", "development"),
		Host:        getEnv("HTTP_HOST", "0.0.0.0"),
		Port:        getEnvAsInt("HTTP_PORT", 8000),
		StoreDriver: getEnv("STORE_DRIVER", "postgres"),
		DatabaseURL: dbURL,
		SQLitePath:  getEnv("SQLITE_PATH", "chatsync.db"),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		AccessTokenMinutes: getEnvAsInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24),
		BcryptCost:         getEnvAsInt("BCRYPT_COST", 12),

		RedisURL:   getEnv("REDIS_URL", ""),
		PebblePath: getEnv("PEBBLE_PATH", "chatsync-state"),

		HeartbeatInterval: getEnvAsDuration("HEARTBEAT_INTERVAL", 10*time.Second),
		MissThreshold:     getEnvAsInt("HEARTBEAT_MISS_THRESHOLD", 3),
		PageSize:          getEnvAsInt("PAGE_SIZE", 50),
		DedupWindowSize:   getEnvAsInt("DEDUP_WINDOW_SIZE", 200),
		DedupWindowTTL:    getEnvAsDuration("DEDUP_WINDOW_TTL", 2*time.Minute),
		ProfileCacheTTL:   getEnvAsDuration("PROFILE_CACHE_TTL", 10*time.Minute),

		Debug: getEnvAsBool("DEBUG", true),
	}

	cors := getEnv("CORS_ORIGINS", "")
	if cors != "" {
		parts := strings.Split(cors, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.CORSOrigins = parts
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.StoreDriver != "postgres" && cfg.StoreDriver != "sqlite" {
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
