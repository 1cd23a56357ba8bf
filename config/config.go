package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	FeedURL      string
	FetchTimeout time.Duration
	MaxRetries   int
	BatchSize    int

	SnapshotDir string
	UpdateCron  string
	HTTPAddr    string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "directory"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "directory123"),
		PostgresDB:       getEnv("POSTGRES_DB", "provider_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		FeedURL:      getEnv("FEED_URL", ""),
		FetchTimeout: time.Duration(getEnvInt("FETCH_TIMEOUT_SEC", 60)) * time.Second,
		MaxRetries:   getEnvInt("MAX_RETRIES", 3),
		BatchSize:    getEnvInt("BATCH_SIZE", 500),

		SnapshotDir: getEnv("SNAPSHOT_DIR", "./snapshots"),
		// Day 2 of every month, 02:00.
		UpdateCron: getEnv("UPDATE_CRON", "0 2 2 * *"),
		HTTPAddr:   getEnv("HTTP_ADDR", ":8080"),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}
