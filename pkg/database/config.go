package database

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds database configuration.
type Config struct {
	URL string

	// Connection pool settings
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadConfigFromEnv reads the database configuration from environment
// variables. DATABASE_URL is required.
func LoadConfigFromEnv() (Config, error) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	return Config{
		URL:             url,
		MaxConns:        int32(envInt("DATABASE_MAX_CONNS", 25)),
		MinConns:        int32(envInt("DATABASE_MIN_CONNS", 2)),
		ConnMaxLifetime: time.Duration(envInt("DATABASE_CONN_MAX_LIFETIME_SECONDS", 3600)) * time.Second,
		ConnMaxIdleTime: time.Duration(envInt("DATABASE_CONN_MAX_IDLE_SECONDS", 600)) * time.Second,
	}, nil
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
