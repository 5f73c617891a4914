// Package config loads the process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// OAuthProvider is the per-provider client configuration for the
// external login flow.
type OAuthProvider struct {
	Name         string
	ClientID     string
	ClientSecret string
	AuthURL      string
}

// RetentionConfig bounds how long stale games and their chat logs keep
// their data.
type RetentionConfig struct {
	// GameRetention is how long a finished or never-started game may sit
	// untouched before the cleanup job archives it.
	GameRetention time.Duration
	// MessageTTL is how long messages of archived games are kept.
	MessageTTL time.Duration
	// CleanupInterval is how often the cleanup job runs.
	CleanupInterval time.Duration
}

// Config is the full runtime configuration.
type Config struct {
	HTTPPort    string
	SelfURL     string
	FrontendURL string
	CORSOrigins []string

	JWTSecret  string
	SessionTTL time.Duration

	KickGrace         time.Duration
	DisconnectTimeout time.Duration
	HeartbeatTimeout  time.Duration

	OAuthProviders map[string]OAuthProvider
	TestLogin      bool

	Retention RetentionConfig

	LogStackTraces bool
}

// Load reads the configuration from environment variables, applying
// defaults for everything except JWT_SECRET.
func Load() (*Config, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	cfg := &Config{
		HTTPPort:          envString("HTTP_PORT", "8080"),
		SelfURL:           envString("SELF_URL", "http://localhost:8080"),
		FrontendURL:       envString("FRONTEND_URL", "http://localhost:5173"),
		JWTSecret:         secret,
		SessionTTL:        envSeconds("SESSION_TTL_SECONDS", 7*24*time.Hour),
		KickGrace:         envSeconds("KICK_PLAYER_AFTER_SECONDS", 60*time.Second),
		DisconnectTimeout: envSeconds("DISCONNECT_TIMEOUT_SECONDS", 30*time.Second),
		HeartbeatTimeout:  envSeconds("HEARTBEAT_TIMEOUT_SECONDS", 30*time.Second),
		TestLogin:         envBool("TEST_LOGIN_ENABLED", false),
		Retention: RetentionConfig{
			GameRetention:   envDays("GAME_RETENTION_DAYS", 30*24*time.Hour),
			MessageTTL:      envDays("MESSAGE_TTL_DAYS", 90*24*time.Hour),
			CleanupInterval: envSeconds("CLEANUP_INTERVAL_SECONDS", time.Hour),
		},
		LogStackTraces:    envBool("LOG_STACK_TRACES", false),
		OAuthProviders:    loadOAuthProviders(),
	}

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	} else {
		cfg.CORSOrigins = []string{cfg.FrontendURL}
	}

	return cfg, nil
}

// loadOAuthProviders collects OAUTH_<NAME>_CLIENT_ID style variables.
// A provider is registered once its client id is present.
func loadOAuthProviders() map[string]OAuthProvider {
	providers := make(map[string]OAuthProvider)
	for _, name := range []string{"google", "discord"} {
		prefix := "OAUTH_" + strings.ToUpper(name) + "_"
		clientID := os.Getenv(prefix + "CLIENT_ID")
		if clientID == "" {
			continue
		}
		providers[name] = OAuthProvider{
			Name:         name,
			ClientID:     clientID,
			ClientSecret: os.Getenv(prefix + "CLIENT_SECRET"),
			AuthURL:      os.Getenv(prefix + "AUTH_URL"),
		}
	}
	return providers
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

func envDays(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	days, err := strconv.Atoi(v)
	if err != nil || days < 0 {
		return fallback
	}
	return time.Duration(days) * 24 * time.Hour
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
