package session

import (
	"os"
	"strings"
	"time"
)

// Config carries everything an application needs to stand up the session
// manager and its adapters. The manager itself only consumes the prefix and
// timing fields; the endpoint fields are used by callers wiring adapters
// and stores.
type Config struct {
	StoragePrefix string // Optional: key prefix for the session record (default: perch)

	SessionTime     time.Duration // Optional: sliding idle window per keepalive tick (default: 30m)
	SafetyMargin    time.Duration // Optional: auto-refresh lead time before expiry (default: 60s)
	RefreshThrottle time.Duration // Optional: minimum gap between keepalive-forced refreshes (default: 1m)

	PoolBaseURL  string // Required for the user-pool adapter: hosted pool API base URL
	PoolID       string // Required for the user-pool adapter: pool identifier
	PoolClientID string // Required for the user-pool adapter: app client identifier

	OIDCIssuerURL    string   // Required for the federated adapter: issuer discovery URL
	OIDCClientID     string   // Required for the federated adapter
	OIDCClientSecret string   // Optional: confidential-client secret
	OIDCScopes       []string // Optional: extra scopes beyond openid (default: profile, email)
	OIDCRedirectURL  string   // Optional: loopback redirect (default chosen by the consent flow)

	DatabaseFile   string // Optional: path to the SQLite session store (default: ./perch.db)
	SealPassphrase string // Optional: if set, session tokens are sealed at rest

	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: text)
}

// LoadConfig reads configuration from the environment, applying defaults
// for everything optional.
func LoadConfig() Config {
	return Config{
		StoragePrefix: getEnvOrDefault("PERCH_STORAGE_PREFIX", "perch"),

		SessionTime:     getEnvDurationOrDefault("PERCH_SESSION_TIME", 30*time.Minute),
		SafetyMargin:    getEnvDurationOrDefault("PERCH_SAFETY_MARGIN", 60*time.Second),
		RefreshThrottle: getEnvDurationOrDefault("PERCH_REFRESH_THROTTLE", time.Minute),

		PoolBaseURL:  os.Getenv("PERCH_POOL_URL"),
		PoolID:       os.Getenv("PERCH_POOL_ID"),
		PoolClientID: os.Getenv("PERCH_POOL_CLIENT_ID"),

		OIDCIssuerURL:    os.Getenv("PERCH_OIDC_ISSUER"),
		OIDCClientID:     os.Getenv("PERCH_OIDC_CLIENT_ID"),
		OIDCClientSecret: os.Getenv("PERCH_OIDC_CLIENT_SECRET"),
		OIDCScopes:       splitScopes(getEnvOrDefault("PERCH_OIDC_SCOPES", "profile email")),
		OIDCRedirectURL:  os.Getenv("PERCH_OIDC_REDIRECT_URL"),

		DatabaseFile:   getEnvOrDefault("PERCH_DATABASE_FILE", "perch.db"),
		SealPassphrase: os.Getenv("PERCH_SEAL_PASSPHRASE"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}
}

// normalized fills in defaults for a Config built by hand instead of
// through LoadConfig.
func (c Config) normalized() Config {
	if c.StoragePrefix == "" {
		c.StoragePrefix = "perch"
	}
	if c.SessionTime <= 0 {
		c.SessionTime = 30 * time.Minute
	}
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = 60 * time.Second
	}
	if c.RefreshThrottle <= 0 {
		c.RefreshThrottle = time.Minute
	}
	return c
}

func splitScopes(value string) []string {
	return strings.Fields(value)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	return defaultValue
}
