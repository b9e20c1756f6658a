// Package config loads and validates the gateway's environment-driven
// settings, failing fast when a required variable is missing.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds every setting the gateway's components need at startup.
// Fields mirror the environment variables named in the external
// interfaces contract (DATABASE_URL, SECRET_KEY, API_KEY, ...).
type Config struct {
	// Database
	DatabaseURL  string
	PGHost       string
	PGPort       string
	PGUser       string
	PGPassword   string
	PGDatabase   string
	DBPoolMaxOpen int

	// Auth
	SecretKey                string
	Algorithm                string
	AccessTokenExpireMinutes int
	RefreshTokenExpireDays   int

	// API key / CORS
	APIKey      string
	CORSOrigins []string

	// App metadata
	AppName        string
	AppDescription string
	AppVersion     string

	// Downstream services
	StorageHost           string
	StorageInternalPort   string
	FunctionsHost         string
	FunctionsInternalPort string
	RealtimeInternalPort  string
	BrokerHost            string

	// Storage client tuning
	StorageMaxConnections int
	StorageMaxKeepalive   int
	StorageConnectTimeoutSeconds int
	StorageChunkTimeoutSeconds   int

	// Backups
	BackupRetentionDays int
	BackupScheduleCron  string
	BackupDir           string

	ServerPort string
}

// required lists every environment variable that MUST be present. Missing
// keys are collected and reported together so an operator fixes the
// install in one pass instead of playing whack-a-mole.
var required = []string{
	"DATABASE_URL",
	"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB",
	"SECRET_KEY", "ALGORITHM", "ACCESS_TOKEN_EXPIRE_MINUTES",
	"API_KEY",
	"CORS_ORIGINS",
	"APP_NAME", "APP_DESCRIPTION", "APP_VERSION",
	"STORAGE_HOST", "STORAGE_INTERNAL_PORT",
	"FUNCTIONS_HOST", "FUNCTIONS_INTERNAL_PORT",
	"REALTIME_INTERNAL_PORT",
	"BACKUP_RETENTION_DAYS", "BACKUP_SCHEDULE_CRON",
}

// Load reads an optional .env file (ignored if absent, matching the
// teacher's lazy-global bootstrap) and then the process environment,
// failing with every missing required key named at once.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var missing []string
	for _, key := range required {
		if strings.TrimSpace(os.Getenv(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	accessExpire, err := strconv.Atoi(os.Getenv("ACCESS_TOKEN_EXPIRE_MINUTES"))
	if err != nil {
		return nil, fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be an integer: %w", err)
	}

	cfg := &Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		PGHost:        os.Getenv("POSTGRES_HOST"),
		PGPort:        os.Getenv("POSTGRES_PORT"),
		PGUser:        os.Getenv("POSTGRES_USER"),
		PGPassword:    os.Getenv("POSTGRES_PASSWORD"),
		PGDatabase:    os.Getenv("POSTGRES_DB"),
		DBPoolMaxOpen: intEnv("DB_POOL_MAX_OPEN", 20),

		SecretKey:                os.Getenv("SECRET_KEY"),
		Algorithm:                os.Getenv("ALGORITHM"),
		AccessTokenExpireMinutes: accessExpire,
		RefreshTokenExpireDays:   intEnv("REFRESH_TOKEN_EXPIRE_DAYS", 30),

		APIKey:      os.Getenv("API_KEY"),
		CORSOrigins: splitCSV(os.Getenv("CORS_ORIGINS")),

		AppName:        os.Getenv("APP_NAME"),
		AppDescription: os.Getenv("APP_DESCRIPTION"),
		AppVersion:     os.Getenv("APP_VERSION"),

		StorageHost:           os.Getenv("STORAGE_HOST"),
		StorageInternalPort:   os.Getenv("STORAGE_INTERNAL_PORT"),
		FunctionsHost:         os.Getenv("FUNCTIONS_HOST"),
		FunctionsInternalPort: os.Getenv("FUNCTIONS_INTERNAL_PORT"),
		RealtimeInternalPort:  os.Getenv("REALTIME_INTERNAL_PORT"),
		BrokerHost:            envOr("BROKER_HOST", "localhost"),

		StorageMaxConnections:        intEnv("STORAGE_MAX_CONNECTIONS", 100),
		StorageMaxKeepalive:          intEnv("STORAGE_MAX_KEEPALIVE", 20),
		StorageConnectTimeoutSeconds: intEnv("STORAGE_CONNECT_TIMEOUT_SECONDS", 5),
		StorageChunkTimeoutSeconds:   intEnv("STORAGE_CHUNK_TIMEOUT_SECONDS", 300),

		BackupRetentionDays: intEnv("BACKUP_RETENTION_DAYS", 30),
		BackupScheduleCron:  os.Getenv("BACKUP_SCHEDULE_CRON"),
		BackupDir:           envOr("BACKUP_DIR", "./backups"),

		ServerPort: envOr("SERVER_PORT", "8000"),
	}

	return cfg, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
