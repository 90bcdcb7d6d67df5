// Package config provides configuration management functionality.
//
// Configuration is loaded from environment variables (and an optional .env
// file via godotenv). There is no settings-database override layer:
// DataHub and Registry are stateless processes in front of a shared
// Postgres database, so credentials and tuning knobs live in the
// environment only.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration shared by DataHub and Registry.
type Config struct {
	DatabaseURL        string        // Postgres DSN
	LogLevel           string        // debug, info, warn, error
	DevMode            bool          // pretty-print logs instead of JSON
	Port               int           // HTTP listen port for this process
	SandboxPrefix      string        // allowed file_path prefix for code_registry rows
	SystemContextPath  string        // path to the system-context secret material (HKDF ikm)
	DataHubBaseURL       string        // Registry's view of where DataHub listens (asset discovery calls)
	RegistryBaseURL      string        // DataHub's view of where Registry listens (index sync posts)
	ReconcilerInterval   time.Duration // subscription reconciler tick interval, default 30s
	ProviderSnapshotPath string        // msgpack warm-restart snapshot of loaded providers
}

// Load reads configuration from environment variables.
//
// portEnvVar lets each binary (cmd/datahub, cmd/registry) pick its own port
// variable while sharing every other setting.
func Load(portEnvVar string, defaultPort int) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:        getEnv("DATABASE_URL", "postgres://localhost:5432/platform?sslmode=disable"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DevMode:            getEnvAsBool("DEV_MODE", false),
		Port:               getEnvAsInt(portEnvVar, defaultPort),
		SandboxPrefix:      getEnv("SANDBOX_PREFIX", "/srv/providers"),
		SystemContextPath:  getEnv("SYSTEM_CONTEXT_PATH", ""),
		DataHubBaseURL:       getEnv("DATAHUB_BASE_URL", "http://localhost:8081"),
		RegistryBaseURL:      getEnv("REGISTRY_BASE_URL", "http://localhost:8082"),
		ReconcilerInterval:   time.Duration(getEnvAsInt("RECONCILER_INTERVAL_SECONDS", 30)) * time.Second,
		ProviderSnapshotPath: getEnv("PROVIDER_SNAPSHOT_PATH", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.SandboxPrefix == "" {
		return fmt.Errorf("SANDBOX_PREFIX is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
