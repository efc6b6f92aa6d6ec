package config

import (
	"os"
	"strings"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// EnvConfig holds environment-derived settings not expressed in config.json:
// mesh identity namespace, pod metadata, and log verbosity.
type EnvConfig struct {
	Env Environment

	// PodNamespace and PodName identify this sidecar's own workload. They
	// are loaded for reference only; the local identity is always
	// Config.LocalIdentity as configured.
	PodNamespace string
	PodName      string
	TrustDomain  string

	LogLevel string
	Debug    bool
}

// LoadEnv loads environment configuration from environment variables.
func LoadEnv() *EnvConfig {
	env := getEnvOrDefault("MESHCORE_ENV", "development")

	cfg := &EnvConfig{
		Env:          Environment(strings.ToLower(env)),
		LogLevel:     getEnvOrDefault("MESHCORE_LOG_LEVEL", "info"),
		PodNamespace: getEnvOrDefault("POD_NAMESPACE", "default"),
		PodName:      getEnvOrDefault("POD_NAME", "unknown"),
		TrustDomain:  getEnvOrDefault("MESHCORE_TRUST_DOMAIN", "cluster.local"),
	}

	switch cfg.Env {
	case Production:
		cfg.Debug = getEnvOrDefault("MESHCORE_DEBUG", "false") == "true"
	default:
		cfg.Env = Development
		cfg.Debug = getEnvOrDefault("MESHCORE_DEBUG", "true") == "true"
		if cfg.LogLevel == "info" {
			cfg.LogLevel = "debug"
		}
	}

	return cfg
}

// IsDevelopment reports whether running in development mode.
func (e *EnvConfig) IsDevelopment() bool {
	return e.Env == Development
}

// IsProduction reports whether running in production mode.
func (e *EnvConfig) IsProduction() bool {
	return e.Env == Production
}

// String returns the environment name.
func (e Environment) String() string {
	return string(e)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
