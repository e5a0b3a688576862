package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port       string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	JWTSecret    string
	JWTExpiresIn string // minutes

	AdminEmail    string
	AdminPassword string
	AdminFullName string

	// Risk oracle (external AI service)
	OracleBaseURL string
	OracleTimeout time.Duration

	// Escalation thresholds; either one terminates the session on its own.
	MaxWarnings    int
	MaxTabSwitches int

	// Reviewer live-view refresh cadence.
	RegistryRefresh time.Duration
}

func Load() *Config {
	return &Config{
		Port:       getenv("PORT", "8080"),
		DBHost:     getenv("DB_HOST", "localhost"),
		DBPort:     getenv("DB_PORT", "5432"),
		DBUser:     getenv("DB_USER", "postgres"),
		DBPassword: getenv("DB_PASSWORD", "postgres"),
		DBName:     getenv("DB_NAME", "proctor_db"),
		DBSSLMode:  getenv("DB_SSLMODE", "disable"),

		JWTSecret:    getenv("JWT_SECRET", "supersecret_change_me"),
		JWTExpiresIn: getenv("JWT_EXPIRES_IN", "60"),

		AdminEmail:    getenv("ADMIN_EMAIL", "admin@example.com"),
		AdminPassword: getenv("ADMIN_PASSWORD", "admin123"),
		AdminFullName: getenv("ADMIN_FULL_NAME", "Administrator"),

		OracleBaseURL: getenv("ORACLE_BASE_URL", "http://127.0.0.1:8000"),
		OracleTimeout: getdur("ORACLE_TIMEOUT_SECONDS", 10*time.Second),

		MaxWarnings:    getint("MAX_WARNINGS", 3),
		MaxTabSwitches: getint("MAX_TAB_SWITCHES", 3),

		RegistryRefresh: getdur("REGISTRY_REFRESH_SECONDS", 5*time.Second),
	}
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getdur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
