package config

import (
	"os"
	"strings"
)

const (
	defaultSLASweepSchedule = "@every 15m"
	defaultPhoneRegion      = "MM"
)

func boolFromEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// SkipMigrations disables gorm AutoMigrate on startup.
//
// Set via env:
// - SKIP_MIGRATIONS=true
func SkipMigrations() bool {
	return boolFromEnv("SKIP_MIGRATIONS")
}

// SLASweepEnabled turns on the in-process SLA breach sweeper.
// Only one instance wins each sweep (redis lock), so it is safe to enable on every replica.
//
// Set via env:
// - SLA_SWEEP_ENABLED=true
func SLASweepEnabled() bool {
	return boolFromEnv("SLA_SWEEP_ENABLED")
}

// SLASweepSchedule is a robfig/cron spec, e.g. "@every 15m" or "*/10 * * * *".
func SLASweepSchedule() string {
	if v := strings.TrimSpace(os.Getenv("SLA_SWEEP_SCHEDULE")); v != "" {
		return v
	}
	return defaultSLASweepSchedule
}

// UseMemoryStorage runs the engine against the in-process store (APP_STORAGE=memory).
// Intended for local demos; nothing survives a restart.
func UseMemoryStorage() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("APP_STORAGE")), "memory")
}

// PhoneRegion is the default region for contact phones written without a country code.
//
// Set via env:
// - PHONE_REGION=MM
func PhoneRegion() string {
	if v := strings.ToUpper(strings.TrimSpace(os.Getenv("PHONE_REGION"))); v != "" {
		return v
	}
	return defaultPhoneRegion
}

// DemoPassword enables /auth/login for the seeded users under APP_STORAGE=memory.
func DemoPassword() string {
	return os.Getenv("DEMO_PASSWORD")
}

func IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production")
}
