package config

import (
	"testing"
	"time"
)

func TestNewEnvConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "ENV", "NODE_ENV", "DAILY_INPUT_LIMIT", "HOURLY_OUTPUT_LIMIT",
		"RESERVATION_TTL_SECONDS", "RESERVATION_FRACTION", "CACHE_TTL_DAYS",
	} {
		t.Setenv(key, "")
	}

	cfg := NewEnvConfig()

	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Port)
	}
	if !cfg.IsDevelopment() {
		t.Errorf("Env = %s, want development default", cfg.Env)
	}
	if cfg.DailyInputLimit != 10000 || cfg.DailyOutputLimit != 20000 {
		t.Errorf("daily limits = %d/%d", cfg.DailyInputLimit, cfg.DailyOutputLimit)
	}
	if cfg.HourlyInputLimit != 1000 || cfg.HourlyOutputLimit != 2000 {
		t.Errorf("hourly limits = %d/%d", cfg.HourlyInputLimit, cfg.HourlyOutputLimit)
	}
	if cfg.MonthlyInputLimit != 100000 || cfg.MonthlyOutputLimit != 200000 {
		t.Errorf("monthly limits = %d/%d", cfg.MonthlyInputLimit, cfg.MonthlyOutputLimit)
	}
	if cfg.ReservationTTL != 10*time.Minute {
		t.Errorf("ReservationTTL = %s", cfg.ReservationTTL)
	}
	if cfg.ReservationFraction != 0.5 {
		t.Errorf("ReservationFraction = %f", cfg.ReservationFraction)
	}
	if cfg.CacheTTL != 30*24*time.Hour {
		t.Errorf("CacheTTL = %s", cfg.CacheTTL)
	}
}

func TestNewEnvConfigOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("ENV", "production")
	t.Setenv("HOURLY_INPUT_LIMIT", "5000")
	t.Setenv("RESERVATION_FRACTION", "0.25")

	cfg := NewEnvConfig()

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if !cfg.IsProduction() {
		t.Errorf("Env = %s, want production", cfg.Env)
	}
	if cfg.HourlyInputLimit != 5000 {
		t.Errorf("HourlyInputLimit = %d", cfg.HourlyInputLimit)
	}
	if cfg.ReservationFraction != 0.25 {
		t.Errorf("ReservationFraction = %f", cfg.ReservationFraction)
	}
}
