// Package config loads the relay configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// EnvConfig holds all environment-derived settings
type EnvConfig struct {
	Port           int
	Env            string
	AccessKey      string // service access key for POST /v1/chat
	JWTSecret      string // HMAC secret for subscriber channel tokens
	EnableCORS     bool
	CORSOrigin     string
	RequestTimeout time.Duration

	// Upstream model endpoint
	ModelEndpoint   string
	ModelAPIKey     string
	DefaultModelID  string
	SafetyFilterID  string // optional upstream safety filter configuration
	UpstreamTimeout time.Duration

	// Quota windows (token limits per window)
	DailyInputLimit    int64
	DailyOutputLimit   int64
	HourlyInputLimit   int64
	HourlyOutputLimit  int64
	MonthlyInputLimit  int64
	MonthlyOutputLimit int64

	// Reservations held while a generation is in flight
	ReservationTTL      time.Duration
	ReservationFraction float64 // share of the daily output limit reserved per request

	// Response cache
	CacheTTL time.Duration

	// Guardrail keyword config (JSON, hot-reloaded)
	GuardrailConfigPath string

	// Log file settings
	LogDir        string
	LogFile       string
	LogMaxSize    int // MB per file
	LogMaxBackups int
	LogMaxAge     int // days
	LogCompress   bool
	LogToConsole  bool
}

// NewEnvConfig reads the environment and applies defaults
func NewEnvConfig() *EnvConfig {
	env := getEnv("ENV", "")
	if env == "" {
		env = getEnv("NODE_ENV", "development")
	}

	return &EnvConfig{
		Port:           getEnvAsInt("PORT", 3000),
		Env:            env,
		AccessKey:      getEnv("RELAY_ACCESS_KEY", ""),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		EnableCORS:     getEnv("ENABLE_CORS", "true") != "false",
		CORSOrigin:     getEnv("CORS_ORIGIN", "*"),
		RequestTimeout: time.Duration(getEnvAsInt("REQUEST_TIMEOUT", 300000)) * time.Millisecond,

		ModelEndpoint:   getEnv("MODEL_ENDPOINT", ""),
		ModelAPIKey:     getEnv("MODEL_API_KEY", ""),
		DefaultModelID:  getEnv("DEFAULT_MODEL_ID", "anthropic.claude-3-haiku"),
		SafetyFilterID:  getEnv("SAFETY_FILTER_ID", ""),
		UpstreamTimeout: time.Duration(getEnvAsInt("UPSTREAM_TIMEOUT", 120000)) * time.Millisecond,

		DailyInputLimit:    getEnvAsInt64("DAILY_INPUT_LIMIT", 10000),
		DailyOutputLimit:   getEnvAsInt64("DAILY_OUTPUT_LIMIT", 20000),
		HourlyInputLimit:   getEnvAsInt64("HOURLY_INPUT_LIMIT", 1000),
		HourlyOutputLimit:  getEnvAsInt64("HOURLY_OUTPUT_LIMIT", 2000),
		MonthlyInputLimit:  getEnvAsInt64("MONTHLY_INPUT_LIMIT", 100000),
		MonthlyOutputLimit: getEnvAsInt64("MONTHLY_OUTPUT_LIMIT", 200000),

		ReservationTTL:      time.Duration(getEnvAsInt("RESERVATION_TTL_SECONDS", 600)) * time.Second,
		ReservationFraction: getEnvAsFloat("RESERVATION_FRACTION", 0.5),

		CacheTTL: time.Duration(getEnvAsInt("CACHE_TTL_DAYS", 30)) * 24 * time.Hour,

		GuardrailConfigPath: getEnv("GUARDRAIL_CONFIG_PATH", ".config/guardrail.json"),

		LogDir:        getEnv("LOG_DIR", "logs"),
		LogFile:       getEnv("LOG_FILE", "relay.log"),
		LogMaxSize:    getEnvAsInt("LOG_MAX_SIZE", 100),
		LogMaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 10),
		LogMaxAge:     getEnvAsInt("LOG_MAX_AGE", 30),
		LogCompress:   getEnv("LOG_COMPRESS", "true") != "false",
		LogToConsole:  getEnv("LOG_TO_CONSOLE", "true") != "false",
	}
}

// IsDevelopment reports whether the relay runs in development mode
func (c *EnvConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction reports whether the relay runs in production mode
func (c *EnvConfig) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
