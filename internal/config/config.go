package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	GinMode string

	// Database
	DatabaseURL string

	// Database Connection Pool
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxIdleTime int // in minutes
	DBConnMaxLifetime int // in minutes

	// VAPID application identity (see RFC 8292). The key pair is the
	// base64url raw encoding produced by cmd/vapid-keygen.
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string // mailto: or https: contact, used as the "sub" claim

	// Push transport
	PushTTLSeconds     int // TTL header on relay posts
	PushTimeoutSeconds int // per-request transport timeout inside the breaker call timeout

	// Trigger surface
	TriggerSecret string // shared secret for scheduler/admin routes

	// Circuit Breaker defaults (per dependency name, overridable here)
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerRecoveryTimeout  time.Duration
	BreakerCallTimeout      time.Duration

	// Scheduler
	SchedulerEnabled      bool   // run the in-process cron tick (disable when an external cron invokes /scheduler/run)
	SchedulerInterval     string // cron spec for the periodic tick
	ReminderWindowMinutes int    // +/- window around a subscription's reminder time-of-day
	ProfitSummaryHour     int    // local hour at which the daily profit summary fires

	// Logging
	LogLevel  string
	LogFormat string

	// Server
	ServerShutdownTimeoutSeconds int

	// CORS
	CORSAllowedOrigins string
}

var AppConfig *Config

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		// Database
		DatabaseURL: getEnvOrDefault("DATABASE_URL", "postgres://localhost/freshcart?sslmode=disable"),

		// Database Connection Pool
		DBMaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 15),
		DBMaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxIdleTime: getEnvAsInt("DB_CONN_MAX_IDLE_TIME_MINUTES", 1),
		DBConnMaxLifetime: getEnvAsInt("DB_CONN_MAX_LIFETIME_MINUTES", 30),

		// VAPID (trim whitespace to avoid common config errors)
		VAPIDPublicKey:  strings.TrimSpace(getEnvOrDefault("VAPID_PUBLIC_KEY", "")),
		VAPIDPrivateKey: strings.TrimSpace(getEnvOrDefault("VAPID_PRIVATE_KEY", "")),
		VAPIDSubject:    getEnvOrDefault("VAPID_SUBJECT", "mailto:ops@freshcart.app"),

		// Push transport
		PushTTLSeconds:     getEnvAsInt("PUSH_TTL_SECONDS", 86400),
		PushTimeoutSeconds: getEnvAsInt("PUSH_TIMEOUT_SECONDS", 10),

		// Trigger surface
		TriggerSecret: strings.TrimSpace(getEnvOrDefault("TRIGGER_SECRET", "")),

		// Circuit Breaker
		BreakerFailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerSuccessThreshold: getEnvAsInt("BREAKER_SUCCESS_THRESHOLD", 2),
		BreakerRecoveryTimeout:  getEnvAsDuration("BREAKER_RECOVERY_TIMEOUT", 30*time.Second),
		BreakerCallTimeout:      getEnvAsDuration("BREAKER_CALL_TIMEOUT", 10*time.Second),

		// Scheduler
		SchedulerEnabled:      getEnvOrDefault("SCHEDULER_ENABLED", "true") == "true",
		SchedulerInterval:     getEnvOrDefault("SCHEDULER_INTERVAL", "@every 1m"),
		ReminderWindowMinutes: getEnvAsInt("REMINDER_WINDOW_MINUTES", 5),
		ProfitSummaryHour:     getEnvAsInt("PROFIT_SUMMARY_HOUR", 21),

		// Logging
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "debug"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),

		// Server
		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30),

		// CORS
		CORSAllowedOrigins: getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
	}

	// Validate required configs
	if AppConfig.VAPIDPublicKey == "" || AppConfig.VAPIDPrivateKey == "" {
		log.Println("Warning: VAPID key pair is missing. Push delivery will fail. Please set VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY environment variables (generate with cmd/vapid-keygen).")
	}

	if AppConfig.TriggerSecret == "" {
		log.Println("Warning: Trigger secret is missing. Scheduler and admin routes will reject all requests. Please set TRIGGER_SECRET environment variable.")
	}

	if !strings.HasPrefix(AppConfig.VAPIDSubject, "mailto:") && !strings.HasPrefix(AppConfig.VAPIDSubject, "https://") {
		log.Printf("Warning: VAPID subject %q should be a mailto: or https: URI", AppConfig.VAPIDSubject)
	}

	if AppConfig.ProfitSummaryHour < 0 || AppConfig.ProfitSummaryHour > 23 {
		log.Printf("Warning: PROFIT_SUMMARY_HOUR=%d out of range, using 21", AppConfig.ProfitSummaryHour)
		AppConfig.ProfitSummaryHour = 21
	}

	return AppConfig
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as time.Duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}
