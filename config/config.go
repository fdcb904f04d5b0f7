/*
config.go - Process configuration from the environment

PURPOSE:
  Collects every knob the server and leavectl need into one Config value.
  An optional .env file is loaded first; real environment variables win.

KEYS:
  ADDR                     listen address (default ":8080")
  STORE_DRIVER             memory | sqlite | postgres (default sqlite)
  SQLITE_PATH              SQLite file or ":memory:" (default leave.db)
  DATABASE_URL             PostgreSQL connection string
  JWT_SECRET               HS256 secret for bearer tokens
  REDIS_ADDR               enables submission idempotency when set
  KAFKA_BROKERS            comma separated; enables Kafka notifications
  KAFKA_TOPIC              default "leave.events"
  LOCK_RETRIES             retries on lock contention (default 3)
  LOCK_TIMEOUT             row lock wait (default 2s)
  WEEKEND_DAYS             e.g. "sat,sun" (default)
  FISCAL_YEAR_START_MONTH  1-12 (default 1)
  HOLIDAY_CACHE_TTL        default 5m
  LOG_LEVEL                debug | info | warn | error
  ROLLOVER_INTERVAL        0 disables the rollover scheduler
  CORS_ORIGINS             comma separated allowed origins
  LEAVE_TYPES_FILE         JSON catalog seeded at startup
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Addr        string
	StoreDriver string
	SQLitePath  string
	DatabaseURL string

	JWTSecret   string
	CORSOrigins []string

	RedisAddr      string
	IdempotencyTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string
	NotifyQueue  int

	LockRetries int
	LockTimeout time.Duration

	WeekendDays          string
	FiscalYearStartMonth int
	HolidayCacheTTL      time.Duration

	LogLevel         string
	LogDevelopment   bool
	RolloverInterval time.Duration
	LeaveTypesFile   string
}

// Load reads an optional .env file (or the given files) and then the
// environment.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && len(files) > 0 {
		return nil, fmt.Errorf("load env files: %w", err)
	}

	cfg := &Config{
		Addr:        getEnv("ADDR", ":8080"),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite)),
		SQLitePath:  getEnv("SQLITE_PATH", "leave.db"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		IdempotencyTTL: getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		KafkaBrokers: getEnvList("KAFKA_BROKERS", nil),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "leave.events"),
		NotifyQueue:  getEnvInt("NOTIFY_QUEUE_SIZE", 256),

		LockRetries: getEnvInt("LOCK_RETRIES", 3),
		LockTimeout: getEnvDuration("LOCK_TIMEOUT", 2*time.Second),

		WeekendDays:          getEnv("WEEKEND_DAYS", "sat,sun"),
		FiscalYearStartMonth: getEnvInt("FISCAL_YEAR_START_MONTH", 1),
		HolidayCacheTTL:      getEnvDuration("HOLIDAY_CACHE_TTL", 5*time.Minute),

		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogDevelopment:   getEnvBool("LOG_DEVELOPMENT", false),
		RolloverInterval: getEnvDuration("ROLLOVER_INTERVAL", 0),
		LeaveTypesFile:   getEnv("LEAVE_TYPES_FILE", ""),
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not one of memory, sqlite, postgres", c.StoreDriver))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.LockRetries < 0 {
		errs = append(errs, errors.New("LOCK_RETRIES must not be negative"))
	}
	if c.LockTimeout <= 0 {
		errs = append(errs, errors.New("LOCK_TIMEOUT must be positive"))
	}
	if c.FiscalYearStartMonth < 1 || c.FiscalYearStartMonth > 12 {
		errs = append(errs, fmt.Errorf("FISCAL_YEAR_START_MONTH %d is out of range 1-12", c.FiscalYearStartMonth))
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel))
	}
	return errors.Join(errs...)
}

// ===== HELPERS =====

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvList(key string, fallback []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
