package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"ADDR", "STORE_DRIVER", "SQLITE_PATH", "DATABASE_URL", "JWT_SECRET", "CORS_ORIGINS",
	"REDIS_ADDR", "IDEMPOTENCY_TTL", "KAFKA_BROKERS", "KAFKA_TOPIC", "NOTIFY_QUEUE_SIZE",
	"LOCK_RETRIES", "LOCK_TIMEOUT", "WEEKEND_DAYS", "FISCAL_YEAR_START_MONTH",
	"HOLIDAY_CACHE_TTL", "LOG_LEVEL", "LOG_DEVELOPMENT", "ROLLOVER_INTERVAL", "LEAVE_TYPES_FILE",
}

// clearEnv blanks every key for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, "leave.db", cfg.SQLitePath)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Nil(t, cfg.KafkaBrokers)
	assert.Equal(t, 3, cfg.LockRetries)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
	assert.Equal(t, 1, cfg.FiscalYearStartMonth)
	assert.Equal(t, 5*time.Minute, cfg.HolidayCacheTTL)
	assert.Equal(t, time.Duration(0), cfg.RolloverInterval)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://leave@localhost/leave")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LOCK_RETRIES", "5")
	t.Setenv("LOCK_TIMEOUT", "750ms")
	t.Setenv("FISCAL_YEAR_START_MONTH", "4")
	t.Setenv("LOG_DEVELOPMENT", "true")
	t.Setenv("ROLLOVER_INTERVAL", "1h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5, cfg.LockRetries)
	assert.Equal(t, 750*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, 4, cfg.FiscalYearStartMonth)
	assert.True(t, cfg.LogDevelopment)
	assert.Equal(t, time.Hour, cfg.RolloverInterval)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOCK_RETRIES", "many")
	t.Setenv("LOCK_TIMEOUT", "soon")
	t.Setenv("LOG_DEVELOPMENT", "sometimes")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.LockRetries)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
	assert.False(t, cfg.LogDevelopment)
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides variables that are already set, even empty ones.
	for _, k := range []string{"SQLITE_PATH", "JWT_SECRET"} {
		require.NoError(t, os.Unsetenv(k))
	}
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("SQLITE_PATH=/tmp/from-file.db\nJWT_SECRET=file-secret\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("SQLITE_PATH")
		os.Unsetenv("JWT_SECRET")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-file.db", cfg.SQLitePath)
	assert.Equal(t, "file-secret", cfg.JWTSecret)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			StoreDriver:          DriverSQLite,
			SQLitePath:           "leave.db",
			JWTSecret:            "s3cret",
			LockRetries:          3,
			LockTimeout:          time.Second,
			FiscalYearStartMonth: 1,
			LogLevel:             "info",
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown driver", func(c *Config) { c.StoreDriver = "mysql" }, "STORE_DRIVER"},
		{"postgres without url", func(c *Config) { c.StoreDriver = DriverPostgres }, "DATABASE_URL"},
		{"missing secret", func(c *Config) { c.JWTSecret = "" }, "JWT_SECRET"},
		{"negative retries", func(c *Config) { c.LockRetries = -1 }, "LOCK_RETRIES"},
		{"zero lock timeout", func(c *Config) { c.LockTimeout = 0 }, "LOCK_TIMEOUT"},
		{"fiscal month 13", func(c *Config) { c.FiscalYearStartMonth = 13 }, "FISCAL_YEAR_START_MONTH"},
		{"brokers without topic", func(c *Config) { c.KafkaBrokers = []string{"k:9092"} }, "KAFKA_TOPIC"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "LOG_LEVEL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
