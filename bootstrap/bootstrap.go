/*
bootstrap.go - Process wiring shared by the server and leavectl

PURPOSE:
  Turns a config.Config into live dependencies: the zap logger, the store
  selected by STORE_DRIVER, the notifier chain, the Redis client and the
  leave.Service itself. Each constructor returns a cleanup function so
  callers can close everything in reverse order.

NOTIFIER CHAIN:
  Async(Multi(Log, Kafka?)): transitions never wait on delivery; Kafka is
  added only when KAFKA_BROKERS is set.

SEE ALSO:
  - config/config.go: Keys
  - cmd/server/main.go, cmd/leavectl/main.go: Callers
*/
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/leave-engine/calendar"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/notify"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/store/postgres"
	"github.com/warp/leave-engine/store/sqlite"
)

// Cleanup releases a dependency.
type Cleanup func(ctx context.Context) error

func noCleanup(context.Context) error { return nil }

// NewLogger builds a production (JSON) or development (console) logger at
// the configured level.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.LogDevelopment {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// OpenStore opens the store selected by cfg.StoreDriver.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (leave.Store, Cleanup, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Warn("using in-memory store; data is lost on exit")
		return memory.New(), noCleanup, nil

	case config.DriverSQLite:
		s, err := sqlite.New(cfg.SQLitePath, sqlite.WithBusyTimeout(cfg.LockTimeout))
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		logger.Info("sqlite store opened", zap.String("path", cfg.SQLitePath))
		return s, func(context.Context) error { return s.Close() }, nil

	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.DatabaseURL, postgres.WithLockTimeout(cfg.LockTimeout))
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		logger.Info("postgres store opened")
		return s, func(context.Context) error { s.Close(); return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// NewNotifier builds the post-commit notifier chain.
func NewNotifier(cfg *config.Config, logger *zap.Logger) (leave.Notifier, Cleanup) {
	chain := notify.Multi{notify.NewLog(logger)}
	closers := []Cleanup{}

	if len(cfg.KafkaBrokers) > 0 {
		w := notify.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		chain = append(chain, notify.NewKafka(w))
		closers = append(closers, func(context.Context) error { return w.Close() })
		logger.Info("kafka notifications enabled",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic),
		)
	}

	async := notify.NewAsync(chain, cfg.NotifyQueue, 10*time.Second, logger)
	cleanup := func(ctx context.Context) error {
		errs := []error{async.Close(ctx)}
		for _, c := range closers {
			errs = append(errs, c(ctx))
		}
		return errors.Join(errs...)
	}
	return async, cleanup
}

// NewRedis connects to REDIS_ADDR, retrying the first ping. It returns
// nil when Redis is not configured.
func NewRedis(ctx context.Context, cfg *config.Config, logger *zap.Logger, attempts int) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	var err error
	for i := 1; i <= attempts; i++ {
		if err = rdb.Ping(ctx).Err(); err == nil {
			logger.Info("redis connected", zap.String("addr", cfg.RedisAddr))
			return rdb, nil
		}
		logger.Warn("redis ping failed", zap.Int("attempt", i), zap.Int("of", attempts), zap.Error(err))
		select {
		case <-ctx.Done():
			rdb.Close()
			return nil, ctx.Err()
		case <-time.After(time.Duration(i) * 500 * time.Millisecond):
		}
	}
	rdb.Close()
	return nil, fmt.Errorf("redis %s unreachable after %d attempts: %w", cfg.RedisAddr, attempts, err)
}

// NewService builds the engine from cfg.
func NewService(cfg *config.Config, store leave.Store, logger *zap.Logger, notifier leave.Notifier) (*leave.Service, error) {
	weekend, err := calendar.ParseWeekend(cfg.WeekendDays)
	if err != nil {
		return nil, fmt.Errorf("WEEKEND_DAYS: %w", err)
	}
	return leave.NewService(store,
		leave.WithLogger(logger),
		leave.WithNotifier(notifier),
		leave.WithHolidays(calendar.NewCachedHolidays(store, cfg.HolidayCacheTTL)),
		leave.WithWeekend(weekend),
		leave.WithFiscalYear(calendar.FiscalYear{StartMonth: time.Month(cfg.FiscalYearStartMonth)}),
		leave.WithLockRetries(cfg.LockRetries, 20*time.Millisecond),
	), nil
}

// SeedCatalog applies the catalog file at path, if any, as actor.
func SeedCatalog(ctx context.Context, svc *leave.Service, path string, actor leave.Actor, logger *zap.Logger) error {
	if path == "" {
		return nil
	}
	catalog, err := factory.NewCatalogFactory().LoadFile(path)
	if err != nil {
		return err
	}
	res, err := catalog.Apply(ctx, svc, actor)
	if err != nil {
		return fmt.Errorf("apply %s: %w", path, err)
	}
	logger.Info("catalog applied",
		zap.String("file", path),
		zap.Int("leave_types", res.LeaveTypes),
		zap.Int("employees", res.Employees),
		zap.Int("holidays", res.Holidays),
	)
	return nil
}
