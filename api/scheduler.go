/*
scheduler.go - Automated year rollover scheduler

PURPOSE:
  Periodically rolls every balance of the previous leave year into the
  current one, so carried-forward days appear without an operator running
  leavectl. Each key is its own short transaction inside
  leave.Service.RolloverYear; the scheduler never holds locks itself.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Determines the current leave year from the service's fiscal year
  - Rollover is idempotent, so a rerun after a crash is safe
  - A year that finished with no failures is not retried

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Workers:       Keys rolled concurrently (default: 4)
  - Enabled:       Whether scheduler is active (default: true)

USAGE:
  scheduler := NewRolloverScheduler(svc, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerRollover endpoint (manual rollover)
  - leave/rollover.go: RolloverYear
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/calendar"
	"github.com/warp/leave-engine/leave"
)

// SystemActor is the identity recorded in audit entries written by
// background jobs.
var SystemActor = leave.Actor{ID: "system", Role: leave.RoleAdmin}

// RolloverScheduler handles automated year rollover.
type RolloverScheduler struct {
	Service       *leave.Service
	Logger        *zap.Logger
	CheckInterval time.Duration
	Workers       int
	Enabled       bool

	now func() time.Time

	ticker   *time.Ticker
	stop     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	runMu    sync.Mutex
	complete map[int]bool
	last     *leave.RolloverReport
}

// NewRolloverScheduler creates a new scheduler.
func NewRolloverScheduler(svc *leave.Service, logger *zap.Logger) *RolloverScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RolloverScheduler{
		Service:       svc,
		Logger:        logger.Named("scheduler"),
		CheckInterval: time.Hour,
		Workers:       4,
		Enabled:       true,
		now:           time.Now,
		complete:      make(map[int]bool),
	}
}

// Start begins the scheduler.
func (rs *RolloverScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.CheckInterval <= 0 {
		rs.Logger.Info("rollover scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker.C, rs.stop)

	rs.Logger.Info("rollover scheduler started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight run.
func (rs *RolloverScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.Logger.Info("rollover scheduler stopped")
	}
}

func (rs *RolloverScheduler) run(tick <-chan time.Time, stop <-chan struct{}) {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	rs.RunNow(ctx)

	for {
		select {
		case <-tick:
			rs.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow rolls the current leave year unless it already completed. It
// returns the report of the run, or nil when there was nothing to do.
func (rs *RolloverScheduler) RunNow(ctx context.Context) *leave.RolloverReport {
	rs.runMu.Lock()
	defer rs.runMu.Unlock()

	year := rs.Service.FiscalYear().YearOf(calendar.DateOf(rs.now().UTC()))
	if rs.complete[year] {
		return nil
	}

	report, err := rs.Service.RolloverYear(ctx, SystemActor, year, rs.Workers)
	if err != nil {
		rs.Logger.Error("rollover run failed", zap.Int("year", year), zap.Error(err))
		return nil
	}
	for _, f := range report.Failed {
		rs.Logger.Warn("rollover failed for balance",
			zap.String("balance", f.Key.String()),
			zap.String("error", f.Err),
		)
	}
	if len(report.Failed) == 0 {
		rs.complete[year] = true
	}
	rs.last = &report
	return &report
}

// LastReport returns the most recent run's report.
func (rs *RolloverScheduler) LastReport() *leave.RolloverReport {
	rs.runMu.Lock()
	defer rs.runMu.Unlock()
	return rs.last
}
