package leave

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RolloverFailure records one key the batch could not roll over.
type RolloverFailure struct {
	Key BalanceKey `json:"key"`
	Err string     `json:"error"`
}

// RolloverReport summarizes a RolloverYear run.
type RolloverReport struct {
	Year      int               `json:"year"`
	Processed int               `json:"processed"`
	Failed    []RolloverFailure `json:"failed,omitempty"`
}

// RolloverYear rolls every balance row of toYear-1 into toYear, running
// up to workers keys at once. Each key is its own transaction; a failed
// key is reported and does not stop the batch.
func (s *Service) RolloverYear(ctx context.Context, actor Actor, toYear, workers int) (RolloverReport, error) {
	if !actor.IsPrivileged() {
		return RolloverReport{}, fmt.Errorf("%w: rollover requires HR or Admin", ErrUnauthorized)
	}
	if workers < 1 {
		workers = 1
	}

	prev, err := s.store.ListBalances(ctx, BalanceFilter{Year: toYear - 1})
	if err != nil {
		return RolloverReport{}, fmt.Errorf("list %d balances: %w", toYear-1, err)
	}

	report := RolloverReport{Year: toYear}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, b := range prev {
		key := b.BalanceKey
		key.Year = toYear
		g.Go(func() error {
			_, err := s.Rollover(gctx, actor, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, RolloverFailure{Key: key, Err: err.Error()})
				return nil
			}
			report.Processed++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	s.logger.Info("rollover batch finished",
		zap.Int("year", toYear),
		zap.Int("processed", report.Processed),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}
