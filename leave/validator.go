package leave

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/calendar"
)

// Validator runs the submission-time checks: day count, no overlap with
// the requester's own live requests, and the soft balance check that
// subtracts other pending requests of the same type and year.
type Validator struct {
	Fiscal calendar.FiscalYear
}

// DaysFor resolves req's range and returns the day count and leave year.
// A range with no working time, or one that crosses a leave-year
// boundary, is ErrInvalidRange.
func (v Validator) DaysFor(resolver calendar.Resolver, req LeaveRequest) (decimal.Decimal, int, error) {
	days, err := resolver.WorkingDays(req.Range(), req.StartHalf, req.EndHalf)
	if err != nil {
		return decimal.Zero, 0, err
	}
	if !days.IsPositive() {
		return decimal.Zero, 0, fmt.Errorf("%w: %s contains no working days", ErrInvalidRange, req.Range())
	}
	year := v.Fiscal.YearOf(req.StartDate)
	if end := v.Fiscal.YearOf(req.EndDate); end != year {
		return decimal.Zero, 0, fmt.Errorf("%w: %s spans leave years %d and %d", ErrInvalidRange, req.Range(), year, end)
	}
	return days, year, nil
}

// Validate fills in DaysCount and Year on req and checks it against the
// requester's other requests and balance. It must run inside the
// transaction that inserts req.
func (v Validator) Validate(ctx context.Context, tx Tx, resolver calendar.Resolver, lt LeaveType, req *LeaveRequest) error {
	days, year, err := v.DaysFor(resolver, *req)
	if err != nil {
		return err
	}
	req.DaysCount = days
	req.Year = year

	if err := tx.LockRequester(ctx, req.RequesterID); err != nil {
		return err
	}

	conflicts, err := tx.FindOverlapping(ctx, req.RequesterID, req.Range(), StatusPending, StatusApproved)
	if err != nil {
		return fmt.Errorf("find overlapping requests: %w", err)
	}
	for _, c := range conflicts {
		if c.ID == req.ID {
			continue
		}
		return &OverlapError{ConflictingID: c.ID, ConflictingStatus: c.Status, Range: c.Range()}
	}

	if lt.AllowsNegativeBalance {
		return nil
	}

	key := req.BalanceKey()
	bal, err := tx.GetBalance(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		bal = LeaveBalance{BalanceKey: key}
	case err != nil:
		return fmt.Errorf("get balance %s: %w", key, err)
	}
	pending, err := tx.SumPending(ctx, key, req.ID)
	if err != nil {
		return fmt.Errorf("sum pending %s: %w", key, err)
	}

	available := Available(bal, pending)
	if days.GreaterThan(available) {
		// The request is never stored, so it has no id or status to report.
		return &InsufficientBalanceError{
			Stage:     StageSubmission,
			Key:       key,
			Available: available,
			Requested: days,
		}
	}
	return nil
}
