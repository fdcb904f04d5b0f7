/*
ledger.go - Balance ledger: the only code that mutates LeaveBalance rows

PURPOSE:
  Commit and release usage on a balance row held under an exclusive lock
  for the rest of the caller's transaction. Reads (Available) never lock.

LOCK DISCIPLINE:
  - Approve / cancel-approved: request row, then balance row
  - Rollover: previous year's row, then the new year's row
  Every mutation goes through Tx.UpdateBalance, which also compares the
  row version, so a store without row locks still cannot lose an update.

SEE ALSO:
  - service.go: calls Commit at approval and Release at cancellation
  - validator.go: soft availability check at submission
*/
package leave

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Ledger mutates balance rows inside a caller-owned transaction.
type Ledger struct{}

// Available is entitlement minus used minus pending reservations.
func Available(b LeaveBalance, pending decimal.Decimal) decimal.Decimal {
	return b.Remaining().Sub(pending)
}

// BalanceChange is a before/after pair for auditing.
type BalanceChange struct {
	Before *LeaveBalance
	After  LeaveBalance
	Note   string // set when the ledger adjusted a computed value
}

// lockOrCreate locks key's row. When the type allows negative balance a
// missing row is created empty so unpaid categories need no initialization.
func (Ledger) lockOrCreate(ctx context.Context, tx Tx, key BalanceKey, lt LeaveType) (*LeaveBalance, error) {
	bal, err := tx.LockBalance(ctx, key)
	if err == nil {
		return &bal, nil
	}
	if !errors.Is(err, ErrNotFound) || !lt.AllowsNegativeBalance {
		return nil, err
	}
	if _, err := tx.CreateBalance(ctx, LeaveBalance{BalanceKey: key}); err != nil {
		return nil, fmt.Errorf("create balance %s: %w", key, err)
	}
	bal, err = tx.LockBalance(ctx, key)
	if err != nil {
		return nil, err
	}
	return &bal, nil
}

// Commit adds days to UsedDays on the locked row for req. Unless the type
// allows negative balance, days must fit within entitlement minus
// committed usage; pending reservations are deliberately ignored here.
func (l Ledger) Commit(ctx context.Context, tx Tx, req LeaveRequest, lt LeaveType, days decimal.Decimal) (BalanceChange, error) {
	key := req.BalanceKey()
	bal, err := l.lockOrCreate(ctx, tx, key, lt)
	if errors.Is(err, ErrNotFound) {
		return BalanceChange{}, &InsufficientBalanceError{
			Stage:     StageApproval,
			RequestID: req.ID,
			Status:    req.Status,
			Key:       key,
			Available: decimal.Zero,
			Requested: days,
		}
	}
	if err != nil {
		return BalanceChange{}, err
	}

	if !lt.AllowsNegativeBalance && days.GreaterThan(bal.Remaining()) {
		return BalanceChange{}, &InsufficientBalanceError{
			Stage:     StageApproval,
			RequestID: req.ID,
			Status:    req.Status,
			Key:       key,
			Available: bal.Remaining(),
			Requested: days,
		}
	}

	before := *bal
	next := *bal
	next.UsedDays = next.UsedDays.Add(days)
	after, err := tx.UpdateBalance(ctx, next)
	if err != nil {
		return BalanceChange{}, err
	}
	return BalanceChange{Before: &before, After: after}, nil
}

// Release subtracts days from UsedDays on the locked row for req.
func (Ledger) Release(ctx context.Context, tx Tx, req LeaveRequest, days decimal.Decimal) (BalanceChange, error) {
	key := req.BalanceKey()
	bal, err := tx.LockBalance(ctx, key)
	if err != nil {
		return BalanceChange{}, err
	}
	next := bal
	next.UsedDays = bal.UsedDays.Sub(days)
	if next.UsedDays.IsNegative() {
		return BalanceChange{}, fmt.Errorf("release %s days from %s would leave used at %s", days, key, next.UsedDays)
	}
	after, err := tx.UpdateBalance(ctx, next)
	if err != nil {
		return BalanceChange{}, err
	}
	return BalanceChange{Before: &bal, After: after}, nil
}

// Initialize creates key's row with allocated days unless one exists.
// The returned change has a nil Before when a row was created and is
// empty when the row already existed.
func (Ledger) Initialize(ctx context.Context, tx Tx, key BalanceKey, allocated decimal.Decimal) (BalanceChange, bool, error) {
	created, err := tx.CreateBalance(ctx, LeaveBalance{BalanceKey: key, AllocatedDays: allocated})
	if err != nil {
		return BalanceChange{}, false, fmt.Errorf("create balance %s: %w", key, err)
	}
	bal, err := tx.GetBalance(ctx, key)
	if err != nil {
		return BalanceChange{}, false, err
	}
	return BalanceChange{After: bal}, created, nil
}

// Rollover sets the carried-forward days on key's row from the previous
// year's remaining balance, capped by the type's max carryover. The
// previous row is locked first. A missing previous row carries zero; a
// missing target row is created with allocated days and reported with a
// nil Before. Unless the type allows negative balance, carry never drops
// below the target row's UsedDays minus AllocatedDays.
func (Ledger) Rollover(ctx context.Context, tx Tx, key BalanceKey, lt LeaveType, allocated decimal.Decimal) (BalanceChange, error) {
	carry := decimal.Zero
	prev, err := tx.LockBalance(ctx, key.Previous())
	switch {
	case err == nil:
		carry = Carryover(lt, prev)
	case !errors.Is(err, ErrNotFound):
		return BalanceChange{}, err
	}

	created, err := tx.CreateBalance(ctx, LeaveBalance{BalanceKey: key, AllocatedDays: allocated})
	if err != nil {
		return BalanceChange{}, fmt.Errorf("create balance %s: %w", key, err)
	}
	cur, err := tx.LockBalance(ctx, key)
	if err != nil {
		return BalanceChange{}, err
	}
	var before *LeaveBalance
	if !created {
		snap := cur
		before = &snap
	}

	var note string
	if floor := cur.UsedDays.Sub(cur.AllocatedDays); !lt.AllowsNegativeBalance && carry.LessThan(floor) {
		note = fmt.Sprintf("carry %s raised to %s to cover %s used", carry, floor, cur.UsedDays)
		carry = floor
	}
	if cur.CarriedForwardDays.Equal(carry) {
		return BalanceChange{Before: before, After: cur, Note: note}, nil
	}

	next := cur
	next.CarriedForwardDays = carry
	after, err := tx.UpdateBalance(ctx, next)
	if err != nil {
		return BalanceChange{}, err
	}
	return BalanceChange{Before: before, After: after, Note: note}, nil
}
