package leave

import (
	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/calendar"
)

// =============================================================================
// ACCRUAL - Yearly allocation for a new balance row
// =============================================================================

// payPeriodDays is the length of a bi-weekly pay period.
const payPeriodDays = 14

var (
	twelve = decimal.NewFromInt(12)
	two    = decimal.NewFromInt(2)
)

// Allocation computes the days allocated to a balance row for year.
//
//	annual:         default allocation, prorated by remaining months when
//	                the hire date falls inside the year
//	monthly:        rate x months employed in the year
//	per_pay_period: rate x bi-weekly periods employed in the year
//
// Accrued amounts are capped at the default allocation when one is set.
// An employee hired after the year ends gets zero.
func Allocation(lt LeaveType, fy calendar.FiscalYear, year int, hireDate calendar.Date) decimal.Decimal {
	bounds := fy.Bounds(year)
	from := bounds.Start
	if !hireDate.IsZero() && hireDate.After(from) {
		if hireDate.After(bounds.End) {
			return decimal.Zero
		}
		from = hireDate
	}
	months := decimal.NewFromInt(int64(fy.MonthsRemaining(from)))

	var alloc decimal.Decimal
	switch lt.Accrual.Kind {
	case AccrualMonthly:
		alloc = lt.Accrual.Rate.Mul(months)
	case AccrualPerPayPeriod:
		periods := (from.DaysUntil(bounds.End) + 1) / payPeriodDays
		alloc = lt.Accrual.Rate.Mul(decimal.NewFromInt(int64(periods)))
	default:
		if from.Equal(bounds.Start) {
			return lt.DefaultAllocationDays
		}
		alloc = lt.DefaultAllocationDays.Mul(months).Div(twelve)
	}

	if lt.DefaultAllocationDays.IsPositive() && alloc.GreaterThan(lt.DefaultAllocationDays) {
		alloc = lt.DefaultAllocationDays
	}
	return roundHalfDay(alloc)
}

// roundHalfDay rounds to the nearest 0.5 day.
func roundHalfDay(v decimal.Decimal) decimal.Decimal {
	return v.Mul(two).Round(0).Div(two)
}

// Carryover is min(max carryover, remaining) and never negative.
func Carryover(lt LeaveType, prev LeaveBalance) decimal.Decimal {
	remaining := prev.Remaining()
	if !remaining.IsPositive() {
		return decimal.Zero
	}
	return decimal.Min(remaining, lt.MaxCarryoverDays)
}
