package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	one  = decimal.NewFromInt(1)
	half = decimal.NewFromFloat(0.5)
)

// Weekend is the set of non-working weekdays.
type Weekend map[time.Weekday]bool

// DefaultWeekend is Saturday and Sunday.
func DefaultWeekend() Weekend {
	return Weekend{time.Saturday: true, time.Sunday: true}
}

// ParseWeekend parses a comma separated list of weekday names
// ("sat,sun", "friday,saturday"). An empty string yields DefaultWeekend.
func ParseWeekend(s string) (Weekend, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultWeekend(), nil
	}
	w := Weekend{}
	for _, part := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		found := false
		for d := time.Sunday; d <= time.Saturday; d++ {
			full := strings.ToLower(d.String())
			if name == full || name == full[:3] {
				w[d] = true
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown weekday %q", part)
		}
	}
	return w, nil
}

// =============================================================================
// RESOLVER
// =============================================================================

// Resolver converts a date range into the number of working days it consumes.
type Resolver struct {
	Holidays HolidaySet
	Weekend  Weekend
}

// NewResolver builds a resolver; a nil weekend means DefaultWeekend.
func NewResolver(holidays HolidaySet, weekend Weekend) Resolver {
	if weekend == nil {
		weekend = DefaultWeekend()
	}
	return Resolver{Holidays: holidays, Weekend: weekend}
}

// IsWorkingDay reports whether d is neither a weekend day nor a holiday.
func (r Resolver) IsWorkingDay(d Date) bool {
	weekend := r.Weekend
	if weekend == nil {
		weekend = DefaultWeekend()
	}
	if weekend[d.Weekday()] {
		return false
	}
	return !r.Holidays.IsHoliday(d)
}

// WorkingDays counts working days in rng. A half marker takes 0.5 off the
// first or last day when that day is a working day and is ignored otherwise.
// Both markers on a single-day range are ambiguous and rejected.
func (r Resolver) WorkingDays(rng DateRange, startHalf, endHalf bool) (decimal.Decimal, error) {
	if rng.Start.IsZero() || rng.End.IsZero() || rng.End.Before(rng.Start) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidRange, rng)
	}
	if rng.SingleDay() && startHalf && endHalf {
		return decimal.Zero, fmt.Errorf("%w: both half-day markers on single day %s", ErrInvalidRange, rng.Start)
	}

	total := decimal.Zero
	for _, d := range rng.Days() {
		if !r.IsWorkingDay(d) {
			continue
		}
		day := one
		if startHalf && d.Equal(rng.Start) {
			day = half
		}
		if endHalf && d.Equal(rng.End) {
			day = half
		}
		total = total.Add(day)
	}
	return total, nil
}
