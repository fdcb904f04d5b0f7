/*
Package calendar resolves date ranges into working-day counts.

PURPOSE:

	Everything that turns a (start, end, half-day markers) tuple into a
	decimal day count lives here. The resolver is pure: same inputs, same
	output, no store access. Holiday data is passed in as a HolidaySet so
	the engine can resolve at submission and again at approval against the
	same configuration and detect drift explicitly.

KEY TYPES:

	Date:       Civil day (UTC midnight), the only granularity leave uses
	DateRange:  Inclusive [Start, End] range of Dates
	HolidaySet: Fixed and recurring holidays
	Weekend:    Set of non-working weekdays (default Sat/Sun)
	FiscalYear: Maps a Date to the leave year it is charged to
	Resolver:   WorkingDays(range, startHalf, endHalf)

SEE ALSO:
  - holiday.go: HolidaySet, HolidaySource, CachedHolidays
  - resolver.go: working-day computation
*/
package calendar

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRange is returned when a range ends before it starts or cannot
// be resolved to a meaningful day count.
var ErrInvalidRange = errors.New("invalid date range")

// DateLayout is the wire and storage format for dates.
const DateLayout = "2006-01-02"

// =============================================================================
// DATE - Civil day
// =============================================================================

// Date is a calendar day normalized to midnight UTC.
type Date struct {
	t time.Time
}

// NewDate builds a Date from its components.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a timestamp to its civil day in the timestamp's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// Today returns the current UTC day.
func Today() Date { return DateOf(time.Now().UTC()) }

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// MustParseDate is ParseDate for literals in tests and fixtures.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) Time() time.Time       { return d.t }
func (d Date) Year() int             { return d.t.Year() }
func (d Date) Month() time.Month     { return d.t.Month() }
func (d Date) Day() int              { return d.t.Day() }
func (d Date) Weekday() time.Weekday { return d.t.Weekday() }
func (d Date) IsZero() bool          { return d.t.IsZero() }
func (d Date) Before(o Date) bool    { return d.t.Before(o.t) }
func (d Date) After(o Date) bool     { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool     { return d.t.Equal(o.t) }
func (d Date) AddDays(n int) Date    { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date  { return Date{t: d.t.AddDate(0, n, 0)} }
func (d Date) String() string        { return d.t.Format(DateLayout) }

// BeforeOrEqual reports d <= o.
func (d Date) BeforeOrEqual(o Date) bool { return !d.After(o) }

// DaysUntil returns the number of days from d to o (negative if o is earlier).
func (d Date) DaysUntil(o Date) int {
	return int(o.t.Sub(d.t).Hours() / 24)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// DATE RANGE
// =============================================================================

// DateRange is an inclusive range of days.
type DateRange struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// NewDateRange validates ordering.
func NewDateRange(start, end Date) (DateRange, error) {
	if start.IsZero() || end.IsZero() {
		return DateRange{}, fmt.Errorf("%w: start and end are required", ErrInvalidRange)
	}
	if end.Before(start) {
		return DateRange{}, fmt.Errorf("%w: end %s before start %s", ErrInvalidRange, end, start)
	}
	return DateRange{Start: start, End: end}, nil
}

// Contains reports whether d falls within the range.
func (r DateRange) Contains(d Date) bool {
	return !d.Before(r.Start) && !d.After(r.End)
}

// Overlaps reports whether two inclusive ranges share at least one day.
func (r DateRange) Overlaps(o DateRange) bool {
	return !r.End.Before(o.Start) && !o.End.Before(r.Start)
}

// Days returns every day in the range.
func (r DateRange) Days() []Date {
	var days []Date
	for d := r.Start; !d.After(r.End); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}

// SingleDay reports whether the range covers exactly one day.
func (r DateRange) SingleDay() bool { return r.Start.Equal(r.End) }

func (r DateRange) String() string {
	return "[" + r.Start.String() + ", " + r.End.String() + "]"
}
