package calendar

import "time"

// FiscalYear maps days to leave years. A leave year is labelled by the
// calendar year in which it starts: with StartMonth April, 2025-03-31
// belongs to 2024 and 2025-04-01 to 2025.
type FiscalYear struct {
	StartMonth time.Month
}

// CalendarYear is the January-start fiscal year.
var CalendarYear = FiscalYear{StartMonth: time.January}

func (f FiscalYear) start() time.Month {
	if f.StartMonth < time.January || f.StartMonth > time.December {
		return time.January
	}
	return f.StartMonth
}

// YearOf returns the leave year d is charged to.
func (f FiscalYear) YearOf(d Date) int {
	if d.Month() < f.start() {
		return d.Year() - 1
	}
	return d.Year()
}

// Bounds returns the inclusive range of leave year y.
func (f FiscalYear) Bounds(y int) DateRange {
	start := NewDate(y, f.start(), 1)
	return DateRange{Start: start, End: start.AddMonths(12).AddDays(-1)}
}

// MonthsRemaining counts whole months from the month containing d to the
// end of its leave year, inclusive of the current month.
func (f FiscalYear) MonthsRemaining(d Date) int {
	b := f.Bounds(f.YearOf(d))
	months := (b.End.Year()-d.Year())*12 + int(b.End.Month()) - int(d.Month()) + 1
	if months < 0 {
		return 0
	}
	return months
}
