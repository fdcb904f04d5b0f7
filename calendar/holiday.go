package calendar

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// =============================================================================
// HOLIDAYS - Configuration data, reloadable without a code change
// =============================================================================

// Holiday is a non-working day.
type Holiday struct {
	ID        string `json:"id"`
	Date      Date   `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"` // same month/day every year
}

// HolidaySet answers "is this day a holiday?" for fixed and recurring entries.
type HolidaySet struct {
	fixed     map[Date]string
	recurring map[monthDay]string
}

type monthDay struct {
	month time.Month
	day   int
}

// NewHolidaySet indexes the given holidays.
func NewHolidaySet(holidays ...Holiday) HolidaySet {
	s := HolidaySet{
		fixed:     make(map[Date]string),
		recurring: make(map[monthDay]string),
	}
	for _, h := range holidays {
		if h.Recurring {
			s.recurring[monthDay{h.Date.Month(), h.Date.Day()}] = h.Name
			continue
		}
		s.fixed[h.Date] = h.Name
	}
	return s
}

// IsHoliday reports whether d is a holiday.
func (s HolidaySet) IsHoliday(d Date) bool {
	_, ok := s.Name(d)
	return ok
}

// Name returns the holiday name for d, if any.
func (s HolidaySet) Name(d Date) (string, bool) {
	if name, ok := s.fixed[d]; ok {
		return name, true
	}
	if name, ok := s.recurring[monthDay{d.Month(), d.Day()}]; ok {
		return name, true
	}
	return "", false
}

// Len returns the number of indexed holidays.
func (s HolidaySet) Len() int { return len(s.fixed) + len(s.recurring) }

// HolidaySource loads the configured holiday calendar.
type HolidaySource interface {
	ListHolidays(ctx context.Context) ([]Holiday, error)
}

// StaticHolidays is a HolidaySource over a fixed slice.
type StaticHolidays []Holiday

func (s StaticHolidays) ListHolidays(context.Context) ([]Holiday, error) {
	return append([]Holiday(nil), s...), nil
}

// =============================================================================
// CACHED HOLIDAYS
// =============================================================================

// CachedHolidays keeps the last loaded HolidaySet for TTL and reloads it
// from the source on expiry or Invalidate. Concurrent reloads collapse
// into one source call.
type CachedHolidays struct {
	source HolidaySource
	ttl    time.Duration
	now    func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	set      HolidaySet
	loadedAt time.Time
	loaded   bool
}

// NewCachedHolidays wraps source. A zero ttl reloads on every call.
func NewCachedHolidays(source HolidaySource, ttl time.Duration) *CachedHolidays {
	return &CachedHolidays{source: source, ttl: ttl, now: time.Now}
}

// Set returns the current holiday set, reloading if stale.
func (c *CachedHolidays) Set(ctx context.Context) (HolidaySet, error) {
	c.mu.RLock()
	if c.loaded && c.now().Sub(c.loadedAt) < c.ttl {
		set := c.set
		c.mu.RUnlock()
		return set, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("holidays", func() (any, error) {
		holidays, err := c.source.ListHolidays(ctx)
		if err != nil {
			return nil, err
		}
		set := NewHolidaySet(holidays...)

		c.mu.Lock()
		c.set = set
		c.loadedAt = c.now()
		c.loaded = true
		c.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return HolidaySet{}, err
	}
	return v.(HolidaySet), nil
}

// Invalidate forces the next Set call to reload.
func (c *CachedHolidays) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}
