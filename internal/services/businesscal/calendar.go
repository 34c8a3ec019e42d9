// Package businesscal converts between wall-clock time and business time
// elapsed, given a working-hour window and a holiday set.
package businesscal

import (
	"fmt"
	"time"

	"github.com/rickar/cal/v2"

	"github.com/tracklane-io/tracklane/internal/models"
)

// Calendar is an immutable business calendar: a half-open working-hour window
// [workStart, workEnd) per day, weekends always excluded, plus a set of
// date-only holidays. All calculations run in UTC, the normalized frame every
// stored timestamp uses.
type Calendar struct {
	workStart time.Duration // offset from midnight
	workEnd   time.Duration
	spec      models.CalendarSpec
	cal       *cal.BusinessCalendar // workday/holiday classification
}

// New validates a calendar spec and compiles it. Inverted or out-of-range
// working hours and malformed holiday dates are rejected here; the computation
// methods never fail at runtime.
func New(spec models.CalendarSpec) (*Calendar, error) {
	if spec.WorkStart < 0 || spec.WorkEnd > 24 || spec.WorkStart >= spec.WorkEnd {
		return nil, fmt.Errorf("invalid working hours [%d,%d): want 0 <= start < end <= 24",
			spec.WorkStart, spec.WorkEnd)
	}

	bc := cal.NewBusinessCalendar()
	bc.SetWorkHours(time.Duration(spec.WorkStart)*time.Hour, time.Duration(spec.WorkEnd)*time.Hour)
	bc.SetWorkday(time.Saturday, false)
	bc.SetWorkday(time.Sunday, false)

	for _, h := range spec.Holidays {
		d, err := time.ParseInLocation("2006-01-02", h, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("invalid holiday date %q: %w", h, err)
		}
		bc.AddHoliday(&cal.Holiday{
			Name:      h,
			Type:      cal.ObservancePublic,
			Month:     d.Month(),
			Day:       d.Day(),
			Func:      cal.CalcDayOfMonth,
			StartYear: d.Year(),
			EndYear:   d.Year(),
		})
	}

	return &Calendar{
		workStart: time.Duration(spec.WorkStart) * time.Hour,
		workEnd:   time.Duration(spec.WorkEnd) * time.Hour,
		spec:      spec,
		cal:       bc,
	}, nil
}

// MustNew is New for calendars known to be valid, typically in tests.
func MustNew(spec models.CalendarSpec) *Calendar {
	c, err := New(spec)
	if err != nil {
		panic(err)
	}
	return c
}

// Spec returns the definition this calendar was compiled from.
func (c *Calendar) Spec() models.CalendarSpec { return c.spec }

// WorkingMsBetween returns the working-hour milliseconds between start and
// end, clipping partial days and skipping weekends and holidays. A range with
// end <= start yields 0; negative durations do not exist.
func (c *Calendar) WorkingMsBetween(start, end time.Time) int64 {
	start, end = start.UTC(), end.UTC()
	if !end.After(start) {
		return 0
	}

	var total time.Duration
	for day := dayStart(start); day.Before(end); day = day.AddDate(0, 0, 1) {
		if !c.cal.IsWorkday(day) {
			continue
		}
		lo := day.Add(c.workStart)
		hi := day.Add(c.workEnd)
		if start.After(lo) {
			lo = start
		}
		if end.Before(hi) {
			hi = end
		}
		if hi.After(lo) {
			total += hi.Sub(lo)
		}
	}
	return total.Milliseconds()
}

// AddWorkingMs returns the timestamp reached after consuming ms milliseconds
// of business time from start. ms <= 0 returns start unchanged. A start
// outside working hours first snaps forward to the next working moment. A
// budget that fits the current day's availability, boundary included, lands
// within that day; with budget left over the pointer has exhausted the day
// and rolls to the next working day's start to continue.
func (c *Calendar) AddWorkingMs(start time.Time, ms int64) time.Time {
	if ms <= 0 {
		return start
	}

	remaining := time.Duration(ms) * time.Millisecond
	cur := c.snapForward(start.UTC())
	for {
		avail := dayStart(cur).Add(c.workEnd).Sub(cur)
		if remaining <= avail {
			return cur.Add(remaining)
		}
		remaining -= avail
		cur = c.nextWorkdayStart(cur)
	}
}

// IsWorkTime reports whether t falls inside working hours on a working day.
func (c *Calendar) IsWorkTime(t time.Time) bool {
	t = t.UTC()
	if !c.cal.IsWorkday(t) {
		return false
	}
	tod := t.Sub(dayStart(t))
	return tod >= c.workStart && tod < c.workEnd
}

// snapForward normalizes t to the nearest working moment at or after it.
func (c *Calendar) snapForward(t time.Time) time.Time {
	if c.cal.IsWorkday(t) {
		tod := t.Sub(dayStart(t))
		if tod < c.workStart {
			return dayStart(t).Add(c.workStart)
		}
		if tod < c.workEnd {
			return t
		}
	}
	return c.nextWorkdayStart(t)
}

// nextWorkdayStart returns the working-hour start of the first working day
// strictly after t's calendar day. Terminates because the holiday set is
// finite and weekdays recur.
func (c *Calendar) nextWorkdayStart(t time.Time) time.Time {
	day := dayStart(t).AddDate(0, 0, 1)
	for !c.cal.IsWorkday(day) {
		day = day.AddDate(0, 0, 1)
	}
	return day.Add(c.workStart)
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
