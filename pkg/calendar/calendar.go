// Package calendar answers business-hours questions for the condition evaluator.
package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultHours = "09:00-17:00"
	DefaultDays  = "mon,tue,wed,thu,fri"
)

var ErrInvalidCalendar = errors.New("invalid business calendar")

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// Business is a weekly opening window in one time zone. The window is
// half-open: the closing minute is already outside business hours.
type Business struct {
	location *time.Location
	days     [7]bool
	open     int
	close    int
}

// New builds a calendar from an "HH:MM-HH:MM" window, a comma separated
// list of three-letter weekdays and an IANA zone name.
func New(hours, days, timezone string) (*Business, error) {
	open, closeAt, err := parseWindow(hours)
	if err != nil {
		return nil, err
	}

	location := time.UTC

	if timezone != "" {
		location, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCalendar, err)
		}
	}

	b := &Business{location: location, open: open, close: closeAt}

	for _, day := range strings.Split(days, ",") {
		day = strings.ToLower(strings.TrimSpace(day))
		if day == "" {
			continue
		}

		wd, ok := weekdays[day]
		if !ok {
			return nil, fmt.Errorf("%w: unknown weekday %q", ErrInvalidCalendar, day)
		}

		b.days[wd] = true
	}

	return b, nil
}

// IsBusinessHours reports whether now falls inside the window on a business day.
func (b *Business) IsBusinessHours(now time.Time) bool {
	local := now.In(b.location)
	if !b.days[local.Weekday()] {
		return false
	}

	minute := local.Hour()*60 + local.Minute()

	return minute >= b.open && minute < b.close
}

func parseWindow(hours string) (int, int, error) {
	from, to, ok := strings.Cut(hours, "-")
	if !ok {
		return 0, 0, fmt.Errorf("%w: hours %q must look like 09:00-17:00", ErrInvalidCalendar, hours)
	}

	open, err := parseClock(from)
	if err != nil {
		return 0, 0, err
	}

	closeAt, err := parseClock(to)
	if err != nil {
		return 0, 0, err
	}

	if closeAt <= open {
		return 0, 0, fmt.Errorf("%w: window %q closes before it opens", ErrInvalidCalendar, hours)
	}

	return open, closeAt, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidCalendar, err)
	}

	return t.Hour()*60 + t.Minute(), nil
}
