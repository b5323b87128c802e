/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package clock

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock supplies wall-clock time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the local wall clock.
type SystemClock struct{}

// Now returns the current local time.
func (SystemClock) Now() time.Time { return time.Now() }

// Func adapts a function to Clock.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time { return f() }

// Weekdays lists the recurrence day abbreviations in calendar order.
var Weekdays = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

var (
	ErrInvalidTime    = errors.New("invalid clock time")
	ErrInvalidWeekday = errors.New("invalid weekday")
	ErrNoWeekdays     = errors.New("at least one weekday is required")
)

// Calendar answers "what minute and day is it" questions against a Clock.
type Calendar struct {
	clock Clock
}

// NewCalendar wraps c; a nil clock falls back to the system clock.
func NewCalendar(c Clock) *Calendar {
	if c == nil {
		c = SystemClock{}
	}
	return &Calendar{clock: c}
}

// Now returns the underlying clock reading.
func (c *Calendar) Now() time.Time {
	return c.clock.Now()
}

// NowTime returns the current time as "HH:MM".
func (c *Calendar) NowTime() string {
	return FormatTime(c.clock.Now())
}

// Today returns the current weekday abbreviation ("Mon".."Sun").
func (c *Calendar) Today() string {
	return WeekdayAbbrev(c.clock.Now().Weekday())
}

// IsWithin reports whether the current minute lies in [start, end).
func (c *Calendar) IsWithin(start, end string) bool {
	return Within(c.NowTime(), start, end)
}

// Within reports whether now lies in [start, end) for "HH:MM" strings.
func Within(now, start, end string) bool {
	return start <= now && now < end
}

// Overlaps reports whether [startA, endA) and [startB, endB) intersect.
func Overlaps(startA, endA, startB, endB string) bool {
	return startA < endB && startB < endA
}

// FormatTime renders t as "HH:MM".
func FormatTime(t time.Time) string {
	return t.Format("15:04")
}

// WeekdayAbbrev maps a time.Weekday to its three letter abbreviation.
func WeekdayAbbrev(d time.Weekday) string {
	return d.String()[:3]
}

// WeekdayIndex returns the position of abbrev in Weekdays, or -1.
func WeekdayIndex(abbrev string) int {
	for i, d := range Weekdays {
		if d == abbrev {
			return i
		}
	}
	return -1
}

// ParseTime validates "H:MM" or "HH:MM" and returns the zero-padded form.
func ParseTime(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	hh, mm, ok := strings.Cut(raw, ":")
	if !ok || len(hh) < 1 || len(hh) > 2 || len(mm) != 2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}
	return fmt.Sprintf("%02d:%02d", h, m), nil
}

// NormalizeWeekdays accepts abbreviations or full names in any case, drops
// duplicates and returns them in calendar order.
func NormalizeWeekdays(days []string) ([]string, error) {
	seen := make(map[int]bool, len(days))
	for _, raw := range days {
		d := strings.TrimSpace(raw)
		if d == "" {
			continue
		}
		if len(d) > 3 {
			full := strings.ToLower(d)
			match := false
			for i := time.Sunday; i <= time.Saturday; i++ {
				if strings.ToLower(i.String()) == full {
					d, match = WeekdayAbbrev(i), true
					break
				}
			}
			if !match {
				return nil, fmt.Errorf("%w: %q", ErrInvalidWeekday, raw)
			}
		}
		idx := WeekdayIndex(strings.ToUpper(d[:1]) + strings.ToLower(d[1:]))
		if idx < 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidWeekday, raw)
		}
		seen[idx] = true
	}
	if len(seen) == 0 {
		return nil, ErrNoWeekdays
	}
	out := make([]string, 0, len(seen))
	for i, d := range Weekdays {
		if seen[i] {
			out = append(out, d)
		}
	}
	return out, nil
}
