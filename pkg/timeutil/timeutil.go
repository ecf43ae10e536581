// Package timeutil provides the clock and day-counting rules used by
// streak computation, plus a few formatting helpers for the CLI.
package timeutil

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLOCK
// ══════════════════════════════════════════════════════════════════════════════

// Clock is the source of "now" for the sync core.
type Clock interface {
	Now() time.Time
}

// SystemClock reports wall-clock time in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock is a manually driven clock for tests and replay.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixedClock creates a clock frozen at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ══════════════════════════════════════════════════════════════════════════════
// DAY POLICY
// ══════════════════════════════════════════════════════════════════════════════

// DayPolicy counts the days between two activity timestamps.
// Results may be negative when to is before from.
type DayPolicy interface {
	DaysBetween(from, to time.Time) int
	Name() string
}

const (
	PolicyElapsed  = "elapsed"
	PolicyCalendar = "calendar"
)

// ElapsedDays counts whole 24h periods, truncating toward zero.
// 23h59m is 0 days; 24h is 1 day.
type ElapsedDays struct{}

func (ElapsedDays) DaysBetween(from, to time.Time) int {
	return int(to.Sub(from) / (24 * time.Hour))
}

func (ElapsedDays) Name() string { return PolicyElapsed }

// CalendarDays counts midnight boundaries crossed in Loc.
type CalendarDays struct {
	Loc *time.Location
}

func (p CalendarDays) DaysBetween(from, to time.Time) int {
	loc := p.location()
	a := StartOfDay(from, loc)
	b := StartOfDay(to, loc)
	// Compare civil dates through UTC so DST shifts never lose a day.
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua) / (24 * time.Hour))
}

func (p CalendarDays) Name() string {
	return PolicyCalendar + ":" + p.location().String()
}

func (p CalendarDays) location() *time.Location {
	if p.Loc == nil {
		return time.UTC
	}
	return p.Loc
}

// ParseDayPolicy resolves a policy name and optional IANA timezone.
// Empty name selects ElapsedDays.
func ParseDayPolicy(name, tz string) (DayPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyElapsed:
		return ElapsedDays{}, nil
	case PolicyCalendar:
		loc := time.UTC
		if tz != "" {
			l, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("load timezone %q: %w", tz, err)
			}
			loc = l
		}
		return CalendarDays{Loc: loc}, nil
	default:
		return nil, fmt.Errorf("unknown day policy %q", name)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// StartOfDay returns midnight of t's date in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

// Later returns the later of a and b.
func Later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// FormatRelative renders t relative to now ("just now", "3 hours ago").
func FormatRelative(t, now time.Time) string {
	d := now.Sub(t)
	if d < 0 {
		return t.Format(time.RFC3339)
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute") + " ago"
	case d < 24*time.Hour:
		return plural(int(d/time.Hour), "hour") + " ago"
	case d < 30*24*time.Hour:
		return plural(int(d/(24*time.Hour)), "day") + " ago"
	default:
		return t.Format("2006-01-02")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
