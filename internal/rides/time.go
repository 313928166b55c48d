package rides

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DateLayout is the wire format for travel dates.
const DateLayout = "2006-01-02"

var (
	locationOnce sync.Once
	location     *time.Location
)

// Location returns the coordinator's local time zone. Recurring rides expand
// against local calendar days, not UTC.
func Location() *time.Location {
	locationOnce.Do(func() {
		loc, err := time.LoadLocation("Asia/Jerusalem")
		if err != nil {
			loc = time.UTC
		}
		location = loc
	})
	return location
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ParseDate parses a "YYYY-MM-DD" travel date in the local zone.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseWeekday accepts full or three-letter lowercase English weekday names.
func ParseWeekday(name string) (time.Weekday, error) {
	if wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return wd, nil
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
}
