// Package schedule owns the digest schedule model and the single-tick
// scheduler that fires digests at most once per configured slot.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DigestSchedule is the canonical per-user digest slot. TimeOfDay is
// "HH:MM" in 24-hour form; an empty Weekdays list means every day.
type DigestSchedule struct {
	TimeOfDay   string
	Weekdays    []time.Weekday
	Enabled     bool
	LastFiredAt time.Time
}

// ConfigError reports an invalid schedule field. It is returned from
// validation so callers can surface the exact field to the user.
type ConfigError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("schedule %s %q: %s", e.Field, e.Value, e.Reason)
}

// ParseTimeOfDay parses a strict "HH:MM" 24-hour value.
func ParseTimeOfDay(value string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, 0, &ConfigError{Field: "time_of_day", Value: value, Reason: "expected HH:MM"}
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, &ConfigError{Field: "time_of_day", Value: value, Reason: "hour out of range"}
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, &ConfigError{Field: "time_of_day", Value: value, Reason: "minute out of range"}
	}
	return hour, minute, nil
}

// Validate checks the schedule fields without consulting the clock.
func (d DigestSchedule) Validate() error {
	if _, _, err := ParseTimeOfDay(d.TimeOfDay); err != nil {
		return err
	}
	for _, wd := range d.Weekdays {
		if wd < time.Sunday || wd > time.Saturday {
			return &ConfigError{Field: "weekdays", Value: strconv.Itoa(int(wd)), Reason: "weekday out of range"}
		}
	}
	return nil
}

// matchesWeekday reports whether the schedule covers the given weekday.
func (d DigestSchedule) matchesWeekday(wd time.Weekday) bool {
	if len(d.Weekdays) == 0 {
		return true
	}
	for _, w := range d.Weekdays {
		if w == wd {
			return true
		}
	}
	return false
}

// slotAt resolves the schedule's target instant on now's calendar day,
// in now's location.
func (d DigestSchedule) slotAt(now time.Time) time.Time {
	hour, minute, _ := ParseTimeOfDay(d.TimeOfDay)
	return time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
}
