// Package timeline projects the controller's schedules into per-zone run
// slots and keeps moisture probes awake around the runs that need them.
package timeline

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseScheduleTime parses a schedule start time into minutes since
// midnight. Controllers report these as free text in either 24-hour
// ("06:00", "18:30") or 12-hour form with a meridian, where the meridian
// may be a bare letter ("5:00 PM", "5:00PM", "5:00P").
func ParseScheduleTime(s string) (int, error) {
	t := strings.ToUpper(strings.TrimSpace(s))
	if t == "" {
		return 0, fmt.Errorf("empty schedule time")
	}

	meridian := ""
	switch {
	case strings.HasSuffix(t, "AM"):
		meridian, t = "AM", t[:len(t)-2]
	case strings.HasSuffix(t, "PM"):
		meridian, t = "PM", t[:len(t)-2]
	case strings.HasSuffix(t, "A"):
		meridian, t = "AM", t[:len(t)-1]
	case strings.HasSuffix(t, "P"):
		meridian, t = "PM", t[:len(t)-1]
	}
	t = strings.TrimSpace(t)

	parts := strings.Split(t, ":")
	if len(parts) < 2 {
		return 0, fmt.Errorf("unrecognized schedule time %q", s)
	}
	hour, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, fmt.Errorf("unrecognized schedule time %q", s)
	}
	minute, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, fmt.Errorf("unrecognized schedule time %q", s)
	}
	if minute < 0 || minute > 59 {
		return 0, fmt.Errorf("schedule time %q: minute out of range", s)
	}

	switch meridian {
	case "AM":
		if hour < 1 || hour > 12 {
			return 0, fmt.Errorf("schedule time %q: hour out of range", s)
		}
		if hour == 12 {
			hour = 0
		}
	case "PM":
		if hour < 1 || hour > 12 {
			return 0, fmt.Errorf("schedule time %q: hour out of range", s)
		}
		if hour != 12 {
			hour += 12
		}
	default:
		if hour < 0 || hour > 23 {
			return 0, fmt.Errorf("schedule time %q: hour out of range", s)
		}
	}
	return hour*60 + minute, nil
}
