// Package timeexpr resolves natural-language time expressions like
// "in 5 minutes", "tomorrow at 9am", or "next friday at 14:30" into
// concrete timestamps. Resolution is deliberately permissive: an
// unparseable or past expression falls back to one minute from now
// rather than failing the submission.
package timeexpr

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	relativePattern = regexp.MustCompile(`^in\s+(\d+)\s+(minute|min|hour|hr|day|week)s?$`)
	clockPattern    = regexp.MustCompile(`^(?:at\s+)?(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)

	weekdays = map[string]time.Weekday{
		"sunday":    time.Sunday,
		"monday":    time.Monday,
		"tuesday":   time.Tuesday,
		"wednesday": time.Wednesday,
		"thursday":  time.Thursday,
		"friday":    time.Friday,
		"saturday":  time.Saturday,
	}

	absoluteLayouts = []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
	}
)

// Resolve converts an expression into a timestamp relative to now.
// Unrecognized expressions and expressions that resolve to the past
// both yield now plus one minute.
func Resolve(expr string, now time.Time) time.Time {
	if t, ok := Parse(expr, now); ok && t.After(now) {
		return t
	}
	return now.Add(time.Minute)
}

// Parse attempts to interpret an expression relative to now. The
// returned bool reports whether the expression was recognized at all;
// a recognized expression may still be in the past (absolute dates).
func Parse(expr string, now time.Time) (time.Time, bool) {
	s := strings.ToLower(strings.TrimSpace(expr))
	if s == "" {
		return time.Time{}, false
	}

	if m := relativePattern.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return time.Time{}, false
		}
		switch m[2] {
		case "minute", "min":
			return now.Add(time.Duration(n) * time.Minute), true
		case "hour", "hr":
			return now.Add(time.Duration(n) * time.Hour), true
		case "day":
			return now.AddDate(0, 0, n), true
		case "week":
			return now.AddDate(0, 0, 7*n), true
		}
		return time.Time{}, false
	}

	if rest, ok := strings.CutPrefix(s, "tomorrow"); ok {
		tomorrow := now.AddDate(0, 0, 1)
		rest = strings.TrimSpace(rest)
		if rest == "" {
			return atClock(tomorrow, 9, 0), true
		}
		if hour, minute, ok := parseClock(rest); ok {
			return atClock(tomorrow, hour, minute), true
		}
		return time.Time{}, false
	}

	if rest, ok := strings.CutPrefix(s, "next "); ok {
		fields := strings.SplitN(strings.TrimSpace(rest), " ", 2)
		weekday, known := weekdays[fields[0]]
		if !known {
			return time.Time{}, false
		}
		// Strictly future: "next monday" on a Monday means a week out.
		days := (int(weekday) - int(now.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		target := now.AddDate(0, 0, days)
		hour, minute := 9, 0
		if len(fields) == 2 {
			h, m, ok := parseClock(strings.TrimSpace(fields[1]))
			if !ok {
				return time.Time{}, false
			}
			hour, minute = h, m
		}
		return atClock(target, hour, minute), true
	}

	if hour, minute, ok := parseClock(s); ok {
		t := atClock(now, hour, minute)
		// A clock time already gone today means the same time tomorrow.
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return t, true
	}

	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, strings.ToUpper(s), now.Location()); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

// parseClock interprets "9am", "14:30", "at 9:05 pm" style fragments.
func parseClock(s string) (hour, minute int, ok bool) {
	m := clockPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, false
	}

	hour, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}

	switch m[3] {
	case "pm":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if hour != 12 {
			hour += 12
		}
	case "am":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if hour == 12 {
			hour = 0
		}
	default:
		if hour > 23 {
			return 0, 0, false
		}
		// A bare small number without minutes is ambiguous ("at 5"),
		// treat it as a 24-hour clock hour.
	}
	if minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

func atClock(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}
