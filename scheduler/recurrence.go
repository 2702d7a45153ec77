package scheduler

import (
	"time"

	"github.com/solagent/txsched/schedule"
)

// FirstOccurrence computes the initial next_execution for a recurring
// schedule submitted at now. Unlike NextOccurrence it may land later
// the same day: a daily 09:00 schedule submitted at 08:00 first runs at
// 09:00 today.
func FirstOccurrence(cfg *schedule.RecurringConfig, now time.Time) *time.Time {
	loc, err := cfg.Location()
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	var first time.Time
	switch cfg.Frequency {
	case schedule.FrequencyHourly:
		first = local.Add(time.Hour)

	case schedule.FrequencyDaily:
		first = snapClock(local, cfg)
		if !first.After(local) {
			first = first.AddDate(0, 0, 1)
		}

	case schedule.FrequencyWeekly:
		first = nextWeekdayMatch(local, cfg, 0)

	case schedule.FrequencyMonthly:
		first = monthlyOccurrence(local, cfg, 0)
		if !first.After(local) {
			first = monthlyOccurrence(local, cfg, 1)
		}

	default:
		return nil
	}

	if cfg.WindowStart != nil && first.Before(*cfg.WindowStart) {
		return FirstOccurrence(cfg, *cfg.WindowStart)
	}
	if cfg.WindowEnd != nil && first.After(*cfg.WindowEnd) {
		return nil
	}
	utc := first.UTC()
	return &utc
}

// NextOccurrence computes the occurrence after an execution at the
// given time. The result is always strictly in the future relative to
// executedAt; a daily 09:00 schedule executed at 09:05 lands on
// tomorrow's 09:00, not a second run today. Returns nil when the
// schedule's window has closed.
func NextOccurrence(cfg *schedule.RecurringConfig, executedAt time.Time) *time.Time {
	loc, err := cfg.Location()
	if err != nil {
		loc = time.UTC
	}
	local := executedAt.In(loc)

	var next time.Time
	switch cfg.Frequency {
	case schedule.FrequencyHourly:
		next = local.Add(time.Hour)

	case schedule.FrequencyDaily:
		next = snapClock(local.AddDate(0, 0, 1), cfg)

	case schedule.FrequencyWeekly:
		next = nextWeekdayMatch(local, cfg, 1)

	case schedule.FrequencyMonthly:
		next = monthlyOccurrence(local, cfg, 1)

	default:
		return nil
	}

	if cfg.WindowEnd != nil && next.After(*cfg.WindowEnd) {
		return nil
	}
	utc := next.UTC()
	return &utc
}

// snapClock pins t to the schedule's TimeOfDay, keeping t's clock when
// none is configured.
func snapClock(t time.Time, cfg *schedule.RecurringConfig) time.Time {
	hour, minute, ok := cfg.ClockTime()
	if !ok {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location())
}

// nextWeekdayMatch finds the next day whose ISO weekday is in
// DaysOfWeek, starting minDays after the reference. With no DaysOfWeek
// the schedule repeats on the reference's weekday.
func nextWeekdayMatch(ref time.Time, cfg *schedule.RecurringConfig, minDays int) time.Time {
	allowed := make(map[int]bool, len(cfg.DaysOfWeek))
	for _, d := range cfg.DaysOfWeek {
		allowed[d] = true
	}
	if len(allowed) == 0 {
		allowed[isoWeekday(ref)] = true
	}

	for d := minDays; d <= minDays+7; d++ {
		candidate := snapClock(ref.AddDate(0, 0, d), cfg)
		if !allowed[isoWeekday(candidate)] {
			continue
		}
		if candidate.After(ref) {
			return candidate
		}
	}
	// Unreachable: the window above always spans a full week.
	return snapClock(ref.AddDate(0, 0, 7), cfg)
}

// monthlyOccurrence computes the occurrence monthsAhead months from
// the reference, clamping DayOfMonth to the last valid day of the
// target month. Jan 31 rolls to Feb 28 (or 29), not Mar 3.
func monthlyOccurrence(ref time.Time, cfg *schedule.RecurringConfig, monthsAhead int) time.Time {
	day := cfg.DayOfMonth
	if day == 0 {
		day = ref.Day()
	}

	year, month := ref.Year(), ref.Month()+time.Month(monthsAhead)
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, ref.Location()).Day()
	if day > lastDay {
		day = lastDay
	}

	hour, minute := ref.Hour(), ref.Minute()
	if h, m, ok := cfg.ClockTime(); ok {
		hour, minute = h, m
	}
	return time.Date(year, month, day, hour, minute, 0, 0, ref.Location())
}

// isoWeekday maps Go's Sunday-based weekday to ISO (1=Monday, 7=Sunday).
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}
