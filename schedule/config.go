// Package schedule defines the data model for scheduled transactions:
// the three schedule shapes (once, recurring, conditional), the
// transaction record itself, and their SQLite persistence.
package schedule

import (
	"encoding/json"
	"time"

	"github.com/solagent/txsched/errors"
)

// Type identifies the schedule shape of a transaction.
type Type string

const (
	TypeOnce        Type = "once"
	TypeRecurring   Type = "recurring"
	TypeConditional Type = "conditional"
)

// Frequency is the cadence of a recurring schedule.
type Frequency string

const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// MinPollIntervalSeconds bounds condition-check churn for conditional schedules.
const MinPollIntervalSeconds = 60

// OnceConfig describes a single future execution.
type OnceConfig struct {
	ExecuteAt time.Time `json:"execute_at"`
}

// RecurringConfig describes a repeating execution cadence.
// DaysOfWeek uses ISO numbering (1=Monday, 7=Sunday).
type RecurringConfig struct {
	Frequency   Frequency  `json:"frequency"`
	TimeOfDay   string     `json:"time,omitempty"` // HH:MM, 24-hour
	DaysOfWeek  []int      `json:"days_of_week,omitempty"`
	DayOfMonth  int        `json:"day_of_month,omitempty"`
	Timezone    string     `json:"timezone,omitempty"` // IANA name, default UTC
	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`
}

// ConditionalConfig describes execution gated on an external condition.
type ConditionalConfig struct {
	ConditionType       string          `json:"condition_type"`
	ConditionParams     json.RawMessage `json:"condition_params,omitempty"`
	PollIntervalSeconds int             `json:"poll_interval_seconds"`
	MaxChecks           *int            `json:"max_checks,omitempty"`
}

// Config is the tagged union of the three schedule shapes.
// Exactly one variant pointer is non-nil, matching Type.
type Config struct {
	Type        Type
	Once        *OnceConfig
	Recurring   *RecurringConfig
	Conditional *ConditionalConfig
}

// ParseConfig decodes a schedule_config JSON document for the given
// schedule type and validates it. This is the single entry point for
// both submission input and rows loaded from storage.
func ParseConfig(scheduleType Type, raw json.RawMessage) (Config, error) {
	cfg := Config{Type: scheduleType}

	switch scheduleType {
	case TypeOnce:
		var once OnceConfig
		if err := json.Unmarshal(raw, &once); err != nil {
			return Config{}, errors.Wrap(err, "invalid once schedule config")
		}
		cfg.Once = &once
	case TypeRecurring:
		var rec RecurringConfig
		if err := json.Unmarshal(raw, &rec); err != nil {
			return Config{}, errors.Wrap(err, "invalid recurring schedule config")
		}
		cfg.Recurring = &rec
	case TypeConditional:
		var cond ConditionalConfig
		if err := json.Unmarshal(raw, &cond); err != nil {
			return Config{}, errors.Wrap(err, "invalid conditional schedule config")
		}
		cfg.Conditional = &cond
	default:
		return Config{}, errors.Newf("unknown schedule type: %s", scheduleType)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MarshalVariant serializes the active variant for the schedule_config column.
func (c Config) MarshalVariant() ([]byte, error) {
	switch c.Type {
	case TypeOnce:
		return json.Marshal(c.Once)
	case TypeRecurring:
		return json.Marshal(c.Recurring)
	case TypeConditional:
		return json.Marshal(c.Conditional)
	}
	return nil, errors.Newf("unknown schedule type: %s", c.Type)
}

// Validate checks the active variant against the model rules.
// Note: ExecuteAt is deliberately NOT checked for being in the future;
// rows loaded from storage may be overdue and are still executable.
func (c Config) Validate() error {
	switch c.Type {
	case TypeOnce:
		if c.Once == nil {
			return errors.NewInvalidRequestError("once schedule requires a config")
		}
		if c.Once.ExecuteAt.IsZero() {
			return errors.NewInvalidRequestError("execute_at is required")
		}
		return nil

	case TypeRecurring:
		rec := c.Recurring
		if rec == nil {
			return errors.NewInvalidRequestError("recurring schedule requires a config")
		}
		switch rec.Frequency {
		case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		default:
			return errors.NewInvalidRequestError("unknown recurrence frequency: %s", rec.Frequency)
		}
		if rec.TimeOfDay != "" {
			if _, err := time.Parse("15:04", rec.TimeOfDay); err != nil {
				return errors.NewInvalidRequestError("time must be in HH:MM format")
			}
		}
		for _, day := range rec.DaysOfWeek {
			if day < 1 || day > 7 {
				return errors.NewInvalidRequestError("days_of_week must be integers between 1 and 7")
			}
		}
		if rec.DayOfMonth != 0 && (rec.DayOfMonth < 1 || rec.DayOfMonth > 31) {
			return errors.NewInvalidRequestError("day_of_month must be between 1 and 31")
		}
		if _, err := rec.Location(); err != nil {
			return errors.NewInvalidRequestError("unknown timezone: %s", rec.Timezone)
		}
		return nil

	case TypeConditional:
		cond := c.Conditional
		if cond == nil {
			return errors.NewInvalidRequestError("conditional schedule requires a config")
		}
		if cond.ConditionType == "" {
			return errors.NewInvalidRequestError("condition_type is required")
		}
		if cond.PollIntervalSeconds < MinPollIntervalSeconds {
			return errors.NewInvalidRequestError("poll_interval_seconds must be at least 60")
		}
		if cond.MaxChecks != nil && *cond.MaxChecks <= 0 {
			return errors.NewInvalidRequestError("max_checks must be positive")
		}
		return nil
	}
	return errors.NewInvalidRequestError("unknown schedule type: %s", c.Type)
}

// Location resolves the schedule's timezone, defaulting to UTC.
func (r *RecurringConfig) Location() (*time.Location, error) {
	if r.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(r.Timezone)
}

// ClockTime returns the parsed TimeOfDay as hour and minute.
// Callers must have validated the config first.
func (r *RecurringConfig) ClockTime() (hour, minute int, ok bool) {
	if r.TimeOfDay == "" {
		return 0, 0, false
	}
	t, err := time.Parse("15:04", r.TimeOfDay)
	if err != nil {
		return 0, 0, false
	}
	return t.Hour(), t.Minute(), true
}
