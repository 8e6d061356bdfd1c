package attendance

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const maxGraceMinutes = 240

// Config is the singleton describing the daily attendance window.
type Config struct {
	OpenTime       TimeOfDay      `json:"openTime"`
	LateThreshold  TimeOfDay      `json:"lateThreshold"`
	CloseTime      TimeOfDay      `json:"closeTime"`
	GraceMinutes   int            `json:"graceMinutes"`
	WeekendDays    []time.Weekday `json:"weekendDays"`
	EnforceWindow  bool           `json:"enforceWindow"`
	EnforceWeekend bool           `json:"enforceWeekend"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	UpdatedBy      *uuid.UUID     `json:"updatedBy,omitempty"`
}

// DefaultConfig mirrors the row seeded by the initial migration.
func DefaultConfig() Config {
	return Config{
		OpenTime:       NewTimeOfDay(5, 0, 0),
		LateThreshold:  NewTimeOfDay(8, 0, 0),
		CloseTime:      NewTimeOfDay(17, 0, 0),
		GraceMinutes:   0,
		WeekendDays:    []time.Weekday{time.Saturday, time.Sunday},
		EnforceWindow:  false,
		EnforceWeekend: true,
	}
}

// LateCutoff is the last offset from midnight that still counts as present.
func (c Config) LateCutoff() time.Duration {
	return c.LateThreshold.Duration() + time.Duration(c.GraceMinutes)*time.Minute
}

func (c Config) IsWeekend(day time.Weekday) bool {
	for _, d := range c.WeekendDays {
		if d == day {
			return true
		}
	}
	return false
}

// WithinWindow reports whether an offset from midnight lies in [open, close].
func (c Config) WithinWindow(offset time.Duration) bool {
	return offset >= c.OpenTime.Duration() && offset <= c.CloseTime.Duration()+time.Second-time.Nanosecond
}

func (c Config) Validate() error {
	if !c.OpenTime.Valid() || !c.LateThreshold.Valid() || !c.CloseTime.Valid() {
		return errors.New("times must fall within a single day")
	}
	if c.OpenTime > c.LateThreshold {
		return errors.New("openTime must not be after lateThreshold")
	}
	if c.LateThreshold > c.CloseTime {
		return errors.New("lateThreshold must not be after closeTime")
	}
	if c.GraceMinutes < 0 || c.GraceMinutes > maxGraceMinutes {
		return errors.New("graceMinutes must be between 0 and 240")
	}
	seen := map[time.Weekday]bool{}
	for _, d := range c.WeekendDays {
		if d < time.Sunday || d > time.Saturday {
			return errors.New("weekendDays must be between 0 (Sunday) and 6 (Saturday)")
		}
		if seen[d] {
			return errors.New("weekendDays must not repeat")
		}
		seen[d] = true
	}
	return nil
}

// Classify maps a tap to PRESENT or LATE. The tap is read in its own
// location; a tap exactly at the cutoff is PRESENT. It never yields ABSENT.
func Classify(tap time.Time, cfg Config) Status {
	if TimeOfDayOf(tap) <= cfg.LateCutoff() {
		return StatusPresent
	}
	return StatusLate
}
