package utils

import (
	"math/rand"
	"time"

	"reachly/config"
)

// Humanizing delay bounds between two actions on the same sender.
const (
	minActionDelay = 30 * time.Second
	maxActionDelay = 90 * time.Second
)

// Cap on how long the worker sleeps while waiting for business hours,
// so schedule changes are picked up without a restart.
const maxBusinessHoursSleep = 30 * time.Minute

// Schedule is the business-hours policy for one workspace.
type Schedule struct {
	Timezone  string
	StartHour int
	EndHour   int

	loc *time.Location
	now func() time.Time
	rng *rand.Rand
}

// NewSchedule builds a schedule, falling back to UTC when the timezone
// cannot be loaded.
func NewSchedule(timezone string, startHour, endHour int) *Schedule {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	return &Schedule{
		Timezone:  timezone,
		StartHour: startHour,
		EndHour:   endHour,
		loc:       loc,
		now:       time.Now,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ScheduleForWorkspace resolves the workspace's schedule override, or
// the configured defaults.
func ScheduleForWorkspace(workspaceSlug string) *Schedule {
	if override, ok := config.AppConfig.Schedules[workspaceSlug]; ok {
		return NewSchedule(override.Timezone, override.StartHour, override.EndHour)
	}
	return NewSchedule(
		config.AppConfig.DefaultTimezone,
		config.AppConfig.DefaultStartHour,
		config.AppConfig.DefaultEndHour,
	)
}

// IsWithinBusinessHours reports whether outreach may run right now.
// Weekends are always off-hours.
func (s *Schedule) IsWithinBusinessHours() bool {
	now := s.now().In(s.loc)
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}
	hour := now.Hour()
	return hour >= s.StartHour && hour < s.EndHour
}

// UntilBusinessHours returns how long to wait before the next business
// window opens, capped so configuration changes take effect promptly.
func (s *Schedule) UntilBusinessHours() time.Duration {
	if s.IsWithinBusinessHours() {
		return 0
	}

	now := s.now().In(s.loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), s.StartHour, 0, 0, 0, s.loc)
	for !next.After(now) || next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}

	wait := next.Sub(now)
	if wait > maxBusinessHoursSleep {
		wait = maxBusinessHoursSleep
	}
	return wait
}

// ActionDelay is the randomized humanizing pause between two actions
// for the same sender.
func (s *Schedule) ActionDelay() time.Duration {
	spread := int64(maxActionDelay - minActionDelay)
	return minActionDelay + time.Duration(s.rng.Int63n(spread))
}

// PollDelay is the sleep between worker ticks, with a little jitter so
// polling doesn't look mechanical.
func (s *Schedule) PollDelay() time.Duration {
	base := time.Duration(config.AppConfig.PollIntervalSec) * time.Second
	if base <= 0 {
		base = 5 * time.Minute
	}
	jitter := time.Duration(s.rng.Int63n(int64(base / 5)))
	return base + jitter
}
