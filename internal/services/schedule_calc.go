package services

import (
	"fmt"
	"time"

	"github.com/stocklot/backend/internal/models"
)

// ScheduleLocation resolves the schedule's IANA zone. The configured hour and
// minute are wall-clock values in this zone; an empty or unknown zone name
// falls back to the host's local zone.
func ScheduleLocation(s *models.BackupSchedule) *time.Location {
	if s.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// NextRunAfter returns the next instant the schedule should fire, strictly
// after now. A candidate exactly equal to now counts as already past and is
// pushed to the next cycle, so a fire at the boundary instant cannot loop.
// An unknown frequency behaves as daily.
func NextRunAfter(s *models.BackupSchedule, now time.Time) time.Time {
	loc := ScheduleLocation(s)
	now = now.In(loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), s.Hour, s.Minute, 0, 0, loc)

	switch s.Frequency {
	case models.FrequencyWeekly:
		daysUntil := (s.DayOfWeek - int(now.Weekday()) + 7) % 7
		if daysUntil == 0 && !next.After(now) {
			daysUntil = 7
		}
		next = next.AddDate(0, 0, daysUntil)
	case models.FrequencyMonthly:
		dom := s.DayOfMonth
		if dom == 0 {
			dom = 1
		}
		// Day-of-month beyond the month's length normalizes forward
		// (time.Date semantics), matching the trigger expression below.
		next = time.Date(now.Year(), now.Month(), dom, s.Hour, s.Minute, 0, 0, loc)
		if !next.After(now) {
			next = next.AddDate(0, 1, 0)
		}
	default: // daily
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
	}

	return next
}

// CronExpression maps the schedule to a standard 5-field cron expression
// (minute hour day-of-month month day-of-week). Unused fields are wildcards;
// an unknown frequency falls back to the daily form.
func CronExpression(s *models.BackupSchedule) string {
	switch s.Frequency {
	case models.FrequencyWeekly:
		return fmt.Sprintf("%d %d * * %d", s.Minute, s.Hour, s.DayOfWeek)
	case models.FrequencyMonthly:
		dom := s.DayOfMonth
		if dom == 0 {
			dom = 1
		}
		return fmt.Sprintf("%d %d %d * *", s.Minute, s.Hour, dom)
	default:
		return fmt.Sprintf("%d %d * * *", s.Minute, s.Hour)
	}
}
