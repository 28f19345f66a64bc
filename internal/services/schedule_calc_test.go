package services

import (
	"testing"
	"time"

	"github.com/stocklot/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func utcSchedule(freq string, hour, minute int) *models.BackupSchedule {
	return &models.BackupSchedule{
		Frequency: freq,
		Hour:      hour,
		Minute:    minute,
		Timezone:  "UTC",
	}
}

func TestNextRunAfter_DailyTimeNotYetPassed(t *testing.T) {
	s := utcSchedule(models.FrequencyDaily, 20, 0)
	now := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)

	next := NextRunAfter(s, now)
	assert.Equal(t, time.Date(2025, 1, 10, 20, 0, 0, 0, time.UTC), next)
}

func TestNextRunAfter_DailyTimePassed(t *testing.T) {
	s := utcSchedule(models.FrequencyDaily, 20, 0)
	now := time.Date(2025, 1, 10, 21, 0, 0, 0, time.UTC)

	next := NextRunAfter(s, now)
	assert.Equal(t, time.Date(2025, 1, 11, 20, 0, 0, 0, time.UTC), next)
}

func TestNextRunAfter_DailyExactBoundaryPushesToTomorrow(t *testing.T) {
	s := utcSchedule(models.FrequencyDaily, 20, 0)
	// Candidate == now counts as already past; otherwise a fire at the
	// boundary instant would reschedule itself for the same instant.
	now := time.Date(2025, 1, 10, 20, 0, 0, 0, time.UTC)

	next := NextRunAfter(s, now)
	assert.Equal(t, time.Date(2025, 1, 11, 20, 0, 0, 0, time.UTC), next)
}

func TestNextRunAfter_WeeklyTargetLaterThisWeek(t *testing.T) {
	s := utcSchedule(models.FrequencyWeekly, 20, 0)
	s.DayOfWeek = 5 // Friday
	// 2025-01-07 is a Tuesday
	now := time.Date(2025, 1, 7, 8, 0, 0, 0, time.UTC)

	next := NextRunAfter(s, now)
	assert.Equal(t, time.Date(2025, 1, 10, 20, 0, 0, 0, time.UTC), next)
	assert.Equal(t, time.Friday, next.Weekday())
}

func TestNextRunAfter_WeeklyTodayButTimePassed(t *testing.T) {
	s := utcSchedule(models.FrequencyWeekly, 20, 0)
	s.DayOfWeek = 5
	// 2025-01-10 is a Friday, and 21:00 is past the configured 20:00
	now := time.Date(2025, 1, 10, 21, 0, 0, 0, time.UTC)

	next := NextRunAfter(s, now)
	assert.Equal(t, time.Date(2025, 1, 17, 20, 0, 0, 0, time.UTC), next)
}

func TestNextRunAfter_WeeklyTodayTimeNotYetPassed(t *testing.T) {
	s := utcSchedule(models.FrequencyWeekly, 20, 0)
	s.DayOfWeek = 5
	now := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)

	next := NextRunAfter(s, now)
	assert.Equal(t, time.Date(2025, 1, 10, 20, 0, 0, 0, time.UTC), next)
}

func TestNextRunAfter_MonthlyDayAlreadyPassed(t *testing.T) {
	s := utcSchedule(models.FrequencyMonthly, 3, 30)
	s.DayOfMonth = 1
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)

	next := NextRunAfter(s, now)
	assert.Equal(t, time.Date(2025, 4, 1, 3, 30, 0, 0, time.UTC), next)
}

func TestNextRunAfter_MonthlyDayLaterThisMonth(t *testing.T) {
	s := utcSchedule(models.FrequencyMonthly, 3, 30)
	s.DayOfMonth = 20
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)

	next := NextRunAfter(s, now)
	assert.Equal(t, time.Date(2025, 3, 20, 3, 30, 0, 0, time.UTC), next)
}

func TestNextRunAfter_MonthlyZeroDayDefaultsToFirst(t *testing.T) {
	s := utcSchedule(models.FrequencyMonthly, 3, 30)
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)

	next := NextRunAfter(s, now)
	assert.Equal(t, time.Date(2025, 4, 1, 3, 30, 0, 0, time.UTC), next)
}

func TestNextRunAfter_UnknownFrequencyBehavesAsDaily(t *testing.T) {
	s := utcSchedule("hourly", 20, 0)
	now := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)

	next := NextRunAfter(s, now)
	assert.Equal(t, time.Date(2025, 1, 10, 20, 0, 0, 0, time.UTC), next)
}

func TestNextRunAfter_AlwaysInFuture(t *testing.T) {
	now := time.Date(2025, 6, 30, 23, 59, 0, 0, time.UTC)
	for _, freq := range []string{models.FrequencyDaily, models.FrequencyWeekly, models.FrequencyMonthly} {
		s := utcSchedule(freq, 23, 59)
		next := NextRunAfter(s, now)
		assert.True(t, next.After(now), "frequency %s produced %v, not after %v", freq, next, now)
	}
}

func TestCronExpression(t *testing.T) {
	tests := []struct {
		name     string
		schedule *models.BackupSchedule
		want     string
	}{
		{
			name:     "daily",
			schedule: &models.BackupSchedule{Frequency: models.FrequencyDaily, Hour: 2, Minute: 30},
			want:     "30 2 * * *",
		},
		{
			name: "weekly",
			schedule: &models.BackupSchedule{
				Frequency: models.FrequencyWeekly, Hour: 4, Minute: 15, DayOfWeek: 5,
			},
			want: "15 4 * * 5",
		},
		{
			name:     "weekly defaults to sunday",
			schedule: &models.BackupSchedule{Frequency: models.FrequencyWeekly, Hour: 4, Minute: 15},
			want:     "15 4 * * 0",
		},
		{
			name: "monthly",
			schedule: &models.BackupSchedule{
				Frequency: models.FrequencyMonthly, Hour: 1, Minute: 0, DayOfMonth: 15,
			},
			want: "0 1 15 * *",
		},
		{
			name:     "monthly defaults to first",
			schedule: &models.BackupSchedule{Frequency: models.FrequencyMonthly, Hour: 1, Minute: 0},
			want:     "0 1 1 * *",
		},
		{
			name:     "unknown frequency falls back to daily form",
			schedule: &models.BackupSchedule{Frequency: "hourly", Hour: 2, Minute: 30},
			want:     "30 2 * * *",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CronExpression(tt.schedule))
		})
	}
}

func TestScheduleLocation(t *testing.T) {
	assert.Equal(t, time.Local, ScheduleLocation(&models.BackupSchedule{}))
	assert.Equal(t, time.Local, ScheduleLocation(&models.BackupSchedule{Timezone: "Not/AZone"}))

	loc := ScheduleLocation(&models.BackupSchedule{Timezone: "America/New_York"})
	assert.Equal(t, "America/New_York", loc.String())
}
