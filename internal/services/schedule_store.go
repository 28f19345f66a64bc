package services

import (
	"context"
	"errors"
	"time"

	"github.com/stocklot/backend/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNoSchedule is returned when the singleton schedule row does not exist.
var ErrNoSchedule = errors.New("backup schedule not configured")

// ScheduleTrigger is what the store pokes when a config change requires the
// recurring timer to stop or pick up a new cadence. Implemented by Scheduler.
type ScheduleTrigger interface {
	Stop()
	Restart(ctx context.Context) (StartResult, error)
}

// ScheduleStore owns reads and writes of the singleton backup schedule row.
type ScheduleStore struct {
	db      *gorm.DB
	logger  *zap.Logger
	trigger ScheduleTrigger
}

func NewScheduleStore(db *gorm.DB, logger *zap.Logger) *ScheduleStore {
	return &ScheduleStore{db: db, logger: logger}
}

// BindTrigger wires the scheduler in after construction; the scheduler itself
// reads config through this store, so the dependency is circular by nature.
func (st *ScheduleStore) BindTrigger(t ScheduleTrigger) {
	st.trigger = t
}

// Config reads the singleton schedule row. A missing row and an unreachable
// database both come back as ErrNoSchedule; reads never raise storage errors,
// only writes do.
func (st *ScheduleStore) Config(ctx context.Context) (*models.BackupSchedule, error) {
	var s models.BackupSchedule
	err := st.db.WithContext(ctx).First(&s, models.ScheduleID).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			st.logger.Warn("schedule read failed, treating as absent", zap.Error(err))
		}
		return nil, ErrNoSchedule
	}
	return &s, nil
}

// EnsureDefault creates the disabled singleton row if it does not exist, so a
// fresh database has something for the admin UI to edit.
func (st *ScheduleStore) EnsureDefault(ctx context.Context) error {
	s := models.BackupSchedule{
		ID:            models.ScheduleID,
		Frequency:     models.FrequencyDaily,
		Hour:          2,
		RetentionDays: 7,
	}
	return st.db.WithContext(ctx).FirstOrCreate(&s, "id = ?", models.ScheduleID).Error
}

// ScheduleUpdate is a partial update of the schedule row. Nil fields are left
// untouched; every non-nil field maps to exactly one column.
type ScheduleUpdate struct {
	Enabled    *bool   `json:"is_enabled"`
	Frequency  *string `json:"frequency"`
	DayOfWeek  *int    `json:"day_of_week"`
	DayOfMonth *int    `json:"day_of_month"`
	Hour       *int    `json:"hour"`
	Minute     *int    `json:"minute"`
	Timezone   *string `json:"timezone"`

	RetentionDays  *int `json:"retention_days"`
	RetentionCount *int `json:"retention_count"`

	FTPEnabled  *bool   `json:"ftp_enabled"`
	FTPHost     *string `json:"ftp_host"`
	FTPPort     *int    `json:"ftp_port"`
	FTPUsername *string `json:"ftp_username"`
	FTPPassword *string `json:"ftp_password"`
	FTPPath     *string `json:"ftp_path"`
}

// apply copies the provided fields onto s and returns the touched columns
// plus whether any cadence field (one that shifts the fire instant) changed.
func (u *ScheduleUpdate) apply(s *models.BackupSchedule) (map[string]interface{}, bool) {
	cols := map[string]interface{}{}
	cadence := false

	if u.Enabled != nil {
		s.IsEnabled = *u.Enabled
		cols["is_enabled"] = *u.Enabled
	}
	if u.Frequency != nil {
		s.Frequency = *u.Frequency
		cols["frequency"] = *u.Frequency
		cadence = true
	}
	if u.DayOfWeek != nil {
		s.DayOfWeek = *u.DayOfWeek
		cols["day_of_week"] = *u.DayOfWeek
		cadence = true
	}
	if u.DayOfMonth != nil {
		s.DayOfMonth = *u.DayOfMonth
		cols["day_of_month"] = *u.DayOfMonth
		cadence = true
	}
	if u.Hour != nil {
		s.Hour = *u.Hour
		cols["hour"] = *u.Hour
		cadence = true
	}
	if u.Minute != nil {
		s.Minute = *u.Minute
		cols["minute"] = *u.Minute
		cadence = true
	}
	if u.Timezone != nil {
		s.Timezone = *u.Timezone
		cols["timezone"] = *u.Timezone
		cadence = true
	}
	if u.RetentionDays != nil {
		s.RetentionDays = *u.RetentionDays
		cols["retention_days"] = *u.RetentionDays
	}
	if u.RetentionCount != nil {
		s.RetentionCount = *u.RetentionCount
		cols["retention_count"] = *u.RetentionCount
	}
	if u.FTPEnabled != nil {
		s.FTPEnabled = *u.FTPEnabled
		cols["ftp_enabled"] = *u.FTPEnabled
	}
	if u.FTPHost != nil {
		s.FTPHost = *u.FTPHost
		cols["ftp_host"] = *u.FTPHost
	}
	if u.FTPPort != nil {
		s.FTPPort = *u.FTPPort
		cols["ftp_port"] = *u.FTPPort
	}
	if u.FTPUsername != nil {
		s.FTPUsername = *u.FTPUsername
		cols["ftp_username"] = *u.FTPUsername
	}
	if u.FTPPassword != nil {
		s.FTPPassword = *u.FTPPassword
		cols["ftp_password"] = *u.FTPPassword
	}
	if u.FTPPath != nil {
		s.FTPPath = *u.FTPPath
		cols["ftp_path"] = *u.FTPPath
	}

	return cols, cadence
}

// Update applies a partial update to the singleton row. When a cadence field
// changes, next_run_at is recomputed in the same write. The scheduler is
// stopped when the schedule transitions to disabled, and restarted when it is
// enabled or its cadence changes while enabled. Returns false when no
// recognized field was supplied.
func (st *ScheduleStore) Update(ctx context.Context, u ScheduleUpdate) (*models.BackupSchedule, bool, error) {
	current, err := st.Config(ctx)
	if err != nil {
		return nil, false, err
	}
	wasEnabled := current.IsEnabled

	merged := *current
	cols, cadence := u.apply(&merged)
	if len(cols) == 0 {
		return current, false, nil
	}

	if cadence {
		next := NextRunAfter(&merged, time.Now())
		cols["next_run_at"] = next
		merged.NextRunAt = &next
	}

	err = st.db.WithContext(ctx).
		Model(&models.BackupSchedule{}).
		Where("id = ?", models.ScheduleID).
		Updates(cols).Error
	if err != nil {
		return nil, false, err
	}

	if st.trigger != nil {
		switch {
		case wasEnabled && !merged.IsEnabled:
			st.logger.Info("schedule disabled, stopping backup scheduler")
			st.trigger.Stop()
		case merged.IsEnabled && (!wasEnabled || cadence):
			st.logger.Info("schedule changed, restarting backup scheduler")
			if _, err := st.trigger.Restart(ctx); err != nil {
				st.logger.Error("failed to restart backup scheduler", zap.Error(err))
			}
		}
	}

	return &merged, true, nil
}

// SetLastRun records the start instant of the last successful cycle.
func (st *ScheduleStore) SetLastRun(ctx context.Context, t time.Time) error {
	return st.db.WithContext(ctx).
		Model(&models.BackupSchedule{}).
		Where("id = ?", models.ScheduleID).
		Update("last_run_at", t).Error
}

// SetNextRun persists the next fire instant.
func (st *ScheduleStore) SetNextRun(ctx context.Context, t time.Time) error {
	return st.db.WithContext(ctx).
		Model(&models.BackupSchedule{}).
		Where("id = ?", models.ScheduleID).
		Update("next_run_at", t).Error
}
