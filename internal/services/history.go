package services

import (
	"context"
	"time"

	"github.com/stocklot/backend/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// placeholderFilename marks a history row whose cycle has not produced an
// artifact yet.
const placeholderFilename = "pending"

// HistoryLedger is the append-only log of backup attempts. Rows are opened
// running, closed exactly once and never mutated afterwards; retention only
// ever deletes artifacts, not history.
type HistoryLedger struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewHistoryLedger(db *gorm.DB, logger *zap.Logger) *HistoryLedger {
	return &HistoryLedger{db: db, logger: logger}
}

// Open inserts a running history row for a cycle that is about to execute.
func (l *HistoryLedger) Open(ctx context.Context, backupType, actor, description string, startedAt time.Time) (*models.BackupHistory, error) {
	entry := models.BackupHistory{
		Filename:    placeholderFilename,
		BackupType:  backupType,
		Status:      models.BackupStatusRunning,
		StartedAt:   startedAt,
		CreatedBy:   actor,
		Description: description,
	}
	if err := l.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// CloseSuccess transitions a running row to success with the real filename
// and artifact metadata.
func (l *HistoryLedger) CloseSuccess(ctx context.Context, entry *models.BackupHistory, filename string, sizeBytes int64, tablesCount int, completedAt time.Time) error {
	duration := int(completedAt.Sub(entry.StartedAt).Seconds())
	entry.Status = models.BackupStatusSuccess
	entry.Filename = filename
	entry.SizeBytes = &sizeBytes
	entry.TablesCount = &tablesCount
	entry.CompletedAt = &completedAt
	entry.DurationSeconds = &duration
	return l.db.WithContext(ctx).Model(entry).Updates(map[string]interface{}{
		"status":           entry.Status,
		"filename":         filename,
		"size_bytes":       sizeBytes,
		"tables_count":     tablesCount,
		"completed_at":     completedAt,
		"duration_seconds": duration,
	}).Error
}

// CloseFailed transitions a running row to failed with the collaborator's
// error message.
func (l *HistoryLedger) CloseFailed(ctx context.Context, entry *models.BackupHistory, errorMessage string, completedAt time.Time) error {
	duration := int(completedAt.Sub(entry.StartedAt).Seconds())
	entry.Status = models.BackupStatusFailed
	entry.ErrorMessage = errorMessage
	entry.CompletedAt = &completedAt
	entry.DurationSeconds = &duration
	return l.db.WithContext(ctx).Model(entry).Updates(map[string]interface{}{
		"status":           entry.Status,
		"error_message":    errorMessage,
		"completed_at":     completedAt,
		"duration_seconds": duration,
	}).Error
}

// Recent returns the newest history rows, newest first. A storage failure
// degrades to an empty result; history reads never raise.
func (l *HistoryLedger) Recent(ctx context.Context, limit int) []models.BackupHistory {
	if limit <= 0 {
		limit = 50
	}
	entries := []models.BackupHistory{}
	err := l.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		l.logger.Warn("history read failed, returning empty result", zap.Error(err))
		return []models.BackupHistory{}
	}
	return entries
}

// ManualRecord describes an already-completed manual backup to be logged
// post-hoc. Manual backups are not timed by the ledger; duration is zero.
type ManualRecord struct {
	Filename     string
	Success      bool
	SizeBytes    *int64
	TablesCount  *int
	CreatedBy    string
	Description  string
	ErrorMessage string
}

// LogManual appends one closed history row for a manual attempt.
func (l *HistoryLedger) LogManual(ctx context.Context, rec ManualRecord) error {
	now := time.Now()
	duration := 0
	status := models.BackupStatusSuccess
	if !rec.Success {
		status = models.BackupStatusFailed
	}
	entry := models.BackupHistory{
		Filename:        rec.Filename,
		BackupType:      models.BackupTypeManual,
		Status:          status,
		SizeBytes:       rec.SizeBytes,
		TablesCount:     rec.TablesCount,
		ErrorMessage:    rec.ErrorMessage,
		StartedAt:       now,
		CompletedAt:     &now,
		DurationSeconds: &duration,
		CreatedBy:       rec.CreatedBy,
		Description:     rec.Description,
	}
	return l.db.WithContext(ctx).Create(&entry).Error
}

// ReconcileInterrupted closes history rows left running by a crash or
// restart mid-cycle. Called once at startup, before the scheduler starts.
func (l *HistoryLedger) ReconcileInterrupted(ctx context.Context) (int64, error) {
	now := time.Now()
	res := l.db.WithContext(ctx).
		Model(&models.BackupHistory{}).
		Where("status = ?", models.BackupStatusRunning).
		Updates(map[string]interface{}{
			"status":        models.BackupStatusFailed,
			"error_message": "interrupted by shutdown",
			"completed_at":  now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		l.logger.Warn("reconciled interrupted backup history rows",
			zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}
