package models

import (
	"time"

	"gorm.io/gorm"
)

// Backup frequencies
const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// Backup history statuses
const (
	BackupStatusRunning = "running"
	BackupStatusSuccess = "success"
	BackupStatusFailed  = "failed"
)

// Backup trigger types
const (
	BackupTypeAutomatic = "automatic"
	BackupTypeManual    = "manual"
)

// ScheduleID is the fixed primary key of the single backup schedule row.
// The whole process reads and writes exactly one schedule.
const ScheduleID uint = 1

// BackupSchedule is the singleton backup schedule configuration.
type BackupSchedule struct {
	ID        uint   `json:"id" gorm:"column:id;primaryKey"`
	IsEnabled bool   `json:"is_enabled" gorm:"column:is_enabled;default:false"`
	Frequency string `json:"frequency" gorm:"column:frequency;size:20;default:daily"` // daily, weekly, monthly

	DayOfWeek  int `json:"day_of_week" gorm:"column:day_of_week;default:0"`   // 0=Sunday (weekly)
	DayOfMonth int `json:"day_of_month" gorm:"column:day_of_month;default:1"` // 1-31 (monthly)
	Hour       int `json:"hour" gorm:"column:hour;default:2"`
	Minute     int `json:"minute" gorm:"column:minute;default:0"`

	// IANA zone name the configured hour/minute are interpreted in. Empty
	// means the host's local zone. Persisted timestamps stay UTC.
	Timezone string `json:"timezone" gorm:"column:timezone;size:64"`

	RetentionDays  int `json:"retention_days" gorm:"column:retention_days;default:7"`   // 0 = no age-based pruning
	RetentionCount int `json:"retention_count" gorm:"column:retention_count;default:0"` // 0 = no count-based pruning

	// Offsite FTP mirror
	FTPEnabled  bool   `json:"ftp_enabled" gorm:"column:ftp_enabled;default:false"`
	FTPHost     string `json:"ftp_host" gorm:"column:ftp_host;size:255"`
	FTPPort     int    `json:"ftp_port" gorm:"column:ftp_port;default:21"`
	FTPUsername string `json:"ftp_username" gorm:"column:ftp_username;size:100"`
	FTPPassword string `json:"ftp_password" gorm:"column:ftp_password;size:255"`
	FTPPath     string `json:"ftp_path" gorm:"column:ftp_path;size:255;default:/backups"`

	LastRunAt *time.Time `json:"last_run_at" gorm:"column:last_run_at"`
	NextRunAt *time.Time `json:"next_run_at" gorm:"column:next_run_at"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

// BackupHistory is one backup attempt, automatic or manual. Rows are opened
// as running, closed exactly once, and never deleted.
type BackupHistory struct {
	ID              uint       `json:"id" gorm:"column:id;primaryKey"`
	Filename        string     `json:"filename" gorm:"column:filename;size:255"`
	BackupType      string     `json:"backup_type" gorm:"column:backup_type;size:20"` // automatic, manual
	Status          string     `json:"status" gorm:"column:status;size:20"`           // running, success, failed
	SizeBytes       *int64     `json:"size_bytes" gorm:"column:size_bytes"`
	TablesCount     *int       `json:"tables_count" gorm:"column:tables_count"`
	ErrorMessage    string     `json:"error_message" gorm:"column:error_message;size:500"`
	StartedAt       time.Time  `json:"started_at" gorm:"column:started_at"`
	CompletedAt     *time.Time `json:"completed_at" gorm:"column:completed_at"`
	DurationSeconds *int       `json:"duration_seconds" gorm:"column:duration_seconds"`
	CreatedBy       string     `json:"created_by" gorm:"column:created_by;size:100"`
	Description     string     `json:"description" gorm:"column:description;size:500"`
}

// TableName specifies the table name for BackupSchedule
func (BackupSchedule) TableName() string {
	return "backup_schedules"
}

// TableName specifies the table name for BackupHistory
func (BackupHistory) TableName() string {
	return "backup_history"
}

// AutoMigrate runs database migrations for the backup engine tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&BackupSchedule{}, &BackupHistory{})
}
