package services

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stocklot/backend/internal/models"
	"go.uber.org/zap"
)

// ErrCycleInFlight is returned when a cycle is requested while another one
// is still running. The scheduler logs and skips; the manual path surfaces
// it to the caller.
var ErrCycleInFlight = errors.New("a backup cycle is already running")

// MirrorUploader copies a fresh artifact to the offsite mirror. Implemented
// by DumpStore.
type MirrorUploader interface {
	MirrorUpload(schedule *models.BackupSchedule, filename string) error
}

// Executor orchestrates one backup cycle: history-open, artifact creation,
// history-close, last-run update, retention. At most one cycle is in flight
// per process; an overlapping fire is skipped, not queued.
type Executor struct {
	store     *ScheduleStore
	ledger    *HistoryLedger
	artifacts ArtifactStore
	retention *RetentionEnforcer
	mirror    MirrorUploader // nil when no mirror is configured
	logger    *zap.Logger
	busy      atomic.Bool
}

func NewExecutor(store *ScheduleStore, ledger *HistoryLedger, artifacts ArtifactStore, retention *RetentionEnforcer, mirror MirrorUploader, logger *zap.Logger) *Executor {
	return &Executor{
		store:     store,
		ledger:    ledger,
		artifacts: artifacts,
		retention: retention,
		mirror:    mirror,
		logger:    logger,
	}
}

// RunCycle executes one backup cycle. The returned history entry reflects
// the terminal state; on failure the error is also recorded there, so the
// automatic caller can discard the return values entirely.
func (e *Executor) RunCycle(ctx context.Context, backupType, actor, description string) (*models.BackupHistory, error) {
	if !e.busy.CompareAndSwap(false, true) {
		e.logger.Warn("backup cycle skipped: previous cycle still running",
			zap.String("trigger", backupType))
		return nil, ErrCycleInFlight
	}
	defer e.busy.Store(false)

	cycleID := uuid.NewString()
	log := e.logger.With(zap.String("cycle_id", cycleID), zap.String("trigger", backupType))
	startedAt := time.Now()

	entry, err := e.ledger.Open(ctx, backupType, actor, description, startedAt)
	if err != nil {
		log.Error("failed to open history entry", zap.Error(err))
		return nil, err
	}
	log.Info("backup cycle started")

	filename, err := e.artifacts.Create(ctx, actor, description)
	if err != nil {
		completedAt := time.Now()
		if cerr := e.ledger.CloseFailed(ctx, entry, err.Error(), completedAt); cerr != nil {
			log.Error("failed to close history entry", zap.Error(cerr))
		}
		log.Error("backup cycle failed", zap.Error(err))
		return entry, err
	}

	sizeBytes, tablesCount := e.lookupArtifact(ctx, filename)
	completedAt := time.Now()
	if err := e.ledger.CloseSuccess(ctx, entry, filename, sizeBytes, tablesCount, completedAt); err != nil {
		log.Error("failed to close history entry", zap.Error(err))
	}
	if err := e.store.SetLastRun(ctx, startedAt); err != nil {
		log.Error("failed to update last run", zap.Error(err))
	}

	// Mirror failures do not fail the cycle; the local artifact exists.
	if cfg, cfgErr := e.store.Config(ctx); cfgErr == nil && cfg.FTPEnabled && e.mirror != nil {
		if merr := e.mirror.MirrorUpload(cfg, filename); merr != nil {
			log.Warn("FTP mirror upload failed", zap.Error(merr))
		}
	}

	report := e.retention.CleanOldBackups(ctx)
	if len(report.Deleted) > 0 || len(report.Failed) > 0 {
		log.Info("retention enforced",
			zap.Int("deleted", len(report.Deleted)),
			zap.Int("failed", len(report.Failed)))
	}

	log.Info("backup cycle completed",
		zap.String("filename", filename),
		zap.Int64("size_bytes", sizeBytes),
		zap.Duration("took", completedAt.Sub(startedAt)))
	return entry, nil
}

// RunScheduled is the automatic entry point. Nothing escapes it: failures
// are already recorded in history and the log, and a panic in a cycle must
// not take down the host process.
func (e *Executor) RunScheduled() {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in backup cycle", zap.Any("panic", r))
		}
	}()
	e.RunCycle(context.Background(), models.BackupTypeAutomatic, "scheduler", "scheduled backup")
}

// lookupArtifact fetches size and table count for a freshly created artifact
// by matching its filename in the listing.
func (e *Executor) lookupArtifact(ctx context.Context, filename string) (int64, int) {
	artifacts, err := e.artifacts.List(ctx)
	if err != nil {
		return 0, 0
	}
	for _, a := range artifacts {
		if a.Filename == filename {
			return a.SizeBytes, a.TablesCount
		}
	}
	return 0, 0
}
