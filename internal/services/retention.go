package services

import (
	"context"
	"sort"
	"time"

	"github.com/stocklot/backend/internal/models"
	"go.uber.org/zap"
)

// MirrorPruner prunes the offsite mirror by age. Implemented by DumpStore.
type MirrorPruner interface {
	MirrorPrune(schedule *models.BackupSchedule, cutoff time.Time)
}

// RetentionFailure records one artifact the enforcer could not delete.
type RetentionFailure struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// RetentionReport summarizes one enforcement pass. Failures are reported,
// not swallowed, and never abort the rest of the batch.
type RetentionReport struct {
	Deleted []string           `json:"deleted"`
	Failed  []RetentionFailure `json:"failed"`
}

// RetentionEnforcer deletes backup artifacts per the schedule's retention
// policy. The age rule and the count rule are independent and additive: an
// artifact matching either is deleted.
type RetentionEnforcer struct {
	store     *ScheduleStore
	artifacts ArtifactStore
	mirror    MirrorPruner // nil when no mirror is configured
	logger    *zap.Logger
}

func NewRetentionEnforcer(store *ScheduleStore, artifacts ArtifactStore, mirror MirrorPruner, logger *zap.Logger) *RetentionEnforcer {
	return &RetentionEnforcer{
		store:     store,
		artifacts: artifacts,
		mirror:    mirror,
		logger:    logger,
	}
}

// CleanOldBackups runs one enforcement pass. With no schedule configured it
// is a no-op; with no matching artifacts the report is empty, which also
// makes back-to-back passes idempotent.
func (r *RetentionEnforcer) CleanOldBackups(ctx context.Context) RetentionReport {
	report := RetentionReport{Deleted: []string{}}

	cfg, err := r.store.Config(ctx)
	if err != nil {
		return report
	}

	artifacts, err := r.artifacts.List(ctx)
	if err != nil {
		r.logger.Warn("retention skipped: failed to list artifacts", zap.Error(err))
		return report
	}

	doomed := map[string]bool{}
	var order []string
	mark := func(filename string) {
		if !doomed[filename] {
			doomed[filename] = true
			order = append(order, filename)
		}
	}

	var cutoff time.Time
	if cfg.RetentionDays > 0 {
		cutoff = time.Now().AddDate(0, 0, -cfg.RetentionDays)
		for _, a := range artifacts {
			if a.CreatedAt.Before(cutoff) {
				mark(a.Filename)
			}
		}
	}

	if cfg.RetentionCount > 0 && len(artifacts) > cfg.RetentionCount {
		sorted := make([]ArtifactInfo, len(artifacts))
		copy(sorted, artifacts)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		})
		for _, a := range sorted[cfg.RetentionCount:] {
			mark(a.Filename)
		}
	}

	for _, filename := range order {
		if err := r.artifacts.Delete(ctx, filename); err != nil {
			r.logger.Warn("failed to delete old backup",
				zap.String("filename", filename), zap.Error(err))
			report.Failed = append(report.Failed, RetentionFailure{
				Filename: filename,
				Reason:   err.Error(),
			})
			continue
		}
		r.logger.Info("deleted old backup", zap.String("filename", filename))
		report.Deleted = append(report.Deleted, filename)
	}

	if cfg.FTPEnabled && cfg.RetentionDays > 0 && r.mirror != nil {
		r.mirror.MirrorPrune(cfg, cutoff)
	}

	return report
}
