package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stocklot/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func artifactAgedDays(days int) ArtifactInfo {
	return ArtifactInfo{
		Filename:  fmt.Sprintf("stocklot_%dd.stocklot.bak", days),
		SizeBytes: 1024,
		CreatedAt: time.Now().AddDate(0, 0, -days),
	}
}

func TestCleanOldBackups_AgeRule(t *testing.T) {
	db := newTestDB(t)
	seedSchedule(t, db, func(s *models.BackupSchedule) {
		s.RetentionDays = 7
	})

	fake := &fakeArtifactStore{artifacts: []ArtifactInfo{
		artifactAgedDays(10),
		artifactAgedDays(8),
		artifactAgedDays(3),
		artifactAgedDays(1),
	}}
	store := NewScheduleStore(db, zap.NewNop())
	r := NewRetentionEnforcer(store, fake, nil, zap.NewNop())

	report := r.CleanOldBackups(context.Background())

	assert.ElementsMatch(t, []string{
		"stocklot_10d.stocklot.bak",
		"stocklot_8d.stocklot.bak",
	}, report.Deleted)
	assert.Empty(t, report.Failed)
	assert.Len(t, fake.artifacts, 2)
}

func TestCleanOldBackups_CountRule(t *testing.T) {
	db := newTestDB(t)
	seedSchedule(t, db, func(s *models.BackupSchedule) {
		s.RetentionDays = 0 // age rule off
		s.RetentionCount = 3
	})

	fake := &fakeArtifactStore{artifacts: []ArtifactInfo{
		artifactAgedDays(1),
		artifactAgedDays(2),
		artifactAgedDays(3),
		artifactAgedDays(4),
		artifactAgedDays(5),
		artifactAgedDays(6),
	}}
	store := NewScheduleStore(db, zap.NewNop())
	r := NewRetentionEnforcer(store, fake, nil, zap.NewNop())

	report := r.CleanOldBackups(context.Background())

	assert.ElementsMatch(t, []string{
		"stocklot_4d.stocklot.bak",
		"stocklot_5d.stocklot.bak",
		"stocklot_6d.stocklot.bak",
	}, report.Deleted)
	assert.Len(t, fake.artifacts, 3)

	// A second pass right after deletion finds nothing to do
	report = r.CleanOldBackups(context.Background())
	assert.Empty(t, report.Deleted)
	assert.Empty(t, report.Failed)
}

func TestCleanOldBackups_RulesAreAdditiveAndDeduplicated(t *testing.T) {
	db := newTestDB(t)
	seedSchedule(t, db, func(s *models.BackupSchedule) {
		s.RetentionDays = 7
		s.RetentionCount = 2
	})

	// The 10-day artifact matches both rules; it must be deleted once.
	fake := &fakeArtifactStore{artifacts: []ArtifactInfo{
		artifactAgedDays(10),
		artifactAgedDays(3),
		artifactAgedDays(2),
		artifactAgedDays(1),
	}}
	store := NewScheduleStore(db, zap.NewNop())
	r := NewRetentionEnforcer(store, fake, nil, zap.NewNop())

	report := r.CleanOldBackups(context.Background())

	assert.ElementsMatch(t, []string{
		"stocklot_10d.stocklot.bak",
		"stocklot_3d.stocklot.bak",
	}, report.Deleted)
	assert.Len(t, report.Deleted, 2)
	assert.Len(t, fake.deleted, 2)
}

func TestCleanOldBackups_DeleteFailureDoesNotAbortBatch(t *testing.T) {
	db := newTestDB(t)
	seedSchedule(t, db, func(s *models.BackupSchedule) {
		s.RetentionDays = 7
	})

	fake := &fakeArtifactStore{
		artifacts: []ArtifactInfo{
			artifactAgedDays(10),
			artifactAgedDays(9),
			artifactAgedDays(8),
		},
		failOn: map[string]error{
			"stocklot_9d.stocklot.bak": errors.New("file locked"),
		},
	}
	store := NewScheduleStore(db, zap.NewNop())
	r := NewRetentionEnforcer(store, fake, nil, zap.NewNop())

	report := r.CleanOldBackups(context.Background())

	assert.ElementsMatch(t, []string{
		"stocklot_10d.stocklot.bak",
		"stocklot_8d.stocklot.bak",
	}, report.Deleted)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "stocklot_9d.stocklot.bak", report.Failed[0].Filename)
	assert.Equal(t, "file locked", report.Failed[0].Reason)
}

func TestCleanOldBackups_NoScheduleIsNoOp(t *testing.T) {
	db := newTestDB(t) // no schedule row seeded

	fake := &fakeArtifactStore{artifacts: []ArtifactInfo{artifactAgedDays(100)}}
	store := NewScheduleStore(db, zap.NewNop())
	r := NewRetentionEnforcer(store, fake, nil, zap.NewNop())

	report := r.CleanOldBackups(context.Background())

	assert.Empty(t, report.Deleted)
	assert.Empty(t, report.Failed)
	assert.Len(t, fake.artifacts, 1)
}

func TestCleanOldBackups_ZeroPolicyKeepsEverything(t *testing.T) {
	db := newTestDB(t)
	seedSchedule(t, db, func(s *models.BackupSchedule) {
		s.RetentionDays = 0
		s.RetentionCount = 0
	})

	fake := &fakeArtifactStore{artifacts: []ArtifactInfo{
		artifactAgedDays(400),
		artifactAgedDays(1),
	}}
	store := NewScheduleStore(db, zap.NewNop())
	r := NewRetentionEnforcer(store, fake, nil, zap.NewNop())

	report := r.CleanOldBackups(context.Background())

	assert.Empty(t, report.Deleted)
	assert.Len(t, fake.artifacts, 2)
}
