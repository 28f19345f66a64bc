package services

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stocklot/backend/internal/models"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func seedSchedule(t *testing.T, db *gorm.DB, mutate func(*models.BackupSchedule)) *models.BackupSchedule {
	t.Helper()
	s := &models.BackupSchedule{
		ID:            models.ScheduleID,
		IsEnabled:     true,
		Frequency:     models.FrequencyDaily,
		Hour:          2,
		Minute:        0,
		Timezone:      "UTC",
		RetentionDays: 7,
	}
	if mutate != nil {
		mutate(s)
	}
	require.NoError(t, db.Create(s).Error)
	return s
}

// fakeArtifactStore implements ArtifactStore in memory and records calls.
type fakeArtifactStore struct {
	artifacts []ArtifactInfo
	deleted   []string
	failOn    map[string]error
	createErr error
	created   string
}

func (f *fakeArtifactStore) Create(ctx context.Context, actor, description string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	if f.created == "" {
		f.created = "stocklot_test.stocklot.bak"
	}
	f.artifacts = append([]ArtifactInfo{{
		Filename:    f.created,
		SizeBytes:   2048,
		TablesCount: 12,
		CreatedAt:   time.Now(),
		CreatedBy:   actor,
		Description: description,
	}}, f.artifacts...)
	return f.created, nil
}

func (f *fakeArtifactStore) List(ctx context.Context) ([]ArtifactInfo, error) {
	out := make([]ArtifactInfo, len(f.artifacts))
	copy(out, f.artifacts)
	return out, nil
}

func (f *fakeArtifactStore) Delete(ctx context.Context, filename string) error {
	if err, ok := f.failOn[filename]; ok {
		return err
	}
	for i, a := range f.artifacts {
		if a.Filename == filename {
			f.artifacts = append(f.artifacts[:i], f.artifacts[i+1:]...)
			break
		}
	}
	f.deleted = append(f.deleted, filename)
	return nil
}

func testEngine(t *testing.T, db *gorm.DB, artifacts ArtifactStore) (*ScheduleStore, *HistoryLedger, *Executor) {
	t.Helper()
	log := zap.NewNop()
	store := NewScheduleStore(db, log)
	ledger := NewHistoryLedger(db, log)
	retention := NewRetentionEnforcer(store, artifacts, nil, log)
	executor := NewExecutor(store, ledger, artifacts, retention, nil, log)
	return store, ledger, executor
}
