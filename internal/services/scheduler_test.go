package services

import (
	"context"
	"testing"
	"time"

	"github.com/stocklot/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestScheduler(t *testing.T, store *ScheduleStore, executor *Executor) *Scheduler {
	t.Helper()
	s := NewScheduler(store, executor, zap.NewNop())
	t.Cleanup(s.Stop)
	return s
}

func TestSchedulerStart_NoScheduleRow(t *testing.T) {
	db := newTestDB(t) // nothing seeded
	store, _, executor := testEngine(t, db, &fakeArtifactStore{})
	s := newTestScheduler(t, store, executor)

	result, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StartNotConfigured, result)
	assert.False(t, s.Running())
}

func TestSchedulerStart_DisabledSchedule(t *testing.T) {
	db := newTestDB(t)
	seedSchedule(t, db, func(sc *models.BackupSchedule) {
		sc.IsEnabled = false
	})
	store, _, executor := testEngine(t, db, &fakeArtifactStore{})
	s := newTestScheduler(t, store, executor)

	result, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StartDisabled, result)
	assert.False(t, s.Running())
}

func TestSchedulerStart_RegistersTriggerAndPersistsNextRun(t *testing.T) {
	db := newTestDB(t)
	seedSchedule(t, db, nil)
	store, _, executor := testEngine(t, db, &fakeArtifactStore{})
	s := newTestScheduler(t, store, executor)

	before := time.Now()
	result, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StartStarted, result)
	assert.True(t, s.Running())
	assert.Len(t, s.cron.Entries(), 1)

	cfg, err := store.Config(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cfg.NextRunAt)
	assert.True(t, cfg.NextRunAt.After(before), "persisted next run must be in the future")
}

func TestSchedulerRestart_KeepsSingleTrigger(t *testing.T) {
	db := newTestDB(t)
	seedSchedule(t, db, nil)
	store, _, executor := testEngine(t, db, &fakeArtifactStore{})
	s := newTestScheduler(t, store, executor)

	for i := 0; i < 3; i++ {
		result, err := s.Restart(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StartStarted, result)
	}
	assert.True(t, s.Running())
	assert.Len(t, s.cron.Entries(), 1)
}

func TestSchedulerStop_Idempotent(t *testing.T) {
	db := newTestDB(t)
	seedSchedule(t, db, nil)
	store, _, executor := testEngine(t, db, &fakeArtifactStore{})
	s := newTestScheduler(t, store, executor)

	_, err := s.Start(context.Background())
	require.NoError(t, err)
	require.True(t, s.Running())

	s.Stop()
	assert.False(t, s.Running())
	s.Stop() // second stop must be a no-op
	assert.False(t, s.Running())
}

func TestSchedulerStart_InvalidFrequencyStillRegisters(t *testing.T) {
	db := newTestDB(t)
	seedSchedule(t, db, func(sc *models.BackupSchedule) {
		sc.Frequency = "hourly" // unknown cadence falls back to the daily form
	})
	store, _, executor := testEngine(t, db, &fakeArtifactStore{})
	s := newTestScheduler(t, store, executor)

	result, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StartStarted, result)
}
