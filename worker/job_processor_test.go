package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"leadpilot/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Project{},
		&models.Plan{},
		&models.Lead{},
		&models.Sequence{},
		&models.SequenceStep{},
		&models.SequenceEnrollment{},
		&models.StepExecution{},
		&models.Action{},
		&models.Template{},
		&models.Mailbox{},
		&models.WarmupStageConfig{},
		&models.InboxMessage{},
		&models.ScheduledJob{},
		&models.DailyStat{},
		&models.Notification{},
	))
	return db
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func pendingJob(t *testing.T, db *gorm.DB, jobType string, due time.Time) *models.ScheduledJob {
	t.Helper()

	job := models.ScheduledJob{
		UserID:       1,
		Type:         jobType,
		Payload:      []byte(`{}`),
		Status:       models.JobStatusPending,
		ScheduledFor: due,
	}
	require.NoError(t, db.Create(&job).Error)
	return &job
}

func TestProcessScheduledJobs_CompletesDueJob(t *testing.T) {
	db := testDB(t)
	jp := NewJobProcessor(db, testLogger())
	jp.Register("noop", func(ctx context.Context, job *models.ScheduledJob) (string, error) {
		return "done", nil
	})

	job := pendingJob(t, db, "noop", time.Now().Add(-time.Minute))

	result := jp.ProcessScheduledJobs(context.Background())
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 0, result.Failed)

	var got models.ScheduledJob
	require.NoError(t, db.First(&got, job.ID).Error)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, "done", got.Result)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
}

func TestProcessScheduledJobs_IgnoresFutureJobs(t *testing.T) {
	db := testDB(t)
	jp := NewJobProcessor(db, testLogger())
	jp.Register("noop", func(ctx context.Context, job *models.ScheduledJob) (string, error) {
		return "", nil
	})

	pendingJob(t, db, "noop", time.Now().Add(time.Hour))

	result := jp.ProcessScheduledJobs(context.Background())
	assert.Equal(t, 0, result.Processed)
}

func TestProcessScheduledJobs_OldestDueFirst(t *testing.T) {
	db := testDB(t)

	var order []uint
	jp := NewJobProcessor(db, testLogger())
	jp.Register("noop", func(ctx context.Context, job *models.ScheduledJob) (string, error) {
		order = append(order, job.ID)
		return "", nil
	})

	now := time.Now()
	newest := pendingJob(t, db, "noop", now.Add(-time.Minute))
	oldest := pendingJob(t, db, "noop", now.Add(-time.Hour))
	middle := pendingJob(t, db, "noop", now.Add(-30*time.Minute))

	result := jp.ProcessScheduledJobs(context.Background())
	require.Equal(t, 3, result.Processed)
	assert.Equal(t, []uint{oldest.ID, middle.ID, newest.ID}, order)
}

func TestClaim_OnlyOneWinner(t *testing.T) {
	db := testDB(t)
	jp := NewJobProcessor(db, testLogger())

	job := pendingJob(t, db, "noop", time.Now())

	assert.True(t, jp.claim(job))

	// The row is running now, a second claim must lose
	stale := models.ScheduledJob{Model: gorm.Model{ID: job.ID}}
	assert.False(t, jp.claim(&stale))
}

func TestProcessScheduledJobs_RetryBackoff(t *testing.T) {
	db := testDB(t)
	jp := NewJobProcessor(db, testLogger())
	jp.Register("boom", func(ctx context.Context, job *models.ScheduledJob) (string, error) {
		return "", errors.New("smtp unavailable")
	})

	job := pendingJob(t, db, "boom", time.Now().Add(-time.Minute))

	// First failure: retry_count 1, requeued ~10m out
	result := jp.ProcessScheduledJobs(context.Background())
	assert.Equal(t, 1, result.Failed)

	var got models.ScheduledJob
	require.NoError(t, db.First(&got, job.ID).Error)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "smtp unavailable", got.ErrorMessage)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), got.ScheduledFor, 30*time.Second)

	// Second failure: retry_count 2, requeued ~20m out
	require.NoError(t, db.Model(&got).Update("scheduled_for", time.Now().Add(-time.Minute)).Error)
	jp.ProcessScheduledJobs(context.Background())

	require.NoError(t, db.First(&got, job.ID).Error)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	assert.WithinDuration(t, time.Now().Add(20*time.Minute), got.ScheduledFor, 30*time.Second)

	// Third failure is terminal
	require.NoError(t, db.Model(&got).Update("scheduled_for", time.Now().Add(-time.Minute)).Error)
	jp.ProcessScheduledJobs(context.Background())

	require.NoError(t, db.First(&got, job.ID).Error)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.NotNil(t, got.CompletedAt)

	// Parked jobs are never picked up again
	result = jp.ProcessScheduledJobs(context.Background())
	assert.Equal(t, 0, result.Processed)
}

func TestProcessScheduledJobs_UnregisteredTypeFails(t *testing.T) {
	db := testDB(t)
	jp := NewJobProcessor(db, testLogger())

	job := pendingJob(t, db, "unknown", time.Now().Add(-time.Minute))

	result := jp.ProcessScheduledJobs(context.Background())
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "no handler registered")

	var got models.ScheduledJob
	require.NoError(t, db.First(&got, job.ID).Error)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestProcessScheduledJobs_PanicIsAFault(t *testing.T) {
	db := testDB(t)
	jp := NewJobProcessor(db, testLogger())
	jp.Register("panicky", func(ctx context.Context, job *models.ScheduledJob) (string, error) {
		panic("nil deref somewhere")
	})

	job := pendingJob(t, db, "panicky", time.Now().Add(-time.Minute))

	result := jp.ProcessScheduledJobs(context.Background())
	assert.Equal(t, 1, result.Failed)

	var got models.ScheduledJob
	require.NoError(t, db.First(&got, job.ID).Error)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Contains(t, got.ErrorMessage, "handler panic")
}

func TestProcessScheduledJobs_BatchLimit(t *testing.T) {
	db := testDB(t)
	jp := NewJobProcessor(db, testLogger())
	jp.batchSize = 2
	jp.Register("noop", func(ctx context.Context, job *models.ScheduledJob) (string, error) {
		return "", nil
	})

	for i := 0; i < 5; i++ {
		pendingJob(t, db, "noop", time.Now().Add(-time.Minute))
	}

	result := jp.ProcessScheduledJobs(context.Background())
	assert.Equal(t, 2, result.Processed)

	var remaining int64
	require.NoError(t, db.Model(&models.ScheduledJob{}).
		Where("status = ?", models.JobStatusPending).Count(&remaining).Error)
	assert.Equal(t, int64(3), remaining)
}

func TestEnqueue_RejectsInvalidPayload(t *testing.T) {
	db := testDB(t)
	jp := NewJobProcessor(db, testLogger())

	// Missing required LeadID
	_, err := jp.Enqueue(1, models.JobTypeSequenceStep, models.SequenceStepPayload{SequenceID: 1}, time.Now())
	assert.Error(t, err)

	// Wrong payload struct for the type
	_, err = jp.Enqueue(1, models.JobTypeSequenceStep, models.WarmupPayload{AccountID: 1}, time.Now())
	assert.Error(t, err)

	_, err = jp.Enqueue(1, models.JobTypeSequenceStep, models.SequenceStepPayload{SequenceID: 1, LeadID: 2}, time.Now())
	assert.NoError(t, err)
}
