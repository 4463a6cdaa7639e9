package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadpilot/models"
)

func TestCurrentStage(t *testing.T) {
	stages := defaultWarmupStages

	stage := currentStage(0, stages)
	require.NotNil(t, stage)
	assert.Equal(t, 5, stage.EmailsPerDay)

	stage = currentStage(3, stages)
	require.NotNil(t, stage)
	assert.Equal(t, 40, stage.EmailsPerDay)

	assert.Nil(t, currentStage(4, stages), "past the last stage means the ramp is done")
}

func TestProcessMailboxWarmup_NotWarmingUpIsNoOp(t *testing.T) {
	db := testDB(t)
	ws := NewWarmupService(db, "pool@example.com", testLogger())

	mailbox := models.Mailbox{UserID: 1, Name: "Main", FromEmail: "me@example.com"}
	require.NoError(t, db.Create(&mailbox).Error)

	sent, err := ws.ProcessMailboxWarmup(mailbox.ID)
	require.NoError(t, err)
	assert.Zero(t, sent)

	var jobs int64
	require.NoError(t, db.Model(&models.ScheduledJob{}).Count(&jobs).Error)
	assert.Zero(t, jobs, "stopped warmups schedule nothing")
}

func TestProcessMailboxWarmup_DailyQuotaReachedStillReschedules(t *testing.T) {
	db := testDB(t)
	ws := NewWarmupService(db, "pool@example.com", testLogger())

	startedAt := time.Now()
	mailbox := models.Mailbox{
		UserID: 1, Name: "Main", FromEmail: "me@example.com",
		IsWarmingUp:       true,
		WarmupStage:       0,
		WarmupSentToday:   5, // stage 0 quota already reached
		WarmupStartedAt:   &startedAt,
		WarmupLastResetAt: &startedAt,
	}
	require.NoError(t, db.Create(&mailbox).Error)

	sent, err := ws.ProcessMailboxWarmup(mailbox.ID)
	require.NoError(t, err)
	assert.Zero(t, sent)

	var jobs []models.ScheduledJob
	require.NoError(t, db.Where("type = ?", models.JobTypeWarmup).Find(&jobs).Error)
	require.Len(t, jobs, 1)
	assert.WithinDuration(t, time.Now().Add(warmupInterval), jobs[0].ScheduledFor, 30*time.Second)
}

func TestProcessMailboxWarmup_StageAdvances(t *testing.T) {
	db := testDB(t)
	ws := NewWarmupService(db, "pool@example.com", testLogger())

	// Stage 0 lasts 3 days and started 4 days ago
	startedAt := time.Now().AddDate(0, 0, -4)
	mailbox := models.Mailbox{
		UserID: 1, Name: "Main", FromEmail: "me@example.com",
		SMTPPassword:    "not-a-ciphertext",
		IsWarmingUp:     true,
		WarmupStage:     0,
		WarmupSentToday: 5,
		WarmupStartedAt: &startedAt,
	}
	require.NoError(t, db.Create(&mailbox).Error)

	_, err := ws.ProcessMailboxWarmup(mailbox.ID)
	require.NoError(t, err)

	var got models.Mailbox
	require.NoError(t, db.First(&got, mailbox.ID).Error)
	assert.Equal(t, 1, got.WarmupStage)
	assert.Equal(t, 0, got.WarmupSentToday)
	assert.True(t, got.IsWarmingUp)
}

func TestProcessMailboxWarmup_CompletesPastLastStage(t *testing.T) {
	db := testDB(t)
	ws := NewWarmupService(db, "pool@example.com", testLogger())

	startedAt := time.Now()
	mailbox := models.Mailbox{
		UserID: 1, Name: "Main", FromEmail: "me@example.com",
		IsWarmingUp:     true,
		WarmupStage:     99,
		WarmupStartedAt: &startedAt,
	}
	require.NoError(t, db.Create(&mailbox).Error)

	sent, err := ws.ProcessMailboxWarmup(mailbox.ID)
	require.NoError(t, err)
	assert.Zero(t, sent)

	var got models.Mailbox
	require.NoError(t, db.First(&got, mailbox.ID).Error)
	assert.False(t, got.IsWarmingUp)
	assert.NotNil(t, got.WarmupCompletedAt)

	var jobs int64
	require.NoError(t, db.Model(&models.ScheduledJob{}).Count(&jobs).Error)
	assert.Zero(t, jobs, "completed warmups schedule nothing")
}

func TestProcessMailboxWarmup_CustomStagesOverrideDefaults(t *testing.T) {
	db := testDB(t)
	ws := NewWarmupService(db, "pool@example.com", testLogger())

	startedAt := time.Now()
	mailbox := models.Mailbox{
		UserID: 1, Name: "Main", FromEmail: "me@example.com",
		IsWarmingUp:       true,
		WarmupStage:       0,
		WarmupSentToday:   2,
		WarmupStartedAt:   &startedAt,
		WarmupLastResetAt: &startedAt,
	}
	require.NoError(t, db.Create(&mailbox).Error)

	// Custom stage 0 allows only 2/day, so the quota is already met
	require.NoError(t, db.Create(&models.WarmupStageConfig{
		MailboxID: mailbox.ID, StageNumber: 0, EmailsPerDay: 2, DurationDays: 5,
	}).Error)

	sent, err := ws.ProcessMailboxWarmup(mailbox.ID)
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestProcessMailboxWarmup_DailyCountPersistsWithinDay(t *testing.T) {
	db := testDB(t)
	ws := NewWarmupService(db, "pool@example.com", testLogger())

	// Stage 1 allows 10/day; the quota was filled by earlier runs today
	startedAt := time.Now().AddDate(0, 0, -1)
	lastReset := time.Now()
	mailbox := models.Mailbox{
		UserID: 1, Name: "Main", FromEmail: "me@example.com",
		SMTPPassword:      "not-a-ciphertext",
		IsWarmingUp:       true,
		WarmupStage:       1,
		WarmupSentToday:   10,
		WarmupStartedAt:   &startedAt,
		WarmupLastResetAt: &lastReset,
	}
	require.NoError(t, db.Create(&mailbox).Error)

	sent, err := ws.ProcessMailboxWarmup(mailbox.ID)
	require.NoError(t, err)
	assert.Zero(t, sent)

	var got models.Mailbox
	require.NoError(t, db.First(&got, mailbox.ID).Error)
	assert.Equal(t, 10, got.WarmupSentToday, "runs later the same day must not reset the daily counter")
}

func TestProcessMailboxWarmup_DayRolloverResetsCounter(t *testing.T) {
	db := testDB(t)
	ws := NewWarmupService(db, "pool@example.com", testLogger())

	startedAt := time.Now()
	lastReset := time.Now().AddDate(0, 0, -1)
	mailbox := models.Mailbox{
		UserID: 1, Name: "Main", FromEmail: "me@example.com",
		SMTPPassword:      "not-a-ciphertext",
		IsWarmingUp:       true,
		WarmupStage:       1,
		WarmupSentToday:   10,
		WarmupStartedAt:   &startedAt,
		WarmupLastResetAt: &lastReset,
	}
	require.NoError(t, db.Create(&mailbox).Error)

	_, err := ws.ProcessMailboxWarmup(mailbox.ID)
	require.NoError(t, err)

	var got models.Mailbox
	require.NoError(t, db.First(&got, mailbox.ID).Error)
	assert.Zero(t, got.WarmupSentToday)
	require.NotNil(t, got.WarmupLastResetAt)
	assert.WithinDuration(t, time.Now(), *got.WarmupLastResetAt, 30*time.Second)
}

func TestIsNewDay(t *testing.T) {
	now := time.Now()
	yesterday := now.AddDate(0, 0, -1)
	monthAgo := now.AddDate(0, -1, 0)

	assert.True(t, isNewDay(nil))
	assert.False(t, isNewDay(&now))
	assert.True(t, isNewDay(&yesterday))
	assert.True(t, isNewDay(&monthAgo), "same day number in another month is still a rollover")
}
