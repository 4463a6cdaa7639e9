package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"leadpilot/models"
)

const statCacheTTL = 24 * time.Hour

// AnalyticsService rolls job, action and enrollment activity up into
// DailyStat rows. Results are cached in redis when a client is configured;
// without one the database row is the only artifact.
type AnalyticsService struct {
	db     *gorm.DB
	cache  *redis.Client
	logger *log.Logger
}

func NewAnalyticsService(db *gorm.DB, cache *redis.Client, logger *log.Logger) *AnalyticsService {
	return &AnalyticsService{
		db:     db,
		cache:  cache,
		logger: logger,
	}
}

// HandleJob adapts the service to the job processor's handler signature.
func (as *AnalyticsService) HandleJob(ctx context.Context, job *models.ScheduledJob) (string, error) {
	var payload models.AnalyticsPayload
	if err := models.DecodeJobPayload(job, &payload); err != nil {
		return "", err
	}

	stat, err := as.Rollup(ctx, payload)
	if err != nil {
		return "", err
	}

	out, _ := json.Marshal(stat)
	return string(out), nil
}

// Rollup computes the stats for the payload's window and upserts the
// matching DailyStat row.
func (as *AnalyticsService) Rollup(ctx context.Context, payload models.AnalyticsPayload) (*models.DailyStat, error) {
	date, err := time.Parse("2006-01-02", payload.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid analytics date %q: %w", payload.Date, err)
	}

	windowEnd := date.AddDate(0, 0, 1)
	if payload.Period == "weekly" {
		windowEnd = date.AddDate(0, 0, 7)
	}

	stat := models.DailyStat{
		Period:    payload.Period,
		Date:      date,
		ProjectID: payload.ProjectID,
		UserID:    payload.UserID,
	}

	var n int64

	actions := as.db.Model(&models.Action{}).
		Where("created_at >= ? AND created_at < ?", date, windowEnd)
	if payload.UserID != nil {
		actions = actions.Where("user_id = ?", *payload.UserID)
	}
	if payload.ProjectID != nil {
		actions = actions.Where("lead_id IN (?)",
			as.db.Model(&models.Lead{}).Select("id").Where("project_id = ?", *payload.ProjectID))
	}
	if err := actions.Count(&n).Error; err != nil {
		return nil, err
	}
	stat.ActionsCreated = int(n)

	replies := as.db.Model(&models.InboxMessage{}).
		Where("is_reply = ? AND date >= ? AND date < ?", true, date, windowEnd)
	if payload.UserID != nil {
		replies = replies.Where("user_id = ?", *payload.UserID)
	}
	if payload.ProjectID != nil {
		replies = replies.Where("matched_lead_id IN (?)",
			as.db.Model(&models.Lead{}).Select("id").Where("project_id = ?", *payload.ProjectID))
	}
	if err := replies.Count(&n).Error; err != nil {
		return nil, err
	}
	stat.RepliesReceived = int(n)

	completed := as.db.Model(&models.SequenceEnrollment{}).
		Where("status = ? AND completed_at >= ? AND completed_at < ?",
			models.EnrollmentStatusCompleted, date, windowEnd)
	if payload.ProjectID != nil {
		completed = completed.Where("sequence_id IN (?)",
			as.db.Model(&models.Sequence{}).Select("id").Where("project_id = ?", *payload.ProjectID))
	}
	if err := completed.Count(&n).Error; err != nil {
		return nil, err
	}
	stat.EnrollmentsCompleted = int(n)

	if err := as.db.Model(&models.ScheduledJob{}).
		Where("status = ? AND completed_at >= ? AND completed_at < ?",
			models.JobStatusFailed, date, windowEnd).
		Count(&n).Error; err != nil {
		return nil, err
	}
	stat.JobsFailed = int(n)

	if err := as.upsert(&stat); err != nil {
		return nil, err
	}

	as.cacheStat(ctx, &stat)
	return &stat, nil
}

func (as *AnalyticsService) upsert(stat *models.DailyStat) error {
	var existing models.DailyStat
	q := as.db.Where("period = ? AND date = ?", stat.Period, stat.Date)
	if stat.ProjectID != nil {
		q = q.Where("project_id = ?", *stat.ProjectID)
	} else {
		q = q.Where("project_id IS NULL")
	}
	if stat.UserID != nil {
		q = q.Where("user_id = ?", *stat.UserID)
	} else {
		q = q.Where("user_id IS NULL")
	}

	err := q.First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return as.db.Create(stat).Error
	}
	if err != nil {
		return err
	}

	stat.ID = existing.ID
	return as.db.Model(&existing).Updates(map[string]interface{}{
		"actions_created":       stat.ActionsCreated,
		"replies_received":      stat.RepliesReceived,
		"enrollments_completed": stat.EnrollmentsCompleted,
		"jobs_failed":           stat.JobsFailed,
	}).Error
}

func (as *AnalyticsService) cacheStat(ctx context.Context, stat *models.DailyStat) {
	if as.cache == nil {
		return
	}

	key := fmt.Sprintf("stats:%s:%s", stat.Period, stat.Date.Format("2006-01-02"))
	if stat.ProjectID != nil {
		key += fmt.Sprintf(":p%d", *stat.ProjectID)
	}
	if stat.UserID != nil {
		key += fmt.Sprintf(":u%d", *stat.UserID)
	}

	data, _ := json.Marshal(stat)
	if err := as.cache.Set(ctx, key, data, statCacheTTL).Err(); err != nil {
		as.logger.Printf("Failed to cache stat %s: %v", key, err)
	}
}
