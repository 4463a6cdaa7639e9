package controller

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"leadpilot/config"
	"leadpilot/models"
	"leadpilot/worker"
)

// Mailboxes untouched for this long get an inbox sync scheduled by the
// cron endpoint even if no explicit sync job exists.
const staleSyncAfter = 30 * time.Minute

type CronController struct {
	Logger    *log.Logger
	Processor *worker.JobProcessor
}

func NewCronController(logger *log.Logger, processor *worker.JobProcessor) *CronController {
	return &CronController{
		Logger:    logger,
		Processor: processor,
	}
}

// ProcessJobs drains the due job queue once. It backs the external cron
// trigger and returns aggregate counts so the caller can alert on failures.
func (cc *CronController) ProcessJobs(c *fiber.Ctx) error {
	start := time.Now()

	scheduled, err := cc.scheduleStaleSyncs()
	if err != nil {
		cc.Logger.Printf("Failed to schedule stale inbox syncs: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to schedule inbox syncs",
		})
	}

	result := cc.Processor.ProcessScheduledJobs(c.Context())
	sync := cc.syncTotals(start)

	cc.Logger.Printf("Cron run processed %d jobs (%d ok, %d failed) in %v",
		result.Processed, result.Succeeded, result.Failed, time.Since(start))

	return c.JSON(fiber.Map{
		"processed":        result.Processed,
		"succeeded":        result.Succeeded,
		"failed":           result.Failed,
		"errors":           result.Errors,
		"syncs_scheduled":  scheduled,
		"messages_checked": sync.MessagesChecked,
		"replies_found":    sync.RepliesFound,
		"duration_ms":      time.Since(start).Milliseconds(),
	})
}

// syncTotals sums the results of inbox sync jobs completed since the run
// started, so the response reports how much mail the drain looked at.
func (cc *CronController) syncTotals(since time.Time) worker.SyncResult {
	var totals worker.SyncResult

	var jobs []models.ScheduledJob
	err := config.DB.
		Where("type = ? AND status = ? AND completed_at >= ?",
			models.JobTypeInboxSync, models.JobStatusCompleted, since).
		Find(&jobs).Error
	if err != nil {
		cc.Logger.Printf("Failed to collect inbox sync results: %v", err)
		return totals
	}

	for i := range jobs {
		var one worker.SyncResult
		if err := json.Unmarshal([]byte(jobs[i].Result), &one); err != nil {
			continue
		}
		totals.MessagesChecked += one.MessagesChecked
		totals.RepliesFound += one.RepliesFound
	}
	return totals
}

// scheduleStaleSyncs enqueues an inbox sync job for every user owning a
// mailbox that has not synced recently and has no sync job already queued.
func (cc *CronController) scheduleStaleSyncs() (int, error) {
	cutoff := time.Now().Add(-staleSyncAfter)

	var userIDs []uint
	err := config.DB.Model(&models.Mailbox{}).
		Distinct("user_id").
		Where("imap_host <> ''").
		Where("last_synced_at IS NULL OR last_synced_at < ?", cutoff).
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return 0, err
	}

	scheduled := 0
	for _, userID := range userIDs {
		var pending int64
		err := config.DB.Model(&models.ScheduledJob{}).
			Where("user_id = ? AND type = ? AND status IN ?",
				userID, models.JobTypeInboxSync,
				[]string{models.JobStatusPending, models.JobStatusRunning}).
			Count(&pending).Error
		if err != nil {
			return scheduled, err
		}
		if pending > 0 {
			continue
		}

		payload := models.InboxSyncPayload{UserID: userID}
		if _, err := worker.EnqueueJob(config.DB, userID, models.JobTypeInboxSync, payload, time.Now()); err != nil {
			return scheduled, err
		}
		scheduled++
	}

	return scheduled, nil
}

// Health reports liveness. Kept trivial on purpose so load balancers can
// poll it without touching the database.
func Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
