package worker

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"time"

	"gopkg.in/gomail.v2"
	"gorm.io/gorm"

	"leadpilot/models"
	"leadpilot/utils"
)

// How many warmup mails one job sends at most, to stay under provider
// rate limits.
const warmupBatchLimit = 5

// Interval between self-scheduled warmup jobs for an active mailbox.
const warmupInterval = time.Hour

// Default ramp applied when a mailbox has no custom stage schedule.
var defaultWarmupStages = []models.WarmupStageConfig{
	{StageNumber: 0, EmailsPerDay: 5, DurationDays: 3},
	{StageNumber: 1, EmailsPerDay: 10, DurationDays: 4},
	{StageNumber: 2, EmailsPerDay: 20, DurationDays: 7},
	{StageNumber: 3, EmailsPerDay: 40, DurationDays: 14},
}

// WarmupService gradually builds a mailbox's sending reputation by sending
// small batches of mail to a controlled recipient pool.
type WarmupService struct {
	db          *gorm.DB
	logger      *log.Logger
	warmupEmail string
}

func NewWarmupService(db *gorm.DB, warmupEmail string, logger *log.Logger) *WarmupService {
	return &WarmupService{
		db:          db,
		logger:      logger,
		warmupEmail: warmupEmail,
	}
}

// HandleJob adapts the service to the job processor's handler signature.
func (ws *WarmupService) HandleJob(ctx context.Context, job *models.ScheduledJob) (string, error) {
	var payload models.WarmupPayload
	if err := models.DecodeJobPayload(job, &payload); err != nil {
		return "", err
	}

	sent, err := ws.ProcessMailboxWarmup(payload.AccountID)
	if err != nil {
		return "", err
	}

	out, _ := json.Marshal(map[string]int{"sent": sent})
	return string(out), nil
}

// ProcessMailboxWarmup sends one warmup batch for the mailbox, advances its
// stage when due and re-enqueues the next warmup job. A stopped warmup is a
// no-op, not an error.
func (ws *WarmupService) ProcessMailboxWarmup(mailboxID uint) (int, error) {
	var mailbox models.Mailbox
	if err := ws.db.First(&mailbox, mailboxID).Error; err != nil {
		return 0, fmt.Errorf("failed to fetch mailbox %d: %w", mailboxID, err)
	}

	if !mailbox.IsWarmingUp {
		ws.logger.Printf("Mailbox %d is not warming up, skipping", mailbox.ID)
		return 0, nil
	}

	// Reset daily counters on day rollover
	if isNewDay(mailbox.WarmupLastResetAt) {
		if err := ws.db.Model(&mailbox).Updates(map[string]interface{}{
			"warmup_sent_today":    0,
			"warmup_last_reset_at": time.Now(),
		}).Error; err != nil {
			return 0, err
		}
		mailbox.WarmupSentToday = 0
	}

	stages, err := ws.loadStages(mailbox.ID)
	if err != nil {
		return 0, err
	}

	stage := currentStage(mailbox.WarmupStage, stages)
	if stage == nil {
		return 0, ws.completeWarmup(&mailbox)
	}

	emailsToSend := stage.EmailsPerDay - mailbox.WarmupSentToday
	if emailsToSend > warmupBatchLimit {
		emailsToSend = warmupBatchLimit
	}

	sent := 0
	for i := 0; i < emailsToSend; i++ {
		if err := ws.sendWarmupEmail(&mailbox); err != nil {
			ws.logger.Printf("Error sending warmup email for mailbox %d: %v", mailbox.ID, err)
			ws.db.Model(&mailbox).Update("last_error", err.Error())
			continue
		}
		sent++

		if err := ws.db.Model(&mailbox).Updates(map[string]interface{}{
			"warmup_sent_today": gorm.Expr("warmup_sent_today + ?", 1),
			"sent_today":        gorm.Expr("sent_today + ?", 1),
			"total_sent":        gorm.Expr("total_sent + ?", 1),
		}).Error; err != nil {
			return sent, err
		}
	}

	if err := ws.checkStageAdvancement(&mailbox, stages, stage); err != nil {
		return sent, err
	}

	// Self-schedule the next batch while warmup stays active
	var fresh models.Mailbox
	if err := ws.db.First(&fresh, mailbox.ID).Error; err == nil && fresh.IsWarmingUp {
		_, err := EnqueueJob(ws.db, mailbox.UserID, models.JobTypeWarmup,
			models.WarmupPayload{AccountID: mailbox.ID}, time.Now().Add(warmupInterval))
		if err != nil {
			ws.logger.Printf("Failed to schedule next warmup for mailbox %d: %v", mailbox.ID, err)
		}
	}

	return sent, nil
}

func (ws *WarmupService) loadStages(mailboxID uint) ([]models.WarmupStageConfig, error) {
	var stages []models.WarmupStageConfig
	err := ws.db.Where("mailbox_id = ?", mailboxID).
		Order("stage_number asc").
		Find(&stages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load warmup stages: %w", err)
	}
	if len(stages) == 0 {
		stages = defaultWarmupStages
	}
	return stages, nil
}

func (ws *WarmupService) checkStageAdvancement(mailbox *models.Mailbox, stages []models.WarmupStageConfig, stage *models.WarmupStageConfig) error {
	if mailbox.WarmupStartedAt == nil {
		return nil
	}

	daysInStage := int(time.Since(*mailbox.WarmupStartedAt).Hours() / 24)
	if daysInStage < stage.DurationDays {
		return nil
	}

	next := currentStage(stage.StageNumber+1, stages)
	if next == nil {
		return ws.completeWarmup(mailbox)
	}

	if err := ws.db.Model(mailbox).Updates(map[string]interface{}{
		"warmup_stage":      next.StageNumber,
		"warmup_sent_today": 0,
		"warmup_started_at": time.Now(), // Reset timer for new stage
	}).Error; err != nil {
		return fmt.Errorf("failed to advance to next stage: %w", err)
	}
	ws.logger.Printf("Mailbox %d advanced to warmup stage %d", mailbox.ID, next.StageNumber)
	return nil
}

func (ws *WarmupService) completeWarmup(mailbox *models.Mailbox) error {
	if err := ws.db.Model(mailbox).Updates(map[string]interface{}{
		"is_warming_up":       false,
		"warmup_completed_at": time.Now(),
	}).Error; err != nil {
		return fmt.Errorf("failed to complete warmup: %w", err)
	}
	ws.logger.Printf("Mailbox %d completed warmup", mailbox.ID)
	return nil
}

func (ws *WarmupService) sendWarmupEmail(mailbox *models.Mailbox) error {
	password, err := utils.Decrypt(mailbox.SMTPPassword)
	if err != nil {
		return fmt.Errorf("failed to decrypt SMTP password: %w", err)
	}

	dialer := gomail.NewDialer(mailbox.SMTPHost, mailbox.SMTPPort, mailbox.SMTPUsername, password)
	dialer.TLSConfig = &tls.Config{ServerName: mailbox.SMTPHost}

	subject, body := warmupContent(mailbox.FromName)

	m := gomail.NewMessage()
	m.SetHeader("From", fmt.Sprintf("%s <%s>", mailbox.FromName, mailbox.FromEmail))
	m.SetHeader("To", ws.warmupEmail)
	m.SetHeader("Subject", subject)
	m.SetHeader("Auto-Submitted", "auto-generated")
	m.SetHeader("X-Warmup", "true")
	m.SetBody("text/plain", body)

	if err := dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	return nil
}

func warmupContent(fromName string) (string, string) {
	subjects := []string{
		"Quick question about your recent post",
		"Following up on our last conversation",
		"Checking in to see how you're doing",
		"Thought you might find this interesting",
		"An idea I wanted to share with you",
	}

	bodies := []string{
		"Hi there,\n\nI wanted to follow up on our previous conversation. Let me know if you have any questions!\n\nBest regards,\n%s",
		"Hello,\n\nI came across this and thought you might find it valuable. What do you think?\n\nRegards,\n%s",
		"Hi,\n\nJust checking in to see if you had any thoughts on this topic?\n\nThanks,\n%s",
		"Hello,\n\nHope this message finds you well. I wanted to touch base.\n\nWarm regards,\n%s",
	}

	subject := subjects[rand.Intn(len(subjects))]
	body := fmt.Sprintf(bodies[rand.Intn(len(bodies))], fromName)
	return subject, body
}

func currentStage(stageNumber int, stages []models.WarmupStageConfig) *models.WarmupStageConfig {
	for i := range stages {
		if stages[i].StageNumber == stageNumber {
			return &stages[i]
		}
	}
	return nil
}

// isNewDay reports whether the calendar date rolled over since the last
// counter reset. Comparing day numbers alone would also match the same day
// of a different month.
func isNewDay(lastReset *time.Time) bool {
	if lastReset == nil {
		return true
	}
	y1, m1, d1 := lastReset.Date()
	y2, m2, d2 := time.Now().Date()
	return y1 != y2 || m1 != m2 || d1 != d2
}
