package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
	"gorm.io/gorm"

	"leadpilot/models"
	"leadpilot/utils"
)

const (
	// How many due jobs one invocation picks up
	JobBatchSize = 50

	// A job is retried until retry_count reaches this ceiling, then parked
	// as failed for manual inspection.
	MaxJobRetries = 3

	// Backoff base: retry n is rescheduled base*2^n after the failure
	RetryBackoffBase = 5 * time.Minute

	// Cadence of the in-process trigger loop
	ProcessInterval = 5 * time.Minute
)

// JobHandler executes one job and returns an opaque result string. Any
// returned error counts as a handler fault and goes through retry/backoff.
type JobHandler func(ctx context.Context, job *models.ScheduledJob) (string, error)

// ProcessResult aggregates one processor invocation.
type ProcessResult struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// JobProcessor polls due jobs, dispatches them by type and tracks their
// lifecycle. Jobs within a batch run sequentially; overlapping invocations
// are safe because each job is claimed with a conditional update.
type JobProcessor struct {
	db       *gorm.DB
	logger   *log.Logger
	handlers map[string]JobHandler

	batchSize int
}

func NewJobProcessor(db *gorm.DB, logger *log.Logger) *JobProcessor {
	return &JobProcessor{
		db:        db,
		logger:    logger,
		handlers:  make(map[string]JobHandler),
		batchSize: JobBatchSize,
	}
}

// Register binds a handler to a job type. Jobs of unregistered types fail
// like any other handler fault.
func (jp *JobProcessor) Register(jobType string, handler JobHandler) {
	jp.handlers[jobType] = handler
}

// Start runs the processor on a fixed cadence until ctx is cancelled. The
// cron endpoint can trigger extra runs in between; claiming keeps that safe.
func (jp *JobProcessor) Start(ctx context.Context) {
	jp.logger.Println("Job processor started")

	ticker := time.NewTicker(ProcessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			jp.logger.Println("Job processor shutting down...")
			return
		case <-ticker.C:
			result := jp.ProcessScheduledJobs(ctx)
			if result.Processed > 0 {
				jp.logger.Printf("Processed %d jobs (%d succeeded, %d failed)",
					result.Processed, result.Succeeded, result.Failed)
			}
		}
	}
}

// ProcessScheduledJobs selects up to batchSize due pending jobs, oldest due
// first, and runs each one sequentially.
func (jp *JobProcessor) ProcessScheduledJobs(ctx context.Context) ProcessResult {
	var result ProcessResult

	var jobs []models.ScheduledJob
	err := jp.db.
		Where("status = ? AND scheduled_for <= ?", models.JobStatusPending, time.Now()).
		Order("scheduled_for asc").
		Limit(jp.batchSize).
		Find(&jobs).Error
	if err != nil {
		jp.logger.Printf("Failed to fetch due jobs: %v", err)
		result.Errors = append(result.Errors, fmt.Sprintf("fetch due jobs: %v", err))
		return result
	}

	for i := range jobs {
		job := &jobs[i]

		if !jp.claim(job) {
			// Another invocation got there first
			continue
		}
		result.Processed++

		output, err := jp.dispatch(ctx, job)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("job %d (%s): %v", job.ID, job.Type, err))
			jp.handleFault(job, err)
			continue
		}

		result.Succeeded++
		if err := jp.db.Model(job).Updates(map[string]interface{}{
			"status":       models.JobStatusCompleted,
			"completed_at": time.Now(),
			"result":       output,
		}).Error; err != nil {
			jp.logger.Printf("Failed to mark job %d completed: %v", job.ID, err)
		}
	}

	return result
}

// claim transitions pending→running with a compare-and-swap on status so two
// overlapping invocations can never both run the same job.
func (jp *JobProcessor) claim(job *models.ScheduledJob) bool {
	now := time.Now()
	res := jp.db.Model(&models.ScheduledJob{}).
		Where("id = ? AND status = ?", job.ID, models.JobStatusPending).
		Updates(map[string]interface{}{
			"status":     models.JobStatusRunning,
			"started_at": now,
		})
	if res.Error != nil {
		jp.logger.Printf("Failed to claim job %d: %v", job.ID, res.Error)
		return false
	}
	if res.RowsAffected == 0 {
		return false
	}
	job.Status = models.JobStatusRunning
	job.StartedAt = &now
	return true
}

func (jp *JobProcessor) dispatch(ctx context.Context, job *models.ScheduledJob) (output string, err error) {
	handler, ok := jp.handlers[job.Type]
	if !ok {
		return "", fmt.Errorf("no handler registered for job type %q", job.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return handler(ctx, job)
}

// handleFault requeues the job with exponential backoff, or parks it as
// permanently failed once the retry ceiling is hit.
func (jp *JobProcessor) handleFault(job *models.ScheduledJob, handlerErr error) {
	retryCount := job.RetryCount + 1

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("job_type", job.Type)
		scope.SetTag("job_id", fmt.Sprintf("%d", job.ID))
		scope.SetExtra("retry_count", retryCount)
		sentry.CaptureException(handlerErr)
	})

	if retryCount < MaxJobRetries {
		backoff := RetryBackoffBase * time.Duration(1<<retryCount) // 10m, 20m
		if err := jp.db.Model(job).Updates(map[string]interface{}{
			"status":        models.JobStatusPending,
			"retry_count":   retryCount,
			"scheduled_for": time.Now().Add(backoff),
			"error_message": handlerErr.Error(),
		}).Error; err != nil {
			jp.logger.Printf("Failed to requeue job %d: %v", job.ID, err)
		}
		jp.logger.Printf("Job %d (%s) failed (attempt %d), retrying in %s: %v",
			job.ID, job.Type, retryCount, utils.FormatDuration(backoff), handlerErr)
		return
	}

	if err := jp.db.Model(job).Updates(map[string]interface{}{
		"status":        models.JobStatusFailed,
		"retry_count":   retryCount,
		"completed_at":  time.Now(),
		"error_message": handlerErr.Error(),
	}).Error; err != nil {
		jp.logger.Printf("Failed to mark job %d failed: %v", job.ID, err)
	}
	jp.logger.Printf("Job %d (%s) permanently failed after %d attempts: %v",
		job.ID, job.Type, retryCount, handlerErr)
}

// Enqueue validates the typed payload and inserts a new pending job.
func (jp *JobProcessor) Enqueue(userID uint, jobType string, payload interface{}, runAt time.Time) (*models.ScheduledJob, error) {
	return EnqueueJob(jp.db, userID, jobType, payload, runAt)
}

// EnqueueJob is the transactional form: callers advancing domain state and
// scheduling the follow-up job in one transaction pass their tx here.
func EnqueueJob(tx *gorm.DB, userID uint, jobType string, payload interface{}, runAt time.Time) (*models.ScheduledJob, error) {
	data, err := models.EncodeJobPayload(jobType, payload)
	if err != nil {
		return nil, err
	}

	job := models.ScheduledJob{
		UserID:       userID,
		Type:         jobType,
		Payload:      data,
		Status:       models.JobStatusPending,
		ScheduledFor: runAt,
	}
	if err := tx.Create(&job).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue %s job: %w", jobType, err)
	}
	return &job, nil
}
