package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/badoux/checkmail"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"leadpilot/models"
	"leadpilot/utils"
)

// Step outcome statuses. Soft skips are results, not errors: the enrollment
// still advances past a skipped step.
const (
	StepStatusCompleted = "completed"
	StepStatusSkipped   = "skipped"
)

// StepResult is the typed outcome of one step execution.
type StepResult struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	ActionID uint   `json:"action_id,omitempty"`
}

type stepCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"` // equals, not_equals, contains
	Value    string `json:"value"`
}

// SequenceExecutor advances one enrollment by exactly one step per
// invocation. Unless the sequence terminates, each invocation schedules
// exactly one follow-up job; that self-scheduling is what drives a sequence
// forward without any in-memory timer per enrollment.
type SequenceExecutor struct {
	db     *gorm.DB
	logger *log.Logger
}

func NewSequenceExecutor(db *gorm.DB, logger *log.Logger) *SequenceExecutor {
	return &SequenceExecutor{
		db:     db,
		logger: logger,
	}
}

// HandleJob adapts the executor to the job processor's handler signature.
func (se *SequenceExecutor) HandleJob(ctx context.Context, job *models.ScheduledJob) (string, error) {
	var payload models.SequenceStepPayload
	if err := models.DecodeJobPayload(job, &payload); err != nil {
		return "", err
	}

	result, err := se.ExecuteSequenceStep(payload.SequenceID, payload.LeadID)
	if err != nil {
		return "", err
	}

	out, _ := json.Marshal(result)
	return string(out), nil
}

// ExecuteSequenceStep runs the enrollment's current step and advances the
// enrollment. Database errors are returned for the processor's retry
// machinery; everything expected is a soft skip.
func (se *SequenceExecutor) ExecuteSequenceStep(sequenceID, leadID uint) (StepResult, error) {
	var enrollment models.SequenceEnrollment
	err := se.db.Where("sequence_id = ? AND lead_id = ?", sequenceID, leadID).First(&enrollment).Error
	if err == gorm.ErrRecordNotFound {
		return StepResult{Status: StepStatusSkipped, Message: "Enrollment not found"}, nil
	}
	if err != nil {
		return StepResult{}, fmt.Errorf("failed to load enrollment: %w", err)
	}

	if enrollment.Status != models.EnrollmentStatusActive {
		return StepResult{Status: StepStatusSkipped, Message: "Enrollment is " + enrollment.Status}, nil
	}

	var sequence models.Sequence
	err = se.db.
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("sequence_steps.step_order ASC") }).
		Preload("Project.Plans").
		First(&sequence, sequenceID).Error
	if err != nil {
		return StepResult{}, fmt.Errorf("failed to load sequence %d: %w", sequenceID, err)
	}

	var lead models.Lead
	if err := se.db.First(&lead, leadID).Error; err != nil {
		return StepResult{}, fmt.Errorf("failed to load lead %d: %w", leadID, err)
	}

	currentIndex := enrollment.CurrentStep - 1
	if currentIndex < 0 || currentIndex >= len(sequence.Steps) {
		if err := se.completeEnrollment(se.db, &enrollment); err != nil {
			return StepResult{}, err
		}
		return StepResult{Status: StepStatusCompleted, Message: "Sequence completed"}, nil
	}

	step := sequence.Steps[currentIndex]

	var result StepResult
	switch step.Type {
	case "email":
		result, err = se.executeEmailStep(&sequence, &step, &lead)
	case "wait":
		result, err = se.executeWaitStep(&enrollment, &step)
	case "condition":
		result, err = se.executeConditionStep(&enrollment, &step, &lead)
	case "task":
		result, err = se.executeTaskStep(&sequence, &step, &lead)
	default:
		result = StepResult{Status: StepStatusSkipped, Message: fmt.Sprintf("Unknown step type %q", step.Type)}
	}
	if err != nil {
		return StepResult{}, err
	}

	// Audit row is written once per invocation regardless of outcome
	execution := models.StepExecution{
		EnrollmentID: enrollment.ID,
		StepID:       step.ID,
		Status:       result.Status,
		ExecutedAt:   time.Now(),
		Result:       result.Message,
	}
	if err := se.db.Create(&execution).Error; err != nil {
		se.logger.Printf("Failed to record step execution for enrollment %d: %v", enrollment.ID, err)
	}

	// A condition step may have exited the enrollment; exited enrollments
	// are terminal and get no follow-up job.
	if err := se.db.First(&enrollment, enrollment.ID).Error; err != nil {
		return StepResult{}, fmt.Errorf("failed to reload enrollment %d: %w", enrollment.ID, err)
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return result, nil
	}

	if err := se.advanceEnrollment(&enrollment, &sequence, currentIndex); err != nil {
		return StepResult{}, err
	}

	return result, nil
}

// advanceEnrollment moves the enrollment to the next step and enqueues the
// follow-up job in a single transaction, so a crash can never leave the
// enrollment advanced without a job or vice versa.
func (se *SequenceExecutor) advanceEnrollment(enrollment *models.SequenceEnrollment, sequence *models.Sequence, currentIndex int) error {
	nextIndex := currentIndex + 1

	if nextIndex >= len(sequence.Steps) {
		return se.completeEnrollment(se.db, enrollment)
	}

	// A wait step's delay is applied on the way in: the follow-up job lands
	// after the delay, and the wait step itself runs as a formality then.
	nextStepAt := time.Now()
	if next := sequence.Steps[nextIndex]; next.Type == "wait" {
		nextStepAt = nextStepAt.Add(waitDelay(&next))
	}

	return se.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(enrollment).Updates(map[string]interface{}{
			"current_step": nextIndex + 1,
			"next_step_at": nextStepAt,
		}).Error; err != nil {
			return fmt.Errorf("failed to advance enrollment %d: %w", enrollment.ID, err)
		}

		_, err := EnqueueJob(tx, sequence.UserID, models.JobTypeSequenceStep, models.SequenceStepPayload{
			SequenceID: sequence.ID,
			LeadID:     enrollment.LeadID,
		}, nextStepAt)
		return err
	})
}

func (se *SequenceExecutor) completeEnrollment(tx *gorm.DB, enrollment *models.SequenceEnrollment) error {
	if err := tx.Model(enrollment).Updates(map[string]interface{}{
		"status":       models.EnrollmentStatusCompleted,
		"completed_at": time.Now(),
		"current_step": enrollment.CurrentStep + 1,
	}).Error; err != nil {
		return fmt.Errorf("failed to complete enrollment %d: %w", enrollment.ID, err)
	}
	se.logger.Printf("Enrollment %d completed (sequence %d, lead %d)", enrollment.ID, enrollment.SequenceID, enrollment.LeadID)
	return nil
}

func (se *SequenceExecutor) executeEmailStep(sequence *models.Sequence, step *models.SequenceStep, lead *models.Lead) (StepResult, error) {
	if lead.Email == "" {
		return StepResult{Status: StepStatusSkipped, Message: "Lead has no email address"}, nil
	}
	if err := checkmail.ValidateFormat(lead.Email); err != nil {
		return StepResult{Status: StepStatusSkipped, Message: "Lead email is not a valid address"}, nil
	}

	subject := step.Subject
	body := step.Body
	if step.TemplateID != nil {
		var tmpl models.Template
		if err := se.db.First(&tmpl, *step.TemplateID).Error; err != nil {
			if err != gorm.ErrRecordNotFound {
				return StepResult{}, fmt.Errorf("failed to load template %d: %w", *step.TemplateID, err)
			}
		} else {
			// Template fields override step fields
			if tmpl.Subject != "" {
				subject = tmpl.Subject
			}
			if tmpl.Body != "" {
				body = tmpl.Body
			}
		}
	}

	if subject == "" && body == "" {
		return StepResult{Status: StepStatusSkipped, Message: "No subject or body resolved"}, nil
	}

	vars := map[string]string{
		"name":    lead.Name,
		"email":   lead.Email,
		"company": lead.Company,
		"role":    lead.Role,
		"notes":   lead.Notes,
	}
	subject = utils.SubstituteVariables(subject, vars)
	body = utils.SubstituteVariables(body, vars)

	if len(sequence.Project.Plans) == 0 {
		return StepResult{Status: StepStatusSkipped, Message: "No plan available"}, nil
	}
	plan := pickPlan(sequence.Project.Plans)

	action := models.Action{
		UserID:    sequence.UserID,
		LeadID:    lead.ID,
		PlanID:    plan.ID,
		Subject:   subject,
		Body:      body,
		Status:    models.ActionStatusReady,
		MessageID: fmt.Sprintf("<%s@leadpilot>", uuid.New().String()),
	}
	if err := se.db.Create(&action).Error; err != nil {
		return StepResult{}, fmt.Errorf("failed to create action: %w", err)
	}

	updates := map[string]interface{}{"last_contact": time.Now()}
	if lead.Status == models.LeadStatusNew {
		updates["status"] = models.LeadStatusContacted
	}
	if err := se.db.Model(lead).Updates(updates).Error; err != nil {
		se.logger.Printf("Failed to update lead %d after drafting: %v", lead.ID, err)
	}

	return StepResult{Status: StepStatusCompleted, Message: "Email draft created", ActionID: action.ID}, nil
}

// executeWaitStep never blocks. Its delay was already applied when the
// enrollment advanced onto this step, so by the time we run the wait has
// elapsed; the persisted next_step_at is superseded by the advancement that
// follows.
func (se *SequenceExecutor) executeWaitStep(enrollment *models.SequenceEnrollment, step *models.SequenceStep) (StepResult, error) {
	nextStepAt := time.Now().Add(waitDelay(step))
	if err := se.db.Model(enrollment).Update("next_step_at", nextStepAt).Error; err != nil {
		return StepResult{}, fmt.Errorf("failed to persist wait on enrollment %d: %w", enrollment.ID, err)
	}
	return StepResult{Status: StepStatusCompleted, Message: "Waiting " + utils.FormatDuration(waitDelay(step))}, nil
}

func (se *SequenceExecutor) executeConditionStep(enrollment *models.SequenceEnrollment, step *models.SequenceStep, lead *models.Lead) (StepResult, error) {
	var cond stepCondition
	if step.Condition == "" || json.Unmarshal([]byte(step.Condition), &cond) != nil || cond.Field == "" {
		return StepResult{Status: StepStatusSkipped, Message: "Invalid condition format"}, nil
	}

	if evaluateCondition(&cond, lead) {
		return StepResult{Status: StepStatusCompleted, Message: "Condition met"}, nil
	}

	if err := se.db.Model(enrollment).Update("status", models.EnrollmentStatusExited).Error; err != nil {
		return StepResult{}, fmt.Errorf("failed to exit enrollment %d: %w", enrollment.ID, err)
	}
	se.logger.Printf("Enrollment %d exited: condition on %q not met", enrollment.ID, cond.Field)
	return StepResult{Status: StepStatusSkipped, Message: "Condition not met, exiting sequence"}, nil
}

func (se *SequenceExecutor) executeTaskStep(sequence *models.Sequence, step *models.SequenceStep, lead *models.Lead) (StepResult, error) {
	se.logger.Printf("Task step for lead %d (sequence %d): %s", lead.ID, sequence.ID, step.Body)

	notification := models.Notification{
		UserID: sequence.UserID,
		Kind:   "task_due",
		Title:  "Sequence task",
		Body:   step.Body,
		LeadID: utils.Pointer(lead.ID),
	}
	if err := se.db.Create(&notification).Error; err != nil {
		se.logger.Printf("Failed to create task notification: %v", err)
	}

	return StepResult{Status: StepStatusCompleted, Message: "Task recorded"}, nil
}

// evaluateCondition supports the single field the product defines today
// (lead status). Unknown fields and operators pass rather than blocking the
// sequence.
func evaluateCondition(cond *stepCondition, lead *models.Lead) bool {
	if cond.Field != "status" {
		return true
	}

	switch cond.Operator {
	case "equals":
		return lead.Status == cond.Value
	case "not_equals":
		return lead.Status != cond.Value
	case "contains":
		return strings.Contains(lead.Status, cond.Value)
	default:
		return true
	}
}

func waitDelay(step *models.SequenceStep) time.Duration {
	return time.Duration(step.DelayDays)*24*time.Hour + time.Duration(step.DelayHours)*time.Hour
}

func pickPlan(plans []models.Plan) *models.Plan {
	for i := range plans {
		if plans[i].IsDefault {
			return &plans[i]
		}
	}
	return &plans[0]
}

// EnrollLead creates the enrollment and its first job in one transaction.
// The composite unique index on (sequence_id, lead_id) backstops the
// duplicate check under concurrency.
func (se *SequenceExecutor) EnrollLead(sequenceID, leadID uint) (*models.SequenceEnrollment, error) {
	var sequence models.Sequence
	if err := se.db.First(&sequence, sequenceID).Error; err != nil {
		return nil, fmt.Errorf("failed to load sequence %d: %w", sequenceID, err)
	}

	var existing models.SequenceEnrollment
	err := se.db.Where("sequence_id = ? AND lead_id = ?", sequenceID, leadID).First(&existing).Error
	if err == nil {
		return nil, fmt.Errorf("lead %d is already enrolled in sequence %d", leadID, sequenceID)
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	now := time.Now()
	enrollment := models.SequenceEnrollment{
		SequenceID:  sequenceID,
		LeadID:      leadID,
		Status:      models.EnrollmentStatusActive,
		CurrentStep: 1,
		NextStepAt:  &now,
	}

	err = se.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&enrollment).Error; err != nil {
			return fmt.Errorf("failed to create enrollment: %w", err)
		}
		_, err := EnqueueJob(tx, sequence.UserID, models.JobTypeSequenceStep, models.SequenceStepPayload{
			SequenceID: sequenceID,
			LeadID:     leadID,
		}, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}
