package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/echotrace/echotrace/pkg/models"
	"github.com/echotrace/echotrace/pkg/utils"
)

// Job is the persisted form of a processing job. The job table is the
// single source of truth for work coordination across server and worker
// processes; rows are only ever mutated through status transitions.
type Job struct {
	ID           string `gorm:"primaryKey;type:varchar(36)"`
	JobType      string `gorm:"index:idx_job_target,priority:1" json:"job_type"`
	TargetID     string `gorm:"index:idx_job_target,priority:2" json:"target_id"`
	Status       string `gorm:"index:idx_job_status" json:"status"`
	Progress     float32
	CurrentStep  string
	ErrorMessage string
	RetryCount   int
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Parameters   []byte
}

func toJobRow(j *models.ProcessingJob) Job {
	return Job{
		ID:           j.ID,
		JobType:      j.JobType,
		TargetID:     j.TargetID,
		Status:       string(j.Status),
		Progress:     j.Progress,
		CurrentStep:  j.CurrentStep,
		ErrorMessage: j.ErrorMessage,
		RetryCount:   j.RetryCount,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
		Parameters:   []byte(j.Parameters),
	}
}

func fromJobRow(r *Job) *models.ProcessingJob {
	return &models.ProcessingJob{
		ID:           r.ID,
		JobType:      r.JobType,
		TargetID:     r.TargetID,
		Status:       models.JobStatus(r.Status),
		Progress:     r.Progress,
		CurrentStep:  r.CurrentStep,
		ErrorMessage: r.ErrorMessage,
		RetryCount:   r.RetryCount,
		CreatedAt:    r.CreatedAt,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
		Parameters:   json.RawMessage(r.Parameters),
	}
}

// CreateJobIfNotExists creates a job for (jobType, targetID) unless one
// whose status is in checkStatuses already exists, in which case the
// existing job is returned. With no statuses given the non-terminal set
// is checked. Uniqueness of the active pair is enforced by a partial
// unique index, so a caller that loses the insert race re-reads and
// returns the winner's job instead of failing.
func (c *DBClient) CreateJobIfNotExists(jobType, targetID string, params json.RawMessage, checkStatuses ...models.JobStatus) (*models.ProcessingJob, bool, error) {
	if c == nil || c.DB == nil {
		return nil, false, errors.New(errDBClientNil)
	}
	if len(checkStatuses) == 0 {
		checkStatuses = models.NonTerminalStatuses
	}
	statuses := make([]string, len(checkStatuses))
	for i, s := range checkStatuses {
		statuses[i] = string(s)
	}

	for attempt := 0; attempt < 3; attempt++ {
		var existing Job
		err := c.DB.Where("job_type = ? AND target_id = ? AND status IN ?",
			jobType, targetID, statuses).
			First(&existing).Error
		if err == nil {
			return fromJobRow(&existing), false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("querying existing job: %w", err)
		}

		row := Job{
			ID:         utils.GenerateUUID(),
			JobType:    jobType,
			TargetID:   targetID,
			Status:     string(models.JobPending),
			Parameters: []byte(params),
			CreatedAt:  time.Now(),
		}
		err = c.DB.Create(&row).Error
		if err == nil {
			return fromJobRow(&row), true, nil
		}
		if !isUniqueViolation(err) {
			return nil, false, fmt.Errorf("creating job: %w", err)
		}
		// lost the insert race, loop to pick up the winner's row
	}
	return nil, false, fmt.Errorf("creating job for %s/%s: conflict retries exhausted", jobType, targetID)
}

// isUniqueViolation reports whether err is a unique constraint failure.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint")
}

// ClaimJob transitions a pending job to running. It is a conditional
// update, so when several workers race for the same job exactly one claim
// succeeds; the losers get ok=false, not an error.
func (c *DBClient) ClaimJob(jobID string) (bool, error) {
	if c == nil || c.DB == nil {
		return false, errors.New(errDBClientNil)
	}
	now := time.Now()
	res := c.DB.Model(&Job{}).
		Where("id = ? AND status = ?", jobID, string(models.JobPending)).
		Updates(map[string]any{
			"status":     string(models.JobRunning),
			"started_at": &now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("claiming job: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// UpdateJobProgress records progress and the current step of a running job.
func (c *DBClient) UpdateJobProgress(jobID string, progress float32, step string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	return c.DB.Model(&Job{}).
		Where("id = ? AND status = ?", jobID, string(models.JobRunning)).
		Updates(map[string]any{
			"progress":     progress,
			"current_step": step,
		}).Error
}

// CompleteJob transitions a running job to completed.
func (c *DBClient) CompleteJob(jobID string) error {
	return c.finishJob(jobID, models.JobCompleted, "")
}

// FailJob transitions a running job to failed, recording the error.
func (c *DBClient) FailJob(jobID string, msg string) error {
	return c.finishJob(jobID, models.JobFailed, msg)
}

func (c *DBClient) finishJob(jobID string, status models.JobStatus, msg string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	now := time.Now()
	updates := map[string]any{
		"status":       string(status),
		"completed_at": &now,
	}
	if status == models.JobCompleted {
		updates["progress"] = float32(1)
	}
	if msg != "" {
		updates["error_message"] = msg
	}
	res := c.DB.Model(&Job{}).
		Where("id = ? AND status = ?", jobID, string(models.JobRunning)).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("finishing job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %s is not running", jobID)
	}
	return nil
}

// CancelJob cancels a pending or running job. Running jobs observe the
// cancellation at their next checkpoint; the status flips immediately.
func (c *DBClient) CancelJob(jobID string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	now := time.Now()
	res := c.DB.Model(&Job{}).
		Where("id = ? AND status IN ?", jobID,
			[]string{string(models.JobPending), string(models.JobRunning)}).
		Updates(map[string]any{
			"status":       string(models.JobCancelled),
			"completed_at": &now,
		})
	if res.Error != nil {
		return fmt.Errorf("cancelling job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %s is not cancellable", jobID)
	}
	return nil
}

// RetryJob re-queues a failed job, bumping its retry counter.
func (c *DBClient) RetryJob(jobID string) (*models.ProcessingJob, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var out *models.ProcessingJob
	err := c.DB.Transaction(func(tx *gorm.DB) error {
		var row Job
		if err := tx.Where("id = ?", jobID).First(&row).Error; err != nil {
			return fmt.Errorf("fetching job: %w", err)
		}
		if row.Status != string(models.JobFailed) {
			return fmt.Errorf("job %s is %s, only failed jobs can be retried", jobID, row.Status)
		}
		updates := map[string]any{
			"status":        string(models.JobPending),
			"retry_count":   row.RetryCount + 1,
			"progress":      float32(0),
			"current_step":  "",
			"error_message": "",
			"started_at":    nil,
			"completed_at":  nil,
		}
		if err := tx.Model(&Job{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
			return fmt.Errorf("requeueing job: %w", err)
		}
		row.Status = string(models.JobPending)
		row.RetryCount++
		row.Progress = 0
		row.CurrentStep = ""
		row.ErrorMessage = ""
		row.StartedAt = nil
		row.CompletedAt = nil
		out = fromJobRow(&row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetJob fetches one job by ID.
func (c *DBClient) GetJob(jobID string) (*models.ProcessingJob, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var row Job
	if err := c.DB.Where("id = ?", jobID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching job: %w", err)
	}
	return fromJobRow(&row), nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (c *DBClient) ListJobs(status models.JobStatus, limit int) ([]models.ProcessingJob, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	if limit <= 0 {
		limit = 100
	}
	q := c.DB.Order("created_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	var rows []Job
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	out := make([]models.ProcessingJob, 0, len(rows))
	for i := range rows {
		out = append(out, *fromJobRow(&rows[i]))
	}
	return out, nil
}

// NextPending returns the oldest pending job, or nil when the queue is
// empty. Claiming it is a separate step.
func (c *DBClient) NextPending(jobType string) (*models.ProcessingJob, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	q := c.DB.Where("status = ?", string(models.JobPending)).Order("created_at")
	if jobType != "" {
		q = q.Where("job_type = ?", jobType)
	}
	var row Job
	if err := q.First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching pending job: %w", err)
	}
	return fromJobRow(&row), nil
}
