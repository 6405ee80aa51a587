package models

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a ProcessingJob.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Job type identifiers understood by the orchestrator.
const (
	JobTypeFingerprintVideo = "fingerprint_video"
	JobTypeReindexCorpus    = "reindex_corpus"
)

// NonTerminalStatuses is the default set checked by idempotent job creation.
var NonTerminalStatuses = []JobStatus{JobPending, JobRunning}

// ProcessingJob is one unit of fingerprinting work over the corpus. The job
// table is the single source of truth for work coordination; status
// transitions are the only permitted mutation.
type ProcessingJob struct {
	ID           string          `json:"id"`
	JobType      string          `json:"job_type"`
	TargetID     string          `json:"target_id"`
	Status       JobStatus       `json:"status"`
	Progress     float32         `json:"progress"`
	CurrentStep  string          `json:"current_step,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	RetryCount   int             `json:"retry_count"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
}
