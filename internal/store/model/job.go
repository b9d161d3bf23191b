package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobKind string

const (
	KindTwitterFetch   JobKind = "twitter_fetch"
	KindFarcasterFetch JobKind = "farcaster_fetch"
	KindCauseSync      JobKind = "cause_sync"

	// KindProjectScore jobs are created and executed by the scoring service.
	// The ingestion core only persists them.
	KindProjectScore JobKind = "project_score"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Job is one unit of scheduled ingestion work.
type Job struct {
	ID           uuid.UUID `gorm:"primaryKey"`
	ProjectID    string    `gorm:"column:project_id;index:jobs_project_kind_idx;not null"`
	Kind         JobKind   `gorm:"index:jobs_project_kind_idx;not null"`
	Status       JobStatus `gorm:"index;not null"`
	ScheduledFor time.Time `gorm:"index"`
	Attempts     int       `gorm:"not null;default:0"`
	LastError    *string
	Metadata     *JSONField[map[string]any] `gorm:"type:jsonb"`
	CreatedAt    time.Time
	UpdatedAt    time.Time `gorm:"index"`
}

type JobList []Job

func (j Job) String() string {
	val, _ := json.Marshal(j)
	return string(val)
}

// Terminal reports whether the job can no longer transition.
func (j Job) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}
