package model

import "time"

// IngestionStats aggregates the operator-visible counters of the pipeline.
type IngestionStats struct {
	Jobs     map[JobStatus]int64 `json:"jobs"`
	Accounts int64               `json:"accounts"`
	Posts    int64               `json:"posts"`
	// OldestPendingJob is zero when no job is pending.
	OldestPendingJob time.Time `json:"oldest_pending_job,omitempty"`
}
