package model

import "time"

// JobState is the lifecycle of a recompute job for one SnapshotKey.
type JobState string

const (
	JobRequested      JobState = "requested"
	JobRunning        JobState = "running"
	JobSucceeded      JobState = "succeeded"
	JobFailedFallback JobState = "failed_fallback"
	JobFailed         JobState = "failed"
)

// Terminal reports whether no further transition follows s.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailedFallback || s == JobFailed
}

// RecomputeJob is one row of the recompute job log.
type RecomputeJob struct {
	ID          string     `json:"id"`
	CompanyID   string     `json:"company_id"`
	Period      Period     `json:"period"`
	PeriodStart time.Time  `json:"period_start"`
	State       JobState   `json:"state"`
	Trigger     string     `json:"trigger"`
	Attempts    int        `json:"attempts"`
	SnapshotID  string     `json:"snapshot_id,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Key returns the job's idempotency key.
func (j *RecomputeJob) Key() SnapshotKey {
	return NewSnapshotKey(j.CompanyID, j.Period, j.PeriodStart)
}
