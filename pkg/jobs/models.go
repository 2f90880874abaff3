// Package jobs implements the durable job queue and the worker pool that
// executes client-submitted code against private assets under policy control.
package jobs

import (
	"encoding/json"
	"time"
)

// JobState represents the lifecycle state of an execution job.
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateDenied    JobState = "denied"
	JobStateFailed    JobState = "failed"
	JobStateCanceled  JobState = "canceled"
)

// Job is the GORM model for an execution request. Only the worker pool
// mutates a job after submission; everyone else goes through JobStore's
// compare-and-set transitions.
type Job struct {
	ID            string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	SubmittedBy   string     `gorm:"column:submitted_by;index:idx_job_submitter;not null"`
	SubmitterRole string     `gorm:"column:submitter_role"`
	AssetIDs      string     `gorm:"column:asset_ids;type:text"` // JSON array
	CodeRef       string     `gorm:"column:code_ref;not null"`   // opaque operation reference
	State         JobState   `gorm:"column:state;index:idx_job_state;not null;default:pending"`
	ResultRef     string     `gorm:"column:result_ref"` // blob handle when completed
	ErrorSummary  string     `gorm:"column:error_summary"`
	SubmittedAt   time.Time  `gorm:"column:submitted_at;not null"`
	StartedAt     *time.Time `gorm:"column:started_at"`
	FinishedAt    *time.Time `gorm:"column:finished_at"`
	LeaseExpires  *time.Time `gorm:"column:lease_expires"`
	HeartbeatAt   *time.Time `gorm:"column:heartbeat_at"`
	Attempts      int        `gorm:"column:attempts;default:0"`
	CancelWanted  bool       `gorm:"column:cancel_wanted;default:false"`
}

// TableName returns the GORM table name.
func (Job) TableName() string { return "jobs" }

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	switch j.State {
	case JobStateCompleted, JobStateDenied, JobStateFailed, JobStateCanceled:
		return true
	}
	return false
}

// Assets decodes the job's target asset id list.
func (j *Job) Assets() []string {
	var ids []string
	_ = json.Unmarshal([]byte(j.AssetIDs), &ids)
	return ids
}

// EncodeAssetIDs serializes an asset id list for storage.
func EncodeAssetIDs(ids []string) string {
	b, _ := json.Marshal(ids)
	return string(b)
}
