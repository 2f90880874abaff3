package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrDenied marks an operation blocked by policy. The worker maps it to the
// denied terminal state instead of failed.
var ErrDenied = errors.New("operation denied by policy")

// ErrNotFound indicates the requested job does not exist.
var ErrNotFound = errors.New("job not found")

// JobStore provides database operations for execution jobs. All state
// transitions are compare-and-set updates keyed on the current state, so no
// two writers can move the same job at once.
type JobStore struct {
	db *gorm.DB
}

// NewJobStore creates a new JobStore.
func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db}
}

// AutoMigrate creates or updates the jobs table.
func (s *JobStore) AutoMigrate() error {
	return s.db.AutoMigrate(&Job{})
}

// Submit enqueues a new pending job and returns it.
func (s *JobStore) Submit(submittedBy, submitterRole string, assetIDs []string, codeRef string) (*Job, error) {
	job := &Job{
		ID:            uuid.New().String(),
		SubmittedBy:   submittedBy,
		SubmitterRole: submitterRole,
		AssetIDs:      EncodeAssetIDs(assetIDs),
		CodeRef:       codeRef,
		State:         JobStatePending,
		SubmittedAt:   time.Now(),
	}
	if err := s.db.Create(job).Error; err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}
	return job, nil
}

// Claim atomically transitions the oldest pending job to running and grants
// the caller a lease. The compare-and-set on state guarantees exactly one
// worker wins even under concurrent claims; losers move on to the next
// candidate. Returns nil when no job is available.
func (s *JobStore) Claim(lease time.Duration) (*Job, error) {
	// A lost race leaves the candidate claimed by someone else, so try a few
	// candidates before reporting an empty queue.
	for attempt := 0; attempt < 3; attempt++ {
		var job Job
		err := s.db.Where("state = ?", JobStatePending).
			Order("submitted_at ASC, id ASC").
			Offset(attempt).
			First(&job).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, nil
			}
			return nil, fmt.Errorf("find claimable job: %w", err)
		}

		now := time.Now()
		expires := now.Add(lease)
		result := s.db.Model(&Job{}).
			Where("id = ? AND state = ?", job.ID, JobStatePending).
			Updates(map[string]any{
				"state":         JobStateRunning,
				"started_at":    now,
				"heartbeat_at":  now,
				"lease_expires": expires,
				"attempts":      gorm.Expr("attempts + 1"),
			})
		if result.Error != nil {
			return nil, fmt.Errorf("claim job: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			continue // Lost the race for this candidate.
		}

		if err := s.db.First(&job, "id = ?", job.ID).Error; err != nil {
			return nil, fmt.Errorf("reload claimed job: %w", err)
		}
		return &job, nil
	}
	return nil, nil
}

// Heartbeat extends the lease of a running job. Returns false when the job
// is no longer running (reclaimed or finished), telling the worker to stop.
func (s *JobStore) Heartbeat(jobID string, lease time.Duration) (bool, error) {
	now := time.Now()
	result := s.db.Model(&Job{}).
		Where("id = ? AND state = ?", jobID, JobStateRunning).
		Updates(map[string]any{
			"heartbeat_at":  now,
			"lease_expires": now.Add(lease),
		})
	if result.Error != nil {
		return false, fmt.Errorf("heartbeat job: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Complete marks a running job as completed with its result handle.
func (s *JobStore) Complete(jobID, resultRef string) error {
	return s.finish(jobID, JobStateCompleted, map[string]any{"result_ref": resultRef})
}

// Deny marks a running job as denied by policy. The reason is bounded and
// never carries payload content.
func (s *JobStore) Deny(jobID, reason string, maxBytes int) error {
	return s.finish(jobID, JobStateDenied, map[string]any{
		"error_summary": truncate(reason, maxBytes),
	})
}

// Fail marks a running job as failed with a bounded diagnostic.
func (s *JobStore) Fail(jobID, errMsg string, maxBytes int) error {
	return s.finish(jobID, JobStateFailed, map[string]any{
		"error_summary": truncate(errMsg, maxBytes),
	})
}

// MarkCanceled finishes a running job whose cancellation flag was observed
// at a worker checkpoint.
func (s *JobStore) MarkCanceled(jobID string) error {
	return s.finish(jobID, JobStateCanceled, nil)
}

func (s *JobStore) finish(jobID string, state JobState, extra map[string]any) error {
	updates := map[string]any{
		"state":         state,
		"finished_at":   time.Now(),
		"lease_expires": nil,
	}
	for k, v := range extra {
		updates[k] = v
	}
	result := s.db.Model(&Job{}).
		Where("id = ? AND state = ?", jobID, JobStateRunning).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("finish job as %s: %w", state, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("job %s is not running, cannot transition to %s", jobID, state)
	}
	return nil
}

// Cancel cancels a pending job immediately. For a running job it sets the
// cooperative cancellation flag, which the worker observes at checkpoints;
// terminal jobs cannot be canceled.
func (s *JobStore) Cancel(jobID string) (JobState, error) {
	now := time.Now()
	result := s.db.Model(&Job{}).
		Where("id = ? AND state = ?", jobID, JobStatePending).
		Updates(map[string]any{
			"state":       JobStateCanceled,
			"finished_at": now,
		})
	if result.Error != nil {
		return "", fmt.Errorf("cancel job: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return JobStateCanceled, nil
	}

	result = s.db.Model(&Job{}).
		Where("id = ? AND state = ?", jobID, JobStateRunning).
		Update("cancel_wanted", true)
	if result.Error != nil {
		return "", fmt.Errorf("request job cancellation: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return JobStateRunning, nil
	}

	job, err := s.Get(jobID)
	if err != nil {
		return "", err
	}
	return job.State, fmt.Errorf("job %s is in state %s and cannot be canceled", jobID, job.State)
}

// CancelWanted reports whether cooperative cancellation was requested.
func (s *JobStore) CancelWanted(jobID string) (bool, error) {
	job, err := s.Get(jobID)
	if err != nil {
		return false, err
	}
	return job.CancelWanted, nil
}

// ReclaimExpired reverts running jobs whose lease lapsed back to pending so
// another worker can claim them. The state guard makes each expiry reclaim
// the job exactly once.
func (s *JobStore) ReclaimExpired() (int64, error) {
	result := s.db.Model(&Job{}).
		Where("state = ? AND lease_expires < ?", JobStateRunning, time.Now()).
		Updates(map[string]any{
			"state":         JobStatePending,
			"started_at":    nil,
			"heartbeat_at":  nil,
			"lease_expires": nil,
			"error_summary": "lease expired, requeued",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("reclaim expired jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Get retrieves a job by ID.
func (s *JobStore) Get(jobID string) (*Job, error) {
	var job Job
	if err := s.db.First(&job, "id = ?", jobID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// ListFilter defines filters for listing jobs.
type ListFilter struct {
	State       string
	SubmittedBy string
}

// List returns paginated jobs, newest first. The page token is the
// submitted_at timestamp of the last returned job.
func (s *JobStore) List(filter ListFilter, pageSize int, pageToken string) ([]Job, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	buildQuery := func() *gorm.DB {
		q := s.db.Model(&Job{})
		if filter.State != "" {
			q = q.Where("state = ?", filter.State)
		}
		if filter.SubmittedBy != "" {
			q = q.Where("submitted_by = ?", filter.SubmittedBy)
		}
		return q
	}

	var total int64
	if err := buildQuery().Count(&total).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count jobs: %w", err)
	}

	query := buildQuery().Order("submitted_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("submitted_at < ?", t)
	}

	var records []Job
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list jobs: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].SubmittedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}
	return records, nextToken, int(total), nil
}

// DeleteOlderThan removes terminal jobs older than the cutoff.
func (s *JobStore) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result := s.db.Where("state IN ? AND finished_at < ?",
		[]JobState{JobStateCompleted, JobStateDenied, JobStateFailed, JobStateCanceled}, cutoff).
		Delete(&Job{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// truncate bounds a diagnostic string to at most n bytes.
func truncate(s string, n int) string {
	if n <= 0 {
		n = 1024
	}
	if len(s) <= n {
		return s
	}
	return s[:n]
}
