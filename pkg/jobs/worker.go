package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/datasite-dev/datasite/pkg/authz"
	"github.com/datasite-dev/datasite/pkg/blob"
)

// AssetResolver provides private payload access for claimed jobs. Satisfied
// by datasets.Registry without a circular dependency.
type AssetResolver interface {
	PrivatePayload(ctx context.Context, assetID string) ([]byte, error)
}

// Executor runs the requested operation against resolved private inputs.
// Returning an error wrapping ErrDenied marks the job denied instead of
// failed.
type Executor interface {
	Execute(ctx context.Context, codeRef string, inputs [][]byte) ([]byte, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, codeRef string, inputs [][]byte) ([]byte, error)

func (f ExecutorFunc) Execute(ctx context.Context, codeRef string, inputs [][]byte) ([]byte, error) {
	return f(ctx, codeRef, inputs)
}

// Policy decides whether a job may run and its submitter may see the result.
type Policy interface {
	Allow(job *Job) error
}

// RolePolicy denies jobs whose submitter lacks the minimum role.
type RolePolicy struct {
	MinRole authz.Role
}

func (p RolePolicy) Allow(job *Job) error {
	if !authz.Role(job.SubmitterRole).AtLeast(p.MinRole) {
		return fmt.Errorf("%w: role %q may not execute against private data",
			ErrDenied, job.SubmitterRole)
	}
	return nil
}

// execContext holds the private payloads for one job. It exists only for the
// job's lifetime and is wiped before the worker moves on, so private bytes
// never outlive the execution.
type execContext struct {
	inputs [][]byte
}

func (e *execContext) wipe() {
	for _, buf := range e.inputs {
		for i := range buf {
			buf[i] = 0
		}
	}
	e.inputs = nil
}

// WorkerPool drains the job queue with cfg.Consumers goroutines. Each worker
// claims pending jobs via the store's atomic transition, resolves private
// payloads into an isolated execution context, heartbeats while running, and
// finishes the job as completed, denied, or failed.
type WorkerPool struct {
	store    *JobStore
	resolver AssetResolver
	executor Executor
	policy   Policy
	blobs    blob.Store
	cfg      *Config
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(store *JobStore, resolver AssetResolver, executor Executor, policy Policy, blobs blob.Store, cfg *Config, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == nil {
		policy = RolePolicy{MinRole: authz.RoleDataScientist}
	}
	return &WorkerPool{
		store:    store,
		resolver: resolver,
		executor: executor,
		policy:   policy,
		blobs:    blobs,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run starts the worker pool and the janitor loop. It blocks until the
// context is cancelled, then waits for in-flight jobs to finish.
func (wp *WorkerPool) Run(ctx context.Context) {
	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		wp.janitorLoop(ctx)
	}()

	if !wp.cfg.InMemoryWorkers || wp.cfg.Consumers <= 0 {
		wp.logger.Info("in-memory workers disabled, running janitor only")
	} else {
		wp.logger.Info("worker pool starting",
			"consumers", wp.cfg.Consumers,
			"lease", wp.cfg.LeaseDuration.String(),
			"pollInterval", wp.cfg.PollInterval.String())
		for i := 0; i < wp.cfg.Consumers; i++ {
			wp.wg.Add(1)
			go func(workerID int) {
				defer wp.wg.Done()
				wp.workerLoop(ctx, workerID)
			}(i)
		}
	}

	<-ctx.Done()
	wp.logger.Info("worker pool shutting down, waiting for workers")
	wp.wg.Wait()
	wp.logger.Info("worker pool stopped")
}

// workerLoop is the main loop for a single worker goroutine.
func (wp *WorkerPool) workerLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(wp.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wp.processOne(ctx, workerID)
		}
	}
}

// processOne tries to claim and fully process a single job.
func (wp *WorkerPool) processOne(ctx context.Context, workerID int) {
	job, err := wp.store.Claim(wp.cfg.LeaseDuration)
	if err != nil {
		wp.logger.Error("failed to claim job", "workerID", workerID, "error", err)
		return
	}
	if job == nil {
		return
	}

	wp.logger.Info("processing job",
		"workerID", workerID, "jobID", job.ID,
		"codeRef", job.CodeRef, "attempt", job.Attempts)

	if err := wp.policy.Allow(job); err != nil {
		wp.finishDenied(job.ID, err)
		return
	}

	// Cancellation checkpoint before any private data is touched.
	if wp.canceledAtCheckpoint(job.ID) {
		return
	}

	exec := &execContext{}
	defer exec.wipe()
	for _, assetID := range job.Assets() {
		data, err := wp.resolver.PrivatePayload(ctx, assetID)
		if err != nil {
			wp.finishFailed(job.ID, fmt.Errorf("resolve asset %s: %w", assetID, err))
			return
		}
		exec.inputs = append(exec.inputs, data)
	}

	// Keep the lease alive while the operation runs. Losing the lease
	// cancels the execution context.
	execCtx, cancelExec := context.WithCancel(ctx)
	defer cancelExec()
	hbDone := make(chan struct{})
	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		wp.heartbeatLoop(execCtx, job.ID, hbDone, cancelExec)
	}()

	// Second checkpoint right before execution.
	if wp.canceledAtCheckpoint(job.ID) {
		close(hbDone)
		return
	}

	result, err := wp.executor.Execute(execCtx, job.CodeRef, exec.inputs)
	close(hbDone)

	if err != nil {
		if errors.Is(err, ErrDenied) {
			wp.finishDenied(job.ID, err)
		} else {
			wp.finishFailed(job.ID, err)
		}
		return
	}

	handle, err := wp.blobs.Put(ctx, result)
	if err != nil {
		wp.finishFailed(job.ID, fmt.Errorf("store result: %w", err))
		return
	}
	if err := wp.store.Complete(job.ID, string(handle)); err != nil {
		wp.logger.Error("failed to mark job completed", "jobID", job.ID, "error", err)
		return
	}
	wp.logger.Info("job completed", "workerID", workerID, "jobID", job.ID)
}

// canceledAtCheckpoint observes the cooperative cancellation flag and, when
// set, finishes the job as canceled.
func (wp *WorkerPool) canceledAtCheckpoint(jobID string) bool {
	wanted, err := wp.store.CancelWanted(jobID)
	if err != nil || !wanted {
		return false
	}
	if err := wp.store.MarkCanceled(jobID); err != nil {
		wp.logger.Error("failed to mark job canceled", "jobID", jobID, "error", err)
	}
	wp.logger.Info("job canceled at checkpoint", "jobID", jobID)
	return true
}

func (wp *WorkerPool) heartbeatLoop(ctx context.Context, jobID string, done <-chan struct{}, lostLease context.CancelFunc) {
	ticker := time.NewTicker(wp.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			alive, err := wp.store.Heartbeat(jobID, wp.cfg.LeaseDuration)
			if err != nil {
				wp.logger.Error("heartbeat failed", "jobID", jobID, "error", err)
				continue
			}
			if !alive {
				// The job was reclaimed or finished elsewhere; stop working on it.
				wp.logger.Warn("lost lease, aborting execution", "jobID", jobID)
				lostLease()
				return
			}
		}
	}
}

func (wp *WorkerPool) finishDenied(jobID string, err error) {
	wp.logger.Info("job denied", "jobID", jobID, "reason", err.Error())
	if dbErr := wp.store.Deny(jobID, err.Error(), wp.cfg.MaxErrorBytes); dbErr != nil {
		wp.logger.Error("failed to mark job denied", "jobID", jobID, "error", dbErr)
	}
}

func (wp *WorkerPool) finishFailed(jobID string, err error) {
	wp.logger.Error("job failed", "jobID", jobID, "error", err)
	if dbErr := wp.store.Fail(jobID, err.Error(), wp.cfg.MaxErrorBytes); dbErr != nil {
		wp.logger.Error("failed to mark job failed", "jobID", jobID, "error", dbErr)
	}
}

// janitorLoop periodically requeues lease-expired jobs and prunes old
// terminal jobs.
func (wp *WorkerPool) janitorLoop(ctx context.Context) {
	ticker := time.NewTicker(wp.cfg.LeaseDuration / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := wp.store.ReclaimExpired()
			if err != nil {
				wp.logger.Error("failed to reclaim expired jobs", "error", err)
			} else if reclaimed > 0 {
				wp.logger.Info("reclaimed lease-expired jobs", "count", reclaimed)
			}

			if wp.cfg.RetentionDays > 0 {
				cutoff := time.Now().AddDate(0, 0, -wp.cfg.RetentionDays)
				deleted, err := wp.store.DeleteOlderThan(cutoff)
				if err != nil {
					wp.logger.Error("failed to delete old jobs", "error", err)
				} else if deleted > 0 {
					wp.logger.Info("deleted old jobs", "count", deleted)
				}
			}
		}
	}
}
