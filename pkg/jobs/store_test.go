package jobs

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Job{}))
	return db
}

// setupFileDB returns a store backed by an on-disk database, which supports
// concurrent connections (":memory:" gives each connection its own database).
func setupFileDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "jobs.db") + "?_pragma=busy_timeout(10000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Job{}))
	return db
}

func TestSubmitCreatesPendingJob(t *testing.T) {
	store := NewJobStore(setupTestDB(t))

	job, err := store.Submit("alice", "data_scientist", []string{"asset-1"}, OpSize)
	require.NoError(t, err)
	assert.Equal(t, JobStatePending, job.State)
	assert.Equal(t, []string{"asset-1"}, job.Assets())
	assert.False(t, job.IsTerminal())
}

func TestClaimIsFIFOWithIDTieBreak(t *testing.T) {
	store := NewJobStore(setupTestDB(t))

	first, err := store.Submit("alice", "data_scientist", []string{"a"}, OpSize)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = store.Submit("alice", "data_scientist", []string{"b"}, OpSize)
	require.NoError(t, err)

	claimed, err := store.Claim(time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, JobStateRunning, claimed.State)
	assert.Equal(t, 1, claimed.Attempts)
	require.NotNil(t, claimed.LeaseExpires)
}

func TestClaimEmptyQueueReturnsNil(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	job, err := store.Claim(time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestExactlyOneWorkerClaimsAJob(t *testing.T) {
	store := NewJobStore(setupFileDB(t))
	job, err := store.Submit("alice", "data_scientist", []string{"a"}, OpSize)
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners []string

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := store.Claim(time.Minute)
			if err == nil && claimed != nil {
				mu.Lock()
				winners = append(winners, claimed.ID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, job.ID, winners[0])

	reloaded, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateRunning, reloaded.State)
	assert.Equal(t, 1, reloaded.Attempts)
}

func TestReclaimExpiredExactlyOncePerExpiry(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	job, err := store.Submit("alice", "data_scientist", []string{"a"}, OpSize)
	require.NoError(t, err)

	claimed, err := store.Claim(10 * time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	time.Sleep(20 * time.Millisecond)

	reclaimed, err := store.ReclaimExpired()
	require.NoError(t, err)
	assert.EqualValues(t, 1, reclaimed)

	// Second sweep finds nothing: one reclaim per expiry.
	reclaimed, err = store.ReclaimExpired()
	require.NoError(t, err)
	assert.Zero(t, reclaimed)

	// The job is claimable again.
	again, err := store.Claim(time.Minute)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)
}

func TestHeartbeatExtendsLeaseOnlyWhileRunning(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	_, err := store.Submit("alice", "data_scientist", []string{"a"}, OpSize)
	require.NoError(t, err)

	claimed, err := store.Claim(time.Minute)
	require.NoError(t, err)

	alive, err := store.Heartbeat(claimed.ID, time.Minute)
	require.NoError(t, err)
	assert.True(t, alive)

	require.NoError(t, store.Complete(claimed.ID, "inline:result"))

	alive, err = store.Heartbeat(claimed.ID, time.Minute)
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestCompleteRecordsResultHandle(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	_, err := store.Submit("alice", "data_scientist", []string{"a"}, OpSize)
	require.NoError(t, err)
	claimed, err := store.Claim(time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Complete(claimed.ID, "inline:abc"))

	job, err := store.Get(claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateCompleted, job.State)
	assert.Equal(t, "inline:abc", job.ResultRef)
	assert.True(t, job.IsTerminal())
	require.NotNil(t, job.FinishedAt)
}

func TestDenyAndFailBoundDiagnostics(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	_, err := store.Submit("alice", "guest", []string{"a"}, OpSize)
	require.NoError(t, err)
	claimed, err := store.Claim(time.Minute)
	require.NoError(t, err)

	long := strings.Repeat("x", 5000)
	require.NoError(t, store.Deny(claimed.ID, long, 100))

	job, err := store.Get(claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateDenied, job.State)
	assert.Len(t, job.ErrorSummary, 100)
}

func TestCancelPendingJob(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	job, err := store.Submit("alice", "data_scientist", []string{"a"}, OpSize)
	require.NoError(t, err)

	state, err := store.Cancel(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateCanceled, state)

	// Terminal: a second cancel is rejected.
	_, err = store.Cancel(job.ID)
	assert.Error(t, err)
}

func TestCancelRunningJobIsCooperative(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	_, err := store.Submit("alice", "data_scientist", []string{"a"}, OpSize)
	require.NoError(t, err)
	claimed, err := store.Claim(time.Minute)
	require.NoError(t, err)

	state, err := store.Cancel(claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateRunning, state)

	wanted, err := store.CancelWanted(claimed.ID)
	require.NoError(t, err)
	assert.True(t, wanted)

	require.NoError(t, store.MarkCanceled(claimed.ID))
	job, err := store.Get(claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateCanceled, job.State)
}

func TestListFiltersAndPaginates(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	for i := 0; i < 3; i++ {
		_, err := store.Submit("alice", "data_scientist", []string{"a"}, OpSize)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}
	_, err := store.Submit("bob", "data_scientist", []string{"b"}, OpDigest)
	require.NoError(t, err)

	records, next, total, err := store.List(ListFilter{SubmittedBy: "alice"}, 2, "")
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.NotEmpty(t, next)
	assert.Equal(t, 3, total)

	records, _, _, err = store.List(ListFilter{SubmittedBy: "alice"}, 2, next)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
