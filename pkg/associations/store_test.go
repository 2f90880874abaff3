package associations

import (
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
	require.NoError(t, db.AutoMigrate(&Association{}))
	return db
}

func TestCreateAndGetByRemote(t *testing.T) {
	store := NewAssociationStore(setupTestDB(t))

	assoc, err := store.Create("site-b", "https://b.example.org", "alice", true, StateRequested)
	require.NoError(t, err)
	assert.Equal(t, StateRequested, assoc.State)
	assert.True(t, assoc.Initiated)
	assert.Zero(t, assoc.MissedProbes)

	found, err := store.GetByRemote("https://b.example.org")
	require.NoError(t, err)
	assert.Equal(t, assoc.ID, found.ID)
}

func TestCreateRejectsDuplicateLivePeer(t *testing.T) {
	store := NewAssociationStore(setupTestDB(t))

	_, err := store.Create("site-b", "https://b.example.org", "alice", true, StateRequested)
	require.NoError(t, err)

	_, err = store.Create("site-b", "https://b.example.org", "bob", true, StateRequested)
	assert.ErrorIs(t, err, ErrAlreadyAssociated)
}

func TestCreateSupersedesTerminalPeer(t *testing.T) {
	store := NewAssociationStore(setupTestDB(t))

	old, err := store.Create("site-b", "https://b.example.org", "alice", false, StatePendingApproval)
	require.NoError(t, err)
	require.NoError(t, store.Transition(old.ID, StatePendingApproval, StateRejected, "owner"))

	fresh, err := store.Create("site-b", "https://b.example.org", "alice", true, StateRequested)
	require.NoError(t, err)
	assert.Equal(t, StateRequested, fresh.State)
	assert.Empty(t, fresh.DecidedBy)
	assert.Zero(t, fresh.MissedProbes)
}

// Only requested→pending_approval→{approved,rejected} and approved→expired
// (plus timeout rejection of requested) are reachable.
func TestTransitionGraph(t *testing.T) {
	legal := []struct{ from, to State }{
		{StateRequested, StatePendingApproval},
		{StateRequested, StateRejected},
		{StatePendingApproval, StateApproved},
		{StatePendingApproval, StateRejected},
		{StateApproved, StateExpired},
	}
	for _, tc := range legal {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	illegal := []struct{ from, to State }{
		{StateRequested, StateApproved},
		{StateRequested, StateExpired},
		{StatePendingApproval, StateExpired},
		{StateApproved, StateRejected},
		{StateApproved, StatePendingApproval},
		{StateRejected, StateApproved},
		{StateExpired, StateApproved},
		{StateExpired, StatePendingApproval},
	}
	for _, tc := range illegal {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be illegal", tc.from, tc.to)
	}
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	store := NewAssociationStore(setupTestDB(t))
	assoc, err := store.Create("site-b", "https://b.example.org", "alice", true, StateRequested)
	require.NoError(t, err)

	err = store.Transition(assoc.ID, StateRequested, StateApproved, "owner")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// The row is untouched.
	reloaded, err := store.Get(assoc.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRequested, reloaded.State)
}

func TestTransitionDetectsConcurrentChange(t *testing.T) {
	store := NewAssociationStore(setupTestDB(t))
	assoc, err := store.Create("site-b", "https://b.example.org", "alice", false, StatePendingApproval)
	require.NoError(t, err)

	require.NoError(t, store.Transition(assoc.ID, StatePendingApproval, StateApproved, "owner"))

	// A second decider sees the state has already moved.
	err = store.Transition(assoc.ID, StatePendingApproval, StateRejected, "other")
	assert.ErrorIs(t, err, ErrConflict)

	reloaded, err := store.Get(assoc.ID)
	require.NoError(t, err)
	assert.Equal(t, StateApproved, reloaded.State)
	assert.Equal(t, "owner", reloaded.DecidedBy)
	require.NotNil(t, reloaded.DecidedAt)
}

func TestProbeCountersResetOnSuccess(t *testing.T) {
	store := NewAssociationStore(setupTestDB(t))
	assoc, err := store.Create("site-b", "https://b.example.org", "alice", false, StatePendingApproval)
	require.NoError(t, err)
	require.NoError(t, store.Transition(assoc.ID, StatePendingApproval, StateApproved, "owner"))

	missed, err := store.ProbeFailure(assoc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, missed)
	missed, err = store.ProbeFailure(assoc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, missed)

	require.NoError(t, store.ProbeSuccess(assoc.ID))
	reloaded, err := store.Get(assoc.ID)
	require.NoError(t, err)
	assert.Zero(t, reloaded.MissedProbes)
	require.NotNil(t, reloaded.LastSeen)
}

func TestProbeFailureIgnoresNonApproved(t *testing.T) {
	store := NewAssociationStore(setupTestDB(t))
	assoc, err := store.Create("site-b", "https://b.example.org", "alice", false, StatePendingApproval)
	require.NoError(t, err)

	_, err = store.ProbeFailure(assoc.ID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRejectStaleSweepsUndecided(t *testing.T) {
	db := setupTestDB(t)
	store := NewAssociationStore(db)

	assoc, err := store.Create("site-b", "https://b.example.org", "alice", true, StateRequested)
	require.NoError(t, err)
	decided, err := store.Create("site-c", "https://c.example.org", "alice", false, StatePendingApproval)
	require.NoError(t, err)
	require.NoError(t, store.Transition(decided.ID, StatePendingApproval, StateApproved, "owner"))

	// Age both rows past the timeout.
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, db.Model(&Association{}).Where("1 = 1").Update("created_at", old).Error)

	rejected, err := store.RejectStale(time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rejected)

	reloaded, err := store.Get(assoc.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRejected, reloaded.State)
	assert.Equal(t, "system:timeout", reloaded.DecidedBy)

	// Approved associations are not the sweep's business.
	reloaded, err = store.Get(decided.ID)
	require.NoError(t, err)
	assert.Equal(t, StateApproved, reloaded.State)
}

func TestListFiltersByState(t *testing.T) {
	store := NewAssociationStore(setupTestDB(t))
	_, err := store.Create("site-b", "https://b.example.org", "alice", true, StateRequested)
	require.NoError(t, err)
	pending, err := store.Create("site-c", "https://c.example.org", "alice", false, StatePendingApproval)
	require.NoError(t, err)

	all, err := store.List("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	records, err := store.List(StatePendingApproval)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, pending.ID, records[0].ID)
}
