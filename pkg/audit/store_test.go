package audit

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
	require.NoError(t, db.AutoMigrate(&Event{}))
	return db
}

func TestRecordAndList(t *testing.T) {
	store := NewStore(setupTestDB(t), nil)

	store.Record("alice", "data_owner", "dataset.publish", "ds-1", OutcomeSuccess, "")
	store.Record("bob", "data_scientist", "job.submit", "job-1", OutcomeSuccess, "")
	store.Record("mallory", "guest", "job.submit", "", OutcomeDenied, "insufficient role")

	events, next, err := store.List(ListFilter{}, 10, "")
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.Empty(t, next)

	events, _, err = store.List(ListFilter{Actor: "bob"}, 10, "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "job.submit", events[0].Action)
}

func TestListFiltersByAction(t *testing.T) {
	store := NewStore(setupTestDB(t), nil)
	store.Record("alice", "data_owner", "dataset.publish", "ds-1", OutcomeSuccess, "")
	store.Record("alice", "data_owner", "association.decide", "peer-1", OutcomeSuccess, "")

	events, _, err := store.List(ListFilter{Action: "association.decide"}, 10, "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "peer-1", events[0].Resource)
}

func TestDeleteOlderThan(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db, nil)
	store.Record("alice", "admin", "dataset.publish", "ds-1", OutcomeSuccess, "")

	deleted, err := store.DeleteOlderThan(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = store.DeleteOlderThan(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
}
