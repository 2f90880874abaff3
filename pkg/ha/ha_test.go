package ha

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupFileDB returns an on-disk database, which supports concurrent
// connections (":memory:" gives each connection its own database).
func setupFileDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "ha.db") + "?_pragma=busy_timeout(10000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMigrationLockSerializesCallers(t *testing.T) {
	db := setupFileDB(t)
	locker := NewMigrationLocker(db)

	var mu sync.Mutex
	var inside, maxInside int
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), func() error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				time.Sleep(10 * time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInside, "at most one caller may hold the migration lock")
}

func TestMigrationLockReclaimsStaleClaim(t *testing.T) {
	db := setupFileDB(t)
	locker := NewMigrationLocker(db)

	// A claim left behind by a crashed holder.
	stale := schemaLock{Name: schemaLockName, Owner: "crashed", ClaimedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, db.Create(&stale).Error)

	called := false
	require.NoError(t, locker.WithLock(context.Background(), func() error {
		called = true
		return nil
	}))
	assert.True(t, called)

	var remaining int64
	require.NoError(t, db.Model(&schemaLock{}).Count(&remaining).Error)
	assert.Zero(t, remaining, "claim is released after fn returns")
}

func TestMigrationLockNilDBIsNoop(t *testing.T) {
	locker := NewMigrationLocker(nil)
	called := false
	require.NoError(t, locker.WithLock(context.Background(), func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
}

func electorConfig(identity string) *Config {
	cfg := DefaultConfig()
	cfg.LeaderElectionEnabled = true
	cfg.Identity = identity
	cfg.LeaseDuration = 200 * time.Millisecond
	cfg.RenewInterval = 50 * time.Millisecond
	cfg.RetryPeriod = 20 * time.Millisecond
	return cfg
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestLeaderElectionSingleHolder(t *testing.T) {
	db := setupFileDB(t)

	first := NewLeaderElector(electorConfig("replica-1"), db, discardLogger())
	require.NoError(t, first.AutoMigrate())
	second := NewLeaderElector(electorConfig("replica-2"), db, discardLogger())

	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		first.Run(ctx1)
	}()
	waitFor(t, first.IsLeader, "first replica never became leader")

	wg.Add(1)
	go func() {
		defer wg.Done()
		second.Run(ctx2)
	}()

	// The lease is exclusive while the holder renews it.
	time.Sleep(300 * time.Millisecond)
	assert.True(t, first.IsLeader())
	assert.False(t, second.IsLeader())

	// On clean shutdown the lease is released and the other replica takes
	// over without waiting out the full lease duration.
	cancel1()
	waitFor(t, second.IsLeader, "second replica never took over")

	cancel2()
	wg.Wait()
}

func TestLeaderElectionDisabledIsAlwaysLeader(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Identity = "solo"
	elector := NewLeaderElector(cfg, nil, discardLogger())

	started := make(chan struct{})
	elector.OnStartLeading(func(ctx context.Context) { close(started) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		elector.Run(ctx)
		close(done)
	}()

	<-started
	assert.True(t, elector.IsLeader())
	cancel()
	<-done
	assert.False(t, elector.IsLeader())
}
