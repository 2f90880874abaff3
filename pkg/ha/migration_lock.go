package ha

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"time"

	"gorm.io/gorm"
)

// MigrationLocker serializes schema migrations so concurrent AutoMigrate
// calls from multiple replicas cannot race on the shared database.
type MigrationLocker interface {
	// WithLock executes fn while holding the migration lock. It blocks until
	// the lock is acquired and releases it after fn returns.
	WithLock(ctx context.Context, fn func() error) error
}

// NewMigrationLocker picks a locking strategy for the database dialect: a
// session advisory lock on PostgreSQL, a claim-table lock elsewhere. A nil db
// returns a locker that runs fn unguarded.
func NewMigrationLocker(db *gorm.DB) MigrationLocker {
	switch {
	case db == nil:
		return unguarded{}
	case db.Dialector.Name() == "postgres":
		h := fnv.New32a()
		_, _ = h.Write([]byte("datasite.schema"))
		return &advisoryLock{db: db, key: int64(h.Sum32())}
	default:
		// The claim table must exist before the first contended WithLock.
		_ = db.AutoMigrate(&schemaLock{})
		return &tableLock{
			db:         db,
			owner:      lockOwner(),
			staleAfter: 5 * time.Minute,
			retryEvery: time.Second,
			maxWait:    30 * time.Second,
		}
	}
}

type unguarded struct{}

func (unguarded) WithLock(_ context.Context, fn func() error) error { return fn() }

// advisoryLock holds a PostgreSQL session advisory lock for the duration of
// the migration.
type advisoryLock struct {
	db  *gorm.DB
	key int64
}

func (l *advisoryLock) WithLock(ctx context.Context, fn func() error) error {
	if err := l.db.WithContext(ctx).Exec("SELECT pg_advisory_lock(?)", l.key).Error; err != nil {
		return fmt.Errorf("acquire migration advisory lock: %w", err)
	}
	defer func() {
		_ = l.db.Exec("SELECT pg_advisory_unlock(?)", l.key).Error
	}()
	return fn()
}

// schemaLock is the single claim row on databases without advisory locks.
// Insertion succeeding is the lock; ClaimedAt lets survivors of a crashed
// holder reclaim it.
type schemaLock struct {
	Name      string    `gorm:"primaryKey;column:name"`
	Owner     string    `gorm:"column:owner"`
	ClaimedAt time.Time `gorm:"column:claimed_at"`
}

func (schemaLock) TableName() string { return "schema_locks" }

const schemaLockName = "schema"

// tableLock claims the schemaLock row with INSERT-or-fail semantics,
// retrying until maxWait elapses. Claims older than staleAfter are treated
// as abandoned and removed before each attempt.
type tableLock struct {
	db         *gorm.DB
	owner      string
	staleAfter time.Duration
	retryEvery time.Duration
	maxWait    time.Duration
}

func (l *tableLock) WithLock(ctx context.Context, fn func() error) error {
	if err := l.claim(ctx); err != nil {
		return err
	}
	defer func() {
		l.db.Where("name = ?", schemaLockName).Delete(&schemaLock{})
	}()
	return fn()
}

func (l *tableLock) claim(ctx context.Context) error {
	deadline := time.Now().Add(l.maxWait)
	for {
		l.db.WithContext(ctx).
			Where("name = ? AND claimed_at < ?", schemaLockName, time.Now().Add(-l.staleAfter)).
			Delete(&schemaLock{})

		row := schemaLock{Name: schemaLockName, Owner: l.owner, ClaimedAt: time.Now()}
		err := l.db.WithContext(ctx).Create(&row).Error
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("migration lock still held after %s: %w", l.maxWait, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryEvery):
		}
	}
}

func lockOwner() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "unknown"
	}
	return hostname
}
