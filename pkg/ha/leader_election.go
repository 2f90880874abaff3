package ha

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"
)

// leaderLease is the lease row replicas compete for in the shared database.
type leaderLease struct {
	ID        string    `gorm:"primaryKey;column:id"`
	Holder    string    `gorm:"column:holder;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null"`
}

func (leaderLease) TableName() string { return "leader_lease" }

// LeaderElector manages database lease-based leader election for singleton
// background loops. Only the leader replica runs the federation prober and
// retention sweeps; job workers run on every replica because claims are
// already serialized by the queue.
type LeaderElector struct {
	cfg    *Config
	db     *gorm.DB
	logger *slog.Logger

	mu       sync.RWMutex
	isLeader bool

	onStart func(ctx context.Context)
	onStop  func()
}

// NewLeaderElector creates a LeaderElector. Identity comes from the config
// and must be unique per replica.
func NewLeaderElector(cfg *Config, db *gorm.DB, logger *slog.Logger) *LeaderElector {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaderElector{cfg: cfg, db: db, logger: logger}
}

// OnStartLeading registers a callback invoked when this replica becomes
// leader. The callback's context is cancelled when leadership is lost.
func (le *LeaderElector) OnStartLeading(fn func(ctx context.Context)) {
	le.onStart = fn
}

// OnStopLeading registers a callback invoked when leadership is lost.
func (le *LeaderElector) OnStopLeading(fn func()) {
	le.onStop = fn
}

// IsLeader reports whether this replica currently holds the lease.
func (le *LeaderElector) IsLeader() bool {
	le.mu.RLock()
	defer le.mu.RUnlock()
	return le.isLeader
}

// AutoMigrate creates the lease table.
func (le *LeaderElector) AutoMigrate() error {
	if le.db == nil {
		return nil
	}
	return le.db.AutoMigrate(&leaderLease{})
}

// Run drives the acquire/renew loop until the context is cancelled. With
// leader election disabled it becomes leader immediately and stays leader,
// so single-replica deployments need no special casing.
func (le *LeaderElector) Run(ctx context.Context) {
	if !le.cfg.LeaderElectionEnabled || le.db == nil {
		le.becomeLeader(ctx)
		<-ctx.Done()
		le.loseLeadership()
		return
	}

	le.logger.Info("starting leader election",
		"identity", le.cfg.Identity,
		"lease", le.cfg.LeaseName,
		"leaseDuration", le.cfg.LeaseDuration,
		"renewInterval", le.cfg.RenewInterval,
	)

	var leaderCtx context.Context
	var cancelLeader context.CancelFunc

	ticker := time.NewTicker(le.cfg.RetryPeriod)
	defer ticker.Stop()

	for {
		held := le.tryAcquireOrRenew()
		switch {
		case held && !le.IsLeader():
			leaderCtx, cancelLeader = context.WithCancel(ctx)
			le.becomeLeader(leaderCtx)
			ticker.Reset(le.cfg.RenewInterval)
		case !held && le.IsLeader():
			if cancelLeader != nil {
				cancelLeader()
			}
			le.loseLeadership()
			ticker.Reset(le.cfg.RetryPeriod)
		}

		select {
		case <-ctx.Done():
			if le.IsLeader() {
				if cancelLeader != nil {
					cancelLeader()
				}
				le.loseLeadership()
				le.release()
			}
			return
		case <-ticker.C:
		}
	}
}

// tryAcquireOrRenew attempts one lease acquisition or renewal and reports
// whether the lease is held afterwards. Both paths are compare-and-set
// updates so two replicas can never both succeed.
func (le *LeaderElector) tryAcquireOrRenew() bool {
	now := time.Now()
	expires := now.Add(le.cfg.LeaseDuration)

	// Renew or steal an expired lease.
	result := le.db.Model(&leaderLease{}).
		Where("id = ? AND (holder = ? OR expires_at < ?)", le.cfg.LeaseName, le.cfg.Identity, now).
		Updates(map[string]interface{}{"holder": le.cfg.Identity, "expires_at": expires})
	if result.Error != nil {
		le.logger.Error("lease update failed", "error", result.Error)
		return false
	}
	if result.RowsAffected > 0 {
		return true
	}

	// No row yet: first replica creates it. A unique-key conflict means
	// another replica won the race.
	var count int64
	if err := le.db.Model(&leaderLease{}).Where("id = ?", le.cfg.LeaseName).Count(&count).Error; err != nil {
		le.logger.Error("lease lookup failed", "error", err)
		return false
	}
	if count > 0 {
		return false
	}
	err := le.db.Create(&leaderLease{ID: le.cfg.LeaseName, Holder: le.cfg.Identity, ExpiresAt: expires}).Error
	return err == nil
}

// release drops the lease on clean shutdown so a successor does not wait
// out the full lease duration.
func (le *LeaderElector) release() {
	le.db.Where("id = ? AND holder = ?", le.cfg.LeaseName, le.cfg.Identity).Delete(&leaderLease{})
}

func (le *LeaderElector) becomeLeader(ctx context.Context) {
	le.mu.Lock()
	le.isLeader = true
	le.mu.Unlock()
	le.logger.Info("elected as leader", "identity", le.cfg.Identity)
	if le.onStart != nil {
		le.onStart(ctx)
	}
}

func (le *LeaderElector) loseLeadership() {
	le.mu.Lock()
	le.isLeader = false
	le.mu.Unlock()
	le.logger.Info("lost leadership", "identity", le.cfg.Identity)
	if le.onStop != nil {
		le.onStop()
	}
}
