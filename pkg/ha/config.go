// Package ha provides high-availability primitives for running the datasite
// with multiple replicas behind a shared database: migration locking and
// lease-based leader election for singleton loops (the federation prober
// and retention sweeps).
package ha

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration for high-availability features.
type Config struct {
	// LeaderElectionEnabled controls whether lease-based leader election is
	// active. When false, the instance behaves as the sole leader, which is
	// correct for single-replica deployments.
	LeaderElectionEnabled bool

	// LeaseName names the lease row in the shared database.
	LeaseName string

	// LeaseDuration is how long an unrenewed lease remains valid.
	LeaseDuration time.Duration

	// RenewInterval is how often the leader refreshes its lease. It must be
	// comfortably below LeaseDuration.
	RenewInterval time.Duration

	// RetryPeriod is how often non-leaders retry acquisition.
	RetryPeriod time.Duration

	// MigrationLockEnabled controls whether schema migrations are serialized
	// across replicas.
	MigrationLockEnabled bool

	// Identity uniquely names this replica. Defaults to the hostname.
	Identity string
}

// DefaultConfig returns the HA defaults.
func DefaultConfig() *Config {
	return &Config{
		LeaderElectionEnabled: false,
		LeaseName:             "datasite-leader",
		LeaseDuration:         15 * time.Second,
		RenewInterval:         5 * time.Second,
		RetryPeriod:           2 * time.Second,
		MigrationLockEnabled:  true,
		Identity:              defaultIdentity(),
	}
}

// ConfigFromEnv reads HA configuration from environment variables, falling
// back to defaults for any unset variable.
//
// Environment variables:
//   - DATASITE_LEADER_ELECTION_ENABLED: "true" or "false" (default: "false")
//   - DATASITE_LEADER_LEASE_NAME: lease row name (default: "datasite-leader")
//   - DATASITE_LEADER_LEASE_DURATION: seconds (default: 15)
//   - DATASITE_LEADER_RENEW_INTERVAL: seconds (default: 5)
//   - DATASITE_LEADER_RETRY_PERIOD: seconds (default: 2)
//   - DATASITE_MIGRATION_LOCK_ENABLED: "true" or "false" (default: "true")
//   - DATASITE_REPLICA_IDENTITY: replica identity (default: hostname)
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("DATASITE_LEADER_ELECTION_ENABLED"); v != "" {
		cfg.LeaderElectionEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("DATASITE_LEADER_LEASE_NAME"); v != "" {
		cfg.LeaseName = v
	}
	if v := os.Getenv("DATASITE_LEADER_LEASE_DURATION"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.LeaseDuration = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("DATASITE_LEADER_RENEW_INTERVAL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.RenewInterval = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("DATASITE_LEADER_RETRY_PERIOD"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.RetryPeriod = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("DATASITE_MIGRATION_LOCK_ENABLED"); v != "" {
		cfg.MigrationLockEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("DATASITE_REPLICA_IDENTITY"); v != "" {
		cfg.Identity = v
	}
	return cfg
}

func defaultIdentity() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "unknown"
	}
	return hostname
}
