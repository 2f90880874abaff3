package jobs

import (
	"os"
	"strconv"
	"time"
)

// Config controls queue and worker behavior. The producer/consumer split is
// configurable independently: an instance may inject jobs without running
// workers, run in-memory workers, or both.
type Config struct {
	Consumers         int           // Concurrent worker goroutines. Default 3.
	CreateProducer    bool          // Whether this instance accepts job submissions. Default true.
	InMemoryWorkers   bool          // Whether workers run co-located in this process. Default true.
	QueuePort         int           // Reserved for an external-worker queue listener; in-process workers never bind it. Default 5556.
	PollInterval      time.Duration // How often idle workers poll for jobs. Default 2s.
	LeaseDuration     time.Duration // How long a claim holds before the job is reclaimable. Default 5m.
	HeartbeatInterval time.Duration // How often a running worker extends its lease. Default 30s.
	MaxErrorBytes     int           // Upper bound on stored error summaries. Default 1024.
	RetentionDays     int           // How long terminal jobs are kept. Default 7.
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() *Config {
	return &Config{
		Consumers:         3,
		CreateProducer:    true,
		InMemoryWorkers:   true,
		QueuePort:         5556,
		PollInterval:      2 * time.Second,
		LeaseDuration:     5 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
		MaxErrorBytes:     1024,
		RetentionDays:     7,
	}
}

// ConfigFromEnv loads config from environment variables:
// DATASITE_N_CONSUMERS, DATASITE_CREATE_PRODUCER, DATASITE_INMEMORY_WORKERS,
// DATASITE_QUEUE_PORT, DATASITE_JOB_POLL_INTERVAL_SECONDS,
// DATASITE_JOB_LEASE_SECONDS, DATASITE_JOB_RETENTION_DAYS.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("DATASITE_N_CONSUMERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Consumers = n
		}
	}
	if v := os.Getenv("DATASITE_CREATE_PRODUCER"); v != "" {
		cfg.CreateProducer, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("DATASITE_INMEMORY_WORKERS"); v != "" {
		cfg.InMemoryWorkers, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("DATASITE_QUEUE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.QueuePort = n
		}
	}
	if v := os.Getenv("DATASITE_JOB_POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("DATASITE_JOB_LEASE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LeaseDuration = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("DATASITE_JOB_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetentionDays = n
		}
	}

	return cfg
}
