// Package config loads the datasite server configuration from defaults, an
// optional YAML file, and DATASITE_* environment variables, in increasing
// precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	// Name and PublicURL identify this datasite to federation peers.
	Name      string `mapstructure:"name"`
	PublicURL string `mapstructure:"public_url"`

	ListenAddr string `mapstructure:"listen_addr"`

	// DatabaseType is sqlite, postgres, or mysql.
	DatabaseType string `mapstructure:"database_type"`
	DatabaseDSN  string `mapstructure:"database_dsn"`

	// Blob storage.
	BlobRoot             string `mapstructure:"blob_root"`
	UseBlobStorage       bool   `mapstructure:"use_blob_storage"`
	MinSizeBlobStorageMB int    `mapstructure:"min_size_blob_storage_mb"`

	// Job queue and worker pool.
	QueuePort       int           `mapstructure:"queue_port"`
	NConsumers      int           `mapstructure:"n_consumers"`
	CreateProducer  bool          `mapstructure:"create_producer"`
	InMemoryWorkers bool          `mapstructure:"inmemory_workers"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	LeaseDuration   time.Duration `mapstructure:"lease_duration"`

	// Federation. NetworkCheckInterval is the peer reachability probe
	// cadence; DatasiteCheckInterval is the cadence of this site's own
	// association housekeeping (the timeout sweep of undecided requests).
	NetworkCheckInterval  time.Duration `mapstructure:"network_check_interval"`
	DatasiteCheckInterval time.Duration `mapstructure:"datasite_check_interval"`
	AssociationTimeout    time.Duration `mapstructure:"association_timeout"`
	AutoApproveAssoc      bool          `mapstructure:"association_request_auto_approval"`

	// Authentication: header (development) or jwt.
	AuthMode         string `mapstructure:"auth_mode"`
	JWTRoleClaim     string `mapstructure:"jwt_role_claim"`
	JWTPublicKeyPath string `mapstructure:"jwt_public_key_path"`
	JWTIssuer        string `mapstructure:"jwt_issuer"`
	JWTAudience      string `mapstructure:"jwt_audience"`

	// Method policy overrides.
	PolicyPath string `mapstructure:"policy_path"`

	AuditRetentionDays int    `mapstructure:"audit_retention_days"`
	LogLevel           string `mapstructure:"log_level"`
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("name", "datasite")
	v.SetDefault("public_url", "http://localhost:8080")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("database_type", "sqlite")
	v.SetDefault("database_dsn", "file:datasite.db?_pragma=busy_timeout(10000)")
	v.SetDefault("blob_root", "/var/lib/datasite/blobs")
	v.SetDefault("use_blob_storage", true)
	v.SetDefault("min_size_blob_storage_mb", 16)
	v.SetDefault("queue_port", 5556)
	v.SetDefault("n_consumers", 2)
	v.SetDefault("create_producer", true)
	v.SetDefault("inmemory_workers", true)
	v.SetDefault("poll_interval", 2*time.Second)
	v.SetDefault("lease_duration", 5*time.Minute)
	v.SetDefault("network_check_interval", time.Minute)
	v.SetDefault("datasite_check_interval", time.Minute)
	v.SetDefault("association_timeout", 24*time.Hour)
	v.SetDefault("association_request_auto_approval", false)
	v.SetDefault("auth_mode", "header")
	v.SetDefault("jwt_role_claim", "role")
	v.SetDefault("audit_retention_days", 90)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("DATASITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	switch c.DatabaseType {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database_type %q (expected sqlite, postgres, or mysql)", c.DatabaseType)
	}
	switch c.AuthMode {
	case "header", "jwt":
	default:
		return fmt.Errorf("unsupported auth_mode %q (expected header or jwt)", c.AuthMode)
	}
	if c.NConsumers < 0 {
		return fmt.Errorf("n_consumers must not be negative, got %d", c.NConsumers)
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database_dsn is required")
	}
	if c.UseBlobStorage && c.BlobRoot == "" {
		return fmt.Errorf("blob_root is required when use_blob_storage is set")
	}
	return nil
}
