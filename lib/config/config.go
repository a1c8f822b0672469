// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Allocator backends.
const (
	AllocatorSQLite = "sqlite"
	AllocatorRedis  = "redis"
)

// Config is the master configuration for stamp.
type Config struct {
	Environment Environment `yaml:"environment"`

	// Authority is the identifier prefix of every artifact this
	// deployment issues, e.g. "ua-mvs".
	Authority string `yaml:"authority"`

	Paths       PathsConfig       `yaml:"paths"`
	Issuance    IssuanceConfig    `yaml:"issuance"`
	Shards      ShardsConfig      `yaml:"shards"`
	Replication ReplicationConfig `yaml:"replication"`
	Export      ExportConfig      `yaml:"export"`

	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per
// environment. Zero values leave the base value in place.
type ConfigOverrides struct {
	Paths       *PathsConfig       `yaml:"paths,omitempty"`
	Issuance    *IssuanceConfig    `yaml:"issuance,omitempty"`
	Shards      *ShardsConfig      `yaml:"shards,omitempty"`
	Replication *ReplicationConfig `yaml:"replication,omitempty"`
	Export      *ExportConfig      `yaml:"export,omitempty"`
}

// PathsConfig configures file locations.
type PathsConfig struct {
	// Root is the base directory for stamp data.
	Root string `yaml:"root"`

	// Database is the SQLite file holding counters, the shard index,
	// and artifact records.
	Database string `yaml:"database"`

	// Socket is the Unix socket the service listens on.
	Socket string `yaml:"socket"`

	// SealingKey is the hex-encoded master sealing key file.
	SealingKey string `yaml:"sealing_key"`

	// Exports is where shard bundles are written.
	Exports string `yaml:"exports"`
}

// IssuanceConfig configures the batch generator and allocator.
type IssuanceConfig struct {
	// SubBatchSize is the number of requests per sub-batch.
	SubBatchSize int `yaml:"sub_batch_size"`

	// ConcurrencyLimit bounds the number of sub-batches in flight.
	ConcurrencyLimit int `yaml:"concurrency_limit"`

	// CallTimeout is the deadline of each allocation and append call.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// Allocator selects the sequence backend: "sqlite" or "redis".
	Allocator string `yaml:"allocator"`

	// RedisAddr is the Redis address used when Allocator is "redis".
	RedisAddr string `yaml:"redis_addr"`
}

// ShardsConfig configures the shard manager.
type ShardsConfig struct {
	// MaxBytes is the capacity of one shard.
	MaxBytes int64 `yaml:"max_bytes"`

	// TimeBucket is the width of a shard time bucket.
	TimeBucket time.Duration `yaml:"time_bucket"`

	// SealSweepInterval is how often elapsed buckets are sealed and
	// failed finalizations retried.
	SealSweepInterval time.Duration `yaml:"seal_sweep_interval"`
}

// ReplicationConfig configures replica destinations. Factor counts
// the primary, so Factor-1 destinations must be configured across
// SegmentDirs, RedisAddrs, and PostgresDSNs.
type ReplicationConfig struct {
	Factor       int      `yaml:"factor"`
	SegmentDirs  []string `yaml:"segment_dirs"`
	RedisAddrs   []string `yaml:"redis_addrs"`
	PostgresDSNs []string `yaml:"postgres_dsns"`
}

// Destinations returns the number of configured replica destinations.
func (r ReplicationConfig) Destinations() int {
	return len(r.SegmentDirs) + len(r.RedisAddrs) + len(r.PostgresDSNs)
}

// ExportConfig configures shard bundle export.
type ExportConfig struct {
	// Compression is "none", "lz4", or "zstd".
	Compression string `yaml:"compression"`

	// Recipients are age public keys. When non-empty, bundles are
	// encrypted to all of them.
	Recipients []string `yaml:"recipients"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "stamp")

	return &Config{
		Environment: Development,
		Authority:   "stamp",
		Paths: PathsConfig{
			Root:       defaultRoot,
			Database:   "${STAMP_ROOT}/stamp.db",
			Socket:     "${STAMP_ROOT}/stamp.sock",
			SealingKey: "${STAMP_ROOT}/sealing.key",
			Exports:    "${STAMP_ROOT}/exports",
		},
		Issuance: IssuanceConfig{
			SubBatchSize:     1000,
			ConcurrencyLimit: runtime.GOMAXPROCS(0),
			CallTimeout:      5 * time.Second,
			Allocator:        AllocatorSQLite,
		},
		Shards: ShardsConfig{
			MaxBytes:          64 << 20,
			TimeBucket:        time.Hour,
			SealSweepInterval: time.Minute,
		},
		Replication: ReplicationConfig{
			Factor: 3,
			SegmentDirs: []string{
				"${STAMP_ROOT}/replicas/a",
				"${STAMP_ROOT}/replicas/b",
			},
		},
		Export: ExportConfig{
			Compression: "zstd",
		},
	}
}

// Load loads configuration from the file named by STAMP_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv("STAMP_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("STAMP_CONFIG environment variable not set; " +
			"set it to the path of your stamp.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. Environment
// variables do not override values; they only feed ${VAR} expansion
// in path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if paths := overrides.Paths; paths != nil {
		overrideString(&c.Paths.Root, paths.Root)
		overrideString(&c.Paths.Database, paths.Database)
		overrideString(&c.Paths.Socket, paths.Socket)
		overrideString(&c.Paths.SealingKey, paths.SealingKey)
		overrideString(&c.Paths.Exports, paths.Exports)
	}

	if issuance := overrides.Issuance; issuance != nil {
		overrideNonZero(&c.Issuance.SubBatchSize, issuance.SubBatchSize)
		overrideNonZero(&c.Issuance.ConcurrencyLimit, issuance.ConcurrencyLimit)
		overrideNonZero(&c.Issuance.CallTimeout, issuance.CallTimeout)
		overrideString(&c.Issuance.Allocator, issuance.Allocator)
		overrideString(&c.Issuance.RedisAddr, issuance.RedisAddr)
	}

	if shards := overrides.Shards; shards != nil {
		overrideNonZero(&c.Shards.MaxBytes, shards.MaxBytes)
		overrideNonZero(&c.Shards.TimeBucket, shards.TimeBucket)
		overrideNonZero(&c.Shards.SealSweepInterval, shards.SealSweepInterval)
	}

	if replication := overrides.Replication; replication != nil {
		overrideNonZero(&c.Replication.Factor, replication.Factor)
		if replication.SegmentDirs != nil {
			c.Replication.SegmentDirs = replication.SegmentDirs
		}
		if replication.RedisAddrs != nil {
			c.Replication.RedisAddrs = replication.RedisAddrs
		}
		if replication.PostgresDSNs != nil {
			c.Replication.PostgresDSNs = replication.PostgresDSNs
		}
	}

	if export := overrides.Export; export != nil {
		overrideString(&c.Export.Compression, export.Compression)
		if export.Recipients != nil {
			c.Export.Recipients = export.Recipients
		}
	}
}

func overrideString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func overrideNonZero[T int | int64 | time.Duration](target *T, value T) {
	if value != 0 {
		*target = value
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"STAMP_ROOT": c.Paths.Root,
		"HOME":       os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["STAMP_ROOT"] = c.Paths.Root

	c.Paths.Database = expandVars(c.Paths.Database, vars)
	c.Paths.Socket = expandVars(c.Paths.Socket, vars)
	c.Paths.SealingKey = expandVars(c.Paths.SealingKey, vars)
	c.Paths.Exports = expandVars(c.Paths.Exports, vars)
	for index, dir := range c.Replication.SegmentDirs {
		c.Replication.SegmentDirs[index] = expandVars(dir, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var authorityPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if !authorityPattern.MatchString(c.Authority) {
		errs = append(errs, fmt.Errorf("authority %q must be lower-case alphanumeric words joined by '-'", c.Authority))
	}

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.Database == "" {
		errs = append(errs, fmt.Errorf("paths.database is required"))
	}
	if c.Paths.Socket == "" {
		errs = append(errs, fmt.Errorf("paths.socket is required"))
	}
	if c.Paths.SealingKey == "" {
		errs = append(errs, fmt.Errorf("paths.sealing_key is required"))
	}

	if c.Issuance.SubBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("issuance.sub_batch_size must be positive"))
	}
	if c.Issuance.ConcurrencyLimit <= 0 {
		errs = append(errs, fmt.Errorf("issuance.concurrency_limit must be positive"))
	}
	if c.Issuance.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("issuance.call_timeout must be positive"))
	}
	switch c.Issuance.Allocator {
	case AllocatorSQLite:
	case AllocatorRedis:
		if c.Issuance.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("issuance.redis_addr is required when issuance.allocator is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("issuance.allocator must be one of: sqlite, redis"))
	}

	if c.Shards.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("shards.max_bytes must be positive"))
	}
	if c.Shards.TimeBucket < time.Minute || (24*time.Hour)%c.Shards.TimeBucket != 0 {
		errs = append(errs, fmt.Errorf("shards.time_bucket must be at least 1m and divide 24h evenly"))
	}
	if c.Shards.SealSweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("shards.seal_sweep_interval must be positive"))
	}

	if c.Replication.Factor < 1 {
		errs = append(errs, fmt.Errorf("replication.factor must be at least 1"))
	} else if destinations := c.Replication.Destinations(); destinations < c.Replication.Factor-1 {
		errs = append(errs, fmt.Errorf("replication.factor %d needs %d destinations, %d configured",
			c.Replication.Factor, c.Replication.Factor-1, destinations))
	}

	switch c.Export.Compression {
	case "none", "lz4", "zstd":
	default:
		errs = append(errs, fmt.Errorf("export.compression must be one of: none, lz4, zstd"))
	}
	if c.Environment == Production && len(c.Export.Recipients) == 0 {
		errs = append(errs, fmt.Errorf("export.recipients is required in production"))
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		filepath.Dir(c.Paths.Database),
		filepath.Dir(c.Paths.Socket),
		c.Paths.Exports,
	}
	paths = append(paths, c.Replication.SegmentDirs...)

	for _, path := range paths {
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
