/*
Package config loads ringcoord's configuration surface from YAML, covering
ring delay and timeouts, bootstrap/replace/decommission options, failure
policy, and encryption toggles.
*/
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FailurePolicy selects how a node reacts to a disk or commit-log error.
type FailurePolicy string

const (
	PolicyStop   FailurePolicy = "stop"
	PolicyIgnore FailurePolicy = "ignore"
)

// Config is the complete configuration surface recognized by the core, per
// the external-interfaces section of the coordinator specification.
type Config struct {
	Timeouts      TimeoutConfig       `yaml:"timeouts"`
	Bootstrap     BootstrapConfig     `yaml:"bootstrap"`
	Replace       ReplaceConfig       `yaml:"replace"`
	FailurePolicy FailurePolicyConfig `yaml:"failure_policy"`
	Shutdown      ShutdownConfig      `yaml:"shutdown"`
	Encryption    EncryptionConfig    `yaml:"encryption"`
	Partitioner   PartitionerConfig   `yaml:"partitioner"`
	Storage       StorageConfig       `yaml:"storage"`
}

// StorageConfig names where local persisted state (system.local,
// gossip quarantine) lives on disk, distinct from the external
// StorageEngine's own data directory.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// TimeoutConfig holds the `*_request_timeout_in_ms` and `ring_delay_ms`
// surface.
type TimeoutConfig struct {
	RingDelayMS              int64 `yaml:"ring_delay_ms"`
	WriteRequestTimeoutMS    int64 `yaml:"write_request_timeout_in_ms"`
	ReadRequestTimeoutMS     int64 `yaml:"read_request_timeout_in_ms"`
	TruncateRequestTimeoutMS int64 `yaml:"truncate_request_timeout_in_ms"`
	CounterWriteTimeoutMS    int64 `yaml:"counter_write_request_timeout_in_ms"`
}

func (t TimeoutConfig) RingDelay() time.Duration {
	return time.Duration(t.RingDelayMS) * time.Millisecond
}

func (t TimeoutConfig) WriteTimeout() time.Duration {
	return time.Duration(t.WriteRequestTimeoutMS) * time.Millisecond
}

func (t TimeoutConfig) ReadTimeout() time.Duration {
	return time.Duration(t.ReadRequestTimeoutMS) * time.Millisecond
}

func (t TimeoutConfig) TruncateTimeout() time.Duration {
	return time.Duration(t.TruncateRequestTimeoutMS) * time.Millisecond
}

func (t TimeoutConfig) CounterWriteTimeout() time.Duration {
	return time.Duration(t.CounterWriteTimeoutMS) * time.Millisecond
}

// BootstrapConfig governs how a node joins the ring.
type BootstrapConfig struct {
	NumTokens               int    `yaml:"num_tokens"`
	InitialToken            string `yaml:"initial_token"`
	AutoBootstrap           bool   `yaml:"auto_bootstrap"`
	JoinRing                bool   `yaml:"join_ring"`
	ConsistentRangemovement bool   `yaml:"consistent_rangemovement"`
	LoadRingState           bool   `yaml:"load_ring_state"`
	OverrideDecommission    bool   `yaml:"override_decommission"`
}

// ReplaceConfig governs replace-in-place bootstrap.
type ReplaceConfig struct {
	Address string `yaml:"replace_address"`
	Token   string `yaml:"replace_token"`
	Node    bool   `yaml:"replace_node"`
}

// FailurePolicyConfig governs how disk/commit-log errors are handled.
type FailurePolicyConfig struct {
	Disk   FailurePolicy `yaml:"disk_failure_policy"`
	Commit FailurePolicy `yaml:"commit_failure_policy"`
}

// ShutdownConfig governs graceful shutdown announcement.
type ShutdownConfig struct {
	AnnounceInMS           int64 `yaml:"shutdown_announce_in_ms"`
	SkipWaitForGossipSettle bool  `yaml:"skip_wait_for_gossip_to_settle"`
}

func (s ShutdownConfig) AnnounceDelay() time.Duration {
	return time.Duration(s.AnnounceInMS) * time.Millisecond
}

// EncryptionConfig covers both inter-node and client-facing TLS.
type EncryptionConfig struct {
	InterNode TLSOptions `yaml:"inter_node"`
	Client    TLSOptions `yaml:"client"`
}

// TLSOptions is the `{enabled, certificate, keyfile, dh_level}` tuple named
// in the configuration surface.
type TLSOptions struct {
	Enabled     bool   `yaml:"enabled"`
	Certificate string `yaml:"certificate"`
	Keyfile     string `yaml:"keyfile"`
	DHLevel     string `yaml:"dh_level"`
}

// PartitionerConfig selects and configures the ring partitioner.
type PartitionerConfig struct {
	Name       string `yaml:"name"`
	ShardCount int    `yaml:"shard_count"`
	IgnoreMSB  int    `yaml:"ignore_msb"`
}

// Default returns the configuration the reference implementation ships
// with when no file is supplied.
func Default() Config {
	return Config{
		Timeouts: TimeoutConfig{
			RingDelayMS:              30_000,
			WriteRequestTimeoutMS:    2_000,
			ReadRequestTimeoutMS:     5_000,
			TruncateRequestTimeoutMS: 60_000,
			CounterWriteTimeoutMS:    5_000,
		},
		Bootstrap: BootstrapConfig{
			NumTokens:     256,
			AutoBootstrap: true,
			JoinRing:      true,
		},
		FailurePolicy: FailurePolicyConfig{
			Disk:   PolicyStop,
			Commit: PolicyStop,
		},
		Shutdown: ShutdownConfig{
			AnnounceInMS: 2_000,
		},
		Partitioner: PartitionerConfig{
			Name:       "murmur3",
			ShardCount: 1,
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
	}
}

// Load reads and parses a YAML configuration file, starting from Default()
// so unset fields keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
