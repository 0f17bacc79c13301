// Package config loads and defaults the coordinator/heart process
// configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultJobTimeout is the timeout applied to a job dispatch when its
	// body does not declare its own override (SPEC_FULL Open Question 2).
	DefaultJobTimeout = 5 * time.Minute

	// DefaultNodeConcurrency is the maximum number of RUNNING jobs the
	// Runnable Selector will allow on a single node at once.
	DefaultNodeConcurrency = 4

	// DefaultNodeLossGrace is how long a node can go without a heartbeat
	// before the Abort & Timeout Coordinator treats it as lost.
	DefaultNodeLossGrace = 30 * time.Second

	// DefaultPortRangeLow and DefaultPortRangeHigh bound the port
	// allocation pkg/placement performs for coordinate.select_locations.
	DefaultPortRangeLow  = 42600
	DefaultPortRangeHigh = 42699

	// DefaultOrphanSweepCron runs the node-loss/orphan sweep every 15s.
	DefaultOrphanSweepCron = "@every 15s"
)

// BodyTimeout overrides the default job timeout for one body_type.
type BodyTimeout struct {
	Body    string        `yaml:"body"`
	Timeout time.Duration `yaml:"timeout"`
}

// Config is the top-level configuration for a pacemaker process, whether it
// is running the coordinator role, the heart role, or both embedded in one
// binary.
type Config struct {
	DataDir string `yaml:"data_dir"`

	// BindAddr is the coordinator's gRPC listen address for the Node
	// Channel (pkg/rpc).
	BindAddr string `yaml:"bind_addr"`

	// StreamAddr is the websocket listen address for the Streaming API
	// Facade (pkg/stream).
	StreamAddr string `yaml:"stream_addr"`

	NodeUUID string `yaml:"node_uuid"`

	JobTimeout       time.Duration `yaml:"job_timeout"`
	BodyTimeouts     []BodyTimeout `yaml:"body_timeouts"`
	NodeConcurrency  int           `yaml:"node_concurrency"`
	NodeLossGrace    time.Duration `yaml:"node_loss_grace"`
	OrphanSweepCron  string        `yaml:"orphan_sweep_cron"`
	PortRangeLow     int           `yaml:"port_range_low"`
	PortRangeHigh    int           `yaml:"port_range_high"`

	RouterAddr string `yaml:"router_addr"`
	RouterDB   int    `yaml:"router_db"`

	AuthSecret string `yaml:"auth_secret"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Default returns a Config with every field set to its documented default.
func Default() *Config {
	return &Config{
		DataDir:         "./data",
		BindAddr:        ":42500",
		StreamAddr:      ":42501",
		JobTimeout:      DefaultJobTimeout,
		NodeConcurrency: DefaultNodeConcurrency,
		NodeLossGrace:   DefaultNodeLossGrace,
		OrphanSweepCron: DefaultOrphanSweepCron,
		PortRangeLow:    DefaultPortRangeLow,
		PortRangeHigh:   DefaultPortRangeHigh,
		RouterAddr:      "localhost:6379",
		LogLevel:        "info",
	}
}

// Load reads a YAML file at path and layers it over Default(). A missing
// file is not an error; the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// TimeoutFor resolves the effective dispatch timeout for a body_type,
// falling back to JobTimeout when no override is registered.
func (c *Config) TimeoutFor(bodyType string) time.Duration {
	for _, bt := range c.BodyTimeouts {
		if bt.Body == bodyType {
			return bt.Timeout
		}
	}
	return c.JobTimeout
}
