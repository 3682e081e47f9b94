// Package config holds the master's explicit, constructor-injected
// configuration. It replaces the process-wide singleton context the
// original Python master used: every component receives a *MasterConfig
// at construction time instead of reaching into a global.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Platform is the closed set of scaler platforms the CLI accepts.
// The scaler itself is an external collaborator and is never invoked
// from this repo; the master only validates and logs the selection.
type Platform string

const (
	PlatformLocal         Platform = "local"
	PlatformKubernetes     Platform = "kubernetes"
	PlatformPyKubernetes   Platform = "py_kubernetes"
	PlatformRay            Platform = "ray"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformLocal, PlatformKubernetes, PlatformPyKubernetes, PlatformRay:
		return true
	default:
		return false
	}
}

// DistributionStrategy mirrors the original job-args distribution
// strategy enum. It is only consulted to derive RelaunchAlways, the one
// place the original's update_context() lets the strategy override a
// per-node-type auto-scale flag.
type DistributionStrategy string

const (
	DistributionStrategyAllreduce DistributionStrategy = "allreduce"
	DistributionStrategyPS        DistributionStrategy = "ps"
)

// Bit-exact constants carried over from the original implementation
// (spec.md section 6, "Constants").
const (
	DefaultFaultPollSleep   = 2 * time.Second
	DefaultPollTimeout      = 300 * time.Second
	DefaultJoinTimeout      = 600 * time.Second
	DefaultWaitingTimeout   = 60 * time.Second
	DefaultHeartbeatPeriod  = 30 * time.Second
	DefaultEventExpiredTime = 3600 * time.Second
	DefaultHeartbeatTimeout = 90 * time.Second
	DefaultFailureTimeout   = 300 * time.Second
	MaxGRPCMessageSize      = 256 * 1024 * 1024

	DefaultClientRetryBackoff  = 5 * time.Second
	DefaultClientRetryAttempts = 10

	DefaultWorkerPoolSize = 64

	DefaultMinibatchesPerShard = 100

	// DefaultTaskAssignmentTimeout bounds how long a task may sit
	// outstanding before the task manager silently requeues its shard
	// (spec.md section 4.4, "Failure semantics"). Not itself a
	// bit-exact constant named in spec.md section 6. It is twice
	// DefaultFailureTimeout, so a node that stops heartbeating is
	// declared FAILED, and its tasks reclaimed, before its task
	// deadline passes.
	DefaultTaskAssignmentTimeout = 10 * time.Minute
)

// MasterConfig is the single explicit configuration object passed to
// every component constructor. The only field mutated after startup is
// Port (a node can ask for an ephemeral port at start and the actual
// bound port is recorded back here); it is guarded by its own mutex so
// readers never need to know about the rest of the struct's lifecycle.
type MasterConfig struct {
	mu   sync.RWMutex
	port int

	NodeNum              int
	JobName              string
	Platform             Platform
	Namespace            string
	DistributionStrategy DistributionStrategy
	RelaunchAlways       bool

	MasterAddr    string
	ClientTimeout time.Duration
	NodeIP        string
	LocalRank     int
	RunID         string

	WorkerPoolSize int
}

// New builds a MasterConfig from explicit CLI values, then layers in the
// environment variables spec.md section 6 says the master consumes.
func New(port, nodeNum int, jobName string, platform Platform, namespace string) (*MasterConfig, error) {
	if !platform.Valid() {
		return nil, fmt.Errorf("config: unknown platform %q", platform)
	}

	c := &MasterConfig{
		port:           port,
		NodeNum:        nodeNum,
		JobName:        jobName,
		Platform:       platform,
		Namespace:      namespace,
		ClientTimeout:  DefaultPollTimeout,
		WorkerPoolSize: DefaultWorkerPoolSize,
	}

	c.MasterAddr = os.Getenv("DLOCK_MASTER_ADDR")
	c.NodeIP = os.Getenv("NODE_IP")
	c.RunID = os.Getenv("TORCHELASTIC_RUN_ID")
	if v := os.Getenv("JOB_NAME"); v != "" && c.JobName == "" {
		c.JobName = v
	}
	if v := os.Getenv("MASTER_CLIENT_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.ClientTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("LOCAL_RANK"); v != "" {
		if rank, err := strconv.Atoi(v); err == nil {
			c.LocalRank = rank
		}
	}

	return c, nil
}

// Port returns the currently configured listen port.
func (c *MasterConfig) Port() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.port
}

// SetPort records the actual bound port, used when the CLI was given
// port 0 and the OS chose an ephemeral one.
func (c *MasterConfig) SetPort(p int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.port = p
}

// ApplyDistributionStrategy reproduces update_context()'s one derived
// default: allreduce jobs always relaunch, regardless of the per-node
// auto-scale flag the caller supplied.
func (c *MasterConfig) ApplyDistributionStrategy(strategy DistributionStrategy, relaunchAlways bool) {
	c.DistributionStrategy = strategy
	if strategy == DistributionStrategyAllreduce {
		relaunchAlways = true
	}
	c.RelaunchAlways = relaunchAlways
}

// overlay is the optional file shape LoadOverlay accepts. It is not
// driven by any CLI flag named in spec.md; it exists purely so an
// operator can override a handful of tunables from a file instead of
// flags. Nothing in cmd/master calls LoadOverlay.
type overlay struct {
	WorkerPoolSize int    `yaml:"worker_pool_size"`
	Namespace      string `yaml:"namespace"`
}

// LoadOverlay merges a YAML file's values into an existing config.
// Zero-valued fields in the overlay leave the config unchanged.
func LoadOverlay(c *MasterConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read overlay: %w", err)
	}
	var ov overlay
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return fmt.Errorf("config: parse overlay: %w", err)
	}
	if ov.WorkerPoolSize > 0 {
		c.WorkerPoolSize = ov.WorkerPoolSize
	}
	if ov.Namespace != "" {
		c.Namespace = ov.Namespace
	}
	return nil
}
