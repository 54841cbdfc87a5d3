// Package config centralizes the tunable parameters of a kadledger node.
// Values are loaded from YAML with defaults applied for anything the file
// omits, so a node can run from nothing more than its positional
// self_port and bootstrap_port arguments.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in the protocol (spec §4, §5, §7).
type Config struct {
	// K is the bucket replication parameter (spec §4.1).
	K int `yaml:"k"`
	// Alpha is the lookup concurrency parameter (spec §4.3).
	Alpha int `yaml:"alpha"`
	// Difficulty is the leading-zero-bit target for JOIN proof-of-work
	// (spec §4.2).
	Difficulty int `yaml:"difficulty"`

	// RPCTimeout bounds a single outbound RPC (spec §5: T_rpc).
	RPCTimeout time.Duration `yaml:"rpc_timeout"`
	// LookupTimeout bounds a whole iterative lookup (spec §5: T_lookup).
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
	// RepublishInterval is how often locally-stored values are
	// republished (spec §5: T_republish).
	RepublishInterval time.Duration `yaml:"republish_interval"`
	// ExpireInterval is the age at which a stored value is dropped
	// (spec §5: T_expire).
	ExpireInterval time.Duration `yaml:"expire_interval"`
	// RefreshInterval is the staleness threshold that triggers a bucket
	// refresh lookup (spec §5: T_refresh).
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// PendingRPCLimit caps concurrently in-flight inbound RPCs
	// (spec §5: M_pending).
	PendingRPCLimit int `yaml:"pending_rpc_limit"`

	// LogLevel is one of debug/info/warn/error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the protocol's default parameterization.
func Default() Config {
	return Config{
		K:                 20,
		Alpha:             3,
		Difficulty:        20,
		RPCTimeout:        2 * time.Second,
		LookupTimeout:     15 * time.Second,
		RepublishInterval: 1 * time.Hour,
		ExpireInterval:    24 * time.Hour,
		RefreshInterval:   1 * time.Hour,
		PendingRPCLimit:   256,
		LogLevel:          "info",
	}
}

// Load reads a YAML file at path and overlays it onto Default(). A zero
// value for any field in the file leaves the default in place only if
// the field was entirely absent — fields present but zero are still
// honored by yaml's decode-into-default semantics.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
