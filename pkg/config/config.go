// Package config provides a reusable loader for the node's configuration
// file and environment variable overrides. It is versioned so that
// applications can depend on a stable API contract.
//
// Version: v0.2.0
package config

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/viper"

	"synnergy-core/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.2.0"

// Config is the node's typed configuration, covering network, consensus,
// and storage parameters a deployment needs to set.
type Config struct {
	ListenEndpoint       string   `mapstructure:"listen_endpoint" json:"listen_endpoint"`
	BootstrapEndpoints   []string `mapstructure:"bootstrap_endpoints" json:"bootstrap_endpoints"`
	MaxPeers             int      `mapstructure:"max_peers" json:"max_peers"`
	PingFrequencySeconds int      `mapstructure:"ping_frequency_seconds" json:"ping_frequency_seconds"`
	InitialPeerRating    int      `mapstructure:"initial_peer_rating" json:"initial_peer_rating"`
	PowTarget            string   `mapstructure:"pow_target" json:"pow_target"` // hex-encoded 32 bytes
	GenesisPath          string   `mapstructure:"genesis_path" json:"genesis_path"`

	BlockReward         uint64 `mapstructure:"block_reward" json:"block_reward"`
	RewardHalvingPeriod uint64 `mapstructure:"reward_halving_period" json:"reward_halving_period"`

	DataDir              string `mapstructure:"data_dir" json:"data_dir"`
	SnapshotIntervalDepth uint64 `mapstructure:"snapshot_interval_depth" json:"snapshot_interval_depth"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// defaults holds the built-in values used when neither the config file nor
// an environment variable sets a field: max_peers 32, ping frequency 15s,
// initial rating 100, plus the block-reward/halving constants.
func defaults() map[string]any {
	return map[string]any{
		"listen_endpoint":         "0.0.0.0:9333",
		"max_peers":               32,
		"ping_frequency_seconds":  15,
		"initial_peer_rating":     100,
		"block_reward":            5_000_000_000,
		"reward_halving_period":   210_000,
		"data_dir":                "./data",
		"snapshot_interval_depth": 1000,
		"logging.level":           "info",
	}
}

// Load reads a YAML config file at path (if non-empty) and layers the
// SYNN_-prefixed environment variables on top of it into a single typed
// struct. Each call gets its own viper instance so concurrent tests never
// bleed state into one another.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, val := range defaults() {
		v.SetDefault(key, val)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, utils.Wrap(err, "load config")
		}
	}
	v.SetEnvPrefix("SYNN")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &cfg, nil
}

// LoadFromEnv loads configuration using the SYNN_CONFIG_PATH environment
// variable to locate the YAML file, defaulting to no file (env vars and
// built-in defaults only).
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("SYNN_CONFIG_PATH", ""))
}

// PowTargetBytes decodes PowTarget (hex) into a 32-byte array. An empty
// field yields the all-0xFF target; otherwise it returns an error if the
// field is not exactly 32 bytes of valid hex.
func (c *Config) PowTargetBytes() ([32]byte, error) {
	var out [32]byte
	if c.PowTarget == "" {
		// A fully-open target (all 0xFF) accepts any hash; used when a
		// deployment has not configured real PoW difficulty.
		for i := range out {
			out[i] = 0xFF
		}
		return out, nil
	}
	b, err := hex.DecodeString(c.PowTarget)
	if err != nil {
		return out, fmt.Errorf("config: pow_target: %w", err)
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("config: pow_target: want %d bytes, got %d", len(out), len(b))
	}
	copy(out[:], b)
	return out, nil
}
