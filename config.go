package oscring

import (
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/go-oscring/oscring/internal/constants"
	"github.com/go-oscring/oscring/internal/region"
)

// Config is the human-editable configuration for a Consumer: ring
// capacities, pre-scheduler tuning, and node-ID range widths. Every field
// defaults to the constant spec.md documents; Config only changes how
// those values are supplied, never what they are.
type Config struct {
	InRingSize    datasize.ByteSize `yaml:"in_ring_size"`
	OutRingSize   datasize.ByteSize `yaml:"out_ring_size"`
	DebugRingSize datasize.ByteSize `yaml:"debug_ring_size"`

	PollInterval    time.Duration `yaml:"poll_interval"`
	Lookahead       time.Duration `yaml:"lookahead"`
	BypassLookahead time.Duration `yaml:"bypass_lookahead"`

	MaxRetriesPerMessage uint32 `yaml:"max_retries_per_message"`
	MaxPendingMessages   int    `yaml:"max_pending_messages"`

	NodeIDRangeLocal  uint32 `yaml:"node_id_range_local"`
	NodeIDRangeRemote uint32 `yaml:"node_id_range_remote"`
}

// DefaultConfig returns the configuration matching spec.md's documented
// constants exactly.
func DefaultConfig() *Config {
	return &Config{
		InRingSize:    datasize.ByteSize(constants.DefaultInRingSize),
		OutRingSize:   datasize.ByteSize(constants.DefaultOutRingSize),
		DebugRingSize: datasize.ByteSize(constants.DefaultDebugRingSize),

		PollInterval:    constants.DefaultPollInterval,
		Lookahead:       constants.DefaultLookahead,
		BypassLookahead: constants.DefaultBypassLookahead,

		MaxRetriesPerMessage: constants.MaxRetriesPerMessage,
		MaxPendingMessages:   constants.MaxPendingMessages,

		NodeIDRangeLocal:  constants.RangeLocal,
		NodeIDRangeRemote: constants.RangeRemote,
	}
}

// LoadConfig reads and parses a YAML config file, filling in any field the
// file omits from DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("oscring: read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("oscring: parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Sizes converts the configured ring capacities into a region.Sizes, the
// shape internal/region.Compute expects.
func (c *Config) Sizes() region.Sizes {
	return region.Sizes{
		InRingSize:    uint32(c.InRingSize),
		OutRingSize:   uint32(c.OutRingSize),
		DebugRingSize: uint32(c.DebugRingSize),
	}
}

// Validate rejects a configuration that could never produce a usable
// layout (a ring too small to ever hold the smallest legal frame).
func (c *Config) Validate() error {
	if c.InRingSize <= constants.HeaderSize {
		return NewError("Config.Validate", CodeInvalidArgument, "in_ring_size must exceed the frame header size")
	}
	if c.OutRingSize <= constants.HeaderSize {
		return NewError("Config.Validate", CodeInvalidArgument, "out_ring_size must exceed the frame header size")
	}
	if c.DebugRingSize <= constants.HeaderSize {
		return NewError("Config.Validate", CodeInvalidArgument, "debug_ring_size must exceed the frame header size")
	}
	if c.MaxPendingMessages <= 0 {
		return NewError("Config.Validate", CodeInvalidArgument, "max_pending_messages must be positive")
	}
	return nil
}
