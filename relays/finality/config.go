package finality

import (
	"errors"
	"fmt"

	"github.com/crosslane/relayer/config"
	"github.com/crosslane/relayer/relays"
)

type Config struct {
	Source SourceConfig      `mapstructure:"source"`
	Sink   SinkConfig        `mapstructure:"sink"`
	Loop   relays.LoopConfig `mapstructure:"loop"`
	// DryRun builds transactions but never submits them.
	DryRun bool `mapstructure:"dry-run"`
}

type SourceConfig struct {
	Chain config.ChainConfig `mapstructure:"chain"`
}

type SinkConfig struct {
	Chain config.SubstrateChainConfig `mapstructure:"chain"`
}

func (c Config) Validate() error {
	if err := c.Source.Chain.Validate(); err != nil {
		return fmt.Errorf("source config: %w", err)
	}
	if err := c.Sink.Chain.Validate(); err != nil {
		return fmt.Errorf("sink config: %w", err)
	}
	if c.Loop.PollInterval == 0 {
		return errors.New("loop poll-interval is not set")
	}
	return nil
}
