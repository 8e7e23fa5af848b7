package parachains

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
	// ParaID of the parachain whose heads are relayed
	ParaID uint32 `mapstructure:"para-id"`
}

type SourceConfig struct {
	RelayChain config.ChainConfig `mapstructure:"relay-chain"`
}

type SinkConfig struct {
	Chain config.SubstrateChainConfig `mapstructure:"chain"`
}

func (c Config) Validate() error {
	if err := c.Source.RelayChain.Validate(); err != nil {
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
