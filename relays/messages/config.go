package messages

import (
	"errors"
	"fmt"

	"github.com/crosslane/relayer/bridge/messages"
	"github.com/crosslane/relayer/config"
	"github.com/crosslane/relayer/relays"
)

type Config struct {
	Source SourceConfig      `mapstructure:"source"`
	Sink   SinkConfig        `mapstructure:"sink"`
	Loop   relays.LoopConfig `mapstructure:"loop"`

	// Lanes served by this relay, one pipeline per lane per direction
	Lanes []messages.LaneID `mapstructure:"lanes"`

	// Capacity limits of the target's inbound lane, mirrored from its
	// ledger configuration
	MaxUnrewardedRelayerEntries uint64 `mapstructure:"max-unrewarded-relayer-entries"`
	MaxUnconfirmedMessages      uint64 `mapstructure:"max-unconfirmed-messages"`

	// Weight budget of a single target-chain transaction
	MaxExtrinsicWeight uint64 `mapstructure:"max-extrinsic-weight"`
	// Upper bound on a single message's dispatch weight, used for batch
	// sizing before the actual payloads are fetched
	MaxMessageDispatchWeight uint64 `mapstructure:"max-message-dispatch-weight"`
	// Hard cap on messages per delivery transaction
	MaxMessagesInSingleBatch uint64 `mapstructure:"max-messages-in-single-batch"`

	// Benchmarked weight samples of the target's ledger calls
	Weights WeightsConfig `mapstructure:"weights"`

	// Dispatch weight model of the target chain, used when declaring the
	// batch's total dispatch weight
	DispatchBaseWeight    uint64 `mapstructure:"dispatch-base-weight"`
	DispatchWeightPerByte uint64 `mapstructure:"dispatch-weight-per-byte"`
}

func (c *Config) Dispatch() messages.SizeBasedDispatch {
	return messages.SizeBasedDispatch{
		BaseWeight:    messages.Weight(c.DispatchBaseWeight),
		WeightPerByte: messages.Weight(c.DispatchWeightPerByte),
	}
}

// WeightsConfig carries the benchmarked fixed-size samples the calibrator
// derives marginal costs from.
type WeightsConfig struct {
	SingleMessage                         uint64 `mapstructure:"single-message"`
	TwoMessages                           uint64 `mapstructure:"two-messages"`
	SingleMessageWithLaneState            uint64 `mapstructure:"single-message-with-lane-state"`
	DeliveryProofSingleMessage            uint64 `mapstructure:"delivery-proof-single-message"`
	DeliveryProofTwoMessages              uint64 `mapstructure:"delivery-proof-two-messages"`
	DeliveryProofTwoMessagesByTwoRelayers uint64 `mapstructure:"delivery-proof-two-messages-by-two-relayers"`
}

func (c WeightsConfig) WeightInfo() messages.WeightInfo {
	return messages.WeightInfo{
		ReceiveSingleMessageProof:                         messages.Weight(c.SingleMessage),
		ReceiveTwoMessagesProof:                           messages.Weight(c.TwoMessages),
		ReceiveSingleMessageProofWithLaneState:            messages.Weight(c.SingleMessageWithLaneState),
		ReceiveDeliveryProofForSingleMessage:              messages.Weight(c.DeliveryProofSingleMessage),
		ReceiveDeliveryProofForTwoMessagesBySingleRelayer: messages.Weight(c.DeliveryProofTwoMessages),
		ReceiveDeliveryProofForTwoMessagesByTwoRelayers:   messages.Weight(c.DeliveryProofTwoMessagesByTwoRelayers),
	}
}

type SourceConfig struct {
	Chain config.SubstrateChainConfig `mapstructure:"chain"`
}

type SinkConfig struct {
	Chain config.SubstrateChainConfig `mapstructure:"chain"`
}

func (c *Config) Validate() error {
	if err := c.Source.Chain.Validate(); err != nil {
		return fmt.Errorf("source config: %w", err)
	}
	if err := c.Sink.Chain.Validate(); err != nil {
		return fmt.Errorf("sink config: %w", err)
	}
	if len(c.Lanes) == 0 {
		return errors.New("no lanes configured")
	}
	if c.Loop.PollInterval == 0 {
		return errors.New("loop poll-interval is not set")
	}
	if c.MaxUnrewardedRelayerEntries == 0 || c.MaxUnconfirmedMessages == 0 {
		return errors.New("inbound lane capacity limits are not set")
	}
	if c.MaxExtrinsicWeight == 0 || c.MaxMessageDispatchWeight == 0 {
		return errors.New("weight budgets are not set")
	}
	if c.MaxMessagesInSingleBatch == 0 {
		return errors.New("max-messages-in-single-batch is not set")
	}
	return nil
}
