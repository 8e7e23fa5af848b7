// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package messages

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/crosslane/relayer/bridge/messages"
	"github.com/crosslane/relayer/chain"
)

// ErrDeliveryLost means a submitted delivery transaction was dropped before
// finalization. Another relayer may have won the race for the same nonces;
// the next cycle re-reads lane state and recovers.
var ErrDeliveryLost = errors.New("message delivery transaction lost")

// deliveryLoop drives one lane's source-to-target direction: it selects the
// next undelivered nonce range, sizes it against the weight budget and the
// inbound lane's capacity, builds the messages proof and submits it.
type deliveryLoop struct {
	relay   *Relay
	lane    messages.LaneID
	weights messages.WeightInfo
}

// selectNonces picks the nonce range to deliver. Returns ok=false when there
// is nothing to deliver or no capacity to deliver into.
func (l *deliveryLoop) selectNonces(
	outbound messages.OutboundLaneData,
	inbound messages.InboundLaneData,
) (begin, end messages.MessageNonce, ok bool) {
	begin = inbound.LastDeliveredNonce() + 1
	end = outbound.LatestGeneratedNonce
	if begin > end {
		return 0, 0, false
	}

	// inbound capacity: a full relayer list or an exhausted unconfirmed
	// budget means the lane needs a confirmation first
	if uint64(len(inbound.Relayers)) >= l.relay.config.MaxUnrewardedRelayerEntries {
		log.WithField("lane", l.lane).Debug("Inbound relayer list full, waiting for confirmation")
		return 0, 0, false
	}
	unconfirmed := uint64(inbound.LastDeliveredNonce() - inbound.LastConfirmedNonce)
	if unconfirmed >= l.relay.config.MaxUnconfirmedMessages {
		log.WithField("lane", l.lane).Debug("Unconfirmed message budget exhausted, waiting for confirmation")
		return 0, 0, false
	}
	room := l.relay.config.MaxUnconfirmedMessages - unconfirmed

	// weight budget: an over-weight transaction is rejected outright, so the
	// batch is capped by the calibrated marginals
	maxByWeight := l.weights.MaxMessagesInDeliveryTransaction(
		messages.Weight(l.relay.config.MaxExtrinsicWeight),
		messages.Weight(l.relay.config.MaxMessageDispatchWeight),
	)

	batch := l.relay.config.MaxMessagesInSingleBatch
	if maxByWeight < batch {
		batch = maxByWeight
	}
	if room < batch {
		batch = room
	}
	if batch == 0 {
		return 0, 0, false
	}
	if max := begin + messages.MessageNonce(batch) - 1; max < end {
		end = max
	}
	return begin, end, true
}

func (l *deliveryLoop) cycle(ctx context.Context) error {
	// delivery proofs must verify against a source block the target trusts
	at, err := l.relay.target.BestFinalizedSourceHeader(ctx)
	if err != nil {
		return fmt.Errorf("fetch tracked source header: %w", err)
	}
	outbound, err := l.relay.source.OutboundLaneData(ctx, at, l.lane)
	if err != nil {
		return fmt.Errorf("fetch outbound lane data: %w", err)
	}

	targetBest, err := l.relay.target.BestFinalizedHeader(ctx)
	if err != nil {
		return fmt.Errorf("fetch target best header: %w", err)
	}
	inbound, err := l.relay.target.InboundLaneData(ctx, targetBest, l.lane)
	if err != nil {
		return fmt.Errorf("fetch inbound lane data: %w", err)
	}

	laneLabel := l.lane.String()
	l.relay.metrics.LatestGeneratedNonce.WithLabelValues(laneLabel).Set(float64(outbound.LatestGeneratedNonce))
	l.relay.metrics.LastDeliveredNonce.WithLabelValues(laneLabel).Set(float64(inbound.LastDeliveredNonce()))
	l.relay.metrics.LastConfirmedNonce.WithLabelValues(laneLabel).Set(float64(inbound.LastConfirmedNonce))

	begin, end, ok := l.selectNonces(outbound, inbound)
	if !ok {
		return nil
	}

	// attach the outbound lane state when it lets the target prune
	// confirmed relayer entries
	withLaneState := outbound.LatestReceivedNonce > inbound.LastConfirmedNonce

	messagesProof, dispatchWeight, err := l.relay.source.MessagesProof(ctx, at, l.lane, begin, end, withLaneState)
	if err != nil {
		return fmt.Errorf("build messages proof for [%d, %d]: %w", begin, end, err)
	}
	l.relay.metrics.ProofBytes.WithLabelValues(laneLabel).Set(float64(messagesProof.StorageProof.Size()))

	messagesCount := uint64(end - begin + 1)
	totalWeight := l.weights.ReceiveMessagesProofWeight(messagesCount, dispatchWeight, withLaneState)
	if totalWeight > messages.Weight(l.relay.config.MaxExtrinsicWeight) {
		return fmt.Errorf("delivery of [%d, %d] would weigh %d, above the %d budget",
			begin, end, totalWeight, l.relay.config.MaxExtrinsicWeight)
	}

	log.WithFields(log.Fields{
		"lane":          l.lane,
		"begin":         begin,
		"end":           end,
		"withLaneState": withLaneState,
	}).Info("Submitting message delivery")

	result, err := l.relay.target.SubmitMessagesProof(ctx, l.relay.relayer, messagesProof, messagesCount, dispatchWeight)
	if err != nil {
		return err
	}
	if result.Status != chain.TransactionStatusFinalized {
		return fmt.Errorf("%w: nonces [%d, %d]", ErrDeliveryLost, begin, end)
	}

	log.WithFields(log.Fields{
		"lane":  l.lane,
		"end":   end,
		"block": result.Block,
	}).Info("Message delivery finalized at target")
	return nil
}
