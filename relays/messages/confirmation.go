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

// ErrConfirmationLost means a submitted confirmation transaction was dropped
// before finalization.
var ErrConfirmationLost = errors.New("delivery confirmation transaction lost")

// confirmationLoop drives one lane's target-to-source confirmation flow: when
// the target has delivered messages the source does not yet know about, it
// proves the target's inbound lane state back to the source, unlocking
// relayer rewards and pruning.
type confirmationLoop struct {
	relay *Relay
	lane  messages.LaneID
}

func (l *confirmationLoop) cycle(ctx context.Context) error {
	// confirmation proofs must verify against a target block the source trusts
	at, err := l.relay.source.BestFinalizedTargetHeader(ctx)
	if err != nil {
		return fmt.Errorf("fetch tracked target header: %w", err)
	}
	inbound, err := l.relay.target.InboundLaneData(ctx, at, l.lane)
	if err != nil {
		return fmt.Errorf("fetch inbound lane data: %w", err)
	}

	sourceBest, err := l.relay.source.BestFinalizedHeader(ctx)
	if err != nil {
		return fmt.Errorf("fetch source best header: %w", err)
	}
	outbound, err := l.relay.source.OutboundLaneData(ctx, sourceBest, l.lane)
	if err != nil {
		return fmt.Errorf("fetch outbound lane data: %w", err)
	}

	l.relay.metrics.LatestReceivedNonce.WithLabelValues(l.lane.String()).
		Set(float64(outbound.LatestReceivedNonce))

	if inbound.LastDeliveredNonce() <= outbound.LatestReceivedNonce {
		return nil
	}

	deliveryProof, err := l.relay.target.DeliveryProof(ctx, at, l.lane)
	if err != nil {
		return fmt.Errorf("build delivery proof: %w", err)
	}
	declaredState := inbound.RelayersState()

	log.WithFields(log.Fields{
		"lane":          l.lane,
		"lastDelivered": declaredState.LastDeliveredNonce,
		"entries":       declaredState.UnrewardedRelayerEntries,
	}).Info("Submitting delivery confirmation")

	result, err := l.relay.source.SubmitMessagesDeliveryProof(ctx, deliveryProof, declaredState)
	if err != nil {
		return err
	}
	if result.Status != chain.TransactionStatusFinalized {
		return fmt.Errorf("%w: lane %s", ErrConfirmationLost, l.lane)
	}

	log.WithFields(log.Fields{
		"lane":  l.lane,
		"nonce": declaredState.LastDeliveredNonce,
		"block": result.Block,
	}).Info("Delivery confirmation finalized at source")
	return nil
}
