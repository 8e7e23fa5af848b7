// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package messages

import (
	"context"

	"github.com/crosslane/relayer/bridge/messages"
	"github.com/crosslane/relayer/chain"
)

// SourceClient reads the chain messages are sent from, and receives the
// confirmation transactions.
type SourceClient interface {
	// BestFinalizedHeader is the source's own best finalized block.
	BestFinalizedHeader(ctx context.Context) (chain.HeaderID, error)
	// BestFinalizedTargetHeader is the target block tracked by the source's
	// header-chain ledger; confirmation proofs must be built at it.
	BestFinalizedTargetHeader(ctx context.Context) (chain.HeaderID, error)
	// OutboundLaneData reads the lane's sending-side state at a block.
	OutboundLaneData(ctx context.Context, at chain.HeaderID, lane messages.LaneID) (messages.OutboundLaneData, error)
	// MessagesProof builds the proof of messages [begin, end], optionally
	// carrying the outbound lane state, and returns it together with the
	// batch's total dispatch weight.
	MessagesProof(ctx context.Context, at chain.HeaderID, lane messages.LaneID, begin, end messages.MessageNonce, withLaneState bool) (messages.MessagesProof, messages.Weight, error)
	// SubmitMessagesDeliveryProof sends a confirmation transaction.
	SubmitMessagesDeliveryProof(ctx context.Context, deliveryProof messages.MessagesDeliveryProof, declaredState messages.UnrewardedRelayersState) (chain.TransactionResult, error)
}

// TargetClient reads the chain messages are delivered to, and receives the
// delivery transactions.
type TargetClient interface {
	// BestFinalizedHeader is the target's own best finalized block.
	BestFinalizedHeader(ctx context.Context) (chain.HeaderID, error)
	// BestFinalizedSourceHeader is the source block tracked by the target's
	// header-chain (or parachain-heads) ledger; delivery proofs must be
	// built at it.
	BestFinalizedSourceHeader(ctx context.Context) (chain.HeaderID, error)
	// InboundLaneData reads the lane's receiving-side state at a block.
	InboundLaneData(ctx context.Context, at chain.HeaderID, lane messages.LaneID) (messages.InboundLaneData, error)
	// DeliveryProof builds the proof of the lane's InboundLaneData.
	DeliveryProof(ctx context.Context, at chain.HeaderID, lane messages.LaneID) (messages.MessagesDeliveryProof, error)
	// SubmitMessagesProof sends a delivery transaction.
	SubmitMessagesProof(ctx context.Context, relayer messages.RelayerID, messagesProof messages.MessagesProof, messagesCount uint64, dispatchWeight messages.Weight) (chain.TransactionResult, error)
}
