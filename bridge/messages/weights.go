// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package messages

// Weight is the target chain's unit of transaction execution cost. Every
// transaction is bounded by the chain's maximum extrinsic weight; exceeding it
// means outright rejection, so batch sizing against these numbers is a
// correctness requirement, not an optimization.
type Weight uint64

func (w Weight) SaturatingSub(other Weight) Weight {
	if other > w {
		return 0
	}
	return w - other
}

// WeightInfo carries benchmarked weights of fixed-size samples of the
// chain-facing calls. Marginal costs are derived from these by pairwise
// subtraction; the samples differ in exactly one dimension each.
type WeightInfo struct {
	// Delivery of exactly one message, no outbound lane state attached.
	ReceiveSingleMessageProof Weight
	// Delivery of exactly two messages, no outbound lane state attached.
	ReceiveTwoMessagesProof Weight
	// Delivery of exactly one message with the outbound lane state attached.
	ReceiveSingleMessageProofWithLaneState Weight
	// Confirmation of one message delivered by one relayer.
	ReceiveDeliveryProofForSingleMessage Weight
	// Confirmation of two messages delivered by one relayer.
	ReceiveDeliveryProofForTwoMessagesBySingleRelayer Weight
	// Confirmation of two messages delivered by two relayers.
	ReceiveDeliveryProofForTwoMessagesByTwoRelayers Weight
}

// MessageDeliveryWeight is the marginal cost of one additional message in a
// delivery transaction.
func (w WeightInfo) MessageDeliveryWeight() Weight {
	return w.ReceiveTwoMessagesProof.SaturatingSub(w.ReceiveSingleMessageProof)
}

// DeliveryBaseWeight is the fixed per-transaction overhead of a delivery,
// independent of message count.
func (w WeightInfo) DeliveryBaseWeight() Weight {
	return w.ReceiveSingleMessageProof.SaturatingSub(w.MessageDeliveryWeight())
}

// LaneStateWeight is the cost of the optional outbound-lane-state sub-proof.
func (w WeightInfo) LaneStateWeight() Weight {
	return w.ReceiveSingleMessageProofWithLaneState.SaturatingSub(w.ReceiveSingleMessageProof)
}

// MessageConfirmationWeight is the marginal cost of one additional confirmed
// message in a confirmation transaction.
func (w WeightInfo) MessageConfirmationWeight() Weight {
	return w.ReceiveDeliveryProofForTwoMessagesBySingleRelayer.
		SaturatingSub(w.ReceiveDeliveryProofForSingleMessage)
}

// RelayerEntryConfirmationWeight is the marginal cost of one additional
// unrewarded-relayer entry in a confirmation transaction.
func (w WeightInfo) RelayerEntryConfirmationWeight() Weight {
	return w.ReceiveDeliveryProofForTwoMessagesByTwoRelayers.
		SaturatingSub(w.ReceiveDeliveryProofForTwoMessagesBySingleRelayer)
}

// ConfirmationBaseWeight is the fixed per-transaction overhead of a
// confirmation.
func (w WeightInfo) ConfirmationBaseWeight() Weight {
	return w.ReceiveDeliveryProofForSingleMessage.
		SaturatingSub(w.MessageConfirmationWeight()).
		SaturatingSub(w.RelayerEntryConfirmationWeight())
}

// ReceiveMessagesProofWeight is the total expected weight of a delivery of
// messageCount messages with total dispatch weight dispatchWeight.
func (w WeightInfo) ReceiveMessagesProofWeight(messageCount uint64, dispatchWeight Weight, withLaneState bool) Weight {
	total := w.DeliveryBaseWeight() +
		Weight(messageCount)*w.MessageDeliveryWeight() +
		dispatchWeight
	if withLaneState {
		total += w.LaneStateWeight()
	}
	return total
}

// ReceiveMessagesDeliveryProofWeight is the total expected weight of a
// confirmation for the declared relayers state.
func (w WeightInfo) ReceiveMessagesDeliveryProofWeight(state UnrewardedRelayersState) Weight {
	return w.ConfirmationBaseWeight() +
		Weight(state.TotalMessages)*w.MessageConfirmationWeight() +
		Weight(state.UnrewardedRelayerEntries)*w.RelayerEntryConfirmationWeight()
}

// MaxMessagesInDeliveryTransaction computes the largest message batch whose
// delivery fits under maxExtrinsicWeight, given the per-message dispatch
// weight bound. Returns zero when even a single message does not fit.
func (w WeightInfo) MaxMessagesInDeliveryTransaction(maxExtrinsicWeight, maxDispatchWeight Weight) uint64 {
	fixed := w.DeliveryBaseWeight() + w.LaneStateWeight()
	if fixed >= maxExtrinsicWeight {
		return 0
	}
	perMessage := w.MessageDeliveryWeight() + maxDispatchWeight
	if perMessage == 0 {
		perMessage = 1
	}
	return uint64((maxExtrinsicWeight - fixed) / perMessage)
}
