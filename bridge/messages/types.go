// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

// Package messages implements the message-lane ledger: per-lane, nonce-ordered
// outbound and inbound state machines connected only by storage proofs.
package messages

import (
	"encoding/binary"
	"fmt"

	"github.com/snowfork/go-substrate-rpc-client/v4/types"

	"github.com/crosslane/relayer/bridge/proof"
)

// LaneID identifies a bidirectional channel between two chains. Created
// administratively, never mutated for the lane's lifetime.
type LaneID [4]byte

func (l LaneID) String() string {
	return fmt.Sprintf("%#x", l[:])
}

// MessageNonce is the strictly increasing sequence number identifying a
// message's position within a lane, per direction.
type MessageNonce uint64

// RelayerID is the account identity of an untrusted off-chain relayer.
type RelayerID [32]byte

func (r RelayerID) String() string {
	return fmt.Sprintf("%#x", r[:])
}

// Message is a payload queued on a lane. The payload is opaque to the lane
// and interpreted only by the dispatcher on the receiving side.
type Message struct {
	Lane    LaneID
	Nonce   MessageNonce
	Payload []byte
}

// OutboundLaneData is the sending side of a lane.
//
// Invariant: OldestUnprunedNonce <= LatestReceivedNonce <= LatestGeneratedNonce.
type OutboundLaneData struct {
	// Nonce of the oldest message that still has its payload stored.
	OldestUnprunedNonce MessageNonce
	// Nonce of the latest message known to be received by the bridged chain.
	LatestReceivedNonce MessageNonce
	// Nonce of the latest message generated on this lane.
	LatestGeneratedNonce MessageNonce
}

// DeliveredMessages is an inclusive nonce range delivered by a single relayer,
// with the dispatch outcome of every message in the range.
type DeliveredMessages struct {
	Begin            MessageNonce
	End              MessageNonce
	DispatchOutcomes []bool
}

// Contains reports whether nonce falls into the delivered range.
func (d DeliveredMessages) Contains(nonce MessageNonce) bool {
	return d.Begin <= nonce && nonce <= d.End
}

// Count returns the number of messages in the range.
func (d DeliveredMessages) Count() MessageNonce {
	if d.End < d.Begin {
		return 0
	}
	return d.End - d.Begin + 1
}

// UnrewardedRelayer is one entry of the inbound lane's relayer list.
type UnrewardedRelayer struct {
	Relayer  RelayerID
	Messages DeliveredMessages
}

// InboundLaneData is the receiving side of a lane.
//
// Invariant: relayer ranges are contiguous, non-overlapping and strictly
// increasing; the list never exceeds the configured maximum number of entries,
// and the total number of unconfirmed messages never exceeds its maximum.
type InboundLaneData struct {
	// Relayers that have delivered messages not yet confirmed back to the
	// bridged chain, in delivery order.
	Relayers []UnrewardedRelayer
	// Nonce of the latest message the bridged chain knows to be delivered.
	LastConfirmedNonce MessageNonce
}

// LastDeliveredNonce returns the nonce of the last message delivered to this
// lane.
func (d InboundLaneData) LastDeliveredNonce() MessageNonce {
	if len(d.Relayers) == 0 {
		return d.LastConfirmedNonce
	}
	return d.Relayers[len(d.Relayers)-1].Messages.End
}

// TotalUnrewardedMessages counts delivered-but-unconfirmed messages across all
// relayer entries.
func (d InboundLaneData) TotalUnrewardedMessages() MessageNonce {
	var total MessageNonce
	for _, entry := range d.Relayers {
		total += entry.Messages.Count()
	}
	return total
}

// RelayersState summarizes the inbound relayer list the way confirmation
// transactions declare it.
func (d InboundLaneData) RelayersState() UnrewardedRelayersState {
	state := UnrewardedRelayersState{
		UnrewardedRelayerEntries: uint64(len(d.Relayers)),
		TotalMessages:            uint64(d.TotalUnrewardedMessages()),
		LastDeliveredNonce:       d.LastDeliveredNonce(),
	}
	if len(d.Relayers) > 0 {
		state.MessagesInOldestEntry = uint64(d.Relayers[0].Messages.Count())
	}
	return state
}

// UnrewardedRelayersState is declared by the relayer submitting a confirmation
// transaction, so the ledger can verify the transaction was weighed for the
// state it actually mutates.
type UnrewardedRelayersState struct {
	UnrewardedRelayerEntries uint64
	MessagesInOldestEntry    uint64
	TotalMessages            uint64
	LastDeliveredNonce       MessageNonce
}

// Matches verifies the declared state against proved lane data. Only fields
// that affect transaction weight are compared.
func (s UnrewardedRelayersState) Matches(data InboundLaneData) bool {
	return s.UnrewardedRelayerEntries == uint64(len(data.Relayers)) &&
		s.TotalMessages == uint64(data.TotalUnrewardedMessages()) &&
		s.LastDeliveredNonce == data.LastDeliveredNonce()
}

// MessagesProof proves a range of messages (and optionally the outbound lane
// state) of the bridged chain.
type MessagesProof struct {
	// Hash of the bridged chain header the proof is built against. The state
	// root of this header must already be tracked by the header-chain ledger.
	BridgedHeaderHash types.Hash
	StorageProof      proof.StorageProof
	Lane              LaneID
	NoncesStart       MessageNonce
	NoncesEnd         MessageNonce
}

// MessagesDeliveryProof proves the bridged chain's InboundLaneData.
type MessagesDeliveryProof struct {
	BridgedHeaderHash types.Hash
	StorageProof      proof.StorageProof
	Lane              LaneID
}

// Storage keys of the lane ledger. The same layout is used by the in-process
// ledger and by proof verification against the bridged chain's state trie.

func OutboundLaneDataKey(lane LaneID) []byte {
	return append([]byte("messages:outbound:"), lane[:]...)
}

func InboundLaneDataKey(lane LaneID) []byte {
	return append([]byte("messages:inbound:"), lane[:]...)
}

func MessageKey(lane LaneID, nonce MessageNonce) []byte {
	key := append([]byte("messages:payload:"), lane[:]...)
	var raw [8]byte
	binary.LittleEndian.PutUint64(raw[:], uint64(nonce))
	return append(key, raw[:]...)
}

func operatingModeKey() []byte {
	return []byte("messages:mode")
}

// EncodeOutboundLaneData SCALE-encodes outbound lane state.
func EncodeOutboundLaneData(data OutboundLaneData) ([]byte, error) {
	return types.EncodeToBytes(data)
}

// DecodeOutboundLaneData is the inverse of EncodeOutboundLaneData.
func DecodeOutboundLaneData(raw []byte) (OutboundLaneData, error) {
	var data OutboundLaneData
	err := types.DecodeFromBytes(raw, &data)
	return data, err
}

// EncodeInboundLaneData SCALE-encodes inbound lane state.
func EncodeInboundLaneData(data InboundLaneData) ([]byte, error) {
	return types.EncodeToBytes(data)
}

// DecodeInboundLaneData is the inverse of EncodeInboundLaneData.
func DecodeInboundLaneData(raw []byte) (InboundLaneData, error) {
	var data InboundLaneData
	err := types.DecodeFromBytes(raw, &data)
	return data, err
}

// EncodeMessage SCALE-encodes a queued message.
func EncodeMessage(message Message) ([]byte, error) {
	return types.EncodeToBytes(message)
}

// DecodeMessage is the inverse of EncodeMessage.
func DecodeMessage(raw []byte) (Message, error) {
	var message Message
	err := types.DecodeFromBytes(raw, &message)
	return message, err
}
