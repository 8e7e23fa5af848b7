// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package messages

import (
	"errors"
	"fmt"

	"github.com/crosslane/relayer/bridge/storage"
)

// ErrConfirmationBeyondGenerated means a delivery confirmation reported more
// messages received than were ever generated on this lane. The proof is either
// forged or built for a different lane.
var ErrConfirmationBeyondGenerated = errors.New("confirmed delivery of messages that were never generated")

// outboundLane is the sending-side state machine of a single lane. All
// mutations go through the given key-value store; callers provide atomicity.
type outboundLane struct {
	lane  LaneID
	store storage.KeyValue
}

func newOutboundLane(lane LaneID, store storage.KeyValue) *outboundLane {
	return &outboundLane{lane: lane, store: store}
}

func (l *outboundLane) data() (OutboundLaneData, error) {
	raw, ok, err := l.store.Get(OutboundLaneDataKey(l.lane))
	if err != nil {
		return OutboundLaneData{}, err
	}
	if !ok {
		return OutboundLaneData{}, nil
	}
	return DecodeOutboundLaneData(raw)
}

func (l *outboundLane) setData(data OutboundLaneData) error {
	raw, err := EncodeOutboundLaneData(data)
	if err != nil {
		return err
	}
	return l.store.Insert(OutboundLaneDataKey(l.lane), raw)
}

// sendMessage allocates the next nonce and stores the payload. Local, trusted
// operation; no remote interaction.
func (l *outboundLane) sendMessage(payload []byte) (MessageNonce, error) {
	data, err := l.data()
	if err != nil {
		return 0, err
	}

	nonce := data.LatestGeneratedNonce + 1
	message, err := EncodeMessage(Message{Lane: l.lane, Nonce: nonce, Payload: payload})
	if err != nil {
		return 0, fmt.Errorf("encode message %d: %w", nonce, err)
	}
	if err := l.store.Insert(MessageKey(l.lane, nonce), message); err != nil {
		return 0, err
	}

	data.LatestGeneratedNonce = nonce
	if err := l.setData(data); err != nil {
		return 0, err
	}
	return nonce, nil
}

// confirmDelivery advances the latest received nonce. Returns the nonce range
// confirmed by this call, or nil if the confirmation brings nothing new
// (re-submitted confirmations are safe no-ops).
func (l *outboundLane) confirmDelivery(latestDeliveredNonce MessageNonce) (*DeliveredMessages, error) {
	data, err := l.data()
	if err != nil {
		return nil, err
	}
	if latestDeliveredNonce <= data.LatestReceivedNonce {
		return nil, nil
	}
	if latestDeliveredNonce > data.LatestGeneratedNonce {
		return nil, ErrConfirmationBeyondGenerated
	}

	confirmed := &DeliveredMessages{
		Begin: data.LatestReceivedNonce + 1,
		End:   latestDeliveredNonce,
	}
	data.LatestReceivedNonce = latestDeliveredNonce
	if err := l.setData(data); err != nil {
		return nil, err
	}
	return confirmed, nil
}

// pruneMessages drops payloads of confirmed messages, at most maxToPrune per
// call. The payload of the latest received message itself is retained, so
// OldestUnprunedNonce never overtakes LatestReceivedNonce.
func (l *outboundLane) pruneMessages(maxToPrune uint64) (uint64, error) {
	data, err := l.data()
	if err != nil {
		return 0, err
	}

	// nonces start at 1, so a fresh lane's zero cursor points below the first
	// stored message and must not consume the prune budget
	if data.OldestUnprunedNonce == 0 {
		data.OldestUnprunedNonce = 1
	}

	var pruned uint64
	for pruned < maxToPrune && data.OldestUnprunedNonce < data.LatestReceivedNonce {
		if err := l.store.Remove(MessageKey(l.lane, data.OldestUnprunedNonce)); err != nil {
			return pruned, err
		}
		data.OldestUnprunedNonce++
		pruned++
	}
	if pruned > 0 {
		if err := l.setData(data); err != nil {
			return pruned, err
		}
	}
	return pruned, nil
}

// messagePayload returns the stored message for a nonce, if not yet pruned.
func (l *outboundLane) messagePayload(nonce MessageNonce) (Message, bool, error) {
	raw, ok, err := l.store.Get(MessageKey(l.lane, nonce))
	if err != nil || !ok {
		return Message{}, false, err
	}
	message, err := DecodeMessage(raw)
	if err != nil {
		return Message{}, false, err
	}
	return message, true, nil
}
