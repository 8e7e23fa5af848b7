// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package messages

import (
	"errors"

	"github.com/crosslane/relayer/bridge/storage"
)

var (
	// ErrNonceOutOfOrder means a delivery tried to skip, repeat or reorder a
	// nonce. Deliveries must extend the lane by exactly one nonce at a time.
	ErrNonceOutOfOrder = errors.New("message nonce out of order")
	// ErrTooManyUnrewardedRelayers means the relayer list is full; a
	// confirmation must prune an entry before more deliveries are accepted.
	ErrTooManyUnrewardedRelayers = errors.New("too many unrewarded relayer entries at inbound lane")
	// ErrTooManyUnconfirmedMessages means the unconfirmed-message budget is
	// exhausted; a confirmation must advance the confirmed nonce first.
	ErrTooManyUnconfirmedMessages = errors.New("too many unconfirmed messages at inbound lane")
)

// MessageDispatch hands a delivered payload to the application layer. The
// outcome is recorded per nonce and reported back to the sending chain; a
// failed dispatch still consumes the nonce.
type MessageDispatch interface {
	Dispatch(message Message) bool
	// DispatchWeight estimates the execution cost of dispatching the payload.
	DispatchWeight(payload []byte) Weight
}

// inboundLane is the receiving-side state machine of a single lane.
type inboundLane struct {
	lane                        LaneID
	store                       storage.KeyValue
	maxUnrewardedRelayerEntries uint64
	maxUnconfirmedMessages      uint64
}

func newInboundLane(lane LaneID, store storage.KeyValue, maxEntries, maxUnconfirmed uint64) *inboundLane {
	return &inboundLane{
		lane:                        lane,
		store:                       store,
		maxUnrewardedRelayerEntries: maxEntries,
		maxUnconfirmedMessages:      maxUnconfirmed,
	}
}

func (l *inboundLane) data() (InboundLaneData, error) {
	raw, ok, err := l.store.Get(InboundLaneDataKey(l.lane))
	if err != nil {
		return InboundLaneData{}, err
	}
	if !ok {
		return InboundLaneData{}, nil
	}
	return DecodeInboundLaneData(raw)
}

func (l *inboundLane) setData(data InboundLaneData) error {
	raw, err := EncodeInboundLaneData(data)
	if err != nil {
		return err
	}
	return l.store.Insert(InboundLaneDataKey(l.lane), raw)
}

// receiveStateUpdate applies the sending chain's outbound lane state carried
// in a delivery transaction: it advances the confirmed nonce and prunes
// relayer entries whose ranges are now fully confirmed. Returns the new
// confirmed nonce, or nil if the update brings nothing new.
func (l *inboundLane) receiveStateUpdate(outboundData OutboundLaneData) (*MessageNonce, error) {
	data, err := l.data()
	if err != nil {
		return nil, err
	}

	lastDelivered := data.LastDeliveredNonce()
	confirmed := outboundData.LatestReceivedNonce
	if confirmed <= data.LastConfirmedNonce {
		return nil, nil
	}
	if confirmed > lastDelivered {
		// the sending chain cannot know about deliveries we never made
		return nil, ErrConfirmationBeyondGenerated
	}

	data.LastConfirmedNonce = confirmed
	for len(data.Relayers) > 0 && data.Relayers[0].Messages.End <= confirmed {
		data.Relayers = data.Relayers[1:]
	}
	if err := l.setData(data); err != nil {
		return nil, err
	}
	return &confirmed, nil
}

// ensureCanReceive checks that the whole nonce range [begin, end] can be
// accepted from relayer given the lane's current state. Dispatch side effects
// cannot be undone, so a batch must pass this check in full before the first
// message is handed to the dispatcher.
func (l *inboundLane) ensureCanReceive(relayer RelayerID, begin, end MessageNonce) error {
	data, err := l.data()
	if err != nil {
		return err
	}

	if begin != data.LastDeliveredNonce()+1 {
		return ErrNonceOutOfOrder
	}
	if end-data.LastConfirmedNonce > MessageNonce(l.maxUnconfirmedMessages) {
		return ErrTooManyUnconfirmedMessages
	}
	extendsLast := len(data.Relayers) > 0 && data.Relayers[len(data.Relayers)-1].Relayer == relayer
	if !extendsLast && uint64(len(data.Relayers)) >= l.maxUnrewardedRelayerEntries {
		return ErrTooManyUnrewardedRelayers
	}
	return nil
}

// receiveMessage accepts one message delivered by relayer. The nonce must be
// exactly the successor of the last delivered one, and both capacity limits
// must hold; otherwise the message (and with it, the whole batch) is refused.
func (l *inboundLane) receiveMessage(relayer RelayerID, nonce MessageNonce, payload []byte, dispatch MessageDispatch) error {
	data, err := l.data()
	if err != nil {
		return err
	}

	if nonce != data.LastDeliveredNonce()+1 {
		return ErrNonceOutOfOrder
	}
	if nonce-data.LastConfirmedNonce > MessageNonce(l.maxUnconfirmedMessages) {
		return ErrTooManyUnconfirmedMessages
	}
	extendsLast := len(data.Relayers) > 0 && data.Relayers[len(data.Relayers)-1].Relayer == relayer
	if !extendsLast && uint64(len(data.Relayers)) >= l.maxUnrewardedRelayerEntries {
		return ErrTooManyUnrewardedRelayers
	}

	outcome := dispatch.Dispatch(Message{Lane: l.lane, Nonce: nonce, Payload: payload})

	if extendsLast {
		last := &data.Relayers[len(data.Relayers)-1]
		last.Messages.End = nonce
		last.Messages.DispatchOutcomes = append(last.Messages.DispatchOutcomes, outcome)
	} else {
		data.Relayers = append(data.Relayers, UnrewardedRelayer{
			Relayer: relayer,
			Messages: DeliveredMessages{
				Begin:            nonce,
				End:              nonce,
				DispatchOutcomes: []bool{outcome},
			},
		})
	}

	return l.setData(data)
}
