// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package substrate

import (
	"context"
	"fmt"

	"github.com/snowfork/go-substrate-rpc-client/v4/types"

	"github.com/crosslane/relayer/bridge/messages"
	"github.com/crosslane/relayer/chain"
)

// MessagesSource reads the sending side of a lane and submits confirmation
// transactions to it.
type MessagesSource struct {
	conn     *Connection
	writer   *Writer
	dispatch messages.MessageDispatch
}

func NewMessagesSource(conn *Connection, writer *Writer, dispatch messages.MessageDispatch) *MessagesSource {
	return &MessagesSource{conn: conn, writer: writer, dispatch: dispatch}
}

func (s *MessagesSource) BestFinalizedHeader(_ context.Context) (chain.HeaderID, error) {
	id, _, err := s.conn.BestFinalizedHeader()
	return id, err
}

func (s *MessagesSource) BestFinalizedTargetHeader(_ context.Context) (chain.HeaderID, error) {
	return bestTrackedHeader(s.conn)
}

func (s *MessagesSource) OutboundLaneData(_ context.Context, at chain.HeaderID, lane messages.LaneID) (messages.OutboundLaneData, error) {
	var data messages.OutboundLaneData
	_, err := s.conn.GetStorage(types.StorageKey(messages.OutboundLaneDataKey(lane)), &data, at.Hash)
	if err != nil {
		return messages.OutboundLaneData{}, fmt.Errorf("read outbound lane %x: %w", lane, err)
	}
	// a missing entry is a lane that never sent anything
	return data, nil
}

func (s *MessagesSource) MessagesProof(
	ctx context.Context,
	at chain.HeaderID,
	lane messages.LaneID,
	begin, end messages.MessageNonce,
	withLaneState bool,
) (messages.MessagesProof, messages.Weight, error) {
	// the lane state key is always proved: the receiving ledger reads it on
	// every delivery and applies it when it brings a newer confirmed nonce
	keys := []types.StorageKey{types.StorageKey(messages.OutboundLaneDataKey(lane))}
	var dispatchWeight messages.Weight
	for nonce := begin; nonce <= end; nonce++ {
		keys = append(keys, types.StorageKey(messages.MessageKey(lane, nonce)))

		var message messages.Message
		ok, err := s.conn.GetStorage(types.StorageKey(messages.MessageKey(lane, nonce)), &message, at.Hash)
		if err != nil {
			return messages.MessagesProof{}, 0, fmt.Errorf("read message %d of lane %x: %w", nonce, lane, err)
		}
		if !ok {
			return messages.MessagesProof{}, 0, fmt.Errorf("message %d of lane %x not in state at %s", nonce, lane, at)
		}
		dispatchWeight += s.dispatch.DispatchWeight(message.Payload)
	}

	storageProof, err := s.conn.ReadProof(keys, at.Hash)
	if err != nil {
		return messages.MessagesProof{}, 0, err
	}

	return messages.MessagesProof{
		BridgedHeaderHash: at.Hash,
		StorageProof:      storageProof,
		Lane:              lane,
		NoncesStart:       begin,
		NoncesEnd:         end,
	}, dispatchWeight, nil
}

func (s *MessagesSource) SubmitMessagesDeliveryProof(
	ctx context.Context,
	deliveryProof messages.MessagesDeliveryProof,
	declaredState messages.UnrewardedRelayersState,
) (chain.TransactionResult, error) {
	return s.writer.WriteAndWatch(ctx, "BridgeMessages.receive_messages_delivery_proof", deliveryProof, declaredState)
}

// MessagesTarget reads the receiving side of a lane and submits delivery
// transactions to it.
type MessagesTarget struct {
	conn   *Connection
	writer *Writer
}

func NewMessagesTarget(conn *Connection, writer *Writer) *MessagesTarget {
	return &MessagesTarget{conn: conn, writer: writer}
}

func (t *MessagesTarget) BestFinalizedHeader(_ context.Context) (chain.HeaderID, error) {
	id, _, err := t.conn.BestFinalizedHeader()
	return id, err
}

func (t *MessagesTarget) BestFinalizedSourceHeader(_ context.Context) (chain.HeaderID, error) {
	return bestTrackedHeader(t.conn)
}

func (t *MessagesTarget) InboundLaneData(_ context.Context, at chain.HeaderID, lane messages.LaneID) (messages.InboundLaneData, error) {
	var data messages.InboundLaneData
	_, err := t.conn.GetStorage(types.StorageKey(messages.InboundLaneDataKey(lane)), &data, at.Hash)
	if err != nil {
		return messages.InboundLaneData{}, fmt.Errorf("read inbound lane %x: %w", lane, err)
	}
	return data, nil
}

func (t *MessagesTarget) DeliveryProof(_ context.Context, at chain.HeaderID, lane messages.LaneID) (messages.MessagesDeliveryProof, error) {
	keys := []types.StorageKey{types.StorageKey(messages.InboundLaneDataKey(lane))}
	storageProof, err := t.conn.ReadProof(keys, at.Hash)
	if err != nil {
		return messages.MessagesDeliveryProof{}, err
	}

	return messages.MessagesDeliveryProof{
		BridgedHeaderHash: at.Hash,
		StorageProof:      storageProof,
		Lane:              lane,
	}, nil
}

func (t *MessagesTarget) SubmitMessagesProof(
	ctx context.Context,
	relayer messages.RelayerID,
	messagesProof messages.MessagesProof,
	messagesCount uint64,
	dispatchWeight messages.Weight,
) (chain.TransactionResult, error) {
	return t.writer.WriteAndWatch(ctx, "BridgeMessages.receive_messages_proof", relayer, messagesProof, messagesCount, dispatchWeight)
}
