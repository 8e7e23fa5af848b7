// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package messages

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslane/relayer/bridge/messages"
	"github.com/crosslane/relayer/chain"
	"github.com/snowfork/go-substrate-rpc-client/v4/types"
)

var (
	testLane     = messages.LaneID{0, 0, 0, 1}
	testRelayerX = messages.RelayerID{0x01}
	testRelayerY = messages.RelayerID{0x02}
	testRelayerZ = messages.RelayerID{0x03}
)

// samples with known marginals: delivery base 1000, 200 per message, 70 for
// the lane state; confirmation base 500, 30 per message, 80 per relayer entry
func testWeights() messages.WeightInfo {
	return messages.WeightInfo{
		ReceiveSingleMessageProof:                         1200,
		ReceiveTwoMessagesProof:                           1400,
		ReceiveSingleMessageProofWithLaneState:            1270,
		ReceiveDeliveryProofForSingleMessage:              610,
		ReceiveDeliveryProofForTwoMessagesBySingleRelayer: 640,
		ReceiveDeliveryProofForTwoMessagesByTwoRelayers:   720,
	}
}

func testConfig() *Config {
	config := &Config{
		Lanes:                       []messages.LaneID{testLane},
		MaxUnrewardedRelayerEntries: 8,
		MaxUnconfirmedMessages:      16,
		MaxExtrinsicWeight:          10000,
		MaxMessageDispatchWeight:    100,
		MaxMessagesInSingleBatch:    4,
	}
	config.Loop.PollInterval = 1
	return config
}

type proofRequest struct {
	begin, end    messages.MessageNonce
	withLaneState bool
}

type fakeSource struct {
	best          chain.HeaderID
	trackedTarget chain.HeaderID
	outbound      messages.OutboundLaneData

	proofRequests []proofRequest
	confirmations []messages.UnrewardedRelayersState
	lost          bool
}

func (s *fakeSource) BestFinalizedHeader(_ context.Context) (chain.HeaderID, error) {
	return s.best, nil
}

func (s *fakeSource) BestFinalizedTargetHeader(_ context.Context) (chain.HeaderID, error) {
	return s.trackedTarget, nil
}

func (s *fakeSource) OutboundLaneData(_ context.Context, _ chain.HeaderID, _ messages.LaneID) (messages.OutboundLaneData, error) {
	return s.outbound, nil
}

func (s *fakeSource) MessagesProof(_ context.Context, at chain.HeaderID, lane messages.LaneID, begin, end messages.MessageNonce, withLaneState bool) (messages.MessagesProof, messages.Weight, error) {
	s.proofRequests = append(s.proofRequests, proofRequest{begin: begin, end: end, withLaneState: withLaneState})
	proof := messages.MessagesProof{
		BridgedHeaderHash: at.Hash,
		Lane:              lane,
		NoncesStart:       begin,
		NoncesEnd:         end,
	}
	return proof, messages.Weight(end-begin+1) * 10, nil
}

func (s *fakeSource) SubmitMessagesDeliveryProof(_ context.Context, _ messages.MessagesDeliveryProof, declaredState messages.UnrewardedRelayersState) (chain.TransactionResult, error) {
	s.confirmations = append(s.confirmations, declaredState)
	if s.lost {
		return chain.TransactionResult{Status: chain.TransactionStatusLost}, nil
	}
	return chain.TransactionResult{Status: chain.TransactionStatusFinalized, Block: s.best}, nil
}

type deliverySubmission struct {
	relayer        messages.RelayerID
	proof          messages.MessagesProof
	count          uint64
	dispatchWeight messages.Weight
}

type fakeTarget struct {
	best          chain.HeaderID
	trackedSource chain.HeaderID
	inbound       messages.InboundLaneData

	deliveries []deliverySubmission
	lost       bool
}

func (t *fakeTarget) BestFinalizedHeader(_ context.Context) (chain.HeaderID, error) {
	return t.best, nil
}

func (t *fakeTarget) BestFinalizedSourceHeader(_ context.Context) (chain.HeaderID, error) {
	return t.trackedSource, nil
}

func (t *fakeTarget) InboundLaneData(_ context.Context, _ chain.HeaderID, _ messages.LaneID) (messages.InboundLaneData, error) {
	return t.inbound, nil
}

func (t *fakeTarget) DeliveryProof(_ context.Context, at chain.HeaderID, lane messages.LaneID) (messages.MessagesDeliveryProof, error) {
	return messages.MessagesDeliveryProof{BridgedHeaderHash: at.Hash, Lane: lane}, nil
}

func (t *fakeTarget) SubmitMessagesProof(_ context.Context, relayer messages.RelayerID, messagesProof messages.MessagesProof, messagesCount uint64, dispatchWeight messages.Weight) (chain.TransactionResult, error) {
	t.deliveries = append(t.deliveries, deliverySubmission{
		relayer:        relayer,
		proof:          messagesProof,
		count:          messagesCount,
		dispatchWeight: dispatchWeight,
	})
	if t.lost {
		return chain.TransactionResult{Status: chain.TransactionStatusLost}, nil
	}
	return chain.TransactionResult{Status: chain.TransactionStatusFinalized, Block: t.best}, nil
}

func newTestRelay(config *Config, source *fakeSource, target *fakeTarget) *Relay {
	return NewRelay(config, source, target, testRelayerZ, NewMetrics(prometheus.NewRegistry()))
}

func delivered(relayer messages.RelayerID, begin, end messages.MessageNonce) messages.UnrewardedRelayer {
	outcomes := make([]bool, end-begin+1)
	for i := range outcomes {
		outcomes[i] = true
	}
	return messages.UnrewardedRelayer{
		Relayer:  relayer,
		Messages: messages.DeliveredMessages{Begin: begin, End: end, DispatchOutcomes: outcomes},
	}
}

func newDeliveryLoop(relay *Relay) *deliveryLoop {
	return &deliveryLoop{relay: relay, lane: testLane, weights: testWeights()}
}

func TestSelectNoncesNothingPending(t *testing.T) {
	loop := newDeliveryLoop(newTestRelay(testConfig(), &fakeSource{}, &fakeTarget{}))

	_, _, ok := loop.selectNonces(
		messages.OutboundLaneData{},
		messages.InboundLaneData{},
	)
	assert.False(t, ok)

	// everything generated is already delivered
	_, _, ok = loop.selectNonces(
		messages.OutboundLaneData{LatestReceivedNonce: 5, LatestGeneratedNonce: 5},
		messages.InboundLaneData{LastConfirmedNonce: 5},
	)
	assert.False(t, ok)
}

func TestSelectNoncesCappedByBatchSize(t *testing.T) {
	loop := newDeliveryLoop(newTestRelay(testConfig(), &fakeSource{}, &fakeTarget{}))

	begin, end, ok := loop.selectNonces(
		messages.OutboundLaneData{LatestGeneratedNonce: 10},
		messages.InboundLaneData{},
	)
	require.True(t, ok)
	assert.Equal(t, messages.MessageNonce(1), begin)
	assert.Equal(t, messages.MessageNonce(4), end)
}

func TestSelectNoncesCappedByWeight(t *testing.T) {
	config := testConfig()
	// fixed overhead 1070, 300 per message: room for three messages
	config.MaxExtrinsicWeight = 1970
	loop := newDeliveryLoop(newTestRelay(config, &fakeSource{}, &fakeTarget{}))

	begin, end, ok := loop.selectNonces(
		messages.OutboundLaneData{LatestGeneratedNonce: 10},
		messages.InboundLaneData{},
	)
	require.True(t, ok)
	assert.Equal(t, messages.MessageNonce(1), begin)
	assert.Equal(t, messages.MessageNonce(3), end)
}

func TestSelectNoncesCappedByUnconfirmedRoom(t *testing.T) {
	loop := newDeliveryLoop(newTestRelay(testConfig(), &fakeSource{}, &fakeTarget{}))

	// 14 of the 16 unconfirmed slots are taken
	begin, end, ok := loop.selectNonces(
		messages.OutboundLaneData{LatestGeneratedNonce: 20},
		messages.InboundLaneData{Relayers: []messages.UnrewardedRelayer{delivered(testRelayerX, 1, 14)}},
	)
	require.True(t, ok)
	assert.Equal(t, messages.MessageNonce(15), begin)
	assert.Equal(t, messages.MessageNonce(16), end)
}

func TestSelectNoncesWaitsWhenRelayerListFull(t *testing.T) {
	loop := newDeliveryLoop(newTestRelay(testConfig(), &fakeSource{}, &fakeTarget{}))

	relayers := make([]messages.UnrewardedRelayer, 8)
	for i := range relayers {
		nonce := messages.MessageNonce(i + 1)
		relayers[i] = delivered(testRelayerX, nonce, nonce)
	}
	_, _, ok := loop.selectNonces(
		messages.OutboundLaneData{LatestGeneratedNonce: 20},
		messages.InboundLaneData{Relayers: relayers},
	)
	assert.False(t, ok)
}

func TestSelectNoncesWaitsWhenUnconfirmedBudgetExhausted(t *testing.T) {
	loop := newDeliveryLoop(newTestRelay(testConfig(), &fakeSource{}, &fakeTarget{}))

	_, _, ok := loop.selectNonces(
		messages.OutboundLaneData{LatestGeneratedNonce: 20},
		messages.InboundLaneData{Relayers: []messages.UnrewardedRelayer{delivered(testRelayerX, 1, 16)}},
	)
	assert.False(t, ok)
}

func TestDeliveryCycleSubmitsPendingMessages(t *testing.T) {
	source := &fakeSource{
		outbound: messages.OutboundLaneData{
			OldestUnprunedNonce:  1,
			LatestReceivedNonce:  3,
			LatestGeneratedNonce: 5,
		},
	}
	target := &fakeTarget{
		best:          chain.HeaderID{Number: 200, Hash: types.Hash{0x02}},
		trackedSource: chain.HeaderID{Number: 100, Hash: types.Hash{0x01}},
		inbound: messages.InboundLaneData{
			Relayers:           []messages.UnrewardedRelayer{delivered(testRelayerX, 1, 3)},
			LastConfirmedNonce: 0,
		},
	}
	relay := newTestRelay(testConfig(), source, target)
	loop := &deliveryLoop{relay: relay, lane: testLane, weights: testWeights()}

	require.NoError(t, loop.cycle(context.Background()))

	require.Len(t, target.deliveries, 1)
	submission := target.deliveries[0]
	assert.Equal(t, testRelayerZ, submission.relayer)
	assert.Equal(t, messages.MessageNonce(4), submission.proof.NoncesStart)
	assert.Equal(t, messages.MessageNonce(5), submission.proof.NoncesEnd)
	assert.Equal(t, uint64(2), submission.count)
	assert.Equal(t, messages.Weight(20), submission.dispatchWeight)
	assert.Equal(t, target.trackedSource.Hash, submission.proof.BridgedHeaderHash)

	// source knows of receipts the target has not confirmed yet, so the
	// outbound lane state rides along
	require.Len(t, source.proofRequests, 1)
	assert.True(t, source.proofRequests[0].withLaneState)
}

func TestDeliveryCycleNoPendingMessages(t *testing.T) {
	source := &fakeSource{
		outbound: messages.OutboundLaneData{
			OldestUnprunedNonce:  1,
			LatestReceivedNonce:  5,
			LatestGeneratedNonce: 5,
		},
	}
	target := &fakeTarget{
		inbound: messages.InboundLaneData{LastConfirmedNonce: 5},
	}
	relay := newTestRelay(testConfig(), source, target)
	loop := &deliveryLoop{relay: relay, lane: testLane, weights: testWeights()}

	require.NoError(t, loop.cycle(context.Background()))
	assert.Empty(t, target.deliveries)
	assert.Empty(t, source.proofRequests)
}

func TestDeliveryCycleReportsLostTransaction(t *testing.T) {
	source := &fakeSource{
		outbound: messages.OutboundLaneData{OldestUnprunedNonce: 1, LatestGeneratedNonce: 2},
	}
	target := &fakeTarget{lost: true}
	relay := newTestRelay(testConfig(), source, target)
	loop := &deliveryLoop{relay: relay, lane: testLane, weights: testWeights()}

	err := loop.cycle(context.Background())
	assert.ErrorIs(t, err, ErrDeliveryLost)
}

func TestConfirmationCycleSubmitsProof(t *testing.T) {
	source := &fakeSource{
		best:          chain.HeaderID{Number: 100, Hash: types.Hash{0x01}},
		trackedTarget: chain.HeaderID{Number: 200, Hash: types.Hash{0x02}},
		outbound: messages.OutboundLaneData{
			OldestUnprunedNonce:  1,
			LatestReceivedNonce:  3,
			LatestGeneratedNonce: 5,
		},
	}
	target := &fakeTarget{
		inbound: messages.InboundLaneData{
			Relayers: []messages.UnrewardedRelayer{
				delivered(testRelayerX, 4, 4),
				delivered(testRelayerY, 5, 5),
			},
			LastConfirmedNonce: 3,
		},
	}
	relay := newTestRelay(testConfig(), source, target)
	loop := &confirmationLoop{relay: relay, lane: testLane}

	require.NoError(t, loop.cycle(context.Background()))

	require.Len(t, source.confirmations, 1)
	declared := source.confirmations[0]
	assert.Equal(t, uint64(2), declared.UnrewardedRelayerEntries)
	assert.Equal(t, uint64(2), declared.TotalMessages)
	assert.Equal(t, messages.MessageNonce(5), declared.LastDeliveredNonce)
}

func TestConfirmationCycleUpToDate(t *testing.T) {
	source := &fakeSource{
		outbound: messages.OutboundLaneData{
			OldestUnprunedNonce:  1,
			LatestReceivedNonce:  5,
			LatestGeneratedNonce: 5,
		},
	}
	target := &fakeTarget{
		inbound: messages.InboundLaneData{LastConfirmedNonce: 5},
	}
	relay := newTestRelay(testConfig(), source, target)
	loop := &confirmationLoop{relay: relay, lane: testLane}

	require.NoError(t, loop.cycle(context.Background()))
	assert.Empty(t, source.confirmations)
}

func TestConfirmationCycleReportsLostTransaction(t *testing.T) {
	source := &fakeSource{
		lost:     true,
		outbound: messages.OutboundLaneData{OldestUnprunedNonce: 1, LatestGeneratedNonce: 2},
	}
	target := &fakeTarget{
		inbound: messages.InboundLaneData{
			Relayers: []messages.UnrewardedRelayer{delivered(testRelayerX, 1, 2)},
		},
	}
	relay := newTestRelay(testConfig(), source, target)
	loop := &confirmationLoop{relay: relay, lane: testLane}

	err := loop.cycle(context.Background())
	assert.ErrorIs(t, err, ErrConfirmationLost)
}
