// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package finality

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslane/relayer/bridge/grandpa"
	"github.com/crosslane/relayer/chain"
	"github.com/snowfork/go-substrate-rpc-client/v4/types"
)

type fakeSource struct {
	best   uint64
	proofs map[uint64][]byte
}

func (s *fakeSource) BestFinalizedNumber(_ context.Context) (uint64, error) {
	return s.best, nil
}

func (s *fakeSource) HeaderAndProof(_ context.Context, number uint64) (grandpa.BridgeHeader, []byte, bool, error) {
	justification, ok := s.proofs[number]
	return sourceHeader(number), justification, ok, nil
}

func (s *fakeSource) ProofStream(_ context.Context) (<-chan StreamItem, error) {
	panic("not used")
}

type fakeTarget struct {
	best        chain.HeaderID
	initialized bool
	submitted   []grandpa.BridgeHeader
	lost        bool
}

func (t *fakeTarget) BestFinalizedSourceHeader(_ context.Context) (chain.HeaderID, error) {
	if !t.initialized {
		return chain.HeaderID{}, grandpa.ErrNotInitialized
	}
	return t.best, nil
}

func (t *fakeTarget) Initialize(_ context.Context, init grandpa.InitializationData) error {
	if t.initialized {
		return grandpa.ErrAlreadyInitialized
	}
	t.initialized = true
	id, err := init.Header.ID()
	if err != nil {
		return err
	}
	t.best = id
	return nil
}

func (t *fakeTarget) SubmitFinalityProof(_ context.Context, header grandpa.BridgeHeader, _ []byte) (chain.TransactionResult, error) {
	t.submitted = append(t.submitted, header)
	if t.lost {
		return chain.TransactionResult{Status: chain.TransactionStatusLost}, nil
	}
	id, err := header.ID()
	if err != nil {
		return chain.TransactionResult{}, err
	}
	t.best = id
	return chain.TransactionResult{Status: chain.TransactionStatusFinalized, Block: id}, nil
}

func sourceHeader(number uint64) grandpa.BridgeHeader {
	return grandpa.BridgeHeader{ParentHash: types.Hash{byte(number)}, Number: number}
}

func newTestRelay(source *fakeSource, target *fakeTarget, dryRun bool) *Relay {
	config := &Config{DryRun: dryRun}
	config.Loop.PollInterval = 1
	return NewRelay(config, source, target, NewMetrics(prometheus.NewRegistry()))
}

func TestEnsureInitializedSeedsTargetLedger(t *testing.T) {
	source := &fakeSource{best: 100, proofs: map[uint64][]byte{100: []byte("j")}}
	target := &fakeTarget{}
	relay := newTestRelay(source, target, false)

	require.NoError(t, relay.ensureInitialized(context.Background()))
	assert.True(t, target.initialized)
	assert.Equal(t, uint64(100), target.best.Number)

	// second call is a no-op
	require.NoError(t, relay.ensureInitialized(context.Background()))
}

func TestSyncCycleNoSubmissionWhenCaughtUp(t *testing.T) {
	source := &fakeSource{best: 100, proofs: map[uint64][]byte{100: []byte("j")}}
	target := &fakeTarget{initialized: true}
	target.best = chain.HeaderID{Number: 100}
	relay := newTestRelay(source, target, false)

	require.NoError(t, relay.syncCycle(context.Background()))
	assert.Empty(t, target.submitted)
}

func TestSyncCycleSubmitsWhenSourceAhead(t *testing.T) {
	source := &fakeSource{best: 105, proofs: map[uint64][]byte{105: []byte("j")}}
	target := &fakeTarget{initialized: true}
	target.best = chain.HeaderID{Number: 100}
	relay := newTestRelay(source, target, false)

	require.NoError(t, relay.syncCycle(context.Background()))
	require.Len(t, target.submitted, 1)
	assert.Equal(t, uint64(105), target.submitted[0].Number)
	assert.Equal(t, uint64(105), target.best.Number)
}

func TestSyncCycleWaitsForJustification(t *testing.T) {
	// source is ahead but has no standalone justification for its tip
	source := &fakeSource{best: 105, proofs: map[uint64][]byte{}}
	target := &fakeTarget{initialized: true}
	target.best = chain.HeaderID{Number: 100}
	relay := newTestRelay(source, target, false)

	require.NoError(t, relay.syncCycle(context.Background()))
	assert.Empty(t, target.submitted)
}

func TestSyncCycleReportsLostTransaction(t *testing.T) {
	source := &fakeSource{best: 105, proofs: map[uint64][]byte{105: []byte("j")}}
	target := &fakeTarget{initialized: true, lost: true}
	target.best = chain.HeaderID{Number: 100}
	relay := newTestRelay(source, target, false)

	err := relay.syncCycle(context.Background())
	assert.ErrorIs(t, err, ErrProofLost)
}

func TestDryRunSubmitsNothing(t *testing.T) {
	source := &fakeSource{best: 105, proofs: map[uint64][]byte{105: []byte("j")}}
	target := &fakeTarget{initialized: true}
	target.best = chain.HeaderID{Number: 100}
	relay := newTestRelay(source, target, true)

	require.NoError(t, relay.syncCycle(context.Background()))
	assert.Empty(t, target.submitted)
}

func TestConsumeStreamSkipsUndecodableItems(t *testing.T) {
	source := &fakeSource{}
	target := &fakeTarget{initialized: true}
	target.best = chain.HeaderID{Number: 100}
	relay := newTestRelay(source, target, false)

	stream := make(chan StreamItem, 3)
	stream <- StreamItem{Error: assert.AnError}
	stream <- StreamItem{Proof: FinalityProof{Header: sourceHeader(101), Justification: []byte("j")}}
	// behind the target's best: ignored
	stream <- StreamItem{Proof: FinalityProof{Header: sourceHeader(90), Justification: []byte("j")}}
	close(stream)

	relay.consumeStream(context.Background(), stream)

	require.Len(t, target.submitted, 1)
	assert.Equal(t, uint64(101), target.submitted[0].Number)
}
