// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package parachains_test

import (
	"testing"

	"github.com/snowfork/go-substrate-rpc-client/v4/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslane/relayer/bridge/grandpa"
	"github.com/crosslane/relayer/bridge/parachains"
	"github.com/crosslane/relayer/bridge/proof"
	"github.com/crosslane/relayer/bridge/storage"
	"github.com/crosslane/relayer/chain"
)

const testParaID = parachains.ParaID(2000)

type fakeRelayChain map[types.Hash]types.Hash

func (f fakeRelayChain) StateRoot(headerHash types.Hash) (types.Hash, bool, error) {
	root, ok := f[headerHash]
	return root, ok, nil
}

type fixture struct {
	ledger     *parachains.Ledger
	relayChain fakeRelayChain
}

func newFixture() *fixture {
	f := &fixture{relayChain: make(fakeRelayChain)}
	f.ledger = parachains.NewLedger(storage.NewMemoryStore(), f.relayChain)
	return f
}

func paraHeader(number uint64) grandpa.BridgeHeader {
	return grandpa.BridgeHeader{
		ParentHash: types.Hash{byte(number)},
		Number:     number,
		StateRoot:  types.Hash{0xdd, byte(number)},
	}
}

// buildHeadProof builds relay-chain state holding the given parachain header
// and registers it under a fresh relay block.
func (f *fixture) buildHeadProof(t *testing.T, header grandpa.BridgeHeader) (chain.HeaderID, parachains.ParaHead, proof.StorageProof) {
	t.Helper()

	raw, err := types.EncodeToBytes(header)
	require.NoError(t, err)

	key := parachains.HeadsKey(testParaID)
	root, storageProof, err := proof.Build([]proof.Entry{{Key: key, Value: raw}}, [][]byte{key})
	require.NoError(t, err)

	relayBlock := chain.HeaderID{
		Number: 1000 + header.Number,
		Hash:   types.Hash{0xee, byte(len(f.relayChain))},
	}
	f.relayChain[relayBlock.Hash] = types.Hash(root)

	headHash, err := header.Hash()
	require.NoError(t, err)

	return relayBlock, parachains.ParaHead{ParaID: testParaID, HeadHash: headHash}, storageProof
}

func TestSubmitParachainHeads(t *testing.T) {
	f := newFixture()
	header := paraHeader(50)
	relayBlock, head, storageProof := f.buildHeadProof(t, header)

	imported, err := f.ledger.SubmitParachainHeads(relayBlock, []parachains.ParaHead{head}, storageProof)
	require.NoError(t, err)
	assert.Equal(t, 1, imported)

	best, ok, err := f.ledger.BestParachainHead(testParaID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(50), best.Number)
	assert.Equal(t, head.HeadHash, best.Hash)

	// the imported head feeds message-proof verification
	stateRoot, ok, err := f.ledger.StateRoot(head.HeadHash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, header.StateRoot, stateRoot)
}

func TestSubmitParachainHeadsIdempotent(t *testing.T) {
	f := newFixture()
	relayBlock, head, storageProof := f.buildHeadProof(t, paraHeader(50))

	imported, err := f.ledger.SubmitParachainHeads(relayBlock, []parachains.ParaHead{head}, storageProof)
	require.NoError(t, err)
	require.Equal(t, 1, imported)

	// identical head again: skipped without error
	imported, err = f.ledger.SubmitParachainHeads(relayBlock, []parachains.ParaHead{head}, storageProof)
	require.NoError(t, err)
	assert.Equal(t, 0, imported)
}

func TestSubmitParachainHeadsSkipsStale(t *testing.T) {
	f := newFixture()
	newerBlock, newerHead, newerProof := f.buildHeadProof(t, paraHeader(60))
	olderBlock, olderHead, olderProof := f.buildHeadProof(t, paraHeader(50))

	imported, err := f.ledger.SubmitParachainHeads(newerBlock, []parachains.ParaHead{newerHead}, newerProof)
	require.NoError(t, err)
	require.Equal(t, 1, imported)

	imported, err = f.ledger.SubmitParachainHeads(olderBlock, []parachains.ParaHead{olderHead}, olderProof)
	require.NoError(t, err)
	assert.Equal(t, 0, imported)

	best, ok, err := f.ledger.BestParachainHead(testParaID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(60), best.Number)
}

func TestSubmitParachainHeadsUntrackedRelayBlock(t *testing.T) {
	f := newFixture()
	_, head, storageProof := f.buildHeadProof(t, paraHeader(50))

	unknown := chain.HeaderID{Number: 1, Hash: types.Hash{0xde, 0xad}}
	_, err := f.ledger.SubmitParachainHeads(unknown, []parachains.ParaHead{head}, storageProof)
	assert.ErrorIs(t, err, parachains.ErrUntrackedRelayBlock)
}

func TestSubmitParachainHeadsHashMismatch(t *testing.T) {
	f := newFixture()
	relayBlock, head, storageProof := f.buildHeadProof(t, paraHeader(50))
	head.HeadHash = types.Hash{0xba, 0xd0}

	_, err := f.ledger.SubmitParachainHeads(relayBlock, []parachains.ParaHead{head}, storageProof)
	assert.ErrorIs(t, err, parachains.ErrHeadHashMismatch)
}
