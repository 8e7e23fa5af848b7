// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/snowfork/go-substrate-rpc-client/v4/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslane/relayer/bridge/grandpa"
	"github.com/crosslane/relayer/bridge/storage"
)

// fakeVerifier accepts any justification equal to "valid".
type fakeVerifier struct{}

func (fakeVerifier) Verify(_ grandpa.BridgeHeader, justification []byte) error {
	if !bytes.Equal(justification, []byte("valid")) {
		return errors.New("bad justification")
	}
	return nil
}

func header(number uint64) grandpa.BridgeHeader {
	return grandpa.BridgeHeader{
		ParentHash: types.Hash{byte(number)},
		Number:     number,
		StateRoot:  types.Hash{0xcc, byte(number)},
	}
}

func newLedger(t *testing.T) *grandpa.Ledger {
	t.Helper()
	return grandpa.NewLedger(storage.NewMemoryStore(), fakeVerifier{})
}

func TestBestFinalizedBeforeInitialize(t *testing.T) {
	ledger := newLedger(t)
	_, err := ledger.BestFinalized()
	assert.ErrorIs(t, err, grandpa.ErrNotInitialized)
}

func TestInitialize(t *testing.T) {
	ledger := newLedger(t)
	base := header(100)

	require.NoError(t, ledger.Initialize(grandpa.InitializationData{Header: base}))

	best, err := ledger.BestFinalized()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), best.Number)

	err = ledger.Initialize(grandpa.InitializationData{Header: header(200)})
	assert.ErrorIs(t, err, grandpa.ErrAlreadyInitialized)

	// the repeated call changed nothing
	best, err = ledger.BestFinalized()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), best.Number)
}

func TestSubmitFinalityProof(t *testing.T) {
	ledger := newLedger(t)
	require.NoError(t, ledger.Initialize(grandpa.InitializationData{Header: header(100)}))

	imported, err := ledger.SubmitFinalityProof(header(105), []byte("valid"))
	require.NoError(t, err)
	assert.True(t, imported)

	best, err := ledger.BestFinalized()
	require.NoError(t, err)
	assert.Equal(t, uint64(105), best.Number)

	// state root of the imported header is available for proof checking
	wantHash, err := header(105).Hash()
	require.NoError(t, err)
	stateRoot, ok, err := ledger.StateRoot(wantHash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, header(105).StateRoot, stateRoot)
}

func TestSubmitFinalityProofAlreadyKnown(t *testing.T) {
	ledger := newLedger(t)
	require.NoError(t, ledger.Initialize(grandpa.InitializationData{Header: header(100)}))

	imported, err := ledger.SubmitFinalityProof(header(105), []byte("valid"))
	require.NoError(t, err)
	require.True(t, imported)

	// a re-submitted accepted proof is a no-op, not a failure
	imported, err = ledger.SubmitFinalityProof(header(105), []byte("valid"))
	require.NoError(t, err)
	assert.False(t, imported)
}

func TestSubmitFinalityProofOldHeader(t *testing.T) {
	ledger := newLedger(t)
	require.NoError(t, ledger.Initialize(grandpa.InitializationData{Header: header(100)}))

	_, err := ledger.SubmitFinalityProof(header(99), []byte("valid"))
	assert.ErrorIs(t, err, grandpa.ErrOldHeader)
}

func TestSubmitFinalityProofInvalidJustification(t *testing.T) {
	ledger := newLedger(t)
	require.NoError(t, ledger.Initialize(grandpa.InitializationData{Header: header(100)}))

	_, err := ledger.SubmitFinalityProof(header(105), []byte("forged"))
	assert.ErrorIs(t, err, grandpa.ErrInvalidJustification)

	best, err := ledger.BestFinalized()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), best.Number)
}

func TestSubmitFinalityProofNotInitialized(t *testing.T) {
	ledger := newLedger(t)
	_, err := ledger.SubmitFinalityProof(header(105), []byte("valid"))
	assert.ErrorIs(t, err, grandpa.ErrNotInitialized)
}
