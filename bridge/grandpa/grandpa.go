// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

// Package grandpa implements the header-chain ledger: a light-client view of
// the bridged chain's finalized headers, advanced by justifications produced
// by the bridged chain's own finality protocol. Justifications are opaque to
// the ledger; a pluggable verifier checks them.
package grandpa

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/snowfork/go-substrate-rpc-client/v4/types"
	"golang.org/x/crypto/blake2b"

	"github.com/crosslane/relayer/bridge/storage"
	"github.com/crosslane/relayer/chain"
)

var (
	// ErrNotInitialized means no base state has been imported yet. Fatal for
	// dependent pipelines until an explicit Initialize succeeds.
	ErrNotInitialized = errors.New("header chain ledger is not initialized")
	// ErrAlreadyInitialized is returned by a repeated Initialize. Callers
	// treat it as a no-op rather than a failure.
	ErrAlreadyInitialized = errors.New("header chain ledger is already initialized")
	// ErrOldHeader means the submitted header is not ahead of the tracked
	// best finalized header.
	ErrOldHeader = errors.New("submitted header is behind best finalized")
	// ErrInvalidJustification means the justification does not prove
	// finality of the submitted header.
	ErrInvalidJustification = errors.New("invalid justification")
)

// BridgeHeader is the minimal bridged-chain header the ledger tracks. The
// state root is what storage proofs are later verified against.
type BridgeHeader struct {
	ParentHash types.Hash
	Number     uint64
	StateRoot  types.Hash
}

// Hash is the blake2b-256 hash of the SCALE-encoded header.
func (h BridgeHeader) Hash() (types.Hash, error) {
	raw, err := types.EncodeToBytes(h)
	if err != nil {
		return types.Hash{}, err
	}
	return types.Hash(blake2b.Sum256(raw)), nil
}

// ID returns the header's (number, hash) pair.
func (h BridgeHeader) ID() (chain.HeaderID, error) {
	hash, err := h.Hash()
	if err != nil {
		return chain.HeaderID{}, err
	}
	return chain.HeaderID{Number: h.Number, Hash: hash}, nil
}

// InitializationData seeds the ledger with a trusted base header.
type InitializationData struct {
	Header BridgeHeader
}

// JustificationVerifier checks that a justification proves finality of the
// given header. The finality-voting protocol itself lives outside the bridge.
type JustificationVerifier interface {
	Verify(header BridgeHeader, justification []byte) error
}

func BestFinalizedKey() []byte { return []byte("grandpa:best") }

func ImportedHeaderKey(hash types.Hash) []byte {
	return append([]byte("grandpa:header:"), hash[:]...)
}

// Ledger is the on-chain header-chain module.
type Ledger struct {
	store    storage.KeyValue
	verifier JustificationVerifier

	mu sync.Mutex
}

func NewLedger(store storage.KeyValue, verifier JustificationVerifier) *Ledger {
	return &Ledger{store: store, verifier: verifier}
}

// Initialize imports the base header without a justification. Idempotent in
// the sense that a second call fails with ErrAlreadyInitialized and changes
// nothing.
func (lg *Ledger) Initialize(init InitializationData) error {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	_, ok, err := lg.store.Get(BestFinalizedKey())
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyInitialized
	}

	overlay := storage.NewOverlay(lg.store)
	if err := lg.importHeader(overlay, init.Header); err != nil {
		return err
	}
	if err := overlay.Commit(); err != nil {
		return err
	}

	id, _ := init.Header.ID()
	log.WithField("header", id).Info("Header chain ledger initialized")
	return nil
}

// SubmitFinalityProof imports a finalized header. Returns false without error
// when the header is already known: re-submission of an accepted proof is a
// cheap no-op.
func (lg *Ledger) SubmitFinalityProof(header BridgeHeader, justification []byte) (bool, error) {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	best, err := lg.bestFinalized()
	if err != nil {
		return false, err
	}

	hash, err := header.Hash()
	if err != nil {
		return false, err
	}
	if _, known, err := lg.store.Get(ImportedHeaderKey(hash)); err != nil {
		return false, err
	} else if known {
		return false, nil
	}
	if header.Number <= best.Number {
		return false, ErrOldHeader
	}

	if err := lg.verifier.Verify(header, justification); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidJustification, err)
	}

	overlay := storage.NewOverlay(lg.store)
	if err := lg.importHeader(overlay, header); err != nil {
		return false, err
	}
	if err := overlay.Commit(); err != nil {
		return false, err
	}

	log.WithFields(log.Fields{
		"number": header.Number,
		"hash":   hash.Hex(),
	}).Debug("Imported finalized header")
	return true, nil
}

func (lg *Ledger) importHeader(store storage.KeyValue, header BridgeHeader) error {
	hash, err := header.Hash()
	if err != nil {
		return err
	}
	raw, err := types.EncodeToBytes(header)
	if err != nil {
		return err
	}
	if err := store.Insert(ImportedHeaderKey(hash), raw); err != nil {
		return err
	}
	return store.Insert(BestFinalizedKey(), hash[:])
}

// BestFinalized returns the tracked best finalized bridged header.
func (lg *Ledger) BestFinalized() (chain.HeaderID, error) {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	return lg.bestFinalized()
}

func (lg *Ledger) bestFinalized() (chain.HeaderID, error) {
	raw, ok, err := lg.store.Get(BestFinalizedKey())
	if err != nil {
		return chain.HeaderID{}, err
	}
	if !ok {
		return chain.HeaderID{}, ErrNotInitialized
	}
	var hash types.Hash
	copy(hash[:], raw)
	header, ok, err := lg.header(hash)
	if err != nil {
		return chain.HeaderID{}, err
	}
	if !ok {
		return chain.HeaderID{}, fmt.Errorf("best finalized header %s not stored", hash.Hex())
	}
	return chain.HeaderID{Number: header.Number, Hash: hash}, nil
}

// Header returns a tracked header by hash.
func (lg *Ledger) Header(hash types.Hash) (BridgeHeader, bool, error) {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	return lg.header(hash)
}

func (lg *Ledger) header(hash types.Hash) (BridgeHeader, bool, error) {
	raw, ok, err := lg.store.Get(ImportedHeaderKey(hash))
	if err != nil || !ok {
		return BridgeHeader{}, false, err
	}
	var header BridgeHeader
	if err := types.DecodeFromBytes(raw, &header); err != nil {
		return BridgeHeader{}, false, err
	}
	return header, true, nil
}

// StateRoot implements the header-chain view the message-lane and parachain
// ledgers verify their proofs against.
func (lg *Ledger) StateRoot(headerHash types.Hash) (types.Hash, bool, error) {
	header, ok, err := lg.Header(headerHash)
	if err != nil || !ok {
		return types.Hash{}, false, err
	}
	return header.StateRoot, true, nil
}
