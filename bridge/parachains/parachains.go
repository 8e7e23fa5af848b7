// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

// Package parachains implements the parachain-heads ledger: it imports heads
// of chains anchored inside a relay chain, proven by storage proofs against
// relay-chain state the header-chain ledger already trusts.
package parachains

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
	"github.com/snowfork/go-substrate-rpc-client/v4/types"
	"golang.org/x/crypto/blake2b"

	"github.com/crosslane/relayer/bridge/grandpa"
	"github.com/crosslane/relayer/bridge/proof"
	"github.com/crosslane/relayer/bridge/storage"
	"github.com/crosslane/relayer/chain"
)

var (
	// ErrUntrackedRelayBlock means the proof was built at a relay-chain
	// block the header-chain ledger does not know.
	ErrUntrackedRelayBlock = errors.New("proof built at untracked relay chain block")
	// ErrInvalidHeadsProof covers structurally broken head proofs.
	ErrInvalidHeadsProof = errors.New("invalid parachain heads proof")
	// ErrHeadHashMismatch means the proven head does not hash to the value
	// the submission declared.
	ErrHeadHashMismatch = errors.New("declared parachain head hash does not match proof")
)

// ParaID identifies a parachain within its relay chain.
type ParaID uint32

// ParaHead declares one parachain head a submission wants to import.
type ParaHead struct {
	ParaID ParaID
	// Blake2b-256 of the SCALE-encoded head, as stored in relay state.
	HeadHash types.Hash
}

// HeadsKey is the relay-chain storage key of a parachain's current head.
func HeadsKey(paraID ParaID) []byte {
	key := []byte("paras:heads:")
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], uint32(paraID))
	return append(key, raw[:]...)
}

func BestHeadKey(paraID ParaID) []byte {
	key := []byte("parachains:best:")
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], uint32(paraID))
	return append(key, raw[:]...)
}

func ImportedHeadKey(headHash types.Hash) []byte {
	return append([]byte("parachains:head:"), headHash[:]...)
}

// RelayChain is the ledger's view of trusted relay-chain headers.
type RelayChain interface {
	StateRoot(headerHash types.Hash) (types.Hash, bool, error)
}

// Ledger is the on-chain parachain-heads module.
type Ledger struct {
	store      storage.KeyValue
	relayChain RelayChain

	mu sync.Mutex
}

func NewLedger(store storage.KeyValue, relayChain RelayChain) *Ledger {
	return &Ledger{store: store, relayChain: relayChain}
}

// SubmitParachainHeads imports the declared heads at a finalized relay block.
// Heads already known are skipped without error; the call reports how many
// heads were actually imported.
func (lg *Ledger) SubmitParachainHeads(
	atRelayBlock chain.HeaderID,
	heads []ParaHead,
	storageProof proof.StorageProof,
) (int, error) {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	stateRoot, ok, err := lg.relayChain.StateRoot(atRelayBlock.Hash)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrUntrackedRelayBlock
	}
	checker, err := proof.NewChecker(common.Hash(stateRoot), storageProof)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidHeadsProof, err)
	}

	overlay := storage.NewOverlay(lg.store)
	var imported int
	for _, head := range heads {
		raw, err := checker.Read(HeadsKey(head.ParaID))
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidHeadsProof, err)
		}
		if raw == nil {
			return 0, fmt.Errorf("%w: no head for parachain %d in proof", ErrInvalidHeadsProof, head.ParaID)
		}
		if blake2b.Sum256(raw) != [32]byte(head.HeadHash) {
			return 0, ErrHeadHashMismatch
		}

		var header grandpa.BridgeHeader
		if err := types.DecodeFromBytes(raw, &header); err != nil {
			return 0, fmt.Errorf("%w: decode head of parachain %d: %v", ErrInvalidHeadsProof, head.ParaID, err)
		}

		best, known, err := lg.bestHead(head.ParaID)
		if err != nil {
			return 0, err
		}
		if known && best.Hash == head.HeadHash {
			// identical head already imported, cheap no-op
			continue
		}
		if known && header.Number <= best.Number {
			log.WithFields(log.Fields{
				"paraID": head.ParaID,
				"number": header.Number,
				"best":   best.Number,
			}).Debug("Skipping stale parachain head")
			continue
		}

		if err := overlay.Insert(ImportedHeadKey(head.HeadHash), raw); err != nil {
			return 0, err
		}
		if err := overlay.Insert(BestHeadKey(head.ParaID), head.HeadHash[:]); err != nil {
			return 0, err
		}
		imported++

		log.WithFields(log.Fields{
			"paraID":     head.ParaID,
			"number":     header.Number,
			"hash":       head.HeadHash.Hex(),
			"relayBlock": atRelayBlock,
		}).Debug("Imported parachain head")
	}
	if err := checker.EnsureNoUnusedNodes(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidHeadsProof, err)
	}
	if err := overlay.Commit(); err != nil {
		return 0, err
	}
	return imported, nil
}

// BestParachainHead returns the tracked head of a parachain.
func (lg *Ledger) BestParachainHead(paraID ParaID) (chain.HeaderID, bool, error) {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	return lg.bestHead(paraID)
}

func (lg *Ledger) bestHead(paraID ParaID) (chain.HeaderID, bool, error) {
	raw, ok, err := lg.store.Get(BestHeadKey(paraID))
	if err != nil || !ok {
		return chain.HeaderID{}, false, err
	}
	var hash types.Hash
	copy(hash[:], raw)

	header, ok, err := lg.head(hash)
	if err != nil || !ok {
		return chain.HeaderID{}, false, err
	}
	return chain.HeaderID{Number: header.Number, Hash: hash}, true, nil
}

func (lg *Ledger) head(headHash types.Hash) (grandpa.BridgeHeader, bool, error) {
	raw, ok, err := lg.store.Get(ImportedHeadKey(headHash))
	if err != nil || !ok {
		return grandpa.BridgeHeader{}, false, err
	}
	var header grandpa.BridgeHeader
	if err := types.DecodeFromBytes(raw, &header); err != nil {
		return grandpa.BridgeHeader{}, false, err
	}
	return header, true, nil
}

// StateRoot exposes tracked parachain headers to the message-lane ledger, so
// message proofs can be verified against parachain state.
func (lg *Ledger) StateRoot(headHash types.Hash) (types.Hash, bool, error) {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	header, ok, err := lg.head(headHash)
	if err != nil || !ok {
		return types.Hash{}, false, err
	}
	return header.StateRoot, true, nil
}
