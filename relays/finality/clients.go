// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package finality

import (
	"context"

	"github.com/crosslane/relayer/bridge/grandpa"
	"github.com/crosslane/relayer/chain"
)

// FinalityProof binds a justification to the header it finalizes. The
// justification bytes are opaque to the relay.
type FinalityProof struct {
	Header        grandpa.BridgeHeader
	Justification []byte
}

// StreamItem is one element of the live proof stream. A non-nil Error marks a
// single undecodable item; the stream continues past it.
type StreamItem struct {
	Proof FinalityProof
	Error error
}

// SourceClient reads the chain whose finality is being relayed.
type SourceClient interface {
	BestFinalizedNumber(ctx context.Context) (uint64, error)
	// HeaderAndProof fetches the finalized header at the given height and
	// its justification, if one is available for that exact height.
	HeaderAndProof(ctx context.Context, number uint64) (grandpa.BridgeHeader, []byte, bool, error)
	// ProofStream opens a lazy, infinite stream of finality proofs. The
	// channel closes when the underlying subscription is lost; callers
	// reconnect by calling ProofStream again.
	ProofStream(ctx context.Context) (<-chan StreamItem, error)
}

// TargetClient writes to the chain hosting the header-chain ledger.
type TargetClient interface {
	// BestFinalizedSourceHeader returns the ledger's tracked best header.
	// Fails with grandpa.ErrNotInitialized before the first Initialize.
	BestFinalizedSourceHeader(ctx context.Context) (chain.HeaderID, error)
	// Initialize seeds the ledger. grandpa.ErrAlreadyInitialized is not a
	// failure; implementations may surface it and callers treat it as done.
	Initialize(ctx context.Context, init grandpa.InitializationData) error
	SubmitFinalityProof(ctx context.Context, header grandpa.BridgeHeader, justification []byte) (chain.TransactionResult, error)
}
