// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package chain

import (
	"fmt"

	"github.com/snowfork/go-substrate-rpc-client/v4/types"
)

// HeaderID identifies a block on either side of the bridge. It is the unit
// exchanged by the finality and parachain-head relays.
type HeaderID struct {
	Number uint64
	Hash   types.Hash
}

func (id HeaderID) String() string {
	return fmt.Sprintf("%d@%s", id.Number, id.Hash.Hex())
}

// TrackedTransactionStatus is the terminal state of a watched transaction.
type TrackedTransactionStatus int

const (
	// TransactionStatusLost means the transaction was dropped, usurped or
	// otherwise removed from the pool before finalization.
	TransactionStatusLost TrackedTransactionStatus = iota
	// TransactionStatusFinalized means the transaction was included in a
	// finalized block.
	TransactionStatusFinalized
)

// TransactionResult is delivered by submit-and-watch once the transaction
// reaches a terminal state. Block is only set for finalized transactions.
type TransactionResult struct {
	Status TrackedTransactionStatus
	Block  HeaderID
}

func (r TransactionResult) String() string {
	if r.Status == TransactionStatusFinalized {
		return fmt.Sprintf("Finalized(%s)", r.Block)
	}
	return "Lost"
}
