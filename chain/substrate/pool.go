// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package substrate

import (
	"context"
	"fmt"
	"math/big"

	log "github.com/sirupsen/logrus"
	"github.com/snowfork/go-substrate-rpc-client/v4/types"
	"golang.org/x/sync/semaphore"

	"github.com/crosslane/relayer/chain"
)

// ExtrinsicPool bounds the number of extrinsics watched concurrently so a
// stalled node cannot accumulate unbounded subscriptions.
type ExtrinsicPool struct {
	conn *Connection
	sem  *semaphore.Weighted
}

func NewExtrinsicPool(conn *Connection, maxWatchedExtrinsics int64) *ExtrinsicPool {
	return &ExtrinsicPool{
		conn: conn,
		sem:  semaphore.NewWeighted(maxWatchedExtrinsics),
	}
}

// Submit sends the extrinsic and watches it to a terminal status. A dropped,
// invalid, usurped or finality-timed-out extrinsic is reported as a lost
// result, not an error: the caller decides whether losing it is fatal.
func (ep *ExtrinsicPool) Submit(ctx context.Context, ext *types.Extrinsic) (chain.TransactionResult, error) {
	err := ep.sem.Acquire(ctx, 1)
	if err != nil {
		return chain.TransactionResult{}, err
	}
	defer ep.sem.Release(1)

	sub, err := ep.conn.API().RPC.Author.SubmitAndWatchExtrinsic(*ext)
	if err != nil {
		return chain.TransactionResult{}, fmt.Errorf("submit extrinsic: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return chain.TransactionResult{}, ctx.Err()
		case err := <-sub.Err():
			log.WithError(err).WithField("nonce", nonce(ext)).Error("Subscription failed for extrinsic status")
			return chain.TransactionResult{}, err
		case status := <-sub.Chan():
			if status.IsDropped || status.IsInvalid || status.IsUsurped || status.IsFinalityTimeout {
				log.WithFields(log.Fields{
					"nonce":  nonce(ext),
					"reason": reason(&status),
				}).Warn("Extrinsic removed from the transaction pool")
				return chain.TransactionResult{Status: chain.TransactionStatusLost}, nil
			}
			if status.IsFinalized {
				header, err := ep.conn.API().RPC.Chain.GetHeader(status.AsFinalized)
				if err != nil {
					return chain.TransactionResult{}, fmt.Errorf("fetch finalization block: %w", err)
				}
				return chain.TransactionResult{
					Status: chain.TransactionStatusFinalized,
					Block:  chain.HeaderID{Number: uint64(header.Number), Hash: status.AsFinalized},
				}, nil
			}
		}
	}
}

func nonce(ext *types.Extrinsic) uint64 {
	nonce := big.Int(ext.Signature.Nonce)
	return nonce.Uint64()
}

func reason(status *types.ExtrinsicStatus) string {
	switch {
	case status.IsDropped:
		return "Dropped"
	case status.IsInvalid:
		return "Invalid"
	case status.IsUsurped:
		return "Usurped"
	case status.IsFinalityTimeout:
		return "FinalityTimeout"
	}
	return ""
}
