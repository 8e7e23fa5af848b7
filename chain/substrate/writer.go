// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package substrate

import (
	"context"
	"fmt"
	"math"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/snowfork/go-substrate-rpc-client/v4/types"

	"github.com/crosslane/relayer/chain"
)

// Writer signs and submits extrinsics on behalf of a single account. The
// mutex serializes submissions so account nonces are assigned in order.
type Writer struct {
	conn  *Connection
	pool  *ExtrinsicPool
	nonce uint32
	mu    sync.Mutex
}

func NewWriter(conn *Connection, maxWatchedExtrinsics int64) *Writer {
	return &Writer{
		conn: conn,
		pool: NewExtrinsicPool(conn, maxWatchedExtrinsics),
	}
}

func (wr *Writer) Start(_ context.Context) error {
	nonce, err := wr.queryAccountNonce()
	if err != nil {
		return err
	}
	wr.nonce = nonce
	return nil
}

// WriteAndWatch signs a call, submits it and waits for a terminal status.
// The nonce only advances once the node has accepted the submission.
func (wr *Writer) WriteAndWatch(ctx context.Context, callName string, payload ...interface{}) (chain.TransactionResult, error) {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	ext, err := wr.prepExtrinsic(callName, payload...)
	if err != nil {
		return chain.TransactionResult{}, err
	}

	result, err := wr.pool.Submit(ctx, ext)
	if err != nil {
		return chain.TransactionResult{}, err
	}

	wr.nonce = wr.nonce + 1

	log.WithFields(log.Fields{
		"call":   callName,
		"result": result.String(),
	}).Debug("Extrinsic reached terminal status")

	return result, nil
}

func (wr *Writer) queryAccountNonce() (uint32, error) {
	key, err := types.CreateStorageKey(wr.conn.Metadata(), "System", "Account", wr.conn.Keypair().PublicKey, nil)
	if err != nil {
		return 0, err
	}

	var accountInfo types.AccountInfo
	ok, err := wr.conn.GetStorageLatest(key, &accountInfo)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("no account info found for %s", wr.conn.Keypair().URI)
	}

	return uint32(accountInfo.Nonce), nil
}

func (wr *Writer) prepExtrinsic(callName string, payload ...interface{}) (*types.Extrinsic, error) {
	meta := wr.conn.Metadata()

	call, err := types.NewCall(meta, callName, payload...)
	if err != nil {
		return nil, err
	}

	latestHash, err := wr.conn.API().RPC.Chain.GetFinalizedHead()
	if err != nil {
		return nil, err
	}

	latestBlock, err := wr.conn.API().RPC.Chain.GetBlock(latestHash)
	if err != nil {
		return nil, err
	}

	rv, err := wr.conn.API().RPC.State.GetRuntimeVersionLatest()
	if err != nil {
		return nil, err
	}

	ext := types.NewExtrinsic(call)
	o := types.SignatureOptions{
		BlockHash:          latestHash,
		Era:                mortalEra(uint64(latestBlock.Block.Header.Number)),
		GenesisHash:        wr.conn.GenesisHash(),
		Nonce:              types.NewUCompactFromUInt(uint64(wr.nonce)),
		SpecVersion:        rv.SpecVersion,
		Tip:                types.NewUCompactFromUInt(0),
		TransactionVersion: rv.TransactionVersion,
	}

	err = ext.Sign(*wr.conn.Keypair(), o)
	if err != nil {
		return nil, err
	}

	return &ext, nil
}

// Must be a power of two between 4 and 65536 (inclusive)
const mortalEraPeriod = uint64(64)

// mortalEra builds a transaction era valid for mortalEraPeriod blocks
// starting at the current block.
func mortalEra(currentBlockNumber uint64) types.ExtrinsicEra {
	phase := currentBlockNumber % mortalEraPeriod

	quantizeFactor := mortalEraPeriod >> 12
	if quantizeFactor < 1 {
		quantizeFactor = 1
	}
	quantizedPhase := phase / quantizeFactor * quantizeFactor

	encoded := uint16(math.Log2(float64(mortalEraPeriod))-1) | uint16((quantizedPhase/quantizeFactor)<<4)

	return types.ExtrinsicEra{
		IsMortalEra: true,
		AsMortalEra: types.MortalEra{
			First:  byte(encoded),
			Second: byte(encoded >> 8),
		},
	}
}
