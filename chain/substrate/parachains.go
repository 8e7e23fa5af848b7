// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package substrate

import (
	"context"
	"fmt"

	"github.com/snowfork/go-substrate-rpc-client/v4/types"

	"github.com/crosslane/relayer/bridge/grandpa"
	"github.com/crosslane/relayer/bridge/parachains"
	"github.com/crosslane/relayer/bridge/proof"
	"github.com/crosslane/relayer/chain"
)

// ParachainSource reads parachain heads out of relay-chain state.
type ParachainSource struct {
	conn *Connection
}

func NewParachainSource(conn *Connection) *ParachainSource {
	return &ParachainSource{conn: conn}
}

func (s *ParachainSource) ParachainHead(_ context.Context, atRelayBlock chain.HeaderID, paraID parachains.ParaID) (chain.HeaderID, bool, error) {
	var header grandpa.BridgeHeader
	ok, err := s.conn.GetStorage(types.StorageKey(parachains.HeadsKey(paraID)), &header, atRelayBlock.Hash)
	if err != nil {
		return chain.HeaderID{}, false, fmt.Errorf("read head of parachain %d: %w", paraID, err)
	}
	if !ok {
		return chain.HeaderID{}, false, nil
	}

	id, err := header.ID()
	if err != nil {
		return chain.HeaderID{}, false, err
	}
	return id, true, nil
}

func (s *ParachainSource) HeadProof(_ context.Context, atRelayBlock chain.HeaderID, paraID parachains.ParaID) (proof.StorageProof, error) {
	keys := []types.StorageKey{types.StorageKey(parachains.HeadsKey(paraID))}
	return s.conn.ReadProof(keys, atRelayBlock.Hash)
}

// ParachainTarget submits head proofs to the chain hosting the
// parachain-heads ledger.
type ParachainTarget struct {
	conn   *Connection
	writer *Writer
}

func NewParachainTarget(conn *Connection, writer *Writer) *ParachainTarget {
	return &ParachainTarget{conn: conn, writer: writer}
}

func (t *ParachainTarget) BestFinalizedRelayBlock(_ context.Context) (chain.HeaderID, error) {
	return bestTrackedHeader(t.conn)
}

func (t *ParachainTarget) BestParachainHead(_ context.Context, paraID parachains.ParaID) (chain.HeaderID, bool, error) {
	var hash types.Hash
	ok, err := t.conn.GetStorageLatest(types.StorageKey(parachains.BestHeadKey(paraID)), &hash)
	if err != nil {
		return chain.HeaderID{}, false, fmt.Errorf("read best head of parachain %d: %w", paraID, err)
	}
	if !ok {
		return chain.HeaderID{}, false, nil
	}

	var header grandpa.BridgeHeader
	ok, err = t.conn.GetStorageLatest(types.StorageKey(parachains.ImportedHeadKey(hash)), &header)
	if err != nil {
		return chain.HeaderID{}, false, fmt.Errorf("read imported head %s: %w", hash.Hex(), err)
	}
	if !ok {
		return chain.HeaderID{}, false, fmt.Errorf("best head %s of parachain %d not stored", hash.Hex(), paraID)
	}

	return chain.HeaderID{Number: header.Number, Hash: hash}, true, nil
}

func (t *ParachainTarget) SubmitHeadProof(ctx context.Context, atRelayBlock chain.HeaderID, head parachains.ParaHead, storageProof proof.StorageProof) (chain.TransactionResult, error) {
	return t.writer.WriteAndWatch(ctx, "BridgeParachains.submit_parachain_heads", atRelayBlock, []parachains.ParaHead{head}, storageProof)
}
