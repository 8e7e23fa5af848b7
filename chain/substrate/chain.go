// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package substrate

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	chainrpc "github.com/snowfork/go-substrate-rpc-client/v4/rpc/chain"
	"github.com/snowfork/go-substrate-rpc-client/v4/types"

	"github.com/crosslane/relayer/bridge/proof"
)

// readProofResult mirrors the state_getReadProof RPC response.
type readProofResult struct {
	At    types.Hash `json:"at"`
	Proof []string   `json:"proof"`
}

// ReadProof fetches the storage proof of the given keys at a block. The
// returned nodes are in RPC order; verification does not depend on it.
func (co *Connection) ReadProof(keys []types.StorageKey, at types.Hash) (proof.StorageProof, error) {
	hexKeys := make([]string, len(keys))
	for i, key := range keys {
		hexKeys[i] = key.Hex()
	}

	var result readProofResult
	err := co.api.Client.Call(&result, "state_getReadProof", hexKeys, at.Hex())
	if err != nil {
		return nil, fmt.Errorf("state_getReadProof at %s: %w", at.Hex(), err)
	}

	nodes := make(proof.StorageProof, len(result.Proof))
	for i, node := range result.Proof {
		decoded, err := hexutil.Decode(node)
		if err != nil {
			return nil, fmt.Errorf("decode proof node %d: %w", i, err)
		}
		nodes[i] = decoded
	}

	return nodes, nil
}

// ProveFinality asks the node for a finality proof of the given block. The
// encoded proof is opaque to the relay; the ledger's verifier interprets it.
// Returns false if the node has no proof for that exact height.
func (co *Connection) ProveFinality(number uint64) ([]byte, bool, error) {
	var encoded string
	err := co.api.Client.Call(&encoded, "grandpa_proveFinality", number)
	if err != nil {
		return nil, false, fmt.Errorf("grandpa_proveFinality at %d: %w", number, err)
	}
	if encoded == "" {
		return nil, false, nil
	}

	justification, err := hexutil.Decode(encoded)
	if err != nil {
		return nil, false, fmt.Errorf("decode finality proof: %w", err)
	}

	return justification, true, nil
}

// SubscribeFinalizedHeaders opens a finalized-heads subscription.
func (co *Connection) SubscribeFinalizedHeaders() (*chainrpc.FinalizedHeadsSubscription, error) {
	sub, err := co.api.RPC.Chain.SubscribeFinalizedHeads()
	if err != nil {
		return nil, fmt.Errorf("subscribe finalized heads: %w", err)
	}
	return sub, nil
}

// GetStorage reads a storage value at a block, decoding into target.
func (co *Connection) GetStorage(key types.StorageKey, target interface{}, at types.Hash) (bool, error) {
	return co.api.RPC.State.GetStorage(key, target, at)
}

// GetStorageLatest reads a storage value at the latest block.
func (co *Connection) GetStorageLatest(key types.StorageKey, target interface{}) (bool, error) {
	return co.api.RPC.State.GetStorageLatest(key, target)
}
