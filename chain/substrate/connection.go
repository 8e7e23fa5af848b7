// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package substrate

import (
	"context"
	"fmt"

	gsrpc "github.com/snowfork/go-substrate-rpc-client/v4"
	"github.com/snowfork/go-substrate-rpc-client/v4/signature"
	"github.com/snowfork/go-substrate-rpc-client/v4/types"

	log "github.com/sirupsen/logrus"

	"github.com/crosslane/relayer/chain"
)

// Connection wraps a substrate RPC endpoint together with its metadata and
// genesis hash. The keypair is nil for read-only connections.
type Connection struct {
	endpoint    string
	kp          *signature.KeyringPair
	api         *gsrpc.SubstrateAPI
	metadata    types.Metadata
	genesisHash types.Hash
}

func NewConnection(endpoint string, kp *signature.KeyringPair) *Connection {
	return &Connection{
		endpoint: endpoint,
		kp:       kp,
	}
}

func (co *Connection) API() *gsrpc.SubstrateAPI {
	return co.api
}

func (co *Connection) Metadata() *types.Metadata {
	return &co.metadata
}

func (co *Connection) Keypair() *signature.KeyringPair {
	return co.kp
}

func (co *Connection) GenesisHash() types.Hash {
	return co.genesisHash
}

func (co *Connection) Connect(_ context.Context) error {
	api, err := gsrpc.NewSubstrateAPI(co.endpoint)
	if err != nil {
		return err
	}
	co.api = api

	meta, err := api.RPC.State.GetMetadataLatest()
	if err != nil {
		return err
	}
	co.metadata = *meta

	genesisHash, err := api.RPC.Chain.GetBlockHash(0)
	if err != nil {
		return err
	}
	co.genesisHash = genesisHash

	log.WithFields(log.Fields{
		"endpoint":    co.endpoint,
		"metaVersion": meta.Version,
	}).Info("Connected to chain")

	return nil
}

func (co *Connection) Close() {
	// TODO: Fix design issue in GSRPC preventing on-demand closing of connections
}

// BestFinalizedHeader returns the chain's own best finalized block.
func (co *Connection) BestFinalizedHeader() (chain.HeaderID, *types.Header, error) {
	finalizedHash, err := co.api.RPC.Chain.GetFinalizedHead()
	if err != nil {
		return chain.HeaderID{}, nil, fmt.Errorf("fetch finalized head: %w", err)
	}

	header, err := co.api.RPC.Chain.GetHeader(finalizedHash)
	if err != nil {
		return chain.HeaderID{}, nil, fmt.Errorf("fetch header %s: %w", finalizedHash.Hex(), err)
	}

	return chain.HeaderID{Number: uint64(header.Number), Hash: finalizedHash}, header, nil
}

// FinalizedHeaderAt returns the finalized header at the given height.
func (co *Connection) FinalizedHeaderAt(number uint64) (chain.HeaderID, *types.Header, error) {
	blockHash, err := co.api.RPC.Chain.GetBlockHash(number)
	if err != nil {
		return chain.HeaderID{}, nil, fmt.Errorf("fetch block hash at %d: %w", number, err)
	}

	header, err := co.api.RPC.Chain.GetHeader(blockHash)
	if err != nil {
		return chain.HeaderID{}, nil, fmt.Errorf("fetch header %s: %w", blockHash.Hex(), err)
	}

	return chain.HeaderID{Number: number, Hash: blockHash}, header, nil
}
