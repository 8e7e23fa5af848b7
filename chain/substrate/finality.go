// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package substrate

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/snowfork/go-substrate-rpc-client/v4/types"

	"github.com/crosslane/relayer/bridge/grandpa"
	"github.com/crosslane/relayer/chain"
	"github.com/crosslane/relayer/relays/finality"
)

// FinalitySource reads finalized headers and their justifications from the
// chain whose finality is being relayed.
type FinalitySource struct {
	conn *Connection
}

func NewFinalitySource(conn *Connection) *FinalitySource {
	return &FinalitySource{conn: conn}
}

func (s *FinalitySource) BestFinalizedNumber(_ context.Context) (uint64, error) {
	id, _, err := s.conn.BestFinalizedHeader()
	if err != nil {
		return 0, err
	}
	return id.Number, nil
}

func (s *FinalitySource) HeaderAndProof(_ context.Context, number uint64) (grandpa.BridgeHeader, []byte, bool, error) {
	_, header, err := s.conn.FinalizedHeaderAt(number)
	if err != nil {
		return grandpa.BridgeHeader{}, nil, false, err
	}

	justification, ok, err := s.conn.ProveFinality(number)
	if err != nil {
		return grandpa.BridgeHeader{}, nil, false, err
	}
	if !ok {
		return grandpa.BridgeHeader{}, nil, false, nil
	}

	return bridgeHeader(header), justification, true, nil
}

// ProofStream converts the node's finalized-heads subscription into a stream
// of finality proofs. Heads the node has no standalone justification for are
// skipped; the next justified head covers them.
func (s *FinalitySource) ProofStream(ctx context.Context) (<-chan finality.StreamItem, error) {
	sub, err := s.conn.SubscribeFinalizedHeaders()
	if err != nil {
		return nil, err
	}

	out := make(chan finality.StreamItem)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				log.WithError(err).Warn("Finalized heads subscription lost")
				return
			case header := <-sub.Chan():
				item, ok := s.streamItem(&header)
				if !ok {
					continue
				}
				select {
				case out <- item:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (s *FinalitySource) streamItem(header *types.Header) (finality.StreamItem, bool) {
	justification, ok, err := s.conn.ProveFinality(uint64(header.Number))
	if err != nil {
		return finality.StreamItem{Error: fmt.Errorf("prove finality of %d: %w", header.Number, err)}, true
	}
	if !ok {
		return finality.StreamItem{}, false
	}
	return finality.StreamItem{
		Proof: finality.FinalityProof{
			Header:        bridgeHeader(header),
			Justification: justification,
		},
	}, true
}

// FinalityTarget submits finality proofs to the chain hosting the
// header-chain ledger.
type FinalityTarget struct {
	conn   *Connection
	writer *Writer
}

func NewFinalityTarget(conn *Connection, writer *Writer) *FinalityTarget {
	return &FinalityTarget{conn: conn, writer: writer}
}

func (t *FinalityTarget) BestFinalizedSourceHeader(_ context.Context) (chain.HeaderID, error) {
	return bestTrackedHeader(t.conn)
}

func (t *FinalityTarget) Initialize(ctx context.Context, init grandpa.InitializationData) error {
	_, err := bestTrackedHeader(t.conn)
	if err == nil {
		return grandpa.ErrAlreadyInitialized
	}
	if !errors.Is(err, grandpa.ErrNotInitialized) {
		return err
	}

	result, err := t.writer.WriteAndWatch(ctx, "BridgeGrandpa.initialize", init)
	if err != nil {
		return err
	}
	if result.Status != chain.TransactionStatusFinalized {
		return fmt.Errorf("initialization transaction was lost")
	}
	return nil
}

func (t *FinalityTarget) SubmitFinalityProof(ctx context.Context, header grandpa.BridgeHeader, justification []byte) (chain.TransactionResult, error) {
	return t.writer.WriteAndWatch(ctx, "BridgeGrandpa.submit_finality_proof", header, justification)
}

// bestTrackedHeader reads the header-chain ledger's best finalized header
// from the remote chain's storage.
func bestTrackedHeader(conn *Connection) (chain.HeaderID, error) {
	var hash types.Hash
	ok, err := conn.GetStorageLatest(types.StorageKey(grandpa.BestFinalizedKey()), &hash)
	if err != nil {
		return chain.HeaderID{}, fmt.Errorf("read best finalized: %w", err)
	}
	if !ok {
		return chain.HeaderID{}, grandpa.ErrNotInitialized
	}

	var header grandpa.BridgeHeader
	ok, err = conn.GetStorageLatest(types.StorageKey(grandpa.ImportedHeaderKey(hash)), &header)
	if err != nil {
		return chain.HeaderID{}, fmt.Errorf("read imported header %s: %w", hash.Hex(), err)
	}
	if !ok {
		return chain.HeaderID{}, fmt.Errorf("best finalized header %s not stored", hash.Hex())
	}

	return chain.HeaderID{Number: header.Number, Hash: hash}, nil
}

func bridgeHeader(header *types.Header) grandpa.BridgeHeader {
	return grandpa.BridgeHeader{
		ParentHash: header.ParentHash,
		Number:     uint64(header.Number),
		StateRoot:  header.StateRoot,
	}
}
