// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

// Package proof implements storage proofs: minimal sets of trie nodes that
// prove the value of specific keys against a known state root. Verification is
// strict: a proof carrying a duplicate node, or a node never touched while
// reading the proven keys, is rejected outright.
package proof

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/trie"
)

var (
	ErrDuplicateNode = errors.New("duplicate node in storage proof")
	ErrUnusedNodes   = errors.New("storage proof contains unused nodes")
)

// StorageProof is an ordered set of trie nodes.
type StorageProof [][]byte

// Size returns the total byte size of all nodes in the proof. The relays
// report this as proof overhead.
func (p StorageProof) Size() int {
	var size int
	for _, node := range p {
		size += len(node)
	}
	return size
}

// Checker verifies key reads against a state root using the nodes of a single
// storage proof. Every node is indexed by its keccak hash; reads walk the trie
// through those nodes only.
type Checker struct {
	root     common.Hash
	db       *memorydb.Database
	accessed map[common.Hash]struct{}
	total    int
}

// NewChecker indexes the proof nodes. It fails with ErrDuplicateNode if the
// same node appears twice.
func NewChecker(root common.Hash, storageProof StorageProof) (*Checker, error) {
	db := memorydb.New()
	for _, node := range storageProof {
		hash := crypto.Keccak256Hash(node)
		if ok, _ := db.Has(hash[:]); ok {
			return nil, ErrDuplicateNode
		}
		if err := db.Put(hash[:], node); err != nil {
			return nil, fmt.Errorf("index proof node: %w", err)
		}
	}
	return &Checker{
		root:     root,
		db:       db,
		accessed: make(map[common.Hash]struct{}),
		total:    len(storageProof),
	}, nil
}

// Read proves the value stored under key. A nil value with a nil error means
// the proof shows the key is absent.
func (c *Checker) Read(key []byte) ([]byte, error) {
	value, err := trie.VerifyProof(c.root, key, &recordingReader{checker: c})
	if err != nil {
		return nil, fmt.Errorf("verify proof for key %x: %w", key, err)
	}
	return value, nil
}

// EnsureNoUnusedNodes fails if any proof node was never touched by a Read.
// Untouched nodes are dead weight the relayer should not have included.
func (c *Checker) EnsureNoUnusedNodes() error {
	if len(c.accessed) != c.total {
		return ErrUnusedNodes
	}
	return nil
}

// recordingReader tracks which nodes the trie walk actually resolved.
type recordingReader struct {
	checker *Checker
}

func (r *recordingReader) Has(key []byte) (bool, error) {
	return r.checker.db.Has(key)
}

func (r *recordingReader) Get(key []byte) ([]byte, error) {
	value, err := r.checker.db.Get(key)
	if err == nil {
		r.checker.accessed[common.BytesToHash(key)] = struct{}{}
	}
	return value, err
}

// Entry is a key-value pair inserted into a trie by Build.
type Entry struct {
	Key   []byte
	Value []byte
}

// Build constructs a trie over entries and generates a proof for the given
// keys. Used by tests, fixtures and dry-run tooling to produce proofs without
// a live chain.
func Build(entries []Entry, keys [][]byte) (common.Hash, StorageProof, error) {
	tr := trie.NewEmpty(trie.NewDatabase(rawdb.NewMemoryDatabase(), nil))
	for _, entry := range entries {
		tr.MustUpdate(entry.Key, entry.Value)
	}

	proofDb := memorydb.New()
	for _, key := range keys {
		if err := tr.Prove(key, proofDb); err != nil {
			return common.Hash{}, nil, fmt.Errorf("prove key %x: %w", key, err)
		}
	}

	var storageProof StorageProof
	it := proofDb.NewIterator(nil, nil)
	defer it.Release()
	for it.Next() {
		node := make([]byte, len(it.Value()))
		copy(node, it.Value())
		storageProof = append(storageProof, node)
	}

	return tr.Hash(), storageProof, nil
}

// Equal reports whether two proofs carry identical nodes in identical order.
func Equal(a, b StorageProof) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
