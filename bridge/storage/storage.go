// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

// Package storage provides the key-value abstraction the bridge ledgers
// operate on. Ledger logic never touches a database directly; it goes through
// KeyValue, so the state machines stay testable without any runtime around
// them.
package storage

import "sync"

// KeyValue is the storage surface available to a ledger. Implementations must
// be safe for use from a single writer; the ledgers serialize their own
// mutations.
type KeyValue interface {
	// Get returns the stored value, or (nil, false) if the key is absent.
	Get(key []byte) ([]byte, bool, error)
	Insert(key, value []byte) error
	Remove(key []byte) error
}

// MemoryStore is an in-memory KeyValue used by tests and dry-run tooling.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

func (s *MemoryStore) Get(key []byte) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.entries[string(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

func (s *MemoryStore) Insert(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	s.entries[string(key)] = stored
	return nil
}

func (s *MemoryStore) Remove(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, string(key))
	return nil
}

// Len reports the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
