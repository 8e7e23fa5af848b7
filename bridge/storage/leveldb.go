// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package storage

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
)

// LevelDBStore persists ledger state in LevelDB. An empty path opens an
// in-memory database.
type LevelDBStore struct {
	db *leveldb.DB
}

func NewLevelDBStore(path string) (*LevelDBStore, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %q: %w", path, err)
	}
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) Get(key []byte) ([]byte, bool, error) {
	value, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %x: %w", key, err)
	}
	return value, true, nil
}

func (s *LevelDBStore) Insert(key, value []byte) error {
	return s.db.Put(key, value, nil)
}

func (s *LevelDBStore) Remove(key []byte) error {
	return s.db.Delete(key, nil)
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
