// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package storage

// Overlay buffers writes on top of a base store. Ledger operations run
// against an overlay and commit only after every invariant check has passed,
// which makes chain-facing operations all-or-nothing.
type Overlay struct {
	base    KeyValue
	pending map[string][]byte
	deleted map[string]struct{}
}

func NewOverlay(base KeyValue) *Overlay {
	return &Overlay{
		base:    base,
		pending: make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

func (o *Overlay) Get(key []byte) ([]byte, bool, error) {
	k := string(key)
	if _, ok := o.deleted[k]; ok {
		return nil, false, nil
	}
	if value, ok := o.pending[k]; ok {
		out := make([]byte, len(value))
		copy(out, value)
		return out, true, nil
	}
	return o.base.Get(key)
}

func (o *Overlay) Insert(key, value []byte) error {
	k := string(key)
	delete(o.deleted, k)
	stored := make([]byte, len(value))
	copy(stored, value)
	o.pending[k] = stored
	return nil
}

func (o *Overlay) Remove(key []byte) error {
	k := string(key)
	delete(o.pending, k)
	o.deleted[k] = struct{}{}
	return nil
}

// Commit applies all buffered writes to the base store.
func (o *Overlay) Commit() error {
	for k := range o.deleted {
		if err := o.base.Remove([]byte(k)); err != nil {
			return err
		}
	}
	for k, value := range o.pending {
		if err := o.base.Insert([]byte(k), value); err != nil {
			return err
		}
	}
	return nil
}
