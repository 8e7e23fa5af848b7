// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

// Package sr25519 wraps the substrate keyring pair used to sign relay
// transactions.
package sr25519

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/snowfork/go-substrate-rpc-client/v4/signature"
)

type Keypair struct {
	keyringPair *signature.KeyringPair
}

// NewKeypairFromSeed derives a keypair from a seed phrase or derivation path
// such as "//Relay", for the given ss58 network prefix.
func NewKeypairFromSeed(seed string, network uint8) (*Keypair, error) {
	kp, err := signature.KeyringPairFromSecret(seed, network)
	return &Keypair{&kp}, err
}

// AsKeyringPair returns the underlying KeyringPair
func (kp *Keypair) AsKeyringPair() *signature.KeyringPair {
	return kp.keyringPair
}

// Address returns the ss58 formatted address
func (kp *Keypair) Address() string {
	return kp.keyringPair.Address
}

// PublicKey returns the public key encoded as a hex string
func (kp *Keypair) PublicKey() string {
	return hexutil.Encode(kp.keyringPair.PublicKey)
}
