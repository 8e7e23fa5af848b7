// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package config

import "errors"

// ChainConfig describes one chain endpoint a relay connects to.
type ChainConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

func (c ChainConfig) Validate() error {
	if c.Endpoint == "" {
		return errors.New("chain endpoint is not set")
	}
	return nil
}

// SubstrateChainConfig describes a chain the relay submits transactions to.
type SubstrateChainConfig struct {
	Endpoint             string `mapstructure:"endpoint"`
	MaxWatchedExtrinsics int64  `mapstructure:"max-watched-extrinsics"`
}

func (c SubstrateChainConfig) Validate() error {
	if c.Endpoint == "" {
		return errors.New("chain endpoint is not set")
	}
	if c.MaxWatchedExtrinsics == 0 {
		return errors.New("max-watched-extrinsics must be positive")
	}
	return nil
}
