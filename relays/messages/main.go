// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

// Package messages runs the off-chain message relay: one delivery pipeline
// and one confirmation pipeline per lane. Pipelines share no mutable state;
// ordering is enforced on-chain, so concurrent relayers racing for the same
// nonces are safe.
package messages

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/crosslane/relayer/bridge/messages"
)

type Relay struct {
	config  *Config
	source  SourceClient
	target  TargetClient
	relayer messages.RelayerID
	metrics *Metrics
}

func NewRelay(config *Config, source SourceClient, target TargetClient, relayer messages.RelayerID, metrics *Metrics) *Relay {
	return &Relay{
		config:  config,
		source:  source,
		target:  target,
		relayer: relayer,
		metrics: metrics,
	}
}

func (relay *Relay) Start(ctx context.Context, eg *errgroup.Group) error {
	weights := relay.config.Weights.WeightInfo()
	for _, lane := range relay.config.Lanes {
		lane := lane
		delivery := &deliveryLoop{relay: relay, lane: lane, weights: weights}
		confirmation := &confirmationLoop{relay: relay, lane: lane}

		eg.Go(func() error {
			return relay.runPipeline(ctx, "delivery", lane, delivery.cycle)
		})
		eg.Go(func() error {
			return relay.runPipeline(ctx, "confirmation", lane, confirmation.cycle)
		})
	}

	log.WithField("lanes", len(relay.config.Lanes)).Info("Started message relay")
	return nil
}

// runPipeline polls one lane direction. Cycle errors are logged and retried
// on the next tick; cancellation leaves on-chain state untouched and the
// pipeline restarts from current ledger state.
func (relay *Relay) runPipeline(ctx context.Context, kind string, lane messages.LaneID, cycle func(context.Context) error) error {
	interval := time.Duration(relay.config.Loop.PollInterval) * time.Second
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
			if err := cycle(ctx); err != nil {
				log.WithError(err).WithFields(log.Fields{
					"pipeline": kind,
					"lane":     lane,
				}).Warn("Relay cycle failed")
			}
		}
	}
}
