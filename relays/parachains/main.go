// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

// Package parachains relays parachain heads: it proves the relay chain's
// "parachain heads" storage entry at a finalized relay block the target
// already trusts, and submits the head to the target's parachain-heads
// ledger.
package parachains

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/crosslane/relayer/bridge/grandpa"
	"github.com/crosslane/relayer/bridge/parachains"
	"github.com/crosslane/relayer/bridge/proof"
	"github.com/crosslane/relayer/chain"
)

// ErrHeadProofLost means a submitted head proof was dropped before
// finalization.
var ErrHeadProofLost = errors.New("parachain head proof transaction lost")

// SourceClient reads the relay chain the parachain is anchored in.
type SourceClient interface {
	// ParachainHead returns the parachain's head as included in relay-chain
	// state at the given finalized relay block, or false if the parachain
	// has no head there.
	ParachainHead(ctx context.Context, atRelayBlock chain.HeaderID, paraID parachains.ParaID) (chain.HeaderID, bool, error)
	// HeadProof builds the storage proof of the head at the same block.
	HeadProof(ctx context.Context, atRelayBlock chain.HeaderID, paraID parachains.ParaID) (proof.StorageProof, error)
}

// TargetClient writes to the chain hosting the parachain-heads ledger.
type TargetClient interface {
	// BestFinalizedRelayBlock returns the relay block tracked by the
	// target's header-chain ledger. Fails with grandpa.ErrNotInitialized if
	// the finality relay has not run yet; that is fatal for this pipeline.
	BestFinalizedRelayBlock(ctx context.Context) (chain.HeaderID, error)
	BestParachainHead(ctx context.Context, paraID parachains.ParaID) (chain.HeaderID, bool, error)
	SubmitHeadProof(ctx context.Context, atRelayBlock chain.HeaderID, head parachains.ParaHead, storageProof proof.StorageProof) (chain.TransactionResult, error)
}

// availableHead is the cursor passed from the polling task to the submission
// task. A zero value means "missing": nothing to submit.
type availableHead struct {
	atRelayBlock chain.HeaderID
	head         chain.HeaderID
}

type Metrics struct {
	BestSourceHead prometheus.Gauge
	BestTargetHead prometheus.Gauge
	ProofBytes     prometheus.Gauge
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		BestSourceHead: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parachain_relay_best_source_head",
			Help: "Parachain head number at the source relay chain",
		}),
		BestTargetHead: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parachain_relay_best_target_head",
			Help: "Parachain head number tracked by the target ledger",
		}),
		ProofBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parachain_relay_proof_bytes",
			Help: "Size in bytes of the last submitted head proof",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(metrics.BestSourceHead, metrics.BestTargetHead, metrics.ProofBytes)
	}
	return metrics
}

// Relay keeps the target's parachain-heads ledger in sync with the heads
// anchored in relay-chain state. The poller and the submitter are separate
// tasks connected by a channel carrying the single "available head" cursor,
// so no state is shared under a lock.
type Relay struct {
	config  *Config
	source  SourceClient
	target  TargetClient
	metrics *Metrics
}

func NewRelay(config *Config, source SourceClient, target TargetClient, metrics *Metrics) *Relay {
	return &Relay{
		config:  config,
		source:  source,
		target:  target,
		metrics: metrics,
	}
}

func (relay *Relay) Start(ctx context.Context, eg *errgroup.Group) error {
	// hard dependency on the finality relay having initialized the target
	if _, err := relay.target.BestFinalizedRelayBlock(ctx); err != nil {
		if errors.Is(err, grandpa.ErrNotInitialized) {
			return fmt.Errorf("target has no relay chain light client state: %w", err)
		}
		return err
	}

	heads := make(chan availableHead, 1)
	eg.Go(func() error {
		defer close(heads)
		return relay.pollLoop(ctx, heads)
	})
	eg.Go(func() error {
		return relay.submitLoop(ctx, heads)
	})

	log.WithField("paraID", relay.config.ParaID).Info("Started parachain head relay")
	return nil
}

// pollLoop watches for new heads. It only forwards a head the target does not
// have yet, so identical proofs are never refetched across polling cycles.
func (relay *Relay) pollLoop(ctx context.Context, heads chan<- availableHead) error {
	paraID := parachains.ParaID(relay.config.ParaID)
	interval := time.Duration(relay.config.Loop.PollInterval) * time.Second
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}

		atRelayBlock, err := relay.target.BestFinalizedRelayBlock(ctx)
		if err != nil {
			if errors.Is(err, grandpa.ErrNotInitialized) {
				return err
			}
			log.WithError(err).Warn("Failed to fetch tracked relay block")
			continue
		}

		head, ok, err := relay.source.ParachainHead(ctx, atRelayBlock, paraID)
		if err != nil {
			log.WithError(err).Warn("Failed to fetch parachain head")
			continue
		}
		if !ok {
			log.WithField("paraID", paraID).Debug("Parachain has no head at tracked relay block")
			continue
		}
		relay.metrics.BestSourceHead.Set(float64(head.Number))

		targetHead, exists, err := relay.target.BestParachainHead(ctx, paraID)
		if err != nil {
			log.WithError(err).Warn("Failed to fetch target parachain head")
			continue
		}
		if exists {
			relay.metrics.BestTargetHead.Set(float64(targetHead.Number))
			if targetHead.Hash == head.Hash {
				continue
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case heads <- availableHead{atRelayBlock: atRelayBlock, head: head}:
		}
	}
}

// submitLoop consumes the available-head cursor. A successful submission
// consumes the cursor: the next submission happens only once the poller finds
// a newer head.
func (relay *Relay) submitLoop(ctx context.Context, heads <-chan availableHead) error {
	paraID := parachains.ParaID(relay.config.ParaID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case available, ok := <-heads:
			if !ok {
				return nil
			}
			if err := relay.submitHead(ctx, paraID, available); err != nil {
				log.WithError(err).WithFields(log.Fields{
					"paraID": paraID,
					"head":   available.head,
				}).Warn("Failed to submit parachain head")
			}
		}
	}
}

func (relay *Relay) submitHead(ctx context.Context, paraID parachains.ParaID, available availableHead) error {
	headProof, err := relay.source.HeadProof(ctx, available.atRelayBlock, paraID)
	if err != nil {
		return fmt.Errorf("build head proof: %w", err)
	}
	relay.metrics.ProofBytes.Set(float64(headProof.Size()))

	result, err := relay.target.SubmitHeadProof(ctx, available.atRelayBlock,
		parachains.ParaHead{ParaID: paraID, HeadHash: available.head.Hash}, headProof)
	if err != nil {
		return err
	}
	if result.Status != chain.TransactionStatusFinalized {
		return fmt.Errorf("%w: head %s", ErrHeadProofLost, available.head)
	}

	relay.metrics.BestTargetHead.Set(float64(available.head.Number))
	log.WithFields(log.Fields{
		"paraID": paraID,
		"head":   available.head,
		"block":  result.Block,
	}).Info("Parachain head finalized at target")
	return nil
}
