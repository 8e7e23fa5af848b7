package finality

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/crosslane/relayer/bridge/grandpa"
	"github.com/crosslane/relayer/chain"
)

// ErrProofLost means a submitted finality proof was dropped before
// finalization.
var ErrProofLost = errors.New("finality proof transaction lost")

// Relay tracks source-chain finality and keeps the target's header-chain
// ledger in sync with it. The loop holds no authoritative state and can be
// restarted from scratch at any time.
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
	if err := relay.ensureInitialized(ctx); err != nil {
		return err
	}

	eg.Go(func() error {
		return relay.pollLoop(ctx)
	})
	eg.Go(func() error {
		return relay.streamLoop(ctx)
	})

	log.Info("Started finality relay")
	return nil
}

// ensureInitialized seeds the target ledger if it has no base state yet. A
// concurrent initialization by another relayer is fine: the ledger's
// already-initialized answer short-circuits to a no-op.
func (relay *Relay) ensureInitialized(ctx context.Context) error {
	_, err := relay.target.BestFinalizedSourceHeader(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, grandpa.ErrNotInitialized) {
		return fmt.Errorf("fetch target ledger state: %w", err)
	}

	number, err := relay.source.BestFinalizedNumber(ctx)
	if err != nil {
		return fmt.Errorf("fetch source best finalized: %w", err)
	}
	header, _, _, err := relay.source.HeaderAndProof(ctx, number)
	if err != nil {
		return fmt.Errorf("fetch initialization header: %w", err)
	}

	if relay.config.DryRun {
		log.WithField("number", header.Number).Info("Dry run: would initialize target ledger")
		return nil
	}

	err = relay.target.Initialize(ctx, grandpa.InitializationData{Header: header})
	if err != nil && !errors.Is(err, grandpa.ErrAlreadyInitialized) {
		return fmt.Errorf("initialize target ledger: %w", err)
	}
	log.WithField("number", header.Number).Info("Initialized target header chain ledger")
	return nil
}

func (relay *Relay) pollLoop(ctx context.Context) error {
	interval := time.Duration(relay.config.Loop.PollInterval) * time.Second
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
			if err := relay.syncCycle(ctx); err != nil {
				// transient by default: log and retry next cycle
				log.WithError(err).Warn("Finality sync cycle failed")
			}
		}
	}
}

// syncCycle performs one comparison of source and target state and submits at
// most one proof. When both sides agree no submission happens.
func (relay *Relay) syncCycle(ctx context.Context) error {
	best, err := relay.target.BestFinalizedSourceHeader(ctx)
	if err != nil {
		return fmt.Errorf("fetch target ledger state: %w", err)
	}
	sourceBest, err := relay.source.BestFinalizedNumber(ctx)
	if err != nil {
		return fmt.Errorf("fetch source best finalized: %w", err)
	}
	relay.metrics.BestSourceBlock.Set(float64(sourceBest))
	relay.metrics.BestTargetBlock.Set(float64(best.Number))

	if sourceBest <= best.Number {
		return nil
	}

	header, justification, ok, err := relay.source.HeaderAndProof(ctx, sourceBest)
	if err != nil {
		return fmt.Errorf("fetch header %d and proof: %w", sourceBest, err)
	}
	if !ok {
		log.WithField("number", sourceBest).Debug("No justification available yet")
		return nil
	}

	return relay.submit(ctx, FinalityProof{Header: header, Justification: justification})
}

// streamLoop consumes the live proof subscription. Undecodable items are
// skipped; a lost subscription is reopened after the restart delay. The
// stream never terminates the pipeline on a single bad item.
func (relay *Relay) streamLoop(ctx context.Context) error {
	restartDelay := time.Duration(relay.config.Loop.RestartDelay) * time.Second
	for {
		stream, err := relay.source.ProofStream(ctx)
		if err != nil {
			log.WithError(err).Warn("Failed to open finality proof stream")
		} else {
			relay.consumeStream(ctx, stream)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(restartDelay):
			log.Info("Restarting finality proof stream")
		}
	}
}

func (relay *Relay) consumeStream(ctx context.Context, stream <-chan StreamItem) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-stream:
			if !ok {
				log.Warn("Finality proof stream closed")
				return
			}
			if item.Error != nil {
				log.WithError(item.Error).Warn("Skipping undecodable finality proof")
				continue
			}
			if err := relay.submitIfAhead(ctx, item.Proof); err != nil {
				log.WithError(err).WithField("number", item.Proof.Header.Number).
					Warn("Failed to submit streamed finality proof")
			}
		}
	}
}

func (relay *Relay) submitIfAhead(ctx context.Context, finalityProof FinalityProof) error {
	best, err := relay.target.BestFinalizedSourceHeader(ctx)
	if err != nil {
		return err
	}
	if finalityProof.Header.Number <= best.Number {
		return nil
	}
	return relay.submit(ctx, finalityProof)
}

func (relay *Relay) submit(ctx context.Context, finalityProof FinalityProof) error {
	if relay.config.DryRun {
		log.WithFields(log.Fields{
			"number":        finalityProof.Header.Number,
			"justification": len(finalityProof.Justification),
		}).Info("Dry run: would submit finality proof")
		return nil
	}

	result, err := relay.target.SubmitFinalityProof(ctx, finalityProof.Header, finalityProof.Justification)
	if err != nil {
		return err
	}
	if result.Status != chain.TransactionStatusFinalized {
		return fmt.Errorf("%w: header %d", ErrProofLost, finalityProof.Header.Number)
	}

	relay.metrics.SubmittedProofs.Inc()
	log.WithFields(log.Fields{
		"number": finalityProof.Header.Number,
		"block":  result.Block,
	}).Info("Finality proof finalized at target")
	return nil
}
