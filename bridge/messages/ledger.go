// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package messages

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
	"github.com/snowfork/go-substrate-rpc-client/v4/types"

	"github.com/crosslane/relayer/bridge/proof"
	"github.com/crosslane/relayer/bridge/storage"
)

var (
	// ErrHalted means the ledger's operating mode forbids the call.
	ErrHalted = errors.New("message lane ledger is halted")
	// ErrUntrackedHeader means the delivery/confirmation proof is built
	// against a bridged header the header-chain ledger does not know.
	ErrUntrackedHeader = errors.New("proof built against untracked bridged header")
	// ErrInvalidMessagesProof covers structurally broken delivery proofs:
	// wrong message count, missing proven values, undecodable lane state.
	ErrInvalidMessagesProof = errors.New("invalid messages proof")
	// ErrInvalidDeliveryProof covers structurally broken confirmation proofs.
	ErrInvalidDeliveryProof = errors.New("invalid messages delivery proof")
	// ErrInvalidDispatchWeight means the relayer declared less dispatch
	// weight than the batch actually needs.
	ErrInvalidDispatchWeight = errors.New("declared dispatch weight is below actual")
	// ErrInvalidRelayersState means the declared unrewarded-relayers state
	// does not match the proved inbound lane data.
	ErrInvalidRelayersState = errors.New("declared unrewarded relayers state does not match proof")
)

// OperatingMode gates chain-facing operations.
type OperatingMode uint8

const (
	ModeNormal OperatingMode = iota
	ModeHalted
)

// HeaderChain is the ledger's view of already-trusted bridged headers. It is
// fed by the finality (or parachain-head) ledger on the same chain.
type HeaderChain interface {
	// StateRoot returns the state root of a tracked bridged header, or
	// (zero, false) if the header is unknown.
	StateRoot(headerHash types.Hash) (types.Hash, bool, error)
}

// DeliveryConfirmationPayments credits relayers once their deliveries are
// confirmed. Implemented by the reward ledger.
type DeliveryConfirmationPayments interface {
	PayReward(confirmationRelayer RelayerID, relayer RelayerID, lane LaneID, messages uint64)
}

// Config bounds the lane state machines.
type Config struct {
	// Maximum entries in the inbound unrewarded-relayers list.
	MaxUnrewardedRelayerEntries uint64
	// Maximum delivered-but-unconfirmed messages at an inbound lane.
	MaxUnconfirmedMessages uint64
	// Maximum confirmed payloads pruned per send.
	MaxMessagesToPruneAtOnce uint64
}

// Ledger is the on-chain message-lane module: the outbound and inbound state
// machines of every lane hosted by one chain, plus the proof-carrying entry
// points driven by relayer transactions. Any violated invariant aborts the
// whole call with no partial state mutation.
type Ledger struct {
	cfg         Config
	store       storage.KeyValue
	headerChain HeaderChain
	dispatch    MessageDispatch
	payments    DeliveryConfirmationPayments

	mu sync.Mutex
}

func NewLedger(
	cfg Config,
	store storage.KeyValue,
	headerChain HeaderChain,
	dispatch MessageDispatch,
	payments DeliveryConfirmationPayments,
) *Ledger {
	return &Ledger{
		cfg:         cfg,
		store:       store,
		headerChain: headerChain,
		dispatch:    dispatch,
		payments:    payments,
	}
}

// SetOperatingMode halts or resumes chain-facing operations. Administrative.
func (lg *Ledger) SetOperatingMode(mode OperatingMode) error {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	return lg.store.Insert(operatingModeKey(), []byte{byte(mode)})
}

func (lg *Ledger) operatingMode() (OperatingMode, error) {
	raw, ok, err := lg.store.Get(operatingModeKey())
	if err != nil {
		return ModeNormal, err
	}
	if !ok || len(raw) == 0 {
		return ModeNormal, nil
	}
	return OperatingMode(raw[0]), nil
}

func (lg *Ledger) ensureOperational() error {
	mode, err := lg.operatingMode()
	if err != nil {
		return err
	}
	if mode == ModeHalted {
		return ErrHalted
	}
	return nil
}

// SendMessage queues a message on an outbound lane. Local, trusted call: it
// allocates the next nonce, stores the payload and opportunistically prunes
// already-confirmed payloads.
func (lg *Ledger) SendMessage(lane LaneID, payload []byte) (MessageNonce, error) {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	if err := lg.ensureOperational(); err != nil {
		return 0, err
	}

	overlay := storage.NewOverlay(lg.store)
	out := newOutboundLane(lane, overlay)

	nonce, err := out.sendMessage(payload)
	if err != nil {
		return 0, err
	}
	if _, err := out.pruneMessages(lg.cfg.MaxMessagesToPruneAtOnce); err != nil {
		return 0, err
	}
	if err := overlay.Commit(); err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{"lane": lane, "nonce": nonce}).Debug("Message accepted")
	return nonce, nil
}

// ReceiveMessagesProof processes a delivery transaction: it verifies the
// storage proof against an already-trusted bridged state root, dispatches the
// proven messages strictly in nonce order and records the relayer entry. The
// whole batch is rejected on any gap, repeat or exhausted capacity.
func (lg *Ledger) ReceiveMessagesProof(
	relayer RelayerID,
	messagesProof MessagesProof,
	messagesCount uint64,
	declaredDispatchWeight Weight,
) error {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	if err := lg.ensureOperational(); err != nil {
		return err
	}
	if messagesProof.NoncesEnd < messagesProof.NoncesStart ||
		uint64(messagesProof.NoncesEnd-messagesProof.NoncesStart+1) != messagesCount {
		return fmt.Errorf("%w: declared %d messages for range [%d, %d]",
			ErrInvalidMessagesProof, messagesCount, messagesProof.NoncesStart, messagesProof.NoncesEnd)
	}

	checker, err := lg.checker(messagesProof.BridgedHeaderHash, messagesProof.StorageProof)
	if err != nil {
		return err
	}

	// optional outbound lane state of the sending chain
	var laneState *OutboundLaneData
	rawState, err := checker.Read(OutboundLaneDataKey(messagesProof.Lane))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessagesProof, err)
	}
	if rawState != nil {
		decoded, err := DecodeOutboundLaneData(rawState)
		if err != nil {
			return fmt.Errorf("%w: decode outbound lane state: %v", ErrInvalidMessagesProof, err)
		}
		laneState = &decoded
	}

	// read and decode every proven message before mutating anything
	proven := make([]Message, 0, messagesCount)
	var dispatchWeight Weight
	for nonce := messagesProof.NoncesStart; nonce <= messagesProof.NoncesEnd; nonce++ {
		raw, err := checker.Read(MessageKey(messagesProof.Lane, nonce))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMessagesProof, err)
		}
		if raw == nil {
			return fmt.Errorf("%w: message %d not in proof", ErrInvalidMessagesProof, nonce)
		}
		message, err := DecodeMessage(raw)
		if err != nil {
			return fmt.Errorf("%w: decode message %d: %v", ErrInvalidMessagesProof, nonce, err)
		}
		proven = append(proven, message)
		dispatchWeight += lg.dispatch.DispatchWeight(message.Payload)
	}
	if err := checker.EnsureNoUnusedNodes(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessagesProof, err)
	}
	if dispatchWeight > declaredDispatchWeight {
		return fmt.Errorf("%w: declared %d, actual %d", ErrInvalidDispatchWeight,
			declaredDispatchWeight, dispatchWeight)
	}

	overlay := storage.NewOverlay(lg.store)
	in := newInboundLane(messagesProof.Lane, overlay,
		lg.cfg.MaxUnrewardedRelayerEntries, lg.cfg.MaxUnconfirmedMessages)

	if laneState != nil {
		confirmed, err := in.receiveStateUpdate(*laneState)
		if err != nil {
			return err
		}
		if confirmed != nil {
			log.WithFields(log.Fields{
				"lane":               messagesProof.Lane,
				"lastConfirmedNonce": *confirmed,
			}).Debug("Inbound lane state updated")
		}
	}
	// the overlay rolls back lane state on failure, but not dispatcher side
	// effects, so the whole range is validated before anything is dispatched
	if err := in.ensureCanReceive(relayer, messagesProof.NoncesStart, messagesProof.NoncesEnd); err != nil {
		return err
	}
	for _, message := range proven {
		if err := in.receiveMessage(relayer, message.Nonce, message.Payload, lg.dispatch); err != nil {
			return err
		}
	}
	if err := overlay.Commit(); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"lane":     messagesProof.Lane,
		"messages": messagesCount,
		"begin":    messagesProof.NoncesStart,
		"end":      messagesProof.NoncesEnd,
	}).Debug("Messages received")
	return nil
}

// ReceiveMessagesDeliveryProof processes a confirmation transaction: it
// verifies the proved inbound lane data of the bridged chain, advances the
// outbound confirmed nonce and credits every relayer whose delivered range is
// covered by the newly confirmed range.
func (lg *Ledger) ReceiveMessagesDeliveryProof(
	confirmationRelayer RelayerID,
	deliveryProof MessagesDeliveryProof,
	declaredState UnrewardedRelayersState,
) error {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	if err := lg.ensureOperational(); err != nil {
		return err
	}

	checker, err := lg.checker(deliveryProof.BridgedHeaderHash, deliveryProof.StorageProof)
	if err != nil {
		return err
	}
	raw, err := checker.Read(InboundLaneDataKey(deliveryProof.Lane))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDeliveryProof, err)
	}
	if raw == nil {
		return fmt.Errorf("%w: inbound lane data not in proof", ErrInvalidDeliveryProof)
	}
	inboundData, err := DecodeInboundLaneData(raw)
	if err != nil {
		return fmt.Errorf("%w: decode inbound lane data: %v", ErrInvalidDeliveryProof, err)
	}
	if err := checker.EnsureNoUnusedNodes(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDeliveryProof, err)
	}

	// the declared state sizes the transaction weight; a mismatch means the
	// transaction was underweighed
	if !declaredState.Matches(inboundData) {
		return ErrInvalidRelayersState
	}

	overlay := storage.NewOverlay(lg.store)
	out := newOutboundLane(deliveryProof.Lane, overlay)
	confirmed, err := out.confirmDelivery(inboundData.LastDeliveredNonce())
	if err != nil {
		return err
	}
	if err := overlay.Commit(); err != nil {
		return err
	}
	if confirmed == nil {
		// already-confirmed proof, safe no-op: no state change, no rewards
		return nil
	}

	// reward every relayer whose entry overlaps the newly confirmed range;
	// bounded by the bridged chain's maximum relayer entries
	for _, entry := range inboundData.Relayers {
		begin := entry.Messages.Begin
		if begin < confirmed.Begin {
			begin = confirmed.Begin
		}
		end := entry.Messages.End
		if end > confirmed.End {
			end = confirmed.End
		}
		if begin > end {
			continue
		}
		lg.payments.PayReward(confirmationRelayer, entry.Relayer, deliveryProof.Lane, uint64(end-begin+1))
	}

	log.WithFields(log.Fields{
		"lane":  deliveryProof.Lane,
		"begin": confirmed.Begin,
		"end":   confirmed.End,
	}).Debug("Delivery confirmed")
	return nil
}

func (lg *Ledger) checker(bridgedHeaderHash types.Hash, storageProof proof.StorageProof) (*proof.Checker, error) {
	stateRoot, ok, err := lg.headerChain.StateRoot(bridgedHeaderHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUntrackedHeader
	}
	checker, err := proof.NewChecker(common.Hash(stateRoot), storageProof)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessagesProof, err)
	}
	return checker, nil
}

// OutboundLaneData returns the sending-side state of a lane.
func (lg *Ledger) OutboundLaneData(lane LaneID) (OutboundLaneData, error) {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	return newOutboundLane(lane, lg.store).data()
}

// InboundLaneData returns the receiving-side state of a lane.
func (lg *Ledger) InboundLaneData(lane LaneID) (InboundLaneData, error) {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	in := newInboundLane(lane, lg.store, lg.cfg.MaxUnrewardedRelayerEntries, lg.cfg.MaxUnconfirmedMessages)
	return in.data()
}

// OutboundMessagePayload returns the stored message for a nonce, if not yet
// pruned.
func (lg *Ledger) OutboundMessagePayload(lane LaneID, nonce MessageNonce) (Message, bool, error) {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	return newOutboundLane(lane, lg.store).messagePayload(nonce)
}
