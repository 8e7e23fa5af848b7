// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

// Package relayers implements the reward ledger: balances credited to
// relayers for confirmed deliveries, keyed by (relayer, lane), paid out
// through a pluggable payment procedure.
package relayers

import (
	"encoding/binary"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/crosslane/relayer/bridge/messages"
	"github.com/crosslane/relayer/bridge/storage"
)

// Balance is a reward amount in the hosting chain's currency unit.
type Balance uint64

// ErrNoReward means there is nothing to claim for the (relayer, lane) key.
var ErrNoReward = errors.New("no reward to claim")

// PaymentProcedure transfers a reward to the relayer's account. Failures do
// not affect ledger accounting: the balance stays credited and payable later.
type PaymentProcedure interface {
	PayReward(relayer messages.RelayerID, lane messages.LaneID, amount Balance) error
}

// Ledger tracks per-(relayer, lane) reward balances. Balances are created on
// first confirmed delivery, incremented per confirmed nonce, and decremented
// only by payout.
type Ledger struct {
	store            storage.KeyValue
	payment          PaymentProcedure
	rewardPerMessage Balance
	metrics          *Metrics

	mu sync.Mutex
}

func NewLedger(store storage.KeyValue, payment PaymentProcedure, rewardPerMessage Balance, metrics *Metrics) *Ledger {
	return &Ledger{
		store:            store,
		payment:          payment,
		rewardPerMessage: rewardPerMessage,
		metrics:          metrics,
	}
}

func rewardKey(relayer messages.RelayerID, lane messages.LaneID) []byte {
	key := append([]byte("relayers:reward:"), relayer[:]...)
	return append(key, lane[:]...)
}

// Credit increases the balance of (relayer, lane) by amount.
func (lg *Ledger) Credit(relayer messages.RelayerID, lane messages.LaneID, amount Balance) error {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	return lg.credit(relayer, lane, amount)
}

func (lg *Ledger) credit(relayer messages.RelayerID, lane messages.LaneID, amount Balance) error {
	balance, err := lg.balance(relayer, lane)
	if err != nil {
		return err
	}
	if err := lg.setBalance(relayer, lane, balance+amount); err != nil {
		return err
	}
	lg.metrics.RewardTotal.WithLabelValues(relayer.String(), lane.String()).Add(float64(amount))
	return nil
}

// Claim pays out the full credited balance of (relayer, lane). When the
// payment procedure fails the balance stays credited.
func (lg *Ledger) Claim(relayer messages.RelayerID, lane messages.LaneID) error {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	balance, err := lg.balance(relayer, lane)
	if err != nil {
		return err
	}
	if balance == 0 {
		return ErrNoReward
	}
	if err := lg.payment.PayReward(relayer, lane, balance); err != nil {
		return err
	}
	return lg.store.Remove(rewardKey(relayer, lane))
}

// Balance returns the credited-but-unpaid reward of (relayer, lane).
func (lg *Ledger) Balance(relayer messages.RelayerID, lane messages.LaneID) (Balance, error) {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	return lg.balance(relayer, lane)
}

func (lg *Ledger) balance(relayer messages.RelayerID, lane messages.LaneID) (Balance, error) {
	raw, ok, err := lg.store.Get(rewardKey(relayer, lane))
	if err != nil || !ok {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, errors.New("malformed reward balance")
	}
	return Balance(binary.LittleEndian.Uint64(raw)), nil
}

func (lg *Ledger) setBalance(relayer messages.RelayerID, lane messages.LaneID, balance Balance) error {
	var raw [8]byte
	binary.LittleEndian.PutUint64(raw[:], uint64(balance))
	return lg.store.Insert(rewardKey(relayer, lane), raw[:])
}

// PayReward implements messages.DeliveryConfirmationPayments. The reward for
// the confirmed nonce range is credited, then an immediate payout is
// attempted. A payout failure for one relayer is logged and does not affect
// other relayers in the same confirmation, nor the confirmation itself.
func (lg *Ledger) PayReward(
	confirmationRelayer messages.RelayerID,
	relayer messages.RelayerID,
	lane messages.LaneID,
	messageCount uint64,
) {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	amount := lg.rewardPerMessage * Balance(messageCount)
	if amount == 0 {
		return
	}
	if err := lg.credit(relayer, lane, amount); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"relayer": relayer,
			"lane":    lane,
		}).Error("Failed to credit relayer reward")
		return
	}

	balance, err := lg.balance(relayer, lane)
	if err != nil {
		return
	}
	if err := lg.payment.PayReward(relayer, lane, balance); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"relayer": relayer,
			"lane":    lane,
			"balance": balance,
		}).Warn("Reward payout failed, balance stays credited")
		return
	}
	if err := lg.store.Remove(rewardKey(relayer, lane)); err != nil {
		log.WithError(err).Error("Failed to clear paid reward balance")
	}
}
