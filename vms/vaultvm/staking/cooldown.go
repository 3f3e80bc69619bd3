// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package staking

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/vault/vms/vaultvm/state"
)

// CooldownAssets burns the shares worth [assets] and moves the underlying
// into the silo. Repeated calls add up and restart the timer.
func (s *Staking) CooldownAssets(diff *state.Diff, caller ids.ShortID, assets *uint256.Int) (*uint256.Int, error) {
	if assets.IsZero() {
		return nil, ErrZeroAmount
	}
	maxAssets, err := s.maxWithdraw(diff, caller)
	if err != nil {
		return nil, err
	}
	if assets.Gt(maxAssets) {
		return nil, ErrExcessiveWithdrawAmount
	}
	shares, err := s.PreviewWithdraw(diff, assets)
	if err != nil {
		return nil, err
	}
	return shares, s.cooldown(diff, caller, assets, shares)
}

// CooldownShares burns [shares] and moves the underlying they are worth
// into the silo. Repeated calls add up and restart the timer.
func (s *Staking) CooldownShares(diff *state.Diff, caller ids.ShortID, shares *uint256.Int) (*uint256.Int, error) {
	if shares.IsZero() {
		return nil, ErrZeroAmount
	}
	balance, err := diff.BalanceOf(s.addr, caller)
	if err != nil {
		return nil, err
	}
	if shares.Gt(balance) {
		return nil, ErrExcessiveRedeemAmount
	}
	assets, err := s.PreviewRedeem(diff, shares)
	if err != nil {
		return nil, err
	}
	return assets, s.cooldown(diff, caller, assets, shares)
}

func (s *Staking) cooldown(diff *state.Diff, caller ids.ShortID, assets, shares *uint256.Int) error {
	db := diff.Store(s.addr)
	set, err := getSettings(db)
	if err != nil {
		return err
	}
	if set.CooldownDuration == 0 {
		return fmt.Errorf("%w: cooldown is disabled", ErrOperationNotAllowed)
	}

	key := state.Key(prefixCooldown, caller[:])
	var record cooldownRecord
	if _, err := state.GetRecord(db, key, &record); err != nil {
		return err
	}
	total, err := state.Add(new(uint256.Int).SetBytes32(record.Amount[:]), assets)
	if err != nil {
		return err
	}
	record.End = diff.Time() + set.CooldownDuration
	record.Amount = total.Bytes32()
	if err := state.PutRecord(db, key, &record); err != nil {
		return err
	}

	if err := s.withdraw(diff, caller, s.silo.Address(), caller, assets, shares); err != nil {
		return err
	}
	s.log.Debug("cooldown started",
		log.Stringer("owner", caller),
		log.String("assets", assets.Dec()),
		log.String("total", total.Dec()),
		log.Uint64("end", record.End),
	)
	return nil
}

// Unstake pays the caller's cooled down underlying to [receiver] once the
// cooldown ended, or at any time if the cooldown duration was set to zero.
func (s *Staking) Unstake(diff *state.Diff, caller, receiver ids.ShortID) (*uint256.Int, error) {
	db := diff.Store(s.addr)
	set, err := getSettings(db)
	if err != nil {
		return nil, err
	}

	key := state.Key(prefixCooldown, caller[:])
	var record cooldownRecord
	found, err := state.GetRecord(db, key, &record)
	if err != nil {
		return nil, err
	}
	amount := new(uint256.Int).SetBytes32(record.Amount[:])
	if !found || amount.IsZero() {
		return nil, ErrNoCooldown
	}
	if diff.Time() < record.End && set.CooldownDuration != 0 {
		return nil, fmt.Errorf("%w: ends at %d", ErrCooldownNotElapsed, record.End)
	}
	if err := db.Delete(key); err != nil {
		return nil, err
	}
	if err := s.silo.Withdraw(diff, s.addr, receiver, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// Cooldown returns the exit [owner] has in progress, if any.
func (s *Staking) Cooldown(diff *state.Diff, owner ids.ShortID) (*Cooldown, bool, error) {
	var record cooldownRecord
	found, err := state.GetRecord(diff.Store(s.addr), state.Key(prefixCooldown, owner[:]), &record)
	if err != nil || !found {
		return nil, false, err
	}
	return &Cooldown{
		End:    record.End,
		Amount: new(uint256.Int).SetBytes32(record.Amount[:]),
	}, true, nil
}
