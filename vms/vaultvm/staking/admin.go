// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package staking

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/vault/vms/vaultvm/auth"
	"github.com/luxfi/vault/vms/vaultvm/config"
	"github.com/luxfi/vault/vms/vaultvm/state"
)

// TransferInRewards pulls [amount] of the underlying from [caller] and
// vests it over the vesting period. A new distribution cannot start until
// the previous one fully vested.
func (s *Staking) TransferInRewards(diff *state.Diff, caller ids.ShortID, amount *uint256.Int) error {
	if err := s.registry.Require(diff, caller, auth.Rewarder); err != nil {
		return err
	}
	if amount.IsZero() {
		return ErrZeroAmount
	}
	unvested, err := s.Unvested(diff)
	if err != nil {
		return err
	}
	if !unvested.IsZero() {
		return fmt.Errorf("%w: %s unvested", ErrStillVesting, unvested.Dec())
	}
	if err := state.PutRecord(diff.Store(s.addr), keyVesting, &vestingRecord{
		Amount:           amount.Bytes32(),
		LastDistribution: diff.Time(),
	}); err != nil {
		return err
	}
	if err := diff.Transfer(s.Asset(), caller, s.addr, amount); err != nil {
		return err
	}

	s.log.Info("rewards received",
		log.Stringer("rewarder", caller),
		log.String("amount", amount.Dec()),
		log.Uint64("timestamp", diff.Time()),
	)
	return nil
}

// BurnAssets destroys [amount] of the underlying backing every share and
// pauses the vault.
func (s *Staking) BurnAssets(diff *state.Diff, caller ids.ShortID, amount *uint256.Int) error {
	if err := s.registry.Require(diff, caller, auth.Admin); err != nil {
		return err
	}
	if amount.IsZero() {
		return ErrZeroAmount
	}
	totalAssets, err := s.TotalAssets(diff)
	if err != nil {
		return err
	}
	if amount.Gt(totalAssets) {
		return fmt.Errorf("%w: %s > %s", ErrExcessiveBurn, amount.Dec(), totalAssets.Dec())
	}
	if err := s.vault.Burn(diff, s.addr, amount); err != nil {
		return err
	}

	s.log.Warn("assets burned",
		log.Stringer("caller", caller),
		log.String("amount", amount.Dec()),
	)
	return s.setPaused(diff, true)
}

func (s *Staking) Pause(diff *state.Diff, caller ids.ShortID) error {
	if err := s.registry.Require(diff, caller, auth.Admin); err != nil {
		return err
	}
	return s.setPaused(diff, true)
}

func (s *Staking) Unpause(diff *state.Diff, caller ids.ShortID) error {
	if err := s.registry.Require(diff, caller, auth.Admin); err != nil {
		return err
	}
	return s.setPaused(diff, false)
}

func (s *Staking) setPaused(diff *state.Diff, paused bool) error {
	db := diff.Store(s.addr)
	set, err := getSettings(db)
	if err != nil {
		return err
	}
	set.Paused = paused
	s.log.Info("pause state updated",
		log.Bool("paused", paused),
	)
	return putSettings(db, set)
}

// SetCooldownDuration switches between cooldown exits and plain
// withdrawals. Existing cooldowns keep their end time.
func (s *Staking) SetCooldownDuration(diff *state.Diff, caller ids.ShortID, duration time.Duration) error {
	if err := s.registry.Require(diff, caller, auth.Admin); err != nil {
		return err
	}
	if duration < 0 || duration > config.MaxCooldownDuration {
		return fmt.Errorf("%w: %s", ErrInvalidCooldown, duration)
	}
	db := diff.Store(s.addr)
	set, err := getSettings(db)
	if err != nil {
		return err
	}
	previous := time.Duration(set.CooldownDuration) * time.Second
	set.CooldownDuration = uint64(duration / time.Second)
	s.log.Info("cooldown duration updated",
		log.Duration("previous", previous),
		log.Duration("duration", duration),
	)
	return putSettings(db, set)
}

// AddToBlacklist restricts [target] at [level].
func (s *Staking) AddToBlacklist(diff *state.Diff, caller, target ids.ShortID, level auth.Capability) error {
	return s.registry.Restrict(diff, caller, target, level, true)
}

func (s *Staking) RemoveFromBlacklist(diff *state.Diff, caller, target ids.ShortID, level auth.Capability) error {
	return s.registry.Restrict(diff, caller, target, level, false)
}

// RedistributeLockedAmount moves the whole balance of the full-restricted
// [from] to [to]. An empty [to] burns it, which spreads its value over the
// remaining holders.
func (s *Staking) RedistributeLockedAmount(diff *state.Diff, caller, from, to ids.ShortID) error {
	if err := s.registry.Require(diff, caller, auth.Admin); err != nil {
		return err
	}
	restricted, err := s.registry.Has(diff, from, auth.FullRestricted)
	if err != nil {
		return err
	}
	if !restricted {
		return fmt.Errorf("%w: %s is not full restricted", ErrOperationNotAllowed, from)
	}
	amount, err := diff.BalanceOf(s.addr, from)
	if err != nil {
		return err
	}
	if amount.IsZero() {
		return ErrZeroAmount
	}
	if err := diff.Burn(s.addr, from, amount); err != nil {
		return err
	}
	if to != ids.ShortEmpty {
		if err := s.update(diff, ids.ShortEmpty, to, amount); err != nil {
			return err
		}
	}

	s.log.Warn("locked amount redistributed",
		log.Stringer("from", from),
		log.Stringer("to", to),
		log.String("amount", amount.Dec()),
	)
	return s.checkMinShares(diff)
}

// RescueTokens sends stray tokens held by the staking vault to [to]. The
// underlying cannot be rescued.
func (s *Staking) RescueTokens(diff *state.Diff, caller, token ids.ShortID, amount *uint256.Int, to ids.ShortID) error {
	if err := s.registry.Require(diff, caller, auth.Admin); err != nil {
		return err
	}
	if token == s.Asset() {
		return fmt.Errorf("%w: %s is the underlying", ErrInvalidToken, token)
	}
	return diff.Transfer(token, s.addr, to, amount)
}
