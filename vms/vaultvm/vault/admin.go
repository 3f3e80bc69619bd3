// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

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

// DisableMint stops all deposits until an admin re-enables them.
func (v *Vault) DisableMint(diff *state.Diff, caller ids.ShortID) error {
	return v.gate(diff, caller, auth.Gatekeeper, func(s *settings) { s.MintDisabled = true })
}

// DisableRedeem stops all redemptions until an admin re-enables them.
func (v *Vault) DisableRedeem(diff *state.Diff, caller ids.ShortID) error {
	return v.gate(diff, caller, auth.Gatekeeper, func(s *settings) { s.RedeemDisabled = true })
}

func (v *Vault) EnableMint(diff *state.Diff, caller ids.ShortID) error {
	return v.gate(diff, caller, auth.Admin, func(s *settings) { s.MintDisabled = false })
}

func (v *Vault) EnableRedeem(diff *state.Diff, caller ids.ShortID) error {
	return v.gate(diff, caller, auth.Admin, func(s *settings) { s.RedeemDisabled = false })
}

func (v *Vault) SetForceCooldown(diff *state.Diff, caller ids.ShortID, force bool) error {
	return v.gate(diff, caller, auth.Admin, func(s *settings) { s.ForceCooldown = force })
}

// SetCooldownDuration applies to requests queued afterwards.
func (v *Vault) SetCooldownDuration(diff *state.Diff, caller ids.ShortID, duration time.Duration) error {
	if duration < 0 || duration > config.MaxCooldownDuration {
		return fmt.Errorf("%w: %s", ErrInvalidCooldown, duration)
	}
	return v.gate(diff, caller, auth.Admin, func(s *settings) {
		s.CooldownDuration = uint64(duration / time.Second)
	})
}

func (v *Vault) SetMintLimit(diff *state.Diff, caller ids.ShortID, limit *uint256.Int) error {
	return v.setLimit(diff, caller, keyMaxMint, limit)
}

func (v *Vault) SetRedeemLimit(diff *state.Diff, caller ids.ShortID, limit *uint256.Int) error {
	return v.setLimit(diff, caller, keyMaxRedeem, limit)
}

func (v *Vault) setLimit(diff *state.Diff, caller ids.ShortID, key []byte, limit *uint256.Int) error {
	if err := (auth.Registry{}).Require(diff, caller, auth.Admin); err != nil {
		return err
	}
	v.log.Info("rate limit updated",
		log.String("limit", string(key)),
		log.String("amount", limit.Dec()),
	)
	return state.PutAmount(diff.Store(v.addr), key, limit)
}

func (v *Vault) gate(diff *state.Diff, caller ids.ShortID, required auth.Capability, f func(*settings)) error {
	if err := (auth.Registry{}).Require(diff, caller, required); err != nil {
		return err
	}
	db := diff.Store(v.addr)
	s, err := getSettings(db)
	if err != nil {
		return err
	}
	f(s)
	v.log.Info("vault settings updated",
		log.Stringer("caller", caller),
		log.Bool("mintDisabled", s.MintDisabled),
		log.Bool("redeemDisabled", s.RedeemDisabled),
		log.Bool("forceCooldown", s.ForceCooldown),
		log.Uint64("cooldownDuration", s.CooldownDuration),
	)
	return putSettings(db, s)
}
