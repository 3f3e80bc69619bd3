// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package auth is the capability-set lookup every privileged entry point
// consults. Roles and blacklist levels are both bits of the same set.
package auth

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"

	"github.com/luxfi/vault/vms/vaultvm/state"
)

// Capability is a set of privileged actions.
type Capability uint64

const (
	// Admin grants and revokes capabilities and owns every admin-only
	// setter.
	Admin Capability = 1 << iota
	// Minter may mint and redeem against the collateral ledger.
	Minter
	// UnbackedMinter may mint ledger units without pulling collateral.
	UnbackedMinter
	// CollateralManager may move tracked collateral to external venues.
	CollateralManager
	// Gatekeeper may disable minting and redeeming.
	Gatekeeper
	// Rewarder may distribute staking rewards.
	Rewarder
	// BlacklistManager may set and clear restriction levels.
	BlacklistManager
	// SoftRestricted addresses cannot deposit into the staking vault.
	SoftRestricted
	// FullRestricted addresses cannot move staking shares at all.
	FullRestricted

	// Restrictions are the blacklist levels.
	Restrictions = SoftRestricted | FullRestricted
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRestricted         = errors.New("address is restricted")
	ErrAlreadyInitialized = errors.New("capabilities already initialized")
	ErrInvalidCapability  = errors.New("invalid capability")

	// authority is the reserved namespace of the registry.
	authority = ids.ShortID{'a', 'u', 't', 'h'}

	keyInitialized = []byte("initialized")
	prefixCaps     = "caps:"
)

var capabilityNames = []struct {
	c    Capability
	name string
}{
	{Admin, "admin"},
	{Minter, "minter"},
	{UnbackedMinter, "unbackedMinter"},
	{CollateralManager, "collateralManager"},
	{Gatekeeper, "gatekeeper"},
	{Rewarder, "rewarder"},
	{BlacklistManager, "blacklistManager"},
	{SoftRestricted, "softRestricted"},
	{FullRestricted, "fullRestricted"},
}

func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	var names []string
	for _, n := range capabilityNames {
		if c&n.c != 0 {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

// Registry maps addresses to their capabilities. It is stateless; the
// mapping lives in the chain state.
type Registry struct{}

// Bootstrap grants every role to [admin]. It can run once per chain.
func (Registry) Bootstrap(diff *state.Diff, admin ids.ShortID) error {
	db := diff.Store(authority)
	initialized, err := state.GetFlag(db, keyInitialized)
	if err != nil {
		return err
	}
	if initialized {
		return ErrAlreadyInitialized
	}
	if err := state.PutFlag(db, keyInitialized, true); err != nil {
		return err
	}
	return put(db, admin, Admin|Minter|UnbackedMinter|CollateralManager|Gatekeeper|Rewarder|BlacklistManager)
}

// Of returns the capability set of [addr].
func (Registry) Of(diff *state.Diff, addr ids.ShortID) (Capability, error) {
	return get(diff.Store(authority), addr)
}

// Has reports whether [addr] holds every bit of [c].
func (r Registry) Has(diff *state.Diff, addr ids.ShortID, c Capability) (bool, error) {
	caps, err := r.Of(diff, addr)
	if err != nil {
		return false, err
	}
	return caps&c == c, nil
}

// Require fails with ErrUnauthorized unless [addr] holds [c].
func (r Registry) Require(diff *state.Diff, addr ids.ShortID, c Capability) error {
	ok, err := r.Has(diff, addr, c)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s lacks %s", ErrUnauthorized, addr, c)
	}
	return nil
}

// RequireUnrestricted fails with ErrRestricted if [addr] carries any bit
// of [levels].
func (r Registry) RequireUnrestricted(diff *state.Diff, addr ids.ShortID, levels Capability) error {
	caps, err := r.Of(diff, addr)
	if err != nil {
		return err
	}
	if caps&levels != 0 {
		return fmt.Errorf("%w: %s is %s", ErrRestricted, addr, caps&levels)
	}
	return nil
}

// Grant adds role bits to [addr]. Only admins may grant, and blacklist
// levels go through [Registry.Restrict].
func (r Registry) Grant(diff *state.Diff, caller, addr ids.ShortID, c Capability) error {
	if c&Restrictions != 0 {
		return fmt.Errorf("%w: %s", ErrInvalidCapability, c)
	}
	if err := r.Require(diff, caller, Admin); err != nil {
		return err
	}
	return r.update(diff, addr, func(caps Capability) Capability { return caps | c })
}

// Revoke removes role bits from [addr].
func (r Registry) Revoke(diff *state.Diff, caller, addr ids.ShortID, c Capability) error {
	if c&Restrictions != 0 {
		return fmt.Errorf("%w: %s", ErrInvalidCapability, c)
	}
	if err := r.Require(diff, caller, Admin); err != nil {
		return err
	}
	return r.update(diff, addr, func(caps Capability) Capability { return caps &^ c })
}

// Restrict sets or clears blacklist [levels] on [target]. Admins cannot be
// restricted.
func (r Registry) Restrict(diff *state.Diff, caller, target ids.ShortID, levels Capability, restricted bool) error {
	if levels == 0 || levels&^Restrictions != 0 {
		return fmt.Errorf("%w: %s", ErrInvalidCapability, levels)
	}
	if err := r.Require(diff, caller, BlacklistManager); err != nil {
		return err
	}
	if restricted {
		isAdmin, err := r.Has(diff, target, Admin)
		if err != nil {
			return err
		}
		if isAdmin {
			return fmt.Errorf("%w: cannot restrict admin %s", ErrUnauthorized, target)
		}
	}
	return r.update(diff, target, func(caps Capability) Capability {
		if restricted {
			return caps | levels
		}
		return caps &^ levels
	})
}

func (Registry) update(diff *state.Diff, addr ids.ShortID, f func(Capability) Capability) error {
	db := diff.Store(authority)
	caps, err := get(db, addr)
	if err != nil {
		return err
	}
	return put(db, addr, f(caps))
}

func get(db database.KeyValueReader, addr ids.ShortID) (Capability, error) {
	bytes, err := db.Get(state.Key(prefixCaps, addr[:]))
	if errors.Is(err, database.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(bytes) != 8 {
		return 0, fmt.Errorf("%w: capability record of %s", ErrInvalidCapability, addr)
	}
	return Capability(binary.BigEndian.Uint64(bytes)), nil
}

func put(db database.KeyValueWriterDeleter, addr ids.ShortID, c Capability) error {
	key := state.Key(prefixCaps, addr[:])
	if c == 0 {
		return db.Delete(key)
	}
	return db.Put(key, binary.BigEndian.AppendUint64(nil, uint64(c)))
}
