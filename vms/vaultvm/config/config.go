// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config defines configuration types for the vault VM.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/math/set"
)

const (
	// MaxCooldownDuration bounds every cooldown an admin can configure.
	MaxCooldownDuration = 90 * 24 * time.Hour
	// VestingPeriod is the window over which distributed rewards unlock.
	VestingPeriod = 8 * time.Hour
	// SharedDecimals is the precision amounts keep on the wire between
	// networks.
	SharedDecimals = 6
)

var ErrInvalidConfig = errors.New("invalid config")

// Config contains configuration parameters for the vault VM.
type Config struct {
	// Vault configuration

	// MaxMintPerBlock caps the normalized units minted per block
	MaxMintPerBlock *uint256.Int `json:"maxMintPerBlock"`
	// MaxRedeemPerBlock caps the shares redeemed per block
	MaxRedeemPerBlock *uint256.Int `json:"maxRedeemPerBlock"`
	// RedeemCooldown is the delay of a queued vault redemption. Durations are
	// integer nanoseconds in JSON.
	RedeemCooldown time.Duration `json:"redeemCooldown"`
	// ForceCooldown routes every vault redemption through the cooldown path
	ForceCooldown bool `json:"forceCooldown"`

	// Staking configuration

	// StakingCooldown is the unstake delay; zero enables instant withdrawals
	StakingCooldown time.Duration `json:"stakingCooldown"`
	// MinShares is the smallest non-zero staking share supply
	MinShares *uint256.Int `json:"minShares"`

	// Cross-chain configuration

	// HubEid is the endpoint ID of the network hosting the vaults
	HubEid uint32 `json:"hubEid"`
	// SpokeEids are the endpoint IDs of networks holding share mirrors
	SpokeEids []uint32 `json:"spokeEids"`
	// BaseFee is the flat native fee of one cross-chain packet
	BaseFee uint64 `json:"baseFee"`
	// FeePerByte is the native fee per byte of packet message
	FeePerByte uint64 `json:"feePerByte"`

	// Collateral lists the collateral assets the devnet deploys
	Collateral []Collateral `json:"collateral"`
}

// Collateral describes one collateral asset.
type Collateral struct {
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// DefaultConfig returns the default configuration for the vault VM.
func DefaultConfig() Config {
	oneMillion := new(uint256.Int).Mul(uint256.NewInt(1_000_000), new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(18)))
	return Config{
		MaxMintPerBlock:   oneMillion,
		MaxRedeemPerBlock: oneMillion.Clone(),
		RedeemCooldown:    24 * time.Hour,
		ForceCooldown:     false,

		StakingCooldown: 7 * 24 * time.Hour,
		MinShares:       new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(18)), // 1 share

		HubEid:     1,
		SpokeEids:  []uint32{2},
		BaseFee:    1_000,
		FeePerByte: 10,

		Collateral: []Collateral{
			{Symbol: "USDC", Decimals: 6},
			{Symbol: "USDT", Decimals: 6},
			{Symbol: "DAI", Decimals: 18},
		},
	}
}

// Parse applies [bytes] on top of the default configuration.
func Parse(bytes []byte) (Config, error) {
	c := DefaultConfig()
	if len(bytes) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(bytes, &c); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return c, c.Verify()
}

// Verify checks the configuration is usable.
func (c *Config) Verify() error {
	switch {
	case c.MaxMintPerBlock == nil || c.MaxRedeemPerBlock == nil:
		return fmt.Errorf("%w: per-block limits are required", ErrInvalidConfig)
	case c.MinShares == nil:
		return fmt.Errorf("%w: minShares is required", ErrInvalidConfig)
	case c.RedeemCooldown < 0 || c.RedeemCooldown > MaxCooldownDuration:
		return fmt.Errorf("%w: redeemCooldown %s out of range", ErrInvalidConfig, c.RedeemCooldown)
	case c.StakingCooldown < 0 || c.StakingCooldown > MaxCooldownDuration:
		return fmt.Errorf("%w: stakingCooldown %s out of range", ErrInvalidConfig, c.StakingCooldown)
	case c.HubEid == 0:
		return fmt.Errorf("%w: hubEid must be non-zero", ErrInvalidConfig)
	}

	eids := set.Of(c.HubEid)
	for _, eid := range c.SpokeEids {
		if eid == 0 || eids.Contains(eid) {
			return fmt.Errorf("%w: duplicate or zero spoke eid %d", ErrInvalidConfig, eid)
		}
		eids.Add(eid)
	}

	symbols := set.NewSet[string](len(c.Collateral))
	for _, col := range c.Collateral {
		if col.Symbol == "" || symbols.Contains(col.Symbol) {
			return fmt.Errorf("%w: duplicate or empty collateral symbol %q", ErrInvalidConfig, col.Symbol)
		}
		if col.Decimals > 18 || col.Decimals < SharedDecimals {
			return fmt.Errorf("%w: collateral %s has %d decimals", ErrInvalidConfig, col.Symbol, col.Decimals)
		}
		symbols.Add(col.Symbol)
	}
	return nil
}
