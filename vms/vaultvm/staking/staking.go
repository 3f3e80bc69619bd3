// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package staking implements the yield-bearing staking vault over vault
// shares.
//
// Rewards distributed into the staking vault vest linearly, so the share
// price rises gradually. Exits go through a cooldown unless the cooldown
// duration is zero, in which case plain withdrawals are allowed.
package staking

import (
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/vault/vms/vaultvm/auth"
	"github.com/luxfi/vault/vms/vaultvm/config"
	"github.com/luxfi/vault/vms/vaultvm/silo"
	"github.com/luxfi/vault/vms/vaultvm/state"
	"github.com/luxfi/vault/vms/vaultvm/vault"
)

var (
	ErrZeroAmount              = errors.New("amount must be positive")
	ErrPaused                  = errors.New("staking vault is paused")
	ErrOperationNotAllowed     = errors.New("operation not allowed")
	ErrMinSharesViolation      = errors.New("share supply below minimum")
	ErrStillVesting            = errors.New("previous rewards still vesting")
	ErrExcessiveWithdrawAmount = errors.New("withdraw amount exceeds maximum")
	ErrExcessiveRedeemAmount   = errors.New("redeem amount exceeds maximum")
	ErrExcessiveBurn           = errors.New("burn amount exceeds total assets")
	ErrCooldownNotElapsed      = errors.New("cooldown has not elapsed")
	ErrNoCooldown              = errors.New("nothing to unstake")
	ErrInvalidCooldown         = errors.New("invalid cooldown duration")
	ErrInvalidToken            = errors.New("invalid token")

	keySettings      = []byte("settings")
	keyVesting       = []byte("vesting")
	keyMinShares     = []byte("minShares")
	prefixCooldown   = "cooldown:"
	vestingPeriod    = uint64(config.VestingPeriod / time.Second)
	vestingPeriod256 = uint256.NewInt(vestingPeriod)
)

type settings struct {
	CooldownDuration uint64 `serialize:"true"`
	Paused           bool   `serialize:"true"`
}

type vestingRecord struct {
	Amount           [32]byte `serialize:"true"`
	LastDistribution uint64   `serialize:"true"`
}

type cooldownRecord struct {
	End    uint64   `serialize:"true"`
	Amount [32]byte `serialize:"true"`
}

// Cooldown is an exit in progress. [Amount] is the underlying held in the
// silo for its owner.
type Cooldown struct {
	End    uint64
	Amount *uint256.Int
}

// Info is a snapshot of the staking vault's accounting.
type Info struct {
	Address          ids.ShortID
	Asset            ids.ShortID
	TotalSupply      *uint256.Int
	TotalAssets      *uint256.Int
	Held             *uint256.Int
	Unvested         *uint256.Int
	VestingAmount    *uint256.Int
	LastDistribution uint64
	Escrowed         *uint256.Int
	CooldownDuration time.Duration
	Paused           bool
}

// Staking is an ERC4626 style vault whose underlying asset is the share
// token of [vault.Vault]. Its address is also its share token.
type Staking struct {
	addr     ids.ShortID
	vault    *vault.Vault
	silo     *silo.Silo
	registry auth.Registry
	log      log.Logger
}

// New returns a staking vault over the shares of [v]. [s] holds the
// underlying of exits in cooldown and must be owned by [addr].
func New(addr ids.ShortID, v *vault.Vault, s *silo.Silo, logger log.Logger) *Staking {
	return &Staking{
		addr:  addr,
		vault: v,
		silo:  s,
		log:   logger,
	}
}

func (s *Staking) Address() ids.ShortID {
	return s.addr
}

// Asset is the underlying token.
func (s *Staking) Asset() ids.ShortID {
	return s.vault.Address()
}

func (s *Staking) Silo() *silo.Silo {
	return s.silo
}

// Initialize registers the share token.
func (s *Staking) Initialize(diff *state.Diff, cooldown time.Duration, minShares *uint256.Int) error {
	if cooldown < 0 || cooldown > config.MaxCooldownDuration {
		return fmt.Errorf("%w: %s", ErrInvalidCooldown, cooldown)
	}
	if err := diff.RegisterToken(s.addr, state.NormalizedDecimals); err != nil {
		return err
	}
	db := diff.Store(s.addr)
	if err := state.PutAmount(db, keyMinShares, minShares); err != nil {
		return err
	}
	return putSettings(db, &settings{CooldownDuration: uint64(cooldown / time.Second)})
}

// TotalAssets is the underlying held minus rewards that have not vested
// yet.
func (s *Staking) TotalAssets(diff *state.Diff) (*uint256.Int, error) {
	held, err := diff.BalanceOf(s.Asset(), s.addr)
	if err != nil {
		return nil, err
	}
	unvested, err := s.Unvested(diff)
	if err != nil {
		return nil, err
	}
	return state.Sub(held, unvested)
}

// Unvested is the part of the last distribution still locked at the
// current time.
func (s *Staking) Unvested(diff *state.Diff) (*uint256.Int, error) {
	v, err := getVesting(diff.Store(s.addr))
	if err != nil {
		return nil, err
	}
	elapsed := diff.Time() - min(diff.Time(), v.LastDistribution)
	if elapsed >= vestingPeriod {
		return state.Zero(), nil
	}
	amount := new(uint256.Int).SetBytes32(v.Amount[:])
	remaining := uint256.NewInt(vestingPeriod - elapsed)
	return state.MulDiv(amount, remaining, vestingPeriod256, false)
}

// ConvertToShares is the number of shares [assets] are worth, rounded
// down.
func (s *Staking) ConvertToShares(diff *state.Diff, assets *uint256.Int) (*uint256.Int, error) {
	return s.toShares(diff, assets, false)
}

// ConvertToAssets is the underlying [shares] are worth, rounded down.
func (s *Staking) ConvertToAssets(diff *state.Diff, shares *uint256.Int) (*uint256.Int, error) {
	return s.toAssets(diff, shares, false)
}

func (s *Staking) PreviewDeposit(diff *state.Diff, assets *uint256.Int) (*uint256.Int, error) {
	return s.toShares(diff, assets, false)
}

func (s *Staking) PreviewMint(diff *state.Diff, shares *uint256.Int) (*uint256.Int, error) {
	return s.toAssets(diff, shares, true)
}

func (s *Staking) PreviewWithdraw(diff *state.Diff, assets *uint256.Int) (*uint256.Int, error) {
	return s.toShares(diff, assets, true)
}

func (s *Staking) PreviewRedeem(diff *state.Diff, shares *uint256.Int) (*uint256.Int, error) {
	return s.toAssets(diff, shares, false)
}

// toShares computes assets * (supply + 1) / (totalAssets + 1). The virtual
// share and asset keep the first depositor from inflating the price.
func (s *Staking) toShares(diff *state.Diff, assets *uint256.Int, roundUp bool) (*uint256.Int, error) {
	supply, totalAssets, err := s.virtualTotals(diff)
	if err != nil {
		return nil, err
	}
	return state.MulDiv(assets, supply, totalAssets, roundUp)
}

func (s *Staking) toAssets(diff *state.Diff, shares *uint256.Int, roundUp bool) (*uint256.Int, error) {
	supply, totalAssets, err := s.virtualTotals(diff)
	if err != nil {
		return nil, err
	}
	return state.MulDiv(shares, totalAssets, supply, roundUp)
}

func (s *Staking) virtualTotals(diff *state.Diff) (*uint256.Int, *uint256.Int, error) {
	one := uint256.NewInt(1)
	supply, err := diff.TotalSupply(s.addr)
	if err != nil {
		return nil, nil, err
	}
	if supply, err = state.Add(supply, one); err != nil {
		return nil, nil, err
	}
	totalAssets, err := s.TotalAssets(diff)
	if err != nil {
		return nil, nil, err
	}
	if totalAssets, err = state.Add(totalAssets, one); err != nil {
		return nil, nil, err
	}
	return supply, totalAssets, nil
}

// Deposit pulls [assets] from [caller] and mints the shares they are worth
// to [receiver].
func (s *Staking) Deposit(diff *state.Diff, caller ids.ShortID, assets *uint256.Int, receiver ids.ShortID) (*uint256.Int, error) {
	if assets.IsZero() {
		return nil, ErrZeroAmount
	}
	shares, err := s.PreviewDeposit(diff, assets)
	if err != nil {
		return nil, err
	}
	return shares, s.deposit(diff, caller, receiver, assets, shares)
}

// Mint mints exactly [shares] to [receiver] for the assets they cost.
func (s *Staking) Mint(diff *state.Diff, caller ids.ShortID, shares *uint256.Int, receiver ids.ShortID) (*uint256.Int, error) {
	if shares.IsZero() {
		return nil, ErrZeroAmount
	}
	assets, err := s.PreviewMint(diff, shares)
	if err != nil {
		return nil, err
	}
	return assets, s.deposit(diff, caller, receiver, assets, shares)
}

func (s *Staking) deposit(diff *state.Diff, caller, receiver ids.ShortID, assets, shares *uint256.Int) error {
	if err := s.requireUnpaused(diff); err != nil {
		return err
	}
	if shares.IsZero() {
		return ErrZeroAmount
	}
	if err := s.registry.RequireUnrestricted(diff, caller, auth.Restrictions); err != nil {
		return err
	}
	if err := s.registry.RequireUnrestricted(diff, receiver, auth.SoftRestricted); err != nil {
		return err
	}
	if err := diff.Transfer(s.Asset(), caller, s.addr, assets); err != nil {
		return err
	}
	if err := s.update(diff, ids.ShortEmpty, receiver, shares); err != nil {
		return err
	}
	return s.checkMinShares(diff)
}

// Withdraw burns the shares [assets] cost from [owner] and pays [receiver].
// It is only available while the cooldown duration is zero.
func (s *Staking) Withdraw(diff *state.Diff, caller ids.ShortID, assets *uint256.Int, receiver, owner ids.ShortID) (*uint256.Int, error) {
	if err := s.requireNoCooldown(diff); err != nil {
		return nil, err
	}
	if assets.IsZero() {
		return nil, ErrZeroAmount
	}
	maxAssets, err := s.maxWithdraw(diff, owner)
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
	return shares, s.withdraw(diff, caller, receiver, owner, assets, shares)
}

// Redeem burns [shares] from [owner] and pays [receiver] the underlying
// they are worth. It is only available while the cooldown duration is zero.
func (s *Staking) Redeem(diff *state.Diff, caller ids.ShortID, shares *uint256.Int, receiver, owner ids.ShortID) (*uint256.Int, error) {
	if err := s.requireNoCooldown(diff); err != nil {
		return nil, err
	}
	if shares.IsZero() {
		return nil, ErrZeroAmount
	}
	balance, err := diff.BalanceOf(s.addr, owner)
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
	return assets, s.withdraw(diff, caller, receiver, owner, assets, shares)
}

func (s *Staking) withdraw(diff *state.Diff, caller, receiver, owner ids.ShortID, assets, shares *uint256.Int) error {
	if err := s.requireUnpaused(diff); err != nil {
		return err
	}
	if caller != owner {
		return fmt.Errorf("%w: %s cannot spend shares of %s", ErrOperationNotAllowed, caller, owner)
	}
	if err := s.registry.RequireUnrestricted(diff, receiver, auth.FullRestricted); err != nil {
		return err
	}
	if err := s.update(diff, owner, ids.ShortEmpty, shares); err != nil {
		return err
	}
	if err := diff.Transfer(s.Asset(), s.addr, receiver, assets); err != nil {
		return err
	}
	return s.checkMinShares(diff)
}

// Transfer moves [amount] shares from [caller] to [to].
func (s *Staking) Transfer(diff *state.Diff, caller, to ids.ShortID, amount *uint256.Int) error {
	if err := s.requireUnpaused(diff); err != nil {
		return err
	}
	if to == ids.ShortEmpty {
		return state.ErrZeroAddress
	}
	return s.update(diff, caller, to, amount)
}

// update is the only place share balances change. An empty [from] mints
// and an empty [to] burns. Full-restricted addresses can neither send nor
// receive.
func (s *Staking) update(diff *state.Diff, from, to ids.ShortID, amount *uint256.Int) error {
	if from != ids.ShortEmpty {
		if err := s.registry.RequireUnrestricted(diff, from, auth.FullRestricted); err != nil {
			return err
		}
	}
	if to != ids.ShortEmpty {
		if err := s.registry.RequireUnrestricted(diff, to, auth.FullRestricted); err != nil {
			return err
		}
	}
	switch {
	case from == ids.ShortEmpty:
		return diff.Mint(s.addr, to, amount)
	case to == ids.ShortEmpty:
		return diff.Burn(s.addr, from, amount)
	default:
		return diff.Transfer(s.addr, from, to, amount)
	}
}

func (s *Staking) maxWithdraw(diff *state.Diff, owner ids.ShortID) (*uint256.Int, error) {
	balance, err := diff.BalanceOf(s.addr, owner)
	if err != nil {
		return nil, err
	}
	return s.toAssets(diff, balance, false)
}

// checkMinShares rejects a share supply in (0, minShares).
func (s *Staking) checkMinShares(diff *state.Diff) error {
	supply, err := diff.TotalSupply(s.addr)
	if err != nil {
		return err
	}
	minShares, err := state.GetAmount(diff.Store(s.addr), keyMinShares)
	if err != nil {
		return err
	}
	if !supply.IsZero() && supply.Lt(minShares) {
		return fmt.Errorf("%w: %s < %s", ErrMinSharesViolation, supply.Dec(), minShares.Dec())
	}
	return nil
}

func (s *Staking) requireUnpaused(diff *state.Diff) error {
	set, err := getSettings(diff.Store(s.addr))
	if err != nil {
		return err
	}
	if set.Paused {
		return ErrPaused
	}
	return nil
}

func (s *Staking) requireNoCooldown(diff *state.Diff) error {
	set, err := getSettings(diff.Store(s.addr))
	if err != nil {
		return err
	}
	if set.CooldownDuration != 0 {
		return fmt.Errorf("%w: cooldown is active", ErrOperationNotAllowed)
	}
	return nil
}

// Info returns the staking vault's accounting at the current time.
func (s *Staking) Info(diff *state.Diff) (*Info, error) {
	db := diff.Store(s.addr)
	set, err := getSettings(db)
	if err != nil {
		return nil, err
	}
	v, err := getVesting(db)
	if err != nil {
		return nil, err
	}
	info := &Info{
		Address:          s.addr,
		Asset:            s.Asset(),
		VestingAmount:    new(uint256.Int).SetBytes32(v.Amount[:]),
		LastDistribution: v.LastDistribution,
		CooldownDuration: time.Duration(set.CooldownDuration) * time.Second,
		Paused:           set.Paused,
	}
	if info.TotalSupply, err = diff.TotalSupply(s.addr); err != nil {
		return nil, err
	}
	if info.Held, err = diff.BalanceOf(s.Asset(), s.addr); err != nil {
		return nil, err
	}
	if info.Unvested, err = s.Unvested(diff); err != nil {
		return nil, err
	}
	if info.TotalAssets, err = state.Sub(info.Held, info.Unvested); err != nil {
		return nil, err
	}
	if info.Escrowed, err = s.silo.Balance(diff); err != nil {
		return nil, err
	}
	return info, nil
}

func getSettings(db database.KeyValueReader) (*settings, error) {
	s := &settings{}
	if _, err := state.GetRecord(db, keySettings, s); err != nil {
		return nil, err
	}
	return s, nil
}

func putSettings(db database.KeyValueWriter, s *settings) error {
	return state.PutRecord(db, keySettings, s)
}

func getVesting(db database.KeyValueReader) (*vestingRecord, error) {
	v := &vestingRecord{}
	if _, err := state.GetRecord(db, keyVesting, v); err != nil {
		return nil, err
	}
	return v, nil
}
