// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger implements the collateral ledger: a single 18 decimal token
// backed by several collateral assets of varying precision.
package ledger

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/vault/vms/vaultvm/auth"
	"github.com/luxfi/vault/vms/vaultvm/state"
)

var (
	ErrZeroAmount             = errors.New("amount must be positive")
	ErrUnsupportedAsset       = errors.New("unsupported asset")
	ErrAmountTooSmall         = errors.New("amount too small to redeem")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrInvalidDecimals        = errors.New("asset decimals exceed ledger precision")
	ErrCannotRescue           = errors.New("token cannot be rescued")

	keyUnbacked    = []byte("unbacked")
	prefixAsset    = "asset:"
	prefixTracked  = "tracked:"
	prefixExternal = "external:"
)

type assetRecord struct {
	Decimals  uint8 `serialize:"true"`
	Supported bool  `serialize:"true"`
}

// Asset is the ledger's view of one collateral asset.
type Asset struct {
	Address   ids.ShortID
	Decimals  uint8
	Supported bool
	// Tracked is the collateral held by the ledger, in native units.
	Tracked *uint256.Int
	// External is the collateral a collateral manager moved to external
	// venues and has not returned yet, in native units.
	External *uint256.Int
}

// Ledger is the multi-collateral backing token. Its address is also the
// address of the token it issues.
type Ledger struct {
	addr ids.ShortID
	log  log.Logger
}

func New(addr ids.ShortID, logger log.Logger) *Ledger {
	return &Ledger{
		addr: addr,
		log:  logger,
	}
}

// Address is the ledger contract and its token.
func (l *Ledger) Address() ids.ShortID {
	return l.addr
}

// Initialize registers the ledger token.
func (l *Ledger) Initialize(diff *state.Diff) error {
	return diff.RegisterToken(l.addr, state.NormalizedDecimals)
}

// Mint pulls [amount] of [asset] from [caller] and credits [beneficiary]
// with the equivalent normalized units.
func (l *Ledger) Mint(diff *state.Diff, caller, asset ids.ShortID, amount *uint256.Int, beneficiary ids.ShortID) (*uint256.Int, error) {
	if err := (auth.Registry{}).Require(diff, caller, auth.Minter); err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if beneficiary == ids.ShortEmpty {
		return nil, state.ErrZeroAddress
	}
	record, err := l.asset(diff, asset)
	if err != nil {
		return nil, err
	}
	if !record.Supported {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}

	normalized, err := state.Mul(amount, scale(record.Decimals))
	if err != nil {
		return nil, err
	}
	if err := diff.Transfer(asset, caller, l.addr, amount); err != nil {
		return nil, err
	}
	if err := l.addTracked(diff, asset, amount); err != nil {
		return nil, err
	}
	if err := diff.Mint(l.addr, beneficiary, normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}

// Redeem burns [normalized] units from [caller] and pays [beneficiary] the
// native amount they convert to, rounded down. The remainder below one
// native unit is burned with the rest.
func (l *Ledger) Redeem(diff *state.Diff, caller, asset ids.ShortID, normalized *uint256.Int, beneficiary ids.ShortID) (*uint256.Int, error) {
	if err := (auth.Registry{}).Require(diff, caller, auth.Minter); err != nil {
		return nil, err
	}
	if normalized.IsZero() {
		return nil, ErrZeroAmount
	}
	if beneficiary == ids.ShortEmpty {
		return nil, state.ErrZeroAddress
	}
	record, err := l.asset(diff, asset)
	if err != nil {
		return nil, err
	}

	native := new(uint256.Int).Div(normalized, scale(record.Decimals))
	if native.IsZero() {
		return nil, ErrAmountTooSmall
	}
	if err := l.subTracked(diff, asset, native); err != nil {
		return nil, err
	}
	if err := diff.Burn(l.addr, caller, normalized); err != nil {
		return nil, err
	}
	if err := diff.Transfer(asset, l.addr, beneficiary, native); err != nil {
		return nil, err
	}
	return native, nil
}

// PreviewMint returns the normalized units [amount] of [asset] mints.
func (l *Ledger) PreviewMint(diff *state.Diff, asset ids.ShortID, amount *uint256.Int) (*uint256.Int, error) {
	record, err := l.asset(diff, asset)
	if err != nil {
		return nil, err
	}
	return state.Mul(amount, scale(record.Decimals))
}

// PreviewRedeem returns the native units [normalized] redeems for.
func (l *Ledger) PreviewRedeem(diff *state.Diff, asset ids.ShortID, normalized *uint256.Int) (*uint256.Int, error) {
	record, err := l.asset(diff, asset)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Div(normalized, scale(record.Decimals)), nil
}

// MintWithoutCollateral credits [beneficiary] with units nothing backs.
func (l *Ledger) MintWithoutCollateral(diff *state.Diff, caller ids.ShortID, amount *uint256.Int, beneficiary ids.ShortID) error {
	if err := (auth.Registry{}).Require(diff, caller, auth.UnbackedMinter); err != nil {
		return err
	}
	if amount.IsZero() {
		return ErrZeroAmount
	}
	db := diff.Store(l.addr)
	unbacked, err := state.GetAmount(db, keyUnbacked)
	if err != nil {
		return err
	}
	unbacked, err = state.Add(unbacked, amount)
	if err != nil {
		return err
	}
	if err := state.PutAmount(db, keyUnbacked, unbacked); err != nil {
		return err
	}
	if err := diff.Mint(l.addr, beneficiary, amount); err != nil {
		return err
	}

	l.log.Warn("minted without collateral",
		log.Stringer("caller", caller),
		log.Stringer("beneficiary", beneficiary),
		log.String("amount", amount.Dec()),
		log.String("unbacked", unbacked.Dec()),
	)
	return nil
}

// Unbacked is the total minted without collateral.
func (l *Ledger) Unbacked(diff *state.Diff) (*uint256.Int, error) {
	return state.GetAmount(diff.Store(l.addr), keyUnbacked)
}

// WithdrawCollateral moves tracked collateral to [to] without touching the
// ledger supply.
func (l *Ledger) WithdrawCollateral(diff *state.Diff, caller, asset ids.ShortID, amount *uint256.Int, to ids.ShortID) error {
	if err := (auth.Registry{}).Require(diff, caller, auth.CollateralManager); err != nil {
		return err
	}
	if amount.IsZero() {
		return ErrZeroAmount
	}
	if _, err := l.asset(diff, asset); err != nil {
		return err
	}
	if err := l.subTracked(diff, asset, amount); err != nil {
		return err
	}

	db := diff.Store(l.addr)
	key := state.Key(prefixExternal, asset[:])
	external, err := state.GetAmount(db, key)
	if err != nil {
		return err
	}
	external, err = state.Add(external, amount)
	if err != nil {
		return err
	}
	if err := state.PutAmount(db, key, external); err != nil {
		return err
	}
	return diff.Transfer(asset, l.addr, to, amount)
}

// DepositCollateral returns collateral from [caller] to the ledger.
// Returning more than was withdrawn adds to the backing.
func (l *Ledger) DepositCollateral(diff *state.Diff, caller, asset ids.ShortID, amount *uint256.Int) error {
	if err := (auth.Registry{}).Require(diff, caller, auth.CollateralManager); err != nil {
		return err
	}
	if amount.IsZero() {
		return ErrZeroAmount
	}
	if _, err := l.asset(diff, asset); err != nil {
		return err
	}
	if err := diff.Transfer(asset, caller, l.addr, amount); err != nil {
		return err
	}
	if err := l.addTracked(diff, asset, amount); err != nil {
		return err
	}

	db := diff.Store(l.addr)
	key := state.Key(prefixExternal, asset[:])
	external, err := state.GetAmount(db, key)
	if err != nil {
		return err
	}
	if external.Lt(amount) {
		external.Clear()
	} else {
		external.Sub(external, amount)
	}
	return state.PutAmount(db, key, external)
}

// AddSupportedAsset allows [asset] to back new mints.
func (l *Ledger) AddSupportedAsset(diff *state.Diff, caller, asset ids.ShortID) error {
	if err := (auth.Registry{}).Require(diff, caller, auth.Admin); err != nil {
		return err
	}
	if asset == l.addr || asset == ids.ShortEmpty {
		return fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	decimals, err := diff.Decimals(asset)
	if err != nil {
		return err
	}
	if decimals > state.NormalizedDecimals {
		return fmt.Errorf("%w: %s has %d", ErrInvalidDecimals, asset, decimals)
	}
	l.log.Info("collateral asset added",
		log.Stringer("asset", asset),
		log.Uint64("decimals", uint64(decimals)),
	)
	return state.PutRecord(diff.Store(l.addr), state.Key(prefixAsset, asset[:]), &assetRecord{
		Decimals:  decimals,
		Supported: true,
	})
}

// RemoveSupportedAsset stops new mints against [asset]. Holders can still
// redeem for it.
func (l *Ledger) RemoveSupportedAsset(diff *state.Diff, caller, asset ids.ShortID) error {
	if err := (auth.Registry{}).Require(diff, caller, auth.Admin); err != nil {
		return err
	}
	record, err := l.asset(diff, asset)
	if err != nil {
		return err
	}
	if !record.Supported {
		return fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	record.Supported = false
	l.log.Info("collateral asset removed",
		log.Stringer("asset", asset),
	)
	return state.PutRecord(diff.Store(l.addr), state.Key(prefixAsset, asset[:]), record)
}

// RescueToken sends tokens sent to the ledger by mistake to [to].
// Collateral and the ledger token itself are never rescued.
func (l *Ledger) RescueToken(diff *state.Diff, caller, token ids.ShortID, amount *uint256.Int, to ids.ShortID) error {
	if err := (auth.Registry{}).Require(diff, caller, auth.Admin); err != nil {
		return err
	}
	if token == l.addr {
		return fmt.Errorf("%w: ledger token", ErrCannotRescue)
	}
	has, err := diff.Store(l.addr).Has(state.Key(prefixAsset, token[:]))
	if err != nil {
		return err
	}
	if has {
		return fmt.Errorf("%w: %s is collateral", ErrCannotRescue, token)
	}
	return diff.Transfer(token, l.addr, to, amount)
}

// Asset returns the ledger's view of [asset].
func (l *Ledger) Asset(diff *state.Diff, asset ids.ShortID) (*Asset, error) {
	record, err := l.asset(diff, asset)
	if err != nil {
		return nil, err
	}
	return l.describe(diff, asset, record)
}

// Assets returns every asset ever added, supported or not.
func (l *Ledger) Assets(diff *state.Diff) ([]*Asset, error) {
	iter := diff.Store(l.addr).NewIteratorWithPrefix([]byte(prefixAsset))
	defer iter.Release()

	var assets []*Asset
	for iter.Next() {
		var (
			address ids.ShortID
			record  assetRecord
		)
		copy(address[:], iter.Key()[len(prefixAsset):])
		if _, err := state.Codec.Unmarshal(iter.Value(), &record); err != nil {
			return nil, err
		}
		asset, err := l.describe(diff, address, &record)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, iter.Error()
}

// Tracked is the collateral of [asset] held by the ledger.
func (l *Ledger) Tracked(diff *state.Diff, asset ids.ShortID) (*uint256.Int, error) {
	return state.GetAmount(diff.Store(l.addr), state.Key(prefixTracked, asset[:]))
}

func (l *Ledger) describe(diff *state.Diff, asset ids.ShortID, record *assetRecord) (*Asset, error) {
	db := diff.Store(l.addr)
	tracked, err := state.GetAmount(db, state.Key(prefixTracked, asset[:]))
	if err != nil {
		return nil, err
	}
	external, err := state.GetAmount(db, state.Key(prefixExternal, asset[:]))
	if err != nil {
		return nil, err
	}
	return &Asset{
		Address:   asset,
		Decimals:  record.Decimals,
		Supported: record.Supported,
		Tracked:   tracked,
		External:  external,
	}, nil
}

func (l *Ledger) asset(diff *state.Diff, asset ids.ShortID) (*assetRecord, error) {
	record := &assetRecord{}
	found, err := state.GetRecord(diff.Store(l.addr), state.Key(prefixAsset, asset[:]), record)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	return record, nil
}

func (l *Ledger) addTracked(diff *state.Diff, asset ids.ShortID, amount *uint256.Int) error {
	return l.updateTracked(diff.Store(l.addr), asset, func(tracked *uint256.Int) (*uint256.Int, error) {
		return state.Add(tracked, amount)
	})
}

func (l *Ledger) subTracked(diff *state.Diff, asset ids.ShortID, amount *uint256.Int) error {
	return l.updateTracked(diff.Store(l.addr), asset, func(tracked *uint256.Int) (*uint256.Int, error) {
		if tracked.Lt(amount) {
			return nil, fmt.Errorf("%w: %s tracked, %s requested", ErrInsufficientCollateral, tracked.Dec(), amount.Dec())
		}
		return new(uint256.Int).Sub(tracked, amount), nil
	})
}

func (*Ledger) updateTracked(db database.Database, asset ids.ShortID, f func(*uint256.Int) (*uint256.Int, error)) error {
	key := state.Key(prefixTracked, asset[:])
	tracked, err := state.GetAmount(db, key)
	if err != nil {
		return err
	}
	tracked, err = f(tracked)
	if err != nil {
		return err
	}
	return state.PutAmount(db, key, tracked)
}

func scale(decimals uint8) *uint256.Int {
	return state.Pow10(state.NormalizedDecimals - decimals)
}
