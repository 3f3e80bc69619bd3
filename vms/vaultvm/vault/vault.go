// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vault issues shares against collateral deposited into the ledger
// and redeems them either instantly or through a cooldown.
package vault

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
	"github.com/luxfi/vault/vms/vaultvm/ledger"
	"github.com/luxfi/vault/vms/vaultvm/silo"
	"github.com/luxfi/vault/vms/vaultvm/state"
)

var (
	ErrMintDisabled              = errors.New("minting is disabled")
	ErrRedeemDisabled            = errors.New("redeeming is disabled")
	ErrMaxMintPerBlockExceeded   = errors.New("max mint per block exceeded")
	ErrMaxRedeemPerBlockExceeded = errors.New("max redeem per block exceeded")
	ErrExistingRedemptionRequest = errors.New("redemption request already outstanding")
	ErrNoRedemptionRequest       = errors.New("no redemption request")
	ErrCooldownNotElapsed        = errors.New("cooldown has not elapsed")
	ErrInvalidCooldown           = errors.New("invalid cooldown duration")

	keySettings      = []byte("settings")
	keyMaxMint       = []byte("maxMint")
	keyMaxRedeem     = []byte("maxRedeem")
	keyMintCounter   = []byte("mintCounter")
	keyRedeemCounter = []byte("redeemCounter")
	prefixRedemption = "redemption:"
)

// Params are the initial policy settings of a vault.
type Params struct {
	MaxMintPerBlock   *uint256.Int
	MaxRedeemPerBlock *uint256.Int
	CooldownDuration  time.Duration
	ForceCooldown     bool
}

type settings struct {
	CooldownDuration uint64 `serialize:"true"`
	ForceCooldown    bool   `serialize:"true"`
	MintDisabled     bool   `serialize:"true"`
	RedeemDisabled   bool   `serialize:"true"`
}

// rateLimit counts the amount used during [LastBlock]. It is reset by the
// first call at a later height.
type rateLimit struct {
	LastBlock uint64   `serialize:"true"`
	Amount    [32]byte `serialize:"true"`
}

type redemptionRecord struct {
	Asset       ids.ShortID `serialize:"true"`
	Amount      [32]byte    `serialize:"true"`
	CooldownEnd uint64      `serialize:"true"`
}

// RedemptionRequest is a queued redemption. [Amount] is in ledger units
// held in the silo.
type RedemptionRequest struct {
	Asset       ids.ShortID
	Amount      *uint256.Int
	CooldownEnd uint64
}

// Info is a snapshot of the vault's policy and counters.
type Info struct {
	Address           ids.ShortID
	TotalShares       *uint256.Int
	LedgerBalance     *uint256.Int
	Escrowed          *uint256.Int
	MaxMintPerBlock   *uint256.Int
	MaxRedeemPerBlock *uint256.Int
	MintedThisBlock   *uint256.Int
	RedeemedThisBlock *uint256.Int
	CooldownDuration  time.Duration
	ForceCooldown     bool
	MintDisabled      bool
	RedeemDisabled    bool
}

// Vault issues shares 1:1 with the ledger units its deposits mint. Its
// address is also the share token.
type Vault struct {
	addr        ids.ShortID
	ledger      *ledger.Ledger
	silo        *silo.Silo
	delegations auth.Delegations
	log         log.Logger
}

// New returns a vault backed by [l]. [s] escrows ledger units of queued
// redemptions and must be owned by [addr].
func New(addr ids.ShortID, l *ledger.Ledger, s *silo.Silo, logger log.Logger) *Vault {
	return &Vault{
		addr:        addr,
		ledger:      l,
		silo:        s,
		delegations: auth.Delegations{Namespace: addr},
		log:         logger,
	}
}

func (v *Vault) Address() ids.ShortID {
	return v.addr
}

func (v *Vault) Ledger() *ledger.Ledger {
	return v.ledger
}

func (v *Vault) Silo() *silo.Silo {
	return v.silo
}

// Initialize registers the share token and stores the initial policy.
func (v *Vault) Initialize(diff *state.Diff, params Params) error {
	if params.CooldownDuration < 0 || params.CooldownDuration > config.MaxCooldownDuration {
		return fmt.Errorf("%w: %s", ErrInvalidCooldown, params.CooldownDuration)
	}
	if err := diff.RegisterToken(v.addr, state.NormalizedDecimals); err != nil {
		return err
	}
	db := diff.Store(v.addr)
	if err := state.PutAmount(db, keyMaxMint, params.MaxMintPerBlock); err != nil {
		return err
	}
	if err := state.PutAmount(db, keyMaxRedeem, params.MaxRedeemPerBlock); err != nil {
		return err
	}
	return putSettings(db, &settings{
		CooldownDuration: uint64(params.CooldownDuration / time.Second),
		ForceCooldown:    params.ForceCooldown,
	})
}

// MintWithCollateral deposits [amount] of [asset] from [caller] and issues
// shares for the ledger units it mints.
func (v *Vault) MintWithCollateral(diff *state.Diff, caller, asset ids.ShortID, amount *uint256.Int) (*uint256.Int, error) {
	return v.mint(diff, caller, asset, amount)
}

// MintWithCollateralFor deposits on behalf of [principal]. [delegate] must
// hold an active delegation from [principal].
func (v *Vault) MintWithCollateralFor(diff *state.Diff, delegate, principal, asset ids.ShortID, amount *uint256.Int) (*uint256.Int, error) {
	if err := v.delegations.RequireActive(diff, principal, delegate); err != nil {
		return nil, err
	}
	return v.mint(diff, principal, asset, amount)
}

func (v *Vault) mint(diff *state.Diff, owner, asset ids.ShortID, amount *uint256.Int) (*uint256.Int, error) {
	db := diff.Store(v.addr)
	s, err := getSettings(db)
	if err != nil {
		return nil, err
	}
	if s.MintDisabled {
		return nil, ErrMintDisabled
	}
	if amount.IsZero() {
		return nil, ledger.ErrZeroAmount
	}

	normalized, err := v.ledger.PreviewMint(diff, asset, amount)
	if err != nil {
		return nil, err
	}
	if err := consume(diff, db, keyMintCounter, keyMaxMint, normalized, ErrMaxMintPerBlockExceeded); err != nil {
		return nil, err
	}
	if err := diff.Transfer(asset, owner, v.addr, amount); err != nil {
		return nil, err
	}
	normalized, err = v.ledger.Mint(diff, v.addr, asset, amount, v.addr)
	if err != nil {
		return nil, err
	}
	if err := diff.Mint(v.addr, owner, normalized); err != nil {
		return nil, err
	}

	v.log.Debug("minted shares",
		log.Stringer("owner", owner),
		log.Stringer("asset", asset),
		log.String("shares", normalized.Dec()),
	)
	return normalized, nil
}

// Redeem redeems [shares] of [caller] for [asset]. The collateral is paid
// immediately when the ledger tracks enough of it and the vault does not
// force cooldowns. Otherwise the redemption is queued if [allowQueue] is
// set and fails if not. Queued redemptions report the ledger units placed
// in escrow.
func (v *Vault) Redeem(diff *state.Diff, caller, asset ids.ShortID, shares *uint256.Int, allowQueue bool) (*uint256.Int, bool, error) {
	return v.redeem(diff, caller, asset, shares, allowQueue)
}

// RedeemFor redeems on behalf of [principal].
func (v *Vault) RedeemFor(diff *state.Diff, delegate, principal, asset ids.ShortID, shares *uint256.Int, allowQueue bool) (*uint256.Int, bool, error) {
	if err := v.delegations.RequireActive(diff, principal, delegate); err != nil {
		return nil, false, err
	}
	return v.redeem(diff, principal, asset, shares, allowQueue)
}

func (v *Vault) redeem(diff *state.Diff, owner, asset ids.ShortID, shares *uint256.Int, allowQueue bool) (*uint256.Int, bool, error) {
	db := diff.Store(v.addr)
	s, err := v.beginRedeem(diff, db, shares)
	if err != nil {
		return nil, false, err
	}

	native, err := v.ledger.PreviewRedeem(diff, asset, shares)
	if err != nil {
		return nil, false, err
	}
	if native.IsZero() {
		return nil, false, ledger.ErrAmountTooSmall
	}
	tracked, err := v.ledger.Tracked(diff, asset)
	if err != nil {
		return nil, false, err
	}

	if !s.ForceCooldown && !tracked.Lt(native) {
		if err := diff.Burn(v.addr, owner, shares); err != nil {
			return nil, false, err
		}
		native, err := v.ledger.Redeem(diff, v.addr, asset, shares, owner)
		if err != nil {
			return nil, false, err
		}
		return native, false, nil
	}
	if !allowQueue {
		return nil, false, fmt.Errorf("%w: %s tracked, %s needed", ledger.ErrInsufficientCollateral, tracked.Dec(), native.Dec())
	}
	if err := v.queue(diff, db, s, owner, asset, shares); err != nil {
		return nil, false, err
	}
	return shares, true, nil
}

// CooldownRedeem queues a redemption of [shares] for [asset]. The shares
// are burned and their ledger units held in the silo until the request
// completes or is cancelled.
func (v *Vault) CooldownRedeem(diff *state.Diff, caller, asset ids.ShortID, shares *uint256.Int) error {
	db := diff.Store(v.addr)
	s, err := v.beginRedeem(diff, db, shares)
	if err != nil {
		return err
	}
	native, err := v.ledger.PreviewRedeem(diff, asset, shares)
	if err != nil {
		return err
	}
	if native.IsZero() {
		return ledger.ErrAmountTooSmall
	}
	return v.queue(diff, db, s, caller, asset, shares)
}

func (*Vault) beginRedeem(diff *state.Diff, db database.Database, shares *uint256.Int) (*settings, error) {
	s, err := getSettings(db)
	if err != nil {
		return nil, err
	}
	if s.RedeemDisabled {
		return nil, ErrRedeemDisabled
	}
	if shares.IsZero() {
		return nil, ledger.ErrZeroAmount
	}
	if err := consume(diff, db, keyRedeemCounter, keyMaxRedeem, shares, ErrMaxRedeemPerBlockExceeded); err != nil {
		return nil, err
	}
	return s, nil
}

func (v *Vault) queue(diff *state.Diff, db database.Database, s *settings, owner, asset ids.ShortID, shares *uint256.Int) error {
	key := state.Key(prefixRedemption, owner[:])
	has, err := db.Has(key)
	if err != nil {
		return err
	}
	if has {
		return fmt.Errorf("%w: %s", ErrExistingRedemptionRequest, owner)
	}
	if err := diff.Burn(v.addr, owner, shares); err != nil {
		return err
	}
	if err := diff.Transfer(v.ledger.Address(), v.addr, v.silo.Address(), shares); err != nil {
		return err
	}

	end := diff.Time() + s.CooldownDuration
	v.log.Debug("redemption queued",
		log.Stringer("owner", owner),
		log.Stringer("asset", asset),
		log.String("amount", shares.Dec()),
		log.Uint64("cooldownEnd", end),
	)
	return state.PutRecord(db, key, &redemptionRecord{
		Asset:       asset,
		Amount:      shares.Bytes32(),
		CooldownEnd: end,
	})
}

// CompleteRedeem pays out the caller's queued redemption once its cooldown
// has elapsed.
func (v *Vault) CompleteRedeem(diff *state.Diff, caller ids.ShortID) (*uint256.Int, error) {
	db := diff.Store(v.addr)
	s, err := getSettings(db)
	if err != nil {
		return nil, err
	}
	if s.RedeemDisabled {
		return nil, ErrRedeemDisabled
	}
	request, err := v.takeRequest(db, caller)
	if err != nil {
		return nil, err
	}
	if diff.Time() < request.CooldownEnd {
		return nil, fmt.Errorf("%w: ends at %d", ErrCooldownNotElapsed, request.CooldownEnd)
	}
	if err := v.silo.Withdraw(diff, v.addr, v.addr, request.Amount); err != nil {
		return nil, err
	}
	return v.ledger.Redeem(diff, v.addr, request.Asset, request.Amount, caller)
}

// CancelRedeem returns the caller's escrowed units to the vault and
// restores its shares.
func (v *Vault) CancelRedeem(diff *state.Diff, caller ids.ShortID) error {
	db := diff.Store(v.addr)
	request, err := v.takeRequest(db, caller)
	if err != nil {
		return err
	}
	if err := v.silo.Withdraw(diff, v.addr, v.addr, request.Amount); err != nil {
		return err
	}
	return diff.Mint(v.addr, caller, request.Amount)
}

// RedemptionRequest returns the outstanding request of [owner], if any.
func (v *Vault) RedemptionRequest(diff *state.Diff, owner ids.ShortID) (*RedemptionRequest, bool, error) {
	var record redemptionRecord
	found, err := state.GetRecord(diff.Store(v.addr), state.Key(prefixRedemption, owner[:]), &record)
	if err != nil || !found {
		return nil, false, err
	}
	return &RedemptionRequest{
		Asset:       record.Asset,
		Amount:      new(uint256.Int).SetBytes32(record.Amount[:]),
		CooldownEnd: record.CooldownEnd,
	}, true, nil
}

func (*Vault) takeRequest(db database.Database, owner ids.ShortID) (*RedemptionRequest, error) {
	key := state.Key(prefixRedemption, owner[:])
	var record redemptionRecord
	found, err := state.GetRecord(db, key, &record)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNoRedemptionRequest, owner)
	}
	if err := db.Delete(key); err != nil {
		return nil, err
	}
	return &RedemptionRequest{
		Asset:       record.Asset,
		Amount:      new(uint256.Int).SetBytes32(record.Amount[:]),
		CooldownEnd: record.CooldownEnd,
	}, nil
}

// Burn destroys [shares] held by [caller]. The backing stays in the vault.
func (v *Vault) Burn(diff *state.Diff, caller ids.ShortID, shares *uint256.Int) error {
	if shares.IsZero() {
		return ledger.ErrZeroAmount
	}
	return diff.Burn(v.addr, caller, shares)
}

// ApproveDelegation records the caller's side of a delegation from
// [principal] to [delegate].
func (v *Vault) ApproveDelegation(diff *state.Diff, caller, principal, delegate ids.ShortID) (auth.DelegationStatus, error) {
	return v.delegations.Approve(diff, caller, principal, delegate)
}

func (v *Vault) RevokeDelegation(diff *state.Diff, caller, principal, delegate ids.ShortID) error {
	return v.delegations.Revoke(diff, caller, principal, delegate)
}

// Info returns the vault's policy and counters at the current height.
func (v *Vault) Info(diff *state.Diff) (*Info, error) {
	db := diff.Store(v.addr)
	s, err := getSettings(db)
	if err != nil {
		return nil, err
	}
	info := &Info{
		Address:          v.addr,
		CooldownDuration: time.Duration(s.CooldownDuration) * time.Second,
		ForceCooldown:    s.ForceCooldown,
		MintDisabled:     s.MintDisabled,
		RedeemDisabled:   s.RedeemDisabled,
	}
	if info.TotalShares, err = diff.TotalSupply(v.addr); err != nil {
		return nil, err
	}
	if info.LedgerBalance, err = diff.BalanceOf(v.ledger.Address(), v.addr); err != nil {
		return nil, err
	}
	if info.Escrowed, err = v.silo.Balance(diff); err != nil {
		return nil, err
	}
	if info.MaxMintPerBlock, err = state.GetAmount(db, keyMaxMint); err != nil {
		return nil, err
	}
	if info.MaxRedeemPerBlock, err = state.GetAmount(db, keyMaxRedeem); err != nil {
		return nil, err
	}
	if info.MintedThisBlock, err = used(diff, db, keyMintCounter); err != nil {
		return nil, err
	}
	if info.RedeemedThisBlock, err = used(diff, db, keyRedeemCounter); err != nil {
		return nil, err
	}
	return info, nil
}

func consume(diff *state.Diff, db database.Database, counterKey, limitKey []byte, amount *uint256.Int, errExceeded error) error {
	limit, err := state.GetAmount(db, limitKey)
	if err != nil {
		return err
	}
	current, err := used(diff, db, counterKey)
	if err != nil {
		return err
	}
	next, err := state.Add(current, amount)
	if err != nil {
		return err
	}
	if next.Gt(limit) {
		return fmt.Errorf("%w: %s used of %s at height %d, %s requested",
			errExceeded, current.Dec(), limit.Dec(), diff.Height(), amount.Dec())
	}
	return state.PutRecord(db, counterKey, &rateLimit{
		LastBlock: diff.Height(),
		Amount:    next.Bytes32(),
	})
}

// used returns the amount counted against [counterKey] at the current
// height.
func used(diff *state.Diff, db database.KeyValueReader, counterKey []byte) (*uint256.Int, error) {
	var counter rateLimit
	found, err := state.GetRecord(db, counterKey, &counter)
	if err != nil {
		return nil, err
	}
	if !found || counter.LastBlock != diff.Height() {
		return state.Zero(), nil
	}
	return new(uint256.Int).SetBytes32(counter.Amount[:]), nil
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
