// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/ids"
)

// AddressLen is the byte length of an address.
const AddressLen = len(ids.ShortID{})

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrZeroAddress         = errors.New("zero address")
	ErrUnknownToken        = errors.New("unknown token")
	ErrTokenExists         = errors.New("token already registered")

	// NativeToken pays transport fees. It is credited by genesis and never
	// backs anything.
	NativeToken = ids.ShortID{'n', 'a', 't', 'i', 'v', 'e'}

	prefixBalance  = []byte("balance:")
	prefixSupply   = []byte("supply:")
	prefixDecimals = []byte("decimals:")
	prefixStore    = []byte("store:")
)

// Diff is the view of the chain state one execution works against. All
// fungible token bookkeeping goes through it.
type Diff struct {
	chainID ids.ID
	db      database.Database
	height  uint64
	time    uint64

	balances database.Database
	supply   database.Database
	decimals database.Database
}

func newDiff(chainID ids.ID, db database.Database, height, time uint64) *Diff {
	return &Diff{
		chainID:  chainID,
		db:       db,
		height:   height,
		time:     time,
		balances: prefixdb.New(prefixBalance, db),
		supply:   prefixdb.New(prefixSupply, db),
		decimals: prefixdb.New(prefixDecimals, db),
	}
}

func (d *Diff) ChainID() ids.ID {
	return d.chainID
}

// Height is the block height of this execution.
func (d *Diff) Height() uint64 {
	return d.height
}

// Time is the unix timestamp of this execution.
func (d *Diff) Time() uint64 {
	return d.time
}

// Store returns the private namespace of the contract at [owner].
func (d *Diff) Store(owner ids.ShortID) database.Database {
	return prefixdb.New(Key(string(prefixStore), owner[:]), d.db)
}

// RegisterToken records the decimals of the token issued by [token].
func (d *Diff) RegisterToken(token ids.ShortID, decimals uint8) error {
	has, err := d.decimals.Has(token[:])
	if err != nil {
		return err
	}
	if has {
		return fmt.Errorf("%w: %s", ErrTokenExists, token)
	}
	return d.decimals.Put(token[:], []byte{decimals})
}

// Decimals returns the precision of [token].
func (d *Diff) Decimals(token ids.ShortID) (uint8, error) {
	bytes, err := d.decimals.Get(token[:])
	if errors.Is(err, database.ErrNotFound) || (err == nil && len(bytes) != 1) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	if err != nil {
		return 0, err
	}
	return bytes[0], nil
}

func (d *Diff) BalanceOf(token, holder ids.ShortID) (*uint256.Int, error) {
	return GetAmount(d.balances, balanceKey(token, holder))
}

func (d *Diff) TotalSupply(token ids.ShortID) (*uint256.Int, error) {
	return GetAmount(d.supply, token[:])
}

// Transfer moves [amount] of [token] from [from] to [to].
func (d *Diff) Transfer(token, from, to ids.ShortID, amount *uint256.Int) error {
	if to == ids.ShortEmpty {
		return ErrZeroAddress
	}
	if err := d.debit(token, from, amount); err != nil {
		return err
	}
	return d.credit(token, to, amount)
}

// Mint creates [amount] of [token] for [to].
func (d *Diff) Mint(token, to ids.ShortID, amount *uint256.Int) error {
	if to == ids.ShortEmpty {
		return ErrZeroAddress
	}
	supply, err := d.TotalSupply(token)
	if err != nil {
		return err
	}
	supply, err = Add(supply, amount)
	if err != nil {
		return err
	}
	if err := PutAmount(d.supply, token[:], supply); err != nil {
		return err
	}
	return d.credit(token, to, amount)
}

// Burn destroys [amount] of [token] held by [from].
func (d *Diff) Burn(token, from ids.ShortID, amount *uint256.Int) error {
	if err := d.debit(token, from, amount); err != nil {
		return err
	}
	supply, err := d.TotalSupply(token)
	if err != nil {
		return err
	}
	supply, err = Sub(supply, amount)
	if err != nil {
		return err
	}
	return PutAmount(d.supply, token[:], supply)
}

func (d *Diff) credit(token, to ids.ShortID, amount *uint256.Int) error {
	key := balanceKey(token, to)
	balance, err := GetAmount(d.balances, key)
	if err != nil {
		return err
	}
	balance, err = Add(balance, amount)
	if err != nil {
		return err
	}
	return PutAmount(d.balances, key, balance)
}

func (d *Diff) debit(token, from ids.ShortID, amount *uint256.Int) error {
	key := balanceKey(token, from)
	balance, err := GetAmount(d.balances, key)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s",
			ErrInsufficientBalance, from, balance.Dec(), token, amount.Dec())
	}
	return PutAmount(d.balances, key, new(uint256.Int).Sub(balance, amount))
}

func balanceKey(token, holder ids.ShortID) []byte {
	key := make([]byte, 0, 2*AddressLen)
	key = append(key, token[:]...)
	return append(key, holder[:]...)
}
