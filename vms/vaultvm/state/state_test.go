// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
)

var errTest = errors.New("non-nil error")

func newTestChain() *Chain {
	return NewChain(ids.GenerateTestID(), memdb.New(), &Clock{}, log.NewNoOpLogger())
}

func TestExecuteCommits(t *testing.T) {
	require := require.New(t)

	chain := newTestChain()
	token := ids.GenerateTestShortID()
	alice := ids.GenerateTestShortID()

	require.NoError(chain.Execute(func(d *Diff) error {
		require.NoError(d.RegisterToken(token, 6))
		return d.Mint(token, alice, uint256.NewInt(100))
	}))

	require.NoError(chain.View(func(d *Diff) error {
		balance, err := d.BalanceOf(token, alice)
		require.NoError(err)
		require.Equal(uint64(100), balance.Uint64())

		supply, err := d.TotalSupply(token)
		require.NoError(err)
		require.Equal(uint64(100), supply.Uint64())

		decimals, err := d.Decimals(token)
		require.NoError(err)
		require.Equal(uint8(6), decimals)
		return nil
	}))
}

func TestExecuteRevertsOnError(t *testing.T) {
	require := require.New(t)

	chain := newTestChain()
	token := ids.GenerateTestShortID()
	alice := ids.GenerateTestShortID()
	bob := ids.GenerateTestShortID()

	require.NoError(chain.Execute(func(d *Diff) error {
		return d.Mint(token, alice, uint256.NewInt(100))
	}))

	err := chain.Execute(func(d *Diff) error {
		require.NoError(d.Transfer(token, alice, bob, uint256.NewInt(60)))
		return errTest
	})
	require.ErrorIs(err, errTest)

	require.NoError(chain.View(func(d *Diff) error {
		balance, err := d.BalanceOf(token, alice)
		require.NoError(err)
		require.Equal(uint64(100), balance.Uint64())

		balance, err = d.BalanceOf(token, bob)
		require.NoError(err)
		require.True(balance.IsZero())
		return nil
	}))
}

func TestViewNeverCommits(t *testing.T) {
	require := require.New(t)

	chain := newTestChain()
	token := ids.GenerateTestShortID()
	alice := ids.GenerateTestShortID()

	require.NoError(chain.View(func(d *Diff) error {
		return d.Mint(token, alice, uint256.NewInt(1))
	}))
	require.NoError(chain.View(func(d *Diff) error {
		supply, err := d.TotalSupply(token)
		require.NoError(err)
		require.True(supply.IsZero())
		return nil
	}))
}

func TestTransferErrors(t *testing.T) {
	require := require.New(t)

	chain := newTestChain()
	token := ids.GenerateTestShortID()
	alice := ids.GenerateTestShortID()

	err := chain.Execute(func(d *Diff) error {
		return d.Transfer(token, alice, ids.GenerateTestShortID(), uint256.NewInt(1))
	})
	require.ErrorIs(err, ErrInsufficientBalance)

	err = chain.Execute(func(d *Diff) error {
		return d.Mint(token, ids.ShortEmpty, uint256.NewInt(1))
	})
	require.ErrorIs(err, ErrZeroAddress)

	err = chain.Execute(func(d *Diff) error {
		_, err := d.Decimals(token)
		return err
	})
	require.ErrorIs(err, ErrUnknownToken)
}

func TestRegisterTokenTwice(t *testing.T) {
	require := require.New(t)

	chain := newTestChain()
	token := ids.GenerateTestShortID()

	err := chain.Execute(func(d *Diff) error {
		require.NoError(d.RegisterToken(token, 18))
		return d.RegisterToken(token, 6)
	})
	require.ErrorIs(err, ErrTokenExists)
}

func TestStoresAreIsolated(t *testing.T) {
	require := require.New(t)

	chain := newTestChain()
	a := ids.GenerateTestShortID()
	b := ids.GenerateTestShortID()

	require.NoError(chain.Execute(func(d *Diff) error {
		return PutAmount(d.Store(a), []byte("k"), uint256.NewInt(7))
	}))
	require.NoError(chain.View(func(d *Diff) error {
		v, err := GetAmount(d.Store(a), []byte("k"))
		require.NoError(err)
		require.Equal(uint64(7), v.Uint64())

		v, err = GetAmount(d.Store(b), []byte("k"))
		require.NoError(err)
		require.True(v.IsZero())
		return nil
	}))
}

func TestClock(t *testing.T) {
	require := require.New(t)

	clock := &Clock{}
	start := time.Unix(1_700_000_000, 0)
	clock.Set(start)
	require.Equal(uint64(1_700_000_000), clock.Unix())

	clock.Advance(time.Hour)
	require.Equal(uint64(1_700_003_600), clock.Unix())

	require.Zero(clock.Height())
	clock.AdvanceBlock(2)
	require.Equal(uint64(2), clock.Height())
}

func TestMulDiv(t *testing.T) {
	tests := []struct {
		name     string
		x, y, d  uint64
		roundUp  bool
		expected uint64
	}{
		{name: "exact", x: 10, y: 10, d: 5, expected: 20},
		{name: "floor", x: 10, y: 1, d: 3, expected: 3},
		{name: "ceil", x: 10, y: 1, d: 3, roundUp: true, expected: 4},
		{name: "ceil exact", x: 9, y: 1, d: 3, roundUp: true, expected: 3},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require := require.New(t)

			z, err := MulDiv(uint256.NewInt(test.x), uint256.NewInt(test.y), uint256.NewInt(test.d), test.roundUp)
			require.NoError(err)
			require.Equal(test.expected, z.Uint64())
		})
	}

	_, err := MulDiv(uint256.NewInt(1), uint256.NewInt(1), Zero(), false)
	require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestCheckedArithmetic(t *testing.T) {
	require := require.New(t)

	maxWord := new(uint256.Int).SetAllOne()
	_, err := Add(maxWord, uint256.NewInt(1))
	require.ErrorIs(err, ErrOverflow)

	_, err = Sub(uint256.NewInt(1), uint256.NewInt(2))
	require.ErrorIs(err, ErrUnderflow)

	_, err = Mul(maxWord, uint256.NewInt(2))
	require.ErrorIs(err, ErrOverflow)

	require.Equal("1000000000000000000000", Units(1000).Dec())
}

func TestStoredValues(t *testing.T) {
	require := require.New(t)

	db := memdb.New()
	counter := Key("counter:", []byte{1})
	value, err := GetUInt64(db, counter)
	require.NoError(err)
	require.Zero(value)
	require.NoError(PutUInt64(db, counter, 42))
	value, err = GetUInt64(db, counter)
	require.NoError(err)
	require.Equal(uint64(42), value)

	amount := Key("amount:")
	require.NoError(PutAmount(db, amount, Units(3)))
	stored, err := GetAmount(db, amount)
	require.NoError(err)
	require.Equal(Units(3), stored)
	require.NoError(PutAmount(db, amount, Zero()))
	has, err := db.Has(amount)
	require.NoError(err)
	require.False(has)

	flag := Key("flag:")
	require.NoError(PutFlag(db, flag, true))
	set, err := GetFlag(db, flag)
	require.NoError(err)
	require.True(set)
	require.NoError(PutFlag(db, flag, false))
	set, err = GetFlag(db, flag)
	require.NoError(err)
	require.False(set)
}
