// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/vault/vms/vaultvm/auth"
	"github.com/luxfi/vault/vms/vaultvm/state"
)

type fixture struct {
	chain  *state.Chain
	ledger *Ledger
	admin  ids.ShortID
	minter ids.ShortID
	usdc   ids.ShortID
	dai    ids.ShortID
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		chain:  state.NewChain(ids.GenerateTestID(), memdb.New(), nil, log.NewNoOpLogger()),
		ledger: New(ids.GenerateTestShortID(), log.NewNoOpLogger()),
		admin:  ids.GenerateTestShortID(),
		minter: ids.GenerateTestShortID(),
		usdc:   ids.GenerateTestShortID(),
		dai:    ids.GenerateTestShortID(),
	}
	require.NoError(t, f.chain.Execute(func(d *state.Diff) error {
		registry := auth.Registry{}
		if err := registry.Bootstrap(d, f.admin); err != nil {
			return err
		}
		if err := registry.Grant(d, f.admin, f.minter, auth.Minter); err != nil {
			return err
		}
		if err := f.ledger.Initialize(d); err != nil {
			return err
		}
		if err := d.RegisterToken(f.usdc, 6); err != nil {
			return err
		}
		if err := d.RegisterToken(f.dai, 18); err != nil {
			return err
		}
		if err := f.ledger.AddSupportedAsset(d, f.admin, f.usdc); err != nil {
			return err
		}
		if err := f.ledger.AddSupportedAsset(d, f.admin, f.dai); err != nil {
			return err
		}
		if err := d.Mint(f.usdc, f.minter, uint256.NewInt(1_000_000_000)); err != nil {
			return err
		}
		return d.Mint(f.dai, f.minter, state.Units(1_000))
	}))
	return f
}

func (f *fixture) mint(asset ids.ShortID, amount *uint256.Int) (*uint256.Int, error) {
	var normalized *uint256.Int
	err := f.chain.Execute(func(d *state.Diff) error {
		var err error
		normalized, err = f.ledger.Mint(d, f.minter, asset, amount, f.minter)
		return err
	})
	return normalized, err
}

func TestMintNormalizesDecimals(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	normalized, err := f.mint(f.usdc, uint256.NewInt(1_000_000_000)) // 1000 USDC
	require.NoError(err)
	require.Equal(state.Units(1_000), normalized)

	normalized, err = f.mint(f.dai, state.Units(5))
	require.NoError(err)
	require.Equal(state.Units(5), normalized)

	require.NoError(f.chain.View(func(d *state.Diff) error {
		supply, err := d.TotalSupply(f.ledger.Address())
		require.NoError(err)
		require.Equal(state.Units(1_005), supply)

		tracked, err := f.ledger.Tracked(d, f.usdc)
		require.NoError(err)
		require.Equal(uint256.NewInt(1_000_000_000), tracked)
		return nil
	}))
}

func TestMintErrors(t *testing.T) {
	tests := []struct {
		name        string
		caller      func(*fixture) ids.ShortID
		asset       func(*fixture) ids.ShortID
		amount      *uint256.Int
		expectedErr error
	}{
		{
			name:        "not a minter",
			caller:      func(*fixture) ids.ShortID { return ids.GenerateTestShortID() },
			asset:       func(f *fixture) ids.ShortID { return f.usdc },
			amount:      uint256.NewInt(1),
			expectedErr: auth.ErrUnauthorized,
		},
		{
			name:        "zero amount",
			caller:      func(f *fixture) ids.ShortID { return f.minter },
			asset:       func(f *fixture) ids.ShortID { return f.usdc },
			amount:      uint256.NewInt(0),
			expectedErr: ErrZeroAmount,
		},
		{
			name:        "unknown asset",
			caller:      func(f *fixture) ids.ShortID { return f.minter },
			asset:       func(*fixture) ids.ShortID { return ids.GenerateTestShortID() },
			amount:      uint256.NewInt(1),
			expectedErr: ErrUnsupportedAsset,
		},
		{
			name:        "more than held",
			caller:      func(f *fixture) ids.ShortID { return f.minter },
			asset:       func(f *fixture) ids.ShortID { return f.usdc },
			amount:      uint256.NewInt(1_000_000_001),
			expectedErr: state.ErrInsufficientBalance,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t)
			err := f.chain.Execute(func(d *state.Diff) error {
				caller := test.caller(f)
				_, err := f.ledger.Mint(d, caller, test.asset(f), test.amount, caller)
				return err
			})
			require.ErrorIs(t, err, test.expectedErr)
		})
	}
}

func TestRedeemRoundsDown(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	_, err := f.mint(f.usdc, uint256.NewInt(2_000_000))
	require.NoError(err)

	// 1.5 native units worth of normalized units pays out 1 and burns all.
	normalized := new(uint256.Int).Mul(uint256.NewInt(15), state.Pow10(11))
	require.NoError(f.chain.Execute(func(d *state.Diff) error {
		native, err := f.ledger.Redeem(d, f.minter, f.usdc, normalized, f.minter)
		require.NoError(err)
		require.Equal(uint256.NewInt(1), native)
		return nil
	}))

	require.NoError(f.chain.View(func(d *state.Diff) error {
		balance, err := d.BalanceOf(f.ledger.Address(), f.minter)
		require.NoError(err)
		expected := new(uint256.Int).Sub(state.Units(2), normalized)
		require.Equal(expected, balance)

		tracked, err := f.ledger.Tracked(d, f.usdc)
		require.NoError(err)
		require.Equal(uint256.NewInt(1_999_999), tracked)
		return nil
	}))

	err = f.chain.Execute(func(d *state.Diff) error {
		_, err := f.ledger.Redeem(d, f.minter, f.usdc, state.Pow10(11), f.minter)
		return err
	})
	require.ErrorIs(err, ErrAmountTooSmall)
}

func TestRemovedAssetStillRedeems(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	_, err := f.mint(f.dai, state.Units(10))
	require.NoError(err)

	require.NoError(f.chain.Execute(func(d *state.Diff) error {
		return f.ledger.RemoveSupportedAsset(d, f.admin, f.dai)
	}))

	_, err = f.mint(f.dai, state.Units(1))
	require.ErrorIs(err, ErrUnsupportedAsset)

	require.NoError(f.chain.Execute(func(d *state.Diff) error {
		native, err := f.ledger.Redeem(d, f.minter, f.dai, state.Units(10), f.minter)
		require.NoError(err)
		require.Equal(state.Units(10), native)
		return nil
	}))
}

func TestRedeemNeedsTrackedCollateral(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	_, err := f.mint(f.dai, state.Units(10))
	require.NoError(err)

	require.NoError(f.chain.Execute(func(d *state.Diff) error {
		return f.ledger.WithdrawCollateral(d, f.admin, f.dai, state.Units(8), f.admin)
	}))

	err = f.chain.Execute(func(d *state.Diff) error {
		_, err := f.ledger.Redeem(d, f.minter, f.dai, state.Units(3), f.minter)
		return err
	})
	require.ErrorIs(err, ErrInsufficientCollateral)

	require.NoError(f.chain.Execute(func(d *state.Diff) error {
		return f.ledger.DepositCollateral(d, f.admin, f.dai, state.Units(5))
	}))

	require.NoError(f.chain.View(func(d *state.Diff) error {
		asset, err := f.ledger.Asset(d, f.dai)
		require.NoError(err)
		require.Equal(state.Units(7), asset.Tracked)
		require.Equal(state.Units(3), asset.External)

		// tracked + external still covers the supply.
		supply, err := d.TotalSupply(f.ledger.Address())
		require.NoError(err)
		backing := new(uint256.Int).Add(asset.Tracked, asset.External)
		require.Equal(supply, backing)
		return nil
	}))
}

func TestMintWithoutCollateral(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	err := f.chain.Execute(func(d *state.Diff) error {
		return f.ledger.MintWithoutCollateral(d, f.minter, state.Units(1), f.minter)
	})
	require.ErrorIs(err, auth.ErrUnauthorized)

	require.NoError(f.chain.Execute(func(d *state.Diff) error {
		return f.ledger.MintWithoutCollateral(d, f.admin, state.Units(3), f.minter)
	}))

	require.NoError(f.chain.View(func(d *state.Diff) error {
		unbacked, err := f.ledger.Unbacked(d)
		require.NoError(err)
		require.Equal(state.Units(3), unbacked)

		supply, err := d.TotalSupply(f.ledger.Address())
		require.NoError(err)
		require.Equal(unbacked, supply)
		return nil
	}))
}

func TestAddSupportedAssetRejectsPrecision(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	precise := ids.GenerateTestShortID()
	err := f.chain.Execute(func(d *state.Diff) error {
		if err := d.RegisterToken(precise, 24); err != nil {
			return err
		}
		return f.ledger.AddSupportedAsset(d, f.admin, precise)
	})
	require.ErrorIs(err, ErrInvalidDecimals)

	err = f.chain.Execute(func(d *state.Diff) error {
		return f.ledger.AddSupportedAsset(d, f.minter, f.usdc)
	})
	require.ErrorIs(err, auth.ErrUnauthorized)

	require.NoError(f.chain.View(func(d *state.Diff) error {
		assets, err := f.ledger.Assets(d)
		require.NoError(err)
		require.Len(assets, 2)
		return nil
	}))
}

func TestRescueToken(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	stray := ids.GenerateTestShortID()
	require.NoError(f.chain.Execute(func(d *state.Diff) error {
		if err := d.RegisterToken(stray, 18); err != nil {
			return err
		}
		return d.Mint(stray, f.ledger.Address(), state.Units(1))
	}))

	for _, token := range []ids.ShortID{f.usdc, f.ledger.Address()} {
		err := f.chain.Execute(func(d *state.Diff) error {
			return f.ledger.RescueToken(d, f.admin, token, uint256.NewInt(1), f.admin)
		})
		require.ErrorIs(err, ErrCannotRescue)
	}

	require.NoError(f.chain.Execute(func(d *state.Diff) error {
		return f.ledger.RescueToken(d, f.admin, stray, state.Units(1), f.admin)
	}))
}
