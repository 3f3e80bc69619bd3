// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package staking

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/vault/vms/vaultvm/auth"
	"github.com/luxfi/vault/vms/vaultvm/ledger"
	"github.com/luxfi/vault/vms/vaultvm/silo"
	"github.com/luxfi/vault/vms/vaultvm/state"
	"github.com/luxfi/vault/vms/vaultvm/vault"
)

var (
	startTime       = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	defaultCooldown = 7 * 24 * time.Hour
)

type fixture struct {
	chain   *state.Chain
	staking *Staking
	admin   ids.ShortID
	alice   ids.ShortID
	bob     ids.ShortID
}

func newFixture(t *testing.T, cooldown time.Duration) *fixture {
	clock := &state.Clock{}
	clock.Set(startTime)

	var (
		logger      = log.NewNoOpLogger()
		vaultAddr   = ids.GenerateTestShortID()
		stakingAddr = ids.GenerateTestShortID()
		dai         = ids.GenerateTestShortID()
		l           = ledger.New(ids.GenerateTestShortID(), logger)
		v           = vault.New(vaultAddr, l, silo.New(ids.GenerateTestShortID(), vaultAddr, l.Address()), logger)
	)
	f := &fixture{
		chain:   state.NewChain(ids.GenerateTestID(), memdb.New(), clock, logger),
		staking: New(stakingAddr, v, silo.New(ids.GenerateTestShortID(), stakingAddr, vaultAddr), logger),
		admin:   ids.GenerateTestShortID(),
		alice:   ids.GenerateTestShortID(),
		bob:     ids.GenerateTestShortID(),
	}
	require.NoError(t, f.chain.Execute(func(d *state.Diff) error {
		registry := auth.Registry{}
		if err := registry.Bootstrap(d, f.admin); err != nil {
			return err
		}
		if err := registry.Grant(d, f.admin, vaultAddr, auth.Minter); err != nil {
			return err
		}
		if err := l.Initialize(d); err != nil {
			return err
		}
		if err := v.Initialize(d, vault.Params{
			MaxMintPerBlock:   state.Units(1_000_000),
			MaxRedeemPerBlock: state.Units(1_000_000),
		}); err != nil {
			return err
		}
		if err := f.staking.Initialize(d, cooldown, state.Units(1)); err != nil {
			return err
		}
		if err := d.RegisterToken(dai, 18); err != nil {
			return err
		}
		if err := l.AddSupportedAsset(d, f.admin, dai); err != nil {
			return err
		}
		for _, holder := range []ids.ShortID{f.admin, f.alice, f.bob} {
			if err := d.Mint(dai, holder, state.Units(1_000)); err != nil {
				return err
			}
			if _, err := v.MintWithCollateral(d, holder, dai, state.Units(1_000)); err != nil {
				return err
			}
		}
		return nil
	}))
	return f
}

func (f *fixture) execute(t *testing.T, fn func(d *state.Diff) error) {
	require.NoError(t, f.chain.Execute(fn))
}

func (f *fixture) deposit(caller ids.ShortID, assets *uint256.Int) (*uint256.Int, error) {
	var shares *uint256.Int
	err := f.chain.Execute(func(d *state.Diff) error {
		var err error
		shares, err = f.staking.Deposit(d, caller, assets, caller)
		return err
	})
	return shares, err
}

func (f *fixture) shares(holder ids.ShortID) *uint256.Int {
	return f.balance(f.staking.Address(), holder)
}

func (f *fixture) balance(token, holder ids.ShortID) *uint256.Int {
	var balance *uint256.Int
	_ = f.chain.View(func(d *state.Diff) error {
		var err error
		balance, err = d.BalanceOf(token, holder)
		return err
	})
	return balance
}

func (f *fixture) totalAssets() *uint256.Int {
	var totalAssets *uint256.Int
	_ = f.chain.View(func(d *state.Diff) error {
		var err error
		totalAssets, err = f.staking.TotalAssets(d)
		return err
	})
	return totalAssets
}

func TestDepositAndRedeemWithoutCooldown(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 0)

	shares, err := f.deposit(f.alice, state.Units(100))
	require.NoError(err)
	require.Equal(state.Units(100), shares)

	f.execute(t, func(d *state.Diff) error {
		assets, err := f.staking.Redeem(d, f.alice, state.Units(40), f.alice, f.alice)
		require.NoError(err)
		require.Equal(state.Units(40), assets)

		shares, err := f.staking.Withdraw(d, f.alice, state.Units(10), f.bob, f.alice)
		require.NoError(err)
		require.Equal(state.Units(10), shares)
		return nil
	})
	require.Equal(state.Units(50), f.shares(f.alice))
	require.Equal(state.Units(1_010), f.balance(f.staking.Asset(), f.bob))

	err = f.chain.Execute(func(d *state.Diff) error {
		_, err := f.staking.Redeem(d, f.bob, state.Units(1), f.bob, f.alice)
		return err
	})
	require.ErrorIs(err, ErrOperationNotAllowed)

	err = f.chain.Execute(func(d *state.Diff) error {
		_, err := f.staking.Redeem(d, f.alice, state.Units(51), f.alice, f.alice)
		return err
	})
	require.ErrorIs(err, ErrExcessiveRedeemAmount)
}

func TestRewardsVestLinearly(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, defaultCooldown)

	_, err := f.deposit(f.alice, state.Units(100))
	require.NoError(err)

	f.execute(t, func(d *state.Diff) error {
		return f.staking.TransferInRewards(d, f.admin, state.Units(100))
	})
	require.Equal(state.Units(100), f.totalAssets())

	err = f.chain.Execute(func(d *state.Diff) error {
		return f.staking.TransferInRewards(d, f.alice, state.Units(1))
	})
	require.ErrorIs(err, auth.ErrUnauthorized)

	f.chain.Clock().Advance(4 * time.Hour)
	require.Equal(state.Units(150), f.totalAssets())

	err = f.chain.Execute(func(d *state.Diff) error {
		return f.staking.TransferInRewards(d, f.admin, state.Units(1))
	})
	require.ErrorIs(err, ErrStillVesting)

	f.chain.Clock().Advance(4 * time.Hour)
	require.Equal(state.Units(200), f.totalAssets())

	// A new depositor pays the vested price.
	shares, err := f.deposit(f.bob, state.Units(100))
	require.NoError(err)
	require.True(shares.Lt(state.Units(51)))
	require.True(shares.Gt(state.Units(49)))

	f.execute(t, func(d *state.Diff) error {
		return f.staking.TransferInRewards(d, f.admin, state.Units(1))
	})
}

func TestVestingTotalAssetsFormula(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, defaultCooldown)

	_, err := f.deposit(f.alice, state.Units(300))
	require.NoError(err)
	f.execute(t, func(d *state.Diff) error {
		return f.staking.TransferInRewards(d, f.admin, state.Units(90))
	})

	window := uint64(8 * time.Hour / time.Second)
	for _, elapsed := range []uint64{0, 1, 3_600, 10_000, window - 1, window} {
		f.chain.Clock().Set(startTime.Add(time.Duration(elapsed) * time.Second))

		unvested := new(uint256.Int).Mul(state.Units(90), uint256.NewInt(window-elapsed))
		unvested.Div(unvested, uint256.NewInt(window))
		expected := new(uint256.Int).Sub(state.Units(390), unvested)
		require.Equal(expected, f.totalAssets(), "elapsed %d", elapsed)
	}
}

func TestCooldownAndUnstake(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, defaultCooldown)

	_, err := f.deposit(f.alice, state.Units(100))
	require.NoError(err)

	err = f.chain.Execute(func(d *state.Diff) error {
		_, err := f.staking.Redeem(d, f.alice, state.Units(1), f.alice, f.alice)
		return err
	})
	require.ErrorIs(err, ErrOperationNotAllowed)

	f.execute(t, func(d *state.Diff) error {
		assets, err := f.staking.CooldownShares(d, f.alice, state.Units(50))
		require.NoError(err)
		require.Equal(state.Units(50), assets)
		return nil
	})
	require.Equal(state.Units(50), f.shares(f.alice))
	require.Equal(state.Units(900), f.balance(f.staking.Asset(), f.alice))

	unstake := func() (*uint256.Int, error) {
		var amount *uint256.Int
		err := f.chain.Execute(func(d *state.Diff) error {
			var err error
			amount, err = f.staking.Unstake(d, f.alice, f.alice)
			return err
		})
		return amount, err
	}

	f.chain.Clock().Advance(time.Second)
	_, err = unstake()
	require.ErrorIs(err, ErrCooldownNotElapsed)

	f.chain.Clock().Set(startTime.Add(defaultCooldown))
	amount, err := unstake()
	require.NoError(err)
	require.Equal(state.Units(50), amount)
	require.Equal(state.Units(950), f.balance(f.staking.Asset(), f.alice))

	require.NoError(f.chain.View(func(d *state.Diff) error {
		_, found, err := f.staking.Cooldown(d, f.alice)
		require.NoError(err)
		require.False(found)
		return nil
	}))

	_, err = unstake()
	require.ErrorIs(err, ErrNoCooldown)
}

func TestCooldownAccumulates(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, defaultCooldown)

	_, err := f.deposit(f.alice, state.Units(100))
	require.NoError(err)

	f.execute(t, func(d *state.Diff) error {
		_, err := f.staking.CooldownAssets(d, f.alice, state.Units(10))
		return err
	})
	f.chain.Clock().Advance(time.Hour)
	f.execute(t, func(d *state.Diff) error {
		_, err := f.staking.CooldownShares(d, f.alice, state.Units(5))
		return err
	})

	require.NoError(f.chain.View(func(d *state.Diff) error {
		cooldown, found, err := f.staking.Cooldown(d, f.alice)
		require.NoError(err)
		require.True(found)
		require.Equal(state.Units(15), cooldown.Amount)
		require.Equal(uint64(startTime.Add(time.Hour+defaultCooldown).Unix()), cooldown.End)

		info, err := f.staking.Info(d)
		require.NoError(err)
		require.Equal(state.Units(15), info.Escrowed)
		require.Equal(state.Units(85), info.TotalAssets)
		return nil
	}))

	err = f.chain.Execute(func(d *state.Diff) error {
		_, err := f.staking.CooldownAssets(d, f.alice, state.Units(86))
		return err
	})
	require.ErrorIs(err, ErrExcessiveWithdrawAmount)

	// Dropping the cooldown releases escrow immediately.
	f.execute(t, func(d *state.Diff) error {
		return f.staking.SetCooldownDuration(d, f.admin, 0)
	})
	f.execute(t, func(d *state.Diff) error {
		amount, err := f.staking.Unstake(d, f.alice, f.bob)
		require.Equal(state.Units(15), amount)
		return err
	})

	err = f.chain.Execute(func(d *state.Diff) error {
		_, err := f.staking.CooldownShares(d, f.alice, state.Units(1))
		return err
	})
	require.ErrorIs(err, ErrOperationNotAllowed)
}

func TestFullRestricted(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 0)

	_, err := f.deposit(f.alice, state.Units(10))
	require.NoError(err)
	_, err = f.deposit(f.bob, state.Units(10))
	require.NoError(err)

	f.execute(t, func(d *state.Diff) error {
		return f.staking.AddToBlacklist(d, f.admin, f.alice, auth.FullRestricted)
	})

	tests := []struct {
		name string
		fn   func(d *state.Diff) error
	}{
		{
			name: "transfer",
			fn: func(d *state.Diff) error {
				return f.staking.Transfer(d, f.alice, f.bob, state.Units(1))
			},
		},
		{
			name: "receive",
			fn: func(d *state.Diff) error {
				return f.staking.Transfer(d, f.bob, f.alice, state.Units(1))
			},
		},
		{
			name: "deposit",
			fn: func(d *state.Diff) error {
				_, err := f.staking.Deposit(d, f.alice, state.Units(1), f.alice)
				return err
			},
		},
		{
			name: "deposit for",
			fn: func(d *state.Diff) error {
				_, err := f.staking.Deposit(d, f.bob, state.Units(1), f.alice)
				return err
			},
		},
		{
			name: "redeem",
			fn: func(d *state.Diff) error {
				_, err := f.staking.Redeem(d, f.alice, state.Units(1), f.alice, f.alice)
				return err
			},
		},
		{
			name: "withdraw to",
			fn: func(d *state.Diff) error {
				_, err := f.staking.Withdraw(d, f.bob, state.Units(1), f.alice, f.bob)
				return err
			},
		},
	}
	for _, test := range tests {
		require.ErrorIs(f.chain.Execute(test.fn), auth.ErrRestricted, test.name)
	}

	err = f.chain.Execute(func(d *state.Diff) error {
		return f.staking.AddToBlacklist(d, f.alice, f.bob, auth.SoftRestricted)
	})
	require.ErrorIs(err, auth.ErrUnauthorized)

	err = f.chain.Execute(func(d *state.Diff) error {
		return f.staking.AddToBlacklist(d, f.admin, f.admin, auth.FullRestricted)
	})
	require.ErrorIs(err, auth.ErrUnauthorized)

	f.execute(t, func(d *state.Diff) error {
		return f.staking.RemoveFromBlacklist(d, f.admin, f.alice, auth.FullRestricted)
	})
	f.execute(t, func(d *state.Diff) error {
		return f.staking.Transfer(d, f.alice, f.bob, state.Units(1))
	})
}

func TestSoftRestricted(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 0)

	_, err := f.deposit(f.alice, state.Units(10))
	require.NoError(err)
	f.execute(t, func(d *state.Diff) error {
		return f.staking.AddToBlacklist(d, f.admin, f.alice, auth.SoftRestricted)
	})

	_, err = f.deposit(f.alice, state.Units(1))
	require.ErrorIs(err, auth.ErrRestricted)

	err = f.chain.Execute(func(d *state.Diff) error {
		_, err := f.staking.Deposit(d, f.bob, state.Units(1), f.alice)
		return err
	})
	require.ErrorIs(err, auth.ErrRestricted)

	f.execute(t, func(d *state.Diff) error {
		_, err := f.staking.Redeem(d, f.alice, state.Units(5), f.alice, f.alice)
		return err
	})
	f.execute(t, func(d *state.Diff) error {
		_, err := f.staking.Withdraw(d, f.alice, state.Units(5), f.alice, f.alice)
		return err
	})
	require.True(f.shares(f.alice).IsZero())
}

func TestMinShares(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 0)

	half := new(uint256.Int).Div(state.Units(1), uint256.NewInt(2))
	_, err := f.deposit(f.alice, half)
	require.ErrorIs(err, ErrMinSharesViolation)

	_, err = f.deposit(f.alice, state.Units(2))
	require.NoError(err)

	err = f.chain.Execute(func(d *state.Diff) error {
		_, err := f.staking.Redeem(d, f.alice, new(uint256.Int).Add(state.Units(1), half), f.alice, f.alice)
		return err
	})
	require.ErrorIs(err, ErrMinSharesViolation)

	f.execute(t, func(d *state.Diff) error {
		_, err := f.staking.Redeem(d, f.alice, state.Units(2), f.alice, f.alice)
		return err
	})
}

func TestBurnAssetsPauses(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 0)

	_, err := f.deposit(f.alice, state.Units(100))
	require.NoError(err)

	err = f.chain.Execute(func(d *state.Diff) error {
		return f.staking.BurnAssets(d, f.admin, state.Units(101))
	})
	require.ErrorIs(err, ErrExcessiveBurn)

	f.execute(t, func(d *state.Diff) error {
		return f.staking.BurnAssets(d, f.admin, state.Units(20))
	})
	require.Equal(state.Units(80), f.totalAssets())

	_, err = f.deposit(f.bob, state.Units(1))
	require.ErrorIs(err, ErrPaused)

	f.execute(t, func(d *state.Diff) error {
		return f.staking.Unpause(d, f.admin)
	})
	f.execute(t, func(d *state.Diff) error {
		assets, err := f.staking.Redeem(d, f.alice, state.Units(50), f.alice, f.alice)
		require.True(assets.Lt(state.Units(41)))
		require.True(assets.Gt(state.Units(39)))
		return err
	})
}

func TestRedistributeLockedAmount(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 0)

	_, err := f.deposit(f.alice, state.Units(10))
	require.NoError(err)
	_, err = f.deposit(f.bob, state.Units(10))
	require.NoError(err)

	err = f.chain.Execute(func(d *state.Diff) error {
		return f.staking.RedistributeLockedAmount(d, f.admin, f.alice, f.bob)
	})
	require.ErrorIs(err, ErrOperationNotAllowed)

	f.execute(t, func(d *state.Diff) error {
		if err := f.staking.AddToBlacklist(d, f.admin, f.alice, auth.FullRestricted); err != nil {
			return err
		}
		return f.staking.RedistributeLockedAmount(d, f.admin, f.alice, f.bob)
	})
	require.True(f.shares(f.alice).IsZero())
	require.Equal(state.Units(20), f.shares(f.bob))
}

func TestRedistributeBurnsWithoutRecipient(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 0)

	_, err := f.deposit(f.alice, state.Units(10))
	require.NoError(err)
	_, err = f.deposit(f.bob, state.Units(10))
	require.NoError(err)

	f.execute(t, func(d *state.Diff) error {
		if err := f.staking.AddToBlacklist(d, f.admin, f.alice, auth.FullRestricted); err != nil {
			return err
		}
		return f.staking.RedistributeLockedAmount(d, f.admin, f.alice, ids.ShortEmpty)
	})
	require.Equal(state.Units(20), f.totalAssets())

	require.NoError(f.chain.View(func(d *state.Diff) error {
		supply, err := d.TotalSupply(f.staking.Address())
		require.NoError(err)
		require.Equal(state.Units(10), supply)
		return nil
	}))
}

func TestRescueTokens(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 0)

	err := f.chain.Execute(func(d *state.Diff) error {
		return f.staking.RescueTokens(d, f.admin, f.staking.Asset(), uint256.NewInt(1), f.admin)
	})
	require.ErrorIs(err, ErrInvalidToken)

	stray := ids.GenerateTestShortID()
	f.execute(t, func(d *state.Diff) error {
		if err := d.RegisterToken(stray, 6); err != nil {
			return err
		}
		if err := d.Mint(stray, f.staking.Address(), uint256.NewInt(7)); err != nil {
			return err
		}
		return f.staking.RescueTokens(d, f.admin, stray, uint256.NewInt(7), f.bob)
	})
	require.Equal(uint256.NewInt(7), f.balance(stray, f.bob))
}
