// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vaultvm

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/luxfi/ids"

	"github.com/luxfi/vault/vms/vaultvm/mirror"
	"github.com/luxfi/vault/vms/vaultvm/state"
)

// The entry points below each run one execution on the hub and record
// metrics once it committed.

// execute runs [fn] on the hub and calls [mark] if it committed.
func (n *Network) execute(fn func(*state.Diff) error, mark func()) error {
	if err := n.Hub.Chain.Execute(fn); err != nil {
		return err
	}
	mark()
	return nil
}

// Mint deposits collateral into the vault.
func (n *Network) Mint(caller, asset ids.ShortID, amount *uint256.Int) (*uint256.Int, error) {
	var shares *uint256.Int
	err := n.execute(func(d *state.Diff) error {
		var err error
		shares, err = n.Hub.Vault.MintWithCollateral(d, caller, asset, amount)
		return err
	}, n.metrics.MarkMinted)
	return shares, err
}

// Redeem redeems vault shares, queueing the redemption if [allowQueue] is
// set and collateral is short.
func (n *Network) Redeem(caller, asset ids.ShortID, shares *uint256.Int, allowQueue bool) (*uint256.Int, bool, error) {
	var (
		amount *uint256.Int
		queued bool
	)
	err := n.Hub.Chain.Execute(func(d *state.Diff) error {
		var err error
		amount, queued, err = n.Hub.Vault.Redeem(d, caller, asset, shares, allowQueue)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	n.metrics.MarkRedeemed(queued)
	return amount, queued, nil
}

// CooldownRedeem queues a vault redemption.
func (n *Network) CooldownRedeem(caller, asset ids.ShortID, shares *uint256.Int) error {
	return n.execute(func(d *state.Diff) error {
		return n.Hub.Vault.CooldownRedeem(d, caller, asset, shares)
	}, func() { n.metrics.MarkRedeemed(true) })
}

// MintUnbacked mints ledger units without collateral.
func (n *Network) MintUnbacked(caller ids.ShortID, amount *uint256.Int, beneficiary ids.ShortID) error {
	return n.execute(func(d *state.Diff) error {
		return n.Hub.Ledger.MintWithoutCollateral(d, caller, amount, beneficiary)
	}, n.metrics.MarkUnbackedMinted)
}

// Stake deposits vault shares into the staking vault.
func (n *Network) Stake(caller ids.ShortID, assets *uint256.Int, receiver ids.ShortID) (*uint256.Int, error) {
	var shares *uint256.Int
	err := n.execute(func(d *state.Diff) error {
		var err error
		shares, err = n.Hub.Staking.Deposit(d, caller, assets, receiver)
		return err
	}, n.metrics.MarkStaked)
	return shares, err
}

// Unstake claims an expired staking cooldown.
func (n *Network) Unstake(caller, receiver ids.ShortID) (*uint256.Int, error) {
	var assets *uint256.Int
	err := n.execute(func(d *state.Diff) error {
		var err error
		assets, err = n.Hub.Staking.Unstake(d, caller, receiver)
		return err
	}, n.metrics.MarkUnstaked)
	return assets, err
}

// DistributeRewards starts vesting [amount] of vault shares.
func (n *Network) DistributeRewards(caller ids.ShortID, amount *uint256.Int) error {
	return n.execute(func(d *state.Diff) error {
		return n.Hub.Staking.TransferInRewards(d, caller, amount)
	}, n.metrics.MarkRewardsDistributed)
}

// Send moves hub token [token] from network [eid] through its mirror.
func (n *Network) Send(eid uint32, caller, token ids.ShortID, param mirror.SendParam, maxFee *uint256.Int) (*mirror.Receipt, error) {
	m, err := n.Mirror(eid, token)
	if err != nil {
		return nil, err
	}
	chain, err := n.Chain(eid)
	if err != nil {
		return nil, err
	}
	var receipt *mirror.Receipt
	err = chain.Execute(func(d *state.Diff) error {
		var err error
		receipt, err = m.Send(d, caller, param, maxFee)
		return err
	})
	return receipt, err
}

// Relay delivers pending packets between the networks.
func (n *Network) Relay(ctx context.Context) (int, error) {
	return n.Relayer.Relay(ctx)
}
