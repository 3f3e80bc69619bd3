// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package composer turns a cross-network transfer into a vault operation.
//
// A remote user sends collateral or shares to the composer through a
// mirror, with an [Instruction] as the compose message. Once the transfer
// is delivered, the endpoint invokes the composer, which runs the vault
// action and sends the result on. Both happen in one execution, so nothing
// leaves the hub unless the local action committed. If the compose fails,
// the delivered funds stay with the composer until the compose is retried
// or an admin rescues them.
package composer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/vault/vms/vaultvm/auth"
	"github.com/luxfi/vault/vms/vaultvm/mirror"
	"github.com/luxfi/vault/vms/vaultvm/staking"
	"github.com/luxfi/vault/vms/vaultvm/state"
	"github.com/luxfi/vault/vms/vaultvm/teleport"
	"github.com/luxfi/vault/vms/vaultvm/vault"
)

var (
	_ teleport.ComposeHandler = (*Composer)(nil)

	ErrOnlyEndpoint         = errors.New("caller is not the endpoint")
	ErrUntrustedSource      = errors.New("compose from untrusted source")
	ErrCollateralNotAllowed = errors.New("collateral not allowed")
	ErrUnexpectedToken      = errors.New("unexpected token for action")
	ErrNoRoute              = errors.New("no mirror for token")
	ErrSlippageExceeded     = errors.New("output below minimum")
	ErrInsufficientFee      = errors.New("insufficient fee")
	ErrFundsOwed            = errors.New("funds owed to failed composes")

	prefixAllowed = "allowed:"
)

type Composer struct {
	addr     ids.ShortID
	vault    *vault.Vault
	staking  *staking.Staking
	endpoint *teleport.Endpoint
	log      log.Logger

	lock sync.RWMutex
	// inbound mirrors by address
	sources map[ids.ShortID]*mirror.Mirror
	// outbound mirrors by the token they move
	routes map[ids.ShortID]*mirror.Mirror
}

// New returns the composer at [addr] and registers it with [endpoint].
func New(
	addr ids.ShortID,
	v *vault.Vault,
	s *staking.Staking,
	endpoint *teleport.Endpoint,
	logger log.Logger,
) *Composer {
	c := &Composer{
		addr:     addr,
		vault:    v,
		staking:  s,
		endpoint: endpoint,
		log:      logger,
		sources:  make(map[ids.ShortID]*mirror.Mirror),
		routes:   make(map[ids.ShortID]*mirror.Mirror),
	}
	endpoint.RegisterComposeHandler(addr, c)
	return c
}

func (c *Composer) Address() ids.ShortID {
	return c.addr
}

// RegisterMirror trusts compose calls from [m] and routes results in its
// token through it.
func (c *Composer) RegisterMirror(m *mirror.Mirror) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.sources[m.Address()] = m
	c.routes[m.Token()] = m
}

// AllowCollateral lets deposits use [asset].
func (c *Composer) AllowCollateral(diff *state.Diff, caller, asset ids.ShortID) error {
	return c.setAllowed(diff, caller, asset, true)
}

// DisallowCollateral stops deposits of [asset].
func (c *Composer) DisallowCollateral(diff *state.Diff, caller, asset ids.ShortID) error {
	return c.setAllowed(diff, caller, asset, false)
}

func (c *Composer) setAllowed(diff *state.Diff, caller, asset ids.ShortID, allowed bool) error {
	if err := (auth.Registry{}).Require(diff, caller, auth.Admin); err != nil {
		return err
	}
	c.log.Info("collateral allow-list updated",
		log.Stringer("asset", asset),
		log.Bool("allowed", allowed),
	)
	return state.PutFlag(diff.Store(c.addr), state.Key(prefixAllowed, asset[:]), allowed)
}

func (c *Composer) Allowed(diff *state.Diff, asset ids.ShortID) (bool, error) {
	return state.GetFlag(diff.Store(c.addr), state.Key(prefixAllowed, asset[:]))
}

// Compose runs the instruction carried by a delivered transfer. The
// delivered tokens and [value] are already held by the composer.
func (c *Composer) Compose(diff *state.Diff, caller, from ids.ShortID, guid ids.ID, message []byte, value *uint256.Int) error {
	if caller != c.endpoint.Address() {
		return fmt.Errorf("%w: %s", ErrOnlyEndpoint, caller)
	}
	c.lock.RLock()
	source, ok := c.sources[from]
	c.lock.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUntrustedSource, from)
	}

	msg, err := mirror.ParseComposeMessage(message)
	if err != nil {
		return err
	}
	instruction, err := ParseInstruction(msg.Message)
	if err != nil {
		return err
	}
	amount := new(uint256.Int).SetBytes32(msg.Amount[:])

	out, token, err := c.act(diff, instruction, source.Token(), amount)
	if err != nil {
		return err
	}
	if err := c.dispatch(diff, instruction, token, out, value); err != nil {
		return err
	}

	c.log.Info("compose executed",
		log.Stringer("guid", guid),
		log.Stringer("action", instruction.Action),
		log.Stringer("sender", msg.From),
		log.Uint32("srcEid", msg.SrcEid),
		log.Uint32("dstEid", instruction.DstEid),
		log.String("amountIn", amount.Dec()),
		log.String("amountOut", out.Dec()),
	)
	return nil
}

// act runs the local leg and returns what it produced.
func (c *Composer) act(diff *state.Diff, i *Instruction, token ids.ShortID, amount *uint256.Int) (*uint256.Int, ids.ShortID, error) {
	var (
		shareToken = c.vault.Address()
		stakeToken = c.staking.Address()
	)
	switch i.Action {
	case Deposit, DepositAndStake:
		allowed, err := c.Allowed(diff, token)
		if err != nil {
			return nil, ids.ShortEmpty, err
		}
		if !allowed {
			return nil, ids.ShortEmpty, fmt.Errorf("%w: %s", ErrCollateralNotAllowed, token)
		}
		shares, err := c.vault.MintWithCollateral(diff, c.addr, token, amount)
		if err != nil || i.Action == Deposit {
			return shares, shareToken, err
		}
		staked, err := c.staking.Deposit(diff, c.addr, shares, c.addr)
		return staked, stakeToken, err
	case Redeem:
		if token != shareToken {
			return nil, ids.ShortEmpty, fmt.Errorf("%w: %s cannot %s", ErrUnexpectedToken, token, i.Action)
		}
		native, _, err := c.vault.Redeem(diff, c.addr, i.Asset, amount, false)
		return native, i.Asset, err
	case Stake:
		if token != shareToken {
			return nil, ids.ShortEmpty, fmt.Errorf("%w: %s cannot %s", ErrUnexpectedToken, token, i.Action)
		}
		staked, err := c.staking.Deposit(diff, c.addr, amount, c.addr)
		return staked, stakeToken, err
	case Unstake:
		if token != stakeToken {
			return nil, ids.ShortEmpty, fmt.Errorf("%w: %s cannot %s", ErrUnexpectedToken, token, i.Action)
		}
		shares, err := c.staking.Redeem(diff, c.addr, amount, c.addr, c.addr)
		return shares, shareToken, err
	default:
		return nil, ids.ShortEmpty, fmt.Errorf("%w: %d", ErrInvalidAction, i.Action)
	}
}

// dispatch sends [out] of [token] to the recipient, locally when the
// destination is the hub itself.
func (c *Composer) dispatch(diff *state.Diff, i *Instruction, token ids.ShortID, out, value *uint256.Int) error {
	minOut := i.MinOutAmount()
	if i.DstEid == c.endpoint.Eid() {
		if out.Lt(minOut) {
			return fmt.Errorf("%w: %s < %s", ErrSlippageExceeded, out.Dec(), minOut.Dec())
		}
		if token == c.staking.Address() {
			return c.staking.Transfer(diff, c.addr, i.Recipient, out)
		}
		return diff.Transfer(token, c.addr, i.Recipient, out)
	}

	c.lock.RLock()
	route, ok := c.routes[token]
	c.lock.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRoute, token)
	}
	param := mirror.SendParam{
		DstEid:     i.DstEid,
		To:         i.Recipient,
		Amount:     out,
		MinAmount:  minOut,
		ComposeMsg: i.Options,
	}
	fee, err := route.Quote(param)
	if err != nil {
		return err
	}
	budget := uint256.NewInt(i.Fee)
	if budget.Gt(value) {
		budget = value
	}
	if budget.Lt(fee) {
		return fmt.Errorf("%w: quoted %s, prepaid %s", ErrInsufficientFee, fee.Dec(), budget.Dec())
	}
	_, err = route.Send(diff, c.addr, param, budget)
	if errors.Is(err, mirror.ErrSlippageExceeded) {
		return fmt.Errorf("%w: %w", ErrSlippageExceeded, err)
	}
	return err
}

// RescueCompose gives up on the failed compose at [guid]/[index] and sends
// exactly what it delivered to [to]: the bridged tokens and the native
// value the packet carried. The compose can not be retried afterwards.
func (c *Composer) RescueCompose(diff *state.Diff, caller ids.ShortID, guid ids.ID, index uint16, to ids.ShortID) error {
	if err := (auth.Registry{}).Require(diff, caller, auth.Admin); err != nil {
		return err
	}
	failed, err := c.endpoint.ResolveCompose(diff, c.addr, guid, index)
	if err != nil {
		return err
	}

	token, amount := c.delivered(failed)
	if !amount.IsZero() {
		if err := diff.Transfer(token, c.addr, to, amount); err != nil {
			return err
		}
	}
	value := uint256.NewInt(failed.Value)
	if !value.IsZero() {
		if err := diff.Transfer(state.NativeToken, c.addr, to, value); err != nil {
			return err
		}
	}
	c.log.Warn("failed compose rescued",
		log.Stringer("guid", guid),
		log.Uint64("index", uint64(index)),
		log.Stringer("token", token),
		log.String("amount", amount.Dec()),
		log.Uint64("value", failed.Value),
		log.Stringer("to", to),
	)
	return nil
}

// Rescue sends funds held by the composer to [to]. Tokens delivered by
// composes that can still be retried are not rescuable here.
func (c *Composer) Rescue(diff *state.Diff, caller, token ids.ShortID, amount *uint256.Int, to ids.ShortID) error {
	if err := (auth.Registry{}).Require(diff, caller, auth.Admin); err != nil {
		return err
	}
	owed, err := c.owed(diff, token)
	if err != nil {
		return err
	}
	balance, err := diff.BalanceOf(token, c.addr)
	if err != nil {
		return err
	}
	free := state.Zero()
	if balance.Gt(owed) {
		free = new(uint256.Int).Sub(balance, owed)
	}
	if amount.Gt(free) {
		return fmt.Errorf("%w: %s of %s is free, %s owed", ErrFundsOwed, free.Dec(), token, owed.Dec())
	}
	if err := diff.Transfer(token, c.addr, to, amount); err != nil {
		return err
	}
	c.log.Warn("composer funds rescued",
		log.Stringer("token", token),
		log.String("amount", amount.Dec()),
		log.Stringer("to", to),
	)
	return nil
}

// owed sums what the retryable composes of this composer delivered in
// [token].
func (c *Composer) owed(diff *state.Diff, token ids.ShortID) (*uint256.Int, error) {
	failed, err := c.endpoint.FailedComposes(diff)
	if err != nil {
		return nil, err
	}
	owed := state.Zero()
	for _, f := range failed {
		if f.To != c.addr {
			continue
		}
		delivered, amount := c.delivered(f)
		if delivered != token {
			continue
		}
		owed, err = state.Add(owed, amount)
		if err != nil {
			return nil, err
		}
	}
	return owed, nil
}

// delivered returns the token and amount a mirror credited to the composer
// for [f]. Composes from unknown sources delivered nothing.
func (c *Composer) delivered(f *teleport.FailedCompose) (ids.ShortID, *uint256.Int) {
	c.lock.RLock()
	source, ok := c.sources[f.From]
	c.lock.RUnlock()
	if !ok {
		return ids.ShortEmpty, state.Zero()
	}
	msg, err := mirror.ParseComposeMessage(f.Message)
	if err != nil {
		return ids.ShortEmpty, state.Zero()
	}
	return source.Token(), new(uint256.Int).SetBytes32(msg.Amount[:])
}
