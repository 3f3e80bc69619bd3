// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package silo holds tokens in escrow on behalf of a single owner contract.
package silo

import (
	"errors"

	"github.com/holiman/uint256"
	"github.com/luxfi/ids"

	"github.com/luxfi/vault/vms/vaultvm/state"
)

var ErrOnlyOwner = errors.New("caller is not the silo owner")

// Silo is an escrow for one token. Funds are moved into it by plain
// transfers and only its owner can move them out.
type Silo struct {
	addr  ids.ShortID
	owner ids.ShortID
	token ids.ShortID
}

func New(addr, owner, token ids.ShortID) *Silo {
	return &Silo{
		addr:  addr,
		owner: owner,
		token: token,
	}
}

func (s *Silo) Address() ids.ShortID {
	return s.addr
}

func (s *Silo) Owner() ids.ShortID {
	return s.owner
}

// Withdraw sends [amount] of the escrowed token to [to].
func (s *Silo) Withdraw(diff *state.Diff, caller, to ids.ShortID, amount *uint256.Int) error {
	if caller != s.owner {
		return ErrOnlyOwner
	}
	return diff.Transfer(s.token, s.addr, to, amount)
}

// Balance is the amount held in escrow.
func (s *Silo) Balance(diff *state.Diff) (*uint256.Int, error) {
	return diff.BalanceOf(s.token, s.addr)
}
