// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vaultvm

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/ids"
)

// NativeSymbol names the native token in allocations.
const NativeSymbol = "native"

var ErrInvalidGenesis = errors.New("invalid genesis")

// Genesis is the initial state of a devnet.
type Genesis struct {
	// Admin receives every role on every network.
	Admin ids.ShortID `json:"admin"`
	// EndpointReserve is the native balance each endpoint starts with. It
	// funds native value forwarded to composed calls.
	EndpointReserve uint64       `json:"endpointReserve"`
	Allocations     []Allocation `json:"allocations"`
}

// Allocation credits [Amount] of a collateral asset, or of the native
// token, to [Holder] on network [Eid].
type Allocation struct {
	Eid    uint32      `json:"eid"`
	Holder ids.ShortID `json:"holder"`
	Symbol string      `json:"symbol"`
	// Amount is a decimal string in the token's own units.
	Amount string `json:"amount"`
}

func (a *Allocation) amount() (*uint256.Int, error) {
	amount, err := uint256.FromDecimal(a.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: allocation %q of %s: %w", ErrInvalidGenesis, a.Amount, a.Symbol, err)
	}
	return amount, nil
}

// ParseGenesis decodes a JSON genesis.
func ParseGenesis(bytes []byte) (*Genesis, error) {
	g := &Genesis{}
	if err := json.Unmarshal(bytes, g); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGenesis, err)
	}
	if g.Admin == ids.ShortEmpty {
		return nil, fmt.Errorf("%w: admin is required", ErrInvalidGenesis)
	}
	return g, nil
}
