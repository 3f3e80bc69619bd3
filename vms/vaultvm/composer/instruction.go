// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package composer

import (
	"errors"
	"fmt"
	"math"

	"github.com/holiman/uint256"
	"github.com/luxfi/codec"
	"github.com/luxfi/codec/linearcodec"
	"github.com/luxfi/ids"
)

const CodecVersion = 0

var (
	Codec codec.Manager

	ErrInvalidAction = errors.New("invalid action")
)

func init() {
	Codec = codec.NewManager(math.MaxInt)
	lc := linearcodec.NewDefault()

	err := errors.Join(
		lc.RegisterType(&Instruction{}),
		Codec.RegisterCodec(CodecVersion, lc),
	)
	if err != nil {
		panic(err)
	}
}

// Action is the local operation a composed transfer asks for.
type Action uint8

const (
	// Deposit mints vault shares with the delivered collateral.
	Deposit Action = iota + 1
	// DepositAndStake mints vault shares and stakes them.
	DepositAndStake
	// Redeem redeems delivered vault shares for collateral. Only the
	// instant path is used.
	Redeem
	// Stake stakes delivered vault shares.
	Stake
	// Unstake redeems delivered staking shares for vault shares.
	Unstake
)

func (a Action) String() string {
	switch a {
	case Deposit:
		return "deposit"
	case DepositAndStake:
		return "depositAndStake"
	case Redeem:
		return "redeem"
	case Stake:
		return "stake"
	case Unstake:
		return "unstake"
	default:
		return "unknown"
	}
}

func (a Action) Valid() bool {
	return a >= Deposit && a <= Unstake
}

// Instruction tells the composer what to do with a delivered transfer and
// where to send the result.
type Instruction struct {
	Action Action `serialize:"true"`
	// DstEid is where the result goes. The hub's own eid keeps it local.
	DstEid    uint32      `serialize:"true"`
	Recipient ids.ShortID `serialize:"true"`
	// MinOut is the least the recipient accepts, after dust removal
	MinOut [32]byte `serialize:"true"`
	// Asset is the collateral a redemption pays out in
	Asset ids.ShortID `serialize:"true"`
	// Options are passed through to the outbound leg as its compose
	// message
	Options []byte `serialize:"true"`
	// Fee is the most of the prepaid native value the outbound leg may use
	Fee uint64 `serialize:"true"`
}

// NewInstruction returns an instruction with [minOut] encoded.
func NewInstruction(action Action, dstEid uint32, recipient ids.ShortID, minOut *uint256.Int, fee uint64) *Instruction {
	return &Instruction{
		Action:    action,
		DstEid:    dstEid,
		Recipient: recipient,
		MinOut:    minOut.Bytes32(),
		Fee:       fee,
	}
}

func (i *Instruction) MinOutAmount() *uint256.Int {
	return new(uint256.Int).SetBytes32(i.MinOut[:])
}

func (i *Instruction) Bytes() ([]byte, error) {
	return Codec.Marshal(CodecVersion, i)
}

// ParseInstruction decodes and checks an instruction.
func ParseInstruction(bytes []byte) (*Instruction, error) {
	i := &Instruction{}
	if _, err := Codec.Unmarshal(bytes, i); err != nil {
		return nil, fmt.Errorf("failed to parse instruction: %w", err)
	}
	if !i.Action.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAction, i.Action)
	}
	if i.Recipient == ids.ShortEmpty {
		return nil, fmt.Errorf("%w: empty recipient", ErrInvalidAction)
	}
	return i, nil
}
