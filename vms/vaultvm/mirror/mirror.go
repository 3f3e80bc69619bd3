// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package mirror represents a token on networks other than its home.
//
// The home network runs a hub that escrows the real token. Every other
// network runs a spoke that mints a representation on receive and burns it
// on send. Amounts travel in shared decimals, so anything below the shared
// precision is left with the sender.
package mirror

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/vault/vms/vaultvm/auth"
	"github.com/luxfi/vault/vms/vaultvm/config"
	"github.com/luxfi/vault/vms/vaultvm/state"
	"github.com/luxfi/vault/vms/vaultvm/teleport"
)

var (
	_ teleport.Receiver = (*Mirror)(nil)

	ErrZeroAmount       = errors.New("amount must be positive")
	ErrSlippageExceeded = errors.New("amount below minimum")
	ErrUnknownPeer      = errors.New("unknown peer")
	ErrInvalidDecimals  = errors.New("local decimals below shared decimals")
	ErrAmountOverflow   = errors.New("amount exceeds shared decimals range")

	prefixPeer = "peer:"
)

// Kind is how a mirror holds the token it represents.
type Kind uint8

const (
	// Hub escrows the token on its home network.
	Hub Kind = iota
	// Spoke mints and burns a representation.
	Spoke
)

func (k Kind) String() string {
	switch k {
	case Hub:
		return "hub"
	case Spoke:
		return "spoke"
	default:
		return "unknown"
	}
}

// Token is a token a hub escrows. Tokens that police their own transfers
// are moved through their own rules.
type Token interface {
	Address() ids.ShortID
	Transfer(diff *state.Diff, from, to ids.ShortID, amount *uint256.Int) error
}

// Plain is a token without transfer rules of its own.
type Plain ids.ShortID

func (p Plain) Address() ids.ShortID {
	return ids.ShortID(p)
}

func (p Plain) Transfer(diff *state.Diff, from, to ids.ShortID, amount *uint256.Int) error {
	return diff.Transfer(ids.ShortID(p), from, to, amount)
}

// SendParam describes a transfer to another network.
type SendParam struct {
	DstEid uint32
	To     ids.ShortID
	// Amount is in local decimals. Dust below the shared precision is not
	// sent.
	Amount    *uint256.Int
	MinAmount *uint256.Int
	// ComposeMsg is handed to [To] on the destination after the transfer.
	ComposeMsg []byte
	// ComposeValue is native value forwarded to the composed call.
	ComposeValue uint64
}

// Receipt reports what a send debited and what the receiver will get.
type Receipt struct {
	GUID           ids.ID
	AmountSent     *uint256.Int
	AmountReceived *uint256.Int
}

type Mirror struct {
	kind     Kind
	addr     ids.ShortID
	token    Token
	decimals uint8
	endpoint *teleport.Endpoint
	log      log.Logger
}

// NewHub returns the mirror that escrows [token] at [addr].
func NewHub(addr ids.ShortID, token Token, endpoint *teleport.Endpoint, logger log.Logger) *Mirror {
	m := &Mirror{
		kind:     Hub,
		addr:     addr,
		token:    token,
		endpoint: endpoint,
		log:      logger,
	}
	endpoint.RegisterReceiver(addr, m)
	return m
}

// NewSpoke returns the mirror at [addr]. It issues its own token with
// [decimals].
func NewSpoke(addr ids.ShortID, decimals uint8, endpoint *teleport.Endpoint, logger log.Logger) *Mirror {
	m := &Mirror{
		kind:     Spoke,
		addr:     addr,
		token:    Plain(addr),
		decimals: decimals,
		endpoint: endpoint,
		log:      logger,
	}
	endpoint.RegisterReceiver(addr, m)
	return m
}

// Initialize registers the spoke token. A hub checks that the token it
// escrows exists.
func (m *Mirror) Initialize(diff *state.Diff) error {
	decimals := m.decimals
	if m.kind == Hub {
		var err error
		decimals, err = diff.Decimals(m.token.Address())
		if err != nil {
			return err
		}
	}
	if decimals < config.SharedDecimals {
		return fmt.Errorf("%w: %d", ErrInvalidDecimals, decimals)
	}
	if m.kind == Spoke {
		return diff.RegisterToken(m.addr, decimals)
	}
	return nil
}

func (m *Mirror) Kind() Kind {
	return m.kind
}

func (m *Mirror) Address() ids.ShortID {
	return m.addr
}

// Token is the local token this mirror moves.
func (m *Mirror) Token() ids.ShortID {
	return m.token.Address()
}

func (m *Mirror) Eid() uint32 {
	return m.endpoint.Eid()
}

// SetPeer trusts the mirror at [peer] on endpoint [eid]. An empty peer
// removes it.
func (m *Mirror) SetPeer(diff *state.Diff, caller ids.ShortID, eid uint32, peer ids.ShortID) error {
	if err := (auth.Registry{}).Require(diff, caller, auth.Admin); err != nil {
		return err
	}
	db := diff.Store(m.addr)
	key := peerKey(eid)
	if peer == ids.ShortEmpty {
		return db.Delete(key)
	}
	m.log.Info("mirror peer set",
		log.Stringer("mirror", m.addr),
		log.Uint32("eid", eid),
		log.Stringer("peer", peer),
	)
	return db.Put(key, peer[:])
}

// Peer returns the mirror trusted on endpoint [eid].
func (m *Mirror) Peer(diff *state.Diff, eid uint32) (ids.ShortID, error) {
	bytes, err := diff.Store(m.addr).Get(peerKey(eid))
	if err != nil {
		return ids.ShortEmpty, fmt.Errorf("%w: eid %d", ErrUnknownPeer, eid)
	}
	return ids.ToShortID(bytes)
}

// Quote returns the native fee of [param].
func (m *Mirror) Quote(param SendParam) (*uint256.Int, error) {
	payload, err := Codec.Marshal(CodecVersion, &TransferMessage{
		To:         param.To,
		ComposeMsg: param.ComposeMsg,
	})
	if err != nil {
		return nil, err
	}
	return m.endpoint.Quote(teleport.Message{
		DstEid:  param.DstEid,
		Payload: payload,
		Value:   param.ComposeValue,
	}), nil
}

// Send debits [caller] and sends the transfer to the destination peer. The
// fee, at most [maxFee], is paid by [caller] in the native token.
func (m *Mirror) Send(diff *state.Diff, caller ids.ShortID, param SendParam, maxFee *uint256.Int) (*Receipt, error) {
	decimals, err := diff.Decimals(m.token.Address())
	if err != nil {
		return nil, err
	}
	amountSD, amount, err := toShared(param.Amount, decimals)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if param.MinAmount != nil && amount.Lt(param.MinAmount) {
		return nil, fmt.Errorf("%w: %s < %s", ErrSlippageExceeded, amount.Dec(), param.MinAmount.Dec())
	}
	peer, err := m.Peer(diff, param.DstEid)
	if err != nil {
		return nil, err
	}

	if err := m.debit(diff, caller, amount); err != nil {
		return nil, err
	}
	payload, err := Codec.Marshal(CodecVersion, &TransferMessage{
		To:          param.To,
		AmountSD:    amountSD,
		ComposeFrom: caller,
		ComposeMsg:  param.ComposeMsg,
	})
	if err != nil {
		return nil, err
	}
	packet, err := m.endpoint.Send(diff, m.addr, caller, teleport.Message{
		DstEid:   param.DstEid,
		Receiver: peer,
		Payload:  payload,
		Value:    param.ComposeValue,
	}, maxFee)
	if err != nil {
		return nil, err
	}

	m.log.Debug("mirror sent",
		log.Stringer("kind", m.kind),
		log.Stringer("guid", packet.GUID),
		log.Uint32("dstEid", param.DstEid),
		log.Stringer("to", param.To),
		log.String("amount", amount.Dec()),
	)
	return &Receipt{
		GUID:           packet.GUID,
		AmountSent:     amount,
		AmountReceived: amount.Clone(),
	}, nil
}

// Receive credits an inbound transfer from a trusted peer and queues its
// compose message, if any.
func (m *Mirror) Receive(diff *state.Diff, packet *teleport.Packet) error {
	peer, err := m.Peer(diff, packet.SrcEid)
	if err != nil {
		return err
	}
	if peer != packet.Sender {
		return fmt.Errorf("%w: %s on eid %d", ErrUnknownPeer, packet.Sender, packet.SrcEid)
	}

	msg := &TransferMessage{}
	if _, err := Codec.Unmarshal(packet.Message, msg); err != nil {
		return err
	}
	decimals, err := diff.Decimals(m.token.Address())
	if err != nil {
		return err
	}
	amount := fromShared(msg.AmountSD, decimals)
	if err := m.credit(diff, msg.To, amount); err != nil {
		return err
	}
	if len(msg.ComposeMsg) == 0 {
		return nil
	}

	compose, err := Codec.Marshal(CodecVersion, &ComposeMessage{
		Nonce:   packet.Nonce,
		SrcEid:  packet.SrcEid,
		Amount:  amount.Bytes32(),
		From:    msg.ComposeFrom,
		Message: msg.ComposeMsg,
	})
	if err != nil {
		return err
	}
	return m.endpoint.SendCompose(diff, m.addr, msg.To, packet.GUID, 0, compose, packet.Value)
}

func (m *Mirror) debit(diff *state.Diff, from ids.ShortID, amount *uint256.Int) error {
	if m.kind == Spoke {
		return diff.Burn(m.addr, from, amount)
	}
	return m.token.Transfer(diff, from, m.addr, amount)
}

func (m *Mirror) credit(diff *state.Diff, to ids.ShortID, amount *uint256.Int) error {
	if m.kind == Spoke {
		return diff.Mint(m.addr, to, amount)
	}
	return m.token.Transfer(diff, m.addr, to, amount)
}

// RemoveDust drops the part of [amount] below the shared precision.
func RemoveDust(amount *uint256.Int, decimals uint8) *uint256.Int {
	rate := state.Pow10(decimals - config.SharedDecimals)
	dust := new(uint256.Int).Mod(amount, rate)
	return new(uint256.Int).Sub(amount, dust)
}

// toShared converts [amount] to shared decimals and returns the local
// amount that conversion represents.
func toShared(amount *uint256.Int, decimals uint8) (uint64, *uint256.Int, error) {
	if decimals < config.SharedDecimals {
		return 0, nil, fmt.Errorf("%w: %d", ErrInvalidDecimals, decimals)
	}
	rate := state.Pow10(decimals - config.SharedDecimals)
	shared := new(uint256.Int).Div(amount, rate)
	if !shared.IsUint64() {
		return 0, nil, fmt.Errorf("%w: %s", ErrAmountOverflow, amount.Dec())
	}
	return shared.Uint64(), new(uint256.Int).Mul(shared, rate), nil
}

func fromShared(amount uint64, decimals uint8) *uint256.Int {
	rate := state.Pow10(decimals - config.SharedDecimals)
	return new(uint256.Int).Mul(uint256.NewInt(amount), rate)
}

func peerKey(eid uint32) []byte {
	return state.Key(prefixPeer, binary.BigEndian.AppendUint32(nil, eid))
}
