// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package teleport moves packets between vault networks.
//
// Every network runs one [Endpoint]. Sending writes the packet into the
// sender's chain state, so a packet exists only if the execution that sent
// it committed. A [Relayer] later carries committed packets to their
// destination, where they are applied exactly once and in order per path.
package teleport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	luxWarp "github.com/luxfi/warp"

	"github.com/luxfi/vault/vms/vaultvm/metrics"
	"github.com/luxfi/vault/vms/vaultvm/state"
)

var (
	ErrUnknownEndpoint  = errors.New("unknown endpoint")
	ErrUnknownReceiver  = errors.New("unknown receiver")
	ErrWrongDestination = errors.New("packet sent to another endpoint")
	ErrOutOfOrder       = errors.New("packet delivered out of order")
	ErrInsufficientFee  = errors.New("insufficient fee")
	ErrEmptyMessage     = errors.New("empty message")

	keyOutboxSeq   = []byte("outboxSeq")
	prefixOutbox   = "outbox:"
	prefixNonceOut = "nonceOut:"
	prefixNonceIn  = "nonceIn:"
)

// Receiver applies packets addressed to it.
type Receiver interface {
	// Receive runs inside the execution that delivers [packet]. Returning
	// an error reverts the delivery, which is retried on the next relay.
	Receive(diff *state.Diff, packet *Packet) error
}

// Config identifies an endpoint and prices its packets.
type Config struct {
	Eid       uint32
	Address   ids.ShortID
	NetworkID uint32
	// BaseFee is charged per packet, in the native token
	BaseFee uint64
	// FeePerByte is charged per byte of packet message
	FeePerByte uint64
}

// Message is what a contract asks an endpoint to send.
type Message struct {
	DstEid   uint32
	Receiver ids.ShortID
	Payload  []byte
	// Value is native value forwarded to composed calls on the
	// destination. It is charged on top of the fee.
	Value uint64
}

// Outbound is a committed packet waiting to be relayed.
type Outbound struct {
	Seq       uint64
	DstEid    uint32
	Message   *luxWarp.UnsignedMessage
	Signature []byte
}

type Endpoint struct {
	config   Config
	chain    *state.Chain
	signer   Signer
	verifier luxWarp.Verifier
	metrics  metrics.Metrics
	log      log.Logger

	lock      sync.RWMutex
	peers     map[uint32]ids.ID
	receivers map[ids.ShortID]Receiver
	handlers  map[ids.ShortID]ComposeHandler
}

func New(
	config Config,
	chain *state.Chain,
	signer Signer,
	verifier luxWarp.Verifier,
	m metrics.Metrics,
	logger log.Logger,
) *Endpoint {
	return &Endpoint{
		config:    config,
		chain:     chain,
		signer:    signer,
		verifier:  verifier,
		metrics:   m,
		log:       logger,
		peers:     make(map[uint32]ids.ID),
		receivers: make(map[ids.ShortID]Receiver),
		handlers:  make(map[ids.ShortID]ComposeHandler),
	}
}

func (e *Endpoint) Eid() uint32 {
	return e.config.Eid
}

// Address holds collected fees and the native reserve composed calls are
// funded from.
func (e *Endpoint) Address() ids.ShortID {
	return e.config.Address
}

func (e *Endpoint) Chain() *state.Chain {
	return e.chain
}

// SetPeer records that endpoint [eid] runs on [chainID].
func (e *Endpoint) SetPeer(eid uint32, chainID ids.ID) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.peers[eid] = chainID
}

// RegisterReceiver routes packets addressed to [addr] to [r].
func (e *Endpoint) RegisterReceiver(addr ids.ShortID, r Receiver) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.receivers[addr] = r
}

// Quote returns the native fee of sending [msg].
func (e *Endpoint) Quote(msg Message) *uint256.Int {
	fee := uint256.NewInt(e.config.FeePerByte)
	fee.Mul(fee, uint256.NewInt(uint64(len(msg.Payload))))
	fee.Add(fee, uint256.NewInt(e.config.BaseFee))
	return fee.Add(fee, uint256.NewInt(msg.Value))
}

// Send queues [msg] from [sender]. The quoted fee is charged to [payer],
// who accepted to pay at most [maxFee].
func (e *Endpoint) Send(diff *state.Diff, sender, payer ids.ShortID, msg Message, maxFee *uint256.Int) (*Packet, error) {
	if len(msg.Payload) == 0 {
		return nil, ErrEmptyMessage
	}
	e.lock.RLock()
	_, ok := e.peers[msg.DstEid]
	e.lock.RUnlock()
	if !ok || msg.DstEid == e.config.Eid {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEndpoint, msg.DstEid)
	}

	fee := e.Quote(msg)
	if maxFee.Lt(fee) {
		return nil, fmt.Errorf("%w: quoted %s, offered %s", ErrInsufficientFee, fee.Dec(), maxFee.Dec())
	}
	if err := diff.Transfer(state.NativeToken, payer, e.config.Address, fee); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInsufficientFee, err)
	}

	db := diff.Store(e.config.Address)
	nonceKey := pathKey(prefixNonceOut, msg.DstEid, sender, msg.Receiver)
	nonce, err := state.GetUInt64(db, nonceKey)
	if err != nil {
		return nil, err
	}
	nonce++
	if err := state.PutUInt64(db, nonceKey, nonce); err != nil {
		return nil, err
	}

	packet := NewPacket(nonce, e.config.Eid, sender, msg.DstEid, msg.Receiver, msg.Value, msg.Payload)
	bytes, err := packet.Bytes()
	if err != nil {
		return nil, err
	}
	seq, err := state.GetUInt64(db, keyOutboxSeq)
	if err != nil {
		return nil, err
	}
	seq++
	if err := state.PutUInt64(db, keyOutboxSeq, seq); err != nil {
		return nil, err
	}
	if err := db.Put(seqKey(prefixOutbox, seq), bytes); err != nil {
		return nil, err
	}

	e.log.Debug("packet sent",
		log.Uint32("dstEid", msg.DstEid),
		log.Stringer("sender", sender),
		log.Stringer("receiver", msg.Receiver),
		log.Uint64("nonce", nonce),
		log.Stringer("guid", packet.GUID),
	)
	return packet, nil
}

// Outbox returns the committed packets not yet acknowledged, oldest first.
func (e *Endpoint) Outbox() ([]*Outbound, error) {
	var outbox []*Outbound
	err := e.chain.View(func(diff *state.Diff) error {
		iter := diff.Store(e.config.Address).NewIteratorWithPrefix([]byte(prefixOutbox))
		defer iter.Release()

		for iter.Next() {
			packet, err := ParsePacket(iter.Value())
			if err != nil {
				return err
			}
			msg := &luxWarp.UnsignedMessage{
				NetworkID:     e.config.NetworkID,
				SourceChainID: e.chain.ID(),
				Payload:       append([]byte(nil), iter.Value()...),
			}
			signature, err := e.signer.Sign(msg)
			if err != nil {
				return err
			}
			outbox = append(outbox, &Outbound{
				Seq:       binary.BigEndian.Uint64(iter.Key()[len(prefixOutbox):]),
				DstEid:    packet.DstEid,
				Message:   msg,
				Signature: signature,
			})
		}
		return iter.Error()
	})
	return outbox, err
}

// Ack drops the outbound packet [seq] after it was delivered.
func (e *Endpoint) Ack(seq uint64) error {
	return e.chain.Execute(func(diff *state.Diff) error {
		return diff.Store(e.config.Address).Delete(seqKey(prefixOutbox, seq))
	})
}

// Deliver applies a relayed message. Packets that were already applied are
// ignored, so redelivery is harmless. Composed calls queued by the receiver
// run afterwards, each in its own execution.
func (e *Endpoint) Deliver(ctx context.Context, msg *luxWarp.UnsignedMessage, signature []byte) error {
	if err := e.verifier.Verify(ctx, msg, signature); err != nil {
		return err
	}
	packet, err := ParsePacket(msg.Payload)
	if err != nil {
		return err
	}
	if packet.DstEid != e.config.Eid {
		return fmt.Errorf("%w: %d", ErrWrongDestination, packet.DstEid)
	}

	e.lock.RLock()
	chainID, knownPeer := e.peers[packet.SrcEid]
	receiver, knownReceiver := e.receivers[packet.Receiver]
	e.lock.RUnlock()
	if !knownPeer || chainID != msg.SourceChainID {
		return fmt.Errorf("%w: eid %d on %s", ErrUnknownSource, packet.SrcEid, msg.SourceChainID)
	}
	if !knownReceiver {
		return fmt.Errorf("%w: %s", ErrUnknownReceiver, packet.Receiver)
	}

	duplicate := false
	err = e.chain.Execute(func(diff *state.Diff) error {
		db := diff.Store(e.config.Address)
		nonceKey := pathKey(prefixNonceIn, packet.SrcEid, packet.Sender, packet.Receiver)
		last, err := state.GetUInt64(db, nonceKey)
		if err != nil {
			return err
		}
		switch {
		case packet.Nonce <= last:
			duplicate = true
			return nil
		case packet.Nonce != last+1:
			return fmt.Errorf("%w: nonce %d after %d", ErrOutOfOrder, packet.Nonce, last)
		}
		if err := state.PutUInt64(db, nonceKey, packet.Nonce); err != nil {
			return err
		}
		return receiver.Receive(diff, packet)
	})
	if err != nil {
		return err
	}
	if duplicate {
		e.log.Debug("ignoring delivered packet",
			log.Stringer("guid", packet.GUID),
			log.Uint64("nonce", packet.Nonce),
		)
		return nil
	}
	return e.runComposes()
}

func pathKey(prefix string, eid uint32, sender, receiver ids.ShortID) []byte {
	return state.Key(prefix, binary.BigEndian.AppendUint32(nil, eid), sender[:], receiver[:])
}

func seqKey(prefix string, seq uint64) []byte {
	return state.Key(prefix, binary.BigEndian.AppendUint64(nil, seq))
}
