// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package teleport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	luxWarp "github.com/luxfi/warp"

	"github.com/luxfi/vault/vms/vaultvm/metrics"
	"github.com/luxfi/vault/vms/vaultvm/state"
)

const (
	hubEid   uint32 = 1
	spokeEid uint32 = 2

	baseFee    = 1_000
	feePerByte = 10
)

var errRejected = errors.New("rejected")

type recordingReceiver struct {
	endpoint *Endpoint
	addr     ids.ShortID
	handler  ids.ShortID
	fail     bool
	packets  []*Packet
}

func (r *recordingReceiver) Receive(diff *state.Diff, packet *Packet) error {
	if r.fail {
		return errRejected
	}
	r.packets = append(r.packets, packet)
	if string(packet.Message) != "compose" {
		return nil
	}
	return r.endpoint.SendCompose(diff, r.addr, r.handler, packet.GUID, 0, packet.Message, packet.Value)
}

type recordingHandler struct {
	fail   bool
	values []uint64
	froms  []ids.ShortID
}

func (h *recordingHandler) Compose(_ *state.Diff, _, from ids.ShortID, _ ids.ID, _ []byte, value *uint256.Int) error {
	if h.fail {
		return errRejected
	}
	h.values = append(h.values, value.Uint64())
	h.froms = append(h.froms, from)
	return nil
}

type network struct {
	hub, spoke *Endpoint
	relayer    *Relayer
	receiver   *recordingReceiver
	handler    *recordingHandler
	sender     ids.ShortID
	payer      ids.ShortID
}

func newEndpoint(t *testing.T, eid uint32, verifier *Verifier) (*Endpoint, *LocalSigner) {
	signer, err := NewLocalSigner()
	require.NoError(t, err)
	logger := log.NewNoOpLogger()
	chain := state.NewChain(ids.GenerateTestID(), memdb.New(), nil, logger)
	return New(Config{
		Eid:        eid,
		Address:    ids.GenerateTestShortID(),
		NetworkID:  1,
		BaseFee:    baseFee,
		FeePerByte: feePerByte,
	}, chain, signer, verifier, metrics.NewNoOp(), logger), signer
}

func newNetwork(t *testing.T) *network {
	verifier := NewVerifier()
	hub, hubSigner := newEndpoint(t, hubEid, verifier)
	spoke, spokeSigner := newEndpoint(t, spokeEid, verifier)
	verifier.Register(hub.Chain().ID(), hubSigner.PublicKey())
	verifier.Register(spoke.Chain().ID(), spokeSigner.PublicKey())
	hub.SetPeer(spokeEid, spoke.Chain().ID())
	spoke.SetPeer(hubEid, hub.Chain().ID())

	n := &network{
		hub:     hub,
		spoke:   spoke,
		relayer: NewRelayer(log.NewNoOpLogger(), metrics.NewNoOp(), hub, spoke),
		handler: &recordingHandler{},
		sender:  ids.GenerateTestShortID(),
		payer:   ids.GenerateTestShortID(),
	}
	n.receiver = &recordingReceiver{
		endpoint: hub,
		addr:     ids.GenerateTestShortID(),
		handler:  ids.GenerateTestShortID(),
	}
	hub.RegisterReceiver(n.receiver.addr, n.receiver)
	hub.RegisterComposeHandler(n.receiver.handler, n.handler)

	require.NoError(t, spoke.Chain().Execute(func(d *state.Diff) error {
		return d.Mint(state.NativeToken, n.payer, uint256.NewInt(1_000_000))
	}))
	require.NoError(t, hub.Chain().Execute(func(d *state.Diff) error {
		return d.Mint(state.NativeToken, hub.Address(), uint256.NewInt(1_000_000))
	}))
	return n
}

func (n *network) send(t *testing.T, payload string, value uint64) *Packet {
	var packet *Packet
	require.NoError(t, n.spoke.Chain().Execute(func(d *state.Diff) error {
		var err error
		packet, err = n.spoke.Send(d, n.sender, n.payer, Message{
			DstEid:   hubEid,
			Receiver: n.receiver.addr,
			Payload:  []byte(payload),
			Value:    value,
		}, uint256.NewInt(1_000_000))
		return err
	}))
	return packet
}

func nativeBalance(t *testing.T, e *Endpoint, holder ids.ShortID) uint64 {
	var balance *uint256.Int
	require.NoError(t, e.Chain().View(func(d *state.Diff) error {
		var err error
		balance, err = d.BalanceOf(state.NativeToken, holder)
		return err
	}))
	return balance.Uint64()
}

func TestPacketVerify(t *testing.T) {
	sender := ids.GenerateTestShortID()
	receiver := ids.GenerateTestShortID()

	tests := []struct {
		name   string
		packet func() *Packet
		err    error
	}{
		{
			name: "valid",
			packet: func() *Packet {
				return NewPacket(1, spokeEid, sender, hubEid, receiver, 0, []byte{1})
			},
		},
		{
			name: "wrong version",
			packet: func() *Packet {
				p := NewPacket(1, spokeEid, sender, hubEid, receiver, 0, []byte{1})
				p.Version = 2
				return p
			},
			err: ErrInvalidPacketVersion,
		},
		{
			name: "empty message",
			packet: func() *Packet {
				return NewPacket(1, spokeEid, sender, hubEid, receiver, 0, nil)
			},
			err: ErrMissingMessage,
		},
		{
			name: "loopback",
			packet: func() *Packet {
				return NewPacket(1, hubEid, sender, hubEid, receiver, 0, []byte{1})
			},
			err: ErrInvalidPath,
		},
		{
			name: "zero nonce",
			packet: func() *Packet {
				return NewPacket(0, spokeEid, sender, hubEid, receiver, 0, []byte{1})
			},
			err: ErrInvalidPath,
		},
		{
			name: "tampered nonce",
			packet: func() *Packet {
				p := NewPacket(1, spokeEid, sender, hubEid, receiver, 0, []byte{1})
				p.Nonce = 2
				return p
			},
			err: ErrInvalidPath,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.ErrorIs(t, test.packet().Verify(), test.err)
		})
	}
}

func TestPacketRoundTrip(t *testing.T) {
	require := require.New(t)

	p := NewPacket(7, spokeEid, ids.GenerateTestShortID(), hubEid, ids.GenerateTestShortID(), 42, []byte("hello"))
	bytes, err := p.Bytes()
	require.NoError(err)

	parsed, err := ParsePacket(bytes)
	require.NoError(err)
	require.Equal(p, parsed)
}

func TestSendAndRelay(t *testing.T) {
	require := require.New(t)
	n := newNetwork(t)

	packet := n.send(t, "hello", 0)
	require.Equal(uint64(1), packet.Nonce)
	require.Equal(uint64(1_000_000-baseFee-5*feePerByte), nativeBalance(t, n.spoke, n.payer))
	require.Equal(uint64(baseFee+5*feePerByte), nativeBalance(t, n.spoke, n.spoke.Address()))

	second := n.send(t, "world", 0)
	require.Equal(uint64(2), second.Nonce)
	require.NotEqual(packet.GUID, second.GUID)

	delivered, err := n.relayer.Relay(context.Background())
	require.NoError(err)
	require.Equal(2, delivered)
	require.Len(n.receiver.packets, 2)
	require.Equal(packet.GUID, n.receiver.packets[0].GUID)
	require.Equal([]byte("world"), n.receiver.packets[1].Message)

	outbox, err := n.spoke.Outbox()
	require.NoError(err)
	require.Empty(outbox)

	delivered, err = n.relayer.Relay(context.Background())
	require.NoError(err)
	require.Zero(delivered)
}

func TestSendRejected(t *testing.T) {
	n := newNetwork(t)
	broke := ids.GenerateTestShortID()

	tests := []struct {
		name   string
		payer  ids.ShortID
		msg    Message
		maxFee uint64
		err    error
	}{
		{
			name:   "fee above max",
			payer:  n.payer,
			msg:    Message{DstEid: hubEid, Receiver: n.receiver.addr, Payload: []byte{1}},
			maxFee: baseFee,
			err:    ErrInsufficientFee,
		},
		{
			name:   "value counts toward fee",
			payer:  n.payer,
			msg:    Message{DstEid: hubEid, Receiver: n.receiver.addr, Payload: []byte{1}, Value: 1},
			maxFee: baseFee + feePerByte,
			err:    ErrInsufficientFee,
		},
		{
			name:   "payer cannot cover fee",
			payer:  broke,
			msg:    Message{DstEid: hubEid, Receiver: n.receiver.addr, Payload: []byte{1}},
			maxFee: 1_000_000,
			err:    ErrInsufficientFee,
		},
		{
			name:   "unknown destination",
			payer:  n.payer,
			msg:    Message{DstEid: 9, Receiver: n.receiver.addr, Payload: []byte{1}},
			maxFee: 1_000_000,
			err:    ErrUnknownEndpoint,
		},
		{
			name:   "empty payload",
			payer:  n.payer,
			msg:    Message{DstEid: hubEid, Receiver: n.receiver.addr},
			maxFee: 1_000_000,
			err:    ErrEmptyMessage,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := n.spoke.Chain().Execute(func(d *state.Diff) error {
				_, err := n.spoke.Send(d, n.sender, test.payer, test.msg, uint256.NewInt(test.maxFee))
				return err
			})
			require.ErrorIs(t, err, test.err)
		})
	}

	outbox, err := n.spoke.Outbox()
	require.NoError(t, err)
	require.Empty(t, outbox)
}

func TestDeliverExactlyOnceInOrder(t *testing.T) {
	require := require.New(t)
	n := newNetwork(t)
	ctx := context.Background()

	n.send(t, "first", 0)
	n.send(t, "second", 0)
	outbox, err := n.spoke.Outbox()
	require.NoError(err)
	require.Len(outbox, 2)

	err = n.hub.Deliver(ctx, outbox[1].Message, outbox[1].Signature)
	require.ErrorIs(err, ErrOutOfOrder)
	require.Empty(n.receiver.packets)

	require.NoError(n.hub.Deliver(ctx, outbox[0].Message, outbox[0].Signature))
	require.NoError(n.hub.Deliver(ctx, outbox[0].Message, outbox[0].Signature))
	require.NoError(n.hub.Deliver(ctx, outbox[1].Message, outbox[1].Signature))
	require.Len(n.receiver.packets, 2)
}

func TestDeliverRejectsForgedMessages(t *testing.T) {
	require := require.New(t)
	n := newNetwork(t)
	ctx := context.Background()

	n.send(t, "hello", 0)
	outbox, err := n.spoke.Outbox()
	require.NoError(err)
	out := outbox[0]

	forger, err := NewLocalSigner()
	require.NoError(err)
	forged, err := forger.Sign(out.Message)
	require.NoError(err)
	require.ErrorIs(n.hub.Deliver(ctx, out.Message, forged), ErrInvalidSignature)

	unknown := *out.Message
	unknown.SourceChainID = ids.GenerateTestID()
	require.ErrorIs(n.hub.Deliver(ctx, &unknown, out.Signature), ErrUnknownSource)

	// a packet addressed to the hub cannot be replayed on the spoke
	require.ErrorIs(n.spoke.Deliver(ctx, out.Message, out.Signature), ErrWrongDestination)
	require.Empty(n.receiver.packets)
}

func TestVerifierForgetsReplacedKeys(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	signer, err := NewLocalSigner()
	require.NoError(err)
	verifier := NewVerifier()
	chainID := ids.GenerateTestID()
	verifier.Register(chainID, signer.PublicKey())

	msg := &luxWarp.UnsignedMessage{
		NetworkID:     1,
		SourceChainID: chainID,
		Payload:       []byte("payload"),
	}
	sig, err := signer.Sign(msg)
	require.NoError(err)
	require.NoError(verifier.Verify(ctx, msg, sig))
	require.NoError(verifier.Verify(ctx, msg, sig))

	rotated, err := NewLocalSigner()
	require.NoError(err)
	verifier.Register(chainID, rotated.PublicKey())
	require.ErrorIs(verifier.Verify(ctx, msg, sig), ErrInvalidSignature)
}

func TestReceiverFailureKeepsPacket(t *testing.T) {
	require := require.New(t)
	n := newNetwork(t)
	ctx := context.Background()

	n.receiver.fail = true
	n.send(t, "hello", 0)

	delivered, err := n.relayer.Relay(ctx)
	require.ErrorIs(err, errRejected)
	require.Zero(delivered)

	outbox, err := n.spoke.Outbox()
	require.NoError(err)
	require.Len(outbox, 1)

	n.receiver.fail = false
	delivered, err = n.relayer.Relay(ctx)
	require.NoError(err)
	require.Equal(1, delivered)
	require.Len(n.receiver.packets, 1)
}

func TestComposeForwardsValue(t *testing.T) {
	require := require.New(t)
	n := newNetwork(t)

	n.send(t, "compose", 500)
	require.Equal(uint64(1_000_000-baseFee-7*feePerByte-500), nativeBalance(t, n.spoke, n.payer))

	_, err := n.relayer.Relay(context.Background())
	require.NoError(err)
	require.Equal([]uint64{500}, n.handler.values)
	require.Equal([]ids.ShortID{n.receiver.addr}, n.handler.froms)
	require.Equal(uint64(500), nativeBalance(t, n.hub, n.receiver.handler))
	require.Equal(uint64(1_000_000-500), nativeBalance(t, n.hub, n.hub.Address()))
}

func TestComposeFailureAndRetry(t *testing.T) {
	require := require.New(t)
	n := newNetwork(t)

	n.handler.fail = true
	packet := n.send(t, "compose", 500)

	delivered, err := n.relayer.Relay(context.Background())
	require.NoError(err)
	require.Equal(1, delivered)
	require.Len(n.receiver.packets, 1)

	var failed []*FailedCompose
	require.NoError(n.hub.Chain().View(func(d *state.Diff) error {
		failed, err = n.hub.FailedComposes(d)
		return err
	}))
	require.Len(failed, 1)
	require.Equal(packet.GUID, failed[0].GUID)
	require.Equal(uint16(0), failed[0].Index)
	require.Equal(uint64(500), failed[0].Value)
	require.Equal(errRejected.Error(), failed[0].Reason)
	require.Zero(nativeBalance(t, n.hub, n.receiver.handler))

	retrier := ids.GenerateTestShortID()
	require.NoError(n.hub.Chain().Execute(func(d *state.Diff) error {
		return d.Mint(state.NativeToken, retrier, uint256.NewInt(100))
	}))

	err = n.hub.RetryCompose(retrier, packet.GUID, 0, uint256.NewInt(100))
	require.ErrorIs(err, errRejected)

	n.handler.fail = false
	require.NoError(n.hub.RetryCompose(retrier, packet.GUID, 0, uint256.NewInt(100)))
	require.Equal([]uint64{600}, n.handler.values)
	require.Zero(nativeBalance(t, n.hub, retrier))

	err = n.hub.RetryCompose(retrier, packet.GUID, 0, state.Zero())
	require.ErrorIs(err, ErrComposeNotRetryable)
	err = n.hub.RetryCompose(retrier, ids.GenerateTestID(), 0, state.Zero())
	require.ErrorIs(err, ErrUnknownCompose)

	require.NoError(n.hub.Chain().View(func(d *state.Diff) error {
		failed, err = n.hub.FailedComposes(d)
		return err
	}))
	require.Empty(failed)
}

func TestResolveCompose(t *testing.T) {
	require := require.New(t)
	n := newNetwork(t)

	n.handler.fail = true
	packet := n.send(t, "compose", 500)
	_, err := n.relayer.Relay(context.Background())
	require.NoError(err)

	err = n.hub.Chain().Execute(func(d *state.Diff) error {
		_, err := n.hub.ResolveCompose(d, n.receiver.addr, packet.GUID, 0)
		return err
	})
	require.ErrorIs(err, ErrNotComposeHandler)

	var resolved *FailedCompose
	require.NoError(n.hub.Chain().Execute(func(d *state.Diff) error {
		var err error
		resolved, err = n.hub.ResolveCompose(d, n.receiver.handler, packet.GUID, 0)
		return err
	}))
	require.Equal(packet.GUID, resolved.GUID)
	require.Equal(n.receiver.addr, resolved.From)
	require.Equal([]byte("compose"), resolved.Message)
	require.Equal(uint64(500), resolved.Value)
	require.Equal(uint64(500), nativeBalance(t, n.hub, n.receiver.handler))
	require.Equal(uint64(1_000_000-500), nativeBalance(t, n.hub, n.hub.Address()))

	n.handler.fail = false
	err = n.hub.RetryCompose(n.sender, packet.GUID, 0, state.Zero())
	require.ErrorIs(err, ErrComposeNotRetryable)
	require.Empty(n.handler.values)

	err = n.hub.Chain().Execute(func(d *state.Diff) error {
		_, err := n.hub.ResolveCompose(d, n.receiver.handler, packet.GUID, 0)
		return err
	})
	require.ErrorIs(err, ErrComposeNotRetryable)

	var failed []*FailedCompose
	require.NoError(n.hub.Chain().View(func(d *state.Diff) error {
		failed, err = n.hub.FailedComposes(d)
		return err
	}))
	require.Empty(failed)
}

func TestRelayerRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	require := require.New(t)
	n := newNetwork(t)
	n.send(t, "hello", 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- n.relayer.Run(ctx, time.Millisecond)
	}()

	require.Eventually(func() bool {
		outbox, err := n.spoke.Outbox()
		return err == nil && len(outbox) == 0
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(<-done)
	require.Len(n.receiver.packets, 1)
}
