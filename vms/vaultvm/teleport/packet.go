// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package teleport

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/luxfi/ids"

	"github.com/luxfi/vault/vms/vaultvm/state"
)

// PacketVersion is the current version of the packet format
const PacketVersion uint8 = 1

var (
	ErrInvalidPacketVersion = errors.New("invalid packet version")
	ErrMissingMessage       = errors.New("packet missing message")
	ErrInvalidPath          = errors.New("invalid packet path")
)

// Packet is one message from a contract on one network to a contract on
// another.
type Packet struct {
	// Version is the packet format version
	Version uint8 `serialize:"true"`

	// Nonce orders packets on the path (SrcEid, Sender, DstEid, Receiver)
	Nonce uint64 `serialize:"true"`

	// SrcEid identifies the sending endpoint
	SrcEid uint32 `serialize:"true"`

	// DstEid identifies the receiving endpoint
	DstEid uint32 `serialize:"true"`

	Sender   ids.ShortID `serialize:"true"`
	Receiver ids.ShortID `serialize:"true"`

	// GUID uniquely identifies the packet across all paths
	GUID ids.ID `serialize:"true"`

	// Value is native value the destination executor forwards to composed
	// calls queued by the receiver
	Value uint64 `serialize:"true"`

	// Message is the receiver specific payload
	Message []byte `serialize:"true"`
}

// NewPacket returns the packet for the [nonce]th message on its path.
func NewPacket(
	nonce uint64,
	srcEid uint32,
	sender ids.ShortID,
	dstEid uint32,
	receiver ids.ShortID,
	value uint64,
	message []byte,
) *Packet {
	return &Packet{
		Version:  PacketVersion,
		Nonce:    nonce,
		SrcEid:   srcEid,
		DstEid:   dstEid,
		Sender:   sender,
		Receiver: receiver,
		GUID:     GUID(nonce, srcEid, sender, dstEid, receiver),
		Value:    value,
		Message:  message,
	}
}

// GUID derives the identifier of a packet from its path and nonce.
func GUID(nonce uint64, srcEid uint32, sender ids.ShortID, dstEid uint32, receiver ids.ShortID) ids.ID {
	buf := make([]byte, 0, 8+4+state.AddressLen+4+state.AddressLen)
	buf = binary.BigEndian.AppendUint64(buf, nonce)
	buf = binary.BigEndian.AppendUint32(buf, srcEid)
	buf = append(buf, sender[:]...)
	buf = binary.BigEndian.AppendUint32(buf, dstEid)
	buf = append(buf, receiver[:]...)
	return sha256.Sum256(buf)
}

// Verify checks if the packet is well-formed
func (p *Packet) Verify() error {
	if p.Version != PacketVersion {
		return fmt.Errorf("%w: got %d, expected %d", ErrInvalidPacketVersion, p.Version, PacketVersion)
	}
	if len(p.Message) == 0 {
		return ErrMissingMessage
	}
	if p.SrcEid == p.DstEid || p.Nonce == 0 {
		return fmt.Errorf("%w: %d -> %d nonce %d", ErrInvalidPath, p.SrcEid, p.DstEid, p.Nonce)
	}
	if p.GUID != GUID(p.Nonce, p.SrcEid, p.Sender, p.DstEid, p.Receiver) {
		return fmt.Errorf("%w: guid mismatch", ErrInvalidPath)
	}
	return nil
}

// Bytes serializes the packet
func (p *Packet) Bytes() ([]byte, error) {
	return Codec.Marshal(CodecVersion, p)
}

// ParsePacket deserializes and verifies a packet
func ParsePacket(bytes []byte) (*Packet, error) {
	p := &Packet{}
	if _, err := Codec.Unmarshal(bytes, p); err != nil {
		return nil, fmt.Errorf("failed to parse packet: %w", err)
	}
	return p, p.Verify()
}
