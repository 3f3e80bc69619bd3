// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mirror

import (
	"errors"
	"math"

	"github.com/luxfi/codec"
	"github.com/luxfi/codec/linearcodec"
	"github.com/luxfi/ids"
)

const CodecVersion = 0

var Codec codec.Manager

func init() {
	Codec = codec.NewManager(math.MaxInt)
	lc := linearcodec.NewDefault()

	err := errors.Join(
		lc.RegisterType(&TransferMessage{}),
		lc.RegisterType(&ComposeMessage{}),
		Codec.RegisterCodec(CodecVersion, lc),
	)
	if err != nil {
		panic(err)
	}
}

// TransferMessage is the payload of a packet between two mirrors.
type TransferMessage struct {
	To ids.ShortID `serialize:"true"`
	// AmountSD is the amount in shared decimals
	AmountSD uint64 `serialize:"true"`
	// ComposeFrom is the sender on the source network
	ComposeFrom ids.ShortID `serialize:"true"`
	ComposeMsg  []byte      `serialize:"true"`
}

// ComposeMessage is what a receiving mirror hands to the compose target.
type ComposeMessage struct {
	Nonce  uint64      `serialize:"true"`
	SrcEid uint32      `serialize:"true"`
	Amount [32]byte    `serialize:"true"`
	From   ids.ShortID `serialize:"true"`
	// Message is the sender supplied compose payload
	Message []byte `serialize:"true"`
}

// ParseComposeMessage decodes the message a mirror composed.
func ParseComposeMessage(bytes []byte) (*ComposeMessage, error) {
	msg := &ComposeMessage{}
	if _, err := Codec.Unmarshal(bytes, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
