// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package teleport

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/cache"
	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/crypto/bls/signer/localsigner"
	"github.com/luxfi/ids"

	luxWarp "github.com/luxfi/warp"
)

var (
	_ luxWarp.Verifier = (*Verifier)(nil)

	ErrUnknownSource    = errors.New("unknown source chain")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Signer attests to messages leaving an endpoint.
type Signer interface {
	Sign(msg *luxWarp.UnsignedMessage) ([]byte, error)
}

// LocalSigner signs with a BLS key held in memory.
type LocalSigner struct {
	sk *localsigner.LocalSigner
}

func NewLocalSigner() (*LocalSigner, error) {
	sk, err := localsigner.New()
	if err != nil {
		return nil, err
	}
	return &LocalSigner{sk: sk}, nil
}

func (s *LocalSigner) PublicKey() *bls.PublicKey {
	return s.sk.PublicKey()
}

func (s *LocalSigner) Sign(msg *luxWarp.UnsignedMessage) ([]byte, error) {
	sig, err := s.sk.Sign(signingBytes(msg))
	if err != nil {
		return nil, err
	}
	return bls.SignatureToBytes(sig), nil
}

const verifiedCacheSize = 1024

// Verifier accepts messages signed by the registered key of their source
// chain. Signatures it already checked are remembered, so redelivered
// packets skip the pairing check.
type Verifier struct {
	lock     sync.RWMutex
	keys     map[ids.ID]*bls.PublicKey
	verified *cache.LRU[ids.ID, struct{}]
}

func NewVerifier() *Verifier {
	return &Verifier{
		keys:     make(map[ids.ID]*bls.PublicKey),
		verified: &cache.LRU[ids.ID, struct{}]{Size: verifiedCacheSize},
	}
}

// Register trusts [pk] for messages from [chainID]. Replacing a key
// forgets every signature checked so far.
func (v *Verifier) Register(chainID ids.ID, pk *bls.PublicKey) {
	v.lock.Lock()
	defer v.lock.Unlock()
	if _, ok := v.keys[chainID]; ok {
		v.verified.Flush()
	}
	v.keys[chainID] = pk
}

func (v *Verifier) Verify(_ context.Context, msg *luxWarp.UnsignedMessage, signature []byte) error {
	v.lock.RLock()
	pk, ok := v.keys[msg.SourceChainID]
	v.lock.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, msg.SourceChainID)
	}

	signed := signingBytes(msg)
	id := ids.ID(sha256.Sum256(append(signed, signature...)))
	if _, ok := v.verified.Get(id); ok {
		return nil
	}

	sig, err := bls.SignatureFromBytes(signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if !bls.Verify(pk, sig, signed) {
		return ErrInvalidSignature
	}
	v.verified.Put(id, struct{}{})
	return nil
}

func signingBytes(msg *luxWarp.UnsignedMessage) []byte {
	buf := make([]byte, 0, 4+ids.IDLen+len(msg.Payload))
	buf = binary.BigEndian.AppendUint32(buf, msg.NetworkID)
	buf = append(buf, msg.SourceChainID[:]...)
	return append(buf, msg.Payload...)
}
