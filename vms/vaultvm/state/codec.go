// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"errors"
	"fmt"
	"math"

	"github.com/holiman/uint256"
	"github.com/luxfi/codec"
	"github.com/luxfi/codec/linearcodec"
	"github.com/luxfi/database"
)

const CodecVersion = 0

// Codec serializes the records components keep in their stores.
var Codec codec.Manager

func init() {
	Codec = codec.NewManager(math.MaxInt)
	lc := linearcodec.NewDefault()
	if err := Codec.RegisterCodec(CodecVersion, lc); err != nil {
		panic(err)
	}
}

// GetRecord decodes the record stored at [key] into [dst]. It reports
// false, without error, if nothing is stored there.
func GetRecord(db database.KeyValueReader, key []byte, dst interface{}) (bool, error) {
	bytes, err := db.Get(key)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := Codec.Unmarshal(bytes, dst); err != nil {
		return false, fmt.Errorf("failed to parse record %x: %w", key, err)
	}
	return true, nil
}

// PutRecord encodes [src] and stores it at [key].
func PutRecord(db database.KeyValueWriter, key []byte, src interface{}) error {
	bytes, err := Codec.Marshal(CodecVersion, src)
	if err != nil {
		return fmt.Errorf("failed to serialize record %x: %w", key, err)
	}
	return db.Put(key, bytes)
}

// GetAmount returns the amount stored at [key], or zero.
func GetAmount(db database.KeyValueReader, key []byte) (*uint256.Int, error) {
	bytes, err := db.Get(key)
	if errors.Is(err, database.ErrNotFound) {
		return Zero(), nil
	}
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(bytes), nil
}

// PutAmount stores [amount] at [key] as a 32 byte big-endian word. Zero
// amounts are deleted.
func PutAmount(db database.KeyValueWriterDeleter, key []byte, amount *uint256.Int) error {
	if amount.IsZero() {
		return db.Delete(key)
	}
	word := amount.Bytes32()
	return db.Put(key, word[:])
}

// GetUInt64 returns the counter stored at [key], or zero.
func GetUInt64(db database.KeyValueReader, key []byte) (uint64, error) {
	value, err := database.GetUInt64(db, key)
	if errors.Is(err, database.ErrNotFound) {
		return 0, nil
	}
	return value, err
}

// PutUInt64 stores the counter [value] at [key].
func PutUInt64(db database.KeyValueWriter, key []byte, value uint64) error {
	return database.PutUInt64(db, key, value)
}

// GetFlag returns whether [key] is set.
func GetFlag(db database.KeyValueReader, key []byte) (bool, error) {
	return db.Has(key)
}

// PutFlag sets or clears [key].
func PutFlag(db database.KeyValueWriterDeleter, key []byte, set bool) error {
	if !set {
		return db.Delete(key)
	}
	return db.Put(key, []byte{1})
}

// Key joins a record kind and its identifying parts.
func Key(kind string, parts ...[]byte) []byte {
	size := len(kind)
	for _, p := range parts {
		size += len(p)
	}
	key := make([]byte, 0, size)
	key = append(key, kind...)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}
