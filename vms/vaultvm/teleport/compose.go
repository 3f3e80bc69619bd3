// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package teleport

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/vault/vms/vaultvm/state"
)

const (
	composePending uint8 = iota + 1
	composeExecuted
	composeFailed
	composeResolved
)

var (
	ErrUnknownCompose        = errors.New("unknown compose")
	ErrComposeNotRetryable   = errors.New("compose is not retryable")
	ErrUnknownComposeHandler = errors.New("unknown compose handler")
	ErrNotComposeHandler     = errors.New("caller is not the compose handler")

	keyComposeSeq      = []byte("composeSeq")
	prefixCompose      = "compose:"
	prefixComposeQueue = "composeQueue:"
)

// ComposeHandler runs calls composed onto a delivered packet.
type ComposeHandler interface {
	// Compose is invoked by the endpoint at [caller] with the native
	// [value] already credited to the handler. [from] is the receiver that
	// queued the call.
	Compose(diff *state.Diff, caller, from ids.ShortID, guid ids.ID, message []byte, value *uint256.Int) error
}

type composeRecord struct {
	From    ids.ShortID `serialize:"true"`
	To      ids.ShortID `serialize:"true"`
	Message []byte      `serialize:"true"`
	Value   uint64      `serialize:"true"`
	Status  uint8       `serialize:"true"`
	Reason  string      `serialize:"true"`
}

// FailedCompose is a composed call that reverted and can be retried.
type FailedCompose struct {
	GUID    ids.ID
	Index   uint16
	From    ids.ShortID
	To      ids.ShortID
	Message []byte
	Value   uint64
	Reason  string
}

// RegisterComposeHandler routes calls composed to [addr] to [h].
func (e *Endpoint) RegisterComposeHandler(addr ids.ShortID, h ComposeHandler) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.handlers[addr] = h
}

// SendCompose queues a call to [to] on behalf of the receiver [from]. It
// runs after the current delivery commits.
func (e *Endpoint) SendCompose(diff *state.Diff, from, to ids.ShortID, guid ids.ID, index uint16, message []byte, value uint64) error {
	db := diff.Store(e.config.Address)
	key := composeKey(guid, index)
	has, err := db.Has(key)
	if err != nil {
		return err
	}
	if has {
		return fmt.Errorf("compose %s/%d already queued", guid, index)
	}
	if err := e.putCompose(diff, key, &composeRecord{
		From:    from,
		To:      to,
		Message: message,
		Value:   value,
		Status:  composePending,
	}); err != nil {
		return err
	}

	seq, err := state.GetUInt64(db, keyComposeSeq)
	if err != nil {
		return err
	}
	seq++
	if err := state.PutUInt64(db, keyComposeSeq, seq); err != nil {
		return err
	}
	return db.Put(seqKey(prefixComposeQueue, seq), key[len(prefixCompose):])
}

// runComposes executes queued composes in order until the queue is empty.
func (e *Endpoint) runComposes() error {
	for {
		var (
			queueKey []byte
			key      []byte
		)
		err := e.chain.View(func(diff *state.Diff) error {
			iter := diff.Store(e.config.Address).NewIteratorWithPrefix([]byte(prefixComposeQueue))
			defer iter.Release()
			if iter.Next() {
				queueKey = append([]byte(nil), iter.Key()...)
				key = state.Key(prefixCompose, iter.Value())
			}
			return iter.Error()
		})
		if err != nil || queueKey == nil {
			return err
		}

		err = e.chain.Execute(func(diff *state.Diff) error {
			if err := diff.Store(e.config.Address).Delete(queueKey); err != nil {
				return err
			}
			return e.execute(diff, key, state.Zero())
		})
		if err == nil {
			continue
		}

		guid, index := parseComposeKey(key)
		e.log.Warn("compose failed",
			log.Stringer("guid", guid),
			log.Uint64("index", uint64(index)),
			log.Err(err),
		)
		e.metrics.MarkComposeFailed()
		reason := err.Error()
		err = e.chain.Execute(func(diff *state.Diff) error {
			db := diff.Store(e.config.Address)
			if err := db.Delete(queueKey); err != nil {
				return err
			}
			record, err := e.getCompose(diff, key)
			if err != nil {
				return err
			}
			record.Status = composeFailed
			record.Reason = reason
			return e.putCompose(diff, key, record)
		})
		if err != nil {
			return err
		}
	}
}

// RetryCompose runs a failed compose again. [caller] may add native value
// on top of what the packet carried.
func (e *Endpoint) RetryCompose(caller ids.ShortID, guid ids.ID, index uint16, extra *uint256.Int) error {
	return e.chain.Execute(func(diff *state.Diff) error {
		key := composeKey(guid, index)
		record, err := e.getCompose(diff, key)
		if err != nil {
			return err
		}
		if record.Status != composeFailed {
			return fmt.Errorf("%w: %s/%d", ErrComposeNotRetryable, guid, index)
		}
		if !extra.IsZero() {
			if err := diff.Transfer(state.NativeToken, caller, e.config.Address, extra); err != nil {
				return err
			}
		}
		if err := e.execute(diff, key, extra); err != nil {
			return err
		}
		e.log.Info("compose retried",
			log.Stringer("guid", guid),
			log.Uint64("index", uint64(index)),
			log.Stringer("caller", caller),
		)
		return nil
	})
}

// ResolveCompose closes the failed compose at [guid]/[index] without
// running it, after which it can no longer be retried. Only the [handler]
// it was queued for may resolve it. The native value the packet carried is
// credited to the handler.
func (e *Endpoint) ResolveCompose(diff *state.Diff, handler ids.ShortID, guid ids.ID, index uint16) (*FailedCompose, error) {
	key := composeKey(guid, index)
	record, err := e.getCompose(diff, key)
	if err != nil {
		return nil, err
	}
	if record.To != handler {
		return nil, fmt.Errorf("%w: %s/%d is for %s", ErrNotComposeHandler, guid, index, record.To)
	}
	if record.Status != composeFailed {
		return nil, fmt.Errorf("%w: %s/%d", ErrComposeNotRetryable, guid, index)
	}
	if record.Value != 0 {
		if err := diff.Transfer(state.NativeToken, e.config.Address, handler, uint256.NewInt(record.Value)); err != nil {
			return nil, err
		}
	}

	resolved := &FailedCompose{
		GUID:    guid,
		Index:   index,
		From:    record.From,
		To:      record.To,
		Message: record.Message,
		Value:   record.Value,
		Reason:  record.Reason,
	}
	record.Status = composeResolved
	if err := e.putCompose(diff, key, record); err != nil {
		return nil, err
	}
	e.log.Info("compose resolved",
		log.Stringer("guid", guid),
		log.Uint64("index", uint64(index)),
		log.Stringer("handler", handler),
	)
	return resolved, nil
}

// execute funds and runs the compose at [key] and marks it executed.
func (e *Endpoint) execute(diff *state.Diff, key []byte, extra *uint256.Int) error {
	record, err := e.getCompose(diff, key)
	if err != nil {
		return err
	}
	e.lock.RLock()
	handler, ok := e.handlers[record.To]
	e.lock.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownComposeHandler, record.To)
	}

	value, err := state.Add(uint256.NewInt(record.Value), extra)
	if err != nil {
		return err
	}
	if !value.IsZero() {
		if err := diff.Transfer(state.NativeToken, e.config.Address, record.To, value); err != nil {
			return err
		}
	}
	guid, _ := parseComposeKey(key)
	if err := handler.Compose(diff, e.config.Address, record.From, guid, record.Message, value); err != nil {
		return err
	}
	record.Status = composeExecuted
	record.Reason = ""
	return e.putCompose(diff, key, record)
}

// FailedComposes lists the composes that can be retried.
func (e *Endpoint) FailedComposes(diff *state.Diff) ([]*FailedCompose, error) {
	iter := diff.Store(e.config.Address).NewIteratorWithPrefix([]byte(prefixCompose))
	defer iter.Release()

	var failed []*FailedCompose
	for iter.Next() {
		var record composeRecord
		if _, err := Codec.Unmarshal(iter.Value(), &record); err != nil {
			return nil, err
		}
		if record.Status != composeFailed {
			continue
		}
		guid, index := parseComposeKey(iter.Key())
		failed = append(failed, &FailedCompose{
			GUID:    guid,
			Index:   index,
			From:    record.From,
			To:      record.To,
			Message: record.Message,
			Value:   record.Value,
			Reason:  record.Reason,
		})
	}
	return failed, iter.Error()
}

func (e *Endpoint) getCompose(diff *state.Diff, key []byte) (*composeRecord, error) {
	bytes, err := diff.Store(e.config.Address).Get(key)
	if err != nil {
		guid, index := parseComposeKey(key)
		return nil, fmt.Errorf("%w: %s/%d: %w", ErrUnknownCompose, guid, index, err)
	}
	record := &composeRecord{}
	if _, err := Codec.Unmarshal(bytes, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (e *Endpoint) putCompose(diff *state.Diff, key []byte, record *composeRecord) error {
	bytes, err := Codec.Marshal(CodecVersion, record)
	if err != nil {
		return err
	}
	return diff.Store(e.config.Address).Put(key, bytes)
}

func composeKey(guid ids.ID, index uint16) []byte {
	return state.Key(prefixCompose, guid[:], binary.BigEndian.AppendUint16(nil, index))
}

func parseComposeKey(key []byte) (ids.ID, uint16) {
	var guid ids.ID
	suffix := key[len(key)-len(guid)-2:]
	copy(guid[:], suffix)
	return guid, binary.BigEndian.Uint16(suffix[len(guid):])
}
