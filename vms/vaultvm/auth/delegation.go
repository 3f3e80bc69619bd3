// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package auth

import (
	"errors"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"

	"github.com/luxfi/vault/vms/vaultvm/state"
)

// DelegationStatus is the handshake state of a (principal, delegate) pair.
type DelegationStatus uint8

const (
	DelegationNone DelegationStatus = iota
	DelegationPrincipalApproved
	DelegationDelegateApproved
	DelegationActive
)

func (s DelegationStatus) String() string {
	switch s {
	case DelegationNone:
		return "none"
	case DelegationPrincipalApproved:
		return "principal_approved"
	case DelegationDelegateApproved:
		return "delegate_approved"
	case DelegationActive:
		return "active"
	default:
		return "unknown"
	}
}

var (
	ErrSelfDelegation     = errors.New("cannot delegate to self")
	ErrNotParty           = errors.New("caller is not a party to the delegation")
	ErrAlreadyApproved    = errors.New("delegation already approved by caller")
	ErrDelegationInactive = errors.New("delegation is not active")

	prefixDelegation = "delegation:"
)

// Delegations lets a principal authorize a delegate to act on its behalf.
// The delegation becomes active only once both sides have approved it, in
// either order.
type Delegations struct {
	// Namespace is the contract the delegations belong to.
	Namespace ids.ShortID
}

// Approve records the caller's side of the handshake.
func (d Delegations) Approve(diff *state.Diff, caller, principal, delegate ids.ShortID) (DelegationStatus, error) {
	if principal == delegate {
		return DelegationNone, ErrSelfDelegation
	}
	if principal == ids.ShortEmpty || delegate == ids.ShortEmpty {
		return DelegationNone, state.ErrZeroAddress
	}

	status, err := d.Status(diff, principal, delegate)
	if err != nil {
		return DelegationNone, err
	}

	var next DelegationStatus
	switch caller {
	case principal:
		switch status {
		case DelegationNone:
			next = DelegationPrincipalApproved
		case DelegationDelegateApproved:
			next = DelegationActive
		default:
			return status, ErrAlreadyApproved
		}
	case delegate:
		switch status {
		case DelegationNone:
			next = DelegationDelegateApproved
		case DelegationPrincipalApproved:
			next = DelegationActive
		default:
			return status, ErrAlreadyApproved
		}
	default:
		return status, ErrNotParty
	}
	return next, d.put(diff, principal, delegate, next)
}

// Revoke tears the delegation down. Either side may revoke at any stage.
func (d Delegations) Revoke(diff *state.Diff, caller, principal, delegate ids.ShortID) error {
	if caller != principal && caller != delegate {
		return ErrNotParty
	}
	return d.put(diff, principal, delegate, DelegationNone)
}

func (d Delegations) Status(diff *state.Diff, principal, delegate ids.ShortID) (DelegationStatus, error) {
	bytes, err := diff.Store(d.Namespace).Get(delegationKey(principal, delegate))
	if errors.Is(err, database.ErrNotFound) {
		return DelegationNone, nil
	}
	if err != nil {
		return DelegationNone, err
	}
	if len(bytes) != 1 || DelegationStatus(bytes[0]) > DelegationActive {
		return DelegationNone, fmt.Errorf("corrupt delegation record %s -> %s", principal, delegate)
	}
	return DelegationStatus(bytes[0]), nil
}

// RequireActive fails unless [delegate] may act for [principal]. Anyone may
// act for themselves.
func (d Delegations) RequireActive(diff *state.Diff, principal, delegate ids.ShortID) error {
	if principal == delegate {
		return nil
	}
	status, err := d.Status(diff, principal, delegate)
	if err != nil {
		return err
	}
	if status != DelegationActive {
		return fmt.Errorf("%w: %s -> %s is %s", ErrDelegationInactive, principal, delegate, status)
	}
	return nil
}

func (d Delegations) put(diff *state.Diff, principal, delegate ids.ShortID, status DelegationStatus) error {
	db := diff.Store(d.Namespace)
	key := delegationKey(principal, delegate)
	if status == DelegationNone {
		return db.Delete(key)
	}
	return db.Put(key, []byte{byte(status)})
}

func delegationKey(principal, delegate ids.ShortID) []byte {
	return state.Key(prefixDelegation, principal[:], delegate[:])
}
