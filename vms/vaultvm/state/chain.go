// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state is the single-writer execution layer of a vault network.
//
// Every public entry point of the vault components runs inside
// [Chain.Execute]: it either runs to completion and commits, or returns an
// error and leaves no trace. Components never hold state of their own
// outside the [Diff] they are handed.
package state

import (
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/database/versiondb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
)

// Chain is one network. Calls are serialized so that no two executions
// observe each other's intermediate state.
type Chain struct {
	lock  sync.Mutex
	id    ids.ID
	db    database.Database
	clock *Clock
	log   log.Logger
}

// NewChain returns a network backed by [db]. A nil clock tracks wall time
// starting at height 0.
func NewChain(chainID ids.ID, db database.Database, clock *Clock, logger log.Logger) *Chain {
	if clock == nil {
		clock = &Clock{}
	}
	return &Chain{
		id:    chainID,
		db:    db,
		clock: clock,
		log:   logger,
	}
}

func (c *Chain) ID() ids.ID {
	return c.id
}

func (c *Chain) Clock() *Clock {
	return c.clock
}

// Execute runs [fn] against a fresh diff of the chain state. The diff is
// committed if [fn] succeeds and discarded otherwise.
func (c *Chain) Execute(fn func(*Diff) error) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	vdb := versiondb.New(c.db)
	diff := newDiff(c.id, vdb, c.clock.Height(), c.clock.Unix())
	if err := fn(diff); err != nil {
		vdb.Abort()
		c.log.Debug("execution reverted",
			log.Stringer("chainID", c.id),
			log.Uint64("height", diff.height),
			log.Err(err),
		)
		return err
	}
	return vdb.Commit()
}

// View runs [fn] against a diff that is always discarded.
func (c *Chain) View(fn func(*Diff) error) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	vdb := versiondb.New(c.db)
	defer vdb.Abort()
	return fn(newDiff(c.id, vdb, c.clock.Height(), c.clock.Unix()))
}
