// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"errors"

	"github.com/luxfi/metric"
)

var _ Metrics = (*metricsImpl)(nil)

//go:generate go run go.uber.org/mock/mockgen -package=${GOPACKAGE}mock -destination=${GOPACKAGE}mock/metrics.go -mock_names=Metrics=Metrics . Metrics

// Metrics counts committed vault operations. Nothing is recorded for an
// execution that reverted.
type Metrics interface {
	APIInterceptor

	MarkMinted()
	// MarkRedeemed records a vault redemption. [queued] is set when the
	// redemption went through the cooldown path.
	MarkRedeemed(queued bool)
	MarkUnbackedMinted()
	MarkStaked()
	MarkUnstaked()
	MarkRewardsDistributed()

	// MarkPacketsRelayed adds [n] delivered cross-network packets.
	MarkPacketsRelayed(n int)
	MarkComposeFailed()
}

type metricsImpl struct {
	minted, unbackedMinted         metric.Counter
	redeemed                       metric.CounterVec
	staked, unstaked, rewards      metric.Counter
	packetsRelayed, composesFailed metric.Counter

	APIInterceptor
}

func (m *metricsImpl) MarkMinted() {
	m.minted.Inc()
}

func (m *metricsImpl) MarkRedeemed(queued bool) {
	path := "instant"
	if queued {
		path = "cooldown"
	}
	m.redeemed.WithLabelValues(path).Inc()
}

func (m *metricsImpl) MarkUnbackedMinted() {
	m.unbackedMinted.Inc()
}

func (m *metricsImpl) MarkStaked() {
	m.staked.Inc()
}

func (m *metricsImpl) MarkUnstaked() {
	m.unstaked.Inc()
}

func (m *metricsImpl) MarkRewardsDistributed() {
	m.rewards.Inc()
}

func (m *metricsImpl) MarkPacketsRelayed(n int) {
	m.packetsRelayed.Add(float64(n))
}

func (m *metricsImpl) MarkComposeFailed() {
	m.composesFailed.Inc()
}

// New registers the vault metrics with [registerer], which must be a
// [metric.Registry].
func New(registerer metric.Registerer) (Metrics, error) {
	registry, ok := registerer.(metric.Registry)
	if !ok {
		return nil, errors.New("registerer must implement metric.Registry")
	}

	m := &metricsImpl{
		minted: metric.NewCounter(metric.CounterOpts{
			Name: "vault_mints",
			Help: "Number of collateral deposits that minted vault shares",
		}),
		redeemed: metric.NewCounterVec(metric.CounterOpts{
			Name: "vault_redeems",
			Help: "Number of vault redemptions by path",
		}, []string{"path"}),
		unbackedMinted: metric.NewCounter(metric.CounterOpts{
			Name: "ledger_unbacked_mints",
			Help: "Number of ledger mints without collateral",
		}),
		staked: metric.NewCounter(metric.CounterOpts{
			Name: "staking_deposits",
			Help: "Number of staking vault deposits",
		}),
		unstaked: metric.NewCounter(metric.CounterOpts{
			Name: "staking_unstakes",
			Help: "Number of completed staking cooldowns",
		}),
		rewards: metric.NewCounter(metric.CounterOpts{
			Name: "staking_reward_distributions",
			Help: "Number of reward distributions into the staking vault",
		}),
		packetsRelayed: metric.NewCounter(metric.CounterOpts{
			Name: "teleport_packets_relayed",
			Help: "Number of cross-network packets delivered",
		}),
		composesFailed: metric.NewCounter(metric.CounterOpts{
			Name: "teleport_composes_failed",
			Help: "Number of composed calls that reverted",
		}),
	}

	errs := metric.Errs{}
	errs.Add(
		registry.Register(m.minted),
		registry.Register(m.redeemed),
		registry.Register(m.unbackedMinted),
		registry.Register(m.staked),
		registry.Register(m.unstaked),
		registry.Register(m.rewards),
		registry.Register(m.packetsRelayed),
		registry.Register(m.composesFailed),
	)
	if errs.Errored() {
		// the interceptor registers with MustRegister
		return nil, errs.Err
	}

	apiInterceptor, err := NewAPIInterceptor(registry)
	m.APIInterceptor = apiInterceptor
	return m, err
}

type noop struct {
	APIInterceptor
}

// NewNoOp returns metrics that record nothing.
func NewNoOp() Metrics {
	return noop{APIInterceptor: noOpInterceptor{}}
}

func (noop) MarkMinted()             {}
func (noop) MarkRedeemed(bool)       {}
func (noop) MarkUnbackedMinted()     {}
func (noop) MarkStaked()             {}
func (noop) MarkUnstaked()           {}
func (noop) MarkRewardsDistributed() {}
func (noop) MarkPacketsRelayed(int)  {}
func (noop) MarkComposeFailed()      {}
