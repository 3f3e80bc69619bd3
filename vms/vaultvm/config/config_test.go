// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigVerifies(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Verify())
}

func TestParse(t *testing.T) {
	require := require.New(t)

	c, err := Parse([]byte(`{
		"maxMintPerBlock": "5000",
		"stakingCooldown": 0,
		"spokeEids": [2, 3],
		"forceCooldown": true
	}`))
	require.NoError(err)
	require.Equal(uint64(5000), c.MaxMintPerBlock.Uint64())
	require.Zero(c.StakingCooldown)
	require.Equal([]uint32{2, 3}, c.SpokeEids)
	require.True(c.ForceCooldown)
	require.Equal(24*time.Hour, c.RedeemCooldown)

	// durations are integer nanoseconds
	c, err = Parse([]byte(`{"redeemCooldown": 3600000000000}`))
	require.NoError(err)
	require.Equal(time.Hour, c.RedeemCooldown)

	_, err = Parse([]byte(`{"redeemCooldown": "1h"}`))
	require.ErrorIs(err, ErrInvalidConfig)

	c, err = Parse(nil)
	require.NoError(err)
	require.Equal(DefaultConfig(), c)
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{
			name:   "missing limits",
			modify: func(c *Config) { c.MaxMintPerBlock = nil },
		},
		{
			name:   "cooldown too long",
			modify: func(c *Config) { c.StakingCooldown = MaxCooldownDuration + time.Second },
		},
		{
			name:   "zero hub",
			modify: func(c *Config) { c.HubEid = 0 },
		},
		{
			name:   "spoke equals hub",
			modify: func(c *Config) { c.SpokeEids = []uint32{c.HubEid} },
		},
		{
			name: "too many decimals",
			modify: func(c *Config) {
				c.Collateral = append(c.Collateral, Collateral{Symbol: "X", Decimals: 24})
			},
		},
		{
			name: "duplicate symbol",
			modify: func(c *Config) {
				c.Collateral = append(c.Collateral, c.Collateral[0])
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := DefaultConfig()
			test.modify(&c)
			require.ErrorIs(t, c.Verify(), ErrInvalidConfig)
		})
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte(`{`))
	require.ErrorIs(t, err, ErrInvalidConfig)
}
