// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package run

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
)

const (
	ConfigKey         = "config"
	GenesisKey        = "genesis"
	HTTPAddrKey       = "http-addr"
	AllowedOriginsKey = "http-allowed-origins"
	RelayIntervalKey  = "relay-interval"
	BlockIntervalKey  = "block-interval"
)

var (
	errMissingGenesis       = errors.New("--genesis is required")
	errInvalidBlockInterval = errors.New("--block-interval must be positive")
)

func AddFlags(flags *pflag.FlagSet) {
	flags.String(ConfigKey, "", "Path to the JSON network config (defaults apply when empty)")
	flags.String(GenesisKey, "", "Path to the JSON genesis (required)")
	flags.String(HTTPAddrKey, "127.0.0.1:9650", "Address to serve the API and metrics on")
	flags.StringSlice(AllowedOriginsKey, []string{"*"}, "Origins allowed to make cross-origin API calls")
	flags.Duration(RelayIntervalKey, time.Second, "Interval between relayer passes")
	flags.Duration(BlockIntervalKey, 2*time.Second, "Interval between blocks, which resets the per-block mint and redeem limits")
}

type Config struct {
	ConfigPath     string
	GenesisPath    string
	HTTPAddr       string
	AllowedOrigins []string
	RelayInterval  time.Duration
	BlockInterval  time.Duration
}

func ParseFlags(flags *pflag.FlagSet, args []string) (*Config, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	configPath, err := flags.GetString(ConfigKey)
	if err != nil {
		return nil, err
	}

	genesisPath, err := flags.GetString(GenesisKey)
	if err != nil {
		return nil, err
	}
	if genesisPath == "" {
		return nil, errMissingGenesis
	}

	httpAddr, err := flags.GetString(HTTPAddrKey)
	if err != nil {
		return nil, err
	}

	allowedOrigins, err := flags.GetStringSlice(AllowedOriginsKey)
	if err != nil {
		return nil, err
	}

	relayInterval, err := flags.GetDuration(RelayIntervalKey)
	if err != nil {
		return nil, err
	}

	blockInterval, err := flags.GetDuration(BlockIntervalKey)
	if err != nil {
		return nil, err
	}
	if blockInterval <= 0 {
		return nil, errInvalidBlockInterval
	}

	return &Config{
		ConfigPath:     configPath,
		GenesisPath:    genesisPath,
		HTTPAddr:       httpAddr,
		AllowedOrigins: allowedOrigins,
		RelayInterval:  relayInterval,
		BlockInterval:  blockInterval,
	}, nil
}
