// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vaultvm deploys the vault system across a set of networks.
//
// The hub network runs the collateral ledger, the vault, the staking vault
// and the composer. Spoke networks only run mirrors of the collateral and
// share tokens. All networks share one relayer.
package vaultvm

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/version"

	"github.com/luxfi/vault/vms/vaultvm/auth"
	"github.com/luxfi/vault/vms/vaultvm/composer"
	"github.com/luxfi/vault/vms/vaultvm/config"
	"github.com/luxfi/vault/vms/vaultvm/ledger"
	"github.com/luxfi/vault/vms/vaultvm/metrics"
	"github.com/luxfi/vault/vms/vaultvm/mirror"
	"github.com/luxfi/vault/vms/vaultvm/silo"
	"github.com/luxfi/vault/vms/vaultvm/staking"
	"github.com/luxfi/vault/vms/vaultvm/state"
	"github.com/luxfi/vault/vms/vaultvm/teleport"
	"github.com/luxfi/vault/vms/vaultvm/vault"
)

// NetworkID tags every cross-network message of a devnet.
const NetworkID uint32 = 1337

var (
	Version = &version.Semantic{
		Major: 1,
		Minor: 0,
		Patch: 0,
	}

	ErrUnknownNetwork    = errors.New("unknown network")
	ErrUnknownCollateral = errors.New("unknown collateral")

	LedgerAddress      = contract("ledger")
	VaultAddress       = contract("vault")
	VaultSiloAddress   = contract("vault.silo")
	StakingAddress     = contract("staking")
	StakingSiloAddress = contract("staking.silo")
	ComposerAddress    = contract("composer")
	EndpointAddress    = contract("endpoint")
)

// Hub is the home network of the vaults.
type Hub struct {
	Chain    *state.Chain
	Endpoint *teleport.Endpoint
	Ledger   *ledger.Ledger
	Vault    *vault.Vault
	Staking  *staking.Staking
	Composer *composer.Composer
	// Collateral maps symbols to collateral tokens.
	Collateral map[string]ids.ShortID
	// Mirrors are the escrow mirrors by the token they move.
	Mirrors map[ids.ShortID]*mirror.Mirror
}

// Spoke is a remote network.
type Spoke struct {
	Chain    *state.Chain
	Endpoint *teleport.Endpoint
	// Mirrors are the spoke mirrors by the hub token they represent.
	Mirrors map[ids.ShortID]*mirror.Mirror
}

// Network is a hub and its spokes.
type Network struct {
	config  config.Config
	admin   ids.ShortID
	metrics metrics.Metrics
	log     log.Logger

	Hub     *Hub
	Spokes  map[uint32]*Spoke
	Relayer *teleport.Relayer
}

// New deploys the networks of [cfg] and applies [genesis] to them. Every
// chain shares [clock].
func New(
	cfg config.Config,
	genesis *Genesis,
	clock *state.Clock,
	m metrics.Metrics,
	logger log.Logger,
) (*Network, error) {
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	verifier := teleport.NewVerifier()
	n := &Network{
		config:  cfg,
		admin:   genesis.Admin,
		metrics: m,
		log:     logger,
		Spokes:  make(map[uint32]*Spoke, len(cfg.SpokeEids)),
	}

	hubEndpoint, err := n.newEndpoint(cfg.HubEid, clock, verifier)
	if err != nil {
		return nil, err
	}
	n.Hub = newHub(cfg, hubEndpoint, logger)
	endpoints := []*teleport.Endpoint{hubEndpoint}
	for _, eid := range cfg.SpokeEids {
		endpoint, err := n.newEndpoint(eid, clock, verifier)
		if err != nil {
			return nil, err
		}
		endpoint.SetPeer(cfg.HubEid, hubEndpoint.Chain().ID())
		hubEndpoint.SetPeer(eid, endpoint.Chain().ID())
		n.Spokes[eid] = newSpoke(cfg, n.Hub, endpoint, logger)
		endpoints = append(endpoints, endpoint)
	}
	n.Relayer = teleport.NewRelayer(logger, m, endpoints...)

	if err := n.initializeHub(genesis); err != nil {
		return nil, fmt.Errorf("failed to initialize hub: %w", err)
	}
	for eid, spoke := range n.Spokes {
		if err := n.initializeSpoke(eid, spoke, genesis); err != nil {
			return nil, fmt.Errorf("failed to initialize spoke %d: %w", eid, err)
		}
	}

	logger.Info("vault network deployed",
		log.Stringer("version", Version),
		log.Uint32("hubEid", cfg.HubEid),
		log.Int("spokes", len(n.Spokes)),
		log.Int("collateral", len(cfg.Collateral)),
	)
	return n, nil
}

func (n *Network) newEndpoint(eid uint32, clock *state.Clock, verifier *teleport.Verifier) (*teleport.Endpoint, error) {
	signer, err := teleport.NewLocalSigner()
	if err != nil {
		return nil, fmt.Errorf("failed to create signer of %d: %w", eid, err)
	}
	chain := state.NewChain(chainID(eid), memdb.New(), clock, n.log)
	verifier.Register(chain.ID(), signer.PublicKey())
	return teleport.New(teleport.Config{
		Eid:        eid,
		Address:    EndpointAddress,
		NetworkID:  NetworkID,
		BaseFee:    n.config.BaseFee,
		FeePerByte: n.config.FeePerByte,
	}, chain, signer, verifier, n.metrics, n.log), nil
}

func newHub(cfg config.Config, endpoint *teleport.Endpoint, logger log.Logger) *Hub {
	l := ledger.New(LedgerAddress, logger)
	v := vault.New(VaultAddress, l, silo.New(VaultSiloAddress, VaultAddress, LedgerAddress), logger)
	s := staking.New(StakingAddress, v, silo.New(StakingSiloAddress, StakingAddress, VaultAddress), logger)
	hub := &Hub{
		Chain:      endpoint.Chain(),
		Endpoint:   endpoint,
		Ledger:     l,
		Vault:      v,
		Staking:    s,
		Composer:   composer.New(ComposerAddress, v, s, endpoint, logger),
		Collateral: make(map[string]ids.ShortID, len(cfg.Collateral)),
		Mirrors:    make(map[ids.ShortID]*mirror.Mirror),
	}

	tokens := []mirror.Token{mirror.Plain(VaultAddress), s}
	for _, col := range cfg.Collateral {
		token := derive("token", []byte(col.Symbol))
		hub.Collateral[col.Symbol] = token
		tokens = append(tokens, mirror.Plain(token))
	}
	for _, token := range tokens {
		m := mirror.NewHub(mirrorAddress(token.Address()), token, endpoint, logger)
		hub.Mirrors[token.Address()] = m
		hub.Composer.RegisterMirror(m)
	}
	return hub
}

func newSpoke(cfg config.Config, hub *Hub, endpoint *teleport.Endpoint, logger log.Logger) *Spoke {
	decimals := map[ids.ShortID]uint8{
		VaultAddress:   state.NormalizedDecimals,
		StakingAddress: state.NormalizedDecimals,
	}
	for _, col := range cfg.Collateral {
		decimals[hub.Collateral[col.Symbol]] = col.Decimals
	}

	spoke := &Spoke{
		Chain:    endpoint.Chain(),
		Endpoint: endpoint,
		Mirrors:  make(map[ids.ShortID]*mirror.Mirror, len(hub.Mirrors)),
	}
	for token := range hub.Mirrors {
		spoke.Mirrors[token] = mirror.NewSpoke(mirrorAddress(token), decimals[token], endpoint, logger)
	}
	return spoke
}

func (n *Network) initializeHub(genesis *Genesis) error {
	hub := n.Hub
	return hub.Chain.Execute(func(d *state.Diff) error {
		registry := auth.Registry{}
		if err := registry.Bootstrap(d, n.admin); err != nil {
			return err
		}
		if err := registry.Grant(d, n.admin, VaultAddress, auth.Minter); err != nil {
			return err
		}
		if err := hub.Ledger.Initialize(d); err != nil {
			return err
		}
		if err := hub.Vault.Initialize(d, vault.Params{
			MaxMintPerBlock:   n.config.MaxMintPerBlock,
			MaxRedeemPerBlock: n.config.MaxRedeemPerBlock,
			CooldownDuration:  n.config.RedeemCooldown,
			ForceCooldown:     n.config.ForceCooldown,
		}); err != nil {
			return err
		}
		if err := hub.Staking.Initialize(d, n.config.StakingCooldown, n.config.MinShares); err != nil {
			return err
		}
		for _, col := range n.config.Collateral {
			token := hub.Collateral[col.Symbol]
			if err := d.RegisterToken(token, col.Decimals); err != nil {
				return err
			}
			if err := hub.Ledger.AddSupportedAsset(d, n.admin, token); err != nil {
				return err
			}
			if err := hub.Composer.AllowCollateral(d, n.admin, token); err != nil {
				return err
			}
		}
		for _, m := range hub.Mirrors {
			if err := m.Initialize(d); err != nil {
				return err
			}
			for eid := range n.Spokes {
				if err := m.SetPeer(d, n.admin, eid, m.Address()); err != nil {
					return err
				}
			}
		}
		return n.allocate(d, n.config.HubEid, genesis)
	})
}

func (n *Network) initializeSpoke(eid uint32, spoke *Spoke, genesis *Genesis) error {
	return spoke.Chain.Execute(func(d *state.Diff) error {
		if err := (auth.Registry{}).Bootstrap(d, n.admin); err != nil {
			return err
		}
		for _, m := range spoke.Mirrors {
			if err := m.Initialize(d); err != nil {
				return err
			}
			if err := m.SetPeer(d, n.admin, n.config.HubEid, m.Address()); err != nil {
				return err
			}
		}
		return n.allocate(d, eid, genesis)
	})
}

// allocate credits the endpoint reserve and the genesis allocations of
// network [eid]. Collateral only exists on the hub at genesis, so spoke
// mirrors stay fully backed.
func (n *Network) allocate(d *state.Diff, eid uint32, genesis *Genesis) error {
	if genesis.EndpointReserve > 0 {
		if err := d.Mint(state.NativeToken, EndpointAddress, uint256.NewInt(genesis.EndpointReserve)); err != nil {
			return err
		}
	}
	for _, a := range genesis.Allocations {
		if a.Eid != eid {
			continue
		}
		if eid != n.config.HubEid && a.Symbol != NativeSymbol {
			return fmt.Errorf("%w: %s must be allocated on the hub", ErrInvalidGenesis, a.Symbol)
		}
		amount, err := a.amount()
		if err != nil {
			return err
		}
		token, err := n.token(eid, a.Symbol)
		if err != nil {
			return err
		}
		if err := d.Mint(token, a.Holder, amount); err != nil {
			return err
		}
	}
	return nil
}

// token resolves [symbol] to its token on network [eid]. Spokes hold
// collateral as mirror tokens.
func (n *Network) token(eid uint32, symbol string) (ids.ShortID, error) {
	if symbol == NativeSymbol {
		return state.NativeToken, nil
	}
	token, ok := n.Hub.Collateral[symbol]
	if !ok {
		return ids.ShortEmpty, fmt.Errorf("%w: %s", ErrUnknownCollateral, symbol)
	}
	if eid == n.config.HubEid {
		return token, nil
	}
	spoke, ok := n.Spokes[eid]
	if !ok {
		return ids.ShortEmpty, fmt.Errorf("%w: %d", ErrUnknownNetwork, eid)
	}
	return spoke.Mirrors[token].Token(), nil
}

// Token resolves [symbol] to its token on network [eid].
func (n *Network) Token(eid uint32, symbol string) (ids.ShortID, error) {
	return n.token(eid, symbol)
}

func (n *Network) Admin() ids.ShortID {
	return n.admin
}

func (n *Network) Config() config.Config {
	return n.config
}

// Chain returns the chain of network [eid].
func (n *Network) Chain(eid uint32) (*state.Chain, error) {
	if eid == n.config.HubEid {
		return n.Hub.Chain, nil
	}
	spoke, ok := n.Spokes[eid]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNetwork, eid)
	}
	return spoke.Chain, nil
}

// Endpoint returns the endpoint of network [eid].
func (n *Network) Endpoint(eid uint32) (*teleport.Endpoint, error) {
	if eid == n.config.HubEid {
		return n.Hub.Endpoint, nil
	}
	spoke, ok := n.Spokes[eid]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNetwork, eid)
	}
	return spoke.Endpoint, nil
}

// Mirror returns the mirror of hub token [token] on network [eid].
func (n *Network) Mirror(eid uint32, token ids.ShortID) (*mirror.Mirror, error) {
	mirrors := n.Hub.Mirrors
	if eid != n.config.HubEid {
		spoke, ok := n.Spokes[eid]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownNetwork, eid)
		}
		mirrors = spoke.Mirrors
	}
	m, ok := mirrors[token]
	if !ok {
		return nil, fmt.Errorf("%w: no mirror of %s on %d", mirror.ErrUnknownPeer, token, eid)
	}
	return m, nil
}

func contract(name string) ids.ShortID {
	var addr ids.ShortID
	copy(addr[:], name)
	return addr
}

func mirrorAddress(token ids.ShortID) ids.ShortID {
	return derive("mirror", token[:])
}

func derive(kind string, name []byte) ids.ShortID {
	hash := sha256.Sum256(state.Key(kind+":", name))
	var addr ids.ShortID
	copy(addr[:], hash[:])
	return addr
}

func chainID(eid uint32) ids.ID {
	var id ids.ID
	copy(id[:], "vault")
	binary.BigEndian.PutUint32(id[len(id)-4:], eid)
	return id
}
