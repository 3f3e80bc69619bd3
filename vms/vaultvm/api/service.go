// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api provides the JSON-RPC read API of a vault network.
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/holiman/uint256"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/utils/json"

	"github.com/luxfi/vault/vms/vaultvm"
	"github.com/luxfi/vault/vms/vaultvm/ledger"
	"github.com/luxfi/vault/vms/vaultvm/state"
)

var ErrInvalidRequest = errors.New("invalid request")

// Service is the read API of a deployed vault network. Every call observes
// one consistent view of the chain it reads.
type Service struct {
	network *vaultvm.Network
	log     log.Logger
}

// NewService creates a new API service.
func NewService(network *vaultvm.Network, logger log.Logger) *Service {
	return &Service{
		network: network,
		log:     logger,
	}
}

// view runs [fn] against the hub.
func (s *Service) view(fn func(*state.Diff) error) error {
	return s.network.Hub.Chain.View(fn)
}

// AssetReply describes one collateral asset.
type AssetReply struct {
	Address   ids.ShortID `json:"address"`
	Decimals  uint8       `json:"decimals"`
	Supported bool        `json:"supported"`
	Tracked   string      `json:"tracked"`
	External  string      `json:"external"`
}

func newAssetReply(a *ledger.Asset) AssetReply {
	return AssetReply{
		Address:   a.Address,
		Decimals:  a.Decimals,
		Supported: a.Supported,
		Tracked:   amount(a.Tracked),
		External:  amount(a.External),
	}
}

// GetLedgerReply is the reply for the GetLedger API.
type GetLedgerReply struct {
	Address     ids.ShortID  `json:"address"`
	TotalSupply string       `json:"totalSupply"`
	Unbacked    string       `json:"unbacked"`
	Assets      []AssetReply `json:"assets"`
}

// GetLedger returns the supply and the collateral of the ledger.
func (s *Service) GetLedger(_ *http.Request, _ *struct{}, reply *GetLedgerReply) error {
	s.log.Debug("API called", log.String("method", "getLedger"))

	l := s.network.Hub.Ledger
	return s.view(func(d *state.Diff) error {
		supply, err := d.TotalSupply(l.Address())
		if err != nil {
			return err
		}
		unbacked, err := l.Unbacked(d)
		if err != nil {
			return err
		}
		assets, err := l.Assets(d)
		if err != nil {
			return err
		}

		reply.Address = l.Address()
		reply.TotalSupply = supply.Dec()
		reply.Unbacked = unbacked.Dec()
		reply.Assets = make([]AssetReply, 0, len(assets))
		for _, a := range assets {
			reply.Assets = append(reply.Assets, newAssetReply(a))
		}
		return nil
	})
}

// GetAssetArgs is the argument for the GetAsset API.
type GetAssetArgs struct {
	Symbol string `json:"symbol"`
}

// GetAsset returns one collateral asset by symbol.
func (s *Service) GetAsset(_ *http.Request, args *GetAssetArgs, reply *AssetReply) error {
	s.log.Debug("API called",
		log.String("method", "getAsset"),
		log.String("symbol", args.Symbol),
	)

	token, ok := s.network.Hub.Collateral[args.Symbol]
	if !ok {
		return fmt.Errorf("%w: unknown symbol %q", ErrInvalidRequest, args.Symbol)
	}
	return s.view(func(d *state.Diff) error {
		asset, err := s.network.Hub.Ledger.Asset(d, token)
		if err != nil {
			return err
		}
		*reply = newAssetReply(asset)
		return nil
	})
}

// GetVaultReply is the reply for the GetVault API.
type GetVaultReply struct {
	Address           ids.ShortID `json:"address"`
	TotalShares       string      `json:"totalShares"`
	LedgerBalance     string      `json:"ledgerBalance"`
	Escrowed          string      `json:"escrowed"`
	MaxMintPerBlock   string      `json:"maxMintPerBlock"`
	MaxRedeemPerBlock string      `json:"maxRedeemPerBlock"`
	MintedThisBlock   string      `json:"mintedThisBlock"`
	RedeemedThisBlock string      `json:"redeemedThisBlock"`
	CooldownDuration  string      `json:"cooldownDuration"`
	ForceCooldown     bool        `json:"forceCooldown"`
	MintDisabled      bool        `json:"mintDisabled"`
	RedeemDisabled    bool        `json:"redeemDisabled"`
}

// GetVault returns the vault settings and totals.
func (s *Service) GetVault(_ *http.Request, _ *struct{}, reply *GetVaultReply) error {
	s.log.Debug("API called", log.String("method", "getVault"))

	return s.view(func(d *state.Diff) error {
		info, err := s.network.Hub.Vault.Info(d)
		if err != nil {
			return err
		}
		*reply = GetVaultReply{
			Address:           info.Address,
			TotalShares:       info.TotalShares.Dec(),
			LedgerBalance:     info.LedgerBalance.Dec(),
			Escrowed:          info.Escrowed.Dec(),
			MaxMintPerBlock:   info.MaxMintPerBlock.Dec(),
			MaxRedeemPerBlock: info.MaxRedeemPerBlock.Dec(),
			MintedThisBlock:   info.MintedThisBlock.Dec(),
			RedeemedThisBlock: info.RedeemedThisBlock.Dec(),
			CooldownDuration:  info.CooldownDuration.String(),
			ForceCooldown:     info.ForceCooldown,
			MintDisabled:      info.MintDisabled,
			RedeemDisabled:    info.RedeemDisabled,
		}
		return nil
	})
}

// OwnerArgs names the owner of a pending exit.
type OwnerArgs struct {
	Owner ids.ShortID `json:"owner"`
}

// GetRedemptionRequestReply is the reply for the GetRedemptionRequest API.
type GetRedemptionRequestReply struct {
	Found       bool        `json:"found"`
	Asset       ids.ShortID `json:"asset"`
	Amount      string      `json:"amount"`
	CooldownEnd json.Uint64 `json:"cooldownEnd"`
}

// GetRedemptionRequest returns the queued vault redemption of an owner.
func (s *Service) GetRedemptionRequest(_ *http.Request, args *OwnerArgs, reply *GetRedemptionRequestReply) error {
	s.log.Debug("API called",
		log.String("method", "getRedemptionRequest"),
		log.Stringer("owner", args.Owner),
	)

	return s.view(func(d *state.Diff) error {
		request, found, err := s.network.Hub.Vault.RedemptionRequest(d, args.Owner)
		if err != nil || !found {
			reply.Amount = "0"
			return err
		}
		reply.Found = true
		reply.Asset = request.Asset
		reply.Amount = request.Amount.Dec()
		reply.CooldownEnd = json.Uint64(request.CooldownEnd)
		return nil
	})
}

// GetStakingReply is the reply for the GetStaking API.
type GetStakingReply struct {
	Address          ids.ShortID `json:"address"`
	Asset            ids.ShortID `json:"asset"`
	TotalSupply      string      `json:"totalSupply"`
	TotalAssets      string      `json:"totalAssets"`
	Unvested         string      `json:"unvested"`
	VestingAmount    string      `json:"vestingAmount"`
	LastDistribution json.Uint64 `json:"lastDistribution"`
	Escrowed         string      `json:"escrowed"`
	CooldownDuration string      `json:"cooldownDuration"`
	Paused           bool        `json:"paused"`
}

// GetStaking returns the staking vault totals and vesting state.
func (s *Service) GetStaking(_ *http.Request, _ *struct{}, reply *GetStakingReply) error {
	s.log.Debug("API called", log.String("method", "getStaking"))

	return s.view(func(d *state.Diff) error {
		info, err := s.network.Hub.Staking.Info(d)
		if err != nil {
			return err
		}
		*reply = GetStakingReply{
			Address:          info.Address,
			Asset:            info.Asset,
			TotalSupply:      info.TotalSupply.Dec(),
			TotalAssets:      info.TotalAssets.Dec(),
			Unvested:         info.Unvested.Dec(),
			VestingAmount:    info.VestingAmount.Dec(),
			LastDistribution: json.Uint64(info.LastDistribution),
			Escrowed:         info.Escrowed.Dec(),
			CooldownDuration: info.CooldownDuration.String(),
			Paused:           info.Paused,
		}
		return nil
	})
}

// GetCooldownReply is the reply for the GetCooldown API.
type GetCooldownReply struct {
	Found  bool        `json:"found"`
	End    json.Uint64 `json:"end"`
	Amount string      `json:"amount"`
}

// GetCooldown returns the staking exit an owner has in progress.
func (s *Service) GetCooldown(_ *http.Request, args *OwnerArgs, reply *GetCooldownReply) error {
	s.log.Debug("API called",
		log.String("method", "getCooldown"),
		log.Stringer("owner", args.Owner),
	)

	return s.view(func(d *state.Diff) error {
		cooldown, found, err := s.network.Hub.Staking.Cooldown(d, args.Owner)
		if err != nil || !found {
			reply.Amount = "0"
			return err
		}
		reply.Found = true
		reply.End = json.Uint64(cooldown.End)
		reply.Amount = cooldown.Amount.Dec()
		return nil
	})
}

// GetBalanceArgs is the argument for the GetBalance API.
type GetBalanceArgs struct {
	// Eid is the network to read. Zero reads the hub.
	Eid uint32 `json:"eid"`
	// Symbol is a collateral symbol, "native", "vault" or "staking".
	Symbol string      `json:"symbol"`
	Holder ids.ShortID `json:"holder"`
}

// GetBalanceReply is the reply for the GetBalance API.
type GetBalanceReply struct {
	Token   ids.ShortID `json:"token"`
	Balance string      `json:"balance"`
}

// GetBalance returns the balance a holder has of a token on any network.
func (s *Service) GetBalance(_ *http.Request, args *GetBalanceArgs, reply *GetBalanceReply) error {
	s.log.Debug("API called",
		log.String("method", "getBalance"),
		log.Uint32("eid", args.Eid),
		log.String("symbol", args.Symbol),
	)

	eid := s.eid(args.Eid)
	token, err := s.token(eid, args.Symbol)
	if err != nil {
		return err
	}
	chain, err := s.network.Chain(eid)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return chain.View(func(d *state.Diff) error {
		balance, err := d.BalanceOf(token, args.Holder)
		if err != nil {
			return err
		}
		reply.Token = token
		reply.Balance = balance.Dec()
		return nil
	})
}

// token resolves [symbol] on network [eid]. Share tokens live at the vault
// addresses on the hub and at their mirrors on spokes.
func (s *Service) token(eid uint32, symbol string) (ids.ShortID, error) {
	var hubToken ids.ShortID
	switch symbol {
	case "vault":
		hubToken = vaultvm.VaultAddress
	case "staking":
		hubToken = vaultvm.StakingAddress
	default:
		token, err := s.network.Token(eid, symbol)
		if err != nil {
			return ids.ShortEmpty, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return token, nil
	}
	m, err := s.network.Mirror(eid, hubToken)
	if err != nil {
		return ids.ShortEmpty, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if eid == s.network.Config().HubEid {
		return hubToken, nil
	}
	return m.Token(), nil
}

func (s *Service) eid(eid uint32) uint32 {
	if eid == 0 {
		return s.network.Config().HubEid
	}
	return eid
}

// EidArgs names a network. Zero names the hub.
type EidArgs struct {
	Eid uint32 `json:"eid"`
}

// FailedComposeReply describes one compose that can be retried.
type FailedComposeReply struct {
	GUID   ids.ID      `json:"guid"`
	Index  uint16      `json:"index"`
	From   ids.ShortID `json:"from"`
	To     ids.ShortID `json:"to"`
	Value  json.Uint64 `json:"value"`
	Reason string      `json:"reason"`
}

// GetFailedComposesReply is the reply for the GetFailedComposes API.
type GetFailedComposesReply struct {
	Composes []FailedComposeReply `json:"composes"`
}

// GetFailedComposes lists the composes of a network awaiting a retry.
func (s *Service) GetFailedComposes(_ *http.Request, args *EidArgs, reply *GetFailedComposesReply) error {
	s.log.Debug("API called",
		log.String("method", "getFailedComposes"),
		log.Uint32("eid", args.Eid),
	)

	eid := s.eid(args.Eid)
	endpoint, err := s.network.Endpoint(eid)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return endpoint.Chain().View(func(d *state.Diff) error {
		failed, err := endpoint.FailedComposes(d)
		if err != nil {
			return err
		}
		reply.Composes = make([]FailedComposeReply, 0, len(failed))
		for _, f := range failed {
			reply.Composes = append(reply.Composes, FailedComposeReply{
				GUID:   f.GUID,
				Index:  f.Index,
				From:   f.From,
				To:     f.To,
				Value:  json.Uint64(f.Value),
				Reason: f.Reason,
			})
		}
		return nil
	})
}

// amount is the decimal form of an optional amount.
func amount(a *uint256.Int) string {
	if a == nil {
		return "0"
	}
	return a.Dec()
}
