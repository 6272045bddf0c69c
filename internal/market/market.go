// Package market is the settlement core: fixed-price listings, English auctions and
// the shared settlement checks, all working against one kvstore transaction per
// request.
//
// The core never executes payments or transfers. Operations return a
// domain.Response whose effects the host executes as a unit with the state commit.
// Requests are assumed to be serialised by the host (see internal/execution).
package market

import (
	"errors"
	"strings"

	"github.com/betbot/nftmarket/internal/domain"
	"github.com/betbot/nftmarket/internal/ports"
)

// RegistryReader is the query side of the asset registry.
type RegistryReader interface {
	ports.OwnerQuerier
	ports.ApprovalQuerier
}

// Config is injected at start-up.
type Config struct {
	// Address is the marketplace's own account: the spender it expects in registry
	// approvals and the escrow account holding bid and purchase funds.
	Address string
	// Denom is the single accepted currency denomination.
	Denom string
}

// Env describes the caller and the block a request executes in.
type Env struct {
	Sender string
	Block  domain.BlockInfo
	// Funds attached to the request, already escrowed by the host.
	Funds []domain.Coin
}

type Market struct {
	registry RegistryReader
	address  string
	denom    string
}

func New(cfg Config, registry RegistryReader) (*Market, error) {
	cfg.Address = strings.TrimSpace(cfg.Address)
	cfg.Denom = strings.TrimSpace(cfg.Denom)
	if cfg.Address == "" {
		return nil, errors.New("market: address is required")
	}
	if cfg.Denom == "" {
		return nil, errors.New("market: denom is required")
	}
	if registry == nil {
		return nil, errors.New("market: registry is required")
	}
	return &Market{registry: registry, address: cfg.Address, denom: cfg.Denom}, nil
}

func (m *Market) Address() string { return m.address }

func (m *Market) Denom() string { return m.denom }
