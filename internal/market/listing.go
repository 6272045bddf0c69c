package market

import (
	"context"

	"github.com/betbot/nftmarket/internal/domain"
	"github.com/betbot/nftmarket/pkg/kvstore"
)

// ListRequest puts an asset up for a fixed-price sale.
type ListRequest struct {
	AssetID     string            `json:"asset_id"`
	RegistryRef string            `json:"registry_ref"`
	Price       domain.Coin       `json:"price"`
	Expiration  domain.Expiration `json:"expiration"`
}

type DelistRequest struct {
	AssetID     string `json:"asset_id"`
	RegistryRef string `json:"registry_ref"`
}

type BuyRequest struct {
	AssetID string `json:"asset_id"`
}

// List creates a fixed-price listing. The owner is snapshotted from the registry.
func (m *Market) List(ctx context.Context, txn kvstore.Txn, env Env, req ListRequest) (*domain.Response, error) {
	st, err := loadAsset(txn, req.AssetID)
	if err != nil {
		return nil, err
	}
	if !st.IsUnlisted() {
		return nil, ErrAlreadyListed
	}
	owner, err := m.authorizeOffer(ctx, env, req.RegistryRef, req.AssetID, req.Price, req.Expiration)
	if err != nil {
		return nil, err
	}

	listing := domain.Listing{
		AssetID:     req.AssetID,
		Owner:       owner,
		RegistryRef: req.RegistryRef,
		Price:       req.Price,
		Expiration:  req.Expiration,
	}
	if err := saveListing(txn, listing); err != nil {
		return nil, err
	}

	return domain.NewResponse().
		AddAttribute("action", "list").
		AddAttribute("id", req.AssetID).
		AddAttribute("expiration", req.Expiration.String()).
		AddAttribute("price", req.Price.String()), nil
}

// Delist removes a fixed-price listing. Only the registry's current owner may delist,
// which is not necessarily the owner captured at listing time.
func (m *Market) Delist(ctx context.Context, txn kvstore.Txn, env Env, req DelistRequest) (*domain.Response, error) {
	st, err := loadAsset(txn, req.AssetID)
	if err != nil {
		return nil, err
	}
	if !st.IsFixedSale() {
		return nil, ErrNotListed
	}
	_, ok, err := m.verifyCurrentOwner(ctx, req.RegistryRef, req.AssetID, env.Sender)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnauthorized
	}
	if err := removeAsset(txn, req.AssetID); err != nil {
		return nil, err
	}
	return domain.NewResponse().
		AddAttribute("delisted", req.AssetID).
		AddAttribute("id", req.AssetID), nil
}

// Buy settles a listing at its exact price. Expiration is not checked here; a
// listing stays buyable until delisted.
func (m *Market) Buy(ctx context.Context, txn kvstore.Txn, env Env, req BuyRequest) (*domain.Response, error) {
	st, err := loadAsset(txn, req.AssetID)
	if err != nil {
		return nil, err
	}
	if !st.IsFixedSale() {
		return nil, ErrNotListed
	}
	listing := st.Listing

	payment, err := singlePayment(env.Funds)
	if err != nil {
		return nil, err
	}
	if !payment.Amount.Equal(listing.Price.Amount) {
		return nil, ErrInvalidAmount
	}
	if payment.Denom != m.denom || payment.Denom != listing.Price.Denom {
		return nil, ErrInvalidDenomination
	}

	if err := removeAsset(txn, req.AssetID); err != nil {
		return nil, err
	}

	return domain.NewResponse().
		AddEffects(emitSettlement(
			domain.PaymentMove{Recipient: listing.Owner, Amount: payment},
			domain.AssetTransfer{RegistryRef: listing.RegistryRef, AssetID: req.AssetID, Recipient: env.Sender},
		)...).
		AddAttribute("action", "buy").
		AddAttribute("buyer", env.Sender).
		AddAttribute("seller", listing.Owner).
		AddAttribute("asset_id", req.AssetID), nil
}
