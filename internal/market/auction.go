package market

import (
	"context"

	"github.com/betbot/nftmarket/internal/domain"
	"github.com/betbot/nftmarket/pkg/kvstore"
)

// OpenAuctionRequest starts an English auction.
type OpenAuctionRequest struct {
	AssetID       string            `json:"asset_id"`
	RegistryRef   string            `json:"registry_ref"`
	StartingPrice domain.Coin       `json:"starting_price"`
	Expiration    domain.Expiration `json:"expiration"`
}

type BidRequest struct {
	AssetID string `json:"asset_id"`
}

type ClaimRequest struct {
	AssetID string `json:"asset_id"`
}

// CancelAuctionRequest withdraws an auction nobody has bid on.
type CancelAuctionRequest struct {
	AssetID     string `json:"asset_id"`
	RegistryRef string `json:"registry_ref"`
}

// OpenAuction runs the same checks as List and creates the auction without a bid.
func (m *Market) OpenAuction(ctx context.Context, txn kvstore.Txn, env Env, req OpenAuctionRequest) (*domain.Response, error) {
	st, err := loadAsset(txn, req.AssetID)
	if err != nil {
		return nil, err
	}
	if !st.IsUnlisted() {
		return nil, ErrAlreadyListed
	}
	owner, err := m.authorizeOffer(ctx, env, req.RegistryRef, req.AssetID, req.StartingPrice, req.Expiration)
	if err != nil {
		return nil, err
	}

	auction := domain.Auction{
		AssetID:       req.AssetID,
		Owner:         owner,
		RegistryRef:   req.RegistryRef,
		StartingPrice: req.StartingPrice,
		Expiration:    req.Expiration,
	}
	if err := saveAuction(txn, auction); err != nil {
		return nil, err
	}
	// a stale bid record must never be inherited by a new auction
	if err := removeHighestBid(txn, req.AssetID); err != nil {
		return nil, err
	}

	return domain.NewResponse().
		AddAttribute("action", "auction").
		AddAttribute("id", req.AssetID).
		AddAttribute("expiration", req.Expiration.String()).
		AddAttribute("starting_price", req.StartingPrice.String()), nil
}

// Bid places a bid with the escrowed funds. The first bid must meet the starting
// price; later bids must strictly exceed the current highest, and the superseded
// bidder is refunded in the same response.
func (m *Market) Bid(ctx context.Context, txn kvstore.Txn, env Env, req BidRequest) (*domain.Response, error) {
	st, err := loadAsset(txn, req.AssetID)
	if err != nil {
		return nil, err
	}
	if !st.IsAuction() {
		return nil, ErrNotListed
	}
	auction := st.Auction
	if auction.Expiration.IsExpired(env.Block) {
		return nil, ErrExpired
	}

	payment, err := singlePayment(env.Funds)
	if err != nil {
		return nil, err
	}
	if err := m.validatePrice(payment); err != nil {
		return nil, err
	}

	current, err := loadHighestBid(txn, req.AssetID)
	if err != nil {
		return nil, err
	}
	resp := domain.NewResponse()
	if current == nil {
		if payment.Amount.LessThan(auction.StartingPrice.Amount) {
			return nil, ErrInvalidAmount
		}
	} else {
		if payment.Amount.LessThanOrEqual(current.Amount.Amount) {
			return nil, ErrUnsurpassedHighestBid
		}
		resp.AddEffects(domain.PayEffect(domain.PaymentMove{
			Recipient: current.Bidder,
			Amount:    current.Amount,
		}))
	}

	if err := saveHighestBid(txn, req.AssetID, domain.HighestBid{Bidder: env.Sender, Amount: payment}); err != nil {
		return nil, err
	}

	resp.AddAttribute("action", "bid").
		AddAttribute("bidder", env.Sender).
		AddAttribute("seller", auction.Owner).
		AddAttribute("asset_id", req.AssetID).
		AddAttribute("amount", payment.String())
	if current != nil {
		resp.AddAttribute("refunded", current.Bidder)
	}
	return resp, nil
}

// Claim settles an expired auction: the winning bid goes to the owner and the asset
// to the winner. Anyone may trigger it. An auction without bids cannot be claimed
// and is left in place.
func (m *Market) Claim(ctx context.Context, txn kvstore.Txn, env Env, req ClaimRequest) (*domain.Response, error) {
	st, err := loadAsset(txn, req.AssetID)
	if err != nil {
		return nil, err
	}
	if !st.IsAuction() {
		return nil, ErrNotListed
	}
	auction := st.Auction
	if !auction.Expiration.IsExpired(env.Block) {
		return nil, ErrOngoingAuction
	}
	highest, err := loadHighestBid(txn, req.AssetID)
	if err != nil {
		return nil, err
	}
	if highest == nil {
		return nil, ErrNoBids
	}

	if err := removeAsset(txn, req.AssetID); err != nil {
		return nil, err
	}
	if err := removeHighestBid(txn, req.AssetID); err != nil {
		return nil, err
	}

	return domain.NewResponse().
		AddEffects(emitSettlement(
			domain.PaymentMove{Recipient: auction.Owner, Amount: highest.Amount},
			domain.AssetTransfer{RegistryRef: auction.RegistryRef, AssetID: req.AssetID, Recipient: highest.Bidder},
		)...).
		AddAttribute("action", "claim").
		AddAttribute("buyer", highest.Bidder).
		AddAttribute("seller", auction.Owner).
		AddAttribute("asset_id", req.AssetID).
		AddAttribute("claimed_by", env.Sender), nil
}

// CancelAuction removes an auction that has no bid, expired or not. Like Delist it is
// reserved for the registry's current owner. Once a bid exists the auction can only
// end through Claim.
func (m *Market) CancelAuction(ctx context.Context, txn kvstore.Txn, env Env, req CancelAuctionRequest) (*domain.Response, error) {
	st, err := loadAsset(txn, req.AssetID)
	if err != nil {
		return nil, err
	}
	if !st.IsAuction() {
		return nil, ErrNotListed
	}
	_, ok, err := m.verifyCurrentOwner(ctx, req.RegistryRef, req.AssetID, env.Sender)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnauthorized
	}
	highest, err := loadHighestBid(txn, req.AssetID)
	if err != nil {
		return nil, err
	}
	if highest != nil {
		return nil, ErrAuctionHasBids
	}
	if err := removeAsset(txn, req.AssetID); err != nil {
		return nil, err
	}
	return domain.NewResponse().
		AddAttribute("action", "cancel_auction").
		AddAttribute("id", req.AssetID), nil
}
