package market

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/betbot/nftmarket/internal/domain"
	"github.com/betbot/nftmarket/pkg/kvstore"
)

// MaxPageSize caps Listings page size.
const MaxPageSize = 100

// Listing returns the fixed-price listing for assetID.
func (m *Market) Listing(txn kvstore.Txn, assetID string) (domain.Listing, error) {
	st, err := loadAsset(txn, assetID)
	if err != nil {
		return domain.Listing{}, err
	}
	if !st.IsFixedSale() {
		return domain.Listing{}, ErrNotListed
	}
	return *st.Listing, nil
}

// AuctionListing returns the auction for assetID.
func (m *Market) AuctionListing(txn kvstore.Txn, assetID string) (domain.Auction, error) {
	st, err := loadAsset(txn, assetID)
	if err != nil {
		return domain.Auction{}, err
	}
	if !st.IsAuction() {
		return domain.Auction{}, ErrNotListed
	}
	return *st.Auction, nil
}

// HighestBidder returns the current highest bid on an auctioned asset.
func (m *Market) HighestBidder(txn kvstore.Txn, assetID string) (domain.HighestBid, error) {
	st, err := loadAsset(txn, assetID)
	if err != nil {
		return domain.HighestBid{}, err
	}
	if !st.IsAuction() {
		return domain.HighestBid{}, ErrNotListed
	}
	b, err := loadHighestBid(txn, assetID)
	if err != nil {
		return domain.HighestBid{}, err
	}
	if b == nil {
		return domain.HighestBid{}, ErrNoBids
	}
	return *b, nil
}

// Page is one page of asset states ordered by asset id.
type Page struct {
	Assets        []domain.AssetState `json:"assets"`
	NextPageToken string              `json:"next_page_token,omitempty"`
}

// Listings pages through assets of the given kind. The page token is the last asset
// id of the previous page.
func (m *Market) Listings(txn kvstore.Txn, kind domain.AssetKind, pageSize int, pageToken string) (Page, error) {
	if pageSize <= 0 {
		return Page{}, fmt.Errorf("page size must be greater than zero")
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	startAfter := ""
	if t := strings.TrimSpace(pageToken); t != "" {
		startAfter = assetKey(t)
	}

	page := Page{Assets: make([]domain.AssetState, 0, pageSize)}
	err := txn.Iterate(assetPrefix, startAfter, func(key string, val []byte) (bool, error) {
		var st domain.AssetState
		if err := json.Unmarshal(val, &st); err != nil {
			return false, fmt.Errorf("decode %s: %w", key, err)
		}
		if st.Kind != kind {
			return true, nil
		}
		page.Assets = append(page.Assets, st)
		return len(page.Assets) <= pageSize, nil
	})
	if err != nil {
		return Page{}, fmt.Errorf("list assets: %w", err)
	}
	if len(page.Assets) > pageSize {
		page.Assets = page.Assets[:pageSize]
		page.NextPageToken = assetIDOf(page.Assets[pageSize-1])
	}
	return page, nil
}

func assetIDOf(st domain.AssetState) string {
	switch {
	case st.Listing != nil:
		return st.Listing.AssetID
	case st.Auction != nil:
		return st.Auction.AssetID
	default:
		return ""
	}
}
