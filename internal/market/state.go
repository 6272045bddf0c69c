package market

import (
	"encoding/json"
	"fmt"

	"github.com/betbot/nftmarket/internal/domain"
	"github.com/betbot/nftmarket/pkg/kvstore"
)

const (
	assetPrefix = "asset/"
	bidPrefix   = "bid/"
)

func assetKey(assetID string) string { return assetPrefix + assetID }

func bidKey(assetID string) string { return bidPrefix + assetID }

// ValidateAssetID rejects ids that are empty, padded with whitespace or carry control
// characters. Asset ids are used verbatim as store keys and registry ids.
func ValidateAssetID(assetID string) error {
	if err := kvstore.ValidKey(assetKey(assetID)); err != nil || assetID == "" {
		return fmt.Errorf("%w: %q", ErrInvalidAssetID, assetID)
	}
	return nil
}

// loadAsset returns the asset's state; a missing record is Unlisted.
func loadAsset(txn kvstore.Txn, assetID string) (domain.AssetState, error) {
	if err := ValidateAssetID(assetID); err != nil {
		return domain.AssetState{}, err
	}
	raw, ok, err := txn.Get(assetKey(assetID))
	if err != nil {
		return domain.AssetState{}, fmt.Errorf("load asset %s: %w", assetID, err)
	}
	if !ok {
		return domain.AssetState{Kind: domain.AssetUnlisted}, nil
	}
	var st domain.AssetState
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.AssetState{}, fmt.Errorf("decode asset %s: %w", assetID, err)
	}
	return st, nil
}

func saveListing(txn kvstore.Txn, l domain.Listing) error {
	return saveAsset(txn, l.AssetID, domain.AssetState{Kind: domain.AssetFixedSale, Listing: &l})
}

func saveAuction(txn kvstore.Txn, a domain.Auction) error {
	return saveAsset(txn, a.AssetID, domain.AssetState{Kind: domain.AssetAuction, Auction: &a})
}

func saveAsset(txn kvstore.Txn, assetID string, st domain.AssetState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode asset %s: %w", assetID, err)
	}
	if err := txn.Set(assetKey(assetID), raw); err != nil {
		return fmt.Errorf("save asset %s: %w", assetID, err)
	}
	return nil
}

func removeAsset(txn kvstore.Txn, assetID string) error {
	if err := txn.Delete(assetKey(assetID)); err != nil {
		return fmt.Errorf("remove asset %s: %w", assetID, err)
	}
	return nil
}

// loadHighestBid returns (nil, nil) when no bid has been placed.
func loadHighestBid(txn kvstore.Txn, assetID string) (*domain.HighestBid, error) {
	raw, ok, err := txn.Get(bidKey(assetID))
	if err != nil {
		return nil, fmt.Errorf("load highest bid %s: %w", assetID, err)
	}
	if !ok {
		return nil, nil
	}
	var b domain.HighestBid
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode highest bid %s: %w", assetID, err)
	}
	return &b, nil
}

func saveHighestBid(txn kvstore.Txn, assetID string, b domain.HighestBid) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode highest bid %s: %w", assetID, err)
	}
	if err := txn.Set(bidKey(assetID), raw); err != nil {
		return fmt.Errorf("save highest bid %s: %w", assetID, err)
	}
	return nil
}

func removeHighestBid(txn kvstore.Txn, assetID string) error {
	if err := txn.Delete(bidKey(assetID)); err != nil {
		return fmt.Errorf("remove highest bid %s: %w", assetID, err)
	}
	return nil
}
