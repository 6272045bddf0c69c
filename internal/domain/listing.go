package domain

// Listing 一口价挂单。Owner 是挂单时从 registry 查询到的快照，成交时不再校验。
type Listing struct {
	AssetID     string     `json:"asset_id"`
	Owner       string     `json:"owner"`
	RegistryRef string     `json:"registry_ref"`
	Price       Coin       `json:"price"`
	Expiration  Expiration `json:"expiration"`
}

// Auction 英式拍卖
type Auction struct {
	AssetID       string     `json:"asset_id"`
	Owner         string     `json:"owner"`
	RegistryRef   string     `json:"registry_ref"`
	StartingPrice Coin       `json:"starting_price"`
	Expiration    Expiration `json:"expiration"`
}

// HighestBid 当前最高出价，与 Auction 一一对应但生命周期独立
type HighestBid struct {
	Bidder string `json:"bidder"`
	Amount Coin   `json:"amount"`
}

// AssetKind tags which lifecycle an asset id is currently in.
type AssetKind string

const (
	AssetUnlisted  AssetKind = "unlisted"
	AssetFixedSale AssetKind = "fixed_sale"
	AssetAuction   AssetKind = "auction"
)

// AssetState is the single per-asset record. Exactly one of Listing / Auction is
// set, matching Kind. A missing record is Unlisted.
type AssetState struct {
	Kind    AssetKind `json:"kind"`
	Listing *Listing  `json:"listing,omitempty"`
	Auction *Auction  `json:"auction,omitempty"`
}

func (s AssetState) IsFixedSale() bool { return s.Kind == AssetFixedSale && s.Listing != nil }

func (s AssetState) IsAuction() bool { return s.Kind == AssetAuction && s.Auction != nil }

// IsUnlisted 没有任何挂单/拍卖
func (s AssetState) IsUnlisted() bool { return !s.IsFixedSale() && !s.IsAuction() }
