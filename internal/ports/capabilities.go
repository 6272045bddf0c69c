package ports

import (
	"context"

	"github.com/betbot/nftmarket/internal/domain"
)

// Small capability interfaces for the collaborators the marketplace core talks to.
// The core only queries; transfers and payment moves are executed by the host after
// the core has emitted them.

// OwnerQuerier returns the registry's current owner of an asset.
type OwnerQuerier interface {
	OwnerOf(ctx context.Context, registryRef, assetID string) (string, error)
}

// ApprovalQuerier lists the operator approvals an owner has granted on a registry.
type ApprovalQuerier interface {
	Approvals(ctx context.Context, registryRef, owner string) ([]domain.Approval, error)
}

// AssetTransferer moves an asset on the registry. The registry enforces its own
// authorization at execution time.
type AssetTransferer interface {
	TransferAsset(ctx context.Context, registryRef, assetID, recipient string) error
}

// Registry is the full asset-registry capability set.
type Registry interface {
	OwnerQuerier
	ApprovalQuerier
	AssetTransferer
}

// Ledger moves native currency between accounts of the host ledger.
type Ledger interface {
	MovePayment(ctx context.Context, from, to string, amount domain.Coin) error
}

// Clock reports the current block used for expiration checks.
type Clock interface {
	Block(ctx context.Context) (domain.BlockInfo, error)
}
