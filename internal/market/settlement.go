package market

import (
	"context"
	"fmt"

	"github.com/betbot/nftmarket/internal/domain"
)

// verifyCurrentOwner asks the live registry for the owner and compares it with
// expected. Never cached: an out-of-band transfer invalidates the request here.
// The owner is returned so callers can snapshot it.
func (m *Market) verifyCurrentOwner(ctx context.Context, registryRef, assetID, expected string) (string, bool, error) {
	owner, err := m.registry.OwnerOf(ctx, registryRef, assetID)
	if err != nil {
		return "", false, fmt.Errorf("query owner of %s: %w", assetID, err)
	}
	return owner, owner == expected, nil
}

// verifyMarketplaceApproval succeeds only if owner granted the marketplace an
// approval whose expiry is exactly exp. An approval that outlives exp does not match.
func (m *Market) verifyMarketplaceApproval(ctx context.Context, registryRef, owner string, exp domain.Expiration) (bool, error) {
	approvals, err := m.registry.Approvals(ctx, registryRef, owner)
	if err != nil {
		return false, fmt.Errorf("query approvals of %s: %w", owner, err)
	}
	want := domain.Approval{Spender: m.address, Expires: exp}
	for _, a := range approvals {
		if a.Equal(want) {
			return true, nil
		}
	}
	return false, nil
}

// emitSettlement packages the payment and the transfer in that order so the host
// commits both with the state change or neither.
func emitSettlement(payment domain.PaymentMove, transfer domain.AssetTransfer) []domain.Effect {
	return []domain.Effect{
		domain.PayEffect(payment),
		domain.TransferEffect(transfer),
	}
}

// validatePrice checks amount then denomination. Amounts are whole numbers of the
// smallest unit.
func (m *Market) validatePrice(c domain.Coin) error {
	if !c.Valid() {
		return ErrInvalidAmount
	}
	if c.Denom != m.denom {
		return ErrInvalidDenomination
	}
	return nil
}

// singlePayment extracts the one coin a buy or bid must carry.
func singlePayment(funds []domain.Coin) (domain.Coin, error) {
	if len(funds) != 1 {
		return domain.Coin{}, ErrInvalidAmount
	}
	return funds[0], nil
}

// authorizeOffer runs the checks shared by List and OpenAuction, in order:
// owner match, price, denomination, expiration, marketplace approval.
func (m *Market) authorizeOffer(ctx context.Context, env Env, registryRef, assetID string, price domain.Coin, exp domain.Expiration) (string, error) {
	owner, ok, err := m.verifyCurrentOwner(ctx, registryRef, assetID, env.Sender)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrUnauthorized
	}
	if err := m.validatePrice(price); err != nil {
		return "", err
	}
	if exp.IsExpired(env.Block) {
		return "", ErrExpired
	}
	approved, err := m.verifyMarketplaceApproval(ctx, registryRef, owner, exp)
	if err != nil {
		return "", err
	}
	if !approved {
		return "", ErrUnapproved
	}
	return owner, nil
}
