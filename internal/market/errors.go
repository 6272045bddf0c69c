package market

import "errors"

// Rejections. Every check runs before any write, so a request failing with one of
// these leaves the store untouched.
var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrAlreadyListed         = errors.New("already listed")
	ErrNotListed             = errors.New("not listed")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidDenomination   = errors.New("invalid denomination")
	ErrExpired               = errors.New("expired")
	ErrOngoingAuction        = errors.New("ongoing auction")
	ErrUnapproved            = errors.New("unapproved")
	ErrUnsurpassedHighestBid = errors.New("unsurpassed highest bid")
	ErrNoBids                = errors.New("no bids")
	ErrInvalidAssetID        = errors.New("invalid asset id")
	ErrAuctionHasBids        = errors.New("auction has bids")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, "unauthorized"},
	{ErrAlreadyListed, "already_listed"},
	{ErrNotListed, "not_listed"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidDenomination, "invalid_denomination"},
	{ErrExpired, "expired"},
	{ErrOngoingAuction, "ongoing_auction"},
	{ErrUnapproved, "unapproved"},
	{ErrUnsurpassedHighestBid, "unsurpassed_highest_bid"},
	{ErrNoBids, "no_bids"},
	{ErrInvalidAssetID, "invalid_asset_id"},
	{ErrAuctionHasBids, "auction_has_bids"},
}

// Code returns the stable error code for a marketplace rejection, or "" when err is
// a passthrough failure (store, registry, encoding).
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

// IsRejection reports whether err is one of the marketplace rejections above.
func IsRejection(err error) bool {
	return Code(err) != ""
}
