package errors

import "errors"

var (
	ErrInvalidMetadata     = errors.New("asset metadata reference is required")
	ErrInvalidAccount      = errors.New("account identifier is required")
	ErrUnknownAsset        = errors.New("asset does not exist")
	ErrNotOwner            = errors.New("caller is not the current owner of the asset")
	ErrInvalidPrice        = errors.New("listing price must be a positive amount")
	ErrDuplicateListing    = errors.New("asset already has an active listing")
	ErrNotSeller           = errors.New("caller is not the seller of the listing")
	ErrNotActive           = errors.New("listing is not active")
	ErrUnknownListing      = errors.New("listing does not exist")
	ErrInsufficientPayment = errors.New("tendered amount is below the listing price")
	ErrSelfPurchase        = errors.New("seller cannot buy their own listing")

	ErrSettlementInProgress = errors.New("a settlement for this listing is already in flight")
	ErrUnknownAccount       = errors.New("account has no funds ledger entry")

	ErrIdempotencyConflict      = errors.New("idempotency key already used with a different payload")
	ErrRepositoryInvariantBroke = errors.New("repository invariant violated")
)
