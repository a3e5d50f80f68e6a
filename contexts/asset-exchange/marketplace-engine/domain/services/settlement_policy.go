package services

import (
	"metamarket/contexts/asset-exchange/marketplace-engine/domain/entities"
	domainerrors "metamarket/contexts/asset-exchange/marketplace-engine/domain/errors"
)

// FeeBasisPointsMax is the whole of the price: 10000 basis points == 100%.
const FeeBasisPointsMax = 10000

// SplitPrice divides a sale price into marketplace fee and seller proceeds
// using truncating integer arithmetic. fee + proceeds == price holds for
// every price >= 0 and every feeBasisPoints in [0, 10000].
func SplitPrice(price int64, feeBasisPoints int64) (fee int64, proceeds int64) {
	if feeBasisPoints < 0 {
		feeBasisPoints = 0
	}
	if feeBasisPoints > FeeBasisPointsMax {
		feeBasisPoints = FeeBasisPointsMax
	}
	fee = price * feeBasisPoints / FeeBasisPointsMax
	return fee, price - fee
}

// EvaluatePurchase enforces every settlement precondition that can be decided
// from listing, asset, and tender alone. Ownership is re-checked against the
// registry view because a listing survives an out-of-band transfer and must
// not settle against a stale seller.
func EvaluatePurchase(
	listing entities.Listing,
	asset entities.Asset,
	buyer string,
	tenderedAmount int64,
) error {
	if !listing.IsActive() {
		return domainerrors.ErrNotActive
	}
	if buyer == listing.Seller {
		return domainerrors.ErrSelfPurchase
	}
	if tenderedAmount < listing.Price {
		return domainerrors.ErrInsufficientPayment
	}
	if !asset.OwnedBy(listing.Seller) {
		return domainerrors.ErrNotOwner
	}
	return nil
}
