package application

import (
	"context"

	"metamarket/contexts/asset-exchange/marketplace-engine/domain/entities"
)

// Facade is the only surface external callers touch. It composes the
// registry, listing, and settlement services and performs no business logic
// beyond forwarding.
type Facade struct {
	Registry   RegistryService
	Listings   ListingService
	Settlement SettlementService
}

func (f Facade) Mint(ctx context.Context, idempotencyKey, creator, metadataRef string) (entities.Asset, bool, error) {
	return f.Registry.Mint(ctx, idempotencyKey, creator, metadataRef)
}

func (f Facade) Transfer(ctx context.Context, assetID int64, from, to string) error {
	return f.Registry.Transfer(ctx, assetID, from, to)
}

func (f Facade) OwnerOf(ctx context.Context, assetID int64) (string, error) {
	return f.Registry.OwnerOf(ctx, assetID)
}

func (f Facade) AssetsByOwner(ctx context.Context, owner string, limit int) ([]entities.Asset, error) {
	return f.Registry.AssetsByOwner(ctx, owner, limit)
}

func (f Facade) AssetsByCreator(ctx context.Context, creator string, limit int) ([]entities.Asset, error) {
	return f.Registry.AssetsByCreator(ctx, creator, limit)
}

func (f Facade) CreateListing(ctx context.Context, idempotencyKey string, assetID int64, seller string, price int64) (entities.Listing, bool, error) {
	return f.Listings.Create(ctx, idempotencyKey, assetID, seller, price)
}

func (f Facade) CancelListing(ctx context.Context, listingID int64, caller string) error {
	return f.Listings.Cancel(ctx, listingID, caller)
}

func (f Facade) ActiveListing(ctx context.Context, assetID int64) (entities.Listing, bool, error) {
	return f.Listings.ActiveListing(ctx, assetID)
}

func (f Facade) OpenListings(ctx context.Context, limit int, cursor string) ([]entities.Listing, string, error) {
	return f.Listings.OpenListings(ctx, limit, cursor)
}

func (f Facade) Buy(ctx context.Context, idempotencyKey string, listingID int64, buyer string, tenderedAmount int64) (entities.SaleRecord, bool, error) {
	return f.Settlement.Buy(ctx, idempotencyKey, listingID, buyer, tenderedAmount)
}

func (f Facade) SalesBySeller(ctx context.Context, seller string, limit int) ([]entities.SaleRecord, error) {
	return f.Settlement.SalesBySeller(ctx, seller, limit)
}

func (f Facade) Sales(ctx context.Context, limit int) ([]entities.SaleRecord, error) {
	return f.Settlement.Sales(ctx, limit)
}

func (f Facade) Balance(ctx context.Context, account string) (int64, error) {
	return f.Settlement.Balance(ctx, account)
}
