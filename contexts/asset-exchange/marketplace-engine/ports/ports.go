package ports

import (
	"context"
	"time"

	"metamarket/contexts/asset-exchange/marketplace-engine/domain/entities"

	contractsv1 "metamarket/contracts/gen/events/v1"
)

// EventEnvelope is the canonical cross-context event shape.
type EventEnvelope = contractsv1.Envelope

type AssetRepository interface {
	// CreateAssetWithOutbox assigns the next AssetID and persists the asset
	// together with the outbox row built by buildEvent, in one transaction.
	// A nil buildEvent persists the asset alone. When buildEvent or the
	// outbox write fails, the asset is not persisted either.
	CreateAssetWithOutbox(ctx context.Context, creator string, metadataRef string, mintedAt time.Time, buildEvent func(entities.Asset) (EventEnvelope, error)) (entities.Asset, error)
	GetAsset(ctx context.Context, assetID int64) (entities.Asset, error)
	// TransferAsset reassigns ownership. It fails with ErrUnknownAsset when
	// the asset is absent and ErrNotOwner when from is not the current owner.
	TransferAsset(ctx context.Context, assetID int64, from string, to string, at time.Time) error
	ListAssetsByOwner(ctx context.Context, owner string, limit int) ([]entities.Asset, error)
	ListAssetsByCreator(ctx context.Context, creator string, limit int) ([]entities.Asset, error)
}

type ListingRepository interface {
	// CreateListing assigns the next ListingID. It fails with
	// ErrDuplicateListing when the asset already has an active listing.
	CreateListing(ctx context.Context, assetID int64, seller string, price int64, at time.Time) (entities.Listing, error)
	GetListing(ctx context.Context, listingID int64) (entities.Listing, error)
	GetActiveListingByAsset(ctx context.Context, assetID int64) (entities.Listing, bool, error)
	// CancelListing flips active -> cancelled and fails with ErrNotActive on
	// any other transition.
	CancelListing(ctx context.Context, listingID int64, at time.Time) error
	ListOpenListings(ctx context.Context, limit int, cursor string) ([]entities.Listing, string, error)
}

// Settlement carries every mutation of one buy. The repository adapter
// commits all of it, or none of it, in a single transaction.
type Settlement struct {
	Sale    entities.SaleRecord
	Payouts []entities.Payout
	Event   EventEnvelope
}

type SettlementRepository interface {
	// ExecuteSettlement re-validates under the transaction that the listing
	// is still active and the seller still owns the asset, then commits the
	// ownership transfer, the sold transition, the funds credits, the sale
	// record, and the outbox row together.
	ExecuteSettlement(ctx context.Context, settlement Settlement) error
	ListSalesBySeller(ctx context.Context, seller string, limit int) ([]entities.SaleRecord, error)
	ListSales(ctx context.Context, limit int) ([]entities.SaleRecord, error)
}

type FundsLedger interface {
	Balance(ctx context.Context, account string) (int64, error)
}

type IdempotencyRecord struct {
	Key             string
	RequestHash     string
	ResponsePayload []byte
	ExpiresAt       time.Time
}

type IdempotencyStore interface {
	GetRecord(ctx context.Context, key string, now time.Time) (IdempotencyRecord, bool, error)
	PutRecord(ctx context.Context, record IdempotencyRecord) error
	PurgeExpiredRecords(ctx context.Context, now time.Time) (int, error)
}

type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
