package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"metamarket/contexts/asset-exchange/marketplace-engine/adapters/memory"
	"metamarket/contexts/asset-exchange/marketplace-engine/domain/entities"
	domainerrors "metamarket/contexts/asset-exchange/marketplace-engine/domain/errors"
	"metamarket/contexts/asset-exchange/marketplace-engine/ports"
)

func TestStoreOneActiveListingPerAsset(t *testing.T) {
	store := memory.NewStore()
	now := time.Now().UTC()

	asset, err := store.CreateAssetWithOutbox(context.Background(), "seller", "ipfs://metadata/1", now, nil)
	if err != nil {
		t.Fatalf("create asset failed: %v", err)
	}

	if _, err := store.CreateListing(context.Background(), asset.AssetID, "seller", 100, now); err != nil {
		t.Fatalf("first listing failed: %v", err)
	}
	if _, err := store.CreateListing(context.Background(), asset.AssetID, "seller", 200, now); !errors.Is(err, domainerrors.ErrDuplicateListing) {
		t.Fatalf("expected duplicate listing, got %v", err)
	}
}

func TestStoreExecuteSettlementRevalidatesUnderLock(t *testing.T) {
	store := memory.NewStore()
	now := time.Now().UTC()

	asset, err := store.CreateAssetWithOutbox(context.Background(), "seller", "ipfs://metadata/1", now, nil)
	if err != nil {
		t.Fatalf("create asset failed: %v", err)
	}
	listing, err := store.CreateListing(context.Background(), asset.AssetID, "seller", 100, now)
	if err != nil {
		t.Fatalf("create listing failed: %v", err)
	}

	// Ownership moved between validation and commit; the commit must refuse.
	if err := store.TransferAsset(context.Background(), asset.AssetID, "seller", "collector", now); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	settlement := ports.Settlement{
		Sale: entities.SaleRecord{
			SaleID:      "sale-1",
			ListingID:   listing.ListingID,
			AssetID:     asset.AssetID,
			Buyer:       "buyer",
			Seller:      "seller",
			PriceAtSale: 100,
			FeeAtSale:   2,
			OccurredAt:  now,
		},
		Payouts: []entities.Payout{
			{SaleID: "sale-1", Account: "seller", Amount: 98, Reason: entities.PayoutReasonProceeds, CreatedAt: now},
		},
		Event: ports.EventEnvelope{EventID: "event-1", EventType: "asset.sold", OccurredAt: now},
	}
	if err := store.ExecuteSettlement(context.Background(), settlement); !errors.Is(err, domainerrors.ErrNotOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}

	// Nothing may have been committed.
	got, err := store.GetListing(context.Background(), listing.ListingID)
	if err != nil {
		t.Fatalf("listing lookup failed: %v", err)
	}
	if got.Status != entities.ListingStatusActive {
		t.Fatalf("listing must stay active after refused settlement, got %s", got.Status)
	}
	if _, err := store.Balance(context.Background(), "seller"); !errors.Is(err, domainerrors.ErrUnknownAccount) {
		t.Fatalf("no payout may land after refused settlement, got %v", err)
	}
	sales, err := store.ListSales(context.Background(), 10)
	if err != nil {
		t.Fatalf("sales lookup failed: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("expected no sale records, got %d", len(sales))
	}
	pending, err := store.ListPendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("pending outbox lookup failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no outbox rows, got %d", len(pending))
	}
}

func TestStoreSettlementCommitsAtomically(t *testing.T) {
	store := memory.NewStore()
	now := time.Now().UTC()

	asset, err := store.CreateAssetWithOutbox(context.Background(), "seller", "ipfs://metadata/1", now, nil)
	if err != nil {
		t.Fatalf("create asset failed: %v", err)
	}
	listing, err := store.CreateListing(context.Background(), asset.AssetID, "seller", 100, now)
	if err != nil {
		t.Fatalf("create listing failed: %v", err)
	}

	settlement := ports.Settlement{
		Sale: entities.SaleRecord{
			SaleID:      "sale-1",
			ListingID:   listing.ListingID,
			AssetID:     asset.AssetID,
			Buyer:       "buyer",
			Seller:      "seller",
			PriceAtSale: 100,
			FeeAtSale:   2,
			OccurredAt:  now,
		},
		Payouts: []entities.Payout{
			{SaleID: "sale-1", Account: "seller", Amount: 98, Reason: entities.PayoutReasonProceeds, CreatedAt: now},
			{SaleID: "sale-1", Account: "treasury", Amount: 2, Reason: entities.PayoutReasonFee, CreatedAt: now},
		},
		Event: ports.EventEnvelope{EventID: "event-1", EventType: "asset.sold", OccurredAt: now},
	}
	if err := store.ExecuteSettlement(context.Background(), settlement); err != nil {
		t.Fatalf("settlement failed: %v", err)
	}

	got, err := store.GetAsset(context.Background(), asset.AssetID)
	if err != nil {
		t.Fatalf("asset lookup failed: %v", err)
	}
	if got.Owner != "buyer" {
		t.Fatalf("expected buyer as owner, got %s", got.Owner)
	}
	soldListing, err := store.GetListing(context.Background(), listing.ListingID)
	if err != nil {
		t.Fatalf("listing lookup failed: %v", err)
	}
	if soldListing.Status != entities.ListingStatusSold {
		t.Fatalf("expected sold listing, got %s", soldListing.Status)
	}
	if _, found, _ := store.GetActiveListingByAsset(context.Background(), asset.AssetID); found {
		t.Fatalf("active slot must clear after settlement")
	}

	// A replayed commit with the same event id must be refused, not doubled.
	if err := store.ExecuteSettlement(context.Background(), settlement); err == nil {
		t.Fatalf("expected replayed settlement to fail")
	}
}

func TestStoreCreateAssetWithOutboxAtomicity(t *testing.T) {
	store := memory.NewStore()
	now := time.Now().UTC()

	buildFailed := errors.New("event build failed")
	_, err := store.CreateAssetWithOutbox(context.Background(), "creator", "ipfs://metadata/1", now,
		func(entities.Asset) (ports.EventEnvelope, error) {
			return ports.EventEnvelope{}, buildFailed
		})
	if !errors.Is(err, buildFailed) {
		t.Fatalf("expected build error, got %v", err)
	}

	// The failed mint must leave nothing behind: no asset, no outbox row.
	if assets, err := store.ListAssetsByCreator(context.Background(), "creator", 10); err != nil || len(assets) != 0 {
		t.Fatalf("expected no assets after failed mint, got %d (err %v)", len(assets), err)
	}
	if pending, err := store.ListPendingOutbox(context.Background(), 10); err != nil || len(pending) != 0 {
		t.Fatalf("expected no outbox rows after failed mint, got %d (err %v)", len(pending), err)
	}

	asset, err := store.CreateAssetWithOutbox(context.Background(), "creator", "ipfs://metadata/1", now,
		func(asset entities.Asset) (ports.EventEnvelope, error) {
			return ports.EventEnvelope{EventID: "event-1", EventType: "asset.minted", OccurredAt: now}, nil
		})
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if asset.AssetID != 1 {
		t.Fatalf("failed mint must not consume an asset id, got %d", asset.AssetID)
	}
	pending, err := store.ListPendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("pending lookup failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending row, got %d", len(pending))
	}
}

func TestStoreOutboxLifecycle(t *testing.T) {
	store := memory.NewStore()
	now := time.Now().UTC()

	envelope := ports.EventEnvelope{
		EventID:    "event-1",
		EventType:  "asset.minted",
		OccurredAt: now,
	}
	if _, err := store.CreateAssetWithOutbox(context.Background(), "creator", "ipfs://metadata/1", now,
		func(entities.Asset) (ports.EventEnvelope, error) {
			return envelope, nil
		}); err != nil {
		t.Fatalf("mint with outbox failed: %v", err)
	}
	// Reusing a committed event id must be refused, not doubled.
	if _, err := store.CreateAssetWithOutbox(context.Background(), "creator", "ipfs://metadata/2", now,
		func(entities.Asset) (ports.EventEnvelope, error) {
			return envelope, nil
		}); !errors.Is(err, domainerrors.ErrRepositoryInvariantBroke) {
		t.Fatalf("expected invariant error on duplicate event id, got %v", err)
	}

	pending, err := store.ListPendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("pending lookup failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending row, got %d", len(pending))
	}

	if err := store.MarkOutboxPublished(context.Background(), "event-1", now); err != nil {
		t.Fatalf("mark published failed: %v", err)
	}
	pending, err = store.ListPendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("pending lookup failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("published row must leave the pending set, got %d", len(pending))
	}

	if err := store.MarkOutboxPublished(context.Background(), "missing", now); err == nil {
		t.Fatalf("expected error for unknown outbox id")
	}
}

func TestStoreIdempotencyExpiry(t *testing.T) {
	store := memory.NewStore()
	now := time.Now().UTC()

	record := ports.IdempotencyRecord{
		Key:             "key-1",
		RequestHash:     "hash",
		ResponsePayload: []byte(`{}`),
		ExpiresAt:       now.Add(time.Hour),
	}
	if err := store.PutRecord(context.Background(), record); err != nil {
		t.Fatalf("put record failed: %v", err)
	}

	if _, found, _ := store.GetRecord(context.Background(), "key-1", now); !found {
		t.Fatalf("unexpired record must be found")
	}
	if _, found, _ := store.GetRecord(context.Background(), "key-1", now.Add(2*time.Hour)); found {
		t.Fatalf("expired record must not be found")
	}

	if err := store.PutRecord(context.Background(), record); err != nil {
		t.Fatalf("re-put after expiry failed: %v", err)
	}
	conflicting := record
	conflicting.RequestHash = "other-hash"
	if err := store.PutRecord(context.Background(), conflicting); !errors.Is(err, domainerrors.ErrIdempotencyConflict) {
		t.Fatalf("expected idempotency conflict, got %v", err)
	}

	purged, err := store.PurgeExpiredRecords(context.Background(), now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected one purged record, got %d", purged)
	}
}
