package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"metamarket/contexts/asset-exchange/marketplace-engine/domain/entities"
	domainerrors "metamarket/contexts/asset-exchange/marketplace-engine/domain/errors"
	"metamarket/contexts/asset-exchange/marketplace-engine/ports"
)

// ListingService records sale offers against registry assets. It never copies
// ownership state; the registry is queried at creation time and re-queried by
// settlement so the ledger cannot diverge from the registry.
type ListingService struct {
	Assets         ports.AssetRepository
	Listings       ports.ListingRepository
	Idempotency    ports.IdempotencyStore
	Clock          ports.Clock
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

// Create records a new active listing. An existing active listing for the
// same asset is rejected outright rather than silently replaced, so a seller
// cannot front-run buyers with a cheaper re-listing.
func (s ListingService) Create(
	ctx context.Context,
	idempotencyKey string,
	assetID int64,
	seller string,
	price int64,
) (entities.Listing, bool, error) {
	logger := ResolveLogger(s.Logger)
	seller = strings.TrimSpace(seller)
	if seller == "" {
		return entities.Listing{}, false, domainerrors.ErrInvalidAccount
	}
	if price <= 0 {
		return entities.Listing{}, false, domainerrors.ErrInvalidPrice
	}

	now := s.now()
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	requestHash := hashFields("create_listing", fmt.Sprintf("%d", assetID), seller, fmt.Sprintf("%d", price))

	// Replay before re-validating ownership: the recorded response stays
	// authoritative even after the asset was sold and changed hands.
	if idempotencyKey != "" {
		record, found, err := s.Idempotency.GetRecord(ctx, idempotencyKey, now)
		if err != nil {
			return entities.Listing{}, false, err
		}
		if found {
			if record.RequestHash != requestHash {
				return entities.Listing{}, false, domainerrors.ErrIdempotencyConflict
			}
			var replayed entities.Listing
			if err := json.Unmarshal(record.ResponsePayload, &replayed); err != nil {
				return entities.Listing{}, false, err
			}
			return replayed, true, nil
		}
	}

	asset, err := s.Assets.GetAsset(ctx, assetID)
	if err != nil {
		return entities.Listing{}, false, err
	}
	if !asset.OwnedBy(seller) {
		return entities.Listing{}, false, domainerrors.ErrNotOwner
	}

	listing, err := s.Listings.CreateListing(ctx, assetID, seller, price, now)
	if err != nil {
		logger.Warn("listing create rejected",
			"event", "listing_create_rejected",
			"module", "asset-exchange/marketplace-engine",
			"layer", "application",
			"asset_id", assetID,
			"seller", seller,
			"error", err.Error(),
		)
		return entities.Listing{}, false, err
	}

	if idempotencyKey != "" {
		payload, err := json.Marshal(listing)
		if err != nil {
			return entities.Listing{}, false, err
		}
		if err := s.Idempotency.PutRecord(ctx, ports.IdempotencyRecord{
			Key:             idempotencyKey,
			RequestHash:     requestHash,
			ResponsePayload: payload,
			ExpiresAt:       now.Add(s.idempotencyTTL()),
		}); err != nil {
			return entities.Listing{}, false, err
		}
	}

	logger.Info("listing created",
		"event", "listing_created",
		"module", "asset-exchange/marketplace-engine",
		"layer", "application",
		"listing_id", listing.ListingID,
		"asset_id", listing.AssetID,
		"seller", listing.Seller,
		"price", listing.Price,
	)
	return listing, false, nil
}

// Cancel transitions an active listing to cancelled. Only the seller may
// cancel, and a listing that already left the active state stays terminal.
func (s ListingService) Cancel(ctx context.Context, listingID int64, caller string) error {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return domainerrors.ErrInvalidAccount
	}

	listing, err := s.Listings.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if listing.Seller != caller {
		return domainerrors.ErrNotSeller
	}

	if err := s.Listings.CancelListing(ctx, listingID, s.now()); err != nil {
		return err
	}

	ResolveLogger(s.Logger).Info("listing cancelled",
		"event", "listing_cancelled",
		"module", "asset-exchange/marketplace-engine",
		"layer", "application",
		"listing_id", listingID,
		"asset_id", listing.AssetID,
		"seller", listing.Seller,
	)
	return nil
}

func (s ListingService) ActiveListing(ctx context.Context, assetID int64) (entities.Listing, bool, error) {
	if _, err := s.Assets.GetAsset(ctx, assetID); err != nil {
		return entities.Listing{}, false, err
	}
	return s.Listings.GetActiveListingByAsset(ctx, assetID)
}

func (s ListingService) OpenListings(ctx context.Context, limit int, cursor string) ([]entities.Listing, string, error) {
	return s.Listings.ListOpenListings(ctx, normalizeLimit(limit), strings.TrimSpace(cursor))
}

func (s ListingService) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now().UTC()
}

func (s ListingService) idempotencyTTL() time.Duration {
	if s.IdempotencyTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.IdempotencyTTL
}
