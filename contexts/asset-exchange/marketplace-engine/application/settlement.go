package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"metamarket/contexts/asset-exchange/marketplace-engine/domain/entities"
	domainerrors "metamarket/contexts/asset-exchange/marketplace-engine/domain/errors"
	"metamarket/contexts/asset-exchange/marketplace-engine/domain/services"
	"metamarket/contexts/asset-exchange/marketplace-engine/ports"
)

const assetSoldEventType = "asset.sold"

// SettlementGuard blocks re-entrant or racing buys on the same listing for
// the duration of one settlement call.
type SettlementGuard struct {
	mu       sync.Mutex
	inFlight map[int64]struct{}
}

func NewSettlementGuard() *SettlementGuard {
	return &SettlementGuard{inFlight: make(map[int64]struct{})}
}

func (g *SettlementGuard) Acquire(listingID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[listingID]; busy {
		return false
	}
	g.inFlight[listingID] = struct{}{}
	return true
}

func (g *SettlementGuard) Release(listingID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, listingID)
}

// SettlementService fulfils listings. Buy composes the ownership transfer and
// the payment split into one indivisible unit: every bookkeeping mutation of
// a purchase is committed by the settlement repository in a single
// transaction, after all preconditions passed.
type SettlementService struct {
	Assets         ports.AssetRepository
	Listings       ports.ListingRepository
	Settlements    ports.SettlementRepository
	Funds          ports.FundsLedger
	Idempotency    ports.IdempotencyStore
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	Guard          *SettlementGuard
	FeeBasisPoints int64
	FeeSinkAccount string
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

// Buy runs the settlement workflow in this order:
// 1) per-listing guard acquire
// 2) idempotency lookup/replay
// 3) listing, asset, and tender validation (including the stale-seller check)
// 4) fee split
// 5) atomic settlement commit (transfer + sold + payouts + sale + outbox)
// 6) idempotency record write.
func (s SettlementService) Buy(
	ctx context.Context,
	idempotencyKey string,
	listingID int64,
	buyer string,
	tenderedAmount int64,
) (entities.SaleRecord, bool, error) {
	logger := ResolveLogger(s.Logger)
	buyer = strings.TrimSpace(buyer)
	if buyer == "" {
		return entities.SaleRecord{}, false, domainerrors.ErrInvalidAccount
	}

	if !s.Guard.Acquire(listingID) {
		logger.Warn("settlement re-entry blocked",
			"event", "settlement_reentry_blocked",
			"module", "asset-exchange/marketplace-engine",
			"layer", "application",
			"listing_id", listingID,
			"buyer", buyer,
		)
		return entities.SaleRecord{}, false, domainerrors.ErrSettlementInProgress
	}
	defer s.Guard.Release(listingID)

	now := s.now()
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	requestHash := hashFields("buy", fmt.Sprintf("%d", listingID), buyer, fmt.Sprintf("%d", tenderedAmount))

	if idempotencyKey != "" {
		record, found, err := s.Idempotency.GetRecord(ctx, idempotencyKey, now)
		if err != nil {
			return entities.SaleRecord{}, false, err
		}
		if found {
			if record.RequestHash != requestHash {
				return entities.SaleRecord{}, false, domainerrors.ErrIdempotencyConflict
			}
			var replayed entities.SaleRecord
			if err := json.Unmarshal(record.ResponsePayload, &replayed); err != nil {
				return entities.SaleRecord{}, false, err
			}
			return replayed, true, nil
		}
	}

	listing, err := s.Listings.GetListing(ctx, listingID)
	if err != nil {
		return entities.SaleRecord{}, false, err
	}
	asset, err := s.Assets.GetAsset(ctx, listing.AssetID)
	if err != nil {
		return entities.SaleRecord{}, false, err
	}
	if err := services.EvaluatePurchase(listing, asset, buyer, tenderedAmount); err != nil {
		logger.Warn("purchase rejected",
			"event", "settlement_purchase_rejected",
			"module", "asset-exchange/marketplace-engine",
			"layer", "application",
			"listing_id", listingID,
			"buyer", buyer,
			"error", err.Error(),
		)
		return entities.SaleRecord{}, false, err
	}

	fee, proceeds := services.SplitPrice(listing.Price, s.FeeBasisPoints)

	saleID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return entities.SaleRecord{}, false, err
	}
	sale := entities.SaleRecord{
		SaleID:      saleID,
		ListingID:   listing.ListingID,
		AssetID:     listing.AssetID,
		Buyer:       buyer,
		Seller:      listing.Seller,
		PriceAtSale: listing.Price,
		FeeAtSale:   fee,
		OccurredAt:  now,
	}

	event, err := s.buildAssetSoldEnvelope(ctx, sale)
	if err != nil {
		return entities.SaleRecord{}, false, err
	}

	// Ownership change, sold transition, payouts, sale record, and outbox row
	// are committed together by the repository adapter.
	settlement := ports.Settlement{
		Sale:    sale,
		Payouts: buildPayouts(sale, s.FeeSinkAccount, proceeds, tenderedAmount, now),
		Event:   event,
	}
	if err := s.Settlements.ExecuteSettlement(ctx, settlement); err != nil {
		logger.Error("settlement commit failed",
			"event", "settlement_commit_failed",
			"module", "asset-exchange/marketplace-engine",
			"layer", "application",
			"listing_id", listingID,
			"buyer", buyer,
			"error", err.Error(),
		)
		return entities.SaleRecord{}, false, err
	}

	if idempotencyKey != "" {
		payload, err := json.Marshal(sale)
		if err != nil {
			return entities.SaleRecord{}, false, err
		}
		if err := s.Idempotency.PutRecord(ctx, ports.IdempotencyRecord{
			Key:             idempotencyKey,
			RequestHash:     requestHash,
			ResponsePayload: payload,
			ExpiresAt:       now.Add(s.idempotencyTTL()),
		}); err != nil {
			return entities.SaleRecord{}, false, err
		}
	}

	logger.Info("listing settled",
		"event", "listing_settled",
		"module", "asset-exchange/marketplace-engine",
		"layer", "application",
		"sale_id", sale.SaleID,
		"listing_id", sale.ListingID,
		"asset_id", sale.AssetID,
		"buyer", sale.Buyer,
		"seller", sale.Seller,
		"price", sale.PriceAtSale,
		"fee", sale.FeeAtSale,
	)
	return sale, false, nil
}

func (s SettlementService) SalesBySeller(ctx context.Context, seller string, limit int) ([]entities.SaleRecord, error) {
	seller = strings.TrimSpace(seller)
	if seller == "" {
		return nil, domainerrors.ErrInvalidAccount
	}
	return s.Settlements.ListSalesBySeller(ctx, seller, normalizeLimit(limit))
}

func (s SettlementService) Sales(ctx context.Context, limit int) ([]entities.SaleRecord, error) {
	return s.Settlements.ListSales(ctx, normalizeLimit(limit))
}

func (s SettlementService) Balance(ctx context.Context, account string) (int64, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return 0, domainerrors.ErrInvalidAccount
	}
	return s.Funds.Balance(ctx, account)
}

func (s SettlementService) buildAssetSoldEnvelope(ctx context.Context, sale entities.SaleRecord) (ports.EventEnvelope, error) {
	eventID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	data, err := json.Marshal(map[string]any{
		"sale_id":       sale.SaleID,
		"listing_id":    sale.ListingID,
		"asset_id":      sale.AssetID,
		"buyer":         sale.Buyer,
		"seller":        sale.Seller,
		"price_at_sale": sale.PriceAtSale,
		"fee_at_sale":   sale.FeeAtSale,
		"occurred_at":   sale.OccurredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	return ports.EventEnvelope{
		EventID:          eventID,
		EventType:        assetSoldEventType,
		OccurredAt:       sale.OccurredAt.UTC(),
		SourceService:    "marketplace-engine",
		TraceID:          eventID,
		SchemaVersion:    1,
		PartitionKeyPath: "asset_id",
		PartitionKey:     fmt.Sprintf("%d", sale.AssetID),
		Data:             data,
	}, nil
}

func buildPayouts(
	sale entities.SaleRecord,
	feeSinkAccount string,
	proceeds int64,
	tenderedAmount int64,
	now time.Time,
) []entities.Payout {
	payouts := make([]entities.Payout, 0, 3)
	if proceeds > 0 {
		payouts = append(payouts, entities.Payout{
			SaleID:    sale.SaleID,
			Account:   sale.Seller,
			Amount:    proceeds,
			Reason:    entities.PayoutReasonProceeds,
			CreatedAt: now,
		})
	}
	if sale.FeeAtSale > 0 {
		payouts = append(payouts, entities.Payout{
			SaleID:    sale.SaleID,
			Account:   feeSinkAccount,
			Amount:    sale.FeeAtSale,
			Reason:    entities.PayoutReasonFee,
			CreatedAt: now,
		})
	}
	if refund := tenderedAmount - sale.PriceAtSale; refund > 0 {
		payouts = append(payouts, entities.Payout{
			SaleID:    sale.SaleID,
			Account:   sale.Buyer,
			Amount:    refund,
			Reason:    entities.PayoutReasonRefund,
			CreatedAt: now,
		})
	}
	return payouts
}

func (s SettlementService) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now().UTC()
}

func (s SettlementService) idempotencyTTL() time.Duration {
	if s.IdempotencyTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.IdempotencyTTL
}
