package memory

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"metamarket/contexts/asset-exchange/marketplace-engine/domain/entities"
	domainerrors "metamarket/contexts/asset-exchange/marketplace-engine/domain/errors"
	"metamarket/contexts/asset-exchange/marketplace-engine/ports"

	"github.com/google/uuid"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

// Store keeps the whole marketplace state behind one mutex, which makes every
// state-changing call observe and produce non-interleaved state: the single
// logical mutator of a shared ledger.
type Store struct {
	mu sync.RWMutex

	nextAssetID   int64
	nextListingID int64

	assets   map[int64]entities.Asset
	listings map[int64]entities.Listing
	// activeByAsset enforces at most one active listing per asset.
	activeByAsset map[int64]int64
	sales         []entities.SaleRecord
	payouts       []entities.Payout
	balances      map[string]int64
	idempotency   map[string]ports.IdempotencyRecord
	outbox        map[string]outboxRecord
	outboxOrder   []string
}

type outboxRecord struct {
	Message     ports.OutboxMessage
	Status      string
	PublishedAt *time.Time
}

func NewStore() *Store {
	return &Store{
		assets:        make(map[int64]entities.Asset),
		listings:      make(map[int64]entities.Listing),
		activeByAsset: make(map[int64]int64),
		balances:      make(map[string]int64),
		idempotency:   make(map[string]ports.IdempotencyRecord),
		outbox:        make(map[string]outboxRecord),
	}
}

// CreateAssetWithOutbox validates and builds everything before the first
// mutation, so a failed event build or outbox append leaves no asset behind.
func (s *Store) CreateAssetWithOutbox(
	_ context.Context,
	creator string,
	metadataRef string,
	mintedAt time.Time,
	buildEvent func(entities.Asset) (ports.EventEnvelope, error),
) (entities.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(creator) == "" {
		return entities.Asset{}, domainerrors.ErrInvalidAccount
	}
	if strings.TrimSpace(metadataRef) == "" {
		return entities.Asset{}, domainerrors.ErrInvalidMetadata
	}

	asset := entities.Asset{
		AssetID:     s.nextAssetID + 1,
		Owner:       creator,
		Creator:     creator,
		MetadataRef: metadataRef,
		MintedAt:    mintedAt.UTC(),
		UpdatedAt:   mintedAt.UTC(),
	}

	var (
		envelope ports.EventEnvelope
		payload  []byte
	)
	if buildEvent != nil {
		var err error
		envelope, err = buildEvent(asset)
		if err != nil {
			return entities.Asset{}, err
		}
		if strings.TrimSpace(envelope.EventID) == "" {
			return entities.Asset{}, domainerrors.ErrRepositoryInvariantBroke
		}
		if _, exists := s.outbox[envelope.EventID]; exists {
			return entities.Asset{}, domainerrors.ErrRepositoryInvariantBroke
		}
		payload, err = json.Marshal(envelope)
		if err != nil {
			return entities.Asset{}, err
		}
	}

	s.nextAssetID++
	s.assets[asset.AssetID] = asset
	if buildEvent != nil {
		s.outbox[envelope.EventID] = outboxRecord{
			Message: ports.OutboxMessage{
				OutboxID:     envelope.EventID,
				EventType:    envelope.EventType,
				PartitionKey: envelope.PartitionKey,
				Payload:      payload,
				CreatedAt:    envelope.OccurredAt.UTC(),
			},
			Status: outboxStatusPending,
		}
		s.outboxOrder = append(s.outboxOrder, envelope.EventID)
	}
	return asset, nil
}

func (s *Store) GetAsset(_ context.Context, assetID int64) (entities.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	asset, ok := s.assets[assetID]
	if !ok {
		return entities.Asset{}, domainerrors.ErrUnknownAsset
	}
	return asset, nil
}

func (s *Store) TransferAsset(_ context.Context, assetID int64, from string, to string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferLocked(assetID, from, to, at)
}

func (s *Store) transferLocked(assetID int64, from string, to string, at time.Time) error {
	asset, ok := s.assets[assetID]
	if !ok {
		return domainerrors.ErrUnknownAsset
	}
	if asset.Owner != from {
		return domainerrors.ErrNotOwner
	}
	asset.Owner = to
	asset.UpdatedAt = at.UTC()
	s.assets[assetID] = asset
	return nil
}

func (s *Store) ListAssetsByOwner(_ context.Context, owner string, limit int) ([]entities.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]entities.Asset, 0)
	for _, asset := range s.assets {
		if asset.Owner == owner {
			items = append(items, asset)
		}
	}
	return sortAndCap(items, limit), nil
}

func (s *Store) ListAssetsByCreator(_ context.Context, creator string, limit int) ([]entities.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]entities.Asset, 0)
	for _, asset := range s.assets {
		if asset.Creator == creator {
			items = append(items, asset)
		}
	}
	return sortAndCap(items, limit), nil
}

func (s *Store) CreateListing(_ context.Context, assetID int64, seller string, price int64, at time.Time) (entities.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.assets[assetID]
	if !ok {
		return entities.Listing{}, domainerrors.ErrUnknownAsset
	}
	if asset.Owner != seller {
		return entities.Listing{}, domainerrors.ErrNotOwner
	}
	if price <= 0 {
		return entities.Listing{}, domainerrors.ErrInvalidPrice
	}
	if _, exists := s.activeByAsset[assetID]; exists {
		return entities.Listing{}, domainerrors.ErrDuplicateListing
	}

	s.nextListingID++
	listing := entities.Listing{
		ListingID: s.nextListingID,
		AssetID:   assetID,
		Seller:    seller,
		Price:     price,
		Status:    entities.ListingStatusActive,
		CreatedAt: at.UTC(),
		UpdatedAt: at.UTC(),
	}
	s.listings[listing.ListingID] = listing
	s.activeByAsset[assetID] = listing.ListingID
	return listing, nil
}

func (s *Store) GetListing(_ context.Context, listingID int64) (entities.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listing, ok := s.listings[listingID]
	if !ok {
		return entities.Listing{}, domainerrors.ErrUnknownListing
	}
	return listing, nil
}

func (s *Store) GetActiveListingByAsset(_ context.Context, assetID int64) (entities.Listing, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listingID, ok := s.activeByAsset[assetID]
	if !ok {
		return entities.Listing{}, false, nil
	}
	return s.listings[listingID], true, nil
}

func (s *Store) CancelListing(_ context.Context, listingID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	listing, ok := s.listings[listingID]
	if !ok {
		return domainerrors.ErrUnknownListing
	}
	if listing.Status != entities.ListingStatusActive {
		return domainerrors.ErrNotActive
	}
	listing.Status = entities.ListingStatusCancelled
	listing.UpdatedAt = at.UTC()
	s.listings[listingID] = listing
	delete(s.activeByAsset, listing.AssetID)
	return nil
}

func (s *Store) ListOpenListings(_ context.Context, limit int, cursor string) ([]entities.Listing, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	items := make([]entities.Listing, 0, len(s.activeByAsset))
	for _, listingID := range s.activeByAsset {
		items = append(items, s.listings[listingID])
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].ListingID < items[j].ListingID
	})

	offset := decodeCursor(cursor)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []entities.Listing{}, "", nil
	}
	end := offset + limit
	nextCursor := ""
	if end < len(items) {
		nextCursor = encodeCursor(end)
	} else {
		end = len(items)
	}
	return append([]entities.Listing(nil), items[offset:end]...), nextCursor, nil
}

// ExecuteSettlement re-validates every precondition under the write lock and
// only then mutates, so a failed settlement leaves no partial state behind.
func (s *Store) ExecuteSettlement(_ context.Context, settlement ports.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale := settlement.Sale
	listing, ok := s.listings[sale.ListingID]
	if !ok {
		return domainerrors.ErrUnknownListing
	}
	if listing.Status != entities.ListingStatusActive {
		return domainerrors.ErrNotActive
	}
	asset, ok := s.assets[sale.AssetID]
	if !ok {
		return domainerrors.ErrUnknownAsset
	}
	if asset.Owner != sale.Seller || listing.Seller != sale.Seller {
		return domainerrors.ErrNotOwner
	}
	if _, exists := s.outbox[settlement.Event.EventID]; exists {
		return domainerrors.ErrRepositoryInvariantBroke
	}
	payload, err := json.Marshal(settlement.Event)
	if err != nil {
		return err
	}

	if err := s.transferLocked(sale.AssetID, sale.Seller, sale.Buyer, sale.OccurredAt); err != nil {
		return err
	}
	listing.Status = entities.ListingStatusSold
	listing.UpdatedAt = sale.OccurredAt.UTC()
	s.listings[sale.ListingID] = listing
	delete(s.activeByAsset, sale.AssetID)

	for _, payout := range settlement.Payouts {
		s.balances[payout.Account] += payout.Amount
		s.payouts = append(s.payouts, payout)
	}
	s.sales = append(s.sales, sale)

	s.outbox[settlement.Event.EventID] = outboxRecord{
		Message: ports.OutboxMessage{
			OutboxID:     settlement.Event.EventID,
			EventType:    settlement.Event.EventType,
			PartitionKey: settlement.Event.PartitionKey,
			Payload:      payload,
			CreatedAt:    settlement.Event.OccurredAt.UTC(),
		},
		Status: outboxStatusPending,
	}
	s.outboxOrder = append(s.outboxOrder, settlement.Event.EventID)
	return nil
}

func (s *Store) ListSalesBySeller(_ context.Context, seller string, limit int) ([]entities.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]entities.SaleRecord, 0)
	for _, sale := range s.sales {
		if sale.Seller == seller {
			items = append(items, sale)
		}
	}
	return capSales(items, limit), nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]entities.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return capSales(append([]entities.SaleRecord(nil), s.sales...), limit), nil
}

// ListPayoutsBySale exists for audit assertions in tests.
func (s *Store) ListPayoutsBySale(_ context.Context, saleID string) ([]entities.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]entities.Payout, 0)
	for _, payout := range s.payouts {
		if payout.SaleID == saleID {
			items = append(items, payout)
		}
	}
	return items, nil
}

func (s *Store) Balance(_ context.Context, account string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balance, ok := s.balances[account]
	if !ok {
		return 0, domainerrors.ErrUnknownAccount
	}
	return balance, nil
}

func (s *Store) GetRecord(_ context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.idempotency[strings.TrimSpace(key)]
	if !ok {
		return ports.IdempotencyRecord{}, false, nil
	}
	if !record.ExpiresAt.After(now.UTC()) {
		delete(s.idempotency, strings.TrimSpace(key))
		return ports.IdempotencyRecord{}, false, nil
	}
	return record, true, nil
}

func (s *Store) PutRecord(_ context.Context, record ports.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(record.Key)
	if key == "" {
		return domainerrors.ErrRepositoryInvariantBroke
	}
	if existing, ok := s.idempotency[key]; ok {
		if existing.RequestHash != record.RequestHash ||
			!bytes.Equal(existing.ResponsePayload, record.ResponsePayload) {
			return domainerrors.ErrIdempotencyConflict
		}
		return nil
	}
	s.idempotency[key] = record
	return nil
}

func (s *Store) PurgeExpiredRecords(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for key, record := range s.idempotency {
		if !record.ExpiresAt.After(now.UTC()) {
			delete(s.idempotency, key)
			purged++
		}
	}
	return purged, nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	items := make([]ports.OutboxMessage, 0)
	for _, outboxID := range s.outboxOrder {
		row := s.outbox[outboxID]
		if row.Status == outboxStatusPending {
			items = append(items, row.Message)
		}
		if len(items) == limit {
			break
		}
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.outbox[strings.TrimSpace(outboxID)]
	if !ok {
		return domainerrors.ErrRepositoryInvariantBroke
	}
	ts := publishedAt.UTC()
	row.Status = outboxStatusPublished
	row.PublishedAt = &ts
	s.outbox[strings.TrimSpace(outboxID)] = row
	return nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func sortAndCap(items []entities.Asset, limit int) []entities.Asset {
	sort.Slice(items, func(i, j int) bool {
		return items[i].AssetID < items[j].AssetID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func capSales(items []entities.SaleRecord, limit int) []entities.SaleRecord {
	sort.Slice(items, func(i, j int) bool {
		return items[i].OccurredAt.After(items[j].OccurredAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeCursor(cursor string) int {
	if cursor == "" {
		return 0
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0
	}
	offset, err := strconv.Atoi(string(raw))
	if err != nil || offset < 0 {
		return 0
	}
	return offset
}
