package postgresadapter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"metamarket/contexts/asset-exchange/marketplace-engine/domain/entities"
	domainerrors "metamarket/contexts/asset-exchange/marketplace-engine/domain/errors"
	"metamarket/contexts/asset-exchange/marketplace-engine/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"

	// Partial unique index on listings(asset_id) WHERE status = 'active'.
	// Defined in schema.sql alongside the rest of the DDL.
	constraintOneActivePerAsset = "listings_one_active_per_asset"
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateAssetWithOutbox inserts the asset row and its outbox row in one
// transaction; a failed event build or outbox insert rolls the asset back.
func (r *Repository) CreateAssetWithOutbox(
	ctx context.Context,
	creator string,
	metadataRef string,
	mintedAt time.Time,
	buildEvent func(entities.Asset) (ports.EventEnvelope, error),
) (entities.Asset, error) {
	if strings.TrimSpace(creator) == "" {
		return entities.Asset{}, domainerrors.ErrInvalidAccount
	}
	if strings.TrimSpace(metadataRef) == "" {
		return entities.Asset{}, domainerrors.ErrInvalidMetadata
	}

	row := assetModel{
		Owner:       creator,
		Creator:     creator,
		MetadataRef: metadataRef,
		MintedAt:    mintedAt.UTC(),
		UpdatedAt:   mintedAt.UTC(),
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if buildEvent == nil {
			return nil
		}
		envelope, err := buildEvent(row.toEntity())
		if err != nil {
			return err
		}
		return appendOutboxTx(tx, envelope)
	})
	if err != nil {
		return entities.Asset{}, err
	}
	return row.toEntity(), nil
}

func (r *Repository) GetAsset(ctx context.Context, assetID int64) (entities.Asset, error) {
	var row assetModel
	err := r.db.WithContext(ctx).
		Where("asset_id = ?", assetID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Asset{}, domainerrors.ErrUnknownAsset
		}
		return entities.Asset{}, err
	}
	return row.toEntity(), nil
}

func (r *Repository) TransferAsset(ctx context.Context, assetID int64, from string, to string, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return transferAssetLocked(tx, assetID, from, to, at)
	})
}

func (r *Repository) ListAssetsByOwner(ctx context.Context, owner string, limit int) ([]entities.Asset, error) {
	return r.listAssets(ctx, "owner = ?", owner, limit)
}

func (r *Repository) ListAssetsByCreator(ctx context.Context, creator string, limit int) ([]entities.Asset, error) {
	return r.listAssets(ctx, "creator = ?", creator, limit)
}

func (r *Repository) listAssets(ctx context.Context, cond string, value string, limit int) ([]entities.Asset, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []assetModel
	if err := r.db.WithContext(ctx).
		Where(cond, value).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "asset_id"}, Desc: false}).
		Limit(limit).
		Find(&rows).
		Error; err != nil {
		return nil, err
	}
	items := make([]entities.Asset, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) CreateListing(ctx context.Context, assetID int64, seller string, price int64, at time.Time) (entities.Listing, error) {
	if price <= 0 {
		return entities.Listing{}, domainerrors.ErrInvalidPrice
	}

	row := listingModel{
		AssetID:   assetID,
		Seller:    seller,
		Price:     price,
		Status:    string(entities.ListingStatusActive),
		CreatedAt: at.UTC(),
		UpdatedAt: at.UTC(),
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var asset assetModel
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("asset_id = ?", assetID).
			First(&asset).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrUnknownAsset
			}
			return err
		}
		if asset.Owner != seller {
			return domainerrors.ErrNotOwner
		}
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				if constraintName(err) == constraintOneActivePerAsset {
					return domainerrors.ErrDuplicateListing
				}
				return domainerrors.ErrRepositoryInvariantBroke
			}
			return err
		}
		return nil
	})
	if err != nil {
		return entities.Listing{}, err
	}
	return row.toEntity(), nil
}

func (r *Repository) GetListing(ctx context.Context, listingID int64) (entities.Listing, error) {
	var row listingModel
	err := r.db.WithContext(ctx).
		Where("listing_id = ?", listingID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Listing{}, domainerrors.ErrUnknownListing
		}
		return entities.Listing{}, err
	}
	return row.toEntity(), nil
}

func (r *Repository) GetActiveListingByAsset(ctx context.Context, assetID int64) (entities.Listing, bool, error) {
	var row listingModel
	err := r.db.WithContext(ctx).
		Where("asset_id = ? AND status = ?", assetID, string(entities.ListingStatusActive)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Listing{}, false, nil
		}
		return entities.Listing{}, false, err
	}
	return row.toEntity(), true, nil
}

func (r *Repository) CancelListing(ctx context.Context, listingID int64, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&listingModel{}).
		Where("listing_id = ? AND status = ?", listingID, string(entities.ListingStatusActive)).
		Updates(map[string]any{
			"status":     string(entities.ListingStatusCancelled),
			"updated_at": at.UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var row listingModel
		err := r.db.WithContext(ctx).
			Where("listing_id = ?", listingID).
			First(&row).
			Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domainerrors.ErrUnknownListing
		}
		if err != nil {
			return err
		}
		return domainerrors.ErrNotActive
	}
	return nil
}

func (r *Repository) ListOpenListings(ctx context.Context, limit int, cursor string) ([]entities.Listing, string, error) {
	if limit <= 0 {
		limit = 20
	}
	offset := decodeCursor(cursor)

	var rows []listingModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", string(entities.ListingStatusActive)).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "listing_id"}, Desc: false}).
		Offset(offset).
		Limit(limit + 1).
		Find(&rows).
		Error; err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(rows) > limit {
		nextCursor = encodeCursor(offset + limit)
		rows = rows[:limit]
	}
	items := make([]entities.Listing, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nextCursor, nil
}

// ExecuteSettlement commits the whole buy in one database transaction. The
// listing and asset rows are locked FOR UPDATE and re-validated first, so a
// racing cancellation or out-of-band transfer aborts the purchase with no
// partial write.
func (r *Repository) ExecuteSettlement(ctx context.Context, settlement ports.Settlement) error {
	sale := settlement.Sale

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var listing listingModel
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("listing_id = ?", sale.ListingID).
			First(&listing).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrUnknownListing
			}
			return err
		}
		if listing.Status != string(entities.ListingStatusActive) {
			return domainerrors.ErrNotActive
		}
		if listing.Seller != sale.Seller {
			return domainerrors.ErrNotOwner
		}

		if err := transferAssetLocked(tx, sale.AssetID, sale.Seller, sale.Buyer, sale.OccurredAt); err != nil {
			return err
		}

		if err := tx.
			Model(&listingModel{}).
			Where("listing_id = ?", sale.ListingID).
			Updates(map[string]any{
				"status":     string(entities.ListingStatusSold),
				"updated_at": sale.OccurredAt.UTC(),
			}).
			Error; err != nil {
			return err
		}

		for _, payout := range settlement.Payouts {
			if err := creditBalance(tx, payout); err != nil {
				return err
			}
			payoutRow := payoutModelFromEntity(payout)
			if err := tx.Create(&payoutRow).Error; err != nil {
				return err
			}
		}

		saleRow := saleModelFromEntity(sale)
		if err := tx.Create(&saleRow).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrRepositoryInvariantBroke
			}
			return err
		}

		return appendOutboxTx(tx, settlement.Event)
	})
}

func (r *Repository) ListSalesBySeller(ctx context.Context, seller string, limit int) ([]entities.SaleRecord, error) {
	return r.listSales(ctx, "seller = ?", seller, limit)
}

func (r *Repository) ListSales(ctx context.Context, limit int) ([]entities.SaleRecord, error) {
	return r.listSales(ctx, "", "", limit)
}

func (r *Repository) listSales(ctx context.Context, cond string, value string, limit int) ([]entities.SaleRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	tx := r.db.WithContext(ctx).Model(&saleModel{})
	if cond != "" {
		tx = tx.Where(cond, value)
	}
	var rows []saleModel
	if err := tx.
		Order(clause.OrderByColumn{Column: clause.Column{Name: "occurred_at"}, Desc: true}).
		Limit(limit).
		Find(&rows).
		Error; err != nil {
		return nil, err
	}
	items := make([]entities.SaleRecord, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) Balance(ctx context.Context, account string) (int64, error) {
	var row balanceModel
	err := r.db.WithContext(ctx).
		Where("account = ?", account).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, domainerrors.ErrUnknownAccount
		}
		return 0, err
	}
	return row.Balance, nil
}

func (r *Repository) GetRecord(ctx context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	var row idempotencyModel
	err := r.db.WithContext(ctx).
		Where("key = ?", key).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.IdempotencyRecord{}, false, nil
		}
		return ports.IdempotencyRecord{}, false, err
	}
	if !row.ExpiresAt.After(now.UTC()) {
		return ports.IdempotencyRecord{}, false, nil
	}
	return row.toPort(), true, nil
}

func (r *Repository) PutRecord(ctx context.Context, record ports.IdempotencyRecord) error {
	row := idempotencyModelFromPort(record)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoNothing: true,
		}).
		Create(&row).
		Error
}

func (r *Repository) PurgeExpiredRecords(ctx context.Context, now time.Time) (int, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", now.UTC()).
		Delete(&idempotencyModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

// appendOutboxTx inserts one pending outbox row inside the caller's
// transaction. A duplicate event ID aborts the transaction so the caller's
// other writes roll back with it.
func appendOutboxTx(tx *gorm.DB, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	row := outboxModel{
		OutboxID:     envelope.EventID,
		EventType:    envelope.EventType,
		PartitionKey: envelope.PartitionKey,
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	if err := tx.Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrRepositoryInvariantBroke
		}
		return err
	}
	return nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "created_at"}, Desc: false}).
		Limit(limit).
		Find(&rows).
		Error; err != nil {
		return nil, err
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toPort())
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	ts := publishedAt.UTC()
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", outboxID).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": &ts,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrRepositoryInvariantBroke
	}
	return nil
}

func transferAssetLocked(tx *gorm.DB, assetID int64, from string, to string, at time.Time) error {
	var asset assetModel
	if err := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("asset_id = ?", assetID).
		First(&asset).
		Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domainerrors.ErrUnknownAsset
		}
		return err
	}
	if asset.Owner != from {
		return domainerrors.ErrNotOwner
	}
	return tx.
		Model(&assetModel{}).
		Where("asset_id = ?", assetID).
		Updates(map[string]any{
			"owner":      to,
			"updated_at": at.UTC(),
		}).
		Error
}

func creditBalance(tx *gorm.DB, payout entities.Payout) error {
	row := balanceModel{
		Account:   payout.Account,
		Balance:   payout.Amount,
		UpdatedAt: payout.CreatedAt.UTC(),
	}
	return tx.
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account"}},
			DoUpdates: clause.Assignments(map[string]any{
				"balance":    gorm.Expr("marketplace_balances.balance + EXCLUDED.balance"),
				"updated_at": payout.CreatedAt.UTC(),
			}),
		}).
		Create(&row).
		Error
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

type UUIDGenerator struct{}

func (UUIDGenerator) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

type assetModel struct {
	AssetID     int64     `gorm:"column:asset_id;primaryKey;autoIncrement"`
	Owner       string    `gorm:"column:owner"`
	Creator     string    `gorm:"column:creator"`
	MetadataRef string    `gorm:"column:metadata_ref"`
	MintedAt    time.Time `gorm:"column:minted_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (assetModel) TableName() string {
	return "assets"
}

func (m assetModel) toEntity() entities.Asset {
	return entities.Asset{
		AssetID:     m.AssetID,
		Owner:       m.Owner,
		Creator:     m.Creator,
		MetadataRef: m.MetadataRef,
		MintedAt:    m.MintedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
}

type listingModel struct {
	ListingID int64     `gorm:"column:listing_id;primaryKey;autoIncrement"`
	AssetID   int64     `gorm:"column:asset_id"`
	Seller    string    `gorm:"column:seller"`
	Price     int64     `gorm:"column:price"`
	Status    string    `gorm:"column:status"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (listingModel) TableName() string {
	return "listings"
}

func (m listingModel) toEntity() entities.Listing {
	return entities.Listing{
		ListingID: m.ListingID,
		AssetID:   m.AssetID,
		Seller:    m.Seller,
		Price:     m.Price,
		Status:    entities.ListingStatus(m.Status),
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

type saleModel struct {
	SaleID      string    `gorm:"column:sale_id;primaryKey"`
	ListingID   int64     `gorm:"column:listing_id"`
	AssetID     int64     `gorm:"column:asset_id"`
	Buyer       string    `gorm:"column:buyer"`
	Seller      string    `gorm:"column:seller"`
	PriceAtSale int64     `gorm:"column:price_at_sale"`
	FeeAtSale   int64     `gorm:"column:fee_at_sale"`
	OccurredAt  time.Time `gorm:"column:occurred_at"`
}

func (saleModel) TableName() string {
	return "sale_records"
}

func saleModelFromEntity(sale entities.SaleRecord) saleModel {
	return saleModel{
		SaleID:      sale.SaleID,
		ListingID:   sale.ListingID,
		AssetID:     sale.AssetID,
		Buyer:       sale.Buyer,
		Seller:      sale.Seller,
		PriceAtSale: sale.PriceAtSale,
		FeeAtSale:   sale.FeeAtSale,
		OccurredAt:  sale.OccurredAt.UTC(),
	}
}

func (m saleModel) toEntity() entities.SaleRecord {
	return entities.SaleRecord{
		SaleID:      m.SaleID,
		ListingID:   m.ListingID,
		AssetID:     m.AssetID,
		Buyer:       m.Buyer,
		Seller:      m.Seller,
		PriceAtSale: m.PriceAtSale,
		FeeAtSale:   m.FeeAtSale,
		OccurredAt:  m.OccurredAt.UTC(),
	}
}

type payoutModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	SaleID    string    `gorm:"column:sale_id"`
	Account   string    `gorm:"column:account"`
	Amount    int64     `gorm:"column:amount"`
	Reason    string    `gorm:"column:reason"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (payoutModel) TableName() string {
	return "sale_payouts"
}

func payoutModelFromEntity(payout entities.Payout) payoutModel {
	return payoutModel{
		SaleID:    payout.SaleID,
		Account:   payout.Account,
		Amount:    payout.Amount,
		Reason:    string(payout.Reason),
		CreatedAt: payout.CreatedAt.UTC(),
	}
}

type balanceModel struct {
	Account   string    `gorm:"column:account;primaryKey"`
	Balance   int64     `gorm:"column:balance"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (balanceModel) TableName() string {
	return "marketplace_balances"
}

type idempotencyModel struct {
	Key             string    `gorm:"column:key;primaryKey"`
	RequestHash     string    `gorm:"column:request_hash"`
	ResponsePayload []byte    `gorm:"column:response_payload"`
	ExpiresAt       time.Time `gorm:"column:expires_at"`
}

func (idempotencyModel) TableName() string {
	return "marketplace_idempotency"
}

func idempotencyModelFromPort(record ports.IdempotencyRecord) idempotencyModel {
	return idempotencyModel{
		Key:             record.Key,
		RequestHash:     record.RequestHash,
		ResponsePayload: append([]byte(nil), record.ResponsePayload...),
		ExpiresAt:       record.ExpiresAt.UTC(),
	}
}

func (m idempotencyModel) toPort() ports.IdempotencyRecord {
	return ports.IdempotencyRecord{
		Key:             m.Key,
		RequestHash:     m.RequestHash,
		ResponsePayload: append([]byte(nil), m.ResponsePayload...),
		ExpiresAt:       m.ExpiresAt.UTC(),
	}
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "marketplace_outbox"
}

func (m outboxModel) toPort() ports.OutboxMessage {
	return ports.OutboxMessage{
		OutboxID:     m.OutboxID,
		EventType:    m.EventType,
		PartitionKey: m.PartitionKey,
		Payload:      append([]byte(nil), m.Payload...),
		CreatedAt:    m.CreatedAt.UTC(),
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func constraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

func decodeCursor(cursor string) int {
	if strings.TrimSpace(cursor) == "" {
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

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}
