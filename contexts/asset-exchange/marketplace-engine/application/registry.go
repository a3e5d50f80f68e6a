package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"metamarket/contexts/asset-exchange/marketplace-engine/domain/entities"
	domainerrors "metamarket/contexts/asset-exchange/marketplace-engine/domain/errors"
	"metamarket/contexts/asset-exchange/marketplace-engine/ports"
)

const assetMintedEventType = "asset.minted"

// RegistryService is the authoritative view of asset existence and ownership.
// TransferAsset on the repository is the single ownership mutation point; the
// settlement repository reuses it inside the settlement transaction.
type RegistryService struct {
	Assets                          ports.AssetRepository
	Idempotency                     ports.IdempotencyStore
	Clock                           ports.Clock
	IDGen                           ports.IDGenerator
	IdempotencyTTL                  time.Duration
	DisableAssetMintedEventEmission bool
	Logger                          *slog.Logger
}

// Mint creates a new asset owned by its creator. A non-blank idempotency key
// makes the call replayable: the same key with the same payload returns the
// original asset instead of minting twice.
func (s RegistryService) Mint(
	ctx context.Context,
	idempotencyKey string,
	creator string,
	metadataRef string,
) (entities.Asset, bool, error) {
	logger := ResolveLogger(s.Logger)
	creator = strings.TrimSpace(creator)
	metadataRef = strings.TrimSpace(metadataRef)
	if creator == "" {
		return entities.Asset{}, false, domainerrors.ErrInvalidAccount
	}
	if metadataRef == "" {
		return entities.Asset{}, false, domainerrors.ErrInvalidMetadata
	}

	now := s.now()
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	requestHash := hashFields("mint", creator, metadataRef)

	if idempotencyKey != "" {
		record, found, err := s.Idempotency.GetRecord(ctx, idempotencyKey, now)
		if err != nil {
			return entities.Asset{}, false, err
		}
		if found {
			if record.RequestHash != requestHash {
				return entities.Asset{}, false, domainerrors.ErrIdempotencyConflict
			}
			var replayed entities.Asset
			if err := json.Unmarshal(record.ResponsePayload, &replayed); err != nil {
				return entities.Asset{}, false, err
			}
			return replayed, true, nil
		}
	}

	// The asset row and its asset.minted outbox row commit together, so a
	// failed event write never leaves a minted asset behind.
	var buildEvent func(entities.Asset) (ports.EventEnvelope, error)
	if !s.DisableAssetMintedEventEmission {
		buildEvent = func(asset entities.Asset) (ports.EventEnvelope, error) {
			return s.buildAssetMintedEnvelope(ctx, asset)
		}
	}

	asset, err := s.Assets.CreateAssetWithOutbox(ctx, creator, metadataRef, now, buildEvent)
	if err != nil {
		logger.Error("asset mint failed",
			"event", "asset_mint_failed",
			"module", "asset-exchange/marketplace-engine",
			"layer", "application",
			"creator", creator,
			"error", err.Error(),
		)
		return entities.Asset{}, false, err
	}

	if idempotencyKey != "" {
		payload, err := json.Marshal(asset)
		if err != nil {
			return entities.Asset{}, false, err
		}
		if err := s.Idempotency.PutRecord(ctx, ports.IdempotencyRecord{
			Key:             idempotencyKey,
			RequestHash:     requestHash,
			ResponsePayload: payload,
			ExpiresAt:       now.Add(s.idempotencyTTL()),
		}); err != nil {
			return entities.Asset{}, false, err
		}
	}

	logger.Info("asset minted",
		"event", "asset_minted",
		"module", "asset-exchange/marketplace-engine",
		"layer", "application",
		"asset_id", asset.AssetID,
		"creator", asset.Creator,
	)
	return asset, false, nil
}

// Transfer is the direct owner-initiated ownership change outside the
// marketplace flow. Settled purchases go through SettlementService instead.
func (s RegistryService) Transfer(ctx context.Context, assetID int64, from string, to string) error {
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" || to == "" {
		return domainerrors.ErrInvalidAccount
	}

	if err := s.Assets.TransferAsset(ctx, assetID, from, to, s.now()); err != nil {
		return err
	}

	ResolveLogger(s.Logger).Info("asset transferred",
		"event", "asset_transferred",
		"module", "asset-exchange/marketplace-engine",
		"layer", "application",
		"asset_id", assetID,
		"from", from,
		"to", to,
	)
	return nil
}

func (s RegistryService) OwnerOf(ctx context.Context, assetID int64) (string, error) {
	asset, err := s.Assets.GetAsset(ctx, assetID)
	if err != nil {
		return "", err
	}
	return asset.Owner, nil
}

func (s RegistryService) AssetsByOwner(ctx context.Context, owner string, limit int) ([]entities.Asset, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, domainerrors.ErrInvalidAccount
	}
	return s.Assets.ListAssetsByOwner(ctx, owner, normalizeLimit(limit))
}

func (s RegistryService) AssetsByCreator(ctx context.Context, creator string, limit int) ([]entities.Asset, error) {
	creator = strings.TrimSpace(creator)
	if creator == "" {
		return nil, domainerrors.ErrInvalidAccount
	}
	return s.Assets.ListAssetsByCreator(ctx, creator, normalizeLimit(limit))
}

func (s RegistryService) buildAssetMintedEnvelope(ctx context.Context, asset entities.Asset) (ports.EventEnvelope, error) {
	eventID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	data, err := json.Marshal(map[string]any{
		"asset_id":     asset.AssetID,
		"creator":      asset.Creator,
		"owner":        asset.Owner,
		"metadata_ref": asset.MetadataRef,
		"minted_at":    asset.MintedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	return ports.EventEnvelope{
		EventID:          eventID,
		EventType:        assetMintedEventType,
		OccurredAt:       asset.MintedAt.UTC(),
		SourceService:    "marketplace-engine",
		TraceID:          eventID,
		SchemaVersion:    1,
		PartitionKeyPath: "asset_id",
		PartitionKey:     fmt.Sprintf("%d", asset.AssetID),
		Data:             data,
	}, nil
}

func (s RegistryService) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now().UTC()
}

func (s RegistryService) idempotencyTTL() time.Duration {
	if s.IdempotencyTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.IdempotencyTTL
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}

func hashFields(fields ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}
