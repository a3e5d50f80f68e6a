package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"metamarket/contexts/asset-exchange/marketplace-engine/adapters/memory"
	"metamarket/contexts/asset-exchange/marketplace-engine/application"
	domainerrors "metamarket/contexts/asset-exchange/marketplace-engine/domain/errors"
)

type failingIDGenerator struct{}

func (failingIDGenerator) NewID(context.Context) (string, error) {
	return "", errors.New("id generation failed")
}

func TestMintAssignsOwnershipToCreator(t *testing.T) {
	facade, store := newFacade(250)

	asset, replayed, err := facade.Mint(context.Background(), "", "creator", "ipfs://metadata/1")
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if replayed {
		t.Fatalf("first mint must not be a replay")
	}
	if asset.Owner != "creator" || asset.Creator != "creator" {
		t.Fatalf("creator must own a freshly minted asset, got owner %s creator %s", asset.Owner, asset.Creator)
	}
	if asset.AssetID <= 0 {
		t.Fatalf("expected positive asset id, got %d", asset.AssetID)
	}

	pending, err := store.ListPendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("pending outbox lookup failed: %v", err)
	}
	if len(pending) != 1 || pending[0].EventType != "asset.minted" {
		t.Fatalf("expected one asset.minted outbox row, got %+v", pending)
	}
}

func TestMintAbortsWhenEventBuildFails(t *testing.T) {
	store := memory.NewStore()
	registry := application.RegistryService{
		Assets:         store,
		Idempotency:    store,
		Clock:          store,
		IDGen:          failingIDGenerator{},
		IdempotencyTTL: time.Hour,
	}

	if _, _, err := registry.Mint(context.Background(), "idem-mint", "creator", "ipfs://metadata/1"); err == nil {
		t.Fatalf("expected mint to fail when the event cannot be built")
	}

	// The failed mint must not leave a half-committed asset behind.
	assets, err := store.ListAssetsByCreator(context.Background(), "creator", 10)
	if err != nil {
		t.Fatalf("list by creator failed: %v", err)
	}
	if len(assets) != 0 {
		t.Fatalf("expected no assets after failed mint, got %d", len(assets))
	}

	// Retrying the same key after the fault clears mints exactly one asset.
	registry.IDGen = store
	if _, _, err := registry.Mint(context.Background(), "idem-mint", "creator", "ipfs://metadata/1"); err != nil {
		t.Fatalf("retry mint failed: %v", err)
	}
	assets, err = store.ListAssetsByCreator(context.Background(), "creator", 10)
	if err != nil {
		t.Fatalf("list by creator failed: %v", err)
	}
	if len(assets) != 1 {
		t.Fatalf("expected exactly one asset after retry, got %d", len(assets))
	}
}

func TestMintValidation(t *testing.T) {
	facade, _ := newFacade(250)

	if _, _, err := facade.Mint(context.Background(), "", "", "ipfs://metadata/1"); !errors.Is(err, domainerrors.ErrInvalidAccount) {
		t.Fatalf("expected invalid account, got %v", err)
	}
	if _, _, err := facade.Mint(context.Background(), "", "creator", "   "); !errors.Is(err, domainerrors.ErrInvalidMetadata) {
		t.Fatalf("expected invalid metadata, got %v", err)
	}
}

func TestMintIdempotencyReplay(t *testing.T) {
	facade, _ := newFacade(250)

	first, _, err := facade.Mint(context.Background(), "idem-mint", "creator", "ipfs://metadata/1")
	if err != nil {
		t.Fatalf("first mint failed: %v", err)
	}

	second, replayed, err := facade.Mint(context.Background(), "idem-mint", "creator", "ipfs://metadata/1")
	if err != nil {
		t.Fatalf("replayed mint failed: %v", err)
	}
	if !replayed {
		t.Fatalf("expected replayed response")
	}
	if second.AssetID != first.AssetID {
		t.Fatalf("expected same asset id, got %d and %d", first.AssetID, second.AssetID)
	}

	assets, err := facade.AssetsByCreator(context.Background(), "creator", 10)
	if err != nil {
		t.Fatalf("list by creator failed: %v", err)
	}
	if len(assets) != 1 {
		t.Fatalf("replay must not mint twice, got %d assets", len(assets))
	}
}

func TestTransferMovesOwnership(t *testing.T) {
	facade, _ := newFacade(250)

	asset, _, err := facade.Mint(context.Background(), "", "creator", "ipfs://metadata/1")
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	if err := facade.Transfer(context.Background(), asset.AssetID, "creator", "collector"); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	owner, err := facade.OwnerOf(context.Background(), asset.AssetID)
	if err != nil {
		t.Fatalf("owner lookup failed: %v", err)
	}
	if owner != "collector" {
		t.Fatalf("expected collector, got %s", owner)
	}

	byOwner, err := facade.AssetsByOwner(context.Background(), "collector", 10)
	if err != nil {
		t.Fatalf("list by owner failed: %v", err)
	}
	if len(byOwner) != 1 || byOwner[0].AssetID != asset.AssetID {
		t.Fatalf("expected transferred asset under collector, got %+v", byOwner)
	}

	byCreator, err := facade.AssetsByCreator(context.Background(), "creator", 10)
	if err != nil {
		t.Fatalf("list by creator failed: %v", err)
	}
	if len(byCreator) != 1 {
		t.Fatalf("creator attribution must survive transfer, got %d assets", len(byCreator))
	}
}

func TestTransferRejectsWrongSender(t *testing.T) {
	facade, _ := newFacade(250)

	asset, _, err := facade.Mint(context.Background(), "", "creator", "ipfs://metadata/1")
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	err = facade.Transfer(context.Background(), asset.AssetID, "impostor", "collector")
	if !errors.Is(err, domainerrors.ErrNotOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}

	owner, err := facade.OwnerOf(context.Background(), asset.AssetID)
	if err != nil {
		t.Fatalf("owner lookup failed: %v", err)
	}
	if owner != "creator" {
		t.Fatalf("ownership must not move, got %s", owner)
	}
}

func TestOwnerOfUnknownAsset(t *testing.T) {
	facade, _ := newFacade(250)

	if _, err := facade.OwnerOf(context.Background(), 404); !errors.Is(err, domainerrors.ErrUnknownAsset) {
		t.Fatalf("expected unknown asset, got %v", err)
	}
	if err := facade.Transfer(context.Background(), 404, "a", "b"); !errors.Is(err, domainerrors.ErrUnknownAsset) {
		t.Fatalf("expected unknown asset on transfer, got %v", err)
	}
}
