package unit

import (
	"context"
	"errors"
	"testing"

	marketplaceengine "metamarket/contexts/asset-exchange/marketplace-engine"
	workerapp "metamarket/contexts/asset-exchange/marketplace-engine/application/workers"
	domainerrors "metamarket/contexts/asset-exchange/marketplace-engine/domain/errors"
	httptransport "metamarket/contexts/asset-exchange/marketplace-engine/transport/http"
	"metamarket/internal/platform/messaging"
)

func TestMarketplaceSaleLifecycle(t *testing.T) {
	module := marketplaceengine.NewInMemoryModule(250, nil)

	minted, err := module.Handler.MintAssetHandler(context.Background(), "idem-mint", httptransport.MintAssetRequest{
		Creator:     "alice",
		MetadataRef: "ipfs://metadata/artwork-1",
	})
	if err != nil {
		t.Fatalf("mint should succeed: %v", err)
	}

	listed, err := module.Handler.CreateListingHandler(context.Background(), "idem-list", httptransport.CreateListingRequest{
		AssetID: minted.Data.AssetID,
		Seller:  "alice",
		Price:   100,
	})
	if err != nil {
		t.Fatalf("listing should succeed: %v", err)
	}

	active, err := module.Handler.ActiveListingHandler(context.Background(), minted.Data.AssetID)
	if err != nil {
		t.Fatalf("active listing lookup should succeed: %v", err)
	}
	if !active.Found || active.Data.ListingID != listed.Data.ListingID {
		t.Fatalf("expected active listing %d, got %+v", listed.Data.ListingID, active)
	}

	bought, err := module.Handler.BuyListingHandler(context.Background(), "idem-buy", listed.Data.ListingID, httptransport.BuyListingRequest{
		Buyer:          "bob",
		TenderedAmount: 100,
	})
	if err != nil {
		t.Fatalf("buy should succeed: %v", err)
	}
	if bought.Data.FeeAtSale != 2 || bought.Data.PriceAtSale != 100 {
		t.Fatalf("expected fee 2 on price 100, got fee %d price %d", bought.Data.FeeAtSale, bought.Data.PriceAtSale)
	}

	owner, err := module.Handler.OwnerOfHandler(context.Background(), minted.Data.AssetID)
	if err != nil {
		t.Fatalf("owner lookup should succeed: %v", err)
	}
	if owner.Data.Owner != "bob" {
		t.Fatalf("expected bob as owner, got %s", owner.Data.Owner)
	}

	sellerBalance, err := module.Handler.BalanceHandler(context.Background(), "alice")
	if err != nil {
		t.Fatalf("balance lookup should succeed: %v", err)
	}
	if sellerBalance.Data.Balance != 98 {
		t.Fatalf("expected seller proceeds 98, got %d", sellerBalance.Data.Balance)
	}

	sales, err := module.Handler.ListSalesHandler(context.Background(), "alice", 10)
	if err != nil {
		t.Fatalf("sales listing should succeed: %v", err)
	}
	if len(sales.Data) != 1 || sales.Data[0].SaleID != bought.Data.SaleID {
		t.Fatalf("expected the settled sale in the ledger, got %+v", sales.Data)
	}
}

func TestMarketplaceBuyReplay(t *testing.T) {
	module := marketplaceengine.NewInMemoryModule(250, nil)

	minted, err := module.Handler.MintAssetHandler(context.Background(), "", httptransport.MintAssetRequest{
		Creator:     "alice",
		MetadataRef: "ipfs://metadata/artwork-2",
	})
	if err != nil {
		t.Fatalf("mint should succeed: %v", err)
	}
	listed, err := module.Handler.CreateListingHandler(context.Background(), "", httptransport.CreateListingRequest{
		AssetID: minted.Data.AssetID,
		Seller:  "alice",
		Price:   100,
	})
	if err != nil {
		t.Fatalf("listing should succeed: %v", err)
	}

	first, err := module.Handler.BuyListingHandler(context.Background(), "idem-buy-replay", listed.Data.ListingID, httptransport.BuyListingRequest{
		Buyer:          "bob",
		TenderedAmount: 100,
	})
	if err != nil {
		t.Fatalf("first buy should succeed: %v", err)
	}

	second, err := module.Handler.BuyListingHandler(context.Background(), "idem-buy-replay", listed.Data.ListingID, httptransport.BuyListingRequest{
		Buyer:          "bob",
		TenderedAmount: 100,
	})
	if err != nil {
		t.Fatalf("second buy should replay: %v", err)
	}
	if !second.Replayed {
		t.Fatalf("expected replayed response")
	}
	if second.Data.SaleID != first.Data.SaleID {
		t.Fatalf("expected same sale id, got %s and %s", first.Data.SaleID, second.Data.SaleID)
	}
}

func TestMarketplaceCancelThenBuyFails(t *testing.T) {
	module := marketplaceengine.NewInMemoryModule(250, nil)

	minted, err := module.Handler.MintAssetHandler(context.Background(), "", httptransport.MintAssetRequest{
		Creator:     "alice",
		MetadataRef: "ipfs://metadata/artwork-3",
	})
	if err != nil {
		t.Fatalf("mint should succeed: %v", err)
	}
	listed, err := module.Handler.CreateListingHandler(context.Background(), "", httptransport.CreateListingRequest{
		AssetID: minted.Data.AssetID,
		Seller:  "alice",
		Price:   100,
	})
	if err != nil {
		t.Fatalf("listing should succeed: %v", err)
	}

	if _, err := module.Handler.CancelListingHandler(context.Background(), listed.Data.ListingID, httptransport.CancelListingRequest{
		Caller: "alice",
	}); err != nil {
		t.Fatalf("cancel should succeed: %v", err)
	}

	_, err = module.Handler.BuyListingHandler(context.Background(), "", listed.Data.ListingID, httptransport.BuyListingRequest{
		Buyer:          "bob",
		TenderedAmount: 100,
	})
	if !errors.Is(err, domainerrors.ErrNotActive) {
		t.Fatalf("expected not active, got %v", err)
	}

	owner, err := module.Handler.OwnerOfHandler(context.Background(), minted.Data.AssetID)
	if err != nil {
		t.Fatalf("owner lookup should succeed: %v", err)
	}
	if owner.Data.Owner != "alice" {
		t.Fatalf("ownership must not move on a failed buy, got %s", owner.Data.Owner)
	}
}

func TestMarketplaceOutboxRelayDrainsPendingEvents(t *testing.T) {
	module := marketplaceengine.NewInMemoryModule(250, nil)

	if _, err := module.Handler.MintAssetHandler(context.Background(), "", httptransport.MintAssetRequest{
		Creator:     "alice",
		MetadataRef: "ipfs://metadata/artwork-4",
	}); err != nil {
		t.Fatalf("mint should succeed: %v", err)
	}

	pending, err := module.Store.ListPendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("pending outbox lookup should succeed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending event before relay, got %d", len(pending))
	}

	bus, err := messaging.NewKafka(nil, nil)
	if err != nil {
		t.Fatalf("bus construction should succeed: %v", err)
	}
	relay := workerapp.OutboxRelay{
		Outbox:    module.Store,
		Publisher: bus,
		Topic:     "marketplace.events",
		BatchSize: 10,
	}
	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("relay cycle should succeed: %v", err)
	}

	pending, err = module.Store.ListPendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("pending outbox lookup should succeed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("relay must drain the pending set, got %d", len(pending))
	}
}
