package marketplaceengine

import (
	"log/slog"
	"time"

	httpadapter "metamarket/contexts/asset-exchange/marketplace-engine/adapters/http"
	"metamarket/contexts/asset-exchange/marketplace-engine/adapters/memory"
	"metamarket/contexts/asset-exchange/marketplace-engine/application"
	"metamarket/contexts/asset-exchange/marketplace-engine/ports"
)

type Module struct {
	Handler httpadapter.Handler
	Facade  application.Facade
	Store   *memory.Store
}

type Dependencies struct {
	Assets                          ports.AssetRepository
	Listings                        ports.ListingRepository
	Settlements                     ports.SettlementRepository
	Funds                           ports.FundsLedger
	Idempotency                     ports.IdempotencyStore
	Clock                           ports.Clock
	IDGenerator                     ports.IDGenerator
	FeeBasisPoints                  int64
	FeeSinkAccount                  string
	IdempotencyTTL                  time.Duration
	DisableAssetMintedEventEmission bool
	Logger                          *slog.Logger
}

func NewModule(deps Dependencies) Module {
	if deps.FeeSinkAccount == "" {
		deps.FeeSinkAccount = "marketplace-treasury"
	}

	registry := application.RegistryService{
		Assets:                          deps.Assets,
		Idempotency:                     deps.Idempotency,
		Clock:                           deps.Clock,
		IDGen:                           deps.IDGenerator,
		IdempotencyTTL:                  deps.IdempotencyTTL,
		DisableAssetMintedEventEmission: deps.DisableAssetMintedEventEmission,
		Logger:                          deps.Logger,
	}
	listings := application.ListingService{
		Assets:         deps.Assets,
		Listings:       deps.Listings,
		Idempotency:    deps.Idempotency,
		Clock:          deps.Clock,
		IdempotencyTTL: deps.IdempotencyTTL,
		Logger:         deps.Logger,
	}
	settlement := application.SettlementService{
		Assets:         deps.Assets,
		Listings:       deps.Listings,
		Settlements:    deps.Settlements,
		Funds:          deps.Funds,
		Idempotency:    deps.Idempotency,
		Clock:          deps.Clock,
		IDGen:          deps.IDGenerator,
		Guard:          application.NewSettlementGuard(),
		FeeBasisPoints: deps.FeeBasisPoints,
		FeeSinkAccount: deps.FeeSinkAccount,
		IdempotencyTTL: deps.IdempotencyTTL,
		Logger:         deps.Logger,
	}

	facade := application.Facade{
		Registry:   registry,
		Listings:   listings,
		Settlement: settlement,
	}
	return Module{
		Handler: httpadapter.Handler{
			Facade: facade,
			Logger: deps.Logger,
		},
		Facade: facade,
	}
}

func NewInMemoryModule(feeBasisPoints int64, logger *slog.Logger) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Assets:         store,
		Listings:       store,
		Settlements:    store,
		Funds:          store,
		Idempotency:    store,
		Clock:          store,
		IDGenerator:    store,
		FeeBasisPoints: feeBasisPoints,
		IdempotencyTTL: 7 * 24 * time.Hour,
		Logger:         logger,
	})
	module.Store = store
	return module
}
