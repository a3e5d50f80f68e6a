package httpadapter

import (
	"context"
	"log/slog"
	"time"

	"metamarket/contexts/asset-exchange/marketplace-engine/application"
	"metamarket/contexts/asset-exchange/marketplace-engine/domain/entities"
	httptransport "metamarket/contexts/asset-exchange/marketplace-engine/transport/http"
)

type Handler struct {
	Facade application.Facade
	Logger *slog.Logger
}

func (h Handler) MintAssetHandler(
	ctx context.Context,
	idempotencyKey string,
	req httptransport.MintAssetRequest,
) (httptransport.MintAssetResponse, error) {
	asset, replayed, err := h.Facade.Mint(ctx, idempotencyKey, req.Creator, req.MetadataRef)
	if err != nil {
		return httptransport.MintAssetResponse{}, err
	}
	return httptransport.MintAssetResponse{
		Status:   "success",
		Replayed: replayed,
		Data:     toAssetDTO(asset),
	}, nil
}

func (h Handler) TransferAssetHandler(
	ctx context.Context,
	assetID int64,
	req httptransport.TransferAssetRequest,
) (httptransport.TransferAssetResponse, error) {
	if err := h.Facade.Transfer(ctx, assetID, req.From, req.To); err != nil {
		return httptransport.TransferAssetResponse{}, err
	}
	return httptransport.TransferAssetResponse{Status: "success"}, nil
}

func (h Handler) OwnerOfHandler(ctx context.Context, assetID int64) (httptransport.OwnerOfResponse, error) {
	owner, err := h.Facade.OwnerOf(ctx, assetID)
	if err != nil {
		return httptransport.OwnerOfResponse{}, err
	}
	resp := httptransport.OwnerOfResponse{Status: "success"}
	resp.Data.AssetID = assetID
	resp.Data.Owner = owner
	return resp, nil
}

func (h Handler) ListAssetsByOwnerHandler(ctx context.Context, owner string, limit int) (httptransport.ListAssetsResponse, error) {
	assets, err := h.Facade.AssetsByOwner(ctx, owner, limit)
	if err != nil {
		return httptransport.ListAssetsResponse{}, err
	}
	return toListAssetsResponse(assets), nil
}

func (h Handler) ListAssetsByCreatorHandler(ctx context.Context, creator string, limit int) (httptransport.ListAssetsResponse, error) {
	assets, err := h.Facade.AssetsByCreator(ctx, creator, limit)
	if err != nil {
		return httptransport.ListAssetsResponse{}, err
	}
	return toListAssetsResponse(assets), nil
}

func (h Handler) CreateListingHandler(
	ctx context.Context,
	idempotencyKey string,
	req httptransport.CreateListingRequest,
) (httptransport.CreateListingResponse, error) {
	listing, replayed, err := h.Facade.CreateListing(ctx, idempotencyKey, req.AssetID, req.Seller, req.Price)
	if err != nil {
		return httptransport.CreateListingResponse{}, err
	}
	return httptransport.CreateListingResponse{
		Status:   "success",
		Replayed: replayed,
		Data:     toListingDTO(listing),
	}, nil
}

func (h Handler) CancelListingHandler(
	ctx context.Context,
	listingID int64,
	req httptransport.CancelListingRequest,
) (httptransport.CancelListingResponse, error) {
	if err := h.Facade.CancelListing(ctx, listingID, req.Caller); err != nil {
		return httptransport.CancelListingResponse{}, err
	}
	return httptransport.CancelListingResponse{Status: "success"}, nil
}

func (h Handler) ActiveListingHandler(ctx context.Context, assetID int64) (httptransport.ActiveListingResponse, error) {
	listing, found, err := h.Facade.ActiveListing(ctx, assetID)
	if err != nil {
		return httptransport.ActiveListingResponse{}, err
	}
	resp := httptransport.ActiveListingResponse{
		Status: "success",
		Found:  found,
	}
	if found {
		dto := toListingDTO(listing)
		resp.Data = &dto
	}
	return resp, nil
}

func (h Handler) OpenListingsHandler(ctx context.Context, limit int, cursor string) (httptransport.OpenListingsResponse, error) {
	listings, nextCursor, err := h.Facade.OpenListings(ctx, limit, cursor)
	if err != nil {
		return httptransport.OpenListingsResponse{}, err
	}
	resp := httptransport.OpenListingsResponse{
		Status:     "success",
		Data:       make([]httptransport.ListingDTO, 0, len(listings)),
		NextCursor: nextCursor,
	}
	for _, listing := range listings {
		resp.Data = append(resp.Data, toListingDTO(listing))
	}
	return resp, nil
}

func (h Handler) BuyListingHandler(
	ctx context.Context,
	idempotencyKey string,
	listingID int64,
	req httptransport.BuyListingRequest,
) (httptransport.BuyListingResponse, error) {
	sale, replayed, err := h.Facade.Buy(ctx, idempotencyKey, listingID, req.Buyer, req.TenderedAmount)
	if err != nil {
		return httptransport.BuyListingResponse{}, err
	}
	return httptransport.BuyListingResponse{
		Status:   "success",
		Replayed: replayed,
		Data:     toSaleRecordDTO(sale),
	}, nil
}

func (h Handler) ListSalesHandler(ctx context.Context, seller string, limit int) (httptransport.ListSalesResponse, error) {
	var (
		sales []entities.SaleRecord
		err   error
	)
	if seller == "" {
		sales, err = h.Facade.Sales(ctx, limit)
	} else {
		sales, err = h.Facade.SalesBySeller(ctx, seller, limit)
	}
	if err != nil {
		return httptransport.ListSalesResponse{}, err
	}
	resp := httptransport.ListSalesResponse{
		Status: "success",
		Data:   make([]httptransport.SaleRecordDTO, 0, len(sales)),
	}
	for _, sale := range sales {
		resp.Data = append(resp.Data, toSaleRecordDTO(sale))
	}
	return resp, nil
}

func (h Handler) BalanceHandler(ctx context.Context, account string) (httptransport.BalanceResponse, error) {
	balance, err := h.Facade.Balance(ctx, account)
	if err != nil {
		return httptransport.BalanceResponse{}, err
	}
	resp := httptransport.BalanceResponse{Status: "success"}
	resp.Data.Account = account
	resp.Data.Balance = balance
	return resp, nil
}

func toAssetDTO(asset entities.Asset) httptransport.AssetDTO {
	return httptransport.AssetDTO{
		AssetID:     asset.AssetID,
		Owner:       asset.Owner,
		Creator:     asset.Creator,
		MetadataRef: asset.MetadataRef,
		MintedAt:    asset.MintedAt.UTC().Format(time.RFC3339),
	}
}

func toListAssetsResponse(assets []entities.Asset) httptransport.ListAssetsResponse {
	resp := httptransport.ListAssetsResponse{
		Status: "success",
		Data:   make([]httptransport.AssetDTO, 0, len(assets)),
	}
	for _, asset := range assets {
		resp.Data = append(resp.Data, toAssetDTO(asset))
	}
	return resp
}

func toListingDTO(listing entities.Listing) httptransport.ListingDTO {
	return httptransport.ListingDTO{
		ListingID: listing.ListingID,
		AssetID:   listing.AssetID,
		Seller:    listing.Seller,
		Price:     listing.Price,
		Status:    string(listing.Status),
		CreatedAt: listing.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toSaleRecordDTO(sale entities.SaleRecord) httptransport.SaleRecordDTO {
	return httptransport.SaleRecordDTO{
		SaleID:      sale.SaleID,
		ListingID:   sale.ListingID,
		AssetID:     sale.AssetID,
		Buyer:       sale.Buyer,
		Seller:      sale.Seller,
		PriceAtSale: sale.PriceAtSale,
		FeeAtSale:   sale.FeeAtSale,
		OccurredAt:  sale.OccurredAt.UTC().Format(time.RFC3339),
	}
}
