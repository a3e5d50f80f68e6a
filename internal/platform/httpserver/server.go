package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	marketplaceengine "metamarket/contexts/asset-exchange/marketplace-engine"
	marketdomainerrors "metamarket/contexts/asset-exchange/marketplace-engine/domain/errors"
	markethttp "metamarket/contexts/asset-exchange/marketplace-engine/transport/http"

	httpSwagger "github.com/swaggo/http-swagger"
	_ "metamarket/internal/platform/httpserver/docs"
)

type Server struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	addr        string
	marketplace marketplaceengine.Module
}

func New(marketplace marketplaceengine.Module, logger *slog.Logger, addr string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:         http.NewServeMux(),
		logger:      logger,
		addr:        addr,
		marketplace: marketplace,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	return http.ListenAndServe(s.addr, s.mux)
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	s.mux.HandleFunc("POST /v1/market/assets", s.handleMintAsset)
	s.mux.HandleFunc("GET /v1/market/assets", s.handleListAssets)
	s.mux.HandleFunc("GET /v1/market/assets/{asset_id}/owner", s.handleOwnerOf)
	s.mux.HandleFunc("POST /v1/market/assets/{asset_id}/transfer", s.handleTransferAsset)
	s.mux.HandleFunc("GET /v1/market/assets/{asset_id}/listing", s.handleActiveListing)

	s.mux.HandleFunc("POST /v1/market/listings", s.handleCreateListing)
	s.mux.HandleFunc("GET /v1/market/listings", s.handleOpenListings)
	s.mux.HandleFunc("POST /v1/market/listings/{listing_id}/cancel", s.handleCancelListing)
	s.mux.HandleFunc("POST /v1/market/listings/{listing_id}/buy", s.handleBuyListing)

	s.mux.HandleFunc("GET /v1/market/sales", s.handleListSales)
	s.mux.HandleFunc("GET /v1/market/accounts/{account}/balance", s.handleBalance)
}

func (s *Server) handleMintAsset(w http.ResponseWriter, r *http.Request) {
	var req markethttp.MintAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.marketplace.Handler.MintAssetHandler(r.Context(), r.Header.Get("Idempotency-Key"), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parseLimit(query.Get("limit"))

	owner := strings.TrimSpace(query.Get("owner"))
	creator := strings.TrimSpace(query.Get("creator"))
	if owner == "" && creator == "" {
		writeError(w, http.StatusBadRequest, "missing_filter", "owner or creator query parameter is required")
		return
	}

	var (
		resp markethttp.ListAssetsResponse
		err  error
	)
	if owner != "" {
		resp, err = s.marketplace.Handler.ListAssetsByOwnerHandler(r.Context(), owner, limit)
	} else {
		resp, err = s.marketplace.Handler.ListAssetsByCreatorHandler(r.Context(), creator, limit)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOwnerOf(w http.ResponseWriter, r *http.Request) {
	assetID, ok := parseID(w, r.PathValue("asset_id"), "asset_id")
	if !ok {
		return
	}
	resp, err := s.marketplace.Handler.OwnerOfHandler(r.Context(), assetID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTransferAsset(w http.ResponseWriter, r *http.Request) {
	assetID, ok := parseID(w, r.PathValue("asset_id"), "asset_id")
	if !ok {
		return
	}
	var req markethttp.TransferAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.marketplace.Handler.TransferAssetHandler(r.Context(), assetID, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleActiveListing(w http.ResponseWriter, r *http.Request) {
	assetID, ok := parseID(w, r.PathValue("asset_id"), "asset_id")
	if !ok {
		return
	}
	resp, err := s.marketplace.Handler.ActiveListingHandler(r.Context(), assetID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var req markethttp.CreateListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.marketplace.Handler.CreateListingHandler(r.Context(), r.Header.Get("Idempotency-Key"), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleOpenListings(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	resp, err := s.marketplace.Handler.OpenListingsHandler(
		r.Context(),
		parseLimit(query.Get("limit")),
		query.Get("cursor"),
	)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelListing(w http.ResponseWriter, r *http.Request) {
	listingID, ok := parseID(w, r.PathValue("listing_id"), "listing_id")
	if !ok {
		return
	}
	var req markethttp.CancelListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.marketplace.Handler.CancelListingHandler(r.Context(), listingID, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBuyListing(w http.ResponseWriter, r *http.Request) {
	listingID, ok := parseID(w, r.PathValue("listing_id"), "listing_id")
	if !ok {
		return
	}
	var req markethttp.BuyListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.marketplace.Handler.BuyListingHandler(
		r.Context(),
		r.Header.Get("Idempotency-Key"),
		listingID,
		req,
	)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSales(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	resp, err := s.marketplace.Handler.ListSalesHandler(
		r.Context(),
		strings.TrimSpace(query.Get("seller")),
		parseLimit(query.Get("limit")),
	)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	resp, err := s.marketplace.Handler.BalanceHandler(r.Context(), r.PathValue("account"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, marketdomainerrors.ErrInvalidMetadata):
		writeError(w, http.StatusUnprocessableEntity, "invalid_metadata", err.Error())
	case errors.Is(err, marketdomainerrors.ErrInvalidAccount):
		writeError(w, http.StatusBadRequest, "invalid_account", err.Error())
	case errors.Is(err, marketdomainerrors.ErrInvalidPrice):
		writeError(w, http.StatusUnprocessableEntity, "invalid_price", err.Error())
	case errors.Is(err, marketdomainerrors.ErrUnknownAsset):
		writeError(w, http.StatusNotFound, "unknown_asset", err.Error())
	case errors.Is(err, marketdomainerrors.ErrUnknownListing):
		writeError(w, http.StatusNotFound, "unknown_listing", err.Error())
	case errors.Is(err, marketdomainerrors.ErrUnknownAccount):
		writeError(w, http.StatusNotFound, "unknown_account", err.Error())
	case errors.Is(err, marketdomainerrors.ErrNotOwner):
		writeError(w, http.StatusForbidden, "not_owner", err.Error())
	case errors.Is(err, marketdomainerrors.ErrNotSeller):
		writeError(w, http.StatusForbidden, "not_seller", err.Error())
	case errors.Is(err, marketdomainerrors.ErrSelfPurchase):
		writeError(w, http.StatusForbidden, "self_purchase", err.Error())
	case errors.Is(err, marketdomainerrors.ErrDuplicateListing):
		writeError(w, http.StatusConflict, "duplicate_listing", err.Error())
	case errors.Is(err, marketdomainerrors.ErrNotActive):
		writeError(w, http.StatusConflict, "listing_not_active", err.Error())
	case errors.Is(err, marketdomainerrors.ErrSettlementInProgress):
		writeError(w, http.StatusConflict, "settlement_in_progress", err.Error())
	case errors.Is(err, marketdomainerrors.ErrIdempotencyConflict):
		writeError(w, http.StatusConflict, "idempotency_conflict", err.Error())
	case errors.Is(err, marketdomainerrors.ErrInsufficientPayment):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_payment", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, markethttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parseID(w http.ResponseWriter, raw string, field string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_"+field, field+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func parseLimit(raw string) int {
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}
