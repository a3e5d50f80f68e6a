package httptransport

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type MintAssetRequest struct {
	Creator     string `json:"creator"`
	MetadataRef string `json:"metadata_ref"`
}

type AssetDTO struct {
	AssetID     int64  `json:"asset_id"`
	Owner       string `json:"owner"`
	Creator     string `json:"creator"`
	MetadataRef string `json:"metadata_ref"`
	MintedAt    string `json:"minted_at"`
}

type MintAssetResponse struct {
	Status   string   `json:"status"`
	Replayed bool     `json:"replayed,omitempty"`
	Data     AssetDTO `json:"data"`
}

type TransferAssetRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type TransferAssetResponse struct {
	Status string `json:"status"`
}

type OwnerOfResponse struct {
	Status string `json:"status"`
	Data   struct {
		AssetID int64  `json:"asset_id"`
		Owner   string `json:"owner"`
	} `json:"data"`
}

type ListAssetsResponse struct {
	Status string     `json:"status"`
	Data   []AssetDTO `json:"data"`
}

type CreateListingRequest struct {
	AssetID int64  `json:"asset_id"`
	Seller  string `json:"seller"`
	Price   int64  `json:"price"`
}

type ListingDTO struct {
	ListingID int64  `json:"listing_id"`
	AssetID   int64  `json:"asset_id"`
	Seller    string `json:"seller"`
	Price     int64  `json:"price"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

type CreateListingResponse struct {
	Status   string     `json:"status"`
	Replayed bool       `json:"replayed,omitempty"`
	Data     ListingDTO `json:"data"`
}

type CancelListingRequest struct {
	Caller string `json:"caller"`
}

type CancelListingResponse struct {
	Status string `json:"status"`
}

type ActiveListingResponse struct {
	Status string      `json:"status"`
	Found  bool        `json:"found"`
	Data   *ListingDTO `json:"data,omitempty"`
}

type OpenListingsResponse struct {
	Status     string       `json:"status"`
	Data       []ListingDTO `json:"data"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

type BuyListingRequest struct {
	Buyer          string `json:"buyer"`
	TenderedAmount int64  `json:"tendered_amount"`
}

type SaleRecordDTO struct {
	SaleID      string `json:"sale_id"`
	ListingID   int64  `json:"listing_id"`
	AssetID     int64  `json:"asset_id"`
	Buyer       string `json:"buyer"`
	Seller      string `json:"seller"`
	PriceAtSale int64  `json:"price_at_sale"`
	FeeAtSale   int64  `json:"fee_at_sale"`
	OccurredAt  string `json:"occurred_at"`
}

type BuyListingResponse struct {
	Status   string        `json:"status"`
	Replayed bool          `json:"replayed,omitempty"`
	Data     SaleRecordDTO `json:"data"`
}

type ListSalesResponse struct {
	Status string          `json:"status"`
	Data   []SaleRecordDTO `json:"data"`
}

type BalanceResponse struct {
	Status string `json:"status"`
	Data   struct {
		Account string `json:"account"`
		Balance int64  `json:"balance"`
	} `json:"data"`
}
