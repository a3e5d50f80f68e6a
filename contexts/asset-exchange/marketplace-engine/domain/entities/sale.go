package entities

import "time"

// SaleRecord is the append-only audit entry produced by a successful
// settlement. It is never mutated after creation.
type SaleRecord struct {
	SaleID      string
	ListingID   int64
	AssetID     int64
	Buyer       string
	Seller      string
	PriceAtSale int64
	FeeAtSale   int64
	OccurredAt  time.Time
}

type PayoutReason string

const (
	PayoutReasonProceeds PayoutReason = "proceeds"
	PayoutReasonFee      PayoutReason = "fee"
	PayoutReasonRefund   PayoutReason = "refund"
)

// Payout is one funds-ledger credit issued during settlement. Every sale
// produces a proceeds payout and a fee payout, plus a refund payout when the
// buyer overtendered.
type Payout struct {
	SaleID    string
	Account   string
	Amount    int64
	Reason    PayoutReason
	CreatedAt time.Time
}
