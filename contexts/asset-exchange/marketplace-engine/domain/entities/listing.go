package entities

import "time"

type ListingStatus string

const (
	ListingStatusActive    ListingStatus = "active"
	ListingStatusSold      ListingStatus = "sold"
	ListingStatusCancelled ListingStatus = "cancelled"
)

// Listing is a fixed-price offer to sell one asset. A listing leaves the
// active state exactly once and never returns to it; re-listing a cancelled
// asset mints a fresh ListingID so sale records stay unambiguous.
type Listing struct {
	ListingID int64
	AssetID   int64
	Seller    string
	Price     int64
	Status    ListingStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (l Listing) IsActive() bool {
	return l.Status == ListingStatusActive
}
