package entities

import "time"

// Asset is a uniquely identified digital item with a single current owner.
// AssetID is assigned by the registry as a monotonic sequence and never reused.
type Asset struct {
	AssetID     int64
	Owner       string
	Creator     string
	MetadataRef string
	MintedAt    time.Time
	UpdatedAt   time.Time
}

func (a Asset) OwnedBy(account string) bool {
	return a.Owner == account
}
