package services

import (
	"errors"
	"testing"
	"time"

	"metamarket/contexts/asset-exchange/marketplace-engine/domain/entities"
	domainerrors "metamarket/contexts/asset-exchange/marketplace-engine/domain/errors"
)

func TestSplitPriceTruncates(t *testing.T) {
	fee, proceeds := SplitPrice(100, 250)
	if fee != 2 {
		t.Fatalf("expected fee 2, got %d", fee)
	}
	if proceeds != 98 {
		t.Fatalf("expected proceeds 98, got %d", proceeds)
	}
}

func TestSplitPriceConservation(t *testing.T) {
	prices := []int64{0, 1, 3, 99, 100, 101, 9999, 1_000_000_007}
	rates := []int64{0, 1, 249, 250, 251, 5000, 9999, 10000}

	for _, price := range prices {
		for _, bps := range rates {
			fee, proceeds := SplitPrice(price, bps)
			if fee+proceeds != price {
				t.Fatalf("fee %d + proceeds %d != price %d at %d bps", fee, proceeds, price, bps)
			}
			if fee < 0 || proceeds < 0 {
				t.Fatalf("negative split at price %d, %d bps: fee %d proceeds %d", price, bps, fee, proceeds)
			}
		}
	}
}

func TestSplitPriceClampsRate(t *testing.T) {
	fee, proceeds := SplitPrice(100, -50)
	if fee != 0 || proceeds != 100 {
		t.Fatalf("negative rate should clamp to zero fee, got fee %d proceeds %d", fee, proceeds)
	}

	fee, proceeds = SplitPrice(100, 20000)
	if fee != 100 || proceeds != 0 {
		t.Fatalf("oversized rate should clamp to full fee, got fee %d proceeds %d", fee, proceeds)
	}
}

func TestEvaluatePurchase(t *testing.T) {
	now := time.Now().UTC()
	asset := entities.Asset{AssetID: 1, Owner: "seller", Creator: "seller", MintedAt: now}
	listing := entities.Listing{
		ListingID: 1,
		AssetID:   1,
		Seller:    "seller",
		Price:     100,
		Status:    entities.ListingStatusActive,
		CreatedAt: now,
	}

	if err := EvaluatePurchase(listing, asset, "buyer", 100); err != nil {
		t.Fatalf("valid purchase should pass: %v", err)
	}

	cancelled := listing
	cancelled.Status = entities.ListingStatusCancelled
	if err := EvaluatePurchase(cancelled, asset, "buyer", 100); !errors.Is(err, domainerrors.ErrNotActive) {
		t.Fatalf("expected not active, got %v", err)
	}

	if err := EvaluatePurchase(listing, asset, "seller", 100); !errors.Is(err, domainerrors.ErrSelfPurchase) {
		t.Fatalf("expected self purchase, got %v", err)
	}

	if err := EvaluatePurchase(listing, asset, "buyer", 99); !errors.Is(err, domainerrors.ErrInsufficientPayment) {
		t.Fatalf("expected insufficient payment, got %v", err)
	}

	moved := asset
	moved.Owner = "someone-else"
	if err := EvaluatePurchase(listing, moved, "buyer", 100); !errors.Is(err, domainerrors.ErrNotOwner) {
		t.Fatalf("expected not owner for stale seller, got %v", err)
	}
}
