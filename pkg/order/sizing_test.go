package order

import (
	"fmt"
	"testing"
	"time"

	"github.com/solbot-labs/engine/pkg/core"
)

func testAssetInfo() core.AssetInfo {
	return core.AssetInfo{
		BaseAsset: "SOL", QuoteAsset: "USDT",
		MinQuantity: 0.1, MaxQuantity: 10000,
		StepSize: 0.1, TickSize: 0.01,
	}
}

func newTestSizing(t *testing.T, fetches *int) *Sizing {
	t.Helper()
	cache, err := NewVenueInfoCache(time.Minute)
	if err != nil {
		t.Fatalf("new venue cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	fetch := func(pair string) (core.AssetInfo, error) {
		if fetches != nil {
			*fetches++
		}
		return testAssetInfo(), nil
	}
	return NewSizing(cache, fetch)
}

func TestSizing_QuantiseAmountRoundsDownToStep(t *testing.T) {
	s := newTestSizing(t, nil)

	amount, ok, err := s.QuantiseAmount("SOLUSDT", 1.27)
	if err != nil {
		t.Fatalf("quantise: %v", err)
	}
	if !ok {
		t.Fatalf("expected acceptance")
	}
	if fmt.Sprintf("%.2f", amount) != "1.20" {
		t.Fatalf("expected 1.20, got %f", amount)
	}
}

func TestSizing_QuantiseAmountRejectsBelowMinQuantity(t *testing.T) {
	s := newTestSizing(t, nil)

	amount, ok, err := s.QuantiseAmount("SOLUSDT", 0.05)
	if err != nil {
		t.Fatalf("quantise: %v", err)
	}
	if ok || amount != 0 {
		t.Fatalf("expected rejection below MinQuantity, got amount=%f ok=%v", amount, ok)
	}
}

func TestSizing_AmountFormulaDividesRiskByStopDistance(t *testing.T) {
	s := newTestSizing(t, nil)

	amount, err := s.Amount("SOLUSDT", 100, 2) // 100/2 = 50, step 0.1 -> 50.0
	if err != nil {
		t.Fatalf("amount: %v", err)
	}
	if amount != 50 {
		t.Fatalf("expected 50, got %f", amount)
	}
}

func TestSizing_CachePopulatesOnFirstMissOnly(t *testing.T) {
	fetches := 0
	s := newTestSizing(t, &fetches)

	if _, _, err := s.QuantiseAmount("SOLUSDT", 1); err != nil {
		t.Fatalf("first quantise: %v", err)
	}
	if _, _, err := s.QuantiseAmount("SOLUSDT", 2); err != nil {
		t.Fatalf("second quantise: %v", err)
	}
	if fetches != 1 {
		t.Fatalf("expected exactly one live fetch, got %d", fetches)
	}
}

func TestSizing_PriceQuantisesToTickSize(t *testing.T) {
	s := newTestSizing(t, nil)

	price, err := s.Price("SOLUSDT", 123.456)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if fmt.Sprintf("%.2f", price) != "123.45" {
		t.Fatalf("expected 123.45, got %f", price)
	}
}
