package order

import (
	"math"

	"github.com/solbot-labs/engine/pkg/core"
)

// AssetInfoFetcher fetches venue metadata on a cache miss.
type AssetInfoFetcher func(pair string) (core.AssetInfo, error)

// Sizing implements OrderSizing (spec §4.10): converts a risk_amount and
// stop_distance into a venue-quantised order amount, or 0 (reject) if the
// result falls below the venue's minimum.
type Sizing struct {
	cache  *VenueInfoCache
	fetch  AssetInfoFetcher
}

// NewSizing builds a Sizing backed by cache, falling back to fetch on a
// cache miss.
func NewSizing(cache *VenueInfoCache, fetch AssetInfoFetcher) *Sizing {
	return &Sizing{cache: cache, fetch: fetch}
}

// assetInfo resolves AssetInfo for pair, populating the cache on a miss.
func (s *Sizing) assetInfo(pair string) (core.AssetInfo, error) {
	if info, ok := s.cache.Get(pair); ok {
		return info, nil
	}
	info, err := s.fetch(pair)
	if err != nil {
		return core.AssetInfo{}, err
	}
	_ = s.cache.Set(pair, info)
	return info, nil
}

// Amount returns the step-size-quantised order amount for riskAmount and
// stopDistance, or 0 if the quantised amount would fall below MinQuantity
// (signalling reject per spec §4.10(c)).
func (s *Sizing) Amount(pair string, riskAmount, stopDistance float64) (float64, error) {
	if stopDistance <= 0 {
		return 0, nil
	}
	info, err := s.assetInfo(pair)
	if err != nil {
		return 0, err
	}

	raw := riskAmount / stopDistance
	quantised := quantiseDown(raw, info.StepSize)
	if quantised < info.MinQuantity {
		return 0, nil
	}
	if info.MaxQuantity > 0 && quantised > info.MaxQuantity {
		quantised = quantiseDown(info.MaxQuantity, info.StepSize)
	}
	return quantised, nil
}

// QuantiseAmount snaps an already-computed asset amount (as strategies and
// the risk filter produce it) down to the venue's step size, and reports
// false if the result falls below MinQuantity — the reject signal from
// spec §4.10(c). This is what OMS.CreateOrder calls; Amount above is the
// risk_amount/stop_distance formula a strategy uses to produce that amount
// in the first place, kept separate so OMS never re-divides by stop
// distance a second time.
func (s *Sizing) QuantiseAmount(pair string, amount float64) (float64, bool, error) {
	info, err := s.assetInfo(pair)
	if err != nil {
		return 0, false, err
	}
	quantised := quantiseDown(amount, info.StepSize)
	if quantised < info.MinQuantity {
		return 0, false, nil
	}
	return quantised, true, nil
}

// Price quantises a limit/stop price to the venue's tick size.
func (s *Sizing) Price(pair string, price float64) (float64, error) {
	info, err := s.assetInfo(pair)
	if err != nil {
		return 0, err
	}
	return quantiseDown(price, info.TickSize), nil
}

// quantiseDown rounds value down to the nearest multiple of step. A
// non-positive step is treated as "unconstrained" (no venue metadata yet).
func quantiseDown(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Floor(value/step) * step
}
