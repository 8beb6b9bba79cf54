package core

// AssetInfo carries venue-reported market metadata for a trading pair,
// used by OrderSizing to quantise amounts and prices (spec §4.10).
type AssetInfo struct {
	BaseAsset  string
	QuoteAsset string

	MinPrice    float64
	MaxPrice    float64
	MinQuantity float64
	MaxQuantity float64
	StepSize    float64
	TickSize    float64

	QuotePrecision     int
	BaseAssetPrecision int
}

// GetBaseAsset returns the base asset of the trading pair.
func (a AssetInfo) GetBaseAsset() string { return a.BaseAsset }

// GetQuoteAsset returns the quote asset of the trading pair.
func (a AssetInfo) GetQuoteAsset() string { return a.QuoteAsset }

// GetStepSize returns the step size for quantity increments.
func (a AssetInfo) GetStepSize() float64 { return a.StepSize }

// GetTickSize returns the tick size for price increments.
func (a AssetInfo) GetTickSize() float64 { return a.TickSize }
