package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/adshao/go-binance/v2"
)

// AssetQuote is a trading pair split into its base and quote assets.
type AssetQuote struct {
	Quote string `json:"quote"`
	Asset string `json:"asset"`
}

// PairService holds a live-refreshable base/quote lookup, populated from
// Binance's spot exchangeInfo (spec §6 — the engine is spot-only).
type PairService struct {
	pairMap map[string]AssetQuote
	mu      sync.RWMutex
}

var defaultPairService = &PairService{pairMap: make(map[string]AssetQuote)}

// NewPairService creates a PairService seeded from pairsData, a JSON object
// of pair -> {asset, quote} (as produced by SavePairsToFile).
func NewPairService(pairsData []byte) (*PairService, error) {
	service := &PairService{pairMap: make(map[string]AssetQuote)}

	if len(pairsData) > 0 {
		if err := json.Unmarshal(pairsData, &service.pairMap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pairs data: %w", err)
		}
	}

	return service, nil
}

// SplitAssetQuote splits pair into its base/quote components using the
// live-refreshed map (UpdatePairs); returns ("","") until populated.
func SplitAssetQuote(pair string) (asset string, quote string) {
	defaultPairService.mu.RLock()
	defer defaultPairService.mu.RUnlock()

	data, exists := defaultPairService.pairMap[pair]
	if !exists {
		return "", ""
	}
	return data.Asset, data.Quote
}

// GetPair returns the AssetQuote for pair, if known.
func GetPair(pair string) (AssetQuote, bool) {
	defaultPairService.mu.RLock()
	defer defaultPairService.mu.RUnlock()

	data, exists := defaultPairService.pairMap[pair]
	return data, exists
}

// UpdatePairs refreshes the pair map from Binance's spot exchangeInfo.
func UpdatePairs(ctx context.Context) error {
	spotClient := binance.NewClient("", "")
	spotInfo, err := spotClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to get spot exchange info: %w", err)
	}

	newPairMap := make(map[string]AssetQuote, len(spotInfo.Symbols))
	for _, info := range spotInfo.Symbols {
		newPairMap[info.Symbol] = AssetQuote{
			Quote: info.QuoteAsset,
			Asset: info.BaseAsset,
		}
	}

	defaultPairService.mu.Lock()
	defaultPairService.pairMap = newPairMap
	defaultPairService.mu.Unlock()

	return nil
}

// SavePairsToFile writes the current pair map to filename as JSON, so a
// future NewPairService call can seed from it instead of hitting the venue.
func SavePairsToFile(filename string) error {
	defaultPairService.mu.RLock()
	defer defaultPairService.mu.RUnlock()

	content, err := json.MarshalIndent(defaultPairService.pairMap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal pairs: %w", err)
	}

	if err := os.WriteFile(filename, content, 0644); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}

// UpdateAndSavePairs refreshes the pair map and persists it to filename.
func UpdateAndSavePairs(ctx context.Context, filename string) error {
	if err := UpdatePairs(ctx); err != nil {
		return err
	}
	return SavePairsToFile(filename)
}
