package binance

import (
	"context"
)

// Config is the configuration needed to construct the spot exchange client
// (spec §6 — the engine trades one spot market venue, never futures).
type Config struct {
	APIKey    string
	APISecret string

	UseTestnet bool

	// QuoteAsset is the balance core.Account.Balance reports (default USDT
	// when empty).
	QuoteAsset string
}

// NewExchange creates the Binance spot exchange client from Config.
func NewExchange(ctx context.Context, config Config) (*Spot, error) {
	options := []SpotOption{}

	if config.APIKey != "" && config.APISecret != "" {
		options = append(options, WithCredentials(config.APIKey, config.APISecret))
	}
	if config.UseTestnet {
		options = append(options, WithTestNet())
	}
	if config.QuoteAsset != "" {
		options = append(options, WithQuoteAsset(config.QuoteAsset))
	}

	return NewSpot(ctx, options...)
}
