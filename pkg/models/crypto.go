// Package models defines the core data structures used throughout the tracker.
package models

// CoinQuote is a snapshot of one cryptocurrency's market data at fetch time.
// Values are never mutated after parsing; a new fetch yields a new batch.
type CoinQuote struct {
	ID                       string   `json:"id"`
	Symbol                   string   `json:"symbol"`                      // e.g., "btc"
	Name                     string   `json:"name"`                        // e.g., "Bitcoin"
	Image                    string   `json:"image"`                       // logo URL
	CurrentPrice             float64  `json:"current_price"`               // USD
	MarketCap                float64  `json:"market_cap"`                  // USD
	MarketCapRank            int      `json:"market_cap_rank"`
	PriceChangePercentage24h *float64 `json:"price_change_percentage_24h"` // nil when upstream has no data
	PriceChange24h           *float64 `json:"price_change_24h"`            // nil when upstream has no data
	TotalVolume              float64  `json:"total_volume"`                // USD, 24h
}

// IsGaining reports whether the 24h percentage change is known and positive.
func (c CoinQuote) IsGaining() bool {
	return c.PriceChangePercentage24h != nil && *c.PriceChangePercentage24h > 0
}

// Float64Ptr returns a pointer to v. Handy for building nullable fields.
func Float64Ptr(v float64) *float64 {
	return &v
}
