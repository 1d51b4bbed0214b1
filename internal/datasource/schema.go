package datasource

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/seenimoa/cosmictracker/pkg/models"
)

// ParseMarkets decodes a /coins/markets response body and validates every
// element against the coin schema. The batch is rejected as a whole on the
// first violation; unknown keys are ignored.
func ParseMarkets(data []byte) ([]models.CoinQuote, error) {
	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return nil, fmt.Errorf("parse JSON: malformed document")
	}
	if len(data) == 0 || data[0] != '[' {
		return nil, &ValidationError{Index: -1, Reason: "expected a JSON array"}
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}

	quotes := make([]models.CoinQuote, 0, len(elems))
	seen := make(map[string]int, len(elems))
	for i, raw := range elems {
		q, err := parseCoin(i, raw)
		if err != nil {
			return nil, err
		}
		if first, dup := seen[q.ID]; dup {
			return nil, &ValidationError{
				Index:  i,
				Field:  "id",
				Reason: fmt.Sprintf("duplicates element %d (%q)", first, q.ID),
			}
		}
		seen[q.ID] = i
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func parseCoin(index int, raw json.RawMessage) (models.CoinQuote, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return models.CoinQuote{}, &ValidationError{Index: index, Reason: "expected a JSON object"}
	}

	d := elementDecoder{index: index, fields: fields}
	q := models.CoinQuote{
		ID:                       d.str("id"),
		Symbol:                   d.str("symbol"),
		Name:                     d.str("name"),
		Image:                    d.str("image"),
		CurrentPrice:             d.num("current_price"),
		MarketCap:                d.num("market_cap"),
		MarketCapRank:            d.rank("market_cap_rank"),
		PriceChangePercentage24h: d.nullableNum("price_change_percentage_24h"),
		PriceChange24h:           d.nullableNum("price_change_24h"),
		TotalVolume:              d.num("total_volume"),
	}
	if d.err != nil {
		return models.CoinQuote{}, d.err
	}
	return q, nil
}

// elementDecoder pulls typed values out of one response element. The first
// failure is kept in err and later calls become no-ops.
type elementDecoder struct {
	index  int
	fields map[string]json.RawMessage
	err    error
}

func (d *elementDecoder) fail(field, reason string) {
	if d.err == nil {
		d.err = &ValidationError{Index: d.index, Field: field, Reason: reason}
	}
}

// lookup returns the raw value for a required key; null is reported via isNull.
func (d *elementDecoder) lookup(field string) (raw json.RawMessage, isNull, ok bool) {
	if d.err != nil {
		return nil, false, false
	}
	raw, present := d.fields[field]
	if !present {
		d.fail(field, "is missing")
		return nil, false, false
	}
	return raw, string(raw) == "null", true
}

func (d *elementDecoder) str(field string) string {
	raw, isNull, ok := d.lookup(field)
	if !ok {
		return ""
	}
	if isNull {
		d.fail(field, "must not be null")
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		d.fail(field, "must be a string")
		return ""
	}
	return s
}

func (d *elementDecoder) number(field string, raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		d.fail(field, "must be a number")
		return 0, false
	}
	return f, true
}

// num decodes a required, non-null, non-negative number.
func (d *elementDecoder) num(field string) float64 {
	raw, isNull, ok := d.lookup(field)
	if !ok {
		return 0
	}
	if isNull {
		d.fail(field, "must not be null")
		return 0
	}
	f, ok := d.number(field, raw)
	if !ok {
		return 0
	}
	if f < 0 {
		d.fail(field, "must not be negative")
		return 0
	}
	return f
}

// nullableNum decodes a key that must be present but may hold null or any number.
func (d *elementDecoder) nullableNum(field string) *float64 {
	raw, isNull, ok := d.lookup(field)
	if !ok || isNull {
		return nil
	}
	f, ok := d.number(field, raw)
	if !ok {
		return nil
	}
	return &f
}

func (d *elementDecoder) rank(field string) int {
	f := d.num(field)
	if d.err != nil {
		return 0
	}
	if f != math.Trunc(f) {
		d.fail(field, "must be an integer")
		return 0
	}
	if f > math.MaxInt32 {
		d.fail(field, "is out of range")
		return 0
	}
	return int(f)
}
