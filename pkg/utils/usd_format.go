// Package utils provides common formatting and time helpers for the tracker.
package utils

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// FormatUSD formats an amount as US dollars with thousands separators.
// Amounts below one dollar keep up to six decimals so sub-cent tokens stay
// readable, e.g. 67432.1 → "$67,432.10", 0.00001234 → "$0.000012".
func FormatUSD(amount float64) string {
	d := decimal.NewFromFloat(amount)
	negative := d.IsNegative()
	d = d.Abs()

	places := int32(2)
	if d.IsPositive() && d.LessThan(one) {
		places = 6
	}

	s := d.StringFixed(places)
	intPart, frac, _ := strings.Cut(s, ".")
	if places > 2 {
		frac = strings.TrimRight(frac, "0")
		for len(frac) < 2 {
			frac += "0"
		}
	}

	formatted := groupThousands(intPart) + "." + frac
	if negative {
		return "-$" + formatted
	}
	return "$" + formatted
}

// FormatUSDCompact formats large dollar amounts with a magnitude suffix.
// e.g., 1320000000000 → "$1.32T", 45600000 → "$45.6M"
func FormatUSDCompact(amount float64) string {
	negative := amount < 0
	amount = math.Abs(amount)

	prefix := "$"
	if negative {
		prefix = "-$"
	}

	unit := -1
	for i, u := range compactUnits {
		if amount >= u.scale {
			unit = i
		}
	}
	if unit < 0 && roundCents(amount) >= 1e3 {
		unit = 0
	}
	// 999,999 rounds to "1000K"; carry into the next suffix instead.
	if unit >= 0 && unit < len(compactUnits)-1 && roundCents(amount/compactUnits[unit].scale) >= 1e3 {
		unit++
	}
	if unit < 0 {
		return fmt.Sprintf("%s%.2f", prefix, amount)
	}
	u := compactUnits[unit]
	return fmt.Sprintf("%s%s%s", prefix, formatWithDecimals(amount/u.scale), u.suffix)
}

var compactUnits = []struct {
	scale  float64
	suffix string
}{
	{1e3, "K"},
	{1e6, "M"},
	{1e9, "B"},
	{1e12, "T"},
}

func roundCents(n float64) float64 {
	return math.Round(n*100) / 100
}

// FormatAbsPct formats the magnitude of a nullable percentage.
// A nil or zero value renders as "0.00%".
func FormatAbsPct(pct *float64) string {
	if pct == nil || *pct == 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", math.Abs(*pct))
}

// groupThousands inserts commas every three digits of an unsigned integer string.
func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}

	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// formatWithDecimals formats a number with up to 2 decimal places,
// removing trailing zeros.
func formatWithDecimals(n float64) string {
	s := fmt.Sprintf("%.2f", n)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}
