package datasource

import (
	"strings"

	"github.com/seenimoa/cosmictracker/pkg/models"
)

// FilterQuotes returns the quotes whose name or symbol contains term,
// compared case-insensitively, in their original order. An empty term
// returns quotes unchanged. The term is not trimmed.
func FilterQuotes(quotes []models.CoinQuote, term string) []models.CoinQuote {
	if term == "" {
		return quotes
	}

	needle := strings.ToLower(term)
	out := make([]models.CoinQuote, 0, len(quotes))
	for _, q := range quotes {
		if matchLower(q, needle) {
			out = append(out, q)
		}
	}
	return out
}

// Matches reports whether term occurs in q's name or symbol, ignoring case.
func Matches(q models.CoinQuote, term string) bool {
	return matchLower(q, strings.ToLower(term))
}

func matchLower(q models.CoinQuote, needle string) bool {
	return strings.Contains(strings.ToLower(q.Name), needle) ||
		strings.Contains(strings.ToLower(q.Symbol), needle)
}
