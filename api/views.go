package api

import (
	"time"

	"github.com/seenimoa/cosmictracker/internal/dashboard"
	"github.com/seenimoa/cosmictracker/pkg/models"
	"github.com/seenimoa/cosmictracker/pkg/utils"
)

// CoinView is a coin card: the raw quote plus the display strings a front
// end renders.
type CoinView struct {
	models.CoinQuote
	PriceDisplay     string `json:"price_display"`
	MarketCapDisplay string `json:"market_cap_display"`
	VolumeDisplay    string `json:"volume_display"`
	ChangeDisplay    string `json:"change_display"`
	Gaining          bool   `json:"gaining"`
}

// SnapshotView is the wire form of a dashboard snapshot.
type SnapshotView struct {
	Status     dashboard.Status `json:"status"`
	Loading    bool             `json:"loading"`
	Error      string           `json:"error,omitempty"`
	SearchTerm string           `json:"search_term"`
	Coins      []CoinView       `json:"coins"`
	Total      int              `json:"total"`
	FetchedAt  *time.Time       `json:"fetched_at,omitempty"`
	UpdatedAgo string           `json:"updated_ago"`
	Version    uint64           `json:"version"`
}

func newCoinView(q models.CoinQuote) CoinView {
	return CoinView{
		CoinQuote:        q,
		PriceDisplay:     utils.FormatUSD(q.CurrentPrice),
		MarketCapDisplay: utils.FormatUSDCompact(q.MarketCap),
		VolumeDisplay:    utils.FormatUSDCompact(q.TotalVolume),
		ChangeDisplay:    utils.FormatAbsPct(q.PriceChangePercentage24h),
		Gaining:          q.IsGaining(),
	}
}

func newSnapshotView(s dashboard.Snapshot, now time.Time) SnapshotView {
	coins := make([]CoinView, len(s.Displayed))
	for i, q := range s.Displayed {
		coins[i] = newCoinView(q)
	}
	v := SnapshotView{
		Status:     s.Status,
		Loading:    s.Loading,
		Error:      s.Error,
		SearchTerm: s.SearchTerm,
		Coins:      coins,
		Total:      s.Total,
		UpdatedAgo: utils.Ago(s.FetchedAt, now),
		Version:    s.Version,
	}
	if !s.FetchedAt.IsZero() {
		fetched := s.FetchedAt
		v.FetchedAt = &fetched
	}
	return v
}
