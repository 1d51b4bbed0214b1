package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/seenimoa/cosmictracker/internal/dashboard"
	"github.com/seenimoa/cosmictracker/pkg/models"
	"github.com/seenimoa/cosmictracker/pkg/utils"
)

const rule = "───────────────────────────────────────"

// renderCard prints one coin card.
func renderCard(w io.Writer, q models.CoinQuote) {
	arrow := "▼"
	if q.IsGaining() {
		arrow = "▲"
	}
	fmt.Fprintf(w, "  #%-4d %s (%s)\n", q.MarketCapRank, q.Name, strings.ToUpper(q.Symbol))
	fmt.Fprintf(w, "        Price        %s\n", utils.FormatUSD(q.CurrentPrice))
	fmt.Fprintf(w, "        24h Change   %s %s\n", arrow, utils.FormatAbsPct(q.PriceChangePercentage24h))
	fmt.Fprintf(w, "        Market Cap   %s\n", utils.FormatUSDCompact(q.MarketCap))
	fmt.Fprintf(w, "        Volume 24h   %s\n", utils.FormatUSDCompact(q.TotalVolume))
}

// renderSnapshot prints the dashboard: status line, then the displayed cards.
func renderSnapshot(w io.Writer, s dashboard.Snapshot, now time.Time) {
	fmt.Fprintln(w, rule)
	switch s.Status {
	case dashboard.StatusLoading:
		fmt.Fprintln(w, "  Loading cryptocurrency data...")
		fmt.Fprintln(w, rule)
		return
	case dashboard.StatusError:
		fmt.Fprintf(w, "  ⚠ %s\n", s.Error)
	}

	if strings.TrimSpace(s.SearchTerm) != "" {
		fmt.Fprintf(w, "  Search %q: %d of %d coins\n", s.SearchTerm, len(s.Displayed), s.Total)
	} else {
		fmt.Fprintf(w, "  Top %d of %d coins\n", len(s.Displayed), s.Total)
	}
	fmt.Fprintf(w, "  Updated %s\n", utils.Ago(s.FetchedAt, now))
	fmt.Fprintln(w, rule)

	if len(s.Displayed) == 0 {
		fmt.Fprintln(w, "  No cryptocurrencies found.")
		return
	}
	for _, q := range s.Displayed {
		renderCard(w, q)
	}
}

func renderNotification(w io.Writer, n models.Notification) {
	icon := "ℹ"
	if n.Level == models.NotifyError {
		icon = "✖"
	}
	fmt.Fprintf(w, "%s %s: %s\n", icon, n.Title, n.Description)
}

// runWatch drives the interactive dashboard. Every controller event is
// printed by one goroutine; input lines are applied as commands until ":q",
// end of input, or ctx cancellation.
func runWatch(ctx context.Context, ctrl *dashboard.Controller, in io.Reader, out io.Writer) error {
	events, cancel := ctrl.Subscribe(64)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range events {
			switch ev.Type {
			case dashboard.EventNotification:
				renderNotification(out, *ev.Notification)
			case dashboard.EventSnapshot:
				if ev.Snapshot.Loading && ev.Snapshot.Version > 1 {
					continue // the result follows shortly
				}
				renderSnapshot(out, *ev.Snapshot, time.Now())
			}
		}
	}()
	defer func() {
		cancel()
		<-printed
	}()

	// Failures surface as an error notification.
	_ = ctrl.Start(ctx)

	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch strings.TrimSpace(line) {
			case ":q":
				return nil
			case ":r":
				_ = ctrl.Refresh(ctx)
			default:
				ctrl.SetSearchTerm(line)
			}
		}
	}
}
