package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/seenimoa/cosmictracker/internal/datasource"
	"github.com/seenimoa/cosmictracker/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Fixtures
// ════════════════════════════════════════════════════════════════════

// fakeSource serves a fixed batch. When gate is non-nil each fetch blocks
// until a value is received from it.
type fakeSource struct {
	mu     sync.Mutex
	quotes []models.CoinQuote
	err    error
	gate   chan struct{}
	calls  int
}

func (f *fakeSource) FetchMarkets(ctx context.Context, search string) ([]models.CoinQuote, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.CoinQuote, len(f.quotes))
	copy(out, f.quotes)
	return out, nil
}

func (f *fakeSource) set(quotes []models.CoinQuote, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes, f.err = quotes, err
}

func coin(id, symbol, name string, rank int) models.CoinQuote {
	return models.CoinQuote{
		ID:                       id,
		Symbol:                   symbol,
		Name:                     name,
		Image:                    "https://example.com/" + id + ".png",
		CurrentPrice:             float64(100 * rank),
		MarketCap:                1e9 / float64(rank),
		MarketCapRank:            rank,
		PriceChangePercentage24h: models.Float64Ptr(1.5),
		PriceChange24h:           models.Float64Ptr(2.5),
		TotalVolume:              1e6,
	}
}

// sevenCoins is ranked 1..7 in market-cap order.
func sevenCoins() []models.CoinQuote {
	return []models.CoinQuote{
		coin("bitcoin", "btc", "Bitcoin", 1),
		coin("ethereum", "eth", "Ethereum", 2),
		coin("tether", "usdt", "Tether", 3),
		coin("binancecoin", "bnb", "BNB", 4),
		coin("solana", "sol", "Solana", 5),
		coin("ripple", "xrp", "XRP", 6),
		coin("cardano", "ada", "Cardano", 7),
	}
}

func ranks(quotes []models.CoinQuote) []int {
	out := make([]int, len(quotes))
	for i, q := range quotes {
		out[i] = q.MarketCapRank
	}
	return out
}

func ids(quotes []models.CoinQuote) string {
	out := make([]string, len(quotes))
	for i, q := range quotes {
		out[i] = q.ID
	}
	return strings.Join(out, ",")
}

func fixedClock() func() time.Time {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var n atomic.Int64
	return func() time.Time {
		return t0.Add(time.Duration(n.Add(1)) * time.Second)
	}
}

func loaded(t *testing.T, src Fetcher, topN int) *Controller {
	t.Helper()
	c := New(src, Options{TopN: topN, Now: fixedClock()})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	return c
}

// drain collects everything currently buffered on ch.
func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func notifications(events []Event) []models.Notification {
	var out []models.Notification
	for _, ev := range events {
		if ev.Type == EventNotification {
			out = append(out, *ev.Notification)
		}
	}
	return out
}

// ════════════════════════════════════════════════════════════════════
// Construction and initial load
// ════════════════════════════════════════════════════════════════════

func TestNewStartsLoading(t *testing.T) {
	c := New(&fakeSource{}, Options{})
	snap := c.Snapshot()
	if snap.Status != StatusLoading || !snap.Loading {
		t.Errorf("initial status: got %q loading=%v, want loading", snap.Status, snap.Loading)
	}
	if snap.Displayed == nil || len(snap.Displayed) != 0 {
		t.Errorf("initial displayed: got %v, want empty", snap.Displayed)
	}
	if c.topN != DefaultTopN {
		t.Errorf("topN: got %d, want %d", c.topN, DefaultTopN)
	}
}

func TestStartShowsTopFive(t *testing.T) {
	c := loaded(t, &fakeSource{quotes: sevenCoins()}, 0)

	snap := c.Snapshot()
	if snap.Status != StatusLoaded || snap.Loading {
		t.Fatalf("status: got %q, want loaded", snap.Status)
	}
	if got := fmt.Sprint(ranks(snap.Displayed)); got != "[1 2 3 4 5]" {
		t.Errorf("displayed ranks: got %s, want [1 2 3 4 5]", got)
	}
	if snap.Total != 7 {
		t.Errorf("Total: got %d, want 7", snap.Total)
	}
	if snap.Error != "" {
		t.Errorf("Error: got %q, want empty", snap.Error)
	}
	if snap.FetchedAt.IsZero() {
		t.Error("FetchedAt should be set after a successful load")
	}
}

func TestStartFewerThanTopN(t *testing.T) {
	c := loaded(t, &fakeSource{quotes: sevenCoins()[:3]}, 5)
	if got := len(c.Snapshot().Displayed); got != 3 {
		t.Errorf("displayed: got %d, want 3", got)
	}
}

func TestStartEmptyBatch(t *testing.T) {
	c := loaded(t, &fakeSource{quotes: []models.CoinQuote{}}, 5)
	snap := c.Snapshot()
	if snap.Status != StatusLoaded {
		t.Errorf("status: got %q, want loaded", snap.Status)
	}
	if snap.Displayed == nil || len(snap.Displayed) != 0 {
		t.Errorf("displayed: got %v, want empty", snap.Displayed)
	}
}

func TestStartRaisesNoInfoNotification(t *testing.T) {
	c := New(&fakeSource{quotes: sevenCoins()}, Options{})
	events, cancel := c.Subscribe(16)
	defer cancel()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if got := notifications(drain(events)); len(got) != 0 {
		t.Errorf("Start should be silent, got notifications %+v", got)
	}
}

// ════════════════════════════════════════════════════════════════════
// Search
// ════════════════════════════════════════════════════════════════════

func TestSetSearchTerm(t *testing.T) {
	c := loaded(t, &fakeSource{quotes: []models.CoinQuote{
		coin("bitcoin", "btc", "Bitcoin", 1),
		coin("ethereum", "eth", "Ethereum", 2),
		coin("tether", "usdt", "Tether", 3),
	}}, 5)

	tests := []struct {
		term string
		want string
	}{
		{"bit", "bitcoin"},
		{"BTC", "bitcoin"},
		{"eth", "ethereum,tether"},
		{"usdt", "tether"},
		{"doge", ""},
		{"", "bitcoin,ethereum,tether"},
		{"   ", "bitcoin,ethereum,tether"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.term), func(t *testing.T) {
			snap := c.SetSearchTerm(tt.term)
			if got := ids(snap.Displayed); got != tt.want {
				t.Errorf("displayed: got %q, want %q", got, tt.want)
			}
			if snap.SearchTerm != tt.term {
				t.Errorf("SearchTerm: got %q, want %q", snap.SearchTerm, tt.term)
			}
			if snap.Displayed == nil {
				t.Error("displayed must not be nil")
			}
		})
	}
}

func TestSearchIsNotCappedAtTopN(t *testing.T) {
	quotes := make([]models.CoinQuote, 0, 12)
	for i := 1; i <= 12; i++ {
		quotes = append(quotes, coin(fmt.Sprintf("wrapped-%d", i), fmt.Sprintf("w%d", i), fmt.Sprintf("Wrapped %d", i), i))
	}
	c := loaded(t, &fakeSource{quotes: quotes}, 5)

	if got := len(c.SetSearchTerm("wrapped").Displayed); got != 12 {
		t.Errorf("search results: got %d, want all 12", got)
	}
	if got := len(c.SetSearchTerm("").Displayed); got != 5 {
		t.Errorf("cleared search: got %d, want 5", got)
	}
}

func TestSearchDuringFetchAppliesOnResolve(t *testing.T) {
	src := &fakeSource{quotes: sevenCoins()}
	c := loaded(t, src, 5)

	src.gate = make(chan struct{})
	src.set([]models.CoinQuote{
		coin("bitcoin", "btc", "Bitcoin", 1),
		coin("dogecoin", "doge", "Dogecoin", 2),
	}, nil)

	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background()) }()

	waitFor(t, func() bool { return c.Status() == StatusLoading })

	before := c.Snapshot().Displayed
	snap := c.SetSearchTerm("doge")
	if snap.SearchTerm != "doge" {
		t.Errorf("SearchTerm during fetch: got %q", snap.SearchTerm)
	}
	if ids(snap.Displayed) != ids(before) {
		t.Errorf("displayed changed mid-fetch: got %q, want %q", ids(snap.Displayed), ids(before))
	}

	src.gate <- struct{}{}
	if err := <-done; err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}

	if got := ids(c.Snapshot().Displayed); got != "dogecoin" {
		t.Errorf("displayed after resolve: got %q, want %q", got, "dogecoin")
	}
}

func TestSearchDuringFailedFetchAppliesToPreviousBatch(t *testing.T) {
	src := &fakeSource{quotes: sevenCoins()}
	c := loaded(t, src, 5)

	src.gate = make(chan struct{})
	src.set(nil, errors.New("upstream down"))

	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background()) }()

	waitFor(t, func() bool { return c.Status() == StatusLoading })
	c.SetSearchTerm("eth")

	src.gate <- struct{}{}
	if err := <-done; err == nil {
		t.Fatal("Refresh() should return the fetch error")
	}

	snap := c.Snapshot()
	if snap.Status != StatusError || snap.SearchTerm != "eth" {
		t.Errorf("state: got status %q term %q, want error with term eth", snap.Status, snap.SearchTerm)
	}
	if got := ids(snap.Displayed); got != "ethereum,tether" {
		t.Errorf("displayed: got %q, want %q", got, "ethereum,tether")
	}
	if snap.Total != 7 {
		t.Errorf("Total: got %d, want previous batch of 7", snap.Total)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(time.Millisecond)
	}
}

// ════════════════════════════════════════════════════════════════════
// Refresh and failures
// ════════════════════════════════════════════════════════════════════

func TestRefreshRaisesInfoNotification(t *testing.T) {
	c := loaded(t, &fakeSource{quotes: sevenCoins()}, 5)
	events, cancel := c.Subscribe(16)
	defer cancel()

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}

	got := notifications(drain(events))
	if len(got) != 1 {
		t.Fatalf("notifications: got %d, want 1", len(got))
	}
	n := got[0]
	if n.Level != models.NotifyInfo || n.Title != RefreshedTitle {
		t.Errorf("notification: got %s %q, want info %q", n.Level, n.Title, RefreshedTitle)
	}
	if n.ID == "" {
		t.Error("notification ID should be set")
	}
}

func TestRefreshReenterLoading(t *testing.T) {
	c := loaded(t, &fakeSource{quotes: sevenCoins()}, 5)
	events, cancel := c.Subscribe(16)
	defer cancel()

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}

	var statuses []Status
	for _, ev := range drain(events) {
		if ev.Type == EventSnapshot {
			statuses = append(statuses, ev.Snapshot.Status)
		}
	}
	if len(statuses) != 2 || statuses[0] != StatusLoading || statuses[1] != StatusLoaded {
		t.Errorf("status sequence: got %v, want [loading loaded]", statuses)
	}
}

func TestRefreshFailureKeepsDisplayed(t *testing.T) {
	src := &fakeSource{quotes: sevenCoins()}
	c := loaded(t, src, 5)
	c.SetSearchTerm("e")
	before := c.Snapshot()

	events, cancel := c.Subscribe(16)
	defer cancel()

	src.set(nil, errors.New("upstream down"))
	err := c.Refresh(context.Background())
	if err == nil {
		t.Fatal("Refresh() should return the fetch error")
	}

	snap := c.Snapshot()
	if snap.Status != StatusError || snap.Loading {
		t.Errorf("status: got %q loading=%v, want error", snap.Status, snap.Loading)
	}
	if snap.Error != ErrorMessage {
		t.Errorf("Error: got %q, want %q", snap.Error, ErrorMessage)
	}
	if ids(snap.Displayed) != ids(before.Displayed) {
		t.Errorf("displayed: got %q, want unchanged %q", ids(snap.Displayed), ids(before.Displayed))
	}
	if snap.Total != before.Total {
		t.Errorf("Total: got %d, want %d", snap.Total, before.Total)
	}

	got := notifications(drain(events))
	if len(got) != 1 || got[0].Level != models.NotifyError || got[0].Description != ErrorMessage {
		t.Errorf("notifications: got %+v, want one error", got)
	}
}

func TestSearchAfterFailureUsesPreviousBatch(t *testing.T) {
	src := &fakeSource{quotes: sevenCoins()}
	c := loaded(t, src, 5)
	src.set(nil, errors.New("upstream down"))
	_ = c.Refresh(context.Background())

	snap := c.SetSearchTerm("sol")
	if got := ids(snap.Displayed); got != "solana" {
		t.Errorf("displayed: got %q, want %q", got, "solana")
	}
	if snap.Status != StatusError {
		t.Errorf("status: got %q, want error to persist until the next fetch", snap.Status)
	}
}

func TestRecoveryClearsError(t *testing.T) {
	src := &fakeSource{quotes: sevenCoins()}
	c := loaded(t, src, 5)
	src.set(nil, errors.New("upstream down"))
	_ = c.Refresh(context.Background())

	src.set(sevenCoins(), nil)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	snap := c.Snapshot()
	if snap.Status != StatusLoaded || snap.Error != "" {
		t.Errorf("after recovery: status %q error %q", snap.Status, snap.Error)
	}
}

func TestInitialLoadFailureOverHTTP(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "internal", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id":"bitcoin","symbol":"btc","name":"Bitcoin","image":"","current_price":1,`+
			`"market_cap":1,"market_cap_rank":1,"price_change_percentage_24h":null,"price_change_24h":null,"total_volume":1}]`)
	}))
	defer srv.Close()

	src := datasource.NewCoinGecko(datasource.CoinGeckoOptions{BaseURL: srv.URL, Timeout: 5 * time.Second})
	c := loaded(t, src, 5)
	if got := ids(c.Snapshot().Displayed); got != "bitcoin" {
		t.Fatalf("displayed: got %q, want bitcoin", got)
	}

	fail.Store(true)
	err := c.Refresh(context.Background())
	if !errors.Is(err, datasource.ErrFetchFailed) {
		t.Fatalf("Refresh() error: got %v, want ErrFetchFailed", err)
	}
	snap := c.Snapshot()
	if snap.Status != StatusError || snap.Error == "" {
		t.Errorf("status %q error %q, want error state with a message", snap.Status, snap.Error)
	}
	if got := ids(snap.Displayed); got != "bitcoin" {
		t.Errorf("displayed: got %q, want unchanged bitcoin", got)
	}
}

func TestFetchFailureLoggedOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	src := datasource.NewCoinGecko(datasource.CoinGeckoOptions{BaseURL: srv.URL, Timeout: 5 * time.Second, Logger: logger})
	c := New(src, Options{Logger: logger})

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail on HTTP 500")
	}

	var failures []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level <= logrus.WarnLevel {
			failures = append(failures, e)
		}
	}
	if len(failures) != 1 {
		t.Fatalf("warn-or-worse entries: got %d, want 1", len(failures))
	}
	if failures[0].Data["component"] != "dashboard" || failures[0].Data[logrus.ErrorKey] == nil {
		t.Errorf("entry: got %+v", failures[0].Data)
	}
}

// ════════════════════════════════════════════════════════════════════
// Subscriptions
// ════════════════════════════════════════════════════════════════════

func TestSubscribeCancelClosesChannel(t *testing.T) {
	c := New(&fakeSource{}, Options{})
	events, cancel := c.Subscribe(1)
	cancel()
	cancel()

	if _, ok := <-events; ok {
		t.Error("channel should be closed after cancel")
	}
	c.SetSearchTerm("x") // must not panic on the closed channel
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	c := loaded(t, &fakeSource{quotes: sevenCoins()}, 5)
	events, cancel := c.Subscribe(1)
	defer cancel()

	for i := 0; i < 10; i++ {
		c.SetSearchTerm(fmt.Sprint(i))
	}
	if got := len(drain(events)); got != 1 {
		t.Errorf("buffered events: got %d, want 1", got)
	}
}

func TestVersionIncreases(t *testing.T) {
	c := loaded(t, &fakeSource{quotes: sevenCoins()}, 5)
	v1 := c.Snapshot().Version
	v2 := c.SetSearchTerm("btc").Version
	if v2 <= v1 {
		t.Errorf("Version: got %d after %d, want increase", v2, v1)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	c := loaded(t, &fakeSource{quotes: sevenCoins()}, 5)
	snap := c.Snapshot()
	snap.Displayed[0].Name = "mutated"
	if c.Snapshot().Displayed[0].Name != "Bitcoin" {
		t.Error("mutating a snapshot leaked into the controller")
	}
}
