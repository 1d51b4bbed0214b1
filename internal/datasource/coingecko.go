package datasource

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/seenimoa/cosmictracker/internal/infra"
	"github.com/seenimoa/cosmictracker/pkg/models"
)

// Fixed listing query: top 100 coins by market cap in USD, no sparkline.
const (
	VsCurrency  = "usd"
	MarketOrder = "market_cap_desc"
	PerPage     = 100
	Page        = 1
)

// DefaultBaseURL is the public CoinGecko v3 API root.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// CoinGecko fetches market listings from the CoinGecko REST API.
type CoinGecko struct {
	baseURL   string
	userAgent string
	client    *http.Client
	log       *logrus.Entry
}

// CoinGeckoOptions configures a CoinGecko source. Zero values pick defaults.
type CoinGeckoOptions struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Client    *http.Client
	Logger    logrus.FieldLogger
}

// NewCoinGecko creates a CoinGecko source.
func NewCoinGecko(opts CoinGeckoOptions) *CoinGecko {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	client := opts.Client
	if client == nil {
		client = infra.NewHTTPClient(opts.Timeout)
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "cosmictracker/1.0"
	}
	return &CoinGecko{
		baseURL:   base,
		userAgent: ua,
		client:    client,
		log:       infra.Component(opts.Logger, "coingecko"),
	}
}

var _ CoinSource = (*CoinGecko)(nil)

// Name implements CoinSource.
func (c *CoinGecko) Name() string { return "CoinGecko" }

// MarketsURL returns the fully-qualified /coins/markets listing URL.
func (c *CoinGecko) MarketsURL() string {
	q := url.Values{}
	q.Set("vs_currency", VsCurrency)
	q.Set("order", MarketOrder)
	q.Set("per_page", strconv.Itoa(PerPage))
	q.Set("page", strconv.Itoa(Page))
	q.Set("sparkline", "false")
	return c.baseURL + "/coins/markets?" + q.Encode()
}

// FetchMarkets implements CoinSource. Network errors, non-2xx statuses,
// malformed JSON and schema violations all come back wrapped in ErrFetchFailed.
func (c *CoinGecko) FetchMarkets(ctx context.Context, search string) ([]models.CoinQuote, error) {
	start := time.Now()
	quotes, err := c.fetchMarkets(ctx)
	if err != nil {
		// Callers log the failure; the wrapped error carries the detail.
		return nil, fmt.Errorf("%w: coingecko markets: %w", ErrFetchFailed, err)
	}

	filtered := FilterQuotes(quotes, search)
	c.log.WithFields(logrus.Fields{
		"coins":   len(quotes),
		"matched": len(filtered),
		"search":  search,
		"elapsed": time.Since(start),
	}).Debug("market listing fetched")
	return filtered, nil
}

func (c *CoinGecko) fetchMarkets(ctx context.Context) ([]models.CoinQuote, error) {
	body, _, err := doGet(ctx, c.client, c.MarketsURL(), c.headers())
	if err != nil {
		return nil, err
	}
	data, err := readBody(body)
	if err != nil {
		return nil, err
	}
	return ParseMarkets(data)
}

// Ping implements CoinSource using the /ping endpoint.
func (c *CoinGecko) Ping(ctx context.Context) error {
	body, _, err := doGet(ctx, c.client, c.baseURL+"/ping", c.headers())
	if err != nil {
		return fmt.Errorf("coingecko ping: %w", err)
	}
	body.Close()
	return nil
}

func (c *CoinGecko) headers() map[string]string {
	return map[string]string{"User-Agent": c.userAgent}
}
