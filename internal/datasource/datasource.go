// Package datasource fetches cryptocurrency market listings from external
// sources. It defines a common CoinSource interface, the shared HTTP helpers,
// and the error taxonomy every source reports through.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/seenimoa/cosmictracker/pkg/models"
)

// CoinSource is implemented by every market-data source.
type CoinSource interface {
	// Name returns the human-readable name of this data source.
	Name() string

	// FetchMarkets returns the top coins by market cap, validated, and
	// narrowed to names or symbols containing search (case-insensitive)
	// when search is non-empty. Any failure fails the whole call.
	FetchMarkets(ctx context.Context, search string) ([]models.CoinQuote, error)

	// Ping checks that the source is reachable.
	Ping(ctx context.Context) error
}

// --- Sentinel errors ---

// ErrFetchFailed wraps every failure returned by FetchMarkets. Callers that
// only need to know "the fetch failed" test for it with errors.Is.
var ErrFetchFailed = errors.New("data fetch failed")

// ErrHTTP wraps a non-success HTTP response.
type ErrHTTP struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Status, e.Body)
}

// ValidationError reports the first element of a response that does not
// match the coin schema. Index is -1 when the document as a whole is wrong.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Index < 0:
		return "invalid response: " + e.Reason
	case e.Field == "":
		return fmt.Sprintf("invalid element %d: %s", e.Index, e.Reason)
	default:
		return fmt.Sprintf("invalid element %d: field %q %s", e.Index, e.Field, e.Reason)
	}
}

// --- Shared HTTP helpers ---

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 16 << 20

// doGet performs a GET request with the given URL and headers, returning the response body.
// The caller is responsible for closing the returned ReadCloser.
func doGet(ctx context.Context, client *http.Client, url string, headers map[string]string) (io.ReadCloser, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("HTTP GET %s: %w", url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, resp.StatusCode, &ErrHTTP{
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Body:       string(body),
		}
	}

	return resp.Body, resp.StatusCode, nil
}

// readBody reads a response body up to maxBodyBytes and closes it.
func readBody(body io.ReadCloser) ([]byte, error) {
	defer body.Close()
	data, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}
