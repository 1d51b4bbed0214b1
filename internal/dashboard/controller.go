// Package dashboard holds the view state of the coin dashboard: the latest
// fetched batch, the active search term, the subset that should be displayed,
// and the loading/error flags. Front ends read it through Snapshot or
// Subscribe; they change it through Start, Refresh and SetSearchTerm.
package dashboard

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/seenimoa/cosmictracker/internal/datasource"
	"github.com/seenimoa/cosmictracker/internal/infra"
	"github.com/seenimoa/cosmictracker/pkg/models"
)

// Status is the controller's fetch state.
type Status string

const (
	StatusLoading Status = "loading"
	StatusLoaded  Status = "loaded"
	StatusError   Status = "error"
)

// DefaultTopN is how many coins are displayed when no search term is active.
const DefaultTopN = 5

// User-facing notification texts.
const (
	ErrorTitle       = "Error"
	ErrorMessage     = "Failed to fetch cryptocurrency data. Please try again later."
	RefreshedTitle   = "Data Refreshed"
	RefreshedMessage = "Cryptocurrency data has been updated."
)

// Fetcher is the data access dependency of the controller.
// datasource.CoinSource implementations satisfy it.
type Fetcher interface {
	FetchMarkets(ctx context.Context, search string) ([]models.CoinQuote, error)
}

// Options configures a Controller. Zero values pick defaults.
type Options struct {
	TopN   int
	Logger logrus.FieldLogger
	Now    func() time.Time
}

// Controller is the view-state machine of the dashboard. It is safe for
// concurrent use. Overlapping fetches are not sequenced: whichever resolves
// last determines the state.
type Controller struct {
	src  Fetcher
	topN int
	log  *logrus.Entry
	now  func() time.Time

	mu        sync.RWMutex
	status    Status
	errMsg    string
	term      string
	batch     []models.CoinQuote
	displayed []models.CoinQuote
	fetchedAt time.Time
	updatedAt time.Time
	version   uint64

	subs    map[int]chan Event
	nextSub int
}

// New creates a controller in the loading state. Call Start to run the
// initial fetch.
func New(src Fetcher, opts Options) *Controller {
	topN := opts.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &Controller{
		src:       src,
		topN:      topN,
		log:       infra.Component(opts.Logger, "dashboard"),
		now:       now,
		status:    StatusLoading,
		displayed: []models.CoinQuote{},
		subs:      make(map[int]chan Event),
	}
	c.updatedAt = now()
	return c
}

// Start performs the initial load. Unlike Refresh it raises no
// notification on success.
func (c *Controller) Start(ctx context.Context) error {
	return c.load(ctx, false)
}

// Refresh re-enters loading and fetches a new batch. On success an
// informational notification is raised in addition to the state change.
func (c *Controller) Refresh(ctx context.Context) error {
	return c.load(ctx, true)
}

func (c *Controller) load(ctx context.Context, announce bool) error {
	c.mu.Lock()
	c.status = StatusLoading
	c.errMsg = ""
	c.touchLocked()
	c.mu.Unlock()

	start := c.now()
	quotes, err := c.src.FetchMarkets(ctx, "")

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.log.WithError(err).WithField("elapsed", c.now().Sub(start)).Error("coin fetch failed")
		c.status = StatusError
		c.errMsg = ErrorMessage
		// A term set mid-fetch still applies, against the previous batch.
		c.displayed = c.derive(c.batch, c.term)
		c.touchLocked()
		c.notifyLocked(models.NotifyError, ErrorTitle, ErrorMessage)
		return err
	}

	c.status = StatusLoaded
	c.batch = quotes
	c.fetchedAt = c.now()
	c.displayed = c.derive(quotes, c.term)
	c.touchLocked()

	c.log.WithFields(logrus.Fields{
		"coins":     len(quotes),
		"displayed": len(c.displayed),
		"refresh":   announce,
		"elapsed":   c.now().Sub(start),
	}).Info("coin batch loaded")

	if announce {
		c.notifyLocked(models.NotifyInfo, RefreshedTitle, RefreshedMessage)
	}
	return nil
}

// SetSearchTerm records the active search term. Outside of a fetch the
// displayed subset is recomputed immediately; during a fetch it is derived
// once the fetch resolves, from the new batch or, on failure, the previous one.
func (c *Controller) SetSearchTerm(term string) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.term = term
	if c.status != StatusLoading {
		c.displayed = c.derive(c.batch, term)
	}
	c.touchLocked()
	return c.snapshotLocked()
}

// derive computes the displayed subset: the first topN coins when term is
// blank, otherwise every coin whose name or symbol contains term.
func (c *Controller) derive(batch []models.CoinQuote, term string) []models.CoinQuote {
	if strings.TrimSpace(term) == "" {
		n := min(c.topN, len(batch))
		out := make([]models.CoinQuote, n)
		copy(out, batch[:n])
		return out
	}
	return datasource.FilterQuotes(batch, term)
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// Status returns the current fetch state.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// touchLocked bumps the version and publishes the new state. c.mu must be held.
func (c *Controller) touchLocked() {
	c.version++
	c.updatedAt = c.now()
	snap := c.snapshotLocked()
	c.publishLocked(Event{Type: EventSnapshot, Snapshot: &snap})
}

func (c *Controller) notifyLocked(level models.NotificationLevel, title, desc string) {
	n := models.Notification{
		ID:          uuid.NewString(),
		Level:       level,
		Title:       title,
		Description: desc,
		CreatedAt:   c.now(),
	}
	c.publishLocked(Event{Type: EventNotification, Notification: &n})
}

func (c *Controller) snapshotLocked() Snapshot {
	displayed := make([]models.CoinQuote, len(c.displayed))
	copy(displayed, c.displayed)
	return Snapshot{
		Status:     c.status,
		Loading:    c.status == StatusLoading,
		Error:      c.errMsg,
		SearchTerm: c.term,
		Displayed:  displayed,
		Total:      len(c.batch),
		FetchedAt:  c.fetchedAt,
		UpdatedAt:  c.updatedAt,
		Version:    c.version,
	}
}
