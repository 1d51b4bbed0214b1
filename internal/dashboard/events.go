package dashboard

import (
	"time"

	"github.com/seenimoa/cosmictracker/pkg/models"
)

// Snapshot is a point-in-time copy of the controller state.
type Snapshot struct {
	Status     Status             `json:"status"`
	Loading    bool               `json:"loading"`
	Error      string             `json:"error,omitempty"`
	SearchTerm string             `json:"search_term"`
	Displayed  []models.CoinQuote `json:"displayed"`
	Total      int                `json:"total"`
	FetchedAt  time.Time          `json:"fetched_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
	Version    uint64             `json:"version"`
}

// EventType distinguishes state changes from transient notifications.
type EventType string

const (
	EventSnapshot     EventType = "snapshot"
	EventNotification EventType = "notification"
)

// Event is delivered to subscribers. Exactly one of Snapshot and
// Notification is set, matching Type.
type Event struct {
	Type         EventType            `json:"type"`
	Snapshot     *Snapshot            `json:"snapshot,omitempty"`
	Notification *models.Notification `json:"notification,omitempty"`
}

// Subscribe registers a listener for state changes and notifications.
// Events are dropped for a subscriber whose buffer is full. The returned
// cancel func unregisters the listener and closes the channel; it is safe to
// call more than once.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// publishLocked fans an event out without blocking. c.mu must be held.
func (c *Controller) publishLocked(ev Event) {
	for id, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			c.log.WithField("subscriber", id).Debug("subscriber buffer full, event dropped")
		}
	}
}
