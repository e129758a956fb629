// Package webhook notifies external subscribers when an import finishes.
//
// The Emitter accepts terminal events on a buffered channel and never blocks
// or fails the job that emits them. Its Run loop resolves enabled
// subscriptions and enqueues one delivery per subscription through an
// Enqueuer. A Deliverer performs a single HTTP POST per attempt; retry timing
// comes from RetryPolicy and is applied by the queue, not by sleeping.
package webhook

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/catalogimport/internal/rows"
)

// Event names a subscription can match.
const (
	EventImportCompleted = "product.import.completed"
	EventImportFailed    = "product.import.failed"
)

// KnownEvents lists the events subscriptions may register for.
var KnownEvents = []string{EventImportCompleted, EventImportFailed}

// Event is the JSON body POSTed to subscribers.
type Event struct {
	Event        string          `json:"event"`
	JobID        string          `json:"job_id"`
	Status       string          `json:"status"`
	Processed    int             `json:"processed"`
	Total        int             `json:"total"`
	Errors       []rows.RowError `json:"errors"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Payload encodes e. A nil error list encodes as an empty array.
func (e Event) Payload() ([]byte, error) {
	if e.Errors == nil {
		e.Errors = []rows.RowError{}
	}
	return json.Marshal(e)
}

// Subscription is a registered delivery target for one event name.
type Subscription struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Event     string    `json:"event"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// Delivery is one unit of outbound work: a payload for one subscription.
type Delivery struct {
	SubscriptionID uuid.UUID       `json:"subscription_id"`
	URL            string          `json:"url"`
	Event          string          `json:"event"`
	JobID          string          `json:"job_id"`
	Payload        json.RawMessage `json:"payload"`
}
