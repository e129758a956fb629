// Package jobs runs imports, webhook deliveries and maintenance as River
// jobs on the catalog database.
package jobs

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/JonMunkholm/catalogimport/internal/webhook"
)

// Queue names.
const (
	QueueImports     = "imports"
	QueueWebhooks    = "webhooks"
	QueueMaintenance = "maintenance"
)

// Job kinds.
const (
	KindImport   = "catalog_import"
	KindDispatch = "webhook_dispatch"
	KindDelivery = "webhook_delivery"
	KindJanitor  = "staging_janitor"
)

// ImportArgs points at a staged upload.
type ImportArgs struct {
	JobID    string `json:"job_id"`
	FileName string `json:"file_name"`
}

func (ImportArgs) Kind() string { return KindImport }

// DispatchArgs carries a terminal event awaiting fan-out to its
// subscriptions.
type DispatchArgs struct {
	Event webhook.Event `json:"event"`
}

func (DispatchArgs) Kind() string { return KindDispatch }

// DeliveryArgs carries one webhook payload for one subscription.
type DeliveryArgs struct {
	SubscriptionID uuid.UUID       `json:"subscription_id"`
	URL            string          `json:"url"`
	Event          string          `json:"event"`
	ImportJobID    string          `json:"import_job_id"`
	Payload        json.RawMessage `json:"payload"`
}

func (DeliveryArgs) Kind() string { return KindDelivery }

func newDeliveryArgs(d webhook.Delivery) DeliveryArgs {
	return DeliveryArgs{
		SubscriptionID: d.SubscriptionID,
		URL:            d.URL,
		Event:          d.Event,
		ImportJobID:    d.JobID,
		Payload:        d.Payload,
	}
}

func (a DeliveryArgs) delivery() webhook.Delivery {
	return webhook.Delivery{
		SubscriptionID: a.SubscriptionID,
		URL:            a.URL,
		Event:          a.Event,
		JobID:          a.ImportJobID,
		Payload:        a.Payload,
	}
}

// JanitorArgs triggers a staging and progress sweep.
type JanitorArgs struct{}

func (JanitorArgs) Kind() string { return KindJanitor }

var (
	_ river.JobArgs = ImportArgs{}
	_ river.JobArgs = DispatchArgs{}
	_ river.JobArgs = DeliveryArgs{}
	_ river.JobArgs = JanitorArgs{}
)
