package interfaces

import "context"

// Queue names. Each worker consumes exactly one.
const (
	QueueMailboxSync     = "mailbox-sync"
	QueueGeoEnrichment   = "geo-enrichment"
	QueueWebhookDelivery = "webhook-delivery"
	QueueAlertEvaluation = "alert-evaluation"
	QueueCleanup         = "cleanup"
)

// JobEnqueuer publishes one job to a named queue. The idempotency key is
// stable per (queue, entity) for recurring triggers and unique per attempt
// for one-shot jobs; the scheduler uses it to skip entities whose prior job
// is still in flight.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, queue string, idempotencyKey string, payload interface{}) error
}
