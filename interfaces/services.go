package interfaces

import (
	"context"
)

// AlertService runs the post-import evaluation: pass-rate drop detection and
// new-source detection, plus webhook fan-out for anything it creates.
type AlertService interface {
	EvaluateReport(ctx context.Context, organizationID, domainID, reportID string) error
}

// EnrichmentService resolves a source IP to geolocation, cache-first.
type EnrichmentService interface {
	EnrichSource(ctx context.Context, sourceID, ipAddress string) error
}

// WebhookDeliveryService signs and POSTs one event payload to one endpoint.
type WebhookDeliveryService interface {
	Deliver(ctx context.Context, webhookID, event string, payload []byte) error
}

// MailboxSyncService drives one full mailbox scan for an account.
type MailboxSyncService interface {
	SyncAccount(ctx context.Context, accountID string) error
	RequestCancel(ctx context.Context, accountID string) error
}

// CleanupService applies retention policy for one organization.
type CleanupService interface {
	RunCleanup(ctx context.Context, organizationID string) error
}
