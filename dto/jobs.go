package dto

import "encoding/json"

// Job payloads. One type per queue; the queue worker decodes into these.

type SyncMailbox struct {
	AccountID string `json:"accountId"`
}

type EnrichSource struct {
	SourceID  string `json:"sourceId"`
	IPAddress string `json:"ipAddress"`
}

type EvaluateReport struct {
	OrganizationID string `json:"organizationId"`
	DomainID       string `json:"domainId"`
	ReportID       string `json:"reportId"`
}

type DeliverWebhook struct {
	WebhookID string          `json:"webhookId"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
}

type RunCleanup struct {
	OrganizationID string `json:"organizationId"`
}

// FollowUps are the fire-and-forget job requests an import produces. The
// import engine stays free of queue-client dependencies; the caller decides
// how (and whether) to enqueue them.
type FollowUps struct {
	Enrichments []EnrichSource   `json:"enrichments,omitempty"`
	Evaluations []EvaluateReport `json:"evaluations,omitempty"`
}

func (f FollowUps) Empty() bool {
	return len(f.Enrichments) == 0 && len(f.Evaluations) == 0
}

// JobEnvelope is the wire shape of every queue message.
type JobEnvelope struct {
	Job      JobDetails  `json:"job"`
	Metadata JobMetadata `json:"metadata"`
}

type JobDetails struct {
	ID             string          `json:"id"`
	Queue          string          `json:"queue"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Attempt        int             `json:"attempt"`
	Payload        json.RawMessage `json:"payload"`
}

type JobMetadata struct {
	UberTraceID string `json:"uber-trace-id"`
	EnqueuedAt  string `json:"enqueuedAt"`
}
