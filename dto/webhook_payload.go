package dto

import "time"

// Webhook event names.
const (
	EventAlertCreated      = "alert.created"
	EventPassRateDrop      = "alert.pass_rate_drop"
	EventNewSourcesFound   = "alert.new_sources"
	EventSyncCompleted     = "sync.completed"
	EventWebhookAutoPaused = "webhook.auto_paused"
)

// WebhookPayload is the signed JSON body POSTed to webhook endpoints.
type WebhookPayload struct {
	Event          string      `json:"event"`
	Timestamp      time.Time   `json:"timestamp"`
	OrganizationID string      `json:"organizationId"`
	Data           interface{} `json:"data"`
}

// AlertEventData is the Data body for alert.* events.
type AlertEventData struct {
	AlertID  string                 `json:"alertId"`
	DomainID string                 `json:"domainId"`
	Type     string                 `json:"type"`
	Severity string                 `json:"severity"`
	Title    string                 `json:"title"`
	Message  string                 `json:"message"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
