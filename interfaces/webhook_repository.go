package interfaces

import (
	"context"

	"github.com/dmarcwatch/dmarcwatch/internal/models"
)

type WebhookRepository interface {
	GetByID(ctx context.Context, id string) (*models.Webhook, error)
	ListActiveByOrganization(ctx context.Context, organizationID string) ([]models.Webhook, error)

	// ResetFailures zeroes the failure count after a successful delivery.
	ResetFailures(ctx context.Context, id string) error
	// RecordFailure increments the failure count and flips the webhook
	// inactive once the count reaches disableThreshold. Returns whether the
	// webhook was disabled by this call.
	RecordFailure(ctx context.Context, id string, lastError string, disableThreshold int) (bool, error)
	SetActive(ctx context.Context, id string, active bool) error
}
