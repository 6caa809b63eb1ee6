package interfaces

import (
	"context"
	"time"

	"github.com/dmarcwatch/dmarcwatch/internal/enum"
	"github.com/dmarcwatch/dmarcwatch/internal/models"
)

type AlertRepository interface {
	Create(ctx context.Context, alert *models.Alert) error
	// ListRecentByType returns alerts of the given (domain, type) created at
	// or after since, newest first. Used for windowed dedup.
	ListRecentByType(ctx context.Context, domainID string, alertType enum.AlertType, since time.Time) ([]models.Alert, error)
	ListByDomain(ctx context.Context, domainID string, limit int) ([]models.Alert, error)
}
