package interfaces

import (
	"context"
	"time"

	"github.com/dmarcwatch/dmarcwatch/internal/models"
)

type DomainRepository interface {
	GetByID(ctx context.Context, id string) (*models.Domain, error)
	// GetByName matches case-insensitively within the organization. Returns
	// nil, nil when not found.
	GetByName(ctx context.Context, organizationID, name string) (*models.Domain, error)
	ListByOrganization(ctx context.Context, organizationID string) ([]models.Domain, error)
	// DeleteUnverifiedBefore removes domains never verified and created
	// before the cutoff. Returns the number deleted.
	DeleteUnverifiedBefore(ctx context.Context, organizationID string, cutoff time.Time) (int64, error)
}
