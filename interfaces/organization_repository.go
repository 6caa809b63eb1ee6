package interfaces

import (
	"context"

	"github.com/dmarcwatch/dmarcwatch/internal/models"
)

type OrganizationRepository interface {
	GetByID(ctx context.Context, id string) (*models.Organization, error)
	List(ctx context.Context) ([]models.Organization, error)
}
