package interfaces

import (
	"context"

	"github.com/dmarcwatch/dmarcwatch/internal/models"
)

type KnownSenderRepository interface {
	List(ctx context.Context) ([]models.KnownSender, error)
}
