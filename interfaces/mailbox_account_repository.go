package interfaces

import (
	"context"

	"github.com/dmarcwatch/dmarcwatch/internal/enum"
	"github.com/dmarcwatch/dmarcwatch/internal/models"
)

// SyncProgress is the checkpoint written periodically during a mailbox sync.
type SyncProgress struct {
	EmailsProcessed int
	ReportsFound    int
	SyncErrors      int
	LastError       *string
}

type MailboxAccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.MailboxAccount, error)
	ListActive(ctx context.Context) ([]models.MailboxAccount, error)

	// SetSyncStatus transitions the account's sync state. Transitioning to
	// syncing fails with ErrSyncAlreadyRunning when another sync holds it.
	SetSyncStatus(ctx context.Context, id string, status enum.SyncStatus) error
	SaveProgress(ctx context.Context, id string, progress SyncProgress) error
	TouchLastSync(ctx context.Context, id string) error

	RequestCancel(ctx context.Context, id string, cancel bool) error
	IsCancelRequested(ctx context.Context, id string) (bool, error)
}
