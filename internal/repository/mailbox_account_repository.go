package repository

import (
	"context"
	gerrors "errors"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/dmarcwatch/dmarcwatch/interfaces"
	"github.com/dmarcwatch/dmarcwatch/internal/enum"
	"github.com/dmarcwatch/dmarcwatch/internal/errors"
	"github.com/dmarcwatch/dmarcwatch/internal/models"
	"github.com/dmarcwatch/dmarcwatch/internal/tracing"
	"github.com/dmarcwatch/dmarcwatch/internal/utils"
)

type mailboxAccountRepository struct {
	db *gorm.DB
}

func NewMailboxAccountRepository(db *gorm.DB) interfaces.MailboxAccountRepository {
	return &mailboxAccountRepository{
		db: db,
	}
}

func (r *mailboxAccountRepository) GetByID(ctx context.Context, id string) (*models.MailboxAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailboxAccountRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var account models.MailboxAccount
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		if gerrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &account, nil
}

func (r *mailboxAccountRepository) ListActive(ctx context.Context) ([]models.MailboxAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailboxAccountRepository.ListActive")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var accounts []models.MailboxAccount
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at ASC").
		Find(&accounts).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return accounts, nil
}

// SetSyncStatus transitions the account between idle and syncing. The
// transition to syncing is guarded so only one worker can hold a sync at a
// time; losing the guard returns ErrSyncAlreadyRunning.
func (r *mailboxAccountRepository) SetSyncStatus(ctx context.Context, id string, status enum.SyncStatus) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailboxAccountRepository.SetSyncStatus")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("sync.status", status.String())

	if status == enum.SyncStatusSyncing {
		result := r.db.WithContext(ctx).
			Model(&models.MailboxAccount{}).
			Where("id = ? AND sync_status = ?", id, enum.SyncStatusIdle).
			Updates(map[string]interface{}{
				"sync_status":           enum.SyncStatusSyncing,
				"emails_processed":      0,
				"reports_found":         0,
				"sync_errors":           0,
				"sync_cancel_requested": false,
			})
		if result.Error != nil {
			tracing.TraceErr(span, result.Error)
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errors.ErrSyncAlreadyRunning
		}
		return nil
	}

	err := r.db.WithContext(ctx).
		Model(&models.MailboxAccount{}).
		Where("id = ?", id).
		Update("sync_status", status).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *mailboxAccountRepository) SaveProgress(ctx context.Context, id string, progress interfaces.SyncProgress) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailboxAccountRepository.SaveProgress")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	updates := map[string]interface{}{
		"emails_processed": progress.EmailsProcessed,
		"reports_found":    progress.ReportsFound,
		"sync_errors":      progress.SyncErrors,
	}
	if progress.LastError != nil {
		updates["last_sync_error"] = *progress.LastError
	}

	err := r.db.WithContext(ctx).
		Model(&models.MailboxAccount{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *mailboxAccountRepository) TouchLastSync(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailboxAccountRepository.TouchLastSync")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	err := r.db.WithContext(ctx).
		Model(&models.MailboxAccount{}).
		Where("id = ?", id).
		Update("last_sync_at", utils.Now()).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *mailboxAccountRepository) RequestCancel(ctx context.Context, id string, cancel bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailboxAccountRepository.RequestCancel")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	err := r.db.WithContext(ctx).
		Model(&models.MailboxAccount{}).
		Where("id = ?", id).
		Update("sync_cancel_requested", cancel).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *mailboxAccountRepository) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailboxAccountRepository.IsCancelRequested")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var requested bool
	err := r.db.WithContext(ctx).
		Model(&models.MailboxAccount{}).
		Select("sync_cancel_requested").
		Where("id = ?", id).
		Scan(&requested).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return false, err
	}
	return requested, nil
}
