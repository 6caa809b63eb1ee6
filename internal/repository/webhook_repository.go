package repository

import (
	"context"
	"errors"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dmarcwatch/dmarcwatch/interfaces"
	"github.com/dmarcwatch/dmarcwatch/internal/models"
	"github.com/dmarcwatch/dmarcwatch/internal/tracing"
	"github.com/dmarcwatch/dmarcwatch/internal/utils"
)

type webhookRepository struct {
	db *gorm.DB
}

func NewWebhookRepository(db *gorm.DB) interfaces.WebhookRepository {
	return &webhookRepository{
		db: db,
	}
}

func (r *webhookRepository) GetByID(ctx context.Context, id string) (*models.Webhook, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "webhookRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var webhook models.Webhook
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&webhook).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &webhook, nil
}

func (r *webhookRepository) ListActiveByOrganization(ctx context.Context, organizationID string) ([]models.Webhook, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "webhookRepository.ListActiveByOrganization")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var webhooks []models.Webhook
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND is_active = ?", organizationID, true).
		Find(&webhooks).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return webhooks, nil
}

func (r *webhookRepository) ResetFailures(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "webhookRepository.ResetFailures")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	err := r.db.WithContext(ctx).
		Model(&models.Webhook{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"failure_count":     0,
			"last_error":        "",
			"last_triggered_at": utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// RecordFailure increments the failure counter and deactivates the webhook
// once the threshold is reached, in one transaction so concurrent failed
// deliveries cannot miss the flip.
func (r *webhookRepository) RecordFailure(ctx context.Context, id string, lastError string, disableThreshold int) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "webhookRepository.RecordFailure")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	disabled := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var webhook models.Webhook
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&webhook).Error; err != nil {
			return err
		}

		webhook.FailureCount++
		updates := map[string]interface{}{
			"failure_count": webhook.FailureCount,
			"last_error":    lastError,
		}
		if webhook.FailureCount >= disableThreshold && webhook.IsActive {
			updates["is_active"] = false
			disabled = true
		}

		return tx.Model(&models.Webhook{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return false, err
	}
	return disabled, nil
}

func (r *webhookRepository) SetActive(ctx context.Context, id string, active bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "webhookRepository.SetActive")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	updates := map[string]interface{}{"is_active": active}
	if active {
		updates["failure_count"] = 0
		updates["last_error"] = ""
	}

	result := r.db.WithContext(ctx).
		Model(&models.Webhook{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}
	return nil
}
