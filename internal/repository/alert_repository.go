package repository

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/dmarcwatch/dmarcwatch/interfaces"
	"github.com/dmarcwatch/dmarcwatch/internal/enum"
	"github.com/dmarcwatch/dmarcwatch/internal/models"
	"github.com/dmarcwatch/dmarcwatch/internal/tracing"
)

type alertRepository struct {
	db *gorm.DB
}

func NewAlertRepository(db *gorm.DB) interfaces.AlertRepository {
	return &alertRepository{
		db: db,
	}
}

func (r *alertRepository) Create(ctx context.Context, alert *models.Alert) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "alertRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("alert.type", string(alert.Type))

	if err := r.db.WithContext(ctx).Create(alert).Error; err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *alertRepository) ListRecentByType(ctx context.Context, domainID string, alertType enum.AlertType, since time.Time) ([]models.Alert, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "alertRepository.ListRecentByType")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var alerts []models.Alert
	err := r.db.WithContext(ctx).
		Where("domain_id = ? AND type = ? AND created_at >= ?", domainID, alertType, since).
		Order("created_at DESC").
		Find(&alerts).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return alerts, nil
}

func (r *alertRepository) ListByDomain(ctx context.Context, domainID string, limit int) ([]models.Alert, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "alertRepository.ListByDomain")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var alerts []models.Alert
	err := r.db.WithContext(ctx).
		Where("domain_id = ?", domainID).
		Order("created_at DESC").
		Limit(limit).
		Find(&alerts).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return alerts, nil
}
