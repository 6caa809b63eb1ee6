package repository

import (
	"context"
	"errors"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/dmarcwatch/dmarcwatch/interfaces"
	"github.com/dmarcwatch/dmarcwatch/internal/models"
	"github.com/dmarcwatch/dmarcwatch/internal/tracing"
)

type domainRepository struct {
	db *gorm.DB
}

func NewDomainRepository(db *gorm.DB) interfaces.DomainRepository {
	return &domainRepository{
		db: db,
	}
}

func (r *domainRepository) GetByID(ctx context.Context, id string) (*models.Domain, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "domainRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var domain models.Domain
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&domain).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &domain, nil
}

func (r *domainRepository) GetByName(ctx context.Context, organizationID, name string) (*models.Domain, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "domainRepository.GetByName")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagDomain(span, name)

	var domain models.Domain
	if err := r.db.WithContext(ctx).
		Where("organization_id = ? AND LOWER(name) = LOWER(?)", organizationID, name).
		First(&domain).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &domain, nil
}

func (r *domainRepository) ListByOrganization(ctx context.Context, organizationID string) ([]models.Domain, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "domainRepository.ListByOrganization")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var domains []models.Domain
	err := r.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("name ASC").
		Find(&domains).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return domains, nil
}

func (r *domainRepository) DeleteUnverifiedBefore(ctx context.Context, organizationID string, cutoff time.Time) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "domainRepository.DeleteUnverifiedBefore")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	result := r.db.WithContext(ctx).
		Where("organization_id = ? AND verified_at IS NULL AND created_at < ?", organizationID, cutoff).
		Delete(&models.Domain{})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
