package repository

import (
	"context"
	"errors"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/dmarcwatch/dmarcwatch/interfaces"
	"github.com/dmarcwatch/dmarcwatch/internal/models"
	"github.com/dmarcwatch/dmarcwatch/internal/tracing"
)

type organizationRepository struct {
	db *gorm.DB
}

func NewOrganizationRepository(db *gorm.DB) interfaces.OrganizationRepository {
	return &organizationRepository{
		db: db,
	}
}

func (r *organizationRepository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "organizationRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var org models.Organization
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&org).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &org, nil
}

func (r *organizationRepository) List(ctx context.Context) ([]models.Organization, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "organizationRepository.List")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var orgs []models.Organization
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&orgs).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return orgs, nil
}
