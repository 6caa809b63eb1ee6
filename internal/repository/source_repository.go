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

type sourceRepository struct {
	db *gorm.DB
}

func NewSourceRepository(db *gorm.DB) interfaces.SourceRepository {
	return &sourceRepository{
		db: db,
	}
}

func (r *sourceRepository) GetByID(ctx context.Context, id string) (*models.Source, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "sourceRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var source models.Source
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&source).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &source, nil
}

func (r *sourceRepository) FindGeolocatedByIP(ctx context.Context, ip string) (*models.Source, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "sourceRepository.FindGeolocatedByIP")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var source models.Source
	if err := r.db.WithContext(ctx).
		Where("source_ip = ? AND geo_country <> ''", ip).
		Order("updated_at DESC").
		First(&source).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &source, nil
}

func (r *sourceRepository) UpdateGeolocation(ctx context.Context, id string, geo interfaces.Geolocation) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "sourceRepository.UpdateGeolocation")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	err := r.db.WithContext(ctx).
		Model(&models.Source{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"geo_country": geo.Country,
			"geo_region":  geo.Region,
			"geo_city":    geo.City,
			"geo_asn":     geo.ASN,
			"geo_org":     geo.Org,
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *sourceRepository) SetKnownSender(ctx context.Context, id string, knownSenderID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "sourceRepository.SetKnownSender")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	err := r.db.WithContext(ctx).
		Model(&models.Source{}).
		Where("id = ?", id).
		Update("known_sender_id", knownSenderID).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *sourceRepository) ListNewSources(ctx context.Context, domainID string, begin, end time.Time, minMessages int64) ([]models.Source, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "sourceRepository.ListNewSources")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("domain.id", domainID)

	var sources []models.Source
	err := r.db.WithContext(ctx).
		Where("domain_id = ? AND first_seen >= ? AND first_seen <= ? AND total_messages >= ? AND known_sender_id IS NULL",
			domainID, begin, end, minMessages).
		Order("total_messages DESC").
		Find(&sources).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return sources, nil
}
