package repository

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/dmarcwatch/dmarcwatch/interfaces"
	"github.com/dmarcwatch/dmarcwatch/internal/models"
	"github.com/dmarcwatch/dmarcwatch/internal/tracing"
)

type knownSenderRepository struct {
	db *gorm.DB
}

func NewKnownSenderRepository(db *gorm.DB) interfaces.KnownSenderRepository {
	return &knownSenderRepository{
		db: db,
	}
}

func (r *knownSenderRepository) List(ctx context.Context) ([]models.KnownSender, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "knownSenderRepository.List")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var senders []models.KnownSender
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&senders).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return senders, nil
}
