package repository

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/dmarcwatch/dmarcwatch/interfaces"
	"github.com/dmarcwatch/dmarcwatch/internal/tracing"
)

type retentionRepository struct {
	db *gorm.DB
}

func NewRetentionRepository(db *gorm.DB) interfaces.RetentionRepository {
	return &retentionRepository{
		db: db,
	}
}

func (r *retentionRepository) ListArchiveKeysBefore(ctx context.Context, domainIDs []string, cutoff time.Time) ([]string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "retentionRepository.ListArchiveKeysBefore")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if len(domainIDs) == 0 {
		return nil, nil
	}

	var keys []string
	err := r.db.WithContext(ctx).
		Table("reports").
		Select("archive_key").
		Where("domain_id IN ? AND date_range_end < ? AND archive_key <> ''", domainIDs, cutoff).
		Scan(&keys).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return keys, nil
}

// DeleteReportsBefore removes expired reports bottom-up: auth results first,
// then records, then the report rows, all in one transaction so a failure
// mid-pass never leaves orphaned parents.
func (r *retentionRepository) DeleteReportsBefore(ctx context.Context, domainIDs []string, cutoff time.Time) (interfaces.RetentionCounts, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "retentionRepository.DeleteReportsBefore")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var counts interfaces.RetentionCounts
	if len(domainIDs) == 0 {
		return counts, nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reportFilter := tx.
			Table("reports").
			Select("id").
			Where("domain_id IN ? AND date_range_end < ?", domainIDs, cutoff)

		recordFilter := tx.
			Table("records").
			Select("id").
			Where("report_row_id IN (?)", reportFilter)

		result := tx.Exec(
			"DELETE FROM dkim_auth_results WHERE record_id IN (?)",
			recordFilter,
		)
		if result.Error != nil {
			return result.Error
		}
		counts.AuthResults = result.RowsAffected

		result = tx.Exec(
			"DELETE FROM spf_auth_results WHERE record_id IN (?)",
			recordFilter,
		)
		if result.Error != nil {
			return result.Error
		}
		counts.AuthResults += result.RowsAffected

		result = tx.Exec(
			"DELETE FROM records WHERE report_row_id IN (?)",
			reportFilter,
		)
		if result.Error != nil {
			return result.Error
		}
		counts.Records = result.RowsAffected

		result = tx.Exec(
			"DELETE FROM reports WHERE domain_id IN ? AND date_range_end < ?",
			domainIDs, cutoff,
		)
		if result.Error != nil {
			return result.Error
		}
		counts.Reports = result.RowsAffected

		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return interfaces.RetentionCounts{}, err
	}

	span.SetTag("deleted.reports", counts.Reports)
	return counts, nil
}

func (r *retentionRepository) PruneSourcesUnseenSince(ctx context.Context, domainIDs []string, cutoff time.Time) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "retentionRepository.PruneSourcesUnseenSince")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if len(domainIDs) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Exec("DELETE FROM sources WHERE domain_id IN ? AND last_seen < ?", domainIDs, cutoff)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
