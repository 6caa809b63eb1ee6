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
)

type reportRepository struct {
	db *gorm.DB
}

func NewReportRepository(db *gorm.DB) interfaces.ReportRepository {
	return &reportRepository{
		db: db,
	}
}

func (r *reportRepository) GetByID(ctx context.Context, id string) (*models.Report, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "reportRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var report models.Report
	if err := r.db.WithContext(ctx).Preload("Records").Where("id = ?", id).First(&report).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &report, nil
}

func (r *reportRepository) GetByReportIDAndOrg(ctx context.Context, reportID, orgName string) (*models.Report, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "reportRepository.GetByReportIDAndOrg")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var report models.Report
	if err := r.db.WithContext(ctx).
		Where("report_id = ? AND org_name = ?", reportID, orgName).
		First(&report).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &report, nil
}

func (r *reportRepository) GetByMessageRef(ctx context.Context, domainID, messageRef string) (*models.Report, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "reportRepository.GetByMessageRef")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var report models.Report
	if err := r.db.WithContext(ctx).
		Where("domain_id = ? AND message_ref = ?", domainID, messageRef).
		First(&report).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &report, nil
}

// CommitImport persists one parsed report and its aggregation deltas in a
// single transaction. Source and subdomain counters are upserted additively
// keyed on (domain_id, source_ip) and (domain_id, name), so replays of other
// reports never overwrite totals. The touched sources are re-read inside the
// transaction and returned for follow-up scheduling.
func (r *reportRepository) CommitImport(
	ctx context.Context,
	report *models.Report,
	records []models.Record,
	sourceDeltas []interfaces.SourceDelta,
	subdomainDeltas []interfaces.SubdomainDelta,
) ([]models.Source, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "reportRepository.CommitImport")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("report.id", report.ReportID)
	span.SetTag("records.count", len(records))

	var touched []models.Source

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(report).Error; err != nil {
			return err
		}

		// Create cascades the DKIM/SPF auth result associations.
		for i := range records {
			records[i].ReportRowID = report.ID
			if err := tx.Create(&records[i]).Error; err != nil {
				return err
			}
		}

		for _, delta := range sourceDeltas {
			source := models.Source{
				DomainID:       delta.DomainID,
				SourceIP:       delta.SourceIP,
				TotalMessages:  delta.Total,
				PassedMessages: delta.Passed,
				FailedMessages: delta.Failed,
				FirstSeen:      delta.FirstSeen,
				LastSeen:       delta.LastSeen,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "domain_id"}, {Name: "source_ip"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"total_messages":  gorm.Expr("sources.total_messages + excluded.total_messages"),
					"passed_messages": gorm.Expr("sources.passed_messages + excluded.passed_messages"),
					"failed_messages": gorm.Expr("sources.failed_messages + excluded.failed_messages"),
					"first_seen":      gorm.Expr("LEAST(sources.first_seen, excluded.first_seen)"),
					"last_seen":       gorm.Expr("GREATEST(sources.last_seen, excluded.last_seen)"),
				}),
			}).Create(&source).Error; err != nil {
				return err
			}
		}

		for _, delta := range subdomainDeltas {
			subdomain := models.Subdomain{
				DomainID:       delta.DomainID,
				Name:           delta.Name,
				TotalMessages:  delta.Total,
				PassedMessages: delta.Passed,
				FailedMessages: delta.Failed,
				FirstSeen:      delta.FirstSeen,
				LastSeen:       delta.LastSeen,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "domain_id"}, {Name: "name"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"total_messages":  gorm.Expr("subdomains.total_messages + excluded.total_messages"),
					"passed_messages": gorm.Expr("subdomains.passed_messages + excluded.passed_messages"),
					"failed_messages": gorm.Expr("subdomains.failed_messages + excluded.failed_messages"),
					"first_seen":      gorm.Expr("LEAST(subdomains.first_seen, excluded.first_seen)"),
					"last_seen":       gorm.Expr("GREATEST(subdomains.last_seen, excluded.last_seen)"),
				}),
			}).Create(&subdomain).Error; err != nil {
				return err
			}
		}

		if len(sourceDeltas) > 0 {
			ips := make([]string, 0, len(sourceDeltas))
			for _, delta := range sourceDeltas {
				ips = append(ips, delta.SourceIP)
			}
			if err := tx.
				Where("domain_id = ? AND source_ip IN ?", report.DomainID, ips).
				Find(&touched).Error; err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	return touched, nil
}

// GetRecentPassRates returns per-report pass statistics for a domain, newest
// report date range first, limited to the most recent reports.
func (r *reportRepository) GetRecentPassRates(ctx context.Context, domainID string, limit int) ([]interfaces.ReportPassStats, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "reportRepository.GetRecentPassRates")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var stats []interfaces.ReportPassStats
	err := r.db.WithContext(ctx).
		Table("reports").
		Select(`reports.id AS report_id,
			reports.date_range_begin,
			reports.date_range_end,
			COALESCE(SUM(records.count), 0) AS total,
			COALESCE(SUM(CASE WHEN records.eval_dkim = 'pass' THEN records.count ELSE 0 END), 0) AS dkim_pass,
			COALESCE(SUM(CASE WHEN records.eval_spf = 'pass' THEN records.count ELSE 0 END), 0) AS spf_pass`).
		Joins("LEFT JOIN records ON records.report_row_id = reports.id").
		Where("reports.domain_id = ?", domainID).
		Group("reports.id, reports.date_range_begin, reports.date_range_end").
		Order("reports.date_range_end DESC").
		Limit(limit).
		Scan(&stats).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return stats, nil
}
