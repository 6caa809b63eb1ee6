package cleanup

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/dmarcwatch/dmarcwatch/interfaces"
	"github.com/dmarcwatch/dmarcwatch/internal/logger"
	"github.com/dmarcwatch/dmarcwatch/internal/repository"
	"github.com/dmarcwatch/dmarcwatch/internal/tracing"
	"github.com/dmarcwatch/dmarcwatch/internal/utils"
)

const (
	defaultRetentionDays       = 365
	unverifiedDomainExpiryDays = 7
)

type cleanupService struct {
	postgres *repository.Repositories
	archive  interfaces.StorageService
	log      logger.Logger
}

func NewCleanupService(postgres *repository.Repositories, archive interfaces.StorageService, log logger.Logger) interfaces.CleanupService {
	return &cleanupService{
		postgres: postgres,
		archive:  archive,
		log:      log,
	}
}

// RunCleanup applies retention for one organization. Each pass is idempotent
// and independent: a failure in one is logged and the rest still run, with
// the first failure returned so the job layer records it.
func (s *cleanupService) RunCleanup(ctx context.Context, organizationID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CleanupService.RunCleanup")
	defer span.Finish()
	tracing.SetDefaultWorkerSpanTags(ctx, span)
	span.SetTag("organization.id", organizationID)

	org, err := s.postgres.OrganizationRepository.GetByID(ctx, organizationID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if org == nil {
		err = errors.Errorf("organization %s not found", organizationID)
		tracing.TraceErr(span, err)
		return err
	}

	retentionDays := org.RetentionDays
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	cutoff := utils.Now().AddDate(0, 0, -retentionDays)

	domains, err := s.postgres.DomainRepository.ListByOrganization(ctx, organizationID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	domainIDs := make([]string, 0, len(domains))
	for _, domain := range domains {
		domainIDs = append(domainIDs, domain.ID)
	}

	var firstErr error
	record := func(pass string, err error) {
		if err == nil {
			return
		}
		tracing.TraceErr(span, err)
		s.log.Errorf("cleanup pass %s failed for org %s: %v", pass, organizationID, err)
		if firstErr == nil {
			firstErr = err
		}
	}

	record("archive-prune", s.pruneArchiveObjects(ctx, domainIDs, cutoff))
	record("report-retention", s.deleteExpiredReports(ctx, span, domainIDs, cutoff))
	record("source-prune", s.pruneStaleSources(ctx, span, domainIDs, cutoff))
	record("unverified-domains", s.expireUnverifiedDomains(ctx, span, organizationID))

	return firstErr
}

// pruneArchiveObjects removes archived attachment objects for reports about
// to be deleted. It runs before the row deletion so the keys are still
// listable; individual object failures are logged and skipped.
func (s *cleanupService) pruneArchiveObjects(ctx context.Context, domainIDs []string, cutoff time.Time) error {
	if s.archive == nil {
		return nil
	}

	keys, err := s.postgres.RetentionRepository.ListArchiveKeysBefore(ctx, domainIDs, cutoff)
	if err != nil {
		return errors.Wrap(err, "list archive keys")
	}

	for _, key := range keys {
		if err := s.archive.Delete(ctx, key); err != nil {
			s.log.Warnf("failed to delete archive object %s: %v", key, err)
		}
	}
	return nil
}

func (s *cleanupService) deleteExpiredReports(ctx context.Context, span opentracing.Span, domainIDs []string, cutoff time.Time) error {
	counts, err := s.postgres.RetentionRepository.DeleteReportsBefore(ctx, domainIDs, cutoff)
	if err != nil {
		return errors.Wrap(err, "delete expired reports")
	}
	if counts.Reports > 0 {
		span.SetTag("deleted.reports", counts.Reports)
		s.log.Infof("retention removed %d reports, %d records, %d auth results", counts.Reports, counts.Records, counts.AuthResults)
	}
	return nil
}

func (s *cleanupService) pruneStaleSources(ctx context.Context, span opentracing.Span, domainIDs []string, cutoff time.Time) error {
	pruned, err := s.postgres.RetentionRepository.PruneSourcesUnseenSince(ctx, domainIDs, cutoff)
	if err != nil {
		return errors.Wrap(err, "prune stale sources")
	}
	if pruned > 0 {
		span.SetTag("deleted.sources", pruned)
	}
	return nil
}

func (s *cleanupService) expireUnverifiedDomains(ctx context.Context, span opentracing.Span, organizationID string) error {
	cutoff := utils.Now().AddDate(0, 0, -unverifiedDomainExpiryDays)
	deleted, err := s.postgres.DomainRepository.DeleteUnverifiedBefore(ctx, organizationID, cutoff)
	if err != nil {
		return errors.Wrap(err, "expire unverified domains")
	}
	if deleted > 0 {
		span.SetTag("deleted.domains", deleted)
	}
	return nil
}

