package ingest

import (
	"context"
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/dmarcwatch/dmarcwatch/dto"
	"github.com/dmarcwatch/dmarcwatch/interfaces"
	cerrors "github.com/dmarcwatch/dmarcwatch/internal/errors"
	"github.com/dmarcwatch/dmarcwatch/internal/models"
	"github.com/dmarcwatch/dmarcwatch/internal/repository"
	"github.com/dmarcwatch/dmarcwatch/internal/tracing"
	"github.com/dmarcwatch/dmarcwatch/internal/utils"
	"github.com/dmarcwatch/dmarcwatch/services/dmarc"
)

const (
	SkipReasonDuplicateReport  = "duplicate report"
	SkipReasonDuplicateMessage = "message already processed"
)

type importService struct {
	postgres *repository.Repositories
}

func NewImportService(postgres *repository.Repositories) interfaces.ImportService {
	return &importService{
		postgres: postgres,
	}
}

// Import runs the full ingestion of one aggregate report: parse, dedup,
// domain-match, then one transaction covering the report, its records, and
// the additive source/subdomain counter upserts. A failure anywhere leaves
// nothing behind; a duplicate returns the existing report id with
// Skipped=true so at-least-once job delivery stays safe.
func (s *importService) Import(ctx context.Context, rawXML []byte, domainID string, opts interfaces.ImportOptions) *interfaces.ImportResult {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ImportService.Import")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("domain.id", domainID)

	result := &interfaces.ImportResult{FollowUps: dto.FollowUps{}}

	parsed, err := dmarc.ParseAggregateReport(rawXML)
	if err != nil {
		tracing.TraceErr(span, err)
		result.Err = err
		return result
	}
	span.SetTag("report.id", parsed.ReportID)
	span.SetTag("report.org", parsed.OrgName)

	domain, err := s.postgres.DomainRepository.GetByID(ctx, domainID)
	if err != nil {
		tracing.TraceErr(span, err)
		result.Err = err
		return result
	}
	if domain == nil {
		tracing.TraceErr(span, cerrors.ErrDomainNotFound)
		result.Err = cerrors.ErrDomainNotFound
		return result
	}

	// A mismatch means the mailbox search routed the attachment to the
	// wrong tenant's domain; importing it would leak cross-tenant data.
	if !strings.EqualFold(parsed.PolicyDomain, domain.Name) {
		err = errors.Wrapf(cerrors.ErrDomainMismatch, "report domain %s, target domain %s", parsed.PolicyDomain, domain.Name)
		tracing.TraceErr(span, err)
		result.Err = err
		return result
	}

	existing, err := s.postgres.ReportRepository.GetByReportIDAndOrg(ctx, parsed.ReportID, parsed.OrgName)
	if err != nil {
		tracing.TraceErr(span, err)
		result.Err = err
		return result
	}
	if existing != nil {
		span.SetTag("duplicate", true)
		result.Success = true
		result.Skipped = true
		result.SkipReason = SkipReasonDuplicateReport
		result.ReportID = existing.ID
		return result
	}

	if opts.MessageRef != "" {
		byRef, err := s.postgres.ReportRepository.GetByMessageRef(ctx, domainID, opts.MessageRef)
		if err != nil {
			tracing.TraceErr(span, err)
			result.Err = err
			return result
		}
		if byRef != nil {
			span.SetTag("duplicate", true)
			result.Success = true
			result.Skipped = true
			result.SkipReason = SkipReasonDuplicateMessage
			result.ReportID = byRef.ID
			return result
		}
	}

	report := buildReport(parsed, domainID, opts, rawXML)
	records := buildRecords(parsed)
	sourceDeltas, subdomainDeltas := buildDeltas(parsed, domainID, domain.Name)

	touched, err := s.postgres.ReportRepository.CommitImport(ctx, report, records, sourceDeltas, subdomainDeltas)
	if err != nil {
		tracing.TraceErr(span, err)
		result.Err = err
		return result
	}

	result.Success = true
	result.ReportID = report.ID
	result.FollowUps.Evaluations = append(result.FollowUps.Evaluations, dto.EvaluateReport{
		OrganizationID: domain.OrganizationID,
		DomainID:       domainID,
		ReportID:       report.ID,
	})
	for _, source := range touched {
		if source.Enriched() {
			continue
		}
		result.FollowUps.Enrichments = append(result.FollowUps.Enrichments, dto.EnrichSource{
			SourceID:  source.ID,
			IPAddress: source.SourceIP,
		})
	}

	span.SetTag("records.imported", len(records))
	return result
}

func buildReport(parsed *dmarc.AggregateReport, domainID string, opts interfaces.ImportOptions, rawXML []byte) *models.Report {
	report := &models.Report{
		DomainID:       domainID,
		ReportID:       parsed.ReportID,
		OrgName:        parsed.OrgName,
		ReporterMail:   parsed.Email,
		PolicyDomain:   parsed.PolicyDomain,
		PolicyP:        parsed.Policy,
		PolicySP:       parsed.SubPolicy,
		PolicyPct:      parsed.Percentage,
		ADKIM:          parsed.ADKIM,
		ASPF:           parsed.ASPF,
		DateRangeBegin: parsed.DateRangeBegin,
		DateRangeEnd:   parsed.DateRangeEnd,
		RawXML:         string(rawXML),
		ArchiveKey:     opts.ArchiveKey,
	}
	if opts.MessageRef != "" {
		report.MessageRef = utils.Ptr(opts.MessageRef)
	}
	return report
}

func buildRecords(parsed *dmarc.AggregateReport) []models.Record {
	records := make([]models.Record, 0, len(parsed.Records))
	for _, rec := range parsed.Records {
		record := models.Record{
			SourceIP:      rec.SourceIP,
			Count:         rec.Count,
			Disposition:   rec.Disposition,
			EvalDKIM:      rec.EvalDKIM,
			EvalSPF:       rec.EvalSPF,
			PolicyReasons: utils.SliceToString(rec.PolicyReasons),
			HeaderFrom:    rec.HeaderFrom,
			EnvelopeFrom:  rec.EnvelopeFrom,
		}
		for _, dkim := range rec.DKIMResults {
			record.DKIMResults = append(record.DKIMResults, models.DKIMAuthResult{
				Domain:   dkim.Domain,
				Selector: dkim.Selector,
				Result:   dkim.Result,
			})
		}
		for _, spf := range rec.SPFResults {
			record.SPFResults = append(record.SPFResults, models.SPFAuthResult{
				Domain: spf.Domain,
				Scope:  spf.Scope,
				Result: spf.Result,
			})
		}
		records = append(records, record)
	}
	return records
}

// buildDeltas folds the report's records into per-IP and per-subdomain
// additive contributions. Both seen bounds start at the report window so the
// upsert's LEAST/GREATEST widening keeps ranges accurate across replays of
// other reports.
func buildDeltas(parsed *dmarc.AggregateReport, domainID, domainName string) ([]interfaces.SourceDelta, []interfaces.SubdomainDelta) {
	sourceIndex := make(map[string]int)
	subdomainIndex := make(map[string]int)
	var sources []interfaces.SourceDelta
	var subdomains []interfaces.SubdomainDelta

	for _, rec := range parsed.Records {
		if rec.SourceIP == "" || rec.Count == 0 {
			continue
		}

		var passed, failed int64
		if rec.Passed() {
			passed = rec.Count
		} else {
			failed = rec.Count
		}

		idx, ok := sourceIndex[rec.SourceIP]
		if !ok {
			idx = len(sources)
			sourceIndex[rec.SourceIP] = idx
			sources = append(sources, interfaces.SourceDelta{
				DomainID:  domainID,
				SourceIP:  rec.SourceIP,
				FirstSeen: parsed.DateRangeBegin,
				LastSeen:  parsed.DateRangeEnd,
			})
		}
		sources[idx].Total += rec.Count
		sources[idx].Passed += passed
		sources[idx].Failed += failed

		subdomain, ok := ExtractSubdomain(rec.HeaderFrom, domainName)
		if !ok {
			continue
		}
		sidx, ok := subdomainIndex[subdomain]
		if !ok {
			sidx = len(subdomains)
			subdomainIndex[subdomain] = sidx
			subdomains = append(subdomains, interfaces.SubdomainDelta{
				DomainID:  domainID,
				Name:      subdomain,
				FirstSeen: parsed.DateRangeBegin,
				LastSeen:  parsed.DateRangeEnd,
			})
		}
		subdomains[sidx].Total += rec.Count
		subdomains[sidx].Passed += passed
		subdomains[sidx].Failed += failed
	}

	return sources, subdomains
}

// ExtractSubdomain returns headerFrom when it is a strict subdomain of
// domain: it must end in "." + domain and not equal the domain itself.
func ExtractSubdomain(headerFrom, domain string) (string, bool) {
	from := strings.ToLower(strings.TrimSpace(headerFrom))
	base := strings.ToLower(strings.TrimSpace(domain))
	if from == "" || base == "" || from == base {
		return "", false
	}
	if !strings.HasSuffix(from, "."+base) {
		return "", false
	}
	return from, true
}
