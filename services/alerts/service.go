package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/dmarcwatch/dmarcwatch/dto"
	"github.com/dmarcwatch/dmarcwatch/interfaces"
	"github.com/dmarcwatch/dmarcwatch/internal/enum"
	"github.com/dmarcwatch/dmarcwatch/internal/logger"
	"github.com/dmarcwatch/dmarcwatch/internal/models"
	"github.com/dmarcwatch/dmarcwatch/internal/repository"
	"github.com/dmarcwatch/dmarcwatch/internal/tracing"
	"github.com/dmarcwatch/dmarcwatch/internal/utils"
)

// Config holds the evaluator thresholds. Zero values are replaced by the
// defaults below.
type Config struct {
	PassRateDropThreshold float64
	NewSourceMinMessages  int64
	NewSourceDedupWindow  time.Duration
	MaxExampleSources     int
}

const (
	defaultDropThreshold  = 10.0
	dropThresholdHigh     = 15.0
	dropThresholdCritical = 30.0

	defaultMinMessages  = int64(10)
	defaultDedupWindow  = 24 * time.Hour
	defaultMaxExamples  = 5
	elevatedSourceCount = 10
)

type alertService struct {
	postgres *repository.Repositories
	enqueuer interfaces.JobEnqueuer
	log      logger.Logger
	cfg      Config
}

func NewAlertService(postgres *repository.Repositories, enqueuer interfaces.JobEnqueuer, log logger.Logger, cfg Config) interfaces.AlertService {
	if cfg.PassRateDropThreshold <= 0 {
		cfg.PassRateDropThreshold = defaultDropThreshold
	}
	if cfg.NewSourceMinMessages <= 0 {
		cfg.NewSourceMinMessages = defaultMinMessages
	}
	if cfg.NewSourceDedupWindow <= 0 {
		cfg.NewSourceDedupWindow = defaultDedupWindow
	}
	if cfg.MaxExampleSources <= 0 {
		cfg.MaxExampleSources = defaultMaxExamples
	}
	return &alertService{
		postgres: postgres,
		enqueuer: enqueuer,
		log:      log,
		cfg:      cfg,
	}
}

// EvaluateReport runs both alert checks for a freshly imported report. The
// checks are independent: a failure in one does not suppress the other, and
// the first error is returned after both ran.
func (s *alertService) EvaluateReport(ctx context.Context, organizationID, domainID, reportID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AlertService.EvaluateReport")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("domain.id", domainID)
	span.SetTag("report.id", reportID)

	passRateErr := s.checkPassRateDrop(ctx, organizationID, domainID, reportID)
	if passRateErr != nil {
		tracing.TraceErr(span, passRateErr)
		s.log.Errorf("pass-rate check failed for domain %s: %v", domainID, passRateErr)
	}

	newSourceErr := s.checkNewSources(ctx, organizationID, domainID, reportID)
	if newSourceErr != nil {
		tracing.TraceErr(span, newSourceErr)
		s.log.Errorf("new-source check failed for domain %s: %v", domainID, newSourceErr)
	}

	if passRateErr != nil {
		return passRateErr
	}
	return newSourceErr
}

// checkPassRateDrop compares the domain's two most recent reports. The rate
// is max(dkimPass, spfPass)/total, defined as 100% for an empty report.
func (s *alertService) checkPassRateDrop(ctx context.Context, organizationID, domainID, reportID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AlertService.checkPassRateDrop")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	stats, err := s.postgres.ReportRepository.GetRecentPassRates(ctx, domainID, 2)
	if err != nil {
		return errors.Wrap(err, "load recent pass rates")
	}
	if len(stats) < 2 {
		return nil
	}

	current := passRate(stats[0])
	previous := passRate(stats[1])
	drop := previous - current
	if drop < s.cfg.PassRateDropThreshold {
		return nil
	}

	severity := enum.SeverityWarning
	switch {
	case drop >= dropThresholdCritical:
		severity = enum.SeverityCritical
	case drop >= dropThresholdHigh:
		severity = enum.SeverityHigh
	}

	alert := &models.Alert{
		DomainID: domainID,
		Type:     enum.AlertPassRateDrop,
		Severity: severity,
		Title:    "DMARC pass rate dropped",
		Message: fmt.Sprintf("Pass rate fell from %.1f%% to %.1f%% (-%.1f points) between the two most recent reports.",
			previous, current, drop),
		Metadata: models.JSONMap{
			models.AlertMetaReportID:     reportID,
			models.AlertMetaPreviousRate: previous,
			models.AlertMetaCurrentRate:  current,
			models.AlertMetaDropPoints:   drop,
		},
	}
	if err := s.postgres.AlertRepository.Create(ctx, alert); err != nil {
		return errors.Wrap(err, "create pass-rate alert")
	}
	span.SetTag("alert.id", alert.ID)

	s.fanOutWebhooks(ctx, organizationID, dto.EventPassRateDrop, alert)
	return nil
}

// checkNewSources finds unknown sending infrastructure that appeared inside
// the report's date range and emits one consolidated alert, never one per IP.
func (s *alertService) checkNewSources(ctx context.Context, organizationID, domainID, reportID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AlertService.checkNewSources")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	report, err := s.postgres.ReportRepository.GetByID(ctx, reportID)
	if err != nil {
		return errors.Wrap(err, "load report")
	}
	if report == nil {
		return nil
	}

	candidates, err := s.postgres.SourceRepository.ListNewSources(
		ctx, domainID, report.DateRangeBegin, report.DateRangeEnd, s.cfg.NewSourceMinMessages)
	if err != nil {
		return errors.Wrap(err, "list new sources")
	}
	candidates, err = s.filterKnownSenders(ctx, candidates)
	if err != nil {
		return errors.Wrap(err, "match known senders")
	}
	if len(candidates) == 0 {
		return nil
	}

	alerted, err := s.recentlyAlertedIPs(ctx, domainID)
	if err != nil {
		return errors.Wrap(err, "load alerted ips")
	}

	var fresh []models.Source
	for _, candidate := range candidates {
		if _, seen := alerted[candidate.SourceIP]; seen {
			continue
		}
		fresh = append(fresh, candidate)
	}
	if len(fresh) == 0 {
		return nil
	}

	severity := enum.SeverityWarning
	if len(fresh) > elevatedSourceCount {
		severity = enum.SeverityHigh
	}

	ips := make([]string, 0, len(fresh))
	examples := make([]map[string]interface{}, 0, s.cfg.MaxExampleSources)
	for i, source := range fresh {
		ips = append(ips, source.SourceIP)
		if i < s.cfg.MaxExampleSources {
			examples = append(examples, map[string]interface{}{
				"sourceIp":      source.SourceIP,
				"totalMessages": source.TotalMessages,
				"firstSeen":     source.FirstSeen,
			})
		}
	}
	remainder := len(fresh) - len(examples)

	alert := &models.Alert{
		DomainID: domainID,
		Type:     enum.AlertNewSources,
		Severity: severity,
		Title:    fmt.Sprintf("%d new sending sources detected", len(fresh)),
		Message:  newSourcesMessage(len(fresh), remainder),
		Metadata: models.JSONMap{
			models.AlertMetaReportID:  reportID,
			models.AlertMetaSourceIPs: ips,
			models.AlertMetaExamples:  examples,
			models.AlertMetaRemainder: remainder,
		},
	}
	if err := s.postgres.AlertRepository.Create(ctx, alert); err != nil {
		return errors.Wrap(err, "create new-source alert")
	}
	span.SetTag("alert.id", alert.ID)
	span.SetTag("sources.new", len(fresh))

	s.fanOutWebhooks(ctx, organizationID, dto.EventNewSourcesFound, alert)
	return nil
}

// filterKnownSenders drops candidates whose IP matches a known sender's
// pattern (exact IP or CIDR) and links the source to the sender in passing.
func (s *alertService) filterKnownSenders(ctx context.Context, candidates []models.Source) ([]models.Source, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	senders, err := s.postgres.KnownSenderRepository.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(senders) == 0 {
		return candidates, nil
	}

	var unmatched []models.Source
	for _, candidate := range candidates {
		sender := matchKnownSender(senders, candidate.SourceIP)
		if sender == nil {
			unmatched = append(unmatched, candidate)
			continue
		}
		if err := s.postgres.SourceRepository.SetKnownSender(ctx, candidate.ID, sender.ID); err != nil {
			s.log.Warnf("failed to link source %s to known sender %s: %v", candidate.ID, sender.ID, err)
		}
	}
	return unmatched, nil
}

func matchKnownSender(senders []models.KnownSender, ip string) *models.KnownSender {
	parsed := net.ParseIP(ip)
	for i := range senders {
		pattern := senders[i].IPPattern
		if pattern == ip {
			return &senders[i]
		}
		if parsed == nil {
			continue
		}
		_, network, err := net.ParseCIDR(pattern)
		if err != nil {
			continue
		}
		if network.Contains(parsed) {
			return &senders[i]
		}
	}
	return nil
}

// recentlyAlertedIPs collects every IP listed in a new-source alert's
// metadata inside the dedup window for this domain.
func (s *alertService) recentlyAlertedIPs(ctx context.Context, domainID string) (map[string]struct{}, error) {
	since := utils.Now().Add(-s.cfg.NewSourceDedupWindow)
	recent, err := s.postgres.AlertRepository.ListRecentByType(ctx, domainID, enum.AlertNewSources, since)
	if err != nil {
		return nil, err
	}

	alerted := make(map[string]struct{})
	for _, alert := range recent {
		for _, ip := range alert.Metadata.GetStringSlice(models.AlertMetaSourceIPs) {
			alerted[ip] = struct{}{}
		}
	}
	return alerted, nil
}

// fanOutWebhooks queues one delivery job per subscribed active webhook.
// Best-effort: a queue failure is logged, never propagated, so alerting
// itself is not retried just because a notification could not be enqueued.
func (s *alertService) fanOutWebhooks(ctx context.Context, organizationID, event string, alert *models.Alert) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AlertService.fanOutWebhooks")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("event", event)

	webhooks, err := s.postgres.WebhookRepository.ListActiveByOrganization(ctx, organizationID)
	if err != nil {
		tracing.TraceErr(span, err)
		s.log.Errorf("failed to list webhooks for org %s: %v", organizationID, err)
		return
	}

	payload := dto.WebhookPayload{
		Event:          event,
		Timestamp:      utils.Now(),
		OrganizationID: organizationID,
		Data: dto.AlertEventData{
			AlertID:  alert.ID,
			DomainID: alert.DomainID,
			Type:     alert.Type.String(),
			Severity: alert.Severity.String(),
			Title:    alert.Title,
			Message:  alert.Message,
			Metadata: alert.Metadata,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		tracing.TraceErr(span, err)
		return
	}

	for _, webhook := range webhooks {
		if !webhook.SubscribesTo(event) {
			continue
		}
		if webhook.SeverityFilter != nil && *webhook.SeverityFilter != alert.Severity.String() {
			continue
		}
		if webhook.DomainID != nil && *webhook.DomainID != alert.DomainID {
			continue
		}

		job := dto.DeliverWebhook{
			WebhookID: webhook.ID,
			Event:     event,
			Payload:   body,
		}
		key := fmt.Sprintf("%s-%s-%s", interfaces.QueueWebhookDelivery, webhook.ID, alert.ID)
		if err := s.enqueuer.Enqueue(ctx, interfaces.QueueWebhookDelivery, key, job); err != nil {
			tracing.TraceErr(span, err)
			s.log.Errorf("failed to enqueue webhook delivery %s: %v", webhook.ID, err)
		}
	}
}

func passRate(stats interfaces.ReportPassStats) float64 {
	if stats.Total == 0 {
		return 100.0
	}
	passed := stats.DKIMPass
	if stats.SPFPass > passed {
		passed = stats.SPFPass
	}
	return float64(passed) / float64(stats.Total) * 100.0
}

func newSourcesMessage(total, remainder int) string {
	if remainder > 0 {
		return fmt.Sprintf("%d previously unseen sending sources passed the volume threshold; showing %d examples, %d more in metadata.",
			total, total-remainder, remainder)
	}
	return fmt.Sprintf("%d previously unseen sending sources passed the volume threshold.", total)
}
