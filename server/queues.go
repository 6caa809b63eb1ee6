package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"

	"github.com/dmarcwatch/dmarcwatch/dto"
	"github.com/dmarcwatch/dmarcwatch/interfaces"
	"github.com/dmarcwatch/dmarcwatch/services"
	"github.com/dmarcwatch/dmarcwatch/services/jobs"
)

// Queue concurrency. Mailbox sync and cleanup stay serial; the fan-out
// queues absorb bursts from large imports.
const (
	mailboxSyncConcurrency     = 1
	geoEnrichmentConcurrency   = 8
	webhookDeliveryConcurrency = 8
	alertEvaluationConcurrency = 4
	cleanupConcurrency         = 1
)

func ioBackoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    1 * time.Second,
		Max:    60 * time.Second,
		Factor: 2,
		Jitter: true,
	}
}

// buildQueueSpecs binds every queue to its service handler. Payload decode
// failures are permanent: a malformed message retries identically forever.
func buildQueueSpecs(svcs *services.Services) []jobs.QueueSpec {
	return []jobs.QueueSpec{
		{
			Queue:       interfaces.QueueMailboxSync,
			Concurrency: mailboxSyncConcurrency,
			Retry:       jobs.RetryPolicy{MaxAttempts: 3, Backoff: ioBackoff()},
			Handler: func(ctx context.Context, job dto.JobDetails) error {
				var payload dto.SyncMailbox
				if err := json.Unmarshal(job.Payload, &payload); err != nil {
					return errors.Wrap(err, "decode sync payload")
				}
				return svcs.MailboxSyncService.SyncAccount(ctx, payload.AccountID)
			},
		},
		{
			Queue:       interfaces.QueueGeoEnrichment,
			Concurrency: geoEnrichmentConcurrency,
			Retry:       jobs.RetryPolicy{MaxAttempts: 5, Backoff: ioBackoff()},
			Handler: func(ctx context.Context, job dto.JobDetails) error {
				var payload dto.EnrichSource
				if err := json.Unmarshal(job.Payload, &payload); err != nil {
					return errors.Wrap(err, "decode enrichment payload")
				}
				return svcs.EnrichmentService.EnrichSource(ctx, payload.SourceID, payload.IPAddress)
			},
		},
		{
			Queue:       interfaces.QueueWebhookDelivery,
			Concurrency: webhookDeliveryConcurrency,
			Retry:       jobs.RetryPolicy{MaxAttempts: 5, Backoff: ioBackoff()},
			Handler: func(ctx context.Context, job dto.JobDetails) error {
				var payload dto.DeliverWebhook
				if err := json.Unmarshal(job.Payload, &payload); err != nil {
					return errors.Wrap(err, "decode webhook payload")
				}
				return svcs.WebhookService.Deliver(ctx, payload.WebhookID, payload.Event, payload.Payload)
			},
		},
		{
			Queue:       interfaces.QueueAlertEvaluation,
			Concurrency: alertEvaluationConcurrency,
			Retry:       jobs.RetryPolicy{MaxAttempts: 3, Backoff: ioBackoff()},
			Handler: func(ctx context.Context, job dto.JobDetails) error {
				var payload dto.EvaluateReport
				if err := json.Unmarshal(job.Payload, &payload); err != nil {
					return errors.Wrap(err, "decode alert payload")
				}
				return svcs.AlertService.EvaluateReport(ctx, payload.OrganizationID, payload.DomainID, payload.ReportID)
			},
		},
		{
			Queue:       interfaces.QueueCleanup,
			Concurrency: cleanupConcurrency,
			Retry:       jobs.RetryPolicy{MaxAttempts: 1},
			Handler: func(ctx context.Context, job dto.JobDetails) error {
				var payload dto.RunCleanup
				if err := json.Unmarshal(job.Payload, &payload); err != nil {
					return errors.Wrap(err, "decode cleanup payload")
				}
				return svcs.CleanupService.RunCleanup(ctx, payload.OrganizationID)
			},
		},
	}
}
