package mailbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/dmarcwatch/dmarcwatch/dto"
	"github.com/dmarcwatch/dmarcwatch/interfaces"
	"github.com/dmarcwatch/dmarcwatch/internal/enum"
	cerrors "github.com/dmarcwatch/dmarcwatch/internal/errors"
	"github.com/dmarcwatch/dmarcwatch/internal/logger"
	"github.com/dmarcwatch/dmarcwatch/internal/repository"
	"github.com/dmarcwatch/dmarcwatch/internal/tracing"
	"github.com/dmarcwatch/dmarcwatch/internal/utils"
	"github.com/dmarcwatch/dmarcwatch/services/dmarc"
)

// Config bounds one sync invocation. Zero values take the defaults below.
type Config struct {
	MaxMessagesPerSync int
	InterMessageDelay  time.Duration
	CheckpointEvery    int
	CancelPollTTL      time.Duration
}

const (
	defaultMaxMessages     = 2000
	defaultMessageDelay    = 500 * time.Millisecond
	defaultCheckpointEvery = 10
	defaultCancelPollTTL   = 5 * time.Second
)

type syncService struct {
	postgres  *repository.Repositories
	providers interfaces.MailboxProviderFactory
	importer  interfaces.ImportService
	enqueuer  interfaces.JobEnqueuer
	archive   interfaces.StorageService
	log       logger.Logger
	cfg       Config
}

func NewSyncService(
	postgres *repository.Repositories,
	providers interfaces.MailboxProviderFactory,
	importer interfaces.ImportService,
	enqueuer interfaces.JobEnqueuer,
	archive interfaces.StorageService,
	log logger.Logger,
	cfg Config,
) interfaces.MailboxSyncService {
	if cfg.MaxMessagesPerSync <= 0 {
		cfg.MaxMessagesPerSync = defaultMaxMessages
	}
	if cfg.InterMessageDelay <= 0 {
		cfg.InterMessageDelay = defaultMessageDelay
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = defaultCheckpointEvery
	}
	if cfg.CancelPollTTL <= 0 {
		cfg.CancelPollTTL = defaultCancelPollTTL
	}
	return &syncService{
		postgres:  postgres,
		providers: providers,
		importer:  importer,
		enqueuer:  enqueuer,
		archive:   archive,
		log:       log,
		cfg:       cfg,
	}
}

// syncState is the per-invocation progress bundle.
type syncState struct {
	emailsProcessed int
	reportsFound    int
	syncErrors      int
	lastError       *string
}

// SyncAccount runs one full mailbox scan. Status always returns to idle,
// even on failure; errors surface through the progress fields and the
// returned error. Messages are processed strictly sequentially with a fixed
// delay to stay under the provider's rate limits.
func (s *syncService) SyncAccount(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.SyncAccount")
	defer span.Finish()
	tracing.SetDefaultWorkerSpanTags(ctx, span)
	span.SetTag("account.id", accountID)

	account, err := s.postgres.MailboxAccountRepository.GetByID(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if account == nil {
		tracing.TraceErr(span, cerrors.ErrAccountNotFound)
		return cerrors.ErrAccountNotFound
	}

	if err := s.postgres.MailboxAccountRepository.SetSyncStatus(ctx, accountID, enum.SyncStatusSyncing); err != nil {
		if errors.Is(err, cerrors.ErrSyncAlreadyRunning) {
			s.log.Warnf("sync already running for account %s, skipping", accountID)
		}
		tracing.TraceErr(span, err)
		return err
	}

	state := &syncState{}
	defer func() {
		s.checkpoint(ctx, accountID, state)
		if err := s.postgres.MailboxAccountRepository.SetSyncStatus(ctx, accountID, enum.SyncStatusIdle); err != nil {
			s.log.Errorf("failed to return account %s to idle: %v", accountID, err)
		}
		if err := s.postgres.MailboxAccountRepository.TouchLastSync(ctx, accountID); err != nil {
			s.log.Errorf("failed to touch last sync for account %s: %v", accountID, err)
		}
	}()

	provider, err := s.providers.ProviderFor(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		state.recordError(err)
		return err
	}
	if closer, ok := provider.(interface{ Close() }); ok {
		defer closer.Close()
	}

	cancel := newCancellationToken(s.postgres.MailboxAccountRepository, accountID, s.cfg.CancelPollTTL)

	pageToken := ""
	domains, err := s.domainsByName(ctx, account.OrganizationID)
	if err != nil {
		tracing.TraceErr(span, err)
		state.recordError(err)
		return err
	}

	for {
		page, err := provider.Search(ctx, "", pageToken)
		if err != nil {
			tracing.TraceErr(span, err)
			state.recordError(err)
			return err
		}
		if len(page.MessageIDs) == 0 {
			break
		}

		for _, messageID := range page.MessageIDs {
			if cancel.Requested(ctx) {
				s.log.Infof("sync cancelled for account %s after %d messages", accountID, state.emailsProcessed)
				span.SetTag("cancelled", true)
				return nil
			}
			if state.emailsProcessed >= s.cfg.MaxMessagesPerSync {
				s.log.Infof("sync for account %s hit the per-invocation cap (%d)", accountID, s.cfg.MaxMessagesPerSync)
				span.SetTag("capped", true)
				return nil
			}

			s.processMessage(ctx, provider, account.OrganizationID, accountID, messageID, domains, state)
			state.emailsProcessed++

			if state.emailsProcessed%s.cfg.CheckpointEvery == 0 {
				s.checkpoint(ctx, accountID, state)
			}

			select {
			case <-time.After(s.cfg.InterMessageDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if page.NextToken == "" {
			break
		}
		pageToken = page.NextToken
	}

	span.SetTag("emails.processed", state.emailsProcessed)
	span.SetTag("reports.found", state.reportsFound)
	return nil
}

func (s *syncService) RequestCancel(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.RequestCancel")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("account.id", accountID)

	account, err := s.postgres.MailboxAccountRepository.GetByID(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if account == nil {
		return cerrors.ErrAccountNotFound
	}
	return s.postgres.MailboxAccountRepository.RequestCancel(ctx, accountID, true)
}

// processMessage handles one mailbox message end to end. The message is
// archived regardless of import outcome so an inbox-scoped search never
// returns it again; failures count toward syncErrors and the scan continues.
func (s *syncService) processMessage(
	ctx context.Context,
	provider interfaces.MailboxProvider,
	organizationID, accountID, messageID string,
	domains map[string]string,
	state *syncState,
) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.processMessage")
	defer span.Finish()
	tracing.SetDefaultWorkerSpanTags(ctx, span)
	span.SetTag("message.id", messageID)

	defer func() {
		if err := provider.Archive(ctx, messageID); err != nil {
			tracing.TraceErr(span, err)
			s.log.Errorf("failed to archive message %s: %v", messageID, err)
			state.recordError(err)
		}
	}()

	message, err := provider.GetMessage(ctx, messageID)
	if err != nil {
		tracing.TraceErr(span, err)
		state.recordError(err)
		return
	}

	for _, attachment := range message.Attachments {
		if !dmarc.IsReportAttachment(attachment.Filename) {
			continue
		}

		raw, err := provider.GetAttachment(ctx, messageID, attachment.ID)
		if err != nil {
			tracing.TraceErr(span, err)
			state.recordError(err)
			continue
		}

		xmlBytes, err := dmarc.DecompressAttachment(attachment.Filename, raw)
		if err != nil {
			tracing.TraceErr(span, err)
			state.recordError(err)
			continue
		}

		policyDomain, err := dmarc.ExtractPolicyDomain(xmlBytes)
		if err != nil {
			tracing.TraceErr(span, err)
			state.recordError(err)
			continue
		}

		domainID, ok := domains[policyDomain]
		if !ok {
			s.log.Infof("no tracked domain for %s on account %s, skipping attachment", policyDomain, accountID)
			continue
		}

		archiveKey := s.archiveAttachment(ctx, organizationID, accountID, messageID, attachment.Filename, raw)

		messageRef := fmt.Sprintf("%s:%s", accountID, messageID)
		result := s.importer.Import(ctx, xmlBytes, domainID, interfaces.ImportOptions{
			MessageRef: messageRef,
			ArchiveKey: archiveKey,
		})
		if result.Err != nil {
			tracing.TraceErr(span, result.Err)
			state.recordError(result.Err)
			continue
		}

		state.reportsFound++
		if !result.Skipped {
			s.enqueueFollowUps(ctx, result.FollowUps)
		}
	}
}

// archiveAttachment stores the original attachment bytes in object storage.
// Best-effort: an upload failure only costs the archive copy, never the
// import.
func (s *syncService) archiveAttachment(ctx context.Context, organizationID, accountID, messageID, filename string, raw []byte) string {
	if s.archive == nil {
		return ""
	}

	key := fmt.Sprintf("reports/%s/%s/%s/%s", organizationID, accountID, messageID, filename)
	if err := s.archive.Upload(ctx, key, raw, "application/octet-stream"); err != nil {
		s.log.Warnf("failed to archive attachment %s: %v", key, err)
		return ""
	}
	return key
}

// enqueueFollowUps is fire-and-forget: enrichment and alert evaluation must
// never block or fail the sequential mailbox scan.
func (s *syncService) enqueueFollowUps(ctx context.Context, followUps dto.FollowUps) {
	for _, enrichment := range followUps.Enrichments {
		key := fmt.Sprintf("%s-%s", interfaces.QueueGeoEnrichment, enrichment.SourceID)
		if err := s.enqueuer.Enqueue(ctx, interfaces.QueueGeoEnrichment, key, enrichment); err != nil {
			s.log.Errorf("failed to enqueue enrichment for source %s: %v", enrichment.SourceID, err)
		}
	}
	for _, evaluation := range followUps.Evaluations {
		key := fmt.Sprintf("%s-%s", interfaces.QueueAlertEvaluation, evaluation.ReportID)
		if err := s.enqueuer.Enqueue(ctx, interfaces.QueueAlertEvaluation, key, evaluation); err != nil {
			s.log.Errorf("failed to enqueue alert evaluation for report %s: %v", evaluation.ReportID, err)
		}
	}
}

func (s *syncService) checkpoint(ctx context.Context, accountID string, state *syncState) {
	progress := interfaces.SyncProgress{
		EmailsProcessed: state.emailsProcessed,
		ReportsFound:    state.reportsFound,
		SyncErrors:      state.syncErrors,
		LastError:       state.lastError,
	}
	if err := s.postgres.MailboxAccountRepository.SaveProgress(ctx, accountID, progress); err != nil {
		s.log.Errorf("failed to checkpoint sync progress for account %s: %v", accountID, err)
	}
}

// domainsByName maps the organization's tracked domain names (lowercased) to
// their ids, loaded once per sync.
func (s *syncService) domainsByName(ctx context.Context, organizationID string) (map[string]string, error) {
	domains, err := s.postgres.DomainRepository.ListByOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]string, len(domains))
	for _, domain := range domains {
		byName[strings.ToLower(domain.Name)] = domain.ID
	}
	return byName, nil
}

func (st *syncState) recordError(err error) {
	st.syncErrors++
	st.lastError = utils.Ptr(err.Error())
}

// cancellationToken polls the account's cancel flag with a short TTL cache
// so the per-message check does not hammer storage.
type cancellationToken struct {
	repo      interfaces.MailboxAccountRepository
	accountID string
	ttl       time.Duration

	lastPoll  time.Time
	lastValue bool
}

func newCancellationToken(repo interfaces.MailboxAccountRepository, accountID string, ttl time.Duration) *cancellationToken {
	return &cancellationToken{repo: repo, accountID: accountID, ttl: ttl}
}

func (t *cancellationToken) Requested(ctx context.Context) bool {
	if time.Since(t.lastPoll) < t.ttl {
		return t.lastValue
	}

	requested, err := t.repo.IsCancelRequested(ctx, t.accountID)
	if err != nil {
		// stale answer beats aborting the scan
		return t.lastValue
	}
	t.lastPoll = time.Now()
	t.lastValue = requested
	return requested
}
