package mailbox

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarcwatch/dmarcwatch/dto"
	"github.com/dmarcwatch/dmarcwatch/interfaces"
	"github.com/dmarcwatch/dmarcwatch/internal/enum"
	cerrors "github.com/dmarcwatch/dmarcwatch/internal/errors"
	"github.com/dmarcwatch/dmarcwatch/internal/logger"
	"github.com/dmarcwatch/dmarcwatch/internal/models"
	"github.com/dmarcwatch/dmarcwatch/internal/repository"
)

type fakeAccountRepo struct {
	interfaces.MailboxAccountRepository

	account     *models.MailboxAccount
	statusLog   []enum.SyncStatus
	progress    []interfaces.SyncProgress
	touched     int
	cancelAfter int // IsCancelRequested returns true from this call on; 0 disables
	cancelCalls int
}

func (f *fakeAccountRepo) GetByID(ctx context.Context, id string) (*models.MailboxAccount, error) {
	return f.account, nil
}

func (f *fakeAccountRepo) SetSyncStatus(ctx context.Context, id string, status enum.SyncStatus) error {
	f.statusLog = append(f.statusLog, status)
	return nil
}

func (f *fakeAccountRepo) SaveProgress(ctx context.Context, id string, progress interfaces.SyncProgress) error {
	f.progress = append(f.progress, progress)
	return nil
}

func (f *fakeAccountRepo) TouchLastSync(ctx context.Context, id string) error {
	f.touched++
	return nil
}

func (f *fakeAccountRepo) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	f.cancelCalls++
	return f.cancelAfter > 0 && f.cancelCalls >= f.cancelAfter, nil
}

type fakeDomainRepo struct {
	interfaces.DomainRepository
	domains []models.Domain
}

func (f *fakeDomainRepo) ListByOrganization(ctx context.Context, organizationID string) ([]models.Domain, error) {
	return f.domains, nil
}

type fakeMessage struct {
	id          string
	attachments map[string][]byte // filename -> content
}

type fakeProvider struct {
	messages []fakeMessage
	archived []string
}

func (f *fakeProvider) Search(ctx context.Context, query, pageToken string) (*interfaces.SearchPage, error) {
	archived := make(map[string]bool, len(f.archived))
	for _, id := range f.archived {
		archived[id] = true
	}
	page := &interfaces.SearchPage{}
	for _, m := range f.messages {
		if !archived[m.id] {
			page.MessageIDs = append(page.MessageIDs, m.id)
		}
	}
	return page, nil
}

func (f *fakeProvider) GetMessage(ctx context.Context, messageID string) (*interfaces.MailMessage, error) {
	for _, m := range f.messages {
		if m.id != messageID {
			continue
		}
		msg := &interfaces.MailMessage{ID: m.id}
		i := 0
		for name := range m.attachments {
			msg.Attachments = append(msg.Attachments, interfaces.MailAttachment{
				ID:       fmt.Sprintf("%d", i),
				Filename: name,
			})
			i++
		}
		return msg, nil
	}
	return nil, fmt.Errorf("message %s not found", messageID)
}

func (f *fakeProvider) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	for _, m := range f.messages {
		if m.id != messageID {
			continue
		}
		i := 0
		for name, content := range m.attachments {
			if fmt.Sprintf("%d", i) == attachmentID {
				_ = name
				return content, nil
			}
			i++
		}
	}
	return nil, fmt.Errorf("attachment not found")
}

func (f *fakeProvider) Archive(ctx context.Context, messageID string) error {
	f.archived = append(f.archived, messageID)
	return nil
}

type fakeFactory struct {
	provider *fakeProvider
}

func (f *fakeFactory) ProviderFor(ctx context.Context, accountID string) (interfaces.MailboxProvider, error) {
	return f.provider, nil
}

type fakeImporter struct {
	calls   []string // domainIDs
	refs    []string
	results map[string]*interfaces.ImportResult
}

func (f *fakeImporter) Import(ctx context.Context, rawXML []byte, domainID string, opts interfaces.ImportOptions) *interfaces.ImportResult {
	f.calls = append(f.calls, domainID)
	f.refs = append(f.refs, opts.MessageRef)
	if r, ok := f.results[domainID]; ok {
		return r
	}
	return &interfaces.ImportResult{Success: true, ReportID: "rumt_1"}
}

type fakeEnqueuer struct {
	queues []string
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, queue, key string, payload interface{}) error {
	f.queues = append(f.queues, queue)
	return nil
}

func reportFor(domain string) []byte {
	return []byte(fmt.Sprintf(`<feedback>
  <report_metadata><org_name>google.com</org_name><report_id>r-1</report_id>
    <date_range><begin>1706745600</begin><end>1706831999</end></date_range></report_metadata>
  <policy_published><domain>%s</domain><p>none</p></policy_published>
</feedback>`, domain))
}

type syncFixture struct {
	accounts *fakeAccountRepo
	provider *fakeProvider
	importer *fakeImporter
	enqueuer *fakeEnqueuer
	service  interfaces.MailboxSyncService
}

func newSyncFixture(provider *fakeProvider, cfg Config) *syncFixture {
	log := logger.NewAppLogger(&logger.Config{DevMode: true})
	log.InitLogger()

	f := &syncFixture{
		accounts: &fakeAccountRepo{account: &models.MailboxAccount{ID: "acc_1", OrganizationID: "org_1"}},
		provider: provider,
		importer: &fakeImporter{results: map[string]*interfaces.ImportResult{}},
		enqueuer: &fakeEnqueuer{},
	}
	repos := &repository.Repositories{
		MailboxAccountRepository: f.accounts,
		DomainRepository: &fakeDomainRepo{domains: []models.Domain{
			{ID: "dom_1", Name: "Example.com"},
		}},
	}
	if cfg.InterMessageDelay == 0 {
		cfg.InterMessageDelay = time.Millisecond
	}
	if cfg.CancelPollTTL == 0 {
		cfg.CancelPollTTL = time.Nanosecond
	}
	f.service = NewSyncService(repos, &fakeFactory{provider: provider}, f.importer, f.enqueuer, nil, log, cfg)
	return f
}

func TestSyncAccount_ImportsAndArchives(t *testing.T) {
	provider := &fakeProvider{messages: []fakeMessage{
		{id: "msg-1", attachments: map[string][]byte{"report.xml": reportFor("example.com")}},
		{id: "msg-2", attachments: map[string][]byte{"notes.txt": []byte("hi")}},
	}}
	f := newSyncFixture(provider, Config{})

	err := f.service.SyncAccount(context.Background(), "acc_1")
	require.NoError(t, err)

	// one import, routed to the tracked domain, with a stable message ref
	require.Equal(t, []string{"dom_1"}, f.importer.calls)
	assert.Equal(t, []string{"acc_1:msg-1"}, f.importer.refs)

	// both messages archived regardless of content
	assert.ElementsMatch(t, []string{"msg-1", "msg-2"}, provider.archived)

	// status went syncing then back to idle, last sync touched
	assert.Equal(t, []enum.SyncStatus{enum.SyncStatusSyncing, enum.SyncStatusIdle}, f.accounts.statusLog)
	assert.Equal(t, 1, f.accounts.touched)

	// final checkpoint recorded the scan
	require.NotEmpty(t, f.accounts.progress)
	final := f.accounts.progress[len(f.accounts.progress)-1]
	assert.Equal(t, 2, final.EmailsProcessed)
	assert.Equal(t, 1, final.ReportsFound)
}

func TestSyncAccount_UntrackedDomainSkipped(t *testing.T) {
	provider := &fakeProvider{messages: []fakeMessage{
		{id: "msg-1", attachments: map[string][]byte{"report.xml": reportFor("unrelated.org")}},
	}}
	f := newSyncFixture(provider, Config{})

	err := f.service.SyncAccount(context.Background(), "acc_1")
	require.NoError(t, err)

	assert.Empty(t, f.importer.calls)
	// still archived so it is not rescanned forever
	assert.Equal(t, []string{"msg-1"}, provider.archived)
}

func TestSyncAccount_MessageCap(t *testing.T) {
	var messages []fakeMessage
	for i := 0; i < 5; i++ {
		messages = append(messages, fakeMessage{id: fmt.Sprintf("msg-%d", i)})
	}
	provider := &fakeProvider{messages: messages}
	f := newSyncFixture(provider, Config{MaxMessagesPerSync: 3})

	err := f.service.SyncAccount(context.Background(), "acc_1")
	require.NoError(t, err)

	assert.Len(t, provider.archived, 3)
}

func TestSyncAccount_Cancellation(t *testing.T) {
	var messages []fakeMessage
	for i := 0; i < 10; i++ {
		messages = append(messages, fakeMessage{id: fmt.Sprintf("msg-%d", i)})
	}
	provider := &fakeProvider{messages: messages}
	f := newSyncFixture(provider, Config{})
	f.accounts.cancelAfter = 3

	err := f.service.SyncAccount(context.Background(), "acc_1")
	require.NoError(t, err)

	// stopped early, returned to idle anyway
	assert.Less(t, len(provider.archived), 10)
	assert.Equal(t, enum.SyncStatusIdle, f.accounts.statusLog[len(f.accounts.statusLog)-1])
}

func TestSyncAccount_MissingAccount(t *testing.T) {
	f := newSyncFixture(&fakeProvider{}, Config{})
	f.accounts.account = nil

	err := f.service.SyncAccount(context.Background(), "acc_gone")
	require.Error(t, err)
	assert.ErrorIs(t, err, cerrors.ErrAccountNotFound)
}

func TestSyncAccount_FollowUpsEnqueued(t *testing.T) {
	provider := &fakeProvider{messages: []fakeMessage{
		{id: "msg-1", attachments: map[string][]byte{"report.xml": reportFor("example.com")}},
	}}
	f := newSyncFixture(provider, Config{})
	f.importer.results["dom_1"] = &interfaces.ImportResult{
		Success:  true,
		ReportID: "rumt_1",
		FollowUps: dto.FollowUps{
			Enrichments: []dto.EnrichSource{{SourceID: "src_1", IPAddress: "1.2.3.4"}},
			Evaluations: []dto.EvaluateReport{{OrganizationID: "org_1", DomainID: "dom_1", ReportID: "rumt_1"}},
		},
	}

	err := f.service.SyncAccount(context.Background(), "acc_1")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{interfaces.QueueGeoEnrichment, interfaces.QueueAlertEvaluation}, f.enqueuer.queues)
}

func TestSyncAccount_SkippedImportDoesNotFanOut(t *testing.T) {
	provider := &fakeProvider{messages: []fakeMessage{
		{id: "msg-1", attachments: map[string][]byte{"report.xml": reportFor("example.com")}},
	}}
	f := newSyncFixture(provider, Config{})
	f.importer.results["dom_1"] = &interfaces.ImportResult{
		Success: true, Skipped: true, ReportID: "rumt_prior",
	}

	err := f.service.SyncAccount(context.Background(), "acc_1")
	require.NoError(t, err)

	assert.Empty(t, f.enqueuer.queues)
}
