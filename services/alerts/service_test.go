package alerts

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
	"github.com/dmarcwatch/dmarcwatch/internal/logger"
	"github.com/dmarcwatch/dmarcwatch/internal/models"
	"github.com/dmarcwatch/dmarcwatch/internal/repository"
)

type fakeReportRepo struct {
	interfaces.ReportRepository
	stats  []interfaces.ReportPassStats
	report *models.Report
}

func (f *fakeReportRepo) GetRecentPassRates(ctx context.Context, domainID string, limit int) ([]interfaces.ReportPassStats, error) {
	if len(f.stats) > limit {
		return f.stats[:limit], nil
	}
	return f.stats, nil
}

func (f *fakeReportRepo) GetByID(ctx context.Context, id string) (*models.Report, error) {
	return f.report, nil
}

type fakeSourceRepo struct {
	interfaces.SourceRepository
	newSources []models.Source
	linked     map[string]string
}

func (f *fakeSourceRepo) ListNewSources(ctx context.Context, domainID string, begin, end time.Time, minMessages int64) ([]models.Source, error) {
	var out []models.Source
	for _, s := range f.newSources {
		if s.TotalMessages >= minMessages {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSourceRepo) SetKnownSender(ctx context.Context, id string, knownSenderID string) error {
	if f.linked == nil {
		f.linked = map[string]string{}
	}
	f.linked[id] = knownSenderID
	return nil
}

type fakeAlertRepo struct {
	interfaces.AlertRepository
	created []*models.Alert
	recent  []models.Alert
}

func (f *fakeAlertRepo) Create(ctx context.Context, alert *models.Alert) error {
	alert.ID = "alrt_test"
	f.created = append(f.created, alert)
	return nil
}

func (f *fakeAlertRepo) ListRecentByType(ctx context.Context, domainID string, alertType enum.AlertType, since time.Time) ([]models.Alert, error) {
	return f.recent, nil
}

type fakeWebhookRepo struct {
	interfaces.WebhookRepository
	webhooks []models.Webhook
}

func (f *fakeWebhookRepo) ListActiveByOrganization(ctx context.Context, organizationID string) ([]models.Webhook, error) {
	return f.webhooks, nil
}

type fakeKnownSenderRepo struct {
	interfaces.KnownSenderRepository
	senders []models.KnownSender
}

func (f *fakeKnownSenderRepo) List(ctx context.Context) ([]models.KnownSender, error) {
	return f.senders, nil
}

type enqueuedJob struct {
	queue   string
	key     string
	payload interface{}
}

type fakeEnqueuer struct {
	jobs []enqueuedJob
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, queue, key string, payload interface{}) error {
	f.jobs = append(f.jobs, enqueuedJob{queue: queue, key: key, payload: payload})
	return nil
}

type alertFixture struct {
	reports  *fakeReportRepo
	sources  *fakeSourceRepo
	alerts   *fakeAlertRepo
	webhooks *fakeWebhookRepo
	senders  *fakeKnownSenderRepo
	enqueuer *fakeEnqueuer
	service  interfaces.AlertService
}

func newFixture(cfg Config) *alertFixture {
	log := logger.NewAppLogger(&logger.Config{DevMode: true})
	log.InitLogger()

	f := &alertFixture{
		reports:  &fakeReportRepo{},
		sources:  &fakeSourceRepo{},
		alerts:   &fakeAlertRepo{},
		webhooks: &fakeWebhookRepo{},
		senders:  &fakeKnownSenderRepo{},
		enqueuer: &fakeEnqueuer{},
	}
	repos := &repository.Repositories{
		ReportRepository:      f.reports,
		SourceRepository:      f.sources,
		AlertRepository:       f.alerts,
		WebhookRepository:     f.webhooks,
		KnownSenderRepository: f.senders,
	}
	f.service = NewAlertService(repos, f.enqueuer, log, cfg)
	return f
}

func passStats(dkim, spf, total int64) interfaces.ReportPassStats {
	return interfaces.ReportPassStats{Total: total, DKIMPass: dkim, SPFPass: spf}
}

func TestCheckPassRateDrop(t *testing.T) {
	tests := []struct {
		name         string
		current      interfaces.ReportPassStats
		previous     interfaces.ReportPassStats
		wantAlert    bool
		wantSeverity enum.AlertSeverity
	}{
		{
			name:      "below threshold",
			current:   passStats(91, 0, 100),
			previous:  passStats(100, 0, 100),
			wantAlert: false,
		},
		{
			name:         "exactly at threshold",
			current:      passStats(90, 0, 100),
			previous:     passStats(100, 0, 100),
			wantAlert:    true,
			wantSeverity: enum.SeverityWarning,
		},
		{
			name:         "high severity boundary",
			current:      passStats(85, 0, 100),
			previous:     passStats(100, 0, 100),
			wantAlert:    true,
			wantSeverity: enum.SeverityHigh,
		},
		{
			name:         "critical severity boundary",
			current:      passStats(70, 0, 100),
			previous:     passStats(100, 0, 100),
			wantAlert:    true,
			wantSeverity: enum.SeverityCritical,
		},
		{
			name:         "best mechanism counts",
			current:      passStats(10, 80, 100),
			previous:     passStats(94, 20, 100),
			wantAlert:    true,
			wantSeverity: enum.SeverityWarning,
		},
		{
			name:         "empty current report counts as zero rate drop from full",
			current:      passStats(0, 0, 0),
			previous:     passStats(100, 0, 100),
			wantAlert:    false, // empty report is defined as 100%
			wantSeverity: enum.SeverityWarning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(Config{})
			f.reports.stats = []interfaces.ReportPassStats{tt.current, tt.previous}

			err := f.service.EvaluateReport(context.Background(), "org_1", "dom_1", "rumt_1")
			require.NoError(t, err)

			var dropAlerts []*models.Alert
			for _, a := range f.alerts.created {
				if a.Type == enum.AlertPassRateDrop {
					dropAlerts = append(dropAlerts, a)
				}
			}
			if !tt.wantAlert {
				assert.Empty(t, dropAlerts)
				return
			}
			require.Len(t, dropAlerts, 1)
			assert.Equal(t, tt.wantSeverity, dropAlerts[0].Severity)
			assert.Equal(t, "dom_1", dropAlerts[0].DomainID)
		})
	}
}

func TestCheckPassRateDrop_SingleReportNoAlert(t *testing.T) {
	f := newFixture(Config{})
	f.reports.stats = []interfaces.ReportPassStats{passStats(10, 0, 100)}

	err := f.service.EvaluateReport(context.Background(), "org_1", "dom_1", "rumt_1")
	require.NoError(t, err)
	assert.Empty(t, f.alerts.created)
}

func windowReport() *models.Report {
	return &models.Report{
		ID:             "rumt_1",
		DomainID:       "dom_1",
		DateRangeBegin: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		DateRangeEnd:   time.Date(2024, 2, 1, 23, 59, 59, 0, time.UTC),
	}
}

func TestCheckNewSources_ConsolidatedAlert(t *testing.T) {
	f := newFixture(Config{})
	f.reports.report = windowReport()
	for i := 0; i < 7; i++ {
		f.sources.newSources = append(f.sources.newSources, models.Source{
			ID:            fmt.Sprintf("src_%d", i),
			SourceIP:      fmt.Sprintf("203.0.113.%d", i+1),
			TotalMessages: 25,
		})
	}

	err := f.service.EvaluateReport(context.Background(), "org_1", "dom_1", "rumt_1")
	require.NoError(t, err)

	require.Len(t, f.alerts.created, 1)
	alert := f.alerts.created[0]
	assert.Equal(t, enum.AlertNewSources, alert.Type)
	assert.Equal(t, enum.SeverityWarning, alert.Severity)

	ips, ok := alert.Metadata[models.AlertMetaSourceIPs].([]string)
	require.True(t, ok)
	assert.Len(t, ips, 7)

	examples, ok := alert.Metadata[models.AlertMetaExamples].([]map[string]interface{})
	require.True(t, ok)
	assert.Len(t, examples, 5)
	assert.Equal(t, 2, alert.Metadata[models.AlertMetaRemainder])
}

func TestCheckNewSources_ElevatedSeverity(t *testing.T) {
	f := newFixture(Config{})
	f.reports.report = windowReport()
	for i := 0; i < 11; i++ {
		f.sources.newSources = append(f.sources.newSources, models.Source{
			ID:            fmt.Sprintf("src_%d", i),
			SourceIP:      fmt.Sprintf("198.51.100.%d", i+1),
			TotalMessages: 15,
		})
	}

	err := f.service.EvaluateReport(context.Background(), "org_1", "dom_1", "rumt_1")
	require.NoError(t, err)

	require.Len(t, f.alerts.created, 1)
	assert.Equal(t, enum.SeverityHigh, f.alerts.created[0].Severity)
}

func TestCheckNewSources_BelowVolumeThreshold(t *testing.T) {
	f := newFixture(Config{})
	f.reports.report = windowReport()
	f.sources.newSources = []models.Source{
		{ID: "src_low", SourceIP: "203.0.113.9", TotalMessages: 3},
	}

	err := f.service.EvaluateReport(context.Background(), "org_1", "dom_1", "rumt_1")
	require.NoError(t, err)
	assert.Empty(t, f.alerts.created)
}

func TestCheckNewSources_KnownSenderFiltering(t *testing.T) {
	f := newFixture(Config{})
	f.reports.report = windowReport()
	f.senders.senders = []models.KnownSender{
		{ID: "ks_exact", Name: "Google", IPPattern: "209.85.220.41"},
		{ID: "ks_cidr", Name: "SendGrid", IPPattern: "198.21.0.0/16"},
	}
	f.sources.newSources = []models.Source{
		{ID: "src_1", SourceIP: "209.85.220.41", TotalMessages: 50},
		{ID: "src_2", SourceIP: "198.21.4.7", TotalMessages: 50},
		{ID: "src_3", SourceIP: "203.0.113.10", TotalMessages: 50},
	}

	err := f.service.EvaluateReport(context.Background(), "org_1", "dom_1", "rumt_1")
	require.NoError(t, err)

	// matched sources are linked and excluded from the alert
	assert.Equal(t, "ks_exact", f.sources.linked["src_1"])
	assert.Equal(t, "ks_cidr", f.sources.linked["src_2"])

	require.Len(t, f.alerts.created, 1)
	ips := f.alerts.created[0].Metadata[models.AlertMetaSourceIPs].([]string)
	assert.Equal(t, []string{"203.0.113.10"}, ips)
}

func TestCheckNewSources_DedupWindow(t *testing.T) {
	f := newFixture(Config{})
	f.reports.report = windowReport()
	f.alerts.recent = []models.Alert{
		{
			Type:     enum.AlertNewSources,
			Metadata: models.JSONMap{models.AlertMetaSourceIPs: []interface{}{"203.0.113.10"}},
		},
	}
	f.sources.newSources = []models.Source{
		{ID: "src_1", SourceIP: "203.0.113.10", TotalMessages: 50},
	}

	err := f.service.EvaluateReport(context.Background(), "org_1", "dom_1", "rumt_1")
	require.NoError(t, err)
	assert.Empty(t, f.alerts.created)
}

func TestFanOutWebhooks_Filtering(t *testing.T) {
	f := newFixture(Config{})
	f.reports.stats = []interfaces.ReportPassStats{passStats(50, 0, 100), passStats(100, 0, 100)}

	warning := enum.SeverityWarning.String()
	otherDomain := "dom_other"
	f.webhooks.webhooks = []models.Webhook{
		{ID: "whk_wildcard", Events: "*"},
		{ID: "whk_subscribed", Events: "alert.pass_rate_drop,alert.new_sources"},
		{ID: "whk_other_event", Events: "alert.new_sources"},
		{ID: "whk_sev_mismatch", Events: "*", SeverityFilter: &warning},
		{ID: "whk_domain_mismatch", Events: "*", DomainID: &otherDomain},
	}

	err := f.service.EvaluateReport(context.Background(), "org_1", "dom_1", "rumt_1")
	require.NoError(t, err)

	require.Len(t, f.enqueuer.jobs, 2)
	for _, job := range f.enqueuer.jobs {
		assert.Equal(t, interfaces.QueueWebhookDelivery, job.queue)
		delivery, ok := job.payload.(dto.DeliverWebhook)
		require.True(t, ok)
		assert.Equal(t, dto.EventPassRateDrop, delivery.Event)
		assert.NotEmpty(t, delivery.Payload)
	}
	assert.Contains(t, f.enqueuer.jobs[0].key, "whk_wildcard")
	assert.Contains(t, f.enqueuer.jobs[1].key, "whk_subscribed")
}
