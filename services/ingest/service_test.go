package ingest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarcwatch/dmarcwatch/interfaces"
	cerrors "github.com/dmarcwatch/dmarcwatch/internal/errors"
	"github.com/dmarcwatch/dmarcwatch/internal/models"
	"github.com/dmarcwatch/dmarcwatch/internal/repository"
)

type fakeDomainRepo struct {
	interfaces.DomainRepository
	domains map[string]*models.Domain
}

func (f *fakeDomainRepo) GetByID(ctx context.Context, id string) (*models.Domain, error) {
	return f.domains[id], nil
}

type fakeReportRepo struct {
	interfaces.ReportRepository

	byReportID  map[string]*models.Report
	byRef       map[string]*models.Report
	touched     []models.Source
	committed   *models.Report
	commRecords []models.Record
	commSources []interfaces.SourceDelta
	commSubs    []interfaces.SubdomainDelta
}

func (f *fakeReportRepo) GetByReportIDAndOrg(ctx context.Context, reportID, orgName string) (*models.Report, error) {
	return f.byReportID[reportID+"|"+orgName], nil
}

func (f *fakeReportRepo) GetByMessageRef(ctx context.Context, domainID, messageRef string) (*models.Report, error) {
	return f.byRef[messageRef], nil
}

func (f *fakeReportRepo) CommitImport(ctx context.Context, report *models.Report, records []models.Record, sources []interfaces.SourceDelta, subdomains []interfaces.SubdomainDelta) ([]models.Source, error) {
	report.ID = "rumt_committed"
	f.committed = report
	f.commRecords = records
	f.commSources = sources
	f.commSubs = subdomains
	return f.touched, nil
}

func testRepos(domain *models.Domain, reports *fakeReportRepo) *repository.Repositories {
	domains := &fakeDomainRepo{domains: map[string]*models.Domain{}}
	if domain != nil {
		domains.domains[domain.ID] = domain
	}
	return &repository.Repositories{
		DomainRepository: domains,
		ReportRepository: reports,
	}
}

func reportXML(reportID, domain string, records string) []byte {
	return []byte(fmt.Sprintf(`<feedback>
  <report_metadata>
    <org_name>google.com</org_name>
    <report_id>%s</report_id>
    <date_range><begin>1706745600</begin><end>1706831999</end></date_range>
  </report_metadata>
  <policy_published><domain>%s</domain><p>none</p></policy_published>
  %s
</feedback>`, reportID, domain, records))
}

func recordXML(ip string, count int, dkim, spf, headerFrom string) string {
	return fmt.Sprintf(`<record>
    <row><source_ip>%s</source_ip><count>%d</count>
      <policy_evaluated><disposition>none</disposition><dkim>%s</dkim><spf>%s</spf></policy_evaluated></row>
    <identifiers><header_from>%s</header_from></identifiers>
  </record>`, ip, count, dkim, spf, headerFrom)
}

func TestImport_Success(t *testing.T) {
	reports := &fakeReportRepo{
		byReportID: map[string]*models.Report{},
		byRef:      map[string]*models.Report{},
		touched: []models.Source{
			{ID: "src_1", SourceIP: "1.2.3.4"},
			{ID: "src_2", SourceIP: "5.6.7.8", GeoCountry: "United States"},
		},
	}
	repos := testRepos(&models.Domain{ID: "dom_1", OrganizationID: "org_1", Name: "example.com"}, reports)
	svc := NewImportService(repos)

	raw := reportXML("r-1", "example.com",
		recordXML("1.2.3.4", 50, "pass", "pass", "example.com")+
			recordXML("1.2.3.4", 20, "fail", "fail", "example.com")+
			recordXML("5.6.7.8", 5, "fail", "pass", "mail.example.com"))

	result := svc.Import(context.Background(), raw, "dom_1", interfaces.ImportOptions{MessageRef: "acc:msg-1"})

	require.NoError(t, result.Err)
	assert.True(t, result.Success)
	assert.False(t, result.Skipped)
	assert.Equal(t, "rumt_committed", result.ReportID)

	require.NotNil(t, reports.committed)
	assert.Equal(t, "r-1", reports.committed.ReportID)
	assert.Equal(t, "google.com", reports.committed.OrgName)
	require.NotNil(t, reports.committed.MessageRef)
	assert.Equal(t, "acc:msg-1", *reports.committed.MessageRef)
	assert.Len(t, reports.commRecords, 3)

	// records for the same IP fold into one additive delta
	require.Len(t, reports.commSources, 2)
	assert.Equal(t, int64(70), reports.commSources[0].Total)
	assert.Equal(t, int64(50), reports.commSources[0].Passed)
	assert.Equal(t, int64(20), reports.commSources[0].Failed)
	assert.Equal(t, int64(5), reports.commSources[1].Total)
	assert.Equal(t, int64(5), reports.commSources[1].Passed)

	// only the strict subdomain contributes a subdomain delta
	require.Len(t, reports.commSubs, 1)
	assert.Equal(t, "mail.example.com", reports.commSubs[0].Name)
	assert.Equal(t, int64(5), reports.commSubs[0].Total)

	// one evaluation follow-up, enrichment only for the un-enriched source
	require.Len(t, result.FollowUps.Evaluations, 1)
	assert.Equal(t, "org_1", result.FollowUps.Evaluations[0].OrganizationID)
	assert.Equal(t, "rumt_committed", result.FollowUps.Evaluations[0].ReportID)
	require.Len(t, result.FollowUps.Enrichments, 1)
	assert.Equal(t, "src_1", result.FollowUps.Enrichments[0].SourceID)
}

func TestImport_DuplicateReportSkips(t *testing.T) {
	reports := &fakeReportRepo{
		byReportID: map[string]*models.Report{
			"r-1|google.com": {ID: "rumt_existing"},
		},
		byRef: map[string]*models.Report{},
	}
	repos := testRepos(&models.Domain{ID: "dom_1", Name: "example.com"}, reports)
	svc := NewImportService(repos)

	result := svc.Import(context.Background(), reportXML("r-1", "example.com", ""), "dom_1", interfaces.ImportOptions{})

	require.NoError(t, result.Err)
	assert.True(t, result.Success)
	assert.True(t, result.Skipped)
	assert.Equal(t, SkipReasonDuplicateReport, result.SkipReason)
	assert.Equal(t, "rumt_existing", result.ReportID)
	assert.Nil(t, reports.committed)
	assert.True(t, result.FollowUps.Empty())
}

func TestImport_DuplicateMessageRefSkips(t *testing.T) {
	reports := &fakeReportRepo{
		byReportID: map[string]*models.Report{},
		byRef: map[string]*models.Report{
			"acc:msg-1": {ID: "rumt_prior"},
		},
	}
	repos := testRepos(&models.Domain{ID: "dom_1", Name: "example.com"}, reports)
	svc := NewImportService(repos)

	result := svc.Import(context.Background(), reportXML("r-2", "example.com", ""), "dom_1", interfaces.ImportOptions{MessageRef: "acc:msg-1"})

	require.NoError(t, result.Err)
	assert.True(t, result.Skipped)
	assert.Equal(t, SkipReasonDuplicateMessage, result.SkipReason)
	assert.Equal(t, "rumt_prior", result.ReportID)
}

func TestImport_DomainMismatch(t *testing.T) {
	reports := &fakeReportRepo{byReportID: map[string]*models.Report{}, byRef: map[string]*models.Report{}}
	repos := testRepos(&models.Domain{ID: "dom_1", Name: "example.com"}, reports)
	svc := NewImportService(repos)

	result := svc.Import(context.Background(), reportXML("r-1", "other.com", ""), "dom_1", interfaces.ImportOptions{})

	require.Error(t, result.Err)
	assert.ErrorIs(t, result.Err, cerrors.ErrDomainMismatch)
	assert.False(t, result.Success)
	assert.Nil(t, reports.committed)
}

func TestImport_DomainNotFound(t *testing.T) {
	reports := &fakeReportRepo{byReportID: map[string]*models.Report{}, byRef: map[string]*models.Report{}}
	repos := testRepos(nil, reports)
	svc := NewImportService(repos)

	result := svc.Import(context.Background(), reportXML("r-1", "example.com", ""), "dom_missing", interfaces.ImportOptions{})

	require.Error(t, result.Err)
	assert.ErrorIs(t, result.Err, cerrors.ErrDomainNotFound)
}

func TestImport_ParseFailure(t *testing.T) {
	reports := &fakeReportRepo{byReportID: map[string]*models.Report{}, byRef: map[string]*models.Report{}}
	repos := testRepos(&models.Domain{ID: "dom_1", Name: "example.com"}, reports)
	svc := NewImportService(repos)

	result := svc.Import(context.Background(), []byte("<feedback><broken"), "dom_1", interfaces.ImportOptions{})

	require.Error(t, result.Err)
	assert.True(t, cerrors.IsParseError(result.Err))
}

func TestExtractSubdomain(t *testing.T) {
	tests := []struct {
		headerFrom string
		domain     string
		want       string
		ok         bool
	}{
		{"mail.example.com", "example.com", "mail.example.com", true},
		{"a.b.example.com", "example.com", "a.b.example.com", true},
		{"MAIL.Example.COM", "example.com", "mail.example.com", true},
		{"example.com", "example.com", "", false},
		{"notexample.com", "example.com", "", false},
		{"example.com.evil.org", "example.com", "", false},
		{"", "example.com", "", false},
	}

	for _, tt := range tests {
		got, ok := ExtractSubdomain(tt.headerFrom, tt.domain)
		assert.Equal(t, tt.ok, ok, tt.headerFrom)
		assert.Equal(t, tt.want, got, tt.headerFrom)
	}
}
