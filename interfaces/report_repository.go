package interfaces

import (
	"context"
	"time"

	"github.com/dmarcwatch/dmarcwatch/internal/models"
)

// SourceDelta is one report's additive contribution to a (domain, sourceIp)
// rolling aggregate.
type SourceDelta struct {
	DomainID  string
	SourceIP  string
	Total     int64
	Passed    int64
	Failed    int64
	FirstSeen time.Time
	LastSeen  time.Time
}

// SubdomainDelta is the same contribution keyed by (domain, subdomain name).
type SubdomainDelta struct {
	DomainID  string
	Name      string
	Total     int64
	Passed    int64
	Failed    int64
	FirstSeen time.Time
	LastSeen  time.Time
}

// ReportPassStats is the per-report aggregate the alert evaluator consumes.
type ReportPassStats struct {
	ReportID       string
	DateRangeBegin time.Time
	DateRangeEnd   time.Time
	Total          int64
	DKIMPass       int64
	SPFPass        int64
}

type ReportRepository interface {
	GetByID(ctx context.Context, id string) (*models.Report, error)
	// GetByReportIDAndOrg returns nil, nil when no report exists.
	GetByReportIDAndOrg(ctx context.Context, reportID, orgName string) (*models.Report, error)
	// GetByMessageRef returns nil, nil when no report references the message.
	GetByMessageRef(ctx context.Context, domainID, messageRef string) (*models.Report, error)

	// CommitImport persists a report, its records with auth sub-results, and
	// applies the additive source/subdomain upserts in one transaction.
	// Returns the source rows touched by the upserts.
	CommitImport(ctx context.Context, report *models.Report, records []models.Record, sources []SourceDelta, subdomains []SubdomainDelta) ([]models.Source, error)

	// GetRecentPassRates returns per-report totals for the domain's most
	// recent reports, newest first.
	GetRecentPassRates(ctx context.Context, domainID string, limit int) ([]ReportPassStats, error)
}
