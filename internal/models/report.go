package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/dmarcwatch/dmarcwatch/internal/enum"
	"github.com/dmarcwatch/dmarcwatch/internal/utils"
)

// Report is one ingested DMARC aggregate report. Immutable once created; the
// (report_id, org_name) unique index is the exactly-once accounting guard.
type Report struct {
	ID       string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	DomainID string `gorm:"column:domain_id;type:varchar(50);index;not null" json:"domainId"`

	// report_metadata
	ReportID     string `gorm:"column:report_id;type:varchar(255);uniqueIndex:idx_reports_report_org;not null" json:"reportId"`
	OrgName      string `gorm:"column:org_name;type:varchar(255);uniqueIndex:idx_reports_report_org;not null" json:"orgName"`
	ReporterMail string `gorm:"column:reporter_email;type:varchar(255)" json:"reporterEmail"`

	// policy_published snapshot
	PolicyDomain string             `gorm:"column:policy_domain;type:varchar(255);not null" json:"policyDomain"`
	PolicyP      enum.Disposition   `gorm:"column:policy_p;type:varchar(20)" json:"policyP"`
	PolicySP     enum.Disposition   `gorm:"column:policy_sp;type:varchar(20)" json:"policySp"`
	PolicyPct    int                `gorm:"column:policy_pct;type:integer;default:100" json:"policyPct"`
	ADKIM        enum.AlignmentMode `gorm:"column:adkim;type:varchar(5)" json:"adkim"`
	ASPF         enum.AlignmentMode `gorm:"column:aspf;type:varchar(5)" json:"aspf"`

	// date_range [begin, end)
	DateRangeBegin time.Time `gorm:"column:date_range_begin;type:timestamp;index;not null" json:"dateRangeBegin"`
	DateRangeEnd   time.Time `gorm:"column:date_range_end;type:timestamp;index;not null" json:"dateRangeEnd"`

	RawXML string `gorm:"column:raw_xml;type:text" json:"-"`

	// MessageRef is the mailbox message id the report arrived in; used to
	// dedup against provider redelivery.
	MessageRef *string `gorm:"column:message_ref;type:varchar(255);index" json:"messageRef"`
	// ArchiveKey points at the original attachment in object storage.
	ArchiveKey string `gorm:"column:archive_key;type:varchar(500)" json:"archiveKey"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`

	Records []Record `gorm:"foreignKey:ReportRowID" json:"records,omitempty"`
}

func (Report) TableName() string {
	return "reports"
}

func (m *Report) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("rprt", 16)
	}
	return nil
}
