package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/dmarcwatch/dmarcwatch/internal/enum"
	"github.com/dmarcwatch/dmarcwatch/internal/utils"
)

// Record is one (source IP x disposition) row of a report.
type Record struct {
	ID          string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	ReportRowID string `gorm:"column:report_row_id;type:varchar(50);index;not null" json:"reportRowId"`

	SourceIP string `gorm:"column:source_ip;type:varchar(45);index;not null" json:"sourceIp"`
	Count    int64  `gorm:"column:count;type:bigint;not null" json:"count"`

	Disposition enum.Disposition `gorm:"column:disposition;type:varchar(20)" json:"disposition"`
	EvalDKIM    enum.AuthResult  `gorm:"column:eval_dkim;type:varchar(10)" json:"evalDkim"`
	EvalSPF     enum.AuthResult  `gorm:"column:eval_spf;type:varchar(10)" json:"evalSpf"`
	// Comma-joined policy_evaluated reason types, informational only.
	PolicyReasons string `gorm:"column:policy_reasons;type:varchar(255)" json:"policyReasons"`

	HeaderFrom   string `gorm:"column:header_from;type:varchar(255)" json:"headerFrom"`
	EnvelopeFrom string `gorm:"column:envelope_from;type:varchar(255)" json:"envelopeFrom"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`

	DKIMResults []DKIMAuthResult `gorm:"foreignKey:RecordID" json:"dkimResults,omitempty"`
	SPFResults  []SPFAuthResult  `gorm:"foreignKey:RecordID" json:"spfResults,omitempty"`
}

func (Record) TableName() string {
	return "records"
}

func (m *Record) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("rcrd", 16)
	}
	return nil
}

// DKIMAuthResult is one auth_results.dkim entry; a record carries zero or more.
type DKIMAuthResult struct {
	ID       string          `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	RecordID string          `gorm:"column:record_id;type:varchar(50);index;not null" json:"recordId"`
	Domain   string          `gorm:"column:domain;type:varchar(255)" json:"domain"`
	Selector string          `gorm:"column:selector;type:varchar(255)" json:"selector"`
	Result   enum.AuthResult `gorm:"column:result;type:varchar(10)" json:"result"`
}

func (DKIMAuthResult) TableName() string {
	return "dkim_auth_results"
}

func (m *DKIMAuthResult) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("dkim", 16)
	}
	return nil
}

// SPFAuthResult is one auth_results.spf entry; a record carries zero or more.
type SPFAuthResult struct {
	ID       string          `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	RecordID string          `gorm:"column:record_id;type:varchar(50);index;not null" json:"recordId"`
	Domain   string          `gorm:"column:domain;type:varchar(255)" json:"domain"`
	Scope    string          `gorm:"column:scope;type:varchar(20)" json:"scope"`
	Result   enum.AuthResult `gorm:"column:result;type:varchar(10)" json:"result"`
}

func (SPFAuthResult) TableName() string {
	return "spf_auth_results"
}

func (m *SPFAuthResult) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("spf", 16)
	}
	return nil
}
