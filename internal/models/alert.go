package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/dmarcwatch/dmarcwatch/internal/enum"
	"github.com/dmarcwatch/dmarcwatch/internal/utils"
)

// Alert metadata keys.
const (
	AlertMetaSourceIPs    = "sourceIps"
	AlertMetaReportID     = "reportId"
	AlertMetaPreviousRate = "previousRate"
	AlertMetaCurrentRate  = "currentRate"
	AlertMetaDropPoints   = "dropPoints"
	AlertMetaExamples     = "examples"
	AlertMetaRemainder    = "remainder"
)

type Alert struct {
	ID       string             `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	DomainID string             `gorm:"column:domain_id;type:varchar(50);index:idx_alerts_domain_type;not null" json:"domainId"`
	Type     enum.AlertType     `gorm:"column:type;type:varchar(50);index:idx_alerts_domain_type;not null" json:"type"`
	Severity enum.AlertSeverity `gorm:"column:severity;type:varchar(20);not null" json:"severity"`
	Title    string             `gorm:"column:title;type:varchar(255)" json:"title"`
	Message  string             `gorm:"column:message;type:text" json:"message"`
	// Metadata carries dedup state, e.g. the list of already-alerted IPs.
	Metadata  JSONMap   `gorm:"column:metadata;type:jsonb" json:"metadata"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;index;default:current_timestamp" json:"createdAt"`
}

func (Alert) TableName() string {
	return "alerts"
}

func (m *Alert) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("alrt", 16)
	}
	return nil
}
