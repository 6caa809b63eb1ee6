package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/dmarcwatch/dmarcwatch/internal/utils"
)

// Subdomain mirrors Source's rolling-aggregate shape for strict subdomains
// seen in header-from addresses of a tracked domain.
type Subdomain struct {
	ID       string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	DomainID string `gorm:"column:domain_id;type:varchar(50);uniqueIndex:idx_subdomains_domain_name;not null" json:"domainId"`
	Name     string `gorm:"column:name;type:varchar(255);uniqueIndex:idx_subdomains_domain_name;not null" json:"name"`

	TotalMessages  int64 `gorm:"column:total_messages;type:bigint;not null;default:0" json:"totalMessages"`
	PassedMessages int64 `gorm:"column:passed_messages;type:bigint;not null;default:0" json:"passedMessages"`
	FailedMessages int64 `gorm:"column:failed_messages;type:bigint;not null;default:0" json:"failedMessages"`

	FirstSeen time.Time `gorm:"column:first_seen;type:timestamp;not null" json:"firstSeen"`
	LastSeen  time.Time `gorm:"column:last_seen;type:timestamp;not null" json:"lastSeen"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (Subdomain) TableName() string {
	return "subdomains"
}

func (m *Subdomain) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("sub", 16)
	}
	return nil
}
