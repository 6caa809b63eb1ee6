package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/dmarcwatch/dmarcwatch/internal/utils"
)

// Domain is a DMARC-monitored domain owned by an organization. Unverified
// domains (VerifiedAt nil) are expired by the cleanup worker after 7 days.
type Domain struct {
	ID             string     `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	OrganizationID string     `gorm:"column:organization_id;type:varchar(50);index;uniqueIndex:idx_domains_org_name;not null" json:"organizationId"`
	Name           string     `gorm:"column:name;type:varchar(255);uniqueIndex:idx_domains_org_name;not null" json:"name"`
	VerifiedAt     *time.Time `gorm:"column:verified_at;type:timestamp" json:"verifiedAt"`
	CreatedAt      time.Time  `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (Domain) TableName() string {
	return "domains"
}

func (m *Domain) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("dom", 12)
	}
	return nil
}
