package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/dmarcwatch/dmarcwatch/internal/utils"
)

// KnownSender is a pre-classified sending infrastructure pattern (ESPs and
// similar) used to suppress new-source alert noise. IPPattern is either a
// CIDR ("1.2.3.0/24") or an exact IP.
type KnownSender struct {
	ID         string    `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	Name       string    `gorm:"column:name;type:varchar(255);not null" json:"name"`
	IPPattern  string    `gorm:"column:ip_pattern;type:varchar(100);index;not null" json:"ipPattern"`
	DKIMDomain string    `gorm:"column:dkim_domain;type:varchar(255)" json:"dkimDomain"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
}

func (KnownSender) TableName() string {
	return "known_senders"
}

func (m *KnownSender) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("ksnd", 12)
	}
	return nil
}
