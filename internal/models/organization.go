package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/dmarcwatch/dmarcwatch/internal/utils"
)

type Organization struct {
	ID            string    `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	Name          string    `gorm:"column:name;type:varchar(255);not null" json:"name"`
	RetentionDays int       `gorm:"column:retention_days;type:integer;default:365" json:"retentionDays"`
	CreatedAt     time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt     time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (Organization) TableName() string {
	return "organizations"
}

func (m *Organization) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("org", 12)
	}
	return nil
}
