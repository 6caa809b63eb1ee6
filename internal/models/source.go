package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/dmarcwatch/dmarcwatch/internal/utils"
)

// Source is the rolling aggregate for one sending IP of a domain. Counter
// columns are mutated only through the additive ON CONFLICT upsert in the
// source repository; concurrent imports must never lose increments.
type Source struct {
	ID       string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	DomainID string `gorm:"column:domain_id;type:varchar(50);uniqueIndex:idx_sources_domain_ip;not null" json:"domainId"`
	SourceIP string `gorm:"column:source_ip;type:varchar(45);uniqueIndex:idx_sources_domain_ip;index:idx_sources_ip;not null" json:"sourceIp"`

	TotalMessages  int64 `gorm:"column:total_messages;type:bigint;not null;default:0" json:"totalMessages"`
	PassedMessages int64 `gorm:"column:passed_messages;type:bigint;not null;default:0" json:"passedMessages"`
	FailedMessages int64 `gorm:"column:failed_messages;type:bigint;not null;default:0" json:"failedMessages"`

	FirstSeen time.Time `gorm:"column:first_seen;type:timestamp;index;not null" json:"firstSeen"`
	LastSeen  time.Time `gorm:"column:last_seen;type:timestamp;index;not null" json:"lastSeen"`

	GeoCountry string `gorm:"column:geo_country;type:varchar(100)" json:"geoCountry"`
	GeoRegion  string `gorm:"column:geo_region;type:varchar(100)" json:"geoRegion"`
	GeoCity    string `gorm:"column:geo_city;type:varchar(100)" json:"geoCity"`
	GeoASN     string `gorm:"column:geo_asn;type:varchar(50)" json:"geoAsn"`
	GeoOrg     string `gorm:"column:geo_org;type:varchar(255)" json:"geoOrg"`

	KnownSenderID *string `gorm:"column:known_sender_id;type:varchar(50);index" json:"knownSenderId"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (Source) TableName() string {
	return "sources"
}

func (m *Source) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("src", 16)
	}
	return nil
}

// Enriched reports whether geolocation resolution already ran for this source.
func (m *Source) Enriched() bool {
	return m.GeoCountry != ""
}
