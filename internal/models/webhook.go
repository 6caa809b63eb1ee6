package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/dmarcwatch/dmarcwatch/internal/utils"
)

// WebhookEventWildcard subscribes an endpoint to every event.
const WebhookEventWildcard = "*"

// Webhook is an outbound notification endpoint. FailureCount grows on every
// failed delivery and resets to zero on success; past DisableThreshold the
// endpoint is flipped inactive and stays so until manually re-enabled.
type Webhook struct {
	ID             string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	OrganizationID string `gorm:"column:organization_id;type:varchar(50);index;not null" json:"organizationId"`

	URL    string `gorm:"column:url;type:varchar(500);not null" json:"url"`
	Secret string `gorm:"column:secret;type:varchar(255);not null" json:"-"`
	// Comma-joined subscribed event names; "*" matches everything.
	Events string `gorm:"column:events;type:varchar(500)" json:"events"`

	SeverityFilter *string `gorm:"column:severity_filter;type:varchar(20)" json:"severityFilter"`
	DomainID       *string `gorm:"column:domain_id;type:varchar(50);index" json:"domainId"`

	FailureCount    int        `gorm:"column:failure_count;type:integer;not null;default:0" json:"failureCount"`
	IsActive        bool       `gorm:"column:is_active;type:boolean;not null;default:true" json:"isActive"`
	LastError       *string    `gorm:"column:last_error;type:text" json:"lastError"`
	LastTriggeredAt *time.Time `gorm:"column:last_triggered_at;type:timestamp" json:"lastTriggeredAt"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (Webhook) TableName() string {
	return "webhooks"
}

func (m *Webhook) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("whk", 16)
	}
	return nil
}

// SubscribesTo reports whether the webhook subscribes to the event name,
// either exactly or through the wildcard.
func (m *Webhook) SubscribesTo(event string) bool {
	for _, e := range utils.StringToSlice(m.Events) {
		if e == event || e == WebhookEventWildcard {
			return true
		}
	}
	return false
}
