package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/dmarcwatch/dmarcwatch/internal/enum"
	"github.com/dmarcwatch/dmarcwatch/internal/utils"
)

// MailboxAccount is an IMAP mailbox that receives DMARC aggregate reports for
// an organization. Progress fields are checkpointed during a sync so an
// in-flight or crashed sync leaves an accurate last-known state.
type MailboxAccount struct {
	ID             string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	OrganizationID string `gorm:"column:organization_id;type:varchar(50);index;not null" json:"organizationId"`

	ImapServer      string `gorm:"column:imap_server;type:varchar(255);not null" json:"imapServer"`
	ImapPort        int    `gorm:"column:imap_port;type:integer;default:993" json:"imapPort"`
	ImapUsername    string `gorm:"column:imap_username;type:varchar(255);not null" json:"imapUsername"`
	ImapPassword    string `gorm:"column:imap_password;type:varchar(255);not null" json:"-"`
	InboxFolder     string `gorm:"column:inbox_folder;type:varchar(100);default:INBOX" json:"inboxFolder"`
	ProcessedFolder string `gorm:"column:processed_folder;type:varchar(100);default:Processed" json:"processedFolder"`

	SyncStatus      enum.SyncStatus `gorm:"column:sync_status;type:varchar(20);default:idle" json:"syncStatus"`
	EmailsProcessed int             `gorm:"column:emails_processed;type:integer;default:0" json:"emailsProcessed"`
	ReportsFound    int             `gorm:"column:reports_found;type:integer;default:0" json:"reportsFound"`
	SyncErrors      int             `gorm:"column:sync_errors;type:integer;default:0" json:"syncErrors"`
	LastSyncAt      *time.Time      `gorm:"column:last_sync_at;type:timestamp" json:"lastSyncAt"`
	LastSyncError   *string         `gorm:"column:last_sync_error;type:text" json:"lastSyncError"`

	// SyncCancelRequested is the cancellation side channel polled by the
	// sync worker between messages.
	SyncCancelRequested bool `gorm:"column:sync_cancel_requested;type:boolean;default:false" json:"syncCancelRequested"`

	IsActive  bool      `gorm:"column:is_active;type:boolean;default:true" json:"isActive"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (MailboxAccount) TableName() string {
	return "mailbox_accounts"
}

func (m *MailboxAccount) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("mbx", 12)
	}
	return nil
}
