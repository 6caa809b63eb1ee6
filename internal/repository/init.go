package repository

import (
	"gorm.io/gorm"

	"github.com/dmarcwatch/dmarcwatch/interfaces"
	"github.com/dmarcwatch/dmarcwatch/internal/models"
)

type Repositories struct {
	OrganizationRepository   interfaces.OrganizationRepository
	DomainRepository         interfaces.DomainRepository
	ReportRepository         interfaces.ReportRepository
	SourceRepository         interfaces.SourceRepository
	AlertRepository          interfaces.AlertRepository
	WebhookRepository        interfaces.WebhookRepository
	KnownSenderRepository    interfaces.KnownSenderRepository
	MailboxAccountRepository interfaces.MailboxAccountRepository
	RetentionRepository      interfaces.RetentionRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		OrganizationRepository:   NewOrganizationRepository(db),
		DomainRepository:         NewDomainRepository(db),
		ReportRepository:         NewReportRepository(db),
		SourceRepository:         NewSourceRepository(db),
		AlertRepository:          NewAlertRepository(db),
		WebhookRepository:        NewWebhookRepository(db),
		KnownSenderRepository:    NewKnownSenderRepository(db),
		MailboxAccountRepository: NewMailboxAccountRepository(db),
		RetentionRepository:      NewRetentionRepository(db),
	}
}

func MigrateDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	sqlDB.SetMaxOpenConns(5)

	return db.AutoMigrate(
		&models.Organization{},
		&models.Domain{},
		&models.Report{},
		&models.Record{},
		&models.DKIMAuthResult{},
		&models.SPFAuthResult{},
		&models.Source{},
		&models.Subdomain{},
		&models.Alert{},
		&models.Webhook{},
		&models.KnownSender{},
		&models.MailboxAccount{},
	)
}
