package services

import (
	"time"

	"github.com/dmarcwatch/dmarcwatch/config"
	"github.com/dmarcwatch/dmarcwatch/interfaces"
	"github.com/dmarcwatch/dmarcwatch/internal/logger"
	"github.com/dmarcwatch/dmarcwatch/internal/repository"
	"github.com/dmarcwatch/dmarcwatch/services/alerts"
	"github.com/dmarcwatch/dmarcwatch/services/cleanup"
	"github.com/dmarcwatch/dmarcwatch/services/enrich"
	"github.com/dmarcwatch/dmarcwatch/services/ingest"
	"github.com/dmarcwatch/dmarcwatch/services/jobs"
	"github.com/dmarcwatch/dmarcwatch/services/mailbox"
	"github.com/dmarcwatch/dmarcwatch/services/storage"
	"github.com/dmarcwatch/dmarcwatch/services/webhooks"
)

type Services struct {
	Registry  *jobs.Registry
	Publisher *jobs.RabbitMQPublisher

	StorageService     interfaces.StorageService
	ImportService      interfaces.ImportService
	AlertService       interfaces.AlertService
	EnrichmentService  interfaces.EnrichmentService
	WebhookService     interfaces.WebhookDeliveryService
	MailboxSyncService interfaces.MailboxSyncService
	CleanupService     interfaces.CleanupService
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories) (*Services, error) {
	registry := jobs.NewRegistry()

	publisher, err := jobs.NewRabbitMQPublisher(cfg.AppConfig.RabbitMQURL, log, registry, nil)
	if err != nil {
		return nil, err
	}

	archive, err := storage.NewR2StorageService(
		cfg.R2StorageConfig.AccountID,
		cfg.R2StorageConfig.AccessKeyID,
		cfg.R2StorageConfig.AccessKeySecret,
		cfg.R2StorageConfig.ReportBucket,
	)
	if err != nil {
		return nil, err
	}

	importer := ingest.NewImportService(repos)

	alertService := alerts.NewAlertService(repos, publisher, log, alertConfig(cfg.AlertConfig))

	geoProvider := enrich.NewIPAPIProvider(cfg.GeolocationConfig.BaseURL)
	enrichment := enrich.NewEnrichmentService(
		repos,
		geoProvider,
		time.Duration(cfg.GeolocationConfig.LookupIntervalMs)*time.Millisecond,
		nil,
		log,
	)

	webhookService := webhooks.NewDeliveryService(repos, log, cfg.WebhookConfig.DisableThreshold)

	providers := mailbox.NewIMAPProviderFactory(repos)
	syncService := mailbox.NewSyncService(repos, providers, importer, publisher, archive, log, mailbox.Config{
		MaxMessagesPerSync: cfg.MailboxConfig.MaxMessagesPerSync,
		InterMessageDelay:  time.Duration(cfg.MailboxConfig.InterMessageDelay) * time.Millisecond,
		CheckpointEvery:    cfg.MailboxConfig.CheckpointEvery,
	})

	cleanupService := cleanup.NewCleanupService(repos, archive, log)

	services := Services{
		Registry:           registry,
		Publisher:          publisher,
		StorageService:     archive,
		ImportService:      importer,
		AlertService:       alertService,
		EnrichmentService:  enrichment,
		WebhookService:     webhookService,
		MailboxSyncService: syncService,
		CleanupService:     cleanupService,
	}

	return &services, nil
}

func alertConfig(cfg *config.AlertConfig) alerts.Config {
	return alerts.Config{
		PassRateDropThreshold: cfg.PassRateDropThreshold,
		NewSourceMinMessages:  int64(cfg.NewSourceMinMessages),
	}
}
