package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/dmarcwatch/dmarcwatch/internal/logger"
	"github.com/dmarcwatch/dmarcwatch/internal/tracing"
)

type Config struct {
	AppConfig         *AppConfig
	Logger            *logger.Config
	Tracing           *tracing.JaegerConfig
	DatabaseConfig    *DatabaseConfig
	R2StorageConfig   *R2StorageConfig
	MailboxConfig     *MailboxConfig
	GeolocationConfig *GeolocationConfig
	WebhookConfig     *WebhookConfig
	AlertConfig       *AlertConfig
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:         &AppConfig{},
		Logger:            &logger.Config{},
		Tracing:           &tracing.JaegerConfig{},
		DatabaseConfig:    &DatabaseConfig{},
		R2StorageConfig:   &R2StorageConfig{},
		MailboxConfig:     &MailboxConfig{},
		GeolocationConfig: &GeolocationConfig{},
		WebhookConfig:     &WebhookConfig{},
		AlertConfig:       &AlertConfig{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		log.Fatalf("Error loading dmarcwatch config: %v", err)
	}

	return config, nil
}
