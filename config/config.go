package config

type AppConfig struct {
	APIPort     string `env:"PORT,required" envDefault:"11000"`
	APIKey      string `env:"API_KEY,required"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
}

type DatabaseConfig struct {
	Host            string `env:"DMARCWATCH_POSTGRES_HOST,required"`
	Port            string `env:"DMARCWATCH_POSTGRES_PORT,required"`
	User            string `env:"DMARCWATCH_POSTGRES_USER,required"`
	DBName          string `env:"DMARCWATCH_POSTGRES_DB_NAME,required"`
	Password        string `env:"DMARCWATCH_POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"DMARCWATCH_POSTGRES_DB_MAX_CONN"`
	MaxIdleConn     int    `env:"DMARCWATCH_POSTGRES_DB_MAX_IDLE_CONN"`
	ConnMaxLifetime int    `env:"DMARCWATCH_POSTGRES_DB_CONN_MAX_LIFETIME"`
	LogLevel        string `env:"DMARCWATCH_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"DMARCWATCH_POSTGRES_SSL_MODE" envDefault:"require"`
}

type R2StorageConfig struct {
	AccountID       string `env:"CLOUDFLARE_R2_ACCOUNT_ID"`
	AccessKeyID     string `env:"CLOUDFLARE_R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"CLOUDFLARE_R2_ACCESS_KEY_SECRET"`
	ReportBucket    string `env:"BUCKET_NAME_RAW_REPORTS" envDefault:"dmarc-reports"`
}

type MailboxConfig struct {
	MaxMessagesPerSync int `env:"MAILBOX_MAX_MESSAGES_PER_SYNC" envDefault:"2000"`
	InterMessageDelay  int `env:"MAILBOX_INTER_MESSAGE_DELAY_MS" envDefault:"500"`
	CheckpointEvery    int `env:"MAILBOX_CHECKPOINT_EVERY" envDefault:"10"`
}

type GeolocationConfig struct {
	BaseURL          string `env:"GEOLOCATION_API_URL" envDefault:"http://ip-api.com/json"`
	LookupIntervalMs int    `env:"GEOLOCATION_LOOKUP_INTERVAL_MS" envDefault:"1500"`
}

type WebhookConfig struct {
	DisableThreshold int `env:"WEBHOOK_DISABLE_THRESHOLD" envDefault:"10"`
}

type AlertConfig struct {
	PassRateDropThreshold float64 `env:"ALERT_PASS_RATE_DROP_THRESHOLD" envDefault:"10.0"`
	NewSourceMinMessages  int     `env:"ALERT_NEW_SOURCE_MIN_MESSAGES" envDefault:"10"`
}
