package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Mailbox report ingestion sweep, every 15 minutes
	CronScheduleMailboxSync string `env:"CRON_SCHEDULE_MAILBOX_SYNC" envDefault:"0 */15 * * * *"`
	// Retention cleanup, daily at 02:00
	CronScheduleCleanup string `env:"CRON_SCHEDULE_CLEANUP" envDefault:"0 0 2 * * *"`
}
