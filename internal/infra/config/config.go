package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization
	"time"
	_ "time/tzdata" // Embedded zone database for TIMEZONE

	"subscription_split_bot/internal/domain/notifier"
	"subscription_split_bot/internal/domain/reminder"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	TelegramToken   string
	DatabaseURL     string
	AdminTelegramID int64
	LogLevel        string
	Environment     string
	CronSpecPass    string        // When the reminder pass runs
	PassTimeout     time.Duration // Upper bound for one pass
	PassWorkers     int           // Projects processed in parallel
	RedisURL        string        // Empty keeps project leases in-process
	MetricsAddr     string        // Empty disables the /metrics listener

	SMTP SMTPConfig

	SendMaxAttempts    int
	SendInitialBackoff time.Duration
	SendMaxBackoff     time.Duration
	SendTimeout        time.Duration

	Reminder reminder.Config
}

// SMTPConfig configures the email channel. An empty Host disables it.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	adminIDStr := os.Getenv("ADMIN_TELEGRAM_ID")
	if adminIDStr == "" {
		return nil, fmt.Errorf("ADMIN_TELEGRAM_ID is not set")
	}
	cfg.AdminTelegramID, err = strconv.ParseInt(adminIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info" // Default log level
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development" // Default environment
	}

	cfg.CronSpecPass = os.Getenv("CRON_SPEC_PASS")
	if cfg.CronSpecPass == "" {
		cfg.CronSpecPass = "0 * * * *" // Default: hourly
	}

	if cfg.PassTimeout, err = durationEnv("PASS_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PassWorkers, err = intEnv("PASS_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.PassWorkers < 1 {
		return nil, fmt.Errorf("PASS_WORKERS must be at least 1")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.MetricsAddr = stringEnv("METRICS_ADDR", ":9090")

	cfg.SMTP = SMTPConfig{
		Host:     os.Getenv("SMTP_HOST"),
		Username: os.Getenv("SMTP_USERNAME"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     os.Getenv("SMTP_FROM"),
	}
	if cfg.SMTP.Port, err = intEnv("SMTP_PORT", 587); err != nil {
		return nil, err
	}
	if cfg.SMTP.Host != "" && cfg.SMTP.From == "" {
		return nil, fmt.Errorf("SMTP_FROM is not set while SMTP_HOST is")
	}

	if cfg.SendMaxAttempts, err = intEnv("SEND_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.SendInitialBackoff, err = durationEnv("SEND_INITIAL_BACKOFF", 1*time.Second); err != nil {
		return nil, err
	}
	if cfg.SendMaxBackoff, err = durationEnv("SEND_MAX_BACKOFF", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.SendTimeout, err = durationEnv("SEND_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}

	if cfg.Reminder, err = LoadReminder(); err != nil {
		return nil, err
	}
	if cfg.SMTP.Host == "" {
		cfg.Reminder.Channels = without(cfg.Reminder.Channels, notifier.ChannelEmail)
	}

	return cfg, nil
}

// LoadReminder reads the reminder tunables and validates them as a whole.
func LoadReminder() (reminder.Config, error) {
	rc := reminder.DefaultConfig()
	var err error

	bools := []struct {
		key string
		dst *bool
	}{
		{"REMINDERS_ENABLED", &rc.RemindersEnabled},
		{"GENERATION_ENABLED", &rc.GenerationEnabled},
		{"ARCHIVING_ENABLED", &rc.ArchivingEnabled},
	}
	for _, b := range bools {
		if *b.dst, err = boolEnv(b.key, *b.dst); err != nil {
			return rc, err
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"GENERATION_HORIZON_MONTHS", &rc.HorizonMonths},
		{"ARCHIVE_AFTER_MONTHS", &rc.ArchiveAfterMonths},
		{"GRACE_PERIOD_DAYS", &rc.Thresholds.GracePeriodDays},
		{"GENTLE_REMINDER_DAYS_BEFORE", &rc.Thresholds.GentleDaysBefore},
		{"STANDARD_REMINDER_DAYS_OVERDUE", &rc.Thresholds.StandardDaysOverdue},
		{"URGENT_REMINDER_DAYS_OVERDUE", &rc.Thresholds.UrgentDaysOverdue},
		{"FINAL_NOTICE_DAYS_OVERDUE", &rc.Thresholds.FinalNoticeDaysOverdue},
		{"MAX_DELIVERY_ATTEMPTS", &rc.MaxDeliveryAttempts},
	}
	for _, i := range ints {
		if *i.dst, err = intEnv(i.key, *i.dst); err != nil {
			return rc, err
		}
	}

	if rc.PendingRetryAfter, err = durationEnv("PENDING_RETRY_AFTER", rc.PendingRetryAfter); err != nil {
		return rc, err
	}

	telegramOn, err := boolEnv("TELEGRAM_CHANNEL_ENABLED", true)
	if err != nil {
		return rc, err
	}
	emailOn, err := boolEnv("EMAIL_CHANNEL_ENABLED", true)
	if err != nil {
		return rc, err
	}
	rc.Channels = nil
	if telegramOn {
		rc.Channels = append(rc.Channels, notifier.ChannelTelegram)
	}
	if emailOn {
		rc.Channels = append(rc.Channels, notifier.ChannelEmail)
	}

	tz := stringEnv("TIMEZONE", "UTC")
	if rc.Location, err = time.LoadLocation(tz); err != nil {
		return rc, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
	}

	if err := rc.Validate(); err != nil {
		return rc, err
	}
	return rc, nil
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func without(chs []notifier.Channel, drop notifier.Channel) []notifier.Channel {
	out := make([]notifier.Channel, 0, len(chs))
	for _, ch := range chs {
		if ch != drop {
			out = append(out, ch)
		}
	}
	return out
}
