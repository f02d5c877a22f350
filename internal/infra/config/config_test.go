package config

import (
	"testing"
	"time"

	"subscription_split_bot/internal/domain/notifier"
	"subscription_split_bot/internal/domain/reminder"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("DATABASE_URL", "postgres://localhost/split?sslmode=disable")
	t.Setenv("ADMIN_TELEGRAM_ID", "42")
	t.Setenv("SMTP_HOST", "")
	t.Setenv("SMTP_FROM", "")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(42), cfg.AdminTelegramID)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "0 * * * *", cfg.CronSpecPass)
	assert.Equal(t, 10*time.Minute, cfg.PassTimeout)
	assert.Equal(t, 3, cfg.SendMaxAttempts)

	rc := cfg.Reminder
	assert.True(t, rc.RemindersEnabled)
	assert.Equal(t, 3, rc.HorizonMonths)
	assert.Equal(t, 6, rc.ArchiveAfterMonths)
	assert.Equal(t, reminder.DefaultConfig().Thresholds, rc.Thresholds)
	assert.Equal(t, []notifier.Channel{notifier.ChannelTelegram}, rc.Channels, "email needs SMTP_HOST")
}

func TestLoad_MissingRequired(t *testing.T) {
	for _, key := range []string{"TELEGRAM_TOKEN", "DATABASE_URL", "ADMIN_TELEGRAM_ID"} {
		t.Run(key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(key, "")
			_, err := Load()
			assert.ErrorContains(t, err, key)
		})
	}
}

func TestLoad_EmailChannel(t *testing.T) {
	setRequired(t)
	t.Setenv("SMTP_HOST", "smtp.example.com")

	_, err := Load()
	assert.ErrorContains(t, err, "SMTP_FROM")

	t.Setenv("SMTP_FROM", "bot@example.com")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, []notifier.Channel{notifier.ChannelTelegram, notifier.ChannelEmail}, cfg.Reminder.Channels)
}

func TestLoadReminder_Overrides(t *testing.T) {
	t.Setenv("REMINDERS_ENABLED", "false")
	t.Setenv("GENERATION_HORIZON_MONTHS", "12")
	t.Setenv("GRACE_PERIOD_DAYS", "3")
	t.Setenv("GENTLE_REMINDER_DAYS_BEFORE", "7")
	t.Setenv("PENDING_RETRY_AFTER", "45m")
	t.Setenv("EMAIL_CHANNEL_ENABLED", "false")
	t.Setenv("TIMEZONE", "Europe/Moscow")

	rc, err := LoadReminder()
	require.NoError(t, err)
	assert.False(t, rc.RemindersEnabled)
	assert.Equal(t, 12, rc.HorizonMonths)
	assert.Equal(t, 3, rc.Thresholds.GracePeriodDays)
	assert.Equal(t, 7, rc.Thresholds.GentleDaysBefore)
	assert.Equal(t, 45*time.Minute, rc.PendingRetryAfter)
	assert.Equal(t, []notifier.Channel{notifier.ChannelTelegram}, rc.Channels)
	assert.Equal(t, "Europe/Moscow", rc.Location.String())
}

func TestLoadReminder_Invalid(t *testing.T) {
	tests := map[string]string{
		"GENERATION_HORIZON_MONTHS":    "0",
		"URGENT_REMINDER_DAYS_OVERDUE": "1",
		"MAX_DELIVERY_ATTEMPTS":        "many",
		"REMINDERS_ENABLED":            "sometimes",
		"TIMEZONE":                     "Mars/Olympus",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := LoadReminder()
			assert.Error(t, err)
		})
	}
}

func TestProvider(t *testing.T) {
	_, err := NewProvider(reminder.Config{})
	assert.ErrorIs(t, err, reminder.ErrConfigInvalid)

	p, err := NewProvider(reminder.DefaultConfig())
	require.NoError(t, err)

	next := reminder.DefaultConfig()
	next.HorizonMonths = 6
	require.NoError(t, p.Update(next))
	assert.Equal(t, 6, p.Current().HorizonMonths)

	bad := next
	bad.Thresholds.FinalNoticeDaysOverdue = 1
	assert.ErrorIs(t, p.Update(bad), reminder.ErrConfigInvalid)
	assert.Equal(t, 6, p.Current().HorizonMonths, "rejected update keeps the previous snapshot")
}
