// internal/domain/reminder/config.go
package reminder

import (
	"errors"
	"fmt"
	"time"

	"subscription_split_bot/internal/domain/billing"
	"subscription_split_bot/internal/domain/notifier"
)

// ErrConfigInvalid is the kind of every configuration rejection.
var ErrConfigInvalid = errors.New("invalid reminder configuration")

// ConfigError names the offending setting.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid reminder configuration: %s %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfigInvalid
}

// Thresholds are the day counts of the escalation ladder.
// Gentle counts days before the due date; the others count days overdue after the grace period.
type Thresholds struct {
	GracePeriodDays        int
	GentleDaysBefore       int
	StandardDaysOverdue    int
	UrgentDaysOverdue      int
	FinalNoticeDaysOverdue int
}

// Validate rejects thresholds whose ladder cannot be climbed in order.
func (t Thresholds) Validate() error {
	switch {
	case t.GracePeriodDays < 0:
		return &ConfigError{Field: "grace_period_days", Reason: "must not be negative"}
	case t.GentleDaysBefore < 1:
		return &ConfigError{Field: "gentle_reminder_days_before", Reason: "must be at least 1"}
	case t.StandardDaysOverdue < 1:
		return &ConfigError{Field: "standard_reminder_days_overdue", Reason: "must be at least 1"}
	case t.UrgentDaysOverdue <= t.StandardDaysOverdue:
		return &ConfigError{Field: "urgent_reminder_days_overdue", Reason: "must be greater than standard_reminder_days_overdue"}
	case t.FinalNoticeDaysOverdue <= t.UrgentDaysOverdue:
		return &ConfigError{Field: "final_notice_days_overdue", Reason: "must be greater than urgent_reminder_days_overdue"}
	}
	return nil
}

// Config is the immutable snapshot in force during one scheduler pass.
type Config struct {
	RemindersEnabled    bool
	GenerationEnabled   bool
	ArchivingEnabled    bool
	HorizonMonths       int
	ArchiveAfterMonths  int
	Thresholds          Thresholds
	MaxDeliveryAttempts int           // Passes a pending transition is retried on before it is abandoned
	PendingRetryAfter   time.Duration // Minimum age of a dispatch claim before another pass retries it
	Channels            []notifier.Channel
	Location            *time.Location
}

// DefaultConfig matches the documented environment defaults.
func DefaultConfig() Config {
	return Config{
		RemindersEnabled:   true,
		GenerationEnabled:  true,
		ArchivingEnabled:   true,
		HorizonMonths:      3,
		ArchiveAfterMonths: 6,
		Thresholds: Thresholds{
			GracePeriodDays:        0,
			GentleDaysBefore:       5,
			StandardDaysOverdue:    2,
			UrgentDaysOverdue:      7,
			FinalNoticeDaysOverdue: 14,
		},
		MaxDeliveryAttempts: 3,
		PendingRetryAfter:   30 * time.Minute,
		Channels:            []notifier.Channel{notifier.ChannelTelegram, notifier.ChannelEmail},
		Location:            time.UTC,
	}
}

// Validate checks the whole snapshot.
func (c Config) Validate() error {
	if c.HorizonMonths <= 0 {
		return &ConfigError{Field: "generation_horizon_months", Reason: "must be positive"}
	}
	if c.ArchiveAfterMonths <= 0 {
		return &ConfigError{Field: "archive_after_months", Reason: "must be positive"}
	}
	if c.MaxDeliveryAttempts < 1 {
		return &ConfigError{Field: "max_delivery_attempts", Reason: "must be at least 1"}
	}
	if c.PendingRetryAfter < 0 {
		return &ConfigError{Field: "pending_retry_after", Reason: "must not be negative"}
	}
	for _, ch := range c.Channels {
		if !ch.Valid() {
			return &ConfigError{Field: "channels", Reason: fmt.Sprintf("unknown channel %q", ch)}
		}
	}
	return c.Thresholds.Validate()
}

// ForProject returns the thresholds for one project, applying its reminder lead time.
// A bad per-project override fails only that project.
func (c Config) ForProject(p *billing.Project) (Thresholds, error) {
	t := c.Thresholds
	if p.ReminderLeadDays.Valid {
		t.GentleDaysBefore = int(p.ReminderLeadDays.Int32)
	}
	if err := t.Validate(); err != nil {
		return Thresholds{}, fmt.Errorf("project %d: %w", p.ID, err)
	}
	if !p.Frequency.Valid() {
		return Thresholds{}, fmt.Errorf("project %d: %w", p.ID, &ConfigError{Field: "frequency", Reason: fmt.Sprintf("unknown value %q", p.Frequency)})
	}
	return t, nil
}

// Today is now cut to a calendar day in the configured location.
func (c Config) Today(now time.Time) time.Time {
	return billing.DateOnly(now, c.Location)
}

// ChannelEnabled reports whether ch is switched on.
func (c Config) ChannelEnabled(ch notifier.Channel) bool {
	for _, enabled := range c.Channels {
		if enabled == ch {
			return true
		}
	}
	return false
}
